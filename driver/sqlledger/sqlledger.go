// Package sqlledger implements the ledger on top of database/sql. Engine
// specifics (DDL, identifier quoting, error classification) come from a Dialect.
//
// The ledger pins one connection from the pool for its whole lifetime, so the
// ledger writes and the migration units share a single database session.
package sqlledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/migration"
)

type Dialect struct {
	// Name is reported by migration.Session.Dialect, e.g. "sqlite".
	Name string
	// Quote quotes an identifier.
	Quote func(identifier string) string
	// CreateTable returns the DDL creating the ledger table under an already quoted name.
	CreateTable func(quotedTable string) string
	// IsAlreadyExists reports the engine error raised for an existing ledger table.
	IsAlreadyExists func(err error) bool
	// IsNotice reports errors that are informational only. May be nil.
	IsNotice func(err error) bool
}

// Ledger is a driver.Driver over one pinned *sqlx.Conn.
type Ledger struct {
	db      *sqlx.DB
	conn    *sqlx.Conn
	dialect Dialect
	table   string
	session *session
}

var (
	_ driver.Driver           = (*Ledger)(nil)
	_ driver.NoticeClassifier = (*Ledger)(nil)
)

// New pins a connection of db and returns a ledger stored in table.
// The ledger takes ownership of db: Close closes both.
func New(ctx context.Context, db *sqlx.DB, dialect Dialect, table string) (*Ledger, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("%w: table name is empty", driver.ErrInvalidTable)
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire a database connection: %w", err)
	}

	return &Ledger{
		db:      db,
		conn:    conn,
		dialect: dialect,
		table:   dialect.Quote(table),
		session: &session{conn: conn, dialect: dialect.Name},
	}, nil
}

func (l *Ledger) EnsureLedgerTable(ctx context.Context) error {
	_, err := l.conn.ExecContext(ctx, l.dialect.CreateTable(l.table))
	if err == nil || l.dialect.IsAlreadyExists(err) {
		return nil
	}

	return fmt.Errorf("%w %s: %w", driver.ErrLedgerSetup, l.table, err)
}

func (l *Ledger) ListApplied(ctx context.Context) ([]migration.LedgerEntry, error) {
	return l.selectEntries(ctx, fmt.Sprintf("SELECT id, name, created_at FROM %s ORDER BY id DESC", l.table))
}

func (l *Ledger) LatestApplied(ctx context.Context) ([]migration.LedgerEntry, error) {
	return l.selectEntries(ctx, fmt.Sprintf("SELECT id, name, created_at FROM %s ORDER BY id DESC LIMIT 1", l.table))
}

func (l *Ledger) RecordApplied(ctx context.Context, name string) error {
	query := l.conn.Rebind(fmt.Sprintf("INSERT INTO %s (name, created_at) VALUES (?, ?)", l.table))

	if _, err := l.conn.ExecContext(ctx, query, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration %s as applied: %w", name, err)
	}

	return nil
}

func (l *Ledger) RecordReverted(ctx context.Context, name string) error {
	query := l.conn.Rebind(fmt.Sprintf("DELETE FROM %s WHERE name = ?", l.table))

	if _, err := l.conn.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("failed to record migration %s as reverted: %w", name, err)
	}

	return nil
}

func (l *Ledger) Session() migration.Session {
	return l.session
}

func (l *Ledger) IsNotice(err error) bool {
	return l.dialect.IsNotice != nil && l.dialect.IsNotice(err)
}

func (l *Ledger) Close() error {
	connErr := l.conn.Close()
	dbErr := l.db.Close()

	if connErr != nil {
		return fmt.Errorf("failed to release database connection: %w", connErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}

	return nil
}

// ---

func (l *Ledger) selectEntries(ctx context.Context, query string) ([]migration.LedgerEntry, error) {
	entries := make([]migration.LedgerEntry, 0)

	if err := l.conn.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("%w %s: %w", driver.ErrInvalidLogTable, l.table, err)
	}

	return entries, nil
}

type session struct {
	conn    *sqlx.Conn
	dialect string
}

func (s *session) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return err // nolint:wrapcheck
	}
	return nil
}

func (s *session) Dialect() string {
	return s.dialect
}
