// Package postgres stores the ledger in PostgreSQL over a single pgx connection.
// Server notices raised by migrations are written to the driver's logger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/migration"
)

const DialectName = "postgresql"

const codeDuplicateTable = "42P07"

type DriverConfig struct {
	ConnString string
	// SchemaName qualifies the ledger table. Empty means the search_path.
	SchemaName          string
	MigrationsTableName string
	Logger              *slog.Logger
}

type postgresDriver struct {
	conn    *pgx.Conn
	table   string
	session *session
}

var (
	_ driver.Driver           = (*postgresDriver)(nil)
	_ driver.NoticeClassifier = (*postgresDriver)(nil)
)

func NewDriver(ctx context.Context, config DriverConfig) (driver.Driver, error) {
	if config.MigrationsTableName == "" {
		config.MigrationsTableName = driver.DefaultTableName
	}
	if strings.TrimSpace(config.MigrationsTableName) == "" {
		return nil, fmt.Errorf("%w: table name is empty", driver.ErrInvalidTable)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connConfig, err := pgx.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}

	connConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.Info("database notice",
			"severity", notice.Severity,
			"code", notice.Code,
			"message", notice.Message,
		)
	}

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &postgresDriver{
		conn:    conn,
		table:   quoteTable(config.SchemaName, config.MigrationsTableName),
		session: &session{conn: conn},
	}, nil
}

func (drv *postgresDriver) EnsureLedgerTable(ctx context.Context) error {
	_, err := drv.conn.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id         BIGSERIAL PRIMARY KEY, "+
			"name       TEXT NOT NULL UNIQUE, "+
			"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"+
			")",
		drv.table,
	))

	var pgErr *pgconn.PgError
	if err == nil || (errors.As(err, &pgErr) && pgErr.Code == codeDuplicateTable) {
		return nil
	}

	return fmt.Errorf("%w %s: %w", driver.ErrLedgerSetup, drv.table, err)
}

func (drv *postgresDriver) ListApplied(ctx context.Context) ([]migration.LedgerEntry, error) {
	return drv.selectEntries(ctx, fmt.Sprintf("SELECT id, name, created_at FROM %s ORDER BY id DESC", drv.table))
}

func (drv *postgresDriver) LatestApplied(ctx context.Context) ([]migration.LedgerEntry, error) {
	return drv.selectEntries(ctx, fmt.Sprintf("SELECT id, name, created_at FROM %s ORDER BY id DESC LIMIT 1", drv.table))
}

func (drv *postgresDriver) RecordApplied(ctx context.Context, name string) error {
	if _, err := drv.conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s (name) VALUES ($1)", drv.table), name); err != nil {
		return fmt.Errorf("failed to record migration %s as applied: %w", name, err)
	}
	return nil
}

func (drv *postgresDriver) RecordReverted(ctx context.Context, name string) error {
	if _, err := drv.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = $1", drv.table), name); err != nil {
		return fmt.Errorf("failed to record migration %s as reverted: %w", name, err)
	}
	return nil
}

func (drv *postgresDriver) Session() migration.Session {
	return drv.session
}

// IsNotice reports errors whose severity is below ERROR.
func (drv *postgresDriver) IsNotice(err error) bool {
	return isNotice(err)
}

func (drv *postgresDriver) Close() error {
	if err := drv.conn.Close(context.Background()); err != nil {
		return fmt.Errorf("failed to close postgres connection: %w", err)
	}
	return nil
}

// ---

func (drv *postgresDriver) selectEntries(ctx context.Context, query string) ([]migration.LedgerEntry, error) {
	rows, err := drv.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", driver.ErrInvalidLogTable, drv.table, err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[migration.LedgerEntry])
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", driver.ErrInvalidLogTable, drv.table, err)
	}

	return entries, nil
}

func quoteTable(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func isNotice(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch strings.ToUpper(pgErr.Severity) {
	case "NOTICE", "WARNING", "INFO", "LOG", "DEBUG":
		return true
	}

	return false
}

type session struct {
	conn *pgx.Conn
}

func (s *session) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.conn.Exec(ctx, query, args...); err != nil {
		return err // nolint:wrapcheck
	}
	return nil
}

func (s *session) Dialect() string {
	return DialectName
}
