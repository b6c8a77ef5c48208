package driver

import (
	"context"
	"errors"

	"github.com/root-talis/migsql/migration"
)

// DefaultTableName is the ledger table used when none is configured.
const DefaultTableName = "migrations"

// Driver stores the ledger of applied migrations and owns the single database
// session that migration units run on.
type Driver interface {
	// EnsureLedgerTable creates the ledger table unless it already exists.
	EnsureLedgerTable(ctx context.Context) error
	// ListApplied returns every ledger entry, latest application first.
	ListApplied(ctx context.Context) ([]migration.LedgerEntry, error)
	// LatestApplied returns at most one entry: the latest application.
	LatestApplied(ctx context.Context) ([]migration.LedgerEntry, error)
	RecordApplied(ctx context.Context, name string) error
	RecordReverted(ctx context.Context, name string) error
	Session() migration.Session
	Close() error
}

// NoticeClassifier is implemented by drivers whose engines report informational
// messages as errors. Such errors do not fail a migration.
type NoticeClassifier interface {
	IsNotice(err error) bool
}

var (
	ErrLedgerSetup     = errors.New("failed to set up ledger table")
	ErrInvalidLogTable = errors.New("an error has occurred when reading ledger table")
	ErrInvalidTable    = errors.New("invalid ledger table name")
)
