package source

import (
	"context"
	"errors"

	"github.com/root-talis/migsql/migration"
)

// Source discovers migration files and loads the units behind them.
type Source interface {
	// List returns candidate migration filenames. Invalid names are filtered later.
	List(ctx context.Context) ([]string, error)
	// Locate reconstructs the path of a migration from its ledger name.
	Locate(name string) string
	// Load returns the unit stored at path, as returned by Locate.
	Load(ctx context.Context, path string) (migration.Unit, error)
}

var (
	ErrMigrationNotFound = errors.New("migration not found")
	ErrMigrationInvalid  = errors.New("migration is invalid")
)
