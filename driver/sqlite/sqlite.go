package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/driver/sqlledger"
)

const DialectName = "sqlite"

type DriverConfig struct {
	// Path is the database file, or ":memory:".
	Path                string
	MigrationsTableName string
}

// NewDriver opens the database at config.Path and returns its ledger.
func NewDriver(ctx context.Context, config DriverConfig) (driver.Driver, error) {
	if config.MigrationsTableName == "" {
		config.MigrationsTableName = driver.DefaultTableName
	}

	db, err := sqlx.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", config.Path, err)
	}

	ledger, err := sqlledger.New(ctx, db, Dialect(), config.MigrationsTableName)
	if err != nil {
		_ = db.Close()
		return nil, err // nolint:wrapcheck
	}

	return ledger, nil
}

func Dialect() sqlledger.Dialect {
	return sqlledger.Dialect{
		Name:            DialectName,
		Quote:           quoteIdentifier,
		CreateTable:     createTable,
		IsAlreadyExists: isAlreadyExists,
	}
}

// ---

func createTable(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id         INTEGER PRIMARY KEY AUTOINCREMENT, "+
			"name       TEXT NOT NULL UNIQUE, "+
			"created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"+
			")",
		table,
	)
}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func isAlreadyExists(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return strings.Contains(sqliteErr.Error(), "already exists")
}
