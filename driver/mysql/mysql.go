package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/driver/sqlledger"
)

const DialectName = "mysql"

const (
	errTableExists = 1050

	sqlStateWarningClass = "01"
)

type DriverConfig struct {
	// DatabaseName qualifies the ledger table. Empty means the connection's default database.
	DatabaseName        string
	MigrationsTableName string
}

// Open connects to dsn and returns its ledger. Statement batching and time
// parsing are switched on whatever the dsn says: a migration section is sent
// as a single Exec, and the ledger scans timestamps.
func Open(ctx context.Context, dsn string, config DriverConfig) (driver.Driver, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql connection string: %w", err)
	}

	cfg.MultiStatements = true
	cfg.ParseTime = true

	conn, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	drv, err := NewDriver(ctx, conn, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return drv, nil
}

// NewDriver returns a ledger over conn, which must be opened with
// multiStatements=true and parseTime=true. The driver takes ownership of conn.
func NewDriver(ctx context.Context, conn *sql.DB, config DriverConfig) (driver.Driver, error) {
	if config.MigrationsTableName == "" {
		config.MigrationsTableName = driver.DefaultTableName
	}

	ledger, err := sqlledger.New(ctx, sqlx.NewDb(conn, "mysql"), Dialect(config.DatabaseName), config.MigrationsTableName)
	if err != nil {
		return nil, err // nolint:wrapcheck
	}

	return ledger, nil
}

// Dialect returns the MySQL dialect. A non-empty databaseName qualifies the ledger table.
func Dialect(databaseName string) sqlledger.Dialect {
	return sqlledger.Dialect{
		Name: DialectName,
		Quote: func(table string) string {
			if databaseName == "" {
				return quoteIdentifier(table)
			}
			return quoteIdentifier(databaseName) + "." + quoteIdentifier(table)
		},
		CreateTable:     createTable,
		IsAlreadyExists: isAlreadyExists,
		IsNotice:        isNotice,
	}
}

// ---

func createTable(table string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"id         bigint not null auto_increment, "+
			"name       varchar(191) not null, "+
			"created_at datetime(6) default CURRENT_TIMESTAMP(6) not null, "+
			"primary key (id), "+
			"unique key uq_name (name)"+
			") default charset utf8mb4",
		table,
	)
}

func quoteIdentifier(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

func isAlreadyExists(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errTableExists
}

// isNotice reports errors carrying a warning-class SQLSTATE.
func isNotice(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}

	return strings.HasPrefix(string(mysqlErr.SQLState[:]), sqlStateWarningClass)
}
