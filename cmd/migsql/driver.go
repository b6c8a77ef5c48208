package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/root-talis/migsql/config"
	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/driver/mysql"
	"github.com/root-talis/migsql/driver/postgres"
	"github.com/root-talis/migsql/driver/sqlite"
)

func openDriver(ctx context.Context, cfg config.Config, logger *slog.Logger) (driver.Driver, error) {
	var drv driver.Driver
	var err error

	switch cfg.Database {
	case config.SQLite:
		drv, err = sqlite.NewDriver(ctx, sqlite.DriverConfig{
			Path:                cfg.Filepath,
			MigrationsTableName: cfg.Table,
		})
	case config.PostgreSQL:
		drv, err = postgres.NewDriver(ctx, postgres.DriverConfig{
			ConnString:          cfg.Connection,
			MigrationsTableName: cfg.Table,
			Logger:              logger,
		})
	case config.MySQL:
		drv, err = mysql.Open(ctx, cfg.Connection, mysql.DriverConfig{
			MigrationsTableName: cfg.Table,
		})
	default:
		return nil, fmt.Errorf("%w: \"%s\"", config.ErrUnsupportedDatabase, cfg.Database)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Database, err)
	}

	return drv, nil
}
