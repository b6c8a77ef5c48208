// Package migsql applies and reverts ordered, named migrations against a
// database and records them in a ledger table stored in that same database.
//
// A Migrator is built from a source.Source, which discovers and loads migration
// units, and a driver.Driver, which keeps the ledger and owns the database session
// the units run on. Runs are strictly sequential.
package migsql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/migration"
	"github.com/root-talis/migsql/plan"
	"github.com/root-talis/migsql/source"
)

// ---

type Migrator interface {
	// Migrate applies every pending migration in index order. It stops at the
	// first failure; migrations applied before it stay applied and recorded.
	Migrate(ctx context.Context) (*Result, error)
	// Rollback reverts the latest applied migration or all of them, latest first.
	// A failed revert is logged and reported in Result.Failed but does not stop
	// the rollback.
	Rollback(ctx context.Context, mode RollbackMode) (*Result, error)
	// Pending returns the migrations Migrate would apply.
	Pending(ctx context.Context) ([]migration.Descriptor, error)
	Status(ctx context.Context) (*StatusResult, error)
	Close() error
}

// ---

type migrator struct {
	config   Config
	source   source.Source
	driver   driver.Driver
	logger   *slog.Logger
	newRunID func() string
}

// ---

func New(config Config, src source.Source, drv driver.Driver, opts ...Option) Migrator {
	m := &migrator{
		config:   config,
		source:   src,
		driver:   drv,
		logger:   slog.Default(),
		newRunID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ---

func (m *migrator) Migrate(ctx context.Context) (*Result, error) {
	result := &Result{RunID: m.newRunID()}
	log := m.logger.With("run", result.RunID)

	if err := m.driver.EnsureLedgerTable(ctx); err != nil {
		return result, fmt.Errorf("failed to migrate: %w", err)
	}

	pending, _, err := m.pendingMigrations(ctx, log)
	if err != nil {
		return result, fmt.Errorf("failed to migrate: %w", err)
	}

	log.Info("migrating", "count", len(pending))

	session := m.driver.Session()

	for _, descr := range pending {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("failed to migrate: %w", err)
		}

		unit, err := m.load(ctx, descr)
		if err != nil {
			log.Error("failed to load migration", "migration", descr.Name, "locator", descr.Locator, "error", err)
			return result, err
		}

		if err := unit.Apply(ctx, session); err != nil {
			if !m.isNotice(err) {
				log.Error("failed to apply migration", "migration", descr.Name, "locator", descr.Locator, "error", err)
				return result, &MigrationError{Name: descr.Name, Locator: descr.Locator, Op: OpApply, Err: err}
			}

			log.Info("database notice while applying migration", "migration", descr.Name, "error", err)
		}

		if err := m.driver.RecordApplied(ctx, descr.Name); err != nil {
			log.Error("migration applied but not recorded", "migration", descr.Name, "error", err)
			return result, fmt.Errorf("failed to migrate: %w", err)
		}

		result.Applied = append(result.Applied, descr.Name)
		log.Info("migration applied", "migration", descr.Name)
	}

	log.Info("migrated", "count", len(result.Applied))

	return result, nil
}

func (m *migrator) Rollback(ctx context.Context, mode RollbackMode) (*Result, error) {
	result := &Result{RunID: m.newRunID()}
	log := m.logger.With("run", result.RunID, "mode", mode.String())

	if err := m.driver.EnsureLedgerTable(ctx); err != nil {
		return result, fmt.Errorf("failed to roll back: %w", err)
	}

	var entries []migration.LedgerEntry
	var err error

	switch mode {
	case RollbackLatest:
		entries, err = m.driver.LatestApplied(ctx)
	case RollbackAll:
		entries, err = m.driver.ListApplied(ctx)
	default:
		return result, fmt.Errorf("failed to roll back: unknown mode %d", mode)
	}
	if err != nil {
		return result, fmt.Errorf("failed to roll back: %w", err)
	}

	targets := plan.Rollback(entries, m.source.Locate)

	log.Info("rolling back", "count", len(targets))

	session := m.driver.Session()

	for _, descr := range targets {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("failed to roll back: %w", err)
		}

		unit, err := m.load(ctx, descr)
		if err != nil {
			log.Error("failed to load migration", "migration", descr.Name, "locator", descr.Locator, "error", err)
			return result, err
		}

		reverted := true

		if err := unit.Revert(ctx, session); err != nil {
			if m.isNotice(err) {
				log.Info("database notice while reverting migration", "migration", descr.Name, "error", err)
			} else {
				log.Error("failed to revert migration", "migration", descr.Name, "locator", descr.Locator, "error", err)
				result.Failed = append(result.Failed, &MigrationError{
					Name: descr.Name, Locator: descr.Locator, Op: OpRevert, Err: err,
				})
				reverted = false
			}
		}

		if !reverted && m.config.KeepFailedReverts {
			log.Warn("ledger entry kept after failed revert", "migration", descr.Name)
			continue
		}

		if err := m.driver.RecordReverted(ctx, descr.Name); err != nil {
			log.Error("failed to remove ledger entry", "migration", descr.Name, "error", err)
			return result, fmt.Errorf("failed to roll back: %w", err)
		}

		if reverted {
			result.Reverted = append(result.Reverted, descr.Name)
			log.Info("migration reverted", "migration", descr.Name)
		}
	}

	log.Info("rolled back", "count", len(result.Reverted), "failed", len(result.Failed))

	return result, nil
}

func (m *migrator) Pending(ctx context.Context) ([]migration.Descriptor, error) {
	if err := m.driver.EnsureLedgerTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to list pending migrations: %w", err)
	}

	pending, _, err := m.pendingMigrations(ctx, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending migrations: %w", err)
	}

	return pending, nil
}

func (m *migrator) Status(ctx context.Context) (*StatusResult, error) {
	if err := m.driver.EnsureLedgerTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to get migrations status: %w", err)
	}

	discovered, skipped, err := m.discover(ctx, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations status: %w", err)
	}

	applied, err := m.driver.ListApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
	}

	return &StatusResult{
		Summary: plan.Status(discovered, applied),
		Skipped: skipped,
	}, nil
}

func (m *migrator) Close() error {
	if err := m.driver.Close(); err != nil {
		return fmt.Errorf("failed to close driver: %w", err)
	}
	return nil
}

// ---

func (m *migrator) pendingMigrations(ctx context.Context, log *slog.Logger) ([]migration.Descriptor, []string, error) {
	discovered, skipped, err := m.discover(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	applied, err := m.driver.ListApplied(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
	}

	return plan.Pending(discovered, applied), skipped, nil
}

func (m *migrator) discover(ctx context.Context, log *slog.Logger) ([]migration.Descriptor, []string, error) {
	filenames, err := m.source.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	discovered, skipped := plan.Discover(filenames, m.source.Locate)
	for _, filename := range skipped {
		log.Debug("skipping file that is not a migration", "file", filename)
	}

	return discovered, skipped, nil
}

func (m *migrator) load(ctx context.Context, descr migration.Descriptor) (migration.Unit, error) {
	unit, err := m.source.Load(ctx, descr.Locator)
	if err != nil {
		return nil, &MigrationError{Name: descr.Name, Locator: descr.Locator, Op: OpLoad, Err: err}
	}
	if err := migration.ValidateUnit(unit); err != nil {
		return nil, &MigrationError{Name: descr.Name, Locator: descr.Locator, Op: OpLoad, Err: err}
	}
	return unit, nil
}

func (m *migrator) isNotice(err error) bool {
	classifier, ok := m.driver.(driver.NoticeClassifier)
	return ok && classifier.IsNotice(err)
}
