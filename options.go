package migsql

import (
	"log/slog"

	"github.com/root-talis/migsql/plan"
)

type Config struct {
	// KeepFailedReverts keeps the ledger entry of a migration whose revert failed.
	// By default the entry is removed whatever the outcome of the revert.
	KeepFailedReverts bool
}

type Option func(*migrator)

func WithLogger(logger *slog.Logger) Option {
	return func(m *migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRunID replaces the generator of run ids attached to log records.
func WithRunID(generate func() string) Option {
	return func(m *migrator) {
		if generate != nil {
			m.newRunID = generate
		}
	}
}

// ---

type RollbackMode uint

const (
	// RollbackLatest reverts the most recently applied migration only.
	RollbackLatest RollbackMode = iota
	// RollbackAll reverts every applied migration, latest first.
	RollbackAll
)

func (m RollbackMode) String() string {
	switch m {
	case RollbackLatest:
		return "latest"
	case RollbackAll:
		return "all"
	}
	return "unknown"
}

// Result describes what a run did. It is returned alongside errors too,
// so callers can see the work done before a run stopped.
type Result struct {
	RunID    string
	Applied  []string
	Reverted []string
	// Failed lists reverts that failed without stopping the rollback.
	Failed []*MigrationError
}

type StatusResult struct {
	plan.Summary
	// Skipped lists discovered files that don't follow the naming convention.
	Skipped []string
}
