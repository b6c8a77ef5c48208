// Package registry is a source of migrations written in Go. Units are registered
// under their ledger name, usually from init functions of a migrations package:
//
//	func init() {
//		registry.MustRegister(migrations, "0003-users", migration.Funcs{Up: createUsers, Down: dropUsers})
//	}
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/root-talis/migsql/migration"
	"github.com/root-talis/migsql/source"
)

var ErrDuplicateMigration = errors.New("migration is already registered")

// Registry is an in-process table of migration units keyed by ledger name.
// It implements source.Source; the locator of a unit is its name.
type Registry struct {
	mu    sync.RWMutex
	units map[string]migration.Unit
}

var _ source.Source = (*Registry)(nil)

func New() *Registry {
	return &Registry{units: make(map[string]migration.Unit)}
}

// Register adds unit under name, which must look like "0001-wild".
func (r *Registry) Register(name string, unit migration.Unit) error {
	if _, err := migration.ParseName(name); err != nil {
		return fmt.Errorf("failed to register migration: %w", err)
	}

	if err := migration.ValidateUnit(unit); err != nil {
		return fmt.Errorf("failed to register migration %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMigration, name)
	}

	r.units[name] = unit

	return nil
}

// MustRegister is Register that panics on error.
func MustRegister(r *Registry, name string, unit migration.Unit) {
	if err := r.Register(name, unit); err != nil {
		panic(err)
	}
}

func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

func (r *Registry) Locate(name string) string {
	return name
}

func (r *Registry) Load(_ context.Context, path string) (migration.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, ok := r.units[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrMigrationNotFound, path)
	}

	return unit, nil
}
