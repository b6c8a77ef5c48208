package migration

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Session is the capability handle a migration unit receives. It wraps the single
// database session held by the ledger driver for the whole run.
type Session interface {
	Exec(ctx context.Context, query string, args ...any) error
	Dialect() string
}

// Unit is a named pair of forward and reverse schema changes.
//
// Apply may leave partial work behind when one of several statements fails,
// so Revert must tolerate a partially applied Apply (guarded drops and so on).
type Unit interface {
	Apply(ctx context.Context, session Session) error
	Revert(ctx context.Context, session Session) error
}

var ErrMissingOperation = errors.New("migration unit must define both apply and revert")

// Funcs adapts a pair of plain functions to Unit.
type Funcs struct {
	Up   func(ctx context.Context, session Session) error
	Down func(ctx context.Context, session Session) error
}

func (f Funcs) Apply(ctx context.Context, session Session) error {
	if f.Up == nil {
		return fmt.Errorf("%w: apply is missing", ErrMissingOperation)
	}
	return f.Up(ctx, session)
}

func (f Funcs) Revert(ctx context.Context, session Session) error {
	if f.Down == nil {
		return fmt.Errorf("%w: revert is missing", ErrMissingOperation)
	}
	return f.Down(ctx, session)
}

// Validate reports ErrMissingOperation when either side of the pair is nil.
func (f Funcs) Validate() error {
	switch {
	case f.Up == nil && f.Down == nil:
		return fmt.Errorf("%w: apply and revert are missing", ErrMissingOperation)
	case f.Up == nil:
		return fmt.Errorf("%w: apply is missing", ErrMissingOperation)
	case f.Down == nil:
		return fmt.Errorf("%w: revert is missing", ErrMissingOperation)
	}
	return nil
}

// Validator is implemented by units that can check themselves before they run.
type Validator interface {
	Validate() error
}

// ValidateUnit rejects a nil unit and runs Validate on units that implement Validator.
func ValidateUnit(unit Unit) error {
	switch u := unit.(type) {
	case nil:
		return fmt.Errorf("%w: unit is nil", ErrMissingOperation)
	case *Funcs:
		if u == nil {
			return fmt.Errorf("%w: unit is nil", ErrMissingOperation)
		}
		return u.Validate()
	case Validator:
		return u.Validate() // nolint:wrapcheck
	}
	return nil
}

// ---

// Descriptor is a discovered migration.
type Descriptor struct {
	Index   uint64 // numeric filename prefix, used for ordering only
	Name    string // filename stem, e.g. "0001-wild"; the ledger key
	Label   string // part of the stem after the first hyphen, e.g. "wild"
	Locator string // loader-specific path to the unit
}

// LedgerEntry is one row of the ledger table.
type LedgerEntry struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"created_at"`
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// State is the status of one migration as seen from both the source and the ledger.
type State struct {
	Descriptor
	Status    Status
	AppliedAt time.Time
}
