package migsql

import (
	"errors"
	"fmt"
)

var (
	ErrApplyFailed  = errors.New("migration failed to apply")
	ErrRevertFailed = errors.New("migration failed to revert")
	ErrLoadFailed   = errors.New("migration failed to load")
)

type Op string

const (
	OpLoad   Op = "load"
	OpApply  Op = "apply"
	OpRevert Op = "revert"
)

// MigrationError is a failure of a single migration.
// errors.Is matches both the sentinel of its Op and the cause.
type MigrationError struct {
	Name    string
	Locator string
	Op      Op
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("failed to %s migration %s (%s): %s", e.Op, e.Name, e.Locator, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	var sentinel error

	switch e.Op {
	case OpLoad:
		sentinel = ErrLoadFailed
	case OpApply:
		sentinel = ErrApplyFailed
	case OpRevert:
		sentinel = ErrRevertFailed
	}

	if sentinel == nil {
		return []error{e.Err}
	}

	return []error{sentinel, e.Err}
}
