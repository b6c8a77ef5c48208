package migsql_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/migsql"
	"github.com/root-talis/migsql/driver"
	"github.com/root-talis/migsql/migration"
	"github.com/root-talis/migsql/source"
)

var (
	ErrAny    = errors.New("test error")
	ErrNotice = errors.New("test notice")
)

// -- testing double for source ----------

type sourceMock struct {
	filenames []string
	units     map[string]migration.Unit
	listErr   error
	trace     *[]string
}

func newSourceMock(trace *[]string, names ...string) *sourceMock {
	src := &sourceMock{units: map[string]migration.Unit{}, trace: trace}
	for _, name := range names {
		src.add(name, nil, nil)
	}
	return src
}

// add registers a unit that records its calls in the trace and fails with the given errors.
func (m *sourceMock) add(name string, applyErr, revertErr error) {
	m.filenames = append(m.filenames, name+".sql")
	m.units["mock/"+name] = migration.Funcs{
		Up: func(context.Context, migration.Session) error {
			*m.trace = append(*m.trace, "apply "+name)
			return applyErr
		},
		Down: func(context.Context, migration.Session) error {
			*m.trace = append(*m.trace, "revert "+name)
			return revertErr
		},
	}
}

func (m *sourceMock) List(context.Context) ([]string, error) {
	return m.filenames, m.listErr
}

func (m *sourceMock) Locate(name string) string {
	return "mock/" + name
}

func (m *sourceMock) Load(_ context.Context, path string) (migration.Unit, error) {
	unit, ok := m.units[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrMigrationNotFound, path)
	}
	return unit, nil
}

// -- testing double for driver ----------

type driverMock struct {
	entries   []migration.LedgerEntry // in insertion order
	nextID    int64
	setupErr  error
	recordErr error
	closed    bool

	recordedApplied int // RecordApplied calls
}

func (m *driverMock) EnsureLedgerTable(context.Context) error {
	return m.setupErr
}

func (m *driverMock) ListApplied(context.Context) ([]migration.LedgerEntry, error) {
	result := make([]migration.LedgerEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		result = append(result, m.entries[i])
	}
	return result, nil
}

func (m *driverMock) LatestApplied(ctx context.Context) ([]migration.LedgerEntry, error) {
	all, _ := m.ListApplied(ctx)
	if len(all) > 1 {
		all = all[:1]
	}
	return all, nil
}

func (m *driverMock) RecordApplied(_ context.Context, name string) error {
	m.recordedApplied++
	if m.recordErr != nil {
		return m.recordErr
	}
	m.nextID++
	m.entries = append(m.entries, migration.LedgerEntry{ID: m.nextID, Name: name, AppliedAt: time.Unix(12345+m.nextID, 0)})
	return nil
}

func (m *driverMock) RecordReverted(_ context.Context, name string) error {
	for i, entry := range m.entries {
		if entry.Name == name {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (m *driverMock) Session() migration.Session {
	return nil
}

func (m *driverMock) Close() error {
	m.closed = true
	return nil
}

func (m *driverMock) names() []string {
	result := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		result = append(result, entry.Name)
	}
	return result
}

// noticeDriverMock classifies ErrNotice as informational.
type noticeDriverMock struct {
	*driverMock
}

func (m noticeDriverMock) IsNotice(err error) bool {
	return errors.Is(err, ErrNotice)
}

func quietLogger() migsql.Option {
	return migsql.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

//
// -- Tests for Migrator.Migrate() -------
//

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0002-ok", "0001-wild", "0010-later")
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())

	result, err := m.Migrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"0001-wild", "0002-ok", "0010-later"}, result.Applied)
	assert.Equal(t, []string{"apply 0001-wild", "apply 0002-ok", "apply 0010-later"}, trace)
	assert.Equal(t, []string{"0001-wild", "0002-ok", "0010-later"}, drv.names())
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 3, drv.recordedApplied)

	// second run is a no-op
	trace = nil
	result, err = m.Migrate(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Applied)
	assert.Empty(t, trace)
	assert.Equal(t, 3, drv.recordedApplied, "second run must not write to the ledger")
	assert.Equal(t, []string{"0001-wild", "0002-ok", "0010-later"}, drv.names())
}

func TestMigrateSkipsInvalidFilenames(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-wild")
	src.filenames = append(src.filenames, "README.md", "wild.sql")
	drv := &driverMock{}

	result, err := migsql.New(migsql.Config{}, src, drv, quietLogger()).Migrate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"0001-wild"}, result.Applied)
}

func TestMigrateStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a")
	src.add("0002-b", ErrAny, nil)
	src.add("0003-c", nil, nil)
	drv := &driverMock{}

	result, err := migsql.New(migsql.Config{}, src, drv, quietLogger()).Migrate(context.Background())

	assert.ErrorIs(t, err, migsql.ErrApplyFailed)
	assert.ErrorIs(t, err, ErrAny)

	var migErr *migsql.MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "0002-b", migErr.Name)
	assert.Equal(t, "mock/0002-b", migErr.Locator)
	assert.Equal(t, migsql.OpApply, migErr.Op)

	assert.Equal(t, []string{"0001-a"}, result.Applied)
	assert.Equal(t, []string{"apply 0001-a", "apply 0002-b"}, trace)
	assert.Equal(t, []string{"0001-a"}, drv.names())
}

func TestMigrateTreatsNoticesAsSuccess(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace)
	src.add("0001-a", fmt.Errorf("wrapped: %w", ErrNotice), nil)
	src.add("0002-b", nil, nil)
	drv := &driverMock{}

	result, err := migsql.New(migsql.Config{}, src, noticeDriverMock{drv}, quietLogger()).Migrate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"0001-a", "0002-b"}, result.Applied)
	assert.Equal(t, []string{"0001-a", "0002-b"}, drv.names())
}

func TestMigrateWithoutClassifierFailsOnNotice(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace)
	src.add("0001-a", ErrNotice, nil)
	drv := &driverMock{}

	_, err := migsql.New(migsql.Config{}, src, drv, quietLogger()).Migrate(context.Background())

	assert.ErrorIs(t, err, migsql.ErrApplyFailed)
	assert.Empty(t, drv.names())
}

var migrateAbortTestTable = []struct { // nolint:gochecknoglobals
	name        string
	prepare     func(src *sourceMock, drv *driverMock)
	expectedErr []error
	expectTrace []string
	expectNames []string
}{
	/* e0 */ {
		name: "test e0: should abort when the ledger table cannot be set up",
		prepare: func(_ *sourceMock, drv *driverMock) {
			drv.setupErr = fmt.Errorf("%w: permission denied", driver.ErrLedgerSetup)
		},
		expectedErr: []error{driver.ErrLedgerSetup},
		expectTrace: nil,
		expectNames: []string{},
	},
	/* e1 */ {
		name: "test e1: should abort when migrations cannot be listed",
		prepare: func(src *sourceMock, _ *driverMock) {
			src.listErr = ErrAny
		},
		expectedErr: []error{ErrAny},
		expectNames: []string{},
	},
	/* e2 */ {
		name: "test e2: should abort when a migration cannot be loaded",
		prepare: func(src *sourceMock, _ *driverMock) {
			delete(src.units, "mock/0002-ok")
		},
		expectedErr: []error{migsql.ErrLoadFailed, source.ErrMigrationNotFound},
		expectTrace: []string{"apply 0001-wild"},
		expectNames: []string{"0001-wild"},
	},
	/* e3 */ {
		name: "test e3: should abort when the ledger cannot be written",
		prepare: func(_ *sourceMock, drv *driverMock) {
			drv.recordErr = ErrAny
		},
		expectedErr: []error{ErrAny},
		expectTrace: []string{"apply 0001-wild"},
		expectNames: []string{},
	},	/* e4 */ {
		name: "test e4: should abort when a loaded unit has no revert",
		prepare: func(src *sourceMock, _ *driverMock) {
			src.units["mock/0002-ok"] = &migration.Funcs{Up: func(context.Context, migration.Session) error { return nil }}
		},
		expectedErr: []error{migsql.ErrLoadFailed, migration.ErrMissingOperation},
		expectTrace: []string{"apply 0001-wild"},
		expectNames: []string{"0001-wild"},
	},
}

func TestMigrateAborts(t *testing.T) {
	t.Parallel()

	for _, test := range migrateAbortTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			var trace []string
			src := newSourceMock(&trace, "0001-wild", "0002-ok")
			drv := &driverMock{}
			test.prepare(src, drv)

			_, err := migsql.New(migsql.Config{}, src, drv, quietLogger()).Migrate(context.Background())

			for _, expected := range test.expectedErr {
				assert.ErrorIs(t, err, expected)
			}
			assert.Equal(t, test.expectTrace, trace)
			assert.Equal(t, test.expectNames, drv.names())
		})
	}
}

func TestMigrateStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-wild")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := migsql.New(migsql.Config{}, src, &driverMock{}, quietLogger()).Migrate(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, trace)
}

//
// -- Tests for Migrator.Rollback() ------
//

func appliedAll(t *testing.T, m migsql.Migrator) {
	t.Helper()
	_, err := m.Migrate(context.Background())
	require.NoError(t, err)
}

func TestRollbackLatest(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a", "0002-b", "0003-c")
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())
	appliedAll(t, m)
	trace = nil

	result, err := m.Rollback(context.Background(), migsql.RollbackLatest)
	require.NoError(t, err)

	assert.Equal(t, []string{"0003-c"}, result.Reverted)
	assert.Equal(t, []string{"revert 0003-c"}, trace)
	assert.Equal(t, []string{"0001-a", "0002-b"}, drv.names())
}

func TestRollbackAll(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a", "0002-b", "0003-c")
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())
	appliedAll(t, m)
	trace = nil

	result, err := m.Rollback(context.Background(), migsql.RollbackAll)
	require.NoError(t, err)

	assert.Equal(t, []string{"0003-c", "0002-b", "0001-a"}, result.Reverted)
	assert.Equal(t, []string{"revert 0003-c", "revert 0002-b", "revert 0001-a"}, trace)
	assert.Empty(t, drv.names())

	// nothing left to roll back
	result, err = m.Rollback(context.Background(), migsql.RollbackAll)
	require.NoError(t, err)
	assert.Empty(t, result.Reverted)
}

func TestRollbackFollowsApplicationOrder(t *testing.T) {
	t.Parallel()

	// a migration added later with a lower index is reverted first
	var trace []string
	src := newSourceMock(&trace, "0001-a", "0003-c")
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())
	appliedAll(t, m)

	src.add("0002-b", nil, nil)
	appliedAll(t, m)
	trace = nil

	result, err := m.Rollback(context.Background(), migsql.RollbackAll)
	require.NoError(t, err)

	assert.Equal(t, []string{"0002-b", "0003-c", "0001-a"}, result.Reverted)
}

func TestRollbackRemovesEntryOfFailedRevert(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a")
	src.add("0002-b", nil, ErrAny)
	src.add("0003-c", nil, nil)
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())
	appliedAll(t, m)
	trace = nil

	result, err := m.Rollback(context.Background(), migsql.RollbackAll)
	require.NoError(t, err, "failed reverts do not fail the run")

	assert.Equal(t, []string{"revert 0003-c", "revert 0002-b", "revert 0001-a"}, trace)
	assert.Equal(t, []string{"0003-c", "0001-a"}, result.Reverted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "0002-b", result.Failed[0].Name)
	assert.ErrorIs(t, result.Failed[0], migsql.ErrRevertFailed)
	assert.ErrorIs(t, result.Failed[0], ErrAny)
	assert.Empty(t, drv.names())
}

func TestRollbackKeepsEntryOfFailedRevert(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a")
	src.add("0002-b", nil, ErrAny)
	drv := &driverMock{}
	m := migsql.New(migsql.Config{KeepFailedReverts: true}, src, drv, quietLogger())
	appliedAll(t, m)

	result, err := m.Rollback(context.Background(), migsql.RollbackAll)
	require.NoError(t, err)

	assert.Equal(t, []string{"0001-a"}, result.Reverted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, []string{"0002-b"}, drv.names())
}

func TestRollbackTreatsNoticesAsSuccess(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace)
	src.add("0001-a", nil, ErrNotice)
	drv := &driverMock{}
	m := migsql.New(migsql.Config{KeepFailedReverts: true}, src, noticeDriverMock{drv}, quietLogger())
	appliedAll(t, m)

	result, err := m.Rollback(context.Background(), migsql.RollbackLatest)
	require.NoError(t, err)

	assert.Equal(t, []string{"0001-a"}, result.Reverted)
	assert.Empty(t, result.Failed)
	assert.Empty(t, drv.names())
}

func TestRollbackAbortsWhenMigrationIsGone(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a", "0002-b")
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())
	appliedAll(t, m)
	delete(src.units, "mock/0002-b")
	trace = nil

	result, err := m.Rollback(context.Background(), migsql.RollbackAll)

	assert.ErrorIs(t, err, migsql.ErrLoadFailed)
	assert.ErrorIs(t, err, source.ErrMigrationNotFound)
	assert.Empty(t, result.Reverted)
	assert.Empty(t, trace)
	assert.Equal(t, []string{"0001-a", "0002-b"}, drv.names())
}

func TestRollbackAbortsOnSetupFailure(t *testing.T) {
	t.Parallel()

	drv := &driverMock{setupErr: driver.ErrLedgerSetup}
	_, err := migsql.New(migsql.Config{}, newSourceMock(&[]string{}), drv, quietLogger()).
		Rollback(context.Background(), migsql.RollbackAll)

	assert.ErrorIs(t, err, driver.ErrLedgerSetup)
}

func TestRollbackRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := migsql.New(migsql.Config{}, newSourceMock(&[]string{}), &driverMock{}, quietLogger()).
		Rollback(context.Background(), migsql.RollbackMode(42))

	assert.Error(t, err)
}

//
// -- Tests for Pending(), Status(), Close()
//

func TestPendingAndStatus(t *testing.T) {
	t.Parallel()

	var trace []string
	src := newSourceMock(&trace, "0001-a", "0002-b")
	src.filenames = append(src.filenames, "notes.txt")
	drv := &driverMock{}
	m := migsql.New(migsql.Config{}, src, drv, quietLogger())

	require.NoError(t, drv.RecordApplied(context.Background(), "0001-a"))
	require.NoError(t, drv.RecordApplied(context.Background(), "0000009-gone"))

	pending, err := m.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0002-b", pending[0].Name)
	assert.Equal(t, "mock/0002-b", pending[0].Locator)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(1), status.AppliedCount)
	assert.Equal(t, uint(1), status.PendingCount)
	assert.Equal(t, uint(1), status.MissingCount)
	assert.Equal(t, []string{"notes.txt"}, status.Skipped)

	require.Len(t, status.Migrations, 3)
	assert.Equal(t, migration.Applied, status.Migrations[0].Status)
	assert.Equal(t, migration.Pending, status.Migrations[1].Status)
	assert.Equal(t, "0000009-gone", status.Migrations[2].Name)
	assert.Equal(t, migration.Missing, status.Migrations[2].Status)

	assert.Empty(t, trace, "status must not run migrations")
}

func TestClose(t *testing.T) {
	t.Parallel()

	drv := &driverMock{}
	require.NoError(t, migsql.New(migsql.Config{}, newSourceMock(&[]string{}), drv).Close())
	assert.True(t, drv.closed)
}

func TestLogsCarryRunID(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	var trace []string
	m := migsql.New(migsql.Config{}, newSourceMock(&trace, "0001-wild"), &driverMock{},
		migsql.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
		migsql.WithRunID(func() string { return "run-1" }),
	)

	result, err := m.Migrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Contains(t, logs.String(), `"run":"run-1"`)
	assert.Contains(t, logs.String(), `"migration":"0001-wild"`)
}

func TestRollbackModeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "latest", migsql.RollbackLatest.String())
	assert.Equal(t, "all", migsql.RollbackAll.String())
	assert.Equal(t, "unknown", migsql.RollbackMode(7).String())
}
