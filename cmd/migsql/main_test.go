package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/migsql/scaffold"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	return out.String(), err
}

func TestSQLiteWorkflow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "migsql.yaml")
	migrations := filepath.Join(dir, "migrations")
	common := []string{"--config", configPath}

	_, err := execute(t, append([]string{"init", "--database", "sqlite",
		"--migrations", migrations, "--filepath", filepath.Join(dir, "data.db")}, common...)...)
	require.NoError(t, err)
	assert.DirExists(t, migrations)
	assert.FileExists(t, configPath)

	_, err = execute(t, append([]string{"init", "--database", "sqlite", "--migrations", migrations}, common...)...)
	assert.Error(t, err, "init must not overwrite an existing config")

	out, err := execute(t, append([]string{"create", "--name", "wild"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "0001-wild.sql")

	_, err = execute(t, append([]string{"create", "--name", "ok"}, common...)...)
	require.NoError(t, err)

	_, err = execute(t, append([]string{"create", "--name", "wild"}, common...)...)
	assert.ErrorIs(t, err, scaffold.ErrNameConflict)

	out, err = execute(t, append([]string{"migrate"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "applied  0001-wild")
	assert.Contains(t, out, "applied  0002-ok")

	out, err = execute(t, append([]string{"migrate"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing applied")

	out, err = execute(t, append([]string{"rollback"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "reverted 0002-ok")
	assert.NotContains(t, out, "0001-wild")

	out, err = execute(t, append([]string{"status"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 applied, 1 pending, 0 missing")

	out, err = execute(t, append([]string{"rollback", "--all"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "reverted 0001-wild")
}

func TestMigrateRequiresDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "migrations"), 0o755))

	_, err := execute(t, "migrate",
		"--config", filepath.Join(dir, "none.yaml"),
		"--migrations", filepath.Join(dir, "migrations"))

	assert.Error(t, err)
}

func TestCreateRequiresName(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "create", "--config", filepath.Join(t.TempDir(), "none.yaml"))

	assert.ErrorIs(t, err, errMissingFlag)
}

func TestInitRequiresConnection(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "init", "--database", "postgresql",
		"--config", filepath.Join(t.TempDir(), "migsql.yaml"))

	assert.ErrorIs(t, err, errMissingFlag)
}
