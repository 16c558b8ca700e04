package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "migrate", "loadgen"} {
		assert.Contains(t, out, name)
	}
}

func TestMigrateSQLite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "arena.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: sqlite\n  sqlite:\n    path: "+dbPath+"\n"), 0o600))

	_, err := run(t, "migrate", "--config", cfgPath, "--env-file", filepath.Join(dir, "missing.env"), "--log-level", "error")
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestMigrateRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := run(t, "migrate", "--config", cfgPath, "--env-file", filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestLoadgenRequiresUsers(t *testing.T) {
	_, err := run(t, "loadgen")
	assert.ErrorContains(t, err, "users")
}
