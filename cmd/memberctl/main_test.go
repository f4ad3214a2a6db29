package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	old := Version
	defer func() { Version = old }()
	Version = "1.4.0"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "memberctl 1.4.0")
}

func TestSyncRequiresOneSelector(t *testing.T) {
	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of the flags")
}

func TestSyncRejectsTwoSelectors(t *testing.T) {
	defer func() { syncUserID, syncAll = "", false }()

	_, err := execute(t, "sync", "--user", "u1", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestMigrateNeedsDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = execute(t, "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}
