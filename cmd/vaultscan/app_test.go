package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/FairForge/vaultscan/internal/config"
	"github.com/FairForge/vaultscan/internal/reports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewApp(t *testing.T) {
	db := t.TempDir()
	path := writeConfig(t, `
engine:
  database_path: `+db+`
logging:
  level: error
profiles:
  - name: Downloads
    paths: [/home/u/Downloads]
  - name: Work
    paths: [/srv/a, /srv/b]
`)

	a, err := newApp(context.Background(), path)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, db, a.pool.DatabasePath())
	assert.IsType(t, &reports.MemoryStore{}, a.store)

	t.Run("args win over profiles", func(t *testing.T) {
		paths, err := a.resolvePaths([]string{"/x"}, "Work")
		require.NoError(t, err)
		assert.Equal(t, []string{"/x"}, paths)
	})

	t.Run("named profile", func(t *testing.T) {
		paths, err := a.resolvePaths(nil, "Work")
		require.NoError(t, err)
		assert.Equal(t, []string{"/srv/a", "/srv/b"}, paths)
	})

	t.Run("first profile by default", func(t *testing.T) {
		paths, err := a.resolvePaths(nil, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"/home/u/Downloads"}, paths)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := a.resolvePaths(nil, "Nope")
		assert.ErrorIs(t, err, config.ErrProfileNotFound)
	})
}

func TestRunScan(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	// an empty database directory cannot build an engine
	path := writeConfig(t, "engine:\n  database_path: "+t.TempDir()+"\nlogging:\n  level: error\n")
	a, err := newApp(context.Background(), path)
	require.NoError(t, err)
	defer a.close()

	err = runScan(context.Background(), a, []string{root})
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitFailure, exit.code)

	list, err := a.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, reports.OutcomeFailed, list[0].Outcome)
}
