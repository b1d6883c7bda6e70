package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5*time.Minute, cfg.Engine.DisposeGrace)
	assert.Equal(t, 3*time.Second, cfg.Scan.CounterWait)
	assert.Equal(t, 20*time.Second, cfg.Scan.ShutdownWait)
	assert.Empty(t, cfg.Engine.DatabasePath)
	assert.NoError(t, cfg.Validate())

	pool := cfg.EnginePool()
	assert.Equal(t, "/var/lib/clamav", pool.SystemDatabasePath)
	assert.Equal(t, cfg.Engine.DisposeGrace, pool.Grace)

	sc := cfg.Scanner()
	assert.True(t, sc.IncludeHidden)
	assert.Equal(t, "en", sc.Locale)
}

func TestLoad(t *testing.T) {
	t.Run("reads yaml over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vaultscan.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
engine:
  database_path: /opt/signatures
  dispose_grace: 90s
scan:
  include_hidden: false
server:
  port: 9100
profiles:
  - name: Downloads
    paths: [/home/user/Downloads]
  - name: System
    paths: [/usr/bin, /usr/lib]
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/opt/signatures", cfg.Engine.DatabasePath)
		assert.Equal(t, 90*time.Second, cfg.Engine.DisposeGrace)
		assert.False(t, cfg.Scan.IncludeHidden)
		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, 3*time.Second, cfg.Scan.CounterWait)

		p, err := cfg.Profile("System")
		require.NoError(t, err)
		assert.Equal(t, []string{"/usr/bin", "/usr/lib"}, p.Paths)

		_, err = cfg.Profile("Nope")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("missing file gives defaults and a home profile", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)

		p, err := cfg.Profile(DefaultProfileName)
		require.NoError(t, err)
		assert.Equal(t, []string{home}, p.Paths)
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("engine: [unclosed"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects duplicate profiles", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dup.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: A
    paths: [/a]
  - name: A
    paths: [/b]
`), 0o644))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VAULTSCAN_PORT", "7000")
	t.Setenv("VAULTSCAN_LOG_LEVEL", "debug")
	t.Setenv("VAULTSCAN_DATABASE_PATH", "/srv/db")
	t.Setenv("VAULTSCAN_DISPOSE_GRACE", "30s")
	t.Setenv("VAULTSCAN_WATCH_DATABASE", "false")
	t.Setenv("VAULTSCAN_REPORTS_DSN", "postgres://localhost/vaultscan")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/srv/db", cfg.Engine.DatabasePath)
	assert.Equal(t, 30*time.Second, cfg.Engine.DisposeGrace)
	assert.False(t, cfg.Engine.WatchDatabase)
	assert.Equal(t, "postgres://localhost/vaultscan", cfg.Reports.DSN)

	t.Run("ignores unparseable values", func(t *testing.T) {
		t.Setenv("VAULTSCAN_PORT", "not-a-port")
		cfg := Default()
		LoadFromEnv(cfg)
		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("unset variables keep loaded values", func(t *testing.T) {
		t.Setenv("VAULTSCAN_LOG_LEVEL", "")
		t.Setenv("VAULTSCAN_REPORTS_DSN", "")
		t.Setenv("VAULTSCAN_LOG_FORMAT", "")
		cfg := Default()
		cfg.Logging.Level = "warn"
		cfg.Reports.DSN = "postgres://file/vaultscan"
		LoadFromEnv(cfg)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, Default().Logging.Format, cfg.Logging.Format)
		assert.Equal(t, "postgres://file/vaultscan", cfg.Reports.DSN)
	})
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("VAULTSCAN_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvOrDefault("VAULTSCAN_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("VAULTSCAN_TEST_UNSET", "fallback"))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engine.SystemDatabasePath = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "chatty"
	assert.Error(t, cfg.Validate())
}
