package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vortexdock/pkg/config"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Task.NumModes)
	require.Equal(t, "sqlite", cfg.Database.Backend)
	require.Equal(t, 5*time.Minute, cfg.Task.LeaseTimeout.Duration())
	require.Equal(t, 5*time.Minute, cfg.Server.IdleTimeout.Duration())
}

func TestLoad_ParsesYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  command_port: 12000
task:
  max_retries: 2
  lease_timeout: 30
database:
  backend: mysql
  dsn: "user:pass@tcp(db:3306)/vortexdock"
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 12000, cfg.Server.CommandPort)
	require.Equal(t, 2, cfg.Task.MaxRetries)
	require.Equal(t, 30*time.Second, cfg.Task.LeaseTimeout.Duration())
	require.Equal(t, "mysql", cfg.Database.Backend)
	require.Equal(t, "user:pass@tcp(db:3306)/vortexdock", cfg.Database.DSN)
	// Fields the file didn't set still fall back to defaults.
	require.Equal(t, 9, cfg.Task.NumModes)
}

func TestLoad_EnvOverridesWinOverFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  backend: mysql\n"), 0o644))

	t.Setenv("VORTEXDOCK_DB_BACKEND", "sqlite")
	t.Setenv("VORTEXDOCK_COMMAND_PORT", "9999")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Backend)
	require.Equal(t, 9999, cfg.Server.CommandPort)
}
