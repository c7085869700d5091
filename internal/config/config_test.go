package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labtopo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "edit", cfg.Topology.Mode)
	assert.Equal(t, 50, cfg.History.Limit)
	assert.Equal(t, 400*time.Millisecond, cfg.History.MergeWindow.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce.Std())
	assert.Equal(t, "./labtopo-status.db", cfg.Status.Database)
	assert.Equal(t, time.Minute, cfg.Status.ProbeInterval.Std())
	assert.Equal(t, "22,443,830", cfg.Status.ProbePorts)
	assert.Equal(t, 5*time.Minute, cfg.Status.Freshness.Std())
	assert.Equal(t, 10*time.Second, cfg.Status.SSH.Timeout.Std())
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
topology:
  path: /labs/ring.clab.yml
  mode: view
history:
  limit: 10
  merge_window: 250ms
status:
  enabled: true
  probe_interval: 30s
  ssh:
    user: admin
    timeout: 5s
`)

	cfg, loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/labs/ring.clab.yml", cfg.Topology.Path)
	assert.Equal(t, "view", cfg.Topology.Mode)
	assert.Equal(t, 10, cfg.History.Limit)
	assert.Equal(t, 250*time.Millisecond, cfg.History.MergeWindow.Std())
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Status.ProbeInterval.Std())
	assert.Equal(t, "admin", cfg.Status.SSH.User)
	assert.Equal(t, 5*time.Second, cfg.Status.SSH.Timeout.Std())

	// Unset fields still pick up defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce.Std())
	assert.Equal(t, "22,443,830", cfg.Status.ProbePorts)
}

func TestLoadFromPath_Errors(t *testing.T) {
	_, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := writeConfig(t, "server: [not a map")
	_, _, err = LoadFromPath(path)
	require.Error(t, err)

	path = writeConfig(t, "history:\n  merge_window: sideways\n")
	_, _, err = LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse duration")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topology.path")

	cfg.Topology.Path = "/labs/ring.clab.yml"
	require.NoError(t, cfg.Validate())

	cfg.Topology.Mode = "spectate"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edit or view")

	cfg.Topology.Mode = "view"
	cfg.History.Limit = -1
	require.Error(t, cfg.Validate())
}

func TestFindConfigPath_EnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("LABTOPO_CONFIG", path)

	assert.Equal(t, path, FindConfigPath())
}
