package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	loader := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	loader.Viper().SetConfigType("yaml")

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ".djinnbot/djinnbot.db", cfg.Store.Path)
	assert.Equal(t, "/data/workspaces", cfg.Workspace.WorkspacesDir)
	assert.Equal(t, "/data/runs", cfg.Workspace.SharedRunsDir)
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.GitHubApp.Enabled())
	assert.True(t, cfg.Pulse.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "djinnbot.yaml")
	content := `
server:
  port: 9090
log:
  level: debug
redis:
  addr: redis:6379
  db: 2
workspace:
  workspaces_dir: /srv/workspaces
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "/srv/workspaces", cfg.Workspace.WorkspacesDir)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DJINNBOT_SERVER_PORT", "7070")
	t.Setenv("DJINNBOT_LOG_LEVEL", "warn")
	t.Setenv("GITHUB_TOKEN", "ghp_ambient")

	loader := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	loader.Viper().SetConfigType("yaml")
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "ghp_ambient", cfg.Workspace.GitHubToken)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "djinnbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	_, err := NewLoader().WithConfigFile(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:    LogConfig{Level: "info"},
		Store:  StoreConfig{Path: "db.sqlite"},
	}
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
	cfg.Server.Port = 8080

	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())
	cfg.Store.Path = "db.sqlite"

	cfg.GitHubApp.AppID = "12345"
	assert.Error(t, cfg.Validate(), "app id without key path must fail")
	cfg.GitHubApp.PrivateKeyPath = "key.pem"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.GitHubApp.Enabled())
}
