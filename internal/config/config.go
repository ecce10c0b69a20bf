// Package config loads the orchestrator configuration from defaults,
// an optional .djinnbot.yaml, and DJINNBOT_* environment variables.
package config

import "fmt"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	GitHubApp GitHubAppConfig `mapstructure:"github_app"`
	Pulse     PulseConfig     `mapstructure:"pulse"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StoreConfig configures the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the event bus. When Addr is empty the server runs
// with the in-memory bus, useful for single-process development.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkspaceConfig configures on-disk workspaces and git credentials.
type WorkspaceConfig struct {
	WorkspacesDir string `mapstructure:"workspaces_dir"`
	SharedRunsDir string `mapstructure:"shared_runs_dir"`
	GitHubToken   string `mapstructure:"github_token"`
	GitHubUser    string `mapstructure:"github_user"`
}

// GitHubAppConfig configures the GitHub App used for installation tokens and
// pull requests. Both fields empty disables the App.
type GitHubAppConfig struct {
	AppID          string `mapstructure:"app_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// Enabled reports whether a GitHub App is configured.
func (g GitHubAppConfig) Enabled() bool {
	return g.AppID != "" && g.PrivateKeyPath != ""
}

// PulseConfig configures the periodic agent scheduler. Runtime guardrails
// (cooldown, daily caps) live in the settings table so they are adjustable
// without a restart; this only covers process-level wiring.
type PulseConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Agents  []string `mapstructure:"agents"`
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q invalid (debug|info|warn|error)", c.Log.Level)
	}
	if c.GitHubApp.AppID != "" && c.GitHubApp.PrivateKeyPath == "" {
		return fmt.Errorf("github_app.private_key_path required when app_id is set")
	}
	return nil
}
