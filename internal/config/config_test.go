package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.test
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.GetTimeout())
	assert.Equal(t, "sqlite", cfg.StateStorage.Type)
	assert.Equal(t, "favorites.db", cfg.StateStorage.FilePath)
	assert.Equal(t, 64, cfg.Sync.ReconcileQueue)
	assert.True(t, cfg.Sync.PersistSnapshots)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.GetReadTimeout())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.test
  user_id: u-1
  timeout: 3s
state_storage:
  type: mysql
  host: db
  database: favorites
scheduler:
  enabled: true
  interval: "*/10 * * * *"
logging:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "u-1", cfg.Remote.UserID)
	assert.Equal(t, 3*time.Second, cfg.Remote.GetTimeout())
	assert.Equal(t, "mysql", cfg.StateStorage.Type)
	assert.Equal(t, 3306, cfg.StateStorage.Port)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.test
`)
	t.Setenv("FAVSYNC_REMOTE_BASE_URL", "https://override.example.test")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.test", cfg.Remote.BaseURL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Remote:       RemoteConfig{BaseURL: "https://api.example.test", Timeout: "5s"},
			StateStorage: StateStorage{Type: "sqlite", FilePath: "x.db"},
			Sync:         SyncConfig{ReconcileQueue: 8},
			Scheduler:    SchedulerConfig{Interval: "@every 1m"},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing base url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"bad timeout", func(c *Config) { c.Remote.Timeout = "soon" }},
		{"unknown storage", func(c *Config) { c.StateStorage.Type = "postgres" }},
		{"mysql without host", func(c *Config) { c.StateStorage = StateStorage{Type: "mysql"} }},
		{"sqlite without path", func(c *Config) { c.StateStorage.FilePath = "" }},
		{"zero queue", func(c *Config) { c.Sync.ReconcileQueue = 0 }},
		{"bad cron", func(c *Config) { c.Scheduler = SchedulerConfig{Enabled: true, Interval: "often"} }},
		{"bad server timeout", func(c *Config) { c.Server.ReadTimeout = "1 minute" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
