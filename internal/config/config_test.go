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
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "data/app.db", cfg.Database.Path)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "llama3.2", cfg.LLM.DefaultModel)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout())
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Database, cfg.Database)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/tmp/x.db"

[llm]
default_model = "qwen2.5"
timeout_seconds = 5

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMs, "unset keys keep defaults")
	assert.Equal(t, "qwen2.5", cfg.LLM.DefaultModel)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[llm]
default_model = "from-file"
`)
	t.Setenv("OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("OLLAMA_MODEL", "from-env")
	t.Setenv("OLLAMA_TIMEOUT", "12")
	t.Setenv("DB_PATH", "/var/lib/dbmcp/app.db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "from-env", cfg.LLM.DefaultModel)
	assert.Equal(t, 12, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, "/var/lib/dbmcp/app.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 10, cfg.LLM.TableSampleRows)
}

func TestLoadBadTOML(t *testing.T) {
	path := writeConfig(t, "[llm\nbase_url = ")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad transport", func(c *Config) { c.Server.Transport = "quic" }, "server.transport"},
		{"http without addr", func(c *Config) { c.Server.Transport = "http"; c.Server.Addr = "" }, "server.addr"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad url", func(c *Config) { c.LLM.BaseURL = "not a url" }, "llm.base_url"},
		{"zero timeout", func(c *Config) { c.LLM.TimeoutSeconds = 0 }, "llm.timeout_seconds"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, "server.rate_limit_per_minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}
