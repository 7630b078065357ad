package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	LLM       LLMConfig       `toml:"llm"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Auth      AuthConfig      `toml:"auth"`
}

type ServerConfig struct {
	Transport string `toml:"transport" validate:"oneof=stdio http"`
	Addr      string `toml:"addr" validate:"required_if=Transport http"`
	// RateLimitPerMinute caps /mcp requests per client address; 0 disables.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" validate:"gte=0"`
}

type DatabaseConfig struct {
	Path          string `toml:"path" validate:"required"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms" validate:"gte=0"`
}

type LLMConfig struct {
	BaseURL          string `toml:"base_url" validate:"required,url"`
	APIKey           string `toml:"api_key"`
	DefaultModel     string `toml:"default_model" validate:"required"`
	TimeoutSeconds   int    `toml:"timeout_seconds" validate:"gte=1"`
	MaxContextTokens int    `toml:"max_context_tokens" validate:"gte=0"`
	TableSampleRows  int    `toml:"table_sample_rows" validate:"gte=1"`
	DBSampleRows     int    `toml:"db_sample_rows" validate:"gte=1"`
}

// Timeout returns the per-request LLM timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// TelemetryConfig points at the SQLite file holding audit, SQL trace and
// LLM call records. An empty path disables telemetry.
type TelemetryConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min" validate:"gte=0"`
	APIKeyHash     string `toml:"api_key_hash"`
}

// Enabled reports whether the HTTP transport requires a bearer credential.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != "" || c.APIKeyHash != ""
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:          "stdio",
			Addr:               ":8080",
			RateLimitPerMinute: 120,
		},
		Database: DatabaseConfig{
			Path:          "data/app.db",
			BusyTimeoutMs: 5000,
		},
		LLM: LLMConfig{
			BaseURL:          "http://localhost:11434",
			DefaultModel:     "llama3.2",
			TimeoutSeconds:   60,
			MaxContextTokens: 6000,
			TableSampleRows:  10,
			DBSampleRows:     5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Path: "data/telemetry.db",
		},
		Auth: AuthConfig{
			TokenExpiryMin: 1440, // 24h
		},
	}
}

// envKeys maps the supported environment variables onto config keys.
var envKeys = map[string]string{
	"OLLAMA_BASE_URL": "llm.base_url",
	"OLLAMA_MODEL":    "llm.default_model",
	"OLLAMA_TIMEOUT":  "llm.timeout_seconds",
	"OLLAMA_API_KEY":  "llm.api_key",
	"DB_PATH":         "database.path",
	"TELEMETRY_PATH":  "telemetry.path",
	"LOG_LEVEL":       "log.level",
	"LOG_FORMAT":      "log.format",
	"MCP_TRANSPORT":   "server.transport",
	"MCP_ADDR":        "server.addr",
	"MCP_JWT_SECRET":  "auth.jwt_secret",
}

// Load builds the configuration: defaults, then the TOML file at path (a
// missing file is not an error), then environment overrides. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrap(err, "reading config")
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "parsing config")
			}
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return errors.Wrap(err, "reading environment")
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "toml"}); err != nil {
		return errors.Wrap(err, "applying environment")
	}
	return nil
}

// Validate checks field constraints and reports them by TOML key.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		return name
	})
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, strings.TrimPrefix(fe.Namespace(), "Config.")+" failed "+fe.Tag())
			}
			return errors.Newf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
