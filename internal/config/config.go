package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dontdude/testgen/internal/domain"
	"github.com/spf13/viper"
)

// Config holds the service configuration.
type Config struct {
	GeminiAPIKey          string        `mapstructure:"gemini_api_key"`
	GeminiModel           string        `mapstructure:"gemini_model"`
	GeminiTemperature     float32       `mapstructure:"gemini_temperature"`
	GeminiTopP            float32       `mapstructure:"gemini_top_p"`
	GeminiTopK            int32         `mapstructure:"gemini_top_k"`
	GeminiMaxOutputTokens int32         `mapstructure:"gemini_max_output_tokens"`
	GeminiResponseFormat  string        `mapstructure:"gemini_response_format"`
	ListenAddr            string        `mapstructure:"listen_addr"`
	UploadDir             string        `mapstructure:"upload_dir"`
	UploadMaxBytes        int64         `mapstructure:"upload_max_bytes"`
	UploadRetention       time.Duration `mapstructure:"upload_retention"`
	UploadSweepInterval   time.Duration `mapstructure:"upload_sweep_interval"`
	GenerateTimeout       time.Duration `mapstructure:"generate_timeout"`
	RedisAddr             string        `mapstructure:"redis_addr"`
	SessionTTL            time.Duration `mapstructure:"session_ttl"`
	SessionMaxTurns       int           `mapstructure:"session_max_turns"`
	LogLevel              string        `mapstructure:"log_level"`
}

// ErrMissingAPIKey is returned when no Gemini credential is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

var defaults = map[string]any{
	"gemini_model":             "gemini-1.5-flash",
	"gemini_temperature":       1.0,
	"gemini_top_p":             0.95,
	"gemini_top_k":             64,
	"gemini_max_output_tokens": 500,
	"gemini_response_format":   "text",
	"listen_addr":              ":8000",
	"upload_dir":               "uploads",
	"upload_max_bytes":         10 << 20,
	"upload_retention":         "24h",
	"upload_sweep_interval":    "10m",
	"generate_timeout":         "60s",
	"redis_addr":               "",
	"session_ttl":              "1h",
	"session_max_turns":        20,
	"log_level":                "info",
}

// Load reads configuration from the environment, falling back to envFile when it exists.
// Environment variables always win over the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	bindEnvVars(v)

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	for k := range defaults {
		v.BindEnv(k, strings.ToUpper(k))
	}
	v.BindEnv("gemini_api_key", "GEMINI_API_KEY")
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return ErrMissingAPIKey
	}
	switch c.GeminiResponseFormat {
	case "text", "json":
	default:
		return fmt.Errorf("GEMINI_RESPONSE_FORMAT must be text or json, got %q", c.GeminiResponseFormat)
	}
	if c.UploadRetention < 0 {
		return fmt.Errorf("UPLOAD_RETENTION must not be negative")
	}
	if c.UploadSweepInterval <= 0 {
		return fmt.Errorf("UPLOAD_SWEEP_INTERVAL must be positive")
	}
	c.SessionMaxTurns = domain.TurnCap(c.SessionMaxTurns)
	return nil
}

// StructuredOutput reports whether the model is asked for a JSON reply.
func (c *Config) StructuredOutput() bool {
	return c.GeminiResponseFormat == "json"
}

// KeepUploads reports whether staged files outlive the request that created them.
func (c *Config) KeepUploads() bool {
	return c.UploadRetention > 0
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
