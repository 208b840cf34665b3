// Package config loads querygate settings from QUERYGATE_* environment
// variables on top of built-in defaults.
//
// Nesting uses a double underscore: QUERYGATE_SERVER__ADDR sets server.addr,
// QUERYGATE_QUERY__MAX_LIMIT sets query.max_limit.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from every variable name.
const EnvPrefix = "QUERYGATE_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Query    QueryConfig    `koanf:"query"`
	Audit    AuditConfig    `koanf:"audit"`
	Log      LogConfig      `koanf:"log"`
	Client   ClientConfig   `koanf:"client"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	BodyLimit       string        `koanf:"body_limit" validate:"required"`

	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver       string        `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN          string        `koanf:"dsn" validate:"required"`
	MaxOpenConns int           `koanf:"max_open_conns" validate:"gte=0"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"gte=0"`
}

type QueryConfig struct {
	DefaultLimit     int `koanf:"default_limit" validate:"gt=0"`
	MaxLimit         int `koanf:"max_limit" validate:"gtefield=DefaultLimit"`
	DisplayThreshold int `koanf:"display_threshold" validate:"gt=0"`
	PreviewBytes     int `koanf:"preview_bytes" validate:"gt=0,ltefield=DisplayThreshold"`
}

type AuditConfig struct {
	Path        string        `koanf:"path" validate:"required"`
	LockTimeout time.Duration `koanf:"lock_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// ClientConfig is used by the CLI when it calls a running gateway.
type ClientConfig struct {
	URL     string        `koanf:"url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			BodyLimit:       "1M",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "mes_data.db",
		},
		Query: QueryConfig{
			DefaultLimit:     1000,
			MaxLimit:         10000,
			DisplayThreshold: 5000,
			PreviewBytes:     1000,
		},
		Audit: AuditConfig{
			Path:        "query_logs.json",
			LockTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Client: ClientConfig{
			URL:     "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
	}
}

// envKey maps QUERYGATE_SERVER__ADDR to server.addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Load reads the environment over the defaults and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
