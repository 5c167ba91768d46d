// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port    string `env:"PORT"    envDefault:"8080"`
	DBPath  string `env:"DB_PATH" envDefault:"./data/arena.db"`
	Backend BackendConfig
	Archive ArchiveConfig
	HTTP    HTTPConfig
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// BackendConfig describes the debate backend and session pacing.
type BackendConfig struct {
	URL             string        `env:"BACKEND_URL"      envDefault:"http://localhost:8000"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"  envDefault:"20s"`
	ContinueTimeout time.Duration `env:"CONTINUE_TIMEOUT" envDefault:"15s"`
	TypingInterval  time.Duration `env:"TYPING_INTERVAL"  envDefault:"30ms"`
	MaxRounds       int           `env:"MAX_ROUNDS"       envDefault:"5"`
	// Rounds is sent to the backend when positive; zero keeps its default.
	Rounds int `env:"DEBATE_ROUNDS" envDefault:"0"`
}

// ArchiveConfig controls the transcript archive.
type ArchiveConfig struct {
	Enabled bool `env:"ARCHIVE_ENABLED" envDefault:"true"`
}

// HTTPConfig controls the renderer-facing HTTP surface.
type HTTPConfig struct {
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS"    envDefault:"*" envSeparator:","`
	RateLimitRPS      float64       `env:"RATE_LIMIT_RPS"     envDefault:"2"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST"   envDefault:"5"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.HTTP.AllowedOrigins {
		cfg.HTTP.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.Archive.Enabled && c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty when the archive is enabled")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.ConnectTimeout <= 0 {
		return errors.New("CONNECT_TIMEOUT must be > 0")
	}
	if c.Backend.ContinueTimeout <= 0 {
		return errors.New("CONTINUE_TIMEOUT must be > 0")
	}
	if c.Backend.TypingInterval <= 0 {
		return errors.New("TYPING_INTERVAL must be > 0")
	}
	if c.Backend.MaxRounds <= 0 {
		return errors.New("MAX_ROUNDS must be > 0")
	}
	if c.Backend.Rounds < 0 {
		return errors.New("DEBATE_ROUNDS must be >= 0")
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS cannot be empty")
	}
	if c.HTTP.RateLimitRPS <= 0 {
		return errors.New("RATE_LIMIT_RPS must be > 0")
	}
	if c.HTTP.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be > 0")
	}
	if c.HTTP.KeepaliveInterval <= 0 {
		return errors.New("KEEPALIVE_INTERVAL must be > 0")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	return level, nil
}
