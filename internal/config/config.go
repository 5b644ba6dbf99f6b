// Package config loads hub configuration from the environment, with an
// optional .env file for development. Priority: ENV vars > .env > defaults.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all hub configuration.
type Config struct {
	// Server basics
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"4001"`

	// Sessions
	JWTSecret  string        `env:"JWT_SECRET" envDefault:"poshub-dev-secret"`
	SessionTTL time.Duration `env:"POSHUB_SESSION_TTL" envDefault:"12h"`

	// Event retention
	MaxEvents   int `env:"POSHUB_MAX_EVENTS" envDefault:"10000"`
	ReplayBatch int `env:"POSHUB_REPLAY_BATCH" envDefault:"100"`

	// Locks
	LockTTL           time.Duration `env:"POSHUB_LOCK_TTL" envDefault:"5m"`
	LockSweepInterval time.Duration `env:"POSHUB_LOCK_SWEEP_INTERVAL" envDefault:"0s"` // 0 → TTL/5

	// Capacity and client behavior
	MaxConnections int     `env:"POSHUB_MAX_CONNECTIONS" envDefault:"256"`
	MsgRateBurst   int     `env:"POSHUB_MSG_RATE_BURST" envDefault:"100"`
	MsgRatePerSec  float64 `env:"POSHUB_MSG_RATE_PER_SEC" envDefault:"10"`

	// Lifecycle
	ShutdownGrace  time.Duration `env:"POSHUB_SHUTDOWN_GRACE" envDefault:"10s"`
	SampleInterval time.Duration `env:"POSHUB_SAMPLE_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from .env (if present) and the environment.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("POSHUB_MAX_EVENTS must be > 0, got %d", c.MaxEvents)
	}
	if c.ReplayBatch < 1 {
		return fmt.Errorf("POSHUB_REPLAY_BATCH must be > 0, got %d", c.ReplayBatch)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("POSHUB_LOCK_TTL must be > 0, got %s", c.LockTTL)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("POSHUB_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SweepInterval resolves the lock sweep interval: the configured value, or
// TTL/5 when unset.
func (c *Config) SweepInterval() time.Duration {
	if c.LockSweepInterval > 0 {
		return c.LockSweepInterval
	}
	return c.LockTTL / 5
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Int("max_events", c.MaxEvents).
		Int("replay_batch", c.ReplayBatch).
		Dur("lock_ttl", c.LockTTL).
		Dur("lock_sweep_interval", c.SweepInterval()).
		Int("max_connections", c.MaxConnections).
		Int("msg_rate_burst", c.MsgRateBurst).
		Float64("msg_rate_per_sec", c.MsgRatePerSec).
		Dur("shutdown_grace", c.ShutdownGrace).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Hub configuration loaded")
}
