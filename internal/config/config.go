// Package config provides configuration loading for invoiced.
package config

import (
	"fmt"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	History   HistoryConfig   `koanf:"history"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig holds memory persistence settings. An empty Path selects the
// in-memory store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// HistoryConfig bounds the duplicate-detection window.
type HistoryConfig struct {
	Capacity int `koanf:"capacity"`
}

// BootstrapConfig points at an optional seed file loaded at startup.
type BootstrapConfig struct {
	Path string `koanf:"path"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("history.capacity must be non-negative, got %d", c.History.Capacity)
	}
	return nil
}
