package config

import (
	"time"
)

// Config holds the complete engine configuration with validation tags.
type Config struct {
	Server   ServerConfig   `koanf:"server"   validate:"required"`
	Database DatabaseConfig `koanf:"database" validate:"required"`
	Engine   EngineConfig   `koanf:"engine"   validate:"required"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host    string        `koanf:"host"    validate:"required"`
	Port    int           `koanf:"port"    validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig contains the sqlite store configuration.
type DatabaseConfig struct {
	// Path is the database location, or ":memory:" for ephemeral runs.
	Path            string        `koanf:"path" validate:"required"`
	BusyTimeout     time.Duration `koanf:"busy_timeout"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// EngineConfig tunes the case execution core.
type EngineConfig struct {
	// AnnounceRetries bounds redelivery attempts for service announcements.
	AnnounceRetries int `koanf:"announce_retries" validate:"min=0"`
	// AnnounceBackoff is the initial backoff between announcement retries.
	AnnounceBackoff time.Duration `koanf:"announce_backoff"`
	// AnnounceTimeout bounds a single announcement HTTP call.
	AnnounceTimeout time.Duration `koanf:"announce_timeout"`
	// OrJoinCacheSize sizes the OR-join reachability memo (entries).
	OrJoinCacheSize int `koanf:"orjoin_cache_size" validate:"min=0"`
	// PredicateCostLimit bounds CEL evaluation cost per predicate.
	PredicateCostLimit uint64 `koanf:"predicate_cost_limit"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:            "caseflow.db",
			BusyTimeout:     5 * time.Second,
			MaxOpenConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		Engine: EngineConfig{
			AnnounceRetries:    5,
			AnnounceBackoff:    500 * time.Millisecond,
			AnnounceTimeout:    10 * time.Second,
			OrJoinCacheSize:    1024,
			PredicateCostLimit: 1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
