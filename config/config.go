// Package config loads server configuration from an optional TOML file.
// Flags in cmd/server override anything loaded here.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	Anchor AnchorConfig `toml:"anchor"`
	Engine EngineConfig `toml:"engine"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Path is the SQLite database path; ":memory:" for ephemeral.
	Path string `toml:"path"`
}

type AnchorConfig struct {
	// Endpoint, when set, enables best-effort proof anchoring.
	Endpoint string `toml:"endpoint"`
}

type EngineConfig struct {
	// MaxAttempts bounds the purchase contention retry loop.
	MaxAttempts int `toml:"max_attempts"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
			ShutdownTimeout: duration{30 * time.Second},
		},
		Store:  StoreConfig{Path: "carbon-ledger.db"},
		Engine: EngineConfig{MaxAttempts: 5},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Engine.MaxAttempts <= 0 {
		return nil, fmt.Errorf("engine.max_attempts must be positive")
	}
	return cfg, nil
}

// duration wraps time.Duration with TOML string parsing ("30s", "1m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
