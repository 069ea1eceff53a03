package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/orrbarkat/whatsapp-mcp/internal/paths"
)

// Config represents the global ~/.whatsapp-mcp/config.toml.
type Config struct {
	Bridge   BridgeConfig   `toml:"bridge"`
	Database DatabaseConfig `toml:"database"`
}

// BridgeConfig configures the supervised bridge process.
type BridgeConfig struct {
	// Dir is the bridge working directory; Executable is resolved
	// relative to it.
	Dir        string `toml:"dir"`
	Executable string `toml:"executable"`

	// APIBaseURL is the bridge HTTP API root, including the /api prefix.
	APIBaseURL string `toml:"api_base_url"`

	StartupWatchSeconds    int `toml:"startup_watch_seconds"`
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
}

// DatabaseConfig selects the storage backend. Driver is either "sqlite"
// (read the bridge's local databases directly) or "rest" (a remote
// PostgREST-style API).
type DatabaseConfig struct {
	Driver string       `toml:"driver"`
	SQLite SQLiteConfig `toml:"sqlite"`
	REST   RESTConfig   `toml:"rest"`
}

type SQLiteConfig struct {
	MessagesPath string `toml:"messages_path"`
	SessionPath  string `toml:"session_path"`
}

type RESTConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// Default returns the configuration used when no file exists: a sqlite
// backend over the bridge's store directory.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Dir:        paths.BridgeDir(),
			Executable: "whatsapp-bridge",
			APIBaseURL: "http://localhost:8080/api",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				MessagesPath: paths.MessagesDBPath(),
				SessionPath:  paths.SessionDBPath(),
			},
		},
	}
}

// Load reads config from the given path, filling unset fields from
// Default. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, or returns Default when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.MessagesPath == "" || c.Database.SQLite.SessionPath == "" {
			return fmt.Errorf("sqlite driver requires messages_path and session_path")
		}
	case "rest":
		if c.Database.REST.BaseURL == "" {
			return fmt.Errorf("rest driver requires base_url")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Bridge.Executable == "" {
		return fmt.Errorf("bridge executable is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
