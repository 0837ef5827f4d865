// Package config provides ambient runtime configuration for the concerto
// toolchain: logging, debug server, and data directory settings that are
// not part of a project's Concerto.toml manifest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the ambient tool configuration, loaded from
// ~/.concerto/config.toml (or ITER-style env overrides) and merged with
// defaults. It is independent of any single project's Concerto.toml.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Debug   DebugConfig   `toml:"debug"`
	DataDir string        `toml:"data_dir"`
}

// LoggingConfig contains logging settings consumed by internal/logger.
type LoggingConfig struct {
	Level      string      `toml:"level"`
	Format     string      `toml:"format"`
	Output     StringSlice `toml:"output"`
	TimeFormat string      `toml:"time_format"`
	MaxSizeMB  int         `toml:"max_size_mb"`
	MaxBackups int         `toml:"max_backups"`
}

// DebugConfig controls the optional chi-based VM inspection server.
type DebugConfig struct {
	Enabled        bool     `toml:"enabled"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StringSlice accepts either a bare TOML string or an array of strings.
type StringSlice []string

// UnmarshalTOML implements toml.Unmarshaler for flexible config parsing.
func (s *StringSlice) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = []string{v}
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string in array, got %T", item)
			}
			result[i] = str
		}
		*s = result
	default:
		return fmt.Errorf("expected string or array, got %T", data)
	}
	return nil
}

// DefaultConfig returns the default ambient configuration.
// CONCERTO_LOG_LEVEL overrides the configured logging level.
func DefaultConfig() *Config {
	level := "info"
	if envLevel := os.Getenv("CONCERTO_LOG_LEVEL"); envLevel != "" {
		level = envLevel
	}

	return &Config{
		DataDir: DefaultDataDir(),
		Logging: LoggingConfig{
			Level:      level,
			Format:     "text",
			Output:     StringSlice{"stdout"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Debug: DebugConfig{
			Enabled:        false,
			Host:           "127.0.0.1",
			Port:           7420,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
	}
}

// DefaultDataDir returns the default data directory for tool-level state
// (logs, caches) based on OS conventions.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "concerto")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "concerto")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "concerto")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "concerto")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".concerto")
	}
}

// Load loads ambient configuration from path, merging with defaults.
// A missing file is not an error; defaults are returned unmodified.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()
	if strings.HasPrefix(c.DataDir, "~/") {
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
}

// LogPath returns the path to the tool's own log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "concerto.log")
}

// DebugAddress returns the host:port the debug server should bind to.
func (c *Config) DebugAddress() string {
	return fmt.Sprintf("%s:%d", c.Debug.Host, c.Debug.Port)
}
