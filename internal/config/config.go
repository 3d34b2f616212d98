// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lwneal/sharescript/internal/buffer"
	"github.com/lwneal/sharescript/internal/pty"
)

// Config holds all server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Script ScriptConfig `yaml:"script"`
	Replay ReplayConfig `yaml:"replay"`

	// DataDir holds the run-history database and cast recordings.
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ScriptConfig configures the shared script and its terminal.
type ScriptConfig struct {
	// Path is the script every viewer's run button executes.
	Path string `yaml:"path"`

	// CreateIfMissing writes a sample script when Path does not exist.
	CreateIfMissing bool `yaml:"create_if_missing"`

	Rows uint16 `yaml:"rows"`
	Cols uint16 `yaml:"cols"`

	// ShutdownGrace bounds how long a terminated script's process group
	// gets to exit before it is killed.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ReplayConfig configures the replay buffer.
type ReplayConfig struct {
	Capacity int `yaml:"capacity"`
	Retained int `yaml:"retained"`
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Script: ScriptConfig{
			Path:            "./foobar.sh",
			CreateIfMissing: true,
			Rows:            pty.DefaultRows,
			Cols:            pty.DefaultCols,
			ShutdownGrace:   3 * time.Second,
		},
		Replay: ReplayConfig{
			Capacity: buffer.DefaultCapacity,
			Retained: buffer.DefaultRetained,
		},
		DataDir: "data",
	}
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SCRIPT"); v != "" {
		c.Script.Path = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
}
