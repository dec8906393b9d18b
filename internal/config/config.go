// Package config loads the configuration of threadpool-server.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of threadpool-server.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string `yaml:"addr" json:"addr"`
	// Workers is the number of workers in the pool.
	Workers int `yaml:"workers" json:"workers"`
	// Root is the directory containing hello.html and 404.html.
	Root string `yaml:"root" json:"root"`
	// SleepDelay is how long the /sleep route stalls.
	SleepDelay Duration `yaml:"sleep_delay" json:"sleep_delay"`
	// ReadTimeout bounds the wait for a request line, 0 means no limit.
	ReadTimeout Duration `yaml:"read_timeout" json:"read_timeout"`
	// MaxConnections limits the number of open connections, 0 means no limit.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// MetricsAddr enables the Prometheus endpoint if not empty.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// LogLevel is one of debug, info, warn and error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Addr:        "127.0.0.1:7878",
		Workers:     4,
		Root:        ".",
		SleepDelay:  Duration(5 * time.Second),
		ReadTimeout: Duration(10 * time.Second),
		LogLevel:    "info",
	}
}

// LoadFile reads a YAML or JSON file on top of Default.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format: %s", ext)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.SleepDelay < 0 {
		return fmt.Errorf("sleep_delay must be non-negative")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout must be non-negative")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be non-negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return level, nil
}

// Duration is a time.Duration written as "5s" or "1m30s" in files.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(v)
	return nil
}
