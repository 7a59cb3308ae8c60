// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "TRACECAP_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local profiling runs.
	Development Environment = "development"
	// Production is for capture left enabled in deployed services.
	Production Environment = "production"
)

// Config is the capture configuration shared by the tracecap binaries.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Queue sizes the per-goroutine event buffers.
	Queue QueueConfig `yaml:"queue"`

	// Capture configures the draining session.
	Capture CaptureConfig `yaml:"capture"`

	// Listen configures the collector endpoint.
	Listen ListenConfig `yaml:"listen"`

	// Record configures capture to a file instead of a collector.
	Record RecordConfig `yaml:"record"`

	// Log configures diagnostic output.
	Log LogConfig `yaml:"log"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Queue   *QueueConfig   `yaml:"queue,omitempty"`
	Capture *CaptureConfig `yaml:"capture,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// QueueConfig sizes the event queue.
type QueueConfig struct {
	// BlockSize is the number of event slots allocated at a time.
	// Default: 512
	BlockSize int `yaml:"block_size"`

	// Capacity bounds unconsumed events per goroutine. Events beyond it
	// are dropped and counted. Zero means unbounded growth.
	// Default: 0 (development), 65536 (production)
	Capacity int `yaml:"capacity"`
}

// CaptureConfig configures the draining session.
type CaptureConfig struct {
	// FlushInterval is how often the queue is drained, as a Go
	// duration string.
	// Default: 10ms
	FlushInterval string `yaml:"flush_interval"`

	// TryLockAddressIdentity tags successful TryLock events with the
	// lock's address instead of its LockId.
	TryLockAddressIdentity bool `yaml:"try_lock_address_identity"`

	// EagerStrings writes source locations, strings and goroutine
	// names inline instead of waiting for collector queries.
	// Default: false; recordings always enable it.
	EagerStrings bool `yaml:"eager_strings"`
}

// ListenConfig configures the collector endpoint.
type ListenConfig struct {
	// Address is the TCP address the collector connects to.
	// Default: 127.0.0.1:8086
	Address string `yaml:"address"`
}

// RecordConfig configures capture to a file.
type RecordConfig struct {
	// Path is the recording file. A .zst suffix selects zstd
	// compression. Empty disables recording.
	Path string `yaml:"path"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is one of auto, text, json. Auto selects text when stderr
	// is a terminal.
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Queue: QueueConfig{
			BlockSize: 512,
		},
		Capture: CaptureConfig{
			FlushInterval: "10ms",
		},
		Listen: ListenConfig{
			Address: "127.0.0.1:8086",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the TRACECAP_CONFIG environment
// variable. There is no discovery: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tracecap.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc may carry comments and trailing commas; anything
// else is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: bounded buffers and machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Queue: &QueueConfig{Capacity: 65536},
				Log:   &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Queue != nil {
		if overrides.Queue.BlockSize != 0 {
			c.Queue.BlockSize = overrides.Queue.BlockSize
		}
		if overrides.Queue.Capacity != 0 {
			c.Queue.Capacity = overrides.Queue.Capacity
		}
	}

	if overrides.Capture != nil {
		if overrides.Capture.FlushInterval != "" {
			c.Capture.FlushInterval = overrides.Capture.FlushInterval
		}
		// Booleans can only be switched on by an override.
		c.Capture.TryLockAddressIdentity = c.Capture.TryLockAddressIdentity || overrides.Capture.TryLockAddressIdentity
		c.Capture.EagerStrings = c.Capture.EagerStrings || overrides.Capture.EagerStrings
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":   os.Getenv("HOME"),
		"PID":    fmt.Sprint(os.Getpid()),
		"TMPDIR": os.TempDir(),
	}

	c.Record.Path = expandVars(c.Record.Path, vars)
	c.Listen.Address = expandVars(c.Listen.Address, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// FlushInterval returns Capture.FlushInterval parsed.
func (c *Config) FlushInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Capture.FlushInterval)
	if err != nil {
		return 0, fmt.Errorf("capture.flush_interval: %w", err)
	}
	return interval, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Queue.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.block_size must be positive, got %d", c.Queue.BlockSize))
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must not be negative, got %d", c.Queue.Capacity))
	}

	if interval, err := c.FlushInterval(); err != nil {
		errs = append(errs, err)
	} else if interval <= 0 {
		errs = append(errs, fmt.Errorf("capture.flush_interval must be positive, got %s", interval))
	}

	if c.Listen.Address == "" && c.Record.Path == "" {
		errs = append(errs, errors.New("one of listen.address or record.path is required"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
