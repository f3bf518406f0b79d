// Package config provides configuration loading for q2s.
// Tool settings come from defaults, ~/.q2s/config.yaml, and Q2S_* environment
// variables; experiments are separate YAML or JSON files (see Experiment).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings contains tool-wide q2s settings.
type Settings struct {
	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Simulation holds defaults applied when an experiment leaves them unset.
	Simulation SimulationDefaults `json:"simulation" yaml:"simulation"`

	// Store configures the results database.
	Store StoreConfig `json:"store" yaml:"store"`
}

// LoggingConfig configures q2s's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default),
	// "debug", or "trace". "debug" enables the decision trace for tie-breaks
	// and infeasible scenarios; "trace" records every selection.
	Level string `json:"level" yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format"`
}

// SimulationDefaults are fallbacks for experiment simulation settings.
type SimulationDefaults struct {
	// Workers is the evaluation concurrency; 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers"`

	// MaxScenarios caps how many scenarios a run evaluates; 0 means all.
	MaxScenarios int `json:"max_scenarios" yaml:"max_scenarios"`

	// BatchSize is how many scenarios are evaluated between ordered writes.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// StoreConfig configures the results database.
type StoreConfig struct {
	// Path is the SQLite file. Supports ${VAR} expansion. Empty disables
	// persistence unless a command asks for it explicitly.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default returns Settings with sensible defaults.
func Default() *Settings {
	return &Settings{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Simulation: SimulationDefaults{
			Workers:      0,
			MaxScenarios: 0,
			BatchSize:    0,
		},
	}
}

// Dir returns the q2s settings directory (~/.q2s).
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".q2s"), nil
}

// Load loads settings from the default locations and environment variables.
// Order: defaults -> ~/.q2s/config.yaml -> environment variables
func Load() (*Settings, error) {
	config := Default()

	// Try to load from default config file
	if dir, err := Dir(); err == nil {
		configPath := filepath.Join(dir, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads settings from a specific YAML file, then applies
// environment overrides.
func LoadFromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Path = expandEnvVars(config.Store.Path)
	applyEnvOverrides(config)

	return config, nil
}

// Validate checks that the settings are valid.
func (c *Settings) Validate() error {
	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	if c.Simulation.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Simulation.Workers)
	}

	if c.Simulation.MaxScenarios < 0 {
		return fmt.Errorf("max_scenarios must be non-negative, got %d", c.Simulation.MaxScenarios)
	}

	if c.Simulation.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative, got %d", c.Simulation.BatchSize)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the settings.
func applyEnvOverrides(config *Settings) {
	if v := os.Getenv("Q2S_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("Q2S_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := os.Getenv("Q2S_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Workers = n
		}
	}

	if v := os.Getenv("Q2S_MAX_SCENARIOS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.MaxScenarios = n
		}
	}

	if v := os.Getenv("Q2S_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.BatchSize = n
		}
	}

	if v := os.Getenv("Q2S_DB"); v != "" {
		config.Store.Path = expandEnvVars(v)
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
