// Package config loads the taskrelay.json configuration file with
// environment-variable overrides. Precedence: defaults < file < env.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env variable names recognized as overrides.
const (
	EnvListenAddr      = "TASKRELAY_LISTEN_ADDR"
	EnvMetricsAddr     = "TASKRELAY_METRICS_ADDR"
	EnvDefaultTimeoutS = "TASKRELAY_DEFAULT_TIMEOUT_S"
	EnvLogLevel        = "TASKRELAY_LOG_LEVEL"
)

// Config represents the taskrelay.json configuration file
type Config struct {
	Version     string `json:"version"`
	ListenAddr  string `json:"listen_addr"`
	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`

	// DefaultTimeoutS applies to questions asked without an explicit
	// timeout. Every question has a timeout; there is no wait-forever.
	DefaultTimeoutS float64 `json:"default_timeout_s"`

	// QuestionSweep controls the gateway's stale-record sweep.
	QuestionSweep QuestionSweep `json:"question_sweep"`

	// ShutdownGraceS bounds graceful teardown on SIGINT/SIGTERM.
	ShutdownGraceS int `json:"shutdown_grace_s"`
}

// QuestionSweep configures age-based cleanup of gateway question records.
type QuestionSweep struct {
	IntervalS int `json:"interval_s"`
	MaxAgeS   int `json:"max_age_s"`
}

// GenerateDefault creates a Config with default values.
func GenerateDefault() *Config {
	return &Config{
		Version:         "1.0",
		ListenAddr:      "127.0.0.1:8765",
		MetricsAddr:     "127.0.0.1:9090",
		LogLevel:        "info",
		DefaultTimeoutS: 60,
		QuestionSweep: QuestionSweep{
			IntervalS: 60,
			MaxAgeS:   300,
		},
		ShutdownGraceS: 10,
	}
}

// Load reads the config file at path, overlaying defaults, then applies
// environment overrides. An empty path yields defaults plus environment.
// A .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg := GenerateDefault()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.DefaultTimeoutS <= 0 {
		return fmt.Errorf("config: default_timeout_s must be positive, got %v", c.DefaultTimeoutS)
	}
	return nil
}

// DefaultTimeout returns the default question timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutS * float64(time.Second))
}

// SweepInterval returns the gateway sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.QuestionSweep.IntervalS) * time.Second
}

// MaxQuestionAge returns the gateway record max age.
func (c *Config) MaxQuestionAge() time.Duration {
	return time.Duration(c.QuestionSweep.MaxAgeS) * time.Second
}

// ShutdownGrace returns the graceful-shutdown budget.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceS) * time.Second
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDefaultTimeoutS); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DefaultTimeoutS = f
		}
	}
}
