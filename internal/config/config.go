// Package config loads foreman settings from .foreman.yaml and FOREMAN_*
// environment variables, applying documented defaults and minimum floors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"foreman/internal/debug"
	"foreman/internal/detect"
)

// Environment variables understood by the leader and inherited by workers.
const (
	EnvWorkerFlag     = "FOREMAN_WORKER"
	EnvTicketID       = "FOREMAN_TICKET"
	EnvWorkerName     = "FOREMAN_WORKER_NAME"
	EnvLeaderSession  = "FOREMAN_LEADER_SESSION"
	EnvSessionDir     = "FOREMAN_SESSION_DIR"
	EnvModel          = "FOREMAN_MODEL"
	EnvHasTools       = "FOREMAN_HAS_TOOLS"
	EnvPollInterval   = "FOREMAN_POLL_INTERVAL_MS"
	EnvStuckThreshold = "FOREMAN_STUCK_THRESHOLD_MS"
	EnvTicketBin      = "FOREMAN_TICKET_BIN"
	EnvSessionRoot    = "FOREMAN_SESSION_ROOT"
	EnvKeepSessions   = "FOREMAN_KEEP_SESSIONS"
)

// Defaults and floors. Values below a floor are clamped, not rejected.
const (
	DefaultPollInterval = 1000 * time.Millisecond
	MinPollInterval     = 250 * time.Millisecond

	DefaultStuckThreshold = 5 * time.Minute
	MinStuckThreshold     = 30 * time.Second

	DefaultTicketBin = "tk"
)

// ConfigFile is the per-repository config file name.
const ConfigFile = ".foreman.yaml"

// Config holds the leader's runtime settings.
type Config struct {
	TicketBin     string   `yaml:"ticket_bin"`
	SessionRoot   string   `yaml:"session_root"`
	WorkerCommand []string `yaml:"worker_command"`
	Model         string   `yaml:"model"`
	KeepSessions  bool     `yaml:"keep_sessions"`

	PollIntervalMS   int `yaml:"poll_interval_ms"`
	StuckThresholdMS int `yaml:"stuck_threshold_ms"`
}

// PollInterval returns the clamped polling interval.
func (c *Config) PollInterval() time.Duration {
	return clampMS(c.PollIntervalMS, DefaultPollInterval, MinPollInterval)
}

// StuckThreshold returns the clamped stuck-warning threshold.
func (c *Config) StuckThreshold() time.Duration {
	return clampMS(c.StuckThresholdMS, DefaultStuckThreshold, MinStuckThreshold)
}

// Load reads configuration for the given repository directory: defaults,
// then .foreman.yaml when present, then environment overrides.
func Load(dir string) (*Config, error) {
	cfg := &Config{TicketBin: DefaultTicketBin}

	path := filepath.Join(dir, ConfigFile)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		debug.LogKV("config", "loaded file", "path", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.SessionRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		cfg.SessionRoot = filepath.Join(home, ".foreman", "sessions")
	}
	if cfg.TicketBin == "" {
		cfg.TicketBin = DefaultTicketBin
	}
	if len(cfg.WorkerCommand) == 0 {
		cfg.WorkerCommand = detect.Default()
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTicketBin)); v != "" {
		cfg.TicketBin = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSessionRoot)); v != "" {
		cfg.SessionRoot = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPollInterval)); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMS = ms
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvStuckThreshold)); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.StuckThresholdMS = ms
		}
	}
	switch strings.TrimSpace(strings.ToLower(os.Getenv(EnvKeepSessions))) {
	case "1", "true", "yes", "on":
		cfg.KeepSessions = true
	}
}

func clampMS(ms int, def, min time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	d := time.Duration(ms) * time.Millisecond
	if d < min {
		return min
	}
	return d
}
