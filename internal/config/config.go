// Package config loads the Hub's process-wide tunables (§6 "Environment")
// from a YAML file with environment-variable overrides, mirroring the
// pack's use of gopkg.in/yaml.v3 for structured test/config fixtures.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable §6 names. Durations are expressed in
// milliseconds in the YAML/env surface (`checkpoint_interval_ms`,
// `default_timeout_ms`, ...) and are converted to time.Duration for
// consumption.
type Config struct {
	PoolSize             int    `yaml:"pool_size"`
	CheckpointIntervalMS int64  `yaml:"checkpoint_interval_ms"`
	DefaultTimeoutMS     int64  `yaml:"default_timeout_ms"`
	MaxTimeoutMS         int64  `yaml:"max_timeout_ms"`
	GraceWindowMS        int64  `yaml:"grace_window_ms"`
	HealthCheckMS        int64  `yaml:"health_check_interval_ms"`
	UnhealthyThreshold   int    `yaml:"unhealthy_threshold"`
	MinRoutingConfidence float64 `yaml:"min_routing_confidence"`
	MaxAgentsPerSystem   int    `yaml:"max_agents_per_system"`
	Distributed          bool   `yaml:"distributed"`
	QueueEndpoint        string `yaml:"queue_endpoint"`
	StoreEndpoint        string `yaml:"store_endpoint"`
}

// Default matches the numeric defaults named throughout spec §4.
func Default() Config {
	return Config{
		PoolSize:             8,
		CheckpointIntervalMS: 10_000,
		DefaultTimeoutMS:     60_000,
		MaxTimeoutMS:         600_000,
		GraceWindowMS:        5_000,
		HealthCheckMS:        30_000,
		UnhealthyThreshold:   3,
		MinRoutingConfidence: 0.5,
		MaxAgentsPerSystem:   256,
		Distributed:          false,
	}
}

// Load reads path (if non-empty) as YAML over the defaults, then
// applies HUB_-prefixed environment variable overrides. Secrets for
// upstream services are deliberately absent from this surface (§6:
// "Secrets for upstream services are opaque to the core").
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envInt(&cfg.PoolSize, "HUB_POOL_SIZE")
	envInt64(&cfg.CheckpointIntervalMS, "HUB_CHECKPOINT_INTERVAL_MS")
	envInt64(&cfg.DefaultTimeoutMS, "HUB_DEFAULT_TIMEOUT_MS")
	envInt64(&cfg.MaxTimeoutMS, "HUB_MAX_TIMEOUT_MS")
	envInt64(&cfg.GraceWindowMS, "HUB_GRACE_WINDOW_MS")
	envInt64(&cfg.HealthCheckMS, "HUB_HEALTH_CHECK_INTERVAL_MS")
	envInt(&cfg.UnhealthyThreshold, "HUB_UNHEALTHY_THRESHOLD")
	envFloat(&cfg.MinRoutingConfidence, "HUB_MIN_ROUTING_CONFIDENCE")
	envInt(&cfg.MaxAgentsPerSystem, "HUB_MAX_AGENTS_PER_SYSTEM")
	envBool(&cfg.Distributed, "HUB_DISTRIBUTED")
	envString(&cfg.QueueEndpoint, "HUB_QUEUE_ENDPOINT")
	envString(&cfg.StoreEndpoint, "HUB_STORE_ENDPOINT")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c Config) CheckpointInterval() time.Duration { return time.Duration(c.CheckpointIntervalMS) * time.Millisecond }
func (c Config) DefaultTimeout() time.Duration     { return time.Duration(c.DefaultTimeoutMS) * time.Millisecond }
func (c Config) MaxTimeout() time.Duration         { return time.Duration(c.MaxTimeoutMS) * time.Millisecond }
func (c Config) GraceWindow() time.Duration        { return time.Duration(c.GraceWindowMS) * time.Millisecond }
func (c Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckMS) * time.Millisecond
}
