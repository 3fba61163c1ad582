// Package config loads the daemon configuration from an optional TOML file
// and WORKSHOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/workshop/internal/env"
	"github.com/loykin/workshop/internal/logger"
)

// EnvPrefix is prepended to every environment override, with dots as underscores.
const EnvPrefix = "WORKSHOP"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Health     HealthConfig     `mapstructure:"health"`
	Healing    HealingConfig    `mapstructure:"healing"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Incidents  IncidentsConfig  `mapstructure:"incidents"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Briefing   BriefingConfig   `mapstructure:"briefing"`
	Log        logger.Config    `mapstructure:"log"`

	// Environment shared by every spawned service.
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type RegistryConfig struct {
	Path         string        `mapstructure:"path"`
	Watch        bool          `mapstructure:"watch"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type HealthConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Host              string        `mapstructure:"host"`
	Concurrency       int           `mapstructure:"concurrency"`
	DegradedThreshold int           `mapstructure:"degraded_threshold"`
}

type HealingConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	DependencyPause time.Duration `mapstructure:"dependency_pause"`
	StartPause      time.Duration `mapstructure:"start_pause"`
}

type EscalationConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type IncidentsConfig struct {
	DSN      string   `mapstructure:"dsn"`
	Timezone string   `mapstructure:"timezone"`
	Sinks    []string `mapstructure:"sinks"`
}

type HeartbeatConfig struct {
	DSN       string `mapstructure:"dsn"`
	Hours     int    `mapstructure:"hours"`
	KeepHours int    `mapstructure:"keep_hours"`
}

type ResourcesConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type BriefingConfig struct {
	// Name personalizes the greeting.
	Name string `mapstructure:"name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:5003")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("registry.path", "registry.yaml")
	v.SetDefault("registry.watch", true)
	v.SetDefault("registry.restart_delay", time.Second)
	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.timeout", 3*time.Second)
	v.SetDefault("health.host", "127.0.0.1")
	v.SetDefault("health.concurrency", 4)
	v.SetDefault("health.degraded_threshold", 2)
	v.SetDefault("healing.enabled", true)
	v.SetDefault("healing.settle_delay", 10*time.Second)
	v.SetDefault("healing.dependency_pause", 2*time.Second)
	v.SetDefault("healing.start_pause", 3*time.Second)
	v.SetDefault("escalation.url", "http://localhost:5000")
	v.SetDefault("escalation.timeout", 5*time.Second)
	v.SetDefault("incidents.dsn", filepath.Join("data", "incidents.db"))
	v.SetDefault("incidents.timezone", "Local")
	v.SetDefault("incidents.sinks", []string{})
	v.SetDefault("heartbeat.dsn", filepath.Join("data", "heartbeat.db"))
	v.SetDefault("heartbeat.hours", 24)
	v.SetDefault("heartbeat.keep_hours", 48)
	v.SetDefault("resources.enabled", true)
	v.SetDefault("resources.interval", 30*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("briefing.name", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.color", true)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)
}

// Load reads path (optional, TOML) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Registry.Path == "" {
		errs = append(errs, errors.New("registry.path must not be empty"))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"health.interval", c.Health.Interval},
		{"health.timeout", c.Health.Timeout},
		{"healing.settle_delay", c.Healing.SettleDelay},
		{"escalation.timeout", c.Escalation.Timeout},
		{"resources.interval", c.Resources.Interval},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}
	if c.Registry.RestartDelay < 0 || c.Healing.DependencyPause < 0 || c.Healing.StartPause < 0 {
		errs = append(errs, errors.New("delays and pauses must not be negative"))
	}
	if c.Health.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("health.concurrency must be positive, got %d", c.Health.Concurrency))
	}
	if c.Health.DegradedThreshold <= 0 {
		errs = append(errs, fmt.Errorf("health.degraded_threshold must be positive, got %d", c.Health.DegradedThreshold))
	}
	if c.Heartbeat.Hours <= 0 || c.Heartbeat.KeepHours < c.Heartbeat.Hours {
		errs = append(errs, fmt.Errorf("heartbeat.hours must be positive and not exceed keep_hours (%d, %d)", c.Heartbeat.Hours, c.Heartbeat.KeepHours))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("incidents.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location resolves incidents.timezone. Empty and "Local" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Incidents.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Incidents.Timezone)
}

// ServiceEnv builds the shared service environment. Layers, later winning:
// daemon environment (use_os_env), env_files in order, env.
func (c *Config) ServiceEnv() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	}
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.Set(pairs...)
	}
	e.Set(c.Env...)
	return e, nil
}

// LoadEnvFile parses KEY=VALUE lines; blank lines and # comments are skipped.
// A leading "export " is tolerated.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
