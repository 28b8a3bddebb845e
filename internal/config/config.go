// Package config handles configuration loading and management for Convoy.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Convoy.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Steal     StealConfig     `mapstructure:"steal"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Resources []ResourceSpec  `mapstructure:"resources"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// BackendConfig selects and configures the external backend.
type BackendConfig struct {
	// Kind is "anthropic" or "bedrock".
	Kind       string `mapstructure:"kind"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxSize     int           `mapstructure:"max_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	CoolDown  time.Duration `mapstructure:"cool_down"`
}

// SchedulerConfig holds task scheduling settings.
type SchedulerConfig struct {
	// Strategy is capability, round_robin, least_loaded, or affinity.
	Strategy string `mapstructure:"strategy"`
}

// StealConfig holds work-stealing sweep settings.
type StealConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Threshold float64       `mapstructure:"threshold"`
}

// RetryConfig holds per-task retry settings.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// TasksConfig holds task lifecycle settings.
type TasksConfig struct {
	// Deadline bounds a single task execution.
	Deadline time.Duration `mapstructure:"deadline"`
	// GracePeriod is how long a ready task may wait unassigned before
	// the engine fails it for lack of an eligible agent.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// ResourceSpec declares one shared resource and its capacity.
type ResourceSpec struct {
	Name     string `mapstructure:"name"`
	Capacity int    `mapstructure:"capacity"`
}

// MetricsConfig holds metrics collection settings.
type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	History  int           `mapstructure:"history"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONVOY_*, ANTHROPIC_API_KEY)
// 2. Project config (.convoy.yaml in current directory or parent)
// 3. User config (~/.config/convoy/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONVOY")
	v.AutomaticEnv()
	v.BindEnv("backend.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("backend.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Backend.APIKey = os.ExpandEnv(cfg.Backend.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Backend.APIKey = os.ExpandEnv(cfg.Backend.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("backend.kind", cfg.Backend.Kind)
	v.Set("backend.api_key", cfg.Backend.APIKey)
	v.Set("backend.model", cfg.Backend.Model)
	v.Set("pool.max_size", cfg.Pool.MaxSize)
	v.Set("pool.idle_timeout", cfg.Pool.IdleTimeout.String())
	v.Set("pool.wait_timeout", cfg.Pool.WaitTimeout.String())
	v.Set("breaker.threshold", cfg.Breaker.Threshold)
	v.Set("breaker.cool_down", cfg.Breaker.CoolDown.String())
	v.Set("scheduler.strategy", cfg.Scheduler.Strategy)
	v.Set("steal.enabled", cfg.Steal.Enabled)
	v.Set("steal.interval", cfg.Steal.Interval.String())
	v.Set("steal.threshold", cfg.Steal.Threshold)
	v.Set("retry.max_retries", cfg.Retry.MaxRetries)
	v.Set("retry.initial_interval", cfg.Retry.InitialInterval.String())
	v.Set("retry.max_interval", cfg.Retry.MaxInterval.String())
	v.Set("tasks.deadline", cfg.Tasks.Deadline.String())
	v.Set("tasks.grace_period", cfg.Tasks.GracePeriod.String())
	v.Set("metrics.interval", cfg.Metrics.Interval.String())
	v.Set("metrics.history", cfg.Metrics.History)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.kind", "anthropic")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.model", "")

	v.SetDefault("pool.max_size", 4)
	v.SetDefault("pool.idle_timeout", "90s")
	v.SetDefault("pool.wait_timeout", "30s")

	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cool_down", "30s")

	v.SetDefault("scheduler.strategy", "capability")

	v.SetDefault("steal.enabled", true)
	v.SetDefault("steal.interval", "2s")
	v.SetDefault("steal.threshold", 1.0)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_interval", "500ms")
	v.SetDefault("retry.max_interval", "10s")

	v.SetDefault("tasks.deadline", "15m")
	v.SetDefault("tasks.grace_period", "1m")

	v.SetDefault("metrics.interval", "5s")
	v.SetDefault("metrics.history", 120)

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for Convoy.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "convoy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "convoy")
	}
	return filepath.Join(home, ".config", "convoy")
}

// findProjectConfig searches for .convoy.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".convoy.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{Kind: "anthropic"},
		Pool: PoolConfig{
			MaxSize:     4,
			IdleTimeout: 90 * time.Second,
			WaitTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			CoolDown:  30 * time.Second,
		},
		Scheduler: SchedulerConfig{Strategy: "capability"},
		Steal: StealConfig{
			Enabled:   true,
			Interval:  2 * time.Second,
			Threshold: 1.0,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Tasks: TasksConfig{
			Deadline:    15 * time.Minute,
			GracePeriod: time.Minute,
		},
		Metrics: MetricsConfig{
			Interval: 5 * time.Second,
			History:  120,
		},
		TUI: TUIConfig{RefreshRate: 100 * time.Millisecond},
	}
}
