package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoy-engine/convoy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Convoy configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/convoy/config.yaml
Project-specific overrides can be placed in .convoy.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("backend.kind: %s\n", cfg.Backend.Kind)
	fmt.Printf("backend.api_key: %s\n", config.MaskAPIKey(cfg.Backend.APIKey))
	fmt.Printf("backend.model: %s\n", cfg.Backend.Model)
	fmt.Printf("backend.aws_region: %s\n", cfg.Backend.AWSRegion)
	fmt.Printf("pool.max_size: %d\n", cfg.Pool.MaxSize)
	fmt.Printf("pool.idle_timeout: %s\n", cfg.Pool.IdleTimeout)
	fmt.Printf("pool.wait_timeout: %s\n", cfg.Pool.WaitTimeout)
	fmt.Printf("breaker.threshold: %d\n", cfg.Breaker.Threshold)
	fmt.Printf("breaker.cool_down: %s\n", cfg.Breaker.CoolDown)
	fmt.Printf("scheduler.strategy: %s\n", cfg.Scheduler.Strategy)
	fmt.Printf("steal.enabled: %t\n", cfg.Steal.Enabled)
	fmt.Printf("steal.interval: %s\n", cfg.Steal.Interval)
	fmt.Printf("steal.threshold: %g\n", cfg.Steal.Threshold)
	fmt.Printf("retry.max_retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("retry.initial_interval: %s\n", cfg.Retry.InitialInterval)
	fmt.Printf("retry.max_interval: %s\n", cfg.Retry.MaxInterval)
	fmt.Printf("tasks.deadline: %s\n", cfg.Tasks.Deadline)
	fmt.Printf("tasks.grace_period: %s\n", cfg.Tasks.GracePeriod)
	fmt.Printf("metrics.interval: %s\n", cfg.Metrics.Interval)
	fmt.Printf("metrics.history: %d\n", cfg.Metrics.History)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "backend.kind":
		return cfg.Backend.Kind, nil
	case "backend.api_key":
		return config.MaskAPIKey(cfg.Backend.APIKey), nil
	case "backend.model":
		return cfg.Backend.Model, nil
	case "backend.aws_region":
		return cfg.Backend.AWSRegion, nil
	case "backend.aws_profile":
		return cfg.Backend.AWSProfile, nil
	case "pool.max_size":
		return strconv.Itoa(cfg.Pool.MaxSize), nil
	case "pool.idle_timeout":
		return cfg.Pool.IdleTimeout.String(), nil
	case "pool.wait_timeout":
		return cfg.Pool.WaitTimeout.String(), nil
	case "breaker.threshold":
		return strconv.Itoa(cfg.Breaker.Threshold), nil
	case "breaker.cool_down":
		return cfg.Breaker.CoolDown.String(), nil
	case "scheduler.strategy":
		return cfg.Scheduler.Strategy, nil
	case "steal.enabled":
		return strconv.FormatBool(cfg.Steal.Enabled), nil
	case "steal.interval":
		return cfg.Steal.Interval.String(), nil
	case "steal.threshold":
		return strconv.FormatFloat(cfg.Steal.Threshold, 'g', -1, 64), nil
	case "retry.max_retries":
		return strconv.Itoa(cfg.Retry.MaxRetries), nil
	case "retry.initial_interval":
		return cfg.Retry.InitialInterval.String(), nil
	case "retry.max_interval":
		return cfg.Retry.MaxInterval.String(), nil
	case "tasks.deadline":
		return cfg.Tasks.Deadline.String(), nil
	case "tasks.grace_period":
		return cfg.Tasks.GracePeriod.String(), nil
	case "metrics.interval":
		return cfg.Metrics.Interval.String(), nil
	case "metrics.history":
		return strconv.Itoa(cfg.Metrics.History), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "backend.kind":
		if value != "anthropic" && value != "bedrock" {
			return fmt.Errorf("invalid backend kind %q: must be anthropic or bedrock", value)
		}
		cfg.Backend.Kind = value
	case "backend.api_key":
		cfg.Backend.APIKey = value
	case "backend.model":
		cfg.Backend.Model = value
	case "backend.aws_region":
		cfg.Backend.AWSRegion = value
	case "backend.aws_profile":
		cfg.Backend.AWSProfile = value
	case "pool.max_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for pool.max_size: %w", err)
		}
		cfg.Pool.MaxSize = n
	case "pool.idle_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for pool.idle_timeout: %w", err)
		}
		cfg.Pool.IdleTimeout = d
	case "pool.wait_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for pool.wait_timeout: %w", err)
		}
		cfg.Pool.WaitTimeout = d
	case "breaker.threshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for breaker.threshold: %w", err)
		}
		cfg.Breaker.Threshold = n
	case "breaker.cool_down":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for breaker.cool_down: %w", err)
		}
		cfg.Breaker.CoolDown = d
	case "scheduler.strategy":
		cfg.Scheduler.Strategy = value
	case "steal.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for steal.enabled: %w", err)
		}
		cfg.Steal.Enabled = b
	case "steal.interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for steal.interval: %w", err)
		}
		cfg.Steal.Interval = d
	case "steal.threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for steal.threshold: %w", err)
		}
		cfg.Steal.Threshold = f
	case "retry.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for retry.max_retries: %w", err)
		}
		cfg.Retry.MaxRetries = n
	case "retry.initial_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry.initial_interval: %w", err)
		}
		cfg.Retry.InitialInterval = d
	case "retry.max_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry.max_interval: %w", err)
		}
		cfg.Retry.MaxInterval = d
	case "tasks.deadline":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tasks.deadline: %w", err)
		}
		cfg.Tasks.Deadline = d
	case "tasks.grace_period":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tasks.grace_period: %w", err)
		}
		cfg.Tasks.GracePeriod = d
	case "metrics.interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for metrics.interval: %w", err)
		}
		cfg.Metrics.Interval = d
	case "metrics.history":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for metrics.history: %w", err)
		}
		cfg.Metrics.History = n
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tui.refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
