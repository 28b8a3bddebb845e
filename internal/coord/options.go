package coord

import (
	"time"

	"github.com/convoy-engine/convoy/internal/config"
	"github.com/convoy-engine/convoy/internal/conflict"
	"github.com/convoy-engine/convoy/internal/pool"
	"github.com/convoy-engine/convoy/internal/resource"
	"github.com/convoy-engine/convoy/internal/signals"
	"github.com/convoy-engine/convoy/internal/state"
	"github.com/convoy-engine/convoy/internal/steal"
)

// Option configures a Manager. Use With* functions to create Options.
type Option func(*managerOptions)

// managerOptions holds all optional configuration, only used during
// construction.
type managerOptions struct {
	strategyName      string
	resolveStrategy   conflict.Strategy
	arbitrationWindow time.Duration

	breakerThreshold int
	breakerCoolDown  time.Duration

	poolConfig pool.Config

	resources []resource.Spec

	retry config.RetryConfig

	stealEnabled bool
	stealConfig  steal.Config

	taskDeadline time.Duration
	gracePeriod  time.Duration

	metricsInterval time.Duration
	metricsHistory  int

	store   *state.Store
	signals *signals.Manager
	logger  *DebugLogger
}

func defaultOptions() managerOptions {
	cfg := config.Default()
	return managerOptions{
		strategyName:      cfg.Scheduler.Strategy,
		resolveStrategy:   conflict.StrategyPriority,
		arbitrationWindow: 2 * time.Millisecond,
		breakerThreshold:  cfg.Breaker.Threshold,
		breakerCoolDown:   cfg.Breaker.CoolDown,
		poolConfig: pool.Config{
			MaxSize:     cfg.Pool.MaxSize,
			IdleTimeout: cfg.Pool.IdleTimeout,
			WaitTimeout: cfg.Pool.WaitTimeout,
		},
		retry:        cfg.Retry,
		stealEnabled: cfg.Steal.Enabled,
		stealConfig: steal.Config{
			Interval:  cfg.Steal.Interval,
			Threshold: cfg.Steal.Threshold,
		},
		taskDeadline:    cfg.Tasks.Deadline,
		gracePeriod:     cfg.Tasks.GracePeriod,
		metricsInterval: cfg.Metrics.Interval,
		metricsHistory:  cfg.Metrics.History,
		logger:          NopLogger(),
	}
}

// WithStrategy selects the scheduling strategy by name.
func WithStrategy(name string) Option {
	return func(o *managerOptions) { o.strategyName = name }
}

// WithConflictStrategy selects how competing claims are resolved.
func WithConflictStrategy(s conflict.Strategy) Option {
	return func(o *managerOptions) { o.resolveStrategy = s }
}

// WithArbitrationWindow sets the conflict batching window.
func WithArbitrationWindow(d time.Duration) Option {
	return func(o *managerOptions) { o.arbitrationWindow = d }
}

// WithBreaker sets the per-endpoint circuit breaker parameters.
func WithBreaker(threshold int, coolDown time.Duration) Option {
	return func(o *managerOptions) {
		o.breakerThreshold = threshold
		o.breakerCoolDown = coolDown
	}
}

// WithPoolConfig sets the connection pool parameters.
func WithPoolConfig(cfg pool.Config) Option {
	return func(o *managerOptions) { o.poolConfig = cfg }
}

// WithResources declares the shared resources tasks may claim.
func WithResources(specs []resource.Spec) Option {
	return func(o *managerOptions) { o.resources = specs }
}

// WithRetry sets the per-task retry policy.
func WithRetry(r config.RetryConfig) Option {
	return func(o *managerOptions) { o.retry = r }
}

// WithStealing enables or disables the work-stealing sweep.
func WithStealing(enabled bool, cfg steal.Config) Option {
	return func(o *managerOptions) {
		o.stealEnabled = enabled
		o.stealConfig = cfg
	}
}

// WithTaskDeadline bounds a single task execution.
func WithTaskDeadline(d time.Duration) Option {
	return func(o *managerOptions) { o.taskDeadline = d }
}

// WithGracePeriod sets how long a ready task may wait unassigned before
// it fails for lack of an eligible agent.
func WithGracePeriod(d time.Duration) Option {
	return func(o *managerOptions) { o.gracePeriod = d }
}

// WithMetrics sets the metrics sampling interval and history size.
func WithMetrics(interval time.Duration, history int) Option {
	return func(o *managerOptions) {
		o.metricsInterval = interval
		o.metricsHistory = history
	}
}

// WithStore attaches a state store for checkpoints and task history.
func WithStore(s *state.Store) Option {
	return func(o *managerOptions) { o.store = s }
}

// WithSignals attaches a file-based signal manager for out-of-band
// cancellation.
func WithSignals(s *signals.Manager) Option {
	return func(o *managerOptions) { o.signals = s }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// FromConfig maps a loaded configuration onto Options.
func FromConfig(cfg *config.Config) []Option {
	specs := make([]resource.Spec, 0, len(cfg.Resources))
	for _, r := range cfg.Resources {
		specs = append(specs, resource.Spec{Name: r.Name, Capacity: int64(r.Capacity)})
	}
	return []Option{
		WithStrategy(cfg.Scheduler.Strategy),
		WithBreaker(cfg.Breaker.Threshold, cfg.Breaker.CoolDown),
		WithPoolConfig(pool.Config{
			MaxSize:     cfg.Pool.MaxSize,
			IdleTimeout: cfg.Pool.IdleTimeout,
			WaitTimeout: cfg.Pool.WaitTimeout,
		}),
		WithResources(specs),
		WithRetry(cfg.Retry),
		WithStealing(cfg.Steal.Enabled, steal.Config{
			Interval:  cfg.Steal.Interval,
			Threshold: cfg.Steal.Threshold,
		}),
		WithTaskDeadline(cfg.Tasks.Deadline),
		WithGracePeriod(cfg.Tasks.GracePeriod),
		WithMetrics(cfg.Metrics.Interval, cfg.Metrics.History),
	}
}
