package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convoy-engine/convoy/internal/backend"
	"github.com/convoy-engine/convoy/internal/config"
	"github.com/convoy-engine/convoy/internal/coord"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/internal/signals"
	"github.com/convoy-engine/convoy/internal/state"
	"github.com/convoy-engine/convoy/internal/tui"
	"github.com/convoy-engine/convoy/pkg/models"
)

var (
	runConfigPath string
	runHeadless   bool
	runDryRun     bool
	runStrategy   string
)

var runCmd = &cobra.Command{
	Use:   "run <manifest>",
	Short: "Run a task manifest against the configured backend",
	Long: `Run executes the tasks declared in a YAML manifest.

The manifest declares agents, shared resources, and tasks with their
dependencies. Tasks become ready as their dependencies complete, get
assigned to capable agents, and execute against the configured backend
through the connection pool and per-endpoint circuit breakers.

Progress shows in a live dashboard by default; use --headless to print
events to stdout instead. Engine state checkpoints to .convoy/state.db,
so an interrupted run resumes where it left off.

Drop a file named cancel-<task-id> into .convoy/signals to cancel a
task mid-run, or a file named kill to stop the whole run.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifest,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a config file (overrides discovery)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Print events instead of showing the dashboard")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Execute against an in-memory backend")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Scheduling strategy: capability, round_robin, least_loaded, or affinity")
}

func runManifest(cmd *cobra.Command, args []string) error {
	manifest, err := LoadManifest(args[0])
	if err != nil {
		return err
	}

	var cfg *config.Config
	if runConfigPath != "" {
		cfg, err = config.LoadFromPath(runConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runStrategy != "" {
		cfg.Scheduler.Strategy = runStrategy
	}
	// Manifest resources override configured ones.
	if len(manifest.Resources) > 0 {
		cfg.Resources = cfg.Resources[:0]
		for _, r := range manifest.Resources {
			cfg.Resources = append(cfg.Resources, config.ResourceSpec{Name: r.Name, Capacity: r.Capacity})
		}
	}

	dial, err := buildDialer(cfg)
	if err != nil {
		return err
	}

	projectRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	store, err := state.OpenProject(projectRoot)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	sigs, err := signals.NewManager(projectRoot)
	if err != nil {
		return fmt.Errorf("start signal manager: %w", err)
	}
	defer sigs.Close()

	logger := coord.NewDebugLoggerForProject(projectRoot)
	defer logger.Close()

	opts := append(coord.FromConfig(cfg),
		coord.WithStore(store),
		coord.WithSignals(sigs),
		coord.WithLogger(logger),
	)
	mgr, err := coord.New(dial, opts...)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	for _, a := range manifest.Agents {
		if _, err := mgr.RegisterAgent(models.Agent{ID: a.ID, Capabilities: a.Capabilities}); err != nil {
			return fmt.Errorf("register agent %s: %w", a.ID, err)
		}
	}
	for _, t := range manifest.Tasks {
		if _, err := mgr.Submit(t.Task()); err != nil {
			return fmt.Errorf("submit task %s: %w", t.ID, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	// The file-based kill signal stops the run like SIGINT does.
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sigs.ShouldStop() {
					cancel()
					return
				}
			}
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	if runHeadless {
		err = watchHeadless(ctx, mgr)
	} else {
		err = tui.Run(mgr, cfg.TUI.RefreshRate)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if stopErr := mgr.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}
	return printSummary(mgr)
}

// buildDialer selects the backend from config. Every pooled connection
// shares the dialer, so a misconfigured backend fails here instead of
// mid-run.
func buildDialer(cfg *config.Config) (backend.Dialer, error) {
	if runDryRun || cfg.Backend.Kind == "fake" {
		fake := backend.NewFake()
		return func(ctx context.Context) (backend.Invoker, error) {
			return fake, nil
		}, nil
	}

	acfg := backend.AnthropicConfig{
		Model:  anthropic.Model(cfg.Backend.Model),
		APIKey: cfg.Backend.APIKey,
	}
	switch cfg.Backend.Kind {
	case "", "anthropic":
	case "bedrock":
		acfg.UseAWSBedrock = true
		acfg.AWSRegion = cfg.Backend.AWSRegion
		acfg.AWSProfile = cfg.Backend.AWSProfile
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}

	return func(ctx context.Context) (backend.Invoker, error) {
		return backend.NewAnthropicInvoker(acfg)
	}, nil
}

// watchHeadless prints events until every submitted task is terminal or the
// context is cancelled.
func watchHeadless(ctx context.Context, mgr *coord.Manager) error {
	events, unsubscribe := mgr.Events("headless", 256)
	defer unsubscribe()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(ev)
		case <-ticker.C:
			if allTerminal(mgr.Tasks()) {
				return nil
			}
		}
	}
}

func allTerminal(tasks []models.Task) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return len(tasks) > 0
}

func printEvent(ev router.Event) {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case router.EventTaskQueued:
		fmt.Printf("%s %s queued\n", ts, ev.TaskID)
	case router.EventTaskAssigned:
		fmt.Printf("%s %s assigned to %s\n", ts, ev.TaskID, ev.AgentID)
	case router.EventTaskStarted:
		fmt.Printf("%s %s started on %s (attempt %d)\n", ts, ev.TaskID, ev.AgentID, ev.Attempt)
	case router.EventTaskCompleted:
		color.Green("%s %s completed", ts, ev.TaskID)
	case router.EventTaskFailed:
		color.Red("%s %s failed: %v", ts, ev.TaskID, ev.Err)
	case router.EventTaskCancelled:
		color.Yellow("%s %s cancelled: %s", ts, ev.TaskID, ev.Message)
	case router.EventTaskStolen:
		fmt.Printf("%s %s stolen %s -> %s\n", ts, ev.TaskID, ev.FromAgentID, ev.AgentID)
	default:
		fmt.Printf("%s %s %s\n", ts, ev.TaskID, ev.Type)
	}
}

func printSummary(mgr *coord.Manager) error {
	var completed, failed, cancelled, other int
	var failures []models.Task
	for _, t := range mgr.Tasks() {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
			failures = append(failures, t)
		case models.TaskStatusCancelled:
			cancelled++
		default:
			other++
		}
	}

	fmt.Println()
	color.Green("✓ %d completed", completed)
	if failed > 0 {
		color.Red("✗ %d failed", failed)
		for _, t := range failures {
			color.Red("  %s: %s", t.ID, t.Error)
		}
	}
	if cancelled > 0 {
		color.Yellow("- %d cancelled", cancelled)
	}
	if other > 0 {
		fmt.Printf("  %d not finished\n", other)
	}
	if failed > 0 {
		return fmt.Errorf("%d task(s) failed", failed)
	}
	return nil
}
