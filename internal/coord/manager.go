package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/convoy-engine/convoy/internal/backend"
	"github.com/convoy-engine/convoy/internal/breaker"
	"github.com/convoy-engine/convoy/internal/conflict"
	"github.com/convoy-engine/convoy/internal/graph"
	"github.com/convoy-engine/convoy/internal/metrics"
	"github.com/convoy-engine/convoy/internal/pool"
	"github.com/convoy-engine/convoy/internal/resource"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/internal/sched"
	"github.com/convoy-engine/convoy/internal/steal"
	"github.com/convoy-engine/convoy/pkg/models"
)

// ErrTaskTimeout is recorded when a task exceeds its execution deadline.
var ErrTaskTimeout = errors.New("task deadline exceeded")

// ErrAlreadyStarted is returned by Start on a running manager.
var ErrAlreadyStarted = errors.New("coordinator already started")

// ErrNotStarted is returned by Stop on a manager that never started.
var ErrNotStarted = errors.New("coordinator not started")

// Manager owns the whole coordination engine. It tracks task dependencies,
// schedules ready tasks onto registered agents, executes them against the
// backend through the connection pool and circuit breakers, rebalances via
// work stealing, and publishes lifecycle events.
type Manager struct {
	opts managerOptions

	graph     *graph.DependencyGraph
	tables    *conflict.Tables
	resources *resource.Manager
	breakers  *breaker.Manager
	pool      *pool.Pool
	events    *router.Router
	scheduler *sched.AdvancedScheduler
	arbiter   *conflict.Arbiter
	stealer   *steal.Coordinator
	collector *metrics.Collector

	// affinity is non-nil when the affinity strategy is active; completions
	// feed its tag history.
	affinity *sched.AffinityStrategy

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	executing map[string]bool // agents with a task currently running
	cancels   map[string]bool // tasks with a pending cancel request
}

// New builds a Manager around the given backend dialer.
func New(dial backend.Dialer, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	strategy, err := sched.NewStrategy(o.strategyName)
	if err != nil {
		return nil, err
	}
	if !o.resolveStrategy.Valid() {
		return nil, fmt.Errorf("unknown conflict strategy %q", o.resolveStrategy)
	}

	m := &Manager{
		opts:      o,
		graph:     graph.New(),
		tables:    conflict.NewTables(),
		resources: resource.NewManager(o.resources),
		breakers:  breaker.NewManager(o.breakerThreshold, o.breakerCoolDown),
		pool:      pool.New(o.poolConfig, dial),
		events:    router.New(),
		executing: make(map[string]bool),
		cancels:   make(map[string]bool),
	}
	if a, ok := strategy.(*sched.AffinityStrategy); ok {
		m.affinity = a
	}

	resolver := conflict.NewResolver(o.resolveStrategy, m.tables.AgentList)
	m.arbiter = conflict.NewArbiter(resolver, o.arbitrationWindow)
	m.scheduler = sched.NewAdvancedScheduler(strategy, m.tables, m.resources, m.arbiter, m.events)
	m.stealer = steal.NewCoordinator(m.tables, m.events, o.stealConfig)
	m.collector = metrics.NewCollector(metrics.Providers{
		QueueDepth: m.scheduler.QueueDepth,
		AgentLoads: m.agentLoads,
		Breakers:   m.breakers.AllMetrics,
		Pool:       m.pool.Stats,
		Scheduler:  m.scheduler.Stats,
		Stealer:    m.stealer.Stats,
		EventsDropped: func() uint64 {
			return m.events.TotalDropped()
		},
	}, o.metricsInterval, o.metricsHistory)

	m.breakers.SetStateChangeHook(func(endpoint string, from, to breaker.State) {
		m.opts.logger.Log("breaker %s: %s -> %s", endpoint, from, to)
	})
	m.arbiter.SetResolvedHook(func(rec conflict.Record) {
		m.opts.logger.Log("conflict on %s: %d claims, %s wins (%s)",
			rec.SubjectID, len(rec.Claims), rec.Winner.AgentID, rec.Strategy)
	})

	return m, nil
}

// Events subscribes to the coordination event stream.
func (m *Manager) Events(name string, buffer int) (<-chan router.Event, func()) {
	return m.events.Subscribe(name, buffer)
}

// RegisterAgent adds an agent to the pool and returns its ID.
func (m *Manager) RegisterAgent(a models.Agent) (string, error) {
	if a.ID == "" {
		a.ID = "agent-" + uuid.New().String()[:8]
	}
	if _, _, ok := m.tables.Agent(a.ID); ok {
		return "", fmt.Errorf("agent %s already registered", a.ID)
	}
	if a.Status == "" {
		a.Status = models.AgentStatusIdle
	}
	a.RegisteredAt = time.Now()
	m.tables.Agents.Put(a.ID, a)
	m.opts.logger.Log("agent %s registered (capabilities: %v)", a.ID, a.Capabilities)
	return a.ID, nil
}

// DeregisterAgent drains an agent: it receives no new work and goes
// offline once its current work finishes.
func (m *Manager) DeregisterAgent(id string) error {
	for {
		a, ver, ok := m.tables.Agent(id)
		if !ok {
			return fmt.Errorf("agent %s: %w", id, graph.ErrUnknownTask)
		}
		if a.Status == models.AgentStatusDraining || a.Status == models.AgentStatusOffline {
			return nil
		}
		_, _, err := m.tables.UpdateAgent(id, ver, func(a models.Agent) (models.Agent, error) {
			if a.Load == 0 {
				a.Status = models.AgentStatusOffline
			} else {
				a.Status = models.AgentStatusDraining
			}
			return a, nil
		})
		if err == nil {
			m.opts.logger.Log("agent %s deregistered", id)
			return nil
		}
	}
}

// Submit adds a task to the engine and returns its ID. The task starts
// pending and becomes ready as soon as all its dependencies are complete,
// immediately when it has none.
func (m *Manager) Submit(task models.Task) (string, error) {
	if task.ID == "" {
		task.ID = "task-" + uuid.New().String()[:8]
	}
	if _, _, ok := m.tables.Task(task.ID); ok {
		return "", fmt.Errorf("%w: %s", graph.ErrDuplicateTask, task.ID)
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = m.opts.retry.MaxRetries
	}
	// A negative budget would overflow the retry counter; treat it as none.
	if task.MaxRetries < 0 {
		task.MaxRetries = 0
	}
	task.Status = models.TaskStatusPending
	task.AssignedTo = ""
	task.CreatedAt = time.Now()

	if err := m.graph.AddTask(task.ID, task.DependsOn); err != nil {
		return "", err
	}
	m.tables.Tasks.Put(task.ID, task)
	m.opts.logger.Log("task %s submitted (deps: %v, priority: %d)", task.ID, task.DependsOn, task.Priority)

	if m.depsComplete(task.DependsOn) {
		m.queueReady(task.ID)
	}
	m.recordHistory(task.ID, string(models.TaskStatusPending), "", "")
	m.checkpoint()
	return task.ID, nil
}

// depsComplete reports whether every listed dependency has completed.
func (m *Manager) depsComplete(deps []string) bool {
	for _, dep := range deps {
		if !m.graph.Completed(dep) {
			return false
		}
	}
	return true
}

// queueReady transitions a task to ready and hands it to the scheduler.
func (m *Manager) queueReady(taskID string) {
	task, ok := m.transition(taskID, models.TaskStatusReady, func(t *models.Task) {
		now := time.Now()
		t.ReadyAt = &now
	})
	if !ok {
		return
	}
	m.scheduler.Enqueue(task.ID, task.Priority)
	m.events.Publish(router.Event{Type: router.EventTaskQueued, TaskID: task.ID})
}

// transition moves a task to the given status, retrying version conflicts.
// Returns false when the task does not exist or the transition is illegal.
func (m *Manager) transition(taskID string, to models.TaskStatus, mutate func(*models.Task)) (models.Task, bool) {
	for {
		task, ver, ok := m.tables.Task(taskID)
		if !ok || !task.Status.CanTransition(to) {
			return models.Task{}, false
		}
		updated, _, err := m.tables.UpdateTask(taskID, ver, func(t models.Task) (models.Task, error) {
			t.Status = to
			if mutate != nil {
				mutate(&t)
			}
			return t, nil
		})
		if err == nil {
			return updated, true
		}
		if !errors.Is(err, conflict.ErrVersionConflict) {
			return models.Task{}, false
		}
	}
}

// Cancel cancels a task. Queued and pending tasks are cancelled at once,
// along with everything that transitively depends on them. A running task
// is cancelled cooperatively: the executor observes the request between
// retry attempts and stops.
func (m *Manager) Cancel(taskID string) error {
	task, _, ok := m.tables.Task(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrUnknownTask, taskID)
	}
	if task.Status.Terminal() {
		return nil
	}

	if task.Status == models.TaskStatusRunning {
		m.mu.Lock()
		m.cancels[taskID] = true
		m.mu.Unlock()
		if m.opts.signals != nil {
			if err := m.opts.signals.RequestCancel(taskID); err != nil {
				return err
			}
		}
		m.opts.logger.Log("task %s: cancel requested while running", taskID)
		return nil
	}

	m.cancelNow(taskID, "cancelled by request")
	for _, dep := range m.graph.CancelCascade(taskID) {
		m.cancelNow(dep, "dependency cancelled")
	}
	m.checkpoint()
	return nil
}

// cancelNow cancels a non-running task immediately, releasing whatever it
// holds.
func (m *Manager) cancelNow(taskID, why string) {
	m.scheduler.Remove(taskID)
	m.graph.MarkCancelled(taskID)
	task, ok := m.transition(taskID, models.TaskStatusCancelled, func(t *models.Task) {
		now := time.Now()
		t.CompletedAt = &now
	})
	if !ok {
		return
	}
	if task.AssignedTo != "" {
		m.resources.Release(taskID)
		m.tables.AdjustAgentLoad(task.AssignedTo, -1)
	}
	m.recordHistory(taskID, string(models.TaskStatusCancelled), task.AssignedTo, why)
	m.events.Publish(router.Event{
		Type:    router.EventTaskCancelled,
		TaskID:  taskID,
		AgentID: task.AssignedTo,
		Message: why,
	})
	m.opts.logger.Log("task %s cancelled: %s", taskID, why)
}

// Task returns a snapshot of one task.
func (m *Manager) Task(taskID string) (models.Task, bool) {
	task, _, ok := m.tables.Task(taskID)
	return task, ok
}

// Tasks returns snapshots of every task, sorted by ID.
func (m *Manager) Tasks() []models.Task {
	return m.tables.TaskList()
}

// Agents returns snapshots of every agent, sorted by ID.
func (m *Manager) Agents() []models.Agent {
	return m.tables.AgentList()
}

// Snapshot samples the engine metrics immediately.
func (m *Manager) Snapshot() metrics.Snapshot {
	return m.collector.SampleOnce()
}

// MetricsHistory returns the retained metric samples, oldest first.
func (m *Manager) MetricsHistory() []metrics.Snapshot {
	return m.collector.History()
}

// BreakerMetrics returns the per-endpoint circuit breaker snapshots.
func (m *Manager) BreakerMetrics() map[string]breaker.Metrics {
	return m.breakers.AllMetrics()
}

// ResetBreaker force-closes the breaker for one endpoint.
func (m *Manager) ResetBreaker(endpoint string) {
	m.breakers.Reset(endpoint)
}

// agentLoads snapshots the load of every agent for the metrics collector.
func (m *Manager) agentLoads() map[string]int {
	agents := m.tables.AgentList()
	out := make(map[string]int, len(agents))
	for _, a := range agents {
		out[a.ID] = a.Load
	}
	return out
}

// Start launches the coordination loops: scheduling, dispatch, work
// stealing, metrics sampling, and housekeeping. If a state store is
// attached, a previous checkpoint is restored first.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if err := m.restore(); err != nil {
		m.opts.logger.Log("checkpoint restore failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	m.mu.Lock()
	m.cancel = cancel
	m.group = g
	m.mu.Unlock()

	g.Go(func() error { m.scheduleLoop(gctx); return nil })
	g.Go(func() error { m.dispatchLoop(gctx); return nil })
	g.Go(func() error { m.housekeepingLoop(gctx); return nil })
	g.Go(func() error { m.collector.Run(gctx); return nil })
	if m.opts.stealEnabled {
		g.Go(func() error { m.stealer.Run(gctx); return nil })
	}

	m.opts.logger.Log("coordinator started (strategy: %s)", m.scheduler.StrategyName())
	return nil
}

// Stop shuts the engine down: loops exit, in-flight work is abandoned to
// its own deadline, the pool is drained, and a final checkpoint is taken.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	cancel, group := m.cancel, m.group
	m.started = false
	m.mu.Unlock()

	cancel()
	group.Wait()

	m.checkpoint()
	if err := m.pool.Drain(ctx); err != nil && !errors.Is(err, pool.ErrPoolDraining) {
		return err
	}
	m.opts.logger.Log("coordinator stopped")
	return nil
}

// scheduleLoop drains the ready queue into assignments.
func (m *Manager) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				popped, err := m.scheduler.AssignNext()
				if !popped {
					break
				}
				if err != nil {
					// Deferred assignment; the task is re-queued. Back off
					// to the next tick rather than spinning on it.
					break
				}
			}
		}
	}
}

// dispatchLoop starts execution of assigned tasks, one at a time per agent.
func (m *Manager) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dispatchAssigned(ctx)
		}
	}
}

// dispatchAssigned claims assigned tasks for execution.
func (m *Manager) dispatchAssigned(ctx context.Context) {
	for _, task := range m.tables.TaskList() {
		if task.Status != models.TaskStatusAssigned {
			continue
		}
		agentID := task.AssignedTo

		m.mu.Lock()
		busy := m.executing[agentID]
		if !busy {
			m.executing[agentID] = true
		}
		m.mu.Unlock()
		if busy {
			continue
		}

		// The task may have been stolen or cancelled since the snapshot,
		// so re-read and compare-and-swap against the fresh version.
		fresh, ver, ok := m.tables.Task(task.ID)
		if !ok || fresh.Status != models.TaskStatusAssigned || fresh.AssignedTo != agentID {
			m.mu.Lock()
			delete(m.executing, agentID)
			m.mu.Unlock()
			continue
		}
		_, _, err := m.tables.UpdateTask(task.ID, ver, func(t models.Task) (models.Task, error) {
			t.Status = models.TaskStatusRunning
			return t, nil
		})
		if err != nil {
			m.mu.Lock()
			delete(m.executing, agentID)
			m.mu.Unlock()
			continue
		}

		taskID := task.ID
		m.group.Go(func() error {
			m.execute(ctx, taskID, agentID)
			m.mu.Lock()
			delete(m.executing, agentID)
			m.mu.Unlock()
			return nil
		})
	}
}

// housekeepingLoop fails starved tasks, applies external cancel signals,
// and takes draining agents offline once idle.
func (m *Manager) housekeepingLoop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepStarved()
			m.sweepSignals()
			m.sweepDraining()
		}
	}
}

// sweepStarved fails ready tasks that waited past the grace period without
// an eligible agent appearing. Failure cascades to dependents like any
// other failure.
func (m *Manager) sweepStarved() {
	now := time.Now()
	for _, task := range m.tables.TaskList() {
		if task.Status != models.TaskStatusReady || task.ReadyAt == nil {
			continue
		}
		waited := now.Sub(*task.ReadyAt)
		if waited < m.opts.gracePeriod {
			continue
		}
		cause := m.starvationCause(task, waited.Round(time.Millisecond))
		m.scheduler.Remove(task.ID)
		if _, ok := m.transition(task.ID, models.TaskStatusFailed, func(t *models.Task) {
			ts := time.Now()
			t.CompletedAt = &ts
			t.Error = cause.Error()
		}); !ok {
			continue
		}
		m.graph.MarkCancelled(task.ID)
		m.recordHistory(task.ID, string(models.TaskStatusFailed), "", cause.Error())
		m.events.Publish(router.Event{
			Type:   router.EventTaskFailed,
			TaskID: task.ID,
			Err:    cause,
		})
		m.opts.logger.Log("task %s failed: %v", task.ID, cause)
		for _, dep := range m.graph.CancelCascade(task.ID) {
			m.cancelNow(dep, "dependency failed")
		}
		m.checkpoint()
	}
}

// starvationCause diagnoses why a ready task went unassigned: capability
// starvation when no assignable agent covers the task's capabilities,
// resource starvation when a capable agent exists but the task's claims
// never fit.
func (m *Manager) starvationCause(task models.Task, waited time.Duration) error {
	for _, a := range m.tables.AgentList() {
		if a.Status.Assignable() && task.CapabilitiesSatisfiedBy(a.Capabilities) {
			return fmt.Errorf("%w: resources unavailable for %s", resource.ErrInsufficientResource, waited)
		}
	}
	return fmt.Errorf("%w: no eligible agent within %s", sched.ErrNoCapableAgent, waited)
}

// sweepSignals applies file-based cancel requests to non-running tasks.
// Running tasks observe the request from the executor itself.
func (m *Manager) sweepSignals() {
	if m.opts.signals == nil {
		return
	}
	for _, task := range m.tables.TaskList() {
		if task.Status.Terminal() || task.Status == models.TaskStatusRunning {
			continue
		}
		if m.opts.signals.Cancelled(task.ID) {
			m.Cancel(task.ID)
		}
	}
}

// sweepDraining takes drained agents offline.
func (m *Manager) sweepDraining() {
	for _, a := range m.tables.AgentList() {
		if a.Status != models.AgentStatusDraining || a.Load != 0 {
			continue
		}
		_, ver, ok := m.tables.Agent(a.ID)
		if !ok {
			continue
		}
		m.tables.UpdateAgent(a.ID, ver, func(a models.Agent) (models.Agent, error) {
			if a.Load == 0 {
				a.Status = models.AgentStatusOffline
			}
			return a, nil
		})
	}
}

// cancelRequested reports whether a cooperative cancel is pending.
func (m *Manager) cancelRequested(taskID string) bool {
	m.mu.Lock()
	pending := m.cancels[taskID]
	m.mu.Unlock()
	if pending {
		return true
	}
	return m.opts.signals != nil && m.opts.signals.Cancelled(taskID)
}

// recordHistory appends to the task history when a store is attached.
func (m *Manager) recordHistory(taskID, status, agentID, detail string) {
	if m.opts.store == nil {
		return
	}
	if err := m.opts.store.RecordTaskEvent(taskID, status, agentID, detail); err != nil {
		m.opts.logger.Log("record history for %s: %v", taskID, err)
	}
}
