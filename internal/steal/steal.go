// Package steal rebalances assigned-but-unstarted work between agents.
//
// A periodic sweep compares each agent's load against the pool mean. Agents
// loaded above the mean by more than the threshold donate their most
// recently queued assigned task to the least-loaded capable agent below the
// mean. Running tasks are never migrated, and a version conflict on the
// task record means another writer got there first, so the sweep moves on
// without retrying.
package steal

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/convoy-engine/convoy/internal/conflict"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/pkg/models"
)

// Config tunes the rebalancing sweep.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// Threshold is how far from the mean load an agent must be to
	// participate, as donor (above) or receiver (below).
	Threshold float64
}

// DefaultConfig returns the sweep defaults.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, Threshold: 1.0}
}

// Stats counts sweep outcomes since startup.
type Stats struct {
	Sweeps    uint64
	Attempts  uint64
	Stolen    uint64
	Conflicts uint64
}

// Coordinator runs the rebalancing sweep against the shared tables.
type Coordinator struct {
	tables    *conflict.Tables
	events    *router.Router
	interval  time.Duration
	threshold float64

	sweeps    atomic.Uint64
	attempts  atomic.Uint64
	stolen    atomic.Uint64
	conflicts atomic.Uint64
}

// NewCoordinator wires the coordinator to the shared tables and event router.
func NewCoordinator(tables *conflict.Tables, events *router.Router, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	return &Coordinator{
		tables:    tables,
		events:    events,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
	}
}

// Stats returns sweep counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Sweeps:    c.sweeps.Load(),
		Attempts:  c.attempts.Load(),
		Stolen:    c.stolen.Load(),
		Conflicts: c.conflicts.Load(),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Rebalance()
		}
	}
}

// Rebalance runs one sweep and returns the number of migrated tasks.
// At most one task moves per donor per sweep; load converges over
// successive sweeps rather than in one churning pass.
func (c *Coordinator) Rebalance() int {
	c.sweeps.Add(1)

	agents := c.assignableAgents()
	if len(agents) < 2 {
		return 0
	}
	mean := meanLoad(agents)

	var donors, receivers []models.Agent
	for _, a := range agents {
		switch {
		case float64(a.Load) > mean+c.threshold:
			donors = append(donors, a)
		case float64(a.Load) < mean-c.threshold:
			receivers = append(receivers, a)
		}
	}
	if len(donors) == 0 || len(receivers) == 0 {
		return 0
	}
	// Heaviest donors first; lightest receivers first.
	sort.Slice(donors, func(i, j int) bool {
		if donors[i].Load != donors[j].Load {
			return donors[i].Load > donors[j].Load
		}
		return donors[i].ID < donors[j].ID
	})
	sort.Slice(receivers, func(i, j int) bool {
		if receivers[i].Load != receivers[j].Load {
			return receivers[i].Load < receivers[j].Load
		}
		return receivers[i].ID < receivers[j].ID
	})

	backlog := c.assignedBacklog()
	moved := 0
	for _, donor := range donors {
		task, ok := latestAssigned(backlog[donor.ID])
		if !ok {
			continue
		}
		ri := pickReceiver(receivers, task)
		if ri < 0 {
			continue
		}
		if c.migrate(task, donor.ID, receivers[ri].ID) {
			receivers[ri].Load++
			moved++
		}
	}
	return moved
}

// assignableAgents snapshots agents eligible to donate or receive work.
func (c *Coordinator) assignableAgents() []models.Agent {
	all := c.tables.AgentList()
	out := all[:0]
	for _, a := range all {
		if a.Status.Assignable() {
			out = append(out, a)
		}
	}
	return out
}

// assignedBacklog groups assigned (not yet running) tasks by agent.
func (c *Coordinator) assignedBacklog() map[string][]models.Task {
	backlog := make(map[string][]models.Task)
	for _, task := range c.tables.TaskList() {
		if task.Status == models.TaskStatusAssigned {
			backlog[task.AssignedTo] = append(backlog[task.AssignedTo], task)
		}
	}
	return backlog
}

// meanLoad is the average load across the agent pool.
func meanLoad(agents []models.Agent) float64 {
	if len(agents) == 0 {
		return 0
	}
	var total int
	for _, a := range agents {
		total += a.Load
	}
	return float64(total) / float64(len(agents))
}

// latestAssigned picks the donor's most recently queued task. The newest
// assignment has waited the least, so moving it costs the least progress.
func latestAssigned(tasks []models.Task) (models.Task, bool) {
	if len(tasks) == 0 {
		return models.Task{}, false
	}
	readyAt := func(t models.Task) time.Time {
		if t.ReadyAt == nil {
			return time.Time{}
		}
		return *t.ReadyAt
	}
	best := tasks[0]
	for _, t := range tasks[1:] {
		if readyAt(t).After(readyAt(best)) ||
			(readyAt(t).Equal(readyAt(best)) && t.ID > best.ID) {
			best = t
		}
	}
	return best, true
}

// pickReceiver returns the index of the lightest receiver capable of the
// task, or -1 when none qualifies.
func pickReceiver(receivers []models.Agent, task models.Task) int {
	for i, r := range receivers {
		if task.CapabilitiesSatisfiedBy(r.Capabilities) {
			return i
		}
	}
	return -1
}

// migrate re-assigns the task under its optimistic lock. The guard inside
// the mutation re-checks status and owner: the task may have started (or
// moved) between the snapshot and the update.
func (c *Coordinator) migrate(snapshot models.Task, fromID, toID string) bool {
	c.attempts.Add(1)

	task, version, ok := c.tables.Task(snapshot.ID)
	if !ok || task.Status != models.TaskStatusAssigned || task.AssignedTo != fromID {
		return false
	}
	_, _, err := c.tables.UpdateTask(task.ID, version, func(t models.Task) (models.Task, error) {
		t.AssignedTo = toID
		return t, nil
	})
	if err != nil {
		c.conflicts.Add(1)
		return false
	}

	c.tables.AdjustAgentLoad(fromID, -1)
	c.tables.AdjustAgentLoad(toID, +1)
	c.stolen.Add(1)
	c.events.Publish(router.Event{
		Type:        router.EventTaskStolen,
		TaskID:      task.ID,
		AgentID:     toID,
		FromAgentID: fromID,
	})
	return true
}
