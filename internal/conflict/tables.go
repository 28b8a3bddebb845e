package conflict

import (
	"sort"

	"github.com/convoy-engine/convoy/pkg/models"
)

// Tables groups the versioned task and agent tables. The CoordinationManager
// owns the aggregate and passes it by handle to the scheduler and the
// work-stealing coordinator; both mutate entries only through TryUpdate.
type Tables struct {
	Tasks  *LockManager
	Agents *LockManager
}

// NewTables creates empty task and agent tables.
func NewTables() *Tables {
	return &Tables{Tasks: NewLockManager(), Agents: NewLockManager()}
}

// Task returns a snapshot of one task and its version.
func (t *Tables) Task(id string) (models.Task, int64, bool) {
	v, ver, ok := t.Tasks.Get(id)
	if !ok {
		return models.Task{}, 0, false
	}
	return v.(models.Task), ver, true
}

// Agent returns a snapshot of one agent and its version.
func (t *Tables) Agent(id string) (models.Agent, int64, bool) {
	v, ver, ok := t.Agents.Get(id)
	if !ok {
		return models.Agent{}, 0, false
	}
	return v.(models.Agent), ver, true
}

// AgentList returns snapshots of every agent, sorted by ID for determinism.
func (t *Tables) AgentList() []models.Agent {
	ids := t.Agents.IDs()
	sort.Strings(ids)
	out := make([]models.Agent, 0, len(ids))
	for _, id := range ids {
		if a, _, ok := t.Agent(id); ok {
			out = append(out, a)
		}
	}
	return out
}

// TaskList returns snapshots of every task, sorted by ID.
func (t *Tables) TaskList() []models.Task {
	ids := t.Tasks.IDs()
	sort.Strings(ids)
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		if task, _, ok := t.Task(id); ok {
			out = append(out, task)
		}
	}
	return out
}

// UpdateTask is TryUpdate specialized for tasks.
func (t *Tables) UpdateTask(id string, expectedVersion int64, mutate func(models.Task) (models.Task, error)) (models.Task, int64, error) {
	v, ver, err := t.Tasks.TryUpdate(id, expectedVersion, func(cur any) (any, error) {
		return mutate(cur.(models.Task))
	})
	if err != nil {
		return models.Task{}, ver, err
	}
	return v.(models.Task), ver, nil
}

// UpdateAgent is TryUpdate specialized for agents.
func (t *Tables) UpdateAgent(id string, expectedVersion int64, mutate func(models.Agent) (models.Agent, error)) (models.Agent, int64, error) {
	v, ver, err := t.Agents.TryUpdate(id, expectedVersion, func(cur any) (any, error) {
		return mutate(cur.(models.Agent))
	})
	if err != nil {
		return models.Agent{}, ver, err
	}
	return v.(models.Agent), ver, nil
}

// AdjustAgentLoad retries a load delta until it applies or the agent
// disappears. Load bookkeeping must not be lost to version races, so this
// re-reads on conflict; the mutation itself is still a versioned update.
func (t *Tables) AdjustAgentLoad(id string, delta int) {
	for {
		_, ver, ok := t.Agent(id)
		if !ok {
			return
		}
		_, _, err := t.UpdateAgent(id, ver, func(a models.Agent) (models.Agent, error) {
			a.Load += delta
			if a.Load < 0 {
				a.Load = 0
			}
			if a.Status == models.AgentStatusIdle && a.Load > 0 {
				a.Status = models.AgentStatusBusy
			}
			if a.Status == models.AgentStatusBusy && a.Load == 0 {
				a.Status = models.AgentStatusIdle
			}
			return a, nil
		})
		if err == nil {
			return
		}
	}
}
