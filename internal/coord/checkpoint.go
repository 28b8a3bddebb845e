package coord

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/convoy-engine/convoy/internal/state"
	"github.com/convoy-engine/convoy/pkg/models"
)

// checkpointKey is the state store key for the engine checkpoint.
const checkpointKey = "coordinator"

// checkpointDoc is the persisted form of the engine's task state. Agents
// are not persisted; they re-register on the next run.
type checkpointDoc struct {
	SavedAt time.Time     `json:"saved_at"`
	Tasks   []models.Task `json:"tasks"`
}

// checkpoint persists the task table when a store is attached. Best
// effort: a failed checkpoint is logged, never fatal.
func (m *Manager) checkpoint() {
	if m.opts.store == nil {
		return
	}
	doc := checkpointDoc{
		SavedAt: time.Now().UTC(),
		Tasks:   m.tables.TaskList(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		m.opts.logger.Log("checkpoint marshal: %v", err)
		return
	}
	if err := m.opts.store.SaveCheckpoint(checkpointKey, raw); err != nil {
		m.opts.logger.Log("checkpoint save: %v", err)
	}
}

// restore rebuilds the graph and task table from the last checkpoint.
// Tasks that were assigned or running when the previous run stopped come
// back as ready; completed and terminal tasks keep their state so
// dependents resolve correctly.
func (m *Manager) restore() error {
	if m.opts.store == nil {
		return nil
	}
	raw, err := m.opts.store.LoadCheckpoint(checkpointKey)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc checkpointDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	// Insert in dependency order: a task can only be added once all of its
	// dependencies are in the graph.
	remaining := doc.Tasks
	for len(remaining) > 0 {
		var deferred []models.Task
		progressed := false
		for _, task := range remaining {
			if err := m.graph.AddTask(task.ID, task.DependsOn); err != nil {
				deferred = append(deferred, task)
				continue
			}
			progressed = true
			m.restoreTask(task)
		}
		if !progressed {
			for _, task := range deferred {
				m.opts.logger.Log("checkpoint: dropping unrestorable task %s", task.ID)
			}
			break
		}
		remaining = deferred
	}

	// Pending tasks whose dependencies had already completed are ready now.
	for _, task := range m.tables.TaskList() {
		if task.Status == models.TaskStatusPending && m.depsComplete(task.DependsOn) {
			m.queueReady(task.ID)
		}
	}

	m.opts.logger.Log("restored %d tasks from checkpoint saved %s",
		len(doc.Tasks), doc.SavedAt.Format(time.RFC3339))
	return nil
}

// restoreTask places one restored task into the table, queue, and graph
// bookkeeping.
func (m *Manager) restoreTask(task models.Task) {
	switch task.Status {
	case models.TaskStatusCompleted:
		m.graph.MarkCompleted(task.ID)
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		m.graph.MarkCancelled(task.ID)
	case models.TaskStatusReady, models.TaskStatusAssigned, models.TaskStatusRunning:
		// The previous run's agents are gone.
		task.Status = models.TaskStatusReady
		task.AssignedTo = ""
		now := time.Now()
		task.ReadyAt = &now
	}
	m.tables.Tasks.Put(task.ID, task)
	if task.Status == models.TaskStatusReady {
		m.scheduler.Enqueue(task.ID, task.Priority)
	}
}
