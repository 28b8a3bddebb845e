package sched

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/convoy-engine/convoy/internal/conflict"
	"github.com/convoy-engine/convoy/internal/resource"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/pkg/models"
)

// Stats counts assignment outcomes since startup.
type Stats struct {
	Assigned         uint64
	Conflicts        uint64
	ResourceDeferred uint64
	NoCapableAgent   uint64
}

// Scheduler is the base scheduler: a priority queue of ready tasks fed from
// the dependency graph. AdvancedScheduler layers agent selection on top.
type Scheduler struct {
	queue *ReadyQueue
}

// NewScheduler creates a base scheduler with an empty ready queue.
func NewScheduler() *Scheduler {
	return &Scheduler{queue: NewReadyQueue()}
}

// Enqueue queues a ready task for assignment.
func (s *Scheduler) Enqueue(taskID string, priority int) {
	s.queue.Enqueue(taskID, priority)
}

// Remove drops a queued task, e.g. on cancellation.
func (s *Scheduler) Remove(taskID string) bool {
	return s.queue.Remove(taskID)
}

// QueueDepth returns the number of queued tasks.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

// AdvancedScheduler assigns queued tasks to agents via a pluggable
// strategy, claiming resources and taking the optimistic lock on the task
// record. Assignment failures are control flow, never task failure: the
// task returns to the queue and the failure is counted.
type AdvancedScheduler struct {
	*Scheduler

	strategy  Strategy
	tables    *conflict.Tables
	resources *resource.Manager
	arbiter   *conflict.Arbiter
	events    *router.Router

	assigned         atomic.Uint64
	conflicts        atomic.Uint64
	resourceDeferred atomic.Uint64
	noCapableAgent   atomic.Uint64
}

// NewAdvancedScheduler wires the scheduler to the shared tables, resource
// manager, conflict arbiter, and event router.
func NewAdvancedScheduler(strategy Strategy, tables *conflict.Tables, resources *resource.Manager, arbiter *conflict.Arbiter, events *router.Router) *AdvancedScheduler {
	return &AdvancedScheduler{
		Scheduler: NewScheduler(),
		strategy:  strategy,
		tables:    tables,
		resources: resources,
		arbiter:   arbiter,
		events:    events,
	}
}

// StrategyName returns the active strategy name.
func (s *AdvancedScheduler) StrategyName() string { return s.strategy.Name() }

// Stats returns assignment counters.
func (s *AdvancedScheduler) Stats() Stats {
	return Stats{
		Assigned:         s.assigned.Load(),
		Conflicts:        s.conflicts.Load(),
		ResourceDeferred: s.resourceDeferred.Load(),
		NoCapableAgent:   s.noCapableAgent.Load(),
	}
}

// AssignNext pops the highest-priority ready task and tries to assign it.
// Returns false when the queue is empty. Errors are the control-flow
// reasons assignment was deferred; the task is already re-queued (or
// dropped if it left the ready state) when an error comes back.
func (s *AdvancedScheduler) AssignNext() (bool, error) {
	taskID, ok := s.queue.Pop()
	if !ok {
		return false, nil
	}
	return true, s.assign(taskID)
}

// assign runs the full assignment path for one task.
func (s *AdvancedScheduler) assign(taskID string) error {
	task, version, ok := s.tables.Task(taskID)
	if !ok {
		return nil
	}
	// Only ready tasks are assignable; anything else left the queue late.
	if task.Status != models.TaskStatusReady {
		return nil
	}

	agents := s.assignableAgents()
	agentID, err := s.strategy.Select(task, agents)
	if err != nil {
		if errors.Is(err, ErrNoCapableAgent) || errors.Is(err, ErrNoAgents) {
			s.noCapableAgent.Add(1)
			s.requeue(task)
		}
		return err
	}

	// Claim resources before taking the lock; all-or-nothing.
	if err := s.resources.Claim(task.ID, task.Resources); err != nil {
		s.resourceDeferred.Add(1)
		s.requeue(task)
		return err
	}

	// Arbitrate the mutation window, then compare-and-swap the task.
	claim := conflict.Claim{
		AgentID:   agentID,
		Version:   version,
		Timestamp: time.Now(),
		Priority:  task.Priority,
	}
	if won, _ := s.arbiter.Arbitrate(task.ID, claim); !won {
		s.conflicts.Add(1)
		s.resources.Release(task.ID)
		s.requeue(task)
		return conflict.ErrVersionConflict
	}

	_, _, err = s.tables.UpdateTask(task.ID, version, func(t models.Task) (models.Task, error) {
		t.Status = models.TaskStatusAssigned
		t.AssignedTo = agentID
		return t, nil
	})
	if err != nil {
		// A concurrent writer won the version race.
		s.conflicts.Add(1)
		s.resources.Release(task.ID)
		if errors.Is(err, conflict.ErrVersionConflict) {
			s.requeueFresh(task.ID)
		}
		return err
	}

	s.tables.AdjustAgentLoad(agentID, +1)
	s.assigned.Add(1)
	s.events.Publish(router.Event{
		Type:    router.EventTaskAssigned,
		TaskID:  task.ID,
		AgentID: agentID,
	})
	return nil
}

// assignableAgents snapshots agents eligible for new work.
func (s *AdvancedScheduler) assignableAgents() []models.Agent {
	all := s.tables.AgentList()
	out := all[:0]
	for _, a := range all {
		if a.Status.Assignable() {
			out = append(out, a)
		}
	}
	return out
}

// requeue puts the task back on the ready queue unchanged.
func (s *AdvancedScheduler) requeue(task models.Task) {
	s.queue.Enqueue(task.ID, task.Priority)
}

// requeueFresh re-reads the task and requeues it only if it is still ready.
func (s *AdvancedScheduler) requeueFresh(taskID string) {
	if task, _, ok := s.tables.Task(taskID); ok && task.Status == models.TaskStatusReady {
		s.queue.Enqueue(task.ID, task.Priority)
	}
}
