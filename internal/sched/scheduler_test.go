package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/convoy-engine/convoy/internal/conflict"
	"github.com/convoy-engine/convoy/internal/resource"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/pkg/models"
)

func newTestScheduler(t *testing.T, strategy Strategy, specs []resource.Spec) (*AdvancedScheduler, *conflict.Tables, *router.Router) {
	t.Helper()
	tables := conflict.NewTables()
	resources := resource.NewManager(specs)
	resolver := conflict.NewResolver(conflict.StrategyPriority, nil)
	arbiter := conflict.NewArbiter(resolver, time.Millisecond)
	events := router.New()
	s := NewAdvancedScheduler(strategy, tables, resources, arbiter, events)
	return s, tables, events
}

func addAgent(tables *conflict.Tables, a models.Agent) {
	if a.Status == "" {
		a.Status = models.AgentStatusIdle
	}
	tables.Agents.Put(a.ID, a)
}

func addReadyTask(tables *conflict.Tables, task models.Task) {
	task.Status = models.TaskStatusReady
	tables.Tasks.Put(task.ID, task)
}

func TestAssignNextEmptyQueue(t *testing.T) {
	s, _, _ := newTestScheduler(t, &CapabilityStrategy{}, nil)
	popped, err := s.AssignNext()
	if popped || err != nil {
		t.Fatalf("expected idle no-op, got popped=%v err=%v", popped, err)
	}
}

func TestAssignHappyPath(t *testing.T) {
	s, tables, events := newTestScheduler(t, &CapabilityStrategy{}, nil)
	ch, unsub := events.Subscribe("test", 4)
	defer unsub()

	addAgent(tables, models.Agent{ID: "a1"})
	addReadyTask(tables, models.Task{ID: "t1", Priority: 1})
	s.Enqueue("t1", 1)

	popped, err := s.AssignNext()
	if !popped || err != nil {
		t.Fatalf("AssignNext: popped=%v err=%v", popped, err)
	}

	task, _, _ := tables.Task("t1")
	if task.Status != models.TaskStatusAssigned || task.AssignedTo != "a1" {
		t.Errorf("unexpected task after assign: %+v", task)
	}
	a, _, _ := tables.Agent("a1")
	if a.Load != 1 || a.Status != models.AgentStatusBusy {
		t.Errorf("agent load not updated: %+v", a)
	}

	select {
	case ev := <-ch:
		if ev.Type != router.EventTaskAssigned || ev.AgentID != "a1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no assignment event published")
	}
}

func TestAssignCapabilityRouting(t *testing.T) {
	s, tables, _ := newTestScheduler(t, &CapabilityStrategy{}, nil)

	// agent-1 idles at zero load but lacks the capability.
	addAgent(tables, models.Agent{ID: "agent-1", Load: 0, Capabilities: []string{"cpu"}})
	addAgent(tables, models.Agent{ID: "agent-2", Load: 3, Capabilities: []string{"gpu"}})
	addReadyTask(tables, models.Task{ID: "t1", Capabilities: []string{"gpu"}})
	s.Enqueue("t1", 0)

	if _, err := s.AssignNext(); err != nil {
		t.Fatalf("AssignNext: %v", err)
	}
	task, _, _ := tables.Task("t1")
	if task.AssignedTo != "agent-2" {
		t.Errorf("expected capability match agent-2, got %s", task.AssignedTo)
	}
}

func TestAssignNoCapableAgentRequeues(t *testing.T) {
	s, tables, _ := newTestScheduler(t, &CapabilityStrategy{}, nil)
	addAgent(tables, models.Agent{ID: "a1", Capabilities: []string{"cpu"}})
	addReadyTask(tables, models.Task{ID: "t1", Capabilities: []string{"gpu"}})
	s.Enqueue("t1", 0)

	_, err := s.AssignNext()
	if !errors.Is(err, ErrNoCapableAgent) {
		t.Fatalf("expected ErrNoCapableAgent, got %v", err)
	}
	if s.QueueDepth() != 1 {
		t.Error("task should return to the queue")
	}
	task, _, _ := tables.Task("t1")
	if task.Status != models.TaskStatusReady {
		t.Errorf("task must stay ready, got %s", task.Status)
	}
	if s.Stats().NoCapableAgent != 1 {
		t.Error("failure not counted")
	}
}

func TestAssignResourceShortfallRequeues(t *testing.T) {
	s, tables, _ := newTestScheduler(t, &CapabilityStrategy{},
		[]resource.Spec{{Name: "gpu", Capacity: 1}})
	addAgent(tables, models.Agent{ID: "a1"})
	addReadyTask(tables, models.Task{ID: "t1", Resources: []models.ResourceRequest{{Name: "gpu", Units: 2}}})
	s.Enqueue("t1", 0)

	_, err := s.AssignNext()
	if !errors.Is(err, resource.ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
	if s.QueueDepth() != 1 {
		t.Error("task should be deferred, not dropped")
	}
	if s.Stats().ResourceDeferred != 1 {
		t.Error("deferral not counted")
	}
}

func TestConcurrentAssignersProduceOneAssignment(t *testing.T) {
	tables := conflict.NewTables()
	resources := resource.NewManager([]resource.Spec{{Name: "gpu", Capacity: 1}})
	arbiter := conflict.NewArbiter(conflict.NewResolver(conflict.StrategyPriority, nil), 5*time.Millisecond)
	events := router.New()

	s1 := NewAdvancedScheduler(&CapabilityStrategy{}, tables, resources, arbiter, events)
	s2 := NewAdvancedScheduler(&CapabilityStrategy{}, tables, resources, arbiter, events)

	addAgent(tables, models.Agent{ID: "a1"})
	addReadyTask(tables, models.Task{ID: "t1", Resources: []models.ResourceRequest{{Name: "gpu", Units: 1}}})
	s1.Enqueue("t1", 0)
	s2.Enqueue("t1", 0)

	done := make(chan struct{}, 2)
	for _, s := range []*AdvancedScheduler{s1, s2} {
		go func(s *AdvancedScheduler) {
			s.AssignNext()
			done <- struct{}{}
		}(s)
	}
	<-done
	<-done

	task, _, _ := tables.Task("t1")
	if task.Status != models.TaskStatusAssigned || task.AssignedTo != "a1" {
		t.Fatalf("expected exactly one assignment, task %+v", task)
	}
	a, _, _ := tables.Agent("a1")
	if a.Load != 1 {
		t.Errorf("agent load must count the task once, got %d", a.Load)
	}
	if got := resources.Availability("gpu"); got != 0 {
		t.Errorf("winner's claim must be the only one held, availability %d", got)
	}
	if total := s1.Stats().Assigned + s2.Stats().Assigned; total != 1 {
		t.Errorf("expected one recorded assignment, got %d", total)
	}
}

func TestAssignSkipsNonReadyTask(t *testing.T) {
	s, tables, _ := newTestScheduler(t, &CapabilityStrategy{}, nil)
	addAgent(tables, models.Agent{ID: "a1"})
	tables.Tasks.Put("t1", models.Task{ID: "t1", Status: models.TaskStatusCancelled})
	s.Enqueue("t1", 0)

	popped, err := s.AssignNext()
	if !popped || err != nil {
		t.Fatalf("expected silent skip, popped=%v err=%v", popped, err)
	}
	task, _, _ := tables.Task("t1")
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("task must be untouched, got %s", task.Status)
	}
}

func TestAssignSkipsDrainingAgents(t *testing.T) {
	s, tables, _ := newTestScheduler(t, &CapabilityStrategy{}, nil)
	addAgent(tables, models.Agent{ID: "a1", Status: models.AgentStatusDraining})
	addAgent(tables, models.Agent{ID: "a2", Status: models.AgentStatusIdle})
	addReadyTask(tables, models.Task{ID: "t1"})
	s.Enqueue("t1", 0)

	if _, err := s.AssignNext(); err != nil {
		t.Fatalf("AssignNext: %v", err)
	}
	task, _, _ := tables.Task("t1")
	if task.AssignedTo != "a2" {
		t.Errorf("draining agent must not receive work, got %s", task.AssignedTo)
	}
}
