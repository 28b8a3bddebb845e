package sched

import (
	"errors"
	"testing"

	"github.com/convoy-engine/convoy/pkg/models"
)

func agent(id string, load int, caps ...string) models.Agent {
	return models.Agent{ID: id, Load: load, Capabilities: caps, Status: models.AgentStatusIdle}
}

func TestCapabilityStrategyMatchesRequirement(t *testing.T) {
	s := &CapabilityStrategy{}
	task := models.Task{ID: "t1", Capabilities: []string{"gpu"}}
	agents := []models.Agent{
		agent("a1", 0, "cpu"),
		agent("a2", 5, "gpu", "cpu"),
	}

	// a2 is the only qualifying agent even though a1 has lower load.
	got, err := s.Select(task, agents)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "a2" {
		t.Errorf("expected a2, got %s", got)
	}
}

func TestCapabilityStrategyNoCapableAgent(t *testing.T) {
	s := &CapabilityStrategy{}
	task := models.Task{ID: "t1", Capabilities: []string{"quantum"}}
	_, err := s.Select(task, []models.Agent{agent("a1", 0, "cpu")})
	if !errors.Is(err, ErrNoCapableAgent) {
		t.Fatalf("expected ErrNoCapableAgent, got %v", err)
	}
}

func TestCapabilityStrategyPrefersLeastLoaded(t *testing.T) {
	s := &CapabilityStrategy{}
	task := models.Task{ID: "t1"}
	agents := []models.Agent{
		agent("a1", 3),
		agent("a2", 1),
		agent("a3", 1),
	}
	got, err := s.Select(task, agents)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Load tie between a2 and a3 broken by ID.
	if got != "a2" {
		t.Errorf("expected a2, got %s", got)
	}
}

func TestRoundRobinCycles(t *testing.T) {
	s := &RoundRobinStrategy{}
	task := models.Task{ID: "t1"}
	agents := []models.Agent{agent("a1", 9), agent("a2", 0), agent("a3", 4)}

	var got []string
	for i := 0; i < 4; i++ {
		id, err := s.Select(task, agents)
		if err != nil {
			t.Fatalf("Select %d: %v", i, err)
		}
		got = append(got, id)
	}
	want := []string{"a1", "a2", "a3", "a1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round robin order: want %v, got %v", want, got)
		}
	}
}

func TestRoundRobinSkipsIncapable(t *testing.T) {
	s := &RoundRobinStrategy{}
	task := models.Task{ID: "t1", Capabilities: []string{"gpu"}}
	agents := []models.Agent{agent("a1", 0, "cpu"), agent("a2", 0, "gpu")}

	for i := 0; i < 2; i++ {
		id, err := s.Select(task, agents)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if id != "a2" {
			t.Errorf("expected only capable agent a2, got %s", id)
		}
	}
}

func TestLeastLoadedDeterministicTies(t *testing.T) {
	s := &LeastLoadedStrategy{}
	task := models.Task{ID: "t1"}
	agents := []models.Agent{agent("b", 2), agent("a", 2)}
	got, err := s.Select(task, agents)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "a" {
		t.Errorf("tie must break by agent ID, got %s", got)
	}
}

func TestAffinityPrefersRecentTagMatch(t *testing.T) {
	s := NewAffinityStrategy()
	s.RecordCompletion("a2", []string{"billing"})

	task := models.Task{ID: "t1", Tags: []string{"billing"}}
	agents := []models.Agent{agent("a1", 0), agent("a2", 7)}

	got, err := s.Select(task, agents)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "a2" {
		t.Errorf("expected affinity pick a2 despite load, got %s", got)
	}
}

func TestAffinityFallsBackToLeastLoaded(t *testing.T) {
	s := NewAffinityStrategy()
	task := models.Task{ID: "t1", Tags: []string{"untracked"}}
	agents := []models.Agent{agent("a1", 3), agent("a2", 1)}

	got, err := s.Select(task, agents)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "a2" {
		t.Errorf("expected least-loaded fallback a2, got %s", got)
	}
}

func TestAffinityIgnoresIncapablePreferred(t *testing.T) {
	s := NewAffinityStrategy()
	s.RecordCompletion("a1", []string{"ml"})

	task := models.Task{ID: "t1", Tags: []string{"ml"}, Capabilities: []string{"gpu"}}
	agents := []models.Agent{agent("a1", 0, "cpu"), agent("a2", 5, "gpu")}

	got, err := s.Select(task, agents)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != "a2" {
		t.Errorf("incapable preferred agent must be skipped, got %s", got)
	}
}

func TestNewStrategyByName(t *testing.T) {
	for _, name := range []string{"capability", "round_robin", "least_loaded", "affinity"} {
		s, err := NewStrategy(name)
		if err != nil {
			t.Fatalf("NewStrategy(%s): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("expected name %s, got %s", name, s.Name())
		}
	}
	if _, err := NewStrategy("fancy"); err == nil {
		t.Error("unknown strategy should error")
	}
}
