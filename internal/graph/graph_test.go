package graph

import (
	"errors"
	"sort"
	"testing"
)

func TestAddTaskUnknownDependency(t *testing.T) {
	g := New()
	err := g.AddTask("b", []string{"a"})
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestAddTaskDuplicate(t *testing.T) {
	g := New()
	if err := g.AddTask("a", nil); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := g.AddTask("a", nil); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestAddTaskSelfCycle(t *testing.T) {
	g := New()
	err := g.AddTask("a", []string{"a"})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if g.Contains("a") {
		t.Error("graph should be unchanged after rejected add")
	}
}

func TestAddDependencyCycleLeavesGraphUnchanged(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"b"})

	// a -> c would close the loop a <- b <- c <- a.
	err := g.AddDependency("a", "c")
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if deps := g.Dependencies("a"); len(deps) != 0 {
		t.Errorf("expected no deps on a after rejected edge, got %v", deps)
	}
}

func TestReadyTasksRespectsDependencies(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"a"})

	if ready := sorted(g.ReadyTasks()); len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected only a ready, got %v", ready)
	}

	newlyReady := g.MarkCompleted("a")
	if got := sorted(newlyReady); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected b and c newly ready, got %v", newlyReady)
	}
	if ready := sorted(g.ReadyTasks()); len(ready) != 2 || ready[0] != "b" || ready[1] != "c" {
		t.Fatalf("expected b and c ready, got %v", ready)
	}
}

func TestReadyNeverReportedWithIncompleteDependency(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", nil)
	mustAdd(t, g, "c", []string{"a", "b"})

	g.MarkCompleted("a")
	for _, id := range g.ReadyTasks() {
		if id == "c" {
			t.Fatal("c reported ready while b incomplete")
		}
	}
}

func TestRemoveTaskWithDependents(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})

	if _, err := g.RemoveTask("a", false); !errors.Is(err, ErrHasDependents) {
		t.Fatalf("expected ErrHasDependents, got %v", err)
	}

	cascaded, err := g.RemoveTask("a", true)
	if err != nil {
		t.Fatalf("forced remove: %v", err)
	}
	if len(cascaded) != 1 || cascaded[0] != "b" {
		t.Fatalf("expected b cascaded, got %v", cascaded)
	}
	if g.Contains("a") {
		t.Error("a should be removed")
	}
	if ready := g.ReadyTasks(); len(ready) != 0 {
		t.Errorf("cancelled dependent should not be ready, got %v", ready)
	}
}

func TestCancelCascadeSkipsCompleted(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"b"})
	g.MarkCompleted("b")

	cascaded := g.CancelCascade("a")
	// b already completed, only c cascades.
	if len(cascaded) != 1 || cascaded[0] != "c" {
		t.Fatalf("expected only c cascaded, got %v", cascaded)
	}
}

func TestCriticalPathLength(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"b"})
	mustAdd(t, g, "d", []string{"a"})

	if n := g.CriticalPathLength("a"); n != 3 {
		t.Errorf("expected critical path 3 from a, got %d", n)
	}
	if n := g.CriticalPathLength("d"); n != 1 {
		t.Errorf("expected critical path 1 from d, got %d", n)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	mustAdd(t, g, "a", nil)
	mustAdd(t, g, "b", []string{"a"})
	mustAdd(t, g, "c", []string{"a", "b"})

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("order violates dependencies: %v", order)
	}
}

func mustAdd(t *testing.T, g *DependencyGraph, id string, deps []string) {
	t.Helper()
	if err := g.AddTask(id, deps); err != nil {
		t.Fatalf("AddTask(%s): %v", id, err)
	}
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
