// Package graph provides the dependency graph that orders task execution.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCycle indicates an edge would create a circular dependency.
var ErrCycle = errors.New("circular dependency detected")

// ErrHasDependents indicates a task cannot be removed because other tasks
// depend on it.
var ErrHasDependents = errors.New("task has dependents")

// ErrUnknownTask indicates the referenced task is not in the graph.
var ErrUnknownTask = errors.New("unknown task")

// ErrDuplicateTask indicates a task with the same ID already exists.
var ErrDuplicateTask = errors.New("task already in graph")

// DependencyGraph is a directed acyclic graph of task dependencies.
// Edges point from a task to the tasks it depends on (is blocked by).
// The graph tracks only IDs and completion; task records live elsewhere.
type DependencyGraph struct {
	mu sync.RWMutex
	// deps maps task ID to IDs of tasks it depends on.
	deps map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
	// cancelled tracks tasks cancelled by cascade or caller.
	cancelled map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		completed:  make(map[string]bool),
		cancelled:  make(map[string]bool),
	}
}

// AddTask registers a task and its dependency edges. All dependencies must
// already be in the graph. Fails with ErrCycle if the new edges would create
// a cycle; the graph is left unchanged on any error.
func (g *DependencyGraph) AddTask(id string, dependencies []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.deps[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	for _, depID := range dependencies {
		if depID == id {
			return fmt.Errorf("%w: %s depends on itself", ErrCycle, id)
		}
		if _, exists := g.deps[depID]; !exists {
			return fmt.Errorf("%w: %s depends on %s", ErrUnknownTask, id, depID)
		}
	}

	// Tentatively add, verify acyclicity from the new node, roll back on
	// failure so no partial mutation survives.
	g.deps[id] = append([]string(nil), dependencies...)
	for _, depID := range dependencies {
		g.dependents[depID] = append(g.dependents[depID], id)
	}
	if g.reachableLocked(id, id) {
		g.removeEdgesLocked(id)
		delete(g.deps, id)
		return fmt.Errorf("%w: adding %s", ErrCycle, id)
	}
	return nil
}

// AddDependency inserts a single edge from taskID to depID after the fact.
// Fails with ErrCycle, leaving the graph unchanged, if the edge would create
// a cycle.
func (g *DependencyGraph) AddDependency(taskID, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.deps[taskID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if _, exists := g.deps[depID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, depID)
	}
	if taskID == depID {
		return fmt.Errorf("%w: %s depends on itself", ErrCycle, taskID)
	}
	for _, existing := range g.deps[taskID] {
		if existing == depID {
			return nil
		}
	}

	// The edge taskID -> depID creates a cycle iff taskID is already
	// reachable from depID along dependency edges.
	if g.reachableLocked(depID, taskID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, taskID, depID)
	}

	g.deps[taskID] = append(g.deps[taskID], depID)
	g.dependents[depID] = append(g.dependents[depID], taskID)
	return nil
}

// reachableLocked reports whether target is reachable from start by
// following dependency edges. Depth-first; caller must hold the lock.
func (g *DependencyGraph) reachableLocked(start, target string) bool {
	visited := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		for _, depID := range g.deps[id] {
			if depID == target {
				return true
			}
			if !visited[depID] {
				visited[depID] = true
				if visit(depID) {
					return true
				}
			}
		}
		return false
	}
	return visit(start)
}

func (g *DependencyGraph) removeEdgesLocked(id string) {
	for _, depID := range g.deps[id] {
		kept := g.dependents[depID][:0]
		for _, d := range g.dependents[depID] {
			if d != id {
				kept = append(kept, d)
			}
		}
		g.dependents[depID] = kept
	}
	for _, depID := range g.dependents[id] {
		kept := g.deps[depID][:0]
		for _, d := range g.deps[depID] {
			if d != id {
				kept = append(kept, d)
			}
		}
		g.deps[depID] = kept
	}
}

// MarkCompleted marks a task as completed and returns the IDs of direct
// dependents that became ready as a result. Cost is O(out-degree) of the
// completed task, re-checking only direct dependents.
func (g *DependencyGraph) MarkCompleted(taskID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.deps[taskID]; !exists {
		return nil
	}
	g.completed[taskID] = true

	var newlyReady []string
	for _, depID := range g.dependents[taskID] {
		if g.readyLocked(depID) {
			newlyReady = append(newlyReady, depID)
		}
	}
	return newlyReady
}

// MarkCancelled marks a task cancelled so it is never reported ready.
func (g *DependencyGraph) MarkCancelled(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.deps[taskID]; exists {
		g.cancelled[taskID] = true
	}
}

// readyLocked reports whether a task's dependencies are all completed and
// the task itself is not completed or cancelled. Caller must hold the lock.
func (g *DependencyGraph) readyLocked(id string) bool {
	if g.completed[id] || g.cancelled[id] {
		return false
	}
	for _, depID := range g.deps[id] {
		if !g.completed[depID] {
			return false
		}
	}
	return true
}

// ReadyTasks returns the IDs of tasks whose dependencies are all completed.
// The graph is not mutated.
func (g *DependencyGraph) ReadyTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id := range g.deps {
		if g.readyLocked(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

// RemoveTask removes a task from the graph. Without force it fails with
// ErrHasDependents if any task depends on it. With force, all transitive
// dependents are cascaded to cancelled and detached; the cancelled IDs are
// returned.
func (g *DependencyGraph) RemoveTask(taskID string, force bool) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.deps[taskID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if len(g.dependents[taskID]) > 0 && !force {
		return nil, fmt.Errorf("%w: %s has %d dependents", ErrHasDependents, taskID, len(g.dependents[taskID]))
	}

	var cascaded []string
	if force {
		seen := map[string]bool{taskID: true}
		queue := append([]string(nil), g.dependents[taskID]...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if seen[id] {
				continue
			}
			seen[id] = true
			g.cancelled[id] = true
			cascaded = append(cascaded, id)
			queue = append(queue, g.dependents[id]...)
		}
	}

	g.removeEdgesLocked(taskID)
	delete(g.deps, taskID)
	delete(g.dependents, taskID)
	delete(g.completed, taskID)
	delete(g.cancelled, taskID)
	return cascaded, nil
}

// CancelCascade marks the task and every not-yet-completed transitive
// dependent as cancelled, returning the affected dependent IDs. The task
// stays in the graph so history queries keep working.
func (g *DependencyGraph) CancelCascade(taskID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.deps[taskID]; !exists {
		return nil
	}
	g.cancelled[taskID] = true

	var cascaded []string
	seen := map[string]bool{taskID: true}
	queue := append([]string(nil), g.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] || g.completed[id] {
			continue
		}
		seen[id] = true
		if !g.cancelled[id] {
			g.cancelled[id] = true
			cascaded = append(cascaded, id)
		}
		queue = append(queue, g.dependents[id]...)
	}
	return cascaded
}

// CriticalPathLength returns the length of the longest dependent chain
// starting at the given task, counting the task itself. Computed on demand;
// used as a scheduling priority hint.
func (g *DependencyGraph) CriticalPathLength(taskID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, exists := g.deps[taskID]; !exists {
		return 0
	}
	memo := make(map[string]int)
	var visit func(id string) int
	visit = func(id string) int {
		if n, ok := memo[id]; ok {
			return n
		}
		longest := 0
		for _, depID := range g.dependents[id] {
			if n := visit(depID); n > longest {
				longest = n
			}
		}
		memo[id] = longest + 1
		return longest + 1
	}
	return visit(taskID)
}

// TopologicalSort returns task IDs in an order where all dependencies come
// before the tasks that depend on them.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var result []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.deps[id] {
			visit(depID)
		}
		result = append(result, id)
	}
	for id := range g.deps {
		visit(id)
	}
	return result, nil
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// Dependencies returns the IDs of tasks the given task directly depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[taskID]...)
}

// Contains reports whether the task is in the graph.
func (g *DependencyGraph) Contains(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[taskID]
	return ok
}

// Completed reports whether the task has been marked completed.
func (g *DependencyGraph) Completed(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.completed[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.deps)
}
