package conflict

import (
	"errors"
	"sync"
	"testing"

	"github.com/convoy-engine/convoy/pkg/models"
)

func TestTryUpdateHappyPath(t *testing.T) {
	m := NewLockManager()
	v := m.Put("t1", models.Task{ID: "t1", Status: models.TaskStatusReady})

	updated, newV, err := m.TryUpdate("t1", v, func(cur any) (any, error) {
		task := cur.(models.Task)
		task.Status = models.TaskStatusAssigned
		return task, nil
	})
	if err != nil {
		t.Fatalf("TryUpdate: %v", err)
	}
	if newV != v+1 {
		t.Errorf("expected version %d, got %d", v+1, newV)
	}
	if updated.(models.Task).Status != models.TaskStatusAssigned {
		t.Errorf("mutation not applied")
	}
}

func TestTryUpdateStaleVersion(t *testing.T) {
	m := NewLockManager()
	v := m.Put("t1", models.Task{ID: "t1"})

	// A concurrent writer bumps the version.
	if _, _, err := m.TryUpdate("t1", v, func(cur any) (any, error) { return cur, nil }); err != nil {
		t.Fatalf("first update: %v", err)
	}

	_, cur, err := m.TryUpdate("t1", v, func(cur any) (any, error) { return cur, nil })
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if cur != v+1 {
		t.Errorf("conflict should report the current version %d, got %d", v+1, cur)
	}
}

func TestTryUpdateUnknownEntity(t *testing.T) {
	m := NewLockManager()
	_, _, err := m.TryUpdate("missing", 1, func(cur any) (any, error) { return cur, nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTryUpdateMutateErrorKeepsVersion(t *testing.T) {
	m := NewLockManager()
	v := m.Put("t1", models.Task{ID: "t1"})

	boom := errors.New("boom")
	_, _, err := m.TryUpdate("t1", v, func(cur any) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	if _, cur, _ := m.Get("t1"); cur != v {
		t.Errorf("failed mutate must not consume a version, have %d want %d", cur, v)
	}
}

func TestConcurrentTryUpdateExactlyOneWins(t *testing.T) {
	m := NewLockManager()
	v := m.Put("t1", models.Task{ID: "t1", Status: models.TaskStatusReady})

	const writers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	conflicts := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := m.TryUpdate("t1", v, func(cur any) (any, error) {
				task := cur.(models.Task)
				task.AssignedTo = "agent"
				return task, nil
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if conflicts != writers-1 {
		t.Fatalf("expected %d conflicts, got %d", writers-1, conflicts)
	}
	if _, cur, _ := m.Get("t1"); cur != v+1 {
		t.Errorf("final version should reflect exactly one update, got %d", cur)
	}
}
