package state

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".convoy", "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveCheckpoint("graph", []byte(`{"tasks":1}`)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := s.LoadCheckpoint("graph")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if string(got) != `{"tasks":1}` {
		t.Errorf("loaded %q", got)
	}

	// Overwrite replaces the value.
	if err := s.SaveCheckpoint("graph", []byte(`{"tasks":2}`)); err != nil {
		t.Fatalf("SaveCheckpoint overwrite: %v", err)
	}
	got, _ = s.LoadCheckpoint("graph")
	if string(got) != `{"tasks":2}` {
		t.Errorf("after overwrite loaded %q", got)
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadCheckpoint("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	s := openTestStore(t)
	s.SaveCheckpoint("k", []byte("v"))
	if err := s.DeleteCheckpoint("k"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if _, err := s.LoadCheckpoint("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing key is fine.
	if err := s.DeleteCheckpoint("k"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestTaskHistory(t *testing.T) {
	s := openTestStore(t)

	s.RecordTaskEvent("t1", "assigned", "a1", "")
	s.RecordTaskEvent("t1", "running", "a1", "")
	s.RecordTaskEvent("t1", "failed", "a1", "backend unavailable")
	s.RecordTaskEvent("t2", "assigned", "a2", "")

	hist, err := s.TaskHistory("t1")
	if err != nil {
		t.Fatalf("TaskHistory: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history length = %d", len(hist))
	}
	if hist[0].Status != "assigned" || hist[2].Status != "failed" {
		t.Errorf("history order wrong: %+v", hist)
	}
	if hist[2].Detail != "backend unavailable" {
		t.Errorf("detail = %q", hist[2].Detail)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.SaveCheckpoint("k", []byte("v"))
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.LoadCheckpoint("k")
	if err != nil || string(got) != "v" {
		t.Errorf("after reopen got %q err=%v", got, err)
	}
}
