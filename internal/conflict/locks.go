// Package conflict arbitrates concurrent mutation of shared tasks and
// resources using versioned optimistic locks.
package conflict

import (
	"errors"
	"fmt"
	"sync"
)

// ErrVersionConflict indicates a concurrent writer won the race; the caller
// must re-read and retry against the new version.
var ErrVersionConflict = errors.New("version conflict")

// ErrNotFound indicates the entity is not in the table.
var ErrNotFound = errors.New("entity not found")

type versioned struct {
	mu      sync.Mutex
	version int64
	value   any
}

// LockManager holds versioned snapshots of mutable shared entities. Every
// update is a compare-and-swap on the entity's version; there is no global
// write lock, so updates to unrelated entities never contend. Values stored
// here are treated as immutable snapshots: mutations must return a fresh
// value, never modify the stored one in place.
type LockManager struct {
	mu      sync.RWMutex
	entries map[string]*versioned
}

// NewLockManager creates an empty table.
func NewLockManager() *LockManager {
	return &LockManager{entries: make(map[string]*versioned)}
}

// Put inserts or replaces an entity unconditionally and returns the new
// version. Used for initial registration, not for racing updates.
func (m *LockManager) Put(id string, value any) int64 {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &versioned{}
		m.entries[id] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.version++
	e.value = value
	return e.version
}

// Get returns the current snapshot and version of an entity.
func (m *LockManager) Get(id string) (any, int64, bool) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.version, true
}

// TryUpdate applies mutate and increments the version only if
// expectedVersion matches the current version; otherwise it fails with
// ErrVersionConflict and nothing changes. mutate receives the current
// snapshot and returns the replacement; an error from mutate aborts the
// update without consuming the version.
func (m *LockManager) TryUpdate(id string, expectedVersion int64, mutate func(current any) (any, error)) (any, int64, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.version != expectedVersion {
		return nil, e.version, fmt.Errorf("%w: %s expected v%d, have v%d",
			ErrVersionConflict, id, expectedVersion, e.version)
	}
	next, err := mutate(e.value)
	if err != nil {
		return nil, e.version, err
	}
	e.version++
	e.value = next
	return next, e.version, nil
}

// Delete removes an entity from the table.
func (m *LockManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// IDs returns the IDs of every entity in the table.
func (m *LockManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of entities in the table.
func (m *LockManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
