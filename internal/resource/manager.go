// Package resource tracks allocatable capacity claimed by in-flight tasks.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/convoy-engine/convoy/pkg/models"
)

// ErrInsufficientResource indicates a claim could not be satisfied in full.
// Claims are all-or-nothing; nothing is held after this error.
var ErrInsufficientResource = errors.New("insufficient resource")

// ErrUnknownResource indicates the named resource is not registered.
var ErrUnknownResource = errors.New("unknown resource")

// Spec declares a resource at registration time.
type Spec struct {
	// Name identifies the resource.
	Name string `mapstructure:"name" json:"name"`
	// Capacity is the total number of claimable units.
	Capacity int64 `mapstructure:"capacity" json:"capacity"`
}

type resourceState struct {
	capacity int64
	claimed  int64
	// exclusiveBy is the task holding an exclusive claim, if any.
	exclusiveBy string
	// claims maps task ID to units held.
	claims map[string]int64
}

// Manager owns all resource capacity counters. Counters are mutated only
// through Claim and Release; the invariant that the sum of active claims
// never exceeds capacity holds under concurrent callers.
type Manager struct {
	mu        sync.Mutex
	resources map[string]*resourceState
}

// NewManager creates a manager with the given resource specs.
func NewManager(specs []Spec) *Manager {
	m := &Manager{resources: make(map[string]*resourceState, len(specs))}
	for _, s := range specs {
		m.resources[s.Name] = &resourceState{
			capacity: s.Capacity,
			claims:   make(map[string]int64),
		}
	}
	return m
}

// Register adds a resource after construction. Replaces any existing spec's
// capacity but keeps current claims.
func (m *Manager) Register(spec Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[spec.Name]; ok {
		r.capacity = spec.Capacity
		return
	}
	m.resources[spec.Name] = &resourceState{
		capacity: spec.Capacity,
		claims:   make(map[string]int64),
	}
}

// pendingUnits validates a request list against current state and returns
// the additional units it would claim per resource, plus the resources it
// would take exclusively. Requests naming the same resource more than once
// accumulate, so the capacity check sees their sum. Caller holds mu.
func (m *Manager) pendingUnits(taskID string, requests []models.ResourceRequest) (map[string]int64, map[string]bool, error) {
	pending := make(map[string]int64, len(requests))
	exclusive := make(map[string]bool)
	for _, req := range requests {
		r, ok := m.resources[req.Name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownResource, req.Name)
		}
		if r.exclusiveBy != "" && r.exclusiveBy != taskID {
			return nil, nil, fmt.Errorf("%w: %s held exclusively by task %s", ErrInsufficientResource, req.Name, r.exclusiveBy)
		}
		units := req.Units
		if req.Exclusive {
			if r.claimed > 0 && !(len(r.claims) == 1 && r.claims[taskID] > 0) {
				return nil, nil, fmt.Errorf("%w: %s has active claims, cannot take exclusively", ErrInsufficientResource, req.Name)
			}
			units = r.capacity - r.claims[taskID] - pending[req.Name]
			exclusive[req.Name] = true
		}
		if r.claimed+pending[req.Name]+units > r.capacity {
			return nil, nil, fmt.Errorf("%w: %s needs %d, %d available", ErrInsufficientResource,
				req.Name, pending[req.Name]+units, r.capacity-r.claimed)
		}
		pending[req.Name] += units
	}
	return pending, exclusive, nil
}

// Claim atomically checks every request against remaining capacity and
// records them all, or fails with ErrInsufficientResource and records
// nothing. Claiming twice for the same task adds to its existing claims.
func (m *Manager) Claim(taskID string, requests []models.ResourceRequest) error {
	if len(requests) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, exclusive, err := m.pendingUnits(taskID, requests)
	if err != nil {
		return err
	}
	for name, units := range pending {
		r := m.resources[name]
		r.claimed += units
		r.claims[taskID] += units
	}
	for name := range exclusive {
		m.resources[name].exclusiveBy = taskID
	}
	return nil
}

// Release returns all resources claimed by the task.
func (m *Manager) Release(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		if units, ok := r.claims[taskID]; ok {
			r.claimed -= units
			delete(r.claims, taskID)
		}
		if r.exclusiveBy == taskID {
			r.exclusiveBy = ""
		}
	}
}

// Availability returns remaining claimable units for a named resource.
// Unknown resources report zero.
func (m *Manager) Availability(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[name]
	if !ok {
		return 0
	}
	return r.capacity - r.claimed
}

// CanSatisfy reports whether the requests would currently fit, without
// claiming anything. Used by scheduling and work stealing decisions.
func (m *Manager) CanSatisfy(taskID string, requests []models.ResourceRequest) bool {
	if len(requests) == 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, err := m.pendingUnits(taskID, requests)
	return err == nil
}

// Snapshot returns name -> remaining capacity for every resource.
func (m *Manager) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.resources))
	for name, r := range m.resources {
		out[name] = r.capacity - r.claimed
	}
	return out
}
