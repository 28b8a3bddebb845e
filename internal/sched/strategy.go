package sched

import (
	"errors"
	"fmt"
	"sync"

	"github.com/convoy-engine/convoy/pkg/models"
)

// ErrNoCapableAgent indicates no eligible agent satisfies the task's
// capability requirements.
var ErrNoCapableAgent = errors.New("no capable agent")

// ErrNoAgents indicates there are no assignable agents at all.
var ErrNoAgents = errors.New("no assignable agents")

// Strategy selects an agent for a task. Implementations receive only
// assignable agents (idle or busy) and must be safe for concurrent use.
type Strategy interface {
	// Name identifies the strategy in config and logs.
	Name() string
	// Select returns the chosen agent's ID.
	Select(task models.Task, agents []models.Agent) (string, error)
}

// NewStrategy builds a strategy by config name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "capability", "":
		return &CapabilityStrategy{}, nil
	case "round_robin":
		return &RoundRobinStrategy{}, nil
	case "least_loaded":
		return &LeastLoadedStrategy{}, nil
	case "affinity":
		return NewAffinityStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown scheduling strategy %q", name)
	}
}

// CapabilityStrategy selects the least-loaded agent whose capability set
// covers the task's requirements.
type CapabilityStrategy struct{}

// Name implements Strategy.
func (s *CapabilityStrategy) Name() string { return "capability" }

// Select implements Strategy.
func (s *CapabilityStrategy) Select(task models.Task, agents []models.Agent) (string, error) {
	if len(agents) == 0 {
		return "", ErrNoAgents
	}
	best := ""
	bestLoad := 0
	for _, a := range agents {
		if !task.CapabilitiesSatisfiedBy(a.Capabilities) {
			continue
		}
		if best == "" || a.Load < bestLoad || (a.Load == bestLoad && a.ID < best) {
			best = a.ID
			bestLoad = a.Load
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: task %s requires %v", ErrNoCapableAgent, task.ID, task.Capabilities)
	}
	return best, nil
}

// RoundRobinStrategy cycles through capable agents regardless of load, for
// fairness under homogeneous capability.
type RoundRobinStrategy struct {
	mu   sync.Mutex
	next int
}

// Name implements Strategy.
func (s *RoundRobinStrategy) Name() string { return "round_robin" }

// Select implements Strategy.
func (s *RoundRobinStrategy) Select(task models.Task, agents []models.Agent) (string, error) {
	if len(agents) == 0 {
		return "", ErrNoAgents
	}
	var eligible []models.Agent
	for _, a := range agents {
		if task.CapabilitiesSatisfiedBy(a.Capabilities) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return "", fmt.Errorf("%w: task %s requires %v", ErrNoCapableAgent, task.ID, task.Capabilities)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chosen := eligible[s.next%len(eligible)]
	s.next++
	return chosen.ID, nil
}

// LeastLoadedStrategy selects the capable agent with the smallest current
// load; ties broken by agent ID for determinism.
type LeastLoadedStrategy struct{}

// Name implements Strategy.
func (s *LeastLoadedStrategy) Name() string { return "least_loaded" }

// Select implements Strategy.
func (s *LeastLoadedStrategy) Select(task models.Task, agents []models.Agent) (string, error) {
	// Same selection rule; capability filtering is shared.
	return (&CapabilityStrategy{}).Select(task, agents)
}

// AffinityStrategy prefers the agent that most recently completed a task
// sharing a tag with the candidate, falling back to least-loaded.
type AffinityStrategy struct {
	mu sync.RWMutex
	// lastAgent maps tag -> agent that most recently completed a task
	// carrying that tag.
	lastAgent map[string]string
	fallback  LeastLoadedStrategy
}

// NewAffinityStrategy creates an affinity strategy with no history.
func NewAffinityStrategy() *AffinityStrategy {
	return &AffinityStrategy{lastAgent: make(map[string]string)}
}

// Name implements Strategy.
func (s *AffinityStrategy) Name() string { return "affinity" }

// RecordCompletion notes which agent last finished work for each tag.
func (s *AffinityStrategy) RecordCompletion(agentID string, tags []string) {
	if len(tags) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		s.lastAgent[tag] = agentID
	}
}

// Select implements Strategy.
func (s *AffinityStrategy) Select(task models.Task, agents []models.Agent) (string, error) {
	s.mu.RLock()
	var preferred string
	for _, tag := range task.Tags {
		if agentID, ok := s.lastAgent[tag]; ok {
			preferred = agentID
			break
		}
	}
	s.mu.RUnlock()

	if preferred != "" {
		for _, a := range agents {
			if a.ID == preferred && task.CapabilitiesSatisfiedBy(a.Capabilities) {
				return a.ID, nil
			}
		}
	}
	return s.fallback.Select(task, agents)
}
