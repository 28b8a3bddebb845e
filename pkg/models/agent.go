package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent has no assigned work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent has assigned or running work.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusDraining indicates the agent finishes current work but
	// accepts no new assignments.
	AgentStatusDraining AgentStatus = "draining"
	// AgentStatusOffline indicates the agent is not available.
	AgentStatusOffline AgentStatus = "offline"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusDraining, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// Assignable reports whether an agent in this status may receive new work.
func (s AgentStatus) Assignable() bool {
	return s == AgentStatusIdle || s == AgentStatusBusy
}

// Agent represents a worker capable of executing tasks.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities lists what kinds of tasks this agent can execute.
	Capabilities []string `json:"capabilities,omitempty"`
	// Load counts tasks currently assigned to or running on this agent.
	Load int `json:"load"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// LastCompletedTags are the tags of the most recently completed task,
	// used for affinity scheduling.
	LastCompletedTags []string `json:"last_completed_tags,omitempty"`
	// RegisteredAt is when the agent joined the pool.
	RegisteredAt time.Time `json:"registered_at"`
}
