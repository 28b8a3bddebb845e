package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies completed and the task is
	// queued for assignment.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusAssigned indicates the task has been handed to an agent but
	// execution has not started.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusRunning indicates the task is executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusAssigned,
		TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether moving from s to next is an allowed status
// transition. Failed tasks may re-enter ready when retries remain.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusReady || next == TaskStatusCancelled
	case TaskStatusReady:
		return next == TaskStatusAssigned || next == TaskStatusCancelled || next == TaskStatusFailed
	case TaskStatusAssigned:
		return next == TaskStatusRunning || next == TaskStatusReady || next == TaskStatusCancelled
	case TaskStatusRunning:
		// Ready re-entry covers tasks interrupted by shutdown; cancelled
		// covers cooperative cancellation.
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusCancelled || next == TaskStatusReady
	case TaskStatusFailed:
		return next == TaskStatusReady
	default:
		return false
	}
}

// ResourceRequest declares how many units of a named resource a task needs
// while it executes. Exclusive requests take the whole resource.
type ResourceRequest struct {
	// Name identifies the resource.
	Name string `json:"name"`
	// Units is the amount of capacity requested.
	Units int64 `json:"units"`
	// Exclusive requests the entire resource regardless of Units.
	Exclusive bool `json:"exclusive,omitempty"`
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Priority orders assignment; higher runs first.
	Priority int `json:"priority"`
	// Capabilities lists capabilities an agent must have to run this task.
	Capabilities []string `json:"capabilities,omitempty"`
	// Resources lists resource claims the task needs while running.
	Resources []ResourceRequest `json:"resources,omitempty"`
	// Tags group related tasks for affinity scheduling.
	Tags []string `json:"tags,omitempty"`
	// Endpoint is the backend endpoint the task is invoked against.
	Endpoint string `json:"endpoint,omitempty"`
	// Payload is the opaque request body sent to the backend.
	Payload string `json:"payload,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// MaxRetries bounds retries; zero means no retries.
	MaxRetries int `json:"max_retries,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// ReadyAt is when the task last became ready, if it has.
	ReadyAt *time.Time `json:"ready_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error contains the failure reason if the task failed.
	Error string `json:"error,omitempty"`
}

// CapabilitiesSatisfiedBy reports whether the agent capability set covers
// every capability the task requires.
func (t *Task) CapabilitiesSatisfiedBy(agentCaps []string) bool {
	if len(t.Capabilities) == 0 {
		return true
	}
	have := make(map[string]bool, len(agentCaps))
	for _, c := range agentCaps {
		have[c] = true
	}
	for _, c := range t.Capabilities {
		if !have[c] {
			return false
		}
	}
	return true
}

// SharesTag reports whether the task carries any of the given tags.
func (t *Task) SharesTag(tags []string) bool {
	if len(t.Tags) == 0 || len(tags) == 0 {
		return false
	}
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[tag] = true
	}
	for _, tag := range t.Tags {
		if set[tag] {
			return true
		}
	}
	return false
}
