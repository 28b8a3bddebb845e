// Package router delivers typed coordination events between components,
// agents, and external subscribers.
package router

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of coordination event.
type EventType string

const (
	// EventTaskQueued indicates a task became ready and was queued.
	EventTaskQueued EventType = "task_queued"
	// EventTaskAssigned indicates a task was assigned to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates a task began executing.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskStolen indicates a queued task migrated between agents.
	EventTaskStolen EventType = "task_stolen"
)

// Event is one coordination event. Events about the same task reach a given
// subscriber in emission order; there is no ordering guarantee across tasks.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// AgentID is the agent now responsible for the task, if any.
	AgentID string
	// FromAgentID is the previous owner for steal events.
	FromAgentID string
	// Message provides additional context.
	Message string
	// Err carries the failure cause for failure events.
	Err error
	// Attempt is the retry attempt for started/failed events.
	Attempt int
	// Timestamp is when the event was emitted.
	Timestamp time.Time
}

// subscriber owns a bounded queue. A slow subscriber never blocks
// publication: when its queue is full the oldest event is dropped and
// counted, which trades the at-least-once guarantee for liveness.
type subscriber struct {
	name    string
	mu      sync.Mutex
	ch      chan Event
	dropped atomic.Uint64
	closed  bool
}

// Router is an in-process publish/subscribe fan-out for coordination
// events. Delivery is at-least-once per subscriber while the subscriber
// keeps up; nothing survives a restart.
type Router struct {
	mu   sync.RWMutex
	subs []*subscriber
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// Subscribe registers a named subscriber with a bounded queue and returns
// its event channel plus an unsubscribe function. Buffer must be at least 1.
func (r *Router) Subscribe(name string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{name: name, ch: make(chan Event, buffer)}

	r.mu.Lock()
	r.subs = append(r.subs, s)
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		for i, sub := range r.subs {
			if sub == s {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
	return s.ch, unsubscribe
}

// Publish delivers the event to every subscriber. Publication never blocks;
// full subscriber queues drop their oldest event first.
func (r *Router) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.RLock()
	subs := append([]*subscriber(nil), r.subs...)
	r.mu.RUnlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

// deliver enqueues one event, dropping the oldest on overflow. The
// subscriber mutex serializes publishers so per-task emission order is
// preserved in the queue.
func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Queue full: evict the oldest, then enqueue.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns per-subscriber dropped-event counts.
func (r *Router) Dropped() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.subs))
	for _, s := range r.subs {
		out[s.name] = s.dropped.Load()
	}
	return out
}

// TotalDropped returns the total dropped events across subscribers.
func (r *Router) TotalDropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total uint64
	for _, s := range r.subs {
		total += s.dropped.Load()
	}
	return total
}

// Close unsubscribes everyone and closes their channels.
func (r *Router) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
}
