// Package metrics samples the coordination subsystems on an interval and
// keeps a bounded history of snapshots for status queries and the TUI.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/convoy-engine/convoy/internal/breaker"
	"github.com/convoy-engine/convoy/internal/pool"
	"github.com/convoy-engine/convoy/internal/sched"
	"github.com/convoy-engine/convoy/internal/steal"
)

// Snapshot is one point-in-time reading of the whole engine.
type Snapshot struct {
	Timestamp     time.Time                  `json:"timestamp"`
	QueueDepth    int                        `json:"queue_depth"`
	AgentLoads    map[string]int             `json:"agent_loads"`
	Breakers      map[string]breaker.Metrics `json:"breakers"`
	Pool          pool.Stats                 `json:"pool"`
	Scheduler     sched.Stats                `json:"scheduler"`
	Stealer       steal.Stats                `json:"stealer"`
	EventsDropped uint64                     `json:"events_dropped"`
}

// Providers supplies the sample sources. Nil fields are skipped, so the
// collector works against a partially wired engine in tests.
type Providers struct {
	QueueDepth    func() int
	AgentLoads    func() map[string]int
	Breakers      func() map[string]breaker.Metrics
	Pool          func() pool.Stats
	Scheduler     func() sched.Stats
	Stealer       func() steal.Stats
	EventsDropped func() uint64
}

// Collector samples the providers periodically into a bounded ring.
type Collector struct {
	providers Providers
	interval  time.Duration

	mu      sync.RWMutex
	history []Snapshot
	limit   int
}

// NewCollector creates a collector keeping at most limit snapshots.
func NewCollector(providers Providers, interval time.Duration, limit int) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if limit <= 0 {
		limit = 120
	}
	return &Collector{
		providers: providers,
		interval:  interval,
		limit:     limit,
	}
}

// Run samples on the interval until the context is cancelled. One sample
// is taken immediately so Latest never starts empty.
func (c *Collector) Run(ctx context.Context) {
	c.SampleOnce()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SampleOnce()
		}
	}
}

// SampleOnce reads every provider and appends the snapshot to the history.
func (c *Collector) SampleOnce() Snapshot {
	snap := Snapshot{Timestamp: time.Now()}
	p := c.providers
	if p.QueueDepth != nil {
		snap.QueueDepth = p.QueueDepth()
	}
	if p.AgentLoads != nil {
		snap.AgentLoads = p.AgentLoads()
	}
	if p.Breakers != nil {
		snap.Breakers = p.Breakers()
	}
	if p.Pool != nil {
		snap.Pool = p.Pool()
	}
	if p.Scheduler != nil {
		snap.Scheduler = p.Scheduler()
	}
	if p.Stealer != nil {
		snap.Stealer = p.Stealer()
	}
	if p.EventsDropped != nil {
		snap.EventsDropped = p.EventsDropped()
	}

	c.mu.Lock()
	c.history = append(c.history, snap)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
	c.mu.Unlock()
	return snap
}

// Latest returns the most recent snapshot, if any has been taken.
func (c *Collector) Latest() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return Snapshot{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of the retained snapshots, oldest first.
func (c *Collector) History() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}
