package metrics

import (
	"testing"
	"time"

	"github.com/convoy-engine/convoy/internal/pool"
)

func TestSampleOnceReadsProviders(t *testing.T) {
	depth := 3
	c := NewCollector(Providers{
		QueueDepth: func() int { return depth },
		AgentLoads: func() map[string]int { return map[string]int{"a1": 2} },
		Pool:       func() pool.Stats { return pool.Stats{MaxSize: 4, Live: 2, Idle: 1, InUse: 1} },
	}, time.Hour, 10)

	snap := c.SampleOnce()
	if snap.QueueDepth != 3 {
		t.Errorf("queue depth = %d", snap.QueueDepth)
	}
	if snap.AgentLoads["a1"] != 2 {
		t.Errorf("agent loads = %v", snap.AgentLoads)
	}
	if snap.Pool.InUse != 1 {
		t.Errorf("pool stats = %+v", snap.Pool)
	}
	if snap.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestNilProvidersSkipped(t *testing.T) {
	c := NewCollector(Providers{}, time.Hour, 10)
	snap := c.SampleOnce()
	if snap.QueueDepth != 0 || snap.AgentLoads != nil {
		t.Errorf("zero snapshot expected, got %+v", snap)
	}
}

func TestHistoryBounded(t *testing.T) {
	n := 0
	c := NewCollector(Providers{
		QueueDepth: func() int { n++; return n },
	}, time.Hour, 3)

	for i := 0; i < 5; i++ {
		c.SampleOnce()
	}
	hist := c.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	// Oldest retained sample is the third taken.
	if hist[0].QueueDepth != 3 || hist[2].QueueDepth != 5 {
		t.Errorf("history depths = %d..%d", hist[0].QueueDepth, hist[2].QueueDepth)
	}
	latest, ok := c.Latest()
	if !ok || latest.QueueDepth != 5 {
		t.Errorf("latest = %+v ok=%v", latest, ok)
	}
}

func TestLatestEmpty(t *testing.T) {
	c := NewCollector(Providers{}, time.Hour, 10)
	if _, ok := c.Latest(); ok {
		t.Error("expected no snapshot before first sample")
	}
}
