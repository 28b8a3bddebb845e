package breaker

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestClosedCountsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("e", 3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Execute(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}

	// Success resets the counter.
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("success call: %v", err)
	}
	for i := 0; i < 2; i++ {
		b.Execute(fail)
	}
	if b.State() != StateClosed {
		t.Fatalf("counter should have reset, got %s", b.State())
	}
}

func TestOpensAtThresholdAndRejects(t *testing.T) {
	b := NewBreaker("e", 3, time.Minute)

	for i := 0; i < 3; i++ {
		b.Execute(fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("open circuit must not reach the backend")
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	b := NewBreaker("e", 1, time.Minute)
	b.Execute(fail)

	// Move the clock past the cool-down.
	opened := time.Now()
	b.now = func() time.Time { return opened.Add(2 * time.Minute) }

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("probe should be admitted and succeed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
	m := b.Metrics()
	if m.Failures != 0 {
		t.Errorf("expected failure counter reset, got %d", m.Failures)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	b := NewBreaker("e", 1, time.Minute)
	b.Execute(fail)

	opened := time.Now()
	b.now = func() time.Time { return opened.Add(2 * time.Minute) }

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("probe should reach the backend: %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected reopened after probe failure, got %s", b.State())
	}

	// Cool-down restarted; an immediate call is still rejected.
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen during restarted cool-down, got %v", err)
	}
}

func TestConcurrentProbeSerialized(t *testing.T) {
	b := NewBreaker("e", 1, time.Minute)
	b.Execute(fail)

	opened := time.Now()
	b.now = func() time.Time { return opened.Add(2 * time.Minute) }

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// While the probe is in flight, other callers are rejected.
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected competitor rejected with ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestManagerPerEndpointIsolation(t *testing.T) {
	m := NewManager(2, time.Minute)

	m.Execute("a", fail)
	m.Execute("a", fail)
	if err := m.Execute("a", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("endpoint a should be open: %v", err)
	}
	if err := m.Execute("b", succeed); err != nil {
		t.Fatalf("endpoint b should be unaffected: %v", err)
	}

	got, ok := m.Metrics("a")
	if !ok || got.State != StateOpen {
		t.Fatalf("expected open metrics for a, got %+v ok=%v", got, ok)
	}
	if _, ok := m.Metrics("never-called"); ok {
		t.Error("unknown endpoint should have no metrics")
	}
}

func TestManagerReset(t *testing.T) {
	m := NewManager(1, time.Hour)
	m.Execute("a", fail)
	if err := m.Execute("a", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open, got %v", err)
	}
	m.Reset("a")
	if err := m.Execute("a", succeed); err != nil {
		t.Fatalf("expected pass-through after reset, got %v", err)
	}
}

func TestManagerStateChangeHook(t *testing.T) {
	m := NewManager(1, time.Hour)
	var from, to State
	var fired bool
	m.SetStateChangeHook(func(endpoint string, f, tt State) {
		fired = true
		from, to = f, tt
	})
	m.Execute("a", fail)
	if !fired || from != StateClosed || to != StateOpen {
		t.Errorf("expected closed->open hook, fired=%v from=%s to=%s", fired, from, to)
	}
}
