// Package breaker implements per-endpoint failure isolation for calls to
// the external backend.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the endpoint is isolated and the call was
// rejected without reaching the backend.
var ErrCircuitOpen = errors.New("circuit open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits exactly one probe call.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics is an observability snapshot of a single breaker.
type Metrics struct {
	Endpoint     string
	State        State
	Failures     int
	TimeInState  time.Duration
	TotalTripped uint64
}

// Breaker is the failure-isolation state machine for one endpoint.
//
// closed: failures increment a counter that resets on success; reaching the
// threshold opens the circuit. open: calls fail with ErrCircuitOpen until
// the cool-down elapses, then the next call is admitted as the single
// half-open probe. half-open: probe success closes the circuit, probe
// failure reopens it and restarts the cool-down. Concurrent callers during
// a probe are rejected with ErrCircuitOpen.
type Breaker struct {
	endpoint  string
	threshold int
	coolDown  time.Duration

	mu        sync.Mutex
	state     State
	failures  int
	changedAt time.Time
	probing   bool
	tripped   uint64

	// now is overridable in tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker for the given endpoint.
func NewBreaker(endpoint string, threshold int, coolDown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{
		endpoint:  endpoint,
		threshold: threshold,
		coolDown:  coolDown,
		state:     StateClosed,
		now:       time.Now,
	}
	b.changedAt = b.now()
	return b
}

// Execute runs op through the breaker. It returns ErrCircuitOpen without
// calling op when the circuit is isolating the endpoint.
func (b *Breaker) Execute(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op()
	b.record(err)
	return err
}

// allow admits or rejects a call, performing the open -> half-open
// transition when the cool-down has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.changedAt) < b.coolDown {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.endpoint)
		}
		// Cool-down elapsed; this caller becomes the probe.
		b.transitionLocked(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: %s probe in flight", ErrCircuitOpen, b.endpoint)
		}
		b.probing = true
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.endpoint)
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err != nil {
			b.failures++
			if b.failures >= b.threshold {
				b.transitionLocked(StateOpen)
				b.tripped++
			}
		} else {
			b.failures = 0
		}
	case StateHalfOpen:
		b.probing = false
		if err != nil {
			b.transitionLocked(StateOpen)
			b.tripped++
		} else {
			b.transitionLocked(StateClosed)
			b.failures = 0
		}
	}
}

func (b *Breaker) transitionLocked(next State) {
	b.state = next
	b.changedAt = b.now()
}

// Reset manually closes the breaker and clears the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.probing = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns an observability snapshot.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		Endpoint:     b.endpoint,
		State:        b.state,
		Failures:     b.failures,
		TimeInState:  b.now().Sub(b.changedAt),
		TotalTripped: b.tripped,
	}
}

// Manager lazily creates and tracks one breaker per endpoint. Breakers are
// created on first use and persist for the process lifetime.
type Manager struct {
	threshold int
	coolDown  time.Duration

	mu       sync.Mutex
	breakers map[string]*Breaker

	// onStateChange, when set, is invoked outside the breaker lock after
	// Execute observes a state differing from the one before the call.
	onStateChange func(endpoint string, from, to State)
}

// NewManager creates a breaker manager with shared settings.
func NewManager(threshold int, coolDown time.Duration) *Manager {
	return &Manager{
		threshold: threshold,
		coolDown:  coolDown,
		breakers:  make(map[string]*Breaker),
	}
}

// SetStateChangeHook registers a callback for state transitions.
func (m *Manager) SetStateChangeHook(fn func(endpoint string, from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Get returns the breaker for an endpoint, creating it on first use.
func (m *Manager) Get(endpoint string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[endpoint]
	if !ok {
		b = NewBreaker(endpoint, m.threshold, m.coolDown)
		m.breakers[endpoint] = b
	}
	return b
}

// Execute runs op through the endpoint's breaker.
func (m *Manager) Execute(endpoint string, op func() error) error {
	b := m.Get(endpoint)
	before := b.State()
	err := b.Execute(op)
	after := b.State()

	m.mu.Lock()
	hook := m.onStateChange
	m.mu.Unlock()
	if hook != nil && before != after {
		hook(endpoint, before, after)
	}
	return err
}

// Metrics returns the snapshot for one endpoint, or false if the endpoint
// has never been called.
func (m *Manager) Metrics(endpoint string) (Metrics, bool) {
	m.mu.Lock()
	b, ok := m.breakers[endpoint]
	m.mu.Unlock()
	if !ok {
		return Metrics{}, false
	}
	return b.Metrics(), true
}

// AllMetrics returns snapshots for every known endpoint.
func (m *Manager) AllMetrics() map[string]Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Metrics, len(m.breakers))
	for endpoint, b := range m.breakers {
		out[endpoint] = b.Metrics()
	}
	return out
}

// Reset manually closes the breaker for an endpoint if it exists.
func (m *Manager) Reset(endpoint string) {
	m.mu.Lock()
	b, ok := m.breakers[endpoint]
	m.mu.Unlock()
	if ok {
		b.Reset()
	}
}
