// Package pool provides a bounded pool of reusable backend connections.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoy-engine/convoy/internal/backend"
)

// ErrPoolExhausted indicates no connection became available within the
// configured wait timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrPoolDraining indicates the pool is shutting down and rejects new
// acquisitions.
var ErrPoolDraining = errors.New("connection pool draining")

// handoff is what a blocked Acquire receives: a released connection, a
// grant to dial within freed capacity, or neither when the pool drains.
type handoff struct {
	conn  *Conn
	grant bool
}

// Config holds pool sizing and timeout settings.
type Config struct {
	// MaxSize is the maximum number of live connections.
	MaxSize int
	// IdleTimeout evicts idle connections older than this.
	IdleTimeout time.Duration
	// WaitTimeout bounds how long Acquire blocks at capacity.
	WaitTimeout time.Duration
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
}

// Conn is a pool-owned handle lent to exactly one caller at a time.
type Conn struct {
	// ID identifies the connection for logging and metrics.
	ID string

	invoker   backend.Invoker
	lastUsed  time.Time
	unhealthy bool
}

// Invoke forwards to the underlying backend session.
func (c *Conn) Invoke(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	return c.invoker.Invoke(ctx, endpoint, payload)
}

// MarkUnhealthy flags the connection so the pool discards it on release,
// freeing its capacity slot.
func (c *Conn) MarkUnhealthy() {
	c.unhealthy = true
}

// Stats is a point-in-time view of pool utilization.
type Stats struct {
	MaxSize int
	Live    int
	Idle    int
	InUse   int
}

// Utilization returns in-use connections as a fraction of capacity.
func (s Stats) Utilization() float64 {
	if s.MaxSize == 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.MaxSize)
}

// Pool is a bounded, reusable set of backend connections. Acquire blocks
// when all connections are checked out, until one is released or the wait
// timeout elapses.
type Pool struct {
	cfg  Config
	dial backend.Dialer

	mu       sync.Mutex
	idle     []*Conn
	live     int
	draining bool
	// waiters are handed released connections (or capacity grants) in FIFO
	// order.
	waiters []chan handoff
	// drained is closed when draining completes with zero outstanding conns.
	drained chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a pool. The dialer is called lazily as demand grows.
func New(cfg Config, dial backend.Dialer) *Pool {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	p := &Pool{
		cfg:     cfg,
		dial:    dial,
		drained: make(chan struct{}),
		stop:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// Acquire returns an idle healthy connection, dials a new one below
// capacity, or blocks until a connection is released. Fails with
// ErrPoolExhausted when the wait timeout elapses first.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrPoolDraining
	}

	// Prefer the most recently used idle connection.
	if c := p.popIdleLocked(); c != nil {
		p.mu.Unlock()
		return c, nil
	}

	if p.live < p.cfg.MaxSize {
		p.live++
		p.mu.Unlock()
		return p.dialConn(ctx)
	}

	// At capacity: queue as a waiter.
	ch := make(chan handoff, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	timeout := p.cfg.WaitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h := <-ch:
		switch {
		case h.conn != nil:
			return h.conn, nil
		case h.grant:
			// Granted capacity rather than a live connection.
			return p.dialConn(ctx)
		default:
			return nil, ErrPoolDraining
		}
	case <-timer.C:
		p.abandonWaiter(ch)
		return nil, fmt.Errorf("%w: waited %s", ErrPoolExhausted, timeout)
	case <-ctx.Done():
		p.abandonWaiter(ch)
		return nil, ctx.Err()
	}
}

// dialConn creates a new connection; the caller must already hold a
// capacity slot (p.live incremented).
func (p *Pool) dialConn(ctx context.Context) (*Conn, error) {
	invoker, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.grantCapacityLocked()
		p.checkDrainedLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("dial backend: %w", err)
	}
	return &Conn{
		ID:       uuid.New().String()[:8],
		invoker:  invoker,
		lastUsed: time.Now(),
	}, nil
}

// abandonWaiter removes ch from the waiter queue; if a handoff raced the
// timeout, the delivered connection or grant is returned to the pool.
func (p *Pool) abandonWaiter(ch chan handoff) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Not found: a handoff was already delivered.
	select {
	case h := <-ch:
		if h.conn != nil {
			p.Release(h.conn)
		} else if h.grant {
			p.mu.Lock()
			p.live--
			p.grantCapacityLocked()
			p.checkDrainedLocked()
			p.mu.Unlock()
		}
	default:
	}
}

// Release returns a connection to the idle set, or discards it if marked
// unhealthy, freeing its capacity.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.unhealthy {
		p.live--
		p.grantCapacityLocked()
		p.checkDrainedLocked()
		return
	}
	c.lastUsed = time.Now()

	// Hand directly to the oldest waiter if any.
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		ch <- handoff{conn: c}
		return
	}

	if p.draining {
		p.live--
		p.checkDrainedLocked()
		return
	}
	p.idle = append(p.idle, c)
}

// grantCapacityLocked wakes a waiter with a capacity grant (nil conn) after
// a slot was freed. Caller must hold p.mu.
func (p *Pool) grantCapacityLocked() {
	if len(p.waiters) == 0 || p.draining {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.live++
	ch <- handoff{grant: true}
}

func (p *Pool) popIdleLocked() *Conn {
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if c.unhealthy {
			p.live--
			continue
		}
		return c
	}
	return nil
}

// checkDrainedLocked signals drain completion once nothing is outstanding.
func (p *Pool) checkDrainedLocked() {
	if p.draining && p.live == len(p.idle) {
		select {
		case <-p.drained:
		default:
			close(p.drained)
		}
	}
}

// Drain prevents new acquisitions and waits until every outstanding
// connection has been released. Used for graceful shutdown.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	// Reject queued waiters immediately.
	for _, ch := range p.waiters {
		ch <- handoff{}
	}
	p.waiters = nil
	// Idle connections are no longer outstanding.
	p.live -= len(p.idle)
	p.idle = nil
	p.checkDrainedLocked()
	p.mu.Unlock()

	select {
	case <-p.drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	return nil
}

// Stats returns current utilization.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxSize: p.cfg.MaxSize,
		Live:    p.live,
		Idle:    len(p.idle),
		InUse:   p.live - len(p.idle),
	}
}

// sweepLoop evicts idle connections that outlived the idle timeout.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepIdle()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) sweepIdle() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.idle[:0]
	for _, c := range p.idle {
		if c.lastUsed.Before(cutoff) {
			p.live--
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
}
