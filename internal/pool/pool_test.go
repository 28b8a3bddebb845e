package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/convoy-engine/convoy/internal/backend"
)

func fakeDialer() backend.Dialer {
	return func(ctx context.Context) (backend.Invoker, error) {
		return backend.NewFake(), nil
	}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg, fakeDialer())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Drain(ctx)
	})
	return p
}

func TestAcquireCreatesUpToCapacity(t *testing.T) {
	p := newTestPool(t, Config{MaxSize: 2, WaitTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if c1.ID == c2.ID {
		t.Error("expected distinct connections")
	}

	stats := p.Stats()
	if stats.InUse != 2 || stats.Live != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	p.Release(c1)
	p.Release(c2)
}

func TestAcquireReusesIdleConnection(t *testing.T) {
	p := newTestPool(t, Config{MaxSize: 2, WaitTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	c1, _ := p.Acquire(ctx)
	id := c1.ID
	p.Release(c1)

	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if c2.ID != id {
		t.Errorf("expected reuse of %s, got %s", id, c2.ID)
	}
	p.Release(c2)
}

func TestSecondAcquireBlocksUntilRelease(t *testing.T) {
	p := newTestPool(t, Config{MaxSize: 1, WaitTimeout: 2 * time.Second})
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	got := make(chan *Conn, 1)
	errs := make(chan error, 1)
	go func() {
		c, err := p.Acquire(ctx)
		if err != nil {
			errs <- err
			return
		}
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("second acquire should block while the pool is at capacity")
	case err := <-errs:
		t.Fatalf("second acquire failed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(c1)
	select {
	case c := <-got:
		p.Release(c)
	case err := <-errs:
		t.Fatalf("second acquire failed after release: %v", err)
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

func TestAcquireTimesOutWithPoolExhausted(t *testing.T) {
	p := newTestPool(t, Config{MaxSize: 1, WaitTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	c1, _ := p.Acquire(ctx)
	defer p.Release(c1)

	_, err := p.Acquire(ctx)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestUnhealthyConnectionDiscardedOnRelease(t *testing.T) {
	p := newTestPool(t, Config{MaxSize: 1, WaitTimeout: time.Second})
	ctx := context.Background()

	c1, _ := p.Acquire(ctx)
	id := c1.ID
	c1.MarkUnhealthy()
	p.Release(c1)

	stats := p.Stats()
	if stats.Live != 0 {
		t.Errorf("expected discarded connection to free capacity, stats: %+v", stats)
	}

	c2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after discard: %v", err)
	}
	if c2.ID == id {
		t.Error("expected a fresh connection, not the discarded one")
	}
	p.Release(c2)
}

func TestDrainWaitsForOutstanding(t *testing.T) {
	p := New(Config{MaxSize: 1, WaitTimeout: time.Second}, fakeDialer())
	ctx := context.Background()

	c1, _ := p.Acquire(ctx)

	drained := make(chan error, 1)
	go func() {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		drained <- p.Drain(dctx)
	}()

	select {
	case <-drained:
		t.Fatal("drain should wait for the outstanding connection")
	case <-time.After(50 * time.Millisecond):
	}

	// New acquisitions are rejected while draining.
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrPoolDraining) {
		t.Fatalf("expected ErrPoolDraining, got %v", err)
	}

	p.Release(c1)
	if err := <-drained; err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestIdleSweepEvictsStaleConnections(t *testing.T) {
	p := newTestPool(t, Config{
		MaxSize:       2,
		WaitTimeout:   time.Second,
		IdleTimeout:   10 * time.Millisecond,
		SweepInterval: time.Hour, // sweep invoked directly below
	})
	ctx := context.Background()

	c1, _ := p.Acquire(ctx)
	p.Release(c1)
	time.Sleep(20 * time.Millisecond)
	p.sweepIdle()

	stats := p.Stats()
	if stats.Idle != 0 || stats.Live != 0 {
		t.Errorf("expected stale idle connection evicted, stats: %+v", stats)
	}
}
