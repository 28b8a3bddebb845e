package backend

import (
	"context"
	"sync"
	"sync/atomic"
)

// Fake is an in-memory Invoker for tests and dry runs. Failures can be
// scripted per endpoint; every call is recorded.
type Fake struct {
	mu sync.Mutex
	// failures maps endpoint to the number of calls that should fail
	// before the endpoint starts succeeding.
	failures map[string]int
	// responses maps endpoint to a canned response.
	responses map[string][]byte
	// err is returned for scripted failures.
	err error

	calls atomic.Uint64
}

// NewFake creates a Fake that succeeds on every call with an empty result.
func NewFake() *Fake {
	return &Fake{
		failures:  make(map[string]int),
		responses: make(map[string][]byte),
	}
}

// FailNext makes the next n calls to an endpoint return err.
func (f *Fake) FailNext(endpoint string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[endpoint] = n
	f.err = err
}

// Respond sets the canned response for an endpoint.
func (f *Fake) Respond(endpoint string, result []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[endpoint] = result
}

// Calls returns how many invocations reached the fake.
func (f *Fake) Calls() uint64 {
	return f.calls.Load()
}

// Invoke implements Invoker.
func (f *Fake) Invoke(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failures[endpoint]; n > 0 {
		f.failures[endpoint] = n - 1
		return nil, f.err
	}
	if resp, ok := f.responses[endpoint]; ok {
		return resp, nil
	}
	return []byte("ok"), nil
}
