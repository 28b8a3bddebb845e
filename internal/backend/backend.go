// Package backend defines the boundary to the external execution backend.
// The coordination core never interprets payload or result contents.
package backend

import "context"

// Invoker is the single abstract operation the core performs against the
// external backend.
type Invoker interface {
	// Invoke sends an opaque payload to an endpoint and returns the opaque
	// result. Implementations are expected to be safe for concurrent use.
	Invoke(ctx context.Context, endpoint string, payload []byte) ([]byte, error)
}

// Dialer creates a fresh backend session. The connection pool uses it to
// grow up to its capacity.
type Dialer func(ctx context.Context) (Invoker, error)
