package transport

import "context"

// Handler processes one inbound request. A returned error is turned into an error reply by the adapter.
// Implementations must be safe for concurrent use by multiple goroutines.
type Handler interface {
	Handle(ctx context.Context, req Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) error

func (f HandlerFunc) Handle(ctx context.Context, req Request) error { return f(ctx, req) }
