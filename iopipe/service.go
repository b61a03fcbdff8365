package iopipe

import "context"

// Service is the user-supplied asynchronous request/response handler
// the Dispatcher drives. Call may be invoked for several DispatchItems
// concurrently (up to the configured in-flight bound); the Dispatcher
// itself guarantees that whatever Call returns is written to the wire
// in the order the corresponding DispatchItems were decoded, not the
// order the calls complete.
//
// Call must be cancellation-safe: the Dispatcher may abandon an
// in-flight Call (its result is simply discarded) during shutdown or
// when the connection future itself is cancelled. Implementations
// must not rely on cleanup code after the point of cancellation.
type Service interface {
	Call(ctx context.Context, item DispatchItem) (Frame, error)
}

// ServiceFunc adapts a plain function to Service.
type ServiceFunc func(ctx context.Context, item DispatchItem) (Frame, error)

func (f ServiceFunc) Call(ctx context.Context, item DispatchItem) (Frame, error) {
	return f(ctx, item)
}
