// Package iopipe implements a generic, protocol-agnostic framed
// dispatcher: it couples a decoder/encoder to a user-supplied
// asynchronous request/response service while enforcing ordered
// responses, bounded in-flight work, write back-pressure, keep-alive,
// and graceful shutdown. Nothing in this package knows about MQTT;
// the session layer built on top (package mqttd) supplies the Codec
// and Service.
package iopipe

import (
	"context"
	"io"
)

// Transport is the full-duplex byte stream a Dispatcher drives. It is
// deliberately minimal: callers adapt a net.Conn, a websocket, or any
// other duplex stream to this interface (see package transport).
//
// ReadContext and WriteContext must be safe to call from a single
// goroutine at a time each (one reader, one writer); they need not be
// safe for concurrent use with each other's concurrent counterpart
// beyond that. Cancelling ctx must cause a pending call to return
// promptly with ctx.Err().
type Transport interface {
	// ReadContext reads at least one byte into p, blocking until data
	// is available, ctx is done, or the stream is closed. It returns
	// io.EOF on a clean close.
	ReadContext(ctx context.Context, p []byte) (n int, err error)

	// WriteContext writes all of p, blocking until done, ctx is done,
	// or the stream fails.
	WriteContext(ctx context.Context, p []byte) (n int, err error)

	// Close abandons the connection immediately.
	io.Closer
}
