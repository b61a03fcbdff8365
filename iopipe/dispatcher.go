package iopipe

import (
	"context"
	"errors"
	"time"
)

// ErrDispatcherClosed is returned by Inject once the connection has
// closed and no further frames will be written.
var ErrDispatcherClosed = errors.New("iopipe: dispatcher closed")

// State is the Dispatcher's lifecycle.
type State int

const (
	StateRunning State = iota
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config bounds a Dispatcher's resource use.
type Config struct {
	// InFlight caps the number of decoded frames awaiting a Service
	// response at once. Reading from the transport pauses once this
	// many slots are occupied and resumes as slots free up.
	InFlight int
	// KeepAlive is the idle window after which, if no frame has
	// arrived, the Dispatcher delivers a KindKeepAliveTimeout item and
	// begins a graceful shutdown. Zero disables the keep-alive watch.
	KeepAlive time.Duration
	// DisconnectTimeout bounds how long ShuttingDown waits for
	// in-flight Service calls to drain before forcing Stopped. Zero
	// means wait indefinitely.
	DisconnectTimeout time.Duration
}

// Dispatcher drives one connection: it decodes frames off a Transport
// via a Codec, hands each to a Service, and writes back whatever the
// Service returns in the same order the frames were decoded — even
// though the Service calls themselves may complete out of order.
type Dispatcher struct {
	io        *IoState
	transport Transport
	codec     Codec
	svc       Service
	timer     *Timer
	cfg       Config

	injectCh chan Frame

	state State
}

// NewDispatcher wires together one connection's engine. timer is a
// shared clock the caller owns and stops independently of any single
// Dispatcher.
func NewDispatcher(io *IoState, t Transport, codec Codec, svc Service, timer *Timer, cfg Config) *Dispatcher {
	if cfg.InFlight <= 0 {
		cfg.InFlight = 16
	}
	return &Dispatcher{io: io, transport: t, codec: codec, svc: svc, timer: timer, cfg: cfg, injectCh: make(chan Frame, 64)}
}

// Inject enqueues frame to be written out independent of any decoded
// inbound slot — the path a session layer uses to push a frame it
// originated itself (e.g. a broker-initiated PUBLISH) rather than one
// produced in response to a request. Injected frames are written in
// the order Inject is called, interleaved with slot responses at
// whatever point the Run loop next wakes; callers needing a frame to
// land before/after a particular response must order their own calls
// accordingly. Blocks until there is room, ctx is cancelled, or the
// connection closes.
func (d *Dispatcher) Inject(ctx context.Context, frame Frame) error {
	select {
	case d.injectCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.io.Closed():
		return ErrDispatcherClosed
	}
}

// State reports the dispatcher's current lifecycle state. Safe to
// call only from the goroutine running Run; exported for tests that
// drive Run synchronously.
func (d *Dispatcher) State() State { return d.state }

// ForceClose abandons the connection immediately from any goroutine,
// without waiting for queued writes to drain. Run observes the
// closed IoState and unwinds on its next wake.
func (d *Dispatcher) ForceClose() { d.io.ForceClose() }

// Close signals the connection to end from any goroutine. Any writes
// already handed to Send or Inject before Close is observed are still
// attempted; Run unwinds on its next wake once the IoState reports
// closed.
func (d *Dispatcher) Close() { d.io.Close() }

type readOutcome struct {
	frame Frame
	err   error
}

type callResult struct {
	resp Frame
	err  error
}

type slot struct {
	item     DispatchItem
	resultCh chan callResult
	done     bool
	resp     Frame
	err      error
}

// Run decodes frames and drives the Service until the connection
// closes, the Service reports a fatal error, or ctx is cancelled. It
// returns the error that ended the connection, or nil on a clean
// peer-initiated close.
func (d *Dispatcher) Run(ctx context.Context) error {
	readerDone := make(chan struct{})
	permit := make(chan struct{}, 1)
	out := make(chan readOutcome, 1)
	go d.readerLoop(ctx, permit, out, readerDone)
	defer close(readerDone)

	var keepaliveHandle *Handle
	keepaliveCh := make(chan struct{}, 1)
	resetKeepalive := func() {
		if d.cfg.KeepAlive <= 0 {
			return
		}
		if keepaliveHandle != nil {
			keepaliveHandle.Stop()
		}
		keepaliveHandle = d.timer.After(d.cfg.KeepAlive, func() {
			select {
			case keepaliveCh <- struct{}{}:
			default:
			}
		})
	}
	resetKeepalive()
	defer func() {
		if keepaliveHandle != nil {
			keepaliveHandle.Stop()
		}
	}()

	var shutdownHandle *Handle
	shutdownDeadlineCh := make(chan struct{})
	armShutdownDeadline := func() {
		if d.cfg.DisconnectTimeout <= 0 {
			return
		}
		shutdownHandle = d.timer.After(d.cfg.DisconnectTimeout, func() {
			select {
			case <-shutdownDeadlineCh:
			default:
				close(shutdownDeadlineCh)
			}
		})
	}
	defer func() {
		if shutdownHandle != nil {
			shutdownHandle.Stop()
		}
	}()

	var queue []*slot
	var finalErr error
	closedCh := d.io.Closed()

	pushItem := func(item DispatchItem) {
		s := &slot{item: item, resultCh: make(chan callResult, 1)}
		queue = append(queue, s)
		go func() {
			resp, err := d.svc.Call(ctx, item)
			s.resultCh <- callResult{resp: resp, err: err}
		}()
	}

	beginShutdown := func() {
		if d.state != StateRunning {
			return
		}
		d.state = StateShuttingDown
		armShutdownDeadline()
	}

	grantPermit := func() {
		select {
		case permit <- struct{}{}:
		default:
		}
	}

	for d.state != StateStopped {
		// A ForceClose called while draining (closedCh already consumed
		// below) must still escalate to Stopped without waiting for the
		// queue; polling the flag here is cheap and keeps the select
		// from re-firing on an already-closed channel every iteration.
		if closedCh == nil && d.io.ForceClosed() {
			d.state = StateStopped
			break
		}

		if d.state == StateRunning && len(queue) < d.cfg.InFlight {
			grantPermit()
		}

		var headCh chan callResult
		if len(queue) > 0 && !queue[0].done {
			headCh = queue[0].resultCh
		}

		select {
		case outcome := <-out:
			if d.state == StateRunning {
				switch {
				case outcome.frame == nil && outcome.err == nil:
					// clean EOF: no item delivered, just begin the drain.
					beginShutdown()
				case outcome.err != nil:
					pushItem(classifyReadError(outcome.err))
					beginShutdown()
				default:
					resetKeepalive()
					pushItem(ItemFrame(outcome.frame))
				}
			}

		case res := <-headCh:
			queue[0].done = true
			queue[0].resp, queue[0].err = res.resp, res.err

		case frame := <-d.injectCh:
			if d.state != StateStopped {
				if err := d.io.Send(ctx, d.transport, d.codec, frame); err != nil {
					pushItem(classifyWriteError(err))
					beginShutdown()
				}
			}

		case ev := <-d.io.BackpressureEvents():
			if ev == BackpressureEnabled {
				pushItem(ItemBackpressureEnabled())
			} else {
				pushItem(ItemBackpressureDisabled())
			}

		case <-keepaliveCh:
			if d.state == StateRunning {
				pushItem(ItemKeepAliveTimeout())
				beginShutdown()
			}

		case <-shutdownDeadlineCh:
			d.state = StateStopped

		case <-ctx.Done():
			finalErr = ctx.Err()
			d.state = StateStopped

		case <-closedCh:
			closedCh = nil
			if d.io.ForceClosed() {
				d.state = StateStopped
			} else {
				beginShutdown()
			}
		}

		// Drain every consecutively-completed head slot, in order,
		// writing back whatever the Service returned.
	drain:
		for len(queue) > 0 {
			head := queue[0]
			if !head.done {
				select {
				case res := <-head.resultCh:
					head.done = true
					head.resp, head.err = res.resp, res.err
				default:
					break drain
				}
			}
			queue = queue[1:]

			if head.err != nil {
				finalErr = head.err
				d.state = StateStopped
				continue
			}
			if head.resp != nil {
				if err := d.io.Send(ctx, d.transport, d.codec, head.resp); err != nil {
					pushItem(classifyWriteError(err))
					beginShutdown()
				}
			}
		}

		if d.state == StateShuttingDown && len(queue) == 0 {
			d.state = StateStopped
		}
	}

	d.io.Close()
	_ = d.transport.Close()
	return finalErr
}

func (d *Dispatcher) readerLoop(ctx context.Context, permit <-chan struct{}, out chan<- readOutcome, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-permit:
		}

		frame, err := d.io.Next(ctx, d.transport, d.codec)
		select {
		case out <- readOutcome{frame: frame, err: err}:
		case <-done:
			return
		}
		if err != nil || frame == nil {
			return
		}
	}
}

// DecodeError wraps a Codec.Decode failure so the dispatcher can tell
// it apart from a plain transport error.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return "decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError wraps a Codec.Encode failure.
type EncodeError struct{ Err error }

func (e *EncodeError) Error() string { return "encode: " + e.Err.Error() }
func (e *EncodeError) Unwrap() error { return e.Err }

func classifyReadError(err error) DispatchItem {
	if de, ok := err.(*DecodeError); ok {
		return ItemDecoderError(de.Err)
	}
	return ItemIoError(err)
}

func classifyWriteError(err error) DispatchItem {
	if ee, ok := err.(*EncodeError); ok {
		return ItemEncoderError(ee.Err)
	}
	return ItemIoError(err)
}
