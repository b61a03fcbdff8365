package iopipe

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// memTransport is an in-memory Transport pairing a read source with a
// write sink, enough to drive a Dispatcher end to end in tests.
type memTransport struct {
	mu     sync.Mutex
	toRead []byte
	eof    bool
	readCh chan struct{}

	written []byte
	closed  bool
}

func newMemTransport() *memTransport {
	return &memTransport{readCh: make(chan struct{}, 1)}
}

func (m *memTransport) feed(b []byte) {
	m.mu.Lock()
	m.toRead = append(m.toRead, b...)
	m.mu.Unlock()
	select {
	case m.readCh <- struct{}{}:
	default:
	}
}

func (m *memTransport) feedEOF() {
	m.mu.Lock()
	m.eof = true
	m.mu.Unlock()
	select {
	case m.readCh <- struct{}{}:
	default:
	}
}

func (m *memTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	for {
		m.mu.Lock()
		if len(m.toRead) > 0 {
			n := copy(p, m.toRead)
			m.toRead = m.toRead[n:]
			m.mu.Unlock()
			return n, nil
		}
		if m.eof {
			m.mu.Unlock()
			return 0, io.EOF
		}
		m.mu.Unlock()

		select {
		case <-m.readCh:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (m *memTransport) WriteContext(ctx context.Context, p []byte) (int, error) {
	m.mu.Lock()
	m.written = append(m.written, p...)
	m.mu.Unlock()
	return len(p), nil
}

func (m *memTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// lineCodec treats '\n' as a frame delimiter: trivial, deterministic,
// and enough to exercise the ordering and back-pressure machinery
// without pulling in a real wire format.
type lineCodec struct{}

func (lineCodec) Decode(buf []byte) (Frame, int, error) {
	for i, b := range buf {
		if b == '\n' {
			return string(buf[:i]), i + 1, nil
		}
	}
	return nil, 0, nil
}

func (lineCodec) Encode(frame Frame, dst []byte) ([]byte, error) {
	s, ok := frame.(string)
	if !ok {
		return nil, errors.New("lineCodec: frame is not a string")
	}
	return append(dst, s+"\n"...), nil
}

// echoService uppercases nothing; it just reflects the frame back,
// with an artificial delay proportional to the frame's first byte so
// responses are likely to complete out of order.
type echoService struct{}

func (echoService) Call(ctx context.Context, item DispatchItem) (Frame, error) {
	if item.Kind != KindItem {
		return nil, nil
	}
	s := item.Frame.(string)
	if len(s) > 0 && s[0] == 'z' {
		time.Sleep(5 * time.Millisecond)
	}
	return "echo:" + s, nil
}

func TestDispatcherPreservesOrderAcrossOutOfOrderCompletion(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	timer := NewTimer(50 * time.Millisecond)
	defer timer.Stop()

	d := NewDispatcher(io, tr, lineCodec{}, echoService{}, timer, Config{InFlight: 8})

	tr.feed([]byte("zzz\nfast\n"))
	tr.feedEOF()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := string(tr.written)
	want := "echo:zzz\necho:fast\n"
	if got != want {
		t.Errorf("wire order = %q, want %q", got, want)
	}
}

// gatedService stalls every Call until release is closed, so a test
// can force a slot to still be in flight when Close/ForceClose fires.
type gatedService struct {
	release chan struct{}
}

func (g gatedService) Call(ctx context.Context, item DispatchItem) (Frame, error) {
	if item.Kind != KindItem {
		return nil, nil
	}
	<-g.release
	return "resp:" + item.Frame.(string), nil
}

func TestDispatcherCloseDrainsInFlightBeforeStopping(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	timer := NewTimer(50 * time.Millisecond)
	defer timer.Stop()

	svc := gatedService{release: make(chan struct{})}
	d := NewDispatcher(io, tr, lineCodec{}, svc, timer, Config{InFlight: 4})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	tr.feed([]byte("a\n"))
	time.Sleep(20 * time.Millisecond) // let the slot start and stall on the gate

	d.Close()
	time.Sleep(20 * time.Millisecond) // Close must not abort the in-flight call

	select {
	case <-done:
		t.Fatal("Run returned before the in-flight call completed; Close must drain, not abandon")
	default:
	}

	close(svc.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the in-flight call drained")
	}

	tr.mu.Lock()
	written := string(tr.written)
	tr.mu.Unlock()
	if written != "resp:a\n" {
		t.Errorf("written = %q, want %q (Close should drain the pending response)", written, "resp:a\n")
	}
	if d.State() != StateStopped {
		t.Errorf("state = %v, want %v", d.State(), StateStopped)
	}
}

func TestDispatcherForceCloseAbandonsInFlight(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	timer := NewTimer(50 * time.Millisecond)
	defer timer.Stop()

	svc := gatedService{release: make(chan struct{})}
	d := NewDispatcher(io, tr, lineCodec{}, svc, timer, Config{InFlight: 4})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	tr.feed([]byte("a\n"))
	time.Sleep(20 * time.Millisecond) // let the slot start and stall on the gate

	d.ForceClose()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after ForceClose, want it to abandon the in-flight call")
	}

	tr.mu.Lock()
	written := string(tr.written)
	tr.mu.Unlock()
	if written != "" {
		t.Errorf("written = %q, want empty (ForceClose must not wait for the in-flight response)", written)
	}
	if d.State() != StateStopped {
		t.Errorf("state = %v, want %v", d.State(), StateStopped)
	}

	close(svc.release) // unblock the stalled goroutine so it doesn't leak
}

func TestDispatcherKeepAliveTimeout(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	timer := NewTimer(5 * time.Millisecond)
	defer timer.Stop()

	var gotTimeout bool
	svc := ServiceFunc(func(ctx context.Context, item DispatchItem) (Frame, error) {
		if item.Kind == KindKeepAliveTimeout {
			gotTimeout = true
		}
		return nil, nil
	})

	d := NewDispatcher(io, tr, lineCodec{}, svc, timer, Config{InFlight: 8, KeepAlive: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	tr.feedEOF()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after keep-alive shutdown")
	}

	if !gotTimeout {
		t.Errorf("expected a KindKeepAliveTimeout item, got none")
	}
	if d.State() != StateStopped {
		t.Errorf("state = %v, want %v", d.State(), StateStopped)
	}
}

func TestDispatcherInjectWritesOutOfBand(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	timer := NewTimer(50 * time.Millisecond)
	defer timer.Stop()

	d := NewDispatcher(io, tr, lineCodec{}, echoService{}, timer, Config{InFlight: 8})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if err := d.Inject(ctx, "pushed"); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	tr.feed([]byte("hi\n"))
	tr.feedEOF()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	got := string(tr.written)
	want1 := "pushed\necho:hi\n"
	want2 := "echo:hi\npushed\n"
	if got != want1 && got != want2 {
		t.Errorf("wire output = %q, want either %q or %q", got, want1, want2)
	}
}

func TestDispatcherServiceErrorAbortsConnection(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	timer := NewTimer(50 * time.Millisecond)
	defer timer.Stop()

	boom := errors.New("boom")
	svc := ServiceFunc(func(ctx context.Context, item DispatchItem) (Frame, error) {
		return nil, boom
	})

	d := NewDispatcher(io, tr, lineCodec{}, svc, timer, Config{InFlight: 8})
	tr.feed([]byte("hello\n"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := d.Run(ctx)
	if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
}
