package mqttd

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/brokermq/core/internal/wire"
	"github.com/brokermq/core/iopipe"
)

// memTransport is a minimal in-memory iopipe.Transport, enough to
// drive a Dispatcher/MqttShared pair end to end without a real socket.
type memTransport struct {
	mu     sync.Mutex
	toRead []byte
	eof    bool
	readCh chan struct{}

	written []byte
}

func newMemTransport() *memTransport { return &memTransport{readCh: make(chan struct{}, 1)} }

func (m *memTransport) feed(b []byte) {
	m.mu.Lock()
	m.toRead = append(m.toRead, b...)
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

func (m *memTransport) Close() error { return nil }

// newTestSession spins up a live Dispatcher over a memTransport with a
// no-op session service, returning the MqttShared/MqttSink pair
// backing it and the running Dispatcher for teardown.
func newTestSession(t *testing.T, version uint8) (*MqttShared, *MqttSink, *iopipe.Dispatcher) {
	t.Helper()
	tr := newMemTransport()
	ioState := iopipe.NewIoState()
	codec := wire.NewCodec()
	codec.SetVersion(version)
	timer := iopipe.NewTimer(50 * time.Millisecond)
	t.Cleanup(timer.Stop)

	shared := newMqttShared(nil, version, 4, 0, 0)
	svc := iopipe.ServiceFunc(func(ctx context.Context, item iopipe.DispatchItem) (iopipe.Frame, error) {
		return nil, nil
	})
	d := iopipe.NewDispatcher(ioState, tr, codec, svc, timer, iopipe.Config{InFlight: 8})
	shared.dispatcher = d

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	return shared, newMqttSink(shared), d
}

func TestPublishAtMostOnceWrites(t *testing.T) {
	shared, sink, _ := newTestSession(t, 4)
	if err := sink.PublishAtMostOnce(context.Background(), "a/b", []byte("hi"), nil); err != nil {
		t.Fatalf("PublishAtMostOnce: %v", err)
	}
	if got := shared.stats.packetsSent.Load(); got != 1 {
		t.Errorf("packetsSent = %d, want 1", got)
	}
}

func TestPublishAtMostOnceRejectsAfterClose(t *testing.T) {
	shared, sink, _ := newTestSession(t, 4)
	shared.markClosed(ErrDisconnected)
	if err := sink.PublishAtMostOnce(context.Background(), "a/b", nil, nil); err != ErrDisconnected {
		t.Errorf("PublishAtMostOnce after close = %v, want ErrDisconnected", err)
	}
}

func TestPublishAtLeastOnceBlocksUntilPuback(t *testing.T) {
	shared, sink, _ := newTestSession(t, 4)

	done := make(chan error, 1)
	go func() {
		done <- sink.PublishAtLeastOnce(context.Background(), "a/b", []byte("hi"), nil)
	}()

	var id uint16
	for i := 0; i < 100; i++ {
		shared.mu.Lock()
		for k := range shared.outboundInFlight {
			id = k
		}
		shared.mu.Unlock()
		if id != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if id == 0 {
		t.Fatal("publish never registered an outbound entry")
	}

	entry, ok := shared.outboundEntryFor(id)
	if !ok {
		t.Fatal("outboundEntryFor returned not found")
	}
	complete(entry, 4, wire.RCSuccess)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("PublishAtLeastOnce: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PublishAtLeastOnce never returned")
	}

	if _, ok := shared.outboundEntryFor(id); ok {
		t.Errorf("outbound entry %d still tracked after completion", id)
	}
}

func TestPublishAtLeastOnceReleasesOnContextCancel(t *testing.T) {
	tr := newMemTransport()
	ioState := iopipe.NewIoState()
	codec := wire.NewCodec()
	codec.SetVersion(4)
	timer := iopipe.NewTimer(50 * time.Millisecond)
	t.Cleanup(timer.Stop)

	shared := newMqttShared(nil, 4, 1, 0, 0) // inflight=1 so a stuck permit is observable
	svc := iopipe.ServiceFunc(func(ctx context.Context, item iopipe.DispatchItem) (iopipe.Frame, error) {
		return nil, nil
	})
	d := iopipe.NewDispatcher(ioState, tr, codec, svc, timer, iopipe.Config{InFlight: 8})
	shared.dispatcher = d

	runCtx, cancelRun := context.WithCancel(context.Background())
	t.Cleanup(cancelRun)
	go d.Run(runCtx)

	sink := newMqttSink(shared)

	callCtx, cancelCall := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sink.PublishAtLeastOnce(callCtx, "a/b", []byte("hi"), nil)
	}()

	var id uint16
	for i := 0; i < 100; i++ {
		shared.mu.Lock()
		for k := range shared.outboundInFlight {
			id = k
		}
		shared.mu.Unlock()
		if id != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if id == 0 {
		t.Fatal("publish never registered an outbound entry")
	}

	cancelCall()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("PublishAtLeastOnce = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PublishAtLeastOnce never returned after ctx cancel")
	}

	if _, ok := shared.outboundEntryFor(id); ok {
		t.Errorf("outbound entry %d still tracked after ctx cancel", id)
	}

	// The inflight=1 semaphore permit must have been released too: a
	// second publish should succeed without blocking.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- sink.PublishAtLeastOnce(context.Background(), "a/b", []byte("hi"), nil)
	}()

	var secondID uint16
	for i := 0; i < 100; i++ {
		shared.mu.Lock()
		for k := range shared.outboundInFlight {
			secondID = k
		}
		shared.mu.Unlock()
		if secondID != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if secondID == 0 {
		t.Fatal("second publish never acquired the released semaphore permit")
	}

	entry, ok := shared.outboundEntryFor(secondID)
	if !ok {
		t.Fatal("outboundEntryFor returned not found for second publish")
	}
	complete(entry, 4, wire.RCSuccess)

	select {
	case err := <-secondDone:
		if err != nil {
			t.Fatalf("second PublishAtLeastOnce: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second PublishAtLeastOnce never returned")
	}
}

func TestCloseFailsOutstandingPublish(t *testing.T) {
	_, sink, _ := newTestSession(t, 4)

	done := make(chan error, 1)
	go func() {
		done <- sink.PublishExactlyOnce(context.Background(), "a/b", []byte("hi"), nil)
	}()

	time.Sleep(10 * time.Millisecond)
	sink.Close()

	select {
	case err := <-done:
		if err != ErrDisconnected {
			t.Errorf("PublishExactlyOnce after Close = %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PublishExactlyOnce never returned after Close")
	}
}
