package iopipe

import (
	"context"
	"testing"
	"time"
)

func TestIoStateNextAssemblesAcrossReads(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()

	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.feed([]byte("ab"))
		time.Sleep(5 * time.Millisecond)
		tr.feed([]byte("c\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := io.Next(ctx, tr, lineCodec{})
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if frame != "abc" {
		t.Errorf("frame = %q, want %q", frame, "abc")
	}
}

func TestIoStateNextReportsCleanEOF(t *testing.T) {
	tr := newMemTransport()
	tr.feedEOF()
	io := NewIoState()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := io.Next(ctx, tr, lineCodec{})
	if err != nil {
		t.Fatalf("expected nil error on clean EOF, got %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil frame on clean EOF, got %v", frame)
	}

	disconnected, ioErr := io.Disconnected()
	if !disconnected || ioErr != nil {
		t.Errorf("Disconnected() = (%v, %v), want (true, nil)", disconnected, ioErr)
	}
}

func TestIoStateBackpressureRoundTrip(t *testing.T) {
	tr := newMemTransport()
	io := NewIoState()
	io.SetBufferParams(0, 8, 2)

	if err := io.Send(context.Background(), tr, lineCodec{}, "0123456789"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	select {
	case ev := <-io.BackpressureEvents():
		if ev != BackpressureEnabled {
			t.Errorf("event = %v, want BackpressureEnabled", ev)
		}
	default:
		t.Fatal("expected a BackpressureEnabled event")
	}

	select {
	case ev := <-io.BackpressureEvents():
		if ev != BackpressureDisabled {
			t.Errorf("event = %v, want BackpressureDisabled", ev)
		}
	default:
		t.Fatal("expected a BackpressureDisabled event once the write drained")
	}
}
