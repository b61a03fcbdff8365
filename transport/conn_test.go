package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestConnTransportReadWriteRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	st := NewConnTransport(server)
	defer st.Close()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		n, err := st.ReadContext(ctx, buf)
		if err != nil {
			t.Errorf("ReadContext: %v", err)
			return
		}
		if string(buf[:n]) != "hello" {
			t.Errorf("ReadContext = %q, want hello", buf[:n])
		}
	}()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}
	<-done
}

func TestConnTransportReadRespectsContextDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	st := NewConnTransport(server)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	buf := make([]byte, 5)
	_, err := st.ReadContext(ctx, buf)
	if err == nil {
		t.Fatal("expected a deadline error, got nil")
	}
}

func TestConnTransportRemoteAddr(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	st := NewConnTransport(server)
	defer st.Close()

	if st.RemoteAddr() == nil {
		t.Fatal("RemoteAddr() = nil")
	}
}

func TestConnTransportCloseUnblocksRead(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	st := NewConnTransport(server)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 5)
		_, err := st.ReadContext(context.Background(), buf)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	st.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after Close, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("ReadContext did not unblock after Close")
	}
}
