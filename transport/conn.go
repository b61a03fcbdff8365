// Package transport adapts real byte streams — a net.Conn (TCP, TLS)
// or a WebSocket connection — to iopipe.Transport, so mqttd.MqttServer
// can drive them without knowing which one it's holding.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/brokermq/core/iopipe"
)

// ConnTransport adapts a net.Conn to iopipe.Transport by translating
// ctx's deadline (if any) into the connection's read/write deadline
// around each call. Only the deadline is honoured: cancelling a ctx
// that has no deadline does not interrupt a Read or Write already
// blocked on conn (Close does), and a call cut short by the deadline
// returns the conn's timeout error rather than ctx.Err().
type ConnTransport struct {
	conn net.Conn
}

// NewConnTransport wraps conn. conn is typically the result of
// net.Listener.Accept or tls.Listener.Accept.
func NewConnTransport(conn net.Conn) *ConnTransport {
	return &ConnTransport{conn: conn}
}

var _ iopipe.Transport = (*ConnTransport)(nil)

func (t *ConnTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := t.applyDeadline(ctx, t.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	return t.conn.Read(p)
}

func (t *ConnTransport) WriteContext(ctx context.Context, p []byte) (int, error) {
	if err := t.applyDeadline(ctx, t.conn.SetWriteDeadline); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *ConnTransport) Close() error {
	return t.conn.Close()
}

func (t *ConnTransport) applyDeadline(ctx context.Context, set func(time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	return set(deadline)
}

// RemoteAddr returns the underlying connection's remote address;
// mqttd's Serve uses it to fill in Handshake.RemoteAddr.
func (t *ConnTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
