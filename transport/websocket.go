package transport

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/brokermq/core/iopipe"
)

// AcceptWebSocket upgrades an incoming HTTP request to a WebSocket
// connection negotiating the "mqtt" subprotocol, and adapts it to
// iopipe.Transport. Use it inside an http.Handler registered for the
// broker's WebSocket listen path.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (iopipe.Transport, error) {
	if opts == nil {
		opts = &websocket.AcceptOptions{}
	}
	opts.Subprotocols = append(opts.Subprotocols, "mqtt")

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	return NewConnTransport(websocket.NetConn(context.Background(), conn, websocket.MessageBinary)), nil
}
