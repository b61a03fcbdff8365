package mqttd

import (
	"time"

	"github.com/brokermq/core/internal/wire"
)

// Handshake is handed to the user handshake callback once a CONNECT
// has been decoded. It carries everything the callback needs to
// decide whether to accept the connection.
type Handshake struct {
	Connect *wire.ConnectPacket
	Version uint8

	// RemoteAddr is the transport-reported peer address, for logging
	// and authorization decisions. Serve fills it in only when the
	// iopipe.Transport also has a RemoteAddr() net.Addr method (as
	// transport.ConnTransport does); otherwise it is empty.
	RemoteAddr string
}

// HandshakeAck is what the handshake callback returns: either an
// acceptance (via Ok) carrying the caller's session state, or a
// rejection (via one of the reject helpers). St is the caller's
// per-connection application state type.
type HandshakeAck[St any] struct {
	accepted      bool
	state         St
	sessionPresent bool
	keepAlive      time.Duration
	keepAliveSet   bool
	reasonCode     uint8
	reasonString   string
}

// Ok accepts the connection with the given application state.
// sessionPresent controls the CONNACK session-present flag.
func Ok[St any](state St, sessionPresent bool) *HandshakeAck[St] {
	return &HandshakeAck[St]{accepted: true, state: state, sessionPresent: sessionPresent}
}

// IdleTimeout overrides the negotiated CONNECT keep-alive for this
// connection; zero disables the keep-alive watch entirely.
func (a *HandshakeAck[St]) IdleTimeout(d time.Duration) *HandshakeAck[St] {
	a.keepAlive = d
	a.keepAliveSet = true
	return a
}

// Reject builds a rejection with an arbitrary reason code and
// diagnostic string (v5.0 only; v3.1.1 connections get the code
// translated via v3ConnackFromReason and the string dropped).
func Reject[St any](reasonCode uint8, reasonString string) *HandshakeAck[St] {
	return &HandshakeAck[St]{reasonCode: reasonCode, reasonString: reasonString}
}

// BadUsernameOrPwd rejects with the "bad username or password" reason.
func BadUsernameOrPwd[St any]() *HandshakeAck[St] {
	return Reject[St](wire.RCBadUserNameOrPassword, "bad username or password")
}

// IdentifierRejected rejects with "client identifier not valid".
func IdentifierRejected[St any]() *HandshakeAck[St] {
	return Reject[St](wire.RCClientIdentifierNotValid, "client identifier not valid")
}

// NotAuthorized rejects with "not authorized".
func NotAuthorized[St any]() *HandshakeAck[St] {
	return Reject[St](wire.RCNotAuthorized, "not authorized")
}

// ServiceUnavailable rejects with "server unavailable".
func ServiceUnavailable[St any]() *HandshakeAck[St] {
	return Reject[St](wire.RCServerUnavailable, "server unavailable")
}

// Session is the accepted, post-handshake connection context handed
// to publish and control services for the remainder of the
// connection's lifetime. St is the caller's application state.
type Session[St any] struct {
	State St

	sink    *MqttSink
	shared  *MqttShared
	version uint8
}

// Sink returns the handle for sending packets this session initiates
// itself (server-pushed PUBLISH, or client-side subscribe/unsubscribe
// when this package is used to drive an MQTT client connection).
func (s *Session[St]) Sink() *MqttSink { return s.sink }

// Version reports the negotiated MQTT protocol level (4 = v3.1.1, 5 = v5.0).
func (s *Session[St]) Version() uint8 { return s.version }

// Stats returns a snapshot of the connection's packet/byte counters.
func (s *Session[St]) Stats() Stats { return s.shared.stats.snapshot() }
