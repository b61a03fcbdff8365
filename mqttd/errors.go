package mqttd

import (
	"errors"
	"fmt"

	"github.com/brokermq/core/internal/wire"
)

// Sentinel errors mirroring the taxonomy a connection can terminate with.
var (
	// ErrDisconnected is returned to a MqttSink caller once the peer has
	// hung up or the connection has been force-closed; no recovery.
	ErrDisconnected = errors.New("mqttd: disconnected")

	// ErrHandshakeTimeout is returned when no CONNECT arrives within the
	// configured handshake deadline.
	ErrHandshakeTimeout = errors.New("mqttd: handshake timeout")

	// ErrPacketIDsExhausted is returned by the packet-id allocator when
	// all 65535 non-zero ids are currently in use.
	ErrPacketIDsExhausted = errors.New("mqttd: packet ids exhausted")

	// ErrClosed is not returned by any operation in this package: sink
	// operations issued after Close or ForceClose report ErrDisconnected.
	ErrClosed = errors.New("mqttd: sink closed")
)

// ProtocolErrorKind distinguishes the sub-kinds of ProtocolError.
type ProtocolErrorKind int

const (
	ProtocolDecode ProtocolErrorKind = iota
	ProtocolEncode
	ProtocolIO
	ProtocolUnexpected
	ProtocolKeepAliveTimeout
	ProtocolReceiveMaxExceeded
	ProtocolPacketIDMismatch
	ProtocolMaxSizeExceeded
	ProtocolAwaitRelTimeout
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolDecode:
		return "decode"
	case ProtocolEncode:
		return "encode"
	case ProtocolIO:
		return "io"
	case ProtocolUnexpected:
		return "unexpected"
	case ProtocolKeepAliveTimeout:
		return "keep_alive_timeout"
	case ProtocolReceiveMaxExceeded:
		return "receive_max_exceeded"
	case ProtocolPacketIDMismatch:
		return "packet_id_mismatch"
	case ProtocolMaxSizeExceeded:
		return "max_size_exceeded"
	case ProtocolAwaitRelTimeout:
		return "await_rel_timeout"
	default:
		return "unknown"
	}
}

// ProtocolError is a connection-ending condition originating in the
// dispatcher or the session layer rather than a user service.
type ProtocolError struct {
	Kind       ProtocolErrorKind
	PacketType uint8 // set only for ProtocolUnexpected
	Context    string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Kind == ProtocolUnexpected {
		return fmt.Sprintf("mqttd: protocol error: unexpected %s: %s", wire.PacketNames[e.PacketType], e.Context)
	}
	if e.Err != nil {
		return fmt.Sprintf("mqttd: protocol error: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("mqttd: protocol error: %s", e.Kind)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServiceError wraps an error returned by a user handshake, publish, or
// control callback so it can be told apart from a framework-originated
// ProtocolError while still satisfying errors.Is/As against the
// original cause.
type ServiceError struct {
	Err error
}

func (e *ServiceError) Error() string { return fmt.Sprintf("mqttd: service error: %v", e.Err) }
func (e *ServiceError) Unwrap() error { return e.Err }

// MqttError carries a v5.0 reason code alongside the Go error, for
// callers that want to branch on the wire-level outcome of a publish,
// subscribe, or disconnect.
type MqttError struct {
	ReasonCode uint8
	Message    string
}

func (e *MqttError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mqttd: reason 0x%02X: %s", e.ReasonCode, e.Message)
	}
	return fmt.Sprintf("mqttd: reason 0x%02X", e.ReasonCode)
}
