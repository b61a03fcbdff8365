package mqttd

import "github.com/brokermq/core/internal/wire"

// v3ConnackFromReason maps a v5.0 CONNACK reason code to the
// legacy v3.1.1 CONNACK return code space (wire.ConnRefused*), used
// whenever the negotiated protocol version is 4.
func v3ConnackFromReason(reason uint8) uint8 {
	switch reason {
	case wire.RCUnsupportedProtocolVersion:
		return wire.ConnRefusedUnacceptableProtocol
	case wire.RCClientIdentifierNotValid:
		return wire.ConnRefusedIdentifierRejected
	case wire.RCServerUnavailable, wire.RCServerBusy, wire.RCBanned:
		return wire.ConnRefusedServerUnavailable
	case wire.RCBadUserNameOrPassword:
		return wire.ConnRefusedBadUsernameOrPassword
	case wire.RCNotAuthorized:
		return wire.ConnRefusedNotAuthorized
	case wire.RCSuccess:
		return wire.ConnAccepted
	default:
		return wire.ConnRefusedServerUnavailable
	}
}

// disconnectReasonFor translates a framework ProtocolError into the
// v5.0 reason code carried on the DISCONNECT
// sent to the peer as the connection winds down. v3.1.1 has no wire
// representation for any of these; callers only consult this under
// protocol version 5.
func disconnectReasonFor(kind ProtocolErrorKind) uint8 {
	switch kind {
	case ProtocolKeepAliveTimeout:
		return wire.RCKeepAliveTimeout
	case ProtocolDecode:
		return wire.RCMalformedPacket
	case ProtocolEncode, ProtocolIO:
		return wire.RCUnspecifiedError
	case ProtocolMaxSizeExceeded:
		return wire.RCPacketTooLarge
	case ProtocolReceiveMaxExceeded:
		return wire.RCReceiveMaximumExceeded
	case ProtocolAwaitRelTimeout:
		return wire.RCImplementationSpecificError
	case ProtocolUnexpected, ProtocolPacketIDMismatch:
		return wire.RCProtocolError
	default:
		return wire.RCUnspecifiedError
	}
}

// IsSuccess reports whether an MQTT v5.0 reason code indicates success
// (the 0x00-0x7F half of the code space).
func IsSuccess(code uint8) bool { return code < 0x80 }
