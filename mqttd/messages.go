package mqttd

import "github.com/brokermq/core/internal/wire"

// PublishMessage is what a publish service receives for every inbound
// PUBLISH, regardless of QoS. Properties is nil under v3.1.1 or when
// the v5.0 packet carried none.
type PublishMessage struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Duplicate  bool
	PacketID   uint16 // 0 for QoS0
	Properties *wire.Properties
}

// ControlKind tags the variant of a ControlMessage.
type ControlKind int

const (
	ControlPing ControlKind = iota
	ControlDisconnect
	ControlSubscribe
	ControlUnsubscribe
	ControlClosed
)

func (k ControlKind) String() string {
	switch k {
	case ControlPing:
		return "ping"
	case ControlDisconnect:
		return "disconnect"
	case ControlSubscribe:
		return "subscribe"
	case ControlUnsubscribe:
		return "unsubscribe"
	case ControlClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ControlMessage is delivered to the control service for everything
// that isn't a PUBLISH or a QoS ack: PING, DISCONNECT,
// SUBSCRIBE/UNSUBSCRIBE, and the informational "connection is ending"
// notice (ControlClosed) raised once for a keep-alive timeout or an
// I/O, decode, or encode error.
type ControlMessage struct {
	Kind ControlKind

	// Subscribe / Unsubscribe
	PacketID   uint16
	Topics     []string
	QoS        []uint8 // Subscribe only, one per Topics entry
	Properties *wire.Properties

	// Disconnect
	ReasonCode uint8

	// Closed
	Err error
}

// ControlResult is what a control service returns for a request that
// expects an ack packet on the wire; a nil *ControlResult (with a nil
// error) means "no response frame", appropriate for ControlClosed.
type ControlResult struct {
	// ReasonCodes is interpreted per ControlMessage.Kind: a single
	// code for Ping/Disconnect, one per topic for
	// Subscribe/Unsubscribe.
	ReasonCodes []uint8
	Properties  *wire.Properties
	// Disconnect requests the session begin shutdown after the ack
	// (if any) is written — set by a control service that wants to
	// close the connection in response to what it saw.
	Disconnect bool
}

// Ack builds the ControlResult a default handler returns: a single
// success reason code repeated once per expected ack slot (1 for
// Ping/Disconnect, len(msg.Topics) for Subscribe, where each
// granted QoS mirrors the request; 1 per topic at
// wire.RCSuccess for Unsubscribe).
func (m *ControlMessage) Ack() *ControlResult {
	switch m.Kind {
	case ControlSubscribe:
		codes := make([]uint8, len(m.Topics))
		for i, qos := range m.QoS {
			codes[i] = qos
		}
		return &ControlResult{ReasonCodes: codes}
	case ControlUnsubscribe:
		codes := make([]uint8, len(m.Topics))
		for i := range codes {
			codes[i] = wire.RCSuccess
		}
		return &ControlResult{ReasonCodes: codes}
	default:
		return &ControlResult{ReasonCodes: []uint8{wire.RCSuccess}}
	}
}
