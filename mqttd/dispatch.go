package mqttd

import (
	"context"

	"github.com/brokermq/core/internal/wire"
	"github.com/brokermq/core/iopipe"
)

// PublishService handles one inbound PUBLISH (any QoS) for a session
// carrying application state St. An error aborts the connection; QoS1
// and QoS2 acks are only written once this returns successfully.
type PublishService[St any] func(ctx context.Context, sess *Session[St], msg *PublishMessage) error

// ControlService handles everything that isn't a PUBLISH or a QoS ack.
// Returning (nil, nil) suppresses any ack (appropriate for
// ControlClosed); a non-nil error aborts the connection.
type ControlService[St any] func(ctx context.Context, sess *Session[St], msg *ControlMessage) (*ControlResult, error)

// Authenticator answers one step of the v5.0 enhanced-authentication
// exchange: given the peer's AUTH packet, it returns the next AUTH
// packet to send, or an error to abort the connection. Implementations
// live in package authn.
type Authenticator interface {
	Authenticate(ctx context.Context, in *wire.AuthPacket) (*wire.AuthPacket, error)
}

// AuthenticatorFactory builds one Authenticator per accepted
// connection, so exchanges that carry state across AUTH round trips
// (SCRAM-SHA-256's nonces and transcript hash, for instance) don't
// leak between sessions.
type AuthenticatorFactory func() Authenticator

// sessionService adapts the generic iopipe.Service contract to MQTT
// semantics: it is the C7 "session dispatcher" of the design, one
// instance per accepted connection.
type sessionService[St any] struct {
	sess    *Session[St]
	shared  *MqttShared
	publish PublishService[St]
	control ControlService[St]
	auth    Authenticator
	version uint8
}

// Call implements iopipe.Service.
func (d *sessionService[St]) Call(ctx context.Context, item iopipe.DispatchItem) (iopipe.Frame, error) {
	switch item.Kind {
	case iopipe.KindItem:
		d.shared.stats.packetsReceived.Add(1)
		return d.dispatchFrame(ctx, item.Frame)

	case iopipe.KindKeepAliveTimeout:
		return d.handleClosing(ctx, ProtocolKeepAliveTimeout, nil)

	case iopipe.KindDecoderError:
		return d.handleClosing(ctx, ProtocolDecode, item.Err)

	case iopipe.KindEncoderError:
		return d.handleClosing(ctx, ProtocolEncode, item.Err)

	case iopipe.KindIoError:
		return d.handleClosing(ctx, ProtocolIO, item.Err)

	case iopipe.KindWBackPressureEnabled, iopipe.KindWBackPressureDisabled:
		// No ControlMessage variant carries back-pressure; the
		// session layer absorbs it rather than surfacing it further,
		// per the variant list in the external service interface.
		return nil, nil

	default:
		return nil, nil
	}
}

// handleClosing services the three error kinds and the keep-alive
// timeout identically: under v5.0 it best-effort injects a DISCONNECT
// carrying the matching reason code (out of band, since the slot this
// Call belongs to is about to abort the connection and its own
// response would be dropped), delivers ControlClosed carrying the
// *ProtocolError so the application can release resources, then aborts
// with that same *ProtocolError.
func (d *sessionService[St]) handleClosing(ctx context.Context, kind ProtocolErrorKind, cause error) (iopipe.Frame, error) {
	if d.version >= 5 {
		reason := disconnectReasonFor(kind)
		_ = d.shared.send(ctx, &wire.DisconnectPacket{ReasonCode: reason, Version: d.version})
	}
	pe := &ProtocolError{Kind: kind, Err: cause}
	if d.control != nil {
		_, _ = d.control(ctx, d.sess, &ControlMessage{Kind: ControlClosed, Err: pe})
	}
	return nil, pe
}

func (d *sessionService[St]) dispatchFrame(ctx context.Context, frame any) (iopipe.Frame, error) {
	switch p := frame.(type) {
	case *wire.PublishPacket:
		return d.handlePublish(ctx, p)
	case *wire.PubackPacket:
		return nil, d.handlePuback(p)
	case *wire.PubrecPacket:
		return nil, d.handlePubrec(ctx, p)
	case *wire.PubrelPacket:
		return d.handlePubrel(ctx, p)
	case *wire.PubcompPacket:
		return nil, d.handlePubcomp(p)
	case *wire.SubscribePacket:
		return d.handleControl(ctx, &ControlMessage{Kind: ControlSubscribe, PacketID: p.PacketID, Topics: p.Topics, QoS: p.QoS, Properties: p.Properties}, p.PacketID, wire.SUBACK)
	case *wire.UnsubscribePacket:
		return d.handleControl(ctx, &ControlMessage{Kind: ControlUnsubscribe, PacketID: p.PacketID, Topics: p.Topics, Properties: p.Properties}, p.PacketID, wire.UNSUBACK)
	case *wire.PingreqPacket:
		return d.handlePing(ctx)
	case *wire.DisconnectPacket:
		return d.handleDisconnect(ctx, p)
	case *wire.AuthPacket:
		return d.handleAuth(ctx, p)
	default:
		return nil, &ProtocolError{Kind: ProtocolUnexpected, Context: "not valid after CONNECT"}
	}
}

func (d *sessionService[St]) handlePublish(ctx context.Context, p *wire.PublishPacket) (iopipe.Frame, error) {
	if p.QoS == wire.QoS2 {
		already, ok := d.shared.insertAwaitingRelease(p.PacketID)
		if !ok {
			return nil, &ProtocolError{Kind: ProtocolReceiveMaxExceeded, Context: "max_awaiting_rel exceeded"}
		}
		if already {
			return &wire.PubrecPacket{PacketID: p.PacketID, Version: d.version}, nil
		}
	}

	msg := &PublishMessage{
		Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Retain: p.Retain,
		Duplicate: p.Dup, PacketID: p.PacketID, Properties: p.Properties,
	}
	if err := d.publish(ctx, d.sess, msg); err != nil {
		return nil, &ServiceError{Err: err}
	}

	switch p.QoS {
	case wire.QoS1:
		return &wire.PubackPacket{PacketID: p.PacketID, Version: d.version}, nil
	case wire.QoS2:
		return &wire.PubrecPacket{PacketID: p.PacketID, Version: d.version}, nil
	default:
		return nil, nil
	}
}

func (d *sessionService[St]) handlePuback(p *wire.PubackPacket) error {
	entry, ok := d.shared.outboundEntryFor(p.PacketID)
	if !ok || entry.qos != wire.QoS1 {
		return nil
	}
	complete(entry, d.version, p.ReasonCode)
	return nil
}

func (d *sessionService[St]) handlePubrec(ctx context.Context, p *wire.PubrecPacket) error {
	entry, ok := d.shared.outboundEntryFor(p.PacketID)
	if !ok || entry.qos != wire.QoS2 {
		return nil
	}
	if d.version >= 5 && p.ReasonCode >= 0x80 {
		complete(entry, d.version, p.ReasonCode)
		return nil
	}
	entry.state = waitPubcomp
	return d.sess.sink.sendPubrel(ctx, p.PacketID)
}

func (d *sessionService[St]) handlePubrel(ctx context.Context, p *wire.PubrelPacket) (iopipe.Frame, error) {
	d.shared.removeAwaitingRelease(p.PacketID)
	return &wire.PubcompPacket{PacketID: p.PacketID, Version: d.version}, nil
}

func (d *sessionService[St]) handlePubcomp(p *wire.PubcompPacket) error {
	entry, ok := d.shared.outboundEntryFor(p.PacketID)
	if !ok || entry.state != waitPubcomp {
		return nil
	}
	complete(entry, d.version, p.ReasonCode)
	return nil
}

func complete(entry *outboundEntry, version uint8, reasonCode uint8) {
	var err error
	if version >= 5 && reasonCode >= 0x80 {
		err = &MqttError{ReasonCode: reasonCode}
	}
	select {
	case entry.done <- err:
	default:
	}
}

func (d *sessionService[St]) handlePing(ctx context.Context) (iopipe.Frame, error) {
	if d.control == nil {
		return &wire.PingrespPacket{}, nil
	}
	res, err := d.control(ctx, d.sess, &ControlMessage{Kind: ControlPing})
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	if res == nil {
		return nil, nil
	}
	d.maybeDisconnect(res)
	return &wire.PingrespPacket{}, nil
}

func (d *sessionService[St]) handleDisconnect(ctx context.Context, p *wire.DisconnectPacket) (iopipe.Frame, error) {
	if d.control == nil {
		return nil, nil
	}
	res, err := d.control(ctx, d.sess, &ControlMessage{Kind: ControlDisconnect, ReasonCode: p.ReasonCode, Properties: p.Properties})
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	d.maybeDisconnect(res)
	return nil, nil
}

// maybeDisconnect begins a graceful shutdown once res asks for one,
// after any ack built from it has already been handed back to the
// dispatcher for writing.
func (d *sessionService[St]) maybeDisconnect(res *ControlResult) {
	if res != nil && res.Disconnect && d.shared.dispatcher != nil {
		d.shared.dispatcher.Close()
	}
}

func (d *sessionService[St]) handleAuth(ctx context.Context, p *wire.AuthPacket) (iopipe.Frame, error) {
	if d.auth == nil {
		return nil, &ProtocolError{Kind: ProtocolUnexpected, PacketType: wire.AUTH, Context: "no Authenticator configured"}
	}
	out, err := d.auth.Authenticate(ctx, p)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	return out, nil
}

func (d *sessionService[St]) handleControl(ctx context.Context, msg *ControlMessage, packetID uint16, ackType uint8) (iopipe.Frame, error) {
	if d.control == nil {
		return nil, nil
	}
	res, err := d.control(ctx, d.sess, msg)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	if res == nil {
		return nil, nil
	}
	d.maybeDisconnect(res)
	switch ackType {
	case wire.SUBACK:
		return &wire.SubackPacket{PacketID: packetID, ReturnCodes: res.ReasonCodes, Properties: res.Properties, Version: d.version}, nil
	case wire.UNSUBACK:
		return &wire.UnsubackPacket{PacketID: packetID, ReasonCodes: res.ReasonCodes, Properties: res.Properties, Version: d.version}, nil
	default:
		return nil, nil
	}
}
