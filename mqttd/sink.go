package mqttd

import (
	"context"

	"github.com/brokermq/core/internal/wire"
)

// MqttSink is the user-visible handle for sending packets this
// connection initiates itself, rather than ones produced in direct
// response to an inbound frame: a broker-originated PUBLISH, or a
// subscribe/unsubscribe request when this package drives a client
// connection. Every clone shares the same MqttShared, so closing one
// closes the connection for all of them.
type MqttSink struct {
	shared *MqttShared
}

func newMqttSink(shared *MqttShared) *MqttSink {
	return &MqttSink{shared: shared}
}

// PublishAtMostOnce sends a QoS0 PUBLISH. It returns once the frame is
// handed to the dispatcher for writing (or an error if the connection
// is already closed); QoS0 has no acknowledgement to await.
func (s *MqttSink) PublishAtMostOnce(ctx context.Context, topic string, payload []byte, props *wire.Properties) error {
	if s.shared.isClosed() {
		return ErrDisconnected
	}
	pkt := &wire.PublishPacket{Topic: topic, Payload: payload, QoS: wire.QoS0, Version: s.shared.version, Properties: props}
	return s.shared.send(ctx, pkt)
}

// PublishAtLeastOnce sends a QoS1 PUBLISH and blocks until the peer's
// PUBACK is observed (or the connection closes, or ctx is cancelled).
func (s *MqttSink) PublishAtLeastOnce(ctx context.Context, topic string, payload []byte, props *wire.Properties) error {
	return s.publishAck(ctx, topic, payload, wire.QoS1, props)
}

// PublishExactlyOnce sends a QoS2 PUBLISH and drives the full
// PUBREC/PUBREL/PUBCOMP handshake, blocking until it completes.
func (s *MqttSink) PublishExactlyOnce(ctx context.Context, topic string, payload []byte, props *wire.Properties) error {
	return s.publishAck(ctx, topic, payload, wire.QoS2, props)
}

func (s *MqttSink) publishAck(ctx context.Context, topic string, payload []byte, qos uint8, props *wire.Properties) error {
	id, err := s.shared.allocID()
	if err != nil {
		return err
	}
	entry, err := s.shared.registerOutbound(ctx, id, qos)
	if err != nil {
		return err
	}

	pkt := &wire.PublishPacket{Topic: topic, Payload: payload, QoS: qos, PacketID: id, Version: s.shared.version, Properties: props}
	if err := s.shared.send(ctx, pkt); err != nil {
		s.shared.releaseOutbound(id)
		return err
	}

	select {
	case err := <-entry.done:
		s.shared.releaseOutbound(id)
		return err
	case <-ctx.Done():
		s.shared.releaseOutbound(id)
		return ctx.Err()
	}
}

// sendPubrel is called by the session dispatcher once a PUBREC has
// advanced a QoS2 outbound entry to waitPubcomp.
func (s *MqttSink) sendPubrel(ctx context.Context, id uint16) error {
	return s.shared.send(ctx, &wire.PubrelPacket{PacketID: id, Version: s.shared.version})
}

// Subscribe requests the given topic filters at the given QoS levels
// (client-mode use; a broker-side session normally receives
// SUBSCRIBE as an inbound ControlMessage instead of sending one).
func (s *MqttSink) Subscribe(ctx context.Context, topics []string, qos []uint8) error {
	if s.shared.isClosed() {
		return ErrDisconnected
	}
	id, err := s.shared.allocID()
	if err != nil {
		return err
	}
	pkt := &wire.SubscribePacket{PacketID: id, Topics: topics, QoS: qos, Version: s.shared.version}
	return s.shared.send(ctx, pkt)
}

// Unsubscribe requests the given topic filters be removed.
func (s *MqttSink) Unsubscribe(ctx context.Context, topics []string) error {
	if s.shared.isClosed() {
		return ErrDisconnected
	}
	id, err := s.shared.allocID()
	if err != nil {
		return err
	}
	pkt := &wire.UnsubscribePacket{PacketID: id, Topics: topics, Version: s.shared.version}
	return s.shared.send(ctx, pkt)
}

// Close begins a graceful shutdown: writes already queued drain
// before the connection ends.
func (s *MqttSink) Close() {
	s.shared.markClosed(ErrDisconnected)
	s.shared.dispatcher.Close()
}

// ForceClose abandons the connection immediately, failing every
// outstanding publish future with ErrDisconnected without waiting for
// queued writes to drain.
func (s *MqttSink) ForceClose() {
	s.shared.markClosed(ErrDisconnected)
	s.shared.dispatcher.ForceClose()
}
