package wire

import (
	"encoding/binary"
	"fmt"
)

// The four QoS 1/2 handshake acks (PUBACK, PUBREC, PUBREL, PUBCOMP)
// share one wire shape: a 2-byte packet id, and in v5.0 an optional
// reason code + properties tail that is omitted entirely when the
// reason is success and there are no properties. UNSUBACK has its own
// encoding below: the packet id, then in v5.0 a properties block
// followed by one reason code per filter.

type ackBody struct {
	PacketID   uint16
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (a ackBody) encode(dst []byte, packetType uint8, flags uint8) []byte {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, a.PacketID)
	if a.Version >= 5 && (a.ReasonCode != 0 || a.Properties != nil) {
		body = append(body, a.ReasonCode)
		body = appendProperties(body, a.Properties)
	}
	header := FixedHeader{PacketType: packetType, Flags: flags, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...)
}

func decodeAckBody(buf []byte, version uint8, name string) (ackBody, error) {
	if len(buf) < 2 {
		return ackBody{}, fmt.Errorf("wire: buffer too short for %s packet", name)
	}
	a := ackBody{PacketID: binary.BigEndian.Uint16(buf[0:2]), Version: version}
	if version >= 5 && len(buf) > 2 {
		a.ReasonCode = buf[2]
		if len(buf) > 3 {
			props, _, err := decodeProperties(buf[3:])
			if err != nil {
				return ackBody{}, fmt.Errorf("wire: failed to decode properties: %w", err)
			}
			a.Properties = props
		}
	}
	return a, nil
}

// PubackPacket is a QoS 1 publish acknowledgment.
type PubackPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (p *PubackPacket) Type() uint8 { return PUBACK }
func (p *PubackPacket) Encode(dst []byte) ([]byte, error) {
	return ackBody{p.PacketID, p.ReasonCode, p.Properties, p.Version}.encode(dst, PUBACK, 0), nil
}
func DecodePuback(buf []byte, version uint8) (*PubackPacket, error) {
	a, err := decodeAckBody(buf, version, "PUBACK")
	if err != nil {
		return nil, err
	}
	return &PubackPacket{a.PacketID, a.ReasonCode, a.Properties, a.Version}, nil
}

// PubrecPacket is step 1 of the QoS 2 handshake, sent by the receiver.
type PubrecPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (p *PubrecPacket) Type() uint8 { return PUBREC }
func (p *PubrecPacket) Encode(dst []byte) ([]byte, error) {
	return ackBody{p.PacketID, p.ReasonCode, p.Properties, p.Version}.encode(dst, PUBREC, 0), nil
}
func DecodePubrec(buf []byte, version uint8) (*PubrecPacket, error) {
	a, err := decodeAckBody(buf, version, "PUBREC")
	if err != nil {
		return nil, err
	}
	return &PubrecPacket{a.PacketID, a.ReasonCode, a.Properties, a.Version}, nil
}

// PubrelPacket is step 2 of the QoS 2 handshake, sent by the sender.
// Its fixed header reserves flags 0x02.
type PubrelPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (p *PubrelPacket) Type() uint8 { return PUBREL }
func (p *PubrelPacket) Encode(dst []byte) ([]byte, error) {
	return ackBody{p.PacketID, p.ReasonCode, p.Properties, p.Version}.encode(dst, PUBREL, 0x02), nil
}
func DecodePubrel(buf []byte, version uint8) (*PubrelPacket, error) {
	a, err := decodeAckBody(buf, version, "PUBREL")
	if err != nil {
		return nil, err
	}
	return &PubrelPacket{a.PacketID, a.ReasonCode, a.Properties, a.Version}, nil
}

// PubcompPacket is the final step of the QoS 2 handshake.
type PubcompPacket struct {
	PacketID   uint16
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (p *PubcompPacket) Type() uint8 { return PUBCOMP }
func (p *PubcompPacket) Encode(dst []byte) ([]byte, error) {
	return ackBody{p.PacketID, p.ReasonCode, p.Properties, p.Version}.encode(dst, PUBCOMP, 0), nil
}
func DecodePubcomp(buf []byte, version uint8) (*PubcompPacket, error) {
	a, err := decodeAckBody(buf, version, "PUBCOMP")
	if err != nil {
		return nil, err
	}
	return &PubcompPacket{a.PacketID, a.ReasonCode, a.Properties, a.Version}, nil
}

// UnsubackPacket acknowledges an UNSUBSCRIBE. In v5.0 it additionally
// carries one reason code per filter that was unsubscribed.
type UnsubackPacket struct {
	PacketID    uint16
	ReasonCodes []uint8 // v5.0 only, one per filter
	Properties  *Properties
	Version     uint8
}

func (p *UnsubackPacket) Type() uint8 { return UNSUBACK }

func (p *UnsubackPacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, p.PacketID)
	if p.Version >= 5 {
		body = appendProperties(body, p.Properties)
		body = append(body, p.ReasonCodes...)
	}
	header := FixedHeader{PacketType: UNSUBACK, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeUnsuback(buf []byte, version uint8) (*UnsubackPacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("wire: buffer too short for UNSUBACK packet")
	}
	pkt := &UnsubackPacket{PacketID: binary.BigEndian.Uint16(buf[0:2]), Version: version}
	offset := 2
	if version >= 5 {
		props, nProps, err := decodeProperties(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
		offset += nProps
		pkt.ReasonCodes = append([]uint8(nil), buf[offset:]...)
	}
	return pkt, nil
}
