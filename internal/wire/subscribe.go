package wire

import (
	"encoding/binary"
	"fmt"
)

// SubscribePacket is an MQTT SUBSCRIBE control packet. Its fixed
// header reserves flags 0x02.
type SubscribePacket struct {
	PacketID uint16
	Topics   []string
	QoS      []uint8

	// v5.0 subscription options, one entry per Topics index.
	NoLocal           []bool
	RetainAsPublished []bool
	RetainHandling    []uint8

	Properties *Properties
	Version    uint8
}

func (p *SubscribePacket) Type() uint8 { return SUBSCRIBE }

func (p *SubscribePacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, p.PacketID)
	if p.Version >= 5 {
		body = appendProperties(body, p.Properties)
	}
	for i, topic := range p.Topics {
		body = appendString(body, topic)

		var opts byte
		qos := uint8(QoS0)
		if i < len(p.QoS) {
			qos = p.QoS[i]
		}
		opts |= qos & 0x03
		if p.Version >= 5 {
			if i < len(p.NoLocal) && p.NoLocal[i] {
				opts |= 1 << 2
			}
			if i < len(p.RetainAsPublished) && p.RetainAsPublished[i] {
				opts |= 1 << 3
			}
			if i < len(p.RetainHandling) {
				opts |= (p.RetainHandling[i] & 0x03) << 4
			}
		}
		body = append(body, opts)
	}

	header := FixedHeader{PacketType: SUBSCRIBE, Flags: 0x02, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeSubscribe(buf []byte, version uint8) (*SubscribePacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("wire: buffer too short for SUBSCRIBE packet")
	}
	pkt := &SubscribePacket{Version: version}
	offset := 0
	pkt.PacketID = binary.BigEndian.Uint16(buf[offset : offset+2])
	offset += 2

	if version >= 5 {
		props, n, err := decodeProperties(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
		offset += n
	}

	for offset < len(buf) {
		topic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode topic filter: %w", err)
		}
		offset += n
		if offset >= len(buf) {
			return nil, fmt.Errorf("wire: buffer too short for subscription options byte")
		}
		opts := buf[offset]
		offset++

		pkt.Topics = append(pkt.Topics, topic)
		pkt.QoS = append(pkt.QoS, opts&0x03)
		if version >= 5 {
			pkt.NoLocal = append(pkt.NoLocal, opts&(1<<2) != 0)
			pkt.RetainAsPublished = append(pkt.RetainAsPublished, opts&(1<<3) != 0)
			pkt.RetainHandling = append(pkt.RetainHandling, (opts>>4)&0x03)
		}
	}
	return pkt, nil
}

// SubackPacket acknowledges a SUBSCRIBE with one return/reason code
// per requested filter.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []uint8
	Properties  *Properties
	Version     uint8
}

func (p *SubackPacket) Type() uint8 { return SUBACK }

func (p *SubackPacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, p.PacketID)
	if p.Version >= 5 {
		body = appendProperties(body, p.Properties)
	}
	body = append(body, p.ReturnCodes...)

	header := FixedHeader{PacketType: SUBACK, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeSuback(buf []byte, version uint8) (*SubackPacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("wire: buffer too short for SUBACK packet")
	}
	pkt := &SubackPacket{Version: version}
	offset := 0
	pkt.PacketID = binary.BigEndian.Uint16(buf[offset : offset+2])
	offset += 2

	if version >= 5 {
		props, n, err := decodeProperties(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
		offset += n
	}

	if offset < len(buf) {
		pkt.ReturnCodes = append([]uint8(nil), buf[offset:]...)
	}
	return pkt, nil
}

// UnsubscribePacket is an MQTT UNSUBSCRIBE control packet. Its fixed
// header reserves flags 0x02.
type UnsubscribePacket struct {
	PacketID   uint16
	Topics     []string
	Properties *Properties
	Version    uint8
}

func (p *UnsubscribePacket) Type() uint8 { return UNSUBSCRIBE }

func (p *UnsubscribePacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, p.PacketID)
	if p.Version >= 5 {
		body = appendProperties(body, p.Properties)
	}
	for _, topic := range p.Topics {
		body = appendString(body, topic)
	}

	header := FixedHeader{PacketType: UNSUBSCRIBE, Flags: 0x02, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeUnsubscribe(buf []byte, version uint8) (*UnsubscribePacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("wire: buffer too short for UNSUBSCRIBE packet")
	}
	pkt := &UnsubscribePacket{Version: version}
	offset := 0
	pkt.PacketID = binary.BigEndian.Uint16(buf[offset : offset+2])
	offset += 2

	if version >= 5 {
		props, n, err := decodeProperties(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
		offset += n
	}

	for offset < len(buf) {
		topic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode topic filter: %w", err)
		}
		offset += n
		pkt.Topics = append(pkt.Topics, topic)
	}
	return pkt, nil
}
