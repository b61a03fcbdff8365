package wire

import "fmt"

// ConnackPacket is an MQTT CONNACK control packet.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     uint8
	Properties     *Properties
}

func (p *ConnackPacket) Type() uint8 { return CONNACK }

func (p *ConnackPacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	var ackFlags uint8
	if p.SessionPresent {
		ackFlags |= 0x01
	}
	body = append(body, ackFlags, p.ReturnCode)
	if p.Properties != nil {
		body = appendProperties(body, p.Properties)
	}

	header := FixedHeader{PacketType: CONNACK, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeConnack(buf []byte, version uint8) (*ConnackPacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("wire: buffer too short for CONNACK packet")
	}
	pkt := &ConnackPacket{
		SessionPresent: buf[0]&0x01 != 0,
		ReturnCode:     buf[1],
	}
	if version >= 5 && len(buf) > 2 {
		props, _, err := decodeProperties(buf[2:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
	}
	return pkt, nil
}
