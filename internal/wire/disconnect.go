package wire

import "fmt"

// DisconnectPacket is an MQTT DISCONNECT control packet. In v3.1.1 it
// carries no payload; in v5.0 it optionally carries a reason code and
// properties, omitted entirely when the reason is normal and there
// are no properties to send.
type DisconnectPacket struct {
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (p *DisconnectPacket) Type() uint8 { return DISCONNECT }

func (p *DisconnectPacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	if p.Version >= 5 && (p.ReasonCode != 0 || p.Properties != nil) {
		body = append(body, p.ReasonCode)
		body = appendProperties(body, p.Properties)
	}
	header := FixedHeader{PacketType: DISCONNECT, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeDisconnect(buf []byte, version uint8) (*DisconnectPacket, error) {
	pkt := &DisconnectPacket{Version: version}
	if version >= 5 && len(buf) > 0 {
		pkt.ReasonCode = buf[0]
		if len(buf) > 1 {
			props, _, err := decodeProperties(buf[1:])
			if err != nil {
				return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
			}
			pkt.Properties = props
		}
	}
	return pkt, nil
}
