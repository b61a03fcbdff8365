package wire

import "fmt"

// AUTH reason codes (v5.0 only).
const (
	AuthReasonSuccess        uint8 = 0x00
	AuthReasonContinue       uint8 = 0x18
	AuthReasonReauthenticate uint8 = 0x19
)

// AuthPacket is the MQTT v5.0 AUTH control packet, used for extended
// authentication exchanges (SCRAM, OAuth, Kerberos, ...) that need more
// than one round trip beyond CONNECT/CONNACK.
type AuthPacket struct {
	ReasonCode uint8
	Properties *Properties
	Version    uint8
}

func (p *AuthPacket) Type() uint8 { return AUTH }

func (p *AuthPacket) Encode(dst []byte) ([]byte, error) {
	var body []byte
	body = append(body, p.ReasonCode)
	body = appendProperties(body, p.Properties)

	header := FixedHeader{PacketType: AUTH, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

func DecodeAuth(buf []byte, version uint8) (*AuthPacket, error) {
	if version < 5 {
		return nil, fmt.Errorf("wire: AUTH packet is only valid for MQTT v5.0")
	}
	if len(buf) < 1 {
		return nil, fmt.Errorf("wire: buffer too short for AUTH packet")
	}
	pkt := &AuthPacket{Version: version, ReasonCode: buf[0]}
	if len(buf) > 1 {
		props, _, err := decodeProperties(buf[1:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
	}
	return pkt, nil
}
