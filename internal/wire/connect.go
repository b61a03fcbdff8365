package wire

import "fmt"

// ConnectPacket is an MQTT CONNECT control packet.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel uint8 // 4 for 3.1.1, 5 for 5.0

	CleanSession bool
	WillFlag     bool
	WillQoS      uint8
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool

	KeepAlive uint16

	ClientID string

	WillTopic      string
	WillMessage    []byte
	WillProperties *Properties

	Username string
	Password string

	Properties *Properties
}

func (p *ConnectPacket) Type() uint8 { return CONNECT }

// Encode serializes the CONNECT packet into dst.
func (p *ConnectPacket) Encode(dst []byte) ([]byte, error) {
	var connectFlags uint8
	if p.CleanSession {
		connectFlags |= 0x02
	}
	if p.WillFlag {
		connectFlags |= 0x04
		connectFlags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			connectFlags |= 0x20
		}
	}
	if p.PasswordFlag {
		connectFlags |= 0x40
	}
	if p.UsernameFlag {
		connectFlags |= 0x80
	}

	var body []byte
	body = appendString(body, p.ProtocolName)
	body = append(body, p.ProtocolLevel, connectFlags)
	body = append(body, byte(p.KeepAlive>>8), byte(p.KeepAlive))
	if p.ProtocolLevel >= 5 {
		body = appendProperties(body, p.Properties)
	}
	body = appendString(body, p.ClientID)
	if p.WillFlag {
		if p.ProtocolLevel >= 5 {
			body = appendProperties(body, p.WillProperties)
		}
		body = appendString(body, p.WillTopic)
		body = appendBinary(body, p.WillMessage)
	}
	if p.UsernameFlag {
		body = appendString(body, p.Username)
	}
	if p.PasswordFlag {
		body = appendString(body, p.Password)
	}

	header := FixedHeader{PacketType: CONNECT, RemainingLength: len(body)}
	dst = header.appendBytes(dst)
	return append(dst, body...), nil
}

// DecodeConnect decodes a CONNECT packet's variable header and payload.
func DecodeConnect(buf []byte) (*ConnectPacket, error) {
	if len(buf) < 10 {
		return nil, fmt.Errorf("wire: buffer too short for CONNECT packet")
	}

	pkt := &ConnectPacket{}
	offset := 0

	protocolName, n, err := decodeString(buf[offset:])
	if err != nil {
		return nil, fmt.Errorf("wire: failed to decode protocol name: %w", err)
	}
	pkt.ProtocolName = protocolName
	offset += n

	if offset >= len(buf) {
		return nil, fmt.Errorf("wire: buffer too short for protocol level")
	}
	pkt.ProtocolLevel = buf[offset]
	offset++

	if offset >= len(buf) {
		return nil, fmt.Errorf("wire: buffer too short for connect flags")
	}
	connectFlags := buf[offset]
	offset++

	pkt.CleanSession = connectFlags&0x02 != 0
	pkt.WillFlag = connectFlags&0x04 != 0
	pkt.WillQoS = (connectFlags >> 3) & 0x03
	pkt.WillRetain = connectFlags&0x20 != 0
	pkt.PasswordFlag = connectFlags&0x40 != 0
	pkt.UsernameFlag = connectFlags&0x80 != 0

	if offset+2 > len(buf) {
		return nil, fmt.Errorf("wire: buffer too short for keep alive")
	}
	pkt.KeepAlive = uint16(buf[offset])<<8 | uint16(buf[offset+1])
	offset += 2

	if pkt.ProtocolLevel >= 5 {
		props, nProps, err := decodeProperties(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode properties: %w", err)
		}
		pkt.Properties = props
		offset += nProps
	}

	clientID, n, err := decodeString(buf[offset:])
	if err != nil {
		return nil, fmt.Errorf("wire: failed to decode client id: %w", err)
	}
	pkt.ClientID = clientID
	offset += n

	if pkt.WillFlag {
		if pkt.ProtocolLevel >= 5 {
			props, nProps, err := decodeProperties(buf[offset:])
			if err != nil {
				return nil, fmt.Errorf("wire: failed to decode will properties: %w", err)
			}
			pkt.WillProperties = props
			offset += nProps
		}
		willTopic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode will topic: %w", err)
		}
		pkt.WillTopic = willTopic
		offset += n

		willMessage, n, err := decodeBinary(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode will message: %w", err)
		}
		pkt.WillMessage = willMessage
		offset += n
	}

	if pkt.UsernameFlag {
		username, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode username: %w", err)
		}
		pkt.Username = username
		offset += n
	}

	if pkt.PasswordFlag {
		password, _, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wire: failed to decode password: %w", err)
		}
		pkt.Password = password
	}

	return pkt, nil
}
