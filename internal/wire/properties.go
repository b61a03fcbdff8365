package wire

import (
	"encoding/binary"
	"fmt"
)

// MQTT v5.0 property identifiers (v5.0 §2.2.2.2).
const (
	PropPayloadFormatIndicator          uint8 = 0x01
	PropMessageExpiryInterval           uint8 = 0x02
	PropContentType                     uint8 = 0x03
	PropResponseTopic                   uint8 = 0x08
	PropCorrelationData                 uint8 = 0x09
	PropSubscriptionIdentifier          uint8 = 0x0B
	PropSessionExpiryInterval           uint8 = 0x11
	PropAssignedClientIdentifier        uint8 = 0x12
	PropServerKeepAlive                 uint8 = 0x13
	PropAuthenticationMethod            uint8 = 0x15
	PropAuthenticationData              uint8 = 0x16
	PropRequestProblemInformation       uint8 = 0x17
	PropWillDelayInterval                uint8 = 0x18
	PropRequestResponseInformation      uint8 = 0x19
	PropResponseInformation             uint8 = 0x1A
	PropServerReference                 uint8 = 0x1C
	PropReasonString                    uint8 = 0x1F
	PropReceiveMaximum                  uint8 = 0x21
	PropTopicAliasMaximum               uint8 = 0x22
	PropTopicAlias                      uint8 = 0x23
	PropMaximumQoS                      uint8 = 0x24
	PropRetainAvailable                 uint8 = 0x25
	PropUserProperty                    uint8 = 0x26
	PropMaximumPacketSize               uint8 = 0x27
	PropWildcardSubscriptionAvailable   uint8 = 0x28
	PropSubscriptionIdentifierAvailable uint8 = 0x29
	PropSharedSubscriptionAvailable     uint8 = 0x2A
)

// Presence bitmask flags for Properties, one per optional field that
// needs to distinguish "absent" from "present with zero value".
const (
	PresPayloadFormatIndicator uint32 = 1 << iota
	PresMessageExpiryInterval
	PresContentType
	PresResponseTopic
	PresCorrelationData
	PresSessionExpiryInterval
	PresAssignedClientIdentifier
	PresServerKeepAlive
	PresAuthenticationMethod
	PresAuthenticationData
	PresRequestProblemInformation
	PresWillDelayInterval
	PresRequestResponseInformation
	PresResponseInformation
	PresServerReference
	PresReasonString
	PresReceiveMaximum
	PresTopicAliasMaximum
	PresTopicAlias
	PresMaximumQoS
	PresRetainAvailable
	PresMaximumPacketSize
	PresWildcardSubscriptionAvailable
	PresSubscriptionIdentifierAvailable
	PresSharedSubscriptionAvailable
)

// UserProperty is an MQTT v5 name/value pair; a packet may carry any
// number of them.
type UserProperty struct {
	Key   string
	Value string
}

// Properties holds every standard MQTT v5.0 property as a value type
// plus a presence bitmask, so decoding never allocates per-property
// and a zero Properties reliably means "none were sent".
type Properties struct {
	Presence uint32

	PayloadFormatIndicator uint8
	MessageExpiryInterval  uint32
	ContentType            string
	ResponseTopic          string
	CorrelationData        []byte

	SubscriptionIdentifier []int

	SessionExpiryInterval     uint32
	AssignedClientIdentifier  string
	ServerKeepAlive           uint16
	AuthenticationMethod      string
	AuthenticationData        []byte
	RequestProblemInformation uint8
	WillDelayInterval         uint32

	RequestResponseInformation uint8
	ResponseInformation        string
	ServerReference            string
	ReasonString                string

	ReceiveMaximum    uint16
	TopicAliasMaximum uint16
	TopicAlias        uint16
	MaximumQoS        uint8
	RetainAvailable   bool
	UserProperties    []UserProperty
	MaximumPacketSize uint32

	WildcardSubscriptionAvailable   bool
	SubscriptionIdentifierAvailable bool
	SharedSubscriptionAvailable     bool
}

// appendProperties appends the serialized properties block (length
// prefix + entries) to dst. A nil Properties serializes as a single
// zero-length byte.
func appendProperties(dst []byte, p *Properties) []byte {
	if p == nil {
		return append(dst, 0x00)
	}

	startLen := len(dst)
	dst = append(dst, 0) // placeholder length byte, optimistic 1-byte case
	propsStart := len(dst)

	dst = p.appendNumeric(dst)
	dst = p.appendBool(dst)
	dst = p.appendStringOrBinary(dst)
	dst = p.appendSpecial(dst)

	propLen := len(dst) - propsStart
	if propLen < 128 {
		dst[startLen] = byte(propLen)
		return dst
	}

	lenBuf := appendVarInt(nil, propLen)
	lenDiff := len(lenBuf) - 1
	dst = append(dst, make([]byte, lenDiff)...)
	copy(dst[propsStart+lenDiff:], dst[propsStart:propsStart+propLen])
	copy(dst[startLen:], lenBuf)
	return dst
}

// decodeProperties reads the properties block from buf, returning the
// total bytes consumed (length prefix included).
func decodeProperties(buf []byte) (*Properties, int, error) {
	if len(buf) == 0 {
		return nil, 0, fmt.Errorf("wire: buffer too short for properties length")
	}

	propLen, n, ok, err := decodeVarInt(buf)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("wire: buffer too short for properties length")
	}
	totalLen := n + propLen
	if len(buf) < totalLen {
		return nil, 0, fmt.Errorf("wire: buffer too short for properties data")
	}
	if propLen == 0 {
		return nil, totalLen, nil
	}

	p := &Properties{}
	slice := buf[n:totalLen]
	offset := 0
	for offset < len(slice) {
		id := slice[offset]
		offset++

		if consumed, ok, err := p.decodeNumeric(id, slice[offset:]); err != nil {
			return nil, 0, err
		} else if ok {
			offset += consumed
			continue
		}
		if consumed, ok, err := p.decodeBool(id, slice[offset:]); err != nil {
			return nil, 0, err
		} else if ok {
			offset += consumed
			continue
		}
		if consumed, ok, err := p.decodeStringOrBinary(id, slice[offset:]); err != nil {
			return nil, 0, err
		} else if ok {
			offset += consumed
			continue
		}
		if consumed, ok, err := p.decodeSpecial(id, slice[offset:]); err != nil {
			return nil, 0, err
		} else if ok {
			offset += consumed
			continue
		}
		return nil, 0, fmt.Errorf("wire: unsupported property id 0x%02x", id)
	}
	return p, totalLen, nil
}

func (p *Properties) appendNumeric(dst []byte) []byte {
	if p.Presence&PresPayloadFormatIndicator != 0 {
		dst = append(dst, PropPayloadFormatIndicator, p.PayloadFormatIndicator)
	}
	if p.Presence&PresMessageExpiryInterval != 0 {
		dst = append(dst, PropMessageExpiryInterval)
		dst = binary.BigEndian.AppendUint32(dst, p.MessageExpiryInterval)
	}
	if p.Presence&PresSessionExpiryInterval != 0 {
		dst = append(dst, PropSessionExpiryInterval)
		dst = binary.BigEndian.AppendUint32(dst, p.SessionExpiryInterval)
	}
	if p.Presence&PresServerKeepAlive != 0 {
		dst = append(dst, PropServerKeepAlive)
		dst = binary.BigEndian.AppendUint16(dst, p.ServerKeepAlive)
	}
	if p.Presence&PresRequestProblemInformation != 0 {
		dst = append(dst, PropRequestProblemInformation, p.RequestProblemInformation)
	}
	if p.Presence&PresWillDelayInterval != 0 {
		dst = append(dst, PropWillDelayInterval)
		dst = binary.BigEndian.AppendUint32(dst, p.WillDelayInterval)
	}
	if p.Presence&PresRequestResponseInformation != 0 {
		dst = append(dst, PropRequestResponseInformation, p.RequestResponseInformation)
	}
	if p.Presence&PresReceiveMaximum != 0 {
		dst = append(dst, PropReceiveMaximum)
		dst = binary.BigEndian.AppendUint16(dst, p.ReceiveMaximum)
	}
	if p.Presence&PresTopicAliasMaximum != 0 {
		dst = append(dst, PropTopicAliasMaximum)
		dst = binary.BigEndian.AppendUint16(dst, p.TopicAliasMaximum)
	}
	if p.Presence&PresTopicAlias != 0 {
		dst = append(dst, PropTopicAlias)
		dst = binary.BigEndian.AppendUint16(dst, p.TopicAlias)
	}
	if p.Presence&PresMaximumQoS != 0 {
		dst = append(dst, PropMaximumQoS, p.MaximumQoS)
	}
	if p.Presence&PresMaximumPacketSize != 0 {
		dst = append(dst, PropMaximumPacketSize)
		dst = binary.BigEndian.AppendUint32(dst, p.MaximumPacketSize)
	}
	return dst
}

func (p *Properties) appendBool(dst []byte) []byte {
	appendFlag := func(dst []byte, id uint8, v bool) []byte {
		val := byte(0)
		if v {
			val = 1
		}
		return append(dst, id, val)
	}
	if p.Presence&PresRetainAvailable != 0 {
		dst = appendFlag(dst, PropRetainAvailable, p.RetainAvailable)
	}
	if p.Presence&PresWildcardSubscriptionAvailable != 0 {
		dst = appendFlag(dst, PropWildcardSubscriptionAvailable, p.WildcardSubscriptionAvailable)
	}
	if p.Presence&PresSubscriptionIdentifierAvailable != 0 {
		dst = appendFlag(dst, PropSubscriptionIdentifierAvailable, p.SubscriptionIdentifierAvailable)
	}
	if p.Presence&PresSharedSubscriptionAvailable != 0 {
		dst = appendFlag(dst, PropSharedSubscriptionAvailable, p.SharedSubscriptionAvailable)
	}
	return dst
}

func (p *Properties) appendStringOrBinary(dst []byte) []byte {
	if p.Presence&PresContentType != 0 {
		dst = append(dst, PropContentType)
		dst = appendString(dst, p.ContentType)
	}
	if p.Presence&PresResponseTopic != 0 {
		dst = append(dst, PropResponseTopic)
		dst = appendString(dst, p.ResponseTopic)
	}
	if p.Presence&PresCorrelationData != 0 {
		dst = append(dst, PropCorrelationData)
		dst = appendBinary(dst, p.CorrelationData)
	}
	if p.Presence&PresAssignedClientIdentifier != 0 {
		dst = append(dst, PropAssignedClientIdentifier)
		dst = appendString(dst, p.AssignedClientIdentifier)
	}
	if p.Presence&PresAuthenticationMethod != 0 {
		dst = append(dst, PropAuthenticationMethod)
		dst = appendString(dst, p.AuthenticationMethod)
	}
	if p.Presence&PresAuthenticationData != 0 {
		dst = append(dst, PropAuthenticationData)
		dst = appendBinary(dst, p.AuthenticationData)
	}
	if p.Presence&PresResponseInformation != 0 {
		dst = append(dst, PropResponseInformation)
		dst = appendString(dst, p.ResponseInformation)
	}
	if p.Presence&PresServerReference != 0 {
		dst = append(dst, PropServerReference)
		dst = appendString(dst, p.ServerReference)
	}
	if p.Presence&PresReasonString != 0 {
		dst = append(dst, PropReasonString)
		dst = appendString(dst, p.ReasonString)
	}
	return dst
}

func (p *Properties) appendSpecial(dst []byte) []byte {
	for _, id := range p.SubscriptionIdentifier {
		dst = append(dst, PropSubscriptionIdentifier)
		dst = appendVarInt(dst, id)
	}
	for _, up := range p.UserProperties {
		dst = append(dst, PropUserProperty)
		dst = appendString(dst, up.Key)
		dst = appendString(dst, up.Value)
	}
	return dst
}

func (p *Properties) decodeNumeric(id byte, data []byte) (int, bool, error) {
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("wire: malformed property 0x%02x", id)
		}
		return nil
	}
	switch id {
	case PropPayloadFormatIndicator:
		if err := need(1); err != nil {
			return 0, false, err
		}
		p.PayloadFormatIndicator = data[0]
		p.Presence |= PresPayloadFormatIndicator
		return 1, true, nil
	case PropMessageExpiryInterval:
		if err := need(4); err != nil {
			return 0, false, err
		}
		p.MessageExpiryInterval = binary.BigEndian.Uint32(data)
		p.Presence |= PresMessageExpiryInterval
		return 4, true, nil
	case PropSessionExpiryInterval:
		if err := need(4); err != nil {
			return 0, false, err
		}
		p.SessionExpiryInterval = binary.BigEndian.Uint32(data)
		p.Presence |= PresSessionExpiryInterval
		return 4, true, nil
	case PropServerKeepAlive:
		if err := need(2); err != nil {
			return 0, false, err
		}
		p.ServerKeepAlive = binary.BigEndian.Uint16(data)
		p.Presence |= PresServerKeepAlive
		return 2, true, nil
	case PropRequestProblemInformation:
		if err := need(1); err != nil {
			return 0, false, err
		}
		p.RequestProblemInformation = data[0]
		p.Presence |= PresRequestProblemInformation
		return 1, true, nil
	case PropWillDelayInterval:
		if err := need(4); err != nil {
			return 0, false, err
		}
		p.WillDelayInterval = binary.BigEndian.Uint32(data)
		p.Presence |= PresWillDelayInterval
		return 4, true, nil
	case PropRequestResponseInformation:
		if err := need(1); err != nil {
			return 0, false, err
		}
		p.RequestResponseInformation = data[0]
		p.Presence |= PresRequestResponseInformation
		return 1, true, nil
	case PropReceiveMaximum:
		if err := need(2); err != nil {
			return 0, false, err
		}
		p.ReceiveMaximum = binary.BigEndian.Uint16(data)
		p.Presence |= PresReceiveMaximum
		return 2, true, nil
	case PropTopicAliasMaximum:
		if err := need(2); err != nil {
			return 0, false, err
		}
		p.TopicAliasMaximum = binary.BigEndian.Uint16(data)
		p.Presence |= PresTopicAliasMaximum
		return 2, true, nil
	case PropTopicAlias:
		if err := need(2); err != nil {
			return 0, false, err
		}
		p.TopicAlias = binary.BigEndian.Uint16(data)
		p.Presence |= PresTopicAlias
		return 2, true, nil
	case PropMaximumQoS:
		if err := need(1); err != nil {
			return 0, false, err
		}
		p.MaximumQoS = data[0]
		p.Presence |= PresMaximumQoS
		return 1, true, nil
	case PropMaximumPacketSize:
		if err := need(4); err != nil {
			return 0, false, err
		}
		p.MaximumPacketSize = binary.BigEndian.Uint32(data)
		p.Presence |= PresMaximumPacketSize
		return 4, true, nil
	}
	return 0, false, nil
}

func (p *Properties) decodeBool(id byte, data []byte) (int, bool, error) {
	if len(data) < 1 {
		switch id {
		case PropRetainAvailable, PropWildcardSubscriptionAvailable,
			PropSubscriptionIdentifierAvailable, PropSharedSubscriptionAvailable:
			return 0, false, fmt.Errorf("wire: malformed property 0x%02x", id)
		}
		return 0, false, nil
	}
	switch id {
	case PropRetainAvailable:
		p.RetainAvailable = data[0] != 0
		p.Presence |= PresRetainAvailable
		return 1, true, nil
	case PropWildcardSubscriptionAvailable:
		p.WildcardSubscriptionAvailable = data[0] != 0
		p.Presence |= PresWildcardSubscriptionAvailable
		return 1, true, nil
	case PropSubscriptionIdentifierAvailable:
		p.SubscriptionIdentifierAvailable = data[0] != 0
		p.Presence |= PresSubscriptionIdentifierAvailable
		return 1, true, nil
	case PropSharedSubscriptionAvailable:
		p.SharedSubscriptionAvailable = data[0] != 0
		p.Presence |= PresSharedSubscriptionAvailable
		return 1, true, nil
	}
	return 0, false, nil
}

func (p *Properties) decodeStringOrBinary(id byte, data []byte) (int, bool, error) {
	switch id {
	case PropContentType:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.ContentType = s
		p.Presence |= PresContentType
		return n, true, nil
	case PropResponseTopic:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.ResponseTopic = s
		p.Presence |= PresResponseTopic
		return n, true, nil
	case PropCorrelationData:
		b, n, err := decodeBinary(data)
		if err != nil {
			return 0, false, err
		}
		p.CorrelationData = b
		p.Presence |= PresCorrelationData
		return n, true, nil
	case PropAssignedClientIdentifier:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.AssignedClientIdentifier = s
		p.Presence |= PresAssignedClientIdentifier
		return n, true, nil
	case PropAuthenticationMethod:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.AuthenticationMethod = s
		p.Presence |= PresAuthenticationMethod
		return n, true, nil
	case PropAuthenticationData:
		b, n, err := decodeBinary(data)
		if err != nil {
			return 0, false, err
		}
		p.AuthenticationData = b
		p.Presence |= PresAuthenticationData
		return n, true, nil
	case PropResponseInformation:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.ResponseInformation = s
		p.Presence |= PresResponseInformation
		return n, true, nil
	case PropServerReference:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.ServerReference = s
		p.Presence |= PresServerReference
		return n, true, nil
	case PropReasonString:
		s, n, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		p.ReasonString = s
		p.Presence |= PresReasonString
		return n, true, nil
	}
	return 0, false, nil
}

func (p *Properties) decodeSpecial(id byte, data []byte) (int, bool, error) {
	switch id {
	case PropUserProperty:
		k, nK, err := decodeString(data)
		if err != nil {
			return 0, false, err
		}
		v, nV, err := decodeString(data[nK:])
		if err != nil {
			return 0, false, err
		}
		p.UserProperties = append(p.UserProperties, UserProperty{Key: k, Value: v})
		return nK + nV, true, nil
	case PropSubscriptionIdentifier:
		val, n, ok, err := decodeVarInt(data)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, fmt.Errorf("wire: malformed property 0x%02x", id)
		}
		p.SubscriptionIdentifier = append(p.SubscriptionIdentifier, val)
		return n, true, nil
	}
	return 0, false, nil
}
