// Package wire implements the MQTT 3.1.1 and 5.0 control packet codec:
// buffer-based encode/decode for every packet type, variable-length
// integers, UTF-8 strings, and (v5 only) properties.
package wire

// Control packet types (MQTT v3.1.1 §2.2.1 / v5.0 §2.1.2).
const (
	RESERVED    = 0
	CONNECT     = 1
	CONNACK     = 2
	PUBLISH     = 3
	PUBACK      = 4
	PUBREC      = 5
	PUBREL      = 6
	PUBCOMP     = 7
	SUBSCRIBE   = 8
	SUBACK      = 9
	UNSUBSCRIBE = 10
	UNSUBACK    = 11
	PINGREQ     = 12
	PINGRESP    = 13
	DISCONNECT  = 14
	AUTH        = 15 // v5.0 only
)

var PacketNames = map[uint8]string{
	RESERVED:    "RESERVED",
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
	AUTH:        "AUTH",
}

// QoS levels.
const (
	QoS0 = 0
	QoS1 = 1
	QoS2 = 2
)

// CONNACK return codes, v3.1.1 wire values (also used as the v5 "success
// family" subset before reason-code translation in codes.go).
const (
	ConnAccepted                     = 0
	ConnRefusedUnacceptableProtocol  = 1
	ConnRefusedIdentifierRejected    = 2
	ConnRefusedServerUnavailable     = 3
	ConnRefusedBadUsernameOrPassword = 4
	ConnRefusedNotAuthorized         = 5
)

// SUBACK return/reason codes.
const (
	SubackQoS0    = 0x00
	SubackQoS1    = 0x01
	SubackQoS2    = 0x02
	SubackFailure = 0x80
)

// MQTT v5.0 reason codes shared across ack packet types.
const (
	RCSuccess                     = 0x00
	RCNormalDisconnection         = 0x00
	RCGrantedQoS0                 = 0x00
	RCGrantedQoS1                 = 0x01
	RCGrantedQoS2                 = 0x02
	RCDisconnectWithWillMessage   = 0x04
	RCNoMatchingSubscribers       = 0x10
	RCNoSubscriptionExisted       = 0x11
	RCContinueAuthentication      = 0x18
	RCReAuthenticate              = 0x19
	RCUnspecifiedError            = 0x80
	RCMalformedPacket             = 0x81
	RCProtocolError               = 0x82
	RCImplementationSpecificError = 0x83
	RCUnsupportedProtocolVersion  = 0x84
	RCClientIdentifierNotValid    = 0x85
	RCBadUserNameOrPassword       = 0x86
	RCNotAuthorized               = 0x87
	RCServerUnavailable           = 0x88
	RCServerBusy                  = 0x89
	RCBanned                      = 0x8A
	RCBadAuthenticationMethod     = 0x8C
	RCKeepAliveTimeout            = 0x8D
	RCSessionTakenOver            = 0x8E
	RCTopicFilterInvalid          = 0x8F
	RCTopicNameInvalid            = 0x90
	RCPacketIdentifierInUse       = 0x91
	RCPacketIdentifierNotFound    = 0x92
	RCReceiveMaximumExceeded      = 0x93
	RCTopicAliasInvalid           = 0x94
	RCPacketTooLarge              = 0x95
	RCMessageRateTooHigh          = 0x96
	RCQuotaExceeded               = 0x97
	RCAdministrativeAction        = 0x98
	RCPayloadFormatInvalid        = 0x99
	RCRetainNotSupported          = 0x9A
	RCQoSNotSupported             = 0x9B
	RCUseAnotherServer            = 0x9C
	RCServerMoved                 = 0x9D
	RCSharedSubscriptionsNotSupported = 0x9E
	RCConnectionRateExceeded      = 0x9F
	RCMaximumConnectTime          = 0xA0
	RCSubscriptionIdentifiersNotSupported = 0xA1
	RCWildcardSubscriptionsNotSupported   = 0xA2
)
