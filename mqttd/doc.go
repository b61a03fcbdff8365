// Package mqttd implements the broker side of an MQTT connection: a
// handshake callback decides whether to accept a CONNECT, and a
// publish/control service pair then drives the session for as long as
// the connection stays open. Wire encoding and the generic framed
// dispatcher live in separate packages (internal/wire and iopipe); this
// package is where MQTT semantics — QoS acknowledgement state
// machines, packet-id allocation, keep-alive, reason codes — meet that
// machinery.
package mqttd
