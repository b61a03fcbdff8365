package mqttd

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/brokermq/core/iopipe"
)

// HandshakeService decides whether to accept a connection.
type HandshakeService[St any] func(ctx context.Context, hs *Handshake) *HandshakeAck[St]

type serverConfig[St any] struct {
	handshakeTimeout  time.Duration
	disconnectTimeout time.Duration
	maxSize           int
	inflight          int
	maxAwaitingRel    int
	awaitRelTimeout   time.Duration
	control           ControlService[St]
	publish           PublishService[St]
	auth              AuthenticatorFactory
	logger            *slog.Logger
}

func defaultServerConfig[St any]() serverConfig[St] {
	return serverConfig[St]{
		disconnectTimeout: 3000 * time.Millisecond,
		inflight:          16,
		control:           defaultControlService[St],
		publish:           defaultPublishService[St],
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// defaultControlService mirrors the teacher's default wiring: ack
// Ping/Disconnect/Subscribe/Unsubscribe without recording any
// subscription, since actual routing is outside this package's scope.
// It logs nothing.
func defaultControlService[St any](ctx context.Context, sess *Session[St], msg *ControlMessage) (*ControlResult, error) {
	switch msg.Kind {
	case ControlSubscribe, ControlUnsubscribe, ControlPing, ControlDisconnect:
		return msg.Ack(), nil
	default:
		return nil, nil
	}
}

// defaultPublishService accepts and drops every message. It logs
// nothing.
func defaultPublishService[St any](ctx context.Context, sess *Session[St], msg *PublishMessage) error {
	return nil
}

// ServerOption configures an MqttServer[St] via the functional-options
// pattern.
type ServerOption[St any] func(*serverConfig[St])

// WithHandshakeTimeout bounds the wait for CONNECT and the write of
// CONNACK. Zero (the default) disables the deadline.
func WithHandshakeTimeout[St any](d time.Duration) ServerOption[St] {
	return func(c *serverConfig[St]) { c.handshakeTimeout = d }
}

// WithDisconnectTimeout bounds the drain phase of shutdown. Default 3s;
// zero disables the deadline.
func WithDisconnectTimeout[St any](d time.Duration) ServerOption[St] {
	return func(c *serverConfig[St]) { c.disconnectTimeout = d }
}

// WithMaxSize caps the codec's accepted packet size; zero (the
// default) means unlimited.
func WithMaxSize[St any](bytes int) ServerOption[St] {
	return func(c *serverConfig[St]) { c.maxSize = bytes }
}

// WithInFlight caps concurrent user-service calls per connection and
// the semaphore bounding outbound QoS1/2 waits. Default 16.
func WithInFlight[St any](n int) ServerOption[St] {
	return func(c *serverConfig[St]) { c.inflight = n }
}

// WithMaxAwaitingRel bounds the inbound QoS2 awaiting-release set; zero
// (the default) means unlimited.
func WithMaxAwaitingRel[St any](n int) ServerOption[St] {
	return func(c *serverConfig[St]) { c.maxAwaitingRel = n }
}

// WithAwaitRelTimeout bounds how long an inbound QoS2 PUBLISH may wait
// for its PUBREL before being reaped with a protocol error. Zero (the
// default) disables reaping.
func WithAwaitRelTimeout[St any](d time.Duration) ServerOption[St] {
	return func(c *serverConfig[St]) { c.awaitRelTimeout = d }
}

// WithControl replaces the default control service.
func WithControl[St any](svc ControlService[St]) ServerOption[St] {
	return func(c *serverConfig[St]) { c.control = svc }
}

// WithPublish replaces the default publish service.
func WithPublish[St any](svc PublishService[St]) ServerOption[St] {
	return func(c *serverConfig[St]) { c.publish = svc }
}

// WithAuthenticator wires a v5.0 enhanced-authentication handler for
// AUTH packets received after CONNECT. Since an exchange like
// SCRAM-SHA-256 carries state across several round trips, factory is
// called once per accepted connection rather than sharing one
// Authenticator across every session.
func WithAuthenticator[St any](factory AuthenticatorFactory) ServerOption[St] {
	return func(c *serverConfig[St]) { c.auth = factory }
}

// WithLogger sets the structured logger used for connection-lifecycle
// events. Defaults to a discarding handler.
func WithLogger[St any](logger *slog.Logger) ServerOption[St] {
	return func(c *serverConfig[St]) { c.logger = logger }
}

// MqttServer accepts connections and drives each through the
// handshake and session dispatcher. St is the per-connection
// application state type every accepted Session carries.
type MqttServer[St any] struct {
	handshake HandshakeService[St]
	cfg       serverConfig[St]
	timer     *iopipe.Timer
	ownsTimer bool
}

// NewServer builds a server around a required handshake callback and
// any number of options.
func NewServer[St any](handshake HandshakeService[St], opts ...ServerOption[St]) *MqttServer[St] {
	cfg := defaultServerConfig[St]()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MqttServer[St]{
		handshake: handshake,
		cfg:       cfg,
		timer:     iopipe.NewTimer(time.Second),
		ownsTimer: true,
	}
}

// Close stops the server's shared timer wheel. Call once, after every
// Serve call for this server has returned.
func (s *MqttServer[St]) Close() {
	if s.ownsTimer {
		s.timer.Stop()
	}
}
