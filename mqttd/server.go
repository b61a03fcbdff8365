package mqttd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/brokermq/core/internal/wire"
	"github.com/brokermq/core/iopipe"
)

// Serve runs one accepted connection to completion: it reads and
// decodes CONNECT, invokes the handshake callback, writes CONNACK,
// and on acceptance builds the session dispatcher and runs it until
// the connection ends. It returns once the connection is fully closed.
//
// Callers typically invoke Serve in its own goroutine per accepted
// Transport; a single MqttServer's timer and configuration are shared
// across every concurrent call.
func (srv *MqttServer[St]) Serve(ctx context.Context, t iopipe.Transport) error {
	io := iopipe.NewIoState()
	codec := wire.NewCodec()
	codec.MaxPacketSize = srv.cfg.maxSize

	hsCtx := ctx
	if srv.cfg.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, srv.cfg.handshakeTimeout)
		defer cancel()
	}

	frame, err := io.Next(hsCtx, t, codec)
	if err != nil {
		_ = t.Close()
		if srv.cfg.handshakeTimeout > 0 && ctx.Err() == nil &&
			(hsCtx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded)) {
			return ErrHandshakeTimeout
		}
		return err
	}
	if frame == nil {
		_ = t.Close()
		return nil
	}

	connect, ok := frame.(*wire.ConnectPacket)
	if !ok {
		_ = t.Close()
		return &ProtocolError{Kind: ProtocolUnexpected, Context: "first packet was not CONNECT"}
	}

	version := connect.ProtocolLevel
	codec.SetVersion(version)

	remoteAddr := ""
	if ra, ok := t.(interface{ RemoteAddr() net.Addr }); ok {
		remoteAddr = ra.RemoteAddr().String()
	}

	connID := uuid.NewString()
	log := srv.cfg.logger.With("conn", connID)
	log.Debug("connect received", "client_id", connect.ClientID, "version", version, "remote_addr", remoteAddr)

	assignedID := false
	if connect.ClientID == "" && connect.CleanSession {
		connect.ClientID = uuid.NewString()
		assignedID = true
		log.Debug("server assigned client id", "client_id", connect.ClientID)
	}

	var auth Authenticator
	if srv.cfg.auth != nil {
		a := srv.cfg.auth()
		if version >= 5 && connect.Properties != nil && connect.Properties.AuthenticationMethod != "" {
			if err := srv.runEnhancedAuth(hsCtx, io, t, codec, version, connect, a); err != nil {
				log.Debug("enhanced authentication failed", "error", err)
				_ = writeConnack(hsCtx, io, t, codec, version, NotAuthorized[St](), "")
				_ = t.Close()
				return err
			}
		}
		auth = a
	}

	ack := srv.handshake(hsCtx, &Handshake{Connect: connect, Version: version, RemoteAddr: remoteAddr})
	if ack == nil {
		ack = ServiceUnavailable[St]()
	}

	assignedClientID := ""
	if assignedID && ack.accepted {
		assignedClientID = connect.ClientID
	}
	if err := writeConnack(hsCtx, io, t, codec, version, ack, assignedClientID); err != nil {
		_ = t.Close()
		return err
	}
	if !ack.accepted {
		log.Debug("connection rejected", "reason_code", ack.reasonCode)
		_ = t.Close()
		return nil
	}

	keepAlive := negotiatedKeepAlive(connect.KeepAlive)
	if ack.keepAliveSet {
		keepAlive = ack.keepAlive
	}

	shared := newMqttShared(nil, version, srv.cfg.inflight, srv.cfg.maxAwaitingRel, srv.cfg.awaitRelTimeout)
	sess := &Session[St]{State: ack.state, shared: shared, version: version}
	sess.sink = newMqttSink(shared)

	svc := &sessionService[St]{
		sess:    sess,
		shared:  shared,
		publish: srv.cfg.publish,
		control: srv.cfg.control,
		auth:    auth,
		version: version,
	}

	if srv.cfg.awaitRelTimeout > 0 {
		scheduleAwaitRelReap(ctx, srv.timer, shared, svc)
	}

	dispatcherCfg := iopipe.Config{
		InFlight:          srv.cfg.inflight,
		KeepAlive:         keepAlive,
		DisconnectTimeout: srv.cfg.disconnectTimeout,
	}
	dispatcher := iopipe.NewDispatcher(io, t, codec, svc, srv.timer, dispatcherCfg)
	shared.dispatcher = dispatcher

	log.Debug("session started", "client_id", connect.ClientID)
	err = dispatcher.Run(ctx)
	shared.markClosed(ErrDisconnected)
	log.Debug("session ended", "client_id", connect.ClientID, "error", err)
	return err
}

// runEnhancedAuth drives a v5.0 enhanced-authentication exchange that
// began with an AuthenticationMethod property on CONNECT, reading and
// writing AUTH packets until Authenticate reports success or an
// error. This is a deliberate simplification of the wire protocol: a
// fully conformant server would fold the first continuation into
// CONNACK's reason code 0x18 rather than an AUTH packet, but since
// every round after the first looks identical on the wire either way,
// treating all of them uniformly keeps the handshake path simple.
func (srv *MqttServer[St]) runEnhancedAuth(ctx context.Context, io *iopipe.IoState, t iopipe.Transport, codec *wire.Codec, version uint8, connect *wire.ConnectPacket, auth Authenticator) error {
	next, err := auth.Authenticate(ctx, &wire.AuthPacket{
		Properties: &wire.Properties{
			Presence:             wire.PresAuthenticationMethod | wire.PresAuthenticationData,
			AuthenticationMethod: connect.Properties.AuthenticationMethod,
			AuthenticationData:   connect.Properties.AuthenticationData,
		},
		Version: version,
	})
	for err == nil && next != nil && next.ReasonCode != wire.RCSuccess {
		if sendErr := io.Send(ctx, t, codec, next); sendErr != nil {
			return sendErr
		}
		frame, readErr := io.Next(ctx, t, codec)
		if readErr != nil {
			return readErr
		}
		authPkt, ok := frame.(*wire.AuthPacket)
		if !ok {
			return &ProtocolError{Kind: ProtocolUnexpected, Context: "expected AUTH during enhanced authentication"}
		}
		next, err = auth.Authenticate(ctx, authPkt)
	}
	return err
}

// scheduleAwaitRelReap re-registers itself on timer every
// awaitRelTimeout until shared is closed, reaping inbound QoS2
// entries that have been waiting for PUBREL too long. A non-empty reap
// is treated the same as any other connection-ending protocol
// violation: it is routed through handleClosing so the peer gets a
// best-effort DISCONNECT (v5.0) and the control service sees
// ControlClosed, then the dispatcher is force-closed since nothing
// further can be read or written correctly once an id has been
// reassigned out from under its PUBREL.
func scheduleAwaitRelReap[St any](ctx context.Context, timer *iopipe.Timer, shared *MqttShared, svc *sessionService[St]) {
	var tick func()
	tick = func() {
		if shared.isClosed() {
			return
		}
		expired := shared.reapAwaitingRelease()
		if len(expired) > 0 {
			_, _ = svc.handleClosing(ctx, ProtocolAwaitRelTimeout, fmt.Errorf("mqttd: %d awaiting-release packet id(s) timed out", len(expired)))
			if shared.dispatcher != nil {
				shared.dispatcher.ForceClose()
			}
			return
		}
		timer.After(shared.awaitRelTimeout, tick)
	}
	timer.After(shared.awaitRelTimeout, tick)
}

// negotiatedKeepAlive follows the 3.1.1/5.0 keep-alive grace: the
// server treats the connection idle only after 1.5x the client's
// requested interval has elapsed. A requested interval of zero leaves
// keep-alive disabled.
func negotiatedKeepAlive(seconds uint16) time.Duration {
	if seconds == 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second * 3 / 2
}

func writeConnack[St any](ctx context.Context, io *iopipe.IoState, t iopipe.Transport, codec *wire.Codec, version uint8, ack *HandshakeAck[St], assignedClientID string) error {
	reason := wire.RCSuccess
	if !ack.accepted {
		reason = ack.reasonCode
	}

	returnCode := reason
	var props *wire.Properties
	if version < 5 {
		returnCode = v3ConnackFromReason(reason)
	} else if !ack.accepted && ack.reasonString != "" {
		props = &wire.Properties{Presence: wire.PresReasonString, ReasonString: ack.reasonString}
	} else if ack.accepted && assignedClientID != "" {
		props = &wire.Properties{Presence: wire.PresAssignedClientIdentifier, AssignedClientIdentifier: assignedClientID}
	}

	connack := &wire.ConnackPacket{
		SessionPresent: ack.accepted && ack.sessionPresent,
		ReturnCode:     returnCode,
		Properties:     props,
	}
	return io.Send(ctx, t, codec, connack)
}
