package mqttd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brokermq/core/internal/wire"
	"github.com/brokermq/core/iopipe"
)

type testState struct{ name string }

func newTestService(t *testing.T, version uint8, publish PublishService[testState], control ControlService[testState]) *sessionService[testState] {
	t.Helper()
	shared := newMqttShared(nil, version, 8, 0, 0)
	sess := &Session[testState]{State: testState{name: "t"}, shared: shared, version: version}
	sess.sink = newMqttSink(shared)
	return &sessionService[testState]{sess: sess, shared: shared, publish: publish, control: control, version: version}
}

func TestDispatchPublishQoS0NoAck(t *testing.T) {
	var got *PublishMessage
	svc := newTestService(t, 4, func(ctx context.Context, sess *Session[testState], msg *PublishMessage) error {
		got = msg
		return nil
	}, nil)

	resp, err := svc.Call(context.Background(), iopipe.ItemFrame(&wire.PublishPacket{Topic: "a", Payload: []byte("x"), QoS: wire.QoS0}))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != nil {
		t.Errorf("QoS0 publish produced a response %v, want nil", resp)
	}
	if got == nil || got.Topic != "a" {
		t.Errorf("publish service did not receive the message")
	}
}

func TestDispatchPublishQoS1Acks(t *testing.T) {
	svc := newTestService(t, 4, func(ctx context.Context, sess *Session[testState], msg *PublishMessage) error {
		return nil
	}, nil)

	resp, err := svc.Call(context.Background(), iopipe.ItemFrame(&wire.PublishPacket{Topic: "a", QoS: wire.QoS1, PacketID: 7}))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	ack, ok := resp.(*wire.PubackPacket)
	if !ok {
		t.Fatalf("resp = %T, want *wire.PubackPacket", resp)
	}
	if ack.PacketID != 7 {
		t.Errorf("PacketID = %d, want 7", ack.PacketID)
	}
}

func TestDispatchPublishServiceErrorWraps(t *testing.T) {
	boom := errors.New("boom")
	svc := newTestService(t, 4, func(ctx context.Context, sess *Session[testState], msg *PublishMessage) error {
		return boom
	}, nil)

	_, err := svc.Call(context.Background(), iopipe.ItemFrame(&wire.PublishPacket{Topic: "a", QoS: wire.QoS0}))
	var se *ServiceError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Errorf("Call error = %v, want *ServiceError wrapping %v", err, boom)
	}
}

func TestDispatchDuplicateQoS2DoesNotRedeliver(t *testing.T) {
	calls := 0
	svc := newTestService(t, 4, func(ctx context.Context, sess *Session[testState], msg *PublishMessage) error {
		calls++
		return nil
	}, nil)

	pkt := &wire.PublishPacket{Topic: "a", QoS: wire.QoS2, PacketID: 3}
	if _, err := svc.Call(context.Background(), iopipe.ItemFrame(pkt)); err != nil {
		t.Fatalf("first Call: %v", err)
	}
	resp, err := svc.Call(context.Background(), iopipe.ItemFrame(pkt))
	if err != nil {
		t.Fatalf("duplicate Call: %v", err)
	}
	if calls != 1 {
		t.Errorf("publish service invoked %d times, want 1 (duplicate must not redeliver)", calls)
	}
	if _, ok := resp.(*wire.PubrecPacket); !ok {
		t.Errorf("duplicate resp = %T, want *wire.PubrecPacket", resp)
	}
}

func TestHandlePubrelReleasesAwaitingSet(t *testing.T) {
	svc := newTestService(t, 4, func(ctx context.Context, sess *Session[testState], msg *PublishMessage) error {
		return nil
	}, nil)

	pkt := &wire.PublishPacket{Topic: "a", QoS: wire.QoS2, PacketID: 9}
	if _, err := svc.Call(context.Background(), iopipe.ItemFrame(pkt)); err != nil {
		t.Fatalf("publish Call: %v", err)
	}
	resp, err := svc.Call(context.Background(), iopipe.ItemFrame(&wire.PubrelPacket{PacketID: 9}))
	if err != nil {
		t.Fatalf("pubrel Call: %v", err)
	}
	if _, ok := resp.(*wire.PubcompPacket); !ok {
		t.Errorf("resp = %T, want *wire.PubcompPacket", resp)
	}

	// A second PUBLISH with the same id is now treated as fresh, not a
	// duplicate, since PUBREL closed out the awaiting-release entry.
	calls := 0
	svc.publish = func(ctx context.Context, sess *Session[testState], msg *PublishMessage) error {
		calls++
		return nil
	}
	if _, err := svc.Call(context.Background(), iopipe.ItemFrame(pkt)); err != nil {
		t.Fatalf("second publish Call: %v", err)
	}
	if calls != 1 {
		t.Errorf("publish service invoked %d times after PUBREL freed the id, want 1", calls)
	}
}

func TestHandlePubrecErrorReasonCompletesImmediately(t *testing.T) {
	svc := newTestService(t, 5, nil, nil)
	entry, err := svc.shared.registerOutbound(context.Background(), 11, wire.QoS2)
	if err != nil {
		t.Fatalf("registerOutbound: %v", err)
	}

	_, err = svc.Call(context.Background(), iopipe.ItemFrame(&wire.PubrecPacket{PacketID: 11, ReasonCode: wire.RCNotAuthorized}))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	select {
	case got := <-entry.done:
		var me *MqttError
		if !errors.As(got, &me) || me.ReasonCode != wire.RCNotAuthorized {
			t.Errorf("entry.done = %v, want *MqttError{ReasonCode: RCNotAuthorized}", got)
		}
	default:
		t.Fatal("entry.done not signalled for an error PUBREC")
	}
	if entry.state == waitPubcomp {
		t.Errorf("entry advanced to waitPubcomp despite an error reason code")
	}
}

func TestHandleClosingSendsV5DisconnectAndControlClosed(t *testing.T) {
	tr := newMemTransport()
	ioState := iopipe.NewIoState()
	timer := iopipe.NewTimer(50 * time.Millisecond)
	t.Cleanup(timer.Stop)

	var closedErr error
	svc := newTestService(t, 5, nil, func(ctx context.Context, sess *Session[testState], msg *ControlMessage) (*ControlResult, error) {
		if msg.Kind == ControlClosed {
			closedErr = msg.Err
		}
		return nil, nil
	})

	codec := wire.NewCodec()
	codec.SetVersion(5)
	noop := iopipe.ServiceFunc(func(ctx context.Context, item iopipe.DispatchItem) (iopipe.Frame, error) { return nil, nil })
	d := iopipe.NewDispatcher(ioState, tr, codec, noop, timer, iopipe.Config{InFlight: 4})
	svc.shared.dispatcher = d

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	boom := errors.New("read failed")
	_, err := svc.Call(context.Background(), iopipe.ItemIoError(boom))
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Kind != ProtocolIO {
		t.Fatalf("Call error = %v, want *ProtocolError{Kind: ProtocolIO}", err)
	}
	if !errors.Is(closedErr, boom) {
		t.Errorf("ControlClosed message carried err = %v, want %v", closedErr, boom)
	}

	var frame wire.Packet
	for i := 0; i < 200; i++ {
		tr.mu.Lock()
		buf := append([]byte(nil), tr.written...)
		tr.mu.Unlock()
		if len(buf) > 0 {
			decoded, _, decErr := codec.Decode(buf)
			if decErr != nil {
				t.Fatalf("Decode injected frame: %v", decErr)
			}
			if decoded != nil {
				frame = decoded.(wire.Packet)
				break
			}
		}
		time.Sleep(time.Millisecond)
	}
	if frame == nil {
		t.Fatal("handleClosing did not write a DISCONNECT before Run observed the timeout")
	}
	if _, ok := frame.(*wire.DisconnectPacket); !ok {
		t.Errorf("written frame = %T, want *wire.DisconnectPacket", frame)
	}
}

func TestControlResultDisconnectBeginsShutdown(t *testing.T) {
	tr := newMemTransport()
	ioState := iopipe.NewIoState()
	timer := iopipe.NewTimer(50 * time.Millisecond)
	t.Cleanup(timer.Stop)

	svc := newTestService(t, 4, nil, func(ctx context.Context, sess *Session[testState], msg *ControlMessage) (*ControlResult, error) {
		return &ControlResult{ReasonCodes: []uint8{wire.RCSuccess}, Disconnect: true}, nil
	})

	codec := wire.NewCodec()
	codec.SetVersion(4)
	d := iopipe.NewDispatcher(ioState, tr, codec, svc, timer, iopipe.Config{InFlight: 4})
	svc.shared.dispatcher = d

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	tr.feed(func() []byte {
		buf, err := (&wire.PingreqPacket{}).Encode(nil)
		if err != nil {
			t.Fatalf("Encode PINGREQ: %v", err)
		}
		return buf
	}())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the control service requested Disconnect")
	}
	if d.State() != iopipe.StateStopped {
		t.Errorf("dispatcher state = %v after Disconnect control result, want Stopped", d.State())
	}

	cancel()
}
