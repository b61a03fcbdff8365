package mqttd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/brokermq/core/internal/wire"
	"github.com/brokermq/core/iopipe"
)

// outboundState is where a QoS1/2 outbound publish sits in its
// acknowledgement handshake.
type outboundState int

const (
	waitPuback outboundState = iota
	waitPubrec
	waitPubcomp
)

type outboundEntry struct {
	qos   uint8
	state outboundState
	done  chan error // buffered 1; receives nil on success
}

// Stats is a point-in-time snapshot of a connection's packet/byte
// counters, read via Session.Stats. PacketsReceived counts packets
// decoded after CONNECT; PacketsSent counts packets written out of band
// through the session (sink publishes, subscribes and unsubscribes,
// PUBRELs, closing DISCONNECTs), not acks returned as responses.
// BytesSent and BytesReceived are never updated and always read zero.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
}

type statCounters struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
	}
}

// MqttShared is the state shared by the session dispatcher and every
// clone of the MqttSink handed out for one connection: the dispatcher
// handle, the packet-id cursor, the outbound QoS1/2 in-flight map, the
// inbound QoS2 awaiting-release set, and the semaphore bounding
// concurrent outbound acknowledgement waits. Go's scheduler is
// preemptive (unlike the cooperative model this layer's design note
// assumes), so the cursor, the maps and the closed flags are behind mu
// rather than relying on single-threaded confinement; the stats
// counters are atomics.
type MqttShared struct {
	mu sync.Mutex

	dispatcher *iopipe.Dispatcher
	version    uint8

	nextID          uint16
	outboundInFlight map[uint16]*outboundEntry

	awaitingRelease map[uint16]time.Time
	maxAwaitingRel  int
	awaitRelTimeout time.Duration

	closed      bool
	forceClosed bool

	sem *semaphore.Weighted

	stats statCounters
}

func newMqttShared(d *iopipe.Dispatcher, version uint8, inflight, maxAwaitingRel int, awaitRelTimeout time.Duration) *MqttShared {
	if inflight <= 0 {
		inflight = 16
	}
	return &MqttShared{
		dispatcher:       d,
		version:          version,
		outboundInFlight: make(map[uint16]*outboundEntry),
		awaitingRelease:  make(map[uint16]time.Time),
		maxAwaitingRel:   maxAwaitingRel,
		awaitRelTimeout:  awaitRelTimeout,
		sem:              semaphore.NewWeighted(int64(inflight)),
	}
}

// allocID finds the next free non-zero 16-bit packet id: one not
// currently present in the outbound in-flight map or the inbound
// awaiting-release set. Returns ErrPacketIDsExhausted if all 65535
// values are taken.
func (sh *MqttShared) allocID() (uint16, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for range [65535]struct{}{} {
		sh.nextID++
		if sh.nextID == 0 {
			sh.nextID = 1
		}
		if _, used := sh.outboundInFlight[sh.nextID]; used {
			continue
		}
		if _, awaiting := sh.awaitingRelease[sh.nextID]; awaiting {
			continue
		}
		return sh.nextID, nil
	}
	return 0, ErrPacketIDsExhausted
}

func (sh *MqttShared) isClosed() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.closed
}

// markClosed fails every outstanding outbound wait with err and
// prevents any new ones from being registered.
func (sh *MqttShared) markClosed(err error) {
	sh.mu.Lock()
	sh.closed = true
	entries := sh.outboundInFlight
	sh.outboundInFlight = make(map[uint16]*outboundEntry)
	sh.mu.Unlock()

	for _, e := range entries {
		select {
		case e.done <- err:
		default:
		}
	}
}

// registerOutbound acquires a semaphore slot (bounding concurrent
// outbound QoS1/2 waits to the configured inflight limit) and tracks
// the packet id until its ack chain completes.
func (sh *MqttShared) registerOutbound(ctx context.Context, id uint16, qos uint8) (*outboundEntry, error) {
	if err := sh.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	entry := &outboundEntry{qos: qos, state: waitPuback, done: make(chan error, 1)}
	if qos == wire.QoS2 {
		entry.state = waitPubrec
	}

	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		sh.sem.Release(1)
		return nil, ErrDisconnected
	}
	sh.outboundInFlight[id] = entry
	sh.mu.Unlock()
	return entry, nil
}

func (sh *MqttShared) releaseOutbound(id uint16) {
	sh.mu.Lock()
	delete(sh.outboundInFlight, id)
	sh.mu.Unlock()
	sh.sem.Release(1)
}

// outboundEntryFor returns the outbound entry tracked for id, if any.
// It changes nothing: the session dispatcher's handlePuback,
// handlePubrec and handlePubcomp advance or complete the entry.
func (sh *MqttShared) outboundEntryFor(id uint16) (*outboundEntry, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.outboundInFlight[id]
	return e, ok
}

// insertAwaitingRelease records that an inbound QoS2 PUBLISH has been
// delivered and PUBREC sent; ok is false if max_awaiting_rel would be
// exceeded, already is true if id was already present (a duplicate
// PUBLISH, which must re-emit PUBREC without redelivering).
func (sh *MqttShared) insertAwaitingRelease(id uint16) (already, ok bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, present := sh.awaitingRelease[id]; present {
		return true, true
	}
	if sh.maxAwaitingRel > 0 && len(sh.awaitingRelease) >= sh.maxAwaitingRel {
		return false, false
	}
	sh.awaitingRelease[id] = time.Now()
	return false, true
}

func (sh *MqttShared) removeAwaitingRelease(id uint16) {
	sh.mu.Lock()
	delete(sh.awaitingRelease, id)
	sh.mu.Unlock()
}

// reapAwaitingRelease removes and returns the ids older than
// awaitRelTimeout; called once per tick by the session dispatcher's
// reaper when awaitRelTimeout > 0.
func (sh *MqttShared) reapAwaitingRelease() []uint16 {
	if sh.awaitRelTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-sh.awaitRelTimeout)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	var expired []uint16
	for id, t := range sh.awaitingRelease {
		if t.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(sh.awaitingRelease, id)
	}
	return expired
}

func (sh *MqttShared) send(ctx context.Context, pkt wire.Packet) error {
	if err := sh.dispatcher.Inject(ctx, pkt); err != nil {
		return err
	}
	sh.stats.packetsSent.Add(1)
	return nil
}
