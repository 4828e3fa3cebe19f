package linklayer

import (
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/events"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

// StuckQueueTimeoutDs is the spec's 30-second stuck-queue disconnect
// threshold, expressed in deciseconds (the unit conn.Packet.EnqueuedAtDs
// is stamped in).
const StuckQueueTimeoutDs = 300

// RSSIReportIntervalMs is how often an active connection with RSSI
// reporting enabled gets an RSSI_CHANGED event (spec: "every ~5s").
const RSSIReportIntervalMs = 5000

// maxPacketsBySlotCount implements the spec's "pick the number of packets
// to send" table: 1 connection -> up to SIM_NUM_UNRELIABLE_BUFFERS, 2 ->
// up to 5, >=3 -> up to 3.
func maxPacketsBySlotCount(activeConnectionCount int) int {
	switch {
	case activeConnectionCount <= 1:
		return conn.SimNumUnreliableBuffers
	case activeConnectionCount == 2:
		return 5
	default:
		return 3
	}
}

// connPair is one side's view of a live connection plus its owning node,
// used so TransmitPackets can iterate pool connections once and look up
// each side's node.
type connPair struct {
	localNode   *node.Node
	partnerNode *node.Node
	c           *conn.Connection
	handle      uint16
}

// TransmitPackets implements §4.4 for every active connection: picks how
// many packets to drain this event, checks for a stuck queue, drains in
// globalPacketId order delivering WRITE/HVX/WRITE_RSP events, reports RSSI
// periodically, and rolls the per-second connection-timeout probability.
func TransmitPackets(nodes *node.Slab, pool *conn.Pool, rngStream *rng.Stream, simTimeMs, dtMs uint64, connectionTimeoutProbabilityPerSec float64, receptionProbability func(localID, partnerID uint16) float64) {
	activeConnectionCount := countActiveConnections(pool)

	for _, c := range pool.All() {
		if c.State == conn.StateDisconnected {
			// Already torn down earlier this same pass (its partner side
			// hit a disconnect condition first); pool.All() was snapshot
			// before the loop started so this stale entry can still appear.
			continue
		}
		if c.Kind == conn.KindResolver && c.State != conn.StateConnected {
			continue
		}
		localNode, partnerNode := resolveSides(nodes, c)
		if localNode == nil || partnerNode == nil {
			continue
		}
		// Each side owns its own outgoing queue (a connection handle spans
		// two independent conn.Connection records, one per side), so both
		// directions are drained here, each delivering into its partner.

		if !connectionIntervalTriggers(simTimeMs, dtMs) {
			continue
		}

		if oldest, ok := c.Queue.OldestEnqueuedAtDs(); ok {
			nowDs := uint32(simTimeMs / 100)
			if nowDs-oldest > StuckQueueTimeoutDs {
				DisconnectConnection(localNode, partnerNode, pool, c.ConnectionHandle, ReasonConnectionTimeout, ReasonConnectionTimeout)
				continue
			}
		}

		maxPackets := maxPacketsBySlotCount(activeConnectionCount)
		if receptionProbability != nil && receptionProbability(localNode.ID, partnerNode.ID) == 0 {
			maxPackets = 0
		} else if maxPackets > 0 {
			maxPackets = 1 + rngStream.IntN(maxPackets)
		}

		drainConnection(localNode, partnerNode, c, maxPackets)

		if ShouldReportRSSI(simTimeMs, dtMs) {
			localNode.EventQueue.Push(events.Event{Type: events.RssiChanged, ConnectionHandle: c.ConnectionHandle, RSSI: c.LastReportedRSSI})
		}

		if connectionTimeoutProbabilityPerSec > 0 && secondTriggers(simTimeMs, dtMs) {
			if rngStream.Float64() < connectionTimeoutProbabilityPerSec {
				DisconnectConnection(localNode, partnerNode, pool, c.ConnectionHandle, ReasonConnectionTimeout, ReasonConnectionTimeout)
			}
		}
	}
}

// drainConnection pops up to maxPackets packets in globalPacketId order,
// delivering each as a WRITE or HVX event on the partner, coalescing
// TX_COMPLETE across unreliable sends, and stopping immediately after a
// WRITE_REQ (which additionally triggers an immediate WRITE_RSP on the
// sender).
func drainConnection(localNode, partnerNode *node.Node, c *conn.Connection, maxPackets int) {
	unreliableSent := 0
	for i := 0; i < maxPackets; i++ {
		p := c.Queue.PopNext()
		if p == nil {
			break
		}

		switch p.Kind {
		case conn.PacketWriteReq:
			c.SentReliable++
			partnerNode.EventQueue.Push(events.Event{Type: events.Write, ConnectionHandle: c.ConnectionHandle, Payload: p.Payload, Reliable: true})
			localNode.EventQueue.Push(events.Event{Type: events.WriteRsp, ConnectionHandle: c.ConnectionHandle, AdditionalInfo: uint32(p.GlobalPacketID)})
			if unreliableSent > 0 {
				localNode.EventQueue.Push(events.Event{Type: events.TxComplete, ConnectionHandle: c.ConnectionHandle, AdditionalInfo: uint32(unreliableSent)})
			}
			return
		case conn.PacketNotification:
			c.SentUnreliable++
			unreliableSent++
			partnerNode.EventQueue.Push(events.Event{Type: events.HVX, ConnectionHandle: c.ConnectionHandle, Payload: p.Payload})
		default: // PacketWriteCmd
			c.SentUnreliable++
			unreliableSent++
			partnerNode.EventQueue.Push(events.Event{Type: events.Write, ConnectionHandle: c.ConnectionHandle, Payload: p.Payload, Reliable: false})
		}
	}
	if unreliableSent > 0 {
		localNode.EventQueue.Push(events.Event{Type: events.TxComplete, ConnectionHandle: c.ConnectionHandle, AdditionalInfo: uint32(unreliableSent)})
	}
}

// resolveSides looks up the two nodes a connection handle spans by
// scanning their softdevice connection slot tables.
func resolveSides(nodes *node.Slab, c *conn.Connection) (local, partner *node.Node) {
	for _, n := range nodes.Nodes {
		for _, slot := range n.State.ConnectionSlots {
			if slot.Active && slot.ConnectionHandle == c.ConnectionHandle {
				if slot.IsCentral == (c.Direction == conn.DirectionOut) {
					if local == nil {
						local = n
					}
				} else if partner == nil {
					partner = n
				}
			}
		}
	}
	return local, partner
}

func countActiveConnections(pool *conn.Pool) int {
	n := 0
	for _, c := range pool.All() {
		if c.State != conn.StateDisconnected {
			n++
		}
	}
	return n
}

func connectionIntervalTriggers(simTimeMs, dtMs uint64) bool {
	return dtMs > 0
}

// ShouldReportRSSI is SHOULD_SIM_IV_TRIGGER(5000) for RSSI reporting.
func ShouldReportRSSI(nowMs, dtMs uint64) bool {
	return shouldIntervalTrigger(nowMs, dtMs, RSSIReportIntervalMs)
}

func secondTriggers(nowMs, dtMs uint64) bool {
	return shouldIntervalTrigger(nowMs, dtMs, 1000)
}

func shouldIntervalTrigger(nowMs, dtMs, intervalMs uint64) bool {
	if intervalMs == 0 {
		return false
	}
	prev := nowMs - dtMs
	return (prev % intervalMs) >= (nowMs % intervalMs)
}
