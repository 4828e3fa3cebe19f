// Package linklayer drives the cross-node radio operations a single
// node's firmware pump cannot perform on its own: advertising/scanning,
// connection establishment and teardown, and per-connection packet
// transmission (spec §4.3/§4.4). It is invoked once per tick, before each
// node's own pump runs, mirroring the firmware simulator's "radio model
// runs first, then every node's softdevice interrupt handlers" ordering.
package linklayer

import (
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/events"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/radio"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

// AdvIndPDUType is the only GAP advertising PDU type the simulator
// establishes connections from (ADV_IND, connectable undirected).
const AdvIndPDUType = 0

// HandleCounter hands out wrapping BLE connection handles, mirroring the
// firmware's globalConnHandleCounter (wraps to 1 above 65000).
type HandleCounter struct {
	next uint16
}

// NewHandleCounter starts a counter at 1.
func NewHandleCounter() *HandleCounter {
	return &HandleCounter{next: 1}
}

// Next returns the next connection handle, wrapping to 1 once it would
// exceed 65000.
func (c *HandleCounter) Next() uint16 {
	if c.next > 65000 {
		c.next = 1
	}
	h := c.next
	c.next++
	return h
}

// AdvertiseAndConnect runs one tick of §4.3: every advertising node whose
// interval triggers is scanned against by every other node that is
// scanning or connecting. A hit either enqueues an ADV_REPORT or — for a
// node actively connecting to this specific address — establishes the
// connection and halts this node's advertising for the tick. txPowerDbm is
// the sender's configured transmit power, the txDbm term of the RSSI
// formula.
func AdvertiseAndConnect(nodes *node.Slab, pool *conn.Pool, radioModel *radio.Model, rngStream *rng.Stream, handles *HandleCounter, txPowerDbm float64, simTimeMs, dtMs uint64) {
	for _, sender := range nodes.Nodes {
		if sender.State.AdvertisingIntervalMs == 0 || !sender.Features.Has(node.FeatureAdvertisingActive) {
			continue
		}
		if !advertisingIntervalTriggers(simTimeMs, dtMs, uint64(sender.State.AdvertisingIntervalMs)) {
			continue
		}

		for _, receiver := range nodes.Nodes {
			if receiver.ID == sender.ID {
				continue
			}
			if !receiver.State.ConnectingActive && !receiverIsScanning(receiver) {
				continue
			}

			impossible := receiver.ImpossibleConnections[sender.ID] || sender.ImpossibleConnections[receiver.ID]
			rssi := radioModel.RSSI(txPowerDbm, radioModel.Distance(sender.Position.X, sender.Position.Y, sender.Position.Z,
				receiver.Position.X, receiver.Position.Y, receiver.Position.Z), impossible, rngStream)

			if receiver.State.ConnectingActive && receiver.State.ConnectingPartnerAddr.Equal(sender.Address) {
				if radio.Received(rssi, rngStream) {
					// The connecting node is the GAP central (master); the
					// advertiser ends up peripheral and stops advertising
					// for this tick.
					establishConnection(receiver, sender, pool, handles, uint32(simTimeMs/100))
					break
				}
				continue
			}

			if receiverIsScanning(receiver) && radio.Received(rssi, rngStream) {
				payload := make([]byte, sender.State.AdvertisingPayloadLen)
				copy(payload, sender.State.AdvertisingPayload[:sender.State.AdvertisingPayloadLen])
				receiver.EventQueue.Push(events.Event{
					Type:        events.AdvReport,
					PeerAddress: sender.Address.Addr,
					Payload:     payload,
					RSSI:        int32(rssi),
				})
			}
		}
	}
}

// receiverIsScanning reports whether a node is actually listening: a
// configured scan window plus the scanning feature bit. Advertising and
// scanning are modeled independently, so both may be active at once.
func receiverIsScanning(n *node.Node) bool {
	return n.State.ScanWindowMs > 0 && n.Features.Has(node.FeatureScanningActive)
}

// advertisingIntervalTriggers wraps the SHOULD_SIM_IV_TRIGGER rollover
// check for a node's own advertising interval.
func advertisingIntervalTriggers(nowMs, dtMs, intervalMs uint64) bool {
	if intervalMs == 0 {
		return false
	}
	prev := nowMs - dtMs
	return (prev % intervalMs) >= (nowMs % intervalMs)
}

// establishConnection implements ConnectMasterToSlave: consumes one
// central quota unit on the master and one peripheral unit on the slave,
// allocates a pool slot on both sides, links the softdevice slot table,
// and enqueues CONNECTED events with the correct role on each side.
func establishConnection(master, slave *node.Node, pool *conn.Pool, handles *HandleCounter, nowDs uint32) {
	masterSlot := freeSlot(master)
	slaveSlot := freeSlot(slave)
	if masterSlot == -1 || slaveSlot == -1 {
		return
	}

	if !master.TakeMeshQuota(true) {
		return
	}
	if !slave.TakeMeshQuota(false) {
		master.ReleaseMeshQuota(true)
		return
	}

	masterHandle, masterConn, err := pool.Allocate(conn.DirectionOut, nowDs)
	if err != nil {
		master.ReleaseMeshQuota(true)
		slave.ReleaseMeshQuota(false)
		return
	}
	slaveHandle, slaveConn, err := pool.Allocate(conn.DirectionIn, nowDs)
	if err != nil {
		_ = pool.Free(masterConn.ConnectionID)
		master.ReleaseMeshQuota(true)
		slave.ReleaseMeshQuota(false)
		return
	}

	handle := handles.Next()
	masterConn.ConnectionHandle = handle
	slaveConn.ConnectionHandle = handle
	masterConn.PartnerID = slave.ID
	slaveConn.PartnerID = master.ID
	masterConn.PartnerAddress = slave.Address.Addr
	slaveConn.PartnerAddress = master.Address.Addr
	masterConn.ConnectionMTU = 23
	slaveConn.ConnectionMTU = 23
	masterConn.ConnectionPayloadSize = 20
	slaveConn.ConnectionPayloadSize = 20
	masterConn.State = conn.StateConnected
	slaveConn.State = conn.StateConnected

	master.State.ConnectionSlots[masterSlot] = node.ConnectionSlotRef{
		Active: true, IsCentral: true, UniqueConnectionID: masterHandle.UniqueID(), ConnectionHandle: handle,
	}
	slave.State.ConnectionSlots[slaveSlot] = node.ConnectionSlotRef{
		Active: true, IsCentral: false, UniqueConnectionID: slaveHandle.UniqueID(), ConnectionHandle: handle,
	}

	master.State.ConnectingActive = false
	slave.State.ConnectingActive = false

	master.EventQueue.Push(events.Event{Type: events.Connected, ConnectionHandle: handle, PeerAddress: slave.Address.Addr})
	slave.EventQueue.Push(events.Event{Type: events.Connected, ConnectionHandle: handle, PeerAddress: master.Address.Addr})
}

// freeSlot returns the first inactive softdevice connection slot index, or
// -1 if none is free.
func freeSlot(n *node.Node) int {
	for i := range n.State.ConnectionSlots {
		if !n.State.ConnectionSlots[i].Active {
			return i
		}
	}
	return -1
}

// DisconnectConnection implements DisconnectSimulatorConnection: clears
// both softdevice slots and pool connections, zeroing buffers, returning
// each side's mesh quota unit, and enqueues DISCONNECTED with each side's
// HCI reason code.
func DisconnectConnection(masterNode, slaveNode *node.Node, pool *conn.Pool, handle uint16, masterReason, slaveReason uint8) {
	for i := range masterNode.State.ConnectionSlots {
		slot := &masterNode.State.ConnectionSlots[i]
		if slot.Active && slot.ConnectionHandle == handle {
			h := conn.NewHandle(slot.UniqueConnectionID)
			if c := pool.Resolve(&h); c != nil {
				c.Queue.Clear()
				c.State = conn.StateDisconnected
				_ = pool.Free(c.ConnectionID)
			}
			masterNode.ReleaseMeshQuota(slot.IsCentral)
			*slot = node.ConnectionSlotRef{}
		}
	}
	for i := range slaveNode.State.ConnectionSlots {
		slot := &slaveNode.State.ConnectionSlots[i]
		if slot.Active && slot.ConnectionHandle == handle {
			h := conn.NewHandle(slot.UniqueConnectionID)
			if c := pool.Resolve(&h); c != nil {
				c.Queue.Clear()
				c.State = conn.StateDisconnected
				_ = pool.Free(c.ConnectionID)
			}
			slaveNode.ReleaseMeshQuota(slot.IsCentral)
			*slot = node.ConnectionSlotRef{}
		}
	}

	masterNode.EventQueue.Push(events.Event{Type: events.Disconnected, ConnectionHandle: handle, Reason: masterReason})
	slaveNode.EventQueue.Push(events.Event{Type: events.Disconnected, ConnectionHandle: handle, Reason: slaveReason})
}

// CheckConnectingTimeouts enqueues a TIMEOUT(CONN) event and clears
// connectingActive on any node whose connection attempt has exceeded its
// deadline.
func CheckConnectingTimeouts(nodes *node.Slab, simTimeMs uint64) {
	for _, n := range nodes.Nodes {
		if n.State.ConnectingActive && simTimeMs >= n.State.ConnectingTimeoutMs {
			n.State.ConnectingActive = false
			n.EventQueue.Push(events.Event{Type: events.Timeout, TimeoutSource: events.TimeoutSourceConn})
		}
	}
}

// ReasonConnectionTimeout is the HCI disconnection reason used for
// stuck-queue and per-second timeout-probability disconnects.
const ReasonConnectionTimeout uint8 = 0x08
