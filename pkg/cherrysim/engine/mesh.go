package engine

import (
	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/linklayer"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/mesh"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshproto"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"
)

// reasonHandshakeRejected is the disconnect reason reported when a
// clustering handshake refuses a connection (same cluster id, mismatched
// network, or an unpreferred partner); not an HCI code the real stack
// defines, just this engine's own bookkeeping value.
const reasonHandshakeRejected uint8 = 0x3E

// handleMeshMessage dispatches one decoded mesh-protocol message arriving
// on a KindMesh connection, running the clustering handshake, cluster-info
// propagation, time sync, reestablishment, and application routing.
func (e *Engine) handleMeshMessage(n *node.Node, c *conn.Connection, payload []byte) {
	tag, err := meshproto.PeekTag(payload)
	if err != nil {
		return
	}
	switch tag {
	case meshproto.TagClusterWelcome:
		e.handleWelcome(n, c, payload)
	case meshproto.TagClusterAck1:
		e.handleAck1(n, c, payload)
	case meshproto.TagClusterAck2:
		e.handleAck2(n, c, payload)
	case meshproto.TagClusterInfoUpdate:
		e.handleClusterInfoUpdate(n, c, payload)
	case meshproto.TagTimeSync:
		e.handleTimeSync(n, c, payload)
	case meshproto.TagReconnect:
		e.handleReconnect(n, c, payload)
	case meshproto.TagEnrolledNodesSync:
		e.handleEnrolledNodesSync(n, c, payload)
	case meshproto.TagAppData:
		e.handleIncomingAppData(n, c, payload)
	}
}

func (e *Engine) handleWelcome(n *node.Node, c *conn.Connection, payload []byte) {
	w, err := meshproto.DecodeWelcome(payload)
	if err != nil {
		return
	}
	cs := e.meta[n.ID].cluster
	ack1, err := mesh.HandleWelcome(cs, w, c.Direction == conn.DirectionIn, e.Sim.RNG.Uint32(), n.ID, c.PartnerID)
	if err != nil {
		e.log.Debug("welcome rejected", zap.Uint16("node", n.ID), zap.Error(err))
		e.disconnectBothSides(n, c.ConnectionHandle, reasonHandshakeRejected)
		return
	}
	if ack1 == nil {
		// "I'm bigger but wasn't already in a connection": stay put and let
		// the welcoming side eventually defer to us on its own offer.
		return
	}

	// Joining the bigger cluster: every other mesh connection this node
	// holds belongs to the cluster being left behind.
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active || slot.ConnectionHandle == c.ConnectionHandle {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		if oc := e.Pool.Resolve(&h); oc != nil && oc.Kind == conn.KindMesh {
			e.disconnectBothSides(n, slot.ConnectionHandle, mesh.ReasonRemoteUserTerminated)
		}
	}

	c.Mesh.ConnectedClusterID = cs.ClusterID
	c.Mesh.ConnectedClusterSize = cs.ClusterSize
	c.Mesh.HopsToSink = ack1.HopsToSink
	c.State = conn.StateHandshaking
	e.enqueueControl(c, meshproto.EncodeAck1(*ack1))
}

func (e *Engine) handleAck1(n *node.Node, c *conn.Connection, payload []byte) {
	a1, err := meshproto.DecodeAck1(payload)
	if err != nil {
		return
	}
	cs := e.meta[n.ID].cluster
	backupID, backupSize := cs.ClusterID, cs.ClusterSize
	ack2 := mesh.HandleAck1(c.Mesh, a1, backupID, backupSize)
	cs.ClusterSize = ack2.ClusterSizeBackup
	c.Mesh.ConnectedClusterID = cs.ClusterID
	c.Mesh.ConnectedClusterSize = cs.ClusterSize
	c.State = conn.StateHandshakeDone
	e.enqueueControl(c, meshproto.EncodeAck2(ack2))
	e.applyClusterSizeChange(n, c.ConnectionHandle, ack2.ClusterSizeBackup-backupSize)
	e.sendTimeSyncInitial(c)
}

func (e *Engine) handleAck2(n *node.Node, c *conn.Connection, payload []byte) {
	a2, err := meshproto.DecodeAck2(payload)
	if err != nil {
		return
	}
	cs := e.meta[n.ID].cluster
	before := cs.ClusterSize
	mesh.HandleAck2(cs, c.Mesh, a2)
	c.Mesh.ConnectedClusterID = cs.ClusterID
	c.Mesh.ConnectedClusterSize = cs.ClusterSize
	c.State = conn.StateHandshakeDone
	e.applyClusterSizeChange(n, c.ConnectionHandle, cs.ClusterSize-before)
}

// applyClusterSizeChange folds delta into every OTHER handshake-done mesh
// connection's bookkeeping and pending coalesced ClusterInfoUpdate, so the
// cluster-wide size change eventually floods across the whole mesh one hop
// at a time, the same propagation the spec's coalescing packet describes.
func (e *Engine) applyClusterSizeChange(n *node.Node, exclude uint16, delta int16) {
	if delta == 0 {
		return
	}
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		oc := e.Pool.Resolve(&h)
		if oc == nil || oc.Kind != conn.KindMesh || oc.ConnectionHandle == exclude || oc.State != conn.StateHandshakeDone {
			continue
		}
		oc.Mesh.ConnectedClusterSize += delta
		oc.Mesh.CurrentClusterInfoUpdatePacket.Merge(delta, false, oc.Mesh.HopsToSink)
	}
}

func (e *Engine) handleClusterInfoUpdate(n *node.Node, c *conn.Connection, payload []byte) {
	u, err := meshproto.DecodeClusterInfoUpdate(payload)
	if err != nil {
		return
	}
	cs := e.meta[n.ID].cluster
	cs.ClusterSize += u.SizeChange
	c.Mesh.ConnectedClusterSize += u.SizeChange
	c.Mesh.HopsToSink = u.HopsToSink
	if u.MasterBitHandover {
		mesh.ApplyMasterBitHandover(c.Mesh)
	}
	e.applyClusterSizeChange(n, c.ConnectionHandle, u.SizeChange)
}

// flushClusterInfoUpdates drains every handshake-done mesh connection's
// pending coalesced ClusterInfoUpdate into an actual queued vital-priority
// packet. Called once per pump per node rather than per Merge, matching
// the spec's "coalesce within one send interval" behavior.
func (e *Engine) flushClusterInfoUpdates(n *node.Node) {
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		c := e.Pool.Resolve(&h)
		if c == nil || c.Kind != conn.KindMesh || c.State != conn.StateHandshakeDone {
			continue
		}
		if u, ok := c.Mesh.CurrentClusterInfoUpdatePacket.Drain(); ok {
			e.enqueueControl(c, meshproto.EncodeClusterInfoUpdate(u))
		}
	}
}

func (e *Engine) sendTimeSyncInitial(c *conn.Connection) {
	if c.Mesh.TimeSyncState != conn.TimeSyncUnsynced {
		return
	}
	msg := mesh.SendInitial(c.Mesh)
	e.enqueueControl(c, meshproto.EncodeTimeSync(msg))
}

func (e *Engine) handleTimeSync(n *node.Node, c *conn.Connection, payload []byte) {
	ts, err := meshproto.DecodeTimeSync(payload)
	if err != nil {
		return
	}
	switch ts.Type {
	case mesh.TimeSyncInitial:
		switch c.Mesh.TimeSyncState {
		case conn.TimeSyncUnsynced:
			// Partner started the round; reply in kind.
			reply := mesh.HandleInitial(c.Mesh)
			e.enqueueControl(c, meshproto.EncodeTimeSync(reply))
		case conn.TimeSyncInitialSent:
			// Our own initial came back; close the round with the
			// correction. Both timestamps passed are the current time, so
			// the measured queuing latency is zero here.
			correction := mesh.SendCorrection(c.Mesh, e.nowDs(), e.nowDs())
			e.enqueueControl(c, meshproto.EncodeTimeSync(correction))
		}
	case mesh.TimeSyncCorrection:
		mesh.HandleCorrection(c.Mesh)
	}
}

// Reestablish is the terminal-driven recovery path: it rolls back the
// connection's in-flight packets and asks the partner to resume without
// redoing the clustering handshake. linklayer.DisconnectConnection frees
// both pool slots before the Disconnected event fires (see DESIGN.md), so
// unlike the original firmware this never survives an actual GAP teardown
// — it only models application-requested recovery of a connection that
// is still alive.
func (e *Engine) Reestablish(handle uint16) error {
	n := e.Nodes.ByID(e.currentTerminalNodeID())
	if n == nil {
		return errNodeNotFound(0)
	}
	c := e.localConnection(n, handle)
	if c == nil || c.Kind != conn.KindMesh || c.State != conn.StateHandshakeDone {
		return nil
	}
	mesh.BeginReestablishment(c, c.Mesh, e.nowDs())
	e.enqueueControl(c, meshproto.EncodeReconnect(mesh.Reconnect{Sender: n.ID, PartnerID: c.PartnerID}))
	return nil
}

func (e *Engine) handleReconnect(n *node.Node, c *conn.Connection, payload []byte) {
	r, err := meshproto.DecodeReconnect(payload)
	if err != nil {
		return
	}
	wasReestablishing := c.State == conn.StateReestablishing
	mesh.CompleteReestablishment(c, c.Mesh)
	if !wasReestablishing {
		e.enqueueControl(c, meshproto.EncodeReconnect(mesh.Reconnect{Sender: n.ID, PartnerID: r.Sender}))
	}
}

func (e *Engine) handleEnrolledNodesSync(n *node.Node, c *conn.Connection, payload []byte) {
	count, err := meshproto.DecodeEnrolledNodesSync(payload)
	if err != nil {
		return
	}
	mesh.EnrolledNodesSync(c.Mesh, uint16(len(e.Nodes.Nodes)), count)
}

// handleIncomingAppData routes an AppData message that arrived on a mesh
// connection: locally dispatches it if destined here, and/or forwards it
// onto whichever other handshake-done mesh connections RouteMessage picks
// for its destination.
func (e *Engine) handleIncomingAppData(n *node.Node, c *conn.Connection, payload []byte) {
	a, err := meshproto.DecodeAppData(payload)
	if err != nil {
		return
	}
	outs, rewritten, local := linklayer.RouteMessage(routing.NodeId(a.ReceiverID), c, e.outgoingMeshConnections(n, c))
	a.ReceiverID = uint16(rewritten)
	for _, out := range outs {
		e.enqueueData(out, meshproto.EncodeAppData(a))
	}
	if local {
		e.deliverAppData(n, a, false)
	}
}
