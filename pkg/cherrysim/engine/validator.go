package engine

import (
	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshproto"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/sim"
)

// validateClustering is the optional per-tick consistency check: it
// derives each node's true cluster size from the graph of handshake-done
// mesh connections, predicts each node's eventual belief by adding the
// size changes still in flight toward it (queued CLUSTER_INFO_UPDATE
// packets plus the partner's pending coalesced update), and warns when
// prediction and ground truth disagree. It never mutates simulation state.
func (e *Engine) validateClustering(s *sim.Simulator) {
	componentSize := e.clusterComponentSizes()

	for _, n := range s.Nodes.Nodes {
		m := e.meta[n.ID]
		if m == nil || m.cluster == nil {
			continue
		}

		inMesh := false
		predicted := m.cluster.ClusterSize
		for _, slot := range n.State.ConnectionSlots {
			if !slot.Active {
				continue
			}
			h := conn.NewHandle(slot.UniqueConnectionID)
			c := e.Pool.Resolve(&h)
			if c == nil || c.Kind != conn.KindMesh || c.State != conn.StateHandshakeDone {
				continue
			}
			inMesh = true
			predicted += e.inFlightSizeChange(n.ID, c)
		}
		if !inMesh {
			continue
		}

		if truth, ok := componentSize[n.ID]; ok && predicted != truth {
			e.log.Warn("cluster size mismatch",
				zap.Uint16("nodeId", n.ID),
				zap.Int16("believed", m.cluster.ClusterSize),
				zap.Int16("predicted", predicted),
				zap.Int16("actual", truth))
		}
	}
}

// clusterComponentSizes computes the ground-truth cluster size of every
// node: the size of its connected component over handshake-done mesh
// edges, via union-find over node ids.
func (e *Engine) clusterComponentSizes() map[uint16]int16 {
	parent := make(map[uint16]uint16, len(e.Nodes.Nodes))
	var find func(x uint16) uint16
	find = func(x uint16) uint16 {
		p, ok := parent[x]
		if !ok || p == x {
			parent[x] = x
			return x
		}
		root := find(p)
		parent[x] = root
		return root
	}
	union := func(a, b uint16) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, n := range e.Nodes.Nodes {
		find(n.ID)
		for _, slot := range n.State.ConnectionSlots {
			if !slot.Active {
				continue
			}
			h := conn.NewHandle(slot.UniqueConnectionID)
			c := e.Pool.Resolve(&h)
			if c == nil || c.Kind != conn.KindMesh || c.State != conn.StateHandshakeDone {
				continue
			}
			union(n.ID, c.PartnerID)
		}
	}

	counts := make(map[uint16]int16, len(parent))
	for id := range parent {
		counts[find(id)]++
	}
	sizes := make(map[uint16]int16, len(parent))
	for id := range parent {
		sizes[id] = counts[find(id)]
	}
	return sizes
}

// inFlightSizeChange sums the size deltas still heading toward nodeID over
// one of its mesh connections: CLUSTER_INFO_UPDATE packets sitting in the
// partner side's queue plus the partner's pending coalesced update.
func (e *Engine) inFlightSizeChange(nodeID uint16, c *conn.Connection) int16 {
	partnerSide := e.partnerSideConnection(nodeID, c)
	if partnerSide == nil || partnerSide.Kind != conn.KindMesh {
		return 0
	}

	var sum int16
	if partnerSide.Mesh.CurrentClusterInfoUpdatePacket.Pending {
		sum += partnerSide.Mesh.CurrentClusterInfoUpdatePacket.SizeChange
	}
	for _, p := range partnerSide.Queue.Pending() {
		tag, err := meshproto.PeekTag(p.Payload)
		if err != nil || tag != meshproto.TagClusterInfoUpdate {
			continue
		}
		if u, err := meshproto.DecodeClusterInfoUpdate(p.Payload); err == nil {
			sum += u.SizeChange
		}
	}
	return sum
}

// partnerSideConnection finds the partner node's own Connection record for
// the same BLE handle (a handle spans two independent records, one per
// side).
func (e *Engine) partnerSideConnection(nodeID uint16, c *conn.Connection) *conn.Connection {
	partner := e.Nodes.ByID(c.PartnerID)
	if partner == nil {
		return nil
	}
	return e.localConnection(partner, c.ConnectionHandle)
}
