package engine

import (
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
)

// NodeSummary is the read-only per-node snapshot the interactive TUI (and
// any other status consumer) renders each refresh: position, cluster
// membership, and live connection count, without exposing the engine's
// internal bookkeeping types directly.
type NodeSummary struct {
	ID                uint16
	Serial            uint32
	Asset             bool
	Position          node.Position
	ClusterID         uint32
	ClusterSize       int16
	ActiveConnections int
	Sent              uint64
	Routed            uint64
}

// Snapshot returns a point-in-time summary of every node in the slab, in
// slab order.
func (e *Engine) Snapshot() []NodeSummary {
	out := make([]NodeSummary, 0, len(e.Nodes.Nodes))
	for _, n := range e.Nodes.Nodes {
		active := 0
		for _, slot := range n.State.ConnectionSlots {
			if slot.Active {
				active++
			}
		}

		s := NodeSummary{
			ID:                n.ID,
			Serial:            n.SerialIndex,
			Asset:             e.assetIDs[n.ID],
			Position:          n.Position,
			ActiveConnections: active,
		}
		if m, ok := e.meta[n.ID]; ok && m != nil {
			if m.cluster != nil {
				s.ClusterID = m.cluster.ClusterID
				s.ClusterSize = m.cluster.ClusterSize
			}
			s.Sent = m.sent
			s.Routed = m.routed
		}
		out = append(out, s)
	}
	return out
}

// TickCount reports how many ticks the underlying simulator has run.
func (e *Engine) TickCount() uint64 { return e.Sim.TickCount() }

// SimTimeMs reports the current simulated time in milliseconds.
func (e *Engine) SimTimeMs() uint64 { return e.Sim.SimTimeMs }
