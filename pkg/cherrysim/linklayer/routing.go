package linklayer

import (
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"
)

// OutgoingConnection wraps one live handshaked mesh connection, the unit
// RouteMessage picks outgoing connections from without reaching back into
// the pool itself.
type OutgoingConnection struct {
	Conn *conn.Connection
}

// RouteMessage implements §4.7's destination resolution: given a
// receiver id and the set of handshaked mesh connections available to
// relay on, it returns which connections the message should be sent on
// and, for hops-range destinations, the rewritten receiver id to forward
// with.
//
// CLUSTER_INFO_UPDATE and UPDATE_TIMESTAMP are not routed through this
// function: they propagate by their own bespoke coalescing/broadcast
// rules (see the mesh package), not hop decrement.
func RouteMessage(receiver routing.NodeId, arrivedOn *conn.Connection, meshConns []OutgoingConnection) (out []*conn.Connection, rewrittenReceiver routing.NodeId, dispatchLocally bool) {
	dest, k := routing.Classify(receiver)

	switch dest {
	case routing.DestLocalLoopback:
		return nil, receiver, true

	case routing.DestHops:
		next, relay := routing.NextHopsValue(k)
		if !relay {
			return nil, receiver, true
		}
		return broadcastExcept(meshConns, arrivedOn), next, false

	case routing.DestShortestSink:
		best := pickShortestSink(meshConns)
		if best == nil {
			return broadcastExcept(meshConns, arrivedOn), receiver, false
		}
		return []*conn.Connection{best}, receiver, false

	case routing.DestBroadcast:
		return broadcastExcept(meshConns, arrivedOn), receiver, true

	case routing.DestAnycastThenBroadcast:
		for _, mc := range meshConns {
			if mc.Conn.Kind == conn.KindMeshAccess {
				return []*conn.Connection{mc.Conn}, receiver, false
			}
		}
		return broadcastExcept(meshConns, arrivedOn), receiver, false

	default: // DestUnicast
		for _, mc := range meshConns {
			if mc.Conn.PartnerID == uint16(receiver) {
				return []*conn.Connection{mc.Conn}, receiver, mc.Conn == arrivedOn
			}
		}
		return nil, receiver, false
	}
}

// broadcastExcept returns every mesh connection other than the one the
// message arrived on (nil arrivedOn means "locally originated": send on
// all of them).
func broadcastExcept(meshConns []OutgoingConnection, arrivedOn *conn.Connection) []*conn.Connection {
	out := make([]*conn.Connection, 0, len(meshConns))
	for _, mc := range meshConns {
		if mc.Conn == arrivedOn {
			continue
		}
		out = append(out, mc.Conn)
	}
	return out
}

// pickShortestSink returns the mesh connection with the lowest non-negative
// hopsToSink, or nil if none has a valid route.
func pickShortestSink(meshConns []OutgoingConnection) *conn.Connection {
	var best *conn.Connection
	bestHops := int8(-1)
	for _, mc := range meshConns {
		if mc.Conn.Mesh == nil {
			continue
		}
		hops := mc.Conn.Mesh.HopsToSink
		if hops < 0 {
			continue
		}
		if best == nil || hops < bestHops {
			best = mc.Conn
			bestHops = hops
		}
	}
	return best
}

// ReassembleSplitMessage implements §4.7's split/reassembly contract: a
// SPLIT_WRITE_CMD chunk is appended to the connection's per-connection
// reassembly buffer; SPLIT_WRITE_CMD_END returns the completed message and
// clears the buffer. A chunk sequence whose first chunk was dropped (no
// buffer started when a non-first continuation arrives) drops the whole
// message, signalled by complete=false with a nil message.
func ReassembleSplitMessage(c *conn.Connection, chunk []byte, isFirst, isEnd bool) (message []byte, complete bool) {
	if isFirst {
		c.ReassemblyBuffer = append([]byte(nil), chunk...)
	} else if c.ReassemblyBuffer != nil {
		c.ReassemblyBuffer = append(c.ReassemblyBuffer, chunk...)
	} else {
		// First chunk was never received; drop the whole message.
		return nil, false
	}

	if !isEnd {
		return nil, false
	}

	msg := c.ReassemblyBuffer
	c.ReassemblyBuffer = nil
	return msg, true
}
