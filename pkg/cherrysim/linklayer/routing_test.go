package linklayer

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"
)

func meshConnWithHops(partnerID uint16, hops int8) OutgoingConnection {
	c := conn.NewConnection(uint32(partnerID), 0, conn.DirectionOut, 0)
	c.PartnerID = partnerID
	mv := c.PromoteToMesh()
	mv.HopsToSink = hops
	return OutgoingConnection{Conn: c}
}

func TestRouteMessageLocalLoopback(t *testing.T) {
	out, rewritten, local := RouteMessage(routing.LocalLoopback, nil, nil)
	if out != nil || !local || rewritten != routing.LocalLoopback {
		t.Fatalf("expected local-only dispatch, got out=%v local=%v rewritten=%v", out, local, rewritten)
	}
}

func TestRouteMessageHopsDecrementsAndRelays(t *testing.T) {
	conns := []OutgoingConnection{meshConnWithHops(2, 1), meshConnWithHops(3, 1)}
	out, rewritten, local := RouteMessage(routing.HopsBase+3, nil, conns)
	if local {
		t.Fatalf("expected relay, not local dispatch")
	}
	if rewritten != routing.HopsBase+2 {
		t.Fatalf("expected hops decremented to HopsBase+2, got %d", rewritten)
	}
	if len(out) != 2 {
		t.Fatalf("expected broadcast to both mesh connections, got %d", len(out))
	}
}

func TestRouteMessageHopsConsumedAtOne(t *testing.T) {
	out, rewritten, local := RouteMessage(routing.HopsBase+1, nil, nil)
	if !local || out != nil || rewritten != routing.HopsBase+1 {
		t.Fatalf("expected local consumption at k==1, got out=%v local=%v", out, local)
	}
}

func TestRouteMessageShortestSinkPicksLowestPositiveHops(t *testing.T) {
	conns := []OutgoingConnection{meshConnWithHops(2, 3), meshConnWithHops(3, 1), meshConnWithHops(4, -1)}
	out, _, _ := RouteMessage(routing.ShortestSink, nil, conns)
	if len(out) != 1 || out[0].PartnerID != 3 {
		t.Fatalf("expected the hops=1 connection chosen, got %+v", out)
	}
}

func TestRouteMessageShortestSinkFallsBackToBroadcast(t *testing.T) {
	conns := []OutgoingConnection{meshConnWithHops(2, -1), meshConnWithHops(3, -1)}
	out, _, _ := RouteMessage(routing.ShortestSink, nil, conns)
	if len(out) != 2 {
		t.Fatalf("expected broadcast fallback when no valid route, got %d", len(out))
	}
}

func TestRouteMessageBroadcastExcludesArrivalConnection(t *testing.T) {
	arrival := meshConnWithHops(2, 1)
	other := meshConnWithHops(3, 1)
	conns := []OutgoingConnection{arrival, other}
	out, _, local := RouteMessage(routing.Broadcast, arrival.Conn, conns)
	if !local {
		t.Fatalf("expected broadcast to also dispatch locally")
	}
	if len(out) != 1 || out[0] != other.Conn {
		t.Fatalf("expected only the non-arrival connection in broadcast set, got %+v", out)
	}
}

func TestRouteMessageUnicastMatchesPartnerID(t *testing.T) {
	conns := []OutgoingConnection{meshConnWithHops(2, 1), meshConnWithHops(3, 1)}
	out, _, _ := RouteMessage(routing.NodeId(3), nil, conns)
	if len(out) != 1 || out[0].PartnerID != 3 {
		t.Fatalf("expected unicast match on partner id 3, got %+v", out)
	}
}
