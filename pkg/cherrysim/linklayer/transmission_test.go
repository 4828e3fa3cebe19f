package linklayer

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
)

func connectTwoNodes(t *testing.T, pool *conn.Pool) (master, slave *node.Node, handle uint16) {
	t.Helper()
	nodes := node.NewSlab(2, 1, 1)
	master, slave = nodes.Nodes[0], nodes.Nodes[1]

	masterHandle, masterConn, err := pool.Allocate(conn.DirectionOut, 0)
	if err != nil {
		t.Fatalf("allocate master: %v", err)
	}
	slaveHandle, slaveConn, err := pool.Allocate(conn.DirectionIn, 0)
	if err != nil {
		t.Fatalf("allocate slave: %v", err)
	}
	handle = 42
	masterConn.ConnectionHandle = handle
	slaveConn.ConnectionHandle = handle
	masterConn.State = conn.StateConnected
	slaveConn.State = conn.StateConnected
	masterConn.PartnerID = slave.ID
	slaveConn.PartnerID = master.ID

	master.State.ConnectionSlots[0] = node.ConnectionSlotRef{Active: true, IsCentral: true, UniqueConnectionID: masterHandle.UniqueID(), ConnectionHandle: handle}
	slave.State.ConnectionSlots[0] = node.ConnectionSlotRef{Active: true, IsCentral: false, UniqueConnectionID: slaveHandle.UniqueID(), ConnectionHandle: handle}

	return master, slave, handle
}

func TestMaxPacketsBySlotCountTable(t *testing.T) {
	if got := maxPacketsBySlotCount(1); got != conn.SimNumUnreliableBuffers {
		t.Fatalf("expected %d for 1 connection, got %d", conn.SimNumUnreliableBuffers, got)
	}
	if got := maxPacketsBySlotCount(2); got != 5 {
		t.Fatalf("expected 5 for 2 connections, got %d", got)
	}
	if got := maxPacketsBySlotCount(3); got != 3 {
		t.Fatalf("expected 3 for >=3 connections, got %d", got)
	}
	if got := maxPacketsBySlotCount(10); got != 3 {
		t.Fatalf("expected 3 for >=3 connections, got %d", got)
	}
}

func TestDrainConnectionDeliversWriteCmdAsUnreliable(t *testing.T) {
	pool := conn.NewPool(8)
	master, slave, _ := connectTwoNodes(t, pool)
	masterConn := pool.All()[0]

	masterConn.Queue.PushUnreliable(0, &conn.Packet{GlobalPacketID: 1, Kind: conn.PacketWriteCmd, Payload: []byte{9}})
	drainConnection(master, slave, masterConn, 5)

	if slave.EventQueue.Len() != 1 {
		t.Fatalf("expected one WRITE event on slave, got %d", slave.EventQueue.Len())
	}
	if master.EventQueue.Len() != 1 {
		t.Fatalf("expected coalesced TX_COMPLETE on master, got %d", master.EventQueue.Len())
	}
}

func TestDrainConnectionWriteReqStopsEventAndSendsRsp(t *testing.T) {
	pool := conn.NewPool(8)
	master, slave, _ := connectTwoNodes(t, pool)
	masterConn := pool.All()[0]

	masterConn.Queue.PushReliable(&conn.Packet{GlobalPacketID: 1, Kind: conn.PacketWriteReq, Payload: []byte{1}})
	masterConn.Queue.PushUnreliable(0, &conn.Packet{GlobalPacketID: 2, Kind: conn.PacketWriteCmd, Payload: []byte{2}})

	drainConnection(master, slave, masterConn, 5)

	// Reliable (globalPacketId 1) drains first; the WRITE_REQ should stop
	// the event immediately, so the unreliable packet (id 2) stays queued.
	if masterConn.Queue.Len() != 1 {
		t.Fatalf("expected the unreliable packet to remain queued, got len %d", masterConn.Queue.Len())
	}
	if slave.EventQueue.Len() != 1 {
		t.Fatalf("expected one WRITE on slave, got %d", slave.EventQueue.Len())
	}
	if master.EventQueue.Len() != 1 {
		t.Fatalf("expected one WRITE_RSP on master, got %d", master.EventQueue.Len())
	}
}

func TestReassembleSplitMessageDropsWithoutFirstChunk(t *testing.T) {
	c := conn.NewConnection(1, 0, conn.DirectionOut, 0)
	_, complete := ReassembleSplitMessage(c, []byte{1, 2}, false, true)
	if complete {
		t.Fatalf("expected incomplete reassembly without a first chunk")
	}
}

func TestReassembleSplitMessageConcatenatesChunks(t *testing.T) {
	c := conn.NewConnection(1, 0, conn.DirectionOut, 0)
	if _, complete := ReassembleSplitMessage(c, []byte{1, 2}, true, false); complete {
		t.Fatalf("expected not complete after first chunk")
	}
	msg, complete := ReassembleSplitMessage(c, []byte{3, 4}, false, true)
	if !complete {
		t.Fatalf("expected complete after end chunk")
	}
	if len(msg) != 4 || msg[0] != 1 || msg[3] != 4 {
		t.Fatalf("unexpected reassembled message: %v", msg)
	}
}
