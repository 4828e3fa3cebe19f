package conn

import "testing"

func TestPopNextPrefersHigherPriority(t *testing.T) {
	q := NewPacketQueue()
	q.PushUnreliable(0, &Packet{GlobalPacketID: 1, Priority: PriorityLow})
	q.PushUnreliable(0, &Packet{GlobalPacketID: 2, Priority: PriorityVital})

	p := q.PopNext()
	if p == nil || p.Priority != PriorityVital {
		t.Fatalf("expected vital priority packet first, got %+v", p)
	}
}

func TestPopNextOrdersByGlobalIDWithinPriority(t *testing.T) {
	q := NewPacketQueue()
	q.PushUnreliable(0, &Packet{GlobalPacketID: 5, Priority: PriorityMedium})
	q.PushUnreliable(1, &Packet{GlobalPacketID: 2, Priority: PriorityMedium})

	p := q.PopNext()
	if p == nil || p.GlobalPacketID != 2 {
		t.Fatalf("expected oldest globalPacketId first, got %+v", p)
	}
}

func TestReliableBufferParticipatesInDrainOrder(t *testing.T) {
	q := NewPacketQueue()
	q.PushReliable(&Packet{GlobalPacketID: 10, Priority: PriorityLow})
	q.PushUnreliable(0, &Packet{GlobalPacketID: 1, Priority: PriorityLow})

	p := q.PopNext()
	if p == nil || p.GlobalPacketID != 1 {
		t.Fatalf("expected older unreliable packet before newer reliable one, got %+v", p)
	}
}

func TestRollbackLastReplaysPacket(t *testing.T) {
	q := NewPacketQueue()
	q.PushReliable(&Packet{GlobalPacketID: 1, Priority: PriorityHigh})

	p := q.PopNext()
	if p == nil {
		t.Fatalf("expected a packet")
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after pop")
	}
	if !q.RollbackLast() {
		t.Fatalf("expected rollback to succeed")
	}
	if q.Len() != 1 {
		t.Fatalf("expected packet restored after rollback")
	}
}

func TestOldestEnqueuedAtDsTracksStuckQueue(t *testing.T) {
	q := NewPacketQueue()
	q.PushUnreliable(0, &Packet{GlobalPacketID: 1, EnqueuedAtDs: 100})
	q.PushUnreliable(1, &Packet{GlobalPacketID: 2, EnqueuedAtDs: 50})

	ds, ok := q.OldestEnqueuedAtDs()
	if !ok || ds != 50 {
		t.Fatalf("expected oldest enqueue time 50, got %d ok=%v", ds, ok)
	}
}

func TestClearEmptiesAllBuffers(t *testing.T) {
	q := NewPacketQueue()
	q.PushReliable(&Packet{GlobalPacketID: 1})
	q.PushUnreliable(0, &Packet{GlobalPacketID: 2})
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after Clear")
	}
}

func TestClusterInfoUpdateCoalesces(t *testing.T) {
	var c ClusterInfoUpdate
	c.Merge(1, false, 2)
	c.Merge(2, true, 3)

	update, ok := c.Drain()
	if !ok {
		t.Fatalf("expected pending update")
	}
	if update.SizeChange != 3 {
		t.Fatalf("expected accumulated size change 3, got %d", update.SizeChange)
	}
	if !update.MasterBitHandover {
		t.Fatalf("expected master bit handover latched true")
	}
	if update.HopsToSink != 3 {
		t.Fatalf("expected latest hopsToSink 3, got %d", update.HopsToSink)
	}

	if _, ok := c.Drain(); ok {
		t.Fatalf("expected no pending update after drain")
	}
}
