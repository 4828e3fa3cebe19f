package conn

// SimNumUnreliableBuffers is SIM_NUM_UNRELIABLE_BUFFERS from the spec: the
// number of unreliable (WRITE_CMD/notification) buffer slots each
// connection carries alongside its single reliable buffer.
const SimNumUnreliableBuffers = 7

// Priority is one of the four packet transmission priorities.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityVital
)

// PacketKind distinguishes how a queued packet is delivered once drained.
type PacketKind uint8

const (
	PacketWriteCmd PacketKind = iota // unreliable, delivered as WRITE event
	PacketWriteReq                   // reliable, delivered as WRITE + generates WRITE_RSP
	PacketNotification                // unreliable, delivered as HVX event
)

// Packet is one queued unit of mesh/mesh-access payload, stamped with the
// globally monotonic id that determines drain order across every
// connection's reliable and unreliable buffers.
type Packet struct {
	GlobalPacketID uint64
	Priority       Priority
	Kind           PacketKind
	Payload        []byte
	EnqueuedAtDs   uint32
	Reliable       bool
}

// PacketQueue is a per-connection queue split into one reliable buffer and
// SimNumUnreliableBuffers unreliable buffer slots, each bucketed by
// priority so higher-priority packets drain first within a buffer. A
// failed transmission attempt can be rolled back: the most recently
// dequeued-but-unsent packet is pushed back to the front.
type PacketQueue struct {
	reliable   []*Packet
	unreliable [][]*Packet // one slice per unreliable buffer slot

	lastPopped *Packet
	lastPoppedWasReliable bool
}

// NewPacketQueue returns an empty queue with SimNumUnreliableBuffers
// unreliable slots.
func NewPacketQueue() *PacketQueue {
	return &PacketQueue{
		unreliable: make([][]*Packet, SimNumUnreliableBuffers),
	}
}

// PushReliable enqueues a packet onto the single reliable buffer.
func (q *PacketQueue) PushReliable(p *Packet) {
	p.Reliable = true
	q.reliable = insertByPriority(q.reliable, p)
}

// PushUnreliable enqueues a packet onto unreliable buffer slot i (wrapping
// into range), ordered by priority within that slot.
func (q *PacketQueue) PushUnreliable(slot int, p *Packet) {
	p.Reliable = false
	i := slot % SimNumUnreliableBuffers
	q.unreliable[i] = insertByPriority(q.unreliable[i], p)
}

func insertByPriority(buf []*Packet, p *Packet) []*Packet {
	idx := len(buf)
	for i, existing := range buf {
		if p.Priority > existing.Priority {
			idx = i
			break
		}
	}
	buf = append(buf, nil)
	copy(buf[idx+1:], buf[idx:])
	buf[idx] = p
	return buf
}

// PopNext drains the next packet across the reliable buffer and all
// unreliable buffers: the highest priority first, and among equal
// priorities the oldest by globalPacketId. Returns nil if every buffer is
// empty.
func (q *PacketQueue) PopNext() *Packet {
	best := -1 // -1 = reliable, >=0 = unreliable slot index
	var bestPacket *Packet

	if len(q.reliable) > 0 {
		bestPacket = q.reliable[0]
	}
	for i, buf := range q.unreliable {
		if len(buf) == 0 {
			continue
		}
		if bestPacket == nil || less(buf[0], bestPacket) {
			bestPacket = buf[0]
			best = i
		}
	}
	if bestPacket == nil {
		return nil
	}

	if best == -1 {
		q.reliable = q.reliable[1:]
		q.lastPoppedWasReliable = true
	} else {
		q.unreliable[best] = q.unreliable[best][1:]
		q.lastPoppedWasReliable = false
	}
	q.lastPopped = bestPacket
	return bestPacket
}

// less reports whether a should drain before b: higher priority first,
// then lower globalPacketId (older) first.
func less(a, b *Packet) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.GlobalPacketID < b.GlobalPacketID
}

// RollbackLast pushes the most recently popped packet back to the front of
// whichever buffer it came from, for replay after a failed send attempt
// (e.g. during reestablishment).
func (q *PacketQueue) RollbackLast() bool {
	if q.lastPopped == nil {
		return false
	}
	p := q.lastPopped
	q.lastPopped = nil
	if q.lastPoppedWasReliable {
		q.reliable = append([]*Packet{p}, q.reliable...)
		return true
	}
	// Rollback doesn't need to recover the exact original slot;
	// re-inserting into slot 0 in less() order preserves drain order.
	buf := q.unreliable[0]
	idx := len(buf)
	for i, existing := range buf {
		if less(p, existing) {
			idx = i
			break
		}
	}
	buf = append(buf, nil)
	copy(buf[idx+1:], buf[idx:])
	buf[idx] = p
	q.unreliable[0] = buf
	return true
}

// OldestEnqueuedAtDs returns the enqueue time of the oldest buffered packet
// across reliable and unreliable buffers, used for the stuck-queue
// disconnect check. Returns ok=false if the queue is empty.
func (q *PacketQueue) OldestEnqueuedAtDs() (ds uint32, ok bool) {
	var oldest *Packet
	if len(q.reliable) > 0 {
		oldest = q.reliable[0]
	}
	for _, buf := range q.unreliable {
		if len(buf) == 0 {
			continue
		}
		if oldest == nil || buf[0].EnqueuedAtDs < oldest.EnqueuedAtDs {
			oldest = buf[0]
		}
	}
	if oldest == nil {
		return 0, false
	}
	return oldest.EnqueuedAtDs, true
}

// Len reports the total number of buffered packets across every buffer.
func (q *PacketQueue) Len() int {
	n := len(q.reliable)
	for _, buf := range q.unreliable {
		n += len(buf)
	}
	return n
}

// Pending returns every buffered packet across the reliable and unreliable
// buffers, in no particular order, without dequeuing anything. Used by
// read-only consumers (the clustering validator's in-flight prediction).
func (q *PacketQueue) Pending() []*Packet {
	out := make([]*Packet, 0, q.Len())
	out = append(out, q.reliable...)
	for _, buf := range q.unreliable {
		out = append(out, buf...)
	}
	return out
}

// Clear empties every buffer, used on disconnect.
func (q *PacketQueue) Clear() {
	q.reliable = nil
	for i := range q.unreliable {
		q.unreliable[i] = nil
	}
	q.lastPopped = nil
}
