package conn

import (
	"fmt"

	"github.com/fruitymesh/cherrysim-go/internal/simerr"
)

// Handle is an external, dangling-safe reference to a pooled Connection.
// It caches the deletion-counter value seen at resolution time alongside
// the raw slot index, so repeated resolves during the same tick don't
// re-scan the pool, while a connection freed (and its slot possibly
// reused) between resolves is detected and returns nil rather than a stale
// pointer.
type Handle struct {
	uniqueID uint32

	cachedDeletedCount uint64
	cachedSlot         int
	cachedValid        bool
}

// NewHandle wraps a uniqueConnectionId for safe later resolution. A zero
// uniqueID is the reserved "invalid" value and always resolves to nil.
func NewHandle(uniqueID uint32) Handle {
	return Handle{uniqueID: uniqueID, cachedSlot: -1}
}

// UniqueID returns the handle's underlying unique connection id.
func (h Handle) UniqueID() uint32 { return h.uniqueID }

// slotState tracks one pool slot's occupancy for double-free detection.
type slotState struct {
	conn *Connection
	free bool
}

// Pool owns a slab of connection slots and assigns monotonically
// increasing unique connection ids. Mesh in/out quotas are NOT tracked
// here: they are per-node state (node.Node's FreeMeshIn/FreeMeshOut),
// consumed by each endpoint when a link is established; the pool only
// bounds the simulation-wide slot count.
type Pool struct {
	slots []slotState

	nextUniqueID uint32
	deletedCount uint64
}

// NewPool allocates a pool of totalSlots+1 slots (TOTAL_NUM_CONNECTIONS+1
// per the spec).
func NewPool(totalSlots int) *Pool {
	return &Pool{
		slots:        make([]slotState, totalSlots+1),
		nextUniqueID: 1, // 0 is reserved for "invalid"
	}
}

// errNoFreeSlot / errDoubleFree are raised through the shared error
// taxonomy rather than bespoke pool error types: an exhausted pool as the
// operational KindMemoryCapacityExceeded, a double free as the
// simulation-internal KindDoubleFree.
func errNoFreeSlot() error {
	return simerr.Raise(simerr.KindMemoryCapacityExceeded, 0, 0, fmt.Errorf("connection pool exhausted"))
}

func errDoubleFree(slot int) error {
	return simerr.Raise(simerr.KindDoubleFree, 0, 0, fmt.Errorf("double free of connection pool slot %d", slot))
}

// Allocate reserves a free slot for a new connection of the given
// direction and returns a Handle to it. Returns an error if the pool is
// exhausted. Callers are responsible for the endpoints' mesh quotas
// (node.Node.TakeMeshQuota) before allocating.
func (p *Pool) Allocate(dir Direction, creationTimeDs uint32) (Handle, *Connection, error) {
	slotIdx := -1
	for i := range p.slots {
		if p.slots[i].conn == nil {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		return Handle{}, nil, errNoFreeSlot()
	}

	uniqueID := p.nextUniqueID
	p.nextUniqueID++

	c := NewConnection(uniqueID, slotIdx, dir, creationTimeDs)
	p.slots[slotIdx] = slotState{conn: c, free: false}

	return Handle{uniqueID: uniqueID, cachedDeletedCount: p.deletedCount, cachedSlot: slotIdx, cachedValid: true}, c, nil
}

// Free releases the connection at the given slot index back to the pool,
// zeroing its record. Calling Free twice on the same slot without an
// intervening Allocate is a double-free and is raised through the
// simulation-internal error taxonomy. The endpoints' mesh quota units are
// released by the caller (node.Node.ReleaseMeshQuota), which knows which
// node each side belongs to.
func (p *Pool) Free(slotIdx int) error {
	if slotIdx < 0 || slotIdx >= len(p.slots) {
		return simerr.Raise(simerr.KindIndexOutOfBounds, 0, 0, fmt.Errorf("connection pool slot %d out of range", slotIdx))
	}
	s := &p.slots[slotIdx]
	if s.conn == nil {
		return errDoubleFree(slotIdx)
	}
	*s = slotState{}
	p.deletedCount++
	return nil
}

// Resolve returns the live Connection a handle refers to, or nil if it has
// since been freed (and possibly the slot reused for a different
// connection). The handle's cache is updated in place so repeated resolves
// within the same deletion epoch are O(1).
func (p *Pool) Resolve(h *Handle) *Connection {
	if h.uniqueID == 0 {
		return nil
	}
	if h.cachedValid && h.cachedDeletedCount == p.deletedCount {
		if h.cachedSlot >= 0 && h.cachedSlot < len(p.slots) {
			if c := p.slots[h.cachedSlot].conn; c != nil && c.UniqueConnectionID == h.uniqueID {
				return c
			}
		}
	}
	for i := range p.slots {
		c := p.slots[i].conn
		if c != nil && c.UniqueConnectionID == h.uniqueID {
			h.cachedSlot = i
			h.cachedDeletedCount = p.deletedCount
			h.cachedValid = true
			return c
		}
	}
	h.cachedValid = false
	return nil
}

// All returns every currently occupied connection slot, in slot order.
func (p *Pool) All() []*Connection {
	out := make([]*Connection, 0, len(p.slots))
	for i := range p.slots {
		if c := p.slots[i].conn; c != nil {
			out = append(out, c)
		}
	}
	return out
}

