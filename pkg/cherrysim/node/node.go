// Package node owns the per-node simulated hardware state: flash, UICR/FICR
// registers, the softdevice connection-slot array, position, and the
// lifecycle (init -> boot -> run -> reset -> shutdown) described in the
// simulator's data model.
package node

import (
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/events"
)

// MaxConnectionSlots bounds the number of simultaneous softdevice
// connections a node's SoftdeviceState can track, mirroring the firmware's
// fixed connection-slot array (TOTAL_NUM_CONNECTIONS-sized in cherrysim).
const MaxConnectionSlots = 8

// RebootReason enumerates why a node last (re)booted.
type RebootReason uint8

const (
	RebootReasonUnknown RebootReason = iota
	RebootReasonPowerOn
	RebootReasonReset
	RebootReasonWatchdog
	RebootReasonSoftwareReset
)

// Position is a node's location in the simulated map, normalized to
// [0,1) for x/y (z is an absolute meter offset).
type Position struct {
	X, Y, Z float64
}

// SoftdeviceState mirrors the nRF SoftDevice's advertising/scanning config
// and the fixed-size connection slot table.
type SoftdeviceState struct {
	AdvertisingIntervalMs uint32
	AdvertisingPayload    [31]byte
	AdvertisingPayloadLen int

	ScanWindowMs   uint32
	ScanIntervalMs uint32

	ConnectionSlots [MaxConnectionSlots]ConnectionSlotRef

	ConnectingPartnerAddr   Address
	ConnectingTimeoutMs     uint64
	ConnectingActive        bool
}

// ConnectionSlotRef is what the softdevice-level connection table records
// about a slot: whether it's occupied and which pool-level unique
// connection id it refers to. The actual Mesh/MeshAccess/Resolver payload
// lives in the conn package's Pool, keeping ownership of
// reassembly buffers and queues with the connection variant rather than
// duplicated here.
type ConnectionSlotRef struct {
	Active             bool
	IsCentral          bool // true: this node is GAP central (master) on this slot
	UniqueConnectionID uint32
	ConnectionHandle   uint16
}

// Node is one simulated mesh participant: its own flash, registers, radio
// state, event queue, and per-tick counters. Created once at sim init,
// reset in place on a simulated software/hardware reset (preserving index,
// id, address, and flash), and torn down at sim shutdown.
type Node struct {
	Index       int
	ID          uint16
	SerialIndex uint32
	Address     Address

	Position Position

	Flash *Flash

	State SoftdeviceState

	Features FeatureMask

	BleStackType    uint8
	RestartCounter  uint32
	FakeDfuVersion  uint32
	RebootReason    RebootReason
	SimulatedFrames uint64

	NanoAmperePerMsTotal uint64

	// Mesh connection quotas, tracked per node the way the firmware's
	// connection manager keeps freeMeshInConnections /
	// freeMeshOutConnections: FreeMeshIn + active peripheral connections
	// == MaxMeshIn at every tick, and symmetrically for Out.
	MaxMeshIn   int
	MaxMeshOut  int
	FreeMeshIn  int
	FreeMeshOut int

	EventQueue *events.Queue

	// StackWatermark bounds SimulatedFrames growth per-boot before the
	// simulator treats the node as having overflowed its simulated call
	// stack (ported from the firmware's StackWatcher).
	StackWatermark uint64

	// HalMemory is opaque per-boot scratch storage modules may use; it is
	// cleared on every reset/boot but otherwise left to callers.
	HalMemory map[string]any

	// ImpossibleConnections lists peer node ids this node can never reach,
	// overriding the RSSI model unconditionally (used to test
	// network-partition scenarios deterministically).
	ImpossibleConnections map[uint16]bool

	networkID uint16
}

// NewNode allocates and fully initializes a Node at the given slab index,
// running the init stage of the lifecycle: flash erased to 0xFF, UICR
// customer words seeded from the serial index, and a fabricated address.
func NewNode(index int, id uint16, serialIndex uint32, networkID uint16) *Node {
	n := &Node{
		Index:                 index,
		ID:                    id,
		SerialIndex:           serialIndex,
		Address:               NewAddress(id),
		Flash:                 NewFlash(),
		EventQueue:            events.NewQueue(),
		StackWatermark:        1 << 20,
		HalMemory:             make(map[string]any),
		ImpossibleConnections: make(map[uint16]bool),
		networkID:             networkID,
	}
	n.ConfigureMeshQuota(MaxConnectionSlots, MaxConnectionSlots)
	n.init()
	n.boot()
	return n
}

// ConfigureMeshQuota sets the node's mesh in/out connection maxima and
// resets the free counters to them. Called with the configured quotas at
// sim init; NewNode seeds a permissive slot-bound default.
func (n *Node) ConfigureMeshQuota(maxIn, maxOut int) {
	n.MaxMeshIn, n.MaxMeshOut = maxIn, maxOut
	n.FreeMeshIn, n.FreeMeshOut = maxIn, maxOut
}

// TakeMeshQuota consumes one unit of the node's central (out) or
// peripheral (in) connection quota, reporting false when exhausted.
func (n *Node) TakeMeshQuota(central bool) bool {
	if central {
		if n.FreeMeshOut <= 0 {
			return false
		}
		n.FreeMeshOut--
		return true
	}
	if n.FreeMeshIn <= 0 {
		return false
	}
	n.FreeMeshIn--
	return true
}

// ReleaseMeshQuota returns one quota unit on connection teardown, clamped
// at the configured maximum.
func (n *Node) ReleaseMeshQuota(central bool) {
	if central {
		if n.FreeMeshOut < n.MaxMeshOut {
			n.FreeMeshOut++
		}
		return
	}
	if n.FreeMeshIn < n.MaxMeshIn {
		n.FreeMeshIn++
	}
}

// init leaves flash as NewFlash erased it (all 0xFF), seeds UICR customer
// words from the serial index, and copies the node's address into the FICR
// device-address registers, as the spec's lifecycle describes.
func (n *Node) init() {
	for i := range n.Flash.UICRCustomerWords {
		n.Flash.UICRCustomerWords[i] = n.SerialIndex + uint32(i)
	}
	n.Flash.FICRDeviceAddr[0] = uint32(n.Address.Addr[0]) | uint32(n.Address.Addr[1])<<8 |
		uint32(n.Address.Addr[2])<<16 | uint32(n.Address.Addr[3])<<24
	n.Flash.FICRDeviceAddr[1] = uint32(n.Address.Addr[4]) | uint32(n.Address.Addr[5])<<8
}

// boot loads softdevice state, clears per-boot scratch, and places the
// bootloader settings page marker, as the spec's lifecycle describes.
func (n *Node) boot() {
	n.State = SoftdeviceState{}
	n.HalMemory = make(map[string]any)
	n.Features = FeatureMask(0)
	n.Flash.WriteBootloaderMarker()
	n.RebootReason = RebootReasonPowerOn
}

// Reset re-initializes the node in place: SimulatedFrames is cleared,
// RestartCounter is incremented, the event queue is replaced, and boot runs
// again (softdevice state, HalMemory and feature bits cleared). Index, ID,
// SerialIndex, Address, Position, Flash, the mesh quotas and
// ImpossibleConnections are kept as they are. Any connections this
// node owned must be torn down by the caller (the conn.Pool) before Reset
// is called, since Node itself does not know about pool slots.
func (n *Node) Reset(reason RebootReason) {
	n.SimulatedFrames = 0
	n.RestartCounter++
	n.EventQueue = events.NewQueue()
	n.boot()
	n.RebootReason = reason
}

// NetworkID returns the mesh network id this node is enrolled on.
func (n *Node) NetworkID() uint16 { return n.networkID }

// SetNetworkID updates the node's mesh network id (used by enrollment).
func (n *Node) SetNetworkID(id uint16) { n.networkID = id }

// Slab is a fixed-capacity array of Node records, the simulator's top-level
// node storage.
type Slab struct {
	Nodes []*Node
}

// NewSlab allocates numNodes nodes with sequential ids starting at
// firstNodeID, all on the given network id.
func NewSlab(numNodes int, firstNodeID uint16, networkID uint16) *Slab {
	s := &Slab{Nodes: make([]*Node, numNodes)}
	for i := 0; i < numNodes; i++ {
		id := firstNodeID + uint16(i)
		s.Nodes[i] = NewNode(i, id, uint32(i)+1, networkID)
	}
	return s
}

// ByID returns the node with the given id, or nil if not found.
func (s *Slab) ByID(id uint16) *Node {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// ByAddress returns the node advertising the given GAP address, or nil if
// not found; used to resolve an ADV_REPORT's peer address back to the node
// that sent it.
func (s *Slab) ByAddress(addr Address) *Node {
	for _, n := range s.Nodes {
		if n.Address.Equal(addr) {
			return n
		}
	}
	return nil
}

// BySerial returns the node with the given serial index, or nil if not
// found; used by the terminal's "sim set_position SERIAL X Y Z" family,
// which addresses nodes by serial rather than mesh node id.
func (s *Slab) BySerial(serial uint32) *Node {
	for _, n := range s.Nodes {
		if n.SerialIndex == serial {
			return n
		}
	}
	return nil
}
