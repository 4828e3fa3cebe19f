// Package routing holds the shared node-id address space and the routing
// decisions (split/reassembly, hop/broadcast/sink resolution) that both
// MeshConnection and MeshAccessConnection packets are dispatched through.
package routing

// NodeId address-space constants, ported verbatim from the firmware's
// protocol specification so routing decisions agree bit-for-bit.
const (
	Broadcast NodeId = 0

	DeviceBase     NodeId = 1
	DeviceBaseSize NodeId = 1999

	VirtualBase NodeId = 2000

	GroupBase     NodeId = 20000
	GroupBaseSize NodeId = 10000

	LocalLoopback NodeId = 30000
	HopsBase      NodeId = 30000
	HopsBaseSize  NodeId = 1000

	ShortestSink        NodeId = 31000
	AnycastThenBroadcast NodeId = 31001

	AppBase     NodeId = 32000
	AppBaseSize NodeId = 1000

	GlobalDeviceBase     NodeId = 33000
	GlobalDeviceBaseSize NodeId = 7000

	Invalid NodeId = 0xFFFF
)

// NodeId is a mesh node address, shared across the device, group, hops,
// app, and global-device sub-ranges described above.
type NodeId uint16

// IsHopsBase reports whether id falls in the NODE_ID_HOPS_BASE+k range and,
// if so, returns k.
func IsHopsBase(id NodeId) (k int, ok bool) {
	if id >= HopsBase && id < HopsBase+HopsBaseSize {
		return int(id - HopsBase), true
	}
	return 0, false
}

// IsGroup reports whether id falls in the group address range.
func IsGroup(id NodeId) bool {
	return id >= GroupBase && id < GroupBase+GroupBaseSize
}

// IsAppBase reports whether id falls in the app-base address range.
func IsAppBase(id NodeId) bool {
	return id >= AppBase && id < AppBase+AppBaseSize
}

// IsGlobalDevice reports whether id falls in the global-device address
// range.
func IsGlobalDevice(id NodeId) bool {
	return id >= GlobalDeviceBase && id < GlobalDeviceBase+GlobalDeviceBaseSize
}

// VirtualID computes a per-slot virtual partner id: ownId + (slot+1)*VIRTUAL_BASE.
func VirtualID(ownID NodeId, slot int) NodeId {
	return ownID + NodeId(slot+1)*VirtualBase
}

// Destination classifies how an outbound packet's receiver id should be
// resolved against a set of candidate mesh connections.
type Destination uint8

const (
	DestUnicast Destination = iota
	DestLocalLoopback
	DestHops
	DestShortestSink
	DestBroadcast
	DestAnycastThenBroadcast
)

// Classify determines which routing rule applies to receiver id.
func Classify(id NodeId) (Destination, int) {
	switch {
	case id == Broadcast:
		return DestBroadcast, 0
	case id == LocalLoopback:
		return DestLocalLoopback, 0
	case id == ShortestSink:
		return DestShortestSink, 0
	case id == AnycastThenBroadcast:
		return DestAnycastThenBroadcast, 0
	default:
		if k, ok := IsHopsBase(id); ok && k > 0 {
			return DestHops, k
		}
		return DestUnicast, 0
	}
}

// NextHopsValue returns the hops-base id to forward a HOPS_BASE+k packet
// with after decrementing, or ok=false if k has reached 1 (meaning the
// packet is consumed locally on this hop and must not be relayed further).
func NextHopsValue(k int) (NodeId, bool) {
	if k <= 1 {
		return 0, false
	}
	return HopsBase + NodeId(k-1), true
}
