package meshaccess

import "github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"

// AssignVirtualPartnerID computes the per-slot virtual partner id
// (ownId + (slot+1)*VIRTUAL_BASE), or returns the caller-supplied
// globally-unique id unmodified when one is given.
func AssignVirtualPartnerID(ownNodeID uint16, slot int, explicitGlobalID *uint16) uint16 {
	if explicitGlobalID != nil {
		return *explicitGlobalID
	}
	return uint16(routing.VirtualID(routing.NodeId(ownNodeID), slot))
}

// RewriteOutgoing rewrites an outgoing packet's destination from
// virtualPartnerId to the partner's real id before transmission.
func RewriteOutgoing(destination, virtualPartnerID, realPartnerID uint16) uint16 {
	if destination == virtualPartnerID {
		return realPartnerID
	}
	return destination
}

// RewriteIncoming rewrites an incoming packet's sender from the partner's
// real id to virtualPartnerId, unless the real id already falls in the
// globally-unique device range and the virtual id was never overwritten
// by the caller (userOverwritten tracks that).
func RewriteIncoming(sender, realPartnerID, virtualPartnerID uint16, userOverwritten bool) uint16 {
	if sender != realPartnerID {
		return sender
	}
	if routing.IsGlobalDevice(routing.NodeId(realPartnerID)) && !userOverwritten {
		return sender
	}
	return virtualPartnerID
}
