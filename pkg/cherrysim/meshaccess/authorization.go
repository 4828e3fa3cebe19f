package meshaccess

import "github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"

// Authorization is one application module's verdict on whether a message
// may cross the tunnel, returned by CheckAuthorizationForAll.
type Authorization uint8

const (
	AuthUndetermined Authorization = iota
	AuthWhitelist
	AuthLocalOnly
	AuthBlacklist
)

// rank orders verdicts so the highest-ranked one wins when multiple
// modules are consulted: Blacklist > LocalOnly > Whitelist > Undetermined.
func rank(a Authorization) int {
	switch a {
	case AuthBlacklist:
		return 3
	case AuthLocalOnly:
		return 2
	case AuthWhitelist:
		return 1
	default:
		return 0
	}
}

// Strongest folds a set of per-module verdicts down to the one that wins.
func Strongest(verdicts ...Authorization) Authorization {
	best := AuthUndetermined
	for _, v := range verdicts {
		if rank(v) > rank(best) {
			best = v
		}
	}
	return best
}

// Admit decides whether a message is dispatched at all, and whether it
// may additionally be relayed into the mesh, given the strongest verdict.
// Undetermined and Blacklist are silently dropped; LocalOnly dispatches
// locally but is never relayed; Whitelist dispatches and may relay.
func Admit(verdict Authorization, isHandshakePacket bool) (dispatchLocally, mayRelay bool) {
	if isHandshakePacket {
		return true, true
	}
	switch verdict {
	case AuthWhitelist:
		return true, true
	case AuthLocalOnly:
		return true, false
	default:
		return false, false
	}
}

// RoutingGate decides whether a MeshAccessConnection sends a packet
// addressed to destination to its partner, per spec §4.6's routing gate:
// the destination must equal the virtual partner id, be a broadcast, be
// ANYCAST_THEN_BROADCAST, or fall in the hops/app/global-device/group
// ranges, or this must be an outgoing network-key remote-mesh tunnel.
// Assets bypass the filter entirely.
func RoutingGate(destination, virtualPartnerID uint16, isAsset, isOutgoingNetworkKeyRemoteMesh bool) bool {
	if isAsset {
		return true
	}
	if destination == virtualPartnerID {
		return true
	}
	d := routing.NodeId(destination)
	if d == routing.Broadcast || d == routing.AnycastThenBroadcast {
		return true
	}
	if _, ok := routing.IsHopsBase(d); ok {
		return true
	}
	if routing.IsAppBase(d) || routing.IsGlobalDevice(d) || routing.IsGroup(d) {
		return true
	}
	return isOutgoingNetworkKeyRemoteMesh
}
