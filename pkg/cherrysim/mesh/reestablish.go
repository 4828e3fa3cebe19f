package mesh

import (
	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
)

// MinConnectionLifetimeForReestablishDs is the minimum time (deciseconds)
// a mesh connection must have lived before a gap disconnect is eligible
// for reestablishment rather than a full teardown: 10s.
const MinConnectionLifetimeForReestablishDs = 100

// UserTerminatedReasons are the disconnect reason codes that must NOT
// trigger reestablishment (the user explicitly tore the link down, so
// reconnecting would fight the user's intent).
var UserTerminatedReasons = map[uint8]bool{
	ReasonLocalHostTerminated:  true,
	ReasonRemoteUserTerminated: true,
}

// HCI disconnect reason codes this package cares about distinguishing.
const (
	ReasonLocalHostTerminated  uint8 = 0x16
	ReasonRemoteUserTerminated uint8 = 0x13
	ReasonConnectionTimeout    uint8 = 0x08
)

// ShouldReestablish decides whether a gap disconnect of a previously
// handshaked mesh connection should enter reestablishment rather than a
// full disconnect-and-remove, per the spec's reestablishment preconditions.
func ShouldReestablish(reason uint8, connectionLifetimeDs uint32, meshExtendedConnectionTimeoutSec uint32) bool {
	if UserTerminatedReasons[reason] {
		return false
	}
	if connectionLifetimeDs <= MinConnectionLifetimeForReestablishDs {
		return false
	}
	return meshExtendedConnectionTimeoutSec > 0
}

// BeginReestablishment transitions a connection into the Reestablishing
// state and rolls back its packet queue so in-flight packets replay once
// reconnected.
func BeginReestablishment(c *conn.Connection, mv *conn.MeshVariant, nowDs uint32) {
	c.State = conn.StateReestablishing
	mv.ReestablishmentStartedDs = nowDs
	for c.Queue.RollbackLast() {
	}
}

// Reconnect is what each side sends once the GAP link is physically
// reestablished, carrying the sender and expected partner id so both
// sides can correlate the handshake-free reconnection.
type Reconnect struct {
	Sender    uint16
	PartnerID uint16
}

// CompleteReestablishment restores a connection straight to HandshakeDone
// on receipt of a matching RECONNECT without redoing the clustering
// handshake.
func CompleteReestablishment(c *conn.Connection, mv *conn.MeshVariant) {
	c.State = conn.StateHandshakeDone
	mv.ReestablishmentStartedDs = 0
}

// CheckReestablishmentTimeout raises RECONNECT_TIMEOUT if reestablishment
// has been in progress longer than meshExtendedConnectionTimeoutSec.
func CheckReestablishmentTimeout(mv *conn.MeshVariant, nowDs uint32, meshExtendedConnectionTimeoutSec uint32, nodeID, partnerID uint16) error {
	if mv.ReestablishmentStartedDs == 0 {
		return nil
	}
	elapsedDs := nowDs - mv.ReestablishmentStartedDs
	if elapsedDs > meshExtendedConnectionTimeoutSec*10 {
		return simerr.Raise(simerr.KindReconnectTimeout, nodeID, partnerID, nil)
	}
	return nil
}
