// Package mesh implements the FruityMesh clustering handshake: the
// welcome/ack1/ack2 exchange that merges two clusters, master-bit
// handover, time synchronization, and reestablishment after a transient
// disconnect.
package mesh

import (
	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
)

// PreferredConnectionMode governs whether non-preferred partners are
// rejected during the welcome handshake.
type PreferredConnectionMode uint8

const (
	PreferredModePenalty PreferredConnectionMode = iota
	PreferredModeIgnored
)

// ClusterState is the minimal per-node clustering state the handshake
// reads and mutates, independent of any particular connection.
type ClusterState struct {
	ClusterID            uint32
	ClusterSize          int16
	NetworkID            uint16
	PreferredPartners     map[uint16]bool
	PreferredMode         PreferredConnectionMode
}

// Welcome is CLUSTER_WELCOME's payload.
type Welcome struct {
	ClusterID                   uint32
	ClusterSize                 int16
	MeshWriteHandle             uint16
	HopsToSink                  int8
	PreferredConnectionInterval uint16
	NetworkID                   uint16
	SenderNodeID                uint16
}

// Ack1 is CLUSTER_ACK_1's payload.
type Ack1 struct {
	HopsToSink int8
}

// Ack2 is CLUSTER_ACK_2's payload.
type Ack2 struct {
	ClusterIDBackup   uint32
	ClusterSizeBackup int16
	HopsToSink        int8
}

// DisconnectReason enumerates why the welcome handshake refused a
// connection, mapped onto simerr's mesh-handshake error kinds.
type DisconnectReason = simerr.Kind

// SendWelcome builds the CLUSTER_WELCOME a newly-connected central sends
// to its peripheral, addressed to NODE_ID_HOPS_BASE+1 (one hop) by
// convention of the caller.
func SendWelcome(local *ClusterState, meshWriteHandle uint16, hopsToSink int8, preferredIntervalMs uint16, senderNodeID uint16) Welcome {
	return Welcome{
		ClusterID:                   local.ClusterID,
		ClusterSize:                 local.ClusterSize,
		MeshWriteHandle:             meshWriteHandle,
		HopsToSink:                  hopsToSink,
		PreferredConnectionInterval: preferredIntervalMs,
		NetworkID:                   local.NetworkID,
		SenderNodeID:                senderNodeID,
	}
}

// HandleWelcome runs the peripheral's reaction to a received
// CLUSTER_WELCOME. On acceptance it mutates local cluster state to the
// "I'm smaller" branch (clusterSize reset to 1, a fresh random clusterId
// pending ACK2) and returns the Ack1 to send back. On rejection it returns
// a non-nil error identifying which mesh-handshake condition fired; the
// caller is responsible for actually disconnecting.
func HandleWelcome(local *ClusterState, w Welcome, wasInConnection bool, randomClusterID uint32, nodeID uint16, partnerID uint16) (*Ack1, error) {
	if w.ClusterID == local.ClusterID {
		return nil, simerr.Raise(simerr.KindSameClusterID, nodeID, partnerID, nil)
	}
	if w.ClusterSize < local.ClusterSize {
		// "I'm bigger": the welcoming side should have deferred to us.
		if wasInConnection {
			return nil, simerr.Raise(simerr.KindWrongDirection, nodeID, partnerID, nil)
		}
		return nil, nil
	}
	if w.NetworkID != local.NetworkID {
		return nil, simerr.Raise(simerr.KindNetworkIDMismatch, nodeID, partnerID, nil)
	}
	if local.PreferredMode == PreferredModeIgnored && len(local.PreferredPartners) > 0 && !local.PreferredPartners[w.SenderNodeID] {
		return nil, simerr.Raise(simerr.KindUnpreferredConn, nodeID, partnerID, nil)
	}

	// "I'm smaller": join the bigger cluster.
	local.ClusterSize = 1
	local.ClusterID = randomClusterID
	return &Ack1{HopsToSink: w.HopsToSink}, nil
}

// HandleAck1 runs the central's reaction to CLUSTER_ACK_1: it takes the
// master bit and replies with ACK2 built from the pre-handshake cluster
// backup values the caller supplies (clusterIdBackup/clusterSizeBackup are
// the central's own state from before any welcome was sent).
func HandleAck1(mv *conn.MeshVariant, ack1 Ack1, clusterIDBackup uint32, clusterSizeBackup int16) Ack2 {
	mv.ConnectionMasterBit = 1
	mv.HopsToSink = ack1.HopsToSink
	return Ack2{
		ClusterIDBackup:   clusterIDBackup,
		ClusterSizeBackup: clusterSizeBackup + 1,
		HopsToSink:        ack1.HopsToSink,
	}
}

// HandleAck2 runs the peripheral's reaction to CLUSTER_ACK_2: it adopts
// the cluster id/size and hops-to-sink the central assigned. Marking the
// connection's handshake done is left to the caller.
func HandleAck2(local *ClusterState, mv *conn.MeshVariant, ack2 Ack2) {
	local.ClusterID = ack2.ClusterIDBackup
	local.ClusterSize = ack2.ClusterSizeBackup
	mv.HopsToSink = ack2.HopsToSink
}

// MasterBitHandover clears the local master bit and marks the buffered
// ClusterInfoUpdate so the partner flips its own bit on receipt.
func MasterBitHandover(mv *conn.MeshVariant) {
	mv.ConnectionMasterBit = 0
	mv.CurrentClusterInfoUpdatePacket.Merge(0, true, mv.HopsToSink)
}

// ApplyMasterBitHandover is the receiving side's reaction to a
// ClusterInfoUpdate with masterBitHandover set: it flips its own bit.
func ApplyMasterBitHandover(mv *conn.MeshVariant) {
	if mv.ConnectionMasterBit == 0 {
		mv.ConnectionMasterBit = 1
	} else {
		mv.ConnectionMasterBit = 0
	}
}

// RecomputeHopsToSink derives a node's own hops-to-sink value: 0 if it is
// a sink itself, else 1 + the minimum hopsToSink over all handshaked mesh
// connections that have a valid (>=0) value, or -1 if no route exists.
func RecomputeHopsToSink(isSink bool, neighborHops []int8) int8 {
	if isSink {
		return 0
	}
	best := int8(-1)
	for _, h := range neighborHops {
		if h < 0 {
			continue
		}
		if best == -1 || h < best {
			best = h
		}
	}
	if best == -1 {
		return -1
	}
	return best + 1
}
