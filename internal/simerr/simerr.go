// Package simerr defines the operational error taxonomy of the mesh
// simulator (radio/GAP, mesh handshake, mesh-access, reestablishment, and
// simulation-internal invariant errors) and a scoped guard for tests that
// need to tolerate a normally-fatal invariant violation.
package simerr

import (
	"errors"
	"fmt"
	"sync"
)

// Kind identifies one operational error category from the taxonomy.
type Kind string

// Radio/GAP errors.
const (
	KindConnectionTimeout      Kind = "ConnectionTimeout"
	KindMemoryCapacityExceeded Kind = "MemoryCapacityExceeded"
	KindLocalHostTerminated    Kind = "LocalHostTerminated"
	KindRemoteUserTerminated   Kind = "RemoteUserTerminated"
)

// Mesh handshake errors.
const (
	KindSameClusterID        Kind = "SameClusterId"
	KindNetworkIDMismatch    Kind = "NetworkIdMismatch"
	KindWrongDirection       Kind = "WrongDirection"
	KindUnpreferredConn      Kind = "UnpreferredConnection"
	KindInvalidHandshakePkt  Kind = "InvalidHandshakePacket"
	KindHandshakeTimeout     Kind = "HandshakeTimeout"
	KindIAmSmaller           Kind = "IAmSmaller"
)

// Mesh-access errors.
const (
	KindInvalidKey       Kind = "InvalidKey"
	KindInvalidPacket    Kind = "InvalidPacket"
	KindIllegalTunnelType Kind = "IllegalTunnelType"
	KindWrongPartnerID   Kind = "WrongPartnerId"
)

// Reestablishment errors.
const (
	KindRecoverBleError  Kind = "RecoverBleError"
	KindReconnectTimeout Kind = "ReconnectTimeout"
	KindEmergencyDisconnect Kind = "EmergencyDisconnect"
)

// Simulation-internal errors. These represent invariant violations in the
// simulator itself, not ordinary mesh protocol control flow.
const (
	KindCorruptOrOutdatedSavefile  Kind = "CorruptOrOutdatedSavefile"
	KindPacketStatBufferSizeNotEnough Kind = "PacketStatBufferSizeNotEnough"
	KindNonCompatibleDataType      Kind = "NonCompatibleDataType"
	KindIndexOutOfBounds           Kind = "IndexOutOfBounds"
	KindMessageTooLong             Kind = "MessageTooLong"
	KindStackOverflow              Kind = "StackOverflow"
	KindDoubleFree                 Kind = "DoubleFree"
)

// simKinds is the set of Kinds considered simulation-internal: by default
// they panic via Raise unless disabled by a Guard, mirroring the firmware
// test harness's "break into the debugger unless disabled" policy.
var simKinds = map[Kind]bool{
	KindCorruptOrOutdatedSavefile:     true,
	KindPacketStatBufferSizeNotEnough: true,
	KindNonCompatibleDataType:         true,
	KindIndexOutOfBounds:              true,
	KindMessageTooLong:                true,
	KindStackOverflow:                 true,
	KindDoubleFree:                    true,
}

// OperationalError is a taxonomy-tagged error. Radio/mesh errors of this
// type are normal control flow: they get recorded in per-node counters and,
// for handshake failures, emitted as a live report. Simulation-internal
// kinds additionally panic from Raise unless guarded.
type OperationalError struct {
	Kind      Kind
	NodeID    uint16
	PartnerID uint16
	Err       error
}

func (e *OperationalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (node=%d partner=%d): %v", e.Kind, e.NodeID, e.PartnerID, e.Err)
	}
	return fmt.Sprintf("%s (node=%d partner=%d)", e.Kind, e.NodeID, e.PartnerID)
}

func (e *OperationalError) Unwrap() error { return e.Err }

// New builds an OperationalError for the given kind.
func New(kind Kind, nodeID, partnerID uint16, wrapped error) *OperationalError {
	return &OperationalError{Kind: kind, NodeID: nodeID, PartnerID: partnerID, Err: wrapped}
}

// Is makes errors.Is(err, target) match when target is also an
// *OperationalError of the same Kind; node and partner ids are not compared.
func (e *OperationalError) Is(target error) bool {
	var other *OperationalError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

var (
	guardMu       sync.Mutex
	disabledKinds = map[Kind]int{} // reference-counted, so nested guards compose
)

// Guard temporarily disables the panic-on-Raise behavior for the given
// simulation-internal kinds, returning a function that re-enables them. Test
// code wraps scenarios that are expected to trigger an otherwise-fatal
// invariant violation, mirroring cherrysim's scoped exception-type disabling.
func Guard(kinds ...Kind) func() {
	guardMu.Lock()
	for _, k := range kinds {
		disabledKinds[k]++
	}
	guardMu.Unlock()

	return func() {
		guardMu.Lock()
		defer guardMu.Unlock()
		for _, k := range kinds {
			if disabledKinds[k] > 0 {
				disabledKinds[k]--
			}
		}
	}
}

func isDisabled(k Kind) bool {
	guardMu.Lock()
	defer guardMu.Unlock()
	return disabledKinds[k] > 0
}

// Raise reports a simulation-internal invariant violation. Unless the kind
// is currently disabled by a Guard, it panics with the OperationalError so
// the failure surfaces immediately instead of silently corrupting state;
// under a Guard it instead returns the error for the caller to handle.
func Raise(kind Kind, nodeID, partnerID uint16, wrapped error) error {
	oe := New(kind, nodeID, partnerID, wrapped)
	if !simKinds[kind] || isDisabled(kind) {
		return oe
	}
	panic(oe)
}
