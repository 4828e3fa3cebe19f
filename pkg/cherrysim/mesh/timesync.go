package mesh

import "github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"

// TimeSyncIntervalDs is how often (in deciseconds of sim time) a node with
// a valid wall clock initiates time sync on each Unsynced handshaked mesh
// connection: every 5s of sim time.
const TimeSyncIntervalDs = 50

// TimeSyncMessageType distinguishes the two time-sync messages exchanged
// on a connection.
type TimeSyncMessageType uint8

const (
	TimeSyncInitial    TimeSyncMessageType = iota // first round trip, establishes baseline
	TimeSyncCorrection                            // measures queuing latency, corrects for it
)

// TimeSyncMessage is one TIME_SYNC packet's payload.
type TimeSyncMessage struct {
	Type            TimeSyncMessageType
	CorrectionTicks int32
}

// SendInitial is called by the side with a valid wall clock on an Unsynced
// connection; it transitions local state to InitialSent and returns the
// message to send.
func SendInitial(mv *conn.MeshVariant) TimeSyncMessage {
	mv.TimeSyncState = conn.TimeSyncInitialSent
	return TimeSyncMessage{Type: TimeSyncInitial}
}

// HandleInitial is the partner's reaction to receiving a TIME_SYNC
// INITIAL: it replies in kind and moves to InitialSent.
func HandleInitial(mv *conn.MeshVariant) TimeSyncMessage {
	mv.TimeSyncState = conn.TimeSyncInitialSent
	return TimeSyncMessage{Type: TimeSyncInitial}
}

// SendCorrection is called by the originator after InitialSent: it
// measures the queuing latency between when Send was ordered and when the
// packet was actually transmitted, and moves to CorrectionSent.
func SendCorrection(mv *conn.MeshVariant, sendOrderedAtDs, actuallyTransmittedAtDs uint32) TimeSyncMessage {
	mv.TimeSyncState = conn.TimeSyncCorrectionSent
	return TimeSyncMessage{
		Type:            TimeSyncCorrection,
		CorrectionTicks: int32(actuallyTransmittedAtDs) - int32(sendOrderedAtDs),
	}
}

// HandleCorrection is the partner's reaction to a TIME_SYNC CORRECTION: it
// moves to CorrectionSent. The advertised correction is not applied here;
// any wall-clock offset is owned by the caller, not this package.
func HandleCorrection(mv *conn.MeshVariant) {
	mv.TimeSyncState = conn.TimeSyncCorrectionSent
}

// ResetOnDisconnect resets a connection's time-sync state to Unsynced, the
// required behavior on any gap disconnect.
func ResetOnDisconnect(mv *conn.MeshVariant) {
	mv.TimeSyncState = conn.TimeSyncUnsynced
}

// EnrolledNodesSync reports whether the locally-known enrolled device
// count matches the value most recently advertised by the neighbor,
// marking the connection synced when it does.
func EnrolledNodesSync(mv *conn.MeshVariant, localCount, neighborAdvertisedCount uint16) {
	mv.EnrolledNodesSynced = localCount == neighborAdvertisedCount
}
