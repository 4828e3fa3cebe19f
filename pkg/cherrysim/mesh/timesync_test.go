package mesh

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
)

func TestTimeSyncFullRoundTrip(t *testing.T) {
	originator := &conn.MeshVariant{TimeSyncState: conn.TimeSyncUnsynced}
	partner := &conn.MeshVariant{TimeSyncState: conn.TimeSyncUnsynced}

	initial := SendInitial(originator)
	if originator.TimeSyncState != conn.TimeSyncInitialSent {
		t.Fatalf("expected originator InitialSent")
	}

	_ = HandleInitial(partner)
	if partner.TimeSyncState != conn.TimeSyncInitialSent {
		t.Fatalf("expected partner InitialSent")
	}

	correction := SendCorrection(originator, 1000, 1003)
	if originator.TimeSyncState != conn.TimeSyncCorrectionSent {
		t.Fatalf("expected originator CorrectionSent")
	}
	if correction.CorrectionTicks != 3 {
		t.Fatalf("expected correction of 3 ticks, got %d", correction.CorrectionTicks)
	}
	if initial.Type != TimeSyncInitial {
		t.Fatalf("expected initial message type")
	}

	HandleCorrection(partner)
	if partner.TimeSyncState != conn.TimeSyncCorrectionSent {
		t.Fatalf("expected partner CorrectionSent")
	}
}

func TestResetOnDisconnect(t *testing.T) {
	mv := &conn.MeshVariant{TimeSyncState: conn.TimeSyncCorrectionSent}
	ResetOnDisconnect(mv)
	if mv.TimeSyncState != conn.TimeSyncUnsynced {
		t.Fatalf("expected reset to Unsynced")
	}
}

func TestEnrolledNodesSync(t *testing.T) {
	mv := &conn.MeshVariant{}
	EnrolledNodesSync(mv, 5, 5)
	if !mv.EnrolledNodesSynced {
		t.Fatalf("expected synced when counts match")
	}
	EnrolledNodesSync(mv, 5, 4)
	if mv.EnrolledNodesSynced {
		t.Fatalf("expected not synced when counts differ")
	}
}
