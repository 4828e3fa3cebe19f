package node

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/events"
)

func TestNewNodeInit(t *testing.T) {
	n := NewNode(0, 2, 1, 7)
	if n.ID != 2 {
		t.Fatalf("expected id 2, got %d", n.ID)
	}
	if n.NetworkID() != 7 {
		t.Fatalf("expected network id 7, got %d", n.NetworkID())
	}
	if n.Flash.UICRCustomerWords[0] != n.SerialIndex {
		t.Fatalf("expected UICR word 0 to be seeded from serial index")
	}
	wantAddr := NewAddress(2)
	if !n.Address.Equal(wantAddr) {
		t.Fatalf("expected address %v, got %v", wantAddr, n.Address)
	}
	if n.RebootReason != RebootReasonPowerOn {
		t.Fatalf("expected power-on reboot reason after init, got %v", n.RebootReason)
	}
}

func TestNodeResetPreservesIdentity(t *testing.T) {
	n := NewNode(0, 5, 3, 1)
	n.Features = n.Features.Set(FeatureEnrolled)
	n.SimulatedFrames = 1000
	n.EventQueue.Push(events.Event{Type: events.Connected})

	n.Reset(RebootReasonWatchdog)

	if n.ID != 5 || n.Index != 0 {
		t.Fatalf("reset must preserve id/index")
	}
	if n.SimulatedFrames != 0 {
		t.Fatalf("expected simulated frame counter cleared on reset")
	}
	if n.RestartCounter != 1 {
		t.Fatalf("expected restart counter incremented, got %d", n.RestartCounter)
	}
	if n.RebootReason != RebootReasonWatchdog {
		t.Fatalf("expected reboot reason to reflect reset cause")
	}
	if n.EventQueue.Len() != 0 {
		t.Fatalf("expected event queue cleared on reset")
	}
	if n.Features.Has(FeatureEnrolled) {
		t.Fatalf("expected feature mask cleared by boot after reset")
	}
}

func TestMeshQuotaTakeAndRelease(t *testing.T) {
	n := NewNode(0, 1, 1, 1)
	n.ConfigureMeshQuota(1, 2)

	if !n.TakeMeshQuota(false) {
		t.Fatalf("expected first peripheral take to succeed")
	}
	if n.TakeMeshQuota(false) {
		t.Fatalf("expected peripheral quota exhausted at max 1")
	}
	if !n.TakeMeshQuota(true) || !n.TakeMeshQuota(true) {
		t.Fatalf("expected two central takes to succeed")
	}
	if n.TakeMeshQuota(true) {
		t.Fatalf("expected central quota exhausted at max 2")
	}

	n.ReleaseMeshQuota(false)
	if n.FreeMeshIn != 1 {
		t.Fatalf("expected peripheral quota restored, got %d", n.FreeMeshIn)
	}
	// Release never exceeds the configured maximum.
	n.ReleaseMeshQuota(false)
	if n.FreeMeshIn != 1 {
		t.Fatalf("expected release clamped at max, got %d", n.FreeMeshIn)
	}
}

func TestSlabByID(t *testing.T) {
	s := NewSlab(5, 10, 1)
	n := s.ByID(12)
	if n == nil || n.ID != 12 {
		t.Fatalf("expected to find node 12")
	}
	if s.ByID(999) != nil {
		t.Fatalf("expected nil for unknown node id")
	}
}
