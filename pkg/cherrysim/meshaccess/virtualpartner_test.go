package meshaccess

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"
)

func TestAssignVirtualPartnerIDDerivedBySlot(t *testing.T) {
	got := AssignVirtualPartnerID(10, 0, nil)
	want := uint16(10 + int(routing.VirtualBase))
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestAssignVirtualPartnerIDExplicitOverride(t *testing.T) {
	explicit := uint16(99999 % 65536)
	got := AssignVirtualPartnerID(10, 0, &explicit)
	if got != explicit {
		t.Fatalf("expected explicit id to win, got %d", got)
	}
}

func TestRewriteOutgoingAndIncoming(t *testing.T) {
	virtual := uint16(5000)
	real := uint16(42)

	if got := RewriteOutgoing(virtual, virtual, real); got != real {
		t.Fatalf("expected outgoing rewrite to real id, got %d", got)
	}
	if got := RewriteOutgoing(100, virtual, real); got != 100 {
		t.Fatalf("expected unrelated destination left alone, got %d", got)
	}

	if got := RewriteIncoming(real, real, virtual, false); got != virtual {
		t.Fatalf("expected incoming rewrite to virtual id, got %d", got)
	}
}

func TestRewriteIncomingSkipsGlobalDeviceUnlessOverwritten(t *testing.T) {
	real := uint16(routing.GlobalDeviceBase + 1)
	virtual := uint16(5000)

	if got := RewriteIncoming(real, real, virtual, false); got != real {
		t.Fatalf("expected global-device id left alone when not user-overwritten, got %d", got)
	}
	if got := RewriteIncoming(real, real, virtual, true); got != virtual {
		t.Fatalf("expected rewrite to virtual id when user-overwritten, got %d", got)
	}
}
