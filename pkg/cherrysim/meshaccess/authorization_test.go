package meshaccess

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"
)

func TestStrongestPrefersBlacklist(t *testing.T) {
	got := Strongest(AuthWhitelist, AuthBlacklist, AuthLocalOnly)
	if got != AuthBlacklist {
		t.Fatalf("expected Blacklist to win, got %v", got)
	}
}

func TestAdmitRules(t *testing.T) {
	if dispatch, relay := Admit(AuthUndetermined, false); dispatch || relay {
		t.Fatalf("expected undetermined to be dropped")
	}
	if dispatch, relay := Admit(AuthLocalOnly, false); !dispatch || relay {
		t.Fatalf("expected LocalOnly to dispatch but never relay")
	}
	if dispatch, relay := Admit(AuthWhitelist, false); !dispatch || !relay {
		t.Fatalf("expected Whitelist to dispatch and relay")
	}
	if dispatch, relay := Admit(AuthBlacklist, true); !dispatch || !relay {
		t.Fatalf("expected handshake packets always admitted regardless of verdict")
	}
}

func TestRoutingGateVirtualPartnerAndBroadcast(t *testing.T) {
	if !RoutingGate(5000, 5000, false, false) {
		t.Fatalf("expected match on virtual partner id")
	}
	if !RoutingGate(uint16(routing.Broadcast), 5000, false, false) {
		t.Fatalf("expected broadcast always allowed")
	}
	if RoutingGate(12345, 5000, false, false) {
		t.Fatalf("expected unrelated destination rejected")
	}
	if !RoutingGate(12345, 5000, true, false) {
		t.Fatalf("expected assets to bypass the filter")
	}
}

func TestRoutingGateHopsAndAppBase(t *testing.T) {
	if !RoutingGate(uint16(routing.HopsBase+2), 5000, false, false) {
		t.Fatalf("expected hops-range destination allowed")
	}
	if !RoutingGate(uint16(routing.AppBase+1), 5000, false, false) {
		t.Fatalf("expected app-base destination allowed")
	}
}
