package mesh

import (
	"errors"
	"testing"

	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
)

func TestShouldReestablishRespectsUserTermination(t *testing.T) {
	if ShouldReestablish(ReasonLocalHostTerminated, 500, 30) {
		t.Fatalf("expected no reestablishment on local host termination")
	}
	if ShouldReestablish(ReasonRemoteUserTerminated, 500, 30) {
		t.Fatalf("expected no reestablishment on remote user termination")
	}
}

func TestShouldReestablishRequiresMinLifetime(t *testing.T) {
	if ShouldReestablish(ReasonConnectionTimeout, 50, 30) {
		t.Fatalf("expected no reestablishment for a short-lived connection")
	}
	if !ShouldReestablish(ReasonConnectionTimeout, 500, 30) {
		t.Fatalf("expected reestablishment eligible for a long-lived connection")
	}
}

func TestShouldReestablishRequiresTimeoutConfigured(t *testing.T) {
	if ShouldReestablish(ReasonConnectionTimeout, 500, 0) {
		t.Fatalf("expected no reestablishment when extended timeout is disabled")
	}
}

func TestBeginAndCompleteReestablishment(t *testing.T) {
	c := &conn.Connection{Queue: conn.NewPacketQueue(), State: conn.StateHandshakeDone}
	mv := &conn.MeshVariant{}
	c.Queue.PushReliable(&conn.Packet{GlobalPacketID: 1})
	c.Queue.PopNext()

	BeginReestablishment(c, mv, 1000)
	if c.State != conn.StateReestablishing {
		t.Fatalf("expected state Reestablishing")
	}
	if c.Queue.Len() != 1 {
		t.Fatalf("expected rolled-back packet replayed into queue")
	}

	CompleteReestablishment(c, mv)
	if c.State != conn.StateHandshakeDone {
		t.Fatalf("expected state restored to HandshakeDone")
	}
	if mv.ReestablishmentStartedDs != 0 {
		t.Fatalf("expected reestablishment timer cleared")
	}
}

func TestCheckReestablishmentTimeoutFires(t *testing.T) {
	mv := &conn.MeshVariant{ReestablishmentStartedDs: 100}
	err := CheckReestablishmentTimeout(mv, 500, 30, 1, 2)
	var oe *simerr.OperationalError
	if !errors.As(err, &oe) || oe.Kind != simerr.KindReconnectTimeout {
		t.Fatalf("expected KindReconnectTimeout, got %v", err)
	}
}
