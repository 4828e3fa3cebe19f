package sim

import (
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/radio"
)

func TestStepAdvancesTimeAndFrames(t *testing.T) {
	nodes := node.NewSlab(3, 1, 1)
	pool := conn.NewPool(8)
	radioModel := radio.NewModel(10, 10, 0, false)

	pumped := 0
	s := New(Config{SimTickDurationMs: 10, Seed: 42}, nodes, pool, radioModel, func(n *node.Node, sim *Simulator) PumpOutcome {
		pumped++
		return PumpContinue
	})

	s.Step()

	if s.SimTimeMs != 10 {
		t.Fatalf("expected sim time 10, got %d", s.SimTimeMs)
	}
	if s.TickCount() != 1 {
		t.Fatalf("expected tick count 1, got %d", s.TickCount())
	}
	if pumped != 3 {
		t.Fatalf("expected all 3 nodes pumped, got %d", pumped)
	}
	for _, n := range nodes.Nodes {
		if n.SimulatedFrames != 1 {
			t.Fatalf("expected node frame counter incremented, got %d", n.SimulatedFrames)
		}
	}
}

func TestStepHandlesPumpReset(t *testing.T) {
	nodes := node.NewSlab(1, 1, 1)
	pool := conn.NewPool(8)
	radioModel := radio.NewModel(10, 10, 0, false)

	s := New(Config{SimTickDurationMs: 10, Seed: 1}, nodes, pool, radioModel, func(n *node.Node, sim *Simulator) PumpOutcome {
		return PumpReset
	})

	nodes.Nodes[0].SimulatedFrames = 500
	s.Step()

	if nodes.Nodes[0].SimulatedFrames != 0 {
		t.Fatalf("expected reset node's frame counter cleared, got %d", nodes.Nodes[0].SimulatedFrames)
	}
	if nodes.Nodes[0].RebootReason != node.RebootReasonSoftwareReset {
		t.Fatalf("expected reboot reason SoftwareReset")
	}
}

func TestShouldIntervalTrigger(t *testing.T) {
	if !ShouldIntervalTrigger(100, 10, 50) {
		t.Fatalf("expected trigger: prev=90%%50=40, now=100%%50=0, 40>=0 true")
	}
	if ShouldIntervalTrigger(40, 10, 50) {
		t.Fatalf("expected no trigger: prev=30%%50=30, now=40%%50=40, 30>=40 false")
	}
}
