// Package sim drives the deterministic step engine: an explicit Simulator
// struct (the "global mutable state" the original exception-and-pointer
// design collapses into an arena+handle model, see the conn and node
// packages) and a per-tick driver that advances every node in a fixed
// order.
package sim

import (
	"math"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/radio"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/rng"
)

// PumpOutcome is what one node's firmware event-loop pump returns for a
// tick, replacing the original exception-based unwind for a software
// reset with an explicit early-return flag the driver checks.
type PumpOutcome uint8

const (
	PumpContinue PumpOutcome = iota
	PumpReset
)

// Config holds the tick-rate and jittering parameters the step driver
// needs; domain config (radio model, connection maxima) lives in the
// components it's passed to.
type Config struct {
	SimTickDurationMs uint32
	SimulateJittering bool
	Seed              uint32

	ClusteringValidatorEnabled bool

	FlashSnapshotIntervalTicks uint64
}

// NodePump is supplied by the caller (the firmware-pump layer) and runs
// one node's work for the tick. In this module that is the engine's pump:
// stack watchdog, battery accounting, event-queue drain, periodic
// time-sync and gossip rounds, cluster-info flush and connection timers;
// service discovery and UART interrupts are not modelled. It returns
// PumpReset if the node hit a simulated software reset mid-tick.
type NodePump func(n *node.Node, sim *Simulator) PumpOutcome

// Simulator is the explicit, passed-by-reference replacement for the
// original's process-wide global state: every step operation takes a
// *Simulator instead of reaching into static/global data, and "the
// current node" is an index parameter rather than a hidden global.
type Simulator struct {
	Config Config

	Nodes *node.Slab
	Pool  *conn.Pool
	Radio *radio.Model
	RNG   *rng.Stream

	SimTimeMs uint64
	tickCount uint64

	Pump NodePump

	// PreTick runs once per tick before any node is pumped, for the
	// cross-node radio operations (advertising, connection
	// establishment/teardown, packet transmission) a single node's pump
	// can't perform on its own. Optional; nil skips this stage entirely
	// (useful for unit tests of the pump in isolation).
	PreTick func(sim *Simulator, dtMs uint64)

	clusteringValidate func(sim *Simulator)
}

// New constructs a Simulator with a freshly-seeded RNG stream.
func New(cfg Config, nodes *node.Slab, pool *conn.Pool, radioModel *radio.Model, pump NodePump) *Simulator {
	return &Simulator{
		Config: cfg,
		Nodes:  nodes,
		Pool:   pool,
		Radio:  radioModel,
		RNG:    rng.NewStream(cfg.Seed),
		Pump:   pump,
	}
}

// SetClusteringValidator installs an optional per-tick consistency check
// run after every node has stepped.
func (s *Simulator) SetClusteringValidator(fn func(sim *Simulator)) {
	s.clusteringValidate = fn
}

// TickCount returns how many ticks have been run so far.
func (s *Simulator) TickCount() uint64 { return s.tickCount }

// sigmoid is the jittering probability curve; the 0.1 constant is the
// spec's "magic" coefficient, preserved verbatim for determinism.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// averageFrames computes the mean simulatedFrames across all nodes, the
// snapshot the jittering decision compares each node against.
func averageFrames(nodes *node.Slab) float64 {
	if len(nodes.Nodes) == 0 {
		return 0
	}
	var sum uint64
	for _, n := range nodes.Nodes {
		sum += n.SimulatedFrames
	}
	return float64(sum) / float64(len(nodes.Nodes))
}

// Step advances virtual time by one tick: for each node in index order it
// either skips the node (jittering) or runs the fixed per-node sequence
// via Pump, then reseeds the RNG for the next tick's determinism contract.
func (s *Simulator) Step() {
	if s.PreTick != nil {
		s.PreTick(s, uint64(s.Config.SimTickDurationMs))
	}

	avg := averageFrames(s.Nodes)

	for _, n := range s.Nodes.Nodes {
		if s.Config.SimulateJittering {
			skipProbability := 1 - sigmoid(-0.1*(float64(n.SimulatedFrames)-avg))
			if s.RNG.Float64() < skipProbability {
				continue
			}
		}
		n.SimulatedFrames++
		if s.Pump != nil {
			outcome := s.Pump(n, s)
			if outcome == PumpReset {
				n.Reset(node.RebootReasonSoftwareReset)
				continue
			}
		}
		n.Flash.ResolveOneAsyncCommit()
	}

	if s.Config.ClusteringValidatorEnabled && s.clusteringValidate != nil {
		s.clusteringValidate(s)
	}

	s.SimTimeMs += uint64(s.Config.SimTickDurationMs)
	s.tickCount++
	s.RNG.ReseedForTick(s.Config.Seed, uint32(s.SimTimeMs))
}

// ShouldIntervalTrigger implements SHOULD_SIM_IV_TRIGGER(intervalMs): true
// iff a rollover of the modulus happened inside (now-dt, now], used to
// fire periodic events (advertising, connection events, RSSI sampling,
// time-sync checks) without tracking a separate per-feature timer.
func ShouldIntervalTrigger(nowMs, dtMs, intervalMs uint64) bool {
	if intervalMs == 0 {
		return false
	}
	prev := nowMs - dtMs
	return (prev % intervalMs) >= (nowMs % intervalMs)
}
