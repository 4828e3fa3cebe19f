package engine

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/internal/logging"
	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/linklayer"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/radio"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/siteio"
)

// This file wires Engine up to terminal.Controller (spec §6's terminal
// command surface), the one piece sim.Simulator and the mesh/meshaccess
// handshake logic deliberately know nothing about: node/asset counts,
// seed/map/loss overrides, site/devices import, per-node position edits,
// and the fault-injection and stat commands a test harness drives the
// simulator through.

// errNodeNotFound reports a terminal command or routing lookup that named
// a node id the slab doesn't currently have.
func errNodeNotFound(nodeID uint16) error {
	return simerr.New(simerr.KindIndexOutOfBounds, nodeID, 0, fmt.Errorf("node not found"))
}

// currentTerminalNodeID resolves the node the terminal's "term" target
// currently names: a specific id when one was set via SetTerminalTarget,
// else the first node in the slab (matching "term all"'s semantics for
// single-node commands like "rees", which the firmware only ever issues
// against whichever node the interactive terminal is attached to).
func (e *Engine) currentTerminalNodeID() uint16 {
	if e.terminalTarget != "" && e.terminalTarget != "all" {
		if v, err := strconv.ParseUint(e.terminalTarget, 10, 16); err == nil {
			return uint16(v)
		}
	}
	if len(e.Nodes.Nodes) > 0 {
		return e.Nodes.Nodes[0].ID
	}
	return 0
}

// Stat reports simulator status as a human-readable string (simstat).
// The free-quota figures are summed over every node's own counters.
func (e *Engine) Stat() string {
	active := 0
	for _, c := range e.Pool.All() {
		if c.State != conn.StateDisconnected {
			active++
		}
	}
	freeIn, freeOut := 0, 0
	for _, n := range e.Nodes.Nodes {
		freeIn += n.FreeMeshIn
		freeOut += n.FreeMeshOut
	}
	return fmt.Sprintf(
		"nodes=%d assets=%d tick=%d simTimeMs=%d activeConnections=%d freeMeshIn=%d freeMeshOut=%d seed=%d",
		len(e.Nodes.Nodes), len(e.assetIDs), e.Sim.TickCount(), e.Sim.SimTimeMs,
		active, freeIn, freeOut, e.Cfg.Sim.Seed,
	)
}

// SetTerminalTarget narrows which node(s) subsequent interactive terminal
// output targets ("id" or "all").
func (e *Engine) SetTerminalTarget(target string) error {
	if target != "all" {
		if _, err := strconv.ParseUint(target, 10, 16); err != nil {
			return fmt.Errorf("terminal: target must be a node id or \"all\", got %q", target)
		}
	}
	e.terminalTarget = target
	return nil
}

// rebuild reconstructs the node slab and connection pool from the current
// configuration and re-places every node, the shared path SetNumNodes and
// SetAssetNodes both need since changing either invalidates the whole
// slab (node ids are assigned sequentially from the total count).
func (e *Engine) rebuild() error {
	total := e.Cfg.Sim.NumNodes + e.Cfg.Sim.AssetNodes
	e.Nodes = node.NewSlab(total, 1, e.Cfg.Mesh.NetworkID)
	e.Pool = conn.NewPool(e.Cfg.Mesh.TotalConnections)
	e.Sim.Nodes = e.Nodes
	e.Sim.Pool = e.Pool
	e.meta = make(map[uint16]*nodeMeta, total)
	e.rssiRings = make(map[uint32]*radio.RSSIRing)
	e.pendingMeshAccess = make(map[uint16]pendingMeshAccess)

	e.markAssetNodes(e.Cfg.Sim.AssetNodes)
	e.initNodes()
	return e.placeNodes()
}

// SetNumNodes resizes the node slab (nodes N).
func (e *Engine) SetNumNodes(n int) error {
	if n <= 0 {
		return fmt.Errorf("nodes: count must be positive, got %d", n)
	}
	e.Cfg.Sim.NumNodes = n
	return e.rebuild()
}

// SetAssetNodes sets how many of the nodes are asset-type devices.
func (e *Engine) SetAssetNodes(n int) error {
	if n < 0 {
		return fmt.Errorf("assetnodes: count must not be negative, got %d", n)
	}
	e.Cfg.Sim.AssetNodes = n
	return e.rebuild()
}

// SetSeed reseeds the simulator. reroll requests a freshly chosen random
// seed (drawn from the current RNG stream, so the reroll itself stays
// reproducible from whatever seed was running before it) when no explicit
// value is given.
func (e *Engine) SetSeed(value uint32, reroll bool) error {
	seed := value
	if reroll {
		seed = e.Sim.RNG.Uint32()
	}
	e.Cfg.Sim.Seed = seed
	e.Sim.Config.Seed = seed
	e.Sim.RNG.Seed(seed)
	return nil
}

// SetMapWidth resizes the radio model's map width.
func (e *Engine) SetMapWidth(meters float64) error {
	if meters <= 0 {
		return fmt.Errorf("width: must be positive, got %g", meters)
	}
	e.Cfg.Sim.MapWidthMeters = meters
	e.Radio.MapWidthMeters = meters
	return nil
}

// SetMapHeight resizes the radio model's map height.
func (e *Engine) SetMapHeight(meters float64) error {
	if meters <= 0 {
		return fmt.Errorf("height: must be positive, got %g", meters)
	}
	e.Cfg.Sim.MapHeightMeters = meters
	e.Radio.MapHeightMeters = meters
	return nil
}

// SetLossProbability sets a uniform packet-loss override.
func (e *Engine) SetLossProbability(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("lossprob: must be in [0,1], got %g", p)
	}
	e.hasLossOverride = true
	e.lossProbabilityOverride = p
	return nil
}

// SetDelay sets a fixed extra transmission delay in milliseconds, added to
// the per-tick duration the link layer's packet-transmission pass sees
// (preTick and Flush), so the RSSI-report and per-second timeout triggers
// fire as if every tick took longer without actually changing the
// simulated clock rate nodes observe. The stuck-queue check reads the
// simulated clock and is not affected.
func (e *Engine) SetDelay(ms uint32) error {
	e.extraDelayMs = ms
	return nil
}

// SetJSONVerbose toggles the line-delimited JSON event stream.
func (e *Engine) SetJSONVerbose(enabled bool) error {
	e.jsonVerbose = enabled
	e.sink = logging.NewEventSink(enabled)
	return nil
}

// LoadSite imports map dimensions from the given site export JSON file.
func (e *Engine) LoadSite(path string) error {
	data, err := readFile(path)
	if err != nil {
		return fmt.Errorf("site: %w", err)
	}
	w, h, err := siteio.LoadSite(data)
	if err != nil {
		return err
	}
	return e.applyMapDimensions(w, h)
}

func (e *Engine) applyMapDimensions(w, h float64) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("site: map dimensions must be positive, got %gx%g", w, h)
	}
	e.Cfg.Sim.MapWidthMeters = w
	e.Cfg.Sim.MapHeightMeters = h
	e.Radio.MapWidthMeters = w
	e.Radio.MapHeightMeters = h
	return nil
}

// LoadDevices imports node placements from the given devices export JSON
// file, normalizing each device's meter coordinates into the [0,1) range
// Node.Position stores x/y in.
func (e *Engine) LoadDevices(path string) error {
	data, err := readFile(path)
	if err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	placements, err := siteio.LoadDevices(data)
	if err != nil {
		return err
	}
	for i, p := range placements {
		if i >= len(e.Nodes.Nodes) {
			break
		}
		e.Nodes.Nodes[i].Position = node.Position{
			X: e.normalizeX(p.X),
			Y: e.normalizeY(p.Y),
			Z: p.Z,
		}
	}
	return nil
}

func (e *Engine) normalizeX(meters float64) float64 {
	if e.Radio.MapWidthMeters <= 0 {
		return meters
	}
	return meters / e.Radio.MapWidthMeters
}

func (e *Engine) normalizeY(meters float64) float64 {
	if e.Radio.MapHeightMeters <= 0 {
		return meters
	}
	return meters / e.Radio.MapHeightMeters
}

// SetPosition sets one node's position (identified by serial index); x/y
// are given in meters and normalized internally by dividing by the map
// dimensions, matching the tick & control API's setPosition contract.
func (e *Engine) SetPosition(serial uint32, x, y, z float64) error {
	n := e.Nodes.BySerial(serial)
	if n == nil {
		return fmt.Errorf("sim set_position: no node with serial %d", serial)
	}
	n.Position = node.Position{X: e.normalizeX(x), Y: e.normalizeY(y), Z: z}
	return nil
}

// AddPosition offsets one node's position (identified by serial index) by
// the given meter delta.
func (e *Engine) AddPosition(serial uint32, x, y, z float64) error {
	n := e.Nodes.BySerial(serial)
	if n == nil {
		return fmt.Errorf("sim add_position: no node with serial %d", serial)
	}
	n.Position.X += e.normalizeX(x)
	n.Position.Y += e.normalizeY(y)
	n.Position.Z += z
	return nil
}

// Animation forwards a "sim animation ..." subcommand verbatim; the
// move-animation engine's own semantics are an external collaborator the
// spec doesn't define, so this just accepts the syntax and logs it.
func (e *Engine) Animation(args []string) error {
	e.log.Info("sim animation", zap.Strings("args", args))
	return nil
}

// Flush forces all pending packet queues to drain immediately, bypassing
// the normal per-tick connection-interval gating.
func (e *Engine) Flush() error {
	if e.flushFailNext {
		e.flushFailNext = false
		return fmt.Errorf("flush: forced failure")
	}
	dt := uint64(e.Cfg.Sim.SimTickDurationMs) + uint64(e.extraDelayMs)
	receptionProbability := e.receptionProbabilityFunc()
	for i := 0; i < 64 && e.anyQueueNonEmpty(); i++ {
		linklayer.TransmitPackets(e.Nodes, e.Pool, e.Sim.RNG, e.Sim.SimTimeMs, dt, 0, receptionProbability)
	}
	return nil
}

func (e *Engine) anyQueueNonEmpty() bool {
	for _, c := range e.Pool.All() {
		if c.State != conn.StateDisconnected && c.Queue.Len() > 0 {
			return true
		}
	}
	return false
}

// FlushFail forces the next flush attempt to fail, for fault-injection
// tests.
func (e *Engine) FlushFail() error {
	e.flushFailNext = true
	return nil
}

// BlockConnections prevents any new connection from being established.
func (e *Engine) BlockConnections() error {
	e.blockConnections = true
	return nil
}

// SimulateLoss suppresses packet transmission on every connection until the
// next tick's transmission pass has run (simloss). Queued packets are not
// discarded; they stay buffered for a later tick.
func (e *Engine) SimulateLoss() error {
	e.simulateLossOnce = true
	return nil
}

// SendStat reports per-node (or all-node, if id is empty) send statistics
// as a human-readable string.
func (e *Engine) SendStat(id string) string {
	if id == "" {
		var total uint64
		for _, m := range e.meta {
			total += m.sent
		}
		return fmt.Sprintf("sent=%d across %d nodes", total, len(e.meta))
	}
	n, m, err := e.lookupMeta(id)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("node=%d sent=%d", n, m.sent)
}

// RouteStat reports per-node (or all-node, if id is empty) routed-message
// statistics as a human-readable string.
func (e *Engine) RouteStat(id string) string {
	if id == "" {
		var total uint64
		for _, m := range e.meta {
			total += m.routed
		}
		return fmt.Sprintf("routed=%d across %d nodes", total, len(e.meta))
	}
	n, m, err := e.lookupMeta(id)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("node=%d routed=%d", n, m.routed)
}

func (e *Engine) lookupMeta(id string) (uint16, *nodeMeta, error) {
	v, err := strconv.ParseUint(id, 10, 16)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid node id %q: %w", id, err)
	}
	nodeID := uint16(v)
	m, ok := e.meta[nodeID]
	if !ok {
		return 0, nil, errNodeNotFound(nodeID)
	}
	return nodeID, m, nil
}
