// Package engine is the wiring layer the step engine (pkg/cherrysim/sim)
// deliberately leaves out: it supplies the PreTick cross-node radio pass
// and the per-node NodePump that together turn the policy-free Simulator
// into a running mesh clustering simulation, and implements the terminal
// command Controller the CLI drives.
package engine

import (
	"os"

	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/internal/config"
	"github.com/fruitymesh/cherrysim-go/internal/logging"
	"github.com/fruitymesh/cherrysim-go/internal/snapshot"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/linklayer"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/mesh"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshproto"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/radio"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/sim"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/siteio"
)

// defaultAdvertisingIntervalMs and defaultScanWindowMs put every node into
// continuous advertise+scan, the simplest softdevice configuration that
// lets clustering form without any terminal command needed first.
const (
	defaultAdvertisingIntervalMs  = 100
	defaultScanWindowMs           = 100
	defaultConnectingTimeoutMs    = 3000
	flashSnapshotIntervalTicks    = 200
	enrolledNodesGossipIntervalMs = 10000
	rssiRingCapacity              = 8
)

// defaultNetworkKey is the network-wide long-term key every simulated node
// is provisioned with; real deployments program this during enrollment, the
// simulator seeds it so mesh-access handshakes over FmKeyNetwork work out
// of the box.
var defaultNetworkKey = [16]byte{
	0x04, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
	0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE,
}

// defaultKeyRing provisions one node's long-term keys: the node key is
// unique per node id, the rest are network-wide.
func defaultKeyRing(nodeID uint16) meshaccess.KeyRing {
	k := meshaccess.KeyRing{
		NetworkKey:      defaultNetworkKey,
		OrganizationKey: defaultNetworkKey,
		RestrainedKey:   defaultNetworkKey,
		UserBaseKey:     defaultNetworkKey,
	}
	k.NodeKey[0] = byte(nodeID)
	k.NodeKey[1] = byte(nodeID >> 8)
	for i := 2; i < 16; i++ {
		k.NodeKey[i] = 0x5A
	}
	return k
}

// Telemetry mirrors the JSON event stream to an external sink (the MQTT
// republisher); nil disables it.
type Telemetry interface {
	PublishConnect(nodeID, partnerID, handle uint16, rssi int32, timeMs uint64) error
	PublishDisconnect(nodeID, partnerID, handle uint16, reason uint8, timeMs uint64) error
	PublishData(nodeID, partnerID uint16, reliable bool, timeMs uint64, dataHex string) error
	PublishMeshDisconnect(partnerID uint16) error
}

// nodeMeta is the engine-level bookkeeping kept per node that doesn't
// belong on node.Node itself: node.Node models simulated hardware state,
// while cluster membership, mesh-access key material, and traffic counters
// are wiring-layer concerns the original firmware keeps in its clustering
// and connection manager modules, not the node object.
type nodeMeta struct {
	cluster *mesh.ClusterState
	keys    meshaccess.KeyRing
	sent    uint64
	routed  uint64
}

// pendingMeshAccess records a mesh-access tunnel this node is in the
// middle of establishing as the GAP central, so the Connected event knows
// to promote the new connection to MeshAccess instead of Mesh once the
// link comes up.
type pendingMeshAccess struct {
	partnerAddr node.Address
	fmKeyID     meshaccess.FmKeyID
	tunnelType  conn.TunnelType
}

// Engine owns the simulator and every piece of cross-node state the
// Simulator itself is deliberately silent on: connection-kind promotion,
// the clustering and mesh-access handshakes, routing, and the terminal
// Controller surface.
type Engine struct {
	Cfg     *config.Config
	Nodes   *node.Slab
	Pool    *conn.Pool
	Radio   *radio.Model
	Sim     *sim.Simulator
	Handles *linklayer.HandleCounter

	meta      map[uint16]*nodeMeta
	assetIDs  map[uint16]bool
	rssiRings map[uint32]*radio.RSSIRing

	pendingMeshAccess map[uint16]pendingMeshAccess

	sink      *logging.EventSink
	telemetry Telemetry

	// authorize is the CheckAuthorizationForAll hook consulted for every
	// tunneled application message; nil means no module objects and the
	// message passes as Whitelist.
	authorize func(a meshproto.AppData) meshaccess.Authorization

	timeSyncTicker *sim.Ticker
	gossipTicker   *sim.Ticker
	timeSyncDue    bool
	gossipDue      bool

	terminalTarget          string
	jsonVerbose             bool
	blockConnections        bool
	flushFailNext           bool
	simulateLossOnce        bool
	hasLossOverride         bool
	lossProbabilityOverride float64
	extraDelayMs            uint32

	log *zap.Logger
}

// New builds an Engine from a loaded configuration: it allocates the node
// slab, connection pool, and radio model, places nodes (from site/devices
// JSON if configured, else randomized DBSCAN-accepted placement), and
// wires the Simulator's PreTick and Pump hooks.
func New(cfg *config.Config) (*Engine, error) {
	total := cfg.Sim.NumNodes + cfg.Sim.AssetNodes
	nodes := node.NewSlab(total, 1, cfg.Mesh.NetworkID)

	pool := conn.NewPool(cfg.Mesh.TotalConnections)

	radioModel := radio.NewModel(cfg.Sim.MapWidthMeters, cfg.Sim.MapHeightMeters, cfg.Radio.CalibratedTxDbm, cfg.Radio.NoiseEnabled)
	if cfg.Radio.PathLossExponent > 0 {
		radioModel.PathLossExponent = cfg.Radio.PathLossExponent
	}

	e := &Engine{
		Cfg:               cfg,
		Nodes:             nodes,
		Pool:              pool,
		Radio:             radioModel,
		Handles:           linklayer.NewHandleCounter(),
		meta:              make(map[uint16]*nodeMeta, total),
		assetIDs:          make(map[uint16]bool),
		rssiRings:         make(map[uint32]*radio.RSSIRing),
		pendingMeshAccess: make(map[uint16]pendingMeshAccess),
		jsonVerbose:       cfg.Sim.Verbose,
		timeSyncTicker:    sim.NewTicker(uint64(mesh.TimeSyncIntervalDs) * 100),
		gossipTicker:      sim.NewTicker(enrolledNodesGossipIntervalMs),
		log:               logging.With(zap.String("component", "engine")),
	}
	e.sink = logging.NewEventSink(e.jsonVerbose)

	simCfg := sim.Config{
		SimTickDurationMs:          cfg.Sim.SimTickDurationMs,
		SimulateJittering:          cfg.Sim.SimulateJittering,
		Seed:                       cfg.Sim.Seed,
		ClusteringValidatorEnabled: cfg.Sim.ClusteringValidate,
		FlashSnapshotIntervalTicks: flashSnapshotIntervalTicks,
	}
	e.Sim = sim.New(simCfg, nodes, pool, radioModel, e.pump)
	e.Sim.PreTick = e.preTick
	if cfg.Sim.ClusteringValidate {
		e.Sim.SetClusteringValidator(e.validateClustering)
	}

	e.markAssetNodes(cfg.Sim.AssetNodes)
	e.initNodes()

	if err := e.placeNodes(); err != nil {
		return nil, err
	}

	// Resuming a previous run: restore every node's flash from the
	// snapshot file if one matches. A rejected snapshot (header or length
	// mismatch) is ignored, not deleted.
	if cfg.Storage.StoreFlashToFile && cfg.Storage.FlashSnapshotPath != "" {
		if _, statErr := os.Stat(cfg.Storage.FlashSnapshotPath); statErr == nil {
			if err := snapshot.Load(cfg.Storage.FlashSnapshotPath, nodes); err != nil {
				e.log.Warn("flash snapshot not restored", zap.Error(err))
			}
		}
	}

	return e, nil
}

// markAssetNodes tags the last n node ids in the slab as asset devices,
// the simplified placement SPEC_FULL.md's asset-node count describes
// (assets are ordinary nodes whose mesh-access routing gate is bypassed,
// not a distinct hardware model).
func (e *Engine) markAssetNodes(n int) {
	e.assetIDs = make(map[uint16]bool, n)
	total := len(e.Nodes.Nodes)
	for i := total - n; i < total; i++ {
		if i < 0 || i >= total {
			continue
		}
		e.assetIDs[e.Nodes.Nodes[i].ID] = true
	}
}

// initNodes sets every node's softdevice into continuous advertise+scan
// and seeds its clustering state as its own singleton cluster, so the
// first tick's AdvertiseAndConnect pass can start forming links without
// any terminal command first.
func (e *Engine) initNodes() {
	for _, n := range e.Nodes.Nodes {
		n.ConfigureMeshQuota(e.Cfg.Mesh.MaxMeshIn, e.Cfg.Mesh.MaxMeshOut)
		e.armRadio(n)

		e.meta[n.ID] = &nodeMeta{
			cluster: &mesh.ClusterState{
				ClusterID:   1_000_000 + uint32(n.ID),
				ClusterSize: 1,
				NetworkID:   n.NetworkID(),
			},
			keys: defaultKeyRing(n.ID),
		}
	}
}

// armRadio configures a node's softdevice into continuous advertise+scan
// and sets the matching feature bits; called at init and again after a
// node reset wipes its softdevice state, the way firmware boot
// reconfigures the radio.
func (e *Engine) armRadio(n *node.Node) {
	n.State.AdvertisingIntervalMs = defaultAdvertisingIntervalMs
	n.State.ScanWindowMs = defaultScanWindowMs
	n.State.ScanIntervalMs = defaultScanWindowMs
	n.Features = n.Features.Set(node.FeatureAdvertisingActive | node.FeatureScanningActive | node.FeatureRssiMeasurementActive)
}

// placeNodes imports node positions from the configured site/devices JSON
// pair when present, else falls back to DBSCAN-accepted random placement
// so the whole population starts in radio range of each other.
func (e *Engine) placeNodes() error {
	if e.Cfg.Storage.SitePath != "" {
		if err := e.LoadSite(e.Cfg.Storage.SitePath); err != nil {
			return err
		}
	}
	if e.Cfg.Storage.DevicesPath != "" {
		return e.LoadDevices(e.Cfg.Storage.DevicesPath)
	}

	epsilon := siteio.Epsilon(e.Cfg.Radio.StableRssiThreshold, e.Cfg.Radio.CalibratedTxDbm, e.Cfg.Radio.DefaultDbmTx, e.Radio.PathLossExponent)
	placements := siteio.RandomPlacement(len(e.Nodes.Nodes), epsilon, e.Sim.RNG)
	for i, p := range placements {
		e.Nodes.Nodes[i].Position = node.Position{X: p.X, Y: p.Y, Z: p.Z}
	}
	return nil
}

// SetTelemetry installs an external event sink mirroring the JSON stream.
func (e *Engine) SetTelemetry(t Telemetry) {
	e.telemetry = t
}

// SetAuthorization installs the per-module authorization hook consulted
// for tunneled application traffic.
func (e *Engine) SetAuthorization(fn func(a meshproto.AppData) meshaccess.Authorization) {
	e.authorize = fn
}

// Step advances the simulation by one tick and performs the engine-level
// bookkeeping the Simulator itself doesn't know about: periodic flash
// persistence.
func (e *Engine) Step() {
	e.Sim.Step()

	if e.Cfg.Storage.StoreFlashToFile && e.Cfg.Storage.FlashSnapshotPath != "" {
		if e.Sim.TickCount()%flashSnapshotIntervalTicks == 0 {
			if err := snapshot.Save(e.Cfg.Storage.FlashSnapshotPath, e.Nodes); err != nil {
				e.log.Warn("flash snapshot save failed", zap.Error(err))
			}
		}
	}
}

// preTick runs the cross-node radio pass once per tick, before any node's
// own pump: refreshing each live connection's reported RSSI from the two
// endpoints' positions, then connection-timeout checks, GAP
// advertising/scanning/connecting, and packet transmission.
func (e *Engine) preTick(s *sim.Simulator, dtMs uint64) {
	e.timeSyncDue = e.timeSyncTicker.Due(s.SimTimeMs)
	e.gossipDue = e.gossipTicker.Due(s.SimTimeMs)

	e.refreshRSSI()

	linklayer.CheckConnectingTimeouts(s.Nodes, s.SimTimeMs)

	if !e.blockConnections {
		linklayer.AdvertiseAndConnect(s.Nodes, s.Pool, s.Radio, s.RNG, e.Handles, e.Cfg.Radio.DefaultDbmTx, s.SimTimeMs, dtMs)
	}

	receptionProbability := e.receptionProbabilityFunc()
	linklayer.TransmitPackets(s.Nodes, s.Pool, s.RNG, s.SimTimeMs, dtMs+uint64(e.extraDelayMs), 0, receptionProbability)
	e.simulateLossOnce = false
}

// receptionProbabilityFunc builds the all-or-nothing per-connection gate
// TransmitPackets consults: a forced one-shot loss ("simloss"), then a
// uniform loss-probability override ("lossprob"), else nil (no override).
func (e *Engine) receptionProbabilityFunc() func(localID, partnerID uint16) float64 {
	if e.simulateLossOnce {
		return func(uint16, uint16) float64 { return 0 }
	}
	if e.hasLossOverride {
		p := e.lossProbabilityOverride
		return func(uint16, uint16) float64 {
			if e.Sim.RNG.Float64() < p {
				return 0
			}
			return 1
		}
	}
	return nil
}

// refreshRSSI recomputes LastReportedRSSI for every live connection from
// its two endpoints' current positions (the value the RSSI_CHANGED event
// pushed during TransmitPackets reports) and folds each sample into the
// connection's history ring, from which RSSIAverageTimes1000 is derived.
func (e *Engine) refreshRSSI() {
	seen := make(map[uint32]bool, len(e.rssiRings))
	for _, c := range e.Pool.All() {
		if c.State == conn.StateDisconnected {
			continue
		}
		local, partner := resolveConnectionSides(e.Nodes, c)
		if local == nil || partner == nil {
			continue
		}
		impossible := local.ImpossibleConnections[partner.ID] || partner.ImpossibleConnections[local.ID]
		dist := e.Radio.Distance(local.Position.X, local.Position.Y, local.Position.Z, partner.Position.X, partner.Position.Y, partner.Position.Z)
		c.LastReportedRSSI = int32(e.Radio.RSSI(e.Cfg.Radio.DefaultDbmTx, dist, impossible, e.Sim.RNG))

		ring := e.rssiRings[c.UniqueConnectionID]
		if ring == nil {
			ring = radio.NewRSSIRing(rssiRingCapacity)
			e.rssiRings[c.UniqueConnectionID] = ring
		}
		ring.Push(c.LastReportedRSSI)
		c.RSSIAverageTimes1000 = int64(ring.Average() * 1000)
		seen[c.UniqueConnectionID] = true
	}
	for id := range e.rssiRings {
		if !seen[id] {
			delete(e.rssiRings, id)
		}
	}
}

// resolveConnectionSides mirrors linklayer's unexported resolveSides: it
// looks up the two nodes a connection handle spans by scanning their
// softdevice connection slot tables (duplicated here since resolveSides is
// unexported and the engine needs it outside the linklayer package).
func resolveConnectionSides(nodes *node.Slab, c *conn.Connection) (local, partner *node.Node) {
	for _, n := range nodes.Nodes {
		for _, slot := range n.State.ConnectionSlots {
			if slot.Active && slot.ConnectionHandle == c.ConnectionHandle {
				if slot.IsCentral == (c.Direction == conn.DirectionOut) {
					if local == nil {
						local = n
					}
				} else if partner == nil {
					partner = n
				}
			}
		}
	}
	return local, partner
}

// localConnection finds the Connection record owned by node n for the
// given BLE connection handle, by resolving its softdevice slot through
// the pool.
func (e *Engine) localConnection(n *node.Node, handle uint16) *conn.Connection {
	for i := range n.State.ConnectionSlots {
		slot := &n.State.ConnectionSlots[i]
		if slot.Active && slot.ConnectionHandle == handle {
			h := conn.NewHandle(slot.UniqueConnectionID)
			return e.Pool.Resolve(&h)
		}
	}
	return nil
}

// isCentral reports whether n is the GAP central (master) on the given
// connection handle.
func isCentral(n *node.Node, handle uint16) bool {
	for _, slot := range n.State.ConnectionSlots {
		if slot.Active && slot.ConnectionHandle == handle {
			return slot.IsCentral
		}
	}
	return false
}

// nowDs returns the current simulated time in deciseconds, the unit the
// mesh/meshaccess/conn packages stamp their timers in.
func (e *Engine) nowDs() uint32 {
	return uint32(e.Sim.SimTimeMs / 100)
}

// nextGlobalPacketID hands out the globally monotonic id every queued
// packet is stamped with, deciding drain order across every connection's
// buffers.
var globalPacketCounter uint64

func (e *Engine) nextGlobalPacketID() uint64 {
	globalPacketCounter++
	return globalPacketCounter
}

// enqueueControl pushes a reliable, vital-priority control packet (the
// clustering/mesh-access handshake and housekeeping messages), matching
// the spec's "coalescing vital-priority" treatment of handshake traffic.
func (e *Engine) enqueueControl(c *conn.Connection, payload []byte) {
	c.Queue.PushReliable(&conn.Packet{
		GlobalPacketID: e.nextGlobalPacketID(),
		Priority:       conn.PriorityVital,
		Kind:           conn.PacketWriteReq,
		Payload:        payload,
		EnqueuedAtDs:   e.nowDs(),
	})
}

// enqueueData pushes an unreliable, medium-priority application data
// packet onto slot 0 of the connection's unreliable buffers.
func (e *Engine) enqueueData(c *conn.Connection, payload []byte) {
	c.Queue.PushUnreliable(0, &conn.Packet{
		GlobalPacketID: e.nextGlobalPacketID(),
		Priority:       conn.PriorityMedium,
		Kind:           conn.PacketWriteCmd,
		Payload:        payload,
		EnqueuedAtDs:   e.nowDs(),
	})
}

// readFile reads the whole named file; it is exactly os.ReadFile.
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
