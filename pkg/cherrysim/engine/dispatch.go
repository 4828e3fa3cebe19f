package engine

import (
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/events"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/linklayer"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/mesh"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshproto"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/routing"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/sim"
)

// connectingTimeoutMs is how long a node waits for its GAP connection
// attempt to complete before CheckConnectingTimeouts gives up on it.
const connectingTimeoutMs = defaultConnectingTimeoutMs

// meshHandshakeTimeoutDs bounds how long a connection may sit in the
// Handshaking state before it is torn down with HandshakeTimeout.
const meshHandshakeTimeoutDs = 100

// Per-tick battery draw constants (nanoampere per millisecond). The spec's
// battery contract requires determinism for a given tick duration, not
// accuracy, so this is a plain linear model.
const (
	batteryIdleNaPerMs = 10
	batteryAdvNaPerMs  = 50
	batteryConnNaPerMs = 20
	batteryScanNaPerMs = 80
)

// pump is the Simulator's NodePump: the stack watchdog, battery
// accounting, the event-queue drain driving the clustering/mesh-access
// handshakes and application routing, the periodic time-sync and
// enrolled-nodes rounds, the coalesced cluster-info flush, and the
// connection timer checks, in that fixed order.
func (e *Engine) pump(n *node.Node, s *sim.Simulator) sim.PumpOutcome {
	if n.State.AdvertisingIntervalMs == 0 {
		// Fresh boot (init or post-reset wipe): reconfigure the radio.
		e.armRadio(n)
	}

	if n.SimulatedFrames > n.StackWatermark {
		e.log.Warn("node reset", zap.Uint16("node", n.ID),
			zap.Error(simerr.New(simerr.KindStackOverflow, n.ID, 0, nil)))
		e.disconnectAllConnections(n)
		return sim.PumpReset
	}

	e.accountBattery(n)

	for _, ev := range n.EventQueue.Drain() {
		e.handleEvent(n, ev)
	}

	e.ensurePendingMeshAccess(n)
	e.runPeriodic(n)
	e.flushClusterInfoUpdates(n)
	e.checkConnectionTimers(n)

	return sim.PumpContinue
}

// accountBattery adds this tick's deterministic current draw: idle base,
// advertising scaled by interval, a fixed cost per live connection, and
// scanning scaled by its duty cycle.
func (e *Engine) accountBattery(n *node.Node) {
	draw := uint64(batteryIdleNaPerMs)
	if n.State.AdvertisingIntervalMs > 0 {
		draw += batteryAdvNaPerMs * 100 / uint64(n.State.AdvertisingIntervalMs)
	}
	for _, slot := range n.State.ConnectionSlots {
		if slot.Active {
			draw += batteryConnNaPerMs
		}
	}
	if n.State.ScanIntervalMs > 0 {
		draw += batteryScanNaPerMs * uint64(n.State.ScanWindowMs) / uint64(n.State.ScanIntervalMs)
	}
	n.NanoAmperePerMsTotal += draw * uint64(e.Cfg.Sim.SimTickDurationMs)
}

// runPeriodic fires the interval-driven mesh housekeeping on each
// handshake-complete mesh connection: time-sync initiation (central side,
// still Unsynced) and the enrolled-nodes-count gossip. The due flags are
// computed once per tick in preTick so every node sees the same boundary.
func (e *Engine) runPeriodic(n *node.Node) {
	if !e.timeSyncDue && !e.gossipDue {
		return
	}
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		c := e.Pool.Resolve(&h)
		if c == nil || c.Kind != conn.KindMesh || c.State != conn.StateHandshakeDone {
			continue
		}
		if e.timeSyncDue && c.Mesh.TimeSyncState == conn.TimeSyncUnsynced && isCentral(n, c.ConnectionHandle) {
			e.sendTimeSyncInitial(c)
		}
		if e.gossipDue && !c.Mesh.EnrolledNodesSynced {
			e.enqueueControl(c, meshproto.EncodeEnrolledNodesSync(uint16(len(e.Nodes.Nodes))))
		}
	}
}

// checkConnectionTimers enforces the handshake and reestablishment
// deadlines on the node's own connections. Handles are collected first
// because a timeout disconnect mutates the slot table mid-iteration.
func (e *Engine) checkConnectionTimers(n *node.Node) {
	nowDs := e.nowDs()

	handles := make([]uint16, 0, len(n.State.ConnectionSlots))
	for _, slot := range n.State.ConnectionSlots {
		if slot.Active {
			handles = append(handles, slot.ConnectionHandle)
		}
	}

	for _, handle := range handles {
		c := e.localConnection(n, handle)
		if c == nil {
			continue
		}
		switch {
		case c.State == conn.StateHandshaking && c.HandshakeStartedDs > 0 && nowDs-c.HandshakeStartedDs > meshHandshakeTimeoutDs:
			e.log.Debug("handshake timeout", zap.Uint16("node", n.ID),
				zap.Error(simerr.New(simerr.KindHandshakeTimeout, n.ID, c.PartnerID, nil)))
			e.disconnectBothSides(n, handle, reasonHandshakeRejected)

		case c.Kind == conn.KindMesh && c.State == conn.StateReestablishing:
			if err := mesh.CheckReestablishmentTimeout(c.Mesh, nowDs, e.Cfg.Mesh.MeshExtendedConnectionTimeoutSec, n.ID, c.PartnerID); err != nil {
				e.log.Debug("reestablishment timeout", zap.Uint16("node", n.ID), zap.Error(err))
				e.disconnectBothSides(n, handle, mesh.ReasonConnectionTimeout)
			}
		}
	}
}

// disconnectAllConnections tears down every live connection the node owns,
// the required prelude to a node reset.
func (e *Engine) disconnectAllConnections(n *node.Node) {
	for _, slot := range n.State.ConnectionSlots {
		if slot.Active {
			e.disconnectBothSides(n, slot.ConnectionHandle, mesh.ReasonLocalHostTerminated)
		}
	}
}

func (e *Engine) handleEvent(n *node.Node, ev events.Event) {
	switch ev.Type {
	case events.AdvReport:
		e.handleAdvReport(n, ev)
	case events.Connected:
		e.handleConnected(n, ev)
	case events.Disconnected:
		e.handleDisconnected(n, ev)
	case events.Write:
		e.handleIncoming(n, ev, false)
	case events.HVX:
		e.handleIncoming(n, ev, false)
	case events.WriteRsp:
		// Bookkeeping only: the reliable packet the local side sent was
		// acknowledged. SentReliable/SentUnreliable already updated by
		// drainConnection at send time.
	case events.TxComplete:
	case events.Timeout:
		e.log.Debug("connecting timeout", zap.Uint16("node", n.ID))
	case events.RssiChanged:
	}
}

// handleAdvReport is the autonomous connection-formation policy: a
// scanning node that hears an advertisement from a node it isn't already
// connected or connecting to, and isn't blocked from connecting, starts a
// connection attempt toward it. This is the engine's own policy decision
// (the spec leaves "when to connect" to the application layer above the
// softdevice), grounded in the teacher's always-on relay behavior.
func (e *Engine) handleAdvReport(n *node.Node, ev events.Event) {
	if e.blockConnections || n.State.ConnectingActive {
		return
	}
	sender := e.Nodes.ByAddress(node.Address{Type: node.RandomStatic, Addr: ev.PeerAddress})
	if sender == nil || sender.ID == n.ID {
		return
	}
	if e.hasConnectionTo(n, sender.ID) {
		return
	}
	if n.FreeMeshOut <= 0 {
		return
	}

	n.State.ConnectingActive = true
	n.State.ConnectingPartnerAddr = sender.Address
	n.State.ConnectingTimeoutMs = e.Sim.SimTimeMs + connectingTimeoutMs
}

// hasConnectionTo reports whether n already has a live connection (of any
// kind or direction) to partnerID.
func (e *Engine) hasConnectionTo(n *node.Node, partnerID uint16) bool {
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		if c := e.Pool.Resolve(&h); c != nil && c.PartnerID == partnerID {
			return true
		}
	}
	return false
}

// handleConnected reacts to a fresh GAP link. The GAP central always
// speaks first, so it alone decides (and sends) the connection's kind:
// a mesh-access tunnel if this central had one pending for the peer
// address, else a plain mesh connection. The peripheral's own record
// stays KindResolver until the first Write event lets it peek the tag.
func (e *Engine) handleConnected(n *node.Node, ev events.Event) {
	c := e.localConnection(n, ev.ConnectionHandle)
	if c == nil {
		return
	}
	c.HandshakeStartedDs = e.nowDs()

	partner := e.Nodes.ByAddress(node.Address{Type: node.RandomStatic, Addr: ev.PeerAddress})
	var partnerID uint16
	if partner != nil {
		partnerID = partner.ID
	}

	e.sink.Emit("sim_connect", zap.Uint16("nodeId", n.ID), zap.Uint16("partnerId", partnerID),
		zap.Uint16("globalConnectionHandle", ev.ConnectionHandle), zap.Int32("rssi", c.LastReportedRSSI), zap.Uint64("timeMs", e.Sim.SimTimeMs))
	if e.telemetry != nil {
		_ = e.telemetry.PublishConnect(n.ID, partnerID, ev.ConnectionHandle, c.LastReportedRSSI, e.Sim.SimTimeMs)
	}

	if !isCentral(n, ev.ConnectionHandle) {
		return
	}

	if pending, ok := e.pendingMeshAccess[n.ID]; ok && pending.partnerAddr.Equal(node.Address{Type: node.RandomStatic, Addr: ev.PeerAddress}) {
		delete(e.pendingMeshAccess, n.ID)
		e.startMeshAccessHandshake(n, c, pending)
		return
	}

	c.PromoteToMesh()
	cs := e.meta[n.ID].cluster
	welcome := mesh.SendWelcome(cs, c.ConnectionHandle, -1, 0, n.ID)
	e.enqueueControl(c, meshproto.EncodeWelcome(welcome))
	c.State = conn.StateHandshaking
}

// handleDisconnected does the bookkeeping a Disconnected event affords:
// linklayer.DisconnectConnection has already torn down both pool slots
// before pushing this event, so no connection-specific state (cluster id,
// mesh-access key material) survives to inspect here. Reestablishment is
// therefore only modeled for connections the engine itself drives through
// Reestablish (which rolls back the queue before the gap disconnect), not
// recovered automatically from a bare Disconnected event; see DESIGN.md.
func (e *Engine) handleDisconnected(n *node.Node, ev events.Event) {
	e.sink.Emit("sim_disconnect", zap.Uint16("nodeId", n.ID), zap.Uint8("reason", ev.Reason), zap.Uint64("timeMs", e.Sim.SimTimeMs))
	if e.telemetry != nil {
		_ = e.telemetry.PublishDisconnect(n.ID, 0, ev.ConnectionHandle, ev.Reason, e.Sim.SimTimeMs)
	}
	delete(e.pendingMeshAccess, n.ID)
}

// handleIncoming dispatches a received WRITE/HVX payload according to the
// owning connection's (possibly still-unresolved) kind.
func (e *Engine) handleIncoming(n *node.Node, ev events.Event, _ bool) {
	c := e.localConnection(n, ev.ConnectionHandle)
	if c == nil || len(ev.Payload) == 0 {
		return
	}

	if c.Kind == conn.KindResolver {
		e.resolveConnectionKind(n, c, ev)
		return
	}

	switch c.Kind {
	case conn.KindMesh:
		e.handleMeshMessage(n, c, ev.Payload)
	case conn.KindMeshAccess:
		e.handleMeshAccessMessage(n, c, ev.Payload)
	}
}

// resolveConnectionKind is the peripheral's one-time resolver chain: peek
// the first message's tag and promote the connection to the matching kind
// before handling it for real.
func (e *Engine) resolveConnectionKind(n *node.Node, c *conn.Connection, ev events.Event) {
	tag, err := meshproto.PeekTag(ev.Payload)
	if err != nil {
		return
	}
	switch tag {
	case meshproto.TagMAStart:
		c.PromoteToMeshAccess()
		e.handleMeshAccessMessage(n, c, ev.Payload)
	default:
		c.PromoteToMesh()
		e.handleMeshMessage(n, c, ev.Payload)
	}
}

// outgoingMeshConnections gathers every handshake-complete mesh connection
// owned by n (other than the one a message arrived on, if any), the set
// RouteMessage chooses among.
func (e *Engine) outgoingMeshConnections(n *node.Node, arrivedOn *conn.Connection) []linklayer.OutgoingConnection {
	out := make([]linklayer.OutgoingConnection, 0, len(n.State.ConnectionSlots))
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		c := e.Pool.Resolve(&h)
		if c == nil || c.Kind != conn.KindMesh || c.State != conn.StateHandshakeDone {
			continue
		}
		if arrivedOn != nil && c == arrivedOn {
			continue
		}
		out = append(out, linklayer.OutgoingConnection{Conn: c})
	}
	return out
}

// disconnectBothSides tears down the GAP link a Connection belongs to,
// resolving which side is the central so linklayer's master/slave-shaped
// DisconnectConnection signature can be satisfied from either side.
func (e *Engine) disconnectBothSides(n *node.Node, handle uint16, reason uint8) {
	partnerID := uint16(0)
	wasHandshakedMesh := false
	if c := e.localConnection(n, handle); c != nil {
		partnerID = c.PartnerID
		wasHandshakedMesh = c.Kind == conn.KindMesh && c.State == conn.StateHandshakeDone
	}
	partner := e.Nodes.ByID(partnerID)
	if partner == nil {
		return
	}
	if wasHandshakedMesh {
		e.sink.Emit("mesh_disconnect", zap.Uint16("partnerId", partnerID))
		if e.telemetry != nil {
			_ = e.telemetry.PublishMeshDisconnect(partnerID)
		}
	}
	if isCentral(n, handle) {
		linklayer.DisconnectConnection(n, partner, e.Pool, handle, reason, reason)
	} else {
		linklayer.DisconnectConnection(partner, n, e.Pool, handle, reason, reason)
	}
}

// deliverAppData is the local-dispatch side of routed application traffic:
// emits the sim_data event and records the send. There is no application
// module above the mesh layer in this simulator (the spec's application
// modules are an external collaborator, see Non-goals), so "dispatch
// locally" means counting and reporting the arrival.
func (e *Engine) deliverAppData(n *node.Node, a meshproto.AppData, reliable bool) {
	e.meta[n.ID].routed++
	dataHex := hex.EncodeToString(a.Payload)
	e.sink.Emit("sim_data", zap.Uint16("nodeId", n.ID), zap.Uint16("partnerId", a.SenderID),
		zap.Bool("reliable", reliable), zap.Uint64("timeMs", e.Sim.SimTimeMs), zap.String("data", dataHex))
	if e.telemetry != nil {
		_ = e.telemetry.PublishData(n.ID, a.SenderID, reliable, e.Sim.SimTimeMs, dataHex)
	}
}

// SendAppData queues an application message from senderID to receiverID
// (any address-space destination §4.7 recognizes: unicast, broadcast,
// hops-range, shortest-sink, or anycast-then-broadcast), routed onto the
// sender's own handshake-complete mesh connections. It is not part of the
// terminal Controller surface; it is the programmatic entry point a test
// harness or an embedding application uses to inject traffic.
func (e *Engine) SendAppData(senderID, receiverID uint16, payload []byte) error {
	sender := e.Nodes.ByID(senderID)
	if sender == nil {
		return errNodeNotFound(senderID)
	}
	a := meshproto.AppData{SenderID: senderID, ReceiverID: receiverID, Payload: payload}
	meshConns := e.outgoingMeshConnections(sender, nil)
	outs, rewritten, local := linklayer.RouteMessage(routing.NodeId(receiverID), nil, meshConns)
	a.ReceiverID = uint16(rewritten)
	for _, out := range outs {
		e.enqueueData(out, meshproto.EncodeAppData(a))
	}
	e.meta[senderID].sent++
	if local {
		e.deliverAppData(sender, a, false)
	}
	return nil
}
