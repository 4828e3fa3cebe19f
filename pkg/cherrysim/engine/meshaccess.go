package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess/crypto"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshproto"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
)

// reasonMeshAccessFailure is the engine's bookkeeping disconnect reason for
// a mesh-access tunnel torn down by key rejection, handshake MIC failure,
// or corrupted-message exhaustion.
const reasonMeshAccessFailure uint8 = 0x3F

// splitChunkDataSize is how many plaintext bytes fit in one encrypted split
// chunk: one AES block minus the split framing (tag + chunk index).
const splitChunkDataSize = 14

// ConnectMeshAccess starts an encrypted mesh-access tunnel from nodeID
// toward the node advertising partnerAddr, using the long-term key selected
// by fmKeyID and the requested tunnel type. The GAP link forms over the
// normal advertising/connecting path; once the Connected event arrives the
// pending record below promotes the fresh connection to MeshAccess and the
// central begins the handshake.
func (e *Engine) ConnectMeshAccess(nodeID uint16, partnerAddr node.Address, fmKeyID meshaccess.FmKeyID, tunnelType conn.TunnelType) error {
	n := e.Nodes.ByID(nodeID)
	if n == nil {
		return errNodeNotFound(nodeID)
	}
	if n.State.ConnectingActive {
		return fmt.Errorf("meshaccess: node %d already has a connection attempt in progress", nodeID)
	}

	e.pendingMeshAccess[nodeID] = pendingMeshAccess{
		partnerAddr: partnerAddr,
		fmKeyID:     fmKeyID,
		tunnelType:  tunnelType,
	}
	n.State.ConnectingActive = true
	n.State.ConnectingPartnerAddr = partnerAddr
	n.State.ConnectingTimeoutMs = e.Sim.SimTimeMs + connectingTimeoutMs
	return nil
}

// ensurePendingMeshAccess re-arms a pending tunnel's GAP connection
// attempt: another link forming (the partner connecting to us first, or a
// connecting timeout) clears ConnectingActive without consuming the
// pending record, so the intent would otherwise be lost. Runs after the
// event drain so a Connected event that just consumed the record doesn't
// get re-armed into a duplicate link.
func (e *Engine) ensurePendingMeshAccess(n *node.Node) {
	pending, ok := e.pendingMeshAccess[n.ID]
	if !ok || n.State.ConnectingActive {
		return
	}
	n.State.ConnectingActive = true
	n.State.ConnectingPartnerAddr = pending.partnerAddr
	n.State.ConnectingTimeoutMs = e.Sim.SimTimeMs + connectingTimeoutMs
}

// startMeshAccessHandshake is the central's first move once the GAP link is
// up and the MTU exchange settled: promote the connection, assign the
// per-slot virtual partner id, and send ENCRYPT_CUSTOM_START.
func (e *Engine) startMeshAccessHandshake(n *node.Node, c *conn.Connection, pending pendingMeshAccess) {
	mv := c.PromoteToMeshAccess()
	mv.FmKeyID = uint8(pending.fmKeyID)
	mv.TunnelType = pending.tunnelType
	mv.VirtualPartnerID = meshaccess.AssignVirtualPartnerID(n.ID, c.ConnectionID, nil)
	c.State = conn.StateHandshaking

	e.enqueueControl(c, meshproto.EncodeMAStart(meshaccess.Start{
		Version:    1,
		FmKeyID:    pending.fmKeyID,
		TunnelType: pending.tunnelType,
	}))
}

// handleMeshAccessMessage dispatches one message arriving on a KindMeshAccess
// connection: the plaintext handshake openers (START, ANONCE), the encrypted
// envelope everything after the central's key switch travels in, and the
// DEAD_DATA recovery signal.
func (e *Engine) handleMeshAccessMessage(n *node.Node, c *conn.Connection, payload []byte) {
	mv := c.MeshAccess
	if mv == nil {
		mv = c.PromoteToMeshAccess()
	}

	tag, err := meshproto.PeekTag(payload)
	if err != nil {
		return
	}

	switch tag {
	case meshproto.TagMAStart:
		e.handleMAStart(n, c, mv, payload)
	case meshproto.TagMAAnonce:
		e.handleMAAnonce(n, c, mv, payload)
	case meshproto.TagMAEncrypted:
		e.handleMAEncrypted(n, c, mv, payload)
	case meshproto.TagMADeadData:
		e.handleMADeadData(n, c, mv)
	}
}

func (e *Engine) handleMAStart(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant, payload []byte) {
	start, err := meshproto.DecodeMAStart(payload)
	if err != nil {
		return
	}
	if c.State == conn.StateHandshakeDone && !mv.AllowCorruptedEncryptionStart {
		return
	}

	aNonce := [2]uint32{e.Sim.RNG.Uint32(), e.Sim.RNG.Uint32()}
	anonce, err := meshaccess.HandleStart(mv, e.meta[n.ID].keys, start, c.PartnerID, aNonce, true)
	if err != nil {
		e.log.Debug("mesh-access start rejected", zap.Uint16("node", n.ID), zap.Error(err))
		e.disconnectBothSides(n, c.ConnectionHandle, reasonMeshAccessFailure)
		return
	}
	mv.VirtualPartnerID = meshaccess.AssignVirtualPartnerID(n.ID, c.ConnectionID, nil)
	mv.AllowCorruptedEncryptionStart = false
	c.State = conn.StateHandshaking
	c.HandshakeStartedDs = e.nowDs()

	e.enqueueControl(c, meshproto.EncodeMAAnonce(anonce))
}

func (e *Engine) handleMAAnonce(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant, payload []byte) {
	anonce, err := meshproto.DecodeMAAnonce(payload)
	if err != nil {
		return
	}
	if c.State != conn.StateHandshaking {
		return
	}

	sNonce := [2]uint32{e.Sim.RNG.Uint32(), e.Sim.RNG.Uint32()}
	snonce, err := meshaccess.HandleAnonce(mv, c, e.meta[n.ID].keys, meshaccess.FmKeyID(mv.FmKeyID), n.ID, anonce, sNonce, true)
	if err != nil {
		e.log.Debug("mesh-access anonce rejected", zap.Uint16("node", n.ID), zap.Error(err))
		e.disconnectBothSides(n, c.ConnectionHandle, reasonMeshAccessFailure)
		return
	}

	// From here on the central's traffic is encrypted; the SNONCE itself is
	// the first packet carried in an envelope.
	e.sendEncrypted(c, mv, meshproto.EncodeMASnonce(snonce))
}

func (e *Engine) handleMAEncrypted(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant, payload []byte) {
	env, err := meshproto.DecodeEncrypted(payload)
	if err != nil {
		return
	}

	plain, ok, err := crypto.Decrypt(mv.SessionDecryptionKey, mv.DecryptionNonce, env.Ciphertext, env.MIC)
	if err != nil {
		e.log.Warn("mesh-access decrypt error", zap.Uint16("node", n.ID), zap.Error(err))
		return
	}
	if !ok {
		e.handleMICFailure(n, c, mv)
		return
	}
	crypto.AdvanceAfterQueue(&mv.DecryptionNonce)

	e.handleDecrypted(n, c, mv, plain)
}

// handleMICFailure applies the corrupted-message policy for one failed
// envelope: during the handshake itself a MIC failure is fatal; after it,
// both sides fall back to a 10-second unencrypted re-handshake window and a
// DEAD_DATA marker is sent, until the lifetime cap disconnects the tunnel.
func (e *Engine) handleMICFailure(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant) {
	if c.State == conn.StateHandshaking {
		e.log.Debug("mesh-access handshake MIC failure", zap.Uint16("node", n.ID),
			zap.Error(meshaccess.InvalidHandshakePacket(n.ID, c.PartnerID)))
		e.disconnectBothSides(n, c.ConnectionHandle, reasonMeshAccessFailure)
		return
	}

	sendDeadData, err := meshaccess.HandleMICFailure(c, mv, e.nowDs(), n.ID, c.PartnerID)
	if err != nil {
		e.log.Debug("mesh-access corrupted-message cap reached", zap.Uint16("node", n.ID), zap.Error(err))
		e.disconnectBothSides(n, c.ConnectionHandle, reasonMeshAccessFailure)
		return
	}
	if sendDeadData {
		e.enqueueControl(c, meshproto.EncodeMADeadData())
	}
}

// handleMADeadData is the partner-detected-corruption signal: drop back to
// the unencrypted recovery state and, on the central, immediately reopen
// the handshake window with a fresh START.
func (e *Engine) handleMADeadData(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant) {
	c.State = conn.StateConnected
	c.EncryptionState = conn.EncryptionNotEncrypted
	mv.AllowCorruptedEncryptionStart = true
	c.HandshakeStartedDs = e.nowDs()

	if isCentral(n, c.ConnectionHandle) {
		c.State = conn.StateHandshaking
		e.enqueueControl(c, meshproto.EncodeMAStart(meshaccess.Start{
			Version:    1,
			FmKeyID:    meshaccess.FmKeyID(mv.FmKeyID),
			TunnelType: mv.TunnelType,
		}))
	}
}

// handleDecrypted dispatches a successfully decrypted envelope body: the
// remaining handshake messages (SNONCE on the peripheral, DONE on the
// central), split-chunk reassembly, or tunneled application data.
func (e *Engine) handleDecrypted(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant, plain []byte) {
	tag, err := meshproto.PeekTag(plain)
	if err != nil {
		return
	}

	switch tag {
	case meshproto.TagMASnonce:
		snonce, err := meshproto.DecodeMASnonce(plain)
		if err != nil {
			return
		}
		status, err := meshaccess.HandleSnonce(mv, e.meta[n.ID].keys, meshaccess.FmKeyID(mv.FmKeyID), c.PartnerID, snonce, true)
		if err != nil {
			e.log.Debug("mesh-access snonce rejected", zap.Uint16("node", n.ID), zap.Error(err))
			e.disconnectBothSides(n, c.ConnectionHandle, reasonMeshAccessFailure)
			return
		}
		e.sendEncrypted(c, mv, meshproto.EncodeMADone(status))
		if status == meshaccess.DoneSuccess {
			meshaccess.CompleteHandshake(c)
		}

	case meshproto.TagMADone:
		status, err := meshproto.DecodeMADone(plain)
		if err != nil {
			return
		}
		if status != meshaccess.DoneSuccess {
			e.disconnectBothSides(n, c.ConnectionHandle, reasonMeshAccessFailure)
			return
		}
		meshaccess.CompleteHandshake(c)

	case meshproto.TagSplit, meshproto.TagSplitEnd:
		index, data, err := meshproto.DecodeSplitChunk(plain)
		if err != nil {
			return
		}
		msg, complete := reassembleSplit(c, index, data, tag == meshproto.TagSplitEnd)
		if complete {
			e.handleDecrypted(n, c, mv, msg)
		}

	case meshproto.TagAppData:
		e.handleTunneledAppData(n, c, mv, plain)
	}
}

// reassembleSplit accumulates one decrypted split chunk in the connection's
// reassembly buffer, returning the whole message when the terminating chunk
// arrives. A continuation whose first chunk was lost drops the message.
func reassembleSplit(c *conn.Connection, index uint8, data []byte, isEnd bool) (msg []byte, complete bool) {
	if index == 0 {
		c.ReassemblyBuffer = append([]byte(nil), data...)
	} else if c.ReassemblyBuffer != nil {
		c.ReassemblyBuffer = append(c.ReassemblyBuffer, data...)
	} else {
		return nil, false
	}
	if !isEnd {
		return nil, false
	}
	out := c.ReassemblyBuffer
	c.ReassemblyBuffer = nil
	return out, true
}

// handleTunneledAppData applies the receive-side gates of §4.6 to one
// decrypted application message: sender rewrite to the virtual partner id,
// per-module authorization, local dispatch, and (LocalMesh tunnels only)
// relay into the local mesh.
func (e *Engine) handleTunneledAppData(n *node.Node, c *conn.Connection, mv *conn.MeshAccessVariant, plain []byte) {
	a, err := meshproto.DecodeAppData(plain)
	if err != nil {
		return
	}
	a.SenderID = meshaccess.RewriteIncoming(a.SenderID, c.PartnerID, mv.VirtualPartnerID, false)

	verdict := meshaccess.AuthWhitelist
	if e.authorize != nil {
		verdict = e.authorize(a)
	}
	dispatchLocally, mayRelay := meshaccess.Admit(verdict, false)
	if !dispatchLocally {
		return
	}

	e.deliverAppData(n, a, false)

	if mayRelay && mv.TunnelType == conn.TunnelLocalMesh {
		for _, out := range e.outgoingMeshConnections(n, c) {
			e.enqueueData(out.Conn, meshproto.EncodeAppData(a))
		}
	}
}

// sendEncrypted encrypts one logical message for the tunnel and enqueues the
// resulting envelope(s). Messages over one AES block are split first (split
// then encrypt, so each chunk carries its own MIC), per the one-block-per-
// call contract of the cipher layer.
func (e *Engine) sendEncrypted(c *conn.Connection, mv *conn.MeshAccessVariant, plaintext []byte) {
	if len(plaintext) <= 16 {
		e.sendEnvelope(c, mv, plaintext)
		return
	}

	var index uint8
	for off := 0; off < len(plaintext); off += splitChunkDataSize {
		end := off + splitChunkDataSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		isLast := end == len(plaintext)
		e.sendEnvelope(c, mv, meshproto.EncodeSplitChunk(index, isLast, plaintext[off:end]))
		index++
	}
}

func (e *Engine) sendEnvelope(c *conn.Connection, mv *conn.MeshAccessVariant, plaintext []byte) {
	ciphertext, mic, err := crypto.Encrypt(mv.SessionEncryptionKey, mv.EncryptionNonce, plaintext)
	if err != nil {
		e.log.Warn("mesh-access encrypt failed", zap.Error(err))
		return
	}
	crypto.AdvanceAfterQueue(&mv.EncryptionNonce)
	e.enqueueControl(c, meshproto.EncodeEncrypted(meshproto.EncryptedEnvelope{
		Ciphertext: ciphertext,
		MIC:        mic,
	}))
}

// SendMeshAccessData sends an application message from nodeID through its
// handshake-complete mesh-access tunnels toward destination, applying the
// routing gate and the virtual-partner-id rewrite on the way out. It is the
// programmatic counterpart of SendAppData for tunnel traffic.
func (e *Engine) SendMeshAccessData(nodeID, destination uint16, payload []byte) error {
	n := e.Nodes.ByID(nodeID)
	if n == nil {
		return errNodeNotFound(nodeID)
	}

	sent := false
	for _, slot := range n.State.ConnectionSlots {
		if !slot.Active {
			continue
		}
		h := conn.NewHandle(slot.UniqueConnectionID)
		c := e.Pool.Resolve(&h)
		if c == nil || c.Kind != conn.KindMeshAccess || c.State != conn.StateHandshakeDone {
			continue
		}
		mv := c.MeshAccess

		outgoingNetworkKeyRemoteMesh := c.Direction == conn.DirectionOut &&
			meshaccess.FmKeyID(mv.FmKeyID) == meshaccess.FmKeyNetwork &&
			mv.TunnelType == conn.TunnelRemoteMesh
		if !meshaccess.RoutingGate(destination, mv.VirtualPartnerID, e.assetIDs[nodeID], outgoingNetworkKeyRemoteMesh) {
			continue
		}

		a := meshproto.AppData{
			SenderID:   nodeID,
			ReceiverID: meshaccess.RewriteOutgoing(destination, mv.VirtualPartnerID, c.PartnerID),
			Payload:    payload,
		}
		e.sendEncrypted(c, mv, meshproto.EncodeAppData(a))
		sent = true
	}

	if sent {
		e.meta[nodeID].sent++
	}
	return nil
}
