package meshaccess

import (
	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess/crypto"
)

// dualTunnelType maps a requested tunnel type to the type the peripheral
// adopts for its own side: PeerToPeer stays PeerToPeer; LocalMesh and
// RemoteMesh swap (the peripheral tunnels the central's local traffic as
// its own remote-mesh traffic and vice versa).
func dualTunnelType(t conn.TunnelType) conn.TunnelType {
	switch t {
	case conn.TunnelLocalMesh:
		return conn.TunnelRemoteMesh
	case conn.TunnelRemoteMesh:
		return conn.TunnelLocalMesh
	default:
		return conn.TunnelPeerToPeer
	}
}

// Start is ENCRYPT_CUSTOM_START's payload, sent central-to-peripheral
// after MTU upgrade to begin the handshake.
type Start struct {
	Version    uint8
	FmKeyID    FmKeyID
	TunnelType conn.TunnelType
}

// Anonce is ENCRYPT_CUSTOM_ANONCE's payload.
type Anonce struct {
	ANonce [2]uint32
}

// Snonce is ENCRYPT_CUSTOM_SNONCE's payload (transmitted encrypted+MIC'd
// once the central has already switched to Encrypted).
type Snonce struct {
	SNonce [2]uint32
}

// DoneStatus is ENCRYPT_CUSTOM_DONE's status code.
type DoneStatus uint8

const (
	DoneSuccess DoneStatus = iota
	DoneFailure
)

// HandleStart is the peripheral's reaction to ENCRYPT_CUSTOM_START: it
// validates fmKeyId, adopts the dual tunnel type, generates aNonce
// (supplied by the caller's RNG), derives its session decryption key, and
// returns the Anonce to send back.
func HandleStart(mv *conn.MeshAccessVariant, keys KeyRing, start Start, centralNodeID uint16, aNonce [2]uint32, zeroAllowed bool) (Anonce, error) {
	longTermKey, err := keys.LongTermKey(start.FmKeyID, zeroAllowed)
	if err != nil {
		return Anonce{}, simerr.Raise(simerr.KindInvalidKey, 0, 0, err)
	}
	mv.FmKeyID = uint8(start.FmKeyID)
	mv.TunnelType = dualTunnelType(start.TunnelType)
	mv.DecryptionNonce = aNonce

	sessionDecryptionKey, err := crypto.DeriveSessionKey(longTermKey, centralNodeID, aNonce)
	if err != nil {
		return Anonce{}, err
	}
	mv.SessionDecryptionKey = sessionDecryptionKey

	return Anonce{ANonce: aNonce}, nil
}

// HandleAnonce is the central's reaction to ENCRYPT_CUSTOM_ANONCE: it
// adopts aNonce as its encryption nonce, generates sNonce (supplied by the
// caller's RNG), derives both session keys, and moves the connection to
// EncryptionEncrypting so the Snonce message itself goes out encrypted
// (CompleteHandshake later moves it to EncryptionEncrypted). Both session
// keys are derived from the central's own node id, matching the firmware
// (both sides of a handshake always key off the central's id, never the
// peripheral's), so the caller must pass its own id here, not the
// partner's.
func HandleAnonce(mv *conn.MeshAccessVariant, c *conn.Connection, keys KeyRing, fmKeyID FmKeyID, centralNodeID uint16, anonce Anonce, sNonce [2]uint32, zeroAllowed bool) (Snonce, error) {
	longTermKey, err := keys.LongTermKey(fmKeyID, zeroAllowed)
	if err != nil {
		return Snonce{}, simerr.Raise(simerr.KindInvalidKey, 0, 0, err)
	}
	mv.EncryptionNonce = anonce.ANonce
	mv.DecryptionNonce = sNonce

	sessionEncryptionKey, err := crypto.DeriveSessionKey(longTermKey, centralNodeID, anonce.ANonce)
	if err != nil {
		return Snonce{}, err
	}
	sessionDecryptionKey, err := crypto.DeriveSessionKey(longTermKey, centralNodeID, sNonce)
	if err != nil {
		return Snonce{}, err
	}
	mv.SessionEncryptionKey = sessionEncryptionKey
	mv.SessionDecryptionKey = sessionDecryptionKey
	c.EncryptionState = conn.EncryptionEncrypting

	return Snonce{SNonce: sNonce}, nil
}

// HandleSnonce is the peripheral's reaction to the (decrypted)
// ENCRYPT_CUSTOM_SNONCE: a MIC failure here is reported by the caller
// (who attempted the decryption) as KindInvalidHandshakePkt before ever
// calling this function; on success it adopts sNonce as its own
// encryption nonce, derives its session encryption key, and returns the
// DONE status to send. Like HandleStart and HandleAnonce, the key
// derivation is keyed off the central's node id, not the peripheral's own.
func HandleSnonce(mv *conn.MeshAccessVariant, keys KeyRing, fmKeyID FmKeyID, centralNodeID uint16, snonce Snonce, zeroAllowed bool) (DoneStatus, error) {
	longTermKey, err := keys.LongTermKey(fmKeyID, zeroAllowed)
	if err != nil {
		return DoneFailure, simerr.Raise(simerr.KindInvalidKey, 0, 0, err)
	}
	mv.EncryptionNonce = snonce.SNonce

	sessionEncryptionKey, err := crypto.DeriveSessionKey(longTermKey, centralNodeID, snonce.SNonce)
	if err != nil {
		return DoneFailure, err
	}
	mv.SessionEncryptionKey = sessionEncryptionKey
	return DoneSuccess, nil
}

// CompleteHandshake is run by both sides once DONE is exchanged: state
// moves to HandshakeDone and the usable payload size shrinks by the MIC
// size.
func CompleteHandshake(c *conn.Connection) {
	c.State = conn.StateHandshakeDone
	if c.ConnectionPayloadSize > crypto.MICSize {
		c.ConnectionPayloadSize -= crypto.MICSize
	}
	c.EncryptionState = conn.EncryptionEncrypted
}

// InvalidHandshakePacket is raised when a MIC check fails during the
// handshake itself (as opposed to post-handshake corrupted-message
// recovery, which is a distinct tolerated condition).
func InvalidHandshakePacket(nodeID, partnerID uint16) error {
	return simerr.Raise(simerr.KindInvalidHandshakePkt, nodeID, partnerID, nil)
}
