package meshaccess

import (
	"github.com/fruitymesh/cherrysim-go/internal/simerr"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/conn"
)

// MaxCorruptedMessages is MAX_CORRUPTED_MESSAGES: the total number of MIC
// failures a handshaked MeshAccessConnection tolerates across its whole
// lifetime before it is disconnected outright.
const MaxCorruptedMessages = 32

// DeadDataMagic is the fixed 8-byte payload sent as a DEAD_DATA message on
// every MIC failure once the connection has fallen back to an
// unencrypted, corrupted-recovery state.
var DeadDataMagic = [8]byte{0xDE, 0xAD, 0xDA, 0xDA, 0x00, 0xFF, 0x77, 0x33}

// CorruptedMessageWindowDs is the 10-second handshake window restarted
// after each corrupted-message recovery.
const CorruptedMessageWindowDs = 100

// HandleMICFailure implements the corrupted-message policy: on the first
// failure (and every subsequent one short of the cap) it drops back to an
// unencrypted, recovery-tolerant state and signals the caller to send
// DEAD_DATA; once the lifetime failure count exceeds MaxCorruptedMessages
// it instead raises a disconnect.
func HandleMICFailure(c *conn.Connection, mv *conn.MeshAccessVariant, nowDs uint32, nodeID, partnerID uint16) (sendDeadData bool, err error) {
	mv.AmountOfCorruptedMessages++
	if mv.AmountOfCorruptedMessages > MaxCorruptedMessages {
		return false, simerr.Raise(simerr.KindInvalidPacket, nodeID, partnerID, nil)
	}

	c.State = conn.StateConnected
	c.EncryptionState = conn.EncryptionNotEncrypted
	mv.AllowCorruptedEncryptionStart = true
	c.HandshakeStartedDs = nowDs
	return true, nil
}
