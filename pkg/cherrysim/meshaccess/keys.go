// Package meshaccess implements the encrypted mesh-access tunnel: the
// three-step handshake, long-term key selection, virtual-partner-id
// addressing, corrupted-message recovery, and the authorization/routing
// gate that decides which packets may cross the tunnel.
package meshaccess

import (
	"bytes"
	"fmt"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/meshaccess/crypto"
)

// FmKeyID selects which long-term key a mesh-access handshake derives
// session keys from.
type FmKeyID uint8

const (
	FmKeyZero FmKeyID = iota
	FmKeyNode
	FmKeyNetwork
	FmKeyOrganization
	FmKeyRestrained
	// UserDerivedStart..UserDerivedEnd is a reserved range; any FmKeyID in
	// it selects AES128(fmKeyId || 0-pad, userBaseKey) as the long-term
	// key rather than a fixed slot.
	FmKeyUserDerivedStart FmKeyID = 8
	FmKeyUserDerivedEnd   FmKeyID = 15
)

// allFF is the unprogrammed-flash sentinel: a long-term key of all 0xFF
// bytes is always rejected.
var allFF = bytes.Repeat([]byte{0xFF}, 16)

// KeyRing holds the per-node persistent key material the long-term key
// selection draws from.
type KeyRing struct {
	NodeKey         [16]byte
	NetworkKey      [16]byte
	OrganizationKey [16]byte
	RestrainedKey   [16]byte
	UserBaseKey     [16]byte
}

// LongTermKey resolves fmKeyId against the key ring, returning an error if
// the key is disallowed (all-0xFF, or Zero requested when not permitted).
func (k KeyRing) LongTermKey(fmKeyID FmKeyID, zeroAllowed bool) ([16]byte, error) {
	var key [16]byte
	switch {
	case fmKeyID == FmKeyZero:
		if !zeroAllowed {
			return key, fmt.Errorf("meshaccess: zero key not allowed for this handshake")
		}
		return key, nil // all-zero
	case fmKeyID == FmKeyNode:
		key = k.NodeKey
	case fmKeyID == FmKeyNetwork:
		key = k.NetworkKey
	case fmKeyID == FmKeyOrganization:
		key = k.OrganizationKey
	case fmKeyID == FmKeyRestrained:
		key = k.RestrainedKey
	case fmKeyID >= FmKeyUserDerivedStart && fmKeyID <= FmKeyUserDerivedEnd:
		derived, err := crypto.DeriveUserKey(k.UserBaseKey, uint8(fmKeyID))
		if err != nil {
			return key, err
		}
		key = derived
	default:
		return key, fmt.Errorf("meshaccess: unknown fmKeyId %d", fmKeyID)
	}
	if bytes.Equal(key[:], allFF) {
		return key, fmt.Errorf("meshaccess: long-term key is unprogrammed (all-0xFF)")
	}
	return key, nil
}
