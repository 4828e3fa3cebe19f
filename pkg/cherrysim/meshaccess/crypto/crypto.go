// Package crypto implements the mesh-access tunnel's AES-128 counter-mode
// encryption with an explicit 4-byte MIC, matching the firmware's
// bit-for-bit nonce/MIC construction so the simulator interoperates with
// real devices.
package crypto

import (
	"crypto/aes"
	"fmt"
)

// MICSize is the length in bytes of the message integrity check appended
// to every mesh-access encrypted packet.
const MICSize = 4

// block encrypts one 16-byte block with AES-128 ECB (a single forward
// cipher call with no chaining), which is the primitive the nonce-based
// counter-mode and MIC derivation below are built from.
func block(key [16]byte, in [16]byte) ([16]byte, error) {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, fmt.Errorf("meshaccess/crypto: new cipher: %w", err)
	}
	var out [16]byte
	c.Encrypt(out[:], in[:])
	return out, nil
}

// nonceBlock packs a two-word counter pair into a 16-byte AES input block,
// zero-padded, matching the firmware's `n || 0-pad` construction.
func nonceBlock(n [2]uint32) [16]byte {
	var b [16]byte
	putU32(b[0:4], n[0])
	putU32(b[4:8], n[1])
	return b
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

// Encrypt produces ciphertext and a 4-byte MIC for plaintext (at most 16
// bytes, per the spec's "longer messages are split earlier" contract)
// under key, using counter n. n is NOT mutated here — the caller owns the
// nonce's post_send_advance bookkeeping (+=1 while building the MIC here,
// +=2 once the softdevice has queued the packet), since that distinction
// is the explicit open question the spec calls out.
func Encrypt(key [16]byte, n [2]uint32, plaintext []byte) (ciphertext []byte, mic [4]byte, err error) {
	if len(plaintext) > 16 {
		return nil, mic, fmt.Errorf("meshaccess/crypto: plaintext length %d exceeds one block", len(plaintext))
	}
	s1, err := block(key, nonceBlock(n))
	if err != nil {
		return nil, mic, err
	}
	ciphertext = make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ s1[i]
	}

	micNonce := n
	micNonce[1]++

	s2, err := block(key, nonceBlock(micNonce))
	if err != nil {
		return nil, mic, err
	}

	var s2xc [16]byte
	copy(s2xc[:], s2[:])
	for i := range ciphertext {
		s2xc[i] ^= ciphertext[i]
	}
	s3, err := block(key, s2xc)
	if err != nil {
		return nil, mic, err
	}
	copy(mic[:], s3[:4])
	return ciphertext, mic, nil
}

// Decrypt reverses Encrypt: it recomputes the expected MIC from ciphertext
// and n, compares it to the provided mic, and only on a match decrypts
// with the original counter. Returns ok=false (and no plaintext) on MIC
// mismatch, never an error — a MIC mismatch is an expected simulated
// condition (corrupted message), not a programming error.
func Decrypt(key [16]byte, n [2]uint32, ciphertext []byte, mic [4]byte) (plaintext []byte, ok bool, err error) {
	micNonce := n
	micNonce[1]++

	s2, err := block(key, nonceBlock(micNonce))
	if err != nil {
		return nil, false, err
	}
	var s2xc [16]byte
	copy(s2xc[:], s2[:])
	for i := range ciphertext {
		s2xc[i] ^= ciphertext[i]
	}
	s3, err := block(key, s2xc)
	if err != nil {
		return nil, false, err
	}
	var gotMIC [4]byte
	copy(gotMIC[:], s3[:4])
	if gotMIC != mic {
		return nil, false, nil
	}

	s1, err := block(key, nonceBlock(n))
	if err != nil {
		return nil, false, err
	}
	plaintext = make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ s1[i]
	}
	return plaintext, true, nil
}

// DeriveSessionKey computes AES128(partnerNodeId ‖ nonce ‖ 0-pad, longTermKey),
// the session key derivation used for both session encryption and
// decryption keys during the handshake.
func DeriveSessionKey(longTermKey [16]byte, partnerNodeID uint16, nonce [2]uint32) ([16]byte, error) {
	var in [16]byte
	in[0] = byte(partnerNodeID)
	in[1] = byte(partnerNodeID >> 8)
	putU32(in[2:6], nonce[0])
	putU32(in[6:10], nonce[1])
	return block(longTermKey, in)
}

// DeriveUserKey computes AES128(fmKeyId ‖ 0-pad, userBaseKey), used for
// fmKeyId values in the USER_DERIVED range.
func DeriveUserKey(userBaseKey [16]byte, fmKeyID uint8) ([16]byte, error) {
	var in [16]byte
	in[0] = fmKeyID
	return block(userBaseKey, in)
}

// AdvanceAfterQueue applies the commit-time nonce advance (+=2), to be
// called once the softdevice has acknowledged the encrypted packet was
// queued for transmission, per the spec's post_send_advance semantics.
func AdvanceAfterQueue(n *[2]uint32) {
	n[1] += 2
}
