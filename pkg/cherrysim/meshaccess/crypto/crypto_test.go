package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var key [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	n := [2]uint32{1, 100}
	plaintext := []byte("hello mesh!")

	ciphertext, mic, err := Encrypt(key, n, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, ok, err := Decrypt(key, n, ciphertext, mic)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !ok {
		t.Fatalf("expected MIC to validate")
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected round-trip plaintext %q, got %q", plaintext, got)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	var key [16]byte
	n := [2]uint32{0, 0}
	ciphertext, mic, err := Encrypt(key, n, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ciphertext[0] ^= 0xFF

	_, ok, err := Decrypt(key, n, ciphertext, mic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected MIC mismatch on tampered ciphertext")
	}
}

func TestEncryptRejectsOversizedPlaintext(t *testing.T) {
	var key [16]byte
	n := [2]uint32{0, 0}
	_, _, err := Encrypt(key, n, make([]byte, 17))
	if err == nil {
		t.Fatalf("expected error for plaintext longer than one block")
	}
}

func TestAdvanceAfterQueueAddsTwo(t *testing.T) {
	n := [2]uint32{0, 5}
	AdvanceAfterQueue(&n)
	if n[1] != 7 {
		t.Fatalf("expected n[1]=7 after advance, got %d", n[1])
	}
}

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	var ltk [16]byte
	copy(ltk[:], []byte("networkkey1234567890"))
	k1, err := DeriveSessionKey(ltk, 42, [2]uint32{1, 2})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := DeriveSessionKey(ltk, 42, [2]uint32{1, 2})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic derivation")
	}
	k3, _ := DeriveSessionKey(ltk, 43, [2]uint32{1, 2})
	if k1 == k3 {
		t.Fatalf("expected different partner id to change derived key")
	}
}
