package cryptutil

import (
	"crypto/rand"
	"fmt"
)

// SessionKeyLen is the wire length of a session key: a 32-byte AES-256 key
// followed by a 16-byte IV.
const SessionKeyLen = 32 + 16

// SessionKey is the AES key and IV shared between the gateway and one relay
// for the duration of one tunnel.
type SessionKey struct {
	Key [32]byte
	IV  [16]byte
}

// NewSessionKey mints a fresh random key and IV.
func NewSessionKey() (SessionKey, error) {
	var sk SessionKey
	if _, err := rand.Read(sk.Key[:]); err != nil {
		return SessionKey{}, fmt.Errorf("cryptutil.NewSessionKey: %w", err)
	}
	if _, err := rand.Read(sk.IV[:]); err != nil {
		return SessionKey{}, fmt.Errorf("cryptutil.NewSessionKey: %w", err)
	}
	return sk, nil
}

// Bytes packs the key and IV contiguously for wire transport.
func (sk SessionKey) Bytes() []byte {
	out := make([]byte, SessionKeyLen)
	copy(out, sk.Key[:])
	copy(out[32:], sk.IV[:])
	return out
}

// SessionKeyFromBytes unpacks a 48-byte wire representation.
func SessionKeyFromBytes(b []byte) (SessionKey, error) {
	if len(b) != SessionKeyLen {
		return SessionKey{}, fmt.Errorf("cryptutil.SessionKeyFromBytes: expected %d bytes, got %d", SessionKeyLen, len(b))
	}
	var sk SessionKey
	copy(sk.Key[:], b[:32])
	copy(sk.IV[:], b[32:])
	return sk, nil
}
