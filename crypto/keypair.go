package crypto

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is our long-term X25519 identity. It is used only to agree on the
// initial secrets with a new contact.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

var zeroKey [32]byte

// FromSecretKey recomputes the public half of a stored identity.
func FromSecretKey(private [32]byte) (*KeyPair, error) {
	if subtle.ConstantTimeCompare(private[:], zeroKey[:]) == 1 {
		return nil, errors.New("invalid private key: all zeros")
	}
	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	kp := &KeyPair{Private: private}
	copy(kp.Public[:], public)
	return kp, nil
}

// ParsePublicKey checks the length of a peer's public key and rejects the
// all-zero point.
func ParsePublicKey(b []byte) ([32]byte, error) {
	var pub [32]byte
	if len(b) != len(pub) {
		return pub, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(b), len(pub))
	}
	copy(pub[:], b)
	if pub == zeroKey {
		return pub, fmt.Errorf("%w: all zeros", ErrInvalidPublicKey)
	}
	return pub, nil
}
