package crypto

import (
	"crypto/subtle"
	"sync"
)

// SecretKey is an owned, erasable symmetric key. Once Erase has been called
// the key bytes are zeroed and any further use panics: reading an erased key
// is a programming error, never a recoverable condition.
type SecretKey struct {
	mu     sync.Mutex
	key    []byte
	erased bool
}

// NewSecretKey wraps key without copying it. The SecretKey takes ownership
// of the buffer and zeroes it on Erase.
func NewSecretKey(key []byte) *SecretKey {
	return &SecretKey{key: key}
}

// Bytes returns the key material. The returned slice aliases the key and is
// zeroed by Erase.
func (k *SecretKey) Bytes() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.erased {
		panic("crypto: use of erased secret key")
	}
	return k.key
}

// Copy returns an independent SecretKey holding a clone of the key bytes.
func (k *SecretKey) Copy() *SecretKey {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.erased {
		panic("crypto: copy of erased secret key")
	}
	b := make([]byte, len(k.key))
	copy(b, k.key)
	return &SecretKey{key: b}
}

// Equal reports whether both keys hold the same bytes, in constant time.
func (k *SecretKey) Equal(other *SecretKey) bool {
	return subtle.ConstantTimeCompare(k.Bytes(), other.Bytes()) == 1
}

// Erase zeroes the key. Erasing a key twice panics.
func (k *SecretKey) Erase() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.erased {
		panic("crypto: secret key erased twice")
	}
	ZeroBytes(k.key)
	k.erased = true
}

// Erased reports whether Erase has been called.
func (k *SecretKey) Erased() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.erased
}
