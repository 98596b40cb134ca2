package crypto

import (
	"errors"
	"runtime"
)

// ErrNilBuffer is returned when asked to wipe a nil buffer or key pair.
var ErrNilBuffer = errors.New("nothing to wipe")

// SecureWipe overwrites secret material with zeros. Wiping a nil slice is
// reported, since it usually means the secret was never where the caller
// thought it was.
func SecureWipe(data []byte) error {
	if data == nil {
		return ErrNilBuffer
	}
	clear(data)
	// Keep the buffer live until the stores above are done
	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes wipes each buffer, ignoring nil ones.
func ZeroBytes(bufs ...[]byte) {
	for _, b := range bufs {
		if b != nil {
			_ = SecureWipe(b)
		}
	}
}

// WipeKeyPair erases the private half of kp. The public half is left
// intact.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return ErrNilBuffer
	}
	return SecureWipe(kp.Private[:])
}
