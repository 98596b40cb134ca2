// Package crypto implements the key derivation and primitives of the
// tagmesh transport.
//
// Every key used on the wire is derived from a 32-byte secret. A pairing
// starts with an X25519 key agreement ([Component.DeriveInitialSecrets]),
// which yields one secret per direction. Secrets are then rotated forward
// once per rotation period with [Component.DeriveNextSecret], and each
// rotated secret yields three keys per role:
//
//   - a tag key, which encrypts the stream number into the 16-byte tag that
//     opens every stream ([Component.EncodeTag])
//   - a frame key for AES-CTR over each frame ([Component.NewFrameCipher])
//   - a MAC key for the HMAC-SHA384 that closes each frame
//     ([Component.NewMac])
//
// The role is part of the derivation, so the two directions never share a
// key. Both endpoints derive with the writer's role:
//
//	c := crypto.NewComponent()
//	tagKey := c.DeriveTagKey(secret, alice)
//	defer tagKey.Erase()
//
//	var tag [crypto.TagLength]byte
//	c.EncodeTag(tag[:], tagKey, streamNumber)
//
// # Key Material
//
// Derived keys are returned as [SecretKey] values and must be erased once
// used. Raw secrets are plain byte slices owned by the caller; wipe them
// with [ZeroBytes]. Malformed secrets and out-of-range indices are
// programming errors and panic. A bad peer public key is untrusted input
// and is returned as [ErrInvalidPublicKey] or [ErrKeyAgreement].
//
// # Storage
//
// [Sealer] encrypts records at rest with AES-GCM under a key stretched from
// a passphrase with PBKDF2.
package crypto
