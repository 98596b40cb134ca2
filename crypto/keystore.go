package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current sealed record format version
	EncryptionVersion = 1
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32
)

// ErrSealedData indicates a sealed record that is malformed, sealed under
// another key or moved from where it was written.
var ErrSealedData = errors.New("sealed data invalid")

// Sealer encrypts records at rest with AES-256-GCM under a key derived from
// a passphrase. The additional data passed to Seal and Open binds a record
// to its storage location.
type Sealer struct {
	encryptionKey [32]byte
	random        io.Reader
}

// GenerateSalt returns a fresh PBKDF2 salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewSealer derives the sealing key from passphrase and salt. The
// passphrase buffer is wiped.
func NewSealer(passphrase, salt []byte) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(salt), SaltSize)
	}

	s := &Sealer{random: rand.Reader}
	derivedKey := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(s.encryptionKey[:], derivedKey)

	SecureWipe(derivedKey)
	SecureWipe(passphrase)
	return s, nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext.
// Format: [version:2][nonce:12][ciphertext+tag:N]
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	output := make([]byte, 2+gcm.NonceSize(), 2+gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint16(output[0:2], EncryptionVersion)
	nonce := output[2:]
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(output, nonce, plaintext, additionalData), nil
}

// Open decrypts a record produced by Seal with the same additional data.
func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < 2+nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrSealedData, len(sealed))
	}
	if version := binary.BigEndian.Uint16(sealed[0:2]); version != EncryptionVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSealedData, version)
	}

	nonce := sealed[2 : 2+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, sealed[2+nonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupted data", ErrSealedData)
	}
	return plaintext, nil
}

// Close securely wipes the sealing key from memory.
// After calling Close, the Sealer should not be used.
func (s *Sealer) Close() error {
	ZeroBytes(s.encryptionKey[:])
	return nil
}
