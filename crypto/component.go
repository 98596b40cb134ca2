package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

const (
	// SecretKeyBytes is the length of root secrets and derived keys.
	SecretKeyBytes = 32
	// TagLength is the length of a connection tag; one cipher block.
	TagLength = aes.BlockSize
	// MacLength is the length of a frame MAC (HMAC-SHA384).
	MacLength = sha512.Size384
	// FrameIVLength is the length of the per-frame counter block.
	FrameIVLength = aes.BlockSize
	// CodeBits is the number of bits in a confirmation code.
	CodeBits = 24

	// MaxIndex is the largest rotation index accepted by DeriveNextSecret.
	MaxIndex = math.MaxUint16
	// MaxConnection is the largest connection number accepted by
	// DeriveNextSecret.
	MaxConnection = math.MaxUint32
	// MaxStreamNumber is the largest stream number that fits in a tag.
	MaxStreamNumber = math.MaxUint32
)

// Labels for key derivation, null-terminated.
var (
	labelTag   = []byte{'T', 'A', 'G', 0}
	labelFrame = []byte{'F', 'R', 'A', 'M', 'E', 0}
	labelMac   = []byte{'M', 'A', 'C', 0}
	labelFirst = []byte{'F', 'I', 'R', 'S', 'T', 0}
	labelNext  = []byte{'N', 'E', 'X', 'T', 0}
	labelCode  = []byte{'C', 'O', 'D', 'E', 0}

	contextInitiator = []byte{'I'}
	contextResponder = []byte{'R'}
)

var (
	// ErrInvalidPublicKey indicates a malformed peer public key.
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrKeyAgreement indicates the key agreement with a peer failed.
	ErrKeyAgreement = errors.New("key agreement failed")
)

// Component is the cryptography handle shared by the transport layer. It is
// constructed explicitly and passed to whatever needs it; there is no
// process-wide provider state.
type Component struct {
	dh     noise.DHFunc
	random io.Reader
}

// NewComponent returns a Component using crypto/rand and X25519.
func NewComponent() *Component {
	return NewComponentWithRandom(rand.Reader)
}

// NewComponentWithRandom returns a Component drawing randomness from r.
// Key derivation never uses r, so a deterministic reader is safe for tests.
func NewComponentWithRandom(r io.Reader) *Component {
	return &Component{
		dh:     noise.DH25519,
		random: r,
	}
}

// GenerateKeyPair creates a fresh X25519 key pair for pairing.
func (c *Component) GenerateKeyPair() (*KeyPair, error) {
	dhKey, err := c.dh.GenerateKeypair(c.random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	kp := &KeyPair{}
	copy(kp.Public[:], dhKey.Public)
	copy(kp.Private[:], dhKey.Private)
	ZeroBytes(dhKey.Private)
	return kp, nil
}

// GenerateSecret returns SecretKeyBytes of fresh randomness.
func (c *Component) GenerateSecret() ([]byte, error) {
	b := make([]byte, SecretKeyBytes)
	if _, err := io.ReadFull(c.random, b); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return b, nil
}

// DeriveTagKey derives the tag key for the given role from secret.
func (c *Component) DeriveTagKey(secret []byte, initiator bool) *SecretKey {
	return deriveKey(secret, labelTag, roleContext(initiator))
}

// DeriveFrameKey derives the frame encryption key for the given role.
func (c *Component) DeriveFrameKey(secret []byte, initiator bool) *SecretKey {
	return deriveKey(secret, labelFrame, roleContext(initiator))
}

// DeriveMacKey derives the frame authentication key for the given role.
func (c *Component) DeriveMacKey(secret []byte, initiator bool) *SecretKey {
	return deriveKey(secret, labelMac, roleContext(initiator))
}

func deriveKey(secret, label, context []byte) *SecretKey {
	return NewSecretKey(counterModeKdf(secret, label, context))
}

func roleContext(initiator bool) []byte {
	if initiator {
		return contextInitiator
	}
	return contextResponder
}

// DeriveInitialSecrets agrees on a secret with a new contact and derives
// the two directional secrets from it. The initiator's outgoing secret is the
// responder's incoming secret and vice versa.
//
// An unusable peer public key is reported as an error; it is untrusted
// input. A malformed private key is a configuration error and panics.
func (c *Component) DeriveInitialSecrets(ourPublic, theirPublic, ourPrivate []byte,
	invitationCode uint32, initiator bool,
) (outgoing, incoming []byte, err error) {
	if len(ourPrivate) != c.dh.DHLen() {
		panic(fmt.Sprintf("crypto: private key must be %d bytes, got %d", c.dh.DHLen(), len(ourPrivate)))
	}
	if _, err := ParsePublicKey(ourPublic); err != nil {
		return nil, nil, err
	}
	if _, err := ParsePublicKey(theirPublic); err != nil {
		return nil, nil, err
	}

	ourHash := sha512.Sum384(ourPublic)
	theirHash := sha512.Sum384(theirPublic)
	initiatorInfo, responderInfo := ourHash[:], theirHash[:]
	if !initiator {
		initiatorInfo, responderInfo = theirHash[:], ourHash[:]
	}

	publicInfo := make([]byte, 4)
	binary.BigEndian.PutUint32(publicInfo, invitationCode)

	rawSecret, err := c.dh.DH(ourPrivate, theirPublic)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DeriveInitialSecrets",
			"error":    err.Error(),
		}).Warn("Key agreement rejected peer public key")
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	cookedSecret := concatenationKdf(rawSecret, labelFirst, initiatorInfo, responderInfo, publicInfo)
	ZeroBytes(rawSecret)
	defer ZeroBytes(cookedSecret)

	initiatorSecret := counterModeKdf(cookedSecret, labelFirst, contextInitiator)
	responderSecret := counterModeKdf(cookedSecret, labelFirst, contextResponder)
	if initiator {
		return initiatorSecret, responderSecret, nil
	}
	return responderSecret, initiatorSecret, nil
}

// DeriveNextSecret rotates secret forward. index must fit in 16 bits and
// connection in 32 bits; anything else is a programming error.
func (c *Component) DeriveNextSecret(secret []byte, index int, connection int64) []byte {
	if index < 0 || index > MaxIndex {
		panic(fmt.Sprintf("crypto: rotation index %d out of range", index))
	}
	if connection < 0 || connection > MaxConnection {
		panic(fmt.Sprintf("crypto: connection number %d out of range", connection))
	}
	context := make([]byte, 6)
	binary.BigEndian.PutUint16(context[0:2], uint16(index))
	binary.BigEndian.PutUint32(context[2:6], uint32(connection))
	return counterModeKdf(secret, labelNext, context)
}

// DeriveConfirmationCode derives the code a user reads aloud to confirm a
// pairing: the first CodeBits bits of a key derived from secret.
func (c *Component) DeriveConfirmationCode(secret []byte, initiator bool) int {
	output := counterModeKdf(secret, labelCode, roleContext(initiator))
	defer ZeroBytes(output)
	code := int(output[0])<<16 | int(output[1])<<8 | int(output[2])
	return code >> (24 - CodeBits)
}

// EncodeTag writes the tag for streamNumber into tag[:TagLength].
func (c *Component) EncodeTag(tag []byte, tagKey *SecretKey, streamNumber uint64) {
	if len(tag) < TagLength {
		panic(fmt.Sprintf("crypto: tag buffer too short: %d", len(tag)))
	}
	if streamNumber > MaxStreamNumber {
		panic(fmt.Sprintf("crypto: stream number %d out of range", streamNumber))
	}
	for i := 0; i < TagLength; i++ {
		tag[i] = 0
	}
	binary.BigEndian.PutUint32(tag[0:4], uint32(streamNumber))
	block, err := aes.NewCipher(tagKey.Bytes())
	if err != nil {
		panic(fmt.Sprintf("crypto: tag cipher: %v", err))
	}
	block.Encrypt(tag[:TagLength], tag[:TagLength])
}

// NewFrameCipher returns the keystream for one frame.
func (c *Component) NewFrameCipher(frameKey *SecretKey, iv []byte) cipher.Stream {
	if len(iv) != FrameIVLength {
		panic(fmt.Sprintf("crypto: frame IV must be %d bytes, got %d", FrameIVLength, len(iv)))
	}
	block, err := aes.NewCipher(frameKey.Bytes())
	if err != nil {
		panic(fmt.Sprintf("crypto: frame cipher: %v", err))
	}
	return cipher.NewCTR(block, iv)
}

// NewMac returns an HMAC-SHA384 keyed with macKey.
func (c *Component) NewMac(macKey *SecretKey) hash.Hash {
	return hmac.New(sha512.New384, macKey.Bytes())
}
