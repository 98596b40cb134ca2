package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
)

// kdfIVBytes is the IV length of the counter mode KDF.
const kdfIVBytes = aes.BlockSize

// kdfInput is the blank plaintext encrypted by the counter mode KDF.
var kdfInput = make([]byte, SecretKeyBytes)

// counterModeKdf is a key derivation function based on a block cipher in CTR
// mode, see NIST SP 800-108 section 5.1. The IV is the null-terminated label
// followed by the context, with the last byte left free for the counter.
func counterModeKdf(secret, label, context []byte) []byte {
	if len(secret) != SecretKeyBytes {
		panic(fmt.Sprintf("crypto: secret must be %d bytes, got %d", SecretKeyBytes, len(secret)))
	}
	if len(label)+len(context)+1 > kdfIVBytes {
		panic(fmt.Sprintf("crypto: label and context too long: %d+%d", len(label), len(context)))
	}

	iv := make([]byte, kdfIVBytes)
	copy(iv, label)
	copy(iv[len(label):], context)

	block, err := aes.NewCipher(secret)
	if err != nil {
		panic(fmt.Sprintf("crypto: kdf cipher: %v", err))
	}
	output := make([]byte, SecretKeyBytes)
	cipher.NewCTR(block, iv).XORKeyStream(output, kdfInput)
	return output
}

// concatenationKdf is a key derivation function based on a hash function,
// see NIST SP 800-56A section 5.8. The output is the first SecretKeyBytes
// bytes of the digest.
func concatenationKdf(rawSecret, label, initiatorInfo, responderInfo, publicInfo []byte) []byte {
	h := sha512.New384()
	if h.Size() < SecretKeyBytes {
		panic("crypto: digest too short for key derivation")
	}

	rawSecretLength := make([]byte, 4)
	binary.BigEndian.PutUint32(rawSecretLength, uint32(len(rawSecret)))
	h.Write(rawSecretLength)
	h.Write(rawSecret)
	h.Write(label)
	h.Write(initiatorInfo)
	h.Write(responderInfo)
	h.Write(publicInfo)
	digest := h.Sum(nil)

	output := make([]byte, SecretKeyBytes)
	copy(output, digest)
	ZeroBytes(digest)
	return output
}
