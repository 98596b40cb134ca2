package transport

import (
	"crypto/hmac"
	"fmt"
	"hash"
	"io"

	"github.com/opd-ai/tagmesh/crypto"
)

// IncomingEncryptionLayer decrypts and authenticates the frames of one
// incoming stream. The stream's tag must already have been consumed.
type IncomingEncryptionLayer struct {
	in             io.Reader
	crypto         *crypto.Component
	frameKey       *crypto.SecretKey
	macKey         *crypto.SecretKey
	mac            hash.Hash
	maxFrameLength int
	streamNumber   uint64
	frameNumber    uint64
	iv             []byte
	expected       []byte
	finished       bool
}

// NewIncomingEncryptionLayer takes ownership of frameKey and macKey; Close
// erases them.
func NewIncomingEncryptionLayer(in io.Reader, c *crypto.Component, frameKey, macKey *crypto.SecretKey,
	streamNumber uint64, maxFrameLength int,
) *IncomingEncryptionLayer {
	return &IncomingEncryptionLayer{
		in:             in,
		crypto:         c,
		frameKey:       frameKey,
		macKey:         macKey,
		mac:            c.NewMac(macKey),
		maxFrameLength: maxFrameLength,
		streamNumber:   streamNumber,
		iv:             make([]byte, crypto.FrameIVLength),
		expected:       make([]byte, MacLength),
	}
}

// ReadFrame implements FrameReader.
func (l *IncomingEncryptionLayer) ReadFrame(frame []byte) (int, error) {
	if l.finished {
		return 0, io.EOF
	}
	if l.frameNumber > MaxFrameNumber {
		return 0, ErrFrameNumberExhausted
	}
	if len(frame) < HeaderLength+MacLength {
		panic(fmt.Sprintf("transport: frame buffer too short: %d", len(frame)))
	}

	if err := readHeader(l.in, frame); err != nil {
		if err == io.EOF {
			l.finished = true
		}
		return 0, err
	}

	frameIV(l.iv, l.streamNumber, l.frameNumber)
	stream := l.crypto.NewFrameCipher(l.frameKey, l.iv)

	// The header must be decrypted to learn the frame length, but the MAC
	// covers the ciphertext, so keep a copy of it
	var encryptedHeader [HeaderLength]byte
	copy(encryptedHeader[:], frame[:HeaderLength])
	var header [HeaderLength]byte
	stream.XORKeyStream(header[:], encryptedHeader[:])

	payloadLen, paddingLen := PayloadLength(header[:]), PaddingLength(header[:])
	length, err := checkFrameLength(frame, payloadLen, paddingLen, l.maxFrameLength)
	if err != nil {
		return 0, err
	}
	if err := readBody(l.in, frame, length); err != nil {
		return 0, err
	}

	macStart := length - MacLength
	l.mac.Reset()
	macPrefix(l.mac, l.streamNumber, l.frameNumber)
	l.mac.Write(frame[:macStart])
	l.expected = l.mac.Sum(l.expected[:0])
	if !hmac.Equal(l.expected, frame[macStart:length]) {
		return 0, fmt.Errorf("frame %d: %w", l.frameNumber, ErrBadMac)
	}

	copy(frame[:HeaderLength], header[:])
	stream.XORKeyStream(frame[HeaderLength:macStart], frame[HeaderLength:macStart])
	if err := checkPadding(frame[HeaderLength+payloadLen : macStart]); err != nil {
		return 0, err
	}

	l.frameNumber++
	return payloadLen, nil
}

// Close erases the layer's keys. It is safe to call more than once.
func (l *IncomingEncryptionLayer) Close() error {
	if !l.frameKey.Erased() {
		l.frameKey.Erase()
	}
	if !l.macKey.Erased() {
		l.macKey.Erase()
	}
	l.mac.Reset()
	return nil
}
