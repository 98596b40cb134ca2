package transport

import (
	"fmt"
	"hash"
	"io"

	"github.com/opd-ai/tagmesh/crypto"
)

// OutgoingEncryptionLayer encrypts and authenticates the frames of one
// outgoing stream. If a tag is given it is written before the first frame.
type OutgoingEncryptionLayer struct {
	out          io.Writer
	crypto       *crypto.Component
	frameKey     *crypto.SecretKey
	macKey       *crypto.SecretKey
	mac          hash.Hash
	tag          []byte
	capacity     int64
	streamNumber uint64
	frameNumber  uint64
	iv           []byte
}

// NewOutgoingEncryptionLayer takes ownership of frameKey and macKey; Close
// erases them. capacity is the total number of bytes the stream may carry,
// tag included.
func NewOutgoingEncryptionLayer(out io.Writer, c *crypto.Component, frameKey, macKey *crypto.SecretKey,
	streamNumber uint64, capacity int64, tag []byte,
) *OutgoingEncryptionLayer {
	return &OutgoingEncryptionLayer{
		out:          out,
		crypto:       c,
		frameKey:     frameKey,
		macKey:       macKey,
		mac:          c.NewMac(macKey),
		tag:          tag,
		capacity:     capacity,
		streamNumber: streamNumber,
		iv:           make([]byte, crypto.FrameIVLength),
	}
}

// WriteFrame implements FrameWriter.
func (l *OutgoingEncryptionLayer) WriteFrame(frame []byte, payloadLen, paddingLen int) error {
	if l.frameNumber > MaxFrameNumber {
		return ErrFrameNumberExhausted
	}
	length := frameLength(payloadLen, paddingLen)
	if len(frame) < length {
		panic(fmt.Sprintf("transport: frame buffer too short: %d < %d", len(frame), length))
	}
	if int64(length) > l.RemainingCapacity() {
		return ErrCapacityExceeded
	}

	if err := l.writeTag(); err != nil {
		return err
	}

	EncodeHeader(frame, payloadLen, paddingLen)
	macStart := length - MacLength
	padding := frame[HeaderLength+payloadLen : macStart]
	for i := range padding {
		padding[i] = 0
	}

	frameIV(l.iv, l.streamNumber, l.frameNumber)
	stream := l.crypto.NewFrameCipher(l.frameKey, l.iv)
	stream.XORKeyStream(frame[:macStart], frame[:macStart])

	l.mac.Reset()
	macPrefix(l.mac, l.streamNumber, l.frameNumber)
	l.mac.Write(frame[:macStart])
	l.mac.Sum(frame[macStart:macStart])

	if _, err := l.out.Write(frame[:length]); err != nil {
		return fmt.Errorf("writing frame %d: %w", l.frameNumber, err)
	}
	l.capacity -= int64(length)
	l.frameNumber++
	return nil
}

// Flush writes the tag if no frame has carried it yet, then flushes the
// underlying writer if it buffers.
func (l *OutgoingEncryptionLayer) Flush() error {
	if err := l.writeTag(); err != nil {
		return err
	}
	return flushWriter(l.out)
}

func (l *OutgoingEncryptionLayer) writeTag() error {
	if l.tag == nil {
		return nil
	}
	if _, err := l.out.Write(l.tag); err != nil {
		return fmt.Errorf("writing tag: %w", err)
	}
	l.capacity -= int64(len(l.tag))
	l.tag = nil
	return nil
}

// RemainingCapacity implements FrameWriter.
func (l *OutgoingEncryptionLayer) RemainingCapacity() int64 {
	remaining := l.capacity - int64(len(l.tag))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close erases the layer's keys. It is safe to call more than once.
func (l *OutgoingEncryptionLayer) Close() error {
	if !l.frameKey.Erased() {
		l.frameKey.Erase()
	}
	if !l.macKey.Erased() {
		l.macKey.Erase()
	}
	l.mac.Reset()
	return nil
}

type flusher interface {
	Flush() error
}

func flushWriter(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
