package transport

import (
	"fmt"
	"io"
)

// NullIncomingEncryptionLayer reads frames without decrypting or
// authenticating them. The MAC bytes are read and ignored.
type NullIncomingEncryptionLayer struct {
	in             io.Reader
	maxFrameLength int
}

// NewNullIncomingEncryptionLayer returns a plaintext FrameReader.
func NewNullIncomingEncryptionLayer(in io.Reader, maxFrameLength int) *NullIncomingEncryptionLayer {
	return &NullIncomingEncryptionLayer{in: in, maxFrameLength: maxFrameLength}
}

// ReadFrame implements FrameReader.
func (l *NullIncomingEncryptionLayer) ReadFrame(frame []byte) (int, error) {
	if len(frame) < HeaderLength+MacLength {
		panic(fmt.Sprintf("transport: frame buffer too short: %d", len(frame)))
	}
	if err := readHeader(l.in, frame); err != nil {
		return 0, err
	}
	payloadLen, paddingLen := PayloadLength(frame), PaddingLength(frame)
	length, err := checkFrameLength(frame, payloadLen, paddingLen, l.maxFrameLength)
	if err != nil {
		return 0, err
	}
	if err := readBody(l.in, frame, length); err != nil {
		return 0, err
	}
	if err := checkPadding(frame[HeaderLength+payloadLen : length-MacLength]); err != nil {
		return 0, err
	}
	return payloadLen, nil
}

// NullOutgoingEncryptionLayer writes frames in the clear with zero MAC bytes.
type NullOutgoingEncryptionLayer struct {
	out      io.Writer
	capacity int64
}

// NewNullOutgoingEncryptionLayer returns a plaintext FrameWriter.
func NewNullOutgoingEncryptionLayer(out io.Writer, capacity int64) *NullOutgoingEncryptionLayer {
	return &NullOutgoingEncryptionLayer{out: out, capacity: capacity}
}

// WriteFrame implements FrameWriter.
func (l *NullOutgoingEncryptionLayer) WriteFrame(frame []byte, payloadLen, paddingLen int) error {
	length := frameLength(payloadLen, paddingLen)
	if len(frame) < length {
		panic(fmt.Sprintf("transport: frame buffer too short: %d < %d", len(frame), length))
	}
	if int64(length) > l.capacity {
		return ErrCapacityExceeded
	}
	EncodeHeader(frame, payloadLen, paddingLen)
	tail := frame[HeaderLength+payloadLen : length]
	for i := range tail {
		tail[i] = 0
	}
	if _, err := l.out.Write(frame[:length]); err != nil {
		return err
	}
	l.capacity -= int64(length)
	return nil
}

// Flush implements FrameWriter.
func (l *NullOutgoingEncryptionLayer) Flush() error {
	return flushWriter(l.out)
}

// RemainingCapacity implements FrameWriter.
func (l *NullOutgoingEncryptionLayer) RemainingCapacity() int64 {
	return l.capacity
}
