package transport

import (
	"encoding/binary"
	"hash"
	"io"
)

// FrameReader reads authenticated frames from a stream. ReadFrame fills
// frame with the plaintext header followed by payload and padding, and
// returns the payload length. The payload starts at frame[HeaderLength].
//
// io.EOF means the stream ended cleanly at a frame boundary.
// io.ErrUnexpectedEOF means it ended inside a frame.
type FrameReader interface {
	ReadFrame(frame []byte) (int, error)
}

// FrameWriter writes frames to a stream. frame holds space for the header
// followed by payloadLen bytes of payload; padding is zeroed by the writer.
// frame must have room for the MAC after the padding.
type FrameWriter interface {
	WriteFrame(frame []byte, payloadLen, paddingLen int) error
	Flush() error
	// RemainingCapacity returns the number of raw bytes, overhead included,
	// the stream can still carry.
	RemainingCapacity() int64
}

// frameLength returns the full on-wire length of a frame.
func frameLength(payloadLen, paddingLen int) int {
	return HeaderLength + payloadLen + paddingLen + MacLength
}

// frameIV builds the counter block for a frame: the frame number, then the
// stream number, then zeros for the block counter. Streams of one period share
// keys, so the stream number keeps their keystreams apart.
func frameIV(iv []byte, streamNumber, frameNumber uint64) {
	for i := range iv {
		iv[i] = 0
	}
	binary.BigEndian.PutUint32(iv[0:4], uint32(frameNumber))
	binary.BigEndian.PutUint32(iv[4:8], uint32(streamNumber))
}

// macPrefix writes the stream and frame numbers that precede the ciphertext
// in the MAC input.
func macPrefix(mac hash.Hash, streamNumber, frameNumber uint64) {
	var prefix [8]byte
	binary.BigEndian.PutUint32(prefix[0:4], uint32(streamNumber))
	binary.BigEndian.PutUint32(prefix[4:8], uint32(frameNumber))
	mac.Write(prefix[:])
}

// readHeader reads the fixed-size header into frame. A stream ending before
// the first header byte is a clean end.
func readHeader(r io.Reader, frame []byte) error {
	n, err := io.ReadFull(r, frame[:HeaderLength])
	if err == io.EOF && n == 0 {
		return io.EOF
	}
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readBody reads the rest of a frame whose header has been parsed.
func readBody(r io.Reader, frame []byte, length int) error {
	_, err := io.ReadFull(r, frame[HeaderLength:length])
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// checkFrameLength validates header fields against the maximum frame length
// and the frame buffer.
func checkFrameLength(frame []byte, payloadLen, paddingLen, maxFrameLength int) (int, error) {
	length := frameLength(payloadLen, paddingLen)
	if length > maxFrameLength {
		return 0, formatError("frame length %d exceeds maximum %d", length, maxFrameLength)
	}
	if length > len(frame) {
		return 0, formatError("frame length %d exceeds buffer %d", length, len(frame))
	}
	return length, nil
}

// checkPadding requires padding bytes to be zero.
func checkPadding(padding []byte) error {
	for _, b := range padding {
		if b != 0 {
			return formatError("non-zero padding")
		}
	}
	return nil
}
