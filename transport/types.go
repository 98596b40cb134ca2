package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/tagmesh/crypto"
)

// ContactID identifies a contact in the local database.
type ContactID int

// TransportID names a transport plugin, e.g. "lan" or "file".
type TransportID string

const (
	// TagLength is the length of the tag that opens every stream.
	TagLength = crypto.TagLength
	// HeaderLength is the length of a frame header.
	HeaderLength = 4
	// MacLength is the length of a frame MAC.
	MacLength = crypto.MacLength
	// FrameOverhead is the per-frame space not available for payload.
	FrameOverhead = HeaderLength + MacLength
	// MaxPayloadLength is the largest payload a header can describe.
	MaxPayloadLength = 1<<16 - 1
	// MaxFrameNumber is the largest frame number usable in a frame IV.
	MaxFrameNumber = 1<<32 - 1
)

var (
	// ErrFormat indicates a malformed frame header or frame length.
	ErrFormat = errors.New("malformed frame")
	// ErrBadMac indicates a frame failed authentication.
	ErrBadMac = errors.New("frame authentication failed")
	// ErrCapacityExceeded indicates a write would not fit in the stream.
	ErrCapacityExceeded = errors.New("stream capacity exceeded")
	// ErrFrameNumberExhausted indicates a stream ran out of frame numbers.
	ErrFrameNumberExhausted = errors.New("frame number exhausted")
	// ErrInvalidTag indicates a tag of the wrong length was presented.
	ErrInvalidTag = errors.New("invalid tag length")
)

// IsProtocolError reports whether err means the peer violated the framing
// or authentication rules. Such errors are fatal to the connection and are
// never distinguished to the peer.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrBadMac)
}

func formatError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
