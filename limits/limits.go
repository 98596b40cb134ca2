package limits

import (
	"errors"
	"fmt"
)

// Frame lengths are measured on the wire: header, payload, padding and MAC.
const (
	// DefaultMaxFrameLength is used by transports that do not set their own.
	DefaultMaxFrameLength = 1024
	// MinFrameLength leaves room for a useful payload after the overhead.
	MinFrameLength = 128
	// MaxFrameLength is bounded by the 16-bit length fields of the header.
	MaxFrameLength = 1 << 16
)

// MaxRecordLength bounds the body of one application record. It must fit the
// record's 16-bit length field.
const MaxRecordLength = 32 * 1024

var (
	// ErrMessageEmpty indicates a record or message with no body.
	ErrMessageEmpty = errors.New("empty message")
	// ErrMessageTooLarge indicates a body over MaxRecordLength.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrFrameLength indicates an unusable frame length setting.
	ErrFrameLength = errors.New("invalid frame length")
	// ErrCapacity indicates a stream capacity too small for one frame.
	ErrCapacity = errors.New("invalid stream capacity")
)

// ValidateRecord checks the body of an application record.
func ValidateRecord(body []byte) error {
	switch {
	case len(body) == 0:
		return ErrMessageEmpty
	case len(body) > MaxRecordLength:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(body), MaxRecordLength)
	}
	return nil
}

// ValidateFrameLength checks a transport's maximum frame length.
func ValidateFrameLength(n int) error {
	if n < MinFrameLength || n > MaxFrameLength {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrFrameLength, n, MinFrameLength, MaxFrameLength)
	}
	return nil
}

// ValidateCapacity checks that a simplex stream of capacity bytes holds at
// least one frame of frameLength.
func ValidateCapacity(capacity int64, frameLength int) error {
	if capacity < int64(frameLength) {
		return fmt.Errorf("%w: %d bytes below one %d byte frame", ErrCapacity, capacity, frameLength)
	}
	return nil
}
