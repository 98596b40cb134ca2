package sync

import (
	"errors"
	"io"

	"github.com/opd-ai/tagmesh/transport"
)

// Outcome is how a connection ended.
type Outcome int

const (
	// OutcomeClean means the stream ended at a frame boundary and every
	// record was handled.
	OutcomeClean Outcome = iota
	// OutcomeIOError means the transport or the local database failed.
	OutcomeIOError
	// OutcomeFormatError means the peer broke the framing, authentication
	// or record rules.
	OutcomeFormatError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeIOError:
		return "io error"
	case OutcomeFormatError:
		return "format error"
	default:
		return "unknown"
	}
}

// Exception reports whether the transport should be disposed of as failed.
func (o Outcome) Exception() bool {
	return o != OutcomeClean
}

// Classify maps the error a connection ended with to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return OutcomeClean
	case transport.IsProtocolError(err), errors.Is(err, io.ErrUnexpectedEOF):
		return OutcomeFormatError
	default:
		return OutcomeIOError
	}
}

// worse returns the more severe of two outcomes.
func worse(a, b Outcome) Outcome {
	if b > a {
		return b
	}
	return a
}
