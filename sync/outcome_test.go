package sync

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/opd-ai/tagmesh/transport"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeClean},
		{"eof", io.EOF, OutcomeClean},
		{"format", fmt.Errorf("reading: %w", transport.ErrFormat), OutcomeFormatError},
		{"bad mac", transport.ErrBadMac, OutcomeFormatError},
		{"truncated", io.ErrUnexpectedEOF, OutcomeFormatError},
		{"closed pipe", io.ErrClosedPipe, OutcomeIOError},
		{"other", errors.New("disk full"), OutcomeIOError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestOutcomeException(t *testing.T) {
	assert.False(t, OutcomeClean.Exception())
	assert.True(t, OutcomeIOError.Exception())
	assert.True(t, OutcomeFormatError.Exception())
	assert.Equal(t, "format error", OutcomeFormatError.String())
	assert.Equal(t, OutcomeFormatError, worse(OutcomeIOError, OutcomeFormatError))
	assert.Equal(t, OutcomeIOError, worse(OutcomeIOError, OutcomeClean))
}
