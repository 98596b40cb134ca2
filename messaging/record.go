package messaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/tagmesh/limits"
	"github.com/opd-ai/tagmesh/transport"
)

// RecordType identifies the body of a record.
type RecordType uint8

const (
	// RecordMessage carries one message body.
	RecordMessage RecordType = 1
	// RecordEnd closes the stream.
	RecordEnd RecordType = 2
)

// RecordHeaderLength is the length of a record header.
const RecordHeaderLength = 3

// ErrUnknownRecord indicates a record type this version does not know.
var ErrUnknownRecord = errors.New("unknown record type")

// RecordLength returns the encoded length of a record with a body of n
// bytes.
func RecordLength(n int) int64 {
	return int64(RecordHeaderLength + n)
}

// WriteRecord encodes one record with a single call to w.Write, so a writer
// with bounded capacity accepts or rejects it whole.
func WriteRecord(w io.Writer, t RecordType, body []byte) error {
	switch t {
	case RecordMessage:
		if err := limits.ValidateRecord(body); err != nil {
			return err
		}
	case RecordEnd:
		if len(body) != 0 {
			return fmt.Errorf("end record with %d byte body", len(body))
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownRecord, t)
	}

	buf := make([]byte, RecordHeaderLength+len(body))
	buf[0] = byte(t)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(body)))
	copy(buf[RecordHeaderLength:], body)
	_, err := w.Write(buf)
	return err
}

// ReadRecord decodes the next record. It returns io.EOF if the stream ends
// before a record starts and io.ErrUnexpectedEOF if it ends inside one.
// Malformed records are reported as transport.ErrFormat.
func ReadRecord(r io.Reader) (RecordType, []byte, error) {
	header := make([]byte, RecordHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	t := RecordType(header[0])
	length := int(binary.BigEndian.Uint16(header[1:3]))

	switch t {
	case RecordMessage:
		if length == 0 || length > limits.MaxRecordLength {
			return 0, nil, fmt.Errorf("%w: message record length %d", transport.ErrFormat, length)
		}
	case RecordEnd:
		if length != 0 {
			return 0, nil, fmt.Errorf("%w: end record length %d", transport.ErrFormat, length)
		}
		return t, nil, nil
	default:
		return 0, nil, fmt.Errorf("%w: %w %d", transport.ErrFormat, ErrUnknownRecord, t)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return t, body, nil
}
