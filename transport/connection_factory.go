package transport

import (
	"io"

	"github.com/opd-ai/tagmesh/crypto"
)

// streamRole returns the role used to derive the keys of one direction of a
// connection. Every connection has an initiator stream, which opens with the
// tag, and, for duplex transports, a responder stream flowing back. incoming
// is true on the side that accepted the connection.
func streamRole(alice, incoming, initiatorStream bool) bool {
	initiatorIsAlice := alice
	if incoming {
		initiatorIsAlice = !alice
	}
	if initiatorStream {
		return initiatorIsAlice
	}
	return !initiatorIsAlice
}

// ConnectionReaderFactory builds readers for recognised streams.
type ConnectionReaderFactory struct {
	crypto *crypto.Component
}

// NewConnectionReaderFactory returns a factory using c.
func NewConnectionReaderFactory(c *crypto.Component) *ConnectionReaderFactory {
	return &ConnectionReaderFactory{crypto: c}
}

// CreateConnectionReader returns a reader for the stream described by ctx.
// On the accepting side (incoming true) this is the initiator stream, whose
// tag the caller has already consumed; on the dialling side it is the
// responder stream. The context keeps ownership of its secret.
func (f *ConnectionReaderFactory) CreateConnectionReader(in io.Reader, maxFrameLength int,
	ctx *StreamContext, incoming bool,
) *ConnectionReader {
	role := streamRole(ctx.Alice, incoming, incoming)
	secret := ctx.Secret.Bytes()
	frameKey := f.crypto.DeriveFrameKey(secret, role)
	macKey := f.crypto.DeriveMacKey(secret, role)
	layer := NewIncomingEncryptionLayer(in, f.crypto, frameKey, macKey, ctx.StreamNumber, maxFrameLength)
	return NewConnectionReader(layer, maxFrameLength)
}

// ConnectionWriterFactory builds writers for outgoing streams.
type ConnectionWriterFactory struct {
	crypto *crypto.Component
}

// NewConnectionWriterFactory returns a factory using c.
func NewConnectionWriterFactory(c *crypto.Component) *ConnectionWriterFactory {
	return &ConnectionWriterFactory{crypto: c}
}

// CreateConnectionWriter returns a writer for the stream described by ctx.
// On the dialling side (incoming false) this is the initiator stream and
// the tag is written before the first frame. capacity bounds the bytes
// written, tag included. The context keeps ownership of its secret.
func (f *ConnectionWriterFactory) CreateConnectionWriter(out io.Writer, maxFrameLength int, capacity int64,
	ctx *StreamContext, incoming bool,
) *ConnectionWriter {
	role := streamRole(ctx.Alice, incoming, !incoming)
	secret := ctx.Secret.Bytes()

	var tag []byte
	if !incoming {
		tag = make([]byte, TagLength)
		tagKey := f.crypto.DeriveTagKey(secret, role)
		f.crypto.EncodeTag(tag, tagKey, ctx.StreamNumber)
		tagKey.Erase()
	}

	frameKey := f.crypto.DeriveFrameKey(secret, role)
	macKey := f.crypto.DeriveMacKey(secret, role)
	layer := NewOutgoingEncryptionLayer(out, f.crypto, frameKey, macKey, ctx.StreamNumber, capacity, tag)
	return NewConnectionWriter(layer, maxFrameLength)
}
