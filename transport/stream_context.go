package transport

import "github.com/opd-ai/tagmesh/crypto"

// StreamContext describes one stream after its owner has been identified.
// The holder of a StreamContext owns Secret and must erase it exactly once.
type StreamContext struct {
	ContactID    ContactID
	TransportID  TransportID
	Alice        bool
	StreamNumber uint64
	Secret       *crypto.SecretKey
}

// NewStreamContext builds a context taking ownership of secret.
func NewStreamContext(c ContactID, t TransportID, alice bool, secret []byte, streamNumber uint64) *StreamContext {
	return &StreamContext{
		ContactID:    c,
		TransportID:  t,
		Alice:        alice,
		StreamNumber: streamNumber,
		Secret:       crypto.NewSecretKey(secret),
	}
}

// Erase wipes the context's secret. It panics if called twice.
func (ctx *StreamContext) Erase() {
	ctx.Secret.Erase()
}
