package transport

import (
	"sync"

	"github.com/opd-ai/tagmesh/crypto"
)

// TagRecogniser routes tags to the recogniser for their transport.
type TagRecogniser struct {
	crypto *crypto.Component
	db     WindowStore

	mu          sync.RWMutex
	recognisers map[TransportID]*TransportTagRecogniser
}

// NewTagRecogniser creates a recogniser with no secrets.
func NewTagRecogniser(c *crypto.Component, db WindowStore) *TagRecogniser {
	return &TagRecogniser{
		crypto:      c,
		db:          db,
		recognisers: make(map[TransportID]*TransportTagRecogniser),
	}
}

// RecogniseTag identifies an incoming stream on transport t. See
// TransportTagRecogniser.RecogniseTag.
func (r *TagRecogniser) RecogniseTag(t TransportID, tag []byte) (*StreamContext, error) {
	r.mu.RLock()
	tr, ok := r.recognisers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return tr.RecogniseTag(tag)
}

// AddSecret starts expecting tags for s.
func (r *TagRecogniser) AddSecret(s *TemporarySecret) error {
	r.mu.Lock()
	tr, ok := r.recognisers[s.TransportID]
	if !ok {
		tr = NewTransportTagRecogniser(r.crypto, r.db, s.TransportID)
		r.recognisers[s.TransportID] = tr
	}
	r.mu.Unlock()
	return tr.AddSecret(s)
}

// RemoveSecret stops expecting tags for one contact, transport and period.
func (r *TagRecogniser) RemoveSecret(c ContactID, t TransportID, period uint64) {
	r.mu.RLock()
	tr, ok := r.recognisers[t]
	r.mu.RUnlock()
	if ok {
		tr.RemoveSecret(c, period)
	}
}

// RemoveSecrets removes every secret for contact c on all transports.
func (r *TagRecogniser) RemoveSecrets(c ContactID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tr := range r.recognisers {
		tr.RemoveSecrets(c)
	}
}

// RemoveAll drops every secret on every transport.
func (r *TagRecogniser) RemoveAll() {
	r.mu.Lock()
	recognisers := r.recognisers
	r.recognisers = make(map[TransportID]*TransportTagRecogniser)
	r.mu.Unlock()
	for _, tr := range recognisers {
		tr.RemoveAll()
	}
}
