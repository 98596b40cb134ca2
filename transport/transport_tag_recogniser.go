package transport

import (
	"fmt"
	"sync"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/sirupsen/logrus"
)

// WindowStore persists reordering window updates. It is the part of the
// database the recogniser needs.
type WindowStore interface {
	SetReorderingWindow(c ContactID, t TransportID, period, centre uint64, bitmap []byte) error
}

type tagKey [TagLength]byte

// tagContext points from an expected tag back to the secret that produced it.
type tagContext struct {
	window       *windowContext
	streamNumber uint64
}

type windowKey struct {
	contactID ContactID
	period    uint64
}

// windowContext holds a copy of one secret and its reordering window. The
// tag key is derived from the secret whenever it is needed and erased
// straight afterwards, so no tag key is held between calls.
type windowContext struct {
	contactID ContactID
	alice     bool
	period    uint64
	secret    []byte
	window    *ReorderingWindow
}

// TransportTagRecogniser recognises the tags of incoming streams for a
// single transport. All methods hold one mutex: recognition mutates the
// windows, so there are no read-only paths.
type TransportTagRecogniser struct {
	crypto      *crypto.Component
	db          WindowStore
	transportID TransportID

	mu      sync.Mutex
	tags    map[tagKey]*tagContext
	windows map[windowKey]*windowContext
}

// NewTransportTagRecogniser creates an empty recogniser for transportID.
func NewTransportTagRecogniser(c *crypto.Component, db WindowStore, transportID TransportID) *TransportTagRecogniser {
	return &TransportTagRecogniser{
		crypto:      c,
		db:          db,
		transportID: transportID,
		tags:        make(map[tagKey]*tagContext),
		windows:     make(map[windowKey]*windowContext),
	}
}

// AddSecret starts expecting the tags of every unused stream number in the
// secret's window. Adding a secret for a contact and period already present
// replaces the earlier one.
func (r *TransportTagRecogniser) AddSecret(s *TemporarySecret) error {
	window, err := NewReorderingWindowFrom(s.WindowCentre, s.WindowBitmap)
	if err != nil {
		return fmt.Errorf("secret for contact %d period %d: %w", s.ContactID, s.Period, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := windowKey{contactID: s.ContactID, period: s.Period}
	if old, ok := r.windows[key]; ok {
		r.removeWindowLocked(key, old)
	}

	wc := &windowContext{
		contactID: s.ContactID,
		alice:     s.Alice,
		period:    s.Period,
		secret:    append([]byte(nil), s.Secret...),
		window:    window,
	}
	// Incoming streams are written by the other party, so their tags use
	// the opposite role
	tk := r.crypto.DeriveTagKey(wc.secret, !wc.alice)
	defer tk.Erase()

	for _, n := range window.Unseen() {
		r.addTagLocked(tk, wc, n)
	}
	r.windows[key] = wc

	logrus.WithFields(logrus.Fields{
		"function":  "AddSecret",
		"transport": r.transportID,
		"contact":   s.ContactID,
		"period":    s.Period,
		"tags":      len(r.tags),
	}).Debug("Added secret to tag recogniser")
	return nil
}

// RemoveSecret stops expecting tags for the given contact and period and
// erases the recogniser's copy of the secret.
func (r *TransportTagRecogniser) RemoveSecret(c ContactID, period uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := windowKey{contactID: c, period: period}
	if wc, ok := r.windows[key]; ok {
		r.removeWindowLocked(key, wc)
	}
}

// RemoveSecrets removes every secret belonging to contact c.
func (r *TransportTagRecogniser) RemoveSecrets(c ContactID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, wc := range r.windows {
		if key.contactID == c {
			r.removeWindowLocked(key, wc)
		}
	}
}

// RemoveAll removes every secret.
func (r *TransportTagRecogniser) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, wc := range r.windows {
		r.removeWindowLocked(key, wc)
	}
}

// RecogniseTag looks tag up among the expected tags. An unrecognised tag
// yields a nil context and a nil error. A recognised tag is consumed: its
// stream number is marked used, the window slides if needed, and the
// updated window is persisted before the context is returned. The caller
// owns the returned context's secret.
func (r *TransportTagRecogniser) RecogniseTag(tag []byte) (*StreamContext, error) {
	if len(tag) != TagLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTag, len(tag))
	}
	var key tagKey
	copy(key[:], tag)

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tags[key]
	if !ok {
		return nil, nil
	}
	delete(r.tags, key)
	wc := t.window

	added, removed, err := wc.window.SetSeen(t.streamNumber)
	if err != nil {
		// The tag table and the window disagree; refuse the stream
		return nil, fmt.Errorf("recognising stream %d: %w", t.streamNumber, err)
	}

	if len(added) > 0 || len(removed) > 0 {
		tk := r.crypto.DeriveTagKey(wc.secret, !wc.alice)
		for _, n := range added {
			r.addTagLocked(tk, wc, n)
		}
		for _, n := range removed {
			r.removeTagLocked(tk, wc, n)
		}
		tk.Erase()
	}

	centre, bitmap := wc.window.Centre(), wc.window.Bitmap()
	if err := r.db.SetReorderingWindow(wc.contactID, r.transportID, wc.period, centre, bitmap); err != nil {
		return nil, fmt.Errorf("storing reordering window: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "RecogniseTag",
		"transport":     r.transportID,
		"contact":       wc.contactID,
		"period":        wc.period,
		"stream_number": t.streamNumber,
		"centre":        centre,
	}).Debug("Recognised tag")

	secret := append([]byte(nil), wc.secret...)
	return NewStreamContext(wc.contactID, r.transportID, wc.alice, secret, t.streamNumber), nil
}

// addTagLocked expects the tag for stream number n. On a collision the
// first inserted entry wins.
func (r *TransportTagRecogniser) addTagLocked(tk *crypto.SecretKey, wc *windowContext, n uint64) {
	if n > crypto.MaxStreamNumber {
		return
	}
	var key tagKey
	r.crypto.EncodeTag(key[:], tk, n)
	if existing, ok := r.tags[key]; ok {
		logrus.WithFields(logrus.Fields{
			"function":        "addTagLocked",
			"transport":       r.transportID,
			"contact":         wc.contactID,
			"period":          wc.period,
			"stream_number":   n,
			"kept_contact":    existing.window.contactID,
			"kept_period":     existing.window.period,
			"kept_stream_num": existing.streamNumber,
		}).Warn("Tag collision, keeping first entry")
		return
	}
	r.tags[key] = &tagContext{window: wc, streamNumber: n}
}

// removeTagLocked stops expecting the tag for stream number n if it still
// belongs to wc.
func (r *TransportTagRecogniser) removeTagLocked(tk *crypto.SecretKey, wc *windowContext, n uint64) {
	if n > crypto.MaxStreamNumber {
		return
	}
	var key tagKey
	r.crypto.EncodeTag(key[:], tk, n)
	if t, ok := r.tags[key]; ok && t.window == wc && t.streamNumber == n {
		delete(r.tags, key)
	}
}

func (r *TransportTagRecogniser) removeWindowLocked(key windowKey, wc *windowContext) {
	tk := r.crypto.DeriveTagKey(wc.secret, !wc.alice)
	for _, n := range wc.window.Unseen() {
		r.removeTagLocked(tk, wc, n)
	}
	tk.Erase()
	crypto.ZeroBytes(wc.secret)
	delete(r.windows, key)
}

// tagCount returns the number of expected tags.
func (r *TransportTagRecogniser) tagCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tags)
}
