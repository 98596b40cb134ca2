package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/tagmesh/crypto"
)

// storedWindow records one SetReorderingWindow call.
type storedWindow struct {
	contact   ContactID
	transport TransportID
	period    uint64
	centre    uint64
	bitmap    []byte
}

type secretKey struct {
	contact   ContactID
	transport TransportID
	period    uint64
}

// memStore is an in-memory SecretStore for tests.
type memStore struct {
	mu        sync.Mutex
	secrets   map[secretKey]*TemporarySecret
	windows   []storedWindow
	windowErr error
	added     int
}

func newMemStore() *memStore {
	return &memStore{secrets: make(map[secretKey]*TemporarySecret)}
}

func (m *memStore) SetReorderingWindow(c ContactID, t TransportID, period, centre uint64, bitmap []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windowErr != nil {
		return m.windowErr
	}
	m.windows = append(m.windows, storedWindow{c, t, period, centre, append([]byte(nil), bitmap...)})
	if s, ok := m.secrets[secretKey{c, t, period}]; ok {
		s.WindowCentre = centre
		s.WindowBitmap = append([]byte(nil), bitmap...)
	}
	return nil
}

func (m *memStore) lastWindow() (storedWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.windows) == 0 {
		return storedWindow{}, false
	}
	return m.windows[len(m.windows)-1], true
}

func (m *memStore) GetSecrets() ([]*TemporarySecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TemporarySecret, 0, len(m.secrets))
	for _, s := range m.secrets {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *memStore) AddSecrets(secrets []*TemporarySecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range secrets {
		m.secrets[secretKey{s.ContactID, s.TransportID, s.Period}] = s.Clone()
		m.added++
		for k := range m.secrets {
			if k.contact == s.ContactID && k.transport == s.TransportID && k.period+2 < s.Period {
				delete(m.secrets, k)
			}
		}
	}
	return nil
}

func (m *memStore) RemoveSecrets(c ContactID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.secrets {
		if k.contact == c {
			delete(m.secrets, k)
		}
	}
	return nil
}

func (m *memStore) IncrementStreamCounter(c ContactID, t TransportID, period uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[secretKey{c, t, period}]
	if !ok {
		return -1, nil
	}
	n := s.OutgoingStreamCounter
	s.OutgoingStreamCounter++
	return int64(n), nil
}

func (m *memStore) periods(c ContactID, t TransportID) map[uint64]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]bool)
	for k := range m.secrets {
		if k.contact == c && k.transport == t {
			out[k.period] = true
		}
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

// mockTimeProvider is a settable clock.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider(now time.Time) *mockTimeProvider {
	return &mockTimeProvider{now: now}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// testSecret returns a deterministic 32-byte secret.
func testSecret(seed byte) []byte {
	b := make([]byte, crypto.SecretKeyBytes)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// expectedTag computes the tag the peer of a secret holder with role alice
// would send for stream number n.
func expectedTag(c *crypto.Component, secret []byte, alice bool, n uint64) []byte {
	tk := c.DeriveTagKey(secret, !alice)
	defer tk.Erase()
	tag := make([]byte, TagLength)
	c.EncodeTag(tag, tk, n)
	return tag
}
