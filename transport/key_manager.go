package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/sirupsen/logrus"
)

const (
	// MaxClockDifference is the largest clock skew tolerated between
	// contacts.
	MaxClockDifference = 24 * time.Hour

	// DefaultRotationCheckInterval is how often the key manager checks
	// whether a rotation period has ended.
	DefaultRotationCheckInterval = time.Minute
)

// ErrUnknownTransport indicates a transport the key manager was not started
// with.
var ErrUnknownTransport = errors.New("unknown transport")

// SecretStore is the part of the database the key manager needs.
type SecretStore interface {
	WindowStore
	GetSecrets() ([]*TemporarySecret, error)
	// AddSecrets stores secrets and deletes those that have become obsolete.
	AddSecrets(secrets []*TemporarySecret) error
	RemoveSecrets(c ContactID) error
	// IncrementStreamCounter returns the counter before incrementing, or -1
	// if there is no such secret or its counter is exhausted.
	IncrementStreamCounter(c ContactID, t TransportID, period uint64) (int64, error)
}

// TransportConfig describes a transport known to the key manager. Index
// separates the secret chains of different transports and must never change
// once secrets exist.
type TransportConfig struct {
	ID         TransportID
	Index      int
	MaxLatency time.Duration
}

// RotationPeriod returns the lifetime of one secret on a transport with the
// given latency.
func RotationPeriod(maxLatency time.Duration) time.Duration {
	return 2*MaxClockDifference + maxLatency
}

// KeyManager owns the chain of temporary secrets for every contact and
// transport. It keeps the secrets for the previous, current and next
// rotation periods live in the tag recogniser and rolls them forward as
// periods end.
type KeyManager struct {
	crypto        *crypto.Component
	db            SecretStore
	recogniser    *TagRecogniser
	timeProvider  TimeProvider
	checkInterval time.Duration

	mu         sync.Mutex
	transports map[TransportID]TransportConfig
	// secrets holds the live secrets of each endpoint by period
	secrets map[endpointKey]map[uint64]*TemporarySecret
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKeyManager creates a key manager. Call Start before use.
func NewKeyManager(c *crypto.Component, db SecretStore, recogniser *TagRecogniser) *KeyManager {
	return &KeyManager{
		crypto:        c,
		db:            db,
		recogniser:    recogniser,
		timeProvider:  DefaultTimeProvider{},
		checkInterval: DefaultRotationCheckInterval,
		transports:    make(map[TransportID]TransportConfig),
		secrets:       make(map[endpointKey]map[uint64]*TemporarySecret),
	}
}

// SetTimeProvider replaces the clock. It must be called before Start.
func (m *KeyManager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeProvider = tp
}

// SetCheckInterval sets how often rotation is checked. It must be called
// before Start.
func (m *KeyManager) SetCheckInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkInterval = d
}

// Start loads the stored secrets, rolls them forward to the current period,
// hands the live ones to the recogniser and starts the rotation loop.
func (m *KeyManager) Start(ctx context.Context, transports []TransportConfig) error {
	stored, err := m.db.GetSecrets()
	if err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("key manager already running")
	}

	for _, t := range transports {
		if t.Index < 0 || t.Index > crypto.MaxIndex {
			return fmt.Errorf("transport %s: index %d out of range", t.ID, t.Index)
		}
		m.transports[t.ID] = t
	}

	for _, s := range stored {
		if _, ok := m.transports[s.TransportID]; !ok {
			logrus.WithFields(logrus.Fields{
				"function":  "Start",
				"contact":   s.ContactID,
				"transport": s.TransportID,
			}).Debug("Ignoring secret for unconfigured transport")
			crypto.ZeroBytes(s.Secret)
			continue
		}
		key := s.endpoint()
		if m.secrets[key] == nil {
			m.secrets[key] = make(map[uint64]*TemporarySecret)
		}
		m.secrets[key][s.Period] = s
	}

	now := m.timeProvider.Now()
	var created []*TemporarySecret
	for key := range m.secrets {
		created = append(created, m.rollLocked(key, now)...)
	}
	if len(created) > 0 {
		if err := m.db.AddSecrets(created); err != nil {
			return fmt.Errorf("storing secrets: %w", err)
		}
	}
	for _, chain := range m.secrets {
		for _, s := range chain {
			if err := m.recogniser.AddSecret(s); err != nil {
				return err
			}
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.rotationLoop(loopCtx, m.checkInterval)

	logrus.WithFields(logrus.Fields{
		"function":   "Start",
		"transports": len(m.transports),
		"endpoints":  len(m.secrets),
		"created":    len(created),
	}).Info("Key manager started")
	return nil
}

// Stop ends the rotation loop, clears the recogniser and erases every
// secret held in memory.
func (m *KeyManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recogniser.RemoveAll()
	for key, chain := range m.secrets {
		for _, s := range chain {
			crypto.ZeroBytes(s.Secret)
		}
		delete(m.secrets, key)
	}
	logrus.WithField("function", "Stop").Info("Key manager stopped")
}

// ContactAdded derives the secret chains for a new contact on every
// transport. rootSeed is the secret agreed at pairing; the key manager
// zeroes it once the chains exist. epoch is the pairing time.
func (m *KeyManager) ContactAdded(c ContactID, alice bool, rootSeed []byte, epoch time.Time) error {
	defer crypto.ZeroBytes(rootSeed)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeProvider.Now()
	var created []*TemporarySecret
	for _, t := range m.sortedTransportsLocked() {
		first := &TemporarySecret{
			ContactID:      c,
			TransportID:    t.ID,
			TransportIndex: t.Index,
			Epoch:          epoch.UnixMilli(),
			Alice:          alice,
			Period:         0,
			Secret:         m.crypto.DeriveNextSecret(rootSeed, t.Index, 0),
		}
		key := first.endpoint()
		for period, old := range m.secrets[key] {
			m.recogniser.RemoveSecret(c, t.ID, period)
			crypto.ZeroBytes(old.Secret)
		}
		m.secrets[key] = map[uint64]*TemporarySecret{0: first}
		m.rollLocked(key, now)
		for _, s := range m.secrets[key] {
			created = append(created, s)
		}
	}

	if err := m.db.AddSecrets(created); err != nil {
		return fmt.Errorf("storing secrets for contact %d: %w", c, err)
	}
	for _, s := range created {
		if err := m.recogniser.AddSecret(s); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "ContactAdded",
		"contact":  c,
		"secrets":  len(created),
	}).Info("Added contact to key manager")
	return nil
}

// ContactRemoved forgets every secret belonging to contact c.
func (m *KeyManager) ContactRemoved(c ContactID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recogniser.RemoveSecrets(c)
	for key, chain := range m.secrets {
		if key.contactID != c {
			continue
		}
		for _, s := range chain {
			crypto.ZeroBytes(s.Secret)
		}
		delete(m.secrets, key)
	}
	if err := m.db.RemoveSecrets(c); err != nil {
		return fmt.Errorf("removing secrets for contact %d: %w", c, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "ContactRemoved",
		"contact":  c,
	}).Info("Removed contact from key manager")
	return nil
}

// GetStreamContext allocates the next outgoing stream number for contact c
// on transport t under the current period's secret. It returns nil if
// there is no such secret or its stream numbers are used up. The caller
// owns the returned context.
func (m *KeyManager) GetStreamContext(c ContactID, t TransportID) (*StreamContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.transports[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, t)
	}
	chain := m.secrets[endpointKey{contactID: c, transportID: t}]
	if chain == nil {
		return nil, nil
	}

	latest := latestSecret(chain)
	if latest == nil {
		return nil, nil
	}
	current, ok := chain[m.periodLocked(latest.Epoch, tc, m.timeProvider.Now())]
	if !ok {
		return nil, nil
	}

	counter, err := m.db.IncrementStreamCounter(c, t, current.Period)
	if err != nil {
		return nil, fmt.Errorf("incrementing stream counter: %w", err)
	}
	if counter < 0 || counter > crypto.MaxStreamNumber {
		logrus.WithFields(logrus.Fields{
			"function":  "GetStreamContext",
			"contact":   c,
			"transport": t,
			"period":    current.Period,
		}).Warn("No stream number available")
		return nil, nil
	}
	secret := append([]byte(nil), current.Secret...)
	return NewStreamContext(c, t, current.Alice, secret, uint64(counter)), nil
}

// HasSecrets reports whether contact c has live secrets on transport t.
func (m *KeyManager) HasSecrets(c ContactID, t TransportID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secrets[endpointKey{contactID: c, transportID: t}]) > 0
}

func (m *KeyManager) rotationLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Rotate(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "rotationLoop",
					"error":    err.Error(),
				}).Error("Key rotation failed")
			}
		}
	}
}

// Rotate rolls every secret chain forward to the current time. The
// rotation loop calls it periodically; tests call it directly.
func (m *KeyManager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeProvider.Now()
	var created []*TemporarySecret
	for key := range m.secrets {
		created = append(created, m.rollLocked(key, now)...)
	}
	if len(created) == 0 {
		return nil
	}
	if err := m.db.AddSecrets(created); err != nil {
		return fmt.Errorf("storing rotated secrets: %w", err)
	}
	for _, s := range created {
		if err := m.recogniser.AddSecret(s); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "Rotate",
		"created":  len(created),
	}).Debug("Rotated secrets")
	return nil
}

// rollLocked extends the chain at key up to the period after the current
// one and drops secrets older than the previous period. It returns the
// secrets it created; dropped secrets are removed from the recogniser and
// zeroed.
func (m *KeyManager) rollLocked(key endpointKey, now time.Time) []*TemporarySecret {
	chain := m.secrets[key]
	tc := m.transports[key.transportID]

	latest := latestSecret(chain)
	if latest == nil {
		return nil
	}
	current := m.periodLocked(latest.Epoch, tc, now)

	var created []*TemporarySecret
	for latest.Period < current+1 && latest.Period < crypto.MaxConnection {
		next := &TemporarySecret{
			ContactID:      latest.ContactID,
			TransportID:    latest.TransportID,
			TransportIndex: tc.Index,
			Epoch:          latest.Epoch,
			Alice:          latest.Alice,
			Period:         latest.Period + 1,
			Secret:         m.crypto.DeriveNextSecret(latest.Secret, tc.Index, int64(latest.Period+1)),
		}
		chain[next.Period] = next
		created = append(created, next)
		latest = next
	}

	for period, s := range chain {
		if period+1 >= current {
			continue
		}
		m.recogniser.RemoveSecret(s.ContactID, s.TransportID, period)
		crypto.ZeroBytes(s.Secret)
		delete(chain, period)
	}

	// Secrets created and then dropped in the same roll never reach the
	// database or the recogniser
	live := created[:0]
	for _, s := range created {
		if _, ok := chain[s.Period]; ok {
			live = append(live, s)
		}
	}
	return live
}

// periodLocked returns the rotation period containing now for a chain
// starting at epoch (milliseconds).
func (m *KeyManager) periodLocked(epoch int64, tc TransportConfig, now time.Time) uint64 {
	elapsed := now.UnixMilli() - epoch
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / RotationPeriod(tc.MaxLatency).Milliseconds())
}

func (m *KeyManager) sortedTransportsLocked() []TransportConfig {
	ts := make([]TransportConfig, 0, len(m.transports))
	for _, t := range m.transports {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Index < ts[j].Index })
	return ts
}

func latestSecret(chain map[uint64]*TemporarySecret) *TemporarySecret {
	var latest *TemporarySecret
	for _, s := range chain {
		if latest == nil || s.Period > latest.Period {
			latest = s
		}
	}
	return latest
}
