package db

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// syncWrite makes every write durable before it returns.
var syncWrite = &opt.WriteOptions{Sync: true}

// LevelDB implements Database on goleveldb.
type LevelDB struct {
	mu     sync.Mutex
	db     *leveldb.DB
	sealer *crypto.Sealer
	closed bool
}

var _ Database = (*LevelDB)(nil)

// Open opens or creates the database at path. An empty passphrase stores
// secrets unsealed; a database created with a passphrase must always be
// opened with the same one.
func Open(path string, passphrase []byte) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	l, err := wrap(ldb, passphrase)
	if err != nil {
		ldb.Close()
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     path,
		"sealed":   l.sealer != nil,
	}).Info("Opened database")
	return l, nil
}

// OpenMemory returns a database held entirely in memory, for tests and
// throwaway nodes.
func OpenMemory(passphrase []byte) (*LevelDB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	return wrap(ldb, passphrase)
}

func wrap(ldb *leveldb.DB, passphrase []byte) (*LevelDB, error) {
	l := &LevelDB{db: ldb}

	check, err := ldb.Get(keyCheck, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		check = nil
	case err != nil:
		return nil, fmt.Errorf("reading passphrase check: %w", err)
	}

	if len(passphrase) == 0 {
		if check != nil {
			return nil, ErrPassphrase
		}
		return l, nil
	}

	salt, err := ldb.Get(keySalt, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		if check != nil {
			return nil, fmt.Errorf("%w: salt missing", ErrCorrupt)
		}
		if salt, err = crypto.GenerateSalt(); err != nil {
			return nil, err
		}
		if err := ldb.Put(keySalt, salt, syncWrite); err != nil {
			return nil, fmt.Errorf("storing salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	sealer, err := crypto.NewSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if check == nil {
		sealed, err := sealer.Seal(passphraseCheck, keyCheck)
		if err != nil {
			return nil, err
		}
		if err := ldb.Put(keyCheck, sealed, syncWrite); err != nil {
			return nil, fmt.Errorf("storing passphrase check: %w", err)
		}
	} else if _, err := sealer.Open(check, keyCheck); err != nil {
		sealer.Close()
		return nil, ErrPassphrase
	}
	l.sealer = sealer
	return l, nil
}

// Close closes the database and wipes the sealing key.
func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.sealer != nil {
		l.sealer.Close()
	}
	return l.db.Close()
}

func (l *LevelDB) seal(value, key []byte) ([]byte, error) {
	if l.sealer == nil {
		return value, nil
	}
	return l.sealer.Seal(value, key)
}

func (l *LevelDB) open(value, key []byte) ([]byte, error) {
	if l.sealer == nil {
		return value, nil
	}
	plain, err := l.sealer.Open(value, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plain, nil
}

// getJSON reads and decodes the record at key. The caller holds l.mu.
func (l *LevelDB) getJSON(key []byte, v interface{}) error {
	if l.closed {
		return ErrClosed
	}
	data, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func putJSON(b *leveldb.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Put(key, data)
	return nil
}

// nextSequence allocates the next value of the counter at key inside
// batch b. The caller holds l.mu.
func (l *LevelDB) nextSequence(b *leveldb.Batch, key []byte) (uint64, error) {
	var next uint64
	data, err := l.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return 0, err
	case len(data) != 8:
		return 0, fmt.Errorf("%w: sequence %s", ErrCorrupt, key)
	default:
		next = binary.BigEndian.Uint64(data)
	}
	b.Put(key, appendUint64(nil, next+1))
	return next, nil
}

// deletePrefix adds a delete for every key under prefix to b.
func (l *LevelDB) deletePrefix(b *leveldb.Batch, prefix []byte) error {
	it := l.db.NewIterator(prefixRange(prefix), nil)
	defer it.Release()
	for it.Next() {
		b.Delete(append([]byte(nil), it.Key()...))
	}
	return it.Error()
}

// Secrets

type secretRecord struct {
	ContactID             transport.ContactID   `json:"contact_id"`
	TransportID           transport.TransportID `json:"transport_id"`
	TransportIndex        int                   `json:"transport_index"`
	Epoch                 int64                 `json:"epoch"`
	Alice                 bool                  `json:"alice"`
	Period                uint64                `json:"period"`
	Secret                []byte                `json:"secret"`
	OutgoingStreamCounter uint64                `json:"outgoing_stream_counter"`
	WindowCentre          uint64                `json:"window_centre"`
	WindowBitmap          []byte                `json:"window_bitmap,omitempty"`
}

func (l *LevelDB) encodeSecret(s *transport.TemporarySecret) (*secretRecord, error) {
	key := secretKey(s.ContactID, s.TransportID, s.Period)
	sealed, err := l.seal(s.Secret, key)
	if err != nil {
		return nil, err
	}
	return &secretRecord{
		ContactID:             s.ContactID,
		TransportID:           s.TransportID,
		TransportIndex:        s.TransportIndex,
		Epoch:                 s.Epoch,
		Alice:                 s.Alice,
		Period:                s.Period,
		Secret:                sealed,
		OutgoingStreamCounter: s.OutgoingStreamCounter,
		WindowCentre:          s.WindowCentre,
		WindowBitmap:          s.WindowBitmap,
	}, nil
}

func (l *LevelDB) decodeSecret(r *secretRecord) (*transport.TemporarySecret, error) {
	secret, err := l.open(r.Secret, secretKey(r.ContactID, r.TransportID, r.Period))
	if err != nil {
		return nil, err
	}
	if len(secret) != crypto.SecretKeyBytes {
		return nil, fmt.Errorf("%w: secret length %d", ErrCorrupt, len(secret))
	}
	return &transport.TemporarySecret{
		ContactID:             r.ContactID,
		TransportID:           r.TransportID,
		TransportIndex:        r.TransportIndex,
		Epoch:                 r.Epoch,
		Alice:                 r.Alice,
		Period:                r.Period,
		Secret:                secret,
		OutgoingStreamCounter: r.OutgoingStreamCounter,
		WindowCentre:          r.WindowCentre,
		WindowBitmap:          r.WindowBitmap,
	}, nil
}

// GetSecrets returns every stored secret.
func (l *LevelDB) GetSecrets() ([]*transport.TemporarySecret, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	var secrets []*transport.TemporarySecret
	it := l.db.NewIterator(prefixRange(prefixSecret), nil)
	defer it.Release()
	for it.Next() {
		var r secretRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("%w: secret: %v", ErrCorrupt, err)
		}
		s, err := l.decodeSecret(&r)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	return secrets, it.Error()
}

// AddSecrets stores secrets and deletes, for each chain they extend, the
// secrets more than two periods older than the newest one added.
func (l *LevelDB) AddSecrets(secrets []*transport.TemporarySecret) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	type endpoint struct {
		c transport.ContactID
		t transport.TransportID
	}
	newest := make(map[endpoint]uint64)
	adding := make(map[string]bool)
	for _, s := range secrets {
		e := endpoint{s.ContactID, s.TransportID}
		if p, ok := newest[e]; !ok || s.Period > p {
			newest[e] = s.Period
		}
		adding[string(secretKey(s.ContactID, s.TransportID, s.Period))] = true
	}

	b := new(leveldb.Batch)
	obsolete := 0
	for e, period := range newest {
		it := l.db.NewIterator(prefixRange(secretEndpointPrefix(e.c, e.t)), nil)
		for it.Next() {
			key := it.Key()
			if periodFromSecretKey(key)+2 < period && !adding[string(key)] {
				b.Delete(append([]byte(nil), key...))
				obsolete++
			}
		}
		it.Release()
		if err := it.Error(); err != nil {
			return err
		}
	}
	for _, s := range secrets {
		r, err := l.encodeSecret(s)
		if err != nil {
			return err
		}
		if err := putJSON(b, secretKey(s.ContactID, s.TransportID, s.Period), r); err != nil {
			return err
		}
	}
	if err := l.db.Write(b, syncWrite); err != nil {
		return fmt.Errorf("writing secrets: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "AddSecrets",
		"added":    len(secrets),
		"obsolete": obsolete,
	}).Debug("Stored secrets")
	return nil
}

// SetReorderingWindow updates the stored window of one secret.
func (l *LevelDB) SetReorderingWindow(c transport.ContactID, t transport.TransportID, period, centre uint64,
	bitmap []byte,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := secretKey(c, t, period)
	var r secretRecord
	if err := l.getJSON(key, &r); err != nil {
		return fmt.Errorf("secret %d/%s/%d: %w", c, t, period, err)
	}
	r.WindowCentre = centre
	r.WindowBitmap = append([]byte(nil), bitmap...)

	b := new(leveldb.Batch)
	if err := putJSON(b, key, &r); err != nil {
		return err
	}
	return l.db.Write(b, syncWrite)
}

// IncrementStreamCounter returns the outgoing stream counter of one secret
// and increments it, or returns -1 if there is no such secret or the
// counter is exhausted.
func (l *LevelDB) IncrementStreamCounter(c transport.ContactID, t transport.TransportID, period uint64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := secretKey(c, t, period)
	var r secretRecord
	err := l.getJSON(key, &r)
	if errors.Is(err, ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	if r.OutgoingStreamCounter > crypto.MaxStreamNumber {
		return -1, nil
	}
	counter := r.OutgoingStreamCounter
	r.OutgoingStreamCounter++

	b := new(leveldb.Batch)
	if err := putJSON(b, key, &r); err != nil {
		return 0, err
	}
	if err := l.db.Write(b, syncWrite); err != nil {
		return 0, err
	}
	return int64(counter), nil
}

// RemoveSecrets deletes every secret of contact c.
func (l *LevelDB) RemoveSecrets(c transport.ContactID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	b := new(leveldb.Batch)
	if err := l.deletePrefix(b, secretContactPrefix(c)); err != nil {
		return err
	}
	return l.db.Write(b, syncWrite)
}

// Contacts

type contactRecord struct {
	ID        transport.ContactID `json:"id"`
	Name      string              `json:"name"`
	PublicKey []byte              `json:"public_key"`
	Alice     bool                `json:"alice"`
	Added     time.Time           `json:"added"`
}

func (r *contactRecord) contact() (*Contact, error) {
	if len(r.PublicKey) != 32 {
		return nil, fmt.Errorf("%w: contact %d public key", ErrCorrupt, r.ID)
	}
	c := &Contact{ID: r.ID, Name: r.Name, Alice: r.Alice, Added: r.Added}
	copy(c.PublicKey[:], r.PublicKey)
	return c, nil
}

// AddContact stores a new contact and returns its id.
func (l *LevelDB) AddContact(name string, publicKey [32]byte, alice bool) (transport.ContactID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	b := new(leveldb.Batch)
	seq, err := l.nextSequence(b, keyNextContact)
	if err != nil {
		return 0, err
	}
	id := transport.ContactID(seq + 1)
	r := &contactRecord{
		ID:        id,
		Name:      name,
		PublicKey: publicKey[:],
		Alice:     alice,
		Added:     time.Now().UTC(),
	}
	if err := putJSON(b, contactKey(id), r); err != nil {
		return 0, err
	}
	if err := l.db.Write(b, syncWrite); err != nil {
		return 0, fmt.Errorf("writing contact: %w", err)
	}
	return id, nil
}

// GetContact returns one contact.
func (l *LevelDB) GetContact(c transport.ContactID) (*Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var r contactRecord
	if err := l.getJSON(contactKey(c), &r); err != nil {
		return nil, fmt.Errorf("contact %d: %w", c, err)
	}
	return r.contact()
}

// GetContacts returns every contact in id order.
func (l *LevelDB) GetContacts() ([]*Contact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	var contacts []*Contact
	it := l.db.NewIterator(prefixRange(prefixContact), nil)
	defer it.Release()
	for it.Next() {
		var r contactRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("%w: contact: %v", ErrCorrupt, err)
		}
		c, err := r.contact()
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, it.Error()
}

// RemoveContact deletes a contact with its secrets and messages.
func (l *LevelDB) RemoveContact(c transport.ContactID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, err := l.db.Get(contactKey(c), nil); errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("contact %d: %w", c, ErrNotFound)
	}

	b := new(leveldb.Batch)
	b.Delete(contactKey(c))
	for _, prefix := range [][]byte{
		secretContactPrefix(c),
		messagePrefix(prefixOutbox, c),
		messagePrefix(prefixInbox, c),
	} {
		if err := l.deletePrefix(b, prefix); err != nil {
			return err
		}
	}
	return l.db.Write(b, syncWrite)
}

// Transports

type transportRecord struct {
	ID         transport.TransportID `json:"id"`
	Index      int                   `json:"index"`
	MaxLatency int64                 `json:"max_latency_ms"`
}

// SetTransport stores a transport's configuration. Once a transport has an
// index it cannot be given another.
func (l *LevelDB) SetTransport(t transport.TransportConfig) error {
	if len(t.ID) == 0 || len(t.ID) > 255 {
		return fmt.Errorf("invalid transport id %q", t.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var existing transportRecord
	err := l.getJSON(transportKey(t.ID), &existing)
	switch {
	case err == nil && existing.Index != t.Index:
		return fmt.Errorf("transport %s already has index %d", t.ID, existing.Index)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	b := new(leveldb.Batch)
	r := &transportRecord{ID: t.ID, Index: t.Index, MaxLatency: t.MaxLatency.Milliseconds()}
	if err := putJSON(b, transportKey(t.ID), r); err != nil {
		return err
	}
	return l.db.Write(b, syncWrite)
}

// GetTransports returns every stored transport.
func (l *LevelDB) GetTransports() ([]transport.TransportConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	var transports []transport.TransportConfig
	it := l.db.NewIterator(prefixRange(prefixTransport), nil)
	defer it.Release()
	for it.Next() {
		var r transportRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("%w: transport: %v", ErrCorrupt, err)
		}
		transports = append(transports, transport.TransportConfig{
			ID:         r.ID,
			Index:      r.Index,
			MaxLatency: time.Duration(r.MaxLatency) * time.Millisecond,
		})
	}
	return transports, it.Error()
}

// Identity

// SetLocalKeyPair stores our long-term key pair, sealed if a passphrase is
// configured.
func (l *LevelDB) SetLocalKeyPair(kp *crypto.KeyPair) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	plain := make([]byte, 64)
	copy(plain[:32], kp.Public[:])
	copy(plain[32:], kp.Private[:])
	defer crypto.ZeroBytes(plain)

	sealed, err := l.seal(plain, keyLocalIdentity)
	if err != nil {
		return err
	}
	return l.db.Put(keyLocalIdentity, append([]byte(nil), sealed...), syncWrite)
}

// GetLocalKeyPair returns our long-term key pair.
func (l *LevelDB) GetLocalKeyPair() (*crypto.KeyPair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	data, err := l.db.Get(keyLocalIdentity, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("local identity: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	plain, err := l.open(data, keyLocalIdentity)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(plain)
	if len(plain) != 64 {
		return nil, fmt.Errorf("%w: local identity length %d", ErrCorrupt, len(plain))
	}
	var private [32]byte
	copy(private[:], plain[32:])
	kp, err := crypto.FromSecretKey(private)
	crypto.ZeroBytes(private[:])
	if err != nil {
		return nil, fmt.Errorf("%w: local identity: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(kp.Public[:], plain[:32]) {
		crypto.WipeKeyPair(kp)
		return nil, fmt.Errorf("%w: local identity public key mismatch", ErrCorrupt)
	}
	return kp, nil
}

// Messages

type messageRecord struct {
	ID        uint64              `json:"id"`
	ContactID transport.ContactID `json:"contact_id"`
	Timestamp time.Time           `json:"timestamp"`
	Body      []byte              `json:"body"`
}

func (l *LevelDB) addMessage(prefix []byte, c transport.ContactID, body []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	b := new(leveldb.Batch)
	id, err := l.nextSequence(b, keyNextMessage)
	if err != nil {
		return 0, err
	}
	r := &messageRecord{ID: id, ContactID: c, Timestamp: time.Now().UTC(), Body: body}
	if err := putJSON(b, messageKey(prefix, c, id), r); err != nil {
		return 0, err
	}
	if err := l.db.Write(b, syncWrite); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *LevelDB) getMessages(prefix []byte, c transport.ContactID) ([]*Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	var messages []*Message
	it := l.db.NewIterator(prefixRange(messagePrefix(prefix, c)), nil)
	defer it.Release()
	for it.Next() {
		var r messageRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("%w: message: %v", ErrCorrupt, err)
		}
		messages = append(messages, &Message{ID: r.ID, ContactID: r.ContactID, Timestamp: r.Timestamp, Body: r.Body})
	}
	return messages, it.Error()
}

// AddOutgoingMessage queues body for delivery to contact c.
func (l *LevelDB) AddOutgoingMessage(c transport.ContactID, body []byte) (uint64, error) {
	return l.addMessage(prefixOutbox, c, body)
}

// GetOutgoingMessages returns the messages queued for c, oldest first.
func (l *LevelDB) GetOutgoingMessages(c transport.ContactID) ([]*Message, error) {
	return l.getMessages(prefixOutbox, c)
}

// RemoveOutgoingMessage removes a delivered message from the queue.
func (l *LevelDB) RemoveOutgoingMessage(c transport.ContactID, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.Delete(messageKey(prefixOutbox, c, id), syncWrite)
}

// AddIncomingMessage stores a message received from contact c.
func (l *LevelDB) AddIncomingMessage(c transport.ContactID, body []byte) (uint64, error) {
	return l.addMessage(prefixInbox, c, body)
}

// GetIncomingMessages returns the messages received from c, oldest first.
func (l *LevelDB) GetIncomingMessages(c transport.ContactID) ([]*Message, error) {
	return l.getMessages(prefixInbox, c)
}
