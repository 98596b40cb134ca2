package db

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, passphrase string) *LevelDB {
	t.Helper()
	var pass []byte
	if passphrase != "" {
		pass = []byte(passphrase)
	}
	l, err := OpenMemory(pass)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testSecret(c transport.ContactID, tr transport.TransportID, period uint64, seed byte) *transport.TemporarySecret {
	secret := make([]byte, crypto.SecretKeyBytes)
	for i := range secret {
		secret[i] = seed
	}
	return &transport.TemporarySecret{
		ContactID:      c,
		TransportID:    tr,
		TransportIndex: 0,
		Epoch:          1700000000000,
		Alice:          true,
		Period:         period,
		Secret:         secret,
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	for _, passphrase := range []string{"", "hunter2"} {
		l := openTestDB(t, passphrase)
		s := testSecret(1, "lan", 3, 0x42)
		require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{s}))

		got, err := l.GetSecrets()
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, s.Secret, got[0].Secret, "passphrase %q", passphrase)
		assert.Equal(t, s.Epoch, got[0].Epoch)
		assert.Equal(t, uint64(3), got[0].Period)
		assert.True(t, got[0].Alice)
	}
}

func TestSecretsSealedAtRest(t *testing.T) {
	l := openTestDB(t, "hunter2")
	s := testSecret(1, "lan", 0, 0x42)
	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{s}))

	raw, err := l.db.Get(secretKey(1, "lan", 0), nil)
	require.NoError(t, err)
	var r secretRecord
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.NotEqual(t, s.Secret, r.Secret)
	assert.Greater(t, len(r.Secret), crypto.SecretKeyBytes)
}

func TestAddSecretsDeletesObsolete(t *testing.T) {
	l := openTestDB(t, "")
	var batch []*transport.TemporarySecret
	for p := uint64(0); p < 3; p++ {
		batch = append(batch, testSecret(1, "lan", p, byte(p)))
	}
	batch = append(batch, testSecret(1, "file", 0, 9))
	require.NoError(t, l.AddSecrets(batch))

	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{testSecret(1, "lan", 4, 4)}))

	got, err := l.GetSecrets()
	require.NoError(t, err)
	periods := make(map[transport.TransportID][]uint64)
	for _, s := range got {
		periods[s.TransportID] = append(periods[s.TransportID], s.Period)
	}
	assert.Equal(t, []uint64{2, 4}, periods["lan"])
	assert.Equal(t, []uint64{0}, periods["file"])
}

func TestSetReorderingWindow(t *testing.T) {
	l := openTestDB(t, "")
	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{testSecret(1, "lan", 0, 1)}))

	require.NoError(t, l.SetReorderingWindow(1, "lan", 0, 1, []byte{0, 1, 0, 0}))
	got, err := l.GetSecrets()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].WindowCentre)
	assert.Equal(t, []byte{0, 1, 0, 0}, got[0].WindowBitmap)

	err = l.SetReorderingWindow(2, "lan", 0, 1, []byte{0, 1, 0, 0})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementStreamCounter(t *testing.T) {
	l := openTestDB(t, "")
	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{testSecret(1, "lan", 0, 1)}))

	for want := int64(0); want < 3; want++ {
		n, err := l.IncrementStreamCounter(1, "lan", 0)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := l.IncrementStreamCounter(1, "lan", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)

	exhausted := testSecret(2, "lan", 0, 2)
	exhausted.OutgoingStreamCounter = crypto.MaxStreamNumber + 1
	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{exhausted}))
	n, err = l.IncrementStreamCounter(2, "lan", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestContacts(t *testing.T) {
	l := openTestDB(t, "")
	var pub [32]byte
	pub[0] = 9

	id1, err := l.AddContact("alice", pub, true)
	require.NoError(t, err)
	id2, err := l.AddContact("bob", pub, false)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	c, err := l.GetContact(id2)
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Name)
	assert.Equal(t, pub, c.PublicKey)
	assert.False(t, c.Alice)

	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{testSecret(id1, "lan", 0, 1)}))
	_, err = l.AddOutgoingMessage(id1, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, l.RemoveContact(id1))
	contacts, err := l.GetContacts()
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, id2, contacts[0].ID)

	secrets, err := l.GetSecrets()
	require.NoError(t, err)
	assert.Empty(t, secrets)
	msgs, err := l.GetOutgoingMessages(id1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = l.GetContact(id1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.RemoveContact(id1), ErrNotFound)
}

func TestMessages(t *testing.T) {
	l := openTestDB(t, "")
	a, err := l.AddOutgoingMessage(1, []byte("first"))
	require.NoError(t, err)
	_, err = l.AddOutgoingMessage(1, []byte("second"))
	require.NoError(t, err)
	_, err = l.AddOutgoingMessage(2, []byte("other"))
	require.NoError(t, err)

	msgs, err := l.GetOutgoingMessages(1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", string(msgs[0].Body))
	assert.Equal(t, "second", string(msgs[1].Body))

	require.NoError(t, l.RemoveOutgoingMessage(1, a))
	msgs, err = l.GetOutgoingMessages(1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = l.AddIncomingMessage(1, []byte("reply"))
	require.NoError(t, err)
	in, err := l.GetIncomingMessages(1)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, transport.ContactID(1), in[0].ContactID)
}

func TestTransports(t *testing.T) {
	l := openTestDB(t, "")
	require.NoError(t, l.SetTransport(transport.TransportConfig{ID: "lan", Index: 0, MaxLatency: time.Minute}))
	require.NoError(t, l.SetTransport(transport.TransportConfig{ID: "lan", Index: 0, MaxLatency: 2 * time.Minute}))
	assert.Error(t, l.SetTransport(transport.TransportConfig{ID: "lan", Index: 1}))
	assert.Error(t, l.SetTransport(transport.TransportConfig{ID: ""}))

	ts, err := l.GetTransports()
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, 2*time.Minute, ts[0].MaxLatency)
}

func TestLocalKeyPair(t *testing.T) {
	l := openTestDB(t, "pw")
	_, err := l.GetLocalKeyPair()
	assert.ErrorIs(t, err, ErrNotFound)

	kp, err := crypto.NewComponent().GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, l.SetLocalKeyPair(kp))

	got, err := l.GetLocalKeyPair()
	require.NoError(t, err)
	assert.Equal(t, kp.Public, got.Public)
	assert.Equal(t, kp.Private, got.Private)
}

func TestLocalKeyPairMismatchIsCorrupt(t *testing.T) {
	l := openTestDB(t, "pw")
	kp, err := crypto.NewComponent().GenerateKeyPair()
	require.NoError(t, err)
	kp.Public[0] ^= 0xff
	require.NoError(t, l.SetLocalKeyPair(kp))

	_, err = l.GetLocalKeyPair()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	l, err := Open(path, []byte("right"))
	require.NoError(t, err)
	require.NoError(t, l.AddSecrets([]*transport.TemporarySecret{testSecret(1, "lan", 0, 5)}))
	require.NoError(t, l.Close())

	_, err = Open(path, []byte("wrong"))
	assert.ErrorIs(t, err, ErrPassphrase)
	_, err = Open(path, nil)
	assert.ErrorIs(t, err, ErrPassphrase)

	l, err = Open(path, []byte("right"))
	require.NoError(t, err)
	defer l.Close()
	secrets, err := l.GetSecrets()
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, byte(5), secrets[0].Secret[0])
}

func TestClosed(t *testing.T) {
	l, err := OpenMemory(nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.GetSecrets()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.IncrementStreamCounter(1, "lan", 0)
	assert.ErrorIs(t, err, ErrClosed)
}
