package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/tagmesh/config"
	"github.com/opd-ai/tagmesh/db"
	"github.com/opd-ai/tagmesh/plugins/tcp"
	tsync "github.com/opd-ai/tagmesh/sync"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCode = 123456

func testConfig(t *testing.T, dropDir string, tcpEnabled bool) *config.Config {
	t.Helper()
	conf := config.Default()
	conf.DataDir = t.TempDir()
	conf.Passphrase = "test passphrase"
	conf.File.Dir = dropDir
	conf.TCP.Enabled = tcpEnabled
	conf.TCP.Listen = "127.0.0.1:0"
	return conf
}

func openNode(t *testing.T, conf *config.Config) *Node {
	t.Helper()
	n, err := Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

// pair adds each node to the other and checks the confirmation codes.
func pair(t *testing.T, a, b *Node) (transport.ContactID, transport.ContactID) {
	t.Helper()
	pa, err := a.AddContact("bob", b.PublicKey(), testCode, true)
	require.NoError(t, err)
	pb, err := b.AddContact("alice", a.PublicKey(), testCode, false)
	require.NoError(t, err)
	assert.Equal(t, pa.OurCode, pb.TheirCode)
	assert.Equal(t, pb.OurCode, pa.TheirCode)
	return pa.Contact, pb.Contact
}

func TestIdentityPersists(t *testing.T) {
	conf := testConfig(t, t.TempDir(), false)
	n, err := Open(conf)
	require.NoError(t, err)
	pub := n.PublicKey()
	require.NoError(t, n.Close())

	n, err = Open(conf)
	require.NoError(t, err)
	defer n.Close()
	assert.Equal(t, pub, n.PublicKey())
}

func TestWrongPassphrase(t *testing.T) {
	conf := testConfig(t, t.TempDir(), false)
	n, err := Open(conf)
	require.NoError(t, err)
	require.NoError(t, n.Close())

	conf.Passphrase = "something else"
	_, err = Open(conf)
	assert.ErrorIs(t, err, db.ErrPassphrase)
}

func TestMismatchedCodeGivesDifferentConfirmation(t *testing.T) {
	drop := t.TempDir()
	a := openNode(t, testConfig(t, drop, false))
	b := openNode(t, testConfig(t, drop, false))

	pa, err := a.AddContact("bob", b.PublicKey(), testCode, true)
	require.NoError(t, err)
	pb, err := b.AddContact("alice", a.PublicKey(), testCode+1, false)
	require.NoError(t, err)
	assert.NotEqual(t, pa.OurCode, pb.TheirCode)
}

func TestFileExchange(t *testing.T) {
	drop := t.TempDir()
	a := openNode(t, testConfig(t, drop, false))
	b := openNode(t, testConfig(t, drop, false))
	bobAtAlice, aliceAtBob := pair(t, a, b)

	_, err := a.SendMessage(bobAtAlice, "hello over the drop")
	require.NoError(t, err)
	res, err := a.WriteFile(bobAtAlice)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, tsync.OutcomeClean, res.Outcome)

	files, _ := filepath.Glob(filepath.Join(drop, "*.dat"))
	require.Len(t, files, 1)

	// Alice does not read her own stream
	require.NoError(t, a.ReadFiles())
	inbox, err := a.Inbox(bobAtAlice)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	require.NoError(t, b.ReadFiles())
	inbox, err = b.Inbox(aliceAtBob)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "hello over the drop", string(inbox[0].Body))

	_, err = os.Stat(files[0])
	assert.True(t, os.IsNotExist(err), "recognised stream deleted")
}

func TestFileIgnoredByStranger(t *testing.T) {
	drop := t.TempDir()
	a := openNode(t, testConfig(t, drop, false))
	b := openNode(t, testConfig(t, drop, false))
	stranger := openNode(t, testConfig(t, drop, false))
	bobAtAlice, _ := pair(t, a, b)

	_, err := a.SendMessage(bobAtAlice, "not for you")
	require.NoError(t, err)
	_, err = a.WriteFile(bobAtAlice)
	require.NoError(t, err)

	require.NoError(t, stranger.ReadFiles())
	files, _ := filepath.Glob(filepath.Join(drop, "*.dat"))
	assert.Len(t, files, 1, "unrecognised stream left in place")
}

func TestSendToUnknownContact(t *testing.T) {
	a := openNode(t, testConfig(t, t.TempDir(), false))
	_, err := a.SendMessage(42, "anyone?")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTCPExchange(t *testing.T) {
	a := openNode(t, testConfig(t, t.TempDir(), true))
	b := openNode(t, testConfig(t, t.TempDir(), true))
	bobAtAlice, aliceAtBob := pair(t, a, b)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	_, err := a.SendMessage(bobAtAlice, "ping")
	require.NoError(t, err)
	_, err = b.SendMessage(aliceAtBob, "pong")
	require.NoError(t, err)

	res, err := a.Connect(context.Background(), bobAtAlice, b.TCPAddr().String())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, tsync.OutcomeClean, res.Outcome)
	b.WaitIdle()

	inbox, err := a.Inbox(bobAtAlice)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "pong", string(inbox[0].Body))

	inbox, err = b.Inbox(aliceAtBob)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "ping", string(inbox[0].Body))

	assert.Empty(t, a.Registry().ConnectedContacts(tcp.ID))
	assert.Empty(t, b.Registry().ConnectedContacts(tcp.ID))
}

func TestDisabledTransport(t *testing.T) {
	conf := testConfig(t, t.TempDir(), false)
	conf.File.Enabled = false
	n := openNode(t, conf)
	_, err := n.WriteFile(1)
	assert.ErrorIs(t, err, ErrTransportDisabled)
	_, err = n.Connect(context.Background(), 1, "127.0.0.1:1")
	assert.ErrorIs(t, err, ErrTransportDisabled)
}

func TestTransportEnabledAfterPairing(t *testing.T) {
	drop := t.TempDir()
	conf := testConfig(t, drop, false)
	a, err := Open(conf)
	require.NoError(t, err)
	b := openNode(t, testConfig(t, drop, false))
	bobAtAlice, _ := pair(t, a, b)
	require.NoError(t, a.Close())

	hook := logtest.NewGlobal()
	defer hook.Reset()
	conf.File.Enabled = false
	conf.TCP.Enabled = true
	a = openNode(t, conf)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["transport"] == tcp.ID {
			warned = true
		}
	}
	assert.True(t, warned, "newly enabled transport with existing contacts")

	// Bob's keys only exist for the file transport
	_, err = a.SendMessage(bobAtAlice, "over lan?")
	assert.ErrorIs(t, err, ErrUnreachable)
}
