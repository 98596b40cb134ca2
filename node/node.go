// Package node assembles a running tagmesh node from its configuration:
// the database, the key manager and tag recogniser, the connection
// dispatcher, the message manager and the enabled transport plugins.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/opd-ai/tagmesh/config"
	"github.com/opd-ai/tagmesh/crypto"
	"github.com/opd-ai/tagmesh/db"
	"github.com/opd-ai/tagmesh/messaging"
	"github.com/opd-ai/tagmesh/plugins"
	"github.com/opd-ai/tagmesh/plugins/file"
	"github.com/opd-ai/tagmesh/plugins/tcp"
	tsync "github.com/opd-ai/tagmesh/sync"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
)

// EpochResolution is the granularity of pairing epochs. Both sides of a
// pairing round the pairing time down to it, so they agree on the rotation
// schedule unless they pair across a boundary.
const EpochResolution = time.Hour

var (
	// ErrTransportDisabled indicates use of a transport that is not enabled.
	ErrTransportDisabled = errors.New("transport not enabled")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("node already started")
	// ErrUnreachable indicates a contact with no keys on any enabled
	// transport.
	ErrUnreachable = errors.New("contact has no keys on an enabled transport")
)

// Pairing is the result of adding a contact.
type Pairing struct {
	Contact transport.ContactID
	// OurCode is read aloud to the contact; TheirCode is what they should
	// read back.
	OurCode   int
	TheirCode int
}

// Node is one tagmesh endpoint.
type Node struct {
	conf       *config.Config
	crypto     *crypto.Component
	db         *db.LevelDB
	identity   *crypto.KeyPair
	recogniser *transport.TagRecogniser
	keys       *transport.KeyManager
	registry   *transport.ConnectionRegistry
	messages   *messaging.MessageManager
	dispatcher *tsync.Dispatcher

	tcp     *tcp.Plugin
	file    *file.Plugin
	started []plugins.Plugin

	ctx    context.Context
	cancel context.CancelFunc
}

// Open opens the node's database, creating the identity key pair on first
// use, and starts the key manager. Transports stay stopped until Start.
func Open(conf *config.Config) (*Node, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(conf.ResolvePath(conf.DataDir), 0o700); err != nil {
		return nil, err
	}
	database, err := db.Open(conf.DatabasePath(), []byte(conf.Passphrase))
	if err != nil {
		return nil, err
	}

	n := &Node{
		conf:     conf,
		crypto:   crypto.NewComponent(),
		db:       database,
		registry: transport.NewConnectionRegistry(),
	}
	if err := n.init(); err != nil {
		database.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) init() error {
	identity, err := n.db.GetLocalKeyPair()
	if errors.Is(err, db.ErrNotFound) {
		identity, err = n.crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := n.db.SetLocalKeyPair(identity); err != nil {
			return fmt.Errorf("storing identity: %w", err)
		}
		logrus.WithField("function", "Open").Info("Generated identity key pair")
	} else if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	n.identity = identity

	transports := n.conf.Transports()
	if err := n.registerTransports(transports); err != nil {
		return err
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.recogniser = transport.NewTagRecogniser(n.crypto, n.db)
	n.keys = transport.NewKeyManager(n.crypto, n.db, n.recogniser)
	if err := n.keys.Start(n.ctx, transports); err != nil {
		n.cancel()
		return err
	}

	n.messages = messaging.NewMessageManager(n.db)
	n.dispatcher = tsync.NewDispatcher(n.ctx, tsync.Config{
		Crypto:     n.crypto,
		Recogniser: n.recogniser,
		Keys:       n.keys,
		Registry:   n.registry,
		Handler:    n.messages,
		Source:     n.messages,
	})

	if n.conf.TCP.Enabled {
		n.tcp = tcp.New(n.conf.TCPPluginConfig(), n.dispatcher)
		n.dispatcher.AddPlugin(n.tcp)
	}
	if n.conf.File.Enabled {
		fc := n.conf.FilePluginConfig()
		if err := os.MkdirAll(fc.Dir, 0o700); err != nil {
			n.keys.Stop()
			n.cancel()
			return err
		}
		n.file = file.New(fc, n.dispatcher)
		n.dispatcher.AddPlugin(n.file)
	}
	return nil
}

// registerTransports stores the enabled transports. Keys are only derived
// for the transports enabled when a contact is added, so contacts paired
// before a transport was enabled cannot use it.
func (n *Node) registerTransports(transports []transport.TransportConfig) error {
	stored, err := n.db.GetTransports()
	if err != nil {
		return fmt.Errorf("loading transports: %w", err)
	}
	known := make(map[transport.TransportID]bool, len(stored))
	for _, t := range stored {
		known[t.ID] = true
	}
	contacts, err := n.db.GetContacts()
	if err != nil {
		return fmt.Errorf("loading contacts: %w", err)
	}

	enabled := make(map[transport.TransportID]bool, len(transports))
	for _, t := range transports {
		enabled[t.ID] = true
		if err := n.db.SetTransport(t); err != nil {
			return fmt.Errorf("registering transport %s: %w", t.ID, err)
		}
		if !known[t.ID] && len(contacts) > 0 {
			logrus.WithFields(logrus.Fields{
				"function":  "registerTransports",
				"transport": t.ID,
				"contacts":  len(contacts),
			}).Warn("Transport enabled after contacts were added; they must pair again to use it")
		}
	}
	for _, t := range stored {
		if !enabled[t.ID] {
			logrus.WithFields(logrus.Fields{
				"function":  "registerTransports",
				"transport": t.ID,
			}).Info("Transport disabled")
		}
	}
	return nil
}

// PublicKey returns our identity public key.
func (n *Node) PublicKey() [32]byte {
	return n.identity.Public
}

// Messages returns the message manager, for callbacks.
func (n *Node) Messages() *messaging.MessageManager {
	return n.messages
}

// Registry returns the connection registry.
func (n *Node) Registry() *transport.ConnectionRegistry {
	return n.registry
}

// Start starts the enabled transport plugins.
func (n *Node) Start() error {
	if len(n.started) > 0 {
		return ErrAlreadyStarted
	}
	var ps []plugins.Plugin
	if n.tcp != nil {
		ps = append(ps, n.tcp)
	}
	if n.file != nil {
		ps = append(ps, n.file)
	}
	for _, p := range ps {
		if err := p.Start(n.ctx); err != nil {
			n.stopPlugins()
			return fmt.Errorf("starting %s: %w", p.ID(), err)
		}
		n.started = append(n.started, p)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"plugins":  len(n.started),
	}).Info("Node started")
	return nil
}

func (n *Node) stopPlugins() {
	for _, p := range n.started {
		if err := p.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Close",
				"transport": p.ID(),
				"error":     err.Error(),
			}).Warn("Failed to stop plugin")
		}
	}
	n.started = nil
}

// Close stops the plugins, tears down live connections, waits for them,
// wipes the identity private key and closes the database.
func (n *Node) Close() error {
	n.stopPlugins()
	n.cancel()
	n.dispatcher.Wait()
	n.keys.Stop()
	crypto.WipeKeyPair(n.identity)
	return n.db.Close()
}

// AddContact pairs with the owner of theirPublic. Both sides must use the
// same invitation code and opposite values of initiator.
func (n *Node) AddContact(name string, theirPublic [32]byte, invitationCode uint32, initiator bool) (*Pairing, error) {
	outgoing, incoming, err := n.crypto.DeriveInitialSecrets(n.identity.Public[:], theirPublic[:],
		n.identity.Private[:], invitationCode, initiator)
	if err != nil {
		return nil, err
	}
	pairing := &Pairing{
		OurCode:   n.crypto.DeriveConfirmationCode(outgoing, initiator),
		TheirCode: n.crypto.DeriveConfirmationCode(incoming, !initiator),
	}

	// Both sides seed their chains from the initiator's secret
	rootSeed, other := outgoing, incoming
	if !initiator {
		rootSeed, other = incoming, outgoing
	}
	crypto.ZeroBytes(other)

	c, err := n.db.AddContact(name, theirPublic, initiator)
	if err != nil {
		crypto.ZeroBytes(rootSeed)
		return nil, err
	}
	epoch := time.Now().UTC().Truncate(EpochResolution)
	if err := n.keys.ContactAdded(c, initiator, rootSeed, epoch); err != nil {
		return nil, err
	}
	pairing.Contact = c

	logrus.WithFields(logrus.Fields{
		"function": "AddContact",
		"contact":  c,
		"name":     name,
	}).Info("Contact added")
	return pairing, nil
}

// RemoveContact forgets contact c with its secrets and messages.
func (n *Node) RemoveContact(c transport.ContactID) error {
	if err := n.keys.ContactRemoved(c); err != nil {
		return err
	}
	return n.db.RemoveContact(c)
}

// Contacts lists our contacts.
func (n *Node) Contacts() ([]*db.Contact, error) {
	return n.db.GetContacts()
}

// Inbox returns the messages received from c.
func (n *Node) Inbox(c transport.ContactID) ([]*db.Message, error) {
	return n.db.GetIncomingMessages(c)
}

// SendMessage queues text for contact c. It is delivered by the next
// stream written to c.
func (n *Node) SendMessage(c transport.ContactID, text string) (uint64, error) {
	if _, err := n.db.GetContact(c); err != nil {
		return 0, err
	}
	if !n.reachable(c) {
		return 0, fmt.Errorf("%w: contact %d", ErrUnreachable, c)
	}
	return n.messages.SendMessage(c, text)
}

func (n *Node) reachable(c transport.ContactID) bool {
	for _, t := range n.conf.Transports() {
		if n.keys.HasSecrets(c, t.ID) {
			return true
		}
	}
	return false
}

// WriteFile writes a stream for contact c into the drop directory.
func (n *Node) WriteFile(c transport.ContactID) (tsync.Result, error) {
	if n.file == nil {
		return tsync.Result{}, fmt.Errorf("%w: %s", ErrTransportDisabled, file.ID)
	}
	w, err := n.file.CreateWriter()
	if err != nil {
		return tsync.Result{}, err
	}
	return n.dispatcher.WriteSimplex(n.ctx, c, file.ID, w), nil
}

// ReadFiles scans the drop directory once and waits for every stream found
// to be handled.
func (n *Node) ReadFiles() error {
	if n.file == nil {
		return fmt.Errorf("%w: %s", ErrTransportDisabled, file.ID)
	}
	n.file.Poll()
	n.dispatcher.Wait()
	return nil
}

// Connect dials contact c at address and exchanges messages. Start must
// have been called.
func (n *Node) Connect(ctx context.Context, c transport.ContactID, address string) (tsync.Result, error) {
	if n.tcp == nil {
		return tsync.Result{}, fmt.Errorf("%w: %s", ErrTransportDisabled, tcp.ID)
	}
	conn, err := n.tcp.CreateConnection(ctx, address)
	if err != nil {
		return tsync.Result{}, err
	}
	return n.dispatcher.ConnectDuplex(ctx, c, tcp.ID, conn), nil
}

// TCPAddr returns the address the TCP plugin listens on, or nil.
func (n *Node) TCPAddr() net.Addr {
	if n.tcp == nil {
		return nil
	}
	return n.tcp.LocalAddr()
}

// WaitIdle waits for every incoming connection to finish.
func (n *Node) WaitIdle() {
	n.dispatcher.Wait()
}
