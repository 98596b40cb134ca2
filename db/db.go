// Package db stores contacts, temporary secrets and queued messages in a
// goleveldb database. Every write is synchronous, so state the security layer
// depends on (reordering windows, stream counters) survives a crash once the
// call returns. When a passphrase is configured, secret material is sealed
// with AES-256-GCM under a key derived from it.
package db

import (
	"errors"
	"time"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/opd-ai/tagmesh/transport"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCorrupt indicates a stored record could not be decoded.
	ErrCorrupt = errors.New("corrupt record")
	// ErrPassphrase indicates the database was opened with the wrong
	// passphrase.
	ErrPassphrase = errors.New("wrong database passphrase")
	// ErrClosed indicates use of a closed database.
	ErrClosed = errors.New("database closed")
)

// Contact is a peer we have paired with.
type Contact struct {
	ID        transport.ContactID
	Name      string
	PublicKey [32]byte
	// Alice is our role in the secret chains shared with this contact.
	Alice bool
	Added time.Time
}

// Message is an application message queued for or received from a contact.
type Message struct {
	ID        uint64
	ContactID transport.ContactID
	Timestamp time.Time
	Body      []byte
}

// Database is everything the rest of the system stores.
type Database interface {
	transport.SecretStore

	AddContact(name string, publicKey [32]byte, alice bool) (transport.ContactID, error)
	GetContact(c transport.ContactID) (*Contact, error)
	GetContacts() ([]*Contact, error)
	// RemoveContact deletes the contact with its secrets and messages.
	RemoveContact(c transport.ContactID) error

	SetTransport(t transport.TransportConfig) error
	GetTransports() ([]transport.TransportConfig, error)

	SetLocalKeyPair(kp *crypto.KeyPair) error
	GetLocalKeyPair() (*crypto.KeyPair, error)

	AddOutgoingMessage(c transport.ContactID, body []byte) (uint64, error)
	GetOutgoingMessages(c transport.ContactID) ([]*Message, error)
	RemoveOutgoingMessage(c transport.ContactID, id uint64) error
	AddIncomingMessage(c transport.ContactID, body []byte) (uint64, error)
	GetIncomingMessages(c transport.ContactID) ([]*Message, error)

	Close() error
}
