package db

import (
	"encoding/binary"

	"github.com/opd-ai/tagmesh/transport"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout. Numeric components are big-endian so that iteration order
// matches numeric order.
var (
	prefixContact   = []byte("contact/")
	prefixSecret    = []byte("secret/")
	prefixTransport = []byte("transport/")
	prefixOutbox    = []byte("outbox/")
	prefixInbox     = []byte("inbox/")

	keySalt          = []byte("meta/salt")
	keyCheck         = []byte("meta/check")
	keyNextContact   = []byte("meta/next-contact")
	keyNextMessage   = []byte("meta/next-message")
	keyLocalIdentity = []byte("meta/identity")
)

// passphraseCheck is sealed under the database key to detect a wrong
// passphrase at open.
var passphraseCheck = []byte("tagmesh database")

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func withPrefix(prefix []byte, n int) []byte {
	b := make([]byte, len(prefix), len(prefix)+n)
	copy(b, prefix)
	return b
}

func contactKey(c transport.ContactID) []byte {
	return appendUint32(withPrefix(prefixContact, 4), uint32(c))
}

// secretContactPrefix covers every secret of contact c.
func secretContactPrefix(c transport.ContactID) []byte {
	return appendUint32(withPrefix(prefixSecret, 4), uint32(c))
}

// secretEndpointPrefix covers the secret chain of c on t. The transport id
// is length-prefixed so that one id cannot be a prefix of another.
func secretEndpointPrefix(c transport.ContactID, t transport.TransportID) []byte {
	b := secretContactPrefix(c)
	b = append(b, byte(len(t)))
	return append(b, t...)
}

func secretKey(c transport.ContactID, t transport.TransportID, period uint64) []byte {
	return appendUint64(secretEndpointPrefix(c, t), period)
}

// periodFromSecretKey extracts the period from a key built by secretKey.
func periodFromSecretKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

func transportKey(t transport.TransportID) []byte {
	return append(withPrefix(prefixTransport, len(t)), t...)
}

func messagePrefix(prefix []byte, c transport.ContactID) []byte {
	return appendUint32(withPrefix(prefix, 12), uint32(c))
}

func messageKey(prefix []byte, c transport.ContactID, id uint64) []byte {
	return appendUint64(messagePrefix(prefix, c), id)
}

func prefixRange(prefix []byte) *util.Range {
	return util.BytesPrefix(prefix)
}
