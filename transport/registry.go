package transport

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ConnectionRegistry counts the live connections to each contact over each
// transport.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[endpointKey]int
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{connections: make(map[endpointKey]int)}
}

// RegisterConnection records a new connection.
func (r *ConnectionRegistry) RegisterConnection(c ContactID, t TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := endpointKey{contactID: c, transportID: t}
	r.connections[key]++
	if r.connections[key] == 1 {
		logrus.WithFields(logrus.Fields{
			"function":  "RegisterConnection",
			"contact":   c,
			"transport": t,
		}).Info("Contact connected")
	}
}

// UnregisterConnection records the end of a connection. Unregistering a
// connection that was never registered panics.
func (r *ConnectionRegistry) UnregisterConnection(c ContactID, t TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := endpointKey{contactID: c, transportID: t}
	n, ok := r.connections[key]
	if !ok {
		panic("transport: unregistering unknown connection")
	}
	if n == 1 {
		delete(r.connections, key)
		logrus.WithFields(logrus.Fields{
			"function":  "UnregisterConnection",
			"contact":   c,
			"transport": t,
		}).Info("Contact disconnected")
		return
	}
	r.connections[key] = n - 1
}

// IsConnected reports whether contact c has a live connection over t.
func (r *ConnectionRegistry) IsConnected(c ContactID, t TransportID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[endpointKey{contactID: c, transportID: t}] > 0
}

// ConnectedContacts returns the contacts with a live connection over t, in
// ascending order.
func (r *ConnectionRegistry) ConnectedContacts(t TransportID) []ContactID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var contacts []ContactID
	for key := range r.connections {
		if key.transportID == t {
			contacts = append(contacts, key.contactID)
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i] < contacts[j] })
	return contacts
}
