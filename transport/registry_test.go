package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionRegistry(t *testing.T) {
	r := NewConnectionRegistry()
	assert.False(t, r.IsConnected(1, "lan"))

	r.RegisterConnection(1, "lan")
	r.RegisterConnection(1, "lan")
	r.RegisterConnection(3, "lan")
	r.RegisterConnection(2, "file")

	assert.True(t, r.IsConnected(1, "lan"))
	assert.False(t, r.IsConnected(1, "file"))
	assert.Equal(t, []ContactID{1, 3}, r.ConnectedContacts("lan"))

	r.UnregisterConnection(1, "lan")
	assert.True(t, r.IsConnected(1, "lan"))
	r.UnregisterConnection(1, "lan")
	assert.False(t, r.IsConnected(1, "lan"))
	assert.Equal(t, []ContactID{3}, r.ConnectedContacts("lan"))

	assert.Panics(t, func() { r.UnregisterConnection(1, "lan") })
}
