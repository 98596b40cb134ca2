package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContactID(t *testing.T) {
	c, err := parseContactID("7")
	require.NoError(t, err)
	assert.EqualValues(t, 7, c)

	for _, bad := range []string{"", "0", "-1", "abc", "99999999999"} {
		_, err := parseContactID(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePublicKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	pub, err := parsePublicKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), pub[31])

	_, err = parsePublicKey("abcd")
	assert.Error(t, err)
	_, err = parsePublicKey(strings.Repeat("zz", 32))
	assert.Error(t, err)
}

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "run", "version", "pubkey", "add-contact", "contacts", "remove-contact", "send", "inbox"} {
		assert.True(t, names[want], want)
	}
}
