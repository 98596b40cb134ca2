package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	c := NewComponent()
	keyPair, err := c.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	if keyPair.Public == zeroKey {
		t.Error("GenerateKeyPair() returned zero public key")
	}
	if keyPair.Private == zeroKey {
		t.Error("GenerateKeyPair() returned zero private key")
	}

	keyPair2, _ := c.GenerateKeyPair()
	if bytes.Equal(keyPair.Public[:], keyPair2.Public[:]) {
		t.Error("Multiple GenerateKeyPair() calls produced identical public keys")
	}
}

func TestFromSecretKey(t *testing.T) {
	generated, err := NewComponent().GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	rebuilt, err := FromSecretKey(generated.Private)
	if err != nil {
		t.Fatalf("FromSecretKey() error: %v", err)
	}
	if rebuilt.Public != generated.Public {
		t.Error("FromSecretKey() derived a different public key")
	}

	if _, err := FromSecretKey([32]byte{}); err == nil {
		t.Error("FromSecretKey() accepted an all-zero key")
	}
}

func TestParsePublicKey(t *testing.T) {
	cases := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{"valid", bytes.Repeat([]byte{7}, 32), false},
		{"short", make([]byte, 12), true},
		{"long", make([]byte, 33), true},
		{"zero", make([]byte, 32), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKey(tc.input)
			if tc.wantErr && err == nil {
				t.Fatal("ParsePublicKey() expected error but got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("ParsePublicKey() unexpected error: %v", err)
			}
		})
	}
}
