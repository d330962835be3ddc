package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewCipher("test-secret")

	for _, plaintext := range []string{"api-key-123", "", "memo with spaces", "🔑"} {
		enc, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestEncryptUsesRandomIV(t *testing.T) {
	c := NewCipher("test-secret")

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	enc, err := NewCipher("key-one").Encrypt("secret value")
	require.NoError(t, err)

	dec, err := NewCipher("key-two").Decrypt(enc)
	require.NoError(t, err)
	assert.NotEqual(t, "secret value", dec)
}

func TestDecryptMalformed(t *testing.T) {
	c := NewCipher("test-secret")

	for _, bad := range []string{"", "no-separator", "zznothex:abcd", "abcd:zznothex", "00ff:00ff"} {
		_, err := c.Decrypt(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
