package vault

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New(testKey)

	cases := []string{
		"",
		"hello",
		"a-very-long-opaque-oauth-access-token-value-1234567890",
		"töken-ünicode-日本語-🔐",
	}

	for _, plaintext := range cases {
		ciphertext, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, ciphertext)

		got, err := v.Decrypt(ciphertext)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	v := New(testKey)

	first, err := v.Encrypt("same input")
	require.NoError(t, err)
	second, err := v.Encrypt("same input")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestDecryptCorruptedCiphertext(t *testing.T) {
	v := New(testKey)

	ciphertext, err := v.Encrypt("secret token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = v.Decrypt(tampered)
	require.True(t, errors.Is(err, ErrIntegrity))
}

func TestDecryptWrongKey(t *testing.T) {
	ciphertext, err := New(testKey).Encrypt("secret token")
	require.NoError(t, err)

	_, err = New("fedcba9876543210fedcba9876543210").Decrypt(ciphertext)
	require.True(t, errors.Is(err, ErrIntegrity))
}

func TestDecryptTruncatedPayload(t *testing.T) {
	v := New(testKey)

	_, err := v.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	require.True(t, errors.Is(err, ErrIntegrity))

	_, err = v.Decrypt("not base64 at all!!!")
	require.True(t, errors.Is(err, ErrIntegrity))
}

func TestMissingKey(t *testing.T) {
	v := New("")

	_, err := v.Encrypt("anything")
	require.True(t, errors.Is(err, ErrNoKey))

	_, err = v.Decrypt("anything")
	require.True(t, errors.Is(err, ErrNoKey))
}
