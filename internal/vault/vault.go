package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
)

var (
	// ErrNoKey means the deployment has no encryption key configured.
	// Callers must abort the whole invocation, not just the current row.
	ErrNoKey = errors.New("vault: encryption key is not configured")

	// ErrIntegrity means authentication of the ciphertext failed: the
	// payload was tampered with or encrypted under a different key.
	ErrIntegrity = errors.New("vault: ciphertext failed integrity check")
)

// Vault encrypts and decrypts platform tokens at rest with AES-GCM.
// A single static key is assumed live for the deployment's lifetime;
// key rotation is an out-of-band migration.
type Vault struct {
	key []byte
}

// New derives a vault from the configured key. AES requires 16, 24 or
// 32 key bytes; anything else surfaces as ErrNoKey at first use.
func New(key string) *Vault {
	return &Vault{key: []byte(key)}
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	if len(v.key) == 0 {
		return nil, ErrNoKey
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		slog.Info(err.Error())
		return nil, ErrNoKey
	}
	return cipher.NewGCM(block)
}

// Encrypt seals the plaintext under a random nonce. The nonce is
// prepended to the ciphertext and the whole payload base64-encoded for
// storage.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aesGCM, err := v.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	ciphertext := aesGCM.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Decrypt reverses Encrypt. Tampered or wrong-key payloads fail with
// ErrIntegrity.
func (v *Vault) Decrypt(encryptedData string) (string, error) {
	aesGCM, err := v.gcm()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		slog.Info(err.Error())
		return "", ErrIntegrity
	}

	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize {
		return "", ErrIntegrity
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		slog.Info(err.Error())
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}
