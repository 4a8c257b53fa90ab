package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// devFallbackKey keeps encrypted-at-rest behavior working in development
// when no key is configured. It provides no confidentiality against anyone
// with access to this source; deployments must supply a key through the
// runtime's secret-management boundary (FLEETCORE_AUDIT_ENCRYPTION_KEY).
// The ledger warns at startup when this fallback is active.
const devFallbackKey = "fleetcore-dev-only-audit-key"

// ErrCiphertextTooShort is returned when persisted data is shorter than an
// AES-GCM nonce and cannot have been produced by seal.
var ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")

// cryptor encrypts the persisted audit list with AES-256-GCM. The key is
// derived from the configured passphrase by SHA-256.
type cryptor struct {
	aead cipher.AEAD
}

// newCryptor derives the at-rest cipher from a passphrase. An empty
// passphrase falls back to the development key; callers decide whether to
// warn.
func newCryptor(passphrase string) (*cryptor, error) {
	if passphrase == "" {
		passphrase = devFallbackKey
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &cryptor{aead: aead}, nil
}

// seal encrypts plaintext, prefixing the random nonce.
func (c *cryptor) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts data produced by seal.
func (c *cryptor) open(data []byte) ([]byte, error) {
	if len(data) < c.aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt audit data: %w", err)
	}
	return plaintext, nil
}
