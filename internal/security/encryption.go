package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Cipher encrypts PII columns at rest with AES-256-GCM. The stored value is
// nonce || ciphertext; the nonce is random per encryption, so equal
// plaintexts never produce equal ciphertexts (duplicate detection uses a
// separate deterministic fingerprint).
type Cipher struct {
	aead cipher.AEAD
	key  []byte
}

func NewCipher(key []byte) (*Cipher, error) {
	// Derive a fixed 32-byte key so operators can supply any secret of
	// sufficient length.
	derived := sha256.Sum256(key)

	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead, key: derived[:]}, nil
}

func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *Cipher) Decrypt(data []byte) (string, error) {
	if len(data) < c.aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}
	nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// Fingerprint is a keyed deterministic digest of a document number, stored
// alongside the ciphertext so the active-duplicate unique index can match
// without plaintext in the database.
func (c *Cipher) Fingerprint(value string) []byte {
	sum := sha256.Sum256(append(append([]byte{}, c.key...), []byte(value)...))
	return sum[:]
}
