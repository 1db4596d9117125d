package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters per the OWASP minimum-cost profile. Key derivation
// happens once per store open, not per operation, so the cost is paid rarely.
const (
	memory      = 19 * 1024 // Memory usage in KiB (19 MiB)
	iterations  = 2         // Iteration count
	parallelism = 1         // Number of threads
	keyLength   = 32        // AES-256 key length
	saltLength  = 16        // Length of the salt
)

// ErrDecrypt reports ciphertext that failed authentication or is truncated.
// A wrong passphrase and a corrupted file are indistinguishable on purpose.
var ErrDecrypt = errors.New("cryptox: cannot decrypt payload")

// Box seals and opens small payloads with a key derived from a passphrase.
// It is used to encrypt persisted session tokens at rest. The wire format is
// [16-byte salt][12-byte nonce][ciphertext+tag]; the salt is generated per
// Seal so the same passphrase never reuses a derived key across files.
type Box struct {
	passphrase []byte
}

// NewBox returns a Box bound to the given passphrase.
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("cryptox: empty passphrase")
	}
	return &Box{passphrase: []byte(passphrase)}, nil
}

// deriveKey stretches the passphrase into an AES-256 key with Argon2id.
func (b *Box) deriveKey(salt []byte) []byte {
	return argon2.IDKey(b.passphrase, salt, iterations, memory, parallelism, keyLength)
}

// Seal encrypts plaintext with AES-256-GCM under a freshly salted key.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}

	gcm, err := newGCM(b.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltLength {
		return nil, ErrDecrypt
	}
	salt, rest := sealed[:saltLength], sealed[saltLength:]

	gcm, err := newGCM(b.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	if len(rest) < gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}
	return gcm, nil
}
