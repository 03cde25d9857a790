package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

var (
	// ErrEmptySecret means the cipher was constructed without a passphrase.
	ErrEmptySecret = errors.New("token secret must not be empty")

	// ErrMalformedCiphertext means the stored value cannot be decrypted,
	// either because it was truncated or written under a different secret.
	ErrMalformedCiphertext = errors.New("malformed or foreign ciphertext")
)

// Cipher encrypts OAuth tokens at rest. Each value carries its own random
// salt and nonce, so identical plaintexts never produce identical output.
type Cipher struct {
	secret string
}

// NewCipher creates a cipher from a passphrase.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Cipher{secret: secret}, nil
}

// EncryptString encrypts plaintext and returns a base64-encoded value of
// the form salt || nonce || ciphertext.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := pbkdf2.Key([]byte(c.secret), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString reverses EncryptString. Tampered or foreign values fail
// authentication and return ErrMalformedCiphertext.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	if len(raw) < saltSize {
		return "", ErrMalformedCiphertext
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	key := pbkdf2.Key([]byte(c.secret), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(rest) < gcm.NonceSize() {
		return "", ErrMalformedCiphertext
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	return string(plaintext), nil
}
