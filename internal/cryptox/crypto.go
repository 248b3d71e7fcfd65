// Package cryptox encrypts OAuth credentials for storage at rest.
// Plaintext tokens only exist inside the token manager boundary.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
)

var (
	ErrEmptyPassphrase  = errors.New("encryption passphrase cannot be empty")
	ErrCiphertextFormat = errors.New("ciphertext is malformed")
)

// Cipher performs AES-256-GCM encryption with a key derived from a
// passphrase via argon2id
type Cipher struct {
	key []byte
}

// New derives a 32-byte key from the passphrase and salt
func New(passphrase, salt string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	key := argon2.IDKey([]byte(passphrase), []byte(salt), 1, 64*1024, 4, 32)
	return &Cipher{key: key}, nil
}

// EncryptString encrypts a plaintext token. The random nonce is prepended
// to the ciphertext and the result is base64-encoded.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString
func (c *Cipher) DecryptString(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextFormat
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(sealed) < aesgcm.NonceSize() {
		return "", ErrCiphertextFormat
	}

	nonce, ciphertext := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
