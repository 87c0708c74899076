// Package vault provides AES-GCM field encryption for personal data at rest and
// the self-signed certificate used by the TCP listener.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// sealedPrefix marks a stored value as ciphertext.
const sealedPrefix = "vault:"

// ErrDecrypt is returned for a wrong key or tampered ciphertext.
var ErrDecrypt = errors.New("decryption failed (wrong key or tampered data)")

// Encrypt takes a plaintext string and a 32-byte key, returning an encrypted hex string.
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	// Fresh nonce per message, prepended so Decrypt can find it.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt takes the hex string and the 32-byte key to return the original text.
func Decrypt(cipherHex string, key []byte) (string, error) {
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, actual := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, actual, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// Seal encrypts a field value for storage. Empty values stay empty so that an
// unset field is still recognisable.
func Seal(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return sealedPrefix + ciphertext, nil
}

// Open reverses Seal. Values that were never sealed are returned unchanged,
// so fields written before a key was configured stay readable.
func Open(stored string, key []byte) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	return Decrypt(strings.TrimPrefix(stored, sealedPrefix), key)
}

// IsSealed reports whether a stored value was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
