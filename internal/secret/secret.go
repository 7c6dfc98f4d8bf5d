// Package secret encrypts and decrypts upstream API keys with AES-256-GCM
// under a server-held master key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required master key length for AES-256.
	KeySize = 32

	nonceSize = 16
	tagSize   = 16
)

// ErrKeyNotConfigured is returned when the cipher was constructed without
// a master key. Set CREDENTIALS_ENCRYPTION_KEY to a base64-encoded 32-byte key.
var ErrKeyNotConfigured = errors.New("encryption key not configured: set CREDENTIALS_ENCRYPTION_KEY")

// ErrInvalidCiphertext is returned when a stored blob cannot be decrypted:
// malformed base64, a truncated layout, or a failed authentication tag
// (tampered data or wrong key). Decryption fails closed; no partial
// plaintext is ever returned.
var ErrInvalidCiphertext = errors.New("invalid or corrupted ciphertext")

// Cipher encrypts API keys into opaque storable blobs and back.
//
// Blob layout, fixed: base64( nonce(16) || tag(16) || ciphertext ).
type Cipher struct {
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// New creates a Cipher. key must be exactly 32 bytes, or nil to disable
// credential encryption (all operations then return ErrKeyNotConfigured).
func New(key []byte) (*Cipher, error) {
	if key != nil && len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d: %w", KeySize, len(key), ErrKeyNotConfigured)
	}
	return &Cipher{key: key}, nil
}

// KeyFromBase64 decodes a base64-encoded master key and validates its length.
func KeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", ErrKeyNotConfigured)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d: %w", KeySize, len(key), ErrKeyNotConfigured)
	}
	return key, nil
}

// Encrypt encrypts plaintext and returns the base64 blob. A fresh random
// nonce is generated per call, so equal plaintexts produce distinct blobs.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal produces ciphertext||tag; the stored layout is nonce||tag||ciphertext.
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt decodes a blob produced by Encrypt and returns the plaintext.
// Any parse or authentication failure yields ErrInvalidCiphertext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", ErrInvalidCiphertext)
	}
	if len(blob) < nonceSize+tagSize {
		return "", fmt.Errorf("blob too short (%d bytes): %w", len(blob), ErrInvalidCiphertext)
	}

	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ct := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", ErrInvalidCiphertext)
	}

	return string(plaintext), nil
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	if c.key == nil {
		return nil, ErrKeyNotConfigured
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}

	// The stored blob format carries a 16-byte nonce rather than GCM's
	// default 12, so the AEAD must be built with a matching nonce size.
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return gcm, nil
}
