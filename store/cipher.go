package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// BlobCipher optionally encrypts node blobs at rest. Unlike sokv's
// original aesCipher — which ran a raw block cipher over fixed-size
// pages in place — node blobs are variable-length JSON documents, so
// this wraps AES in GCM (authenticated, variable length, random nonce
// per call) instead of exposing the bare block cipher.
type BlobCipher interface {
	Seal(plaintext []byte) (ciphertext []byte, err error)
	Open(ciphertext []byte) (plaintext []byte, err error)
}

type aesGCMCipher struct {
	gcm cipher.AEAD
}

// NewAESCipher builds a BlobCipher from a 16, 24, or 32 byte AES key.
func NewAESCipher(key []byte) (BlobCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("store: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: new gcm: %w", err)
	}
	return &aesGCMCipher{gcm: gcm}, nil
}

func (c *aesGCMCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("store: read nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *aesGCMCipher) Open(ciphertext []byte) ([]byte, error) {
	n := c.gcm.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("store: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:n], ciphertext[n:]
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open blob: %w", err)
	}
	return plaintext, nil
}
