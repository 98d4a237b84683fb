package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the XChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSizeX

// Seal encrypts plaintext with XChaCha20-Poly1305 under key using a fresh
// random nonce.
func Seal(key []byte, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext sealed by Seal.
//
// ok is false when authentication fails. err is reserved for malformed
// inputs (wrong key or nonce length).
func Open(key, nonce, ciphertext []byte) (plaintext []byte, ok bool, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to init cipher: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, false, fmt.Errorf("invalid nonce length: %d (expected %d)", len(nonce), NonceSize)
	}
	out, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false, nil
	}
	return out, true, nil
}
