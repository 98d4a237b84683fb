package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 work factor when the server omits one.
	DefaultIterations = 60000
	// ChatKeyContext prefixes the HKDF info string of per-chat keys.
	ChatKeyContext = "syncre-chat-v1"

	derivedKeySize = 32
)

// PassphraseKey stretches a PIN into a 32-byte key with PBKDF2-HMAC-SHA256.
func PassphraseKey(pin string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(pin), salt, iterations, derivedKeySize, sha256.New)
}

// ChatKey derives the symmetric key for one chat from a pairwise shared
// secret: HKDF-SHA256 with an all-zero salt and info "syncre-chat-v1:<chatID>".
func ChatKey(shared []byte, chatID string) ([]byte, error) {
	salt := make([]byte, derivedKeySize)
	info := []byte(ChatKeyContext + ":" + chatID)
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive chat key: %w", err)
	}
	return key, nil
}
