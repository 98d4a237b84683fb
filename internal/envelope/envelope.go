// Package envelope implements per-recipient message encryption.
//
// Each message is sealed once per recipient (and once for the sender) under
// a key derived from the pairwise NaCl box shared secret and the chat id.
// Keys are static identity keys; there is no ratchet, so compromise of an
// identity private key exposes every envelope addressed to it.
package envelope

import (
	"errors"
	"fmt"

	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/pkg/types"
)

const (
	// Alg is the algorithm tag carried by every envelope.
	Alg = "xchacha20poly1305"
	// KeyVersion and Version describe the envelope format.
	KeyVersion = 1
	Version    = 1
)

var (
	// ErrUndecryptable is the single user-facing decrypt failure.
	ErrUndecryptable = errors.New("unable to decrypt message")
	// ErrMissingSenderKey is returned when no sender key can be found.
	ErrMissingSenderKey = errors.New("sender key unavailable")
	// ErrNoRecipientKeys is returned when no recipient other than the
	// sender has a resolvable key.
	ErrNoRecipientKeys = errors.New("no recipient keys available")
)

func pairKey(chatID string, peerPub, priv *[32]byte) ([]byte, error) {
	shared := crypto.SharedKey(peerPub, priv)
	defer crypto.Wipe(shared[:])
	return crypto.ChatKey(shared[:], chatID)
}

// EncryptForRecipient seals plaintext for one recipient.
func EncryptForRecipient(chatID string, plaintext []byte, recipientID string,
	recipientPub, senderPriv, senderPub [32]byte) (types.EnvelopeEntry, error) {

	key, err := pairKey(chatID, &recipientPub, &senderPriv)
	if err != nil {
		return types.EnvelopeEntry{}, err
	}
	defer crypto.Wipe(key)

	nonce, ct, err := crypto.Seal(key, plaintext)
	if err != nil {
		return types.EnvelopeEntry{}, fmt.Errorf("seal envelope for %s: %w", recipientID, err)
	}
	return types.EnvelopeEntry{
		RecipientID:       recipientID,
		Payload:           crypto.EncodeBase64(ct),
		Nonce:             crypto.EncodeBase64(nonce),
		KeyVersion:        KeyVersion,
		Alg:               Alg,
		SenderIdentityKey: crypto.EncodeKey(senderPub),
		Version:           Version,
	}, nil
}

// DecryptEnvelope opens one envelope. An authentication failure returns
// (nil, false, nil); malformed base64 or nonce lengths return an error.
func DecryptEnvelope(chatID string, env types.EnvelopeEntry, senderPub, receiverPriv [32]byte) ([]byte, bool, error) {
	nonce, err := crypto.DecodeBase64(env.Nonce)
	if err != nil {
		return nil, false, fmt.Errorf("envelope nonce: %w", err)
	}
	payload, err := crypto.DecodeBase64(env.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("envelope payload: %w", err)
	}
	if len(nonce) != crypto.NonceSize {
		return nil, false, fmt.Errorf("envelope nonce length %d", len(nonce))
	}

	key, err := pairKey(chatID, &senderPub, &receiverPriv)
	if err != nil {
		return nil, false, err
	}
	defer crypto.Wipe(key)

	return crypto.Open(key, nonce, payload)
}
