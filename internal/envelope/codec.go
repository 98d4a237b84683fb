package envelope

import (
	"context"
	"fmt"

	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/logger"
	"github.com/Syncre-App/chatcore/pkg/types"
)

// Identity supplies this device's key pair and id.
type Identity interface {
	Keys() (types.IdentityBundle, error)
	DeviceID() (string, error)
}

// Resolver looks up other users' public keys.
type Resolver interface {
	ResolvePublicKey(ctx context.Context, userID string) (string, bool)
}

// Codec encrypts outgoing messages for every chat member and decrypts
// incoming envelope sets.
type Codec struct {
	identity Identity
	keys     Resolver
}

// NewCodec returns a Codec.
func NewCodec(identity Identity, keys Resolver) *Codec {
	return &Codec{identity: identity, keys: keys}
}

// Result is the outcome of DecryptMessage. OK is false when no envelope
// could be opened with this device's key.
type Result struct {
	Plaintext string
	OK        bool
}

// DecryptMessage tries envelopes addressed to currentUserID first, then the
// rest; the first that opens wins.
func (c *Codec) DecryptMessage(ctx context.Context, chatID, senderID, currentUserID string,
	envelopes []types.EnvelopeEntry) (Result, error) {

	if len(envelopes) == 0 {
		return Result{}, nil
	}
	self, err := c.identity.Keys()
	if err != nil {
		return Result{}, err
	}
	defer self.Zero()

	ordered := make([]types.EnvelopeEntry, 0, len(envelopes))
	for _, env := range envelopes {
		if env.RecipientID == currentUserID {
			ordered = append(ordered, env)
		}
	}
	for _, env := range envelopes {
		if env.RecipientID != currentUserID {
			ordered = append(ordered, env)
		}
	}

	var (
		directoryKey string
		looked       bool
		lastErr      error
	)
	for _, env := range ordered {
		senderKey := env.SenderIdentityKey
		if senderKey == "" && senderID != "" && senderID == currentUserID {
			senderKey = crypto.EncodeKey(self.PublicKey)
		}
		if senderKey == "" && senderID != "" {
			if !looked {
				directoryKey, _ = c.keys.ResolvePublicKey(ctx, senderID)
				looked = true
			}
			senderKey = directoryKey
		}
		if senderKey == "" {
			lastErr = ErrMissingSenderKey
			continue
		}

		senderPub, err := crypto.DecodeKey(senderKey)
		if err != nil {
			lastErr = fmt.Errorf("sender key: %w", err)
			continue
		}
		plain, ok, err := DecryptEnvelope(chatID, env, senderPub, self.PrivateKey)
		if err != nil {
			logger.Debugf("envelope: chat %s recipient %s: %v", chatID, env.RecipientID, err)
			lastErr = err
			continue
		}
		if ok {
			return Result{Plaintext: string(plain), OK: true}, nil
		}
	}

	switch {
	case lastErr == ErrMissingSenderKey:
		return Result{}, ErrMissingSenderKey
	case lastErr != nil:
		return Result{}, fmt.Errorf("%w: %v", ErrUndecryptable, lastErr)
	}
	return Result{}, nil
}

// Payload is the encrypted form of an outgoing message.
type Payload struct {
	Envelopes      []types.EnvelopeEntry
	SenderDeviceID string
	Preview        string
}

// BuildPayload seals plaintext for every unique recipient plus the sender.
// Recipients without a resolvable key are skipped.
func (c *Codec) BuildPayload(ctx context.Context, chatID, plaintext string,
	recipientIDs []string, currentUserID string) (Payload, error) {

	self, err := c.identity.Keys()
	if err != nil {
		return Payload{}, err
	}
	defer self.Zero()

	deviceID, err := c.identity.DeviceID()
	if err != nil {
		return Payload{}, err
	}

	seen := map[string]struct{}{currentUserID: {}}
	var others []string
	for _, id := range recipientIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}

	body := []byte(plaintext)
	defer crypto.Wipe(body)

	envelopes := make([]types.EnvelopeEntry, 0, len(others)+1)
	for _, id := range others {
		encoded, ok := c.keys.ResolvePublicKey(ctx, id)
		if !ok {
			logger.Warnf("envelope: no identity key for user %s, skipping", id)
			continue
		}
		pub, err := crypto.DecodeKey(encoded)
		if err != nil {
			logger.Warnf("envelope: invalid identity key for user %s, skipping", id)
			continue
		}
		env, err := EncryptForRecipient(chatID, body, id, pub, self.PrivateKey, self.PublicKey)
		if err != nil {
			return Payload{}, err
		}
		envelopes = append(envelopes, env)
	}
	if len(envelopes) == 0 {
		return Payload{}, ErrNoRecipientKeys
	}

	selfEnv, err := EncryptForRecipient(chatID, body, currentUserID, self.PublicKey, self.PrivateKey, self.PublicKey)
	if err != nil {
		return Payload{}, err
	}
	envelopes = append(envelopes, selfEnv)

	return Payload{
		Envelopes:      envelopes,
		SenderDeviceID: deviceID,
		Preview:        wire.Preview(plaintext),
	}, nil
}
