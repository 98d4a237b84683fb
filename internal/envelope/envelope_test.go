package envelope

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/types"
)

type keyPair struct {
	pub, priv [32]byte
}

func newPair(t *testing.T) keyPair {
	t.Helper()
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return keyPair{pub: *pub, priv: *priv}
}

type staticIdentity struct {
	kp     *keyPair
	device string
}

func (s staticIdentity) Keys() (types.IdentityBundle, error) {
	if s.kp == nil {
		return types.IdentityBundle{}, errors.New("identity is locked")
	}
	return types.IdentityBundle{PublicKey: s.kp.pub, PrivateKey: s.kp.priv, KeyVersion: 1}, nil
}

func (s staticIdentity) DeviceID() (string, error) { return s.device, nil }

type mapResolver struct {
	keys  map[string]string
	calls atomic.Int32
}

func (m *mapResolver) ResolvePublicKey(_ context.Context, userID string) (string, bool) {
	m.calls.Add(1)
	k, ok := m.keys[userID]
	return k, ok
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	alice, bob := newPair(t), newPair(t)
	env, err := EncryptForRecipient("chat-1", []byte("hello bob"), "bob", bob.pub, alice.priv, alice.pub)
	require.NoError(t, err)

	require.Equal(t, Alg, env.Alg)
	require.Equal(t, KeyVersion, env.KeyVersion)
	require.Equal(t, Version, env.Version)
	require.Equal(t, crypto.EncodeKey(alice.pub), env.SenderIdentityKey)
	nonce, err := crypto.DecodeBase64(env.Nonce)
	require.NoError(t, err)
	require.Len(t, nonce, 24)

	plain, ok, err := DecryptEnvelope("chat-1", env, alice.pub, bob.priv)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello bob", string(plain))
}

func TestEnvelopeDomainSeparation(t *testing.T) {
	t.Parallel()

	alice, bob, eve := newPair(t), newPair(t), newPair(t)
	env, err := EncryptForRecipient("chat-1", []byte("secret"), "bob", bob.pub, alice.priv, alice.pub)
	require.NoError(t, err)

	plain, ok, err := DecryptEnvelope("chat-2", env, alice.pub, bob.priv)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, plain)

	_, ok, err = DecryptEnvelope("chat-1", env, alice.pub, eve.priv)
	require.NoError(t, err)
	require.False(t, ok)

	bad := env
	bad.Nonce = crypto.EncodeBase64([]byte("short"))
	_, _, err = DecryptEnvelope("chat-1", bad, alice.pub, bob.priv)
	require.Error(t, err)
}

func TestBuildPayloadAndDecrypt(t *testing.T) {
	t.Parallel()

	alice, bob := newPair(t), newPair(t)
	resolver := &mapResolver{keys: map[string]string{
		"bob": crypto.EncodeKey(bob.pub),
	}}
	sender := NewCodec(staticIdentity{kp: &alice, device: "dev-a"}, resolver)

	payload, err := sender.BuildPayload(context.Background(), "c1", "hi there",
		[]string{"bob", "bob", "alice", "carol"}, "alice")
	require.NoError(t, err)
	require.Equal(t, "dev-a", payload.SenderDeviceID)
	require.Equal(t, "hi there", payload.Preview)

	recipients := make([]string, 0, len(payload.Envelopes))
	for _, env := range payload.Envelopes {
		recipients = append(recipients, env.RecipientID)
	}
	require.Equal(t, []string{"bob", "alice"}, recipients)

	receiver := NewCodec(staticIdentity{kp: &bob}, &mapResolver{})
	res, err := receiver.DecryptMessage(context.Background(), "c1", "alice", "bob", payload.Envelopes)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "hi there", res.Plaintext)

	// The sender reads its own message back through the self-envelope.
	res, err = sender.DecryptMessage(context.Background(), "c1", "alice", "alice", payload.Envelopes)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "hi there", res.Plaintext)
}

func TestBuildPayloadWithoutRecipientKeys(t *testing.T) {
	t.Parallel()

	alice := newPair(t)
	codec := NewCodec(staticIdentity{kp: &alice}, &mapResolver{})

	_, err := codec.BuildPayload(context.Background(), "c1", "hi", []string{"bob"}, "alice")
	require.ErrorIs(t, err, ErrNoRecipientKeys)
}

func TestBuildPayloadPreviewBound(t *testing.T) {
	t.Parallel()

	alice, bob := newPair(t), newPair(t)
	codec := NewCodec(staticIdentity{kp: &alice}, &mapResolver{keys: map[string]string{
		"bob": crypto.EncodeKey(bob.pub),
	}})

	payload, err := codec.BuildPayload(context.Background(), "c1", strings.Repeat("é", 300), []string{"bob"}, "alice")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", wire.PreviewLimit), payload.Preview)
}

func TestDecryptMessageSenderKeyResolution(t *testing.T) {
	t.Parallel()

	alice, bob := newPair(t), newPair(t)
	env, err := EncryptForRecipient("c1", []byte("x"), "bob", bob.pub, alice.priv, alice.pub)
	require.NoError(t, err)
	env.SenderIdentityKey = ""

	missing := NewCodec(staticIdentity{kp: &bob}, &mapResolver{})
	_, err = missing.DecryptMessage(context.Background(), "c1", "alice", "bob", []types.EnvelopeEntry{env})
	require.ErrorIs(t, err, ErrMissingSenderKey)

	resolver := &mapResolver{keys: map[string]string{"alice": crypto.EncodeKey(alice.pub)}}
	codec := NewCodec(staticIdentity{kp: &bob}, resolver)
	other := env
	other.RecipientID = "carol"
	res, err := codec.DecryptMessage(context.Background(), "c1", "alice", "bob", []types.EnvelopeEntry{other, env})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "x", res.Plaintext)
	require.EqualValues(t, 1, resolver.calls.Load())
}

func TestDecryptMessageLocked(t *testing.T) {
	t.Parallel()

	codec := NewCodec(staticIdentity{}, &mapResolver{})
	_, err := codec.DecryptMessage(context.Background(), "c1", "a", "b",
		[]types.EnvelopeEntry{{RecipientID: "b", Payload: "x", Nonce: "y"}})
	require.Error(t, err)

	res, err := codec.DecryptMessage(context.Background(), "c1", "a", "b", nil)
	require.NoError(t, err)
	require.False(t, res.OK)
}
