// Package identity owns this device's X25519 identity key pair: unlocking it
// from the server-held PIN-wrapped record, caching it according to policy,
// and publishing readiness changes to the sync engine.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Syncre-App/chatcore/internal/api"
	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/internal/storage"
	"github.com/Syncre-App/chatcore/pkg/logger"
	"github.com/Syncre-App/chatcore/pkg/types"
)

var (
	// ErrInvalidPIN covers every cryptographic unlock failure. Callers never
	// learn whether the PIN, the salt or the blob was at fault.
	ErrInvalidPIN = errors.New("invalid PIN or corrupted key")
	// ErrPINRequired is returned for an empty PIN.
	ErrPINRequired = errors.New("PIN required to unlock encryption")
	// ErrIncompleteRecord is returned when the server record lacks the
	// wrapped key, nonce or salt.
	ErrIncompleteRecord = errors.New("identity record is incomplete")
	// ErrIdentityLocked is returned when key material is requested before
	// unlock.
	ErrIdentityLocked = errors.New("identity is locked")
)

// Remote is the subset of the REST API the vault needs.
type Remote interface {
	FetchIdentity(ctx context.Context) (types.RemoteIdentityRecord, error)
	RegisterDevice(ctx context.Context, reg api.DeviceRegistration) error
}

// Policy controls what is cached after a successful unlock.
type Policy struct {
	// Persist stores the unlocked bundle in durable storage.
	Persist bool
	// RememberPIN stores the raw PIN for ResumeWithCachedPIN.
	RememberPIN bool
}

// Status is published on every identity change.
type Status struct {
	Ready   bool
	Version uint64
}

// Vault holds the unlocked identity. It is safe for concurrent use.
type Vault struct {
	store  storage.Store
	remote Remote
	policy Policy

	mu       sync.RWMutex
	bundle   *types.IdentityBundle
	version  uint64
	deviceID string
	watchers map[chan Status]struct{}
}

// New returns a locked vault.
func New(store storage.Store, remote Remote, policy Policy) *Vault {
	return &Vault{
		store:    store,
		remote:   remote,
		policy:   policy,
		watchers: make(map[chan Status]struct{}),
	}
}

// Unlock fetches this account's identity record and unlocks it with pin.
func (v *Vault) Unlock(ctx context.Context, pin string) (types.IdentityBundle, error) {
	if strings.TrimSpace(pin) == "" {
		return types.IdentityBundle{}, ErrPINRequired
	}
	rec, err := v.remote.FetchIdentity(ctx)
	if err != nil {
		return types.IdentityBundle{}, fmt.Errorf("no encryption key found for this account: %w", err)
	}
	return v.UnlockWithRecord(ctx, pin, rec)
}

// UnlockWithRecord derives the PIN key, opens the wrapped private key and,
// on success, installs the bundle and registers this device.
func (v *Vault) UnlockWithRecord(ctx context.Context, pin string, rec types.RemoteIdentityRecord) (types.IdentityBundle, error) {
	if strings.TrimSpace(pin) == "" {
		return types.IdentityBundle{}, ErrPINRequired
	}
	if rec.EncryptedPrivateKey == "" || rec.Nonce == "" || rec.Salt == "" {
		return types.IdentityBundle{}, ErrIncompleteRecord
	}

	bundle, err := openRecord(pin, rec)
	if err != nil {
		logger.Debugf("identity: unlock failed: %v", err)
		return types.IdentityBundle{}, ErrInvalidPIN
	}

	v.install(bundle)
	if v.policy.RememberPIN {
		if err := v.store.Set(storage.KeyPIN, pin); err != nil {
			logger.Warnf("identity: failed to cache PIN: %v", err)
		}
	}
	v.register(ctx, bundle)
	return bundle, nil
}

func openRecord(pin string, rec types.RemoteIdentityRecord) (types.IdentityBundle, error) {
	salt, err := crypto.DecodeBase64(rec.Salt)
	if err != nil {
		return types.IdentityBundle{}, fmt.Errorf("salt: %w", err)
	}
	nonce, err := crypto.DecodeBase64(rec.Nonce)
	if err != nil {
		return types.IdentityBundle{}, fmt.Errorf("nonce: %w", err)
	}
	blob, err := crypto.DecodeBase64(rec.EncryptedPrivateKey)
	if err != nil {
		return types.IdentityBundle{}, fmt.Errorf("blob: %w", err)
	}

	key := crypto.PassphraseKey(pin, salt, rec.Iterations)
	defer crypto.Wipe(key)

	plain, ok, err := crypto.Open(key, nonce, blob)
	if err != nil {
		return types.IdentityBundle{}, err
	}
	if !ok {
		return types.IdentityBundle{}, errors.New("authentication failed")
	}
	defer crypto.Wipe(plain)
	if len(plain) != crypto.KeySize {
		return types.IdentityBundle{}, fmt.Errorf("private key length %d", len(plain))
	}

	bundle := types.IdentityBundle{KeyVersion: rec.Version}
	if bundle.KeyVersion == 0 {
		bundle.KeyVersion = 1
	}
	copy(bundle.PrivateKey[:], plain)

	derived, err := crypto.PublicFromPrivate(&bundle.PrivateKey)
	if err != nil {
		bundle.Zero()
		return types.IdentityBundle{}, err
	}
	if rec.PublicKey != "" {
		published, err := crypto.DecodeKey(rec.PublicKey)
		if err != nil || !crypto.KeysEqual(published, derived) {
			bundle.Zero()
			return types.IdentityBundle{}, errors.New("private key does not match published key")
		}
	}
	bundle.PublicKey = derived
	return bundle, nil
}

func (v *Vault) install(bundle types.IdentityBundle) {
	v.mu.Lock()
	if v.bundle != nil {
		v.bundle.Zero()
	}
	b := bundle
	v.bundle = &b
	v.version++
	status := Status{Ready: true, Version: v.version}
	v.mu.Unlock()

	if v.policy.Persist {
		stored := types.StoredIdentity{
			PublicKey:  crypto.EncodeKey(bundle.PublicKey),
			PrivateKey: crypto.EncodeKey(bundle.PrivateKey),
			KeyVersion: bundle.KeyVersion,
		}
		if err := storage.SetJSON(v.store, storage.KeyIdentity, stored); err != nil {
			logger.Warnf("identity: failed to persist identity: %v", err)
		}
	}
	v.publish(status)
}

func (v *Vault) register(ctx context.Context, bundle types.IdentityBundle) {
	if v.remote == nil {
		return
	}
	deviceID, err := v.DeviceID()
	if err != nil {
		logger.Warnf("identity: %v", err)
		return
	}
	err = v.remote.RegisterDevice(ctx, api.DeviceRegistration{
		DeviceID:    deviceID,
		IdentityKey: crypto.EncodeKey(bundle.PublicKey),
		KeyVersion:  bundle.KeyVersion,
	})
	if err != nil {
		logger.Warnf("identity: failed to register device identity: %v", err)
	}
}

// Restore loads a persisted bundle. It reports whether the vault is ready
// afterwards. Nothing is loaded under the session policy.
func (v *Vault) Restore() bool {
	if v.HasIdentity() {
		return true
	}
	if !v.policy.Persist {
		return false
	}
	var stored types.StoredIdentity
	ok, err := storage.GetJSON(v.store, storage.KeyIdentity, &stored)
	if err != nil || !ok {
		return false
	}
	priv, err := crypto.DecodeKey(stored.PrivateKey)
	if err != nil {
		logger.Warnf("identity: discarding unreadable stored identity")
		return false
	}
	pub, err := crypto.PublicFromPrivate(&priv)
	if err != nil {
		return false
	}
	bundle := types.IdentityBundle{PublicKey: pub, PrivateKey: priv, KeyVersion: stored.KeyVersion}
	if bundle.KeyVersion == 0 {
		bundle.KeyVersion = 1
	}

	v.mu.Lock()
	b := bundle
	v.bundle = &b
	v.version++
	status := Status{Ready: true, Version: v.version}
	v.mu.Unlock()
	v.publish(status)
	return true
}

// CachedPIN returns the remembered PIN, if any.
func (v *Vault) CachedPIN() (string, bool) {
	pin, ok, err := v.store.Get(storage.KeyPIN)
	if err != nil || !ok || pin == "" {
		return "", false
	}
	return pin, true
}

// ResumeWithCachedPIN re-unlocks silently with a remembered PIN.
func (v *Vault) ResumeWithCachedPIN(ctx context.Context) (bool, error) {
	if v.HasIdentity() {
		return true, nil
	}
	pin, ok := v.CachedPIN()
	if !ok {
		return false, nil
	}
	if _, err := v.Unlock(ctx, pin); err != nil {
		return false, err
	}
	return true, nil
}

// HasIdentity reports whether a bundle is unlocked.
func (v *Vault) HasIdentity() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.bundle != nil
}

// Version increases on every unlock, restore or clear.
func (v *Vault) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Keys returns copies of the unlocked key pair.
func (v *Vault) Keys() (types.IdentityBundle, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.bundle == nil {
		return types.IdentityBundle{}, ErrIdentityLocked
	}
	return *v.bundle, nil
}

// PublicKey returns the base64 public key, or "" while locked.
func (v *Vault) PublicKey() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.bundle == nil {
		return ""
	}
	return crypto.EncodeKey(v.bundle.PublicKey)
}

// Clear zeroes the in-memory key and removes the persisted bundle and,
// optionally, the cached PIN.
func (v *Vault) Clear(includeCachedPIN bool) {
	v.mu.Lock()
	if v.bundle != nil {
		v.bundle.Zero()
		v.bundle = nil
	}
	v.version++
	status := Status{Ready: false, Version: v.version}
	v.mu.Unlock()

	if err := v.store.Delete(storage.KeyIdentity); err != nil {
		logger.Warnf("identity: failed to remove stored identity: %v", err)
	}
	if includeCachedPIN {
		if err := v.store.Delete(storage.KeyPIN); err != nil {
			logger.Warnf("identity: failed to remove cached PIN: %v", err)
		}
	}
	v.publish(status)
}

// DeviceID returns the stable id of this installation.
func (v *Vault) DeviceID() (string, error) {
	v.mu.RLock()
	id := v.deviceID
	v.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.deviceID != "" {
		return v.deviceID, nil
	}
	id, err := storage.GetOrCreateDeviceID(v.store)
	if err != nil {
		return "", err
	}
	v.deviceID = id
	return id, nil
}

// Watch subscribes to status changes. The channel holds only the latest
// status; cancel unsubscribes and closes it.
func (v *Vault) Watch() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	v.mu.Lock()
	v.watchers[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.watchers, ch)
			v.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (v *Vault) publish(status Status) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for ch := range v.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- status:
		default:
		}
	}
}
