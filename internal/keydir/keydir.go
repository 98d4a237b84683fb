// Package keydir resolves other users' identity public keys with a
// cache-first lookup against the key directory endpoints.
package keydir

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

// lookupTimeout bounds one shared lookup; it outlives the caller that
// started it.
const lookupTimeout = 15 * time.Second

// Source is the remote key directory.
type Source interface {
	IdentityPublicKey(ctx context.Context, userID string) (string, error)
	DeviceKeys(ctx context.Context, userID string) ([]string, error)
}

// Directory caches resolved public keys by user id. Concurrent misses for the
// same user share one lookup.
type Directory struct {
	src   Source
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]string
}

// New returns an empty Directory.
func New(src Source) *Directory {
	return &Directory{src: src, cache: make(map[string]string)}
}

// ResolvePublicKey returns the base64 identity key of userID. Missing keys and
// transport failures both report ok=false.
func (d *Directory) ResolvePublicKey(ctx context.Context, userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	if key, ok := d.cached(userID); ok {
		return key, true
	}

	ch := d.group.DoChan(userID, func() (any, error) {
		if key, ok := d.cached(userID); ok {
			return key, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		key := d.fetch(fctx, userID)
		if key != "" {
			d.mu.Lock()
			d.cache[userID] = key
			d.mu.Unlock()
		}
		return key, nil
	})
	select {
	case res := <-ch:
		key, _ := res.Val.(string)
		return key, key != ""
	case <-ctx.Done():
		return "", false
	}
}

func (d *Directory) cached(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.cache[userID]
	return key, ok
}

func (d *Directory) fetch(ctx context.Context, userID string) string {
	key, err := d.src.IdentityPublicKey(ctx, userID)
	switch {
	case err != nil:
		logger.Debugf("keydir: identity key for %s: %v", userID, err)
	case valid(key):
		return key
	}

	keys, err := d.src.DeviceKeys(ctx, userID)
	if err != nil {
		logger.Debugf("keydir: device keys for %s: %v", userID, err)
		return ""
	}
	for _, k := range keys {
		if valid(k) {
			return k
		}
	}
	logger.Debugf("keydir: no usable key for %s", userID)
	return ""
}

func valid(key string) bool {
	if key == "" {
		return false
	}
	_, err := crypto.DecodeKey(key)
	return err == nil
}

// Seed stores a known key, e.g. one carried in an envelope or our own.
// Invalid keys are ignored.
func (d *Directory) Seed(userID, key string) {
	if userID == "" || !valid(key) {
		return
	}
	d.mu.Lock()
	d.cache[userID] = key
	d.mu.Unlock()
}

// Forget drops one cached key.
func (d *Directory) Forget(userID string) {
	d.mu.Lock()
	delete(d.cache, userID)
	d.mu.Unlock()
}

// Reset drops every cached key.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.cache = make(map[string]string)
	d.mu.Unlock()
}
