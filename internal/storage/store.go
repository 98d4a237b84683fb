// Package storage is the key/value persistence abstraction used for identity
// material, the device id and the auth token.
//
// Backends: an in-memory map, a JSON file written atomically, and the OS
// keyring. Open wraps a durable backend so that failures degrade to the
// in-memory map instead of surfacing to callers.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Syncre-App/chatcore/pkg/logger"
)

// Fixed storage keys.
const (
	KeyIdentity  = "syncre_e2ee_identity_v1"
	KeyDeviceID  = "syncre_web_device_id"
	KeyPIN       = "syncre_e2ee_pin_v1"
	KeyAuthToken = "syncre_auth_token"
)

// Store is a string key/value store.
//
// Get reports ok=false when the key is absent.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get implements Store.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// GetJSON decodes the JSON value stored under key into out.
func GetJSON(s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON. A nil v removes the key.
func SetJSON(s Store, key string, v any) error {
	if v == nil {
		return s.Delete(key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(key, string(raw))
}

// Resilient mirrors every write into memory and serves reads from memory when
// the durable backend fails. Backend errors are logged and swallowed.
type Resilient struct {
	durable Store
	mem     *Memory
}

// NewResilient wraps durable with an in-memory fallback.
func NewResilient(durable Store) *Resilient {
	return &Resilient{durable: durable, mem: NewMemory()}
}

// Get implements Store.
func (r *Resilient) Get(key string) (string, bool, error) {
	v, ok, err := r.durable.Get(key)
	if err != nil {
		logger.Warnf("storage: get %s failed, using memory: %v", key, err)
		return r.mem.Get(key)
	}
	if ok {
		return v, true, nil
	}
	return r.mem.Get(key)
}

// Set implements Store.
func (r *Resilient) Set(key, value string) error {
	_ = r.mem.Set(key, value)
	if err := r.durable.Set(key, value); err != nil {
		logger.Warnf("storage: set %s failed, kept in memory: %v", key, err)
	}
	return nil
}

// Delete implements Store.
func (r *Resilient) Delete(key string) error {
	_ = r.mem.Delete(key)
	if err := r.durable.Delete(key); err != nil {
		logger.Warnf("storage: delete %s failed: %v", key, err)
	}
	return nil
}

// Open returns the store for a backend name ("file", "keyring", "memory").
//
// When the durable backend is unusable the in-memory map is returned.
func Open(backend, path, service string) Store {
	switch backend {
	case "file":
		fs, err := NewFile(path)
		if err != nil {
			logger.Warnf("storage: file backend unavailable, using memory: %v", err)
			return NewMemory()
		}
		return NewResilient(fs)
	case "keyring":
		ks := NewKeyring(service)
		if err := ks.Probe(); err != nil {
			logger.Warnf("storage: keyring unavailable, using memory: %v", err)
			return NewMemory()
		}
		return NewResilient(ks)
	default:
		return NewMemory()
	}
}
