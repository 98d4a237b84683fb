package storage

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const probeKey = "syncre_probe"

// Keyring is a Store backed by the platform secret service (macOS Keychain,
// Windows Credential Manager, Secret Service on Linux).
type Keyring struct {
	service string
}

// NewKeyring returns a keyring store scoped to service.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = "syncre"
	}
	return &Keyring{service: service}
}

// Probe reports whether the keyring can be reached.
func (k *Keyring) Probe() error {
	_, err := keyring.Get(k.service, probeKey)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Get implements Store.
func (k *Keyring) Get(key string) (string, bool, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Store.
func (k *Keyring) Set(key, value string) error {
	return keyring.Set(k.service, key, value)
}

// Delete implements Store.
func (k *Keyring) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
