package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GetOrCreateDeviceID loads the stable device id, generating and persisting a
// UUID v4 on first use.
func GetOrCreateDeviceID(s Store) (string, error) {
	existing, ok, err := s.Get(KeyDeviceID)
	if err == nil && ok && strings.TrimSpace(existing) != "" {
		return existing, nil
	}

	id := uuid.NewString()
	if err := s.Set(KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to save device ID: %w", err)
	}
	return id, nil
}
