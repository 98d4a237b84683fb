package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Syncre-App/chatcore/pkg/types"
)

// FetchIdentity returns the caller's PIN-wrapped identity record.
func (c *Client) FetchIdentity(ctx context.Context) (types.RemoteIdentityRecord, error) {
	var rec types.RemoteIdentityRecord
	if err := call[none](ctx, c, http.MethodGet, "/keys/identity", nil, &rec); err != nil {
		return types.RemoteIdentityRecord{}, fmt.Errorf("fetch identity: %w", err)
	}
	return rec, nil
}

// DeviceRegistration announces a device's identity key.
type DeviceRegistration struct {
	DeviceID    string `json:"deviceId"`
	IdentityKey string `json:"identityKey"`
	KeyVersion  int    `json:"keyVersion"`
}

// RegisterDevice publishes this device's identity key.
func (c *Client) RegisterDevice(ctx context.Context, reg DeviceRegistration) error {
	if err := call[DeviceRegistration, none](ctx, c, http.MethodPost, "/keys/register", &reg, nil); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// IdentityPublicKey returns a user's published identity key, or "" when the
// server has none.
func (c *Client) IdentityPublicKey(ctx context.Context, userID string) (string, error) {
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	endpoint := "/keys/identity/public/" + url.PathEscape(userID)
	if err := call[none](ctx, c, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", fmt.Errorf("identity key %s: %w", userID, err)
	}
	return resp.PublicKey, nil
}

// DeviceKeys returns the identity keys of a user's registered devices in
// server order. Devices without a key are skipped.
func (c *Client) DeviceKeys(ctx context.Context, userID string) ([]string, error) {
	var resp struct {
		Devices []struct {
			DeviceID    string `json:"deviceId"`
			IdentityKey string `json:"identityKey"`
		} `json:"devices"`
	}
	endpoint := "/keys/" + url.PathEscape(userID)
	if err := call[none](ctx, c, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("device keys %s: %w", userID, err)
	}
	keys := make([]string, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		if d.IdentityKey != "" {
			keys = append(keys, d.IdentityKey)
		}
	}
	return keys, nil
}
