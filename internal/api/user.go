package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Syncre-App/chatcore/pkg/types"
)

// FetchProfile returns the authenticated user's profile.
func (c *Client) FetchProfile(ctx context.Context) (types.UserProfile, error) {
	var raw map[string]any
	if err := call[none](ctx, c, http.MethodGet, "/user/me", nil, &raw); err != nil {
		return types.UserProfile{}, fmt.Errorf("fetch profile: %w", err)
	}
	// Some deployments wrap the profile in {"user": {...}}.
	if inner, ok := raw["user"].(map[string]any); ok {
		raw = inner
	}
	return c.mapper.User(raw), nil
}
