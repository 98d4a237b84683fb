// Package api is the REST client for the chat and key-directory endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Syncre-App/chatcore/internal/timezone"
	"github.com/Syncre-App/chatcore/internal/version"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

// DefaultBaseURL is the production API root including the version prefix.
const DefaultBaseURL = "https://api.syncre.xyz/v1"

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
		},
	}
}

// Zone supplies the timezone header value.
type Zone interface {
	Get() string
}

// Client talks to the REST API with a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	zone    Zone
	mapper  wire.Mapper

	mu    sync.RWMutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMapper replaces the payload mapper (tests pin its clock).
func WithMapper(m wire.Mapper) Option {
	return func(c *Client) { c.mapper = m }
}

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, zone Zone, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		http:    defaultHTTPClient(),
		zone:    zone,
		mapper:  wire.Mapper{APIRoot: strings.TrimSuffix(baseURL, "/v1")},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mapper returns the payload mapper bound to this client's API root.
func (c *Client) Mapper() wire.Mapper {
	return c.mapper
}

// SetToken sets the bearer token used by subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// call sends an optional JSON body and decodes a JSON response into recv
// (when non-nil).
func call[S any, R any](ctx context.Context, c *Client, method, endpoint string, send *S, recv *R) error {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	var reader io.Reader = http.NoBody
	if send != nil {
		js, err := json.Marshal(send)
		if err != nil {
			return fmt.Errorf("unable to marshal json: %w", err)
		}
		reader = bytes.NewReader(js)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	if reader != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.zone != nil {
		if tz := c.zone.Get(); tz != "" {
			req.Header.Set(timezone.Header, tz)
		}
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read response body: %w", err)
	}
	logger.Tracef("api: %s %s -> %d (%d bytes)", method, endpoint, resp.StatusCode, len(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if recv == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, recv); err != nil {
		return fmt.Errorf("unable to unmarshal response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// none is the tag type for calls without a request or response body.
type none struct{}
