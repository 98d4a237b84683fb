// Package notify delivers out-of-band alerts about chat activity.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// PushoverEndpoint is the Pushover messages API.
	PushoverEndpoint = "https://api.pushover.net/1/messages.json"

	pushoverContentType    = "application/x-www-form-urlencoded"
	defaultPushoverTimeout = 10 * time.Second
)

// Message is one alert.
type Message struct {
	Title string
	Body  string
	// Key groups alerts for cooldown, normally the chat id.
	Key string
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop drops every alert.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Message) error { return nil }

// PushoverConfig holds Pushover credentials and delivery options.
type PushoverConfig struct {
	Token    string
	UserKey  string
	Priority int
	// Cooldown is the minimum interval between alerts sharing a key.
	Cooldown time.Duration
	// Endpoint overrides PushoverEndpoint.
	Endpoint string
	Client   *http.Client
}

// Pushover sends alerts through the Pushover service.
type Pushover struct {
	cfg PushoverConfig
	now func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewPushover validates cfg and returns a notifier.
func NewPushover(cfg PushoverConfig) (*Pushover, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("pushover token is required")
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, errors.New("pushover user key is required")
	}
	if cfg.Cooldown < 0 {
		return nil, errors.New("pushover cooldown must be non-negative")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = PushoverEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultPushoverTimeout}
	}
	return &Pushover{cfg: cfg, now: time.Now, lastSent: make(map[string]time.Time)}, nil
}

// Notify sends msg unless another alert with the same key went out within
// the cooldown.
func (p *Pushover) Notify(ctx context.Context, msg Message) error {
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return errors.New("notification body is required")
	}
	key := strings.TrimSpace(msg.Key)

	now := p.now()
	if !p.claim(key, now) {
		return nil
	}
	if err := p.send(ctx, msg.Title, body); err != nil {
		p.release(key)
		return err
	}
	return nil
}

// claim reserves the key's slot so concurrent alerts for one chat collapse.
func (p *Pushover) claim(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastSent[key]; ok && p.cfg.Cooldown > 0 && now.Sub(last) < p.cfg.Cooldown {
		return false
	}
	p.lastSent[key] = now
	return true
}

func (p *Pushover) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lastSent, key)
}

func (p *Pushover) send(ctx context.Context, title, body string) error {
	form := url.Values{}
	form.Set("token", p.cfg.Token)
	form.Set("user", p.cfg.UserKey)
	form.Set("message", body)
	if title = strings.TrimSpace(title); title != "" {
		form.Set("title", title)
	}
	if p.cfg.Priority != 0 {
		form.Set("priority", strconv.Itoa(p.cfg.Priority))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	req.Header.Set("Content-Type", pushoverContentType)

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("pushover response %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return nil
}
