// Package cli implements the syncre subcommands on top of the chat core.
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Syncre-App/chatcore/internal/api"
	"github.com/Syncre-App/chatcore/internal/chatsync"
	"github.com/Syncre-App/chatcore/internal/config"
	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/internal/envelope"
	"github.com/Syncre-App/chatcore/internal/identity"
	"github.com/Syncre-App/chatcore/internal/keydir"
	"github.com/Syncre-App/chatcore/internal/notify"
	"github.com/Syncre-App/chatcore/internal/storage"
	"github.com/Syncre-App/chatcore/internal/timezone"
	"github.com/Syncre-App/chatcore/internal/websocket"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

// keyringService namespaces entries in the OS keyring.
const keyringService = "syncre"

var (
	// ErrNotLoggedIn is returned when no auth token is stored.
	ErrNotLoggedIn = errors.New("not logged in; run `syncre login` first")
	// ErrTokenExpired is returned for a stored JWT past its exp claim.
	ErrTokenExpired = errors.New("auth token expired; run `syncre login` again")
)

// App wires the chat core for one CLI invocation.
type App struct {
	Cfg   *config.Config
	Store storage.Store
	Zone  *timezone.Service
	API   *api.Client
	Vault *identity.Vault
	Keys  *keydir.Directory
	Codec *envelope.Codec

	Notifier notify.Notifier

	now func() time.Time
}

// NewApp builds the component graph from cfg.
func NewApp(cfg *config.Config) *App {
	store := storage.Open(cfg.Storage, cfg.StorePath(), keyringService)
	return newApp(cfg, store)
}

func newApp(cfg *config.Config, store storage.Store) *App {
	zone := timezone.New(cfg.Timezone)
	client := api.New(cfg.ServerURL, zone)
	vault := identity.New(store, client, identity.Policy{
		Persist:     cfg.KeyCache == config.KeyCachePersistent,
		RememberPIN: cfg.RememberPIN,
	})
	keys := keydir.New(client)
	return &App{
		Cfg:   cfg,
		Store: store,
		Zone:  zone,
		API:   client,
		Vault: vault,
		Keys:  keys,
		Codec: envelope.NewCodec(vault, keys),

		Notifier: newNotifier(cfg),
		now:      time.Now,
	}
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.PushoverToken == "" && cfg.PushoverUser == "" {
		return notify.Nop{}
	}
	n, err := notify.NewPushover(notify.PushoverConfig{
		Token:    cfg.PushoverToken,
		UserKey:  cfg.PushoverUser,
		Cooldown: cfg.NotifyCooldown,
	})
	if err != nil {
		logger.Warnf("cli: notifications disabled: %v", err)
		return notify.Nop{}
	}
	return n
}

// SaveToken validates and stores a bearer token.
func (a *App) SaveToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if crypto.TokenExpired(token, a.now()) {
		return ErrTokenExpired
	}
	if err := a.Store.Set(storage.KeyAuthToken, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	a.API.SetToken(token)
	return nil
}

// Token loads the stored bearer token and installs it on the REST client.
func (a *App) Token() (string, error) {
	token, ok, err := a.Store.Get(storage.KeyAuthToken)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", ErrNotLoggedIn
	}
	if crypto.TokenExpired(token, a.now()) {
		return "", ErrTokenExpired
	}
	a.API.SetToken(token)
	return token, nil
}

// Logout removes the stored token.
func (a *App) Logout() error {
	a.API.SetToken("")
	return a.Store.Delete(storage.KeyAuthToken)
}

// NewEngine returns a sync engine on a fresh realtime transport.
func (a *App) NewEngine() (*chatsync.Engine, *websocket.Client) {
	transport := websocket.New(websocket.Options{
		URL:    a.Cfg.WSURL,
		Zone:   a.Zone,
		Mapper: a.API.Mapper(),
	})
	engine := chatsync.New(chatsync.Config{
		API:       a.API,
		Encoder:   a.Codec,
		Decrypter: a.Codec,
		Transport: transport,
		Identity:  a.Vault,
		Zone:      a.Zone,
		PageSize:  a.Cfg.PageSize,
		Options:   chatsync.Options{PlaintextFallback: a.Cfg.PlaintextFallback},
	})
	return engine, transport
}
