package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix shared by every configuration variable.
const EnvPrefix = "SYNCRE"

// Storage backends.
const (
	StorageFile    = "file"
	StorageKeyring = "keyring"
	StorageMemory  = "memory"
)

// Key cache policies.
const (
	// KeyCachePersistent keeps the unlocked identity in durable storage so a
	// later session does not need the PIN again.
	KeyCachePersistent = "persistent"
	// KeyCacheSession keeps the unlocked identity in memory only.
	KeyCacheSession = "session"
)

type Config struct {
	// ServerURL is the base URL of the REST API (including the /v1 suffix).
	ServerURL string `envconfig:"SERVER_URL" default:"https://api.syncre.xyz/v1"`
	// WSURL is the realtime endpoint.
	WSURL string `envconfig:"WS_URL" default:"wss://api.syncre.xyz/ws"`

	// HomeDir is the directory where local state is stored.
	HomeDir string `envconfig:"HOME_DIR"`
	// Storage selects the durable store backend (file|keyring|memory).
	Storage string `envconfig:"STORAGE" default:"file"`

	// KeyCache selects how the unlocked identity is cached (persistent|session).
	KeyCache string `envconfig:"KEY_CACHE" default:"persistent"`
	// RememberPIN caches the raw PIN for silent re-unlock.
	RememberPIN bool `envconfig:"REMEMBER_PIN" default:"false"`
	// PlaintextFallback sends a message unencrypted when encryption fails.
	PlaintextFallback bool `envconfig:"PLAINTEXT_FALLBACK" default:"false"`

	// Timezone overrides the detected IANA zone.
	Timezone string `envconfig:"TIMEZONE"`
	// PageSize is the number of messages requested per page.
	PageSize int `envconfig:"PAGE_SIZE" default:"50"`

	// PushoverToken and PushoverUser enable Pushover alerts for activity in
	// chats other than the open one.
	PushoverToken string `envconfig:"PUSHOVER_TOKEN"`
	PushoverUser  string `envconfig:"PUSHOVER_USER"`

	// NotifyCooldown is the minimum interval between alerts for one chat.
	NotifyCooldown time.Duration `envconfig:"NOTIFY_COOLDOWN" default:"1m"`

	// LogLevel is the logger threshold (trace|debug|info|warn|error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// Debug enables verbose logging.
	Debug bool `envconfig:"DEBUG" default:"false"`
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if !cfg.Debug {
		debug := os.Getenv("DEBUG")
		cfg.Debug = debug == "true" || debug == "1"
	}

	if cfg.HomeDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.HomeDir = filepath.Join(homeDir, ".syncre")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings and normalizes URLs.
func (c *Config) Validate() error {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		return fmt.Errorf("missing %s_SERVER_URL", EnvPrefix)
	}
	if strings.TrimSpace(c.WSURL) == "" {
		return fmt.Errorf("missing %s_WS_URL", EnvPrefix)
	}
	switch c.Storage {
	case StorageFile, StorageKeyring, StorageMemory:
	default:
		return fmt.Errorf("invalid %s_STORAGE %q (expected file, keyring, or memory)", EnvPrefix, c.Storage)
	}
	switch c.KeyCache {
	case KeyCachePersistent, KeyCacheSession:
	default:
		return fmt.Errorf("invalid %s_KEY_CACHE %q (expected persistent or session)", EnvPrefix, c.KeyCache)
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	return nil
}

// Save creates the home directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.HomeDir, 0o700); err != nil {
		return fmt.Errorf("failed to create syncre home: %w", err)
	}
	return nil
}

// StorePath is the file used by the file storage backend.
func (c *Config) StorePath() string {
	return filepath.Join(c.HomeDir, "store.json")
}

// APIRoot is the server origin without the version suffix; relative asset
// paths are resolved against it.
func (c *Config) APIRoot() string {
	root := strings.TrimRight(c.ServerURL, "/")
	if strings.HasSuffix(strings.ToLower(root), "/v1") {
		root = root[:len(root)-len("/v1")]
	}
	return root
}
