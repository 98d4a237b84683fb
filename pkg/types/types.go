// Package types holds the closed data model shared by the chat core: identity
// material, envelopes, messages, chats and presence.
//
// Values in this package are produced by the mapping layer in internal/wire
// and never carry untyped server payloads.
package types

import (
	"strings"
	"time"
)

// IdentityBundle is the unlocked key pair of this device.
type IdentityBundle struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
	KeyVersion int
}

// Zero overwrites the private key bytes.
func (b *IdentityBundle) Zero() {
	for i := range b.PrivateKey {
		b.PrivateKey[i] = 0
	}
}

// StoredIdentity is the persisted form of an IdentityBundle.
type StoredIdentity struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	KeyVersion int    `json:"keyVersion"`
}

// RemoteIdentityRecord is the PIN-wrapped identity held by the server.
type RemoteIdentityRecord struct {
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	Salt                string `json:"salt,omitempty"`
	Iterations          int    `json:"iterations,omitempty"`
	Version             int    `json:"version,omitempty"`
}

// EnvelopeEntry is one per-recipient ciphertext of a message.
type EnvelopeEntry struct {
	RecipientID       string `json:"recipientId" mapstructure:"recipientId"`
	RecipientDevice   string `json:"recipientDevice,omitempty" mapstructure:"recipientDevice"`
	Payload           string `json:"payload" mapstructure:"payload"`
	Nonce             string `json:"nonce" mapstructure:"nonce"`
	KeyVersion        int    `json:"keyVersion,omitempty" mapstructure:"keyVersion"`
	Alg               string `json:"alg,omitempty" mapstructure:"alg"`
	SenderIdentityKey string `json:"senderIdentityKey,omitempty" mapstructure:"senderIdentityKey"`
	SenderDeviceID    string `json:"senderDeviceId,omitempty" mapstructure:"senderDeviceId"`
	Version           int    `json:"version,omitempty" mapstructure:"version"`
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Rank orders statuses; unknown values rank lowest.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusSeen:
		return 4
	default:
		return 0
	}
}

// PresenceStatus is a user's broadcast availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
	PresenceUnknown PresenceStatus = "unknown"
)

// NormalizePresence maps an arbitrary server value onto the closed enum.
func NormalizePresence(raw string) PresenceStatus {
	switch PresenceStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PresenceOnline:
		return PresenceOnline
	case PresenceOffline:
		return PresenceOffline
	case PresenceAway:
		return PresenceAway
	default:
		return PresenceUnknown
	}
}

// SeenReceipt records that a user has seen a message.
type SeenReceipt struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username,omitempty"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	SeenAt    *time.Time `json:"seenAt,omitempty"`
}

// ReplyRef points at the message a reply quotes.
type ReplyRef struct {
	MessageID   string `json:"messageId,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	Preview     string `json:"preview,omitempty"`
	SenderLabel string `json:"senderLabel,omitempty"`
}

// Attachment is file metadata attached to a message.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	FileSize    int64  `json:"fileSize"`
	Status      string `json:"status"`
	IsImage     bool   `json:"isImage"`
	IsVideo     bool   `json:"isVideo"`
	PreviewURL  string `json:"previewUrl,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// ChatMessage is one entry of a chat timeline.
//
// For encrypted messages Content stays nil until a decrypt succeeds.
type ChatMessage struct {
	ID             string          `json:"id"`
	ChatID         string          `json:"chatId"`
	SenderID       string          `json:"senderId"`
	SenderName     string          `json:"senderName,omitempty"`
	SenderAvatar   string          `json:"senderAvatar,omitempty"`
	SenderDeviceID string          `json:"senderDeviceId,omitempty"`
	Content        *string         `json:"content"`
	Preview        *string         `json:"preview,omitempty"`
	MessageType    string          `json:"messageType"`
	CreatedAt      time.Time       `json:"createdAt"`
	CreatedAtLocal string          `json:"createdAtLocal,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	SeenAt         *time.Time      `json:"seenAt,omitempty"`
	EditedAt       *time.Time      `json:"editedAt,omitempty"`
	Status         MessageStatus   `json:"status,omitempty"`
	IsEncrypted    bool            `json:"isEncrypted"`
	IsDeleted      bool            `json:"isDeleted"`
	DeletedByName  string          `json:"deletedByName,omitempty"`
	Reply          *ReplyRef       `json:"reply,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	Envelopes      []EnvelopeEntry `json:"envelopes,omitempty"`
	SeenBy         []SeenReceipt   `json:"seenBy,omitempty"`
	PendingID      string          `json:"pendingId,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
}

// Text returns the displayable body: content, then preview, then "".
func (m ChatMessage) Text() string {
	if m.Content != nil {
		return *m.Content
	}
	if m.Preview != nil {
		return *m.Preview
	}
	return ""
}

// UserProfile is a chat participant.
type UserProfile struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Email     string         `json:"email,omitempty"`
	AvatarURL string         `json:"avatarUrl,omitempty"`
	Status    PresenceStatus `json:"status,omitempty"`
}

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	ID               string        `json:"id"`
	Users            []string      `json:"users"`
	Participants     []UserProfile `json:"participants"`
	ParticipantCount int           `json:"participantCount"`
	IsGroup          bool          `json:"isGroup"`
	OwnerID          string        `json:"ownerId,omitempty"`
	Name             string        `json:"name,omitempty"`
	DisplayName      string        `json:"displayName,omitempty"`
	AvatarURL        string        `json:"avatarUrl,omitempty"`
	CreatedAt        *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// RecipientIDs returns the user ids a message in this chat is addressed to.
// The explicit user list wins over participant profiles.
func (c ChatSummary) RecipientIDs() []string {
	if len(c.Users) > 0 {
		return append([]string(nil), c.Users...)
	}
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != "" {
			out = append(out, p.ID)
		}
	}
	return out
}

// Title returns the best human label for the chat.
func (c ChatSummary) Title() string {
	switch {
	case c.DisplayName != "":
		return c.DisplayName
	case c.Name != "":
		return c.Name
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		names = append(names, p.Username)
	}
	if len(names) == 0 {
		return "chat " + c.ID
	}
	return strings.Join(names, ", ")
}

// TypingEntry marks a user as typing in a chat until ExpiresAt.
type TypingEntry struct {
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MessagePage is one page of a chat timeline.
type MessagePage struct {
	Messages   []ChatMessage
	HasMore    bool
	NextCursor string
	Timezone   string
}

// UnreadSummary holds per-chat unread counters.
type UnreadSummary struct {
	Total int            `json:"total"`
	Chats map[string]int `json:"chats"`
}
