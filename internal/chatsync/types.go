package chatsync

import (
	"sort"
	"time"

	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/decrypt"
	"github.com/Syncre-App/chatcore/internal/envelope"
	"github.com/Syncre-App/chatcore/internal/websocket"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/types"
)

const (
	// typingTTLMs is how long a typing indicator lives without a refresh.
	typingTTLMs = int64(4_000)
	// typingSweepEvery is the cadence of the expiry sweep.
	typingSweepEvery = 2 * time.Second

	pendingPrefix = "pending-"
)

// User-facing error strings. Details stay in debug logs.
const (
	msgEncryptFailed = "could not encrypt the message, check your PIN"
	msgDecryptFailed = "some messages could not be decrypted"
)

// Session identifies the signed-in user. Gen changes on every SetSession and
// tags runtime work so results from an older session are dropped.
type Session struct {
	Token    string
	UserID   string
	Username string
	Gen      int64
}

// ChatMeta is the pagination state of one timeline.
type ChatMeta struct {
	Cursor  string
	HasMore bool
	Loading bool
	// Loaded is set once a page for the chat has arrived.
	Loaded bool
}

// Options are fixed for the engine's lifetime.
type Options struct {
	// PlaintextFallback sends a message unencrypted when encryption fails.
	// The default drops the message instead.
	PlaintextFallback bool
}

// State is the loop-owned state of the sync engine.
//
// Reducers never write through a map or slice they did not allocate in the
// same transition, so a State handed out by Snapshot stays valid.
type State struct {
	Options Options

	Session Session

	Chats          []types.ChatSummary
	SelectedChatID string
	ChatsLoading   bool
	ChatsError     string

	Messages map[string][]types.ChatMessage
	Meta     map[string]ChatMeta
	Unread   map[string]int
	Typing   map[string]map[string]types.TypingEntry
	Presence map[string]types.PresenceStatus

	// PendingQueue holds optimistic ids per chat in send order. A self echo
	// from the server resolves the oldest.
	PendingQueue map[string][]string

	// SeenSent is the last message id acknowledged with message_seen per
	// chat.
	SeenSent map[string]string

	Connected       bool
	IdentityReady   bool
	IdentityVersion uint64
	EncryptionError string
}

// NewState returns an empty signed-out state.
func NewState(opts Options) State {
	return State{Options: opts}
}

// Chat returns the chat with id.
func (s State) Chat(id string) (types.ChatSummary, bool) {
	for _, c := range s.Chats {
		if c.ID == id {
			return c, true
		}
	}
	return types.ChatSummary{}, false
}

// TypingUsers returns the display names typing in chatID at now, sorted.
func (s State) TypingUsers(chatID string, now time.Time) []string {
	nowMs := now.UnixMilli()
	var names []string
	for _, entry := range s.Typing[chatID] {
		if entry.ExpiresAt.UnixMilli() <= nowMs {
			continue
		}
		name := entry.Username
		if name == "" {
			name = "Someone"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inputs

// cmdSetSession installs or clears the signed-in user.
type cmdSetSession struct {
	actor.InputBase
	Token    string
	UserID   string
	Username string
}

type cmdRefreshChats struct {
	actor.InputBase
}

type cmdSelectChat struct {
	actor.InputBase
	ChatID string
}

// cmdSendMessage carries a pre-generated pending id and timestamp so the
// reducer stays deterministic.
type cmdSendMessage struct {
	actor.InputBase
	ChatID    string
	Content   string
	PendingID string
	NowMs     int64
	Reply     chan error
}

type cmdLoadOlder struct {
	actor.InputBase
	ChatID string
	Reply  chan error
}

type cmdSetTyping struct {
	actor.InputBase
	ChatID string
	Active bool
}

// Events emitted by the runtime back into the reducer.

type evChatsLoaded struct {
	actor.InputBase
	Gen    int64
	Chats  []types.ChatSummary
	Unread types.UnreadSummary
	Err    error
}

type evMessagesLoaded struct {
	actor.InputBase
	Gen    int64
	ChatID string
	Older  bool
	Page   types.MessagePage
	Err    error
}

// evOutboundReady reports that a queued send was prepared. Payload is nil
// for plaintext sends.
type evOutboundReady struct {
	actor.InputBase
	Gen       int64
	ChatID    string
	PendingID string
	Content   string
	Payload   *envelope.Payload
	Err       error
}

type evRealtime struct {
	actor.InputBase
	Event wire.Event
	NowMs int64
}

type evConnection struct {
	actor.InputBase
	State websocket.State
}

type evIdentity struct {
	actor.InputBase
	Ready   bool
	Version uint64
}

type evDecrypted struct {
	actor.InputBase
	Result decrypt.Result
}

type evTypingSweep struct {
	actor.InputBase
	NowMs int64
}

// Effects

type effCompleteReply struct {
	actor.EffectBase
	Reply chan error
	Err   error
}

type effConnect struct {
	actor.EffectBase
	Gen    int64
	Token  string
	UserID string
}

type effDisconnect struct {
	actor.EffectBase
}

type effStartSweep struct {
	actor.EffectBase
	Gen int64
}

type effStopSweep struct {
	actor.EffectBase
}

type effResetDecrypt struct {
	actor.EffectBase
}

type effFetchChats struct {
	actor.EffectBase
	Gen int64
}

type effFetchMessages struct {
	actor.EffectBase
	Gen    int64
	ChatID string
	Before time.Time
	Older  bool
}

type effJoin struct {
	actor.EffectBase
	ChatID string
}

type effLeave struct {
	actor.EffectBase
	ChatID string
}

type effSendFrame struct {
	actor.EffectBase
	Frame wire.Frame
}

type effMarkSeen struct {
	actor.EffectBase
	Gen    int64
	ChatID string
}

// effPrepareSend queues a message on the runtime's ordered outbox.
type effPrepareSend struct {
	actor.EffectBase
	Gen        int64
	ChatID     string
	PendingID  string
	Content    string
	Encrypt    bool
	Recipients []string
	UserID     string
}

type effDecrypt struct {
	actor.EffectBase
	ChatID   string
	Messages []types.ChatMessage
}

type effDecryptAll struct {
	actor.EffectBase
	Timelines map[string][]types.ChatMessage
}

type effSetTimezone struct {
	actor.EffectBase
	Zone string
}
