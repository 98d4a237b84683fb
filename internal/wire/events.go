package wire

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Syncre-App/chatcore/pkg/types"
)

// Inbound event types.
const (
	EventAuthSuccess         = "auth_success"
	EventNewMessage          = "new_message"
	EventMessageEnvelope     = "message_envelope"
	EventMessageEnvelopeSent = "message_envelope_sent"
	EventMessageStatus       = "message_status"
	EventTyping              = "typing"
	EventStopTyping          = "stop-typing"
	EventFriendStatus        = "friend_status_change"
	EventUserStatus          = "user_status_update"
	EventBulkStatus          = "bulk_status_update"
	EventChatGroupCreated    = "chat_group_created"
	EventChatUpdated         = "chat_updated"
	EventChatMembersAdded    = "chat_members_added"
	EventChatMembersRemoved  = "chat_members_removed"
	EventChatDeleted         = "chat_deleted"
	EventChatRemoved         = "chat_removed"
	EventEnvelopesAppended   = "envelopes_appended"
)

// ErrMalformedFrame is returned for frames that are not JSON objects.
var ErrMalformedFrame = errors.New("malformed realtime frame")

// Event is an inbound realtime event. The set of implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

type eventBase struct{}

func (eventBase) isEvent() {}

// AuthSucceeded confirms the auth frame.
type AuthSucceeded struct{ eventBase }

// MessageReceived carries a new message (plain or encrypted).
type MessageReceived struct {
	eventBase
	Type    string
	ChatID  string
	Message types.ChatMessage
}

// MessageStatusChanged reports delivery or seen receipts.
type MessageStatusChanged struct {
	eventBase
	ChatID      string
	MessageID   string
	Status      types.MessageStatus
	DeliveredAt *time.Time
	SeenAt      *time.Time
	Viewer      *types.SeenReceipt
}

// TypingStarted reports that a user is typing.
type TypingStarted struct {
	eventBase
	ChatID   string
	UserID   string
	Username string
}

// TypingStopped reports that a user stopped typing.
type TypingStopped struct {
	eventBase
	ChatID string
	UserID string
}

// PresenceChanged carries one or more normalized presence updates.
type PresenceChanged struct {
	eventBase
	Type    string
	Updates map[string]types.PresenceStatus
}

// ChatListChanged signals that the chat list must be refreshed.
type ChatListChanged struct {
	eventBase
	Type   string
	ChatID string
}

// EnvelopesAppended signals new envelopes for a chat's messages.
type EnvelopesAppended struct {
	eventBase
	ChatID string
}

// Unknown is any event type this client does not handle.
type Unknown struct {
	eventBase
	Type string
}

func (AuthSucceeded) EventType() string        { return EventAuthSuccess }
func (e MessageReceived) EventType() string    { return e.Type }
func (MessageStatusChanged) EventType() string { return EventMessageStatus }
func (TypingStarted) EventType() string        { return EventTyping }
func (TypingStopped) EventType() string        { return EventStopTyping }
func (e PresenceChanged) EventType() string    { return e.Type }
func (e ChatListChanged) EventType() string    { return e.Type }
func (EnvelopesAppended) EventType() string    { return EventEnvelopesAppended }
func (e Unknown) EventType() string            { return e.Type }

// ParseEvent decodes one realtime frame into a typed event.
func (m Mapper) ParseEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, ErrMalformedFrame
	}
	typ := gjson.GetBytes(raw, "type").String()
	chatID := idOf(gjson.GetBytes(raw, "chatId"))

	switch typ {
	case EventAuthSuccess:
		return AuthSucceeded{}, nil

	case EventNewMessage, EventMessageEnvelope, EventMessageEnvelopeSent:
		if chatID == "" {
			return Unknown{Type: typ}, nil
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, ErrMalformedFrame
		}
		msg := m.Message(payload)
		msg.ChatID = chatID
		return MessageReceived{Type: typ, ChatID: chatID, Message: msg}, nil

	case EventMessageStatus:
		return m.statusEvent(raw, chatID), nil

	case EventTyping:
		return TypingStarted{
			ChatID:   chatID,
			UserID:   idOf(gjson.GetBytes(raw, "userId")),
			Username: gjson.GetBytes(raw, "username").String(),
		}, nil

	case EventStopTyping:
		return TypingStopped{ChatID: chatID, UserID: idOf(gjson.GetBytes(raw, "userId"))}, nil

	case EventFriendStatus:
		updates := map[string]types.PresenceStatus{}
		if id := idOf(gjson.GetBytes(raw, "userId")); id != "" {
			updates[id] = types.NormalizePresence(gjson.GetBytes(raw, "status").String())
		}
		return PresenceChanged{Type: typ, Updates: updates}, nil

	case EventUserStatus:
		updates := map[string]types.PresenceStatus{}
		id := idOf(gjson.GetBytes(raw, "userId"))
		status := gjson.GetBytes(raw, "data.status")
		if id != "" && status.String() != "" {
			updates[id] = types.NormalizePresence(status.String())
		}
		return PresenceChanged{Type: typ, Updates: updates}, nil

	case EventBulkStatus:
		updates := map[string]types.PresenceStatus{}
		gjson.GetBytes(raw, "data.statuses").ForEach(func(key, value gjson.Result) bool {
			updates[key.String()] = types.NormalizePresence(value.String())
			return true
		})
		return PresenceChanged{Type: typ, Updates: updates}, nil

	case EventChatGroupCreated, EventChatUpdated, EventChatMembersAdded,
		EventChatMembersRemoved, EventChatDeleted, EventChatRemoved:
		return ChatListChanged{Type: typ, ChatID: chatID}, nil

	case EventEnvelopesAppended:
		if chatID == "" {
			return Unknown{Type: typ}, nil
		}
		return EnvelopesAppended{ChatID: chatID}, nil

	default:
		return Unknown{Type: typ}, nil
	}
}

func (m Mapper) statusEvent(raw []byte, chatID string) Event {
	ev := MessageStatusChanged{
		ChatID:      chatID,
		MessageID:   idOf(gjson.GetBytes(raw, "messageId")),
		Status:      types.MessageStatus(gjson.GetBytes(raw, "status").String()),
		DeliveredAt: timeOf(gjson.GetBytes(raw, "deliveredAt")),
		SeenAt:      timeOf(gjson.GetBytes(raw, "seenAt")),
	}
	if ev.Status != types.StatusDelivered && ev.Status != types.StatusSeen {
		return Unknown{Type: EventMessageStatus}
	}
	if ev.Status == types.StatusSeen {
		if viewer := idOf(gjson.GetBytes(raw, "viewerId")); viewer != "" {
			receipt := types.SeenReceipt{
				UserID:    viewer,
				Username:  gjson.GetBytes(raw, "viewerUsername").String(),
				AvatarURL: m.absolute(gjson.GetBytes(raw, "viewerAvatar").String()),
				SeenAt:    ev.SeenAt,
			}
			ev.Viewer = &receipt
		}
	}
	return ev
}

func timeOf(r gjson.Result) *time.Time {
	if !r.Exists() {
		return nil
	}
	if ts, ok := parseTime(r.Value()); ok {
		return &ts
	}
	return nil
}

// idOf stringifies an id that may arrive as a JSON string or number.
func idOf(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return r.Raw
	default:
		return ""
	}
}
