// Package wire defines the realtime protocol vocabulary (outbound frames and
// the closed set of inbound events) and the mapping layer that turns loosely
// shaped server payloads into pkg/types values.
package wire

import (
	"encoding/json"

	"github.com/Syncre-App/chatcore/pkg/types"
)

// Outbound frame types.
const (
	FrameAuth        = "auth"
	FrameChatJoin    = "chat_join"
	FrameChatLeave   = "chat_leave"
	FrameChatMessage = "chat_message"
	FrameTyping      = "typing"
	FrameStopTyping  = "stop-typing"
	FrameMessageSeen = "message_seen"
)

// Message types carried in chat_message frames.
const (
	MessageTypeText = "text"
	MessageTypeE2EE = "e2ee"
)

// Header is embedded in every outbound frame.
type Header struct {
	Type     string `json:"type"`
	Timezone string `json:"timezone,omitempty"`
}

func (h *Header) header() *Header { return h }

// Frame is an outbound realtime frame.
type Frame interface {
	header() *Header
}

// FrameType returns the type tag of f.
func FrameType(f Frame) string {
	return f.header().Type
}

// Encode stamps the timezone (unless already set) and marshals f.
func Encode(f Frame, timezone string) ([]byte, error) {
	h := f.header()
	if h.Timezone == "" {
		h.Timezone = timezone
	}
	return json.Marshal(f)
}

// AuthFrame authenticates the connection.
type AuthFrame struct {
	Header
	Token string `json:"token"`
}

// Auth returns an auth frame.
func Auth(token string) *AuthFrame {
	return &AuthFrame{Header: Header{Type: FrameAuth}, Token: token}
}

// ChatFrame is a frame addressed at one chat room (join, leave, typing).
type ChatFrame struct {
	Header
	ChatID string `json:"chatId"`
}

// Join returns a chat_join frame.
func Join(chatID string) *ChatFrame {
	return &ChatFrame{Header: Header{Type: FrameChatJoin}, ChatID: chatID}
}

// Leave returns a chat_leave frame.
func Leave(chatID string) *ChatFrame {
	return &ChatFrame{Header: Header{Type: FrameChatLeave}, ChatID: chatID}
}

// Typing returns a typing frame.
func Typing(chatID string) *ChatFrame {
	return &ChatFrame{Header: Header{Type: FrameTyping}, ChatID: chatID}
}

// StopTyping returns a stop-typing frame.
func StopTyping(chatID string) *ChatFrame {
	return &ChatFrame{Header: Header{Type: FrameStopTyping}, ChatID: chatID}
}

// ChatMessageFrame carries a plaintext or end-to-end encrypted message.
type ChatMessageFrame struct {
	Header
	ChatID         string                `json:"chatId"`
	Content        string                `json:"content"`
	MessageType    string                `json:"message_type"`
	Envelopes      []types.EnvelopeEntry `json:"envelopes,omitempty"`
	SenderDeviceID string                `json:"senderDeviceId,omitempty"`
	Preview        string                `json:"preview,omitempty"`
}

// PlainMessage returns a plaintext chat_message frame.
func PlainMessage(chatID, content string) *ChatMessageFrame {
	return &ChatMessageFrame{
		Header:      Header{Type: FrameChatMessage},
		ChatID:      chatID,
		Content:     content,
		MessageType: MessageTypeText,
	}
}

// EncryptedMessage returns an e2ee chat_message frame. Content stays empty.
func EncryptedMessage(chatID string, envelopes []types.EnvelopeEntry, senderDeviceID, preview string) *ChatMessageFrame {
	return &ChatMessageFrame{
		Header:         Header{Type: FrameChatMessage},
		ChatID:         chatID,
		MessageType:    MessageTypeE2EE,
		Envelopes:      envelopes,
		SenderDeviceID: senderDeviceID,
		Preview:        preview,
	}
}

// MessageSeenFrame acknowledges the latest seen message of a chat.
type MessageSeenFrame struct {
	Header
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// MessageSeen returns a message_seen frame.
func MessageSeen(chatID, messageID string) *MessageSeenFrame {
	return &MessageSeenFrame{Header: Header{Type: FrameMessageSeen}, ChatID: chatID, MessageID: messageID}
}
