package wire

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Syncre-App/chatcore/pkg/types"
)

// Mapper converts loosely shaped server payloads into the closed data model.
//
// The server mixes camelCase and snake_case keys, sends numeric ids, and
// ships envelopes as arrays, JSON strings or {"envelopes": [...]} wrappers.
// Unknown shapes map to zero values rather than errors.
type Mapper struct {
	// APIRoot resolves relative avatar and attachment paths.
	APIRoot string
	// Now stamps messages without a creation time. Defaults to time.Now.
	Now func() time.Time
}

func (m Mapper) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

var absoluteURL = regexp.MustCompile(`(?i)^https?://`)

func (m Mapper) absolute(path string) string {
	if path == "" || absoluteURL.MatchString(path) {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(m.APIRoot, "/") + path
}

// User maps a participant object.
func (m Mapper) User(v any) types.UserProfile {
	r := asRecord(v)
	id := r.id("id", "userId")
	if id == "" {
		id = "user"
	}
	status := types.PresenceUnknown
	if s, ok := r.text("status"); ok {
		status = types.NormalizePresence(s)
	}
	avatar, _ := r.text("profile_picture", "avatarUrl", "profilePicture")
	email, _ := r.text("email")
	return types.UserProfile{
		ID:        id,
		Username:  r.textOr("User", "username", "name"),
		Email:     email,
		AvatarURL: m.absolute(avatar),
		Status:    status,
	}
}

// Chat maps a chat list entry.
func (m Mapper) Chat(v any) types.ChatSummary {
	r := asRecord(v)

	var participants []types.UserProfile
	for _, p := range asSlice(r["participants"]) {
		participants = append(participants, m.User(p))
	}

	var users []string
	if ids := asSlice(r["userIds"]); ids != nil {
		users = stringIDs(ids)
	} else if raw, ok := r["users"].(string); ok {
		var decoded []any
		if json.Unmarshal([]byte(raw), &decoded) == nil {
			users = stringIDs(decoded)
		}
	} else if ids := asSlice(r["users"]); ids != nil {
		users = stringIDs(ids)
	}

	count := len(participants)
	if n, ok := r.number("participantCount"); ok {
		count = int(n)
	}

	id := r.id("id")
	if id == "" {
		id = "0"
	}
	avatar, _ := r.text("avatarUrl", "avatar_url")
	name, _ := r.text("name")
	display, _ := r.text("displayName")

	chat := types.ChatSummary{
		ID:               id,
		Users:            users,
		Participants:     participants,
		ParticipantCount: count,
		IsGroup:          r.flag("isGroup", "is_group"),
		OwnerID:          r.id("ownerId", "owner_id"),
		Name:             name,
		DisplayName:      display,
		AvatarURL:        m.absolute(avatar),
		CreatedAt:        r.timestamp("created_at", "createdAt"),
	}
	if ts := r.timestamp("updated_at", "updatedAt"); ts != nil {
		chat.UpdatedAt = *ts
	} else if chat.CreatedAt != nil {
		chat.UpdatedAt = *chat.CreatedAt
	}
	return chat
}

func stringIDs(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s := valueString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envelopeAliases maps snake_case keys onto the canonical envelope keys.
var envelopeAliases = map[string]string{
	"recipient_id":        "recipientId",
	"recipient_device":    "recipientDevice",
	"key_version":         "keyVersion",
	"sender_identity_key": "senderIdentityKey",
	"sender_device_id":    "senderDeviceId",
}

// Envelopes maps the envelope set of a message. Entries missing a recipient,
// payload or nonce are dropped.
func (m Mapper) Envelopes(v any) []types.EnvelopeEntry {
	source := v
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil
		}
		source = decoded
	}
	if wrapper, ok := source.(map[string]any); ok {
		source = wrapper["envelopes"]
	}

	var out []types.EnvelopeEntry
	for _, entry := range asSlice(source) {
		env, err := decodeEnvelope(asRecord(entry))
		if err != nil {
			continue
		}
		if env.RecipientID == "" || env.Payload == "" || env.Nonce == "" {
			continue
		}
		out = append(out, env)
	}
	return out
}

func decodeEnvelope(r record) (types.EnvelopeEntry, error) {
	normalized := make(map[string]any, len(r))
	for k, v := range r {
		if canonical, ok := envelopeAliases[k]; ok {
			if _, exists := r[canonical]; exists {
				continue
			}
			k = canonical
		}
		normalized[k] = v
	}

	var env types.EnvelopeEntry
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &env,
	})
	if err != nil {
		return env, err
	}
	if err := dec.Decode(normalized); err != nil {
		return env, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}

// SeenReceipts maps a seenBy list; entries without a user id are dropped.
func (m Mapper) SeenReceipts(v any) []types.SeenReceipt {
	var out []types.SeenReceipt
	for _, entry := range asSlice(v) {
		r := asRecord(entry)
		userID := r.id("userId", "viewerId", "id")
		if userID == "" {
			continue
		}
		username, _ := r.text("username", "viewerUsername")
		avatar, _ := r.text("avatarUrl", "viewerAvatar")
		out = append(out, types.SeenReceipt{
			UserID:    userID,
			Username:  username,
			AvatarURL: m.absolute(avatar),
			SeenAt:    r.timestamp("seenAt", "timestamp"),
		})
	}
	return out
}

func (m Mapper) attachments(v any) []types.Attachment {
	var out []types.Attachment
	for _, entry := range asSlice(v) {
		r := asRecord(entry)
		id := r.id("id")
		if id == "" {
			id = "attachment"
		}
		size, _ := r.number("fileSize")
		preview, _ := r.text("previewPath", "publicViewPath")
		download, _ := r.text("downloadPath")
		out = append(out, types.Attachment{
			ID:          id,
			Name:        r.textOr("Attachment", "name", "fileName"),
			MimeType:    r.textOr("application/octet-stream", "mimeType"),
			FileSize:    size,
			Status:      r.textOr("active", "status"),
			IsImage:     r.flag("isImage"),
			IsVideo:     r.flag("isVideo"),
			PreviewURL:  m.absolute(preview),
			DownloadURL: m.absolute(download),
		})
	}
	return out
}

func reply(v any) *types.ReplyRef {
	r := asRecord(v)
	if len(r) == 0 {
		return nil
	}
	preview, _ := r.text("preview")
	label, _ := r.text("senderLabel", "reply_sender_label")
	return &types.ReplyRef{
		MessageID:   r.id("messageId", "reply_to_message_id"),
		SenderID:    r.id("senderId", "reply_to_sender_id"),
		Preview:     preview,
		SenderLabel: label,
	}
}

// Message maps a message object from REST pages or realtime events.
//
// Encrypted messages never carry content here: it is filled in by a decrypt.
func (m Mapper) Message(v any) types.ChatMessage {
	r := asRecord(v)
	chatID := r.id("chatId", "chat_id")

	envelopeSource := r["envelopes"]
	if envelopeSource == nil {
		envelopeSource = r["envelope"]
	}
	envelopes := m.Envelopes(envelopeSource)
	hasEnvelopes := asSlice(r["envelopes"]) != nil || len(envelopes) > 0
	if s, ok := r["envelope"].(string); ok && strings.Contains(s, "recipientId") {
		hasEnvelopes = true
	}

	messageType := r.textOr("", "messageType")
	if messageType == "" {
		messageType = r.id("message_type")
	}
	if messageType == "" {
		messageType = "text"
	}

	eventType, _ := r.text("type")
	encrypted := r.flag("isEncrypted", "is_encrypted") ||
		hasEnvelopes ||
		messageType == MessageTypeE2EE ||
		eventType == EventMessageEnvelope ||
		eventType == EventMessageEnvelopeSent

	createdAt := m.now()
	createdRaw := ""
	if s, ok := r.text("createdAt", "created_at"); ok {
		createdRaw = s
		if ts, ok := parseTime(s); ok {
			createdAt = ts
		}
	} else if ts := r.timestamp("createdAt", "created_at"); ts != nil {
		createdAt = *ts
	}
	if createdRaw == "" {
		createdRaw = FormatTime(createdAt)
	}

	id := r.id("id", "messageId")
	if id == "" {
		id = chatID + "-" + createdRaw
	}
	if chatID == "" {
		chatID = "0"
	}

	msg := types.ChatMessage{
		ID:             id,
		ChatID:         chatID,
		SenderID:       r.id("senderId", "sender_id"),
		SenderName:     r.textOr("", "senderName", "sender_username", "senderUsername"),
		SenderAvatar:   m.absolute(r.textOr("", "senderAvatar", "sender_avatar", "senderAvatarUrl")),
		SenderDeviceID: r.textOr("", "senderDeviceId", "sender_device_id"),
		MessageType:    messageType,
		CreatedAt:      createdAt,
		CreatedAtLocal: r.textOr("", "createdAtLocal", "created_at_local"),
		DeliveredAt:    r.timestamp("deliveredAt", "delivered_at"),
		SeenAt:         r.timestamp("seenAt", "seen_at"),
		EditedAt:       r.timestamp("editedAt", "edited_at"),
		IsEncrypted:    encrypted,
		IsDeleted:      r.flag("isDeleted", "is_deleted"),
		DeletedByName:  r.textOr("", "deletedByName", "deleted_by_name"),
		Attachments:    m.attachments(r["attachments"]),
		Envelopes:      envelopes,
		SeenBy:         m.SeenReceipts(r["seenBy"]),
		Timezone:       r.textOr("", "timezone"),
	}
	if ref := r["reply"]; ref != nil {
		msg.Reply = reply(ref)
	} else {
		msg.Reply = reply(r["replyMetadata"])
	}
	if preview, ok := r.text("preview"); ok {
		p := Truncate(preview, PreviewLimit)
		msg.Preview = &p
	}
	if !encrypted {
		content := r.textOr("", "content")
		msg.Content = &content
	}
	switch {
	case msg.SeenAt != nil:
		msg.Status = types.StatusSeen
	case msg.DeliveredAt != nil:
		msg.Status = types.StatusDelivered
	}
	return msg
}
