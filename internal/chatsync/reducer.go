package chatsync

import (
	"sort"
	"strings"
	"time"

	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/websocket"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/types"
)

// Reduce is the sync engine reducer.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdSetSession:
		return reduceSetSession(state, in)
	case cmdRefreshChats:
		return reduceRefreshChats(state)
	case cmdSelectChat:
		return reduceSelectChat(state, in.ChatID)
	case cmdSendMessage:
		return reduceSendMessage(state, in)
	case cmdLoadOlder:
		return reduceLoadOlder(state, in)
	case cmdSetTyping:
		return reduceSetTyping(state, in)

	case evChatsLoaded:
		return reduceChatsLoaded(state, in)
	case evMessagesLoaded:
		return reduceMessagesLoaded(state, in)
	case evOutboundReady:
		return reduceOutboundReady(state, in)
	case evRealtime:
		return reduceRealtime(state, in)
	case evConnection:
		state.Connected = in.State == websocket.StateConnected
		return state, nil
	case evIdentity:
		return reduceIdentity(state, in)
	case evDecrypted:
		return reduceDecrypted(state, in)
	case evTypingSweep:
		return reduceTypingSweep(state, in.NowMs)
	default:
		return state, nil
	}
}

func reduceSetSession(state State, cmd cmdSetSession) (State, []actor.Effect) {
	gen := state.Session.Gen + 1
	next := State{
		Options:         state.Options,
		Session:         Session{Gen: gen},
		IdentityReady:   state.IdentityReady,
		IdentityVersion: state.IdentityVersion,
	}
	effects := []actor.Effect{effResetDecrypt{}}

	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return next, append(effects, effStopSweep{}, effDisconnect{})
	}

	next.Session = Session{Token: token, UserID: cmd.UserID, Username: cmd.Username, Gen: gen}
	next.ChatsLoading = true
	return next, append(effects,
		effConnect{Gen: gen, Token: token, UserID: cmd.UserID},
		effStartSweep{Gen: gen},
		effFetchChats{Gen: gen},
	)
}

func reduceRefreshChats(state State) (State, []actor.Effect) {
	if state.Session.Token == "" {
		return state, nil
	}
	state.ChatsLoading = true
	state.ChatsError = ""
	return state, []actor.Effect{effFetchChats{Gen: state.Session.Gen}}
}

func reduceChatsLoaded(state State, ev evChatsLoaded) (State, []actor.Effect) {
	if ev.Gen != state.Session.Gen || state.Session.Token == "" {
		return state, nil
	}
	state.ChatsLoading = false
	if ev.Err != nil {
		state.ChatsError = ev.Err.Error()
		return state, nil
	}
	state.ChatsError = ""

	chats := append([]types.ChatSummary(nil), ev.Chats...)
	sortChats(chats)
	state.Chats = chats

	unread := make(map[string]int, len(ev.Unread.Chats))
	for id, n := range ev.Unread.Chats {
		unread[id] = n
	}
	if state.SelectedChatID != "" {
		unread[state.SelectedChatID] = 0
	}
	state.Unread = unread

	presence := cloneMap(state.Presence)
	for _, chat := range chats {
		for _, p := range chat.Participants {
			if p.ID == "" || p.Status == "" {
				continue
			}
			if _, known := presence[p.ID]; !known {
				presence[p.ID] = p.Status
			}
		}
	}
	state.Presence = presence

	if state.SelectedChatID != "" {
		if _, ok := state.Chat(state.SelectedChatID); ok {
			return state, nil
		}
		leaving := state.SelectedChatID
		state.SelectedChatID = ""
		var first string
		if len(chats) > 0 {
			first = chats[0].ID
		}
		next, effects := reduceSelectChat(state, first)
		return next, append([]actor.Effect{effLeave{ChatID: leaving}}, effects...)
	}
	if len(chats) > 0 {
		return reduceSelectChat(state, chats[0].ID)
	}
	return state, nil
}

func reduceSelectChat(state State, chatID string) (State, []actor.Effect) {
	if state.Session.Token == "" || chatID == state.SelectedChatID {
		return state, nil
	}

	var effects []actor.Effect
	if state.SelectedChatID != "" {
		effects = append(effects, effLeave{ChatID: state.SelectedChatID})
	}
	state.SelectedChatID = chatID
	if chatID == "" {
		return state, effects
	}
	effects = append(effects, effJoin{ChatID: chatID})

	// Realtime messages may arrive before the first page; they do not count
	// as loaded history.
	if meta := state.Meta[chatID]; !meta.Loading && (!meta.Loaded || len(state.Messages[chatID]) == 0) {
		state = setMeta(state, chatID, func(m *ChatMeta) { m.Loading = true })
		effects = append(effects, effFetchMessages{Gen: state.Session.Gen, ChatID: chatID})
	}

	state.Unread = withUnread(state.Unread, chatID, 0)
	state, effects = ackLatest(state, chatID, effects)
	effects = append(effects, effMarkSeen{Gen: state.Session.Gen, ChatID: chatID})
	return state, effects
}

// ackLatest emits message_seen for the newest loaded message of chatID
// unless it was already acknowledged.
func ackLatest(state State, chatID string, effects []actor.Effect) (State, []actor.Effect) {
	msgs := state.Messages[chatID]
	if len(msgs) == 0 {
		return state, effects
	}
	return ackMessage(state, chatID, msgs[len(msgs)-1].ID, effects)
}

func ackMessage(state State, chatID, messageID string, effects []actor.Effect) (State, []actor.Effect) {
	if messageID == "" || strings.HasPrefix(messageID, pendingPrefix) {
		return state, effects
	}
	if state.SeenSent[chatID] == messageID {
		return state, effects
	}
	seen := cloneMap(state.SeenSent)
	seen[chatID] = messageID
	state.SeenSent = seen
	return state, append(effects, effSendFrame{Frame: wire.MessageSeen(chatID, messageID)})
}

func reduceSendMessage(state State, cmd cmdSendMessage) (State, []actor.Effect) {
	reply := func(err error) []actor.Effect {
		return []actor.Effect{effCompleteReply{Reply: cmd.Reply, Err: err}}
	}

	content := strings.TrimSpace(cmd.Content)
	chatID := cmd.ChatID
	if chatID == "" {
		chatID = state.SelectedChatID
	}
	switch {
	case state.Session.Token == "" || state.Session.UserID == "":
		return state, reply(ErrNoSession)
	case chatID == "":
		return state, reply(ErrNoChat)
	case content == "":
		return state, reply(ErrEmptyMessage)
	}

	var recipients []string
	if chat, ok := state.Chat(chatID); ok {
		recipients = chat.RecipientIDs()
	}
	encrypt := state.IdentityReady && len(recipients) > 0

	createdAt := time.UnixMilli(cmd.NowMs).UTC()
	name := state.Session.Username
	if name == "" {
		name = "You"
	}
	msg := types.ChatMessage{
		ID:          cmd.PendingID,
		PendingID:   cmd.PendingID,
		ChatID:      chatID,
		SenderID:    state.Session.UserID,
		SenderName:  name,
		MessageType: wire.MessageTypeText,
		CreatedAt:   createdAt,
		Status:      types.StatusSending,
	}
	if encrypt {
		preview := wire.Truncate(content, wire.LocalPreviewLimit)
		msg.IsEncrypted = true
		msg.MessageType = wire.MessageTypeE2EE
		msg.Preview = &preview
	} else {
		msg.Content = &content
	}

	state = setTimeline(state, chatID, append(cloneSlice(state.Messages[chatID]), msg))
	queue := cloneMap(state.PendingQueue)
	queue[chatID] = append(cloneSlice(queue[chatID]), cmd.PendingID)
	state.PendingQueue = queue
	state.Chats = bumpChat(state.Chats, chatID, createdAt)

	effects := []actor.Effect{effPrepareSend{
		Gen:        state.Session.Gen,
		ChatID:     chatID,
		PendingID:  cmd.PendingID,
		Content:    content,
		Encrypt:    encrypt,
		Recipients: recipients,
		UserID:     state.Session.UserID,
	}}
	return state, append(effects, reply(nil)...)
}

func reduceOutboundReady(state State, ev evOutboundReady) (State, []actor.Effect) {
	if ev.Gen != state.Session.Gen || state.Session.Token == "" {
		return state, nil
	}
	if ev.Err == nil && ev.Payload != nil {
		state.EncryptionError = ""
		return state, []actor.Effect{effSendFrame{Frame: wire.EncryptedMessage(
			ev.ChatID, ev.Payload.Envelopes, ev.Payload.SenderDeviceID, ev.Payload.Preview,
		)}}
	}
	if ev.Err == nil {
		return state, []actor.Effect{effSendFrame{Frame: wire.PlainMessage(ev.ChatID, ev.Content)}}
	}

	state.EncryptionError = msgEncryptFailed
	if !state.Options.PlaintextFallback {
		state = removeMessage(state, ev.ChatID, ev.PendingID)
		state = dropPending(state, ev.ChatID, ev.PendingID)
		return state, nil
	}

	content := ev.Content
	state = patchMessage(state, ev.ChatID, ev.PendingID, func(m *types.ChatMessage) {
		m.IsEncrypted = false
		m.MessageType = wire.MessageTypeText
		m.Content = &content
		m.Preview = nil
	})
	return state, []actor.Effect{effSendFrame{Frame: wire.PlainMessage(ev.ChatID, content)}}
}

func reduceLoadOlder(state State, cmd cmdLoadOlder) (State, []actor.Effect) {
	chatID := cmd.ChatID
	if chatID == "" {
		chatID = state.SelectedChatID
	}
	done := []actor.Effect{effCompleteReply{Reply: cmd.Reply}}
	if chatID == "" || state.Session.Token == "" {
		return state, done
	}
	meta := state.Meta[chatID]
	if meta.Loading || !meta.HasMore {
		return state, done
	}

	var before time.Time
	if msgs := state.Messages[chatID]; len(msgs) > 0 {
		before = msgs[0].CreatedAt
	}
	state = setMeta(state, chatID, func(m *ChatMeta) { m.Loading = true })
	return state, append(done, effFetchMessages{
		Gen:    state.Session.Gen,
		ChatID: chatID,
		Before: before,
		Older:  true,
	})
}

func reduceMessagesLoaded(state State, ev evMessagesLoaded) (State, []actor.Effect) {
	if ev.Gen != state.Session.Gen || state.Session.Token == "" {
		return state, nil
	}
	if ev.Err != nil {
		return setMeta(state, ev.ChatID, func(m *ChatMeta) { m.Loading = false }), nil
	}

	existing := state.Messages[ev.ChatID]
	var merged []types.ChatMessage
	if ev.Older {
		ids := make(map[string]struct{}, len(existing))
		for _, m := range existing {
			ids[m.ID] = struct{}{}
		}
		for _, m := range ev.Page.Messages {
			if _, dup := ids[m.ID]; !dup {
				merged = append(merged, m)
			}
		}
		merged = append(merged, existing...)
	} else {
		index := make(map[string]int, len(existing)+len(ev.Page.Messages))
		for _, m := range existing {
			if i, ok := index[m.ID]; ok {
				merged[i] = m
				continue
			}
			index[m.ID] = len(merged)
			merged = append(merged, m)
		}
		for _, m := range ev.Page.Messages {
			if i, ok := index[m.ID]; ok {
				merged[i] = keepDecrypted(merged[i], m)
				continue
			}
			index[m.ID] = len(merged)
			merged = append(merged, m)
		}
	}
	sortMessages(merged)
	state = setTimeline(state, ev.ChatID, merged)
	state = setMeta(state, ev.ChatID, func(m *ChatMeta) {
		m.Cursor = ev.Page.NextCursor
		m.HasMore = ev.Page.HasMore
		m.Loading = false
		m.Loaded = true
	})

	var effects []actor.Effect
	if ev.Page.Timezone != "" {
		effects = append(effects, effSetTimezone{Zone: ev.Page.Timezone})
	}
	if len(ev.Page.Messages) > 0 {
		effects = append(effects, effDecrypt{
			ChatID:   ev.ChatID,
			Messages: append([]types.ChatMessage(nil), ev.Page.Messages...),
		})
	}
	if ev.ChatID == state.SelectedChatID && !ev.Older {
		state, effects = ackLatest(state, ev.ChatID, effects)
	}
	return state, effects
}

// keepDecrypted replaces old with fresh while keeping plaintext already
// recovered locally.
func keepDecrypted(old, fresh types.ChatMessage) types.ChatMessage {
	if fresh.IsEncrypted && fresh.Content == nil && old.Content != nil {
		fresh.Content = old.Content
		fresh.Preview = nil
	}
	if old.Status.Rank() > fresh.Status.Rank() {
		fresh.Status = old.Status
	}
	return fresh
}

func reduceSetTyping(state State, cmd cmdSetTyping) (State, []actor.Effect) {
	if cmd.ChatID == "" || state.Session.Token == "" {
		return state, nil
	}
	if cmd.Active {
		return state, []actor.Effect{effSendFrame{Frame: wire.Typing(cmd.ChatID)}}
	}
	return state, []actor.Effect{effSendFrame{Frame: wire.StopTyping(cmd.ChatID)}}
}

func reduceRealtime(state State, ev evRealtime) (State, []actor.Effect) {
	if state.Session.Token == "" {
		return state, nil
	}
	switch e := ev.Event.(type) {
	case wire.MessageReceived:
		return reduceIncomingMessage(state, e.ChatID, e.Message)
	case wire.MessageStatusChanged:
		return reduceMessageStatus(state, e), nil
	case wire.TypingStarted:
		return reduceTypingStarted(state, e, ev.NowMs), nil
	case wire.TypingStopped:
		return removeTyping(state, e.ChatID, e.UserID), nil
	case wire.PresenceChanged:
		if len(e.Updates) == 0 {
			return state, nil
		}
		presence := cloneMap(state.Presence)
		for id, status := range e.Updates {
			presence[id] = status
		}
		state.Presence = presence
		return state, nil
	case wire.ChatListChanged:
		return reduceRefreshChats(state)
	case wire.EnvelopesAppended:
		state = setMeta(state, e.ChatID, func(m *ChatMeta) { m.Loading = true })
		return state, []actor.Effect{effFetchMessages{Gen: state.Session.Gen, ChatID: e.ChatID}}
	default:
		return state, nil
	}
}

func reduceIncomingMessage(state State, chatID string, msg types.ChatMessage) (State, []actor.Effect) {
	userID := state.Session.UserID
	self := userID != "" && msg.SenderID == userID
	msg.ChatID = chatID

	timeline := cloneSlice(state.Messages[chatID])
	if self {
		msg.Status = types.StatusSent
		replaced := false
		if pendingID, ok := peekPending(state, chatID); ok {
			state = dropPending(state, chatID, pendingID)
			if i := indexOf(timeline, pendingID); i >= 0 {
				if j := indexOf(timeline, msg.ID); j >= 0 {
					// A page load already delivered the confirmed copy.
					timeline[j] = keepDecrypted(timeline[j], msg)
					timeline = append(timeline[:i], timeline[i+1:]...)
				} else {
					timeline[i] = msg
				}
				replaced = true
			}
		}
		if !replaced {
			if i := indexOf(timeline, msg.ID); i >= 0 {
				timeline[i] = keepDecrypted(timeline[i], msg)
			} else {
				timeline = append(timeline, msg)
			}
		}
	} else {
		if indexOf(timeline, msg.ID) >= 0 {
			return state, nil
		}
		timeline = append(timeline, msg)
	}
	sortMessages(timeline)
	state = setTimeline(state, chatID, timeline)
	state.Chats = bumpChat(state.Chats, chatID, msg.CreatedAt)

	var effects []actor.Effect
	switch {
	case chatID == state.SelectedChatID:
		state.Unread = withUnread(state.Unread, chatID, 0)
		state, effects = ackMessage(state, chatID, msg.ID, effects)
	case !self:
		state.Unread = withUnread(state.Unread, chatID, state.Unread[chatID]+1)
	}

	if msg.IsEncrypted && msg.Content == nil && len(msg.Envelopes) > 0 {
		effects = append(effects, effDecrypt{ChatID: chatID, Messages: []types.ChatMessage{msg}})
	}
	return state, effects
}

func reduceMessageStatus(state State, ev wire.MessageStatusChanged) State {
	if ev.ChatID == "" || ev.MessageID == "" {
		return state
	}
	if indexOf(state.Messages[ev.ChatID], ev.MessageID) < 0 {
		return state
	}
	return patchMessage(state, ev.ChatID, ev.MessageID, func(m *types.ChatMessage) {
		if ev.Status.Rank() > m.Status.Rank() {
			m.Status = ev.Status
		}
		if ev.DeliveredAt != nil {
			m.DeliveredAt = ev.DeliveredAt
		}
		if ev.SeenAt != nil {
			m.SeenAt = ev.SeenAt
		}
		if ev.Status == types.StatusSeen && ev.Viewer != nil && ev.Viewer.UserID != "" {
			m.SeenBy = mergeReceipt(m.SeenBy, *ev.Viewer)
		}
	})
}

func mergeReceipt(list []types.SeenReceipt, r types.SeenReceipt) []types.SeenReceipt {
	out := make([]types.SeenReceipt, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.UserID == r.UserID {
			out = append(out, r)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, r)
	}
	return out
}

func reduceTypingStarted(state State, ev wire.TypingStarted, nowMs int64) State {
	if ev.ChatID == "" || ev.UserID == "" || ev.UserID == state.Session.UserID {
		return state
	}
	typing := cloneMap(state.Typing)
	users := cloneMap(typing[ev.ChatID])
	users[ev.UserID] = types.TypingEntry{
		ChatID:    ev.ChatID,
		UserID:    ev.UserID,
		Username:  ev.Username,
		ExpiresAt: time.UnixMilli(nowMs + typingTTLMs).UTC(),
	}
	typing[ev.ChatID] = users
	state.Typing = typing
	return state
}

func removeTyping(state State, chatID, userID string) State {
	if _, ok := state.Typing[chatID][userID]; !ok {
		return state
	}
	typing := cloneMap(state.Typing)
	users := cloneMap(typing[chatID])
	delete(users, userID)
	if len(users) == 0 {
		delete(typing, chatID)
	} else {
		typing[chatID] = users
	}
	state.Typing = typing
	return state
}

func reduceTypingSweep(state State, nowMs int64) (State, []actor.Effect) {
	changed := false
	next := make(map[string]map[string]types.TypingEntry, len(state.Typing))
	for chatID, users := range state.Typing {
		kept := make(map[string]types.TypingEntry, len(users))
		for id, entry := range users {
			if entry.ExpiresAt.UnixMilli() > nowMs {
				kept[id] = entry
			}
		}
		if len(kept) != len(users) {
			changed = true
		}
		if len(kept) > 0 {
			next[chatID] = kept
		}
	}
	if !changed {
		return state, nil
	}
	state.Typing = next
	return state, nil
}

func reduceIdentity(state State, ev evIdentity) (State, []actor.Effect) {
	wasReady, oldVersion := state.IdentityReady, state.IdentityVersion
	state.IdentityReady = ev.Ready
	state.IdentityVersion = ev.Version
	if !ev.Ready {
		state.EncryptionError = ""
		return state, []actor.Effect{effResetDecrypt{}}
	}
	if wasReady && oldVersion == ev.Version {
		return state, nil
	}
	if state.Session.Token == "" || len(state.Messages) == 0 {
		return state, nil
	}
	timelines := make(map[string][]types.ChatMessage, len(state.Messages))
	for chatID, msgs := range state.Messages {
		timelines[chatID] = append([]types.ChatMessage(nil), msgs...)
	}
	return state, []actor.Effect{effDecryptAll{Timelines: timelines}}
}

func reduceDecrypted(state State, ev evDecrypted) (State, []actor.Effect) {
	res := ev.Result
	if state.Session.Token == "" {
		return state, nil
	}
	if res.Err != nil {
		if res.IdentityVersion == state.IdentityVersion {
			state.EncryptionError = msgDecryptFailed
		}
		return state, nil
	}
	if !res.OK {
		return state, nil
	}
	// Plaintext from a cleared or replaced identity is never applied.
	if !state.IdentityReady || res.IdentityVersion != state.IdentityVersion {
		return state, nil
	}
	if indexOf(state.Messages[res.ChatID], res.MessageID) < 0 {
		return state, nil
	}
	plaintext := res.Plaintext
	state = patchMessage(state, res.ChatID, res.MessageID, func(m *types.ChatMessage) {
		m.Content = &plaintext
		m.Preview = nil
	})
	state.EncryptionError = ""
	return state, nil
}

// Helpers. Each returns fresh collections; the inputs are never written.

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	return append(make([]T, 0, len(in)+1), in...)
}

func setTimeline(state State, chatID string, msgs []types.ChatMessage) State {
	all := cloneMap(state.Messages)
	all[chatID] = msgs
	state.Messages = all
	return state
}

func setMeta(state State, chatID string, mutate func(*ChatMeta)) State {
	meta := cloneMap(state.Meta)
	m := meta[chatID]
	mutate(&m)
	meta[chatID] = m
	state.Meta = meta
	return state
}

func withUnread(in map[string]int, chatID string, n int) map[string]int {
	if cur, ok := in[chatID]; ok && cur == n {
		return in
	}
	out := cloneMap(in)
	out[chatID] = n
	return out
}

func patchMessage(state State, chatID, messageID string, mutate func(*types.ChatMessage)) State {
	msgs := state.Messages[chatID]
	i := indexOf(msgs, messageID)
	if i < 0 {
		return state
	}
	next := cloneSlice(msgs)
	mutate(&next[i])
	return setTimeline(state, chatID, next)
}

func removeMessage(state State, chatID, messageID string) State {
	msgs := state.Messages[chatID]
	i := indexOf(msgs, messageID)
	if i < 0 {
		return state
	}
	next := make([]types.ChatMessage, 0, len(msgs)-1)
	next = append(next, msgs[:i]...)
	next = append(next, msgs[i+1:]...)
	return setTimeline(state, chatID, next)
}

func peekPending(state State, chatID string) (string, bool) {
	q := state.PendingQueue[chatID]
	if len(q) == 0 {
		return "", false
	}
	return q[0], true
}

func dropPending(state State, chatID, pendingID string) State {
	q := state.PendingQueue[chatID]
	next := make([]string, 0, len(q))
	for _, id := range q {
		if id != pendingID {
			next = append(next, id)
		}
	}
	all := cloneMap(state.PendingQueue)
	if len(next) == 0 {
		delete(all, chatID)
	} else {
		all[chatID] = next
	}
	state.PendingQueue = all
	return state
}

func indexOf(msgs []types.ChatMessage, id string) int {
	if id == "" {
		return -1
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func sortMessages(msgs []types.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func sortChats(chats []types.ChatSummary) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

// bumpChat advances chatID's UpdatedAt to at and restores the descending
// order.
func bumpChat(chats []types.ChatSummary, chatID string, at time.Time) []types.ChatSummary {
	out := append([]types.ChatSummary(nil), chats...)
	for i := range out {
		if out[i].ID != chatID {
			continue
		}
		if at.After(out[i].UpdatedAt) {
			out[i].UpdatedAt = at
		}
		sortChats(out)
		return out
	}
	return chats
}
