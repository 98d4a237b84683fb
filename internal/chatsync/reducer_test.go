package chatsync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/actor/actortest"
	"github.com/Syncre-App/chatcore/internal/decrypt"
	"github.com/Syncre-App/chatcore/internal/envelope"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/types"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return base.Add(d) }

func strptr(s string) *string { return &s }

func signedIn(t *testing.T, opts Options) State {
	t.Helper()
	st, effects := Reduce(NewState(opts), SetSession("tok", "me", "Me"))
	require.Equal(t, int64(1), st.Session.Gen)
	require.True(t, st.ChatsLoading)
	require.Len(t, actortest.Of[effConnect](effects), 1, actortest.Pretty(actortest.EffectTypes(effects)))
	return st
}

// withChats loads the chat list; the newest chat becomes selected.
func withChats(t *testing.T, st State, chats ...types.ChatSummary) State {
	t.Helper()
	st, _ = Reduce(st, evChatsLoaded{Gen: st.Session.Gen, Chats: chats})
	require.False(t, st.ChatsLoading)
	return st
}

func chat(id string, updated time.Duration, users ...string) types.ChatSummary {
	return types.ChatSummary{ID: id, Users: users, UpdatedAt: at(updated)}
}

func incoming(chatID, id, sender string, created time.Duration) actor.Input {
	return Realtime(wire.MessageReceived{
		Type:   wire.EventNewMessage,
		ChatID: chatID,
		Message: types.ChatMessage{
			ID:        id,
			SenderID:  sender,
			Content:   strptr("body " + id),
			CreatedAt: at(created),
		},
	}, at(created).UnixMilli())
}

func seenFrames(effects []actor.Effect) []*wire.MessageSeenFrame {
	var out []*wire.MessageSeenFrame
	for _, eff := range actortest.Of[effSendFrame](effects) {
		if f, ok := eff.Frame.(*wire.MessageSeenFrame); ok {
			out = append(out, f)
		}
	}
	return out
}

func ids(msgs []types.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestSetSessionLifecycle(t *testing.T) {
	t.Parallel()

	st := signedIn(t, Options{})
	st = withChats(t, st, chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, incoming("c1", "1", "u2", time.Second))
	require.NotEmpty(t, st.Messages)

	next, effects := Reduce(st, SetSession("", "", ""))
	require.Equal(t, int64(2), next.Session.Gen)
	require.Empty(t, next.Session.Token)
	require.Empty(t, next.Chats)
	require.Empty(t, next.Messages)
	require.Empty(t, next.SelectedChatID)
	require.Equal(t, []string{
		"chatsync.effResetDecrypt",
		"chatsync.effStopSweep",
		"chatsync.effDisconnect",
	}, actortest.EffectTypes(effects))

	// The previous generation's results are ignored.
	dropped, effects := Reduce(next, evChatsLoaded{Gen: 1, Chats: []types.ChatSummary{chat("c9", 0)}})
	require.Empty(t, dropped.Chats)
	require.Empty(t, effects)
}

func TestChatsLoadedSelectsNewest(t *testing.T) {
	t.Parallel()

	st := signedIn(t, Options{})
	st, effects := Reduce(st, evChatsLoaded{
		Gen:    st.Session.Gen,
		Chats:  []types.ChatSummary{chat("old", 0), chat("new", time.Hour)},
		Unread: types.UnreadSummary{Total: 3, Chats: map[string]int{"old": 1, "new": 2}},
	})

	require.Equal(t, []string{"new", "old"}, []string{st.Chats[0].ID, st.Chats[1].ID})
	require.Equal(t, "new", st.SelectedChatID)
	require.Equal(t, 0, st.Unread["new"])
	require.Equal(t, 1, st.Unread["old"])
	require.True(t, st.Meta["new"].Loading)

	require.Len(t, actortest.Of[effJoin](effects), 1)
	require.Len(t, actortest.Of[effFetchMessages](effects), 1)
	require.Len(t, actortest.Of[effMarkSeen](effects), 1)
	require.Empty(t, seenFrames(effects))
}

func TestChatsLoadedError(t *testing.T) {
	t.Parallel()

	st := signedIn(t, Options{})
	st, effects := Reduce(st, evChatsLoaded{Gen: st.Session.Gen, Err: errors.New("boom")})
	require.Equal(t, "boom", st.ChatsError)
	require.False(t, st.ChatsLoading)
	require.Empty(t, effects)

	st, effects = Reduce(st, RefreshChats())
	require.Empty(t, st.ChatsError)
	require.True(t, st.ChatsLoading)
	require.Len(t, actortest.Of[effFetchChats](effects), 1)
}

func TestSendReconcilesPendingInOrder(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))

	st, effects := actor.Steps(st, Reduce,
		SendMessage("c1", "  first ", "pending-1", at(0).UnixMilli(), nil),
		SendMessage("", "second", "pending-2", at(10*time.Millisecond).UnixMilli(), nil),
	)
	prepared := actortest.Of[effPrepareSend](effects)
	require.Len(t, prepared, 2)
	require.Equal(t, "first", prepared[0].Content)
	require.False(t, prepared[0].Encrypt)
	require.Equal(t, []string{"pending-1", "pending-2"}, st.PendingQueue["c1"])
	require.Equal(t, []string{"pending-1", "pending-2"}, ids(st.Messages["c1"]))
	require.Equal(t, types.StatusSending, st.Messages["c1"][0].Status)
	require.Equal(t, "first", *st.Messages["c1"][0].Content)

	st, effects = Reduce(st, evOutboundReady{Gen: st.Session.Gen, ChatID: "c1", PendingID: "pending-1", Content: "first"})
	frames := actortest.Of[effSendFrame](effects)
	require.Len(t, frames, 1)
	require.Equal(t, wire.FrameChatMessage, wire.FrameType(frames[0].Frame))

	st, _ = Reduce(st, incoming("c1", "100", "me", 500*time.Millisecond))
	require.Equal(t, []string{"pending-2"}, st.PendingQueue["c1"])
	require.Equal(t, []string{"pending-2", "100"}, ids(st.Messages["c1"]))

	st, _ = Reduce(st, incoming("c1", "101", "me", 600*time.Millisecond))
	require.Empty(t, st.PendingQueue["c1"])
	require.Equal(t, []string{"100", "101"}, ids(st.Messages["c1"]))
	for _, m := range st.Messages["c1"] {
		require.Equal(t, types.StatusSent, m.Status)
		require.Empty(t, m.PendingID)
	}
	require.Zero(t, st.Unread["c1"])
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state func(t *testing.T) State
		chat  string
		body  string
		want  error
	}{
		{
			name:  "signed out",
			state: func(*testing.T) State { return NewState(Options{}) },
			chat:  "c1",
			body:  "hi",
			want:  ErrNoSession,
		},
		{
			name:  "no chat",
			state: func(t *testing.T) State { return signedIn(t, Options{}) },
			body:  "hi",
			want:  ErrNoChat,
		},
		{
			name:  "blank",
			state: func(t *testing.T) State { return signedIn(t, Options{}) },
			chat:  "c1",
			body:  "   ",
			want:  ErrEmptyMessage,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reply := make(chan error, 1)
			st := tc.state(t)
			next, effects := Reduce(st, SendMessage(tc.chat, tc.body, "pending-x", 1, reply))
			require.Empty(t, actortest.Of[effPrepareSend](effects))
			require.Empty(t, next.Messages)

			replies := actortest.Of[effCompleteReply](effects)
			require.Len(t, replies, 1)
			require.ErrorIs(t, replies[0].Err, tc.want)
		})
	}
}

func encryptedSend(t *testing.T, opts Options) State {
	t.Helper()
	st := withChats(t, signedIn(t, opts), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, IdentityChanged(true, 1))

	st, effects := Reduce(st, SendMessage("c1", "secret words", "pending-1", at(0).UnixMilli(), nil))
	prepared := actortest.Of[effPrepareSend](effects)
	require.Len(t, prepared, 1)
	require.True(t, prepared[0].Encrypt)
	require.Equal(t, []string{"me", "u2"}, prepared[0].Recipients)

	msg := st.Messages["c1"][0]
	require.True(t, msg.IsEncrypted)
	require.Nil(t, msg.Content)
	require.Equal(t, "secret words", *msg.Preview)
	require.Equal(t, wire.MessageTypeE2EE, msg.MessageType)
	return st
}

func TestEncryptFailureFailsClosed(t *testing.T) {
	t.Parallel()

	st := encryptedSend(t, Options{})
	st, effects := Reduce(st, evOutboundReady{
		Gen:       st.Session.Gen,
		ChatID:    "c1",
		PendingID: "pending-1",
		Content:   "secret words",
		Err:       envelope.ErrNoRecipientKeys,
	})
	require.Empty(t, effects)
	require.Empty(t, st.Messages["c1"])
	require.Empty(t, st.PendingQueue["c1"])
	require.Equal(t, msgEncryptFailed, st.EncryptionError)
}

func TestEncryptFailurePlaintextFallback(t *testing.T) {
	t.Parallel()

	st := encryptedSend(t, Options{PlaintextFallback: true})
	st, effects := Reduce(st, evOutboundReady{
		Gen:       st.Session.Gen,
		ChatID:    "c1",
		PendingID: "pending-1",
		Content:   "secret words",
		Err:       envelope.ErrNoRecipientKeys,
	})

	frames := actortest.Of[effSendFrame](effects)
	require.Len(t, frames, 1)
	plain, ok := frames[0].Frame.(*wire.ChatMessageFrame)
	require.True(t, ok)
	require.Equal(t, wire.MessageTypeText, plain.MessageType)
	require.Equal(t, "secret words", plain.Content)

	msg := st.Messages["c1"][0]
	require.False(t, msg.IsEncrypted)
	require.Equal(t, "secret words", *msg.Content)
	require.Nil(t, msg.Preview)
	require.Equal(t, []string{"pending-1"}, st.PendingQueue["c1"])
}

func TestEncryptedSendEmitsEnvelopes(t *testing.T) {
	t.Parallel()

	st := encryptedSend(t, Options{})
	payload := &envelope.Payload{
		Envelopes:      []types.EnvelopeEntry{{RecipientID: "u2"}, {RecipientID: "me"}},
		SenderDeviceID: "dev-1",
		Preview:        "secret words",
	}
	_, effects := Reduce(st, evOutboundReady{Gen: st.Session.Gen, ChatID: "c1", PendingID: "pending-1", Payload: payload})

	frames := actortest.Of[effSendFrame](effects)
	require.Len(t, frames, 1)
	f := frames[0].Frame.(*wire.ChatMessageFrame)
	require.Equal(t, wire.MessageTypeE2EE, f.MessageType)
	require.Empty(t, f.Content)
	require.Len(t, f.Envelopes, 2)
	require.Equal(t, "dev-1", f.SenderDeviceID)

	// A result from an older session is dropped.
	_, effects = Reduce(st, evOutboundReady{Gen: st.Session.Gen - 1, ChatID: "c1", Payload: payload})
	require.Empty(t, effects)
}

func TestIncomingMessagesSortedAndDeduplicated(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}),
		chat("c1", time.Hour, "me", "u2"),
		chat("c2", 0, "me", "u3"),
	)
	require.Equal(t, "c1", st.SelectedChatID)

	st, _ = actor.Steps(st, Reduce,
		incoming("c2", "b", "u3", 2*time.Hour),
		incoming("c2", "a", "u3", 90*time.Minute),
		incoming("c2", "b", "u3", 2*time.Hour),
	)
	require.Equal(t, []string{"a", "b"}, ids(st.Messages["c2"]))
	require.Equal(t, 2, st.Unread["c2"])

	// c2 now has the newest message and moves to the top.
	require.Equal(t, "c2", st.Chats[0].ID)
	require.Equal(t, at(2*time.Hour), st.Chats[0].UpdatedAt)
}

func TestSelectingChatAcknowledgesOnce(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}),
		chat("c1", time.Hour, "me", "u2"),
		chat("c2", 0, "me", "u3"),
	)
	st, effects := actor.Steps(st, Reduce,
		incoming("c2", "1", "u3", time.Minute),
		incoming("c2", "2", "u3", 2*time.Minute),
	)
	require.Empty(t, seenFrames(effects))
	require.Equal(t, 2, st.Unread["c2"])

	st, effects = Reduce(st, SelectChat("c2"))
	require.Zero(t, st.Unread["c2"])
	require.Len(t, actortest.Of[effLeave](effects), 1)
	require.Equal(t, "c1", actortest.Of[effLeave](effects)[0].ChatID)
	require.Len(t, actortest.Of[effJoin](effects), 1)
	require.Len(t, actortest.Of[effFetchMessages](effects), 1)
	require.Len(t, actortest.Of[effMarkSeen](effects), 1)

	seen := seenFrames(effects)
	require.Len(t, seen, 1)
	require.Equal(t, "c2", seen[0].ChatID)
	require.Equal(t, "2", seen[0].MessageID)

	// Reloading the same history does not acknowledge again.
	st, effects = Reduce(st, evMessagesLoaded{
		Gen:    st.Session.Gen,
		ChatID: "c2",
		Page:   types.MessagePage{Messages: st.Messages["c2"]},
	})
	require.Empty(t, seenFrames(effects))

	// A new message in the open chat is acknowledged without counting.
	st, effects = Reduce(st, incoming("c2", "3", "u3", 3*time.Minute))
	require.Zero(t, st.Unread["c2"])
	seen = seenFrames(effects)
	require.Len(t, seen, 1)
	require.Equal(t, "3", seen[0].MessageID)

	// Selecting the open chat again is a no-op.
	_, effects = Reduce(st, SelectChat("c2"))
	require.Empty(t, effects)
}

func TestMessageStatusIsMonotonic(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, incoming("c1", "m1", "me", time.Second))
	require.Equal(t, types.StatusSent, st.Messages["c1"][0].Status)

	delivered := at(2 * time.Second)
	seenAt := at(3 * time.Second)
	later := at(4 * time.Second)
	status := func(s types.MessageStatus, viewer *types.SeenReceipt) actor.Input {
		ev := wire.MessageStatusChanged{ChatID: "c1", MessageID: "m1", Status: s}
		switch s {
		case types.StatusDelivered:
			ev.DeliveredAt = &delivered
		case types.StatusSeen:
			ev.SeenAt = viewer.SeenAt
			ev.Viewer = viewer
		}
		return Realtime(ev, 0)
	}

	st, _ = actor.Steps(st, Reduce,
		status(types.StatusDelivered, nil),
		status(types.StatusSent, nil),
	)
	msg := st.Messages["c1"][0]
	require.Equal(t, types.StatusDelivered, msg.Status)
	require.Equal(t, delivered, *msg.DeliveredAt)

	st, _ = actor.Steps(st, Reduce,
		status(types.StatusSeen, &types.SeenReceipt{UserID: "u2", Username: "bob", SeenAt: &seenAt}),
		status(types.StatusSeen, &types.SeenReceipt{UserID: "u2", Username: "bob", SeenAt: &later}),
		status(types.StatusDelivered, nil),
	)
	msg = st.Messages["c1"][0]
	require.Equal(t, types.StatusSeen, msg.Status)
	require.Len(t, msg.SeenBy, 1)
	require.Equal(t, later, *msg.SeenBy[0].SeenAt)

	// Unknown messages are ignored.
	next, _ := Reduce(st, Realtime(wire.MessageStatusChanged{ChatID: "c1", MessageID: "nope", Status: types.StatusSeen}, 0))
	require.Equal(t, st.Messages, next.Messages)
}

func TestTypingExpiry(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	typing := func(user string, nowMs int64) actor.Input {
		return Realtime(wire.TypingStarted{ChatID: "c1", UserID: user, Username: user + "-name"}, nowMs)
	}
	t0 := at(0).UnixMilli()

	st, _ = actor.Steps(st, Reduce, typing("u2", t0), typing("me", t0))
	require.Len(t, st.Typing["c1"], 1)
	require.Equal(t, []string{"u2-name"}, st.TypingUsers("c1", at(time.Second)))
	require.Empty(t, st.TypingUsers("c1", at(4*time.Second)))

	// A repeat refreshes the deadline.
	st, _ = Reduce(st, typing("u2", t0+3_000))
	st, _ = Reduce(st, TypingSweep(t0+4_000))
	require.Len(t, st.Typing["c1"], 1)

	st, _ = Reduce(st, TypingSweep(t0+7_000))
	require.Empty(t, st.Typing)

	st, _ = Reduce(st, typing("u2", t0))
	st, _ = Reduce(st, Realtime(wire.TypingStopped{ChatID: "c1", UserID: "u2"}, t0))
	require.Empty(t, st.Typing)
}

func TestSetTypingFrames(t *testing.T) {
	t.Parallel()

	st := signedIn(t, Options{})
	_, effects := Reduce(st, SetTyping("c1", true))
	require.Equal(t, wire.FrameTyping, wire.FrameType(actortest.Of[effSendFrame](effects)[0].Frame))
	_, effects = Reduce(st, SetTyping("c1", false))
	require.Equal(t, wire.FrameStopTyping, wire.FrameType(actortest.Of[effSendFrame](effects)[0].Frame))
}

func TestLoadOlderMessages(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	gen := st.Session.Gen

	// Still loading the first page.
	_, effects := Reduce(st, LoadOlderMessages("c1", nil))
	require.Empty(t, actortest.Of[effFetchMessages](effects))

	st, _ = Reduce(st, evMessagesLoaded{
		Gen:    gen,
		ChatID: "c1",
		Page: types.MessagePage{
			Messages: []types.ChatMessage{
				{ID: "20", SenderID: "u2", CreatedAt: at(20 * time.Minute)},
				{ID: "10", SenderID: "u2", CreatedAt: at(10 * time.Minute)},
			},
			HasMore:    true,
			NextCursor: "cur",
		},
	})
	require.Equal(t, []string{"10", "20"}, ids(st.Messages["c1"]))
	require.Equal(t, ChatMeta{Cursor: "cur", HasMore: true, Loaded: true}, st.Meta["c1"])

	st, effects = Reduce(st, LoadOlderMessages("", nil))
	fetch := actortest.Of[effFetchMessages](effects)
	require.Len(t, fetch, 1)
	require.True(t, fetch[0].Older)
	require.Equal(t, at(10*time.Minute), fetch[0].Before)
	require.True(t, st.Meta["c1"].Loading)

	_, effects = Reduce(st, LoadOlderMessages("c1", nil))
	require.Empty(t, actortest.Of[effFetchMessages](effects))

	st, effects = Reduce(st, evMessagesLoaded{
		Gen:    gen,
		ChatID: "c1",
		Older:  true,
		Page: types.MessagePage{Messages: []types.ChatMessage{
			{ID: "5", SenderID: "u2", CreatedAt: at(5 * time.Minute)},
			{ID: "10", SenderID: "u2", CreatedAt: at(10 * time.Minute)},
		}},
	})
	require.Equal(t, []string{"5", "10", "20"}, ids(st.Messages["c1"]))
	require.False(t, st.Meta["c1"].HasMore)
	require.Empty(t, seenFrames(effects))

	_, effects = Reduce(st, LoadOlderMessages("c1", nil))
	require.Empty(t, actortest.Of[effFetchMessages](effects))
}

func TestPresenceLastWriteWins(t *testing.T) {
	t.Parallel()

	st := signedIn(t, Options{})
	st, _ = actor.Steps(st, Reduce,
		Realtime(wire.PresenceChanged{Updates: map[string]types.PresenceStatus{
			"u1": types.PresenceOnline, "u2": types.PresenceAway,
		}}, 0),
		Realtime(wire.PresenceChanged{Updates: map[string]types.PresenceStatus{
			"u1": types.PresenceOffline,
		}}, 0),
	)
	require.Equal(t, map[string]types.PresenceStatus{
		"u1": types.PresenceOffline,
		"u2": types.PresenceAway,
	}, st.Presence)
}

func TestChatListAndEnvelopeEvents(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))

	_, effects := Reduce(st, Realtime(wire.ChatListChanged{Type: wire.EventChatMembersAdded, ChatID: "c1"}, 0))
	require.Len(t, actortest.Of[effFetchChats](effects), 1)

	next, effects := Reduce(st, Realtime(wire.EnvelopesAppended{ChatID: "c1"}, 0))
	fetch := actortest.Of[effFetchMessages](effects)
	require.Len(t, fetch, 1)
	require.False(t, fetch[0].Older)
	require.True(t, next.Meta["c1"].Loading)
}

func TestIdentityChangesRequeueDecryption(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, incoming("c1", "1", "u2", time.Second))

	st, effects := Reduce(st, IdentityChanged(true, 1))
	all := actortest.Of[effDecryptAll](effects)
	require.Len(t, all, 1)
	require.Len(t, all[0].Timelines["c1"], 1)

	st, effects = Reduce(st, IdentityChanged(true, 1))
	require.Empty(t, effects)

	st, effects = Reduce(st, IdentityChanged(true, 2))
	require.Len(t, actortest.Of[effDecryptAll](effects), 1)

	st.EncryptionError = msgDecryptFailed
	st, effects = Reduce(st, IdentityChanged(false, 3))
	require.Equal(t, []string{"chatsync.effResetDecrypt"}, actortest.EffectTypes(effects))
	require.Empty(t, st.EncryptionError)
}

func TestDecryptedResultPatchesContent(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, IdentityChanged(true, 4))

	st, effects := Reduce(st, Realtime(wire.MessageReceived{
		Type:   wire.EventMessageEnvelope,
		ChatID: "c1",
		Message: types.ChatMessage{
			ID:          "e1",
			SenderID:    "u2",
			IsEncrypted: true,
			Preview:     strptr("hello…"),
			CreatedAt:   at(time.Second),
			Envelopes:   []types.EnvelopeEntry{{RecipientID: "me", Payload: "p", Nonce: "n"}},
		},
	}, 0))
	require.Len(t, actortest.Of[effDecrypt](effects), 1)

	st, _ = Reduce(st, Decrypted(decrypt.Result{ChatID: "c1", MessageID: "e1", Err: envelope.ErrUndecryptable, IdentityVersion: 4}))
	require.Equal(t, msgDecryptFailed, st.EncryptionError)
	require.Nil(t, st.Messages["c1"][0].Content)

	st, _ = Reduce(st, Decrypted(decrypt.Result{ChatID: "c1", MessageID: "e1", OK: true, Plaintext: "hello world", IdentityVersion: 4}))
	msg := st.Messages["c1"][0]
	require.Equal(t, "hello world", *msg.Content)
	require.Nil(t, msg.Preview)
	require.Empty(t, st.EncryptionError)

	// A refreshed page keeps the recovered plaintext.
	fresh := msg
	fresh.Content = nil
	fresh.Preview = strptr("hello…")
	st, _ = Reduce(st, evMessagesLoaded{Gen: st.Session.Gen, ChatID: "c1", Page: types.MessagePage{Messages: []types.ChatMessage{fresh}}})
	require.Equal(t, "hello world", *st.Messages["c1"][0].Content)
}

func TestDecryptedResultFromPreviousIdentityIsDropped(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, IdentityChanged(true, 1))
	st, effects := Reduce(st, Realtime(wire.MessageReceived{
		Type:   wire.EventMessageEnvelope,
		ChatID: "c1",
		Message: types.ChatMessage{
			ID:          "m1",
			SenderID:    "u2",
			IsEncrypted: true,
			CreatedAt:   at(time.Second),
			Envelopes:   []types.EnvelopeEntry{{RecipientID: "me", Payload: "p", Nonce: "n"}},
		},
	}, 0))
	require.Len(t, actortest.Of[effDecrypt](effects), 1)

	st, effects = Reduce(st, IdentityChanged(false, 2))
	require.Len(t, actortest.Of[effResetDecrypt](effects), 1)

	st, _ = Reduce(st, Decrypted(decrypt.Result{ChatID: "c1", MessageID: "m1", OK: true, Plaintext: "secret", IdentityVersion: 1}))
	require.Nil(t, st.Messages["c1"][0].Content)

	// A result from an older identity is ignored after a new one is ready.
	st, _ = Reduce(st, IdentityChanged(true, 3))
	st, _ = Reduce(st, Decrypted(decrypt.Result{ChatID: "c1", MessageID: "m1", OK: true, Plaintext: "secret", IdentityVersion: 1}))
	require.Nil(t, st.Messages["c1"][0].Content)

	st, _ = Reduce(st, Decrypted(decrypt.Result{ChatID: "c1", MessageID: "m1", OK: true, Plaintext: "secret", IdentityVersion: 3}))
	require.Equal(t, "secret", *st.Messages["c1"][0].Content)
}

func TestSelfEchoMergesWithReloadedMessage(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, SendMessage("c1", "hi", "pending-1", at(0).UnixMilli(), nil))
	require.Equal(t, []string{"pending-1"}, ids(st.Messages["c1"]))

	confirmed := types.ChatMessage{ID: "srv1", ChatID: "c1", SenderID: "me", Content: strptr("hi"), CreatedAt: at(time.Second)}
	st, _ = Reduce(st, evMessagesLoaded{
		Gen:    st.Session.Gen,
		ChatID: "c1",
		Page:   types.MessagePage{Messages: []types.ChatMessage{confirmed}},
	})
	require.ElementsMatch(t, []string{"pending-1", "srv1"}, ids(st.Messages["c1"]))

	st, _ = Reduce(st, incoming("c1", "srv1", "me", time.Second))
	require.Equal(t, []string{"srv1"}, ids(st.Messages["c1"]))
	require.Empty(t, st.PendingQueue["c1"])
	require.Equal(t, types.StatusSent, st.Messages["c1"][0].Status)
}

func TestSelectChatLoadsHistoryAfterRealtimeMessage(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}),
		chat("c1", time.Hour, "me", "u2"),
		chat("c2", 0, "me", "u3"),
	)
	st, _ = Reduce(st, incoming("c2", "50", "u3", time.Minute))
	require.False(t, st.Meta["c2"].Loaded)

	st, effects := Reduce(st, SelectChat("c2"))
	fetch := actortest.Of[effFetchMessages](effects)
	require.Len(t, fetch, 1)
	require.Equal(t, "c2", fetch[0].ChatID)
	require.False(t, fetch[0].Older)

	st, _ = Reduce(st, evMessagesLoaded{
		Gen:    st.Session.Gen,
		ChatID: "c2",
		Page: types.MessagePage{
			Messages:   []types.ChatMessage{{ID: "40", SenderID: "u3", CreatedAt: at(30 * time.Second)}},
			HasMore:    true,
			NextCursor: "cur",
		},
	})
	require.Equal(t, []string{"40", "50"}, ids(st.Messages["c2"]))
	require.True(t, st.Meta["c2"].Loaded)

	_, effects = Reduce(st, LoadOlderMessages("c2", nil))
	require.Len(t, actortest.Of[effFetchMessages](effects), 1)

	// Returning to a loaded chat does not refetch.
	st, _ = Reduce(st, SelectChat("c1"))
	_, effects = Reduce(st, SelectChat("c2"))
	require.Empty(t, actortest.Of[effFetchMessages](effects))
}

func TestSnapshotsAreNotMutated(t *testing.T) {
	t.Parallel()

	st := withChats(t, signedIn(t, Options{}), chat("c1", 0, "me", "u2"))
	st, _ = Reduce(st, incoming("c1", "1", "u2", time.Second))
	before := ids(st.Messages["c1"])
	beforeUnread := st.Unread["c1"]

	_, _ = actor.Steps(st, Reduce,
		incoming("c1", "2", "u2", 2*time.Second),
		Realtime(wire.TypingStarted{ChatID: "c1", UserID: "u2"}, 0),
		SendMessage("c1", "x", "pending-1", 1, nil),
	)
	require.Equal(t, before, ids(st.Messages["c1"]))
	require.Equal(t, beforeUnread, st.Unread["c1"])
	require.Empty(t, st.Typing)
	require.Empty(t, st.PendingQueue)
}
