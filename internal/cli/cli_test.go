package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/Syncre-App/chatcore/internal/chatsync"
	"github.com/Syncre-App/chatcore/internal/config"
	"github.com/Syncre-App/chatcore/internal/notify"
	"github.com/Syncre-App/chatcore/internal/storage"
	"github.com/Syncre-App/chatcore/pkg/types"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "7",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func testApp(t *testing.T, handler http.Handler) (*App, storage.Store) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		ServerURL: srv.URL + "/v1",
		WSURL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Storage:   config.StorageMemory,
		KeyCache:  config.KeyCacheSession,
		Timezone:  "Europe/Budapest",
		PageSize:  50,
	}
	store := storage.NewMemory()
	return newApp(cfg, store), store
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestTokenLifecycle(t *testing.T) {
	t.Parallel()

	app, store := testApp(t, http.NotFoundHandler())

	_, err := app.Token()
	require.ErrorIs(t, err, ErrNotLoggedIn)

	require.ErrorIs(t, app.SaveToken(signedToken(t, time.Now().Add(-time.Minute))), ErrTokenExpired)
	_, ok, err := store.Get(storage.KeyAuthToken)
	require.NoError(t, err)
	require.False(t, ok)

	valid := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, app.SaveToken("  "+valid+"\n"))
	got, err := app.Token()
	require.NoError(t, err)
	require.Equal(t, valid, got)
	require.Equal(t, valid, app.API.Token())

	require.NoError(t, app.Logout())
	_, err = app.Token()
	require.ErrorIs(t, err, ErrNotLoggedIn)
	require.Empty(t, app.API.Token())
}

func TestStoredTokenExpires(t *testing.T) {
	t.Parallel()

	app, _ := testApp(t, http.NotFoundHandler())
	require.NoError(t, app.SaveToken(signedToken(t, time.Now().Add(time.Hour))))

	app.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := app.Token()
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestLoginCommand(t *testing.T) {
	t.Parallel()

	authHeader := make(chan string, 1)
	app, store := testApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/user/me", r.URL.Path)
		authHeader <- r.Header.Get("Authorization")
		writeJSON(w, map[string]any{"user": map[string]any{"id": 7, "username": "ada"}})
	}))

	token := signedToken(t, time.Now().Add(time.Hour))
	var out bytes.Buffer
	require.NoError(t, LoginCommand(context.Background(), app, token, &out))
	require.Contains(t, out.String(), "Logged in as ada")
	require.Contains(t, out.String(), "Token expires")
	require.Equal(t, "Bearer "+token, <-authHeader)

	stored, ok, err := store.Get(storage.KeyAuthToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, token, stored)
}

func TestLoginCommandRejectedTokenIsForgotten(t *testing.T) {
	t.Parallel()

	app, store := testApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"message": "invalid token"})
	}))

	err := LoginCommand(context.Background(), app, signedToken(t, time.Now().Add(time.Hour)), &bytes.Buffer{})
	require.Error(t, err)

	_, ok, err := store.Get(storage.KeyAuthToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChatsCommand(t *testing.T) {
	t.Parallel()

	app, _ := testApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat":
			writeJSON(w, map[string]any{"chats": []any{
				map[string]any{"id": 1, "name": "Team", "updatedAt": "2025-03-01T10:00:00Z"},
				map[string]any{"id": 2, "displayName": "Bob", "updatedAt": "2025-03-01T09:00:00Z"},
			}})
		case "/v1/chat/unread/summary":
			writeJSON(w, map[string]any{"total": 3, "chats": map[string]int{"2": 3}})
		default:
			http.NotFound(w, r)
		}
	}))
	require.NoError(t, app.SaveToken(signedToken(t, time.Now().Add(time.Hour))))

	var out bytes.Buffer
	require.NoError(t, ChatsCommand(context.Background(), app, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "Team")
	require.Regexp(t, `^2\s+Bob\s+3\s`, lines[2])
}

func TestChatsCommandRequiresLogin(t *testing.T) {
	t.Parallel()

	app, _ := testApp(t, http.NotFoundHandler())
	require.ErrorIs(t, ChatsCommand(context.Background(), app, &bytes.Buffer{}), ErrNotLoggedIn)
}

func TestIdentityCommandWhileLocked(t *testing.T) {
	t.Parallel()

	app, _ := testApp(t, http.NotFoundHandler())

	var out bytes.Buffer
	require.NoError(t, IdentityCommand(app, true, &out))
	require.Contains(t, out.String(), "Device:")
	require.Contains(t, out.String(), "Encryption: locked")
	require.NotContains(t, out.String(), "Public key")
}

func TestEnsureUnlockedWithoutPrompt(t *testing.T) {
	t.Parallel()

	app, _ := testApp(t, http.NotFoundHandler())
	require.Error(t, app.EnsureUnlocked(context.Background(), nil))
}

func TestReadLinePIN(t *testing.T) {
	t.Parallel()

	pin, err := readLinePIN(strings.NewReader("1234\r\nrest"))
	require.NoError(t, err)
	require.Equal(t, "1234", pin)

	pin, err = readLinePIN(strings.NewReader("5678"))
	require.NoError(t, err)
	require.Equal(t, "5678", pin)
}

func TestMessageText(t *testing.T) {
	t.Parallel()

	hello := "hello"
	preview := "Encrypted message"
	tests := []struct {
		name string
		msg  types.ChatMessage
		want string
	}{
		{name: "plain", msg: types.ChatMessage{Content: &hello}, want: "hello"},
		{name: "deleted", msg: types.ChatMessage{Content: &hello, IsDeleted: true}, want: "[deleted]"},
		{name: "locked with preview", msg: types.ChatMessage{IsEncrypted: true, Preview: &preview}, want: preview},
		{name: "locked", msg: types.ChatMessage{IsEncrypted: true}, want: "[encrypted]"},
		{
			name: "attachments",
			msg:  types.ChatMessage{Attachments: []types.Attachment{{}, {}}},
			want: "[2 attachment(s)]",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, messageText(tc.msg))
		})
	}
}

func TestFormatMessage(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	mine := types.ChatMessage{SenderID: "7", CreatedAt: at, Status: types.StatusSent}
	require.Equal(t, "[10:00] me: hi (sent)", formatMessage(mine, "7", "hi"))

	theirs := types.ChatMessage{SenderID: "9", SenderName: "bob", CreatedAt: at}
	require.Equal(t, "[10:00] bob: yo", formatMessage(theirs, "7", "yo"))
}

type recordingNotifier struct {
	msgs chan notify.Message
}

func (r recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	r.msgs <- msg
	return nil
}

func TestAlertUnreadOnlyForOtherChats(t *testing.T) {
	t.Parallel()

	app, _ := testApp(t, http.NotFoundHandler())
	rec := recordingNotifier{msgs: make(chan notify.Message, 4)}
	app.Notifier = rec
	s := &ChatSession{App: app, ChatID: "c1"}

	snap := chatsync.NewState(chatsync.Options{})
	snap.Chats = []types.ChatSummary{{ID: "c2", Name: "Team"}}
	snap.Unread = map[string]int{"c1": 5, "c2": 2, "c3": 1}

	s.alertUnread(context.Background(), snap, map[string]int{"c1": 0, "c2": 1, "c3": 1})

	select {
	case msg := <-rec.msgs:
		require.Equal(t, notify.Message{Title: "Team", Body: "2 new messages", Key: "c2"}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	select {
	case msg := <-rec.msgs:
		t.Fatalf("unexpected notification %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
