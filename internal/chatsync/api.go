package chatsync

import (
	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/decrypt"
	"github.com/Syncre-App/chatcore/internal/websocket"
	"github.com/Syncre-App/chatcore/internal/wire"
)

// SetSession returns a command that installs the signed-in user. An empty
// token signs out.
func SetSession(token, userID, username string) actor.Input {
	return cmdSetSession{Token: token, UserID: userID, Username: username}
}

// RefreshChats returns a command that reloads the chat list and unread
// counters.
func RefreshChats() actor.Input {
	return cmdRefreshChats{}
}

// SelectChat returns a command that makes chatID the active chat.
func SelectChat(chatID string) actor.Input {
	return cmdSelectChat{ChatID: chatID}
}

// SendMessage returns a command that sends content to chatID (or the
// selected chat). pendingID names the optimistic entry until the server
// echo replaces it. reply, if non-nil, receives the validation result.
func SendMessage(chatID, content, pendingID string, nowMs int64, reply chan error) actor.Input {
	return cmdSendMessage{ChatID: chatID, Content: content, PendingID: pendingID, NowMs: nowMs, Reply: reply}
}

// LoadOlderMessages returns a command that fetches the page before the
// oldest loaded message.
func LoadOlderMessages(chatID string, reply chan error) actor.Input {
	return cmdLoadOlder{ChatID: chatID, Reply: reply}
}

// SetTyping returns a command that broadcasts the local typing state.
func SetTyping(chatID string, active bool) actor.Input {
	return cmdSetTyping{ChatID: chatID, Active: active}
}

// Realtime wraps an inbound transport event.
func Realtime(ev wire.Event, nowMs int64) actor.Input {
	return evRealtime{Event: ev, NowMs: nowMs}
}

// ConnectionChanged reports a transport state transition.
func ConnectionChanged(s websocket.State) actor.Input {
	return evConnection{State: s}
}

// IdentityChanged reports identity readiness and version.
func IdentityChanged(ready bool, version uint64) actor.Input {
	return evIdentity{Ready: ready, Version: version}
}

// Decrypted delivers a decrypt attempt result.
func Decrypted(res decrypt.Result) actor.Input {
	return evDecrypted{Result: res}
}

// TypingSweep expires typing indicators older than nowMs.
func TypingSweep(nowMs int64) actor.Input {
	return evTypingSweep{NowMs: nowMs}
}
