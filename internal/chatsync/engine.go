// Package chatsync keeps the local view of chats and timelines in step with
// the server. One actor loop owns the state; REST calls, encryption and
// decryption run in the runtime and report back through the mailbox.
package chatsync

import (
	"context"

	"github.com/google/uuid"

	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/decrypt"
	"github.com/Syncre-App/chatcore/internal/identity"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

// Identity is the vault surface the engine observes.
type Identity interface {
	KeyState
	Watch() (<-chan identity.Status, func())
}

// Config wires an Engine.
type Config struct {
	API       ChatAPI
	Encoder   Encoder
	Decrypter decrypt.Decrypter
	Transport Transport
	Identity  Identity
	Zone      Zone
	Clock     actor.Clock
	PageSize  int
	Options   Options
}

// Engine is the chat sync engine.
type Engine struct {
	cfg     Config
	runtime *Runtime
	actor   *actor.Actor[State]
	unwatch func()
}

// New returns an engine that has not been started.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = actor.RealClock{}
	}
	rt := NewRuntime(RuntimeConfig{
		API:       cfg.API,
		Encoder:   cfg.Encoder,
		Decrypter: cfg.Decrypter,
		Transport: cfg.Transport,
		Keys:      cfg.Identity,
		Zone:      cfg.Zone,
		Clock:     cfg.Clock,
		PageSize:  cfg.PageSize,
	})
	a := actor.New(NewState(cfg.Options), Reduce, rt,
		actor.WithHooks(actor.Hooks[State]{
			OnPanic: func(r any) { logger.Errorf("chatsync: loop panic: %v", r) },
		}),
	)
	return &Engine{cfg: cfg, runtime: rt, actor: a}
}

// Start runs the loop and begins consuming transport and identity updates.
func (e *Engine) Start() {
	e.actor.Start()

	statuses, unwatch := e.cfg.Identity.Watch()
	e.unwatch = unwatch
	e.actor.Enqueue(IdentityChanged(e.cfg.Identity.HasIdentity(), e.cfg.Identity.Version()))

	ctx := e.actor.Context()
	go e.pumpEvents(ctx)
	go e.pumpStates(ctx)
	go e.pumpIdentity(ctx, statuses)
}

// Stop tears the engine down. The transport is disconnected.
func (e *Engine) Stop() {
	if e.unwatch != nil {
		e.unwatch()
	}
	e.cfg.Transport.Disconnect()
	e.actor.Stop()
}

// Done closes when the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.actor.Done() }

func (e *Engine) pumpEvents(ctx context.Context) {
	events := e.cfg.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := e.actor.Send(ctx, Realtime(ev, actor.NowMs(e.cfg.Clock))); err != nil {
				return
			}
		}
	}
}

func (e *Engine) pumpStates(ctx context.Context) {
	states := e.cfg.Transport.States()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-states:
			if err := e.actor.Send(ctx, ConnectionChanged(s)); err != nil {
				return
			}
		}
	}
}

func (e *Engine) pumpIdentity(ctx context.Context, statuses <-chan identity.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-statuses:
			if !ok {
				return
			}
			if err := e.actor.Send(ctx, IdentityChanged(s.Ready, s.Version)); err != nil {
				return
			}
		}
	}
}

// Snapshot returns the current state. Treat its maps and slices as
// read-only.
func (e *Engine) Snapshot() State { return e.actor.State() }

// Changes signals after every transition. Signals coalesce.
func (e *Engine) Changes() <-chan struct{} { return e.actor.Changed() }

// TypingUsers returns who is typing in chatID right now.
func (e *Engine) TypingUsers(chatID string) []string {
	return e.actor.State().TypingUsers(chatID, e.cfg.Clock.Now())
}

// SetSession signs in (non-empty token) or out.
func (e *Engine) SetSession(ctx context.Context, token, userID, username string) error {
	return e.actor.Send(ctx, SetSession(token, userID, username))
}

// RefreshChats reloads the chat list.
func (e *Engine) RefreshChats(ctx context.Context) error {
	return e.actor.Send(ctx, RefreshChats())
}

// SelectChat activates chatID.
func (e *Engine) SelectChat(ctx context.Context, chatID string) error {
	return e.actor.Send(ctx, SelectChat(chatID))
}

// SetTyping broadcasts the local typing state for chatID.
func (e *Engine) SetTyping(ctx context.Context, chatID string, active bool) error {
	return e.actor.Send(ctx, SetTyping(chatID, active))
}

// SendMessage queues content for chatID (empty means the selected chat) and
// returns the optimistic message id.
func (e *Engine) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	pendingID := pendingPrefix + uuid.NewString()
	reply := make(chan error, 1)
	in := SendMessage(chatID, content, pendingID, actor.NowMs(e.cfg.Clock), reply)
	if err := e.await(ctx, in, reply); err != nil {
		return "", err
	}
	return pendingID, nil
}

// LoadOlderMessages fetches the page before the oldest loaded message. It
// does nothing while a load is running or when the history is exhausted.
func (e *Engine) LoadOlderMessages(ctx context.Context, chatID string) error {
	reply := make(chan error, 1)
	return e.await(ctx, LoadOlderMessages(chatID, reply), reply)
}

func (e *Engine) await(ctx context.Context, in actor.Input, reply chan error) error {
	if err := e.actor.Send(ctx, in); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.actor.Done():
		return actor.ErrStopped
	}
}
