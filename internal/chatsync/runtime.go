package chatsync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/api"
	"github.com/Syncre-App/chatcore/internal/decrypt"
	"github.com/Syncre-App/chatcore/internal/envelope"
	"github.com/Syncre-App/chatcore/internal/websocket"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/logger"
	"github.com/Syncre-App/chatcore/pkg/types"
)

// ChatAPI is the REST surface the engine drives.
type ChatAPI interface {
	SetToken(token string)
	ListChats(ctx context.Context) ([]types.ChatSummary, error)
	UnreadSummary(ctx context.Context) (types.UnreadSummary, error)
	GetMessages(ctx context.Context, chatID string, q api.PageQuery) (types.MessagePage, error)
	MarkSeen(ctx context.Context, chatID string) (int, error)
}

// Encoder seals outgoing messages.
type Encoder interface {
	BuildPayload(ctx context.Context, chatID, plaintext string, recipientIDs []string,
		currentUserID string) (envelope.Payload, error)
}

// Transport is the realtime connection.
type Transport interface {
	Connect(token string)
	Disconnect()
	Send(f wire.Frame) error
	JoinChat(chatID string)
	LeaveChat(chatID string)
	Events() <-chan wire.Event
	States() <-chan websocket.State
}

// KeyState reports whether this device's identity is unlocked.
type KeyState interface {
	HasIdentity() bool
	Version() uint64
	DeviceID() (string, error)
}

// Zone receives the timezone reported by the server.
type Zone interface {
	Set(zone string) string
}

// RuntimeConfig wires a Runtime.
type RuntimeConfig struct {
	API        ChatAPI
	Encoder    Encoder
	Decrypter  decrypt.Decrypter
	Transport  Transport
	Keys       KeyState
	Zone       Zone
	Clock      actor.Clock
	PageSize   int
	SweepEvery time.Duration
}

type outboxJob struct {
	eff  effPrepareSend
	emit func(actor.Input)
}

// Runtime interprets sync engine effects. It never touches State; results
// go back through emit.
type Runtime struct {
	cfg   RuntimeConfig
	queue *decrypt.Queue

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan outboxJob

	mu         sync.Mutex
	userID     string
	emit       func(actor.Input)
	stopSweep  context.CancelFunc
	outboxOnce sync.Once
}

// NewRuntime returns a Runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Clock == nil {
		cfg.Clock = actor.RealClock{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = typingSweepEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan outboxJob, 256),
	}
	r.queue = decrypt.New(cfg.Decrypter, r.gate, r.deliver)
	return r
}

// Queue exposes the decrypt queue for introspection.
func (r *Runtime) Queue() *decrypt.Queue { return r.queue }

func (r *Runtime) gate() (string, uint64, bool) {
	r.mu.Lock()
	userID := r.userID
	r.mu.Unlock()
	return userID, r.cfg.Keys.Version(), r.cfg.Keys.HasIdentity()
}

func (r *Runtime) deliver(res decrypt.Result) {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit != nil {
		emit(evDecrypted{Result: res})
	}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	r.mu.Lock()
	r.emit = emit
	r.mu.Unlock()

	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effCompleteReply:
			if e.Reply != nil {
				select {
				case e.Reply <- e.Err:
				default:
				}
			}
		case effConnect:
			r.connect(e)
		case effDisconnect:
			r.disconnect()
		case effStartSweep:
			r.startSweep(ctx, emit)
		case effStopSweep:
			r.stopSweeping()
		case effResetDecrypt:
			r.queue.Reset()
		case effFetchChats:
			r.fetchChats(ctx, e, emit)
		case effFetchMessages:
			r.fetchMessages(ctx, e, emit)
		case effJoin:
			r.cfg.Transport.JoinChat(e.ChatID)
		case effLeave:
			r.cfg.Transport.LeaveChat(e.ChatID)
		case effSendFrame:
			if err := r.cfg.Transport.Send(e.Frame); err != nil {
				logger.Warnf("chatsync: send %s: %v", wire.FrameType(e.Frame), err)
			}
		case effMarkSeen:
			r.markSeen(ctx, e)
		case effPrepareSend:
			r.enqueueSend(ctx, e, emit)
		case effDecrypt:
			for _, msg := range e.Messages {
				r.queue.Enqueue(ctx, e.ChatID, msg)
			}
		case effDecryptAll:
			if n := r.queue.EnqueueAll(ctx, e.Timelines); n > 0 {
				logger.Debugf("chatsync: re-queued %d messages for decryption", n)
			}
		case effSetTimezone:
			if r.cfg.Zone != nil {
				r.cfg.Zone.Set(e.Zone)
			}
		default:
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.stopSweeping()
	r.cancel()
	r.queue.Reset()
}

func (r *Runtime) connect(eff effConnect) {
	r.mu.Lock()
	r.userID = eff.UserID
	r.mu.Unlock()
	r.cfg.API.SetToken(eff.Token)
	r.cfg.Transport.Connect(eff.Token)
}

func (r *Runtime) disconnect() {
	r.mu.Lock()
	r.userID = ""
	r.mu.Unlock()
	r.cfg.API.SetToken("")
	r.cfg.Transport.Disconnect()
}

func (r *Runtime) startSweep(ctx context.Context, emit func(actor.Input)) {
	sweepCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.stopSweep != nil {
		r.stopSweep()
	}
	r.stopSweep = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.cfg.SweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				emit(evTypingSweep{NowMs: actor.NowMs(r.cfg.Clock)})
			}
		}
	}()
}

func (r *Runtime) stopSweeping() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopSweep != nil {
		r.stopSweep()
		r.stopSweep = nil
	}
}

func (r *Runtime) fetchChats(ctx context.Context, eff effFetchChats, emit func(actor.Input)) {
	go func() {
		var (
			chats  []types.ChatSummary
			unread types.UnreadSummary
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			chats, err = r.cfg.API.ListChats(gctx)
			return err
		})
		g.Go(func() error {
			u, err := r.cfg.API.UnreadSummary(gctx)
			if err != nil {
				logger.Debugf("chatsync: unread summary: %v", err)
				return nil
			}
			unread = u
			return nil
		})
		err := g.Wait()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warnf("chatsync: refresh chats: %v", err)
		}
		emit(evChatsLoaded{Gen: eff.Gen, Chats: chats, Unread: unread, Err: err})
	}()
}

func (r *Runtime) fetchMessages(ctx context.Context, eff effFetchMessages, emit func(actor.Input)) {
	q := api.PageQuery{Limit: r.cfg.PageSize}
	if !eff.Before.IsZero() {
		q.Before = wire.FormatTime(eff.Before)
	}
	if r.cfg.Keys.HasIdentity() {
		if id, err := r.cfg.Keys.DeviceID(); err == nil {
			q.DeviceID = id
		}
	}

	go func() {
		page, err := r.cfg.API.GetMessages(ctx, eff.ChatID, q)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warnf("chatsync: load messages for chat %s: %v", eff.ChatID, err)
		}
		emit(evMessagesLoaded{Gen: eff.Gen, ChatID: eff.ChatID, Older: eff.Older, Page: page, Err: err})
	}()
}

func (r *Runtime) markSeen(ctx context.Context, eff effMarkSeen) {
	go func() {
		if _, err := r.cfg.API.MarkSeen(ctx, eff.ChatID); err != nil {
			logger.Debugf("chatsync: mark chat %s seen: %v", eff.ChatID, err)
		}
	}()
}

// enqueueSend hands a message to the outbox worker, which prepares sends
// one at a time so frames leave in the order they were queued.
func (r *Runtime) enqueueSend(ctx context.Context, eff effPrepareSend, emit func(actor.Input)) {
	r.outboxOnce.Do(func() { go r.runOutbox() })
	select {
	case r.outbox <- outboxJob{eff: eff, emit: emit}:
	case <-ctx.Done():
	}
}

func (r *Runtime) runOutbox() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case job := <-r.outbox:
			r.prepare(job.eff, job.emit)
		}
	}
}

func (r *Runtime) prepare(eff effPrepareSend, emit func(actor.Input)) {
	ready := evOutboundReady{
		Gen:       eff.Gen,
		ChatID:    eff.ChatID,
		PendingID: eff.PendingID,
		Content:   eff.Content,
	}
	if eff.Encrypt {
		payload, err := r.cfg.Encoder.BuildPayload(r.ctx, eff.ChatID, eff.Content, eff.Recipients, eff.UserID)
		if err != nil {
			logger.Warnf("chatsync: encrypt message for chat %s: %v", eff.ChatID, err)
			ready.Err = err
		} else {
			ready.Payload = &payload
		}
	}
	emit(ready)
}
