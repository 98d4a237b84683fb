// Package decrypt schedules decryption of encrypted messages, at most one
// attempt in flight per (chat, message).
package decrypt

import (
	"context"
	"sync"

	"github.com/Syncre-App/chatcore/internal/envelope"
	"github.com/Syncre-App/chatcore/pkg/logger"
	"github.com/Syncre-App/chatcore/pkg/types"
)

// Decrypter opens an envelope set.
type Decrypter interface {
	DecryptMessage(ctx context.Context, chatID, senderID, currentUserID string,
		envelopes []types.EnvelopeEntry) (envelope.Result, error)
}

// Gate reports whether decrypts may run, for which user, and at which
// identity version.
type Gate func() (userID string, identityVersion uint64, open bool)

// Result is delivered to the sink once per attempt.
//
// OK is set on success. A nil Err with OK unset means no envelope opened
// with this device's key.
type Result struct {
	ChatID          string
	MessageID       string
	Plaintext       string
	OK              bool
	Err             error
	IdentityVersion uint64
}

// Sink receives results. It is called from worker goroutines.
type Sink func(Result)

type key struct {
	chatID    string
	messageID string
}

// Queue deduplicates and dispatches decrypt attempts.
type Queue struct {
	codec Decrypter
	gate  Gate
	sink  Sink

	mu      sync.Mutex
	pending map[key]struct{}
	epoch   uint64
	wg      sync.WaitGroup
}

// New returns a Queue.
func New(codec Decrypter, gate Gate, sink Sink) *Queue {
	return &Queue{
		codec:   codec,
		gate:    gate,
		sink:    sink,
		pending: make(map[key]struct{}),
	}
}

// Enqueue schedules msg for decryption and reports whether an attempt was
// started.
func (q *Queue) Enqueue(ctx context.Context, chatID string, msg types.ChatMessage) bool {
	if !msg.IsEncrypted || msg.Content != nil || len(msg.Envelopes) == 0 {
		return false
	}
	userID, version, open := q.gate()
	if !open || userID == "" {
		return false
	}

	k := key{chatID: chatID, messageID: msg.ID}
	q.mu.Lock()
	if _, busy := q.pending[k]; busy {
		q.mu.Unlock()
		return false
	}
	q.pending[k] = struct{}{}
	epoch := q.epoch
	q.mu.Unlock()

	envelopes := append([]types.EnvelopeEntry(nil), msg.Envelopes...)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		res, err := q.codec.DecryptMessage(ctx, chatID, msg.SenderID, userID, envelopes)
		if err != nil {
			logger.Debugf("decrypt: chat %s message %s: %v", chatID, msg.ID, err)
		}

		q.mu.Lock()
		stale := q.epoch != epoch
		if !stale {
			delete(q.pending, k)
		}
		q.mu.Unlock()
		if stale {
			return
		}

		q.sink(Result{
			ChatID:          chatID,
			MessageID:       msg.ID,
			Plaintext:       res.Plaintext,
			OK:              res.OK,
			Err:             err,
			IdentityVersion: version,
		})
	}()
	return true
}

// EnqueueAll walks every loaded timeline and returns the number of attempts
// started.
func (q *Queue) EnqueueAll(ctx context.Context, timelines map[string][]types.ChatMessage) int {
	started := 0
	for chatID, msgs := range timelines {
		for _, msg := range msgs {
			if q.Enqueue(ctx, chatID, msg) {
				started++
			}
		}
	}
	return started
}

// Pending returns the number of attempts in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Reset forgets in-flight attempts; their results are discarded.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.pending = make(map[key]struct{})
	q.epoch++
	q.mu.Unlock()
}

// Wait blocks until every started attempt has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}
