// Package actortest holds helpers for testing actors and reducers.
package actortest

import (
	"context"
	"sync"

	"github.com/Syncre-App/chatcore/internal/actor"
)

// FakeRuntime records effects instead of executing them. EmitFn, when set,
// can answer effects synchronously with follow-up inputs.
type FakeRuntime struct {
	mu      sync.Mutex
	effects []actor.Effect
	stopped int

	EmitFn func(ctx context.Context, eff actor.Effect, emit func(actor.Input))
}

var _ actor.Runtime = (*FakeRuntime)(nil)

// HandleEffects implements actor.Runtime.
func (r *FakeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	r.mu.Lock()
	r.effects = append(r.effects, effects...)
	emitFn := r.EmitFn
	r.mu.Unlock()

	if emitFn == nil {
		return
	}
	for _, eff := range effects {
		emitFn(ctx, eff, emit)
	}
}

// Stop implements actor.Runtime.
func (r *FakeRuntime) Stop() {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

// Stopped reports how many times Stop was called.
func (r *FakeRuntime) Stopped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Effects returns a copy of the recorded effects.
func (r *FakeRuntime) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]actor.Effect(nil), r.effects...)
}

// Of returns the recorded effects of type T.
func Of[T actor.Effect](effects []actor.Effect) []T {
	var out []T
	for _, eff := range effects {
		if t, ok := eff.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
