// Package actor is a small event loop scaffold for pure reducers with
// declarative side effects.
//
//   - One goroutine (the loop) owns the state.
//   - A pure reducer maps (state, input) to the next state plus effects.
//   - A Runtime interprets effects asynchronously and emits inputs back.
//
// Reducers stay deterministic and testable in isolation; the runtime is the
// only place that performs I/O.
package actor

import (
	"context"
	"errors"
	"sync"
)

// Input is an item delivered to an actor mailbox: a command from a caller or
// an event from the runtime.
type Input interface {
	isActorInput()
}

// Effect is a declarative side effect produced by a reducer. Effects are
// data; the Runtime executes them.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition.
//
// Reducers must not perform I/O, spawn goroutines, read the clock or generate
// random ids. Inject those through inputs.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs.
type Runtime interface {
	// HandleEffects must return quickly; blocking work runs in goroutines
	// that stop emitting once ctx is canceled.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called more than once.
	Stop()
}

// Hooks observe the loop.
type Hooks[S any] struct {
	// OnInput runs after an input is dequeued.
	OnInput func(input Input)
	// OnTransition runs after the new state is installed.
	OnTransition func(prev S, next S, input Input)
	// OnEffects runs before effects reach the runtime.
	OnEffects func(effects []Effect)
	// OnPanic receives a recovered loop panic. Nil re-panics.
	OnPanic func(recovered any)
}

// ErrStopped is returned when the actor no longer accepts inputs.
var ErrStopped = errors.New("actor stopped")

// Actor runs a single-threaded loop owning a state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu      sync.Mutex
	state   S
	inbox   chan Input
	changed chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New returns an actor that has not been started.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		changed: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the loop. Later calls do nothing.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop cancels the loop context and stops the runtime.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done closes when the loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Context is canceled when the actor stops.
func (a *Actor[S]) Context() context.Context { return a.ctx }

// Enqueue delivers input without blocking. It returns false when the actor
// is stopped or the mailbox is full. Runtime events use this path.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// Send delivers input, waiting for mailbox space. Caller commands use this
// path so that user actions are never dropped.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	select {
	case <-a.ctx.Done():
		return ErrStopped
	default:
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state. Reference-typed fields must be treated as
// read-only by the caller.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Changed signals after transitions. Signals coalesce: a reader that falls
// behind observes one pending notification.
func (a *Actor[S]) Changed() <-chan struct{} { return a.changed }

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	emit := func(in Input) {
		_ = a.Enqueue(in)
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			a.step(in, emit)
		}
	}
}

func (a *Actor[S]) step(in Input, emit func(Input)) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}
