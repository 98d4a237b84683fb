package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/Syncre-App/chatcore/internal/actor"
	"github.com/Syncre-App/chatcore/internal/actor/actortest"
)

type addInput struct {
	actor.InputBase
	n int
}

type echoInput struct {
	actor.InputBase
	n int
}

type addedEffect struct {
	actor.EffectBase
	n int
}

func reduceSum(state int, input actor.Input) (int, []actor.Effect) {
	switch in := input.(type) {
	case addInput:
		return state + in.n, []actor.Effect{addedEffect{n: in.n}}
	case echoInput:
		return state + in.n, nil
	default:
		return state, nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, reduceSum, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		if !a.Enqueue(addInput{n: i}) {
			t.Fatalf("failed to enqueue %d", i)
		}
	}
	waitFor(t, func() bool { return a.State() == 15 })

	effects := actortest.Of[addedEffect](rt.Effects())
	if len(effects) != 5 {
		t.Fatalf("effects=%d, want 5", len(effects))
	}
	for i, eff := range effects {
		if eff.n != i+1 {
			t.Fatalf("effect %d carries %d, want %d", i, eff.n, i+1)
		}
	}
}

func TestActorRuntimeEmitsFollowUps(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{
		EmitFn: func(_ context.Context, eff actor.Effect, emit func(actor.Input)) {
			if e, ok := eff.(addedEffect); ok {
				emit(echoInput{n: e.n * 10})
			}
		},
	}
	a := actor.New[int](0, reduceSum, rt)
	a.Start()
	defer a.Stop()

	if err := a.Send(context.Background(), addInput{n: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool { return a.State() == 22 })
}

func TestActorChangedCoalesces(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, reduceSum, nil)
	a.Start()
	defer a.Stop()

	for i := 0; i < 10; i++ {
		a.Enqueue(echoInput{n: 1})
	}
	waitFor(t, func() bool { return a.State() == 10 })

	select {
	case <-a.Changed():
	default:
		t.Fatalf("expected a change notification")
	}
	select {
	case <-a.Changed():
		t.Fatalf("notifications should coalesce")
	default:
	}
}

func TestActorRejectsAfterStop(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, reduceSum, rt)
	a.Start()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit")
	}
	if a.Enqueue(addInput{n: 1}) {
		t.Fatalf("enqueue after stop should fail")
	}
	if err := a.Send(context.Background(), addInput{n: 1}); err != actor.ErrStopped {
		t.Fatalf("send err=%v, want ErrStopped", err)
	}
	if rt.Stopped() != 1 {
		t.Fatalf("runtime stopped %d times, want 1", rt.Stopped())
	}
}

func TestSteps(t *testing.T) {
	t.Parallel()

	state, effects := actor.Steps(0, reduceSum, addInput{n: 1}, echoInput{n: 2}, addInput{n: 3})
	if state != 6 {
		t.Fatalf("state=%d, want 6", state)
	}
	if got := actortest.EffectTypes(effects); len(got) != 2 {
		t.Fatalf("effects=%v, want 2 entries", got)
	}
}
