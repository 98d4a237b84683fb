package actor

import "time"

// Clock is the runtime's time source. Reducers never read it; runtimes and
// command constructors stamp NowMs into inputs instead.
type Clock interface {
	Now() time.Time
}

// RealClock reads time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// NowMs returns c.Now() in Unix milliseconds.
func NowMs(c Clock) int64 {
	return c.Now().UnixMilli()
}
