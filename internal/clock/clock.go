// Package clock abstracts time for the connection scheduler so heartbeat
// and reconnect timers can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and cancellable one-shot timers.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d elapses, on its own goroutine (Real) or
	// on the goroutine calling Advance (Fake).
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a pending AfterFunc call.
type Timer interface {
	// Stop cancels the call. It returns false if the call already fired
	// or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
