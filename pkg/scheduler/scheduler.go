// Package scheduler is the cancelable-delay primitive used by the transport
// backoff and the playback animation. Production code uses New; tests drive a
// Fake by hand.
package scheduler

import "time"

// Timer is a pending delayed call.
type Timer interface {
	// Stop prevents the call from firing and reports whether it was still pending.
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type system struct{}

// New returns a Scheduler backed by the runtime timers.
func New() Scheduler { return system{} }

func (system) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (system) Now() time.Time { return time.Now() }
