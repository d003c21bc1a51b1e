package openprotocol

import "time"

// Canceler is the subset of *time.Timer the clock abstraction needs.
type Canceler interface {
	Stop() bool
}

// clock abstracts time so the scheduling-heavy parts of the connection
// manager (heartbeat idle check, command timeout sweep, cycle watchdog)
// can be driven deterministically in tests instead of real sleeps.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Canceler
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Canceler {
	return time.AfterFunc(d, f)
}
