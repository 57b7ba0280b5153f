// Package clock abstracts time so endpoint backoff, the retainer's error
// state and the rate limiter can be driven deterministically in tests.
// Grounded on the teacher's engine/ratelimit/clock.go Clock interface.
package clock

import "time"

// Clock abstracts time operations for deterministic testing.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
	After(time.Duration) <-chan time.Time
}

// Real returns the production Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Sleep(d time.Duration)            { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
