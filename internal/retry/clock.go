// Package retry provides the three composable recovery primitives used
// around every unit of external work: exponential backoff, a per-resource
// circuit breaker, and a per-channel token-bucket rate limiter. All three
// share one Clock so tests can advance time deterministically.
package retry

import "time"

// Clock abstracts time for backoff waits, breaker cooldowns and bucket
// refills.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
