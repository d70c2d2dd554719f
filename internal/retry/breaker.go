package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

// BreakerState represents the state of a circuit.
type BreakerState int

const (
	CircuitClosed   BreakerState = iota // normal operation
	CircuitOpen                         // failing fast
	CircuitHalfOpen                     // probing
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailThreshold int           // consecutive failures before opening (default 5)
	Cooldown      time.Duration // how long to stay open before half-open (default 30s)
	FailWindow    time.Duration // reset consecutive counter if last failure is older than this (default 60s)
}

// DefaultBreakerConfig returns the default config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailThreshold: 5,
		Cooldown:      30 * time.Second,
		FailWindow:    60 * time.Second,
	}
}

type circuit struct {
	consecutiveFails int
	lastFailTime     time.Time
	openedAt         time.Time
	state            BreakerState
}

// Breaker tracks per-resource failure state for circuit breaking.
type Breaker struct {
	mu       sync.Mutex
	clock    Clock
	config   BreakerConfig
	circuits map[string]*circuit // key: resource name
}

// NewBreaker creates a Breaker with the given config and clock.
func NewBreaker(config BreakerConfig, clock Clock) *Breaker {
	if config.FailThreshold <= 0 {
		config.FailThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.FailWindow <= 0 {
		config.FailWindow = 60 * time.Second
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Breaker{
		clock:    clock,
		config:   config,
		circuits: make(map[string]*circuit),
	}
}

// Allow checks if a call against the named resource should proceed.
// Returns true if the circuit is closed or half-open (probe), false when
// open (fail fast).
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[name]
	if !ok {
		return true // no circuit = closed
	}

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.clock.Now().Sub(c.openedAt) >= b.config.Cooldown {
			c.state = CircuitHalfOpen
			return true // allow probe
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return true
}

// RecordSuccess records a successful call against the named resource.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[name]
	if !ok {
		return
	}
	c.consecutiveFails = 0
	c.state = CircuitClosed
}

// RecordFailure records a failed call. Only transient-like failures count
// toward the threshold; permanent and policy failures do not trip the
// breaker.
func (b *Breaker) RecordFailure(name string, category types.FailureCategory) {
	if category != types.FailureTransient && category != types.FailureTimeout {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[name]
	if !ok {
		c = &circuit{}
		b.circuits[name] = c
	}

	now := b.clock.Now()

	if !c.lastFailTime.IsZero() && now.Sub(c.lastFailTime) > b.config.FailWindow {
		c.consecutiveFails = 0
	}

	c.consecutiveFails++
	c.lastFailTime = now

	if c.consecutiveFails >= b.config.FailThreshold {
		c.state = CircuitOpen
		c.openedAt = now
	}
}

// State returns the current state of the named resource's circuit.
func (b *Breaker) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[name]
	if !ok {
		return CircuitClosed
	}
	// Surface the half-open transition without requiring an Allow call.
	if c.state == CircuitOpen && b.clock.Now().Sub(c.openedAt) >= b.config.Cooldown {
		return CircuitHalfOpen
	}
	return c.state
}

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}
