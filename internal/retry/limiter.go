package retry

import (
	"sync"
	"time"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

type bucket struct {
	cfg        types.RateLimitConfig
	tokens     float64
	lastRefill time.Time
}

func (bk *bucket) refill(now time.Time) {
	elapsed := now.Sub(bk.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := float64(bk.cfg.Refill) * (float64(elapsed) / float64(bk.cfg.Interval))
	if add > 0 {
		bk.tokens = min(float64(bk.cfg.Capacity), bk.tokens+add)
		bk.lastRefill = now
	}
}

// Limiter is a set of token buckets keyed by channel name. Channels
// without a configured bucket are unlimited.
type Limiter struct {
	mu      sync.Mutex
	clock   Clock
	buckets map[string]*bucket
}

// NewLimiter builds a Limiter from the configured channels. Buckets start
// full.
func NewLimiter(configs []types.RateLimitConfig, clock Clock) *Limiter {
	if clock == nil {
		clock = RealClock()
	}
	l := &Limiter{clock: clock, buckets: make(map[string]*bucket)}
	now := clock.Now()
	for _, cfg := range configs {
		if cfg.Channel == "" || cfg.Capacity <= 0 || cfg.Interval <= 0 {
			continue
		}
		if cfg.Refill <= 0 {
			cfg.Refill = cfg.Capacity
		}
		l.buckets[cfg.Channel] = &bucket{
			cfg:        cfg,
			tokens:     float64(cfg.Capacity),
			lastRefill: now,
		}
	}
	return l
}

// Allow consumes one token from the channel's bucket. It never blocks:
// callers defer the work and retry on a later scan when it returns false.
func (l *Limiter) Allow(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bk, ok := l.buckets[channel]
	if !ok {
		return true
	}
	bk.refill(l.clock.Now())
	if bk.tokens >= 1 {
		bk.tokens--
		return true
	}
	return false
}

// Tokens reports the current token count for a channel; unlimited
// channels report -1.
func (l *Limiter) Tokens(channel string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	bk, ok := l.buckets[channel]
	if !ok {
		return -1
	}
	bk.refill(l.clock.Now())
	return bk.tokens
}
