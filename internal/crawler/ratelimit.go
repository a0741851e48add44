package crawler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/performa-app/courtside/internal/metrics"
)

// RateLimiter enforces per-domain request budgets with a continuously
// refilling token bucket per domain. The first acquire for a domain
// initializes its bucket and is admitted free; afterwards tokens
// refill at rate/60 per second up to the rate, and a caller facing a
// deficit sleeps it out while holding the domain lock, so admission is
// strictly first-come-first-served per domain. Domains never block
// each other.
type RateLimiter struct {
	defaultRate float64
	log         *slog.Logger

	mu      sync.RWMutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	mu      sync.Mutex
	rate    float64 // tokens per minute
	tokens  float64
	last    time.Time // last refill instant
	started bool
}

// NewRateLimiter creates a limiter admitting ratePerMinute requests
// per domain by default.
func NewRateLimiter(ratePerMinute float64, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		defaultRate: ratePerMinute,
		log:         log.With("component", "ratelimit"),
		buckets:     make(map[string]*tokenBucket),
	}
}

// SetDomainRate re-initializes the domain's bucket, full, at the given
// rate. Rates at or below zero fall back to the default rate.
func (rl *RateLimiter) SetDomainRate(domain string, ratePerMinute float64) {
	if ratePerMinute <= 0 {
		ratePerMinute = rl.defaultRate
	}

	rl.mu.Lock()
	rl.buckets[domain] = &tokenBucket{
		rate:    ratePerMinute,
		tokens:  ratePerMinute,
		last:    time.Now(),
		started: true,
	}
	rl.mu.Unlock()

	rl.log.Info("domain rate configured", "domain", domain, "rate_per_minute", ratePerMinute)
}

// Acquire blocks until the domain admits one request or ctx is done.
func (rl *RateLimiter) Acquire(ctx context.Context, domain string) error {
	b := rl.getBucket(domain)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !b.started {
		b.started = true
		b.last = now
		b.tokens = b.rate - 1 // one token spent on this request
		return nil
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens = math.Min(b.rate, b.tokens+elapsed*b.rate/60.0)
	b.last = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) * 60.0 / b.rate * float64(time.Second))
		rl.log.Debug("rate limiting", "domain", domain, "wait", wait)

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		metrics.ObserveRateLimitWait(domain, wait.Seconds())
		b.tokens = 0
		b.last = time.Now()
		return nil
	}

	b.tokens--
	return nil
}

// getBucket returns the bucket for domain, creating it at the default
// rate on first use.
func (rl *RateLimiter) getBucket(domain string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[domain]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[domain]; ok {
		return b
	}
	b = &tokenBucket{rate: rl.defaultRate}
	rl.buckets[domain] = b
	return b
}
