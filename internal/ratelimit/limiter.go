package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket: it allows bursts up to maxTokens, then
// refills at refillRate tokens/second. Thread-safe.
type RateLimiter struct {
	mu          sync.Mutex
	tokens      float64
	maxTokens   float64
	refillRate  float64
	lastRefill  time.Time
	cooldownEnd time.Time
}

// New creates a rate limiter with the given sustained rate and burst
// capacity, starting with a full bucket.
func New(tokensPerSecond, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// NewDefault creates a rate limiter using DefaultRatePerSec/DefaultBurstCapacity.
func NewDefault() *RateLimiter {
	return New(DefaultRatePerSec, DefaultBurstCapacity)
}

// Wait blocks until a token is available or ctx is cancelled. If a cooldown
// is active (set via SetCooldown after a 429/503 response) it waits that out
// first.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if cooldown := rl.CooldownRemaining(); cooldown > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cooldown):
		}
	}

	for {
		if rl.tryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.timeUntilNextToken()):
		}
	}
}

// TryAcquire attempts to acquire one token without blocking.
func (rl *RateLimiter) TryAcquire() bool { return rl.tryAcquire() }

func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	needed := 1.0 - rl.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / rl.refillRate * float64(time.Second))
}

// Drain empties the bucket to zero, forcing subsequent Wait calls to block
// until tokens refill. Used on a 429/503 response to immediately halt
// further requests.
func (rl *RateLimiter) Drain() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = 0
	rl.lastRefill = time.Now()
}

// SetCooldown sets a cooldown during which all Wait calls block, merging
// with any existing cooldown so a shorter Retry-After can never shorten an
// already-active one.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	newEnd := time.Now().Add(d)
	if newEnd.After(rl.cooldownEnd) {
		rl.cooldownEnd = newEnd
	}
}

// CooldownRemaining returns the time left on the active cooldown, or 0.
func (rl *RateLimiter) CooldownRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	remaining := time.Until(rl.cooldownEnd)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// CurrentTokens returns the current token count, refilled for elapsed time.
// Exposed for tests.
func (rl *RateLimiter) CurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	tokens := rl.tokens + elapsed*rl.refillRate
	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}
	return tokens
}
