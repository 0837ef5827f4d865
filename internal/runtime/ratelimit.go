package runtime

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter gating model calls on a
// connection, fed from the manifest's per-minute `rate_limit` field.
type RateLimiter struct {
	mu sync.Mutex

	capacity   float64       // max tokens
	refillRate float64       // tokens per second
	interval   time.Duration // minimum wait between retries inside Wait

	tokens   float64
	lastTime time.Time
}

// NewRateLimiter builds a limiter allowing perMinute requests, with a
// small burst allowance.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}

	capacity := float64(perMinute) / 10
	if capacity < 1 {
		capacity = 1
	}

	return &RateLimiter{
		capacity:   capacity,
		refillRate: float64(perMinute) / 60.0,
		interval:   100 * time.Millisecond,
		tokens:     capacity,
		lastTime:   time.Now(),
	}
}

// Allow reports whether a request can proceed immediately, consuming a
// token when it can.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		deficit := 1 - rl.tokens
		waitDuration := time.Duration(deficit/rl.refillRate*1000) * time.Millisecond
		if waitDuration < rl.interval {
			waitDuration = rl.interval
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}
}

// refill adds tokens based on elapsed time. Caller holds the mutex.
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()

	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.lastTime = now
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// rateLimitedProvider decorates a ModelProvider so every call first
// acquires a token; a cancelled wait surfaces as the call's error.
type rateLimitedProvider struct {
	inner   ModelProvider
	limiter *RateLimiter
}

// NewRateLimitedProvider wraps provider with a perMinute token bucket.
// A perMinute of zero or less returns the provider unwrapped.
func NewRateLimitedProvider(provider ModelProvider, perMinute int) ModelProvider {
	if perMinute <= 0 {
		return provider
	}
	return &rateLimitedProvider{inner: provider, limiter: NewRateLimiter(perMinute)}
}

func (p *rateLimitedProvider) Complete(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return ModelResponse{}, wrapErr(ErrCall, err, "rate limit wait")
	}
	return p.inner.Complete(ctx, req)
}

func (p *rateLimitedProvider) Stream(ctx context.Context, req ModelRequest, onChunk func(string)) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return wrapErr(ErrCall, err, "rate limit wait")
	}
	return p.inner.Stream(ctx, req, onChunk)
}
