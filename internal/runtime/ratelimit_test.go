package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterInitialState(t *testing.T) {
	rl := NewRateLimiter(60)

	assert.True(t, rl.Allow(), "should allow initial request")
}

func TestRateLimiterAllowConsumes(t *testing.T) {
	rl := NewRateLimiter(600)

	initial := rl.Tokens()
	assert.Greater(t, initial, 0.0, "should have tokens initially")

	rl.Allow()

	after := rl.Tokens()
	assert.Less(t, after, initial, "should have fewer tokens after Allow")
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(600)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := rl.Wait(ctx)
	assert.NoError(t, err, "wait should succeed with tokens available")
}

func TestRateLimiterWaitContextCancelled(t *testing.T) {
	rl := NewRateLimiter(1)

	for rl.Allow() {
		// drain the burst allowance
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rl.Wait(ctx)
	assert.Error(t, err, "wait should fail when context is cancelled")
}

func TestRateLimitedProviderGatesCalls(t *testing.T) {
	inner := &mockProvider{response: "ok"}

	wrapped := NewRateLimitedProvider(inner, 600)
	resp, err := wrapped.Complete(context.Background(), ModelRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestRateLimitedProviderCancelledWaitFails(t *testing.T) {
	inner := &mockProvider{response: "ok"}
	wrapped := NewRateLimitedProvider(inner, 1).(*rateLimitedProvider)

	for wrapped.limiter.Allow() {
		// drain
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.Complete(ctx, ModelRequest{Prompt: "x"})
	require.Error(t, err)
}

func TestZeroRateLimitIsUnwrapped(t *testing.T) {
	inner := &mockProvider{response: "ok"}
	assert.Equal(t, ModelProvider(inner), NewRateLimitedProvider(inner, 0))
}
