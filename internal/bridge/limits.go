package bridge

import (
	"context"
	"sync"
	"time"
)

// Limits applied to every attached client.
const (
	// MaxInputMessageSize is the largest single write to the shell. Larger
	// input messages are forwarded in pieces of this size.
	MaxInputMessageSize = 64 * 1024

	// MaxCols and MaxRows bound resize requests.
	MaxCols = 500
	MaxRows = 200

	// DefaultCols and DefaultRows size the PTY when the client gives nothing.
	DefaultCols = 80
	DefaultRows = 24

	// MessageRate is the number of client messages allowed per second.
	MessageRate = 200
	// MessageBurst is the token bucket size.
	MessageBurst = 200

	// readLimit caps a single WebSocket message. Anything larger closes the
	// connection with StatusMessageTooBig.
	readLimit = 1024 * 1024
)

// clampSize keeps a terminal size inside (0, max]. Zero or negative values
// fall back to the defaults.
func clampSize(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	return min(cols, MaxCols), min(rows, MaxRows)
}

// RateLimiter is a token bucket for client messages.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	nowFn      func() time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
		nowFn:      time.Now,
	}
}

// Allow reports whether a message is permitted, consuming one token.
func (rl *RateLimiter) Allow() bool {
	return rl.reserve() == 0
}

// Wait blocks until a token is available and consumes it. It returns
// ctx.Err() if ctx ends first.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := rl.reserve()
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is
// available without taking it.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	if rl.refillRate <= 0 {
		return time.Hour
	}
	d := time.Duration((1 - rl.tokens) / rl.refillRate * float64(time.Second))
	return max(d, time.Millisecond)
}
