package sshsession

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yangjarod117/webssh/internal/logutil"
)

// Rate limiting defaults. Two independent mechanisms protect a target against
// connection storms:
//   - Sliding-window rate limit: max attempts per minute per target.
//   - Consecutive failure block: after N failures in a row the target is
//     blocked for BlockDuration.
const (
	DefaultMaxAttemptsPerMinute = 10
	DefaultMaxConsecFailures    = 5
	DefaultBlockDuration        = 5 * time.Minute
)

// RateLimitConfig holds configuration for the connection rate limiter.
type RateLimitConfig struct {
	MaxAttemptsPerMinute int
	MaxConsecFailures    int
	BlockDuration        time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttemptsPerMinute: DefaultMaxAttemptsPerMinute,
		MaxConsecFailures:    DefaultMaxConsecFailures,
		BlockDuration:        DefaultBlockDuration,
	}
}

type targetRateState struct {
	attempts       []time.Time
	consecFailures int
	blockedUntil   time.Time
}

// RateLimiter enforces rate limits on connection attempts per target
// (user@host:port).
type RateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	state  map[string]*targetRateState
	nowFn  func() time.Time
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		state:  make(map[string]*targetRateState),
		nowFn:  time.Now,
	}
}

// Allow records an attempt for target, or returns an error wrapping
// ErrRateLimited if the target is blocked or over its per-minute budget.
func (rl *RateLimiter) Allow(target string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.getOrCreateState(target)

	if now.Before(s.blockedUntil) {
		remaining := s.blockedUntil.Sub(now).Truncate(time.Second)
		log.Printf("[session] rate limit: %s is blocked for %s (consecutive failures: %d)",
			logutil.SanitizeForLog(target), remaining, s.consecFailures)
		return fmt.Errorf("%w: %d consecutive failures, retry after %s",
			ErrRateLimited, s.consecFailures, remaining)
	}

	cutoff := now.Add(-time.Minute)
	pruned := s.attempts[:0]
	for _, t := range s.attempts {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	s.attempts = pruned

	if len(s.attempts) >= rl.config.MaxAttemptsPerMinute {
		log.Printf("[session] rate limit: %s exceeded %d attempts/min",
			logutil.SanitizeForLog(target), rl.config.MaxAttemptsPerMinute)
		return fmt.Errorf("%w: %d connection attempts in the last minute (max %d)",
			ErrRateLimited, len(s.attempts), rl.config.MaxAttemptsPerMinute)
	}

	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess resets the consecutive failure counter for target.
func (rl *RateLimiter) RecordSuccess(target string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s := rl.getOrCreateState(target)
	s.consecFailures = 0
	s.blockedUntil = time.Time{}
}

// RecordFailure increments the consecutive failure counter for target and
// blocks it once the threshold is reached.
func (rl *RateLimiter) RecordFailure(target string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.getOrCreateState(target)
	s.consecFailures++

	if s.consecFailures >= rl.config.MaxConsecFailures {
		s.blockedUntil = now.Add(rl.config.BlockDuration)
		log.Printf("[session] rate limit: blocking %s until %s (%d consecutive failures)",
			logutil.SanitizeForLog(target), s.blockedUntil.Format(time.RFC3339), s.consecFailures)
	}
}

// Prune drops state for targets with no recent attempts and no active block.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	cutoff := now.Add(-time.Minute)
	removed := 0
	for target, s := range rl.state {
		if now.Before(s.blockedUntil) {
			continue
		}
		recent := false
		for _, t := range s.attempts {
			if t.After(cutoff) {
				recent = true
				break
			}
		}
		if !recent {
			delete(rl.state, target)
			removed++
		}
	}
	return removed
}

// Must be called with rl.mu held.
func (rl *RateLimiter) getOrCreateState(target string) *targetRateState {
	s, ok := rl.state[target]
	if !ok {
		s = &targetRateState{}
		rl.state[target] = s
	}
	return s
}
