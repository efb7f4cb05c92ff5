package services

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimiter is the injected limiting abstraction. The fixed-window
// implementation below is process-local; a multi-instance deployment would
// back this interface with a shared counter store instead.
type RateLimiter interface {
	Allow(key string) bool
}

// RateLimitConfig holds fixed-window limiter configuration
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

type rateLimitWindow struct {
	count    int
	resetsAt time.Time
}

// FixedWindowRateLimiter counts attempts per key in fixed windows. State is
// not persisted and is lost on process restart.
type FixedWindowRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateLimitWindow
	config  RateLimitConfig
	logger  *slog.Logger
}

// NewFixedWindowRateLimiter creates a new fixed-window rate limiter
func NewFixedWindowRateLimiter(config RateLimitConfig, logger *slog.Logger) *FixedWindowRateLimiter {
	return &FixedWindowRateLimiter{
		windows: make(map[string]*rateLimitWindow),
		config:  config,
		logger:  logger,
	}
}

// Allow reports whether another attempt is permitted for key. First use of a
// key opens a new window; an expired window resets the counter. At or over
// the threshold the call returns false without incrementing further.
func (l *FixedWindowRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetsAt) {
		l.windows[key] = &rateLimitWindow{
			count:    1,
			resetsAt: now.Add(l.config.Window),
		}
		return true
	}

	if w.count >= l.config.MaxAttempts {
		l.logger.Warn("rate limit exceeded",
			slog.Int("max_attempts", l.config.MaxAttempts),
			slog.Duration("window", l.config.Window))
		return false
	}

	w.count++
	return true
}

// Prune drops expired windows so the map does not grow unbounded. Called from
// the background cleanup loop.
func (l *FixedWindowRateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetsAt) {
			delete(l.windows, key)
			removed++
		}
	}

	return removed
}
