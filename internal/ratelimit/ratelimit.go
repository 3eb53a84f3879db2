// Package ratelimit provides rate limiting using the cache subsystem.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/finsight/costgate/internal/platform/cache"
	"github.com/finsight/costgate/internal/platform/logutil"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Config defines rate limiting parameters.
type Config struct {
	// RequestsPerWindow is the maximum requests allowed per window.
	RequestsPerWindow int64

	// Window is the time window for rate limiting.
	Window time.Duration

	// KeyPrefix is prepended to all rate limit keys.
	KeyPrefix string
}

// DefaultInviteConfig returns the invite-creation limit: 10 per rolling hour
// per (user, org) pair.
func DefaultInviteConfig() *Config {
	return &Config{
		RequestsPerWindow: 10,
		Window:            time.Hour,
		KeyPrefix:         "ratelimit:invites:",
	}
}

// Limiter provides rate limiting using a counter backend.
type Limiter struct {
	counter cache.Counter
	config  *Config
	logger  *slog.Logger
}

// New creates a new rate limiter. A nil config uses DefaultInviteConfig.
func New(c cache.Counter, cfg *Config, logger *slog.Logger) *Limiter {
	if cfg == nil {
		cfg = DefaultInviteConfig()
	}
	return &Limiter{
		counter: c,
		config:  cfg,
		logger:  logutil.NoopIfNil(logger),
	}
}

// Result contains the rate limit check result.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Allow checks and consumes one unit of quota for the given key.
//
// The limiter fails open: if the counter backend errors, the request is
// allowed and the failure is logged. This control protects against invite
// spam, not abuse of anything security-critical, so availability wins.
func (l *Limiter) Allow(ctx context.Context, key string) *Result {
	fullKey := l.config.KeyPrefix + key

	count, resetAt, err := l.counter.Increment(ctx, fullKey, 1, l.config.Window)
	if err != nil {
		l.logger.Warn("rate limit backend error, allowing request", "error", err)
		return &Result{Allowed: true, Remaining: 0, ResetAt: time.Now().Add(l.config.Window)}
	}

	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= l.config.RequestsPerWindow,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Reset clears the rate limit for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.counter.Reset(ctx, l.config.KeyPrefix+key)
}
