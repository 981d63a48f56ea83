package repository

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"shareit/internal/domain"

	"github.com/rs/zerolog"
)

const (
	recoveryInterval  = time.Minute
	fallbackTokenMark = "local:"
)

// failover tracks whether the primary backend is usable. After a failure the
// primary is retried at most once per recoveryInterval.
type failover struct {
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func (f *failover) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, f.lastCheck.Load())) > recoveryInterval
}

func (f *failover) markDown(err error, what string) {
	if !f.isDown.Swap(true) {
		f.logger.Error().Err(err).Str("backend", what).Msg("Primary backend failed, falling back to memory")
	}
	f.lastCheck.Store(time.Now().UnixNano())
}

func (f *failover) markUp(what string) {
	if f.isDown.Swap(false) {
		f.logger.Info().Str("backend", what).Msg("Primary backend recovered")
	}
}

// FailoverLocker prefers the shared lock and degrades to the in-process one.
// Tokens issued by the fallback are marked so Release reaches the right side.
type FailoverLocker struct {
	failover
	primary  domain.ItemLocker
	fallback domain.ItemLocker
}

func NewFailoverLocker(primary, fallback domain.ItemLocker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		failover: failover{logger: logger},
		primary:  primary,
		fallback: fallback,
	}
}

func (l *FailoverLocker) Acquire(ctx context.Context, itemID int64, ttl time.Duration) (string, error) {
	if l.usePrimary() {
		token, err := l.primary.Acquire(ctx, itemID, ttl)
		switch {
		case err == nil:
			l.markUp("locker")
			return token, nil
		case errors.Is(err, domain.ErrLockBusy), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", err
		default:
			l.markDown(err, "locker")
		}
	}

	token, err := l.fallback.Acquire(ctx, itemID, ttl)
	if err != nil {
		return "", err
	}
	return fallbackTokenMark + token, nil
}

func (l *FailoverLocker) Release(ctx context.Context, itemID int64, token string) error {
	if local, ok := strings.CutPrefix(token, fallbackTokenMark); ok {
		return l.fallback.Release(ctx, itemID, local)
	}
	return l.primary.Release(ctx, itemID, token)
}

type FailoverRateLimiter struct {
	failover
	primary  domain.RateLimiter
	fallback domain.RateLimiter
}

func NewFailoverRateLimiter(primary, fallback domain.RateLimiter, logger *zerolog.Logger) *FailoverRateLimiter {
	return &FailoverRateLimiter{
		failover: failover{logger: logger},
		primary:  primary,
		fallback: fallback,
	}
}

func (r *FailoverRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp("rate_limiter")
			return allowed, nil
		}
		r.markDown(err, "rate_limiter")
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
