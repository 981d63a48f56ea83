package api

import (
	"sync"

	"shareit/internal/config"

	"golang.org/x/time/rate"
)

// keyLimiters hands out one token bucket per client key.
type keyLimiters struct {
	limiters sync.Map
	rps      rate.Limit
	burst    int
}

func newKeyLimiters(cfg config.APIRateLimitConfig) *keyLimiters {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &keyLimiters{rps: rate.Limit(cfg.RPS), burst: burst}
}

func (l *keyLimiters) enabled() bool {
	return l.rps > 0
}

func (l *keyLimiters) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

func (l *keyLimiters) allow(key string) bool {
	if !l.enabled() {
		return true
	}
	return l.get(key).Allow()
}
