package repository

import (
	"context"
	"sync"
	"time"
)

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is the in-process item lock used when Redis is absent or down.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[int64]memoryLock
	wait  time.Duration
	now   func() time.Time
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[int64]memoryLock),
		wait:  wait,
		now:   time.Now,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, itemID int64, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	err = waitForLock(ctx, m.wait, func() (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		now := m.now()
		if held, ok := m.locks[itemID]; ok && now.Before(held.expiresAt) {
			return false, nil
		}
		m.locks[itemID] = memoryLock{token: token, expiresAt: now.Add(ttl)}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (m *MemoryLocker) Release(_ context.Context, itemID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[itemID]; ok && held.token == token {
		delete(m.locks, itemID)
	}
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{entries: make(map[string]*rateLimitEntry)}
}

func (r *MemoryRateLimiter) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{count: 0, expiresAt: now.Add(window)}
		r.entries[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
