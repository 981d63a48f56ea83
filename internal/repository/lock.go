package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"shareit/internal/domain"
)

const (
	defaultLockWait  = 2 * time.Second
	lockPollInterval = 10 * time.Millisecond
)

func lockKey(itemID int64) string {
	return fmt.Sprintf("lock:item:%d", itemID)
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// waitForLock calls try until it succeeds, fails, the wait budget runs out
// (ErrLockBusy) or ctx is done.
func waitForLock(ctx context.Context, wait time.Duration, try func() (bool, error)) error {
	if wait <= 0 {
		wait = defaultLockWait
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return domain.ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
