package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"oracle-service/internal/models"

	"github.com/google/uuid"
)

// Release gives a held lock back. Releasing a lock that already expired or was
// taken over by another holder is a no-op.
type Release func(ctx context.Context) error

// Locker hands out exclusive, expiring locks keyed by string. Acquire never
// blocks: it returns models.ErrLockNotAcquired when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

func PolicyKey(policyID uuid.UUID) string {
	return "oracle:lock:policy:" + policyID.String()
}

func ClaimKey(claimID uuid.UUID) string {
	return "oracle:lock:claim:" + claimID.String()
}

// AcquireWait retries Acquire every interval until the lock is taken or ctx
// ends.
func AcquireWait(ctx context.Context, l Locker, key string, ttl, interval time.Duration) (Release, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		release, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, models.ErrLockNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", models.ErrLockNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process Locker used when Redis is not configured
// and in tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	now   func() time.Time
	token func() string
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryEntry),
		now:   time.Now,
		token: func() string { return uuid.NewString() },
	}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.held[key]; ok && now.Before(entry.expires) {
		return nil, fmt.Errorf("%w: %s", models.ErrLockNotAcquired, key)
	}

	token := m.token()
	m.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if entry, ok := m.held[key]; ok && entry.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}
