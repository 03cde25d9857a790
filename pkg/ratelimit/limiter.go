package ratelimit

import (
	"context"
	"sync"
	"time"
)

// KeyedLimiter defines the interface for per-key rate limiting
type KeyedLimiter interface {
	// Acquire blocks until the key is allowed to proceed, or the context ends
	Acquire(ctx context.Context, key string) error
	// Reserve returns how long the key must wait before proceeding, marking
	// the slot as taken
	Reserve(key string) time.Duration
	// Reset clears the recorded state for the key
	Reset(key string)
}

// MinInterval enforces a minimum gap between acquisitions of the same key.
// Different keys never block each other.
type MinInterval struct {
	interval time.Duration
	last     map[string]time.Time
	mu       sync.Mutex

	// now is swappable for tests
	now func() time.Time
}

// NewMinInterval creates a per-key minimum-interval limiter
func NewMinInterval(interval time.Duration) *MinInterval {
	return &MinInterval{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Reserve records an acquisition for the key and returns how long the caller
// must wait before acting on it. Zero means the key may proceed immediately.
func (m *MinInterval) Reserve(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	next := now

	if last, ok := m.last[key]; ok {
		earliest := last.Add(m.interval)
		if earliest.After(now) {
			next = earliest
		}
	}

	m.last[key] = next
	return next.Sub(now)
}

// Acquire blocks until the key's minimum interval has elapsed. It returns
// the context error if the wait is cancelled; the reservation is not undone.
func (m *MinInterval) Acquire(ctx context.Context, key string) error {
	delay := m.Reserve(key)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the recorded state for the key, allowing an immediate acquire
func (m *MinInterval) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.last, key)
}

// Len reports how many keys currently have recorded state
func (m *MinInterval) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.last)
}
