package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/energyledger/internal/clock"
	"golang.org/x/time/rate"
)

const sweepThreshold = 10_000

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Idle
// buckets are dropped once the map grows past sweepThreshold.
type MemoryLimiter struct {
	policy Policy
	clock  clock.Clock

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryLimiter(policy Policy, clk clock.Clock) (*MemoryLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryLimiter{
		policy:  policy,
		clock:   clk,
		entries: map[string]*memoryEntry{},
	}, nil
}

func (m *MemoryLimiter) Policy() Policy {
	return m.policy
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	entry, ok := m.entries[key]
	if !ok {
		if len(m.entries) >= sweepThreshold {
			m.sweep(now)
		}
		entry = &memoryEntry{
			limiter: rate.NewLimiter(rate.Limit(m.policy.Rate()), m.policy.Limit),
		}
		m.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Result{
			Allowed:    false,
			Limit:      m.policy.Limit,
			Remaining:  0,
			RetryAfter: delay,
		}, nil
	}

	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   true,
		Limit:     m.policy.Limit,
		Remaining: remaining,
	}, nil
}

// sweep drops buckets that have been idle long enough to be full again.
func (m *MemoryLimiter) sweep(now time.Time) {
	for key, entry := range m.entries {
		if now.Sub(entry.lastSeen) >= m.policy.Window {
			delete(m.entries, key)
		}
	}
}

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
