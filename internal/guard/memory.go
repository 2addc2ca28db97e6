package guard

import (
	"context"
	"sync"
	"time"
)

const memSweepEvery = 5 * time.Minute

type memEntry struct {
	attempts    int
	windowEnds  time.Time
	lockedUntil time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return now.After(e.windowEnds) && !now.Before(e.lockedUntil)
}

// MemoryGuard keeps counters in process memory. It is only correct with a single API instance.
type MemoryGuard struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*memEntry
	lastSweep time.Time
}

func NewMemoryGuard(p Policy) *MemoryGuard {
	return &MemoryGuard{
		policy:  p.withDefaults(),
		now:     time.Now,
		entries: make(map[string]*memEntry),
	}
}

// WithClock swaps the time source; tests use it to walk through lockouts.
func (g *MemoryGuard) WithClock(now func() time.Time) *MemoryGuard {
	g.now = now
	return g
}

func (g *MemoryGuard) Attempt(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)

	e, ok := g.entries[key]
	if ok && now.Before(e.lockedUntil) {
		return &LockedError{RetryAfter: e.lockedUntil.Sub(now)}
	}
	if !ok || e.expired(now) {
		e = &memEntry{windowEnds: now.Add(g.policy.Window)}
		g.entries[key] = e
	}
	e.attempts++
	if d := g.policy.lockoutFor(e.attempts); d > 0 {
		e.lockedUntil = now.Add(d)
		// The counter outlives the lock so the next miss doubles it.
		e.windowEnds = e.lockedUntil.Add(g.policy.Window)
	}
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return nil
	}
	if e.attempts > 0 {
		e.attempts--
	}
	if e.attempts < g.policy.MaxAttempts {
		e.lockedUntil = time.Time{}
	}
	if e.attempts == 0 {
		delete(g.entries, key)
	}
	return nil
}

func (g *MemoryGuard) Reset(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}

// sweep drops entries whose window and lock have both passed. Callers hold g.mu.
func (g *MemoryGuard) sweep(now time.Time) {
	if now.Sub(g.lastSweep) < memSweepEvery {
		return
	}
	for k, e := range g.entries {
		if e.expired(now) {
			delete(g.entries, k)
		}
	}
	g.lastSweep = now
}
