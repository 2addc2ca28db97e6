package guard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrLocked = errors.New("too many failed attempts")

// LockedError carries how long the caller must wait before trying again.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// Guard throttles guesses against a secret keyed by what is being guessed
// (a booking id, or a guest email for listing).
//
// Every guess is charged before the secret is compared, so concurrent guesses cannot
// slip past the limit between a check and a recorded miss.
type Guard interface {
	// Attempt charges one guess to key. It returns a *LockedError while the key is locked.
	// The guess that reaches MaxAttempts is let through but leaves the key locked behind it.
	Attempt(ctx context.Context, key string) error
	// Release refunds one guess after a match. The lock is lifted only when the remaining
	// count is back under the limit, so a caller's own valid secret cannot wipe out misses
	// made against somebody else's.
	Release(ctx context.Context, key string) error
	// Reset clears the key entirely after its single secret matched.
	Reset(ctx context.Context, key string) error
}

type Policy struct {
	MaxAttempts int
	Window      time.Duration
	BaseLockout time.Duration
	MaxLockout  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Window <= 0 {
		p.Window = 15 * time.Minute
	}
	if p.BaseLockout <= 0 {
		p.BaseLockout = time.Minute
	}
	if p.MaxLockout < p.BaseLockout {
		p.MaxLockout = time.Hour
	}
	return p
}

// lockoutFor returns the lock duration after the given number of failures, zero while
// still under the limit. Each failure past the limit doubles the lock.
func (p Policy) lockoutFor(failures int) time.Duration {
	if failures < p.MaxAttempts {
		return 0
	}
	d := p.BaseLockout
	for i := p.MaxAttempts; i < failures; i++ {
		d *= 2
		if d >= p.MaxLockout {
			return p.MaxLockout
		}
	}
	return d
}
