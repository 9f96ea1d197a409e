package limiters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrAttemptsUnavailable indicates the login-attempt backend failed.
var ErrAttemptsUnavailable = errors.New("login attempt store unavailable")

// lockoutBase is the growth factor of the exponential backoff.
const lockoutBase = 1.8

// Track selects which request attributes login failures are counted by.
type Track struct {
	IPAddress bool
	Identity  bool
}

// Enabled reports whether at least one dimension is tracked.
func (t Track) Enabled() bool {
	return t.IPAddress || t.Identity
}

// AttemptStore persists failed login attempts.
//
// LoginAttempts returns the most recent attempt time and the number of
// attempts matching identity OR ip over the enabled dimensions; a zero count
// means no record. ClearLoginAttempts deletes rows matching every enabled
// dimension, or any of them when eitherOr is set.
type AttemptStore interface {
	LoginAttempts(ctx context.Context, identity, ip string, byIdentity, byIP bool) (time.Time, int, error)
	IncrementLoginAttempt(ctx context.Context, identity, ip string, at time.Time) error
	ClearLoginAttempts(ctx context.Context, identity, ip string, byIdentity, byIP, eitherOr bool) (bool, error)
}

// AttemptsConfig holds configuration for [LoginAttempts].
type AttemptsConfig struct {
	Track Track
	Cap   time.Duration // 0 = uncapped
}

// LoginAttempts throttles manual logins with exponential backoff.
//
// A check locks out when either tracked signal matches; a clear forgives only
// the exact pair unless the caller asks for the broader either-or amnesty.
type LoginAttempts struct {
	store  AttemptStore
	config AttemptsConfig
	now    func() time.Time
}

// NewLoginAttempts creates a limiter over store. now may be nil.
func NewLoginAttempts(store AttemptStore, cfg AttemptsConfig, now func() time.Time) *LoginAttempts {
	if now == nil {
		now = time.Now
	}
	return &LoginAttempts{store: store, config: cfg, now: now}
}

// Enabled reports whether any dimension is tracked.
func (l *LoginAttempts) Enabled() bool {
	return l != nil && l.config.Track.Enabled()
}

// LockoutDuration returns round(1.8^(n-1)) seconds, capped by limit when
// limit is positive. n < 1 yields zero.
func LockoutDuration(n int, limit time.Duration) time.Duration {
	if n < 1 {
		return 0
	}
	secs := math.Round(math.Pow(lockoutBase, float64(n-1)))
	if limit > 0 && secs >= limit.Seconds() {
		return limit
	}
	// Very large attempt counts overflow time.Duration; clamp to the
	// largest representable whole second.
	if secs >= float64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64/int64(time.Second)) * time.Second
	}
	return time.Duration(secs) * time.Second
}

// LockedOut reports whether identity/ip is currently throttled and, if so,
// the remaining wait rounded up to whole seconds (at least one second).
func (l *LoginAttempts) LockedOut(ctx context.Context, identity, ip string) (time.Duration, bool, error) {
	if !l.Enabled() {
		return 0, false, nil
	}
	track := l.config.Track
	last, count, err := l.store.LoginAttempts(ctx, identity, ip, track.Identity, track.IPAddress)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	if count == 0 {
		return 0, false, nil
	}

	until := last.Add(LockoutDuration(count, l.config.Cap))
	now := l.now()
	if !now.Before(until) {
		return 0, false, nil
	}
	remaining := until.Sub(now)
	if rem := remaining % time.Second; rem != 0 {
		remaining += time.Second - rem
	}
	return remaining, true, nil
}

// Increment records one failed attempt for identity/ip at the current time.
func (l *LoginAttempts) Increment(ctx context.Context, identity, ip string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.store.IncrementLoginAttempt(ctx, identity, ip, l.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}

// Clear removes attempt records. By default both tracked dimensions must
// match; eitherOr widens the match to any tracked dimension.
func (l *LoginAttempts) Clear(ctx context.Context, identity, ip string, eitherOr bool) (bool, error) {
	if !l.Enabled() {
		return false, nil
	}
	track := l.config.Track
	cleared, err := l.store.ClearLoginAttempts(ctx, identity, ip, track.Identity, track.IPAddress, eitherOr)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return cleared, nil
}
