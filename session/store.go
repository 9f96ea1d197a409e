package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session id is unknown or expired.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable wraps every backend I/O failure.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrRegenerateConflict is returned when another request holds the
	// regeneration lock for the same session id.
	ErrRegenerateConflict = errors.New("session regeneration in progress")
	// ErrNotStarted is returned by operations that need a started session.
	ErrNotStarted = errors.New("session not started")
)

// Store persists encoded session data keyed by session id.
//
// A ttl of zero means the entry never expires. Implementations must return
// [ErrNotFound] (possibly wrapped) for unknown or expired ids and wrap I/O
// failures with [ErrStoreUnavailable].
type Store interface {
	// Get returns the stored blob for id.
	Get(ctx context.Context, id string) ([]byte, error)
	// Set writes data under id, replacing any previous value and TTL.
	Set(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// Update replaces the data of an existing, unexpired entry and resets
	// its TTL. A missing entry yields [ErrNotFound] and is not created.
	Update(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// Touch resets the TTL of an existing entry.
	Touch(ctx context.Context, id string, ttl time.Duration) error
	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Lock tries to acquire an exclusive lock on id for ttl. It returns the
	// token needed by Unlock and whether the lock was acquired.
	Lock(ctx context.Context, id string, ttl time.Duration) (string, bool, error)
	// Unlock releases a lock previously acquired with token.
	Unlock(ctx context.Context, id, token string) error
	// GC purges expired entries where the backend does not do it itself.
	GC(ctx context.Context) error
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
