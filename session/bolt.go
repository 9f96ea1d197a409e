package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	boltSessionBucket = []byte("sessions")
	boltLockBucket    = []byte("session_locks")
)

type boltRecord struct {
	Data      []byte `json:"data"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type boltLock struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// BoltStore is a file-backed [Store] on top of a BBolt database. Expired
// records are ignored on read and removed by [BoltStore.GC].
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore wraps an open BBolt database and creates the session buckets.
func NewBoltStore(db *bbolt.DB, now func() time.Time) (*BoltStore, error) {
	if now == nil {
		now = time.Now
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltSessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltLockBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating buckets: %v", ErrStoreUnavailable, err)
	}
	return &BoltStore{db: db, now: now}, nil
}

// OpenBoltStore opens (or creates) a BBolt file at path.
func OpenBoltStore(path string, options *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	store, err := NewBoltStore(db, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func (s *BoltStore) Get(_ context.Context, id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(boltSessionBucket).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if expired(fromUnixNano(rec.ExpiresAt), s.now()) {
			return ErrNotFound
		}
		out = rec.Data
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *BoltStore) Set(_ context.Context, id string, data []byte, ttl time.Duration) error {
	rec := boltRecord{Data: data, ExpiresAt: unixNano(expiryFor(s.now(), ttl))}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltSessionBucket).Put([]byte(id), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *BoltStore) Update(_ context.Context, id string, data []byte, ttl time.Duration) error {
	now := s.now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltSessionBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		var cur boltRecord
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if expired(fromUnixNano(cur.ExpiresAt), now) {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			return ErrNotFound
		}
		next, err := json.Marshal(boltRecord{Data: data, ExpiresAt: unixNano(expiryFor(now, ttl))})
		if err != nil {
			return err
		}
		return b.Put([]byte(id), next)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *BoltStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltSessionBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		now := s.now()
		if expired(fromUnixNano(rec.ExpiresAt), now) {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			return ErrNotFound
		}
		rec.ExpiresAt = unixNano(expiryFor(now, ttl))
		next, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), next)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltSessionBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *BoltStore) Lock(_ context.Context, id string, ttl time.Duration) (string, bool, error) {
	token, err := NewID()
	if err != nil {
		return "", false, err
	}

	acquired := false
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltLockBucket)
		now := s.now()
		if raw := b.Get([]byte(id)); raw != nil {
			var held boltLock
			if err := json.Unmarshal(raw, &held); err != nil {
				return err
			}
			if !expired(fromUnixNano(held.ExpiresAt), now) {
				return nil
			}
		}
		raw, err := json.Marshal(boltLock{Token: token, ExpiresAt: unixNano(expiryFor(now, ttl))})
		if err != nil {
			return err
		}
		acquired = true
		return b.Put([]byte(id), raw)
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

func (s *BoltStore) Unlock(_ context.Context, id, token string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltLockBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var held boltLock
		if err := json.Unmarshal(raw, &held); err != nil {
			return err
		}
		if held.Token != token {
			return nil
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GC walks both buckets and deletes expired entries.
func (s *BoltStore) GC(context.Context) error {
	now := s.now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := purgeExpired(tx.Bucket(boltSessionBucket), now); err != nil {
			return err
		}
		return purgeExpired(tx.Bucket(boltLockBucket), now)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func purgeExpired(b *bbolt.Bucket, now time.Time) error {
	var stale [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var probe struct {
			ExpiresAt int64 `json:"expires_at"`
		}
		if err := json.Unmarshal(v, &probe); err != nil {
			return err
		}
		if expired(fromUnixNano(probe.ExpiresAt), now) {
			stale = append(stale, bytes.Clone(k))
		}
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
