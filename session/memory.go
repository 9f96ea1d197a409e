package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-process [Store]. Sessions are lost on
// restart.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]memoryEntry
	locks map[string]memoryLock
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store. now may be nil, in which case
// time.Now is used.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		data:  make(map[string]memoryEntry),
		locks: make(map[string]memoryLock),
		now:   now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if expired(entry.expiresAt, s.now()) {
		s.mu.Lock()
		// a concurrent Set may have replaced the entry since RUnlock
		if cur, ok := s.data[id]; ok && expired(cur.expiresAt, s.now()) {
			delete(s.data, id)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, id string, data []byte, ttl time.Duration) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.data[id] = memoryEntry{data: buf, expiresAt: expiryFor(s.now(), ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, data []byte, ttl time.Duration) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.data[id]
	if !ok || expired(entry.expiresAt, now) {
		delete(s.data, id)
		return ErrNotFound
	}
	s.data[id] = memoryEntry{data: buf, expiresAt: expiryFor(now, ttl)}
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.data[id]
	if !ok || expired(entry.expiresAt, now) {
		delete(s.data, id)
		return ErrNotFound
	}
	entry.expiresAt = expiryFor(now, ttl)
	s.data[id] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, id string, ttl time.Duration) (string, bool, error) {
	token, err := NewID()
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.locks[id]; ok && !expired(held.expiresAt, now) {
		return "", false, nil
	}
	s.locks[id] = memoryLock{token: token, expiresAt: expiryFor(now, ttl)}
	return token, true, nil
}

func (s *MemoryStore) Unlock(_ context.Context, id, token string) error {
	s.mu.Lock()
	if held, ok := s.locks[id]; ok && held.token == token {
		delete(s.locks, id)
	}
	s.mu.Unlock()
	return nil
}

// GC drops expired sessions and stale locks.
func (s *MemoryStore) GC(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.data {
		if expired(entry.expiresAt, now) {
			delete(s.data, id)
		}
	}
	for id, held := range s.locks {
		if expired(held.expiresAt, now) {
			delete(s.locks, id)
		}
	}
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
