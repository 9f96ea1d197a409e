package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(store Store) *Manager {
	return NewManager(store, Config{Expiration: time.Hour})
}

func storesUnderTest(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()
	bolt, err := OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"), nil)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	bolt.now = clock.Now
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(clock.Now),
		"bolt":   bolt,
	}
}

func TestManagerStartCreatesUniqueEmptySessions(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			seen := map[string]bool{}
			for i := 0; i < 50; i++ {
				m := newTestManager(store)
				id, err := m.Start(ctx, "")
				if err != nil {
					t.Fatalf("start: %v", err)
				}
				if !ValidID(id) {
					t.Fatalf("generated id %q is not valid", id)
				}
				if seen[id] {
					t.Fatalf("duplicate id %q", id)
				}
				seen[id] = true
				if len(m.All()) != 0 {
					t.Fatalf("new session should be empty, got %v", m.All())
				}
			}
		})
	}
}

func TestManagerStartIsIdempotent(t *testing.T) {
	m := newTestManager(NewMemoryStore(nil))
	ctx := context.Background()

	first, err := m.Start(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := m.Start(ctx, "")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first != second {
		t.Fatalf("expected same id, got %q and %q", first, second)
	}
}

func TestManagerStartUnknownOrMalformedID(t *testing.T) {
	m := newTestManager(NewMemoryStore(nil))
	ctx := context.Background()

	if _, err := m.Start(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
	if _, err := m.Start(ctx, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if m.Started() {
		t.Fatalf("manager should remain unstarted")
	}
}

func TestManagerResumesAndExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	for name, store := range storesUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(store)
			id, err := m.Start(ctx, "")
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := m.Set(ctx, "count", 3); err != nil {
				t.Fatalf("set: %v", err)
			}

			clock.Advance(30 * time.Minute)
			resumed := newTestManager(store)
			if _, err := resumed.Start(ctx, id); err != nil {
				t.Fatalf("resume: %v", err)
			}
			v, ok := resumed.Get("count")
			if !ok || v != json.Number("3") {
				t.Fatalf("expected count=3 as json.Number, got %#v", v)
			}

			// resume refreshed the TTL
			clock.Advance(45 * time.Minute)
			if _, err := newTestManager(store).Start(ctx, id); err != nil {
				t.Fatalf("resume after touch: %v", err)
			}

			clock.Advance(2 * time.Hour)
			if _, err := newTestManager(store).Start(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected expired session, got %v", err)
			}
		})
	}
}

func TestManagerRegeneratePreservesData(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(store)
			old, err := m.Start(ctx, "")
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := m.Set(ctx, "cart", "books"); err != nil {
				t.Fatalf("set: %v", err)
			}

			next, err := m.Regenerate(ctx)
			if err != nil {
				t.Fatalf("regenerate: %v", err)
			}
			if next == old || m.ID() != next {
				t.Fatalf("expected fresh id, old=%q new=%q current=%q", old, next, m.ID())
			}
			if v, _ := m.Get("cart"); v != "books" {
				t.Fatalf("data lost across regeneration: %v", v)
			}

			if _, err := newTestManager(store).Start(ctx, old); !errors.Is(err, ErrNotFound) {
				t.Fatalf("old id should be gone, got %v", err)
			}
			fresh := newTestManager(store)
			if _, err := fresh.Start(ctx, next); err != nil {
				t.Fatalf("start with new id: %v", err)
			}
			if v, _ := fresh.Get("cart"); v != "books" {
				t.Fatalf("new id does not carry data: %v", v)
			}
		})
	}
}

func TestManagerRegenerateConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	m := newTestManager(store)
	id, err := m.Start(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	token, ok, err := store.Lock(ctx, id, time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	if _, err := m.Regenerate(ctx); !errors.Is(err, ErrRegenerateConflict) {
		t.Fatalf("expected ErrRegenerateConflict, got %v", err)
	}
	if m.ID() != id {
		t.Fatalf("id must not change on conflict")
	}

	if err := store.Unlock(ctx, id, token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := m.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate after unlock: %v", err)
	}
}

func TestManagerRegenerateRequiresStart(t *testing.T) {
	m := newTestManager(NewMemoryStore(nil))
	if _, err := m.Regenerate(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestManagerFinish(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	m := newTestManager(store)
	id, err := m.Start(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	finished, err := m.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished != id || m.Started() || m.ID() != "" {
		t.Fatalf("unexpected state after finish: finished=%q started=%v id=%q", finished, m.Started(), m.ID())
	}
	if store.Len() != 0 {
		t.Fatalf("store should be empty, has %d", store.Len())
	}
	if finished, err := m.Finish(ctx); err != nil || finished != "" {
		t.Fatalf("finish on idle manager: %q %v", finished, err)
	}
}

func TestManagerDataOperations(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore(nil))
	if err := m.Set(ctx, "k", "v"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := m.Start(ctx, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.SetMany(ctx, map[string]any{"a": 1, "b": 2, "c": 3}); err != nil {
		t.Fatalf("set many: %v", err)
	}
	if !m.Has("a") || !m.Has("b") {
		t.Fatalf("expected keys to be present")
	}
	if err := m.Unset(ctx, "a"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if m.Has("a") {
		t.Fatalf("a should be removed")
	}
	if err := m.ClearAll(ctx, "c"); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	all := m.All()
	if len(all) != 1 || !m.Has("c") {
		t.Fatalf("expected only c to remain, got %v", all)
	}
}

func TestManagerFlashIsReadOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	m := newTestManager(store)
	id, err := m.Start(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.SetFlash(ctx, "notice", "saved"); err != nil {
		t.Fatalf("set flash: %v", err)
	}
	if m.Has(flashKey) {
		t.Fatalf("flash container must not be visible as regular data")
	}

	next := newTestManager(store)
	if _, err := next.Start(ctx, id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !next.HasFlash("notice") {
		t.Fatalf("expected flash to survive a request")
	}
	v, ok, err := next.Flash(ctx, "notice")
	if err != nil || !ok || v != "saved" {
		t.Fatalf("flash read: v=%v ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := next.Flash(ctx, "notice"); ok {
		t.Fatalf("flash must be consumed on read")
	}

	again := newTestManager(store)
	if _, err := again.Start(ctx, id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.HasFlash("notice") {
		t.Fatalf("consumed flash was persisted")
	}
}

type countingStore struct {
	*MemoryStore
	gcCalls int
}

func (s *countingStore) GC(ctx context.Context) error {
	s.gcCalls++
	return s.MemoryStore.GC(ctx)
}

func TestManagerProbabilisticGC(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore(nil)}

	never := NewManager(store, Config{GCProbability: 1, Rand: func() float64 { return 0.5 }})
	if _, err := never.Start(ctx, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if store.gcCalls != 0 {
		t.Fatalf("gc should not run when roll exceeds probability")
	}

	always := NewManager(store, Config{GCProbability: 1, Rand: func() float64 { return 0.001 }})
	if _, err := always.Start(ctx, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if store.gcCalls != 1 {
		t.Fatalf("expected one gc call, got %d", store.gcCalls)
	}
}

func TestManagerWriteAfterConcurrentFinish(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			first := newTestManager(store)
			id, err := first.Start(ctx, "")
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			second := newTestManager(store)
			if _, err := second.Start(ctx, id); err != nil {
				t.Fatalf("resume: %v", err)
			}

			if _, err := first.Finish(ctx); err != nil {
				t.Fatalf("finish: %v", err)
			}
			if err := second.Set(ctx, "cart", "3 items"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if second.Started() || second.ID() != "" {
				t.Fatalf("manager should be reset: started=%v id=%q", second.Started(), second.ID())
			}
			if _, err := newTestManager(store).Start(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("finished id came back: %v", err)
			}
		})
	}
}

func TestManagerWriteAfterConcurrentRegenerate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	first := newTestManager(store)
	id, err := first.Start(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	stale := newTestManager(store)
	if _, err := stale.Start(ctx, id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := first.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if _, _, err := stale.Flash(ctx, "x"); err != nil {
		t.Fatalf("flash miss must not write: %v", err)
	}
	if err := stale.SetFlash(ctx, "notice", "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("regenerated id was recreated: %v", err)
	}
}

func TestStoreUpdateRequiresLiveEntry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	for name, store := range storesUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			if err := store.Update(ctx, "missing", []byte(`{}`), time.Minute); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update of missing id: %v", err)
			}
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update created an entry: %v", err)
			}

			if err := store.Set(ctx, "live", []byte(`{"a":1}`), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := store.Update(ctx, "live", []byte(`{"a":2}`), time.Minute); err != nil {
				t.Fatalf("update: %v", err)
			}
			got, err := store.Get(ctx, "live")
			if err != nil || string(got) != `{"a":2}` {
				t.Fatalf("get after update: %q %v", got, err)
			}

			clock.Advance(2 * time.Minute)
			if err := store.Update(ctx, "live", []byte(`{"a":3}`), time.Minute); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update of expired id: %v", err)
			}
		})
	}
}
