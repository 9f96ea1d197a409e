package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// flashKey holds the flash sub-map inside the session data.
const flashKey = "__flash"

// DefaultLockTTL bounds how long a regeneration lock may be held.
const DefaultLockTTL = 2 * time.Minute

// Data is the decoded session data map. Numbers decode as json.Number.
type Data map[string]any

// Config controls session lifetime and housekeeping for a [Manager].
type Config struct {
	// Expiration is the TTL applied on start, write and regeneration.
	// Zero means sessions never expire.
	Expiration time.Duration
	// GCProbability is the chance in percent (0-100) that Start triggers
	// Store.GC.
	GCProbability float64
	// LockTTL is the lifetime of the regeneration lock.
	LockTTL time.Duration

	Logger *slog.Logger
	// Rand returns a float in [0,1); defaults to math/rand/v2.Float64.
	Rand func() float64
}

// Manager manages one session id over a shared [Store]. A Manager is meant
// to be used by a single request and is not safe for concurrent use.
type Manager struct {
	store   Store
	cfg     Config
	id      string
	data    Data
	started bool
}

// NewManager binds a new, unstarted Manager to store.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Manager{store: store, cfg: cfg}
}

// ID returns the current session id, or "" when not started.
func (m *Manager) ID() string {
	return m.id
}

// Started reports whether a session id is currently active.
func (m *Manager) Started() bool {
	return m.started
}

// Start activates a session. With an empty id a fresh session is created.
// With a non-empty id the existing session's TTL is refreshed; an unknown or
// expired id yields [ErrNotFound] and leaves the Manager unstarted. Calling
// Start on a started Manager returns the current id.
func (m *Manager) Start(ctx context.Context, id string) (string, error) {
	if m.started {
		return m.id, nil
	}

	m.maybeGC(ctx)

	if id == "" {
		return m.create(ctx)
	}
	if !ValidID(id) {
		return "", ErrNotFound
	}

	if err := m.store.Touch(ctx, id, m.cfg.Expiration); err != nil {
		return "", err
	}
	raw, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	data, err := decodeData(raw)
	if err != nil {
		return "", err
	}

	m.id = id
	m.data = data
	m.started = true
	return id, nil
}

func (m *Manager) create(ctx context.Context) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	data := Data{}
	if err := m.write(ctx, id, data); err != nil {
		return "", err
	}

	m.id = id
	m.data = data
	m.started = true
	m.cfg.Logger.Debug("session created", "session_id_prefix", idPrefix(id))
	return id, nil
}

// Finish destroys the current session and returns the id that was active.
func (m *Manager) Finish(ctx context.Context) (string, error) {
	if !m.started {
		return "", nil
	}
	old := m.id
	if err := m.store.Delete(ctx, old); err != nil {
		return "", err
	}
	m.id = ""
	m.data = nil
	m.started = false
	return old, nil
}

// Regenerate moves the current session data to a fresh id and deletes the
// old one. The old id is locked for the duration so concurrent
// regenerations of the same session cannot both succeed; the loser gets
// [ErrRegenerateConflict].
func (m *Manager) Regenerate(ctx context.Context) (string, error) {
	if !m.started {
		return "", ErrNotStarted
	}

	old := m.id
	token, ok, err := m.store.Lock(ctx, old, m.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrRegenerateConflict
	}
	defer func() {
		if err := m.store.Unlock(ctx, old, token); err != nil {
			m.cfg.Logger.Warn("session unlock failed", "error", err)
		}
	}()

	data := Data{}
	raw, err := m.store.Get(ctx, old)
	switch {
	case err == nil:
		data, err = decodeData(raw)
		if err != nil {
			return "", err
		}
	case errors.Is(err, ErrNotFound):
		// expired under us; carry on with empty data
	default:
		return "", err
	}

	next, err := NewID()
	if err != nil {
		return "", err
	}
	if err := m.write(ctx, next, data); err != nil {
		return "", err
	}
	if err := m.store.Delete(ctx, old); err != nil {
		return "", err
	}

	m.id = next
	m.data = data
	m.cfg.Logger.Debug("session regenerated", "session_id_prefix", idPrefix(next))
	return next, nil
}

// All returns a copy of the session data without flash entries.
func (m *Manager) All() Data {
	out := make(Data, len(m.data))
	for k, v := range m.data {
		if k == flashKey {
			continue
		}
		out[k] = v
	}
	return out
}

// Get returns the value stored under key.
func (m *Manager) Get(key string) (any, bool) {
	if key == flashKey {
		return nil, false
	}
	v, ok := m.data[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Manager) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key and persists the session.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	return m.SetMany(ctx, map[string]any{key: value})
}

// SetMany stores several values with a single store write.
func (m *Manager) SetMany(ctx context.Context, values map[string]any) error {
	if !m.started {
		return ErrNotStarted
	}
	for k, v := range values {
		m.data[k] = v
	}
	return m.save(ctx)
}

// Unset removes key and persists the session.
func (m *Manager) Unset(ctx context.Context, key string) error {
	if !m.started {
		return ErrNotStarted
	}
	if _, ok := m.data[key]; !ok {
		return nil
	}
	delete(m.data, key)
	return m.save(ctx)
}

// ClearAll removes every key except those listed in except.
func (m *Manager) ClearAll(ctx context.Context, except ...string) error {
	if !m.started {
		return ErrNotStarted
	}
	keep := make(Data, len(except))
	for _, k := range except {
		if v, ok := m.data[k]; ok {
			keep[k] = v
		}
	}
	m.data = keep
	return m.save(ctx)
}

// SetFlash stores a value that is removed the first time it is read.
func (m *Manager) SetFlash(ctx context.Context, key string, value any) error {
	if !m.started {
		return ErrNotStarted
	}
	flash := m.flash()
	flash[key] = value
	m.data[flashKey] = flash
	return m.save(ctx)
}

// Flash returns and deletes the flash value under key.
func (m *Manager) Flash(ctx context.Context, key string) (any, bool, error) {
	if !m.started {
		return nil, false, ErrNotStarted
	}
	flash := m.flash()
	v, ok := flash[key]
	if !ok {
		return nil, false, nil
	}
	delete(flash, key)
	if len(flash) == 0 {
		delete(m.data, flashKey)
	} else {
		m.data[flashKey] = flash
	}
	if err := m.save(ctx); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// HasFlash reports whether a flash value exists without consuming it.
func (m *Manager) HasFlash(key string) bool {
	_, ok := m.flash()[key]
	return ok
}

func (m *Manager) flash() map[string]any {
	if raw, ok := m.data[flashKey].(map[string]any); ok {
		return raw
	}
	return map[string]any{}
}

// save persists the data of an existing session. When another request
// destroyed the session meanwhile, the Manager is reset to unstarted and
// ErrNotFound is returned.
func (m *Manager) save(ctx context.Context) error {
	raw, err := json.Marshal(m.data)
	if err != nil {
		return fmt.Errorf("encoding session data: %w", err)
	}
	err = m.store.Update(ctx, m.id, raw, m.cfg.Expiration)
	if errors.Is(err, ErrNotFound) {
		m.cfg.Logger.Debug("session gone before write", "session_id_prefix", idPrefix(m.id))
		m.id = ""
		m.data = nil
		m.started = false
	}
	return err
}

func (m *Manager) write(ctx context.Context, id string, data Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding session data: %w", err)
	}
	return m.store.Set(ctx, id, raw, m.cfg.Expiration)
}

func (m *Manager) maybeGC(ctx context.Context) {
	if m.cfg.GCProbability <= 0 {
		return
	}
	if m.cfg.Rand()*100 >= m.cfg.GCProbability {
		return
	}
	if err := m.store.GC(ctx); err != nil {
		m.cfg.Logger.Warn("session gc failed", "error", err)
	}
}

func decodeData(raw []byte) (Data, error) {
	data := Data{}
	if len(raw) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding session data: %w", err)
	}
	return data, nil
}

func idPrefix(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
