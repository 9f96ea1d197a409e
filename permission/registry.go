package permission

import (
	"errors"
	"sync"
)

// Registry maps permission names to bit positions. Register everything at
// startup, then Freeze.
type Registry struct {
	maxBits      int
	rootReserved bool

	mu     sync.RWMutex
	bits   map[string]int
	names  []string
	frozen bool
}

// NewRegistry creates a registry for masks of maxBits bits (64, 128, 256 or
// 512). rootReserved keeps the highest bit for a grant-all root permission.
func NewRegistry(maxBits int, rootReserved bool) (*Registry, error) {
	if !validWidth(maxBits) {
		return nil, ErrInvalidWidth
	}
	return &Registry{
		maxBits:      maxBits,
		rootReserved: rootReserved,
		bits:         make(map[string]int),
	}, nil
}

// Register assigns the next free bit to name and returns it.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if _, exists := r.bits[name]; exists {
		return -1, errors.New("permission already registered: " + name)
	}

	next := len(r.names)
	limit := r.maxBits
	if r.rootReserved {
		limit--
	}
	if next >= limit {
		return -1, errors.New("permission limit exceeded")
	}

	r.bits[name] = next
	r.names = append(r.names, name)
	return next, nil
}

// Bit returns the bit assigned to name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.bits[name]
	return bit, ok
}

// Name returns the permission registered at bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.names) {
		return "", false
	}
	return r.names[bit], true
}

// Names returns every permission set in m, in bit order.
func (r *Registry) Names(m Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for bit, name := range r.names {
		if m.Has(bit, r.rootReserved) {
			out = append(out, name)
		}
	}
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// RootBit returns the reserved root bit, or false if none is reserved.
func (r *Registry) RootBit() (int, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return r.maxBits - 1, true
}

// MaxBits returns the mask width.
func (r *Registry) MaxBits() int {
	return r.maxBits
}

// RootReserved reports whether the root bit is reserved.
func (r *Registry) RootReserved() bool {
	return r.rootReserved
}
