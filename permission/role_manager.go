package permission

import (
	"errors"
	"sort"
	"sync"
)

// RootPermission names the grant-all permission in role definitions when
// the registry reserves a root bit.
const RootPermission = "*"

// RoleManager holds the permission mask of every known role. Roles are
// registered at startup and read concurrently afterwards.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

// NewRoleManager creates an empty role manager over registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// RegisterRole defines roleName as the union of permissionNames.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered: " + roleName)
	}

	mask, err := NewMask(rm.registry.MaxBits())
	if err != nil {
		return err
	}
	for _, perm := range permissionNames {
		if perm == RootPermission {
			root, ok := rm.registry.RootBit()
			if !ok {
				return errors.New("root permission requires a reserved root bit")
			}
			mask.Set(root)
			continue
		}
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.New("permission not registered: " + perm)
		}
		mask.Set(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

// GetMask returns a copy of the mask for roleName.
func (rm *RoleManager) GetMask(roleName string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	mask, ok := rm.roles[roleName]
	if !ok {
		return Mask{}, false
	}
	return mask.Clone(), true
}

// Combine returns the union of the masks of roles. Unknown roles are
// skipped.
func (rm *RoleManager) Combine(roles []string) Mask {
	out, _ := NewMask(rm.registry.MaxBits())
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for _, name := range roles {
		if m, ok := rm.roles[name]; ok {
			out.Union(m)
		}
	}
	return out
}

// Roles returns the registered role names, sorted.
func (rm *RoleManager) Roles() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]string, 0, len(rm.roles))
	for name := range rm.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
