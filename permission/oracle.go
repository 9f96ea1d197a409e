package permission

import (
	"context"
	"errors"
	"slices"
)

// RoleSource lists the roles assigned to a user. *store.SQLStore
// implements it.
type RoleSource interface {
	UserRoles(ctx context.Context, userID int64) ([]string, error)
}

// Definition describes the permission model: every permission name and the
// permissions each role grants.
type Definition struct {
	MaxBits      int
	RootReserved bool
	Permissions  []string
	Roles        map[string][]string
}

// Oracle answers permission and role questions for a user by combining the
// masks of the user's roles.
type Oracle struct {
	registry *Registry
	roles    *RoleManager
	source   RoleSource
}

// NewOracle builds and freezes the registry and roles of def. MaxBits
// defaults to 64.
func NewOracle(source RoleSource, def Definition) (*Oracle, error) {
	if source == nil {
		return nil, errors.New("role source required")
	}
	if def.MaxBits == 0 {
		def.MaxBits = 64
	}
	registry, err := NewRegistry(def.MaxBits, def.RootReserved)
	if err != nil {
		return nil, err
	}
	for _, p := range def.Permissions {
		if _, err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	roles := NewRoleManager(registry)
	names := make([]string, 0, len(def.Roles))
	for name := range def.Roles {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := roles.RegisterRole(name, def.Roles[name]); err != nil {
			return nil, err
		}
	}
	roles.Freeze()

	return &Oracle{registry: registry, roles: roles, source: source}, nil
}

// Registry returns the frozen permission registry.
func (o *Oracle) Registry() *Registry {
	return o.registry
}

// UserMask returns the combined mask of every role assigned to userID.
func (o *Oracle) UserMask(ctx context.Context, userID int64) (Mask, error) {
	roles, err := o.source.UserRoles(ctx, userID)
	if err != nil {
		return Mask{}, err
	}
	return o.roles.Combine(roles), nil
}

// HasPermissions reports whether the user's roles grant every permission in
// perms. Unregistered permissions are never granted unless the user holds
// the root bit.
func (o *Oracle) HasPermissions(ctx context.Context, userID int64, perms []string) (bool, error) {
	mask, err := o.UserMask(ctx, userID)
	if err != nil {
		return false, err
	}
	root, rootOK := o.registry.RootBit()
	hasRoot := rootOK && mask.Has(root, false)
	for _, p := range perms {
		if hasRoot {
			continue
		}
		bit, ok := o.registry.Bit(p)
		if !ok || !mask.Has(bit, o.registry.RootReserved()) {
			return false, nil
		}
	}
	return true, nil
}

// HasRoles reports whether the user is assigned every role in roles.
func (o *Oracle) HasRoles(ctx context.Context, userID int64, roles []string) (bool, error) {
	assigned, err := o.source.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if !slices.Contains(assigned, r) {
			return false, nil
		}
	}
	return true, nil
}
