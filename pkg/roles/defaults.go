package roles

import (
	"context"
	"fmt"
)

// Defaults holds the identifiers of the well-known roles, resolved once at
// process start. Callers receive this value explicitly instead of re-querying
// the by-name index on every request.
type Defaults struct {
	// DefaultRoleID is the editor role, assigned to new users when the
	// caller omits a role.
	DefaultRoleID string
	// AdminRoleID identifies the admin role. Admin status is an identity
	// check against this id, not a permission lookup.
	AdminRoleID string
}

// ResolveDefaults looks up the built-in roles by name. It is a bring-up
// error for either to be missing; run InitDefaults first.
func ResolveDefaults(ctx context.Context, store *Store) (*Defaults, error) {
	editor, err := store.GetByName(ctx, RoleEditor)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default role: %w", err)
	}
	if editor == nil {
		return nil, fmt.Errorf("built-in role %q is missing; bootstrap did not run", RoleEditor)
	}

	admin, err := store.GetByName(ctx, RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve admin role: %w", err)
	}
	if admin == nil {
		return nil, fmt.Errorf("built-in role %q is missing; bootstrap did not run", RoleAdmin)
	}

	return &Defaults{
		DefaultRoleID: editor.ID,
		AdminRoleID:   admin.ID,
	}, nil
}

// IsAdmin reports whether roleID is the admin role
func (d *Defaults) IsAdmin(roleID string) bool {
	return roleID != "" && roleID == d.AdminRoleID
}
