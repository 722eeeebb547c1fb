package roles

// Permission strings are colon-delimited capability tags checked for set
// membership.
const (
	PermPageRead    = "page:read"
	PermPageWrite   = "page:write"
	PermPageDelete  = "page:delete"
	PermUploadWrite = "upload:write"
	PermUserManage  = "user:manage"
	PermRoleManage  = "role:manage"
)

// Built-in role names
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Role represents a named permission set
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"role_name"`
	Permissions []string `json:"permissions"`
	Description string   `json:"description"`
	CreatedAt   int64    `json:"created_at"` // milliseconds since epoch
}

// HasPermission reports whether the role's permission set contains perm
func (r *Role) HasPermission(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// builtin describes one of the three well-known roles created at bootstrap
type builtin struct {
	name        string
	permissions []string
	description string
}

// builtinRoles returns the fixed built-in role definitions
func builtinRoles() []builtin {
	return []builtin{
		{
			name: RoleAdmin,
			permissions: []string{
				PermPageRead, PermPageWrite, PermPageDelete,
				PermUploadWrite, PermUserManage, PermRoleManage,
			},
			description: "Full administrative access",
		},
		{
			name: RoleEditor,
			permissions: []string{
				PermPageRead, PermPageWrite, PermPageDelete, PermUploadWrite,
			},
			description: "Can create, edit and delete pages",
		},
		{
			name:        RoleViewer,
			permissions: []string{PermPageRead},
			description: "Read-only access",
		},
	}
}
