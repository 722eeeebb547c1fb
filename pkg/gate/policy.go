package gate

import "fmt"

// policyKind enumerates the closed set of authorization policies. A policy
// is a tagged variant rather than an options bag, so a handler carries
// exactly one policy and invalid combinations cannot be expressed.
type policyKind int

const (
	kindRequireAuth policyKind = iota
	kindOptionalAuth
	kindRequireAdmin
	kindRequireRole
	kindRequireAPIKey
)

// Policy selects how a wrapped handler is protected
type Policy struct {
	kind     policyKind
	roleName string // payload for RequireRole
}

// RequireAuth demands an authenticated session
func RequireAuth() Policy {
	return Policy{kind: kindRequireAuth}
}

// OptionalAuth loads the session identity when present but never
// short-circuits
func OptionalAuth() Policy {
	return Policy{kind: kindOptionalAuth}
}

// RequireAdmin demands an authenticated session whose role is the admin
// role. Admin status is an identity check against the admin role id, not a
// permission lookup.
func RequireAdmin() Policy {
	return Policy{kind: kindRequireAdmin}
}

// RequireRole demands an authenticated session whose role has the given
// name. The comparison is by role name, not by permission.
func RequireRole(name string) Policy {
	return Policy{kind: kindRequireRole, roleName: name}
}

// RequireAPIKey authenticates the request by the API key header instead of
// a login session
func RequireAPIKey() Policy {
	return Policy{kind: kindRequireAPIKey}
}

// String names the policy for logs and metrics
func (p Policy) String() string {
	switch p.kind {
	case kindRequireAuth:
		return "require_auth"
	case kindOptionalAuth:
		return "optional_auth"
	case kindRequireAdmin:
		return "require_admin"
	case kindRequireRole:
		return fmt.Sprintf("require_role:%s", p.roleName)
	case kindRequireAPIKey:
		return "require_api_key"
	default:
		return "unknown"
	}
}
