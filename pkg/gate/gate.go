// Package gate classifies inbound requests as unauthenticated,
// authenticated, forbidden, or authorized, and wraps protected handlers
// with exactly one authorization policy.
//
// The gate never establishes a login session itself; it only reads what a
// prior login wrote. The one exception is the API key path, which creates a
// session on the fly to carry the resolved identity to the handler through
// the same store the cookie path uses.
package gate

import (
	"context"
	"net/http"

	"github.com/tomewiki/tome/pkg/contextkeys"
	"github.com/tomewiki/tome/pkg/httputil"
	"github.com/tomewiki/tome/pkg/observability"
	"github.com/tomewiki/tome/pkg/roles"
	"github.com/tomewiki/tome/pkg/session"
	"github.com/tomewiki/tome/pkg/users"
)

// Terminal response messages. API consumers match on these strings; do not
// reword them.
const (
	MsgAuthRequired   = "Authentication required"
	MsgSessionExpired = "Session expired"
	MsgAPIKeyRequired = "API key required"
	MsgInvalidAPIKey  = "Invalid API key"
	MsgAdminRequired  = "Admin access required"
)

// UserSource is the slice of the user directory the gate needs
type UserSource interface {
	GetByID(ctx context.Context, userID string) (*users.User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*users.User, error)
}

// RoleSource is the slice of the role directory the gate needs
type RoleSource interface {
	GetByName(ctx context.Context, name string) (*roles.Role, error)
}

// SessionStore is the slice of the session store the gate needs;
// *session.Store satisfies it.
type SessionStore interface {
	SessionID(r *http.Request) (string, bool)
	GetOrCreate(w http.ResponseWriter, r *http.Request) string
	Get(ctx context.Context, sessionID, key string) (string, error)
	SetAll(ctx context.Context, sessionID string, values map[string]string) error
	ClearIdentity(ctx context.Context, sessionID string) error
}

// Identity is the resolved caller identity attached to the request context
type Identity struct {
	// UserID is the cookie-session user id; empty on the API key path
	UserID string
	// APIUserID is the API-key-derived user id; empty on the cookie path
	APIUserID string
	Username  string
	RoleID    string
	// SessionID is the session carrying this identity
	SessionID string
	// User is set when the record was loaded from the directory during
	// this request. It stays nil when the session's cached identity was
	// trusted instead.
	User *users.User
}

// ResolvedUserID returns the cookie-session user id, falling back to the
// API-key-derived id
func (id *Identity) ResolvedUserID() string {
	if id.UserID != "" {
		return id.UserID
	}
	return id.APIUserID
}

// Config wires the gate's collaborators
type Config struct {
	Sessions SessionStore
	Users    UserSource
	Roles    RoleSource
	Defaults *roles.Defaults
	// APIKeyHeader is the request header carrying the API key,
	// conventionally X-API-Key
	APIKeyHeader string
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// Gate wraps protected handlers with authorization policies
type Gate struct {
	cfg Config
}

// New creates a gate
func New(cfg Config) *Gate {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	return &Gate{cfg: cfg}
}

// Wrap runs one policy before the handler. When the policy produces a
// terminal response it is written verbatim and the handler never runs;
// otherwise the handler's own response passes through unchanged.
func (g *Gate) Wrap(policy Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch policy.kind {
		case kindRequireAuth:
			g.requireAuth(policy, w, r, next, nil)
		case kindOptionalAuth:
			g.optionalAuth(w, r, next)
		case kindRequireAdmin:
			g.requireAuth(policy, w, r, next, g.adminCheck)
		case kindRequireRole:
			g.requireAuth(policy, w, r, next, g.roleCheck(policy.roleName))
		case kindRequireAPIKey:
			g.requireAPIKey(policy, w, r, next)
		}
	})
}

// WrapFunc is Wrap for plain handler functions
func (g *Gate) WrapFunc(policy Policy, next http.HandlerFunc) http.Handler {
	return g.Wrap(policy, next)
}

// roleGuard is the second stage of require_admin / require_role. It returns
// true when the request may proceed, and writes the 403 itself otherwise.
type roleGuard func(w http.ResponseWriter, r *http.Request, policy Policy, ident *Identity) bool

func (g *Gate) requireAuth(policy Policy, w http.ResponseWriter, r *http.Request, next http.Handler, guard roleGuard) {
	ident, terminal := g.resolveSession(w, r, policy)
	if terminal {
		return
	}
	if ident == nil {
		g.reject(w, policy, "unauthenticated", http.StatusUnauthorized, MsgAuthRequired)
		return
	}

	if guard != nil && !guard(w, r, policy, ident) {
		return
	}

	g.observe(policy, "pass")
	next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
}

func (g *Gate) optionalAuth(w http.ResponseWriter, r *http.Request, next http.Handler) {
	policy := OptionalAuth()
	ident, _ := g.resolveSession(w, r, policy)

	g.observe(policy, "pass")
	if ident == nil {
		next.ServeHTTP(w, r)
		return
	}
	next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
}

// resolveSession returns the session identity, or (nil, false) when the
// request is unauthenticated, or (nil, true) when a terminal response was
// already written. Optional policies never produce a terminal response.
func (g *Gate) resolveSession(w http.ResponseWriter, r *http.Request, policy Policy) (*Identity, bool) {
	ctx := r.Context()
	optional := policy.kind == kindOptionalAuth

	sid, ok := g.cfg.Sessions.SessionID(r)
	if !ok {
		return nil, false
	}

	userID, err := g.cfg.Sessions.Get(ctx, sid, session.KeyUserID)
	if err != nil {
		g.fail(w, policy, err)
		return nil, true
	}
	if userID == "" {
		return nil, false
	}

	username, err := g.cfg.Sessions.Get(ctx, sid, session.KeyUsername)
	if err != nil {
		g.fail(w, policy, err)
		return nil, true
	}

	// A cached username means the record was already loaded and validated
	// this session; trust the session's copy of the identity.
	if username != "" {
		roleID, err := g.cfg.Sessions.Get(ctx, sid, session.KeyRoleID)
		if err != nil {
			g.fail(w, policy, err)
			return nil, true
		}
		return &Identity{UserID: userID, Username: username, RoleID: roleID, SessionID: sid}, false
	}

	user, err := g.cfg.Users.GetByID(ctx, userID)
	if err != nil {
		g.fail(w, policy, err)
		return nil, true
	}

	if user == nil || !user.IsActive {
		// The cached id no longer resolves to a live user; drop the stale
		// identity. Optional policies still fall through unauthenticated.
		if err := g.cfg.Sessions.ClearIdentity(ctx, sid); err != nil {
			g.logger().WithError(err).Warn("failed to clear stale session")
		}
		if optional {
			return nil, false
		}
		g.reject(w, policy, "expired", http.StatusUnauthorized, MsgSessionExpired)
		return nil, true
	}

	cache := map[string]string{
		session.KeyUsername: user.Username,
		session.KeyRoleID:   user.RoleID,
	}
	if err := g.cfg.Sessions.SetAll(ctx, sid, cache); err != nil {
		g.logger().WithError(err).Warn("failed to cache session identity")
	}

	return &Identity{
		UserID:    user.ID,
		Username:  user.Username,
		RoleID:    user.RoleID,
		SessionID: sid,
		User:      user,
	}, false
}

func (g *Gate) adminCheck(w http.ResponseWriter, r *http.Request, policy Policy, ident *Identity) bool {
	if !g.cfg.Defaults.IsAdmin(ident.RoleID) {
		g.reject(w, policy, "forbidden", http.StatusForbidden, MsgAdminRequired)
		return false
	}
	return true
}

func (g *Gate) roleCheck(name string) roleGuard {
	return func(w http.ResponseWriter, r *http.Request, policy Policy, ident *Identity) bool {
		forbidden := func() bool {
			g.reject(w, policy, "forbidden", http.StatusForbidden, "Role '"+name+"' required")
			return false
		}

		if ident.RoleID == "" {
			return forbidden()
		}

		role, err := g.cfg.Roles.GetByName(r.Context(), name)
		if err != nil {
			g.fail(w, policy, err)
			return false
		}
		if role == nil || role.ID != ident.RoleID {
			return forbidden()
		}
		return true
	}
}

func (g *Gate) requireAPIKey(policy Policy, w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	apiKey := r.Header.Get(g.cfg.APIKeyHeader)
	if apiKey == "" {
		g.reject(w, policy, "missing_key", http.StatusUnauthorized, MsgAPIKeyRequired)
		return
	}

	user, err := g.cfg.Users.GetByAPIKey(ctx, apiKey)
	if err != nil {
		g.fail(w, policy, err)
		return
	}
	if user == nil {
		g.reject(w, policy, "invalid_key", http.StatusUnauthorized, MsgInvalidAPIKey)
		return
	}

	// Carry the resolved identity to the handler through a session, the
	// same storage the cookie path uses.
	sid := g.cfg.Sessions.GetOrCreate(w, r)
	err = g.cfg.Sessions.SetAll(ctx, sid, map[string]string{
		session.KeyAPIUserID:   user.ID,
		session.KeyAPIUsername: user.Username,
		session.KeyAPIRoleID:   user.RoleID,
	})
	if err != nil {
		g.fail(w, policy, err)
		return
	}

	ident := &Identity{
		APIUserID: user.ID,
		Username:  user.Username,
		RoleID:    user.RoleID,
		SessionID: sid,
		User:      user,
	}

	g.observe(policy, "pass")
	next.ServeHTTP(w, r.WithContext(withIdentity(ctx, ident)))
}

func (g *Gate) reject(w http.ResponseWriter, policy Policy, outcome string, status int, message string) {
	g.observe(policy, outcome)
	httputil.WriteError(w, status, message)
}

func (g *Gate) fail(w http.ResponseWriter, policy Policy, err error) {
	g.logger().WithError(err).WithField("policy", policy.String()).Error("gate store failure")
	g.observe(policy, "error")
	httputil.WriteInternalError(w, err)
}

func (g *Gate) observe(policy Policy, outcome string) {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.GateDecisionsTotal.WithLabelValues(policy.String(), outcome).Inc()
	}
}

func (g *Gate) logger() *observability.Logger {
	if g.cfg.Logger != nil {
		return g.cfg.Logger
	}
	return observability.NewLogger(observability.InfoLevel, nil)
}

func withIdentity(ctx context.Context, ident *Identity) context.Context {
	if ident.SessionID != "" {
		ctx = contextkeys.WithSessionID(ctx, ident.SessionID)
	}
	return contextkeys.WithCurrentUser(ctx, ident)
}

// CurrentIdentity returns the identity the gate attached to the request, or
// nil for unauthenticated requests
func CurrentIdentity(r *http.Request) *Identity {
	ident, ok := r.Context().Value(contextkeys.CurrentUserKey).(*Identity)
	if !ok {
		return nil
	}
	return ident
}

// CurrentUser returns the user record loaded by the gate for this request,
// or nil when no record was loaded
func CurrentUser(r *http.Request) *users.User {
	ident := CurrentIdentity(r)
	if ident == nil {
		return nil
	}
	return ident.User
}

// CurrentUserID returns the authenticated user id, preferring the cookie
// session's user_id and falling back to the api-key-derived api_user_id
func CurrentUserID(r *http.Request) string {
	ident := CurrentIdentity(r)
	if ident == nil {
		return ""
	}
	return ident.ResolvedUserID()
}
