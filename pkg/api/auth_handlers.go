package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tomewiki/tome/pkg/contextkeys"
	"github.com/tomewiki/tome/pkg/credentials"
	"github.com/tomewiki/tome/pkg/gate"
	"github.com/tomewiki/tome/pkg/httputil"
	"github.com/tomewiki/tome/pkg/observability"
	"github.com/tomewiki/tome/pkg/session"
	"github.com/tomewiki/tome/pkg/users"
)

// AuthHandlers handles login, logout, and self-service credential requests
type AuthHandlers struct {
	sessions *session.Store
	users    *users.Store
	hasher   *credentials.Hasher
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(sessions *session.Store, userStore *users.Store, hasher *credentials.Hasher, logger *observability.Logger, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{
		sessions: sessions,
		users:    userStore,
		hasher:   hasher,
		logger:   logger,
		metrics:  metrics,
	}
}

func (h *AuthHandlers) observeAuthAttempt(result string) {
	if h.metrics != nil {
		h.metrics.AuthAttemptsTotal.WithLabelValues("password", result).Inc()
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, g *gate.Gate) {
	router.HandleFunc("/auth/login", h.login).Methods("POST")
	router.Handle("/auth/logout", g.WrapFunc(gate.RequireAuth(), h.logout)).Methods("POST")
	router.Handle("/auth/me", g.WrapFunc(gate.RequireAuth(), h.me)).Methods("GET")
	router.Handle("/auth/apikey", g.WrapFunc(gate.RequireAuth(), h.regenerateAPIKey)).Methods("POST")
	router.Handle("/auth/password", g.WrapFunc(gate.RequireAuth(), h.changePassword)).Methods("POST")
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		h.observeAuthAttempt("failure")
		h.logger.WithField("username", req.Username).Info("login rejected")
		httputil.WriteUnauthorized(w, "Invalid username or password")
		return
	}

	sid := h.sessions.GetOrCreate(w, r)
	err = h.sessions.SetAll(ctx, sid, map[string]string{
		session.KeyUserID:   user.ID,
		session.KeyUsername: user.Username,
		session.KeyRoleID:   user.RoleID,
	})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.observeAuthAttempt("success")
	h.logger.WithField("username", user.Username).Info("login succeeded")
	httputil.WriteSuccess(w, user.Safe())
}

// logout handles POST /auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	sid := contextkeys.GetSessionID(r.Context())
	if sid == "" {
		sid, _ = h.sessions.SessionID(r)
	}
	if sid != "" {
		if err := h.sessions.Destroy(r.Context(), sid); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}
	http.SetCookie(w, h.sessions.ExpireCookie())
	httputil.WriteSuccess(w, map[string]string{"status": "logged out"})
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ident := gate.CurrentIdentity(r)

	// The gate trusts a cached session identity without loading the record,
	// so fetch the full row here.
	user := ident.User
	if user == nil {
		var err error
		user, err = h.users.GetByID(r.Context(), ident.ResolvedUserID())
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if user == nil {
			httputil.WriteUnauthorized(w, gate.MsgSessionExpired)
			return
		}
	}

	httputil.WriteSuccess(w, user.Safe())
}

// regenerateAPIKey handles POST /auth/apikey, rotating the caller's own key
func (h *AuthHandlers) regenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID := gate.CurrentUserID(r)

	key, err := h.users.RegenerateAPIKey(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if key == "" {
		httputil.WriteUnauthorized(w, gate.MsgSessionExpired)
		return
	}

	h.logger.WithField("user_id", userID).Info("api key rotated")
	httputil.WriteSuccess(w, map[string]string{"api_key": key})
}

// changePassword handles POST /auth/password. The current password is
// re-verified even though the caller holds a session.
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.WriteBadRequest(w, "current_password and new_password are required")
		return
	}

	ctx := r.Context()
	userID := gate.CurrentUserID(r)

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		httputil.WriteUnauthorized(w, gate.MsgSessionExpired)
		return
	}
	if !h.hasher.Verify(user.PasswordHash, req.CurrentPassword) {
		httputil.WriteUnauthorized(w, "Invalid username or password")
		return
	}

	hash, err := h.hasher.Hash(req.NewPassword)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if _, err := h.users.Update(ctx, userID, users.Update{PasswordHash: &hash}); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithField("user_id", userID).Info("password changed")
	httputil.WriteSuccess(w, map[string]string{"status": "password changed"})
}
