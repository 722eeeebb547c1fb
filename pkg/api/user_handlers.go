package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tomewiki/tome/pkg/credentials"
	"github.com/tomewiki/tome/pkg/gate"
	"github.com/tomewiki/tome/pkg/httputil"
	"github.com/tomewiki/tome/pkg/observability"
	"github.com/tomewiki/tome/pkg/roles"
	"github.com/tomewiki/tome/pkg/users"
)

const defaultListLimit = 100

// UserHandlers handles admin user management requests
type UserHandlers struct {
	users    *users.Store
	roles    *roles.Store
	defaults *roles.Defaults
	hasher   *credentials.Hasher
	logger   *observability.Logger
}

// NewUserHandlers creates a new user handlers instance
func NewUserHandlers(userStore *users.Store, roleStore *roles.Store, defaults *roles.Defaults, hasher *credentials.Hasher, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{users: userStore, roles: roleStore, defaults: defaults, hasher: hasher, logger: logger}
}

// RegisterRoutes registers user management routes, all admin-only
func (h *UserHandlers) RegisterRoutes(router *mux.Router, g *gate.Gate) {
	router.Handle("/users", g.WrapFunc(gate.RequireAdmin(), h.listUsers)).Methods("GET")
	router.Handle("/users", g.WrapFunc(gate.RequireAdmin(), h.createUser)).Methods("POST")
	router.Handle("/users/{id}", g.WrapFunc(gate.RequireAdmin(), h.getUser)).Methods("GET")
	router.Handle("/users/{id}", g.WrapFunc(gate.RequireAdmin(), h.updateUser)).Methods("PUT")
	router.Handle("/users/{id}", g.WrapFunc(gate.RequireAdmin(), h.deleteUser)).Methods("DELETE")
}

// listUsers handles GET /users
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultListLimit)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}

	list, err := h.users.List(r.Context(), limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createUser handles POST /users
func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		RoleName string `json:"role_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username, email and password are required")
		return
	}

	ctx := r.Context()

	// New users get the default role unless one is named.
	roleID := h.defaults.DefaultRoleID
	if req.RoleName != "" {
		role, err := h.roles.GetByName(ctx, req.RoleName)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if role == nil {
			httputil.WriteBadRequest(w, "unknown role: "+req.RoleName)
			return
		}
		roleID = role.ID
	}

	user, err := h.users.Create(ctx, req.Username, req.Email, req.Password, roleID)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrDuplicateUsername):
			httputil.WriteConflict(w, "username already taken")
		case errors.Is(err, users.ErrDuplicateEmail):
			httputil.WriteConflict(w, "email already registered")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	h.logger.WithField("username", user.Username).Info("user created")
	httputil.WriteCreated(w, user.Safe())
}

// getUser handles GET /users/{id}
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetPathVars(r)["id"]

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		httputil.WriteNotFound(w, "user not found")
		return
	}
	httputil.WriteSuccess(w, user.Safe())
}

// updateUser handles PUT /users/{id}. Usernames are immutable and the API
// key only changes through rotation, so neither is accepted here.
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetPathVars(r)["id"]

	var req struct {
		Email    *string `json:"email"`
		Password *string `json:"password"`
		RoleName *string `json:"role_name"`
		IsActive *bool   `json:"is_active"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	upd := users.Update{Email: req.Email, IsActive: req.IsActive}

	if req.Password != nil {
		hash, err := h.hasher.Hash(*req.Password)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		upd.PasswordHash = &hash
	}

	if req.RoleName != nil {
		role, err := h.roles.GetByName(ctx, *req.RoleName)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if role == nil {
			httputil.WriteBadRequest(w, "unknown role: "+*req.RoleName)
			return
		}
		upd.RoleID = &role.ID
	}

	user, err := h.users.Update(ctx, userID, upd)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			httputil.WriteConflict(w, "email already registered")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		httputil.WriteNotFound(w, "user not found")
		return
	}

	httputil.WriteSuccess(w, user.Safe())
}

// deleteUser handles DELETE /users/{id}. Deletion is a soft deactivate; the
// record and its history survive.
func (h *UserHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetPathVars(r)["id"]

	if gate.CurrentUserID(r) == userID {
		httputil.WriteBadRequest(w, "cannot deactivate your own account")
		return
	}

	user, err := h.users.Deactivate(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		httputil.WriteNotFound(w, "user not found")
		return
	}

	h.logger.WithField("user_id", userID).Info("user deactivated")
	httputil.WriteNoContent(w)
}
