package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tomewiki/tome/pkg/gate"
	"github.com/tomewiki/tome/pkg/httputil"
	"github.com/tomewiki/tome/pkg/observability"
	"github.com/tomewiki/tome/pkg/roles"
)

// RoleHandlers handles admin role management requests
type RoleHandlers struct {
	roles    *roles.Store
	defaults *roles.Defaults
	logger   *observability.Logger
}

// NewRoleHandlers creates a new role handlers instance
func NewRoleHandlers(roleStore *roles.Store, defaults *roles.Defaults, logger *observability.Logger) *RoleHandlers {
	return &RoleHandlers{roles: roleStore, defaults: defaults, logger: logger}
}

// RegisterRoutes registers role management routes, all admin-only
func (h *RoleHandlers) RegisterRoutes(router *mux.Router, g *gate.Gate) {
	router.Handle("/roles", g.WrapFunc(gate.RequireAdmin(), h.listRoles)).Methods("GET")
	router.Handle("/roles", g.WrapFunc(gate.RequireAdmin(), h.createRole)).Methods("POST")
	router.Handle("/roles/{id}", g.WrapFunc(gate.RequireAdmin(), h.getRole)).Methods("GET")
	router.Handle("/roles/{id}", g.WrapFunc(gate.RequireAdmin(), h.updateRole)).Methods("PUT")
	router.Handle("/roles/{id}", g.WrapFunc(gate.RequireAdmin(), h.deleteRole)).Methods("DELETE")
}

// listRoles handles GET /roles
func (h *RoleHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	list, err := h.roles.List(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createRole handles POST /roles
func (h *RoleHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"role_name"`
		Permissions []string `json:"permissions"`
		Description string   `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "role_name is required")
		return
	}

	role, err := h.roles.Create(r.Context(), req.Name, req.Permissions, req.Description)
	if err != nil {
		if errors.Is(err, roles.ErrDuplicateName) {
			httputil.WriteConflict(w, "role name already taken")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithField("role_name", role.Name).Info("role created")
	httputil.WriteCreated(w, role)
}

// getRole handles GET /roles/{id}
func (h *RoleHandlers) getRole(w http.ResponseWriter, r *http.Request) {
	roleID := httputil.GetPathVars(r)["id"]

	role, err := h.roles.GetByID(r.Context(), roleID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if role == nil {
		httputil.WriteNotFound(w, "role not found")
		return
	}
	httputil.WriteSuccess(w, role)
}

// updateRole handles PUT /roles/{id}. Role names are immutable; only the
// permission set changes.
func (h *RoleHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID := httputil.GetPathVars(r)["id"]

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions == nil {
		httputil.WriteBadRequest(w, "permissions is required")
		return
	}

	ctx := r.Context()
	if err := h.roles.UpdatePermissions(ctx, roleID, req.Permissions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.WriteNotFound(w, "role not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	role, err := h.roles.GetByID(ctx, roleID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /roles/{id}. Built-in roles cannot be deleted;
// the admin and default role ids are load-bearing for the gate.
func (h *RoleHandlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := httputil.GetPathVars(r)["id"]

	if roleID == h.defaults.AdminRoleID || roleID == h.defaults.DefaultRoleID {
		httputil.WriteBadRequest(w, "built-in roles cannot be deleted")
		return
	}

	ctx := r.Context()
	role, err := h.roles.GetByID(ctx, roleID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if role == nil {
		httputil.WriteNotFound(w, "role not found")
		return
	}
	if role.Name == roles.RoleViewer {
		httputil.WriteBadRequest(w, "built-in roles cannot be deleted")
		return
	}

	if err := h.roles.Delete(ctx, roleID); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithField("role_name", role.Name).Info("role deleted")
	httputil.WriteNoContent(w)
}
