package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
	"github.com/platinummonkey/flock/pkg/paging"
)

// Permission modules guarding the RBAC administration routes
const (
	ModuleRoleManagement       = "ROLE_MANAGEMENT"
	ModulePermissionManagement = "PERMISSION_MANAGEMENT"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	manager  *Manager
	resolver *Resolver
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager, resolver: manager.Resolver()}
}

// RegisterRoutes registers all RBAC routes. When guard is non-nil each
// route requires the matching ROLE_MANAGEMENT or PERMISSION_MANAGEMENT
// permission.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard *PermissionMiddleware) {
	handle := func(path, method, module, action string, fn http.HandlerFunc) {
		var handler http.Handler = fn
		if guard != nil {
			handler = guard.RequirePermission(module, action)(handler)
		}
		router.Handle(path, handler).Methods(method)
	}
	const (
		roles = ModuleRoleManagement
		perms = ModulePermissionManagement
	)

	// Roles
	handle("/rbac/roles", http.MethodPost, roles, "CREATE", h.CreateRole)
	handle("/rbac/roles", http.MethodGet, roles, "READ", h.ListRoles)
	handle("/rbac/roles/hierarchy", http.MethodGet, roles, "READ", h.GetRoleHierarchy)
	handle("/rbac/roles/{id}", http.MethodGet, roles, "READ", h.GetRole)
	handle("/rbac/roles/{id}", http.MethodPut, roles, "UPDATE", h.UpdateRole)
	handle("/rbac/roles/{id}", http.MethodDelete, roles, "DELETE", h.DeleteRole)
	handle("/rbac/roles/{id}/restore", http.MethodPost, roles, "UPDATE", h.RestoreRole)
	handle("/rbac/roles/{id}/bulk-assign", http.MethodPost, roles, "UPDATE", h.BulkAssignRole)

	// Role permission grants
	handle("/rbac/roles/{id}/permissions", http.MethodPost, perms, "UPDATE", h.AssignPermissions)
	handle("/rbac/roles/{id}/permissions", http.MethodDelete, perms, "UPDATE", h.RemovePermissions)
	handle("/rbac/roles/{id}/permissions/{permissionId}", http.MethodPut, perms, "UPDATE", h.UpdateGrant)

	// Permissions
	handle("/rbac/permissions", http.MethodPost, perms, "CREATE", h.CreatePermissions)
	handle("/rbac/permissions", http.MethodGet, perms, "READ", h.ListPermissions)
	handle("/rbac/permissions/{id}", http.MethodPut, perms, "UPDATE", h.UpdatePermission)

	// User role assignments
	handle("/rbac/users/{userId}/roles", http.MethodPost, roles, "UPDATE", h.AssignRole)
	handle("/rbac/users/{userId}/roles", http.MethodGet, roles, "READ", h.ListUserRoles)
	handle("/rbac/users/{userId}/roles/{roleId}", http.MethodPut, roles, "UPDATE", h.UpdateAssignment)
	handle("/rbac/users/{userId}/roles/{roleId}", http.MethodDelete, roles, "UPDATE", h.UnassignRole)

	// User permission overrides
	handle("/rbac/users/{userId}/overrides", http.MethodPost, perms, "UPDATE", h.CreateOverride)
	handle("/rbac/users/{userId}/overrides/bulk", http.MethodPost, perms, "UPDATE", h.BulkCreateOverrides)
	handle("/rbac/users/{userId}/overrides/{permissionId}", http.MethodPut, perms, "UPDATE", h.UpdateOverride)
	handle("/rbac/users/{userId}/overrides/{permissionId}", http.MethodDelete, perms, "UPDATE", h.RemoveOverride)

	// Effective permissions
	handle("/rbac/users/{userId}/permissions", http.MethodGet, perms, "READ", h.GetEffectivePermissions)
}

// CreateRole handles POST /rbac/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	role, err := h.manager.CreateRole(ctx, contextkeys.GetTenantID(ctx), req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Role created successfully", role)
}

// ListRoles handles GET /rbac/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := RoleFilter{
		Name: httputil.ParseQueryString(r, "name", httputil.ParseQueryString(r, "search", "")),
		Code: httputil.ParseQueryString(r, "code", ""),
	}
	if filter.IsActive, err = httputil.ParseQueryBoolPtr(r, "isActive"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.IsSystem, err = httputil.ParseQueryBoolPtr(r, "isSystem"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.IncludeDeleted, err = httputil.ParseQueryBool(r, "includeDeleted", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if raw := httputil.ParseQueryString(r, "hierarchyLevel", ""); raw != "" {
		level, err := httputil.ParseQueryInt(r, "hierarchyLevel", 0)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		filter.HierarchyLevel = &level
	}
	sort := paging.ParseSort(httputil.ParseQueryString(r, "sort", ""), paging.Sort{Field: "createdAt"})

	ctx := r.Context()
	result, err := h.manager.ListRoles(ctx, contextkeys.GetTenantID(ctx), filter, page, sort)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WritePage(w, "Roles retrieved successfully", result.Items, result.Pagination)
}

// GetRoleHierarchy handles GET /rbac/roles/hierarchy
func (h *Handlers) GetRoleHierarchy(w http.ResponseWriter, r *http.Request) {
	var (
		q   HierarchyQuery
		err error
	)
	if q.IncludeInactive, err = httputil.ParseQueryBool(r, "includeInactive", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if q.IncludeSystem, err = httputil.ParseQueryBool(r, "includeSystem", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	ctx := r.Context()
	roles, err := h.resolver.GetRoleHierarchy(ctx, contextkeys.GetTenantID(ctx), q)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role hierarchy retrieved successfully", roles)
}

// GetRole handles GET /rbac/roles/{id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	role, err := h.manager.GetRole(ctx, contextkeys.GetTenantID(ctx), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role retrieved successfully", role)
}

// UpdateRole handles PUT /rbac/roles/{id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	role, err := h.manager.UpdateRole(ctx, contextkeys.GetTenantID(ctx), id, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role updated successfully", role)
}

// DeleteRole handles DELETE /rbac/roles/{id}. The body is optional; the
// deleting user defaults to the caller.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req DeleteRoleInput
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.DeletedByID == "" {
		req.DeletedByID = contextkeys.GetUserID(ctx)
	}
	role, err := h.manager.DeleteRole(ctx, contextkeys.GetTenantID(ctx), id, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role deleted successfully and related assignments deactivated", role)
}

// RestoreRole handles POST /rbac/roles/{id}/restore
func (h *Handlers) RestoreRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	role, err := h.manager.RestoreRole(ctx, contextkeys.GetTenantID(ctx), id, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role restored successfully", role)
}

// BulkAssignRole handles POST /rbac/roles/{id}/bulk-assign
func (h *Handlers) BulkAssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req BulkAssignInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	reports, err := h.manager.BulkAssignRole(ctx, contextkeys.GetTenantID(ctx), id, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Bulk role assignment processed", reports)
}

// AssignPermissions handles POST /rbac/roles/{id}/permissions
func (h *Handlers) AssignPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req AssignPermissionsInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	reports, err := h.manager.AssignPermissions(ctx, contextkeys.GetTenantID(ctx), id, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Permissions assigned to role successfully", reports)
}

// RemovePermissions handles DELETE /rbac/roles/{id}/permissions
func (h *Handlers) RemovePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		PermissionIDs []string `json:"permissionIds"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	n, err := h.manager.RemovePermissions(ctx, contextkeys.GetTenantID(ctx), id, req.PermissionIDs)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Permissions removed from role successfully", map[string]int64{"removed": n})
}

// UpdateGrant handles PUT /rbac/roles/{id}/permissions/{permissionId}
func (h *Handlers) UpdateGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathStringOrError(w, r, "permissionId")
	if !ok {
		return
	}
	var req GrantPatch
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	g, err := h.manager.UpdateGrant(ctx, contextkeys.GetTenantID(ctx), id, permissionID, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role permission scope updated successfully", g)
}

// CreatePermissions handles POST /rbac/permissions
func (h *Handlers) CreatePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data []PermissionInput `json:"data"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		httputil.WriteError(w, r, apperr.Validation("At least one permission is required"))
		return
	}
	created, err := h.manager.CreatePermissions(r.Context(), req.Data)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Permissions created successfully", created)
}

// ListPermissions handles GET /rbac/permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := PermissionFilter{
		Module: httputil.ParseQueryString(r, "module", ""),
		Action: httputil.ParseQueryString(r, "action", ""),
	}
	if filter.IsActive, err = httputil.ParseQueryBoolPtr(r, "isActive"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	result, err := h.manager.ListPermissions(r.Context(), filter, page)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WritePage(w, "Permissions retrieved successfully", result.Items, result.Pagination)
}

// UpdatePermission handles PUT /rbac/permissions/{id}
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdatePermissionInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	p, err := h.manager.UpdatePermission(r.Context(), id, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Permission updated successfully", p)
}

// AssignRole handles POST /rbac/users/{userId}/roles
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	var req AssignRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.UserID = userID
	ctx := r.Context()
	a, err := h.manager.AssignRole(ctx, contextkeys.GetTenantID(ctx), req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Role assigned to user successfully", a)
}

// ListUserRoles handles GET /rbac/users/{userId}/roles
func (h *Handlers) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	ctx := r.Context()
	assignments, err := h.manager.ListUserRoles(ctx, contextkeys.GetTenantID(ctx), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "User roles retrieved successfully", assignments)
}

// UpdateAssignment handles PUT /rbac/users/{userId}/roles/{roleId}
func (h *Handlers) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	var req AssignmentPatch
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	a, err := h.manager.UpdateAssignment(ctx, contextkeys.GetTenantID(ctx), userID, roleID, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "User role assignment updated successfully", a)
}

// UnassignRole handles DELETE /rbac/users/{userId}/roles/{roleId}
func (h *Handlers) UnassignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.manager.UnassignRole(ctx, contextkeys.GetTenantID(ctx), userID, roleID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Role unassigned from user successfully", nil)
}

// CreateOverride handles POST /rbac/users/{userId}/overrides
func (h *Handlers) CreateOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	var req OverrideInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.UserID = userID
	ctx := r.Context()
	o, err := h.manager.CreateOverride(ctx, contextkeys.GetTenantID(ctx), req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "User permission override created successfully", o)
}

// BulkCreateOverrides handles POST /rbac/users/{userId}/overrides/bulk
func (h *Handlers) BulkCreateOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	var req BulkOverrideInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	reports, err := h.manager.BulkCreateOverrides(ctx, contextkeys.GetTenantID(ctx), userID, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Bulk permission overrides processed", reports)
}

// UpdateOverride handles PUT /rbac/users/{userId}/overrides/{permissionId}
func (h *Handlers) UpdateOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathStringOrError(w, r, "permissionId")
	if !ok {
		return
	}
	var req OverridePatch
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	o, err := h.manager.UpdateOverride(ctx, contextkeys.GetTenantID(ctx), userID, permissionID, req, contextkeys.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "User permission override updated successfully", o)
}

// RemoveOverride handles DELETE /rbac/users/{userId}/overrides/{permissionId}
func (h *Handlers) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathStringOrError(w, r, "permissionId")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.manager.RemoveOverride(ctx, contextkeys.GetTenantID(ctx), userID, permissionID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "User permission override removed successfully", nil)
}

// GetEffectivePermissions handles GET /rbac/users/{userId}/permissions
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	var (
		q   EffectiveQuery
		err error
	)
	if q.IncludeInactive, err = httputil.ParseQueryBool(r, "includeInactive", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if q.IncludeExpired, err = httputil.ParseQueryBool(r, "includeExpired", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	q.Module = httputil.ParseQueryString(r, "module", "")

	ctx := r.Context()
	perms, err := h.resolver.GetEffectivePermissions(ctx, contextkeys.GetTenantID(ctx), userID, q)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Effective permissions retrieved successfully", perms)
}
