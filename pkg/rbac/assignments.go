package rbac

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/observability"
)

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func failed(id string, err error) Report {
	return Report{ID: id, Status: ReportFailed, Reason: apperr.Message(err)}
}

func (m *Manager) requireUser(ctx context.Context, tenantID, userID string) error {
	ok, err := m.store.UserExists(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("User with ID \"%s\" not found", userID)
	}
	return nil
}

// AssignPermissions grants permissions to a role and reports per id.
// A previously deactivated grant is reactivated with the new scope.
func (m *Manager) AssignPermissions(ctx context.Context, tenantID, roleID string, in AssignPermissionsInput, actingUserID string) (reports []Report, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.AssignPermissions",
		attribute.String("tenant_id", tenantID), attribute.String("role_id", roleID))
	defer func() { observability.EndSpan(span, err) }()

	ids := dedupe(in.PermissionIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("At least one permission ID is required")
	}
	for kind, scope := range map[string]string{"branch": in.BranchScope, "department": in.DepartmentScope} {
		if scope == "" {
			continue
		}
		if err := validateScope(kind, &scope); err != nil {
			return nil, err
		}
	}
	now := m.now()
	if err := validateExpiry(in.ExpiresAt, now); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRole(ctx, tenantID, roleID, false); err != nil {
		return nil, err
	}

	reports = make([]Report, 0, len(ids))
	granted := 0
	for _, pid := range ids {
		g, err := m.grant(ctx, roleID, pid, in, actingUserID)
		if err != nil {
			reports = append(reports, failed(pid, err))
			continue
		}
		granted++
		reports = append(reports, Report{ID: pid, Status: ReportSuccess, Data: g})
		audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeGrantAdd, audit.ResourceTypeGrant, g.ID).
			WithTenant(tenantID).
			WithMessage("permission granted to role").
			WithMetadata("roleId", roleID).
			WithMetadata("permissionId", pid))
	}
	if granted > 0 {
		m.resolver.InvalidateTenant(ctx, tenantID)
	}
	return reports, nil
}

func (m *Manager) grant(ctx context.Context, roleID, permissionID string, in AssignPermissionsInput, actingUserID string) (*Grant, error) {
	if _, err := m.store.GetPermission(ctx, permissionID); err != nil {
		return nil, err
	}
	existing, err := m.store.GetGrant(ctx, roleID, permissionID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsActive {
		return nil, apperr.Conflict("Permission is already granted to this role")
	}

	now := m.now()
	g := existing
	if g == nil {
		g = &Grant{ID: uuid.NewString(), RoleID: roleID, PermissionID: permissionID, CreatedAt: now}
	}
	g.BranchScope = scopeOrAll(in.BranchScope)
	g.DepartmentScope = scopeOrAll(in.DepartmentScope)
	g.CustomConditions = in.CustomConditions
	g.GrantedBy = optional(actingUserID)
	g.ExpiresAt = in.ExpiresAt
	g.IsActive = true
	g.UpdatedAt = now

	if existing == nil {
		err = m.store.InsertGrant(ctx, g)
	} else {
		err = m.store.UpdateGrant(ctx, g)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// RemovePermissions deletes grants from a role and returns how many rows
// were removed
func (m *Manager) RemovePermissions(ctx context.Context, tenantID, roleID string, permissionIDs []string) (int64, error) {
	ids := dedupe(permissionIDs)
	if len(ids) == 0 {
		return 0, apperr.Validation("At least one permission ID is required")
	}
	if _, err := m.store.GetRole(ctx, tenantID, roleID, false); err != nil {
		return 0, err
	}
	n, err := m.store.DeleteGrants(ctx, roleID, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.resolver.InvalidateTenant(ctx, tenantID)
	}
	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeGrantRemove, audit.ResourceTypeRole, roleID).
		WithTenant(tenantID).
		WithMessage("permissions removed from role").
		WithMetadata("permissionIds", ids).
		WithMetadata("removed", n))
	return n, nil
}

// UpdateGrant changes the scope, conditions, expiry or activity of one
// role-permission grant
func (m *Manager) UpdateGrant(ctx context.Context, tenantID, roleID, permissionID string, patch GrantPatch, actingUserID string) (*Grant, error) {
	if err := validateScope("branch", patch.BranchScope); err != nil {
		return nil, err
	}
	if err := validateScope("department", patch.DepartmentScope); err != nil {
		return nil, err
	}
	now := m.now()
	if err := validateExpiry(patch.ExpiresAt, now); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRole(ctx, tenantID, roleID, false); err != nil {
		return nil, err
	}
	g, err := m.store.GetGrant(ctx, roleID, permissionID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apperr.NotFound("Role permission not found")
	}
	before := map[string]interface{}{"branchScope": g.BranchScope, "departmentScope": g.DepartmentScope, "isActive": g.IsActive}

	if patch.BranchScope != nil {
		g.BranchScope = normalizeName(*patch.BranchScope)
	}
	if patch.DepartmentScope != nil {
		g.DepartmentScope = normalizeName(*patch.DepartmentScope)
	}
	if patch.CustomConditions != nil {
		g.CustomConditions = patch.CustomConditions
	}
	if patch.ExpiresAt != nil {
		g.ExpiresAt = patch.ExpiresAt
	}
	if patch.IsActive != nil {
		g.IsActive = *patch.IsActive
	}
	if actingUserID != "" {
		g.GrantedBy = &actingUserID
	}
	g.UpdatedAt = now

	if err := m.store.UpdateGrant(ctx, g); err != nil {
		return nil, err
	}
	m.resolver.InvalidateTenant(ctx, tenantID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeGrantUpdate, audit.ResourceTypeGrant, g.ID).
		WithTenant(tenantID).
		WithMessage("role permission scope updated").
		WithChanges(before, map[string]interface{}{"branchScope": g.BranchScope, "departmentScope": g.DepartmentScope, "isActive": g.IsActive}))
	return g, nil
}

// AssignRole gives a user a role of the same tenant. Reassigning a
// deactivated assignment reactivates it.
func (m *Manager) AssignRole(ctx context.Context, tenantID string, in AssignRoleInput, actingUserID string) (a *Assignment, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.AssignRole",
		attribute.String("tenant_id", tenantID), attribute.String("role_id", in.RoleID))
	defer func() { observability.EndSpan(span, err) }()

	if err := validateExpiry(in.ExpiresAt, m.now()); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRole(ctx, tenantID, in.RoleID, false); err != nil {
		return nil, err
	}
	return m.assign(ctx, tenantID, in, actingUserID)
}

func (m *Manager) assign(ctx context.Context, tenantID string, in AssignRoleInput, actingUserID string) (*Assignment, error) {
	if err := m.requireUser(ctx, tenantID, in.UserID); err != nil {
		return nil, err
	}
	existing, err := m.store.GetAssignment(ctx, in.UserID, in.RoleID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsActive {
		return nil, apperr.Conflict("User already has this role")
	}

	now := m.now()
	a := existing
	if a == nil {
		a = &Assignment{ID: uuid.NewString(), UserID: in.UserID, RoleID: in.RoleID, AssignedAt: now}
	}
	a.AssignedBy = optional(actingUserID)
	a.ExpiresAt = in.ExpiresAt
	a.IsActive = in.IsActive == nil || *in.IsActive
	a.UpdatedAt = now

	if existing == nil {
		err = m.store.InsertAssignment(ctx, a)
	} else {
		err = m.store.UpdateAssignment(ctx, a)
	}
	if err != nil {
		return nil, err
	}
	m.resolver.InvalidateUser(ctx, tenantID, in.UserID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeRoleAssign, audit.ResourceTypeAssignment, a.ID).
		WithTenant(tenantID).
		WithMessage("role assigned to user").
		WithMetadata("userId", a.UserID).
		WithMetadata("roleId", a.RoleID))
	return a, nil
}

// UnassignRole removes a user-role assignment
func (m *Manager) UnassignRole(ctx context.Context, tenantID, userID, roleID string) error {
	if _, err := m.store.GetRole(ctx, tenantID, roleID, true); err != nil {
		return err
	}
	ok, err := m.store.DeleteAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Role assignment not found")
	}
	m.resolver.InvalidateUser(ctx, tenantID, userID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeRoleUnassign, audit.ResourceTypeAssignment, userID+":"+roleID).
		WithTenant(tenantID).
		WithMessage("role unassigned from user"))
	return nil
}

// UpdateAssignment changes the expiry or activity of an assignment
func (m *Manager) UpdateAssignment(ctx context.Context, tenantID, userID, roleID string, patch AssignmentPatch, actingUserID string) (*Assignment, error) {
	now := m.now()
	if err := validateExpiry(patch.ExpiresAt, now); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRole(ctx, tenantID, roleID, false); err != nil {
		return nil, err
	}
	a, err := m.store.GetAssignment(ctx, userID, roleID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("Role assignment not found")
	}
	before := map[string]interface{}{"isActive": a.IsActive, "expiresAt": a.ExpiresAt}

	if patch.ExpiresAt != nil {
		a.ExpiresAt = patch.ExpiresAt
	}
	if patch.IsActive != nil {
		a.IsActive = *patch.IsActive
	}
	a.AssignedBy = optional(actingUserID)
	a.UpdatedAt = now
	if err := m.store.UpdateAssignment(ctx, a); err != nil {
		return nil, err
	}
	m.resolver.InvalidateUser(ctx, tenantID, userID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeAssignmentUpdate, audit.ResourceTypeAssignment, a.ID).
		WithTenant(tenantID).
		WithMessage("user role assignment updated").
		WithChanges(before, map[string]interface{}{"isActive": a.IsActive, "expiresAt": a.ExpiresAt}))
	return a, nil
}

// BulkAssignRole assigns one role to many users, reporting per user
func (m *Manager) BulkAssignRole(ctx context.Context, tenantID, roleID string, in BulkAssignInput, actingUserID string) ([]Report, error) {
	ids := dedupe(in.UserIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("At least one user ID is required")
	}
	if err := validateExpiry(in.ExpiresAt, m.now()); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRole(ctx, tenantID, roleID, false); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(ids))
	for _, uid := range ids {
		a, err := m.assign(ctx, tenantID, AssignRoleInput{UserID: uid, RoleID: roleID, ExpiresAt: in.ExpiresAt}, actingUserID)
		if err != nil {
			reports = append(reports, failed(uid, err))
			continue
		}
		reports = append(reports, Report{ID: uid, Status: ReportSuccess, Data: a})
	}
	return reports, nil
}

// ListUserRoles returns every assignment a user holds within a tenant
func (m *Manager) ListUserRoles(ctx context.Context, tenantID, userID string) ([]*Assignment, error) {
	if err := m.requireUser(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	return m.store.ListAssignments(ctx, tenantID, userID)
}

// CreateOverride grants or denies one permission to a user directly
func (m *Manager) CreateOverride(ctx context.Context, tenantID string, in OverrideInput, actingUserID string) (o *Override, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.CreateOverride",
		attribute.String("tenant_id", tenantID), attribute.String("user_id", in.UserID))
	defer func() { observability.EndSpan(span, err) }()

	if in.GrantType == "" {
		in.GrantType = GrantAllow
	}
	if err := m.validateOverride(in.GrantType, in.Reason, in.ExpiresAt); err != nil {
		return nil, err
	}
	if err := m.requireUser(ctx, tenantID, in.UserID); err != nil {
		return nil, err
	}
	return m.createOverride(ctx, tenantID, in, actingUserID)
}

func (m *Manager) validateOverride(grantType GrantType, reason *string, expiresAt *time.Time) error {
	if !grantType.Valid() {
		return apperr.Validation("Invalid grant type %q", grantType)
	}
	if err := validateReason(reason); err != nil {
		return err
	}
	return validateExpiry(expiresAt, m.now())
}

func (m *Manager) createOverride(ctx context.Context, tenantID string, in OverrideInput, actingUserID string) (*Override, error) {
	if _, err := m.store.GetPermission(ctx, in.PermissionID); err != nil {
		return nil, err
	}
	now := m.now()
	o := &Override{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		PermissionID: in.PermissionID,
		GrantType:    in.GrantType,
		GrantedBy:    optional(actingUserID),
		Reason:       in.Reason,
		ExpiresAt:    in.ExpiresAt,
		IsActive:     in.IsActive == nil || *in.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.InsertOverride(ctx, o); err != nil {
		return nil, err
	}
	m.resolver.InvalidateUser(ctx, tenantID, in.UserID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeOverrideCreate, audit.ResourceTypeOverride, o.ID).
		WithTenant(tenantID).
		WithMessage("user permission override created").
		WithMetadata("userId", o.UserID).
		WithMetadata("permissionId", o.PermissionID).
		WithMetadata("grantType", string(o.GrantType)))
	return o, nil
}

// UpdateOverride changes an existing override
func (m *Manager) UpdateOverride(ctx context.Context, tenantID, userID, permissionID string, patch OverridePatch, actingUserID string) (*Override, error) {
	now := m.now()
	if patch.GrantType != nil && !patch.GrantType.Valid() {
		return nil, apperr.Validation("Invalid grant type %q", *patch.GrantType)
	}
	if err := validateReason(patch.Reason); err != nil {
		return nil, err
	}
	if err := validateExpiry(patch.ExpiresAt, now); err != nil {
		return nil, err
	}
	if err := m.requireUser(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	o, err := m.store.GetOverride(ctx, userID, permissionID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("Permission override not found")
	}
	before := map[string]interface{}{"grantType": string(o.GrantType), "isActive": o.IsActive}

	if patch.GrantType != nil {
		o.GrantType = *patch.GrantType
	}
	if patch.Reason != nil {
		o.Reason = patch.Reason
	}
	if patch.ExpiresAt != nil {
		o.ExpiresAt = patch.ExpiresAt
	}
	if patch.IsActive != nil {
		o.IsActive = *patch.IsActive
	}
	if actingUserID != "" {
		o.GrantedBy = &actingUserID
	}
	o.UpdatedAt = now
	if err := m.store.UpdateOverride(ctx, o); err != nil {
		return nil, err
	}
	m.resolver.InvalidateUser(ctx, tenantID, userID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeOverrideUpdate, audit.ResourceTypeOverride, o.ID).
		WithTenant(tenantID).
		WithMessage("user permission override updated").
		WithChanges(before, map[string]interface{}{"grantType": string(o.GrantType), "isActive": o.IsActive}))
	return o, nil
}

// RemoveOverride deletes an override
func (m *Manager) RemoveOverride(ctx context.Context, tenantID, userID, permissionID string) error {
	if err := m.requireUser(ctx, tenantID, userID); err != nil {
		return err
	}
	ok, err := m.store.DeleteOverride(ctx, userID, permissionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Permission override not found")
	}
	m.resolver.InvalidateUser(ctx, tenantID, userID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeOverrideRemove, audit.ResourceTypeOverride, userID+":"+permissionID).
		WithTenant(tenantID).
		WithMessage("user permission override removed"))
	return nil
}

// BulkCreateOverrides creates the same override for several permissions of
// one user, reporting per permission
func (m *Manager) BulkCreateOverrides(ctx context.Context, tenantID, userID string, in BulkOverrideInput, actingUserID string) ([]Report, error) {
	ids := dedupe(in.PermissionIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("At least one permission ID is required")
	}
	if in.GrantType == "" {
		in.GrantType = GrantAllow
	}
	if err := m.validateOverride(in.GrantType, in.Reason, in.ExpiresAt); err != nil {
		return nil, err
	}
	if err := m.requireUser(ctx, tenantID, userID); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(ids))
	for _, pid := range ids {
		o, err := m.createOverride(ctx, tenantID, OverrideInput{
			UserID:       userID,
			PermissionID: pid,
			GrantType:    in.GrantType,
			Reason:       in.Reason,
			ExpiresAt:    in.ExpiresAt,
		}, actingUserID)
		if err != nil {
			reports = append(reports, failed(pid, err))
			continue
		}
		reports = append(reports, Report{ID: pid, Status: ReportSuccess, Data: o})
	}
	return reports, nil
}
