package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/flock/pkg/database"
)

// RoleRef identifies a role feeding a user's effective permissions
type RoleRef struct {
	ID   string
	Code string
}

// UserRef identifies a user whose cached permissions must be dropped
type UserRef struct {
	TenantID string
	UserID   string
}

// filters appends the activity and expiry predicates for q to a query
type filters struct {
	query string
	args  []interface{}
}

func (f *filters) add(clause string, value interface{}) {
	f.args = append(f.args, value)
	f.query += fmt.Sprintf(clause, len(f.args))
}

func (f *filters) scope(q EffectiveQuery, now time.Time, alias string) {
	if !q.IncludeInactive {
		f.add(" AND "+alias+".is_active = $%d", true)
	}
	if !q.IncludeExpired {
		f.add(" AND ("+alias+".expires_at IS NULL OR "+alias+".expires_at > $%d)", now)
	}
}

// EffectiveRoles returns the roles a user holds within a tenant. Deleted
// roles never contribute.
func (s *Store) EffectiveRoles(ctx context.Context, tenantID, userID string, q EffectiveQuery, now time.Time) ([]RoleRef, error) {
	f := filters{
		query: `SELECT r.id, r.code FROM user_roles ur JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = $1 AND r.tenant_id = $2 AND r.is_deleted = $3`,
		args: []interface{}{userID, tenantID, false},
	}
	f.scope(q, now, "ur")
	if !q.IncludeInactive {
		f.add(" AND r.is_active = $%d", true)
	}
	f.query += ` ORDER BY r.hierarchy_level, r.id`

	rows, err := s.db.QueryContext(ctx, f.query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	refs := make([]RoleRef, 0)
	for rows.Next() {
		var ref RoleRef
		if err := rows.Scan(&ref.ID, &ref.Code); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user roles: %w", err)
	}
	return refs, nil
}

// RolePermissions returns the permissions granted by the given roles
func (s *Store) RolePermissions(ctx context.Context, roles []RoleRef, q EffectiveQuery, now time.Time) ([]EffectivePermission, error) {
	if len(roles) == 0 {
		return []EffectivePermission{}, nil
	}
	codes := make(map[string]string, len(roles))
	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
		codes[r.ID] = r.Code
	}

	f := filters{
		query: `SELECT rp.id, rp.role_id, p.id, p.module, p.action, rp.branch_scope, rp.department_scope,
				rp.expires_at, rp.is_active, p.is_active
			FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role_id IN (` + placeholders(1, len(ids)) + `)`,
		args: stringArgs(ids),
	}
	f.scope(q, now, "rp")
	if !q.IncludeInactive {
		f.add(" AND p.is_active = $%d", true)
	}
	if q.Module != "" {
		f.add(" AND p.module = $%d", normalizeName(q.Module))
	}
	f.query += ` ORDER BY p.module, p.action, rp.role_id`

	rows, err := s.db.QueryContext(ctx, f.query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	out := make([]EffectivePermission, 0)
	for rows.Next() {
		var (
			e                    EffectivePermission
			roleID               string
			expiresAt            sql.NullTime
			grantActive, pActive bool
		)
		err := rows.Scan(&e.SourceID, &roleID, &e.PermissionID, &e.Module, &e.Action,
			&e.BranchScope, &e.DepartmentScope, &expiresAt, &grantActive, &pActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		code := codes[roleID]
		e.Source = SourceRole
		e.GrantType = GrantAllow
		e.RoleID = &roleID
		e.RoleCode = &code
		e.ExpiresAt = database.TimePtr(expiresAt)
		e.IsActive = grantActive && pActive
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role permissions: %w", err)
	}
	return out, nil
}

// UserOverrides returns a user's permission overrides, both ALLOW and DENY.
// Nothing is returned unless the user belongs to tenantID.
func (s *Store) UserOverrides(ctx context.Context, tenantID, userID string, q EffectiveQuery, now time.Time) ([]EffectivePermission, error) {
	f := filters{
		query: `SELECT o.id, o.grant_type, p.id, p.module, p.action, o.expires_at, o.is_active, p.is_active
			FROM user_permission_overrides o
			JOIN permissions p ON p.id = o.permission_id
			JOIN users u ON u.id = o.user_id
			WHERE o.user_id = $1 AND u.tenant_id = $2`,
		args: []interface{}{userID, tenantID},
	}
	f.scope(q, now, "o")
	if !q.IncludeInactive {
		f.add(" AND p.is_active = $%d", true)
	}
	if q.Module != "" {
		f.add(" AND p.module = $%d", normalizeName(q.Module))
	}
	f.query += ` ORDER BY p.module, p.action`

	rows, err := s.db.QueryContext(ctx, f.query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission overrides: %w", err)
	}
	defer rows.Close()

	out := make([]EffectivePermission, 0)
	for rows.Next() {
		var (
			e                       EffectivePermission
			grantType               string
			expiresAt               sql.NullTime
			overrideActive, pActive bool
		)
		err := rows.Scan(&e.SourceID, &grantType, &e.PermissionID, &e.Module, &e.Action,
			&expiresAt, &overrideActive, &pActive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission override: %w", err)
		}
		e.Source = SourceOverride
		e.GrantType = GrantType(grantType)
		e.ExpiresAt = database.TimePtr(expiresAt)
		e.IsActive = overrideActive && pActive
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permission overrides: %w", err)
	}
	return out, nil
}

func (s *Store) queryUserRefs(ctx context.Context, query string, args ...interface{}) ([]UserRef, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired rows: %w", err)
	}
	defer rows.Close()

	refs := make([]UserRef, 0)
	for rows.Next() {
		var ref UserRef
		if err := rows.Scan(&ref.TenantID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan expired row: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired rows: %w", err)
	}
	return refs, nil
}

// ExpiredAssignmentUsers lists the users holding an active assignment that
// has expired at now
func (s *Store) ExpiredAssignmentUsers(ctx context.Context, now time.Time) ([]UserRef, error) {
	return s.queryUserRefs(ctx, `
		SELECT DISTINCT r.tenant_id, ur.user_id FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.is_active = $1 AND ur.expires_at IS NOT NULL AND ur.expires_at <= $2`, true, now)
}

// ExpiredOverrideUsers lists the users holding an active override that has
// expired at now
func (s *Store) ExpiredOverrideUsers(ctx context.Context, now time.Time) ([]UserRef, error) {
	return s.queryUserRefs(ctx, `
		SELECT DISTINCT u.tenant_id, o.user_id FROM user_permission_overrides o JOIN users u ON u.id = o.user_id
		WHERE o.is_active = $1 AND o.expires_at IS NOT NULL AND o.expires_at <= $2`, true, now)
}

// ExpiredGrantTenants lists the tenants owning a role with an active grant
// that has expired at now
func (s *Store) ExpiredGrantTenants(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT r.tenant_id FROM role_permissions rp JOIN roles r ON r.id = rp.role_id
		WHERE rp.is_active = $1 AND rp.expires_at IS NOT NULL AND rp.expires_at <= $2`, true, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired role permissions: %w", err)
	}
	defer rows.Close()

	tenants := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

var expiringTables = map[string]bool{
	"user_roles":                true,
	"role_permissions":          true,
	"user_permission_overrides": true,
}

// DeactivateExpired flips is_active off for every row of table whose
// expiry has passed
func (s *Store) DeactivateExpired(ctx context.Context, table string, now time.Time) (int64, error) {
	if !expiringTables[table] {
		return 0, fmt.Errorf("table %q has no expiry", table)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET is_active = $1, updated_at = $2
		WHERE is_active = $3 AND expires_at IS NOT NULL AND expires_at <= $2`,
		false, now, true)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired %s: %w", table, err)
	}
	return affected(result)
}
