package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/database"
)

const grantColumns = `rp.id, rp.role_id, rp.permission_id, rp.branch_scope, rp.department_scope, rp.custom_conditions,
	rp.granted_by, rp.expires_at, rp.is_active, rp.created_at, rp.updated_at`

const assignmentColumns = `id, user_id, role_id, assigned_by, expires_at, is_active, assigned_at, updated_at`

const overrideColumns = `id, user_id, permission_id, grant_type, granted_by, reason, expires_at, is_active, created_at, updated_at`

func scanGrant(row scanner, extra ...interface{}) (*Grant, error) {
	var (
		g                     Grant
		conditions, grantedBy sql.NullString
		expiresAt             sql.NullTime
	)
	dest := append([]interface{}{
		&g.ID, &g.RoleID, &g.PermissionID, &g.BranchScope, &g.DepartmentScope, &conditions,
		&grantedBy, &expiresAt, &g.IsActive, &g.CreatedAt, &g.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &g.CustomConditions); err != nil {
			return nil, fmt.Errorf("failed to decode custom conditions: %w", err)
		}
	}
	g.GrantedBy = database.StringPtr(grantedBy)
	g.ExpiresAt = database.TimePtr(expiresAt)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	return &g, nil
}

func encodeConditions(conditions map[string]interface{}) (sql.NullString, error) {
	if len(conditions) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(conditions)
	if err != nil {
		return sql.NullString{}, apperr.Validation("Invalid custom conditions: %v", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// GetGrant returns the (role, permission) grant or nil when absent
func (s *Store) GetGrant(ctx context.Context, roleID, permissionID string) (*Grant, error) {
	g, err := scanGrant(s.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM role_permissions rp WHERE rp.role_id = $1 AND rp.permission_id = $2`,
		roleID, permissionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role permission: %w", err)
	}
	return g, nil
}

// InsertGrant adds a role-permission grant
func (s *Store) InsertGrant(ctx context.Context, g *Grant) error {
	conditions, err := encodeConditions(g.CustomConditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_permissions (id, role_id, permission_id, branch_scope, department_scope, custom_conditions,
			granted_by, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		g.ID, g.RoleID, g.PermissionID, g.BranchScope, g.DepartmentScope, conditions,
		database.NullString(g.GrantedBy), database.NullTime(g.ExpiresAt), g.IsActive, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("Permission is already granted to this role")
		}
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// UpdateGrant writes scope, conditions, expiry and activity
func (s *Store) UpdateGrant(ctx context.Context, g *Grant) error {
	conditions, err := encodeConditions(g.CustomConditions)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE role_permissions SET branch_scope = $1, department_scope = $2, custom_conditions = $3,
			granted_by = $4, expires_at = $5, is_active = $6, updated_at = $7
		WHERE id = $8`,
		g.BranchScope, g.DepartmentScope, conditions, database.NullString(g.GrantedBy),
		database.NullTime(g.ExpiresAt), g.IsActive, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update role permission: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Role permission not found")
	}
	return nil
}

// ActiveGrantPermissionIDs returns the permission ids actively granted to
// a role
func (s *Store) ActiveGrantPermissionIDs(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 AND is_active = $2 ORDER BY permission_id`,
		roleID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role permissions: %w", err)
	}
	return ids, nil
}

// DeactivateGrants flips is_active off for a role's grants. A nil
// permissionIDs deactivates all of them.
func (s *Store) DeactivateGrants(ctx context.Context, roleID string, permissionIDs []string, at time.Time) (int64, error) {
	query := `UPDATE role_permissions SET is_active = $1, updated_at = $2 WHERE role_id = $3 AND is_active = $4`
	args := []interface{}{false, at, roleID, true}
	if permissionIDs != nil {
		if len(permissionIDs) == 0 {
			return 0, nil
		}
		query += ` AND permission_id IN (` + placeholders(len(args)+1, len(permissionIDs)) + `)`
		args = append(args, stringArgs(permissionIDs)...)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate role permissions: %w", err)
	}
	return affected(result)
}

// DeleteGrants removes grants from a role
func (s *Store) DeleteGrants(ctx context.Context, roleID string, permissionIDs []string) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	args := append([]interface{}{roleID}, stringArgs(permissionIDs)...)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id IN (`+placeholders(2, len(permissionIDs))+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to remove role permissions: %w", err)
	}
	return affected(result)
}

// GrantsForRoles returns the grants of the given roles with their
// permission attached
func (s *Store) GrantsForRoles(ctx context.Context, roleIDs []string, includeInactive bool) ([]*Grant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + grantColumns + `, p.id, p.module, p.action, p.description, p.is_active, p.created_at, p.updated_at
		FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (` + placeholders(1, len(roleIDs)) + `)`
	args := stringArgs(roleIDs)
	if !includeInactive {
		args = append(args, true)
		query += fmt.Sprintf(` AND rp.is_active = $%d`, len(args))
	}
	query += ` ORDER BY rp.role_id, p.module, p.action`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	grants := make([]*Grant, 0)
	for rows.Next() {
		var (
			p           Permission
			description sql.NullString
		)
		g, err := scanGrant(rows, &p.ID, &p.Module, &p.Action, &description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		p.Description = database.StringPtr(description)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		g.Permission = &p
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role permissions: %w", err)
	}
	return grants, nil
}

func scanAssignment(row scanner) (*Assignment, error) {
	var (
		a          Assignment
		assignedBy sql.NullString
		expiresAt  sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &assignedBy, &expiresAt, &a.IsActive, &a.AssignedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AssignedBy = database.StringPtr(assignedBy)
	a.ExpiresAt = database.TimePtr(expiresAt)
	a.AssignedAt = a.AssignedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// GetAssignment returns the (user, role) assignment or nil when absent
func (s *Store) GetAssignment(ctx context.Context, userID, roleID string) (*Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role assignment: %w", err)
	}
	return a, nil
}

// InsertAssignment adds a user-role assignment
func (s *Store) InsertAssignment(ctx context.Context, a *Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (`+assignmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.RoleID, database.NullString(a.AssignedBy), database.NullTime(a.ExpiresAt),
		a.IsActive, a.AssignedAt, a.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("User already has this role")
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// UpdateAssignment writes assigner, expiry and activity
func (s *Store) UpdateAssignment(ctx context.Context, a *Assignment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_roles SET assigned_by = $1, expires_at = $2, is_active = $3, updated_at = $4 WHERE id = $5`,
		database.NullString(a.AssignedBy), database.NullTime(a.ExpiresAt), a.IsActive, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update role assignment: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Role assignment not found")
	}
	return nil
}

// DeleteAssignment removes a user-role assignment, reporting whether a row
// existed
func (s *Store) DeleteAssignment(ctx context.Context, userID, roleID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to unassign role: %w", err)
	}
	n, err := affected(result)
	return n > 0, err
}

// DeactivateAssignments flips is_active off for every assignment of a role
func (s *Store) DeactivateAssignments(ctx context.Context, roleID string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE user_roles SET is_active = $1, updated_at = $2 WHERE role_id = $3 AND is_active = $4`,
		false, at, roleID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate role assignments: %w", err)
	}
	return affected(result)
}

// ListAssignments returns a user's assignments to roles of tenantID
func (s *Store) ListAssignments(ctx context.Context, tenantID, userID string) ([]*Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.id, ur.user_id, ur.role_id, ur.assigned_by, ur.expires_at, ur.is_active, ur.assigned_at, ur.updated_at
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND r.tenant_id = $2 ORDER BY ur.assigned_at, ur.id`, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	defer rows.Close()

	out := make([]*Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role assignments: %w", err)
	}
	return out, nil
}

func scanOverride(row scanner) (*Override, error) {
	var (
		o                 Override
		grantType         string
		grantedBy, reason sql.NullString
		expiresAt         sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.PermissionID, &grantType, &grantedBy, &reason, &expiresAt,
		&o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.GrantType = GrantType(grantType)
	o.GrantedBy = database.StringPtr(grantedBy)
	o.Reason = database.StringPtr(reason)
	o.ExpiresAt = database.TimePtr(expiresAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

// GetOverride returns the (user, permission) override or nil when absent
func (s *Store) GetOverride(ctx context.Context, userID, permissionID string) (*Override, error) {
	o, err := scanOverride(s.db.QueryRowContext(ctx,
		`SELECT `+overrideColumns+` FROM user_permission_overrides WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission override: %w", err)
	}
	return o, nil
}

// InsertOverride adds a user permission override
func (s *Store) InsertOverride(ctx context.Context, o *Override) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permission_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.UserID, o.PermissionID, string(o.GrantType), database.NullString(o.GrantedBy),
		database.NullString(o.Reason), database.NullTime(o.ExpiresAt), o.IsActive, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("User already has an override for this permission")
		}
		return fmt.Errorf("failed to create permission override: %w", err)
	}
	return nil
}

// UpdateOverride writes grant type, reason, expiry and activity
func (s *Store) UpdateOverride(ctx context.Context, o *Override) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_permission_overrides SET grant_type = $1, granted_by = $2, reason = $3, expires_at = $4,
			is_active = $5, updated_at = $6
		WHERE id = $7`,
		string(o.GrantType), database.NullString(o.GrantedBy), database.NullString(o.Reason),
		database.NullTime(o.ExpiresAt), o.IsActive, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update permission override: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Permission override not found")
	}
	return nil
}

// DeleteOverride removes a user permission override, reporting whether a
// row existed
func (s *Store) DeleteOverride(ctx context.Context, userID, permissionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_permission_overrides WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to remove permission override: %w", err)
	}
	n, err := affected(result)
	return n > 0, err
}
