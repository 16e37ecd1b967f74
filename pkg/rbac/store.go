package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/paging"
)

const roleColumns = `id, tenant_id, name, code, description, hierarchy_level, is_system, is_active, is_deleted,
	deleted_by_id, deleted_at, deleted_reason, created_by, updated_by, created_at, updated_at`

const permissionColumns = `id, module, action, description, is_active, created_at, updated_at`

// Store handles RBAC persistence. Every query filters soft-delete and
// activity flags explicitly; nothing is implied by row absence.
type Store struct {
	db database.DBTX
}

// NewStore creates a new RBAC store
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row scanner) (*Role, error) {
	var (
		r                                       Role
		description, deletedByID, deletedReason sql.NullString
		createdBy, updatedBy                    sql.NullString
		deletedAt                               sql.NullTime
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Code, &description, &r.HierarchyLevel,
		&r.IsSystem, &r.IsActive, &r.IsDeleted, &deletedByID, &deletedAt, &deletedReason,
		&createdBy, &updatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Description = database.StringPtr(description)
	r.DeletedByID = database.StringPtr(deletedByID)
	r.DeletedAt = database.TimePtr(deletedAt)
	r.DeletedReason = database.StringPtr(deletedReason)
	r.CreatedBy = database.StringPtr(createdBy)
	r.UpdatedBy = database.StringPtr(updatedBy)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func scanPermission(row scanner) (*Permission, error) {
	var (
		p           Permission
		description sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Module, &p.Action, &description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = database.StringPtr(description)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// placeholders renders n numbered parameters starting at $start
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func affected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// CreateRole inserts a role
func (s *Store) CreateRole(ctx context.Context, r *Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.TenantID, r.Name, r.Code, database.NullString(r.Description), r.HierarchyLevel,
		r.IsSystem, r.IsActive, r.IsDeleted, database.NullString(r.DeletedByID), database.NullTime(r.DeletedAt),
		database.NullString(r.DeletedReason), database.NullString(r.CreatedBy), database.NullString(r.UpdatedBy),
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("Role with code \"%s\" already exists", r.Code)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole returns a tenant's role. Deleted roles are NotFound unless
// includeDeleted is set.
func (s *Store) GetRole(ctx context.Context, tenantID, id string, includeDeleted bool) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1 AND tenant_id = $2`
	args := []interface{}{id, tenantID}
	if !includeDeleted {
		query += ` AND is_deleted = $3`
		args = append(args, false)
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// UpdateRole writes every mutable role column
func (s *Store) UpdateRole(ctx context.Context, r *Role) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, hierarchy_level = $3, is_active = $4, is_deleted = $5,
			deleted_by_id = $6, deleted_at = $7, deleted_reason = $8, updated_by = $9, updated_at = $10
		WHERE id = $11 AND tenant_id = $12`,
		r.Name, database.NullString(r.Description), r.HierarchyLevel, r.IsActive, r.IsDeleted,
		database.NullString(r.DeletedByID), database.NullTime(r.DeletedAt), database.NullString(r.DeletedReason),
		database.NullString(r.UpdatedBy), r.UpdatedAt, r.ID, r.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Role not found")
	}
	return nil
}

var roleSortColumns = map[string]string{
	"createdAt":      "created_at",
	"updatedAt":      "updated_at",
	"name":           "name",
	"code":           "code",
	"hierarchyLevel": "hierarchy_level",
}

// ListRoles returns one page of a tenant's roles and the total match count
func (s *Store) ListRoles(ctx context.Context, tenantID string, filter RoleFilter, page paging.Page, sort paging.Sort) ([]*Role, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if !filter.IncludeDeleted {
		add("is_deleted = $%d", false)
	}
	if filter.Name != "" {
		add("LOWER(name) LIKE $%d", "%"+strings.ToLower(filter.Name)+"%")
	}
	if filter.Code != "" {
		add("code = $%d", normalizeName(filter.Code))
	}
	if filter.IsActive != nil {
		add("is_active = $%d", *filter.IsActive)
	}
	if filter.IsSystem != nil {
		add("is_system = $%d", *filter.IsSystem)
	}
	if filter.HierarchyLevel != nil {
		add("hierarchy_level = $%d", *filter.HierarchyLevel)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count roles: %w", err)
	}

	col, ok := roleSortColumns[sort.Field]
	if !ok {
		col = "created_at"
	}
	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		roleColumns, clause, col, sort.Direction(), len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	roles, err := s.queryRoles(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

// Hierarchy returns a tenant's non-deleted roles ordered by hierarchy level
func (s *Store) Hierarchy(ctx context.Context, tenantID string, q HierarchyQuery) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND is_deleted = $2`
	args := []interface{}{tenantID, false}
	if !q.IncludeInactive {
		args = append(args, true)
		query += fmt.Sprintf(` AND is_active = $%d`, len(args))
	}
	if !q.IncludeSystem {
		args = append(args, false)
		query += fmt.Sprintf(` AND is_system = $%d`, len(args))
	}
	query += ` ORDER BY hierarchy_level ASC, name ASC, id`
	return s.queryRoles(ctx, query, args...)
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return roles, nil
}

// CreatePermission inserts a permission. A duplicate (module, action) is a
// Conflict.
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (`+permissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Module, p.Action, database.NullString(p.Description), p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("Permission %s already exists", p.Key())
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// GetPermission returns a permission by id
func (s *Store) GetPermission(ctx context.Context, id string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Permission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// FindPermission returns the permission for (module, action) or nil
func (s *Store) FindPermission(ctx context.Context, module, action string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE module = $1 AND action = $2`,
		normalizeName(module), normalizeName(action)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find permission: %w", err)
	}
	return p, nil
}

// ExistingPermissionIDs filters ids down to those that exist, preserving
// input order and dropping duplicates
func (s *Store) ExistingPermissionIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM permissions WHERE id IN (`+placeholders(1, len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up permissions: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan permission id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}

	out := make([]string, 0, len(found))
	for _, id := range ids {
		if found[id] {
			out = append(out, id)
			delete(found, id)
		}
	}
	return out, nil
}

// UpdatePermission writes module, action, description and activity
func (s *Store) UpdatePermission(ctx context.Context, p *Permission) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE permissions SET module = $1, action = $2, description = $3, is_active = $4, updated_at = $5
		WHERE id = $6`,
		p.Module, p.Action, database.NullString(p.Description), p.IsActive, p.UpdatedAt, p.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("Permission %s already exists", p.Key())
		}
		return fmt.Errorf("failed to update permission: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Permission not found")
	}
	return nil
}

// ListPermissions returns one page of permissions ordered by module and
// action
func (s *Store) ListPermissions(ctx context.Context, filter PermissionFilter, page paging.Page) ([]*Permission, int, error) {
	where := []string{"1 = 1"}
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Module != "" {
		add("module = $%d", normalizeName(filter.Module))
	}
	if filter.Action != "" {
		add("action = $%d", normalizeName(filter.Action))
	}
	if filter.IsActive != nil {
		add("is_active = $%d", *filter.IsActive)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count permissions: %w", err)
	}

	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM permissions WHERE %s ORDER BY module, action LIMIT $%d OFFSET $%d`,
		permissionColumns, clause, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]*Permission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating permissions: %w", err)
	}
	return perms, total, nil
}

// UserExists reports whether userID is an active user of tenantID
func (s *Store) UserExists(ctx context.Context, tenantID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = $1 AND tenant_id = $2 AND is_active = $3`,
		userID, tenantID, true).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return n > 0, nil
}
