package rbac

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/paging"
)

// Manager owns the role, grant, assignment and override lifecycle. Every
// mutation invalidates the affected cached permission sets.
type Manager struct {
	db       *sql.DB
	store    *Store
	resolver *Resolver
	audit    audit.Logger
	logger   *observability.Logger
	now      func() time.Time
}

// NewManager creates a manager. A nil resolver gets an uncached one.
func NewManager(db *sql.DB, resolver *Resolver, auditLogger audit.Logger, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NoOp()
	}
	if resolver == nil {
		resolver = NewResolver(db, nil, nil, logger)
	}
	return &Manager{
		db:       db,
		store:    NewStore(db),
		resolver: resolver,
		audit:    auditLogger,
		logger:   logger.WithField("component", "rbac"),
		now:      database.Now,
	}
}

// Store exposes the underlying store
func (m *Manager) Store() *Store {
	return m.store
}

// Resolver returns the resolver whose cache the manager invalidates
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func roleSnapshot(r *Role) map[string]interface{} {
	return map[string]interface{}{
		"name":           r.Name,
		"hierarchyLevel": r.HierarchyLevel,
		"isActive":       r.IsActive,
		"isDeleted":      r.IsDeleted,
	}
}

// CreateRole validates and persists a role and links any existing
// permissions in one transaction. Unknown permission ids are skipped.
func (m *Manager) CreateRole(ctx context.Context, tenantID string, in CreateRoleInput, actingUserID string) (role *Role, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.CreateRole", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	code := normalizeName(in.Code)
	if err := validateCode("Role code", code); err != nil {
		return nil, err
	}
	if code == ReservedRoleCode {
		return nil, apperr.Precondition("%s role cannot be created", ReservedRoleCode)
	}
	name := strings.TrimSpace(in.Name)
	if err := validateRoleName(name); err != nil {
		return nil, err
	}
	if err := validateHierarchy(in.HierarchyLevel, in.IsSystem); err != nil {
		return nil, err
	}
	if err := validateDescription(in.Description, 1000); err != nil {
		return nil, err
	}

	now := m.now()
	role = &Role{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Name:           name,
		Code:           code,
		Description:    in.Description,
		HierarchyLevel: in.HierarchyLevel,
		IsSystem:       in.IsSystem,
		IsActive:       in.IsActive == nil || *in.IsActive,
		CreatedBy:      optional(actingUserID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var linked int
	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		st := NewStore(tx)
		if err := st.CreateRole(ctx, role); err != nil {
			return err
		}
		var err error
		linked, err = linkPermissions(ctx, st, role.ID, in.PermissionIDs, optional(actingUserID), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeRoleCreate, audit.ResourceTypeRole, role.ID).
		WithTenant(tenantID).
		WithMessage("role created").
		WithMetadata("code", role.Code).
		WithMetadata("permissions", linked))

	if err := attachGrants(ctx, m.store, []*Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// linkPermissions grants every existing permission in ids to a role.
// Previously deactivated grants are reactivated; active ones are left alone.
func linkPermissions(ctx context.Context, st *Store, roleID string, ids []string, grantedBy *string, now time.Time) (int, error) {
	valid, err := st.ExistingPermissionIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	linked := 0
	for _, pid := range valid {
		existing, err := st.GetGrant(ctx, roleID, pid)
		if err != nil {
			return linked, err
		}
		switch {
		case existing == nil:
			err = st.InsertGrant(ctx, &Grant{
				ID:              uuid.NewString(),
				RoleID:          roleID,
				PermissionID:    pid,
				BranchScope:     ScopeAll,
				DepartmentScope: ScopeAll,
				GrantedBy:       grantedBy,
				IsActive:        true,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		case !existing.IsActive:
			existing.IsActive = true
			existing.GrantedBy = grantedBy
			existing.UpdatedAt = now
			err = st.UpdateGrant(ctx, existing)
		default:
			continue
		}
		if err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// UpdateRole applies a partial update. When PermissionIDs is set the
// active grants are reconciled against it: new ids are linked and dropped
// ids are deactivated, never deleted.
func (m *Manager) UpdateRole(ctx context.Context, tenantID, id string, in UpdateRoleInput, actingUserID string) (role *Role, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.UpdateRole",
		attribute.String("tenant_id", tenantID), attribute.String("role_id", id))
	defer func() { observability.EndSpan(span, err) }()

	existing, err := m.store.GetRole(ctx, tenantID, id, false)
	if err != nil {
		return nil, err
	}
	before := roleSnapshot(existing)

	updated := *existing
	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
		if err := validateRoleName(updated.Name); err != nil {
			return nil, err
		}
	}
	if in.Description != nil {
		if err := validateDescription(in.Description, 1000); err != nil {
			return nil, err
		}
		updated.Description = in.Description
	}
	if in.HierarchyLevel != nil {
		updated.HierarchyLevel = *in.HierarchyLevel
	}
	if err := validateHierarchy(updated.HierarchyLevel, updated.IsSystem); err != nil {
		return nil, err
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
	}
	now := m.now()
	updated.UpdatedBy = optional(actingUserID)
	updated.UpdatedAt = now

	var added int
	var removed int64
	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		st := NewStore(tx)
		if err := st.UpdateRole(ctx, &updated); err != nil {
			return err
		}
		if in.PermissionIDs == nil {
			return nil
		}

		current, err := st.ActiveGrantPermissionIDs(ctx, id)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(current))
		for _, pid := range current {
			have[pid] = true
		}
		want := make(map[string]bool, len(in.PermissionIDs))
		var toAdd []string
		for _, pid := range in.PermissionIDs {
			want[pid] = true
			if !have[pid] {
				toAdd = append(toAdd, pid)
			}
		}
		toRemove := make([]string, 0)
		for _, pid := range current {
			if !want[pid] {
				toRemove = append(toRemove, pid)
			}
		}

		if added, err = linkPermissions(ctx, st, id, toAdd, optional(actingUserID), now); err != nil {
			return err
		}
		removed, err = st.DeactivateGrants(ctx, id, toRemove, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.resolver.InvalidateTenant(ctx, tenantID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeRoleUpdate, audit.ResourceTypeRole, id).
		WithTenant(tenantID).
		WithMessage("role updated").
		WithChanges(before, roleSnapshot(&updated)).
		WithMetadata("permissionsAdded", added).
		WithMetadata("permissionsDeactivated", removed))

	return m.GetRole(ctx, tenantID, id)
}

// DeleteRole soft-deletes a role and, in the same transaction, deactivates
// all of its grants and every assignment referencing it
func (m *Manager) DeleteRole(ctx context.Context, tenantID, id string, in DeleteRoleInput) (role *Role, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.DeleteRole",
		attribute.String("tenant_id", tenantID), attribute.String("role_id", id))
	defer func() { observability.EndSpan(span, err) }()

	if strings.TrimSpace(in.DeletedByID) == "" {
		return nil, apperr.Validation("Deleting user is required")
	}
	if in.Reason != nil && len(*in.Reason) > maxReasonLength {
		return nil, apperr.Validation("Reason cannot exceed %d characters", maxReasonLength)
	}

	role, err = m.store.GetRole(ctx, tenantID, id, false)
	if err != nil {
		return nil, err
	}

	now := m.now()
	role.IsDeleted = true
	role.DeletedByID = &in.DeletedByID
	role.DeletedAt = &now
	role.DeletedReason = in.Reason
	role.UpdatedAt = now

	var grants, assignments int64
	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		st := NewStore(tx)
		if err := st.UpdateRole(ctx, role); err != nil {
			return err
		}
		var err error
		if grants, err = st.DeactivateGrants(ctx, id, nil, now); err != nil {
			return err
		}
		assignments, err = st.DeactivateAssignments(ctx, id, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.resolver.InvalidateTenant(ctx, tenantID)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeRoleDelete, audit.ResourceTypeRole, id).
		WithTenant(tenantID).
		WithMessage("role deleted and related assignments deactivated").
		WithMetadata("grantsDeactivated", grants).
		WithMetadata("assignmentsDeactivated", assignments))

	return role, nil
}

// RestoreRole clears a role's deleted flags. Grants and assignments that
// were deactivated by the delete stay inactive.
func (m *Manager) RestoreRole(ctx context.Context, tenantID, id, restoredBy string) (*Role, error) {
	role, err := m.store.GetRole(ctx, tenantID, id, true)
	if err != nil {
		return nil, err
	}
	if !role.IsDeleted {
		return nil, apperr.Precondition("Role is not deleted")
	}

	role.IsDeleted = false
	role.DeletedByID = nil
	role.DeletedAt = nil
	role.DeletedReason = nil
	role.UpdatedBy = optional(restoredBy)
	role.UpdatedAt = m.now()
	if err := m.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeRoleRestore, audit.ResourceTypeRole, id).
		WithTenant(tenantID).
		WithMessage("role restored"))
	return m.GetRole(ctx, tenantID, id)
}

// GetRole returns a non-deleted role with its active grants
func (m *Manager) GetRole(ctx context.Context, tenantID, id string) (*Role, error) {
	role, err := m.store.GetRole(ctx, tenantID, id, false)
	if err != nil {
		return nil, err
	}
	if err := attachGrants(ctx, m.store, []*Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns one page of a tenant's roles, oldest first by default
func (m *Manager) ListRoles(ctx context.Context, tenantID string, filter RoleFilter, page paging.Page, sort paging.Sort) (paging.Result[*Role], error) {
	if sort.Field == "" {
		sort = paging.Sort{Field: "createdAt"}
	}
	items, total, err := m.store.ListRoles(ctx, tenantID, filter, page, sort)
	if err != nil {
		return paging.Result[*Role]{}, err
	}
	return paging.Result[*Role]{Items: items, Pagination: paging.NewPagination(page, total)}, nil
}

// CreatePermissions creates each (module, action) pair that does not exist
// yet and returns only the created ones
func (m *Manager) CreatePermissions(ctx context.Context, inputs []PermissionInput) ([]*Permission, error) {
	for _, in := range inputs {
		if err := validateCode("Module", normalizeName(in.Module)); err != nil {
			return nil, err
		}
		if err := validateCode("Action", normalizeName(in.Action)); err != nil {
			return nil, err
		}
		if err := validateDescription(in.Description, 500); err != nil {
			return nil, err
		}
	}

	created := make([]*Permission, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		p := &Permission{
			Module:      normalizeName(in.Module),
			Action:      normalizeName(in.Action),
			Description: in.Description,
			IsActive:    true,
		}
		if seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true

		existing, err := m.store.FindPermission(ctx, p.Module, p.Action)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		now := m.now()
		p.ID = uuid.NewString()
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := m.store.CreatePermission(ctx, p); err != nil {
			if apperr.IsConflict(err) {
				continue
			}
			return created, err
		}
		created = append(created, p)
		audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypePermissionCreate, audit.ResourceTypePermission, p.ID).
			WithMessage("permission created").
			WithMetadata("permission", p.Key()))
	}
	return created, nil
}

// UpdatePermission applies a partial update to a permission. Permissions
// are global, so every cached set is dropped.
func (m *Manager) UpdatePermission(ctx context.Context, id string, in UpdatePermissionInput) (*Permission, error) {
	p, err := m.store.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	before := map[string]interface{}{"permission": p.Key(), "isActive": p.IsActive}

	if in.Module != nil {
		p.Module = normalizeName(*in.Module)
		if err := validateCode("Module", p.Module); err != nil {
			return nil, err
		}
	}
	if in.Action != nil {
		p.Action = normalizeName(*in.Action)
		if err := validateCode("Action", p.Action); err != nil {
			return nil, err
		}
	}
	if in.Description != nil {
		if err := validateDescription(in.Description, 500); err != nil {
			return nil, err
		}
		p.Description = in.Description
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.UpdatedAt = m.now()

	if err := m.store.UpdatePermission(ctx, p); err != nil {
		return nil, err
	}
	m.resolver.InvalidateAll(ctx)

	audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypePermissionUpdate, audit.ResourceTypePermission, id).
		WithMessage("permission updated").
		WithChanges(before, map[string]interface{}{"permission": p.Key(), "isActive": p.IsActive}))
	return p, nil
}

// ListPermissions returns one page of permissions
func (m *Manager) ListPermissions(ctx context.Context, filter PermissionFilter, page paging.Page) (paging.Result[*Permission], error) {
	items, total, err := m.store.ListPermissions(ctx, filter, page)
	if err != nil {
		return paging.Result[*Permission]{}, err
	}
	return paging.Result[*Permission]{Items: items, Pagination: paging.NewPagination(page, total)}, nil
}
