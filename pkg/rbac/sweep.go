package rbac

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/observability"
)

// SweepExpired deactivates assignments, grants and overrides whose expiry
// has passed, then drops the cached permission sets they fed
func (m *Manager) SweepExpired(ctx context.Context) (result SweepResult, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.SweepExpired")
	defer func() { observability.EndSpan(span, err) }()

	now := m.now()
	var users []UserRef
	var tenants []string

	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		st := NewStore(tx)

		fromAssignments, err := st.ExpiredAssignmentUsers(ctx, now)
		if err != nil {
			return err
		}
		fromOverrides, err := st.ExpiredOverrideUsers(ctx, now)
		if err != nil {
			return err
		}
		users = append(fromAssignments, fromOverrides...)
		if tenants, err = st.ExpiredGrantTenants(ctx, now); err != nil {
			return err
		}

		if result.Assignments, err = st.DeactivateExpired(ctx, "user_roles", now); err != nil {
			return err
		}
		if result.Grants, err = st.DeactivateExpired(ctx, "role_permissions", now); err != nil {
			return err
		}
		result.Overrides, err = st.DeactivateExpired(ctx, "user_permission_overrides", now)
		return err
	})
	if err != nil {
		return SweepResult{}, err
	}

	seenUsers := make(map[UserRef]bool, len(users))
	for _, u := range users {
		if !seenUsers[u] {
			seenUsers[u] = true
			m.resolver.InvalidateUser(ctx, u.TenantID, u.UserID)
		}
	}
	for _, t := range tenants {
		m.resolver.InvalidateTenant(ctx, t)
	}
	result.Users = len(seenUsers)
	result.Tenants = len(tenants)

	if result.Assignments+result.Grants+result.Overrides > 0 {
		m.logger.WithFields(map[string]interface{}{
			"assignments": result.Assignments,
			"grants":      result.Grants,
			"overrides":   result.Overrides,
		}).Info("Deactivated expired RBAC rows")

		audit.Record(ctx, m.audit, audit.NewEvent(ctx, audit.EventTypeExpirySweep, audit.ResourceTypeRole, "").
			WithMessage("expired assignments, grants and overrides deactivated").
			WithMetadata("assignments", result.Assignments).
			WithMetadata("grants", result.Grants).
			WithMetadata("overrides", result.Overrides))
	}
	return result, nil
}
