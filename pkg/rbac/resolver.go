package rbac

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/flock/pkg/cache"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/observability"
)

// PermissionCache holds computed effective permission sets
type PermissionCache = cache.Cache[[]EffectivePermission]

// Resolver computes effective permission sets and role hierarchies
type Resolver struct {
	store   *Store
	cache   *PermissionCache
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewResolver creates a resolver. permCache and metrics may be nil.
func NewResolver(db database.DBTX, permCache *PermissionCache, metrics *observability.Metrics, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Resolver{
		store:   NewStore(db),
		cache:   permCache,
		metrics: metrics,
		logger:  logger.WithField("component", "rbac"),
		now:     database.Now,
	}
}

func cacheKey(tenantID, userID string, q EffectiveQuery) string {
	return cache.Key(tenantID, userID, fmt.Sprintf("i%t-e%t", q.IncludeInactive, q.IncludeExpired), q.Module)
}

// GetEffectivePermissions merges a user's role-derived grants with their
// overrides. ALLOW overrides are added; DENY overrides remove every entry
// for the same module and action.
func (r *Resolver) GetEffectivePermissions(ctx context.Context, tenantID, userID string, q EffectiveQuery) (perms []EffectivePermission, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.GetEffectivePermissions",
		attribute.String("tenant_id", tenantID), attribute.String("user_id", userID),
		attribute.Bool("include_inactive", q.IncludeInactive), attribute.Bool("include_expired", q.IncludeExpired))
	defer func() { observability.EndSpan(span, err) }()

	q.Module = normalizeName(q.Module)
	load := func(ctx context.Context) ([]EffectivePermission, error) {
		return r.compute(ctx, tenantID, userID, q)
	}
	if r.cache == nil {
		return load(ctx)
	}
	return r.cache.GetOrLoad(ctx, cacheKey(tenantID, userID, q), load)
}

func (r *Resolver) compute(ctx context.Context, tenantID, userID string, q EffectiveQuery) ([]EffectivePermission, error) {
	now := r.now()

	var fromRoles, overrides []EffectivePermission
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roles, err := r.store.EffectiveRoles(gctx, tenantID, userID, q, now)
		if err != nil {
			return err
		}
		fromRoles, err = r.store.RolePermissions(gctx, roles, q, now)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = r.store.UserOverrides(gctx, tenantID, userID, q, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(fromRoles, overrides, now)
	var nRole, nOverride int
	for _, p := range merged {
		if p.Source == SourceRole {
			nRole++
		} else {
			nOverride++
		}
	}
	r.metrics.RecordPermissionSource(string(SourceRole), nRole)
	r.metrics.RecordPermissionSource(string(SourceOverride), nOverride)
	return merged, nil
}

// Merge unions role grants with ALLOW overrides, then drops every entry
// whose module and action carry a DENY override that is active and unexpired
// at now. Inactive or expired DENY rows veto nothing.
// Duplicates from separate roles are kept.
func Merge(fromRoles, overrides []EffectivePermission, now time.Time) []EffectivePermission {
	denied := make(map[string]bool)
	for _, o := range overrides {
		if o.GrantType == GrantDeny && o.appliesAt(now) {
			denied[o.Key()] = true
		}
	}

	out := make([]EffectivePermission, 0, len(fromRoles)+len(overrides))
	for _, p := range fromRoles {
		if !denied[p.Key()] {
			out = append(out, p)
		}
	}
	for _, o := range overrides {
		if o.GrantType != GrantDeny && !denied[o.Key()] {
			out = append(out, o)
		}
	}
	return out
}

// HasPermission reports whether the user's active, unexpired permission
// set contains (module, action)
func (r *Resolver) HasPermission(ctx context.Context, tenantID, userID, module, action string) (bool, error) {
	perms, err := r.GetEffectivePermissions(ctx, tenantID, userID, EffectiveQuery{})
	if err != nil {
		return false, err
	}
	key := PermissionKey(module, action)
	for _, p := range perms {
		if p.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

// GetRoleHierarchy returns a tenant's roles ordered by ascending hierarchy
// level with their active grants attached. Deleted roles are never listed.
func (r *Resolver) GetRoleHierarchy(ctx context.Context, tenantID string, q HierarchyQuery) (roles []*Role, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.GetRoleHierarchy", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	roles, err = r.store.Hierarchy(ctx, tenantID, q)
	if err != nil {
		return nil, err
	}
	if err := attachGrants(ctx, r.store, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func attachGrants(ctx context.Context, store *Store, roles []*Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]string, len(roles))
	byID := make(map[string]*Role, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
		byID[role.ID] = role
		role.Permissions = make([]*Grant, 0)
	}
	grants, err := store.GrantsForRoles(ctx, ids, false)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if role := byID[g.RoleID]; role != nil {
			role.Permissions = append(role.Permissions, g)
		}
	}
	return nil
}

// InvalidateUser drops every cached permission set of one user
func (r *Resolver) InvalidateUser(ctx context.Context, tenantID, userID string) {
	if r.cache != nil {
		r.cache.DeletePrefix(ctx, cache.Key(tenantID, userID)+":")
	}
}

// InvalidateTenant drops every cached permission set of a tenant
func (r *Resolver) InvalidateTenant(ctx context.Context, tenantID string) {
	if r.cache != nil {
		r.cache.DeletePrefix(ctx, tenantID+":")
	}
}

// InvalidateAll drops the whole permission cache
func (r *Resolver) InvalidateAll(ctx context.Context) {
	if r.cache != nil {
		r.cache.DeletePrefix(ctx, "")
	}
}
