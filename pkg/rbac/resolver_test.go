package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/flock/pkg/cache"
	"github.com/platinummonkey/flock/pkg/observability"
)

func keys(perms []EffectivePermission) map[string]int {
	out := make(map[string]int, len(perms))
	for _, p := range perms {
		out[p.Key()]++
	}
	return out
}

func expire(t *testing.T, db *sql.DB, table, where string, args ...interface{}) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Hour)
	_, err := db.Exec(`UPDATE `+table+` SET expires_at = $1 WHERE `+where, append([]interface{}{past}, args...)...)
	if err != nil {
		t.Fatalf("expire %s: %v", table, err)
	}
}

func TestMerge(t *testing.T) {
	roleID := "r1"
	fromRoles := []EffectivePermission{
		{PermissionID: "p1", Module: "EVENTS", Action: "CREATE", Source: SourceRole, GrantType: GrantAllow, RoleID: &roleID},
		{PermissionID: "p2", Module: "EVENTS", Action: "DELETE", Source: SourceRole, GrantType: GrantAllow, RoleID: &roleID},
	}
	overrides := []EffectivePermission{
		{PermissionID: "p2", Module: "EVENTS", Action: "DELETE", Source: SourceOverride, GrantType: GrantDeny, IsActive: true},
		{PermissionID: "p3", Module: "FINANCE", Action: "READ", Source: SourceOverride, GrantType: GrantAllow, IsActive: true},
	}

	got := keys(Merge(fromRoles, overrides, time.Now()))
	if len(got) != 2 || got["EVENTS:CREATE"] != 1 || got["FINANCE:READ"] != 1 {
		t.Errorf("unexpected merge result: %v", got)
	}
}

func TestMerge_DenyBeatsAllowOverride(t *testing.T) {
	overrides := []EffectivePermission{
		{PermissionID: "p1", Module: "EVENTS", Action: "CREATE", Source: SourceOverride, GrantType: GrantAllow, IsActive: true},
		{PermissionID: "p1", Module: "events", Action: "create", Source: SourceOverride, GrantType: GrantDeny, IsActive: true},
	}
	if got := Merge(nil, overrides, time.Now()); len(got) != 0 {
		t.Errorf("expected DENY to remove the ALLOW override, got %v", keys(got))
	}
}

func TestMerge_InapplicableDenyDoesNotVeto(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	fromRoles := []EffectivePermission{
		{PermissionID: "p1", Module: "EVENTS", Action: "CREATE", Source: SourceRole, GrantType: GrantAllow, IsActive: true},
		{PermissionID: "p2", Module: "EVENTS", Action: "DELETE", Source: SourceRole, GrantType: GrantAllow, IsActive: true},
		{PermissionID: "p3", Module: "EVENTS", Action: "UPDATE", Source: SourceRole, GrantType: GrantAllow, IsActive: true},
	}
	overrides := []EffectivePermission{
		{PermissionID: "p1", Module: "EVENTS", Action: "CREATE", Source: SourceOverride, GrantType: GrantDeny, IsActive: false},
		{PermissionID: "p2", Module: "EVENTS", Action: "DELETE", Source: SourceOverride, GrantType: GrantDeny, IsActive: true, ExpiresAt: &past},
		{PermissionID: "p3", Module: "EVENTS", Action: "UPDATE", Source: SourceOverride, GrantType: GrantDeny, IsActive: true, ExpiresAt: &future},
	}

	got := keys(Merge(fromRoles, overrides, now))
	if len(got) != 2 || got["EVENTS:CREATE"] != 1 || got["EVENTS:DELETE"] != 1 {
		t.Errorf("only the active unexpired DENY should veto, got %v", got)
	}
}

func TestResolver_EffectivePermissions(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	p1 := createPermission(t, m, "EVENTS", "CREATE")
	p2 := createPermission(t, m, "EVENTS", "DELETE")
	p3 := createPermission(t, m, "FINANCE", "READ")
	coordinator := createRole(t, m, "COORDINATOR", 30, p1.ID)
	usher := createRole(t, m, "USHER", 50, p2.ID)
	user := insertUser(t, db, testTenant)

	for _, roleID := range []string{coordinator.ID, usher.ID} {
		if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: user, RoleID: roleID}, "admin"); err != nil {
			t.Fatalf("AssignRole: %v", err)
		}
	}
	reason := "Covering for the treasurer"
	if _, err := m.CreateOverride(ctx, testTenant, OverrideInput{UserID: user, PermissionID: p3.ID, Reason: &reason}, "admin"); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}

	perms, err := m.Resolver().GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	got := keys(perms)
	if len(got) != 3 || got["EVENTS:CREATE"] != 1 || got["EVENTS:DELETE"] != 1 || got["FINANCE:READ"] != 1 {
		t.Fatalf("unexpected permissions: %v", got)
	}
	for _, p := range perms {
		switch p.Key() {
		case "EVENTS:CREATE":
			if p.Source != SourceRole || p.RoleCode == nil || *p.RoleCode != "COORDINATOR" {
				t.Errorf("unexpected role entry: %+v", p)
			}
		case "FINANCE:READ":
			if p.Source != SourceOverride || p.GrantType != GrantAllow {
				t.Errorf("unexpected override entry: %+v", p)
			}
		}
	}

	// deactivating one assignment drops only that role's permissions
	inactive := false
	if _, err := m.UpdateAssignment(ctx, testTenant, user, usher.ID, AssignmentPatch{IsActive: &inactive}, "admin"); err != nil {
		t.Fatalf("UpdateAssignment: %v", err)
	}
	perms, err = m.Resolver().GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	got = keys(perms)
	if got["EVENTS:DELETE"] != 0 || got["EVENTS:CREATE"] != 1 {
		t.Errorf("unexpected permissions after deactivation: %v", got)
	}

	// module filter
	perms, err = m.Resolver().GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{Module: "finance"})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got := keys(perms); len(got) != 1 || got["FINANCE:READ"] != 1 {
		t.Errorf("unexpected module filtered permissions: %v", got)
	}

	// other tenants see nothing
	perms, err = m.Resolver().GetEffectivePermissions(ctx, "tenant-2", user, EffectiveQuery{Module: "EVENTS"})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("expected no role permissions in another tenant, got %v", keys(perms))
	}
}

func TestResolver_DenyOverrideRevokesRolePermission(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	p := createPermission(t, m, "EVENTS", "DELETE")
	role := createRole(t, m, "COORDINATOR", 30, p.ID)
	user := insertUser(t, db, testTenant)
	if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: user, RoleID: role.ID}, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	ok, err := m.Resolver().HasPermission(ctx, testTenant, user, "events", "delete")
	if err != nil || !ok {
		t.Fatalf("expected permission before deny, ok=%v err=%v", ok, err)
	}

	reason := "Suspended pending review"
	if _, err := m.CreateOverride(ctx, testTenant, OverrideInput{UserID: user, PermissionID: p.ID, GrantType: GrantDeny, Reason: &reason}, "admin"); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}
	ok, err = m.Resolver().HasPermission(ctx, testTenant, user, "EVENTS", "DELETE")
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Error("DENY override should revoke the role permission")
	}
}

func TestResolver_OverridesStayInTheirTenant(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	p := createPermission(t, m, "FINANCE", "READ")
	user := insertUser(t, db, "tenant-2")

	reason := "Quarter end close"
	if _, err := m.CreateOverride(ctx, "tenant-2", OverrideInput{UserID: user, PermissionID: p.ID, Reason: &reason}, "admin"); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}

	r := m.Resolver()
	ok, err := r.HasPermission(ctx, "tenant-2", user, "FINANCE", "READ")
	if err != nil || !ok {
		t.Fatalf("expected permission in the user's own tenant, ok=%v err=%v", ok, err)
	}

	ok, err = r.HasPermission(ctx, testTenant, user, "FINANCE", "READ")
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Error("override granted in tenant-2 must not apply in tenant-1")
	}
	perms, err := r.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{IncludeInactive: true, IncludeExpired: true})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("expected nothing under another tenant, got %v", keys(perms))
	}
}

func TestResolver_InapplicableDenyWithIncludeFlags(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	p := createPermission(t, m, "EVENTS", "DELETE")
	role := createRole(t, m, "COORDINATOR", 30, p.ID)
	r := m.Resolver()
	reason := "Suspended pending review"

	// inactive DENY
	paused := insertUser(t, db, testTenant)
	if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: paused, RoleID: role.ID}, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	inactive := false
	in := OverrideInput{UserID: paused, PermissionID: p.ID, GrantType: GrantDeny, Reason: &reason, IsActive: &inactive}
	if _, err := m.CreateOverride(ctx, testTenant, in, "admin"); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}
	perms, err := r.GetEffectivePermissions(ctx, testTenant, paused, EffectiveQuery{IncludeInactive: true})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got := keys(perms); got["EVENTS:DELETE"] != 1 {
		t.Errorf("inactive DENY should not veto the role grant: %v", got)
	}

	// expired DENY
	lapsed := insertUser(t, db, testTenant)
	if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: lapsed, RoleID: role.ID}, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	in = OverrideInput{UserID: lapsed, PermissionID: p.ID, GrantType: GrantDeny, Reason: &reason}
	if _, err := m.CreateOverride(ctx, testTenant, in, "admin"); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}
	expire(t, db, "user_permission_overrides", "user_id = $2", lapsed)
	perms, err = r.GetEffectivePermissions(ctx, testTenant, lapsed, EffectiveQuery{IncludeExpired: true})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got := keys(perms); got["EVENTS:DELETE"] != 1 {
		t.Errorf("expired DENY should not veto the role grant: %v", got)
	}
	ok, err := r.HasPermission(ctx, testTenant, lapsed, "EVENTS", "DELETE")
	if err != nil || !ok {
		t.Errorf("expected permission once the DENY has lapsed, ok=%v err=%v", ok, err)
	}
}

func TestResolver_IncludeFlags(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	p1 := createPermission(t, m, "EVENTS", "CREATE")
	p2 := createPermission(t, m, "EVENTS", "DELETE")
	role := createRole(t, m, "COORDINATOR", 30, p1.ID, p2.ID)
	user := insertUser(t, db, testTenant)
	if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: user, RoleID: role.ID}, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	expire(t, db, "role_permissions", "permission_id = $2", p2.ID)

	r := m.Resolver()
	perms, err := r.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got := keys(perms); len(got) != 1 || got["EVENTS:CREATE"] != 1 {
		t.Errorf("expired grant should be excluded: %v", got)
	}

	perms, err = r.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{IncludeExpired: true})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got := keys(perms); len(got) != 2 {
		t.Errorf("includeExpired should return the expired grant: %v", got)
	}

	inactive := false
	if _, err := m.UpdateAssignment(ctx, testTenant, user, role.ID, AssignmentPatch{IsActive: &inactive}, "admin"); err != nil {
		t.Fatalf("UpdateAssignment: %v", err)
	}
	perms, err = r.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("inactive assignment should contribute nothing: %v", keys(perms))
	}

	perms, err = r.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{IncludeInactive: true})
	if err != nil {
		t.Fatalf("GetEffectivePermissions: %v", err)
	}
	if got := keys(perms); len(got) != 1 || got["EVENTS:CREATE"] != 1 {
		t.Errorf("includeInactive should return the inactive assignment's active grant: %v", got)
	}
	for _, p := range perms {
		if !p.IsActive {
			t.Errorf("grant itself is active: %+v", p)
		}
	}
}

func TestResolver_RoleHierarchy(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	p := createPermission(t, m, "EVENTS", "CREATE")
	createRole(t, m, "USHER", 50)
	createRole(t, m, "PASTOR", 10, p.ID)
	if _, err := m.CreateRole(ctx, testTenant, CreateRoleInput{Name: "Root", Code: "ROOT", IsSystem: true}, "admin"); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	retired := createRole(t, m, "RETIRED", 70)
	if _, err := m.DeleteRole(ctx, testTenant, retired.ID, DeleteRoleInput{DeletedByID: "admin"}); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}

	roles, err := m.Resolver().GetRoleHierarchy(ctx, testTenant, HierarchyQuery{})
	if err != nil {
		t.Fatalf("GetRoleHierarchy: %v", err)
	}
	if len(roles) != 2 || roles[0].Code != "PASTOR" || roles[1].Code != "USHER" {
		t.Fatalf("unexpected hierarchy: %d roles", len(roles))
	}
	if len(roles[0].Permissions) != 1 {
		t.Errorf("expected PASTOR to carry its grant")
	}

	roles, err = m.Resolver().GetRoleHierarchy(ctx, testTenant, HierarchyQuery{IncludeSystem: true})
	if err != nil {
		t.Fatalf("GetRoleHierarchy: %v", err)
	}
	if len(roles) != 3 || roles[0].Code != "ROOT" {
		t.Errorf("expected system role first when included, got %d roles", len(roles))
	}
}

func TestResolver_CacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, db, rec := newTestManager(t)
	permCache := cache.New[[]EffectivePermission](client, cache.Config{Prefix: "test"}, nil, observability.NopLogger())
	resolver := NewResolver(db, permCache, nil, observability.NopLogger())
	m := NewManager(db, resolver, rec, observability.NopLogger())
	ctx := context.Background()

	p1 := createPermission(t, m, "EVENTS", "CREATE")
	p2 := createPermission(t, m, "EVENTS", "DELETE")
	role := createRole(t, m, "COORDINATOR", 30, p1.ID)
	user := insertUser(t, db, testTenant)
	if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: user, RoleID: role.ID}, "admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	perms, err := resolver.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if err != nil || len(perms) != 1 {
		t.Fatalf("expected one permission, got %d (err %v)", len(perms), err)
	}

	// a write behind the manager's back is not seen until invalidated
	if _, err := linkPermissions(ctx, m.Store(), role.ID, []string{p2.ID}, nil, time.Now().UTC()); err != nil {
		t.Fatalf("linkPermissions: %v", err)
	}
	perms, _ = resolver.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if len(perms) != 1 {
		t.Fatalf("expected cached result, got %d permissions", len(perms))
	}
	resolver.InvalidateUser(ctx, testTenant, user)
	perms, _ = resolver.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if len(perms) != 2 {
		t.Fatalf("expected fresh result after invalidation, got %d permissions", len(perms))
	}

	// manager mutations invalidate on their own
	if _, err := m.RemovePermissions(ctx, testTenant, role.ID, []string{p2.ID}); err != nil {
		t.Fatalf("RemovePermissions: %v", err)
	}
	perms, _ = resolver.GetEffectivePermissions(ctx, testTenant, user, EffectiveQuery{})
	if len(perms) != 1 {
		t.Errorf("expected removal to invalidate the cache, got %d permissions", len(perms))
	}
	if len(mr.Keys()) == 0 {
		t.Error("expected permission sets to be written to redis")
	}
}
