package rbac

import (
	"context"
	"testing"

	"github.com/platinummonkey/flock/pkg/audit"
)

func TestManager_SweepExpired(t *testing.T) {
	m, db, rec := newTestManager(t)
	ctx := context.Background()
	p1 := createPermission(t, m, "EVENTS", "CREATE")
	p2 := createPermission(t, m, "EVENTS", "DELETE")
	role := createRole(t, m, "COORDINATOR", 30, p1.ID, p2.ID)
	user := insertUser(t, db, testTenant)
	other := insertUser(t, db, testTenant)

	for _, u := range []string{user, other} {
		if _, err := m.AssignRole(ctx, testTenant, AssignRoleInput{UserID: u, RoleID: role.ID}, "admin"); err != nil {
			t.Fatalf("AssignRole: %v", err)
		}
	}
	reason := "Temporary event access"
	if _, err := m.CreateOverride(ctx, testTenant, OverrideInput{UserID: user, PermissionID: p2.ID, Reason: &reason}, "admin"); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}

	expire(t, db, "user_roles", "user_id = $2", user)
	expire(t, db, "role_permissions", "permission_id = $2", p2.ID)
	expire(t, db, "user_permission_overrides", "user_id = $2", user)

	result, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if result.Assignments != 1 || result.Grants != 1 || result.Overrides != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if result.Users != 1 || result.Tenants != 1 {
		t.Errorf("unexpected invalidation counts: %+v", result)
	}

	a, err := m.Store().GetAssignment(ctx, user, role.ID)
	if err != nil || a == nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if a.IsActive {
		t.Error("expired assignment should be inactive")
	}
	a, _ = m.Store().GetAssignment(ctx, other, role.ID)
	if a == nil || !a.IsActive {
		t.Error("unexpired assignment should stay active")
	}

	again, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second SweepExpired: %v", err)
	}
	if again != (SweepResult{}) {
		t.Errorf("second sweep should change nothing, got %+v", again)
	}
	if n := rec.count(audit.EventTypeExpirySweep); n != 1 {
		t.Errorf("expected one sweep audit event, got %d", n)
	}
}
