package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/middleware"
)

type envelope struct {
	Success    bool            `json:"success"`
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

func newTestRouter(t *testing.T, m *Manager, guard *PermissionMiddleware) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	router.Use(middleware.TenantContext)
	NewHandlers(m).RegisterRoutes(router, guard)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", testTenant)
	req.Header.Set("X-User-ID", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	m, _, _ := newTestManager(t)
	router := newTestRouter(t, m, nil)
	p := createPermission(t, m, "EVENTS", "CREATE")

	code, env := do(t, router, http.MethodPost, "/rbac/roles", map[string]interface{}{
		"name":           "Coordinator",
		"code":           "coordinator",
		"hierarchyLevel": 30,
		"permissionIds":  []string{p.ID},
	})
	if code != http.StatusCreated || env.Message != "Role created successfully" {
		t.Fatalf("create: %d %s", code, env.Message)
	}
	var role Role
	if err := json.Unmarshal(env.Data, &role); err != nil {
		t.Fatalf("decode role: %v", err)
	}
	if role.Code != "COORDINATOR" || len(role.Permissions) != 1 {
		t.Errorf("unexpected role: %+v", role)
	}

	code, env = do(t, router, http.MethodGet, "/rbac/roles?limit=5&sort=name:asc", nil)
	if code != http.StatusOK || env.Pagination == nil || env.Pagination.Total != 1 {
		t.Fatalf("list: %d %+v", code, env)
	}

	code, env = do(t, router, http.MethodGet, "/rbac/roles/hierarchy", nil)
	if code != http.StatusOK || env.Message != "Role hierarchy retrieved successfully" {
		t.Fatalf("hierarchy: %d %s", code, env.Message)
	}

	code, _ = do(t, router, http.MethodPut, "/rbac/roles/"+role.ID, map[string]interface{}{"hierarchyLevel": 40})
	if code != http.StatusOK {
		t.Fatalf("update: %d", code)
	}

	code, env = do(t, router, http.MethodDelete, "/rbac/roles/"+role.ID, nil)
	if code != http.StatusOK || env.Message != "Role deleted successfully and related assignments deactivated" {
		t.Fatalf("delete: %d %s", code, env.Message)
	}
	if err := json.Unmarshal(env.Data, &role); err != nil {
		t.Fatalf("decode deleted role: %v", err)
	}
	if role.DeletedByID == nil || *role.DeletedByID != "admin" {
		t.Errorf("deleting user should default to the caller")
	}

	code, _ = do(t, router, http.MethodGet, "/rbac/roles/"+role.ID, nil)
	if code != http.StatusNotFound {
		t.Errorf("get deleted: status = %d, want 404", code)
	}
	code, _ = do(t, router, http.MethodPost, "/rbac/roles/"+role.ID+"/restore", nil)
	if code != http.StatusOK {
		t.Errorf("restore: status = %d", code)
	}
}

func TestHandlers_CreateRoleErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	router := newTestRouter(t, m, nil)

	code, env := do(t, router, http.MethodPost, "/rbac/roles", map[string]interface{}{
		"name": "Usher", "code": "USHER", "hierarchyLevel": 0,
	})
	if code != http.StatusBadRequest || env.Success {
		t.Errorf("zero hierarchy: status = %d", code)
	}
	if env.Message != "Non-system roles must have hierarchy level greater than 0" {
		t.Errorf("unexpected message: %s", env.Message)
	}

	code, _ = do(t, router, http.MethodGet, "/rbac/roles?isActive=maybe", nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad boolean: status = %d", code)
	}
}

func TestHandlers_PermissionsAndAssignments(t *testing.T) {
	m, db, _ := newTestManager(t)
	router := newTestRouter(t, m, nil)
	user := insertUser(t, db, testTenant)

	code, env := do(t, router, http.MethodPost, "/rbac/permissions", map[string]interface{}{
		"data": []map[string]string{{"module": "events", "action": "create"}, {"module": "events", "action": "delete"}},
	})
	if code != http.StatusCreated {
		t.Fatalf("create permissions: %d %s", code, env.Message)
	}
	var perms []Permission
	if err := json.Unmarshal(env.Data, &perms); err != nil || len(perms) != 2 {
		t.Fatalf("decode permissions: %v (%d)", err, len(perms))
	}

	code, env = do(t, router, http.MethodGet, "/rbac/permissions?module=EVENTS", nil)
	if code != http.StatusOK || env.Pagination.Total != 2 {
		t.Fatalf("list permissions: %d", code)
	}

	role := createRole(t, m, "COORDINATOR", 30)
	code, env = do(t, router, http.MethodPost, "/rbac/roles/"+role.ID+"/permissions", map[string]interface{}{
		"permissionIds": []string{perms[0].ID, "missing"},
	})
	if code != http.StatusOK {
		t.Fatalf("assign permissions: %d %s", code, env.Message)
	}
	var reports []Report
	if err := json.Unmarshal(env.Data, &reports); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(reports) != 2 || reports[0].Status != ReportSuccess || reports[1].Status != ReportFailed {
		t.Errorf("unexpected reports: %+v", reports)
	}

	code, env = do(t, router, http.MethodPost, "/rbac/users/"+user+"/roles", map[string]interface{}{"roleId": role.ID})
	if code != http.StatusCreated || env.Message != "Role assigned to user successfully" {
		t.Fatalf("assign role: %d %s", code, env.Message)
	}
	code, _ = do(t, router, http.MethodPost, "/rbac/users/"+user+"/roles", map[string]interface{}{"roleId": role.ID})
	if code != http.StatusConflict {
		t.Errorf("duplicate assignment: status = %d, want 409", code)
	}

	code, env = do(t, router, http.MethodPost, "/rbac/users/"+user+"/overrides", map[string]interface{}{
		"permissionId": perms[1].ID,
		"reason":       "Running the harvest festival",
	})
	if code != http.StatusCreated {
		t.Fatalf("create override: %d %s", code, env.Message)
	}

	code, env = do(t, router, http.MethodGet, "/rbac/users/"+user+"/permissions", nil)
	if code != http.StatusOK || env.Message != "Effective permissions retrieved successfully" {
		t.Fatalf("effective permissions: %d %s", code, env.Message)
	}
	var effective []EffectivePermission
	if err := json.Unmarshal(env.Data, &effective); err != nil {
		t.Fatalf("decode effective permissions: %v", err)
	}
	if len(effective) != 2 {
		t.Errorf("expected role grant and override, got %d", len(effective))
	}

	code, _ = do(t, router, http.MethodDelete, "/rbac/users/"+user+"/overrides/"+perms[1].ID, nil)
	if code != http.StatusOK {
		t.Errorf("remove override: status = %d", code)
	}
	code, _ = do(t, router, http.MethodDelete, "/rbac/users/"+user+"/roles/"+role.ID, nil)
	if code != http.StatusOK {
		t.Errorf("unassign role: status = %d", code)
	}
}

func TestHandlers_Guarded(t *testing.T) {
	m, db, _ := newTestManager(t)
	router := newTestRouter(t, m, NewPermissionMiddleware(m.Resolver(), nil))

	code, _ := do(t, router, http.MethodGet, "/rbac/roles", nil)
	if code != http.StatusForbidden {
		t.Fatalf("caller without permissions: status = %d, want 403", code)
	}

	// give "admin" ROLE_MANAGEMENT:READ through an ALLOW override
	p := createPermission(t, m, ModuleRoleManagement, "READ")
	insertUserWithID(t, db, testTenant, "admin")
	if _, err := m.CreateOverride(context.Background(), testTenant, OverrideInput{UserID: "admin", PermissionID: p.ID}, ""); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}

	code, _ = do(t, router, http.MethodGet, "/rbac/roles", nil)
	if code != http.StatusOK {
		t.Errorf("caller with ROLE_MANAGEMENT:READ: status = %d, want 200", code)
	}
	code, _ = do(t, router, http.MethodPost, "/rbac/roles", map[string]interface{}{"name": "Usher", "code": "USHER", "hierarchyLevel": 5})
	if code != http.StatusForbidden {
		t.Errorf("create without ROLE_MANAGEMENT:CREATE: status = %d, want 403", code)
	}
}
