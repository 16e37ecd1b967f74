package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/communitysync"
	"github.com/platinummonkey/flock/pkg/database/databasetest"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/membership"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/rbac"
)

const (
	tenant = "T1"
	branch = "B1"
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

type testServer struct {
	*Server
	resolver *community.Resolver
	members  *members.Service
}

func newTestServer(t *testing.T, enforce bool) *testServer {
	t.Helper()
	db := databasetest.Open(t)
	logger := observability.NopLogger()

	auditStore, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	engine := membership.NewEngine(db, membership.Config{Audit: auditStore, Logger: logger})
	resolver := community.NewResolver(db, engine, auditStore, logger)
	memberSvc := members.NewService(db, nil, logger)
	orchestrator := communitysync.NewOrchestrator(resolver, engine, memberSvc.Store(), nil, logger)
	memberSvc.SetSyncer(orchestrator)

	manager := rbac.NewManager(db, nil, auditStore, logger)
	deps := Deps{
		Communities:  resolver,
		Analytics:    community.NewAnalytics(db),
		Engine:       engine,
		Members:      memberSvc,
		Orchestrator: orchestrator,
		RBAC:         manager,
		Health:       observability.NewHealthChecker(db, nil, "test"),
		Logger:       logger,
	}
	if enforce {
		deps.Guard = rbac.NewPermissionMiddleware(manager.Resolver(), auditStore)
	}
	return &testServer{
		Server:   NewServer(deps, audit.NewHandlers(auditStore)),
		resolver: resolver,
		members:  memberSvc,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenant)
	req.Header.Set("X-User-ID", "admin")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
		} else {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

func strPtr(s string) *string { return &s }

func TestServer_RequiresTenant(t *testing.T) {
	s := newTestServer(t, false)
	code, env := s.do(t, http.MethodGet, "/api/v1/communities", nil, map[string]string{"X-Tenant-ID": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "X-Tenant-ID header is required", env.Message)
}

func TestServer_HealthOutsidePrefix(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCommunityHandlers_Lifecycle(t *testing.T) {
	s := newTestServer(t, false)
	headers := map[string]string{"X-Branch-ID": branch}

	code, env := s.do(t, http.MethodPost, "/api/v1/communities", map[string]interface{}{
		"type":     "CELL",
		"name":     "Lagos Island",
		"location": "Lagos",
	}, headers)
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "Community created successfully", env.Message)
	c := decode[community.Community](t, env)
	require.NotNil(t, c.BranchID)
	assert.Equal(t, branch, *c.BranchID)
	require.NotNil(t, c.CreatedBy)
	assert.Equal(t, "admin", *c.CreatedBy)

	code, env = s.do(t, http.MethodPost, "/api/v1/communities", map[string]interface{}{
		"type": "CELL", "name": "Lagos Island", "location": "Lagos",
	}, headers)
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/communities", map[string]interface{}{
		"type": "CELL", "name": "No Location",
	}, headers)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "location is required for CELL communities", env.Message)

	code, env = s.do(t, http.MethodGet, "/api/v1/communities/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Community retrieved successfully", env.Message)

	code, env = s.do(t, http.MethodPut, "/api/v1/communities/"+c.ID, map[string]interface{}{"name": "Lagos Mainland"}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "Lagos Mainland", decode[community.Community](t, env).Name)

	code, env = s.do(t, http.MethodGet, "/api/v1/communities?type=cell&search=mainland", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.Total)

	code, _ = s.do(t, http.MethodGet, "/api/v1/communities?type=UNKNOWN", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/communities/"+c.ID+"/archive", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, decode[community.Community](t, env).ArchivedAt)

	code, env = s.do(t, http.MethodGet, "/api/v1/communities", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Pagination.Total)

	code, env = s.do(t, http.MethodGet, "/api/v1/communities?includeArchived=true", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Pagination.Total)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/communities/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/communities/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCommunityHandlers_Members(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, false)

	c, err := s.resolver.Create(ctx, tenant, community.CreateInput{
		BranchID: strPtr(branch), Type: community.TypeInterest, Name: "Choir",
	}, nil)
	require.NoError(t, err)
	m, err := s.members.CreateMember(ctx, tenant, members.CreateInput{
		BranchID: strPtr(branch), FirstName: "Ada", LastName: "Obi", Email: "ada@example.com",
	})
	require.NoError(t, err)
	path := "/api/v1/communities/" + c.ID + "/members"

	code, env := s.do(t, http.MethodPost, path, map[string]interface{}{"membersIds": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, path, map[string]interface{}{
		"membersIds": []string{m.Member.ID, "missing"},
		"role":       "LEADER",
	}, nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	reports := decode[[]membership.Report](t, env)
	require.Len(t, reports, 2)
	assert.Equal(t, membership.ReportSuccess, reports[0].Status)
	assert.Equal(t, membership.ReportFailed, reports[1].Status)

	code, env = s.do(t, http.MethodGet, path+"?role=leader", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Pagination.Total)
	views := decode[[]membership.MemberView](t, env)
	require.Len(t, views, 1)
	assert.Equal(t, "Ada", views[0].FirstName)

	code, _ = s.do(t, http.MethodGet, path+"?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPut, path+"/"+m.Member.ID, map[string]interface{}{"role": "ASSISTANT_LEADER"}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, membership.RoleAssistantLeader, decode[membership.Membership](t, env).Role)

	code, env = s.do(t, http.MethodGet, "/api/v1/analytics/communities/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decode[community.DetailAnalytics](t, env)
	assert.Equal(t, 1, detail.MemberCountPerRole.AssistantLeaders)

	code, _ = s.do(t, http.MethodDelete, path+"/"+m.Member.ID, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, path+"/"+m.Member.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/communities/missing/members", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAnalyticsHandlers(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, false)
	for _, name := range []string{"Choir", "Ushers"} {
		_, err := s.resolver.Create(ctx, tenant, community.CreateInput{
			BranchID: strPtr(branch), Type: community.TypeInterest, Name: name,
		}, nil)
		require.NoError(t, err)
	}
	_, err := s.resolver.Create(ctx, tenant, community.CreateInput{
		BranchID: strPtr("B2"), Type: community.TypeInterest, Name: "Elsewhere",
	}, nil)
	require.NoError(t, err)

	code, env := s.do(t, http.MethodGet, "/api/v1/analytics/communities", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, decode[community.CoreAnalytics](t, env).Total)

	code, env = s.do(t, http.MethodGet, "/api/v1/analytics/communities?branchId="+branch, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, decode[community.CoreAnalytics](t, env).Total)

	code, env = s.do(t, http.MethodGet, "/api/v1/analytics/communities/membership", nil, map[string]string{"X-Branch-ID": "B2"})
	require.Equal(t, http.StatusOK, code)
	membershipStats := decode[community.MembershipAnalytics](t, env)
	assert.Len(t, membershipStats.Communities, 1)
	assert.Equal(t, 1, membershipStats.EmptyCommunities)

	code, env = s.do(t, http.MethodGet, "/api/v1/analytics/communities/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Community not found", env.Message)
}

func TestMemberHandlers_CreateSyncsProfession(t *testing.T) {
	s := newTestServer(t, false)
	headers := map[string]string{"X-Branch-ID": branch}

	code, env := s.do(t, http.MethodPost, "/api/v1/members", map[string]interface{}{
		"firstName":  "Ada",
		"lastName":   "Obi",
		"email":      "ada@example.com",
		"profession": "SOFTWARE_ENGINEER",
	}, headers)
	require.Equal(t, http.StatusCreated, code, env.Message)
	result := decode[members.Result](t, env)
	require.NotNil(t, result.Member.BranchID)
	assert.Equal(t, branch, *result.Member.BranchID)

	var added bool
	for _, step := range result.Sync {
		if step.Step == "add_profession_membership" {
			added = step.Success
		}
	}
	assert.True(t, added, "sync: %+v", result.Sync)

	code, env = s.do(t, http.MethodGet, "/api/v1/communities?type=PROFESSION", nil, nil)
	require.Equal(t, http.StatusOK, code)
	communities := decode[[]community.Community](t, env)
	require.Len(t, communities, 1)
	assert.Equal(t, "Software Engineer profession community", communities[0].Name)

	code, env = s.do(t, http.MethodGet, "/api/v1/members/"+result.Member.ID, nil, headers)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/members/"+result.Member.ID, nil, map[string]string{"X-Branch-ID": "B2"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/members?search=ada", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Pagination.Total)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/members/"+result.Member.ID, nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/members/"+result.Member.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMemberHandlers_SyncAndAssign(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, false)

	created, err := s.members.CreateMember(ctx, tenant, members.CreateInput{
		BranchID: strPtr(branch), FirstName: "Ada", LastName: "Obi", Email: "ada@example.com",
	})
	require.NoError(t, err)
	id := created.Member.ID

	code, env := s.do(t, http.MethodPost, "/api/v1/members/"+id+"/sync", map[string]interface{}{}, nil)
	require.Equal(t, http.StatusOK, code)
	steps := decode[[]members.SyncStep](t, env)
	require.Len(t, steps, 1)
	assert.Equal(t, communitysync.SkippedMessage, steps[0].Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/members/"+id+"/sync", map[string]interface{}{"gender": "female"}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Member successfully synced to applicable communities", env.Message)

	target, err := s.resolver.Create(ctx, tenant, community.CreateInput{
		BranchID: strPtr(branch), Type: community.TypeCell, Name: "Ikoyi", Location: strPtr("Ikoyi"),
	}, nil)
	require.NoError(t, err)

	code, _ = s.do(t, http.MethodPost, "/api/v1/members/"+id+"/communities", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/members/"+id+"/communities", map[string]interface{}{
		"cellCommunityId": target.ID,
	}, nil)
	require.Equal(t, http.StatusOK, code)
	steps = decode[[]members.SyncStep](t, env)
	var added bool
	for _, step := range steps {
		if step.Step == "add_cell_membership" {
			added = step.Success
		}
	}
	assert.True(t, added, "steps: %+v", steps)

	code, _ = s.do(t, http.MethodPost, "/api/v1/members/missing/sync", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMemberHandlers_Signup(t *testing.T) {
	s := newTestServer(t, false)
	code, env := s.do(t, http.MethodPost, "/api/v1/signup", map[string]interface{}{
		"email":     "NEW@example.com",
		"firstName": "New",
		"lastName":  "Member",
	}, nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	result := decode[members.SignupResult](t, env)
	require.NotNil(t, result.Member.UserID)
	assert.Equal(t, result.User.ID, *result.Member.UserID)
	assert.Equal(t, "new@example.com", result.User.Email)

	code, _ = s.do(t, http.MethodPost, "/api/v1/signup", map[string]interface{}{"firstName": "No"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_AuditAndGuardedRBAC(t *testing.T) {
	s := newTestServer(t, true)

	code, env := s.do(t, http.MethodGet, "/api/v1/rbac/roles", nil, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Access denied: insufficient permissions", env.Message)

	code, env = s.do(t, http.MethodGet, "/api/v1/audit/events?event_type=rbac.access_denied", nil, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.NotEmpty(t, events)
}
