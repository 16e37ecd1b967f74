package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/communitysync"
	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
	"github.com/platinummonkey/flock/pkg/members"
)

// MemberHandlers serves member, signup and community sync routes
type MemberHandlers struct {
	members      *members.Service
	orchestrator *communitysync.Orchestrator
}

// NewMemberHandlers creates member handlers
func NewMemberHandlers(service *members.Service, orchestrator *communitysync.Orchestrator) *MemberHandlers {
	return &MemberHandlers{members: service, orchestrator: orchestrator}
}

// RegisterRoutes registers member routes
func (h *MemberHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/signup", h.signup).Methods(http.MethodPost)

	r.HandleFunc("/members", h.createMember).Methods(http.MethodPost)
	r.HandleFunc("/members", h.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}", h.getMember).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}", h.updateMember).Methods(http.MethodPut)
	r.HandleFunc("/members/{id}", h.deleteMember).Methods(http.MethodDelete)
	r.HandleFunc("/members/{id}/sync", h.syncMember).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/communities", h.assignCommunities).Methods(http.MethodPost)
}

// signup handles POST /signup
func (h *MemberHandlers) signup(w http.ResponseWriter, r *http.Request) {
	var req members.SignupInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.BranchID == nil {
		req.BranchID = contextkeys.GetBranchIDPtr(r.Context())
	}
	ctx := r.Context()
	result, err := h.members.Signup(ctx, contextkeys.GetTenantID(ctx), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Signup completed successfully", result)
}

// createMember handles POST /members
func (h *MemberHandlers) createMember(w http.ResponseWriter, r *http.Request) {
	var req members.CreateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.BranchID == nil {
		req.BranchID = contextkeys.GetBranchIDPtr(r.Context())
	}
	ctx := r.Context()
	result, err := h.members.CreateMember(ctx, contextkeys.GetTenantID(ctx), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Member created successfully", result)
}

// listMembers handles GET /members
// Query params: branchId, memberStatus, gender, profession, search
func (h *MemberHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := members.ListFilter{
		BranchID:     branchFilter(r),
		MemberStatus: httputil.ParseQueryString(r, "memberStatus", ""),
		Gender:       httputil.ParseQueryString(r, "gender", ""),
		Profession:   httputil.ParseQueryString(r, "profession", ""),
		Search:       httputil.ParseQueryString(r, "search", ""),
	}

	ctx := r.Context()
	result, err := h.members.ListMembers(ctx, contextkeys.GetTenantID(ctx), filter, page)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WritePage(w, "Members retrieved successfully", result.Items, result.Pagination)
}

// lookup loads the member named in the path, scoped to the caller's branch
// when one is set
func (h *MemberHandlers) lookup(w http.ResponseWriter, r *http.Request) (*members.Member, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return nil, false
	}
	ctx := r.Context()
	m, err := h.members.GetMember(ctx, contextkeys.GetTenantID(ctx), id, contextkeys.GetBranchIDPtr(ctx))
	if err != nil {
		httputil.WriteError(w, r, err)
		return nil, false
	}
	return m, true
}

// getMember handles GET /members/{id}
func (h *MemberHandlers) getMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteOK(w, "Member retrieved successfully", m)
}

// updateMember handles PUT /members/{id}
func (h *MemberHandlers) updateMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req members.UpdateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	result, err := h.members.UpdateMember(ctx, contextkeys.GetTenantID(ctx), m.ID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Member updated successfully", result)
}

// deleteMember handles DELETE /members/{id}
func (h *MemberHandlers) deleteMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.members.DeleteMember(ctx, contextkeys.GetTenantID(ctx), m.ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Member deleted successfully", nil)
}

// syncMember handles POST /members/{id}/sync. The body names the profile
// attributes to sync; the member's own branch scopes community creation.
func (h *MemberHandlers) syncMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req members.ProfileChanges
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	steps := h.orchestrator.SyncCommunity(ctx, contextkeys.GetTenantID(ctx), m.ID, req, m.BranchID)
	httputil.WriteOK(w, "Member successfully synced to applicable communities", steps)
}

// assignCommunities handles POST /members/{id}/communities
func (h *MemberHandlers) assignCommunities(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req communitysync.Assignment
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CellCommunityID == nil && req.TribeCommunityID == nil &&
		req.ProfessionCommunityID == nil && req.MinistryCommunityID == nil {
		httputil.WriteBadRequest(w, "At least one community is required")
		return
	}
	ctx := r.Context()
	steps := h.orchestrator.AssignCommunities(ctx, contextkeys.GetTenantID(ctx), m.ID, req)
	httputil.WriteOK(w, "Member communities updated", steps)
}
