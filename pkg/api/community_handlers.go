package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
	"github.com/platinummonkey/flock/pkg/membership"
	"github.com/platinummonkey/flock/pkg/paging"
)

// CommunityHandlers serves the community and community member routes
type CommunityHandlers struct {
	resolver *community.Resolver
	engine   *membership.Engine
}

// NewCommunityHandlers creates community handlers
func NewCommunityHandlers(resolver *community.Resolver, engine *membership.Engine) *CommunityHandlers {
	return &CommunityHandlers{resolver: resolver, engine: engine}
}

// RegisterRoutes registers community routes
func (h *CommunityHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/communities", h.createCommunity).Methods(http.MethodPost)
	r.HandleFunc("/communities", h.listCommunities).Methods(http.MethodGet)
	r.HandleFunc("/communities/{id}", h.getCommunity).Methods(http.MethodGet)
	r.HandleFunc("/communities/{id}", h.updateCommunity).Methods(http.MethodPut)
	r.HandleFunc("/communities/{id}", h.deleteCommunity).Methods(http.MethodDelete)
	r.HandleFunc("/communities/{id}/archive", h.archiveCommunity).Methods(http.MethodPost)

	r.HandleFunc("/communities/{id}/members", h.addMembers).Methods(http.MethodPost)
	r.HandleFunc("/communities/{id}/members", h.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/communities/{id}/members/{memberId}", h.getMember).Methods(http.MethodGet)
	r.HandleFunc("/communities/{id}/members/{memberId}", h.updateMember).Methods(http.MethodPut)
	r.HandleFunc("/communities/{id}/members/{memberId}", h.removeMember).Methods(http.MethodDelete)
}

// branchFilter prefers an explicit branchId query parameter over the
// X-Branch-ID header
func branchFilter(r *http.Request) string {
	if b := httputil.ParseQueryString(r, "branchId", ""); b != "" {
		return b
	}
	if b := contextkeys.GetBranchIDPtr(r.Context()); b != nil {
		return *b
	}
	return ""
}

func branchPtr(r *http.Request) *string {
	if b := branchFilter(r); b != "" {
		return &b
	}
	return nil
}

// createCommunity handles POST /communities
func (h *CommunityHandlers) createCommunity(w http.ResponseWriter, r *http.Request) {
	var req community.CreateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.BranchID == nil {
		req.BranchID = contextkeys.GetBranchIDPtr(r.Context())
	}

	ctx := r.Context()
	var creator *string
	if userID := contextkeys.GetUserID(ctx); userID != "" {
		creator = &userID
	}
	c, err := h.resolver.Create(ctx, contextkeys.GetTenantID(ctx), req, creator)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Community created successfully", c)
}

// listCommunities handles GET /communities
// Query params: branchId, memberId, type, status, profession, gender, month,
// search, includeArchived, sort
func (h *CommunityHandlers) listCommunities(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := community.ListFilter{
		BranchID:   branchFilter(r),
		MemberID:   httputil.ParseQueryString(r, "memberId", ""),
		Type:       community.Type(strings.ToUpper(httputil.ParseQueryString(r, "type", ""))),
		Status:     community.Status(strings.ToUpper(httputil.ParseQueryString(r, "status", ""))),
		Profession: httputil.ParseQueryString(r, "profession", ""),
		Gender:     httputil.ParseQueryString(r, "gender", ""),
		Month:      httputil.ParseQueryString(r, "month", ""),
		Search:     httputil.ParseQueryString(r, "search", ""),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		httputil.WriteBadRequest(w, "Invalid community type")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteBadRequest(w, "Invalid community status")
		return
	}
	if filter.IncludeArchived, err = httputil.ParseQueryBool(r, "includeArchived", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	sort := paging.ParseSort(httputil.ParseQueryString(r, "sort", ""), paging.Sort{Field: "createdAt", Desc: true})

	ctx := r.Context()
	result, err := h.resolver.List(ctx, contextkeys.GetTenantID(ctx), filter, page, sort)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WritePage(w, "Communities retrieved successfully", result.Items, result.Pagination)
}

// getCommunity handles GET /communities/{id}
func (h *CommunityHandlers) getCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	c, err := h.resolver.Get(ctx, contextkeys.GetTenantID(ctx), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community retrieved successfully", c)
}

// updateCommunity handles PUT /communities/{id}
func (h *CommunityHandlers) updateCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req community.UpdateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	c, err := h.resolver.Update(ctx, contextkeys.GetTenantID(ctx), id, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community updated successfully", c)
}

// deleteCommunity handles DELETE /communities/{id}
func (h *CommunityHandlers) deleteCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.resolver.Delete(ctx, contextkeys.GetTenantID(ctx), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community deleted successfully", nil)
}

// archiveCommunity handles POST /communities/{id}/archive
func (h *CommunityHandlers) archiveCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	c, err := h.resolver.Archive(ctx, contextkeys.GetTenantID(ctx), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community archived successfully", c)
}

type addMembersRequest struct {
	MemberIDs     []string          `json:"membersIds"`
	Role          membership.Role   `json:"role"`
	Status        membership.Status `json:"status"`
	Notes         *string           `json:"notes"`
	NotifyLeaders bool              `json:"notifyLeaders"`
}

// addMembers handles POST /communities/{id}/members. The response carries a
// per-member report; individual failures do not fail the request.
func (h *CommunityHandlers) addMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req addMembersRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.MemberIDs) == 0 {
		httputil.WriteBadRequest(w, "At least one member is required")
		return
	}

	ctx := r.Context()
	reports, err := h.engine.AddMembers(ctx, contextkeys.GetTenantID(ctx), id, req.MemberIDs, membership.AddOptions{
		Role:          req.Role,
		Status:        req.Status,
		Notes:         req.Notes,
		NotifyLeaders: req.NotifyLeaders,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, "Community members processed", reports)
}

// listMembers handles GET /communities/{id}/members
// Query params: role, status, search, sort (default joinedAt desc)
func (h *CommunityHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := membership.ListFilter{
		Role:   membership.Role(strings.ToUpper(httputil.ParseQueryString(r, "role", ""))),
		Status: membership.Status(strings.ToUpper(httputil.ParseQueryString(r, "status", ""))),
		Search: httputil.ParseQueryString(r, "search", ""),
	}
	if filter.Role != "" && !filter.Role.Valid() {
		httputil.WriteBadRequest(w, "Invalid community role")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteBadRequest(w, "Invalid membership status")
		return
	}
	sort := paging.ParseSort(httputil.ParseQueryString(r, "sort", ""), paging.Sort{Field: "joinedAt", Desc: true})

	ctx := r.Context()
	result, err := h.engine.List(ctx, contextkeys.GetTenantID(ctx), id, filter, page, sort)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WritePage(w, "Community members retrieved successfully", result.Items, result.Pagination)
}

func memberPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return "", "", false
	}
	memberID, ok := httputil.ParsePathStringOrError(w, r, "memberId")
	if !ok {
		return "", "", false
	}
	return id, memberID, true
}

// getMember handles GET /communities/{id}/members/{memberId}
func (h *CommunityHandlers) getMember(w http.ResponseWriter, r *http.Request) {
	id, memberID, ok := memberPath(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	row, err := h.engine.Get(ctx, contextkeys.GetTenantID(ctx), id, memberID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community member retrieved successfully", row)
}

// updateMember handles PUT /communities/{id}/members/{memberId}
func (h *CommunityHandlers) updateMember(w http.ResponseWriter, r *http.Request) {
	id, memberID, ok := memberPath(w, r)
	if !ok {
		return
	}
	var req membership.UpdateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	row, err := h.engine.UpdateMember(ctx, contextkeys.GetTenantID(ctx), id, memberID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community member updated successfully", row)
}

// removeMember handles DELETE /communities/{id}/members/{memberId}
func (h *CommunityHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	id, memberID, ok := memberPath(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.engine.RemoveMember(ctx, contextkeys.GetTenantID(ctx), id, memberID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community member removed successfully", nil)
}
