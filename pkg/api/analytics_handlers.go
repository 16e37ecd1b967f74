package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
)

// AnalyticsHandlers provides community analytics endpoints
type AnalyticsHandlers struct {
	analytics *community.Analytics
}

// NewAnalyticsHandlers creates a new analytics handlers instance
func NewAnalyticsHandlers(analytics *community.Analytics) *AnalyticsHandlers {
	return &AnalyticsHandlers{analytics: analytics}
}

// RegisterRoutes registers analytics routes. The membership route is
// registered before {id} so it is not captured as a community id.
func (h *AnalyticsHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/analytics/communities", h.getCore).Methods(http.MethodGet)
	r.HandleFunc("/analytics/communities/membership", h.getMembership).Methods(http.MethodGet)
	r.HandleFunc("/analytics/communities/{id}", h.getDetail).Methods(http.MethodGet)
}

// getCore handles GET /analytics/communities
// Query params:
//   - branchId: restrict to one branch (falls back to X-Branch-ID)
func (h *AnalyticsHandlers) getCore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.analytics.Core(ctx, contextkeys.GetTenantID(ctx), branchPtr(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community analytics retrieved successfully", result)
}

// getMembership handles GET /analytics/communities/membership
func (h *AnalyticsHandlers) getMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.analytics.Membership(ctx, contextkeys.GetTenantID(ctx), branchPtr(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Membership analytics retrieved successfully", result)
}

// getDetail handles GET /analytics/communities/{id}
func (h *AnalyticsHandlers) getDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	result, err := h.analytics.Detail(ctx, contextkeys.GetTenantID(ctx), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Community detail analytics retrieved successfully", result)
}
