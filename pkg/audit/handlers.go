package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
)

// Searcher reads back recorded events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	store Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Audit events retrieved successfully", events)
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		return SearchFilter{}, apperr.Validation("%s", err.Error())
	}

	q := r.URL.Query()
	filter := SearchFilter{
		TenantID:     contextkeys.GetTenantID(r.Context()),
		UserID:       q.Get("user_id"),
		EventType:    EventType(q.Get("event_type")),
		Status:       EventStatus(q.Get("status")),
		ResourceType: ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
		Limit:        page.Limit,
		Offset:       page.Offset(),
	}

	for key, dest := range map[string]**time.Time{"start_time": &filter.StartTime, "end_time": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return SearchFilter{}, apperr.Validation("invalid %s: must be RFC3339", key)
		}
		*dest = &t
	}
	return filter, nil
}
