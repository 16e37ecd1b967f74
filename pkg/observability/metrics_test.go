package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordMembership("add", nil)
	m.RecordMembership("add", errors.New("boom"))
	m.RecordSyncStep("PROFESSION", "member_lookup", true)
	m.RecordPermissionSource("ROLE", 3)
	m.RecordPermissionSource("OVERRIDE", 0)
	m.RecordCacheHit("l1")
	m.RecordCacheMiss()
	m.RecordJobRun("expiry_sweep", nil)
	m.RecordDBStats(sql.DBStats{OpenConnections: 4, InUse: 1, Idle: 3})

	if got := testutil.ToFloat64(m.MembershipOperationsTotal.WithLabelValues("add", "error")); got != 1 {
		t.Errorf("Expected 1 failed add, got %v", got)
	}
	if got := testutil.ToFloat64(m.PermissionResolutions.WithLabelValues("ROLE")); got != 3 {
		t.Errorf("Expected 3 role resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SyncStepsTotal.WithLabelValues("PROFESSION", "member_lookup", "true")); got != 1 {
		t.Errorf("Expected 1 sync step, got %v", got)
	}
	if got := testutil.ToFloat64(m.DBConnectionsIdle); got != 3 {
		t.Errorf("Expected 3 idle connections, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordMembership("add", nil)
	m.RecordCacheMiss()
	m.RecordDBStats(sql.DBStats{})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/communities/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/communities/abc", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/communities/{id}", "404")); got != 1 {
		t.Errorf("Expected request to be counted under the route template, got %v", got)
	}

	rec = httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "flock_http_requests_total") {
		t.Error("Expected metrics endpoint to expose flock_http_requests_total")
	}
}
