package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
	"github.com/platinummonkey/flock/pkg/observability"
)

// Caller identity headers. Authentication happens upstream, so these are
// trusted as-is.
const (
	TenantIDHeader = "X-Tenant-ID"
	BranchIDHeader = "X-Branch-ID"
	UserIDHeader   = "X-User-ID"
)

// TenantContext requires X-Tenant-ID and copies the tenant, branch and user
// headers onto the request context
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantIDHeader))
		if tenantID == "" {
			httputil.WriteBadRequest(w, "X-Tenant-ID header is required")
			return
		}

		ctx := contextkeys.WithTenantID(r.Context(), tenantID)
		ctx = observability.WithTenantID(ctx, tenantID)

		if branchID := strings.TrimSpace(r.Header.Get(BranchIDHeader)); branchID != "" {
			ctx = contextkeys.WithBranchID(ctx, branchID)
		}
		if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
			ctx = contextkeys.WithUserID(ctx, userID)
			ctx = observability.WithUserID(ctx, userID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
