package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
	"github.com/platinummonkey/flock/pkg/observability"
)

// Checker answers single permission questions. *Resolver implements it.
type Checker interface {
	HasPermission(ctx context.Context, tenantID, userID, module, action string) (bool, error)
}

// Requirement names a (module, action) pair a route needs
type Requirement struct {
	Module string
	Action string
}

// PermissionMiddleware guards routes with effective permission checks
type PermissionMiddleware struct {
	checker Checker
	audit   audit.Logger
}

// NewPermissionMiddleware creates a new permission middleware. auditLogger
// may be nil.
func NewPermissionMiddleware(checker Checker, auditLogger audit.Logger) *PermissionMiddleware {
	if auditLogger == nil {
		auditLogger = audit.NoOp()
	}
	return &PermissionMiddleware{checker: checker, audit: auditLogger}
}

// RequirePermission lets the request through only when the calling user
// holds (module, action) in the request's tenant
func (pm *PermissionMiddleware) RequirePermission(module, action string) func(http.Handler) http.Handler {
	return pm.require(false, Requirement{Module: module, Action: action})
}

// RequireAnyPermission lets the request through when the caller holds at
// least one of the requirements
func (pm *PermissionMiddleware) RequireAnyPermission(reqs ...Requirement) func(http.Handler) http.Handler {
	return pm.require(false, reqs...)
}

// RequireAllPermissions lets the request through only when the caller
// holds every requirement
func (pm *PermissionMiddleware) RequireAllPermissions(reqs ...Requirement) func(http.Handler) http.Handler {
	return pm.require(true, reqs...)
}

func (pm *PermissionMiddleware) require(all bool, reqs ...Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantID := contextkeys.GetTenantID(ctx)
			userID := contextkeys.GetUserID(ctx)
			if tenantID == "" || userID == "" {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "Access denied: user not authenticated")
				return
			}

			allowed := all
			for _, req := range reqs {
				ok, err := pm.checker.HasPermission(ctx, tenantID, userID, req.Module, req.Action)
				if err != nil {
					observability.FromContext(ctx).WithError(err).Error("Permission check failed")
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Internal server error during permission check")
					return
				}
				if all && !ok {
					allowed = false
					break
				}
				if !all && ok {
					allowed = true
					break
				}
			}

			if !allowed {
				keys := make([]string, len(reqs))
				for i, req := range reqs {
					keys[i] = PermissionKey(req.Module, req.Action)
				}
				event := audit.NewEvent(ctx, audit.EventTypeAccessDenied, audit.ResourceTypePermission, "").
					WithTenant(tenantID).
					WithMessage(r.Method + " " + r.URL.Path).
					WithMetadata("required", keys)
				event.Status = audit.EventStatusDenied
				audit.Record(ctx, pm.audit, event)

				httputil.WriteErrorMessage(w, http.StatusForbidden, "Access denied: insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
