// Package api exposes the flock services over HTTP.
//
// # Overview
//
// Server is a gorilla/mux router. Every tenant-scoped route lives under
// /api/v1 and requires the X-Tenant-ID header; X-Branch-ID and X-User-ID
// are optional and flow into the request context. Responses use the
// httputil envelope:
//
//	{"success": true, "code": 200, "message": "...", "data": ..., "pagination": ...}
//
// Errors are mapped from apperr kinds, so a NotFound from a service becomes
// a 404 with the service's message.
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Communities:  resolver,
//		Analytics:    analytics,
//		Engine:       engine,
//		Members:      memberService,
//		Orchestrator: orchestrator,
//		RBAC:         rbacManager,
//	}, audit.NewHandlers(auditStore))
//	http.ListenAndServe(":8080", server)
//
// # Routes
//
// Communities:
//
//	POST   /api/v1/communities
//	GET    /api/v1/communities
//	GET    /api/v1/communities/{id}
//	PUT    /api/v1/communities/{id}
//	DELETE /api/v1/communities/{id}
//	POST   /api/v1/communities/{id}/archive
//	POST   /api/v1/communities/{id}/members
//	GET    /api/v1/communities/{id}/members
//	GET    /api/v1/communities/{id}/members/{memberId}
//	PUT    /api/v1/communities/{id}/members/{memberId}
//	DELETE /api/v1/communities/{id}/members/{memberId}
//
// Analytics:
//
//	GET /api/v1/analytics/communities
//	GET /api/v1/analytics/communities/membership
//	GET /api/v1/analytics/communities/{id}
//
// Members:
//
//	POST   /api/v1/signup
//	POST   /api/v1/members
//	GET    /api/v1/members
//	GET    /api/v1/members/{id}
//	PUT    /api/v1/members/{id}
//	DELETE /api/v1/members/{id}
//	POST   /api/v1/members/{id}/sync
//	POST   /api/v1/members/{id}/communities
//
// RBAC routes are registered by the rbac package under /api/v1/rbac. When a
// Guard is supplied each of them requires the matching ROLE_MANAGEMENT or
// PERMISSION_MANAGEMENT permission. Extra registrars such as the audit
// handlers (GET /api/v1/audit/events) mount on the same subrouter.
//
// Liveness and readiness probes are served at /health/live and
// /health/ready, outside the tenant prefix.
package api
