// Package middleware provides the HTTP middleware chain for the flock API:
// request ids, tenant context from caller headers, structured request
// logging, panic recovery and per-tenant rate limiting.
package middleware
