// Package contextkeys provides centralized context key definitions.
//
// All request-scoped values the service reads back out of a context are
// keyed here so that producers and consumers agree on names and types.
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantIDKey contains the tenant being served
	// Set by: middleware.TenantContext from X-Tenant-ID
	// Required by: every /api/v1 handler
	// Type: string
	TenantIDKey Key = "tenant_id"

	// BranchIDKey contains the caller's branch, when one was sent
	// Set by: middleware.TenantContext from X-Branch-ID
	// Type: string
	BranchIDKey Key = "branch_id"

	// UserIDKey contains the acting user
	// Set by: middleware.TenantContext from X-User-ID
	// Used by: audit trail, createdBy/grantedBy attribution, RBAC middleware
	// Type: string
	UserIDKey Key = "user_id"

	// RequestIDKey contains the request ID (UUID)
	// Set by: middleware.RequestID
	// Type: string
	RequestIDKey Key = "request_id"

	// RequestStartTimeKey contains the request start timestamp
	// Set by: middleware.RequestID
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithTenantID adds the tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithBranchID adds the branch ID to the context
func WithBranchID(ctx context.Context, branchID string) context.Context {
	return context.WithValue(ctx, BranchIDKey, branchID)
}

// WithUserID adds the acting user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithRequestStartTime adds the request start time to the context
func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

// GetTenantID retrieves the tenant ID from context
func GetTenantID(ctx context.Context) string {
	return stringValue(ctx, TenantIDKey)
}

// GetBranchID retrieves the branch ID from context
func GetBranchID(ctx context.Context) string {
	return stringValue(ctx, BranchIDKey)
}

// GetBranchIDPtr returns the branch ID or nil when none was sent
func GetBranchIDPtr(ctx context.Context) *string {
	if id := GetBranchID(ctx); id != "" {
		return &id
	}
	return nil
}

// GetUserID retrieves the acting user ID from context
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}

func stringValue(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
