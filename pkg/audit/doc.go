// Package audit records an append-only trail of role, permission, community
// and membership mutations.
//
// Loggers implement Logger. DBLogger writes to the audit_logs table and can
// search and purge it, SlogLogger writes structured application log lines,
// and MultiLogger fans an event out to several loggers. Callers use Record,
// which never propagates a failed write:
//
//	audit.Record(ctx, logger, audit.NewEvent(ctx, audit.EventTypeRoleCreate,
//		audit.ResourceTypeRole, role.ID).WithMessage("role created"))
package audit
