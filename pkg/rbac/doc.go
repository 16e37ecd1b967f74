// Package rbac provides role-based access control for tenant users.
//
// # Model
//
// Roles belong to a tenant and carry a hierarchy level between 0 and 100
// (only system roles may use 0). Permissions are global MODULE:ACTION pairs
// shared by every tenant. A role grants permissions through role
// permission grants, each with an optional branch and department scope
// ("ALL" when unset), free-form conditions and an expiry.
//
// Users hold roles through assignments and may carry per-permission
// overrides. An override is either ALLOW or DENY and must give a reason.
//
// # Effective permissions
//
// The Resolver computes a user's effective permission set:
//
//	roles     active, non-deleted roles the user is actively assigned
//	grants    active, unexpired grants of those roles
//	overrides active, unexpired overrides of the user
//
// The result is the union of role grants and ALLOW overrides, minus every
// permission with a DENY override. A DENY always wins over any grant.
// EffectiveQuery can widen the set to inactive or expired entries and
// narrow it to a single module.
//
// Results are cached per tenant, user and query in a two tier cache
// (in-process LRU in front of redis). Every mutation that can change a
// result invalidates the affected user, the whole tenant or, for global
// permission edits, everything:
//
//	resolver := rbac.NewResolver(db, permCache, metrics, logger)
//	ok, err := resolver.HasPermission(ctx, tenantID, userID, "ROLE_MANAGEMENT", "CREATE")
//
// # Administration
//
// Manager owns role, permission, grant, assignment and override mutations.
// Deleting a role is a soft delete that also deactivates its grants and
// assignments in the same transaction; RestoreRole clears the flag but does
// not reactivate them. SUPER_ADMIN is reserved and cannot be created.
//
// Bulk operations return one Report per input id so a partial failure does
// not abort the batch.
//
// SweepExpired deactivates every expired assignment, grant and override and
// invalidates cached results for the affected users and tenants. It is run
// on a schedule by the scheduler package.
//
// # HTTP
//
// Handlers exposes the administration API under /rbac. Routes can be
// guarded by a PermissionMiddleware, which checks the caller's effective
// permissions and records an audit event on every denial.
package rbac
