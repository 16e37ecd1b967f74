package rbac

import (
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/flock/pkg/apperr"
)

// ReservedRoleCode is the top-privilege code that cannot be created through
// the normal role creation path
const ReservedRoleCode = "SUPER_ADMIN"

const (
	MinHierarchyLevel = 0
	MaxHierarchyLevel = 100

	minReasonLength = 10
	maxReasonLength = 500
)

// Scope restricts where a role-permission grant applies. ALL is the default;
// any other value names a specific branch or department scope.
const ScopeAll = "ALL"

// GrantType distinguishes additive overrides from revocations
type GrantType string

const (
	GrantAllow GrantType = "ALLOW"
	GrantDeny  GrantType = "DENY"
)

// Valid reports whether g is a known grant type
func (g GrantType) Valid() bool {
	return g == GrantAllow || g == GrantDeny
}

// Source tags where an effective permission came from
type Source string

const (
	SourceRole     Source = "ROLE"
	SourceOverride Source = "OVERRIDE"
)

// Role is a tenant-scoped named bundle of permissions
type Role struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	Name           string     `json:"name"`
	Code           string     `json:"code"`
	Description    *string    `json:"description,omitempty"`
	HierarchyLevel int        `json:"hierarchyLevel"`
	IsSystem       bool       `json:"isSystem"`
	IsActive       bool       `json:"isActive"`
	IsDeleted      bool       `json:"isDeleted"`
	DeletedByID    *string    `json:"deletedById,omitempty"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	DeletedReason  *string    `json:"deletedReason,omitempty"`
	CreatedBy      *string    `json:"createdBy,omitempty"`
	UpdatedBy      *string    `json:"updatedBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Permissions    []*Grant   `json:"permissions,omitempty"`
}

// Permission is a global (module, action) pair
type Permission struct {
	ID          string    `json:"id"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key returns the "MODULE:ACTION" form of the permission
func (p Permission) Key() string {
	return PermissionKey(p.Module, p.Action)
}

// PermissionKey builds the canonical "MODULE:ACTION" key
func PermissionKey(module, action string) string {
	return normalizeName(module) + ":" + normalizeName(action)
}

// Grant links a permission to a role with scope and optional expiry
type Grant struct {
	ID               string                 `json:"id"`
	RoleID           string                 `json:"roleId"`
	PermissionID     string                 `json:"permissionId"`
	BranchScope      string                 `json:"branchScope"`
	DepartmentScope  string                 `json:"departmentScope"`
	CustomConditions map[string]interface{} `json:"customConditions,omitempty"`
	GrantedBy        *string                `json:"grantedBy,omitempty"`
	ExpiresAt        *time.Time             `json:"expiresAt,omitempty"`
	IsActive         bool                   `json:"isActive"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	Permission       *Permission            `json:"permission,omitempty"`
}

// Assignment gives a user a role
type Assignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	AssignedBy *string    `json:"assignedBy,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	IsActive   bool       `json:"isActive"`
	AssignedAt time.Time  `json:"assignedAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Override grants or revokes a single permission for one user
type Override struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	PermissionID string     `json:"permissionId"`
	GrantType    GrantType  `json:"grantType"`
	GrantedBy    *string    `json:"grantedBy,omitempty"`
	Reason       *string    `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// EffectivePermission is one entry of a user's merged permission set
type EffectivePermission struct {
	PermissionID    string     `json:"permissionId"`
	Module          string     `json:"module"`
	Action          string     `json:"action"`
	Source          Source     `json:"source"`
	SourceID        string     `json:"sourceId"`
	GrantType       GrantType  `json:"grantType"`
	RoleID          *string    `json:"roleId,omitempty"`
	RoleCode        *string    `json:"roleCode,omitempty"`
	BranchScope     string     `json:"branchScope,omitempty"`
	DepartmentScope string     `json:"departmentScope,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	IsActive        bool       `json:"isActive"`
}

// Key returns the "MODULE:ACTION" form of the entry
func (e EffectivePermission) Key() string {
	return PermissionKey(e.Module, e.Action)
}

func (e EffectivePermission) appliesAt(now time.Time) bool {
	return e.IsActive && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// EffectiveQuery controls which rows feed the effective permission set
type EffectiveQuery struct {
	IncludeInactive bool   `json:"includeInactive"`
	IncludeExpired  bool   `json:"includeExpired"`
	Module          string `json:"module,omitempty"`
}

// HierarchyQuery filters GetRoleHierarchy
type HierarchyQuery struct {
	IncludeInactive bool `json:"includeInactive"`
	IncludeSystem   bool `json:"includeSystem"`
}

// CreateRoleInput describes a new role. Unknown permission ids are skipped.
type CreateRoleInput struct {
	Name           string   `json:"name"`
	Code           string   `json:"code"`
	Description    *string  `json:"description,omitempty"`
	HierarchyLevel int      `json:"hierarchyLevel"`
	IsSystem       bool     `json:"isSystem"`
	IsActive       *bool    `json:"isActive,omitempty"`
	PermissionIDs  []string `json:"permissionIds,omitempty"`
}

// UpdateRoleInput is a partial role update. A nil PermissionIDs leaves
// grants untouched; a non-nil list becomes the new active set.
type UpdateRoleInput struct {
	Name           *string  `json:"name,omitempty"`
	Description    *string  `json:"description,omitempty"`
	HierarchyLevel *int     `json:"hierarchyLevel,omitempty"`
	IsActive       *bool    `json:"isActive,omitempty"`
	PermissionIDs  []string `json:"permissionIds,omitempty"`
}

// DeleteRoleInput records who deleted a role and why
type DeleteRoleInput struct {
	DeletedByID string  `json:"deletedById"`
	Reason      *string `json:"deletedReason,omitempty"`
}

// RoleFilter narrows ListRoles
type RoleFilter struct {
	Name           string
	Code           string
	IsActive       *bool
	IsSystem       *bool
	HierarchyLevel *int
	IncludeDeleted bool
}

// PermissionInput describes one permission to create
type PermissionInput struct {
	Module      string  `json:"module"`
	Action      string  `json:"action"`
	Description *string `json:"description,omitempty"`
}

// UpdatePermissionInput is a partial permission update
type UpdatePermissionInput struct {
	Module      *string `json:"module,omitempty"`
	Action      *string `json:"action,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// PermissionFilter narrows ListPermissions
type PermissionFilter struct {
	Module   string
	Action   string
	IsActive *bool
}

// AssignPermissionsInput grants permissions to a role
type AssignPermissionsInput struct {
	PermissionIDs    []string               `json:"permissionIds"`
	BranchScope      string                 `json:"branchScope,omitempty"`
	DepartmentScope  string                 `json:"departmentScope,omitempty"`
	CustomConditions map[string]interface{} `json:"customConditions,omitempty"`
	ExpiresAt        *time.Time             `json:"expiresAt,omitempty"`
}

// GrantPatch updates the scope of one role-permission grant
type GrantPatch struct {
	BranchScope      *string                `json:"branchScope,omitempty"`
	DepartmentScope  *string                `json:"departmentScope,omitempty"`
	CustomConditions map[string]interface{} `json:"customConditions,omitempty"`
	ExpiresAt        *time.Time             `json:"expiresAt,omitempty"`
	IsActive         *bool                  `json:"isActive,omitempty"`
}

// AssignRoleInput assigns a role to a user
type AssignRoleInput struct {
	UserID    string     `json:"userId"`
	RoleID    string     `json:"roleId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  *bool      `json:"isActive,omitempty"`
}

// AssignmentPatch updates a user-role assignment
type AssignmentPatch struct {
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  *bool      `json:"isActive,omitempty"`
}

// BulkAssignInput assigns one role to many users
type BulkAssignInput struct {
	UserIDs   []string   `json:"userIds"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// OverrideInput creates a user permission override
type OverrideInput struct {
	UserID       string     `json:"userId"`
	PermissionID string     `json:"permissionId"`
	GrantType    GrantType  `json:"grantType,omitempty"`
	Reason       *string    `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	IsActive     *bool      `json:"isActive,omitempty"`
}

// OverridePatch updates a user permission override
type OverridePatch struct {
	GrantType *GrantType `json:"grantType,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  *bool      `json:"isActive,omitempty"`
}

// BulkOverrideInput creates the same override for many permissions
type BulkOverrideInput struct {
	PermissionIDs []string   `json:"permissionIds"`
	GrantType     GrantType  `json:"grantType,omitempty"`
	Reason        *string    `json:"reason,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// ReportStatus is the outcome of one item in a bulk operation
type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportFailed  ReportStatus = "failed"
)

// Report describes the outcome for one id of a bulk operation
type Report struct {
	ID     string       `json:"id"`
	Status ReportStatus `json:"status"`
	Data   interface{}  `json:"data,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// SweepResult counts rows deactivated by an expiry sweep
type SweepResult struct {
	Assignments int64 `json:"assignments"`
	Grants      int64 `json:"grants"`
	Overrides   int64 `json:"overrides"`
	Users       int   `json:"users"`
	Tenants     int   `json:"tenants"`
}

var (
	roleNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]+$`)
	codePattern     = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

func normalizeName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validateRoleName(name string) error {
	if len(name) < 2 || len(name) > 100 {
		return apperr.Validation("Role name must be between 2 and 100 characters")
	}
	if !roleNamePattern.MatchString(name) {
		return apperr.Validation("Role name can only contain letters, numbers, spaces, hyphens, and underscores")
	}
	return nil
}

func validateHierarchy(level int, system bool) error {
	if level < MinHierarchyLevel || level > MaxHierarchyLevel {
		return apperr.Validation("Hierarchy level must be between %d and %d", MinHierarchyLevel, MaxHierarchyLevel)
	}
	if !system && level == 0 {
		return apperr.Validation("Non-system roles must have hierarchy level greater than 0")
	}
	return nil
}

func validateDescription(desc *string, max int) error {
	if desc != nil && len(*desc) > max {
		return apperr.Validation("Description cannot exceed %d characters", max)
	}
	return nil
}

func validateCode(kind, value string) error {
	if value == "" {
		return apperr.Validation("%s is required", kind)
	}
	if len(value) > 50 || !codePattern.MatchString(value) {
		return apperr.Validation("Invalid %s value %q", strings.ToLower(kind), value)
	}
	return nil
}

func validateReason(reason *string) error {
	if reason == nil {
		return nil
	}
	n := len(strings.TrimSpace(*reason))
	if n < minReasonLength {
		return apperr.Validation("Reason must be at least %d characters", minReasonLength)
	}
	if n > maxReasonLength {
		return apperr.Validation("Reason cannot exceed %d characters", maxReasonLength)
	}
	return nil
}

func validateExpiry(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && !expiresAt.After(now) {
		return apperr.Validation("Expiry date must be in the future")
	}
	return nil
}

func validateScope(kind string, scope *string) error {
	if scope == nil {
		return nil
	}
	v := normalizeName(*scope)
	if v == "" || len(v) > 20 {
		return apperr.Validation("Invalid %s scope value", kind)
	}
	return nil
}

func scopeOrAll(scope string) string {
	if v := normalizeName(scope); v != "" {
		return v
	}
	return ScopeAll
}
