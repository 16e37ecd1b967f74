package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role and permission events
	EventTypeRoleCreate       EventType = "rbac.role_create"
	EventTypeRoleUpdate       EventType = "rbac.role_update"
	EventTypeRoleDelete       EventType = "rbac.role_delete"
	EventTypeRoleRestore      EventType = "rbac.role_restore"
	EventTypePermissionCreate EventType = "rbac.permission_create"
	EventTypePermissionUpdate EventType = "rbac.permission_update"
	EventTypeGrantAdd         EventType = "rbac.grant_add"
	EventTypeGrantRemove      EventType = "rbac.grant_remove"
	EventTypeGrantUpdate      EventType = "rbac.grant_update"
	EventTypeRoleAssign       EventType = "rbac.role_assign"
	EventTypeRoleUnassign     EventType = "rbac.role_unassign"
	EventTypeAssignmentUpdate EventType = "rbac.assignment_update"
	EventTypeOverrideCreate   EventType = "rbac.override_create"
	EventTypeOverrideUpdate   EventType = "rbac.override_update"
	EventTypeOverrideRemove   EventType = "rbac.override_remove"
	EventTypeExpirySweep      EventType = "rbac.expiry_sweep"
	EventTypeAccessDenied     EventType = "rbac.access_denied"

	// Community events
	EventTypeCommunityCreate  EventType = "community.create"
	EventTypeCommunityUpdate  EventType = "community.update"
	EventTypeCommunityArchive EventType = "community.archive"
	EventTypeCommunityDelete  EventType = "community.delete"

	// Membership events
	EventTypeMembershipAdd    EventType = "membership.add"
	EventTypeMembershipUpdate EventType = "membership.update"
	EventTypeMembershipRemove EventType = "membership.remove"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeGrant      ResourceType = "role_permission"
	ResourceTypeAssignment ResourceType = "user_role"
	ResourceTypeOverride   ResourceType = "user_permission_override"
	ResourceTypeCommunity  ResourceType = "community"
	ResourceTypeMembership ResourceType = "community_member"
)

// Event represents a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	RequestID    string       `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracks before/after values for updates
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs. TenantID is
// required by the DB logger.
type SearchFilter struct {
	TenantID string

	StartTime *time.Time
	EndTime   *time.Time

	UserID       string
	EventType    EventType
	Status       EventStatus
	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}
