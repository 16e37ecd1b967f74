package membership

import "time"

// Role tags a member's position within a community
type Role string

const (
	RoleMember          Role = "MEMBER"
	RoleLeader          Role = "LEADER"
	RoleAssistantLeader Role = "ASSISTANT_LEADER"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleLeader, RoleAssistantLeader:
		return true
	}
	return false
}

// Status is the state of a membership row
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Membership links a member to a community
type Membership struct {
	CommunityID string     `json:"communityId"`
	MemberID    string     `json:"memberId"`
	Role        Role       `json:"role"`
	Status      Status     `json:"status"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// MemberView is a membership with the member and community names used by
// list screens
type MemberView struct {
	Membership
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	CommunityName string `json:"communityName"`
}

// AddOptions configure AddMembers. Role and Status default to MEMBER and
// ACTIVE.
type AddOptions struct {
	Role          Role
	Status        Status
	Notes         *string
	NotifyLeaders bool
}

// ReportStatus is the outcome for one member of a bulk add
type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportFailed  ReportStatus = "failed"
)

// Report is the per-member result of AddMembers
type Report struct {
	MemberID string       `json:"memberId"`
	Status   ReportStatus `json:"status"`
	Data     *Membership  `json:"data,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

func succeeded(memberID string, m *Membership) Report {
	return Report{MemberID: memberID, Status: ReportSuccess, Data: m}
}

func failed(memberID, reason string) Report {
	return Report{MemberID: memberID, Status: ReportFailed, Reason: reason}
}

// TypeMembership is one of a member's rows within a community type
type TypeMembership struct {
	CommunityID string
	Status      Status
}

// UpdateInput is a partial update of a membership row. Setting LeftAt marks
// a departure without removing the row.
type UpdateInput struct {
	Role   *Role      `json:"role"`
	Status *Status    `json:"status"`
	LeftAt *time.Time `json:"leftAt"`
	Notes  *string    `json:"notes"`
}

// ListFilter narrows List
type ListFilter struct {
	Role   Role
	Status Status
	Search string
}
