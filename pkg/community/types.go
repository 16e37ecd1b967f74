package community

import (
	"strings"
	"time"
)

// Type tags a community with the rule that decides who belongs to it
type Type string

const (
	TypeCell       Type = "CELL"
	TypeTribe      Type = "TRIBE"
	TypeProfession Type = "PROFESSION"
	TypeMinistry   Type = "MINISTRY"
	TypeInterest   Type = "INTEREST"
	TypeOutreach   Type = "OUTREACH"
)

// Types lists every known community type
var Types = []Type{TypeCell, TypeTribe, TypeProfession, TypeMinistry, TypeInterest, TypeOutreach}

// Valid reports whether t is a known community type
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the administrative state of a community
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

// Month names used by TRIBE communities
var Months = []string{
	"JANUARY", "FEBRUARY", "MARCH", "APRIL", "MAY", "JUNE",
	"JULY", "AUGUST", "SEPTEMBER", "OCTOBER", "NOVEMBER", "DECEMBER",
}

// MonthOf returns the upper-case month name of t, or "" for the zero time
func MonthOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return Months[t.Month()-1]
}

// ValidMonth reports whether m is one of Months
func ValidMonth(m string) bool {
	for _, known := range Months {
		if m == known {
			return true
		}
	}
	return false
}

// FormatLabel turns an enum-like value such as SOFTWARE_ENGINEER into
// "Software Engineer"
func FormatLabel(value string) string {
	words := strings.Split(strings.ToLower(value), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Community is a typed affinity group of members within a tenant
type Community struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId"`
	BranchID          *string    `json:"branchId,omitempty"`
	Type              Type       `json:"type"`
	Name              string     `json:"name"`
	Description       *string    `json:"description,omitempty"`
	Status            Status     `json:"status"`
	Location          *string    `json:"location,omitempty"`
	Country           *string    `json:"country,omitempty"`
	Month             *string    `json:"month,omitempty"`
	Profession        *string    `json:"profession,omitempty"`
	Gender            *string    `json:"gender,omitempty"`
	LeaderID          *string    `json:"leaderId,omitempty"`
	AssistantLeaderID *string    `json:"assistantLeaderId,omitempty"`
	CreatedBy         *string    `json:"createdBy,omitempty"`
	ArchivedAt        *time.Time `json:"archivedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Attributes are the type-specific distinguishing values. Empty means absent.
type Attributes struct {
	Country    string `json:"country,omitempty"`
	Location   string `json:"location,omitempty"`
	Month      string `json:"month,omitempty"`
	Profession string `json:"profession,omitempty"`
	Gender     string `json:"gender,omitempty"`
}

// CreateInput describes a new community
type CreateInput struct {
	BranchID          *string  `json:"branchId"`
	Type              Type     `json:"type"`
	Name              string   `json:"name"`
	Description       *string  `json:"description"`
	Status            Status   `json:"status"`
	Location          *string  `json:"location"`
	Country           *string  `json:"country"`
	Month             *string  `json:"month"`
	Profession        *string  `json:"profession"`
	Gender            *string  `json:"gender"`
	LeaderID          *string  `json:"leaderId"`
	AssistantLeaderID *string  `json:"assistantLeaderId"`
	MemberIDs         []string `json:"membersIds"`
}

// UpdateInput is a partial update; nil fields keep their current value
type UpdateInput struct {
	BranchID          *string `json:"branchId"`
	Type              *Type   `json:"type"`
	Name              *string `json:"name"`
	Description       *string `json:"description"`
	Status            *Status `json:"status"`
	Location          *string `json:"location"`
	Country           *string `json:"country"`
	Month             *string `json:"month"`
	Profession        *string `json:"profession"`
	Gender            *string `json:"gender"`
	LeaderID          *string `json:"leaderId"`
	AssistantLeaderID *string `json:"assistantLeaderId"`
}

// ListFilter narrows ListCommunities
type ListFilter struct {
	BranchID        string
	MemberID        string
	Type            Type
	Status          Status
	Profession      string
	Gender          string
	Month           string
	Search          string
	IncludeArchived bool
}

// CountByKey is one bucket of a breakdown
type CountByKey struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// CoreAnalytics summarises a tenant's communities
type CoreAnalytics struct {
	Total           int          `json:"totalCommunities"`
	Active          int          `json:"activeCommunities"`
	Archived        int          `json:"archivedCommunities"`
	StatusBreakdown []CountByKey `json:"statusBreakdown"`
	TypeBreakdown   []CountByKey `json:"typeBreakdown"`
}

// MemberCount is the active member count of one community
type MemberCount struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	MemberCount int    `json:"memberCount"`
}

// MembershipAnalytics summarises active membership across communities
type MembershipAnalytics struct {
	Communities      []MemberCount `json:"communities"`
	TopCommunities   []MemberCount `json:"topCommunities"`
	EmptyCommunities int           `json:"emptyCommunitiesCount"`
	AverageMembers   int           `json:"avgMembersPerCommunity"`
}

// RoleCounts counts one community's active members per role
type RoleCounts struct {
	Members          int `json:"totalMembers"`
	Leaders          int `json:"totalLeaders"`
	AssistantLeaders int `json:"totalAssistantLeaders"`
	Total            int `json:"total"`
}

// DetailAnalytics describes one community's active leadership and size
type DetailAnalytics struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Type               Type       `json:"type"`
	Status             Status     `json:"status"`
	BranchID           *string    `json:"branchId,omitempty"`
	MemberCountPerRole RoleCounts `json:"memberCountPerRole"`
	LeaderIDs          []string   `json:"leaders"`
	AssistantLeaderIDs []string   `json:"assistantLeaders"`
}
