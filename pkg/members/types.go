package members

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMemberType   = "MEMBER"
	DefaultMemberStatus = "ACTIVE"
)

// Member is a tenant's profile entity. Location, date of birth, profession
// and gender drive community membership.
type Member struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	BranchID     *string    `json:"branchId,omitempty"`
	UserID       *string    `json:"userId,omitempty"`
	MemberNumber string     `json:"memberNumber"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Email        string     `json:"email"`
	Phone        *string    `json:"phone,omitempty"`
	Gender       *string    `json:"gender,omitempty"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Country      *string    `json:"country,omitempty"`
	Profession   *string    `json:"profession,omitempty"`
	MemberType   string     `json:"memberType"`
	MemberStatus string     `json:"memberStatus"`
	IsDeleted    bool       `json:"isDeleted"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// User is the login identity a member may be linked to
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateInput describes a new member. DateOfBirth accepts YYYY-MM-DD or
// RFC3339.
type CreateInput struct {
	BranchID     *string `json:"branchId"`
	UserID       *string `json:"userId"`
	MemberNumber string  `json:"memberNumber"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	Email        string  `json:"email"`
	Phone        *string `json:"phone"`
	Gender       *string `json:"gender"`
	DateOfBirth  *string `json:"dateOfBirth"`
	Location     *string `json:"location"`
	Country      *string `json:"country"`
	Profession   *string `json:"profession"`
	MemberType   string  `json:"memberType"`
	MemberStatus string  `json:"memberStatus"`
}

// UpdateInput is a partial update; nil fields keep their current value
type UpdateInput struct {
	BranchID     *string `json:"branchId"`
	FirstName    *string `json:"firstName"`
	LastName     *string `json:"lastName"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Gender       *string `json:"gender"`
	DateOfBirth  *string `json:"dateOfBirth"`
	Location     *string `json:"location"`
	Country      *string `json:"country"`
	Profession   *string `json:"profession"`
	MemberType   *string `json:"memberType"`
	MemberStatus *string `json:"memberStatus"`
}

// SignupInput creates a user and its linked member in one call
type SignupInput struct {
	BranchID    *string `json:"branchId"`
	Email       string  `json:"email"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Phone       *string `json:"phone"`
	Gender      *string `json:"gender"`
	DateOfBirth *string `json:"dateOfBirth"`
	Location    *string `json:"location"`
	Country     *string `json:"country"`
	Profession  *string `json:"profession"`
}

// ListFilter narrows ListMembers
type ListFilter struct {
	BranchID     string
	MemberStatus string
	Gender       string
	Profession   string
	Search       string
}

// ProfileChanges carries the community-relevant attributes of a member.
// Nil fields are left untouched by a sync.
type ProfileChanges struct {
	Location    *string `json:"location,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Profession  *string `json:"profession,omitempty"`
	Gender      *string `json:"gender,omitempty"`
}

// Empty reports whether no community-relevant attribute is set
func (c ProfileChanges) Empty() bool {
	return c.Location == nil && c.DateOfBirth == nil && c.Profession == nil && c.Gender == nil
}

// SyncStep is one entry of a community sync report
type SyncStep struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Result is a member together with the report of the community sync its
// write triggered
type Result struct {
	Member *Member    `json:"member"`
	Sync   []SyncStep `json:"sync,omitempty"`
}

// SignupResult is the user and member created by Signup
type SignupResult struct {
	User   *User      `json:"user"`
	Member *Member    `json:"member"`
	Sync   []SyncStep `json:"sync,omitempty"`
}

// dateLayouts are the accepted date of birth formats
var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// ParseDate parses a date of birth
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// FormatDate renders a date of birth in the form ParseDate accepts
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
