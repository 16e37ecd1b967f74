package members

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/paging"
)

// Syncer keeps a member's typed community memberships in line with their
// profile. It reports every failure as a step and never returns an error.
type Syncer interface {
	SyncCommunity(ctx context.Context, tenantID, memberID string, changes ProfileChanges, branchID *string) []SyncStep
}

// Service manages members and the user accounts they sign up with
type Service struct {
	store  *Store
	syncer Syncer
	logger *observability.Logger
}

// NewService creates a member service. syncer may be nil, in which case no
// community sync runs.
func NewService(db database.DBTX, syncer Syncer, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		store:  NewStore(db),
		syncer: syncer,
		logger: logger.WithField("component", "members"),
	}
}

// Store exposes the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// SetSyncer wires the community syncer after construction, for callers that
// build the syncer from this service's store
func (s *Service) SetSyncer(syncer Syncer) {
	s.syncer = syncer
}

// CreateMember persists a member and then syncs its communities best-effort
func (s *Service) CreateMember(ctx context.Context, tenantID string, in CreateInput) (result *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "members.CreateMember", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	m, err := s.insertMember(ctx, tenantID, in)
	if err != nil {
		return nil, err
	}
	m, steps := s.sync(ctx, m, profileOf(m))
	return &Result{Member: m, Sync: steps}, nil
}

// UpdateMember applies a partial update and re-syncs only the attributes
// whose value changed
func (s *Service) UpdateMember(ctx context.Context, tenantID, id string, in UpdateInput) (result *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "members.UpdateMember",
		attribute.String("tenant_id", tenantID), attribute.String("member_id", id))
	defer func() { observability.EndSpan(span, err) }()

	existing, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	updated := *existing

	if in.BranchID != nil {
		updated.BranchID = in.BranchID
	}
	if in.FirstName != nil {
		updated.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		updated.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		updated.Email = normalizeEmail(*in.Email)
	}
	if in.Phone != nil {
		updated.Phone = in.Phone
	}
	if in.Country != nil {
		updated.Country = in.Country
	}
	if in.MemberType != nil {
		updated.MemberType = *in.MemberType
	}
	if in.MemberStatus != nil {
		updated.MemberStatus = *in.MemberStatus
	}
	if in.Location != nil {
		updated.Location = optional(*in.Location)
	}
	if in.Profession != nil {
		updated.Profession = optional(*in.Profession)
	}
	if in.Gender != nil {
		updated.Gender = optional(strings.ToUpper(*in.Gender))
	}
	if in.DateOfBirth != nil {
		dob, err := parseOptionalDate(*in.DateOfBirth)
		if err != nil {
			return nil, err
		}
		updated.DateOfBirth = dob
	}
	if err := validateMember(&updated); err != nil {
		return nil, err
	}

	updated.UpdatedAt = database.Now()
	if err := s.store.Update(ctx, &updated); err != nil {
		return nil, err
	}

	changes := changedProfile(existing, &updated)
	m, steps := s.sync(ctx, &updated, changes)
	return &Result{Member: m, Sync: steps}, nil
}

// Signup creates a user and the member linked to it. The user is deleted
// again when the member cannot be created.
func (s *Service) Signup(ctx context.Context, tenantID string, in SignupInput) (result *SignupResult, err error) {
	ctx, span := observability.StartSpan(ctx, "members.Signup", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, apperr.Validation("email is required")
	}

	now := database.Now()
	user := &User{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	m, err := s.insertMember(ctx, tenantID, CreateInput{
		BranchID:    in.BranchID,
		UserID:      &user.ID,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Email:       email,
		Phone:       in.Phone,
		Gender:      in.Gender,
		DateOfBirth: in.DateOfBirth,
		Location:    in.Location,
		Country:     in.Country,
		Profession:  in.Profession,
	})
	if err != nil {
		if delErr := s.store.DeleteUser(ctx, tenantID, user.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("user_id", user.ID).Error("Failed to roll back user after signup failure")
		}
		return nil, err
	}

	m, steps := s.sync(ctx, m, profileOf(m))
	return &SignupResult{User: user, Member: m, Sync: steps}, nil
}

// GetMember returns a live member of the tenant, optionally requiring it to
// belong to branchID
func (s *Service) GetMember(ctx context.Context, tenantID, id string, branchID *string) (*Member, error) {
	m, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if branchID != nil && *branchID != "" && (m.BranchID == nil || *m.BranchID != *branchID) {
		return nil, apperr.NotFound("Member with ID \"%s\" not found", id)
	}
	return m, nil
}

// ListMembers returns one page of live members
func (s *Service) ListMembers(ctx context.Context, tenantID string, filter ListFilter, page paging.Page) (result paging.Result[*Member], err error) {
	ctx, span := observability.StartSpan(ctx, "members.ListMembers", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	items, total, err := s.store.List(ctx, tenantID, filter, page)
	if err != nil {
		return result, err
	}
	return paging.Result[*Member]{Items: items, Pagination: paging.NewPagination(page, total)}, nil
}

// DeleteMember soft-deletes a member. Community memberships are kept.
func (s *Service) DeleteMember(ctx context.Context, tenantID, id string) error {
	return s.store.SoftDelete(ctx, tenantID, id, database.Now())
}

func (s *Service) insertMember(ctx context.Context, tenantID string, in CreateInput) (*Member, error) {
	now := database.Now()
	m := &Member{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		BranchID:     in.BranchID,
		UserID:       in.UserID,
		MemberNumber: strings.TrimSpace(in.MemberNumber),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        normalizeEmail(in.Email),
		Phone:        in.Phone,
		Country:      in.Country,
		MemberType:   in.MemberType,
		MemberStatus: in.MemberStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Location != nil {
		m.Location = optional(*in.Location)
	}
	if in.Profession != nil {
		m.Profession = optional(*in.Profession)
	}
	if in.Gender != nil {
		m.Gender = optional(strings.ToUpper(*in.Gender))
	}
	if in.DateOfBirth != nil {
		dob, err := parseOptionalDate(*in.DateOfBirth)
		if err != nil {
			return nil, err
		}
		m.DateOfBirth = dob
	}
	if m.MemberNumber == "" {
		m.MemberNumber = "M-" + strings.ToUpper(m.ID[:8])
	}
	if m.MemberType == "" {
		m.MemberType = DefaultMemberType
	}
	if m.MemberStatus == "" {
		m.MemberStatus = DefaultMemberStatus
	}
	if err := validateMember(m); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// sync runs the community sync for changes and re-reads the member, since
// a sync may normalise its attributes
func (s *Service) sync(ctx context.Context, m *Member, changes ProfileChanges) (*Member, []SyncStep) {
	if s.syncer == nil || changes.Empty() {
		return m, nil
	}

	steps := s.syncer.SyncCommunity(ctx, m.TenantID, m.ID, changes, m.BranchID)
	for _, step := range steps {
		if !step.Success {
			s.logger.
				WithFields(map[string]interface{}{"member_id": m.ID, "step": step.Step}).
				Warnf("Community sync step failed: %s", step.Message)
		}
	}

	refreshed, err := s.store.Get(ctx, m.TenantID, m.ID)
	if err != nil {
		s.logger.WithError(err).WithField("member_id", m.ID).Warn("Failed to reload member after community sync")
		return m, steps
	}
	return refreshed, steps
}

// profileOf returns every community-relevant attribute the member has
func profileOf(m *Member) ProfileChanges {
	var c ProfileChanges
	c.Location = m.Location
	c.Profession = m.Profession
	c.Gender = m.Gender
	if m.DateOfBirth != nil {
		dob := FormatDate(*m.DateOfBirth)
		c.DateOfBirth = &dob
	}
	return c
}

// changedProfile returns the community-relevant attributes that differ
// between before and after and are still set
func changedProfile(before, after *Member) ProfileChanges {
	var c ProfileChanges
	if deref(before.Location) != deref(after.Location) {
		c.Location = after.Location
	}
	if deref(before.Profession) != deref(after.Profession) {
		c.Profession = after.Profession
	}
	if deref(before.Gender) != deref(after.Gender) {
		c.Gender = after.Gender
	}
	if !sameDate(before.DateOfBirth, after.DateOfBirth) && after.DateOfBirth != nil {
		dob := FormatDate(*after.DateOfBirth)
		c.DateOfBirth = &dob
	}
	return c
}

func validateMember(m *Member) error {
	if m.FirstName == "" || m.LastName == "" {
		return apperr.Validation("first name and last name are required")
	}
	if m.Email == "" || !strings.Contains(m.Email, "@") {
		return apperr.Validation("a valid email is required")
	}
	return nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil, apperr.Validation("invalid date of birth %q", s)
	}
	return &t, nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
