package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/notify"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/paging"
)

// Engine owns community membership: who belongs where, in which role, and
// the notifications a new membership triggers
type Engine struct {
	store       *Store
	communities *community.Store
	members     *members.Store
	notifier    notify.Notifier
	audit       audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// Config holds the optional collaborators of an Engine
type Config struct {
	Notifier notify.Notifier
	Audit    audit.Logger
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// NewEngine creates a membership engine over db
func NewEngine(db database.DBTX, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOp()
	}
	return &Engine{
		store:       NewStore(db),
		communities: community.NewStore(db),
		members:     members.NewStore(db),
		notifier:    cfg.Notifier,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.WithField("component", "membership"),
	}
}

// Store exposes the underlying store
func (e *Engine) Store() *Store {
	return e.store
}

var errAddFailed = errors.New("membership add failed")

func communityNotFound(id string) error {
	return apperr.NotFound("Community with ID \"%s\" not found or you do not have permission", id)
}

func memberNotFound(communityID, memberID string) error {
	return apperr.NotFound("Community member with ID \"%s\" in community \"%s\" not found or you do not have permission", memberID, communityID)
}

func (e *Engine) community(ctx context.Context, tenantID, communityID string) (*community.Community, error) {
	c, err := e.communities.Get(ctx, tenantID, communityID)
	if apperr.IsNotFound(err) {
		return nil, communityNotFound(communityID)
	}
	return c, err
}

// AddMembers adds each member to the community independently and reports
// the outcome per member, in input order. Only a missing community fails
// the whole call.
func (e *Engine) AddMembers(ctx context.Context, tenantID, communityID string, memberIDs []string, opts AddOptions) (reports []Report, err error) {
	ctx, span := observability.StartSpan(ctx, "membership.AddMembers",
		attribute.String("tenant_id", tenantID),
		attribute.String("community_id", communityID),
		attribute.Int("members", len(memberIDs)))
	defer func() { observability.EndSpan(span, err) }()

	if opts.Role == "" {
		opts.Role = RoleMember
	}
	if opts.Status == "" {
		opts.Status = StatusActive
	}
	if !opts.Role.Valid() {
		return nil, apperr.Validation("invalid membership role: %q", opts.Role)
	}
	if !opts.Status.Valid() {
		return nil, apperr.Validation("invalid membership status: %q", opts.Status)
	}

	c, err := e.community(ctx, tenantID, communityID)
	if err != nil {
		return nil, err
	}

	reports = make([]Report, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		report := e.addOne(ctx, tenantID, c, memberID, opts)
		var outcome error
		if report.Status == ReportFailed {
			outcome = errAddFailed
		}
		e.metrics.RecordMembership("add", outcome)
		reports = append(reports, report)
	}
	return reports, nil
}

func (e *Engine) addOne(ctx context.Context, tenantID string, c *community.Community, memberID string, opts AddOptions) Report {
	alreadyMember := fmt.Sprintf("Member with ID \"%s\" is already part of community \"%s\"", memberID, c.ID)

	existing, err := e.store.Get(ctx, c.ID, memberID)
	if err != nil {
		return failed(memberID, err.Error())
	}
	if existing != nil {
		return failed(memberID, alreadyMember)
	}

	m, err := e.members.Get(ctx, tenantID, memberID)
	if err != nil && !apperr.IsNotFound(err) {
		return failed(memberID, err.Error())
	}
	if m == nil || !sameBranch(c.BranchID, m.BranchID) {
		return failed(memberID, "Member not found or does not belong to community branch")
	}

	now := database.Now()
	row := &Membership{
		CommunityID: c.ID,
		MemberID:    memberID,
		Role:        opts.Role,
		Status:      opts.Status,
		JoinedAt:    now,
		Notes:       opts.Notes,
		UpdatedAt:   now,
	}
	if err := e.store.Insert(ctx, row); err != nil {
		if database.IsUniqueViolation(err) {
			return failed(memberID, alreadyMember)
		}
		return failed(memberID, err.Error())
	}

	audit.Record(ctx, e.audit, audit.NewEvent(ctx, audit.EventTypeMembershipAdd, audit.ResourceTypeMembership, resourceID(c.ID, memberID)).
		WithTenant(tenantID).
		WithMessage("member added to community").
		WithMetadata("role", string(row.Role)).
		WithMetadata("community_type", string(c.Type)))

	e.notify(ctx, tenantID, c, row, opts.NotifyLeaders)
	return succeeded(memberID, row)
}

// sameBranch reports whether a member may join a community: a community
// without a branch accepts anyone
func sameBranch(communityBranch, memberBranch *string) bool {
	if communityBranch == nil {
		return true
	}
	return memberBranch != nil && *memberBranch == *communityBranch
}

// notify tells the new member, and optionally the community's leadership,
// about the membership. Leader lookup failures only shrink the recipient
// list.
func (e *Engine) notify(ctx context.Context, tenantID string, c *community.Community, row *Membership, includeLeaders bool) {
	recipients := []string{row.MemberID}
	if includeLeaders {
		leaders, err := e.store.LeaderIDs(ctx, c.ID)
		if err != nil {
			e.logger.WithError(err).WithField("community_id", c.ID).Warn("Failed to load community leaders for notification")
		}
		if c.LeaderID != nil {
			leaders = append(leaders, *c.LeaderID)
		}
		if c.AssistantLeaderID != nil {
			leaders = append(leaders, *c.AssistantLeaderID)
		}
		recipients = dedupe(append(recipients, leaders...))
	}

	e.notifier.OnMembershipCreated(ctx, notify.MembershipEvent{
		ID:              uuid.NewString(),
		Type:            notify.EventMembershipCreated,
		Timestamp:       row.JoinedAt,
		TenantID:        tenantID,
		CommunityID:     c.ID,
		CommunityName:   c.Name,
		CommunityType:   string(c.Type),
		MemberID:        row.MemberID,
		Role:            string(row.Role),
		Recipients:      recipients,
		LeadersNotified: includeLeaders,
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// AddInitialMembers bootstraps a new community with MEMBER rows. Only the
// new members are notified. Per-member failures are logged, not returned.
func (e *Engine) AddInitialMembers(ctx context.Context, tenantID, communityID string, memberIDs []string) error {
	reports, err := e.AddMembers(ctx, tenantID, communityID, memberIDs, AddOptions{Role: RoleMember})
	if err != nil {
		return err
	}
	for _, r := range reports {
		if r.Status == ReportFailed {
			e.logger.WithFields(map[string]interface{}{
				"community_id": communityID,
				"member_id":    r.MemberID,
			}).Warnf("Initial member not added: %s", r.Reason)
		}
	}
	return nil
}

// Get returns one membership of a tenant's community
func (e *Engine) Get(ctx context.Context, tenantID, communityID, memberID string) (*Membership, error) {
	if _, err := e.communities.Get(ctx, tenantID, communityID); err != nil {
		if apperr.IsNotFound(err) {
			return nil, memberNotFound(communityID, memberID)
		}
		return nil, err
	}
	row, err := e.store.Get(ctx, communityID, memberID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, memberNotFound(communityID, memberID)
	}
	return row, nil
}

// UpdateMember changes role, status, notes or departure time of a
// membership
func (e *Engine) UpdateMember(ctx context.Context, tenantID, communityID, memberID string, in UpdateInput) (row *Membership, err error) {
	ctx, span := observability.StartSpan(ctx, "membership.UpdateMember",
		attribute.String("tenant_id", tenantID), attribute.String("community_id", communityID))
	defer func() {
		e.metrics.RecordMembership("update", err)
		observability.EndSpan(span, err)
	}()

	existing, err := e.Get(ctx, tenantID, communityID, memberID)
	if err != nil {
		return nil, err
	}
	before := snapshot(existing)

	updated := *existing
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, apperr.Validation("invalid membership role: %q", *in.Role)
		}
		updated.Role = *in.Role
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, apperr.Validation("invalid membership status: %q", *in.Status)
		}
		updated.Status = *in.Status
	}
	if in.LeftAt != nil {
		leftAt := in.LeftAt.UTC()
		updated.LeftAt = &leftAt
	}
	if in.Notes != nil {
		updated.Notes = in.Notes
	}
	updated.UpdatedAt = database.Now()

	if err := e.store.Update(ctx, &updated); err != nil {
		return nil, err
	}

	audit.Record(ctx, e.audit, audit.NewEvent(ctx, audit.EventTypeMembershipUpdate, audit.ResourceTypeMembership, resourceID(communityID, memberID)).
		WithTenant(tenantID).
		WithMessage("community member updated").
		WithChanges(before, snapshot(&updated)))
	return &updated, nil
}

// RemoveMember hard-deletes a membership after checking it exists within
// the tenant
func (e *Engine) RemoveMember(ctx context.Context, tenantID, communityID, memberID string) (err error) {
	ctx, span := observability.StartSpan(ctx, "membership.RemoveMember",
		attribute.String("tenant_id", tenantID), attribute.String("community_id", communityID))
	defer func() {
		e.metrics.RecordMembership("remove", err)
		observability.EndSpan(span, err)
	}()

	if _, err := e.Get(ctx, tenantID, communityID, memberID); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, communityID, memberID); err != nil {
		return err
	}

	audit.Record(ctx, e.audit, audit.NewEvent(ctx, audit.EventTypeMembershipRemove, audit.ResourceTypeMembership, resourceID(communityID, memberID)).
		WithTenant(tenantID).
		WithMessage("member removed from community"))
	return nil
}

// List returns one page of memberships. Search matches member name, member
// email and community name.
func (e *Engine) List(ctx context.Context, tenantID, communityID string, filter ListFilter, page paging.Page, sort paging.Sort) (result paging.Result[*MemberView], err error) {
	ctx, span := observability.StartSpan(ctx, "membership.List",
		attribute.String("tenant_id", tenantID), attribute.String("community_id", communityID))
	defer func() { observability.EndSpan(span, err) }()

	if communityID != "" {
		if _, err := e.community(ctx, tenantID, communityID); err != nil {
			return result, err
		}
	}
	if sort.Field == "" {
		sort = paging.Sort{Field: "joinedAt", Desc: true}
	}
	items, total, err := e.store.List(ctx, tenantID, communityID, filter, page, sort)
	if err != nil {
		return result, err
	}
	return paging.Result[*MemberView]{Items: items, Pagination: paging.NewPagination(page, total)}, nil
}

// ActiveCommunityIDs returns the member's active communities of type typ
// within branchID
func (e *Engine) ActiveCommunityIDs(ctx context.Context, tenantID, memberID string, typ community.Type, branchID *string) ([]string, error) {
	rows, err := e.TypeMemberships(ctx, tenantID, memberID, typ, branchID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, tm := range rows {
		if tm.Status == StatusActive {
			ids = append(ids, tm.CommunityID)
		}
	}
	return ids, nil
}

// TypeMemberships returns every membership of the member in communities of
// type typ within branchID, in join order
func (e *Engine) TypeMemberships(ctx context.Context, tenantID, memberID string, typ community.Type, branchID *string) ([]TypeMembership, error) {
	return e.store.TypeMemberships(ctx, tenantID, memberID, string(typ), branchID)
}

// Reactivate sets an existing membership back to ACTIVE and clears its
// departure time
func (e *Engine) Reactivate(ctx context.Context, tenantID, communityID, memberID string) (row *Membership, err error) {
	ctx, span := observability.StartSpan(ctx, "membership.Reactivate",
		attribute.String("tenant_id", tenantID), attribute.String("community_id", communityID))
	defer func() {
		e.metrics.RecordMembership("reactivate", err)
		observability.EndSpan(span, err)
	}()

	existing, err := e.Get(ctx, tenantID, communityID, memberID)
	if err != nil {
		return nil, err
	}
	before := snapshot(existing)

	updated := *existing
	updated.Status = StatusActive
	updated.LeftAt = nil
	updated.UpdatedAt = database.Now()
	if err := e.store.Update(ctx, &updated); err != nil {
		return nil, err
	}

	audit.Record(ctx, e.audit, audit.NewEvent(ctx, audit.EventTypeMembershipUpdate, audit.ResourceTypeMembership, resourceID(communityID, memberID)).
		WithTenant(tenantID).
		WithMessage("community membership reactivated").
		WithChanges(before, snapshot(&updated)))
	return &updated, nil
}

func resourceID(communityID, memberID string) string {
	return communityID + ":" + memberID
}

func snapshot(m *Membership) map[string]interface{} {
	s := map[string]interface{}{
		"role":   string(m.Role),
		"status": string(m.Status),
	}
	if m.LeftAt != nil {
		s["leftAt"] = m.LeftAt
	}
	if m.Notes != nil {
		s["notes"] = *m.Notes
	}
	return s
}
