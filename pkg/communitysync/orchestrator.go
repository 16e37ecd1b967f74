package communitysync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/membership"
	"github.com/platinummonkey/flock/pkg/observability"
)

// SkippedMessage is reported when a sync carries no community-relevant data
const SkippedMessage = "No community-relevant data provided, sync skipped"

// Orchestrator moves members between typed communities as their profile
// changes. Every failure is reported as a step; nothing is rolled back.
type Orchestrator struct {
	resolver *community.Resolver
	engine   *membership.Engine
	members  *members.Store
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewOrchestrator wires the resolver, membership engine and member store
func NewOrchestrator(resolver *community.Resolver, engine *membership.Engine, memberStore *members.Store, metrics *observability.Metrics, logger *observability.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Orchestrator{
		resolver: resolver,
		engine:   engine,
		members:  memberStore,
		metrics:  metrics,
		logger:   logger.WithField("component", "communitysync"),
	}
}

// Assignment names the community to move a member into, per type
type Assignment struct {
	CellCommunityID       *string `json:"cellCommunityId"`
	TribeCommunityID      *string `json:"tribeCommunityId"`
	ProfessionCommunityID *string `json:"professionCommunityId"`
	MinistryCommunityID   *string `json:"ministryCommunityId"`
}

func (a Assignment) target(t community.Type) string {
	var id *string
	switch t {
	case community.TypeCell:
		id = a.CellCommunityID
	case community.TypeTribe:
		id = a.TribeCommunityID
	case community.TypeProfession:
		id = a.ProfessionCommunityID
	case community.TypeMinistry:
		id = a.MinistryCommunityID
	}
	if id == nil {
		return ""
	}
	return *id
}

// report accumulates the steps of one sync
type report struct {
	steps   []members.SyncStep
	metrics *observability.Metrics
}

func (r *report) add(rule community.Rule, step string, success bool, message string) {
	r.steps = append(r.steps, members.SyncStep{Step: step, Success: success, Message: message})
	r.metrics.RecordSyncStep(rule.Kind, step, success)
}

// SyncCommunity places the member in the community matching each attribute
// present in changes and leaves any other community of the same type.
// Communities are created on first need within branchID.
func (o *Orchestrator) SyncCommunity(ctx context.Context, tenantID, memberID string, changes members.ProfileChanges, branchID *string) []members.SyncStep {
	ctx, span := observability.StartSpan(ctx, "communitysync.SyncCommunity",
		attribute.String("tenant_id", tenantID), attribute.String("member_id", memberID))
	defer span.End()

	if changes.Empty() {
		return []members.SyncStep{{Step: "sync", Success: true, Message: SkippedMessage}}
	}

	r := &report{metrics: o.metrics}
	member, ok := o.lookupMember(ctx, r, tenantID, memberID)
	if !ok {
		return r.steps
	}

	values := profileValues(changes)
	for _, rule := range community.SyncRules {
		value := rule.Value(values)
		if value == "" {
			continue
		}
		o.guard(ctx, r, rule, func() {
			o.syncKind(ctx, r, rule, tenantID, member, value, branchID)
		})
	}
	return r.steps
}

// AssignCommunities moves the member into the named communities, leaving
// any other community of the same type
func (o *Orchestrator) AssignCommunities(ctx context.Context, tenantID, memberID string, in Assignment) []members.SyncStep {
	ctx, span := observability.StartSpan(ctx, "communitysync.AssignCommunities",
		attribute.String("tenant_id", tenantID), attribute.String("member_id", memberID))
	defer span.End()

	r := &report{metrics: o.metrics}
	member, ok := o.lookupMember(ctx, r, tenantID, memberID)
	if !ok {
		return r.steps
	}

	for _, rule := range community.SyncRules {
		id := in.target(rule.Type)
		if id == "" {
			continue
		}
		o.guard(ctx, r, rule, func() {
			target, err := o.resolver.GetOfType(ctx, tenantID, id, rule.Type)
			if err != nil {
				r.add(rule, rule.Kind+"_lookup", false, rule.Label+" community not found")
				return
			}
			r.add(rule, rule.Kind+"_lookup", true, "")

			if !sameBranch(target.BranchID, member.BranchID) {
				r.add(rule, "branch_validation", false, branchMismatch(rule))
				return
			}
			o.join(ctx, r, rule, tenantID, member, target, member.BranchID, false)
		})
	}
	return r.steps
}

func (o *Orchestrator) lookupMember(ctx context.Context, r *report, tenantID, memberID string) (*members.Member, bool) {
	member, err := o.members.Get(ctx, tenantID, memberID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			o.logger.WithError(err).WithField("member_id", memberID).Warn("Member lookup failed during community sync")
		}
		r.steps = append(r.steps, members.SyncStep{
			Step:    "member_lookup",
			Success: false,
			Message: fmt.Sprintf("No member found with id %s", memberID),
		})
		return nil, false
	}
	return member, true
}

// guard turns a panic inside one community kind into a failed step so the
// remaining kinds still run
func (o *Orchestrator) guard(ctx context.Context, r *report, rule community.Rule, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			err := observability.PanicError(rec)
			o.logger.WithError(err).WithField("kind", rule.Kind).Error("Community sync panicked")
			r.add(rule, rule.Kind+"_update", false, err.Error())
		}
	}()
	fn()
}

func (o *Orchestrator) syncKind(ctx context.Context, r *report, rule community.Rule, tenantID string, member *members.Member, value string, branchID *string) {
	target, err := o.resolver.FindByUniqueAttributes(ctx, tenantID, branchID, rule.Type, rule.Attributes(value))
	if err != nil {
		r.add(rule, rule.Kind+"_lookup", false, err.Error())
		return
	}

	// A found community lives in branchID by construction, so this only
	// fails when the member is synced against another branch.
	if !sameBranch(branchID, member.BranchID) {
		r.add(rule, "branch_validation", false, branchMismatch(rule))
		return
	}

	if target == nil {
		target, err = o.createCommunity(ctx, tenantID, rule, value, branchID)
		if err != nil {
			r.add(rule, "create_"+rule.Kind+"_community", false, err.Error())
			return
		}
		r.add(rule, "create_"+rule.Kind+"_community", true, "")
	}

	o.join(ctx, r, rule, tenantID, member, target, branchID, true)
}

// createCommunity auto-creates the community for value. Losing a creation
// race to a concurrent sync falls back to the winner's row.
func (o *Orchestrator) createCommunity(ctx context.Context, tenantID string, rule community.Rule, value string, branchID *string) (*community.Community, error) {
	attrs := rule.Attributes(value)
	in := community.CreateInput{
		BranchID: branchID,
		Type:     rule.Type,
		Name:     rule.Name(value),
		Status:   community.StatusActive,
	}
	if attrs.Location != "" {
		in.Location = &attrs.Location
	}
	if attrs.Month != "" {
		in.Month = &attrs.Month
	}
	if attrs.Profession != "" {
		in.Profession = &attrs.Profession
	}
	if attrs.Gender != "" {
		in.Gender = &attrs.Gender
	}

	c, err := o.resolver.Create(ctx, tenantID, in, nil)
	if apperr.IsConflict(err) {
		existing, lookupErr := o.resolver.FindByUniqueAttributes(ctx, tenantID, branchID, rule.Type, attrs)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
	}
	return c, err
}

// join adds the member to target, normalises the member's attribute to the
// community's canonical value and leaves the other communities of the type.
// A non-active row in target is reactivated rather than re-added.
func (o *Orchestrator) join(ctx context.Context, r *report, rule community.Rule, tenantID string, member *members.Member, target *community.Community, branchID *string, notifyLeaders bool) {
	rows, err := o.engine.TypeMemberships(ctx, tenantID, member.ID, rule.Type, branchID)
	if err != nil {
		r.add(rule, "membership_check", false, err.Error())
		return
	}
	var (
		current []string
		dormant bool
	)
	for _, tm := range rows {
		switch {
		case tm.CommunityID != target.ID:
			current = append(current, tm.CommunityID)
		case tm.Status == membership.StatusActive:
			r.add(rule, "membership_check", false, fmt.Sprintf("Member already belongs to this %s community", rule.Kind))
			return
		default:
			dormant = true
		}
	}

	if dormant {
		if _, err := o.engine.Reactivate(ctx, tenantID, target.ID, member.ID); err != nil {
			o.logger.WithError(err).WithFields(map[string]interface{}{
				"member_id":    member.ID,
				"community_id": target.ID,
			}).Warnf("Failed to reactivate %s membership", rule.Kind)
			r.add(rule, "add_"+rule.Kind+"_membership", false, fmt.Sprintf("Failed to add member to %s community", rule.Kind))
			return
		}
	} else {
		reports, err := o.engine.AddMembers(ctx, tenantID, target.ID, []string{member.ID}, membership.AddOptions{NotifyLeaders: notifyLeaders})
		if err != nil || len(reports) != 1 || reports[0].Status != membership.ReportSuccess {
			reason := ""
			if err != nil {
				reason = err.Error()
			} else if len(reports) == 1 {
				reason = reports[0].Reason
			}
			o.logger.WithFields(map[string]interface{}{
				"member_id":    member.ID,
				"community_id": target.ID,
			}).Warnf("Failed to add member to %s community: %s", rule.Kind, reason)
			r.add(rule, "add_"+rule.Kind+"_membership", false, fmt.Sprintf("Failed to add member to %s community", rule.Kind))
			return
		}
	}
	r.add(rule, "add_"+rule.Kind+"_membership", true, "")

	o.normalizeMember(ctx, tenantID, member, rule, target)

	if len(current) == 0 {
		return
	}
	removed := true
	for _, id := range current {
		if err := o.engine.RemoveMember(ctx, tenantID, id, member.ID); err != nil {
			o.logger.WithError(err).WithFields(map[string]interface{}{
				"member_id":    member.ID,
				"community_id": id,
			}).Warn("Failed to leave previous community")
			removed = false
		}
	}
	if removed {
		r.add(rule, "remove_old_"+rule.Kind+"_memberships", true, "")
	} else {
		r.add(rule, "remove_old_"+rule.Kind+"_memberships", false, fmt.Sprintf("Failed to remove old %s memberships", rule.Kind))
	}
}

// normalizeMember writes the community's canonical attribute back onto the
// member. Failures are logged only.
func (o *Orchestrator) normalizeMember(ctx context.Context, tenantID string, member *members.Member, rule community.Rule, target *community.Community) {
	if rule.MemberColumn == "" {
		return
	}
	canonical := rule.Canonical(target)
	if canonical == "" || canonical == memberValue(member, rule.MemberColumn) {
		return
	}
	if err := o.members.UpdateAttribute(ctx, tenantID, member.ID, rule.MemberColumn, canonical); err != nil {
		o.logger.WithError(err).WithField("member_id", member.ID).Warnf("Failed to normalise member %s", rule.MemberColumn)
	}
}

func memberValue(m *members.Member, column string) string {
	switch column {
	case "location":
		return deref(m.Location)
	case "profession":
		return deref(m.Profession)
	case "gender":
		return deref(m.Gender)
	}
	return ""
}

// profileValues maps profile changes onto community attributes. An
// unparseable date of birth yields no month, so the tribe kind is skipped.
func profileValues(c members.ProfileChanges) community.Attributes {
	attrs := community.Attributes{
		Location:   deref(c.Location),
		Profession: deref(c.Profession),
		Gender:     deref(c.Gender),
	}
	if c.DateOfBirth != nil {
		if dob, err := members.ParseDate(*c.DateOfBirth); err == nil {
			attrs.Month = community.MonthOf(dob)
		}
	}
	return attrs
}

func branchMismatch(rule community.Rule) string {
	return rule.Label + " community does not belong to the member's branch"
}

func sameBranch(a, b *string) bool {
	return deref(a) == deref(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
