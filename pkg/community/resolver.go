package community

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/paging"
)

// MemberAdder bootstraps the initial members of a newly created community
type MemberAdder interface {
	AddInitialMembers(ctx context.Context, tenantID, communityID string, memberIDs []string) error
}

// Resolver owns community uniqueness rules, find-or-create lookups and the
// community lifecycle
type Resolver struct {
	store  *Store
	adder  MemberAdder
	audit  audit.Logger
	logger *observability.Logger
}

// NewResolver creates a resolver. adder and auditLogger may be nil.
func NewResolver(db database.DBTX, adder MemberAdder, auditLogger audit.Logger, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NoOp()
	}
	return &Resolver{
		store:  NewStore(db),
		adder:  adder,
		audit:  auditLogger,
		logger: logger.WithField("component", "community"),
	}
}

// Store exposes the underlying store
func (r *Resolver) Store() *Store {
	return r.store
}

// FindByUniqueAttributes returns the community of type typ identified by
// attrs within (tenant, branch), or nil. A nil branch only matches
// communities without a branch.
func (r *Resolver) FindByUniqueAttributes(ctx context.Context, tenantID string, branchID *string, typ Type, attrs Attributes) (c *Community, err error) {
	ctx, span := observability.StartSpan(ctx, "community.FindByUniqueAttributes",
		attribute.String("tenant_id", tenantID), attribute.String("type", string(typ)))
	defer func() { observability.EndSpan(span, err) }()

	return r.store.Lookup(ctx, tenantID, branchID, typ, normalize(typ, attrs))
}

// Create validates and persists a new community, then best-effort adds any
// initial members
func (r *Resolver) Create(ctx context.Context, tenantID string, in CreateInput, creatorID *string) (c *Community, err error) {
	ctx, span := observability.StartSpan(ctx, "community.Create",
		attribute.String("tenant_id", tenantID), attribute.String("type", string(in.Type)))
	defer func() { observability.EndSpan(span, err) }()

	name := strings.TrimSpace(in.Name)
	status := in.Status
	if status == "" {
		status = StatusActive
	}
	attrs := normalize(in.Type, Attributes{
		Country:    deref(in.Country),
		Location:   deref(in.Location),
		Month:      deref(in.Month),
		Profession: deref(in.Profession),
		Gender:     deref(in.Gender),
	})
	if err := validate(in.Type, name, status, attrs); err != nil {
		return nil, err
	}
	if err := r.checkUnique(ctx, tenantID, in.BranchID, in.Type, name, attrs, ""); err != nil {
		return nil, err
	}

	now := database.Now()
	c = &Community{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		BranchID:          in.BranchID,
		Type:              in.Type,
		Name:              name,
		Description:       in.Description,
		Status:            status,
		LeaderID:          in.LeaderID,
		AssistantLeaderID: in.AssistantLeaderID,
		CreatedBy:         creatorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	applyAttributes(c, attrs)

	if err := r.store.Create(ctx, c); err != nil {
		return nil, err
	}

	audit.Record(ctx, r.audit, audit.NewEvent(ctx, audit.EventTypeCommunityCreate, audit.ResourceTypeCommunity, c.ID).
		WithTenant(tenantID).
		WithMessage("community created").
		WithMetadata("type", string(c.Type)).
		WithMetadata("name", c.Name))

	if len(in.MemberIDs) > 0 && r.adder != nil {
		if addErr := r.adder.AddInitialMembers(ctx, tenantID, c.ID, in.MemberIDs); addErr != nil {
			r.logger.WithError(addErr).WithField("community_id", c.ID).Warn("Failed to add initial community members")
		}
	}
	return c, nil
}

// Update applies a partial update, re-validating both uniqueness rules
// against every other community
func (r *Resolver) Update(ctx context.Context, tenantID, id string, in UpdateInput) (c *Community, err error) {
	ctx, span := observability.StartSpan(ctx, "community.Update",
		attribute.String("tenant_id", tenantID), attribute.String("community_id", id))
	defer func() { observability.EndSpan(span, err) }()

	existing, err := r.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	before := snapshot(existing)

	updated := *existing
	if in.BranchID != nil {
		updated.BranchID = in.BranchID
	}
	if in.Type != nil {
		updated.Type = *in.Type
	}
	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		updated.Description = in.Description
	}
	if in.Status != nil {
		updated.Status = *in.Status
	}
	if in.LeaderID != nil {
		updated.LeaderID = in.LeaderID
	}
	if in.AssistantLeaderID != nil {
		updated.AssistantLeaderID = in.AssistantLeaderID
	}

	pick := func(patch, current *string) string {
		if patch != nil {
			return *patch
		}
		return deref(current)
	}
	attrs := normalize(updated.Type, Attributes{
		Country:    pick(in.Country, existing.Country),
		Location:   pick(in.Location, existing.Location),
		Month:      pick(in.Month, existing.Month),
		Profession: pick(in.Profession, existing.Profession),
		Gender:     pick(in.Gender, existing.Gender),
	})
	if err := validate(updated.Type, updated.Name, updated.Status, attrs); err != nil {
		return nil, err
	}
	if err := r.checkUnique(ctx, tenantID, updated.BranchID, updated.Type, updated.Name, attrs, id); err != nil {
		return nil, err
	}

	applyAttributes(&updated, attrs)
	updated.UpdatedAt = database.Now()
	if err := r.store.Update(ctx, &updated); err != nil {
		return nil, err
	}

	audit.Record(ctx, r.audit, audit.NewEvent(ctx, audit.EventTypeCommunityUpdate, audit.ResourceTypeCommunity, id).
		WithTenant(tenantID).
		WithMessage("community updated").
		WithChanges(before, snapshot(&updated)))
	return &updated, nil
}

// Get returns a tenant's community
func (r *Resolver) Get(ctx context.Context, tenantID, id string) (*Community, error) {
	return r.store.Get(ctx, tenantID, id)
}

// GetOfType returns a tenant's community only when it has type typ
func (r *Resolver) GetOfType(ctx context.Context, tenantID, id string, typ Type) (*Community, error) {
	c, err := r.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Type != typ {
		return nil, apperr.NotFound("Community with ID \"%s\" not found", id)
	}
	return c, nil
}

// List returns one page of a tenant's communities, newest first by default
func (r *Resolver) List(ctx context.Context, tenantID string, filter ListFilter, page paging.Page, sort paging.Sort) (result paging.Result[*Community], err error) {
	ctx, span := observability.StartSpan(ctx, "community.List", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	if sort.Field == "" {
		sort = paging.Sort{Field: "created_at", Desc: true}
	}
	items, total, err := r.store.List(ctx, tenantID, filter, page, sort)
	if err != nil {
		return result, err
	}
	return paging.Result[*Community]{Items: items, Pagination: paging.NewPagination(page, total)}, nil
}

// Archive soft-archives a community. Memberships are not touched.
func (r *Resolver) Archive(ctx context.Context, tenantID, id string) (*Community, error) {
	if err := r.store.Archive(ctx, tenantID, id, database.Now()); err != nil {
		return nil, err
	}
	audit.Record(ctx, r.audit, audit.NewEvent(ctx, audit.EventTypeCommunityArchive, audit.ResourceTypeCommunity, id).
		WithTenant(tenantID).
		WithMessage("community archived"))
	return r.store.Get(ctx, tenantID, id)
}

// Delete hard-deletes a community. Memberships of the community dangle until
// the affected members are next synced.
func (r *Resolver) Delete(ctx context.Context, tenantID, id string) error {
	if err := r.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	audit.Record(ctx, r.audit, audit.NewEvent(ctx, audit.EventTypeCommunityDelete, audit.ResourceTypeCommunity, id).
		WithTenant(tenantID).
		WithMessage("community deleted"))
	return nil
}

func (r *Resolver) checkUnique(ctx context.Context, tenantID string, branchID *string, typ Type, name string, attrs Attributes, excludeID string) error {
	existing, err := r.store.FindByName(ctx, tenantID, branchID, typ, name, excludeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.Conflict("Community with name \"%s\" already exists in this branch", name)
	}

	if uniqueColumns(typ, attrs) == nil {
		return nil
	}
	existing, err = r.store.FindByAttributes(ctx, tenantID, branchID, typ, attrs, excludeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.Conflict("A %s community with the same unique information already exists in this branch", typ)
	}
	return nil
}

func validate(typ Type, name string, status Status, attrs Attributes) error {
	if !typ.Valid() {
		return apperr.Validation("invalid community type: %q", typ)
	}
	if name == "" {
		return apperr.Validation("community name is required")
	}
	if !status.Valid() {
		return apperr.Validation("invalid community status: %q", status)
	}
	switch typ {
	case TypeCell:
		if attrs.Location == "" {
			return apperr.Validation("location is required for CELL communities")
		}
	case TypeTribe:
		if !ValidMonth(attrs.Month) {
			return apperr.Validation("a valid month is required for TRIBE communities")
		}
	case TypeProfession:
		if attrs.Profession == "" {
			return apperr.Validation("profession is required for PROFESSION communities")
		}
	case TypeMinistry:
		if attrs.Gender == "" {
			return apperr.Validation("gender is required for MINISTRY communities")
		}
	}
	return nil
}

// applyAttributes stores attrs on c, clearing attributes that do not apply
// to its type
func applyAttributes(c *Community, attrs Attributes) {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	c.Country = opt(attrs.Country)
	c.Location = opt(attrs.Location)
	c.Month = opt(attrs.Month)
	c.Profession = opt(attrs.Profession)
	c.Gender = opt(attrs.Gender)
}

func snapshot(c *Community) map[string]interface{} {
	return map[string]interface{}{
		"branchId":   deref(c.BranchID),
		"type":       string(c.Type),
		"name":       c.Name,
		"status":     string(c.Status),
		"location":   deref(c.Location),
		"country":    deref(c.Country),
		"month":      deref(c.Month),
		"profession": deref(c.Profession),
		"gender":     deref(c.Gender),
	}
}
