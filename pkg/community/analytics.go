package community

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/observability"
)

const topCommunitiesLimit = 5

// Analytics computes read-only community statistics. The aggregate queries
// of each report run concurrently.
type Analytics struct {
	db    database.DBTX
	store *Store
}

// NewAnalytics creates community analytics over db
func NewAnalytics(db database.DBTX) *Analytics {
	return &Analytics{db: db, store: NewStore(db)}
}

func scopeClause(tenantID string, branchID *string) (string, []interface{}) {
	if branchID != nil && *branchID != "" {
		return "tenant_id = $1 AND branch_id = $2", []interface{}{tenantID, *branchID}
	}
	return "tenant_id = $1", []interface{}{tenantID}
}

func (a *Analytics) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *Analytics) groupCount(ctx context.Context, query string, args ...interface{}) ([]CountByKey, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CountByKey, 0)
	for rows.Next() {
		var bucket CountByKey
		if err := rows.Scan(&bucket.Key, &bucket.Count); err != nil {
			return nil, err
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}

// Core returns totals, status and type breakdowns and archive counts
func (a *Analytics) Core(ctx context.Context, tenantID string, branchID *string) (result *CoreAnalytics, err error) {
	ctx, span := observability.StartSpan(ctx, "community.CoreAnalytics", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	where, args := scopeClause(tenantID, branchID)
	result = &CoreAnalytics{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.count(gctx, `SELECT COUNT(*) FROM communities WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("failed to count communities: %w", err)
		}
		result.Total = n
		return nil
	})
	g.Go(func() error {
		buckets, err := a.groupCount(gctx, `SELECT status, COUNT(*) FROM communities WHERE `+where+` GROUP BY status ORDER BY status`, args...)
		if err != nil {
			return fmt.Errorf("failed to group communities by status: %w", err)
		}
		result.StatusBreakdown = buckets
		return nil
	})
	g.Go(func() error {
		buckets, err := a.groupCount(gctx, `SELECT type, COUNT(*) FROM communities WHERE `+where+` GROUP BY type ORDER BY type`, args...)
		if err != nil {
			return fmt.Errorf("failed to group communities by type: %w", err)
		}
		result.TypeBreakdown = buckets
		return nil
	})
	g.Go(func() error {
		n, err := a.count(gctx, `SELECT COUNT(*) FROM communities WHERE `+where+` AND archived_at IS NOT NULL`, args...)
		if err != nil {
			return fmt.Errorf("failed to count archived communities: %w", err)
		}
		result.Archived = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Active = result.Total - result.Archived
	return result, nil
}

// Membership returns active member counts per community, the five largest
// communities, the number of empty ones and the rounded average size
func (a *Analytics) Membership(ctx context.Context, tenantID string, branchID *string) (result *MembershipAnalytics, err error) {
	ctx, span := observability.StartSpan(ctx, "community.MembershipAnalytics", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	where, args := scopeClause(tenantID, branchID)

	var (
		communities []MemberCount
		counts      = make(map[string]int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := a.db.QueryContext(gctx, `SELECT id, name, type FROM communities WHERE `+where+` ORDER BY created_at, id`, args...)
		if err != nil {
			return fmt.Errorf("failed to list communities: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c MemberCount
			var typ string
			if err := rows.Scan(&c.ID, &c.Name, &typ); err != nil {
				return fmt.Errorf("failed to scan community: %w", err)
			}
			c.Type = Type(typ)
			communities = append(communities, c)
		}
		return rows.Err()
	})
	g.Go(func() error {
		rows, err := a.db.QueryContext(gctx, `
			SELECT cm.community_id, COUNT(*)
			FROM community_members cm
			JOIN communities c ON c.id = cm.community_id
			WHERE c.tenant_id = $1 AND cm.status = $2
			GROUP BY cm.community_id`, tenantID, "ACTIVE")
		if err != nil {
			return fmt.Errorf("failed to count community members: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return fmt.Errorf("failed to scan member count: %w", err)
			}
			counts[id] = n
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result = &MembershipAnalytics{Communities: make([]MemberCount, 0, len(communities))}
	total := 0
	for _, c := range communities {
		c.MemberCount = counts[c.ID]
		total += c.MemberCount
		if c.MemberCount == 0 {
			result.EmptyCommunities++
		}
		result.Communities = append(result.Communities, c)
	}

	top := make([]MemberCount, len(result.Communities))
	copy(top, result.Communities)
	sort.SliceStable(top, func(i, j int) bool { return top[i].MemberCount > top[j].MemberCount })
	if len(top) > topCommunitiesLimit {
		top = top[:topCommunitiesLimit]
	}
	result.TopCommunities = top

	if len(communities) > 0 {
		result.AverageMembers = int(math.Round(float64(total) / float64(len(communities))))
	}
	return result, nil
}

// Detail returns one community's active member counts per role and its
// active leaders
func (a *Analytics) Detail(ctx context.Context, tenantID, communityID string) (result *DetailAnalytics, err error) {
	ctx, span := observability.StartSpan(ctx, "community.DetailAnalytics",
		attribute.String("tenant_id", tenantID), attribute.String("community_id", communityID))
	defer func() { observability.EndSpan(span, err) }()

	c, err := a.store.Get(ctx, tenantID, communityID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("Community not found")
		}
		return nil, err
	}

	result = &DetailAnalytics{
		ID:       c.ID,
		Name:     c.Name,
		Type:     c.Type,
		Status:   c.Status,
		BranchID: c.BranchID,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buckets, err := a.groupCount(gctx, `
			SELECT role, COUNT(*) FROM community_members
			WHERE community_id = $1 AND status = $2
			GROUP BY role`, communityID, "ACTIVE")
		if err != nil {
			return fmt.Errorf("failed to count members by role: %w", err)
		}
		for _, b := range buckets {
			switch b.Key {
			case "MEMBER":
				result.MemberCountPerRole.Members = b.Count
			case "LEADER":
				result.MemberCountPerRole.Leaders = b.Count
			case "ASSISTANT_LEADER":
				result.MemberCountPerRole.AssistantLeaders = b.Count
			}
			result.MemberCountPerRole.Total += b.Count
		}
		return nil
	})
	g.Go(func() error {
		ids, err := a.memberIDsWithRole(gctx, communityID, "LEADER")
		result.LeaderIDs = ids
		return err
	})
	g.Go(func() error {
		ids, err := a.memberIDsWithRole(gctx, communityID, "ASSISTANT_LEADER")
		result.AssistantLeaderIDs = ids
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Analytics) memberIDsWithRole(ctx context.Context, communityID, role string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT member_id FROM community_members
		WHERE community_id = $1 AND role = $2 AND status = $3
		ORDER BY joined_at`, communityID, role, "ACTIVE")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s members: %w", role, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s members: %w", role, err)
	}
	return ids, nil
}

// Tenants lists every tenant that owns at least one community
func (a *Analytics) Tenants(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM communities ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list community tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
