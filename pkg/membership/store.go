package membership

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/paging"
)

const membershipColumns = `cm.community_id, cm.member_id, cm.role, cm.status, cm.joined_at, cm.left_at, cm.notes, cm.updated_at`

// Store handles community_members persistence. Callers establish tenant
// ownership through the community before touching rows.
type Store struct {
	db database.DBTX
}

// NewStore creates a new membership store
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row scanner, extra ...interface{}) (*Membership, error) {
	var (
		m            Membership
		role, status string
		leftAt       sql.NullTime
		notes        sql.NullString
	)
	dest := append([]interface{}{
		&m.CommunityID, &m.MemberID, &role, &status, &m.JoinedAt, &leftAt, &notes, &m.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.Status = Status(status)
	m.LeftAt = database.TimePtr(leftAt)
	m.Notes = database.StringPtr(notes)
	m.JoinedAt = m.JoinedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// Get returns the (community, member) row or nil when absent
func (s *Store) Get(ctx context.Context, communityID, memberID string) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM community_members cm WHERE cm.community_id = $1 AND cm.member_id = $2`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, communityID, memberID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get community member: %w", err)
	}
	return m, nil
}

// Insert adds a membership row. A duplicate key surfaces as a unique
// violation.
func (s *Store) Insert(ctx context.Context, m *Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, member_id, role, status, joined_at, left_at, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.CommunityID, m.MemberID, string(m.Role), string(m.Status), m.JoinedAt,
		database.NullTime(m.LeftAt), database.NullString(m.Notes), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add community member: %w", err)
	}
	return nil
}

// Update writes role, status, departure and notes
func (s *Store) Update(ctx context.Context, m *Membership) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE community_members SET role = $1, status = $2, left_at = $3, notes = $4, updated_at = $5
		WHERE community_id = $6 AND member_id = $7`,
		string(m.Role), string(m.Status), database.NullTime(m.LeftAt), database.NullString(m.Notes), m.UpdatedAt,
		m.CommunityID, m.MemberID)
	if err != nil {
		return fmt.Errorf("failed to update community member: %w", err)
	}
	return nil
}

// Delete hard-deletes a membership row
func (s *Store) Delete(ctx context.Context, communityID, memberID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM community_members WHERE community_id = $1 AND member_id = $2`, communityID, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove community member: %w", err)
	}
	return nil
}

// LeaderIDs returns the active leaders and assistant leaders of a community
func (s *Store) LeaderIDs(ctx context.Context, communityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id FROM community_members
		WHERE community_id = $1 AND status = $2 AND role IN ($3, $4)
		ORDER BY joined_at`,
		communityID, string(StatusActive), string(RoleLeader), string(RoleAssistantLeader))
	if err != nil {
		return nil, fmt.Errorf("failed to list community leaders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan leader id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TypeMemberships returns the member's rows in communities of type typ
// within the branch, whatever their status. A nil branch matches
// communities without one.
func (s *Store) TypeMemberships(ctx context.Context, tenantID, memberID, typ string, branchID *string) ([]TypeMembership, error) {
	query := `
		SELECT c.id, cm.status FROM community_members cm
		JOIN communities c ON c.id = cm.community_id
		WHERE c.tenant_id = $1 AND cm.member_id = $2 AND c.type = $3`
	args := []interface{}{tenantID, memberID, typ}
	if branchID != nil {
		query += ` AND c.branch_id = $4`
		args = append(args, *branchID)
	} else {
		query += ` AND c.branch_id IS NULL`
	}
	query += ` ORDER BY cm.joined_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list member communities: %w", err)
	}
	defer rows.Close()

	var out []TypeMembership
	for rows.Next() {
		var (
			tm     TypeMembership
			status string
		)
		if err := rows.Scan(&tm.CommunityID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan community id: %w", err)
		}
		tm.Status = Status(status)
		out = append(out, tm)
	}
	return out, rows.Err()
}

var sortColumns = map[string]string{
	"joinedAt":  "cm.joined_at",
	"role":      "cm.role",
	"status":    "cm.status",
	"firstName": "m.first_name",
	"lastName":  "m.last_name",
}

// List returns one page of a community's memberships with member details.
// An empty communityID lists across every community of the tenant.
func (s *Store) List(ctx context.Context, tenantID, communityID string, filter ListFilter, page paging.Page, sort paging.Sort) ([]*MemberView, int, error) {
	where := []string{"c.tenant_id = $1"}
	args := []interface{}{tenantID}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if communityID != "" {
		add("cm.community_id = $%d", communityID)
	}
	if filter.Role != "" {
		add("cm.role = $%d", string(filter.Role))
	}
	if filter.Status != "" {
		add("cm.status = $%d", string(filter.Status))
	}
	if filter.Search != "" {
		add(`(LOWER(m.first_name) LIKE $%[1]d OR LOWER(m.last_name) LIKE $%[1]d
			OR LOWER(m.email) LIKE $%[1]d OR LOWER(c.name) LIKE $%[1]d)`,
			"%"+strings.ToLower(filter.Search)+"%")
	}

	from := `FROM community_members cm
		JOIN communities c ON c.id = cm.community_id
		LEFT JOIN members m ON m.id = cm.member_id AND m.tenant_id = c.tenant_id
		WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count community members: %w", err)
	}

	column, ok := sortColumns[sort.Field]
	if !ok {
		column = "cm.joined_at"
	}
	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s, COALESCE(m.first_name, ''), COALESCE(m.last_name, ''), COALESCE(m.email, ''), c.name %s
		ORDER BY %s %s, cm.member_id LIMIT $%d OFFSET $%d`,
		membershipColumns, from, column, sort.Direction(), len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list community members: %w", err)
	}
	defer rows.Close()

	views := make([]*MemberView, 0)
	for rows.Next() {
		var v MemberView
		m, err := scanMembership(rows, &v.FirstName, &v.LastName, &v.Email, &v.CommunityName)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan community member: %w", err)
		}
		v.Membership = *m
		views = append(views, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating community members: %w", err)
	}
	return views, total, nil
}
