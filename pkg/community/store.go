package community

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/paging"
)

const communityColumns = `id, tenant_id, branch_id, type, name, description, status,
	location, country, month, profession, gender,
	leader_id, assistant_leader_id, created_by, archived_at, created_at, updated_at`

// Store handles community persistence
type Store struct {
	db database.DBTX
}

// NewStore creates a new community store
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCommunity(row scanner) (*Community, error) {
	var (
		c                                        Community
		branchID, description, location, country sql.NullString
		month, profession, gender                sql.NullString
		leaderID, assistantLeaderID, createdBy   sql.NullString
		archivedAt                               sql.NullTime
		typ, status                              string
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &branchID, &typ, &c.Name, &description, &status,
		&location, &country, &month, &profession, &gender,
		&leaderID, &assistantLeaderID, &createdBy, &archivedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Type = Type(typ)
	c.Status = Status(status)
	c.BranchID = database.StringPtr(branchID)
	c.Description = database.StringPtr(description)
	c.Location = database.StringPtr(location)
	c.Country = database.StringPtr(country)
	c.Month = database.StringPtr(month)
	c.Profession = database.StringPtr(profession)
	c.Gender = database.StringPtr(gender)
	c.LeaderID = database.StringPtr(leaderID)
	c.AssistantLeaderID = database.StringPtr(assistantLeaderID)
	c.CreatedBy = database.StringPtr(createdBy)
	c.ArchivedAt = database.TimePtr(archivedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// Create inserts a community
func (s *Store) Create(ctx context.Context, c *Community) error {
	query := `
		INSERT INTO communities (` + communityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.TenantID, database.NullString(c.BranchID), string(c.Type), c.Name,
		database.NullString(c.Description), string(c.Status),
		database.NullString(c.Location), database.NullString(c.Country), database.NullString(c.Month),
		database.NullString(c.Profession), database.NullString(c.Gender),
		database.NullString(c.LeaderID), database.NullString(c.AssistantLeaderID), database.NullString(c.CreatedBy),
		database.NullTime(c.ArchivedAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("A %s community with the same unique information already exists in this branch", c.Type)
		}
		return fmt.Errorf("failed to create community: %w", err)
	}
	return nil
}

// Get returns a tenant's community by id
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Community, error) {
	query := `SELECT ` + communityColumns + ` FROM communities WHERE id = $1 AND tenant_id = $2`
	c, err := scanCommunity(s.db.QueryRowContext(ctx, query, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Community with ID \"%s\" not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get community: %w", err)
	}
	return c, nil
}

// findFirst returns the first community in (tenant, branch, type) whose
// columns equal cols, skipping excludeID. It returns nil when none match.
func (s *Store) findFirst(ctx context.Context, tenantID string, branchID *string, typ Type, cols []column, excludeID string) (*Community, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + communityColumns + ` FROM communities WHERE tenant_id = $1 AND type = $2`)
	args := []interface{}{tenantID, string(typ)}

	where := append([]column{{"branch_id", branchID}}, cols...)
	for _, col := range where {
		if col.value == nil {
			fmt.Fprintf(&b, " AND %s IS NULL", col.name)
			continue
		}
		args = append(args, *col.value)
		fmt.Fprintf(&b, " AND %s = $%d", col.name, len(args))
	}
	if excludeID != "" {
		args = append(args, excludeID)
		fmt.Fprintf(&b, " AND id <> $%d", len(args))
	}
	b.WriteString(" ORDER BY created_at ASC LIMIT 1")

	c, err := scanCommunity(s.db.QueryRowContext(ctx, b.String(), args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find community: %w", err)
	}
	return c, nil
}

// FindByName returns the community named name in (tenant, branch, type)
func (s *Store) FindByName(ctx context.Context, tenantID string, branchID *string, typ Type, name, excludeID string) (*Community, error) {
	return s.findFirst(ctx, tenantID, branchID, typ, []column{{"name", &name}}, excludeID)
}

// FindByAttributes returns the community identified by attrs for its type
func (s *Store) FindByAttributes(ctx context.Context, tenantID string, branchID *string, typ Type, attrs Attributes, excludeID string) (*Community, error) {
	return s.findFirst(ctx, tenantID, branchID, typ, uniqueColumns(typ, attrs), excludeID)
}

// Lookup is FindByAttributes with find-or-create matching
func (s *Store) Lookup(ctx context.Context, tenantID string, branchID *string, typ Type, attrs Attributes) (*Community, error) {
	return s.findFirst(ctx, tenantID, branchID, typ, lookupColumns(typ, attrs), "")
}

// Update writes every mutable field of c
func (s *Store) Update(ctx context.Context, c *Community) error {
	query := `
		UPDATE communities SET
			branch_id = $1, type = $2, name = $3, description = $4, status = $5,
			location = $6, country = $7, month = $8, profession = $9, gender = $10,
			leader_id = $11, assistant_leader_id = $12, updated_at = $13
		WHERE id = $14 AND tenant_id = $15
	`
	result, err := s.db.ExecContext(ctx, query,
		database.NullString(c.BranchID), string(c.Type), c.Name, database.NullString(c.Description), string(c.Status),
		database.NullString(c.Location), database.NullString(c.Country), database.NullString(c.Month),
		database.NullString(c.Profession), database.NullString(c.Gender),
		database.NullString(c.LeaderID), database.NullString(c.AssistantLeaderID), c.UpdatedAt,
		c.ID, c.TenantID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("A %s community with the same unique information already exists in this branch", c.Type)
		}
		return fmt.Errorf("failed to update community: %w", err)
	}
	return requireRow(result, c.ID)
}

// Archive sets archived_at
func (s *Store) Archive(ctx context.Context, tenantID, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE communities SET archived_at = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		at, at, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to archive community: %w", err)
	}
	return requireRow(result, id)
}

// Delete hard-deletes a community. Memberships are left in place.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM communities WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete community: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("Community with ID \"%s\" not found", id)
	}
	return nil
}

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"name":      "name",
	"type":      "type",
	"status":    "status",
}

// SortColumn maps an API sort field onto a column, defaulting to created_at
func SortColumn(field string) string {
	if col, ok := sortColumns[field]; ok {
		return col
	}
	for _, col := range sortColumns {
		if col == field {
			return col
		}
	}
	return "created_at"
}

// List returns one page of a tenant's communities and the total match count
func (s *Store) List(ctx context.Context, tenantID string, filter ListFilter, page paging.Page, sort paging.Sort) ([]*Community, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.BranchID != "" {
		add("branch_id = $%d", filter.BranchID)
	}
	if filter.MemberID != "" {
		add("id IN (SELECT community_id FROM community_members WHERE member_id = $%d)", filter.MemberID)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Profession != "" {
		add("profession = $%d", filter.Profession)
	}
	if filter.Gender != "" {
		add("gender = $%d", filter.Gender)
	}
	if filter.Month != "" {
		add("month = $%d", filter.Month)
	}
	if !filter.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%", strings.ToUpper(filter.Search))
		like, month := len(args)-1, len(args)
		where = append(where, fmt.Sprintf(
			"(LOWER(name) LIKE $%[1]d OR LOWER(location) LIKE $%[1]d OR LOWER(gender) LIKE $%[1]d OR month = $%[2]d)",
			like, month))
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM communities WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count communities: %w", err)
	}

	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM communities WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		communityColumns, clause, SortColumn(sort.Field), sort.Direction(), len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list communities: %w", err)
	}
	defer rows.Close()

	communities := make([]*Community, 0)
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan community: %w", err)
		}
		communities = append(communities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating communities: %w", err)
	}
	return communities, total, nil
}
