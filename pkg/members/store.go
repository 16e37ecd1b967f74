package members

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

const memberColumns = `id, tenant_id, branch_id, user_id, member_number, first_name, last_name, email,
	phone, gender, date_of_birth, location, country, profession,
	member_type, member_status, is_deleted, deleted_at, created_at, updated_at`

// Store handles member and user persistence
type Store struct {
	db database.DBTX
}

// NewStore creates a new member store
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row scanner) (*Member, error) {
	var (
		m                               Member
		branchID, userID, phone, gender sql.NullString
		location, country, profession   sql.NullString
		dateOfBirth, deletedAt          sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.TenantID, &branchID, &userID, &m.MemberNumber, &m.FirstName, &m.LastName, &m.Email,
		&phone, &gender, &dateOfBirth, &location, &country, &profession,
		&m.MemberType, &m.MemberStatus, &m.IsDeleted, &deletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.BranchID = database.StringPtr(branchID)
	m.UserID = database.StringPtr(userID)
	m.Phone = database.StringPtr(phone)
	m.Gender = database.StringPtr(gender)
	m.DateOfBirth = database.TimePtr(dateOfBirth)
	m.Location = database.StringPtr(location)
	m.Country = database.StringPtr(country)
	m.Profession = database.StringPtr(profession)
	m.DeletedAt = database.TimePtr(deletedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// Create inserts a member
func (s *Store) Create(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.TenantID, database.NullString(m.BranchID), database.NullString(m.UserID), m.MemberNumber,
		m.FirstName, m.LastName, m.Email,
		database.NullString(m.Phone), database.NullString(m.Gender), database.NullTime(m.DateOfBirth),
		database.NullString(m.Location), database.NullString(m.Country), database.NullString(m.Profession),
		m.MemberType, m.MemberStatus, m.IsDeleted, database.NullTime(m.DeletedAt), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// Get returns a live member of the tenant
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1 AND tenant_id = $2 AND is_deleted = $3`
	m, err := scanMember(s.db.QueryRowContext(ctx, query, id, tenantID, false))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Member with ID \"%s\" not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// Update writes every mutable member field
func (s *Store) Update(ctx context.Context, m *Member) error {
	query := `
		UPDATE members SET
			branch_id = $1, first_name = $2, last_name = $3, email = $4, phone = $5,
			gender = $6, date_of_birth = $7, location = $8, country = $9, profession = $10,
			member_type = $11, member_status = $12, updated_at = $13
		WHERE id = $14 AND tenant_id = $15 AND is_deleted = $16
	`
	result, err := s.db.ExecContext(ctx, query,
		database.NullString(m.BranchID), m.FirstName, m.LastName, m.Email, database.NullString(m.Phone),
		database.NullString(m.Gender), database.NullTime(m.DateOfBirth), database.NullString(m.Location),
		database.NullString(m.Country), database.NullString(m.Profession),
		m.MemberType, m.MemberStatus, m.UpdatedAt,
		m.ID, m.TenantID, false,
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return requireRow(result, m.ID)
}

// attributeColumns are the member columns a community may normalise
var attributeColumns = map[string]bool{
	"location":   true,
	"profession": true,
	"gender":     true,
}

// UpdateAttribute overwrites a single community-relevant column
func (s *Store) UpdateAttribute(ctx context.Context, tenantID, id, column, value string) error {
	if !attributeColumns[column] {
		return fmt.Errorf("member column %q cannot be updated directly", column)
	}
	query := fmt.Sprintf(`UPDATE members SET %s = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`, column)
	result, err := s.db.ExecContext(ctx, query, value, database.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update member %s: %w", column, err)
	}
	return requireRow(result, id)
}

// SoftDelete flags a member as deleted
func (s *Store) SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE members SET is_deleted = $1, deleted_at = $2, updated_at = $3 WHERE id = $4 AND tenant_id = $5 AND is_deleted = $6`,
		true, at, at, id, tenantID, false)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("Member with ID \"%s\" not found", id)
	}
	return nil
}

// List returns one page of a tenant's live members, ordered by name
func (s *Store) List(ctx context.Context, tenantID string, filter ListFilter, page paging.Page) ([]*Member, int, error) {
	where := []string{"tenant_id = $1", "is_deleted = $2"}
	args := []interface{}{tenantID, false}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.BranchID != "" {
		add("branch_id = $%d", filter.BranchID)
	}
	if filter.MemberStatus != "" {
		add("member_status = $%d", filter.MemberStatus)
	}
	if filter.Gender != "" {
		add("gender = $%d", strings.ToUpper(filter.Gender))
	}
	if filter.Profession != "" {
		add("profession = $%d", filter.Profession)
	}
	if filter.Search != "" {
		add("(LOWER(first_name) LIKE $%[1]d OR LOWER(last_name) LIKE $%[1]d OR LOWER(email) LIKE $%[1]d OR LOWER(member_number) LIKE $%[1]d)",
			"%"+strings.ToLower(filter.Search)+"%")
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count members: %w", err)
	}

	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM members WHERE %s ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d`,
		memberColumns, clause, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating members: %w", err)
	}
	return members, total, nil
}

// CreateUser inserts a user. A duplicate email within the tenant is a
// conflict.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.TenantID, u.Email, u.FirstName, u.LastName, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("User with email \"%s\" already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser returns a tenant's user
func (s *Store) GetUser(ctx context.Context, tenantID, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, first_name, last_name, is_active, created_at, updated_at
		FROM users WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&u.ID, &u.TenantID, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("User with ID \"%s\" not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// DeleteUser hard-deletes a user
func (s *Store) DeleteUser(ctx context.Context, tenantID, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1 AND tenant_id = $2`, id, tenantID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
