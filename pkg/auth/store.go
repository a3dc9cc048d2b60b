package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// UserStore loads and persists users together with the parent pointer of
// their home organization.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User, passwordHash string) error
	Count(ctx context.Context) (int, error)
}

// PostgresUserStore implements UserStore using PostgreSQL
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a new PostgresUserStore
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userSelect = `
	SELECT u.id, u.email, u.first_name, u.last_name, u.role, u.is_active,
	       u.organization_id, u.created_at, u.last_login_at,
	       o.id, o.name, o.parent_id
	FROM users u
	LEFT JOIN organizations o ON o.id = u.organization_id
`

// FindByID retrieves a user and their home organization reference.
func (s *PostgresUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, userSelect+"WHERE u.id = $1", id)
}

// FindByEmail retrieves a user by email address.
func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, userSelect+"WHERE u.email = $1", email)
}

func (s *PostgresUserStore) findOne(ctx context.Context, query string, arg string) (*User, error) {
	u := &User{}
	var (
		orgID, orgRefID, orgName, orgParent sql.NullString
		lastLogin                           sql.NullTime
		role                                string
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &role, &u.IsActive,
		&orgID, &u.CreatedAt, &lastLogin,
		&orgRefID, &orgName, &orgParent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("user %s", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	u.Role = Role(role)
	if orgID.Valid {
		u.OrganizationID = orgID.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if orgRefID.Valid {
		u.Organization = &OrgRef{ID: orgRefID.String, Name: orgName.String}
		if orgParent.Valid {
			parent := orgParent.String
			u.Organization.ParentID = &parent
		}
	}
	return u, nil
}

// Create inserts a user. An empty ID is replaced with a new UUID.
func (s *PostgresUserStore) Create(ctx context.Context, u *User, passwordHash string) error {
	if !u.Role.Valid() {
		return apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", u.Role))
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	var orgID interface{}
	if u.OrganizationID != "" {
		orgID = u.OrganizationID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active, organization_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, passwordHash, u.FirstName, u.LastName, string(u.Role), u.IsActive, orgID, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Count returns the number of users.
func (s *PostgresUserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// PasswordHash returns the stored hash for an active user.
func (s *PostgresUserStore) PasswordHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE id = $1 AND is_active = true", id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NotFoundf("user %s", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	return hash, nil
}

// RecordLogin stamps the user's last login time.
func (s *PostgresUserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// UpdateProfile writes u's email and names.
func (s *PostgresUserStore) UpdateProfile(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = $2, first_name = $3, last_name = $4, updated_at = NOW()
		WHERE id = $1
	`, u.ID, u.Email, u.FirstName, u.LastName)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("user %s", u.ID)
	}
	return nil
}
