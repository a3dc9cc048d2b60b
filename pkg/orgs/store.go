package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// Store is the organization persistence contract.
type Store interface {
	FindByID(ctx context.Context, id string) (*Organization, error)
	FindByParentID(ctx context.Context, parentID string) ([]*Organization, error)
	FindByIDs(ctx context.Context, ids []string) ([]*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
	Create(ctx context.Context, org *Organization) error
}

// PostgresStore implements Store using database/sql. Queries stay portable
// enough to run against sqlite in tests.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orgColumns = "id, name, description, is_active, parent_id, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var (
		description sql.NullString
		parentID    sql.NullString
	)
	if err := row.Scan(&org.ID, &org.Name, &description, &org.IsActive, &parentID, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	org.Description = description.String
	if parentID.Valid {
		p := parentID.String
		org.ParentID = &p
	}
	return org, nil
}

func (s *PostgresStore) queryOrganizations(ctx context.Context, query string, args ...interface{}) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

// FindByID retrieves an organization by ID
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orgColumns+" FROM organizations WHERE id = $1", id)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("organization %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// FindByParentID lists the direct children of parentID.
func (s *PostgresStore) FindByParentID(ctx context.Context, parentID string) ([]*Organization, error) {
	return s.queryOrganizations(ctx,
		"SELECT "+orgColumns+" FROM organizations WHERE parent_id = $1 ORDER BY name ASC", parentID)
}

// FindByIDs loads the given organizations ordered by name.
func (s *PostgresStore) FindByIDs(ctx context.Context, ids []string) ([]*Organization, error) {
	if len(ids) == 0 {
		return []*Organization{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM organizations WHERE id IN (%s) ORDER BY name ASC",
		orgColumns, strings.Join(placeholders, ", "))
	return s.queryOrganizations(ctx, query, args...)
}

// List returns every organization ordered by name.
func (s *PostgresStore) List(ctx context.Context) ([]*Organization, error) {
	return s.queryOrganizations(ctx, "SELECT "+orgColumns+" FROM organizations ORDER BY name ASC")
}

// Create inserts an organization after checking the parent is a root.
func (s *PostgresStore) Create(ctx context.Context, org *Organization) error {
	if org.Name == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	if org.ParentID != nil {
		parent, err := s.FindByID(ctx, *org.ParentID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NewValidationError("parentId", "parent organization does not exist")
			}
			return err
		}
		if !parent.IsRoot() {
			return apperrors.NewValidationError("parentId", "organizations can only be nested one level deep")
		}
	}

	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	var parentID interface{}
	if org.ParentID != nil {
		parentID = *org.ParentID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, description, is_active, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, org.ID, org.Name, org.Description, org.IsActive, parentID, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}
