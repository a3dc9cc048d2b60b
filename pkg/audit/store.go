package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

// Store persists audit entries. Entries are never updated or deleted.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	// Find returns entries newest first together with the total count
	// matching f, ignoring f.Limit and f.Offset for the count.
	Find(ctx context.Context, f Filter) ([]*Entry, int, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// DBStore implements Store on PostgreSQL.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a PostgreSQL-backed audit store
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

const selectEntries = `
	SELECT a.id, a.action, a.resource, a.resource_id, a.user_id, a.organization_id,
	       a.ip_address, a.user_agent, a.details, a.metadata, a.created_at,
	       u.id, u.email, u.first_name, u.last_name, o.name
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.user_id
	LEFT JOIN organizations o ON o.id = u.organization_id`

// Insert writes one entry.
func (s *DBStore) Insert(ctx context.Context, e *Entry) error {
	var metadata interface{}
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = raw
	}

	query := `
		INSERT INTO audit_logs (
			id, action, resource, resource_id, user_id, organization_id,
			ip_address, user_agent, details, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, string(e.Action), string(e.Resource),
		nullString(e.ResourceID), nullString(e.UserID), nullString(e.OrganizationID),
		e.IPAddress, nullString(e.UserAgent), nullString(e.Details), metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Find runs the page and count queries concurrently.
func (s *DBStore) Find(ctx context.Context, f Filter) ([]*Entry, int, error) {
	var (
		entries []*Entry
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.page(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.Count(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Count returns the number of entries matching f.
func (s *DBStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs a"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

func (s *DBStore) page(ctx context.Context, f Filter) ([]*Entry, error) {
	where, args := whereClause(f)
	query := selectEntries + where + " ORDER BY a.created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return entries, nil
}

func whereClause(f Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.OrganizationIDs) > 0 {
		add("a.organization_id = ANY($%d::uuid[])", pq.Array(f.OrganizationIDs))
	}
	if f.UserID != "" {
		add("a.user_id = $%d", f.UserID)
	}
	if f.Resource != "" {
		add("a.resource = $%d", string(f.Resource))
	}
	if f.Action != "" {
		add("a.action = $%d", string(f.Action))
	}
	if f.StartDate != nil {
		add("a.created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("a.created_at <= $%d", *f.EndDate)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                                       Entry
		action, resource                        string
		resourceID, userID, orgID, ua, details  sql.NullString
		metadata                                []byte
		actorID, email, first, last, actorOrgNm sql.NullString
	)
	err := rows.Scan(
		&e.ID, &action, &resource, &resourceID, &userID, &orgID,
		&e.IPAddress, &ua, &details, &metadata, &e.CreatedAt,
		&actorID, &email, &first, &last, &actorOrgNm,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	e.Action = Action(action)
	e.Resource = Resource(resource)
	e.ResourceID = resourceID.String
	e.UserID = userID.String
	e.OrganizationID = orgID.String
	e.UserAgent = ua.String
	e.Details = details.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for audit log %s: %w", e.ID, err)
		}
	}
	if actorID.Valid {
		e.User = &Actor{
			ID:               actorID.String,
			Email:            email.String,
			FirstName:        first.String,
			LastName:         last.String,
			OrganizationName: actorOrgNm.String,
		}
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
