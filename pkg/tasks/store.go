package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

// Query is a fully scoped listing request handed to a Store.
// OrganizationIDs is never empty when it reaches the store.
type Query struct {
	OrganizationIDs []string
	Filter          Filter
	Sort            Sort
	Offset          int
	Limit           int
}

// Store is the task persistence contract.
type Store interface {
	Find(ctx context.Context, q Query) ([]*Task, int, error)
	FindByID(ctx context.Context, id string) (*Task, error)
	Insert(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var taskColumns = []string{
	"t.id", "t.title", "t.description", "t.status", "t.priority", "t.category",
	"t.due_date", "t.created_by_id", "t.organization_id", "t.created_at", "t.updated_at",
	"u.email", "u.first_name", "u.last_name", "o.name",
}

const priorityRank = "CASE t.priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 " +
	"WHEN 'high' THEN 3 WHEN 'critical' THEN 4 ELSE 0 END"

// PostgresStore implements Store with squirrel-built SQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// where restricts to the organization set and ANDs every filter. A
// specific OrganizationID narrows the set, it never widens it.
func (q Query) where() sq.And {
	cond := sq.And{sq.Eq{"t.organization_id": q.OrganizationIDs}}
	f := q.Filter
	if f.Status != "" {
		cond = append(cond, sq.Eq{"t.status": string(f.Status)})
	}
	if f.Priority != "" {
		cond = append(cond, sq.Eq{"t.priority": string(f.Priority)})
	}
	if f.Category != "" {
		cond = append(cond, sq.Eq{"t.category": string(f.Category)})
	}
	if f.CreatedByID != "" {
		cond = append(cond, sq.Eq{"t.created_by_id": f.CreatedByID})
	}
	if f.OrganizationID != "" {
		cond = append(cond, sq.Eq{"t.organization_id": f.OrganizationID})
	}
	return cond
}

func direction(o SortOrder, natural SortOrder) string {
	if o == OrderDefault {
		o = natural
	}
	if o == OrderAsc {
		return "ASC"
	}
	return "DESC"
}

func orderBy(s Sort) []string {
	switch s.Key {
	case SortTitle:
		return []string{"t.title " + direction(s.Order, OrderAsc), "t.created_at DESC", "t.id ASC"}
	case SortPriority:
		return []string{priorityRank + " " + direction(s.Order, OrderDesc), "t.created_at DESC", "t.id ASC"}
	case SortDueDate:
		return []string{"t.due_date " + direction(s.Order, OrderAsc) + " NULLS LAST", "t.created_at DESC", "t.id ASC"}
	default:
		return []string{"t.created_at " + direction(s.Order, OrderDesc), "t.id ASC"}
	}
}

func selectTasks() sq.SelectBuilder {
	return psql.Select(taskColumns...).
		From("tasks t").
		LeftJoin("users u ON u.id = t.created_by_id").
		LeftJoin("organizations o ON o.id = t.organization_id")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var (
		description                sql.NullString
		dueDate                    sql.NullTime
		email, firstName, lastName sql.NullString
		orgName                    sql.NullString
		status, priority, category string
	)
	err := row.Scan(
		&t.ID, &t.Title, &description, &status, &priority, &category,
		&dueDate, &t.CreatedByID, &t.OrganizationID, &t.CreatedAt, &t.UpdatedAt,
		&email, &firstName, &lastName, &orgName,
	)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.Category = Category(category)
	if description.Valid {
		d := description.String
		t.Description = &d
	}
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if email.Valid {
		t.CreatedBy = &Creator{
			ID:        t.CreatedByID,
			Email:     email.String,
			FirstName: firstName.String,
			LastName:  lastName.String,
		}
	}
	if orgName.Valid {
		t.Organization = &OrganizationRef{ID: t.OrganizationID, Name: orgName.String}
	}
	return t, nil
}

// Find returns one page of tasks and the total matching count. The two
// queries run concurrently.
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]*Task, int, error) {
	cond := q.where()

	page := selectTasks().Where(cond).OrderBy(orderBy(q.Sort)...)
	if q.Limit > 0 {
		page = page.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		page = page.Offset(uint64(q.Offset))
	}
	pageSQL, pageArgs, err := page.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build task query: %w", err)
	}
	countSQL, countArgs, err := psql.Select("COUNT(*)").From("tasks t").Where(cond).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build task count: %w", err)
	}

	var (
		tasks []*Task
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, pageSQL, pageArgs...)
		if err != nil {
			return fmt.Errorf("failed to query tasks: %w", err)
		}
		defer rows.Close()

		tasks = []*Task{}
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return fmt.Errorf("failed to scan task: %w", err)
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	g.Go(func() error {
		if err := s.db.QueryRowContext(gctx, countSQL, countArgs...).Scan(&total); err != nil {
			return fmt.Errorf("failed to count tasks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// FindByID retrieves a task regardless of scope. Callers apply policy.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Task, error) {
	query, args, err := selectTasks().Where(sq.Eq{"t.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task query: %w", err)
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return t, nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Insert stores a new task.
func (s *PostgresStore) Insert(ctx context.Context, t *Task) error {
	query, args, err := psql.Insert("tasks").
		Columns("id", "title", "description", "status", "priority", "category",
			"due_date", "created_by_id", "organization_id", "created_at", "updated_at").
		Values(t.ID, t.Title, nullable(t.Description), string(t.Status), string(t.Priority), string(t.Category),
			nullableTime(t.DueDate), t.CreatedByID, t.OrganizationID, t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update writes every mutable column. organization_id and created_by_id
// are never updated.
func (s *PostgresStore) Update(ctx context.Context, t *Task) error {
	query, args, err := psql.Update("tasks").
		Set("title", t.Title).
		Set("description", nullable(t.Description)).
		Set("status", string(t.Status)).
		Set("priority", string(t.Priority)).
		Set("category", string(t.Category)).
		Set("due_date", nullableTime(t.DueDate)).
		Set("updated_at", t.UpdatedAt).
		Where(sq.Eq{"id": t.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task update: %w", err)
	}
	return s.execOne(ctx, t.ID, "update", query, args)
}

// Delete removes a task.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task delete: %w", err)
	}
	return s.execOne(ctx, id, "delete", query, args)
}

func (s *PostgresStore) execOne(ctx context.Context, id, op, query string, args []interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s task: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s task: %w", op, err)
	}
	if n == 0 {
		return apperrors.NotFoundf("task %s", id)
	}
	return nil
}
