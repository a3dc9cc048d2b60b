package tasks

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
)

// ScopeSource resolves a user's accessible organizations.
type ScopeSource interface {
	AccessibleOrganizationIDs(ctx context.Context, u *auth.User) (orgs.Scope, error)
}

// PageOptions bounds listing pagination.
type PageOptions struct {
	DefaultLimit int
	MaxLimit     int
}

func (o *PageOptions) setDefaults() {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 10
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = 100
	}
}

// Scoper lists tasks restricted to the caller's accessible organizations.
type Scoper struct {
	scopes  ScopeSource
	store   Store
	opts    PageOptions
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewScoper creates a Scoper
func NewScoper(scopes ScopeSource, store Store, opts PageOptions, logger *observability.Logger, metrics *observability.Metrics) *Scoper {
	opts.setDefaults()
	return &Scoper{
		scopes:  scopes,
		store:   store,
		opts:    opts,
		logger:  logger.WithField("component", "task_scoper"),
		metrics: metrics,
	}
}

// Normalize fills pagination defaults and rejects out-of-range values.
func (s *Scoper) Normalize(p Pagination) (Pagination, error) {
	v := &apperrors.ValidationError{}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = s.opts.DefaultLimit
	}
	if p.Page < 1 {
		v.Add("page", "must be at least 1")
	}
	if p.Limit < 1 || p.Limit > s.opts.MaxLimit {
		v.Add("limit", fmt.Sprintf("must be between 1 and %d", s.opts.MaxLimit))
	}
	return p, v.OrNil()
}

func validateFilter(f Filter, sort Sort) error {
	v := &apperrors.ValidationError{}
	if f.Status != "" && !f.Status.Valid() {
		v.Add("status", ValidStatus(string(f.Status)).Error())
	}
	if f.Priority != "" && !f.Priority.Valid() {
		v.Add("priority", ValidPriority(string(f.Priority)).Error())
	}
	if f.Category != "" && !f.Category.Valid() {
		v.Add("category", ValidCategory(string(f.Category)).Error())
	}
	if sort.Key != "" {
		if err := ValidSortKey(string(sort.Key)); err != nil {
			v.Add("sortBy", err.Error())
		}
	}
	if sort.Order != OrderDefault {
		if err := ValidSortOrder(string(sort.Order)); err != nil {
			v.Add("sortOrder", err.Error())
		}
	}
	return v.OrNil()
}

// ScopedTasks returns the page of tasks u may see. Every returned task
// belongs to an organization in u's accessible set. Input is validated
// before any lookup, and an empty scope returns an empty page without
// touching the store.
func (s *Scoper) ScopedTasks(ctx context.Context, u *auth.User, f Filter, sort Sort, p Pagination) (*ListResult, error) {
	p, err := s.Normalize(p)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(f, sort); err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "tasks.ScopedTasks",
		trace.WithAttributes(
			attribute.String("user.role", string(u.Role)),
			attribute.Int("page", p.Page),
			attribute.Int("limit", p.Limit),
		))
	defer span.End()

	scope, err := s.scopes.AccessibleOrganizationIDs(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scope resolution failed")
		return nil, fmt.Errorf("failed to resolve organization scope: %w", err)
	}
	span.SetAttributes(attribute.Int("scope.size", scope.Len()))

	result := &ListResult{Tasks: []*Task{}, Page: p.Page, Limit: p.Limit}
	if scope.Empty() {
		return result, nil
	}

	start := time.Now()
	tasks, total, err := s.store.Find(ctx, Query{
		OrganizationIDs: scope.IDs(),
		Filter:          f,
		Sort:            sort,
		Offset:          p.Offset(),
		Limit:           p.Limit,
	})
	s.metrics.RecordTaskQuery(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task query failed")
		observability.FromContext(ctx, s.logger).WithError(err).Error("task query failed")
		return nil, err
	}

	result.Tasks = tasks
	result.Total = total
	span.SetAttributes(attribute.Int("result.total", total))
	return result, nil
}
