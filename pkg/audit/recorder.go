package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// WriteError is returned when the store rejects an entry. It unwraps to
// both apperrors.ErrAuditWrite and the store error.
type WriteError struct {
	Action Action
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit %s: %v", e.Action, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{apperrors.ErrAuditWrite, e.Err}
}

// Options configures a Recorder.
type Options struct {
	// DefaultLimit applies when a query names no limit.
	DefaultLimit int
	// SummaryWindow bounds Summary.RecentActivity.
	SummaryWindow time.Duration
	// SummaryRecentLimit caps Summary.RecentActivity.
	SummaryRecentLimit int
	// RecordAccessDenied enables access_denied entries for refused
	// operations.
	RecordAccessDenied bool
}

func (o *Options) setDefaults() {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 1000
	}
	if o.SummaryWindow <= 0 {
		o.SummaryWindow = 24 * time.Hour
	}
	if o.SummaryRecentLimit <= 0 {
		o.SummaryRecentLimit = 10
	}
}

// Recorder writes and reads the audit trail.
type Recorder struct {
	store   Store
	opts    Options
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRecorder creates a Recorder
func NewRecorder(store Store, opts Options, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	opts.setDefaults()
	return &Recorder{
		store:   store,
		opts:    opts,
		logger:  logger.WithField("component", "audit"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Record appends e. ID, CreatedAt and the client fields are filled when
// empty. A store failure is logged with the full entry and returned as a
// *WriteError; the caller's own effect is not undone.
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.IPAddress == "" || e.UserAgent == "" {
		c := ClientFromContext(ctx)
		if e.IPAddress == "" {
			e.IPAddress = c.IP
		}
		if e.UserAgent == "" {
			e.UserAgent = c.UserAgent
		}
	}

	err := r.store.Insert(ctx, e)
	r.metrics.RecordAuditWrite(string(e.Action), err)
	if err != nil {
		payload, _ := json.Marshal(e)
		observability.FromContext(ctx, r.logger).WithError(err).WithFields(map[string]interface{}{
			"action":   string(e.Action),
			"resource": string(e.Resource),
			"entry":    string(payload),
		}).Error("failed to save audit log")
		return &WriteError{Action: e.Action, Err: err}
	}
	return nil
}

// RecordDenied writes an access_denied entry for a refused operation.
// It is best effort: a failed write is logged and otherwise ignored so
// the caller still sees the original denial.
func (r *Recorder) RecordDenied(ctx context.Context, u *auth.User, resource Resource, resourceID, orgID string, denied *rbac.DeniedError) {
	if !r.opts.RecordAccessDenied || u == nil || denied == nil {
		return
	}
	if orgID == "" {
		orgID = u.OrganizationID
	}
	entry := &Entry{
		Action:         ActionAccessDenied,
		Resource:       resource,
		ResourceID:     resourceID,
		UserID:         u.ID,
		OrganizationID: orgID,
		Details:        fmt.Sprintf("%s denied: %s", denied.Check, denied.Reason),
		Metadata: map[string]interface{}{
			"check":  denied.Check,
			"reason": string(denied.Reason),
			"role":   string(u.Role),
		},
	}
	if err := r.Record(ctx, entry); err != nil {
		observability.FromContext(ctx, r.logger).WithError(err).Warn("access_denied audit entry dropped")
	}
}

func (r *Recorder) validate(f Filter) error {
	v := &apperrors.ValidationError{}
	if f.Limit < 0 {
		v.Add("limit", "must be positive")
	}
	if f.Offset < 0 {
		v.Add("offset", "must not be negative")
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		v.Add("endDate", "must not be before startDate")
	}
	return v.OrNil()
}

// QueryByOrganizations returns entries belonging to orgIDs, newest first.
// No query runs when orgIDs is empty.
func (r *Recorder) QueryByOrganizations(ctx context.Context, orgIDs []string, f Filter) (*Page, error) {
	if err := r.validate(f); err != nil {
		return nil, err
	}
	if len(orgIDs) == 0 {
		return &Page{Entries: []*Entry{}}, nil
	}

	f.OrganizationIDs = orgIDs
	if f.Limit == 0 {
		f.Limit = r.opts.DefaultLimit
	}

	entries, total, err := r.store.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return &Page{Entries: entries, Total: total}, nil
}

// Summarize counts all entries for orgIDs and returns the most recent
// activity inside the summary window.
func (r *Recorder) Summarize(ctx context.Context, orgIDs []string) (*Summary, error) {
	summary := &Summary{RecentActivity: []*Entry{}, AccessibleOrganizations: len(orgIDs)}
	if len(orgIDs) == 0 {
		return summary, nil
	}

	since := r.now().Add(-r.opts.SummaryWindow)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.store.Count(gctx, Filter{OrganizationIDs: orgIDs})
		summary.TotalLogs = n
		return err
	})
	g.Go(func() error {
		recent, _, err := r.store.Find(gctx, Filter{
			OrganizationIDs: orgIDs,
			StartDate:       &since,
			Limit:           r.opts.SummaryRecentLimit,
		})
		if recent != nil {
			summary.RecentActivity = recent
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to summarize audit logs: %w", err)
	}
	return summary, nil
}
