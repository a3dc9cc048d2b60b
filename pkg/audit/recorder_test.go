package audit

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	entries   []*Entry
	filters   []Filter
	insertErr error
	findErr   error
}

func (m *memStore) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) match(f Filter, e *Entry) bool {
	if len(f.OrganizationIDs) > 0 {
		found := false
		for _, id := range f.OrganizationIDs {
			if id == e.OrganizationID {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	switch {
	case f.UserID != "" && f.UserID != e.UserID,
		f.Resource != "" && f.Resource != e.Resource,
		f.Action != "" && f.Action != e.Action,
		f.StartDate != nil && e.CreatedAt.Before(*f.StartDate),
		f.EndDate != nil && e.CreatedAt.After(*f.EndDate):
		return false
	}
	return true
}

func (m *memStore) Find(_ context.Context, f Filter) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	if m.findErr != nil {
		return nil, 0, m.findErr
	}
	var matched []*Entry
	// newest first
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.match(f, m.entries[i]) {
			matched = append(matched, m.entries[i])
		}
	}
	total := len(matched)
	if f.Offset < len(matched) {
		matched = matched[f.Offset:]
	} else {
		matched = nil
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	if matched == nil {
		matched = []*Entry{}
	}
	return matched, total, nil
}

func (m *memStore) Count(ctx context.Context, f Filter) (int, error) {
	_, total, err := m.Find(ctx, f)
	return total, err
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filters)
}

func newTestRecorder(store Store, buf *bytes.Buffer) *Recorder {
	logger := observability.NewNopLogger()
	if buf != nil {
		logger = observability.NewLogger(observability.DebugLevel, buf)
	}
	return NewRecorder(store, Options{RecordAccessDenied: true}, logger, nil)
}

func TestRecordFillsDefaults(t *testing.T) {
	store := &memStore{}
	rec := newTestRecorder(store, nil)
	ctx := WithClient(context.Background(), Client{IP: "203.0.113.7", UserAgent: "tests"})

	e := &Entry{Action: ActionCreate, Resource: ResourceTask, ResourceID: "t-1", UserID: "u-1"}
	require.NoError(t, rec.Record(ctx, e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Equal(t, "tests", e.UserAgent)
	assert.Len(t, store.entries, 1)
}

func TestRecordWithoutClientUsesUnknown(t *testing.T) {
	store := &memStore{}
	rec := newTestRecorder(store, nil)

	e := &Entry{Action: ActionLogout, Resource: ResourceAuth}
	require.NoError(t, rec.Record(context.Background(), e))
	assert.Equal(t, "unknown", e.IPAddress)
	assert.Equal(t, "unknown", e.UserAgent)
}

func TestRecordFailureIsHard(t *testing.T) {
	var buf bytes.Buffer
	storeErr := errors.New("connection reset")
	rec := newTestRecorder(&memStore{insertErr: storeErr}, &buf)

	err := rec.Record(context.Background(), &Entry{Action: ActionDelete, Resource: ResourceTask, ResourceID: "t-9"})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuditWrite)
	assert.ErrorIs(t, err, storeErr)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ActionDelete, werr.Action)

	assert.Contains(t, buf.String(), "failed to save audit log")
	assert.Contains(t, buf.String(), "t-9")
}

func TestRecordDenied(t *testing.T) {
	u := &auth.User{ID: "u-1", Role: auth.RoleViewer, OrganizationID: "org-1"}
	denied := &rbac.DeniedError{Check: rbac.CheckDeleteTask, Reason: rbac.ReasonInsufficientRole}

	t.Run("recorded", func(t *testing.T) {
		store := &memStore{}
		newTestRecorder(store, nil).RecordDenied(context.Background(), u, ResourceTask, "t-1", "", denied)

		require.Len(t, store.entries, 1)
		e := store.entries[0]
		assert.Equal(t, ActionAccessDenied, e.Action)
		assert.Equal(t, "org-1", e.OrganizationID)
		assert.Equal(t, "t-1", e.ResourceID)
		assert.Equal(t, "insufficient_role", e.Metadata["reason"])
	})

	t.Run("write failure is swallowed", func(t *testing.T) {
		var buf bytes.Buffer
		rec := newTestRecorder(&memStore{insertErr: errors.New("down")}, &buf)
		rec.RecordDenied(context.Background(), u, ResourceTask, "t-1", "", denied)
		assert.Contains(t, buf.String(), "access_denied audit entry dropped")
	})

	t.Run("disabled", func(t *testing.T) {
		store := &memStore{}
		rec := NewRecorder(store, Options{}, observability.NewNopLogger(), nil)
		rec.RecordDenied(context.Background(), u, ResourceTask, "t-1", "", denied)
		assert.Empty(t, store.entries)
	})
}

func seedEntries(store *memStore, base time.Time) {
	add := func(id, org string, action Action, age time.Duration) {
		store.entries = append(store.entries, &Entry{
			ID: id, Action: action, Resource: ResourceTask, OrganizationID: org, CreatedAt: base.Add(-age),
		})
	}
	add("e1", "hq", ActionCreate, 72*time.Hour)
	add("e2", "downtown", ActionCreate, 48*time.Hour)
	add("e3", "uptown", ActionUpdate, 3*time.Hour)
	add("e4", "downtown", ActionDelete, 2*time.Hour)
	add("e5", "hq", ActionUpdate, time.Hour)
}

func TestQueryByOrganizations(t *testing.T) {
	store := &memStore{}
	seedEntries(store, time.Now())
	rec := newTestRecorder(store, nil)
	ctx := context.Background()

	page, err := rec.QueryByOrganizations(ctx, []string{"hq", "downtown"}, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	ids := make([]string, len(page.Entries))
	for i, e := range page.Entries {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"e5", "e4", "e2", "e1"}, ids)
	assert.Equal(t, 1000, store.filters[0].Limit)

	page, err = rec.QueryByOrganizations(ctx, []string{"hq", "downtown"}, Filter{Action: ActionCreate, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "e1", page.Entries[0].ID)
}

func TestQueryByOrganizationsEmptyScope(t *testing.T) {
	store := &memStore{}
	rec := newTestRecorder(store, nil)

	page, err := rec.QueryByOrganizations(context.Background(), nil, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Entries)
	assert.Zero(t, store.calls())
}

func TestQueryByOrganizationsValidation(t *testing.T) {
	store := &memStore{}
	rec := newTestRecorder(store, nil)
	start := time.Now()
	end := start.Add(-time.Hour)

	_, err := rec.QueryByOrganizations(context.Background(), []string{"hq"}, Filter{Offset: -1, StartDate: &start, EndDate: &end})

	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
	assert.Zero(t, store.calls())
}

func TestSummarize(t *testing.T) {
	store := &memStore{}
	now := time.Now()
	seedEntries(store, now)
	rec := newTestRecorder(store, nil)

	summary, err := rec.Summarize(context.Background(), []string{"hq", "downtown"})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalLogs)
	assert.Equal(t, 2, summary.AccessibleOrganizations)
	require.Len(t, summary.RecentActivity, 2)
	assert.Equal(t, "e5", summary.RecentActivity[0].ID)
	assert.Equal(t, "e4", summary.RecentActivity[1].ID)
}

func TestSummarizeRecentLimit(t *testing.T) {
	store := &memStore{}
	now := time.Now()
	for i := 0; i < 15; i++ {
		store.entries = append(store.entries, &Entry{
			ID: string(rune('a' + i)), Action: ActionRead, Resource: ResourceTask, OrganizationID: "hq", CreatedAt: now.Add(-time.Duration(15-i) * time.Minute),
		})
	}
	rec := newTestRecorder(store, nil)

	summary, err := rec.Summarize(context.Background(), []string{"hq"})
	require.NoError(t, err)
	assert.Equal(t, 15, summary.TotalLogs)
	assert.Len(t, summary.RecentActivity, 10)
}

func TestSummarizeEmptyScope(t *testing.T) {
	store := &memStore{}
	summary, err := newTestRecorder(store, nil).Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Summary{RecentActivity: []*Entry{}}, summary)
	assert.Zero(t, store.calls())
}

func TestSummarizeStoreError(t *testing.T) {
	_, err := newTestRecorder(&memStore{findErr: errors.New("timeout")}, nil).Summarize(context.Background(), []string{"hq"})
	assert.ErrorContains(t, err, "failed to summarize audit logs")
}
