package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumns = []string{
	"id", "action", "resource", "resource_id", "user_id", "organization_id",
	"ip_address", "user_agent", "details", "metadata", "created_at",
	"id", "email", "first_name", "last_name", "name",
}

func newMockStore(t *testing.T) (*DBStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBStore(db), mock
}

func TestDBStoreInsert(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs("a-1", "delete", "task", "t-1", "u-1", "org-1", "10.0.0.1", "curl/8", `Task "x" deleted`,
			[]byte(`{"taskId":"t-1"}`), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(context.Background(), &Entry{
		ID:             "a-1",
		Action:         ActionDelete,
		Resource:       ResourceTask,
		ResourceID:     "t-1",
		UserID:         "u-1",
		OrganizationID: "org-1",
		IPAddress:      "10.0.0.1",
		UserAgent:      "curl/8",
		Details:        `Task "x" deleted`,
		Metadata:       map[string]interface{}{"taskId": "t-1"},
		CreatedAt:      created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreInsertSystemEntry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "login", "auth", nil, nil, nil, "unknown", nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(context.Background(), &Entry{
		ID:        "a-2",
		Action:    ActionLogin,
		Resource:  ResourceAuth,
		IPAddress: "unknown",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreInsertError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

	err := store.Insert(context.Background(), &Entry{ID: "a-3", Action: ActionCreate, Resource: ResourceTask})
	assert.ErrorContains(t, err, "failed to insert audit log: disk full")
}

func TestDBStoreFind(t *testing.T) {
	store, mock := newMockStore(t)
	mock.MatchExpectationsInOrder(false)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	start := created.Add(-time.Hour)

	rows := sqlmock.NewRows(entryColumns).
		AddRow("a-1", "update", "task", "t-1", "u-1", "org-1", "10.0.0.1", "curl/8", "Task updated",
			[]byte(`{"taskId":"t-1"}`), created,
			"u-1", "ada@example.com", "Ada", "Lovelace", "HQ").
		AddRow("a-2", "login", "auth", nil, nil, "org-1", "unknown", nil, nil, nil, created.Add(-time.Minute),
			nil, nil, nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE a.organization_id = ANY($1::uuid[]) AND a.resource = $2 AND a.created_at >= $3 ORDER BY a.created_at DESC LIMIT $4 OFFSET $5",
	)).
		WithArgs(sqlmock.AnyArg(), "task", start, 10, 20).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM audit_logs a WHERE a.organization_id = ANY($1::uuid[]) AND a.resource = $2 AND a.created_at >= $3",
	)).
		WithArgs(sqlmock.AnyArg(), "task", start).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(22))

	entries, total, err := store.Find(context.Background(), Filter{
		OrganizationIDs: []string{"org-1", "org-2"},
		Resource:        ResourceTask,
		StartDate:       &start,
		Limit:           10,
		Offset:          20,
	})
	require.NoError(t, err)
	assert.Equal(t, 22, total)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, ActionUpdate, first.Action)
	assert.Equal(t, "t-1", first.Metadata["taskId"])
	require.NotNil(t, first.User)
	assert.Equal(t, "Ada Lovelace", first.User.Name())
	assert.Equal(t, "HQ", first.User.OrganizationName)

	second := entries[1]
	assert.Nil(t, second.User)
	assert.Empty(t, second.ResourceID)
	assert.Nil(t, second.Metadata)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStoreCountUnrestricted(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs a")).
		WithArgs().
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWhereClause(t *testing.T) {
	end := time.Now()
	where, args := whereClause(Filter{UserID: "u-1", Action: ActionDelete, EndDate: &end})

	assert.Equal(t, " WHERE a.user_id = $1 AND a.action = $2 AND a.created_at <= $3", where)
	assert.Equal(t, []interface{}{"u-1", "delete", end}, args)

	where, args = whereClause(Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
