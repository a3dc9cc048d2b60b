package orgs

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskguard/pkg/apperrors"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			parent_id TEXT REFERENCES organizations(id),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

func seedHierarchy(t *testing.T, store *PostgresStore) {
	t.Helper()
	ctx := context.Background()
	hq := "hq"
	require.NoError(t, store.Create(ctx, &Organization{ID: "hq", Name: "HQ", IsActive: true}))
	require.NoError(t, store.Create(ctx, &Organization{ID: "uptown", Name: "Uptown", IsActive: true, ParentID: &hq}))
	require.NoError(t, store.Create(ctx, &Organization{ID: "downtown", Name: "Downtown", IsActive: true, ParentID: &hq}))
	require.NoError(t, store.Create(ctx, &Organization{ID: "branch", Name: "Branch Office", IsActive: true}))
}

func TestPostgresStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresStore(db)
	seedHierarchy(t, store)
	ctx := context.Background()

	t.Run("FindByID", func(t *testing.T) {
		org, err := store.FindByID(ctx, "downtown")
		require.NoError(t, err)
		assert.Equal(t, "Downtown", org.Name)
		require.NotNil(t, org.ParentID)
		assert.Equal(t, "hq", *org.ParentID)

		_, err = store.FindByID(ctx, "nowhere")
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("FindByParentID", func(t *testing.T) {
		children, err := store.FindByParentID(ctx, "hq")
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "Downtown", children[0].Name)
		assert.Equal(t, "Uptown", children[1].Name)

		none, err := store.FindByParentID(ctx, "downtown")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FindByIDs", func(t *testing.T) {
		list, err := store.FindByIDs(ctx, []string{"uptown", "hq"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "HQ", list[0].Name)

		empty, err := store.FindByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("List ordered by name", func(t *testing.T) {
		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 4)
		assert.Equal(t, "Branch Office", list[0].Name)
	})

	t.Run("Create rejects grandchildren", func(t *testing.T) {
		downtown := "downtown"
		err := store.Create(ctx, &Organization{Name: "Basement", ParentID: &downtown})
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})

	t.Run("Create rejects unknown parent", func(t *testing.T) {
		ghost := "ghost"
		err := store.Create(ctx, &Organization{Name: "Orphan", ParentID: &ghost})
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})

	t.Run("Create assigns id", func(t *testing.T) {
		org := &Organization{Name: "Midtown"}
		require.NoError(t, store.Create(ctx, org))
		assert.NotEmpty(t, org.ID)
		assert.False(t, org.CreatedAt.IsZero())
	})
}
