package orgs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskguard/pkg/observability"
)

func setupCachedStore(t *testing.T) (*CachedStore, *memStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opts, err := redis.ParseURL("redis://" + mr.Addr())
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	store := newMemStore(hierarchy()...)
	cached := NewCachedStore(store, client, CacheConfig{
		MaxEntries: 10,
		LocalTTL:   time.Minute,
		RedisTTL:   time.Hour,
	}, observability.NewNopLogger(), nil)
	return cached, store, mr
}

func TestCachedStore_FindByID(t *testing.T) {
	cached, store, mr := setupCachedStore(t)
	ctx := context.Background()

	org, err := cached.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Child One", org.Name)
	assert.True(t, mr.Exists("taskguard:org:c1"))

	_, err = cached.FindByID(ctx, "c1")
	require.NoError(t, err)
	byID, _ := store.calls()
	assert.Equal(t, 1, byID, "second read served locally")

	t.Run("redis layer survives local eviction", func(t *testing.T) {
		cached.orgs.Purge()
		org, err := cached.FindByID(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "root", *org.ParentID)
		byID, _ := store.calls()
		assert.Equal(t, 1, byID)
	})

	t.Run("corrupt redis entry falls back to store", func(t *testing.T) {
		cached.orgs.Purge()
		require.NoError(t, mr.Set("taskguard:org:c2", "{not json"))
		org, err := cached.FindByID(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, "Child Two", org.Name)
	})

	t.Run("not found is not cached", func(t *testing.T) {
		_, err := cached.FindByID(ctx, "ghost")
		assert.Error(t, err)
		assert.False(t, mr.Exists("taskguard:org:ghost"))
	})
}

func TestCachedStore_FindByParentID(t *testing.T) {
	cached, store, mr := setupCachedStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			children, err := cached.FindByParentID(ctx, "root")
			assert.NoError(t, err)
			assert.Len(t, children, 2)
		}()
	}
	wg.Wait()

	_, childCalls := store.calls()
	assert.LessOrEqual(t, childCalls, 8)
	assert.GreaterOrEqual(t, childCalls, 1)
	assert.True(t, mr.Exists("taskguard:org-children:root"))

	before := childCalls
	_, err := cached.FindByParentID(ctx, "root")
	require.NoError(t, err)
	_, childCalls = store.calls()
	assert.Equal(t, before, childCalls)

	t.Run("create invalidates parent", func(t *testing.T) {
		require.NoError(t, cached.Create(ctx, &Organization{ID: "c3", Name: "Child Three", ParentID: strPtr("root")}))
		assert.False(t, mr.Exists("taskguard:org-children:root"))

		children, err := cached.FindByParentID(ctx, "root")
		require.NoError(t, err)
		assert.Len(t, children, 3)
	})
}

func TestCachedStore_WithoutRedis(t *testing.T) {
	store := newMemStore(hierarchy()...)
	cached := NewCachedStore(store, nil, CacheConfig{}, observability.NewNopLogger(), nil)

	children, err := cached.FindByParentID(context.Background(), "root")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	resolver := newResolver(cached)
	s, err := resolver.AccessibleOrganizationIDs(context.Background(), userAt("o", "owner", "root", nil))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
}
