package orgs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/taskguard/pkg/observability"
)

// CacheConfig configures the two cache layers in front of a Store.
type CacheConfig struct {
	MaxEntries int
	LocalTTL   time.Duration
	RedisTTL   time.Duration
	KeyPrefix  string
}

// CachedStore reads through an in-process LRU and then Redis before the
// wrapped Store. Organization rows change rarely; writes invalidate both layers.
type CachedStore struct {
	Store
	redis    *redis.Client
	orgs     *lru.LRU[string, *Organization]
	children *lru.LRU[string, []*Organization]
	group    singleflight.Group
	cfg      CacheConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewCachedStore wraps store. A nil redis client disables the second layer.
func NewCachedStore(store Store, client *redis.Client, cfg CacheConfig, logger *observability.Logger, metrics *observability.Metrics) *CachedStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = time.Minute
	}
	if cfg.RedisTTL <= 0 {
		cfg.RedisTTL = 10 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "taskguard"
	}
	return &CachedStore{
		Store:    store,
		redis:    client,
		orgs:     lru.NewLRU[string, *Organization](cfg.MaxEntries, nil, cfg.LocalTTL),
		children: lru.NewLRU[string, []*Organization](cfg.MaxEntries, nil, cfg.LocalTTL),
		cfg:      cfg,
		logger:   logger.WithField("component", "org_cache"),
		metrics:  metrics,
	}
}

func (c *CachedStore) orgKey(id string) string {
	return fmt.Sprintf("%s:org:%s", c.cfg.KeyPrefix, id)
}

func (c *CachedStore) childrenKey(parentID string) string {
	return fmt.Sprintf("%s:org-children:%s", c.cfg.KeyPrefix, parentID)
}

// FindByID returns a cached organization or loads it.
func (c *CachedStore) FindByID(ctx context.Context, id string) (*Organization, error) {
	if org, ok := c.orgs.Get(id); ok {
		c.metrics.RecordCacheLookup("organization", "local", true)
		return org, nil
	}

	var org Organization
	if c.getRedis(ctx, c.orgKey(id), &org) {
		c.metrics.RecordCacheLookup("organization", "redis", true)
		c.orgs.Add(id, &org)
		return &org, nil
	}
	c.metrics.RecordCacheLookup("organization", "store", false)

	loaded, err := c.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.orgs.Add(id, loaded)
	c.setRedis(ctx, c.orgKey(id), loaded)
	return loaded, nil
}

// FindByParentID returns cached children or loads them. Concurrent misses
// for the same parent share one store query.
func (c *CachedStore) FindByParentID(ctx context.Context, parentID string) ([]*Organization, error) {
	if list, ok := c.children.Get(parentID); ok {
		c.metrics.RecordCacheLookup("children", "local", true)
		return list, nil
	}

	var list []*Organization
	if c.getRedis(ctx, c.childrenKey(parentID), &list) {
		c.metrics.RecordCacheLookup("children", "redis", true)
		c.children.Add(parentID, list)
		return list, nil
	}
	c.metrics.RecordCacheLookup("children", "store", false)

	v, err, _ := c.group.Do(parentID, func() (interface{}, error) {
		loaded, err := c.Store.FindByParentID(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = []*Organization{}
		}
		c.children.Add(parentID, loaded)
		c.setRedis(ctx, c.childrenKey(parentID), loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Organization), nil
}

// Create writes through and drops the parent's cached child list.
func (c *CachedStore) Create(ctx context.Context, org *Organization) error {
	if err := c.Store.Create(ctx, org); err != nil {
		return err
	}
	if org.ParentID != nil {
		c.Invalidate(ctx, *org.ParentID)
	}
	return nil
}

// Invalidate removes an organization and its child list from both layers.
func (c *CachedStore) Invalidate(ctx context.Context, id string) {
	c.orgs.Remove(id)
	c.children.Remove(id)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.orgKey(id), c.childrenKey(id)).Err(); err != nil {
		c.logger.WithError(err).Warnf("failed to invalidate organization %s", id)
	}
}

func (c *CachedStore) getRedis(ctx context.Context, key string, dest interface{}) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	} else if err != nil {
		c.logger.WithError(err).Warn("redis get failed, falling back to store")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.redis.Del(ctx, key)
		c.logger.WithError(err).Warnf("dropping corrupt cache entry %s", key)
		return false
	}
	return true
}

func (c *CachedStore) setRedis(ctx context.Context, key string, value interface{}) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).Warn("failed to marshal cache entry")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cfg.RedisTTL).Err(); err != nil {
		c.logger.WithError(err).Warn("redis set failed")
	}
}
