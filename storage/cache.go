package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

// CachedCatalog wraps a catalog with Redis-backed caching of milestone
// definitions and actor names. Completion lookups always hit the base.
type CachedCatalog struct {
	base  progression.Catalog
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

var _ progression.Catalog = (*CachedCatalog)(nil)

// cachedMilestone distinguishes a cached miss from an absent key.
type cachedMilestone struct {
	Found     bool             `json:"found"`
	Milestone domain.Milestone `json:"milestone"`
}

// NewCachedCatalog creates a caching catalog using the provided Redis client and TTL.
func NewCachedCatalog(base progression.Catalog, client *redis.Client, ttl time.Duration) *CachedCatalog {
	if base == nil {
		panic("storage.NewCachedCatalog: base catalog is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &CachedCatalog{base: base, redis: client, ttl: ttl}
}

func (c *CachedCatalog) LookupMilestone(ctx context.Context, id domain.MilestoneID, status domain.CatalogStatus) (*domain.Milestone, error) {
	key := milestoneCacheKey(id)
	var entry cachedMilestone
	if !c.load(ctx, key, &entry) {
		v, err, _ := c.group.Do(key, func() (any, error) {
			m, err := c.base.LookupMilestone(ctx, id, "")
			if err != nil {
				return nil, err
			}
			e := cachedMilestone{Found: m != nil}
			if m != nil {
				e.Milestone = *m
			}
			c.store(ctx, key, e)
			return e, nil
		})
		if err != nil {
			return nil, err
		}
		entry = v.(cachedMilestone)
	}
	if !entry.Found || (status != "" && entry.Milestone.Status != status) {
		return nil, nil
	}
	m := entry.Milestone
	return &m, nil
}

func (c *CachedCatalog) FirstCompletion(ctx context.Context, taskID domain.TaskID, id domain.MilestoneID) (*domain.CompletionRow, error) {
	return c.base.FirstCompletion(ctx, taskID, id)
}

func (c *CachedCatalog) ActorName(ctx context.Context, id domain.ActorID) (string, error) {
	key := actorCacheKey(id)
	var name string
	if c.load(ctx, key, &name) {
		return name, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		n, err := c.base.ActorName(ctx, id)
		if err != nil {
			return "", err
		}
		c.store(ctx, key, n)
		return n, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EvictMilestone drops a cached catalog entry after it changes.
func (c *CachedCatalog) EvictMilestone(ctx context.Context, id domain.MilestoneID) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, milestoneCacheKey(id)).Err()
}

func (c *CachedCatalog) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing catalog without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func milestoneCacheKey(id domain.MilestoneID) string {
	return "catalog:milestone:" + id.String()
}

func actorCacheKey(id domain.ActorID) string {
	return "catalog:actor:" + strconv.FormatInt(int64(id), 10)
}
