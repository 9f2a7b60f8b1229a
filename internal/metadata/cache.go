package metadata

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"file-drop/internal/drop"
)

var (
	groupCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfd_group_cache_hits_total",
		Help: "Group lookups served from the in-process cache.",
	})
	groupCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfd_group_cache_misses_total",
		Help: "Group lookups that went to the metadata store.",
	})
)

// GroupCache fronts a Store with an expiring LRU of groups. Groups are never
// updated after creation, so only misses and evictions reach the store.
// Every other method goes straight to the wrapped Store.
type GroupCache struct {
	Store
	groups *expirable.LRU[string, drop.Group]
}

func NewGroupCache(inner Store, size int, ttl time.Duration) *GroupCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &GroupCache{
		Store:  inner,
		groups: expirable.NewLRU[string, drop.Group](size, nil, ttl),
	}
}

func (c *GroupCache) CreateGroup(ctx context.Context, g drop.Group) error {
	if err := c.Store.CreateGroup(ctx, g); err != nil {
		return err
	}
	c.groups.Add(g.GroupID, g)
	return nil
}

func (c *GroupCache) GetGroup(ctx context.Context, groupID string) (drop.Group, error) {
	if g, ok := c.groups.Get(groupID); ok {
		groupCacheHits.Inc()
		return g, nil
	}
	groupCacheMisses.Inc()

	g, err := c.Store.GetGroup(ctx, groupID)
	if err != nil {
		return drop.Group{}, err
	}
	c.groups.Add(groupID, g)
	return g, nil
}

// Len reports the number of cached groups.
func (c *GroupCache) Len() int {
	return c.groups.Len()
}
