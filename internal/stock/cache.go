package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/supplyledger/internal/platform/db"
)

const cacheVersionKey = "stock:movements:version"

// MovementCache wraps Redis based caching of movement pages with versioned invalidation.
// A nil cache or client falls through to the loader.
type MovementCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewMovementCache instantiates the cache helper.
func NewMovementCache(client *redis.Client, ttl time.Duration) *MovementCache {
	return &MovementCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *MovementCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
	}
	return ver, nil
}

// BuildKey composes the cache key for filter with the current version.
func (c *MovementCache) BuildKey(ctx context.Context, filter MovementFilter) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", filterKey(filter), ver), nil
}

func filterKey(filter MovementFilter) string {
	return strings.Join([]string{
		"stock", "movements",
		strconv.FormatInt(filter.ProductID, 10),
		string(filter.Kind),
		timeToken(filter.From),
		timeToken(filter.To),
		strconv.Itoa(filter.Page),
		strconv.Itoa(filter.PerPage),
	}, ":")
}

func timeToken(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

// FetchPage loads a cached page or populates it with loader. Concurrent misses for the
// same key share one load. Redis failures degrade to a direct load.
func (c *MovementCache) FetchPage(ctx context.Context, filter MovementFilter, loader func(context.Context) (MovementPage, error)) (MovementPage, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.BuildKey(ctx, filter)
	if err != nil {
		return loader(ctx)
	}
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var page MovementPage
		if err := json.Unmarshal(payload, &page); err == nil {
			return page, nil
		}
	}

	ch := c.group.DoChan(key, func() (any, error) {
		page, err := loader(ctx)
		if err != nil {
			return MovementPage{}, err
		}
		if raw, err := json.Marshal(page); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return page, nil
	})
	select {
	case <-ctx.Done():
		return MovementPage{}, db.Classify(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return MovementPage{}, res.Err
		}
		return res.Val.(MovementPage), nil
	}
}

// Bump invalidates cached pages by incrementing the version.
func (c *MovementCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
