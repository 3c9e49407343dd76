// Package cache keeps aligned price tables between requests, in process or
// in Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mExOms/quantree/pkg/types"
)

type CacheItem struct {
	Value      interface{}
	Expiration int64
}

// MemoryCache is a TTL map. A zero TTL never expires.
type MemoryCache struct {
	items    sync.Map
	stopOnce sync.Once
	stop     chan struct{}
}

func NewMemoryCache() *MemoryCache {
	return newMemoryCache(time.Minute)
}

func newMemoryCache(cleanupEvery time.Duration) *MemoryCache {
	cache := &MemoryCache{stop: make(chan struct{})}
	go cache.cleanupExpired(cleanupEvery)
	return cache
}

func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	expiration := time.Now().Add(ttl).UnixNano()
	if ttl == 0 {
		expiration = 0
	}

	c.items.Store(key, &CacheItem{
		Value:      value,
		Expiration: expiration,
	})
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	item, exists := c.items.Load(key)
	if !exists {
		return nil, false
	}

	cacheItem := item.(*CacheItem)
	if cacheItem.Expiration > 0 && time.Now().UnixNano() > cacheItem.Expiration {
		c.items.Delete(key)
		return nil, false
	}

	return cacheItem.Value, true
}

func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

func (c *MemoryCache) Clear() {
	c.items.Range(func(key, value interface{}) bool {
		c.items.Delete(key)
		return true
	})
}

// Len counts live entries
func (c *MemoryCache) Len() int {
	n := 0
	now := time.Now().UnixNano()
	c.items.Range(func(_, value interface{}) bool {
		item := value.(*CacheItem)
		if item.Expiration == 0 || now <= item.Expiration {
			n++
		}
		return true
	})
	return n
}

// GetTable implements marketdata.TableCache. Cached tables are shared and
// must be treated as read-only.
func (c *MemoryCache) GetTable(_ context.Context, key string) (*types.PriceTable, bool) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	table, ok := v.(*types.PriceTable)
	return table, ok
}

// SetTable implements marketdata.TableCache
func (c *MemoryCache) SetTable(_ context.Context, key string, table *types.PriceTable, ttl time.Duration) error {
	c.Set(key, table, ttl)
	return nil
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			c.items.Range(func(key, value interface{}) bool {
				item := value.(*CacheItem)
				if item.Expiration > 0 && now > item.Expiration {
					c.items.Delete(key)
				}
				return true
			})
		}
	}
}
