package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/sashko-guz/objstore/internal/logger"
)

// MemoryCache is a size-bounded in-memory object cache with TinyLFU admission.
// Writes are buffered by ristretto; call Wait before relying on a Set or
// before invalidating a key that may still have a pending Set.
type MemoryCache struct {
	cache *ristretto.Cache
	name  string
}

type MemoryCacheConfig struct {
	Name     string // Cache name for logging
	MaxSize  int64  // Max memory in bytes
	MaxItems int64  // Expected number of items (optional)
}

func NewMemoryCache(cfg MemoryCacheConfig) (*MemoryCache, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("MaxSize must be specified for memory cache")
	}

	if cfg.MaxItems <= 0 {
		// Assume objects average around 100KB.
		cfg.MaxItems = max(cfg.MaxSize/(100*1024), 100)
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10, // ristretto recommends 10x the expected items
		MaxCost:     cfg.MaxSize,
		BufferItems: 64,
		Metrics:     true,
		OnEvict: func(item *ristretto.Item) {
			logger.Debugf("[MemoryCache:%s] Evicted item (cost: %d bytes)", cfg.Name, item.Cost)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	logger.Infof("[MemoryCache:%s] Initialized: MaxSize=%dMB, MaxItems=%d", cfg.Name, cfg.MaxSize/(1024*1024), cfg.MaxItems)
	return &MemoryCache{cache: c, name: cfg.Name}, nil
}

func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	value, found := mc.cache.Get(key)
	if !found {
		return nil, false
	}

	data, ok := value.([]byte)
	if !ok {
		logger.Warnf("[MemoryCache:%s] Invalid data type for key: %s", mc.name, key)
		return nil, false
	}
	return data, true
}

// Set stores data with the given TTL (0 keeps it until evicted). It returns
// false when ristretto drops the write.
func (mc *MemoryCache) Set(key string, data []byte, ttl time.Duration) bool {
	ok := mc.cache.SetWithTTL(key, data, int64(len(data)), ttl)
	if !ok {
		logger.Debugf("[MemoryCache:%s] Set rejected for key: %s", mc.name, key)
	}
	return ok
}

// Invalidate removes key after flushing pending writes, so a Set issued
// before the call cannot resurrect the entry afterwards.
func (mc *MemoryCache) Invalidate(key string) {
	mc.cache.Wait()
	mc.cache.Del(key)
}

func (mc *MemoryCache) Clear() {
	mc.cache.Clear()
	logger.Infof("[MemoryCache:%s] Cache cleared", mc.name)
}

func (mc *MemoryCache) Wait() {
	mc.cache.Wait()
}

func (mc *MemoryCache) Stats() map[string]any {
	metrics := mc.cache.Metrics
	return map[string]any{
		"name":         mc.name,
		"hits":         metrics.Hits(),
		"misses":       metrics.Misses(),
		"hit_ratio":    metrics.Ratio(),
		"keys_added":   metrics.KeysAdded(),
		"keys_evicted": metrics.KeysEvicted(),
		"cost_added":   metrics.CostAdded(),
		"cost_evicted": metrics.CostEvicted(),
	}
}

func (mc *MemoryCache) Close() {
	mc.cache.Wait()
	mc.cache.Close()
	logger.Infof("[MemoryCache:%s] Cache closed", mc.name)
}
