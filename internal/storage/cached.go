package storage

import (
	"bytes"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sashko-guz/objstore/internal/cache"
	"github.com/sashko-guz/objstore/internal/logger"
)

// CachedStorage wraps a Storage with read-through caching:
// Layer 1: In-memory cache (optional)
// Layer 2: Disk cache (optional)
// Layer 3: The underlying backend
//
// Writes go to the backend first and then invalidate both tiers for the key.
// Absent objects are never cached. Signed URLs always come from the backend.
type CachedStorage struct {
	underlying  Storage
	dataset     string
	memoryCache *cache.MemoryCache
	diskCache   *cache.DiskCache
	ttl         time.Duration

	loads singleflight.Group

	// A write marks the key's in-flight load stale before clearing the tiers,
	// so bytes read before the write never reach the cache after it.
	loadsMu  sync.Mutex
	inflight map[string]*load
}

type load struct {
	mu    sync.Mutex
	stale bool
}

// fillUnlessStale runs fill only if no write has marked the load stale. It
// holds l.mu so a concurrent markStale waits for the fill to finish.
func (l *load) fillUnlessStale(fill func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stale {
		return false
	}
	fill()
	return true
}

func (l *load) markStale() {
	l.mu.Lock()
	l.stale = true
	l.mu.Unlock()
}

// NewCachedStorage shares the tiers between datasets; keys are namespaced by
// dataset so entries never collide.
func NewCachedStorage(underlying Storage, dataset string, memory *cache.MemoryCache, disk *cache.DiskCache, ttl time.Duration) *CachedStorage {
	return &CachedStorage{
		underlying:  underlying,
		dataset:     dataset,
		memoryCache: memory,
		diskCache:   disk,
		ttl:         ttl,
		inflight:    make(map[string]*load),
	}
}

func (cs *CachedStorage) cacheKey(key string) string {
	return cs.dataset + "/" + key
}

func (cs *CachedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	cacheKey := cs.cacheKey(key)

	if cs.memoryCache != nil {
		if data, found := cs.memoryCache.Get(cacheKey); found {
			logger.Debugf("[CachedStorage:%s] Memory cache HIT for key: %s", cs.dataset, key)
			return bytes.Clone(data), nil
		}
	}

	// Concurrent misses for one key share a single fetch. The fetch outlives a
	// cancelled caller because other callers may be waiting on it.
	loadCtx := context.WithoutCancel(ctx)
	ch := cs.loads.DoChan(cacheKey, func() (any, error) {
		return cs.load(loadCtx, key, cacheKey)
	})

	select {
	case <-ctx.Done():
		return nil, NotFound(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debugf("[CachedStorage:%s] Shared in-flight fetch for key: %s", cs.dataset, key)
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

// load reads the disk tier, then the backend, and fills the faster tiers
// unless a write to the key completed in the meantime.
func (cs *CachedStorage) load(ctx context.Context, key, cacheKey string) ([]byte, error) {
	l := cs.beginLoad(cacheKey)
	defer cs.endLoad(cacheKey, l)

	if cs.diskCache != nil {
		if data, err := cs.diskCache.Get(cacheKey); err == nil {
			logger.Debugf("[CachedStorage:%s] Disk cache HIT for key: %s", cs.dataset, key)
			if cs.memoryCache != nil {
				l.fillUnlessStale(func() { cs.memoryCache.Set(cacheKey, data, cs.ttl) })
			}
			return data, nil
		}
	}

	data, err := cs.underlying.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !l.fillUnlessStale(func() { cs.fill(cacheKey, data) }) {
		logger.Debugf("[CachedStorage:%s] Key %s written during fetch, not caching", cs.dataset, key)
	}
	return data, nil
}

func (cs *CachedStorage) beginLoad(cacheKey string) *load {
	cs.loadsMu.Lock()
	defer cs.loadsMu.Unlock()
	l := &load{}
	cs.inflight[cacheKey] = l
	return l
}

func (cs *CachedStorage) endLoad(cacheKey string, l *load) {
	cs.loadsMu.Lock()
	defer cs.loadsMu.Unlock()
	if cs.inflight[cacheKey] == l {
		delete(cs.inflight, cacheKey)
	}
}

func (cs *CachedStorage) fill(cacheKey string, data []byte) {
	if cs.memoryCache != nil {
		cs.memoryCache.Set(cacheKey, data, cs.ttl)
	}
	if cs.diskCache != nil {
		if err := cs.diskCache.Set(cacheKey, data); err != nil {
			logger.Warnf("[CachedStorage:%s] Error writing to disk cache: %v", cs.dataset, err)
		}
	}
}

func (cs *CachedStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := cs.underlying.Put(ctx, key, data); err != nil {
		return err
	}
	cs.invalidate(key)
	return nil
}

func (cs *CachedStorage) PutFromPath(ctx context.Context, key, sourcePath string) error {
	if err := cs.underlying.PutFromPath(ctx, key, sourcePath); err != nil {
		return err
	}
	cs.invalidate(key)
	return nil
}

func (cs *CachedStorage) SignedURL(ctx context.Context, key string, opts ...SignOption) (string, error) {
	return cs.underlying.SignedURL(ctx, key, opts...)
}

func (cs *CachedStorage) invalidate(key string) {
	cacheKey := cs.cacheKey(key)

	cs.loadsMu.Lock()
	l := cs.inflight[cacheKey]
	cs.loadsMu.Unlock()
	if l != nil {
		l.markStale()
	}
	// Reads that start after this write must not join a fetch that began before it.
	cs.loads.Forget(cacheKey)

	if cs.memoryCache != nil {
		cs.memoryCache.Invalidate(cacheKey)
	}
	if cs.diskCache != nil {
		if err := cs.diskCache.Delete(cacheKey); err != nil {
			logger.Warnf("[CachedStorage:%s] Error invalidating disk cache for key %s: %v", cs.dataset, key, err)
		}
	}
}

var _ Storage = (*CachedStorage)(nil)
