package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sashko-guz/objstore/internal/cache"
	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/metrics"
	"github.com/sashko-guz/objstore/internal/signedlink"
)

const (
	defaultMaxTokens = 10000
	defaultCacheTTL  = 5 * time.Minute
)

// Registry holds one backend per dataset, all on the same driver. It is built
// once at startup and read-only afterwards.
type Registry struct {
	driver    StorageDriver
	storages  map[string]Storage
	localRoot string
	linkMode  string
	tokens    *signedlink.TokenStore
	metrics   *metrics.Metrics

	memoryCache *cache.MemoryCache
	diskCache   *cache.DiskCache
}

type registryOptions struct {
	datasets []string
	metrics  *metrics.Metrics
}

type RegistryOption func(*registryOptions)

// WithDatasets replaces the default dataset list.
func WithDatasets(names ...string) RegistryOption {
	return func(o *registryOptions) {
		o.datasets = names
	}
}

// WithMetrics instruments every backend and the signed-link gate.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(o *registryOptions) {
		o.metrics = m
	}
}

// NewRegistry selects the driver once and binds every dataset to it. Any
// dataset that fails to construct fails the whole registry.
func NewRegistry(ctx context.Context, cfg Config, opts ...RegistryOption) (*Registry, error) {
	o := registryOptions{datasets: Datasets}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.datasets) == 0 {
		return nil, fmt.Errorf("no datasets configured")
	}

	construct, driver, err := SelectConstructor(cfg)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		driver:   driver,
		storages: make(map[string]Storage, len(o.datasets)),
		linkMode: signedlink.ModeQuery,
		metrics:  o.metrics,
	}

	if driver == DriverLocal {
		root, err := filepath.Abs(cfg.Local.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve local storage root: %w", err)
		}
		r.localRoot = root
		cfg.Local.Root = root

		if cfg.Local.SignedLinkMode == signedlink.ModeToken {
			r.linkMode = signedlink.ModeToken
			if cfg.Local.Tokens == nil {
				size := cfg.Local.MaxTokens
				if size <= 0 {
					size = defaultMaxTokens
				}
				tokens, err := signedlink.NewTokenStore(size)
				if err != nil {
					return nil, err
				}
				cfg.Local.Tokens = tokens
			}
			r.tokens = cfg.Local.Tokens
		} else {
			// Query mode never issues tokens, even if a store was supplied.
			cfg.Local.Tokens = nil
		}
	}

	if err := r.initCaches(cfg.Cache); err != nil {
		r.Close()
		return nil, err
	}

	backends := make([]Storage, len(o.datasets))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range o.datasets {
		g.Go(func() error {
			backend, err := construct(gctx, name)
			if err != nil {
				return fmt.Errorf("storage '%s': %w", name, err)
			}
			backends[i] = backend
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.Close()
		return nil, err
	}

	for i, name := range o.datasets {
		if _, dup := r.storages[name]; dup {
			r.Close()
			return nil, fmt.Errorf("storage '%s': dataset configured twice", name)
		}
		r.storages[name] = r.decorate(name, backends[i], cfg.Cache.TTL)
	}

	logger.Infof("[Storage] Initialized %d dataset(s) on driver %s: %v", len(r.storages), driver, r.Names())
	return r, nil
}

func (r *Registry) initCaches(cfg CacheConfig) error {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	if cfg.MemoryMB > 0 {
		mc, err := cache.NewMemoryCache(cache.MemoryCacheConfig{
			Name:    "objects",
			MaxSize: int64(cfg.MemoryMB) * 1024 * 1024,
		})
		if err != nil {
			return fmt.Errorf("failed to create memory cache: %w", err)
		}
		r.memoryCache = mc
	}

	if cfg.DiskDir != "" {
		dc, err := cache.NewDiskCache(cache.DiskCacheConfig{Dir: cfg.DiskDir, TTL: ttl})
		if err != nil {
			return fmt.Errorf("failed to create disk cache: %w", err)
		}
		r.diskCache = dc
	}
	return nil
}

// decorate applies caching under instrumentation, so metrics see the latency
// callers actually observe.
func (r *Registry) decorate(name string, backend Storage, ttl time.Duration) Storage {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if r.memoryCache != nil || r.diskCache != nil {
		backend = NewCachedStorage(backend, name, r.memoryCache, r.diskCache, ttl)
	}
	if r.metrics != nil {
		backend = NewInstrumentedStorage(backend, name, r.metrics)
	}
	return backend
}

// Get returns the backend bound to a dataset name.
func (r *Registry) Get(name string) (Storage, bool) {
	s, ok := r.storages[name]
	return s, ok
}

// MustGet is Get for names known at compile time.
func (r *Registry) MustGet(name string) Storage {
	s, ok := r.storages[name]
	if !ok {
		panic(fmt.Sprintf("storage: dataset %q is not registered", name))
	}
	return s
}

func (r *Registry) ProfileImages() Storage {
	return r.MustGet(DatasetProfileImages)
}

func (r *Registry) Floorplans() Storage {
	return r.MustGet(DatasetFloorplans)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Driver() StorageDriver {
	return r.driver
}

// Tokens is the grant store in local token mode and nil otherwise.
func (r *Registry) Tokens() *signedlink.TokenStore {
	return r.tokens
}

// LocalRoot is the absolute storage root when the local driver is active.
func (r *Registry) LocalRoot() string {
	return r.localRoot
}

// SignedLinkHandler serves locally signed links. With any other driver active
// it answers 404 for every path.
func (r *Registry) SignedLinkHandler() http.Handler {
	return signedlink.Gate(signedlink.GateConfig{
		Enabled: r.driver == DriverLocal,
		Mode:    r.linkMode,
		Tokens:  r.tokens,
		Metrics: r.metrics,
	}, signedlink.Files(r.localRoot))
}

// Close stops the cache tiers. Backends hold no resources that need closing.
func (r *Registry) Close() error {
	var errs []error
	if r.memoryCache != nil {
		r.memoryCache.Close()
		r.memoryCache = nil
	}
	if r.diskCache != nil {
		errs = append(errs, r.diskCache.Close())
		r.diskCache = nil
	}
	return errors.Join(errs...)
}
