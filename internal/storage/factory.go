package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sashko-guz/objstore/internal/logger"
)

// Factory builds the backend for one dataset. Drivers register one per
// StorageDriver from their package init.
type Factory func(ctx context.Context, cfg Config, dataset string) (Storage, error)

// Constructor is a Factory bound to a configuration.
type Constructor func(ctx context.Context, dataset string) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[StorageDriver]Factory)
)

// Register makes a driver available to SelectConstructor. It panics if called
// twice for the same driver or with a nil factory.
func Register(driver StorageDriver, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic("storage: Register factory is nil for driver " + string(driver))
	}
	if _, dup := factories[driver]; dup {
		panic("storage: Register called twice for driver " + string(driver))
	}
	factories[driver] = factory
}

// Drivers lists the registered driver names in sorted order.
func Drivers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return driversLocked()
}

// SelectConstructor picks the constructor for cfg.Driver. An empty or
// unrecognised value falls back to the local driver and is logged, never
// rejected. The returned driver is the one actually selected.
func SelectConstructor(cfg Config) (Constructor, StorageDriver, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.Driver))))

	factoriesMu.RLock()
	factory, ok := factories[driver]
	if !ok {
		if driver == "" {
			logger.Infof("[Storage] No implementation configured, using %s", DriverLocal)
		} else {
			logger.Warnf("[Storage] Unknown implementation %q (registered: %s), falling back to %s",
				driver, strings.Join(driversLocked(), ", "), DriverLocal)
		}
		driver = DriverLocal
		factory, ok = factories[DriverLocal]
	}
	factoriesMu.RUnlock()

	if !ok {
		return nil, "", fmt.Errorf("storage: driver %q is not registered", driver)
	}

	return func(ctx context.Context, dataset string) (Storage, error) {
		return factory(ctx, cfg, dataset)
	}, driver, nil
}

func driversLocked() []string {
	names := make([]string, 0, len(factories))
	for driver := range factories {
		names = append(names, string(driver))
	}
	sort.Strings(names)
	return names
}
