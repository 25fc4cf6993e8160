package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/sashko-guz/objstore/internal/logger"
)

var ErrCacheNotFound = errors.New("cache entry not found")

const cacheExt = ".cache"

// DiskCache stores entries as files named {blake3(key)}_{expiryUnix}.cache in
// a two-level directory fan-out, so expiry is read from the name without I/O.
type DiskCache struct {
	basePath string
	ttl      time.Duration
	maxSize  int64 // bytes, 0 = unlimited

	mu   sync.RWMutex
	stop chan struct{}
	done chan struct{}
}

type DiskCacheConfig struct {
	Dir             string
	TTL             time.Duration
	MaxSizeBytes    int64
	CleanupInterval time.Duration // 0 uses one minute
}

type cleanupStats struct {
	scanned int
	deleted int
	kept    int
	size    int64
}

type cacheFile struct {
	path      string
	size      int64
	expiresAt time.Time
}

func NewDiskCache(cfg DiskCacheConfig) (*DiskCache, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("disk cache TTL must be positive")
	}

	absPath, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	dc := &DiskCache{
		basePath: absPath,
		ttl:      cfg.TTL,
		maxSize:  cfg.MaxSizeBytes,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Drop whatever expired while the process was down before serving.
	dc.performCleanup()
	go dc.cleanupLoop(interval)

	logger.Infof("[DiskCache] Initialized: BasePath=%s, TTL=%v, CleanupInterval=%v", absPath, cfg.TTL, interval)
	return dc, nil
}

func (dc *DiskCache) Get(key string) ([]byte, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	hash := hashKey(key)
	filePath, expiresAt, err := dc.findCacheFile(hash)
	if err != nil {
		return nil, ErrCacheNotFound
	}
	if time.Now().After(expiresAt) {
		return nil, ErrCacheNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return data, nil
}

func (dc *DiskCache) Set(key string, data []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	hash := hashKey(key)
	dc.removeEntries(hash)

	expiresAt := time.Now().Add(dc.ttl)
	filePath := filepath.Join(dirFor(dc.basePath, hash), fmt.Sprintf("%s_%d%s", hash, expiresAt.Unix(), cacheExt))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory structure: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.removeEntries(hashKey(key))
}

func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if err := os.RemoveAll(dc.basePath); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}
	if err := os.MkdirAll(dc.basePath, 0755); err != nil {
		return fmt.Errorf("failed to recreate cache directory: %w", err)
	}
	logger.Infof("[DiskCache] Cache cleared")
	return nil
}

// Stats reports the number and total size of cache files on disk.
func (dc *DiskCache) Stats() (count int, totalSize int64, err error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	err = filepath.Walk(dc.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == cacheExt {
			count++
			totalSize += info.Size()
		}
		return nil
	})
	return count, totalSize, err
}

// Close stops the background cleanup. Files stay on disk.
func (dc *DiskCache) Close() error {
	select {
	case <-dc.stop:
	default:
		close(dc.stop)
	}
	<-dc.done
	return nil
}

func (dc *DiskCache) cleanupLoop(interval time.Duration) {
	defer close(dc.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.stop:
			return
		case <-ticker.C:
			stats := dc.performCleanup()
			logger.Debugf("[DiskCache] Cleanup: scanned=%d deleted=%d kept=%d size=%d", stats.scanned, stats.deleted, stats.kept, stats.size)
		}
	}
}

// performCleanup removes expired entries, then evicts the entries closest to
// expiry until the cache fits maxSize.
func (dc *DiskCache) performCleanup() cleanupStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := time.Now()
	var stats cleanupStats
	var live []cacheFile

	err := filepath.Walk(dc.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != cacheExt {
			return nil
		}
		stats.scanned++

		expiresAt, err := parseExpiry(filepath.Base(path))
		if err != nil || now.After(expiresAt) {
			if err := os.Remove(path); err == nil {
				stats.deleted++
			}
			return nil
		}

		live = append(live, cacheFile{path: path, size: info.Size(), expiresAt: expiresAt})
		stats.size += info.Size()
		return nil
	})
	if err != nil {
		logger.Warnf("[DiskCache] Error during cleanup walk: %v", err)
	}

	if dc.maxSize > 0 && stats.size > dc.maxSize {
		sort.Slice(live, func(i, j int) bool {
			return live[i].expiresAt.Before(live[j].expiresAt)
		})
		for _, f := range live {
			if stats.size <= dc.maxSize {
				break
			}
			if err := os.Remove(f.path); err != nil {
				continue
			}
			stats.deleted++
			stats.size -= f.size
		}
	}

	stats.kept = stats.scanned - stats.deleted
	return stats
}

func (dc *DiskCache) findCacheFile(hash string) (string, time.Time, error) {
	dir := dirFor(dc.basePath, hash)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, err
	}

	prefix := hash + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, cacheExt) {
			continue
		}
		expiresAt, err := parseExpiry(name)
		if err != nil {
			continue
		}
		return filepath.Join(dir, name), expiresAt, nil
	}
	return "", time.Time{}, ErrCacheNotFound
}

// removeEntries deletes every file stored for hash. Callers hold dc.mu.
func (dc *DiskCache) removeEntries(hash string) error {
	dir := dirFor(dc.basePath, hash)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	prefix := hash + "_"
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete cache file: %w", err)
		}
	}
	return nil
}

func hashKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// dirFor fans entries out nginx-style (levels=2:2) from the end of the hash.
func dirFor(base, hash string) string {
	n := len(hash)
	return filepath.Join(base, hash[n-2:], hash[n-4:n-2])
}

func parseExpiry(filename string) (time.Time, error) {
	name := strings.TrimSuffix(filename, cacheExt)
	idx := strings.LastIndex(name, "_")
	if idx == -1 {
		return time.Time{}, fmt.Errorf("invalid filename format: %s", filename)
	}
	ts, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp in filename: %w", err)
	}
	return time.Unix(ts, 0), nil
}
