package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

const (
	dataSuffix = ".data"
	metaSuffix = ".meta"
)

// Cache stores opaque byte payloads under string keys
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
}

// Entry is the metadata persisted next to each payload
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
}

// FileCache keeps each entry as a pair of files named by the key's hash
type FileCache struct {
	directory  string
	maxBytes   int64
	defaultTTL time.Duration
	mu         sync.RWMutex
	hits       atomic.Int64
	misses     atomic.Int64
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewFileCache creates the directory if needed and, when cleanupFreq is
// positive, starts a goroutine that evicts expired entries until Close
func NewFileCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &FileCache{
		directory:  directory,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup(cleanupFreq)
	}

	return c, nil
}

// Get retrieves data from cache
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, err := c.readMeta(c.metaPath(key))
	if err != nil || entry.Key != key {
		c.mu.RUnlock()
		c.misses.Add(1)

		return nil, ErrMiss
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.RUnlock()
		c.misses.Add(1)
		_ = c.Delete(ctx, key)

		return nil, ErrMiss
	}

	data, err := os.ReadFile(c.dataPath(key))
	c.mu.RUnlock()

	if err != nil {
		c.misses.Add(1)
		return nil, ErrMiss
	}

	c.hits.Add(1)

	return data, nil
}

// Set stores data in cache; a zero ttl uses the cache default
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry := Entry{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      int64(len(data)),
	}

	meta, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enforceSize(entry.Size); err != nil {
		return fmt.Errorf("failed to enforce cache size: %w", err)
	}

	if err := os.WriteFile(c.dataPath(key), data, 0600); err != nil {
		return fmt.Errorf("failed to write cache data: %w", err)
	}

	if err := os.WriteFile(c.metaPath(key), meta, 0600); err != nil {
		_ = os.Remove(c.dataPath(key))
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return nil
}

// Delete removes an entry from cache
func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeHash(c.hashKey(key))

	return nil
}

// Clear removes all entries and resets statistics
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() && isCacheFile(e.Name()) {
			_ = os.Remove(filepath.Join(c.directory, e.Name()))
		}
	}

	c.hits.Store(0)
	c.misses.Store(0)

	return nil
}

// Cleanup removes expired entries
func (c *FileCache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	metas, err := c.listMeta()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, m := range metas {
		if now.After(m.entry.ExpiresAt) {
			c.removeHash(m.hash)
		}
	}

	return nil
}

// Stats returns cache statistics
func (c *FileCache) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	metas, err := c.listMeta()
	c.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	for _, m := range metas {
		stats.TotalEntries++
		stats.TotalSize += m.entry.Size
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return stats, nil
}

// Close stops the background cleanup goroutine
func (c *FileCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *FileCache) backgroundCleanup(freq time.Duration) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stop:
			return
		}
	}
}

type metaFile struct {
	hash  string
	entry Entry
}

// listMeta must be called with mu held
func (c *FileCache) listMeta() ([]metaFile, error) {
	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var metas []metaFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}

		entry, err := c.readMeta(filepath.Join(c.directory, e.Name()))
		if err != nil {
			continue
		}

		metas = append(metas, metaFile{hash: strings.TrimSuffix(e.Name(), metaSuffix), entry: entry})
	}

	return metas, nil
}

func (c *FileCache) readMeta(path string) (Entry, error) {
	var entry Entry

	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}

	err = json.Unmarshal(data, &entry)

	return entry, err
}

// enforceSize evicts the oldest entries until newSize fits; mu must be held
func (c *FileCache) enforceSize(newSize int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	if newSize > c.maxBytes {
		return fmt.Errorf("entry of %d bytes exceeds cache limit of %d bytes", newSize, c.maxBytes)
	}

	metas, err := c.listMeta()
	if err != nil {
		return err
	}

	var current int64
	for _, m := range metas {
		current += m.entry.Size
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].entry.CreatedAt.Before(metas[j].entry.CreatedAt)
	})

	for _, m := range metas {
		if current+newSize <= c.maxBytes {
			break
		}

		c.removeHash(m.hash)
		current -= m.entry.Size
	}

	return nil
}

func (c *FileCache) removeHash(hash string) {
	_ = os.Remove(filepath.Join(c.directory, hash+dataSuffix))
	_ = os.Remove(filepath.Join(c.directory, hash+metaSuffix))
}

func (c *FileCache) dataPath(key string) string {
	return filepath.Join(c.directory, c.hashKey(key)+dataSuffix)
}

func (c *FileCache) metaPath(key string) string {
	return filepath.Join(c.directory, c.hashKey(key)+metaSuffix)
}

func (c *FileCache) hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

func isCacheFile(name string) bool {
	return strings.HasSuffix(name, dataSuffix) || strings.HasSuffix(name, metaSuffix)
}
