package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/messages"
)

type CacheEntry struct {
	FileName       string    `json:"file_name"`
	CachedAt       time.Time `json:"cached_at"`
	OriginalPath   string    `json:"original_path"`
	OriginalBucket string    `json:"original_bucket"`
}

type CacheMetadata struct {
	Entries map[string]CacheEntry `json:"entries"` // key is hash of bucket+path
}

type FileCache interface {
	Get(location messages.FileLocation) ([]byte, bool)
	Put(location messages.FileLocation, data []byte) error
	CleanExpiredCache() error
	InitCache() error
}

type fileCache struct {
	mu           sync.Mutex
	logger       *zap.SugaredLogger
	cacheDirPath string
	ttl          time.Duration
	maxEntries   int
	now          func() time.Time
	metadata     *CacheMetadata
}

func NewFileCache(cacheDirPath string) FileCache {
	return newFileCache(cacheDirPath, time.Duration(constants.CacheTTLHours)*time.Hour, constants.CacheMaxEntries, time.Now)
}

func newFileCache(cacheDirPath string, ttl time.Duration, maxEntries int, now func() time.Time) *fileCache {
	return &fileCache{
		logger:       logger.NewNamedLogger("cache"),
		cacheDirPath: cacheDirPath,
		ttl:          ttl,
		maxEntries:   maxEntries,
		now:          now,
		metadata:     &CacheMetadata{Entries: make(map[string]CacheEntry)},
	}
}

// InitCache creates the cache directory and reloads metadata left by a previous run.
func (c *fileCache) InitCache() error {
	if err := os.MkdirAll(c.cacheDirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	c.mu.Lock()
	if raw, err := os.ReadFile(filepath.Join(c.cacheDirPath, constants.CacheMetadataFile)); err == nil {
		var stored CacheMetadata
		if err := json.Unmarshal(raw, &stored); err != nil {
			c.logger.Warnf("Ignoring corrupt cache metadata: %v", err)
		} else if stored.Entries != nil {
			c.metadata = &stored
		}
	}
	c.mu.Unlock()

	if err := c.CleanExpiredCache(); err != nil {
		c.logger.Warnf("Failed to clean expired cache: %v", err)
	}
	return nil
}

func (c *fileCache) Get(location messages.FileLocation) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := generateKey(location)
	entry, exists := c.metadata.Entries[key]
	if !exists {
		return nil, false
	}

	if c.now().Sub(entry.CachedAt) > c.ttl {
		c.logger.Debugf("Cache expired for %s", location.Path)
		c.removeLocked(key)
		return nil, false
	}

	data, err := os.ReadFile(filepath.Join(c.cacheDirPath, entry.FileName))
	if err != nil {
		c.logger.Debugf("Cached file no longer readable: %s", entry.FileName)
		delete(c.metadata.Entries, key)
		return nil, false
	}

	c.logger.Debugf("Cache hit for %s", location.Path)
	return data, true
}

func (c *fileCache) Put(location messages.FileLocation, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.cacheDirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	key := generateKey(location)
	if _, exists := c.metadata.Entries[key]; !exists && len(c.metadata.Entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	fileName := key + filepath.Ext(location.Path)
	tmp, err := os.CreateTemp(c.cacheDirPath, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), filepath.Join(c.cacheDirPath, fileName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.metadata.Entries[key] = CacheEntry{
		FileName:       fileName,
		CachedAt:       c.now(),
		OriginalPath:   location.Path,
		OriginalBucket: location.Bucket,
	}
	c.logger.Debugf("Cached file %s", location.Path)
	return c.saveMetadataLocked()
}

// CleanExpiredCache removes expired cache entries and their files.
func (c *fileCache) CleanExpiredCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.metadata.Entries {
		if now.Sub(entry.CachedAt) > c.ttl {
			c.removeLocked(key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Infof("Cleaned %d expired cache entries", removed)
		return c.saveMetadataLocked()
	}
	return nil
}

func (c *fileCache) removeLocked(key string) {
	entry, ok := c.metadata.Entries[key]
	if !ok {
		return
	}
	path := filepath.Join(c.cacheDirPath, entry.FileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warnf("Failed to remove cache file %s: %v", path, err)
	}
	delete(c.metadata.Entries, key)
}

func (c *fileCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.metadata.Entries {
		if first || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
			first = false
		}
	}
	if !first {
		c.logger.Debugf("Evicted oldest cache entry: %s", c.metadata.Entries[oldestKey].OriginalPath)
		c.removeLocked(oldestKey)
	}
}

func (c *fileCache) saveMetadataLocked() error {
	raw, err := json.Marshal(c.metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.cacheDirPath, constants.CacheMetadataFile), raw, 0o644)
}

func generateKey(location messages.FileLocation) string {
	hash := sha256.Sum256([]byte(location.Bucket + ":" + location.Path))
	return hex.EncodeToString(hash[:])
}
