package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/messages"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newTestCache(t *testing.T, ttl time.Duration, maxEntries int) (*fileCache, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := newFileCache(dir, ttl, maxEntries, clock.Now)
	require.NoError(t, cache.InitCache())
	return cache, clock, dir
}

func TestNewFileCache(t *testing.T) {
	require.NotNil(t, NewFileCache(""))
}

func TestFileCache_PutAndGet(t *testing.T) {
	cache, _, _ := newTestCache(t, time.Hour, 10)
	loc := messages.FileLocation{Bucket: "tasks", Path: "A+B/inputs/1.in"}

	_, ok := cache.Get(loc)
	assert.False(t, ok)

	require.NoError(t, cache.Put(loc, []byte("2 3")))
	data, ok := cache.Get(loc)
	require.True(t, ok)
	assert.Equal(t, "2 3", string(data))

	other := messages.FileLocation{Bucket: "other", Path: "A+B/inputs/1.in"}
	_, ok = cache.Get(other)
	assert.False(t, ok)
}

func TestFileCache_Expiry(t *testing.T) {
	cache, clock, dir := newTestCache(t, time.Hour, 10)
	loc := messages.FileLocation{Bucket: "tasks", Path: "1.out"}
	require.NoError(t, cache.Put(loc, []byte("5")))

	clock.now = clock.now.Add(2 * time.Hour)
	_, ok := cache.Get(loc)
	assert.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, constants.CacheMetadataFile, e.Name())
	}
}

func TestFileCache_CleanExpiredCache(t *testing.T) {
	cache, clock, _ := newTestCache(t, time.Hour, 10)
	old := messages.FileLocation{Bucket: "tasks", Path: "old.in"}
	require.NoError(t, cache.Put(old, []byte("old")))

	clock.now = clock.now.Add(90 * time.Minute)
	fresh := messages.FileLocation{Bucket: "tasks", Path: "fresh.in"}
	require.NoError(t, cache.Put(fresh, []byte("fresh")))

	require.NoError(t, cache.CleanExpiredCache())
	assert.Len(t, cache.metadata.Entries, 1)
	_, ok := cache.Get(fresh)
	assert.True(t, ok)
}

func TestFileCache_EvictsOldestWhenFull(t *testing.T) {
	cache, clock, _ := newTestCache(t, time.Hour, 2)
	first := messages.FileLocation{Bucket: "b", Path: "1"}
	second := messages.FileLocation{Bucket: "b", Path: "2"}
	third := messages.FileLocation{Bucket: "b", Path: "3"}

	require.NoError(t, cache.Put(first, []byte("1")))
	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, cache.Put(second, []byte("2")))
	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, cache.Put(third, []byte("3")))

	_, ok := cache.Get(first)
	assert.False(t, ok)
	_, ok = cache.Get(second)
	assert.True(t, ok)
	_, ok = cache.Get(third)
	assert.True(t, ok)
}

func TestFileCache_MetadataSurvivesRestart(t *testing.T) {
	cache, clock, dir := newTestCache(t, time.Hour, 10)
	loc := messages.FileLocation{Bucket: "tasks", Path: "1.in"}
	require.NoError(t, cache.Put(loc, []byte("2 3")))

	reopened := newFileCache(dir, time.Hour, 10, clock.Now)
	require.NoError(t, reopened.InitCache())
	data, ok := reopened.Get(loc)
	require.True(t, ok)
	assert.Equal(t, "2 3", string(data))
}

func TestFileCache_MissingFileIsMiss(t *testing.T) {
	cache, _, dir := newTestCache(t, time.Hour, 10)
	loc := messages.FileLocation{Bucket: "tasks", Path: "1.in"}
	require.NoError(t, cache.Put(loc, []byte("x")))

	require.NoError(t, os.Remove(filepath.Join(dir, generateKey(loc)+".in")))
	_, ok := cache.Get(loc)
	assert.False(t, ok)
}
