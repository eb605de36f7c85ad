package embedding

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c, err := NewCache(t.TempDir(), 3, 10)
	require.NoError(t, err)

	v := Vector{0.1, 0.2, 0.3}
	require.NoError(t, c.Set("ev1", v))

	got, ok := c.Get("ev1")
	require.True(t, ok)
	assert.Equal(t, v, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheDimensionMismatchWritesNoFile(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 3, 10)
	require.NoError(t, err)

	err = c.Set("ev1", Vector{0.1, 0.2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, statErr := os.Stat(filepath.Join(dir, "embeddings", "ev1.vec"))
	assert.True(t, os.IsNotExist(statErr), "no file may exist after a rejected Set")
	assert.False(t, c.Has("ev1"))
}

func TestCacheDurableReload(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 3, 10)
	require.NoError(t, err)

	v := Vector{1, 2, 3}
	require.NoError(t, c.Set("ev1", v))

	// Losing the memory layer must be transparent: reads fall back to disk.
	c.DropMem()
	assert.Equal(t, 0, c.MemLen())

	got, ok := c.Get("ev1")
	require.True(t, ok)
	assert.Equal(t, v, got)
	assert.Equal(t, 1, c.MemLen(), "disk hit repopulates the memory layer")

	// A fresh cache over the same directory sees the same vectors.
	c2, err := NewCache(dir, 3, 10)
	require.NoError(t, err)
	got, ok = c2.Get("ev1")
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func TestCacheInsertionOrderEviction(t *testing.T) {
	c, err := NewCache(t.TempDir(), 2, 3)
	require.NoError(t, err)

	require.NoError(t, c.Set("a", Vector{1, 1}))
	require.NoError(t, c.Set("b", Vector{2, 2}))
	require.NoError(t, c.Set("c", Vector{3, 3}))

	// Touch "a" repeatedly; insertion-order eviction must ignore access.
	for i := 0; i < 5; i++ {
		_, ok := c.Get("a")
		require.True(t, ok)
	}

	require.NoError(t, c.Set("d", Vector{4, 4}))
	assert.Equal(t, 3, c.MemLen())

	// "a" was the oldest insertion, so it left the memory layer first. It is
	// still durable on disk.
	files, err := os.ReadDir(filepath.Join(c.dir))
	require.NoError(t, err)
	assert.Len(t, files, 4)
	_, ok := c.Get("a")
	assert.True(t, ok, "evicted entries reload from disk")
}

func TestCacheStaleDimensionOnDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 2, 10)
	require.NoError(t, err)
	require.NoError(t, c.Set("ev1", Vector{1, 2}))

	// Reopen with a different dimension: old files are treated as absent.
	c2, err := NewCache(dir, 4, 10)
	require.NoError(t, err)
	_, ok := c2.Get("ev1")
	assert.False(t, ok)
}
