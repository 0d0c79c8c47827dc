package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHybridBackend(t *testing.T, cacheSize int) *HybridBackend {
	t.Helper()
	b, err := NewHybridBackendWithOptions(DiskOptions{InMemory: true}, cacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestHybridBackendCacheHitAndDiskFallback(t *testing.T) {
	b := newTestHybridBackend(t, 2)

	id := NewVectorID()
	_, err := b.StoreVector(id, []float64{1, 2, 3}, Metadata{"k": "v"})
	require.NoError(t, err)

	entry, found, err := b.RetrieveVector(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{1, 2, 3}, entry.Vector)

	// Evict id from the cache by pushing two more entries through a
	// cache sized for 2; the entry must still be readable from disk.
	_, _ = b.StoreVector(NewVectorID(), []float64{9}, nil)
	_, _ = b.StoreVector(NewVectorID(), []float64{9}, nil)

	entry, found, err = b.RetrieveVector(id)
	require.NoError(t, err)
	require.True(t, found, "disk remains authoritative after cache eviction")
	assert.Equal(t, []float64{1, 2, 3}, entry.Vector)
}

func TestHybridBackendUpdateInvalidatesCache(t *testing.T) {
	b := newTestHybridBackend(t, 10)

	id := NewVectorID()
	_, _ = b.StoreVector(id, []float64{1, 2}, nil)
	_, _, _ = b.RetrieveVector(id) // warm the cache

	ok, err := b.UpdateVector(id, []float64{3, 4}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, found, err := b.RetrieveVector(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{3, 4}, entry.Vector, "cached entry must reflect the update, not the stale value")
}

func TestHybridBackendDeleteRemovesFromCacheAndDisk(t *testing.T) {
	b := newTestHybridBackend(t, 10)

	id := NewVectorID()
	_, _ = b.StoreVector(id, []float64{1}, nil)
	_, _, _ = b.RetrieveVector(id)

	ok, err := b.DeleteVector(id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, _ := b.RetrieveVector(id)
	assert.False(t, found)
}
