package index

import (
	"fmt"
	"testing"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSWIndex(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(config.HNSWConfig{
		Metric:         "euclidean",
		M:              4,
		EfConstruction: 20,
		EfSearch:       20,
		MaxLevels:      4,
		RandomSeed:     7,
	})
	require.NoError(t, err)
	require.NoError(t, idx.Initialize(nil))
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestNewHNSWIndexRejectsManhattan(t *testing.T) {
	_, err := NewHNSWIndex(config.HNSWConfig{
		Metric: "manhattan", M: 4, EfConstruction: 10, EfSearch: 10, MaxLevels: 4,
	})
	require.Error(t, err)
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindConfigError, ierr.Kind)
}

func TestHNSWIndexInsertAndSearchFindsNearest(t *testing.T) {
	idx := newTestHNSWIndex(t)

	for i := 0; i < 30; i++ {
		id := storage.VectorID(fmt.Sprintf("v%d", i))
		_, err := idx.Insert(id, []float64{float64(i), float64(i)})
		require.NoError(t, err)
	}

	results, err := idx.Search([]float64{15, 15}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, storage.VectorID("v15"), results[0].ID)
}

func TestHNSWIndexSearchEmptyIndexReturnsNothing(t *testing.T) {
	idx := newTestHNSWIndex(t)
	results, err := idx.Search([]float64{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWIndexDeleteRemovesFromGraph(t *testing.T) {
	idx := newTestHNSWIndex(t)
	for i := 0; i < 10; i++ {
		_, err := idx.Insert(storage.VectorID(fmt.Sprintf("v%d", i)), []float64{float64(i), 0})
		require.NoError(t, err)
	}

	ok, err := idx.Delete("v5")
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := idx.Search([]float64{5, 0}, 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, storage.VectorID("v5"), r.ID)
	}

	ok, err = idx.Delete("v5")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHNSWIndexUpdateReplacesVector(t *testing.T) {
	idx := newTestHNSWIndex(t)
	for i := 0; i < 10; i++ {
		_, err := idx.Insert(storage.VectorID(fmt.Sprintf("v%d", i)), []float64{float64(i), 0})
		require.NoError(t, err)
	}

	ok, err := idx.Update("v0", []float64{9, 0})
	require.NoError(t, err)
	require.True(t, ok)

	results, err := idx.Search([]float64{9, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, storage.VectorID("v0"), results[0].ID)

	ok, err = idx.Update("missing", []float64{1, 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHNSWIndexGetStatsReportsConstructionMode(t *testing.T) {
	idx := newTestHNSWIndex(t)
	_, _ = idx.Insert("a", []float64{1, 2})

	stats := idx.GetStats()
	assert.Equal(t, "hnsw", stats["type"])
	assert.Equal(t, "naive-all-resident", stats["construction"])
}

func TestHNSWIndexDeterministicWithSeed(t *testing.T) {
	build := func() *HNSWIndex {
		idx, err := NewHNSWIndex(config.HNSWConfig{
			Metric: "cosine", M: 4, EfConstruction: 10, EfSearch: 10, MaxLevels: 4, RandomSeed: 99,
		})
		require.NoError(t, err)
		require.NoError(t, idx.Initialize(nil))
		for i := 0; i < 15; i++ {
			_, _ = idx.Insert(storage.VectorID(fmt.Sprintf("v%d", i)), []float64{float64(i), float64(i % 3)})
		}
		return idx
	}

	a, b := build(), build()
	statsA, statsB := a.GetStats(), b.GetStats()
	assert.Equal(t, statsA["max_level"], statsB["max_level"], "same seed must produce the same level assignment")
}
