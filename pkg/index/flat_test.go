package index

import (
	"testing"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlatIndex(t *testing.T) *FlatIndex {
	t.Helper()
	idx, err := NewFlatIndex(config.FlatConfig{Metric: "euclidean"})
	require.NoError(t, err)
	require.NoError(t, idx.Initialize(nil))
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestFlatIndexRejectsUnsupportedMetric(t *testing.T) {
	_, err := NewFlatIndex(config.FlatConfig{Metric: "bogus"})
	require.Error(t, err)
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
}

func TestFlatIndexSearchBeforeInitialize(t *testing.T) {
	idx, err := NewFlatIndex(config.FlatConfig{Metric: "cosine"})
	require.NoError(t, err)

	_, err = idx.Search([]float64{1, 2}, 3)
	require.Error(t, err)
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindNotInitialized, ierr.Kind)
}

func TestFlatIndexExactNearestNeighbors(t *testing.T) {
	idx := newTestFlatIndex(t)

	points := map[storage.VectorID][]float64{
		"origin": {0, 0},
		"near":   {1, 0},
		"far":    {10, 10},
		"mid":    {3, 4},
	}
	for id, vec := range points {
		_, err := idx.Insert(id, vec)
		require.NoError(t, err)
	}

	results, err := idx.Search([]float64{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, storage.VectorID("origin"), results[0].ID)
	assert.Equal(t, storage.VectorID("near"), results[1].ID)
}

func TestFlatIndexDimensionMismatch(t *testing.T) {
	idx := newTestFlatIndex(t)
	_, err := idx.Insert("a", []float64{1, 2, 3})
	require.NoError(t, err)

	_, err = idx.Insert("b", []float64{1, 2})
	require.Error(t, err)
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindDimensionMismatch, ierr.Kind)
}

func TestFlatIndexInsertReportsNewness(t *testing.T) {
	idx := newTestFlatIndex(t)

	isNew, err := idx.Insert("a", []float64{1, 2})
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = idx.Insert("a", []float64{3, 4})
	require.NoError(t, err)
	assert.False(t, isNew, "re-inserting an existing id must report false")
}

func TestFlatIndexUpdateAndDelete(t *testing.T) {
	idx := newTestFlatIndex(t)
	_, _ = idx.Insert("a", []float64{1, 2})

	ok, err := idx.Update("a", []float64{9, 9})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idx.Update("missing", []float64{1, 2})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = idx.Delete("a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idx.Delete("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlatIndexBatchInsertAndSearch(t *testing.T) {
	idx := newTestFlatIndex(t)

	ids := []storage.VectorID{"a", "b", "c"}
	vecs := [][]float64{{0, 0}, {1, 1}, {5, 5}}
	results, err := idx.BatchInsert(ids, vecs)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, results)

	batchResults, err := idx.BatchSearch([][]float64{{0, 0}, {5, 5}}, 1)
	require.NoError(t, err)
	require.Len(t, batchResults, 2)
	assert.Equal(t, storage.VectorID("a"), batchResults[0][0].ID)
	assert.Equal(t, storage.VectorID("c"), batchResults[1][0].ID)
}

func TestFlatIndexGetStats(t *testing.T) {
	idx := newTestFlatIndex(t)
	_, _ = idx.Insert("a", []float64{1, 2})

	stats := idx.GetStats()
	assert.Equal(t, "flat", stats["type"])
	assert.Equal(t, 1, stats["count"])
	assert.Equal(t, true, stats["initialized"])
}
