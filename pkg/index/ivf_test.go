package index

import (
	"fmt"
	"testing"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIVFIndex(t *testing.T, numClusters, numProbes int) *IVFIndex {
	t.Helper()
	idx, err := NewIVFIndex(config.IVFConfig{
		Metric:               "euclidean",
		NumClusters:          numClusters,
		NumProbes:            numProbes,
		MaxIterations:        20,
		ConvergenceThreshold: 1e-6,
		RandomSeed:           42,
	})
	require.NoError(t, err)
	require.NoError(t, idx.Initialize(nil))
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIVFIndexSearchBeforeTrainedFails(t *testing.T) {
	idx := newTestIVFIndex(t, 4, 2)
	_, err := idx.Insert("a", []float64{1, 2})
	require.NoError(t, err)

	_, err = idx.Search([]float64{1, 2}, 1)
	require.Error(t, err)
	var ierr *IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, KindNotTrainedOrBuilt, ierr.Kind)
}

func TestIVFIndexAutoTrainsOnEnoughData(t *testing.T) {
	idx := newTestIVFIndex(t, 3, 2)

	// Three well-separated clusters in 2D, inserted round-robin so the first
	// NumClusters inserts (the auto-training set) cover all three clusters.
	clusterCenters := [][]float64{{0, 0}, {50, 50}, {-50, 50}}
	var ids []storage.VectorID
	for i := 0; i < 4; i++ {
		for c, center := range clusterCenters {
			id := storage.VectorID(fmt.Sprintf("c%d-%d", c, i))
			vec := []float64{center[0] + float64(i), center[1] + float64(i)}
			_, err := idx.Insert(id, vec)
			require.NoError(t, err)
			ids = append(ids, id)
		}
	}

	stats := idx.GetStats()
	assert.Equal(t, true, stats["trained"])

	results, err := idx.Search([]float64{0, 0}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	// Nearest neighbors of (0,0) should come from the c0 cluster.
	for _, r := range results {
		assert.Contains(t, string(r.ID), "c0-")
	}
}

func TestIVFIndexUpdateMovesClusterMembership(t *testing.T) {
	idx := newTestIVFIndex(t, 2, 2)

	for i := 0; i < 6; i++ {
		center := []float64{0, 0}
		if i%2 == 1 {
			center = []float64{100, 100}
		}
		_, err := idx.Insert(storage.VectorID(fmt.Sprintf("v%d", i)), []float64{center[0] + float64(i), center[1]})
		require.NoError(t, err)
	}

	ok, err := idx.Update("v0", []float64{100, 100})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idx.Update("missing", []float64{1, 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIVFIndexDeleteBeforeAndAfterTraining(t *testing.T) {
	idx := newTestIVFIndex(t, 4, 2)

	_, err := idx.Insert("pending-a", []float64{1, 1})
	require.NoError(t, err)

	ok, err := idx.Delete("pending-a")
	require.NoError(t, err)
	assert.True(t, ok, "must be able to delete a vector still in the pending buffer")

	ok, err = idx.Delete("never-existed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIVFIndexRejectsNumProbesExceedingClusters(t *testing.T) {
	_, err := NewIVFIndex(config.IVFConfig{
		Metric: "cosine", NumClusters: 2, NumProbes: 5, MaxIterations: 5, ConvergenceThreshold: 1e-4,
	})
	require.Error(t, err)
}

func TestIVFIndexBuildDegradesNumClustersWhenCorpusIsSmall(t *testing.T) {
	idx := newTestIVFIndex(t, 10, 4)

	for i := 0; i < 3; i++ {
		_, err := idx.Insert(storage.VectorID(fmt.Sprintf("v%d", i)), []float64{float64(i), float64(i)})
		require.NoError(t, err)
	}

	stats := idx.GetStats()
	assert.Equal(t, false, stats["trained"], "corpus below num_clusters must not auto-train")

	require.NoError(t, idx.Build())

	stats = idx.GetStats()
	assert.Equal(t, true, stats["trained"])
	assert.Equal(t, 3, stats["num_clusters"], "num_clusters must be reduced to the available training set size")

	results, err := idx.Search([]float64{0, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestIVFIndexInitializeTrainsSmallPersistedCorpus(t *testing.T) {
	backend := storage.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })

	for i := 0; i < 2; i++ {
		_, err := backend.StoreVector(storage.VectorID(fmt.Sprintf("v%d", i)), []float64{float64(i), float64(i)}, nil)
		require.NoError(t, err)
	}

	idx, err := NewIVFIndex(config.IVFConfig{
		Metric:               "euclidean",
		NumClusters:          5,
		NumProbes:            2,
		MaxIterations:        20,
		ConvergenceThreshold: 1e-6,
		RandomSeed:           42,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, idx.Initialize(backend))

	stats := idx.GetStats()
	assert.Equal(t, true, stats["trained"])
	assert.Equal(t, 2, stats["num_clusters"])

	results, err := idx.Search([]float64{0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
