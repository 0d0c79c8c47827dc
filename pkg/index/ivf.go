package index

import (
	"log"
	"math/rand"
	"sort"
	"sync"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/orneryd/vecdb/pkg/vector"
)

// IVFIndex is an inverted-file index: vectors are partitioned into
// NumClusters Voronoi cells by k-means, and a search only examines the
// NumProbes cells whose centroids are nearest the query, ranking the
// union of their members exactly.
//
// IVFIndex trains lazily: the first NumClusters (or more) inserts are
// buffered, and training runs automatically once enough vectors have
// accumulated. Searching before training completes returns a
// KindNotTrainedOrBuilt error. GetStats recomputes cluster sizes on every
// call under the shared lock, so they reflect the last completed mutation.
//
// Thread Safety:
//
//	Shared lock for Search/GetStats, exclusive lock for Insert/Delete/
//	Update/training, held for the whole call including batch variants.
type IVFIndex struct {
	mu sync.RWMutex

	metric      vector.Metric
	cfg         config.IVFConfig
	dimensions  int
	rng         *rand.Rand
	initialized bool

	trained       bool
	centroids     [][]float64
	invertedLists [][]storage.VectorID
	clusterOf     map[storage.VectorID]int
	vectors       map[storage.VectorID][]float64

	// pending buffers inserts received before training has enough data.
	pending   []storage.VectorID
	pendingV  [][]float64
}

// NewIVFIndex constructs an IVFIndex from a validated IVFConfig.
func NewIVFIndex(cfg config.IVFConfig) (*IVFIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newIndexError(KindConfigError, "invalid ivf config", err)
	}
	metric, err := parseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = 1
	}
	return &IVFIndex{
		metric:    metric,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		clusterOf: make(map[storage.VectorID]int),
		vectors:   make(map[storage.VectorID][]float64),
	}, nil
}

func (iv *IVFIndex) Initialize(backend storage.Backend) error {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := rebuildFromBackend(backend, func(id storage.VectorID, vec []float64) error {
		_, err := iv.insertOneLocked(id, vec)
		return err
	}); err != nil {
		return err
	}

	// The full persisted corpus size is now known, so it's safe to train
	// even if it never reaches NumClusters.
	if err := iv.degradeTrainLocked(); err != nil {
		return err
	}

	iv.initialized = true
	return nil
}

func (iv *IVFIndex) checkInitialized() error {
	if !iv.initialized {
		return newIndexError(KindNotInitialized, "ivf index not initialized", nil)
	}
	return nil
}

func (iv *IVFIndex) checkDims(vec []float64) error {
	if iv.dimensions != 0 && len(vec) != iv.dimensions {
		return newIndexError(KindDimensionMismatch,
			"vector dimension does not match index dimensionality", vector.ErrDimensionMismatch)
	}
	return nil
}

// tryTrain attempts to train the index from buffered pending vectors plus
// anything already in iv.vectors, if there is at least NumClusters data
// points. Caller must hold iv.mu for writing.
func (iv *IVFIndex) tryTrain() error {
	if iv.trained {
		return nil
	}
	total := len(iv.pendingV)
	if total < iv.cfg.NumClusters {
		return nil
	}

	centroids := kmeansPlusPlusSeed(iv.pendingV, iv.cfg.NumClusters, iv.metric, iv.rng)
	centroids, assignments := lloyd(iv.pendingV, centroids, iv.cfg.MaxIterations, iv.cfg.ConvergenceThreshold, iv.metric, iv.rng)

	iv.centroids = centroids
	iv.invertedLists = make([][]storage.VectorID, iv.cfg.NumClusters)
	for i, id := range iv.pending {
		cluster := assignments[i]
		iv.invertedLists[cluster] = append(iv.invertedLists[cluster], id)
		iv.clusterOf[id] = cluster
		iv.vectors[id] = iv.pendingV[i]
	}
	iv.pending = nil
	iv.pendingV = nil
	iv.trained = true
	return nil
}

// degradeTrainLocked trains on whatever is buffered in pending, reducing
// NumClusters to the available count when the corpus never reached the
// configured cluster count. It is a no-op if the index is already trained
// or if there is nothing pending. Caller must hold iv.mu for writing.
func (iv *IVFIndex) degradeTrainLocked() error {
	if iv.trained || len(iv.pendingV) == 0 {
		return nil
	}
	if len(iv.pendingV) >= iv.cfg.NumClusters {
		return iv.tryTrain()
	}

	log.Printf("ivf: reducing num_clusters from %d to %d, training set too small", iv.cfg.NumClusters, len(iv.pendingV))
	iv.cfg.NumClusters = len(iv.pendingV)
	if iv.cfg.NumProbes > iv.cfg.NumClusters {
		iv.cfg.NumProbes = iv.cfg.NumClusters
	}
	return iv.tryTrain()
}

// insertOneLocked inserts a single (id, vec) pair, buffering it as pending
// training data if the index is not yet trained, or assigning it to its
// nearest cluster otherwise. Caller must hold iv.mu for writing.
func (iv *IVFIndex) insertOneLocked(id storage.VectorID, vec []float64) (bool, error) {
	if iv.dimensions == 0 {
		iv.dimensions = len(vec)
	}
	if err := iv.checkDims(vec); err != nil {
		return false, err
	}

	if _, existed := iv.clusterOf[id]; existed {
		return false, nil
	}
	for _, pid := range iv.pending {
		if pid == id {
			return false, nil
		}
	}

	if !iv.trained {
		iv.pending = append(iv.pending, id)
		iv.pendingV = append(iv.pendingV, vector.Copy(vec))
		if err := iv.tryTrain(); err != nil {
			return false, err
		}
		return true, nil
	}

	cluster, _ := nearestCentroid(vec, iv.centroids, iv.metric)
	iv.invertedLists[cluster] = append(iv.invertedLists[cluster], id)
	iv.clusterOf[id] = cluster
	iv.vectors[id] = vector.Copy(vec)
	return true, nil
}

// Build forces training now, reducing NumClusters to the available pending
// count (and logging a warning) if the buffered training set is smaller
// than configured. It is a no-op if the index is already trained.
func (iv *IVFIndex) Build() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := iv.checkInitialized(); err != nil {
		return err
	}
	return iv.degradeTrainLocked()
}

func (iv *IVFIndex) Insert(id storage.VectorID, vec []float64) (bool, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := iv.checkInitialized(); err != nil {
		return false, err
	}
	return iv.insertOneLocked(id, vec)
}

func (iv *IVFIndex) BatchInsert(ids []storage.VectorID, vecs [][]float64) ([]bool, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := iv.checkInitialized(); err != nil {
		return nil, err
	}
	results := make([]bool, len(ids))
	for i, id := range ids {
		isNew, err := iv.insertOneLocked(id, vecs[i])
		if err != nil {
			return nil, err
		}
		results[i] = isNew
	}
	return results, nil
}

func (iv *IVFIndex) removeFromList(id storage.VectorID, cluster int) {
	list := iv.invertedLists[cluster]
	for i, lid := range list {
		if lid == id {
			iv.invertedLists[cluster] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (iv *IVFIndex) Delete(id storage.VectorID) (bool, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := iv.checkInitialized(); err != nil {
		return false, err
	}

	if cluster, ok := iv.clusterOf[id]; ok {
		iv.removeFromList(id, cluster)
		delete(iv.clusterOf, id)
		delete(iv.vectors, id)
		return true, nil
	}
	for i, pid := range iv.pending {
		if pid == id {
			iv.pending = append(iv.pending[:i], iv.pending[i+1:]...)
			iv.pendingV = append(iv.pendingV[:i], iv.pendingV[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (iv *IVFIndex) Update(id storage.VectorID, vec []float64) (bool, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := iv.checkInitialized(); err != nil {
		return false, err
	}
	if err := iv.checkDims(vec); err != nil {
		return false, err
	}

	if oldCluster, ok := iv.clusterOf[id]; ok {
		iv.removeFromList(id, oldCluster)
		newCluster, _ := nearestCentroid(vec, iv.centroids, iv.metric)
		iv.invertedLists[newCluster] = append(iv.invertedLists[newCluster], id)
		iv.clusterOf[id] = newCluster
		iv.vectors[id] = vector.Copy(vec)
		return true, nil
	}
	for i, pid := range iv.pending {
		if pid == id {
			iv.pendingV[i] = vector.Copy(vec)
			return true, nil
		}
	}
	return false, nil
}

func (iv *IVFIndex) Search(query []float64, k int) ([]storage.SearchResult, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	if err := iv.checkInitialized(); err != nil {
		return nil, err
	}
	if !iv.trained {
		return nil, newIndexError(KindNotTrainedOrBuilt, "ivf index has not been trained yet", nil)
	}
	if err := iv.checkDims(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	type centroidDist struct {
		cluster int
		dist    float64
	}
	dists := make([]centroidDist, len(iv.centroids))
	for c, centroid := range iv.centroids {
		d, _ := vector.Distance(iv.metric, query, centroid)
		dists[c] = centroidDist{c, d}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	probes := iv.cfg.NumProbes
	if probes > len(dists) {
		probes = len(dists)
	}

	var candidates []storage.SearchResult
	for p := 0; p < probes; p++ {
		cluster := dists[p].cluster
		for _, id := range iv.invertedLists[cluster] {
			d, err := vector.Distance(iv.metric, query, iv.vectors[id])
			if err != nil {
				return nil, newIndexError(KindDimensionMismatch, "distance computation failed", err)
			}
			candidates = append(candidates, storage.SearchResult{ID: id, Distance: d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (iv *IVFIndex) BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error) {
	out := make([][]storage.SearchResult, len(queries))
	for i, q := range queries {
		res, err := iv.Search(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (iv *IVFIndex) GetStats() map[string]any {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	sizes := make([]int, len(iv.invertedLists))
	for i, list := range iv.invertedLists {
		sizes[i] = len(list)
	}
	return map[string]any{
		"type":         "ivf",
		"count":        len(iv.clusterOf) + len(iv.pending),
		"dimensions":   iv.dimensions,
		"metric":       iv.metric.String(),
		"initialized":  iv.initialized,
		"trained":      iv.trained,
		"num_clusters": iv.cfg.NumClusters,
		"num_probes":   iv.cfg.NumProbes,
		"cluster_sizes": sizes,
		"pending":      len(iv.pending),
	}
}

func (iv *IVFIndex) Close() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.centroids = nil
	iv.invertedLists = nil
	iv.clusterOf = nil
	iv.vectors = nil
	return nil
}
