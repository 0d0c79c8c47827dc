package index

import (
	"container/heap"
	"sync"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/pool"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/orneryd/vecdb/pkg/vector"
)

// FlatIndex performs exact brute-force nearest-neighbor search: every
// Search scans every resident vector and keeps the k closest. There is no
// approximation, so recall is always 1.0, at the cost of O(n) query time.
//
// Use FlatIndex as a correctness baseline, or for small enough collections
// that O(n) search is not a bottleneck.
//
// Thread Safety:
//
//	Reads (Search, GetStats) take a shared lock; writes (Insert, Delete,
//	Update) take an exclusive lock for the full duration of the call,
//	including batch variants, which hold the lock across the entire batch.
type FlatIndex struct {
	mu sync.RWMutex

	metric     vector.Metric
	dimensions int
	vectors    map[storage.VectorID][]float64
	initialized bool
}

// NewFlatIndex constructs a FlatIndex from a validated FlatConfig.
func NewFlatIndex(cfg config.FlatConfig) (*FlatIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newIndexError(KindConfigError, "invalid flat config", err)
	}
	metric, err := parseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return &FlatIndex{
		metric:  metric,
		vectors: make(map[storage.VectorID][]float64),
	}, nil
}

func (f *FlatIndex) Initialize(backend storage.Backend) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := rebuildFromBackend(backend, func(id storage.VectorID, vec []float64) error {
		if f.dimensions == 0 {
			f.dimensions = len(vec)
		}
		if err := f.checkDims(vec); err != nil {
			return err
		}
		f.vectors[id] = vector.Copy(vec)
		return nil
	}); err != nil {
		return err
	}

	f.initialized = true
	return nil
}

func (f *FlatIndex) checkInitialized() error {
	if !f.initialized {
		return newIndexError(KindNotInitialized, "flat index not initialized", nil)
	}
	return nil
}

func (f *FlatIndex) checkDims(vec []float64) error {
	if f.dimensions != 0 && len(vec) != f.dimensions {
		return newIndexError(KindDimensionMismatch,
			"vector dimension does not match index dimensionality", vector.ErrDimensionMismatch)
	}
	return nil
}

func (f *FlatIndex) Insert(id storage.VectorID, vec []float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkInitialized(); err != nil {
		return false, err
	}
	if f.dimensions == 0 {
		f.dimensions = len(vec)
	}
	if err := f.checkDims(vec); err != nil {
		return false, err
	}

	_, existed := f.vectors[id]
	f.vectors[id] = vector.Copy(vec)
	return !existed, nil
}

func (f *FlatIndex) BatchInsert(ids []storage.VectorID, vecs [][]float64) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkInitialized(); err != nil {
		return nil, err
	}
	results := make([]bool, len(ids))
	for i, id := range ids {
		vec := vecs[i]
		if f.dimensions == 0 {
			f.dimensions = len(vec)
		}
		if err := f.checkDims(vec); err != nil {
			return nil, err
		}
		_, existed := f.vectors[id]
		f.vectors[id] = vector.Copy(vec)
		results[i] = !existed
	}
	return results, nil
}

func (f *FlatIndex) Delete(id storage.VectorID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkInitialized(); err != nil {
		return false, err
	}
	_, existed := f.vectors[id]
	delete(f.vectors, id)
	return existed, nil
}

func (f *FlatIndex) Update(id storage.VectorID, vec []float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkInitialized(); err != nil {
		return false, err
	}
	if _, existed := f.vectors[id]; !existed {
		return false, nil
	}
	if err := f.checkDims(vec); err != nil {
		return false, err
	}
	f.vectors[id] = vector.Copy(vec)
	return true, nil
}

// candidateHeap is a bounded max-heap keyed by distance: the worst
// (largest-distance) candidate sits at the root, so it's O(log k) to evict
// when a better candidate arrives.
type candidateHeap []storage.SearchResult

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(storage.SearchResult)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (f *FlatIndex) Search(query []float64, k int) ([]storage.SearchResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.checkInitialized(); err != nil {
		return nil, err
	}
	if err := f.checkDims(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	h := &candidateHeap{}
	heap.Init(h)

	for id, vec := range f.vectors {
		dist, err := vector.Distance(f.metric, query, vec)
		if err != nil {
			return nil, newIndexError(KindDimensionMismatch, "distance computation failed", err)
		}
		if h.Len() < k {
			heap.Push(h, storage.SearchResult{ID: id, Distance: dist})
		} else if dist < (*h)[0].Distance {
			heap.Pop(h)
			heap.Push(h, storage.SearchResult{ID: id, Distance: dist})
		}
	}

	results := pool.GetResultSlice()
	for h.Len() > 0 {
		results = append(results, heap.Pop(h).(storage.SearchResult))
	}
	// Heap pops worst-first; reverse to return nearest-first.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	out := make([]storage.SearchResult, len(results))
	copy(out, results)
	pool.PutResultSlice(results)
	return out, nil
}

func (f *FlatIndex) BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error) {
	out := make([][]storage.SearchResult, len(queries))
	for i, q := range queries {
		res, err := f.Search(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (f *FlatIndex) GetStats() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]any{
		"type":        "flat",
		"count":       len(f.vectors),
		"dimensions":  f.dimensions,
		"metric":      f.metric.String(),
		"initialized": f.initialized,
	}
}

func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = nil
	return nil
}
