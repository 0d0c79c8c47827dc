package index

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/orneryd/vecdb/pkg/vector"
)

// lshTable is one hash table: a set of hyperplanes (cosine/dot) or
// projection vectors plus offsets (euclidean), and the buckets they
// produce.
type lshTable struct {
	hyperplanes [][]float64 // cosine/dot: one per hash bit
	projections [][]float64 // euclidean: one per hash function
	offsets     []float64   // euclidean: per-projection random offset in [0, bucketWidth)
	buckets     map[string][]storage.VectorID
}

// LSHIndex groups vectors into buckets via locality-sensitive hashing: the
// cosine and dot metrics use sign-random-projection (bucket = sign of the
// dot product against NumHashBits random hyperplanes); the euclidean metric
// uses p-stable random-projection hashing quantized by BucketWidth. A search
// only ranks vectors sharing at least one bucket with the query across any
// of the NumTables tables, which are searched independently and merged.
//
// A side map from id to its per-table bucket keys makes deletion
// O(NumTables) instead of a full bucket scan.
//
// Updating a vector to nil leaves its bucket membership untouched and only
// replaces metadata elsewhere (see pkg/client); Update on the index itself
// always expects a non-nil vector and recomputes bucket membership.
//
// Thread Safety:
//
//	Shared lock for Search/GetStats, exclusive lock for Insert/Delete/
//	Update, held for the whole call.
type LSHIndex struct {
	mu sync.RWMutex

	metric     vector.Metric
	cfg        config.LSHConfig
	dimensions int
	rng        *rand.Rand

	initialized bool
	tables      []*lshTable
	vectors     map[storage.VectorID][]float64
	bucketKeys  map[storage.VectorID][]string // per-table bucket key, index-aligned with tables
}

// NewLSHIndex constructs an LSHIndex from a validated LSHConfig.
func NewLSHIndex(cfg config.LSHConfig) (*LSHIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newIndexError(KindConfigError, "invalid lsh config", err)
	}
	metric, err := parseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = 1
	}
	return &LSHIndex{
		metric:     metric,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(seed)),
		vectors:    make(map[storage.VectorID][]float64),
		bucketKeys: make(map[storage.VectorID][]string),
	}, nil
}

func (l *LSHIndex) Initialize(backend storage.Backend) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := rebuildFromBackend(backend, func(id storage.VectorID, vec []float64) error {
		if l.dimensions == 0 {
			l.dimensions = len(vec)
			l.ensureTables(l.dimensions)
		}
		if err := l.checkDims(vec); err != nil {
			return err
		}
		if _, existed := l.vectors[id]; existed {
			return nil
		}
		l.insertLocked(id, vec)
		return nil
	}); err != nil {
		return err
	}

	l.initialized = true
	return nil
}

func (l *LSHIndex) checkInitialized() error {
	if !l.initialized {
		return newIndexError(KindNotInitialized, "lsh index not initialized", nil)
	}
	return nil
}

func (l *LSHIndex) checkDims(vec []float64) error {
	if l.dimensions != 0 && len(vec) != l.dimensions {
		return newIndexError(KindDimensionMismatch,
			"vector dimension does not match index dimensionality", vector.ErrDimensionMismatch)
	}
	return nil
}

// ensureTables lazily builds the random hyperplanes/projections once the
// vector dimensionality is known (first insert).
func (l *LSHIndex) ensureTables(dim int) {
	if l.tables != nil {
		return
	}
	l.tables = make([]*lshTable, l.cfg.NumTables)
	for t := 0; t < l.cfg.NumTables; t++ {
		table := &lshTable{buckets: make(map[string][]storage.VectorID)}
		if l.metric == vector.Euclidean {
			table.projections = make([][]float64, l.cfg.NumHashBits)
			table.offsets = make([]float64, l.cfg.NumHashBits)
			for i := 0; i < l.cfg.NumHashBits; i++ {
				proj := make([]float64, dim)
				for d := 0; d < dim; d++ {
					proj[d] = l.rng.NormFloat64()
				}
				table.projections[i] = proj
				table.offsets[i] = l.rng.Float64() * l.cfg.BucketWidth
			}
		} else {
			table.hyperplanes = make([][]float64, l.cfg.NumHashBits)
			for i := 0; i < l.cfg.NumHashBits; i++ {
				plane := make([]float64, dim)
				for d := 0; d < dim; d++ {
					plane[d] = l.rng.NormFloat64()
				}
				table.hyperplanes[i] = plane
			}
		}
		l.tables[t] = table
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func (l *LSHIndex) hashKey(table *lshTable, vec []float64) string {
	var sb strings.Builder
	if l.metric == vector.Euclidean {
		for i, proj := range table.projections {
			h := int64(math.Floor((dot(proj, vec) + table.offsets[i]) / l.cfg.BucketWidth))
			fmt.Fprintf(&sb, "%d,", h)
		}
	} else {
		for _, plane := range table.hyperplanes {
			if dot(plane, vec) >= 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

func (l *LSHIndex) insertLocked(id storage.VectorID, vec []float64) {
	keys := make([]string, len(l.tables))
	for t, table := range l.tables {
		key := l.hashKey(table, vec)
		table.buckets[key] = append(table.buckets[key], id)
		keys[t] = key
	}
	l.vectors[id] = vector.Copy(vec)
	l.bucketKeys[id] = keys
}

func (l *LSHIndex) removeLocked(id storage.VectorID) {
	keys, ok := l.bucketKeys[id]
	if !ok {
		return
	}
	for t, key := range keys {
		bucket := l.tables[t].buckets[key]
		for i, bid := range bucket {
			if bid == id {
				l.tables[t].buckets[key] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
	}
	delete(l.vectors, id)
	delete(l.bucketKeys, id)
}

func (l *LSHIndex) Insert(id storage.VectorID, vec []float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkInitialized(); err != nil {
		return false, err
	}
	if l.dimensions == 0 {
		l.dimensions = len(vec)
		l.ensureTables(l.dimensions)
	}
	if err := l.checkDims(vec); err != nil {
		return false, err
	}
	if _, existed := l.vectors[id]; existed {
		return false, nil
	}
	l.insertLocked(id, vec)
	return true, nil
}

func (l *LSHIndex) BatchInsert(ids []storage.VectorID, vecs [][]float64) ([]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkInitialized(); err != nil {
		return nil, err
	}
	results := make([]bool, len(ids))
	for i, id := range ids {
		vec := vecs[i]
		if l.dimensions == 0 {
			l.dimensions = len(vec)
			l.ensureTables(l.dimensions)
		}
		if err := l.checkDims(vec); err != nil {
			return nil, err
		}
		if _, existed := l.vectors[id]; existed {
			results[i] = false
			continue
		}
		l.insertLocked(id, vec)
		results[i] = true
	}
	return results, nil
}

func (l *LSHIndex) Delete(id storage.VectorID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkInitialized(); err != nil {
		return false, err
	}
	if _, existed := l.vectors[id]; !existed {
		return false, nil
	}
	l.removeLocked(id)
	return true, nil
}

// Update recomputes bucket membership from the new vector. A nil vector is
// rejected here — metadata-only updates that must preserve bucket
// membership are handled by pkg/client before reaching the index.
func (l *LSHIndex) Update(id storage.VectorID, vec []float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkInitialized(); err != nil {
		return false, err
	}
	if vec == nil {
		return false, newIndexError(KindDimensionMismatch, "lsh update requires a non-nil vector", nil)
	}
	if err := l.checkDims(vec); err != nil {
		return false, err
	}
	if _, existed := l.vectors[id]; !existed {
		return false, nil
	}
	l.removeLocked(id)
	l.insertLocked(id, vec)
	return true, nil
}

func (l *LSHIndex) Search(query []float64, k int) ([]storage.SearchResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.checkInitialized(); err != nil {
		return nil, err
	}
	if err := l.checkDims(query); err != nil {
		return nil, err
	}
	if k <= 0 || l.tables == nil {
		return nil, nil
	}

	seen := make(map[storage.VectorID]bool)
	var candidates []storage.SearchResult
	for _, table := range l.tables {
		key := l.hashKey(table, query)
		for _, id := range table.buckets[key] {
			if seen[id] {
				continue
			}
			seen[id] = true
			d, err := vector.Distance(l.metric, query, l.vectors[id])
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

func (l *LSHIndex) BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error) {
	out := make([][]storage.SearchResult, len(queries))
	for i, q := range queries {
		res, err := l.Search(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (l *LSHIndex) GetStats() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bucketCounts := make([]int, len(l.tables))
	for i, table := range l.tables {
		bucketCounts[i] = len(table.buckets)
	}
	return map[string]any{
		"type":           "lsh",
		"count":          len(l.vectors),
		"dimensions":     l.dimensions,
		"metric":         l.metric.String(),
		"initialized":    l.initialized,
		"num_tables":     l.cfg.NumTables,
		"num_hash_bits":  l.cfg.NumHashBits,
		"bucket_counts":  bucketCounts,
	}
}

func (l *LSHIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables = nil
	l.vectors = nil
	l.bucketKeys = nil
	return nil
}
