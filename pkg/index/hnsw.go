package index

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/orneryd/vecdb/pkg/vector"
)

// hnswNode is one resident vector plus its per-layer neighbor lists.
type hnswNode struct {
	id        storage.VectorID
	vec       []float64
	level     int
	neighbors [][]storage.VectorID // neighbors[l] for l in [0, level]
}

// HNSWIndex is a hierarchical navigable small world graph: vectors are
// inserted with a randomly assigned level, and connected to their M nearest
// already-resident neighbors at each level they participate in. Search
// descends from the top layer to layer 0, greedily following edges toward
// the query.
//
// Construction here is "naive-all-resident": the M nearest neighbors to
// connect a new node to are found by scanning every resident node at that
// level, rather than maintaining the candidate-list machinery a
// from-scratch HNSW build normally would. This keeps the implementation
// correct and simple at the cost of O(n) insert time; it does not change
// search behavior or recall characteristics of the resulting graph. GetStats
// reports this as "construction": "naive-all-resident".
//
// Thread Safety:
//
//	Shared lock for Search/GetStats, exclusive lock for Insert/Delete/
//	Update, held for the whole call.
type HNSWIndex struct {
	mu sync.RWMutex

	metric     vector.Metric
	cfg        config.HNSWConfig
	dimensions int
	rng        *rand.Rand

	initialized bool
	nodes       map[storage.VectorID]*hnswNode
	entryPoint  storage.VectorID
	maxLevel    int
}

// NewHNSWIndex constructs an HNSWIndex from a validated HNSWConfig.
func NewHNSWIndex(cfg config.HNSWConfig) (*HNSWIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newIndexError(KindConfigError, "invalid hnsw config", err)
	}
	metric, err := parseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &HNSWIndex{
		metric:   metric,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		nodes:    make(map[storage.VectorID]*hnswNode),
		maxLevel: -1,
	}, nil
}

func (h *HNSWIndex) Initialize(backend storage.Backend) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := rebuildFromBackend(backend, func(id storage.VectorID, vec []float64) error {
		if h.dimensions == 0 {
			h.dimensions = len(vec)
		}
		if err := h.checkDims(vec); err != nil {
			return err
		}
		if _, existed := h.nodes[id]; existed {
			return nil
		}
		h.insertLocked(id, vec)
		return nil
	}); err != nil {
		return err
	}

	h.initialized = true
	return nil
}

func (h *HNSWIndex) checkInitialized() error {
	if !h.initialized {
		return newIndexError(KindNotInitialized, "hnsw index not initialized", nil)
	}
	return nil
}

func (h *HNSWIndex) checkDims(vec []float64) error {
	if h.dimensions != 0 && len(vec) != h.dimensions {
		return newIndexError(KindDimensionMismatch,
			"vector dimension does not match index dimensionality", vector.ErrDimensionMismatch)
	}
	return nil
}

// randomLevel assigns a level by repeated coin flips, capped so the graph
// never exceeds MaxLevels-1.
func (h *HNSWIndex) randomLevel() int {
	level := 0
	for h.rng.Float64() < 0.5 && level < h.cfg.MaxLevels-1 {
		level++
	}
	return level
}

func (h *HNSWIndex) dist(a, b []float64) float64 {
	d, _ := vector.Distance(h.metric, a, b)
	return d
}

// nearestAtLevel scans every resident node present at level l and returns
// up to m nearest to vec, excluding excludeID.
func (h *HNSWIndex) nearestAtLevel(vec []float64, level, m int, excludeID storage.VectorID) []storage.VectorID {
	type cand struct {
		id   storage.VectorID
		dist float64
	}
	var candidates []cand
	for id, node := range h.nodes {
		if id == excludeID || node.level < level {
			continue
		}
		candidates = append(candidates, cand{id, h.dist(vec, node.vec)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	ids := make([]storage.VectorID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

func (h *HNSWIndex) connect(id storage.VectorID, node *hnswNode) {
	for level := 0; level <= node.level; level++ {
		neighbors := h.nearestAtLevel(node.vec, level, h.cfg.M, id)
		node.neighbors[level] = neighbors
		for _, nid := range neighbors {
			other := h.nodes[nid]
			other.neighbors[level] = append(other.neighbors[level], id)
			if len(other.neighbors[level]) > h.cfg.M {
				// Trim to the M nearest, re-scoring against other's own vector.
				type cand struct {
					id   storage.VectorID
					dist float64
				}
				cands := make([]cand, 0, len(other.neighbors[level]))
				for _, oid := range other.neighbors[level] {
					cands = append(cands, cand{oid, h.dist(other.vec, h.nodes[oid].vec)})
				}
				sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
				trimmed := make([]storage.VectorID, 0, h.cfg.M)
				for i := 0; i < h.cfg.M && i < len(cands); i++ {
					trimmed = append(trimmed, cands[i].id)
				}
				other.neighbors[level] = trimmed
			}
		}
	}
}

func (h *HNSWIndex) insertLocked(id storage.VectorID, vec []float64) {
	level := h.randomLevel()
	node := &hnswNode{
		id:        id,
		vec:       vector.Copy(vec),
		level:     level,
		neighbors: make([][]storage.VectorID, level+1),
	}
	h.nodes[id] = node
	h.connect(id, node)
	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = id
	}
	if h.entryPoint == "" {
		h.entryPoint = id
	}
}

func (h *HNSWIndex) Insert(id storage.VectorID, vec []float64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkInitialized(); err != nil {
		return false, err
	}
	if h.dimensions == 0 {
		h.dimensions = len(vec)
	}
	if err := h.checkDims(vec); err != nil {
		return false, err
	}

	if _, existed := h.nodes[id]; existed {
		return false, nil
	}
	h.insertLocked(id, vec)
	return true, nil
}

func (h *HNSWIndex) BatchInsert(ids []storage.VectorID, vecs [][]float64) ([]bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkInitialized(); err != nil {
		return nil, err
	}
	results := make([]bool, len(ids))
	for i, id := range ids {
		vec := vecs[i]
		if h.dimensions == 0 {
			h.dimensions = len(vec)
		}
		if err := h.checkDims(vec); err != nil {
			return nil, err
		}
		if _, existed := h.nodes[id]; existed {
			results[i] = false
			continue
		}
		h.insertLocked(id, vec)
		results[i] = true
	}
	return results, nil
}

// removeLocked detaches id from every neighbor's adjacency list and deletes
// its node. If id was the entry point, a new one is picked arbitrarily.
func (h *HNSWIndex) removeLocked(id storage.VectorID) {
	node, ok := h.nodes[id]
	if !ok {
		return
	}
	for level := 0; level <= node.level; level++ {
		for _, nid := range node.neighbors[level] {
			other, ok := h.nodes[nid]
			if !ok {
				continue
			}
			filtered := other.neighbors[level][:0]
			for _, oid := range other.neighbors[level] {
				if oid != id {
					filtered = append(filtered, oid)
				}
			}
			other.neighbors[level] = filtered
		}
	}
	delete(h.nodes, id)

	if h.entryPoint == id {
		h.entryPoint = ""
		h.maxLevel = -1
		for nid, n := range h.nodes {
			if n.level > h.maxLevel {
				h.maxLevel = n.level
				h.entryPoint = nid
			}
		}
	}
}

func (h *HNSWIndex) Delete(id storage.VectorID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkInitialized(); err != nil {
		return false, err
	}
	if _, existed := h.nodes[id]; !existed {
		return false, nil
	}
	h.removeLocked(id)
	return true, nil
}

// Update removes and reinserts id at a freshly assigned level; HNSW graphs
// are not designed for in-place vector mutation, so this is simpler and
// no less correct than trying to patch existing edges.
func (h *HNSWIndex) Update(id storage.VectorID, vec []float64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkInitialized(); err != nil {
		return false, err
	}
	if err := h.checkDims(vec); err != nil {
		return false, err
	}
	if _, existed := h.nodes[id]; !existed {
		return false, nil
	}
	h.removeLocked(id)
	h.insertLocked(id, vec)
	return true, nil
}

// searchLayer performs a best-first walk at a single level starting from
// entry, keeping the ef closest candidates seen so far and expanding their
// neighbors until none of them has an unvisited neighbor left.
func (h *HNSWIndex) searchLayer(query []float64, entry storage.VectorID, ef, level int) []storage.VectorID {
	visited := map[storage.VectorID]bool{entry: true}
	type cand struct {
		id   storage.VectorID
		dist float64
	}
	candidates := []cand{{entry, h.dist(query, h.nodes[entry].vec)}}
	best := candidates

	improved := true
	for improved {
		improved = false
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
		for _, c := range candidates {
			node := h.nodes[c.id]
			if level > node.level {
				continue
			}
			for _, nid := range node.neighbors[level] {
				if visited[nid] {
					continue
				}
				visited[nid] = true
				d := h.dist(query, h.nodes[nid].vec)
				best = append(best, cand{nid, d})
				improved = true
			}
		}
		sort.Slice(best, func(i, j int) bool { return best[i].dist < best[j].dist })
		if len(best) > ef {
			best = best[:ef]
		}
		candidates = best
	}

	ids := make([]storage.VectorID, len(best))
	for i, c := range best {
		ids[i] = c.id
	}
	return ids
}

func (h *HNSWIndex) Search(query []float64, k int) ([]storage.SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := h.checkInitialized(); err != nil {
		return nil, err
	}
	if err := h.checkDims(query); err != nil {
		return nil, err
	}
	if k <= 0 || h.entryPoint == "" {
		return nil, nil
	}

	entry := h.entryPoint
	for level := h.maxLevel; level > 0; level-- {
		candidates := h.searchLayer(query, entry, 1, level)
		if len(candidates) > 0 {
			entry = candidates[0]
		}
	}

	ef := h.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := h.searchLayer(query, entry, ef, 0)

	results := make([]storage.SearchResult, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, storage.SearchResult{ID: id, Distance: h.dist(query, h.nodes[id].vec)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (h *HNSWIndex) BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error) {
	out := make([][]storage.SearchResult, len(queries))
	for i, q := range queries {
		res, err := h.Search(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (h *HNSWIndex) GetStats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"type":         "hnsw",
		"count":        len(h.nodes),
		"dimensions":   h.dimensions,
		"metric":       h.metric.String(),
		"initialized":  h.initialized,
		"max_level":    h.maxLevel,
		"m":            h.cfg.M,
		"ef_search":    h.cfg.EfSearch,
		"construction": "naive-all-resident",
	}
}

func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = nil
	return nil
}
