package index

import (
	"container/heap"
	"context"
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/orneryd/vecdb/pkg/vector"
)

// annoyNode is one node of a random-projection tree: an internal node
// holds a splitting hyperplane and two children; a leaf holds up to
// MaxLeafSize vector ids directly.
type annoyNode struct {
	hyperplane []float64
	offset     float64
	left       *annoyNode
	right      *annoyNode
	leafIDs    []storage.VectorID // non-nil only on leaves
}

func (n *annoyNode) isLeaf() bool { return n.leafIDs != nil }

// AnnoyIndex is a forest of random-projection binary trees: each tree
// recursively splits its vectors with a random hyperplane until a subtree
// holds at most MaxLeafSize vectors, then stores them in a leaf. A search
// walks every tree best-first, visiting the side of each hyperplane the
// query falls on first and the far side of hyperplanes close to the query
// after it, and exact-ranks the union of the leaves visited within a
// SearchK budget.
//
// Any Insert, Delete, or Update marks the forest dirty; deletes are
// tombstoned rather than triggering an immediate rebuild, and the next
// Build() call (explicit, or implicitly triggered by Search whenever the
// forest is dirty) drops tombstoned ids and redistributes everything
// resident into fresh trees, built one tree per goroutine via errgroup.
//
// Thread Safety:
//
//	Shared lock for GetStats; exclusive lock for Search (which may trigger
//	a Build) and for Insert/Delete/Update/Build, held for the whole call.
type AnnoyIndex struct {
	mu sync.RWMutex

	metric     vector.Metric
	cfg        config.AnnoyConfig
	dimensions int
	rng        *rand.Rand

	initialized bool
	vectors     map[storage.VectorID][]float64
	tombstones  map[storage.VectorID]bool
	trees       []*annoyNode
	dirty       bool
}

// NewAnnoyIndex constructs an AnnoyIndex from a validated AnnoyConfig.
func NewAnnoyIndex(cfg config.AnnoyConfig) (*AnnoyIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newIndexError(KindConfigError, "invalid annoy config", err)
	}
	metric, err := parseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = 1
	}
	return &AnnoyIndex{
		metric:     metric,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(seed)),
		vectors:    make(map[storage.VectorID][]float64),
		tombstones: make(map[storage.VectorID]bool),
	}, nil
}

func (a *AnnoyIndex) Initialize(backend storage.Backend) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	loaded := false
	if err := rebuildFromBackend(backend, func(id storage.VectorID, vec []float64) error {
		if a.dimensions == 0 {
			a.dimensions = len(vec)
		}
		if err := a.checkDims(vec); err != nil {
			return err
		}
		a.vectors[id] = vector.Copy(vec)
		delete(a.tombstones, id)
		loaded = true
		return nil
	}); err != nil {
		return err
	}
	if loaded {
		a.dirty = true
	}

	a.initialized = true
	return nil
}

func (a *AnnoyIndex) checkInitialized() error {
	if !a.initialized {
		return newIndexError(KindNotInitialized, "annoy index not initialized", nil)
	}
	return nil
}

func (a *AnnoyIndex) checkDims(vec []float64) error {
	if a.dimensions != 0 && len(vec) != a.dimensions {
		return newIndexError(KindDimensionMismatch,
			"vector dimension does not match index dimensionality", vector.ErrDimensionMismatch)
	}
	return nil
}

func (a *AnnoyIndex) Insert(id storage.VectorID, vec []float64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkInitialized(); err != nil {
		return false, err
	}
	if a.dimensions == 0 {
		a.dimensions = len(vec)
	}
	if err := a.checkDims(vec); err != nil {
		return false, err
	}

	_, existed := a.vectors[id]
	a.vectors[id] = vector.Copy(vec)
	delete(a.tombstones, id)
	a.dirty = true
	return !existed, nil
}

func (a *AnnoyIndex) BatchInsert(ids []storage.VectorID, vecs [][]float64) ([]bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	results := make([]bool, len(ids))
	for i, id := range ids {
		vec := vecs[i]
		if a.dimensions == 0 {
			a.dimensions = len(vec)
		}
		if err := a.checkDims(vec); err != nil {
			return nil, err
		}
		_, existed := a.vectors[id]
		a.vectors[id] = vector.Copy(vec)
		delete(a.tombstones, id)
		results[i] = !existed
	}
	a.dirty = true
	return results, nil
}

// Delete tombstones id rather than rebuilding immediately; it is skipped on
// the next Build() and, in the meantime, filtered out of search results.
func (a *AnnoyIndex) Delete(id storage.VectorID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkInitialized(); err != nil {
		return false, err
	}
	if _, existed := a.vectors[id]; !existed {
		return false, nil
	}
	delete(a.vectors, id)
	a.tombstones[id] = true
	a.dirty = true
	return true, nil
}

func (a *AnnoyIndex) Update(id storage.VectorID, vec []float64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkInitialized(); err != nil {
		return false, err
	}
	if _, existed := a.vectors[id]; !existed {
		return false, nil
	}
	if err := a.checkDims(vec); err != nil {
		return false, err
	}
	a.vectors[id] = vector.Copy(vec)
	a.dirty = true
	return true, nil
}

func randomHyperplane(dim int, rng *rand.Rand) []float64 {
	h := make([]float64, dim)
	for i := range h {
		h[i] = rng.NormFloat64()
	}
	return h
}

// buildTree recursively partitions ids by a random hyperplane through the
// mean of two randomly chosen pivot vectors, until at most MaxLeafSize ids
// remain, at which point it becomes a leaf.
func (a *AnnoyIndex) buildTree(ids []storage.VectorID, rng *rand.Rand) *annoyNode {
	if len(ids) <= a.cfg.MaxLeafSize {
		leaf := make([]storage.VectorID, len(ids))
		copy(leaf, ids)
		return &annoyNode{leafIDs: leaf}
	}

	p1 := ids[rng.Intn(len(ids))]
	p2 := ids[rng.Intn(len(ids))]
	v1, v2 := a.vectors[p1], a.vectors[p2]

	hyperplane := make([]float64, a.dimensions)
	midpoint := make([]float64, a.dimensions)
	for i := range hyperplane {
		hyperplane[i] = v1[i] - v2[i]
		midpoint[i] = (v1[i] + v2[i]) / 2
	}
	offset := dot(hyperplane, midpoint)

	var left, right []storage.VectorID
	for _, id := range ids {
		if dot(hyperplane, a.vectors[id]) >= offset {
			left = append(left, id)
		} else {
			right = append(right, id)
		}
	}
	// Degenerate split (all points coincide, or landed on one side): the
	// hyperplane can't separate this subset, so make it a leaf.
	if len(left) == 0 || len(right) == 0 {
		leaf := make([]storage.VectorID, len(ids))
		copy(leaf, ids)
		return &annoyNode{leafIDs: leaf}
	}

	node := &annoyNode{hyperplane: hyperplane, offset: offset}
	node.left = a.buildTree(left, rng)
	node.right = a.buildTree(right, rng)
	return node
}

// Build drops tombstoned ids and rebuilds every tree from the current
// resident set, one goroutine per tree via errgroup.
func (a *AnnoyIndex) Build() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buildLocked()
}

func (a *AnnoyIndex) buildLocked() error {
	ids := make([]storage.VectorID, 0, len(a.vectors))
	for id := range a.vectors {
		ids = append(ids, id)
	}
	a.tombstones = make(map[storage.VectorID]bool)

	if len(ids) == 0 {
		a.trees = nil
		a.dirty = false
		return nil
	}

	trees := make([]*annoyNode, a.cfg.NumTrees)
	g, _ := errgroup.WithContext(context.Background())
	for t := 0; t < a.cfg.NumTrees; t++ {
		t := t
		treeSeed := a.rng.Int63()
		g.Go(func() error {
			treeRNG := rand.New(rand.NewSource(treeSeed))
			trees[t] = a.buildTree(ids, treeRNG)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return newIndexError(KindTrainingFailed, "annoy forest construction failed", err)
	}

	a.trees = trees
	a.dirty = false
	return nil
}

// annoyPQItem is one entry in the best-first search frontier: a tree node
// plus how promising it is to explore (smaller priority explored first).
type annoyPQItem struct {
	node     *annoyNode
	priority float64 // |signed distance from hyperplane|; smaller explored first
}

// candidatesFromTree walks the tree toward query but also explores the
// sibling of any hyperplane close to the query's side, using a min-heap
// keyed by |distance to the hyperplane| (smaller means more worth
// exploring), collecting leaves until budget leaves have been visited.
func (a *AnnoyIndex) candidatesFromTree(root *annoyNode, query []float64, budget int, out map[storage.VectorID]bool) {
	pq := &annoyPQ{}
	heap.Init(pq)
	heap.Push(pq, annoyPQItem{root, 0})

	visited := 0
	for pq.Len() > 0 && visited < budget {
		item := heap.Pop(pq).(annoyPQItem)
		node := item.node
		if node.isLeaf() {
			for _, id := range node.leafIDs {
				out[id] = true
			}
			visited++
			continue
		}
		margin := dot(node.hyperplane, query) - node.offset
		near, far := node.left, node.right
		if margin < 0 {
			near, far = node.right, node.left
		}
		heap.Push(pq, annoyPQItem{near, 0})
		heap.Push(pq, annoyPQItem{far, absFloat(margin)})
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// annoyPQ is a min-heap over the priority field (explore the closest
// hyperplane split first).
type annoyPQ []annoyPQItem

func (pq annoyPQ) Len() int { return len(pq) }
func (pq annoyPQ) Less(i, j int) bool {
	return pq[i].priority < pq[j].priority
}
func (pq annoyPQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *annoyPQ) Push(x any) {
	*pq = append(*pq, x.(annoyPQItem))
}
func (pq *annoyPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

func (a *AnnoyIndex) Search(query []float64, k int) ([]storage.SearchResult, error) {
	a.mu.Lock() // upgradeable: Search may trigger a Build
	defer a.mu.Unlock()

	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	if err := a.checkDims(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if a.dirty {
		if err := a.buildLocked(); err != nil {
			return nil, err
		}
	}
	if len(a.trees) == 0 {
		return nil, nil
	}

	searchK := a.cfg.SearchK
	if searchK <= 0 {
		searchK = a.cfg.NumTrees * a.cfg.MaxLeafSize
	}
	perTree := searchK / len(a.trees)
	if perTree < 1 {
		perTree = 1
	}

	seen := make(map[storage.VectorID]bool)
	for _, tree := range a.trees {
		a.candidatesFromTree(tree, query, perTree, seen)
	}

	results := make([]storage.SearchResult, 0, len(seen))
	for id := range seen {
		if a.tombstones[id] {
			continue
		}
		vec, ok := a.vectors[id]
		if !ok {
			continue
		}
		d, err := vector.Distance(a.metric, query, vec)
		if err != nil {
			return nil, newIndexError(KindDimensionMismatch, "distance computation failed", err)
		}
		results = append(results, storage.SearchResult{ID: id, Distance: d})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (a *AnnoyIndex) BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error) {
	out := make([][]storage.SearchResult, len(queries))
	for i, q := range queries {
		res, err := a.Search(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (a *AnnoyIndex) GetStats() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return map[string]any{
		"type":         "annoy",
		"count":        len(a.vectors),
		"dimensions":   a.dimensions,
		"metric":       a.metric.String(),
		"initialized":  a.initialized,
		"num_trees":    len(a.trees),
		"dirty":        a.dirty,
		"tombstones":   len(a.tombstones),
	}
}

func (a *AnnoyIndex) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trees = nil
	a.vectors = nil
	a.tombstones = nil
	return nil
}
