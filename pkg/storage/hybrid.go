package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// HybridBackend layers a bounded LRU cache in front of a DiskBackend. Reads
// check the cache first; writes go to disk, then populate the cache.
// Eviction is silent — the disk remains authoritative, so an evicted entry
// is simply re-fetched from disk on next read, same as a cache miss.
//
// Example:
//
//	backend, err := storage.NewHybridBackend("./data/vectors", 10_000)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close()
type HybridBackend struct {
	disk  *DiskBackend
	cache *lru.Cache[VectorID, VectorWithMetadata]
}

// NewHybridBackend opens a DiskBackend at dataDir fronted by an LRU cache
// holding up to cacheSize entries.
func NewHybridBackend(dataDir string, cacheSize int) (*HybridBackend, error) {
	disk, err := NewDiskBackend(dataDir)
	if err != nil {
		return nil, err
	}
	return newHybridBackend(disk, cacheSize)
}

// NewHybridBackendWithOptions opens a DiskBackend with custom tuning,
// fronted by an LRU cache holding up to cacheSize entries.
func NewHybridBackendWithOptions(opts DiskOptions, cacheSize int) (*HybridBackend, error) {
	disk, err := NewDiskBackendWithOptions(opts)
	if err != nil {
		return nil, err
	}
	return newHybridBackend(disk, cacheSize)
}

func newHybridBackend(disk *DiskBackend, cacheSize int) (*HybridBackend, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[VectorID, VectorWithMetadata](cacheSize)
	if err != nil {
		disk.Close()
		return nil, err
	}
	return &HybridBackend{disk: disk, cache: cache}, nil
}

func (h *HybridBackend) StoreVector(id VectorID, vec []float64, meta Metadata) (bool, error) {
	isNew, err := h.disk.StoreVector(id, vec, meta)
	if err != nil {
		return false, err
	}
	if isNew {
		h.cache.Add(id, VectorWithMetadata{ID: id, Vector: copyVec(vec), Metadata: meta.Clone()})
	}
	return isNew, nil
}

func (h *HybridBackend) RetrieveVector(id VectorID) (VectorWithMetadata, bool, error) {
	if entry, ok := h.cache.Get(id); ok {
		return VectorWithMetadata{
			ID:       entry.ID,
			Vector:   copyVec(entry.Vector),
			Metadata: entry.Metadata.Clone(),
		}, true, nil
	}

	entry, found, err := h.disk.RetrieveVector(id)
	if err != nil || !found {
		return entry, found, err
	}
	h.cache.Add(id, entry)
	return entry, true, nil
}

func (h *HybridBackend) UpdateVector(id VectorID, vec []float64, meta Metadata) (bool, error) {
	existed, err := h.disk.UpdateVector(id, vec, meta)
	if err != nil || !existed {
		return existed, err
	}
	// The cache entry must be invalidated before the caller can observe
	// the update elsewhere, so refresh it from the authoritative source
	// rather than trying to patch it in place.
	if fresh, found, rerr := h.disk.RetrieveVector(id); rerr == nil && found {
		h.cache.Add(id, fresh)
	} else {
		h.cache.Remove(id)
	}
	return true, nil
}

func (h *HybridBackend) DeleteVector(id VectorID) (bool, error) {
	existed, err := h.disk.DeleteVector(id)
	if err != nil {
		return false, err
	}
	h.cache.Remove(id)
	return existed, nil
}

func (h *HybridBackend) ListVectors(limit int) ([]VectorID, error) {
	return h.disk.ListVectors(limit)
}

func (h *HybridBackend) ListVectorIDsPaginated(pageSize int, cursor string) (Page[VectorID], error) {
	return h.disk.ListVectorIDsPaginated(pageSize, cursor)
}

func (h *HybridBackend) Count() (int64, error) {
	return h.disk.Count()
}

func (h *HybridBackend) Close() error {
	h.cache.Purge()
	return h.disk.Close()
}
