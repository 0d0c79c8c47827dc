// Package client provides the vecdb facade: a Client binds exactly one
// storage.Backend to exactly one index.Index and keeps them in sync, so
// callers never have to coordinate the two themselves.
package client

import (
	"fmt"
	"sync"

	"github.com/orneryd/vecdb/pkg/index"
	"github.com/orneryd/vecdb/pkg/storage"
)

// Client coordinates one storage.Backend and one index.Index. Every mutating
// call writes to storage first, then to the index, so a storage failure
// never leaves the index referencing data that isn't actually persisted.
//
// Thread Safety:
//
//	Client itself only guards its initialized flag; the backend and index
//	each provide their own internal locking, so concurrent Client method
//	calls are safe as long as the underlying backend/index are.
type Client struct {
	mu          sync.RWMutex
	backend     storage.Backend
	idx         index.Index
	initialized bool
}

// New constructs a Client over the given backend and index. Both must be
// freshly constructed and not yet used by any other Client.
func New(backend storage.Backend, idx index.Index) *Client {
	return &Client{backend: backend, idx: idx}
}

// Initialize prepares the underlying index for use, rebuilding its
// in-memory structures from the backend if it already holds vectors (a
// reopen of a previously populated collection).
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idx.Initialize(c.backend); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// IsInitialized reports whether Initialize has completed successfully.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Insert generates a fresh VectorID, stores vec and meta under it, and adds
// vec to the search structures. Returns the generated id.
func (c *Client) Insert(vec []float64, meta storage.Metadata) (storage.VectorID, error) {
	id := storage.NewVectorID()
	if _, err := c.backend.StoreVector(id, vec, meta); err != nil {
		return "", err
	}
	if _, err := c.idx.Insert(id, vec); err != nil {
		return "", err
	}
	return id, nil
}

// BatchInsert generates a fresh VectorID for every (vector, metadata) pair,
// stores them all, then adds them to the index in a single index-level
// batch call. Returns the generated ids in the same order as vecs.
func (c *Client) BatchInsert(vecs [][]float64, metas []storage.Metadata) ([]storage.VectorID, error) {
	ids := make([]storage.VectorID, len(vecs))

	for i, vec := range vecs {
		var meta storage.Metadata
		if metas != nil {
			meta = metas[i]
		}
		id := storage.NewVectorID()
		if _, err := c.backend.StoreVector(id, vec, meta); err != nil {
			return nil, err
		}
		ids[i] = id
	}

	if len(ids) > 0 {
		if _, err := c.idx.BatchInsert(ids, vecs); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Search finds the k nearest neighbors of query and attaches each result's
// stored metadata.
func (c *Client) Search(query []float64, k int) ([]storage.SearchResult, error) {
	results, err := c.idx.Search(query, k)
	if err != nil {
		return nil, err
	}
	return c.attachMetadata(results)
}

// BatchSearch runs Search for each query.
func (c *Client) BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error) {
	batches, err := c.idx.BatchSearch(queries, k)
	if err != nil {
		return nil, err
	}
	out := make([][]storage.SearchResult, len(batches))
	for i, batch := range batches {
		withMeta, err := c.attachMetadata(batch)
		if err != nil {
			return nil, err
		}
		out[i] = withMeta
	}
	return out, nil
}

func (c *Client) attachMetadata(results []storage.SearchResult) ([]storage.SearchResult, error) {
	out := make([]storage.SearchResult, len(results))
	for i, r := range results {
		entry, found, err := c.backend.RetrieveVector(r.ID)
		if err != nil {
			return nil, err
		}
		out[i] = r
		if found {
			out[i].Metadata = entry.Metadata
		}
	}
	return out, nil
}

// Delete removes id from storage and from the index. Returns false if id
// was not present in storage.
func (c *Client) Delete(id storage.VectorID) (bool, error) {
	existed, err := c.backend.DeleteVector(id)
	if err != nil || !existed {
		return existed, err
	}
	if _, err := c.idx.Delete(id); err != nil {
		return false, err
	}
	return true, nil
}

// Update replaces id's vector and/or metadata. A nil vec updates metadata
// only and leaves the index's search structures untouched — the index
// entry already reflects the correct vector, so there is nothing to
// recompute. A non-nil vec updates both storage and the index.
func (c *Client) Update(id storage.VectorID, vec []float64, meta storage.Metadata) (bool, error) {
	existed, err := c.backend.UpdateVector(id, vec, meta)
	if err != nil || !existed {
		return existed, err
	}
	if vec == nil {
		return true, nil
	}
	if _, err := c.idx.Update(id, vec); err != nil {
		return false, err
	}
	return true, nil
}

// BatchUpdate applies Update for every (id, vector, metadata) triple.
func (c *Client) BatchUpdate(ids []storage.VectorID, vecs [][]float64, metas []storage.Metadata) ([]bool, error) {
	results := make([]bool, len(ids))
	for i, id := range ids {
		var vec []float64
		if vecs != nil {
			vec = vecs[i]
		}
		var meta storage.Metadata
		if metas != nil {
			meta = metas[i]
		}
		ok, err := c.Update(id, vec, meta)
		if err != nil {
			return nil, err
		}
		results[i] = ok
	}
	return results, nil
}

// ListVectorIDs returns up to limit vector ids from storage.
func (c *Client) ListVectorIDs(limit int) ([]storage.VectorID, error) {
	return c.backend.ListVectors(limit)
}

// ListVectorIDsPaginated returns one page of vector ids from storage.
func (c *Client) ListVectorIDsPaginated(pageSize int, cursor string) (storage.Page[storage.VectorID], error) {
	return c.backend.ListVectorIDsPaginated(pageSize, cursor)
}

// GetStats returns combined storage and index diagnostics.
func (c *Client) GetStats() (map[string]any, error) {
	count, err := c.backend.Count()
	if err != nil {
		return nil, fmt.Errorf("client: get_stats: %w", err)
	}
	return map[string]any{
		"storage": map[string]any{"count": count},
		"index":   c.idx.GetStats(),
	}, nil
}

// Close closes the index, then the storage backend, and is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idx.Close(); err != nil {
		return err
	}
	if err := c.backend.Close(); err != nil {
		return err
	}
	c.initialized = false
	return nil
}
