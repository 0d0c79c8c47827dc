// Package storage provides the authoritative key/value store backing
// vecdb's indices.
//
// The storage layer owns vector bytes and metadata on disk or in memory;
// indices never write vector data directly, only ids and derived structure
// (graph edges, cluster lists, hash buckets, tree partitions). This
// separation lets any index be rebuilt from scratch by re-listing storage,
// and lets storage be swapped (Memory for tests, Disk for durability,
// Hybrid for a cached disk-backed store) without touching index code.
//
// Example Usage:
//
//	backend := storage.NewMemoryBackend()
//	defer backend.Close()
//
//	id := storage.NewVectorID()
//	_, err := backend.StoreVector(id, []float64{0.1, 0.2, 0.3}, storage.Metadata{"label": "a"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	vwm, found, err := backend.RetrieveVector(id)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if found {
//		fmt.Println(vwm.Metadata["label"])
//	}
package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors returned by every Backend implementation.
var (
	ErrInvalidID     = errors.New("storage: invalid vector id")
	ErrInvalidVector = errors.New("storage: invalid vector")
	ErrStorageClosed = errors.New("storage: backend is closed")
)

// VectorID is an opaque, per-insert identifier. Two VectorWithMetadata
// values are considered equal iff their ids match, regardless of their
// numeric content — this is required for storage/index reconciliation and
// is deliberately not the default struct equality.
type VectorID string

// NewVectorID generates a fresh id: a 128-bit random value (a v4 UUID)
// rendered as its canonical 36-character string.
func NewVectorID() VectorID {
	return VectorID(uuid.New().String())
}

// Metadata is a schemaless bag of string keys to tagged values. Supported
// value kinds are string, int64, float64, bool, Metadata (nested), and
// []any (list) — anything else is the caller's problem, not this package's:
// the in-memory and hybrid backends clone metadata on store but never
// validate it.
type Metadata map[string]any

// Clone returns a deep copy of md sufficient for the nested-map/list shapes
// this package round-trips through JSON. A nil receiver clones to nil.
func (md Metadata) Clone() Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Metadata:
		return t.Clone()
	case map[string]any:
		return Metadata(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// VectorWithMetadata is the triple a Backend stores under one id.
//
// Equality is id-only: two VectorWithMetadata values with the same ID are
// the "same" entry for reconciliation purposes even if their Vector or
// Metadata fields have since diverged in memory. Callers who need content
// equality must compare Vector/Metadata explicitly.
type VectorWithMetadata struct {
	ID       VectorID
	Vector   []float64
	Metadata Metadata
}

// Equal reports id-only equality, the invariant required for reconciling
// an index's cached copy of an entry against storage's authoritative one.
func (v VectorWithMetadata) Equal(other VectorWithMetadata) bool {
	return v.ID == other.ID
}

// SearchResult is one ranked hit returned by an index search.
//
// Distance is ascending-best: the smallest distance is the most similar
// result. For the dot-product metric, Distance already holds the negated
// dot product so that ascending sort still means "most similar first."
type SearchResult struct {
	ID       VectorID
	Distance float64
	Metadata Metadata
}

// Page is one page of a cursor-paginated listing.
//
// Invariant: HasMore == false implies NextCursor == "" ; HasMore == true
// implies NextCursor != "". Callers pass NextCursor back in to fetch the
// following page.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// StorageError wraps an underlying I/O failure encountered by a Backend.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Cause: err}
}

// Backend is the storage contract every index is built against. All
// implementations must be safe for concurrent use.
//
// store/update/delete are single-vector atomic with respect to concurrent
// readers on the same backend. Listing snapshots may be stale up to the
// last committed write. Cursors are opaque to callers; each implementation
// defines its own encoding, but iteration under a cursor is stable: no id
// is duplicated or lost within one completed scan, though concurrent
// inserts may or may not appear in remaining pages.
type Backend interface {
	// StoreVector writes a new entry. It returns true if the id was new,
	// false if an entry with that id already existed (in which case the
	// existing entry is left untouched — use UpdateVector to replace it).
	StoreVector(id VectorID, vec []float64, meta Metadata) (bool, error)

	// RetrieveVector returns a defensive copy of the stored entry, or
	// found=false if no such id exists.
	RetrieveVector(id VectorID) (VectorWithMetadata, bool, error)

	// UpdateVector replaces vec and/or meta for an existing id. Either
	// may be nil to leave that component unchanged. Returns true iff the
	// id existed.
	UpdateVector(id VectorID, vec []float64, meta Metadata) (bool, error)

	// DeleteVector removes an entry. Returns true iff it existed.
	DeleteVector(id VectorID) (bool, error)

	// ListVectors returns up to limit ids in unspecified order. limit <= 0
	// means "all ids."
	ListVectors(limit int) ([]VectorID, error)

	// ListVectorIDsPaginated returns one page of ids ordered by the
	// backend's own internal iteration order, honoring a cursor produced
	// by a prior call.
	ListVectorIDsPaginated(pageSize int, cursor string) (Page[VectorID], error)

	// Count returns the number of stored entries.
	Count() (int64, error)

	// Close releases resources. Idempotent.
	Close() error
}
