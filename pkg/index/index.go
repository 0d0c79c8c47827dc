// Package index provides approximate and exact nearest-neighbor index
// implementations over the storage.Backend abstraction.
//
// Five index types are provided, each trading off recall, memory, and
// latency differently:
//
//   - FlatIndex: exact brute-force search. Always correct, O(n) per query.
//   - HNSWIndex: hierarchical navigable small world graph.
//   - IVFIndex: inverted file index built on k-means clustering.
//   - LSHIndex: locality-sensitive hashing.
//   - AnnoyIndex: random-projection forest.
//
// All five implement the Index interface and can be swapped behind a
// pkg/client.Client without changing calling code.
package index

import (
	"fmt"

	"github.com/orneryd/vecdb/pkg/storage"
	"github.com/orneryd/vecdb/pkg/vector"
)

// Index is the common contract every concrete index type satisfies. A Client
// pairs exactly one Index with one storage.Backend.
type Index interface {
	// Initialize prepares the index for use against backend. If backend
	// already holds vectors (a reopen of a previously populated
	// collection), Initialize rebuilds the index's in-memory structures
	// from backend.ListVectors/RetrieveVector before returning. backend
	// may be nil, in which case Initialize only marks the index ready
	// with nothing to rebuild. Indexes that require training (IVF) may
	// defer actual training until enough data is available; Initialize
	// itself never fails for lack of data.
	Initialize(backend storage.Backend) error

	// Insert adds vec under id to the index's search structures. Returns
	// true if id was newly inserted, false if id already existed.
	Insert(id storage.VectorID, vec []float64) (bool, error)

	// Search returns up to k nearest neighbors of query, nearest first.
	Search(query []float64, k int) ([]storage.SearchResult, error)

	// Delete removes id's entry from the search structures. Returns false
	// if id was not present.
	Delete(id storage.VectorID) (bool, error)

	// Update replaces id's vector in the search structures. Returns false
	// if id was not present.
	Update(id storage.VectorID, vec []float64) (bool, error)

	// BatchSearch runs Search for each query, returning results in the
	// same order as queries.
	BatchSearch(queries [][]float64, k int) ([][]storage.SearchResult, error)

	// BatchInsert adds every (id, vector) pair under a single lock
	// acquisition, for callers inserting many vectors at once.
	BatchInsert(ids []storage.VectorID, vecs [][]float64) ([]bool, error)

	// GetStats returns implementation-specific diagnostic counters as a
	// plain map, suitable for JSON encoding or logging.
	GetStats() map[string]any

	// Close releases any resources held by the index. Idempotent.
	Close() error
}

// IndexErrorKind classifies the failure reported by an IndexError, so
// callers can branch on kind rather than parsing the message.
type IndexErrorKind int

const (
	// KindNotInitialized means an operation was attempted before
	// Initialize was called.
	KindNotInitialized IndexErrorKind = iota
	// KindNotTrainedOrBuilt means an operation requires a built structure
	// (IVF clusters, an Annoy forest) that does not exist yet.
	KindNotTrainedOrBuilt
	// KindUnsupportedMetric means the configured distance metric is not
	// supported by this index type.
	KindUnsupportedMetric
	// KindDimensionMismatch means a vector's length does not match the
	// index's established dimensionality.
	KindDimensionMismatch
	// KindStorageFailure wraps an error surfaced by the storage.Backend.
	KindStorageFailure
	// KindConfigError means the supplied configuration struct failed
	// validation.
	KindConfigError
	// KindTrainingFailed means training (k-means, forest construction)
	// could not produce a usable structure, e.g. too few training vectors.
	KindTrainingFailed
)

func (k IndexErrorKind) String() string {
	switch k {
	case KindNotInitialized:
		return "not_initialized"
	case KindNotTrainedOrBuilt:
		return "not_trained_or_built"
	case KindUnsupportedMetric:
		return "unsupported_metric"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindStorageFailure:
		return "storage_failure"
	case KindConfigError:
		return "config_error"
	case KindTrainingFailed:
		return "training_failed"
	default:
		return "unknown"
	}
}

// IndexError is the single error type returned by every Index
// implementation in this package. Kind lets callers branch programmatically;
// Cause preserves the underlying error (a storage error, a vector dimension
// error) for Unwrap and logging.
type IndexError struct {
	Kind    IndexErrorKind
	Message string
	Cause   error
}

func (e *IndexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("index: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("index: %s: %s", e.Kind, e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Cause
}

func newIndexError(kind IndexErrorKind, message string, cause error) *IndexError {
	return &IndexError{Kind: kind, Message: message, Cause: cause}
}

// parseMetric maps a config string to a vector.Metric, or returns an
// IndexError of kind KindUnsupportedMetric.
func parseMetric(s string) (vector.Metric, error) {
	switch s {
	case "cosine", "":
		return vector.Cosine, nil
	case "euclidean":
		return vector.Euclidean, nil
	case "dot":
		return vector.DotProductMetric, nil
	case "manhattan":
		return vector.Manhattan, nil
	default:
		return 0, newIndexError(KindUnsupportedMetric, fmt.Sprintf("unknown metric %q", s), nil)
	}
}

// rebuildFromBackend lists every vector currently held by backend and feeds
// each one through insert, reconstructing an index's in-memory structures
// after a reopen. backend == nil is a no-op (a fresh index with nothing
// persisted yet). An id that disappears between the list and the retrieve
// (a concurrent delete) is skipped rather than treated as an error.
func rebuildFromBackend(backend storage.Backend, insert func(id storage.VectorID, vec []float64) error) error {
	if backend == nil {
		return nil
	}

	ids, err := backend.ListVectors(0)
	if err != nil {
		return newIndexError(KindStorageFailure, "listing vectors for rebuild", err)
	}

	for _, id := range ids {
		entry, ok, err := backend.RetrieveVector(id)
		if err != nil {
			return newIndexError(KindStorageFailure, fmt.Sprintf("retrieving vector %q for rebuild", id), err)
		}
		if !ok {
			continue
		}
		if err := insert(entry.ID, entry.Vector); err != nil {
			return err
		}
	}
	return nil
}
