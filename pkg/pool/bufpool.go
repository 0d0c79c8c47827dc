// Package pool provides object pooling for vecdb's hot search paths, to
// reduce allocations.
//
// Object pooling reuses allocated objects instead of creating new ones,
// reducing GC pressure on the paths called once per query: distance
// computation buffers and candidate result slices.
//
// Usage:
//
//	buf := pool.GetFloatSlice(dim)
//	defer pool.PutFloatSlice(buf)
//
//	buf = append(buf[:0], query...)
package pool

import (
	"sync"

	"github.com/orneryd/vecdb/pkg/storage"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active.
	Enabled bool

	// MaxSize limits the maximum capacity kept in each pool. Buffers
	// larger than this are discarded instead of returned to the pool,
	// so one oversized query doesn't permanently inflate resident memory.
	MaxSize int
}

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: 4096,
}

// Configure sets global pool configuration. Should be called early during
// initialization, before any Get/Put calls.
func Configure(config PoolConfig) {
	globalConfig = config
	initPools()
}

func initPools() {
	floatSlicePool = sync.Pool{
		New: func() any {
			return make([]float64, 0, 64)
		},
	}
	resultSlicePool = sync.Pool{
		New: func() any {
			return make([]storage.SearchResult, 0, 64)
		},
	}
	idSlicePool = sync.Pool{
		New: func() any {
			return make([]storage.VectorID, 0, 64)
		},
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

// =============================================================================
// Float64 Slice Pool (distance computation scratch buffers)
// =============================================================================

var floatSlicePool = sync.Pool{
	New: func() any {
		return make([]float64, 0, 64)
	},
}

// GetFloatSlice returns a []float64 from the pool with at least capacity
// hint. The returned slice has length 0. Call PutFloatSlice when done.
func GetFloatSlice(hint int) []float64 {
	if !globalConfig.Enabled {
		return make([]float64, 0, hint)
	}
	buf := floatSlicePool.Get().([]float64)
	if cap(buf) < hint {
		return make([]float64, 0, hint)
	}
	return buf[:0]
}

// PutFloatSlice returns a []float64 to the pool.
func PutFloatSlice(buf []float64) {
	if !globalConfig.Enabled || buf == nil {
		return
	}
	if cap(buf) > globalConfig.MaxSize {
		return
	}
	floatSlicePool.Put(buf[:0])
}

// =============================================================================
// Search Result Slice Pool (candidate accumulation during index search)
// =============================================================================

var resultSlicePool = sync.Pool{
	New: func() any {
		return make([]storage.SearchResult, 0, 64)
	},
}

// GetResultSlice returns a []storage.SearchResult from the pool.
func GetResultSlice() []storage.SearchResult {
	if !globalConfig.Enabled {
		return make([]storage.SearchResult, 0, 64)
	}
	return resultSlicePool.Get().([]storage.SearchResult)[:0]
}

// PutResultSlice returns a []storage.SearchResult to the pool.
func PutResultSlice(results []storage.SearchResult) {
	if !globalConfig.Enabled || results == nil {
		return
	}
	if cap(results) > globalConfig.MaxSize {
		return
	}
	resultSlicePool.Put(results[:0])
}

// =============================================================================
// Vector ID Slice Pool (bucket/candidate-set scratch)
// =============================================================================

var idSlicePool = sync.Pool{
	New: func() any {
		return make([]storage.VectorID, 0, 64)
	},
}

// GetIDSlice returns a []storage.VectorID from the pool.
func GetIDSlice() []storage.VectorID {
	if !globalConfig.Enabled {
		return make([]storage.VectorID, 0, 64)
	}
	return idSlicePool.Get().([]storage.VectorID)[:0]
}

// PutIDSlice returns a []storage.VectorID to the pool.
func PutIDSlice(ids []storage.VectorID) {
	if !globalConfig.Enabled || ids == nil {
		return
	}
	if cap(ids) > globalConfig.MaxSize {
		return
	}
	idSlicePool.Put(ids[:0])
}
