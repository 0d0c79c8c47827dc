package pool

import (
	"sync"
	"testing"

	"github.com/orneryd/vecdb/pkg/storage"
)

func TestConfigure(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)

	Configure(PoolConfig{Enabled: true, MaxSize: 500})
	if !IsEnabled() {
		t.Error("IsEnabled() = false, want true")
	}
	if globalConfig.MaxSize != 500 {
		t.Errorf("MaxSize = %d, want 500", globalConfig.MaxSize)
	}

	Configure(PoolConfig{Enabled: false, MaxSize: 1000})
	if IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
}

func TestFloatSlicePool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 4096})

	t.Run("get returns zero-length slice with requested capacity", func(t *testing.T) {
		buf := GetFloatSlice(128)
		if len(buf) != 0 {
			t.Errorf("len = %d, want 0", len(buf))
		}
		if cap(buf) < 128 {
			t.Errorf("cap = %d, want >= 128", cap(buf))
		}
		PutFloatSlice(buf)
	})

	t.Run("put and reuse clears length", func(t *testing.T) {
		buf := GetFloatSlice(8)
		buf = append(buf, 1, 2, 3)
		PutFloatSlice(buf)

		buf2 := GetFloatSlice(8)
		if len(buf2) != 0 {
			t.Errorf("reused slice len = %d, want 0", len(buf2))
		}
		PutFloatSlice(buf2)
	})

	t.Run("oversized buffer not pooled", func(t *testing.T) {
		Configure(PoolConfig{Enabled: true, MaxSize: 10})
		defer Configure(PoolConfig{Enabled: true, MaxSize: 4096})

		buf := make([]float64, 0, 1000)
		PutFloatSlice(buf) // must not panic
	})

	t.Run("disabled pooling still returns usable slice", func(t *testing.T) {
		Configure(PoolConfig{Enabled: false, MaxSize: 4096})
		defer Configure(PoolConfig{Enabled: true, MaxSize: 4096})

		buf := GetFloatSlice(16)
		if buf == nil {
			t.Error("GetFloatSlice returned nil when disabled")
		}
		PutFloatSlice(buf)
	})
}

func TestResultSlicePool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 4096})

	results := GetResultSlice()
	results = append(results, storage.SearchResult{ID: storage.VectorID("a"), Distance: 0.1})
	PutResultSlice(results)

	results2 := GetResultSlice()
	if len(results2) != 0 {
		t.Errorf("reused slice len = %d, want 0", len(results2))
	}
	PutResultSlice(results2)
}

func TestIDSlicePool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 4096})

	ids := GetIDSlice()
	ids = append(ids, storage.VectorID("a"), storage.VectorID("b"))
	PutIDSlice(ids)

	ids2 := GetIDSlice()
	if len(ids2) != 0 {
		t.Errorf("reused slice len = %d, want 0", len(ids2))
	}
	PutIDSlice(ids2)
}

func TestConcurrentPoolAccess(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 4096})

	const goroutines = 50
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf := GetFloatSlice(32)
				buf = append(buf, float64(j))
				PutFloatSlice(buf)

				results := GetResultSlice()
				results = append(results, storage.SearchResult{ID: storage.VectorID("x")})
				PutResultSlice(results)
			}
		}()
	}
	wg.Wait()
}
