package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendStoreRetrieve(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	id := NewVectorID()
	isNew, err := b.StoreVector(id, []float64{1, 2, 3}, Metadata{"label": "a"})
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = b.StoreVector(id, []float64{9, 9, 9}, nil)
	require.NoError(t, err)
	assert.False(t, isNew, "storing over an existing id must report false, not overwrite")

	entry, found, err := b.RetrieveVector(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{1, 2, 3}, entry.Vector)
	assert.Equal(t, "a", entry.Metadata["label"])
}

func TestMemoryBackendDefensiveCopy(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	id := NewVectorID()
	vec := []float64{1, 2, 3}
	_, err := b.StoreVector(id, vec, nil)
	require.NoError(t, err)

	vec[0] = 999 // mutate caller's slice after store
	entry, _, err := b.RetrieveVector(id)
	require.NoError(t, err)
	assert.Equal(t, float64(1), entry.Vector[0], "storage must not alias the caller's vector")

	entry.Vector[0] = 777 // mutate the returned copy
	entry2, _, _ := b.RetrieveVector(id)
	assert.Equal(t, float64(1), entry2.Vector[0], "retrieve must return a fresh copy each time")
}

func TestMemoryBackendUpdate(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	id := NewVectorID()
	_, _ = b.StoreVector(id, []float64{1, 2}, Metadata{"k": "v1"})

	ok, err := b.UpdateVector(id, []float64{3, 4}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, _, _ := b.RetrieveVector(id)
	assert.Equal(t, []float64{3, 4}, entry.Vector)
	assert.Equal(t, "v1", entry.Metadata["k"], "nil meta on update must leave metadata unchanged")

	ok, err = b.UpdateVector(VectorID("missing"), []float64{1}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackendDelete(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	id := NewVectorID()
	_, _ = b.StoreVector(id, []float64{1}, nil)

	ok, err := b.DeleteVector(id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, _ := b.RetrieveVector(id)
	assert.False(t, found)

	ok, err = b.DeleteVector(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackendPaginationTotality(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	want := make(map[VectorID]bool)
	for i := 0; i < 25; i++ {
		id := NewVectorID()
		_, err := b.StoreVector(id, []float64{float64(i)}, nil)
		require.NoError(t, err)
		want[id] = true
	}

	got := make(map[VectorID]bool)
	cursor := ""
	pages := 0
	for {
		page, err := b.ListVectorIDsPaginated(10, cursor)
		require.NoError(t, err)
		for _, id := range page.Items {
			assert.False(t, got[id], "id %s returned twice across pages", id)
			got[id] = true
		}
		pages++
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		assert.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
		require.Less(t, pages, 10, "pagination did not terminate")
	}

	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func TestMemoryBackendClosedIsIdempotentAndRejects(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.StoreVector(NewVectorID(), []float64{1}, nil)
	assert.ErrorIs(t, err, ErrStorageClosed)
}
