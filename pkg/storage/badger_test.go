package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiskBackend(t *testing.T) *DiskBackend {
	t.Helper()
	b, err := NewDiskBackendInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestDiskBackendStoreRetrieve(t *testing.T) {
	b := newTestDiskBackend(t)

	id := NewVectorID()
	isNew, err := b.StoreVector(id, []float64{1.5, -2.5, 3.0}, Metadata{"axis": "x", "count": float64(3)})
	require.NoError(t, err)
	assert.True(t, isNew)

	entry, found, err := b.RetrieveVector(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{1.5, -2.5, 3.0}, entry.Vector)
	assert.Equal(t, "x", entry.Metadata["axis"])
}

func TestDiskBackendRecordRoundTrip(t *testing.T) {
	vec := []float64{0.1, 0.2, 0.3, -4.5}
	meta := Metadata{"nested": map[string]any{"a": float64(1)}, "list": []any{"x", "y"}}

	record, err := encodeRecord(vec, meta)
	require.NoError(t, err)

	gotVec, gotMeta, err := decodeRecord(record)
	require.NoError(t, err)
	assert.Equal(t, vec, gotVec)
	assert.Equal(t, "x", gotMeta["list"].([]any)[0])
}

func TestDiskBackendUnsupportedVersionFails(t *testing.T) {
	record, err := encodeRecord([]float64{1, 2}, nil)
	require.NoError(t, err)
	record[0] = 2 // corrupt the version byte

	_, _, err = decodeRecord(record)
	assert.Error(t, err)
}

func TestDiskBackendUpdateMetadataOnly(t *testing.T) {
	b := newTestDiskBackend(t)
	id := NewVectorID()
	_, _ = b.StoreVector(id, []float64{1, 2}, Metadata{"k": "v1"})

	ok, err := b.UpdateVector(id, nil, Metadata{"k": "v2"})
	require.NoError(t, err)
	assert.True(t, ok)

	entry, _, _ := b.RetrieveVector(id)
	assert.Equal(t, []float64{1, 2}, entry.Vector, "nil vector on update must preserve the existing vector")
	assert.Equal(t, "v2", entry.Metadata["k"])
}

func TestDiskBackendPaginationTotality(t *testing.T) {
	b := newTestDiskBackend(t)

	want := make(map[VectorID]bool)
	for i := 0; i < 25; i++ {
		id := NewVectorID()
		_, err := b.StoreVector(id, []float64{float64(i)}, nil)
		require.NoError(t, err)
		want[id] = true
	}

	got := make(map[VectorID]bool)
	cursor := ""
	for {
		page, err := b.ListVectorIDsPaginated(10, cursor)
		require.NoError(t, err)
		for _, id := range page.Items {
			assert.False(t, got[id])
			got[id] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, want, got)
}
