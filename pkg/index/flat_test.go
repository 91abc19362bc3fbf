package index

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestFlatSearchOrder(t *testing.T) {
	f := NewFlat(2, cosine)
	require.NoError(t, f.Upsert("a", []float32{1, 0}))
	require.NoError(t, f.Upsert("b", []float32{0, 1}))
	require.NoError(t, f.Upsert("c", []float32{1, 0.1}))

	got, err := f.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestFlatTiesAscendingID(t *testing.T) {
	f := NewFlat(2, cosine)
	// Same direction, different magnitude: identical cosine scores.
	require.NoError(t, f.Upsert("z", []float32{2, 0}))
	require.NoError(t, f.Upsert("a", []float32{1, 0}))
	require.NoError(t, f.Upsert("m", []float32{3, 0}))

	for i := 0; i < 5; i++ {
		got, err := f.Search([]float32{1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"a", "m", "z"}, []string{got[0].ID, got[1].ID, got[2].ID})
	}
}

func TestFlatUpsertReplaces(t *testing.T) {
	f := NewFlat(2, cosine)
	require.NoError(t, f.Upsert("a", []float32{1, 0}))
	require.NoError(t, f.Upsert("a", []float32{0, 1}))
	assert.Equal(t, 1, f.Len())

	got, err := f.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestFlatDelete(t *testing.T) {
	f := NewFlat(2, cosine)
	require.NoError(t, f.Upsert("a", []float32{1, 0}))
	f.Delete("a")
	f.Delete("absent") // no-op
	assert.Equal(t, 0, f.Len())

	got, err := f.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlatDimensionMismatch(t *testing.T) {
	f := NewFlat(3, cosine)
	err := f.Upsert("a", []float32{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = f.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlatTopKSmallerThanStore(t *testing.T) {
	f := NewFlat(1, cosine)
	for i := 0; i < 20; i++ {
		require.NoError(t, f.Upsert(fmt.Sprintf("doc-%02d", i), []float32{1}))
	}

	got, err := f.Search([]float32{1}, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	// All scores tie, so the five smallest ids win.
	for i, c := range got {
		assert.Equal(t, fmt.Sprintf("doc-%02d", i), c.ID)
	}
}
