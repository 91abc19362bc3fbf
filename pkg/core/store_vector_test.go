package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sqdoc/sqdoc/pkg/filter"
	"github.com/sqdoc/sqdoc/pkg/index"
)

func seedVectorDocs(t *testing.T, store *Store) {
	t.Helper()

	_, err := store.Write(context.Background(), []Document{
		{ID: "north", Content: "points north", Embedding: []float32{1, 0, 0, 0},
			Metadata: map[string]any{"group": "compass"}},
		{ID: "northish", Content: "mostly north", Embedding: []float32{0.9, 0.1, 0, 0},
			Metadata: map[string]any{"group": "compass"}},
		{ID: "east", Content: "points east", Embedding: []float32{0, 1, 0, 0},
			Metadata: map[string]any{"group": "other"}},
	}, PolicyFail)
	require.NoError(t, err)
}

func TestSearchVectorNotEnabled(t *testing.T) {
	store := newTestStore(t)
	seedVectorDocs(t, store)

	_, err := store.SearchVector(context.Background(), []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSearchVectorNearest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))

	out, err := store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"north", "northish"}, scoredIDs(out))
	assert.Greater(t, out[0].Score, out[1].Score)
	assert.InDelta(t, 1.0, out[0].Score, 1e-6)
	assert.Equal(t, "points north", out[0].Content)
	assert.Equal(t, "compass", out[0].Metadata["group"])
}

func TestSearchVectorWithFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))

	// east ranks last for this query but is the only doc passing the filter.
	out, err := store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{
		TopK:   2,
		Filter: filter.Eq("group", "other"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"east"}, scoredIDs(out))
}

func TestSearchVectorValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))

	_, err := store.SearchVector(ctx, []float32{1, 0}, VectorSearchOptions{TopK: 2})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 0})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSearchVectorNoEmbeddingsYet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, []Document{{ID: "plain", Content: "no vector"}}, PolicyFail)
	require.NoError(t, err)
	require.NoError(t, store.EnableVectorIndex(ctx))

	_, err = store.SearchVector(ctx, []float32{1, 0}, VectorSearchOptions{TopK: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVectorIndexTracksWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnableVectorIndex(ctx))

	// The index materializes with the first embedding-bearing write.
	_, err := store.Write(ctx, []Document{
		{ID: "a", Content: "x", Embedding: []float32{1, 0}},
		{ID: "b", Content: "y", Embedding: []float32{0, 1}},
	}, PolicyFail)
	require.NoError(t, err)

	out, err := store.SearchVector(ctx, []float32{1, 0}, VectorSearchOptions{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, scoredIDs(out))

	// Overwriting without an embedding removes the vector entry.
	_, err = store.Write(ctx, []Document{{ID: "a", Content: "x2"}}, PolicyOverwrite)
	require.NoError(t, err)

	out, err = store.SearchVector(ctx, []float32{1, 0}, VectorSearchOptions{TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, scoredIDs(out))

	// Deletes drop the vector entry too.
	_, err = store.Delete(ctx, []string{"b"})
	require.NoError(t, err)

	out, err = store.SearchVector(ctx, []float32{0, 1}, VectorSearchOptions{TopK: 2})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestVectorIndexSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))
	require.NoError(t, store.Close())

	store, err = New(path)
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	defer func() { _ = store.Close() }()

	out, err := store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"north"}, scoredIDs(out))
}

func TestSearchVectorInterruptedBackfill(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))

	_, err := store.db.ExecContext(ctx,
		`UPDATE store_state SET value = ? WHERE key = ?`, string(stateBackfilling), stateKeyVector)
	require.NoError(t, err)
	store.vectorState = stateBackfilling

	_, err = store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsistency)

	require.NoError(t, store.EnableVectorIndex(ctx))
	out, err := store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"north"}, scoredIDs(out))
}

func TestSearchVectorScaledScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))

	out, err := store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 1, ScaleScore: true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	// Cosine 1.0 rescales to 1.0 under the default scaler.
	assert.InDelta(t, 1.0, out[0].Score, 1e-6)
}

// faultyIndex is a plug-in engine whose writes always fail.
type faultyIndex struct {
	dims int
}

var errEngineDown = errors.New("engine unavailable")

func (f *faultyIndex) Upsert(id string, vector []float32) error { return errEngineDown }
func (f *faultyIndex) Delete(id string)                         {}
func (f *faultyIndex) Search(query []float32, k int) ([]index.Candidate, error) {
	return nil, nil
}
func (f *faultyIndex) Len() int  { return 0 }
func (f *faultyIndex) Dims() int { return f.dims }

func TestWriteAbortsWhenVectorEngineFails(t *testing.T) {
	config := DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	config.NewVectorIndex = func(dims int) index.VectorIndex {
		return &faultyIndex{dims: dims}
	}
	store, err := NewWithConfig(config)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.EnableVectorIndex(ctx))

	// The engine rejects the index update, so the whole per-document
	// unit must fail: nothing written, nothing visible.
	n, err := store.Write(ctx, []Document{
		{ID: "a", Content: "x", Embedding: []float32{1, 0}},
	}, PolicyFail)
	require.Error(t, err)
	assert.ErrorIs(t, err, errEngineDown)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// The rolled-back write must not have fixed the dimensionality.
	assert.Equal(t, 0, store.Dimensions())

	// Documents without an embedding never touch the engine and still land.
	n, err = store.Write(ctx, []Document{{ID: "b", Content: "plain"}}, PolicyFail)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVectorDocs(t, store)
	require.NoError(t, store.EnableVectorIndex(ctx))
	require.NoError(t, store.EnableLexicalIndex(ctx))

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 10; i++ {
				if _, err := store.SearchVector(ctx, []float32{1, 0, 0, 0}, VectorSearchOptions{TopK: 2}); err != nil {
					return err
				}
				if _, err := store.SearchLexical(ctx, "points", LexicalSearchOptions{TopK: 2}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := 0; i < 10; i++ {
			doc := Document{
				ID:        fmt.Sprintf("w-%d", i),
				Content:   "points somewhere",
				Embedding: []float32{0, 0, 1, 0},
			}
			if _, err := store.Write(ctx, []Document{doc}, PolicyOverwrite); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	n, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
}
