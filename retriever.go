package sqdoc

import (
	"context"

	"github.com/sqdoc/sqdoc/pkg/core"
	"github.com/sqdoc/sqdoc/pkg/filter"
)

// defaultTopK bounds result lists when a retriever is built without an
// explicit limit.
const defaultTopK = 10

// BM25Option configures a BM25 retriever
type BM25Option func(*BM25Retriever)

// WithBM25Filter sets the default predicate applied to every retrieval
func WithBM25Filter(f *filter.Expr) BM25Option {
	return func(r *BM25Retriever) { r.filter = f }
}

// WithBM25TopK sets the default result limit
func WithBM25TopK(k int) BM25Option {
	return func(r *BM25Retriever) { r.topK = k }
}

// WithBM25ScaledScores rescales BM25 scores into (0, 1)
func WithBM25ScaledScores() BM25Option {
	return func(r *BM25Retriever) { r.scaleScore = true }
}

// BM25Retriever ranks documents against full-text queries. Attaching
// one enables the store's lexical index and backfills it from existing
// documents.
type BM25Retriever struct {
	store      *core.Store
	filter     *filter.Expr
	topK       int
	scaleScore bool
}

// AttachBM25Retriever builds a BM25 retriever over the store, enabling
// the lexical index if it is not enabled yet.
func AttachBM25Retriever(ctx context.Context, store *core.Store, opts ...BM25Option) (*BM25Retriever, error) {
	r := &BM25Retriever{store: store, topK: defaultTopK}
	for _, opt := range opts {
		opt(r)
	}
	if err := store.EnableLexicalIndex(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Retrieve runs the query with the retriever defaults.
func (r *BM25Retriever) Retrieve(ctx context.Context, query string) ([]core.ScoredDocument, error) {
	return r.store.SearchLexical(ctx, query, core.LexicalSearchOptions{
		Filter:     r.filter,
		TopK:       r.topK,
		ScaleScore: r.scaleScore,
	})
}

// RetrieveWith runs the query with per-call overrides. A nil predicate
// and a non-positive limit fall back to the retriever defaults.
func (r *BM25Retriever) RetrieveWith(ctx context.Context, query string, f *filter.Expr, topK int) ([]core.ScoredDocument, error) {
	if f == nil {
		f = r.filter
	}
	if topK <= 0 {
		topK = r.topK
	}
	return r.store.SearchLexical(ctx, query, core.LexicalSearchOptions{
		Filter:     f,
		TopK:       topK,
		ScaleScore: r.scaleScore,
	})
}

// EmbeddingOption configures an embedding retriever
type EmbeddingOption func(*EmbeddingRetriever)

// WithEmbeddingFilter sets the default predicate applied to every retrieval
func WithEmbeddingFilter(f *filter.Expr) EmbeddingOption {
	return func(r *EmbeddingRetriever) { r.filter = f }
}

// WithEmbeddingTopK sets the default result limit
func WithEmbeddingTopK(k int) EmbeddingOption {
	return func(r *EmbeddingRetriever) { r.topK = k }
}

// WithNumCandidates sets how many neighbours are pulled from the vector
// index before filtering
func WithNumCandidates(n int) EmbeddingOption {
	return func(r *EmbeddingRetriever) { r.numCandidates = n }
}

// WithEmbeddingScaledScores rescales similarity scores into (0, 1)
func WithEmbeddingScaledScores() EmbeddingOption {
	return func(r *EmbeddingRetriever) { r.scaleScore = true }
}

// EmbeddingRetriever ranks documents by embedding similarity against a
// caller-supplied query embedding. Attaching one enables the store's
// vector index and backfills it from stored embeddings.
type EmbeddingRetriever struct {
	store         *core.Store
	filter        *filter.Expr
	topK          int
	numCandidates int
	scaleScore    bool
}

// AttachEmbeddingRetriever builds an embedding retriever over the
// store, enabling the vector index if it is not enabled yet.
func AttachEmbeddingRetriever(ctx context.Context, store *core.Store, opts ...EmbeddingOption) (*EmbeddingRetriever, error) {
	r := &EmbeddingRetriever{store: store, topK: defaultTopK}
	for _, opt := range opts {
		opt(r)
	}
	if err := store.EnableVectorIndex(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Retrieve runs the query embedding with the retriever defaults.
func (r *EmbeddingRetriever) Retrieve(ctx context.Context, queryEmbedding []float32) ([]core.ScoredDocument, error) {
	return r.store.SearchVector(ctx, queryEmbedding, core.VectorSearchOptions{
		Filter:        r.filter,
		TopK:          r.topK,
		NumCandidates: r.numCandidates,
		ScaleScore:    r.scaleScore,
	})
}

// RetrieveWith runs the query embedding with per-call overrides. A nil
// predicate and a non-positive limit fall back to the retriever
// defaults.
func (r *EmbeddingRetriever) RetrieveWith(ctx context.Context, queryEmbedding []float32, f *filter.Expr, topK int) ([]core.ScoredDocument, error) {
	if f == nil {
		f = r.filter
	}
	if topK <= 0 {
		topK = r.topK
	}
	return r.store.SearchVector(ctx, queryEmbedding, core.VectorSearchOptions{
		Filter:        f,
		TopK:          topK,
		NumCandidates: r.numCandidates,
		ScaleScore:    r.scaleScore,
	})
}
