package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqdoc/sqdoc/pkg/filter"
	"github.com/sqdoc/sqdoc/pkg/index"
)

// dotProductScalingFactor flattens raw dot products before the sigmoid
// when score scaling is requested on a dot-product store.
const dotProductScalingFactor = 100.0

// ScoreScaler maps a raw similarity score into (0, 1).
type ScoreScaler func(float64) float64

// CosineScoreScaler rescales cosine similarity from [-1, 1] to [0, 1].
func CosineScoreScaler(score float64) float64 {
	return (score + 1) / 2
}

// DotProductScoreScaler squashes unbounded dot products into (0, 1).
func DotProductScoreScaler(score float64) float64 {
	return expit(score / dotProductScalingFactor)
}

// VectorSearchOptions tune a single embedding search.
type VectorSearchOptions struct {
	// Filter restricts results after ranking. Nil means no restriction.
	Filter *filter.Expr
	// TopK is the maximum number of results and must be positive.
	TopK int
	// NumCandidates is how many nearest neighbours to pull from the
	// index before the filter is applied. Zero uses the store default.
	NumCandidates int
	// ScaleScore maps raw similarity into (0, 1) via the configured
	// scaler.
	ScaleScore bool
}

// SearchVector returns the documents whose embeddings are most similar
// to the query embedding, best first, ties broken by id ascending.
// When a filter is present it is applied to an over-fetched candidate
// pool, so heavily filtered stores may return fewer than TopK results;
// raise NumCandidates to compensate.
func (s *Store) SearchVector(ctx context.Context, queryEmbedding []float32, opts VectorSearchOptions) ([]ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, wrapError("vector_search", err)
	}
	switch s.vectorState {
	case stateNone:
		return nil, wrapError("vector_search", fmt.Errorf("%w: vector index not enabled", ErrNotConfigured))
	case stateBackfilling:
		return nil, wrapError("vector_search", fmt.Errorf("%w: vector index backfill did not complete", ErrConsistency))
	}
	if s.dim == 0 || s.vecIndex == nil {
		return nil, wrapError("vector_search", fmt.Errorf("%w: no document carries an embedding yet", ErrNotConfigured))
	}

	if opts.TopK <= 0 {
		return nil, wrapError("vector_search", fmt.Errorf("%w: top k must be positive", ErrValidation))
	}
	if len(queryEmbedding) != s.dim {
		return nil, wrapError("vector_search", fmt.Errorf("%w: query embedding has %d dimensions, store uses %d",
			ErrValidation, len(queryEmbedding), s.dim))
	}

	pool := opts.NumCandidates
	if pool <= 0 {
		pool = s.config.NumCandidates
	}
	if pool < opts.TopK {
		pool = opts.TopK
	}

	k := opts.TopK
	if opts.Filter != nil {
		k = pool
	}

	cands, err := s.vecIndex.Search(queryEmbedding, k)
	if err != nil {
		return nil, wrapError("vector_search", fmt.Errorf("%w: %v", ErrValidation, err))
	}

	if opts.Filter != nil && len(cands) > 0 {
		cands, err = s.filterCandidates(ctx, cands, opts.Filter)
		if err != nil {
			return nil, wrapError("vector_search", err)
		}
	}
	if len(cands) > opts.TopK {
		cands = cands[:opts.TopK]
	}
	if len(cands) == 0 {
		return nil, nil
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	docs, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, wrapError("vector_search", err)
	}

	scale := s.config.VectorScoreScaler
	out := make([]ScoredDocument, 0, len(cands))
	for _, c := range cands {
		doc, ok := docs[c.ID]
		if !ok {
			return nil, wrapError("vector_search",
				fmt.Errorf("%w: index refers to missing document %q", ErrConsistency, c.ID))
		}
		score := c.Score
		if opts.ScaleScore {
			score = scale(score)
		}
		out = append(out, ScoredDocument{Document: doc, Score: score})
	}
	return out, nil
}

// filterCandidates drops candidates whose documents fail the predicate,
// preserving ranked order.
func (s *Store) filterCandidates(ctx context.Context, cands []index.Candidate, expr *filter.Expr) ([]index.Candidate, error) {
	clause, filterArgs, err := whereFor(expr)
	if err != nil {
		return nil, err
	}

	const chunkSize = 400

	allowed := make(map[string]struct{}, len(cands))
	for start := 0; start < len(cands); start += chunkSize {
		end := start + chunkSize
		if end > len(cands) {
			end = len(cands)
		}
		chunk := cands[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(chunk)+len(filterArgs))
		for _, c := range chunk {
			args = append(args, c.ID)
		}
		args = append(args, filterArgs...)

		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM documents WHERE id IN (`+placeholders+`) AND (`+clause+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			allowed[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	kept := cands[:0:0]
	for _, c := range cands {
		if _, ok := allowed[c.ID]; ok {
			kept = append(kept, c)
		}
	}
	return kept, nil
}
