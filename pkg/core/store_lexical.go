package core

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/sqdoc/sqdoc/internal/encoding"
	"github.com/sqdoc/sqdoc/pkg/filter"
)

// bm25ScalingFactor flattens raw BM25 magnitudes before the sigmoid
// when score scaling is requested.
const bm25ScalingFactor = 8.0

// expit is the logistic sigmoid
func expit(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// classifyMatchErr maps FTS5 query-syntax failures onto the validation
// error class; a malformed MATCH expression is the caller's input, not
// an engine fault. Other errors pass through untouched.
func classifyMatchErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: malformed query: %v", ErrValidation, err)
	}
	return err
}

// LexicalSearchOptions tune a single lexical search.
type LexicalSearchOptions struct {
	// Filter restricts candidates before ranking. Nil means no restriction.
	Filter *filter.Expr
	// TopK is the maximum number of results and must be positive.
	TopK int
	// ScaleScore maps raw BM25 scores into (0, 1).
	ScaleScore bool
}

// SearchLexical ranks documents matching the full-text query by BM25.
// Results are ordered best first; equal-ranking documents are ordered
// by id ascending. Raw scores are negated BM25 ranks, so higher is
// better, consistent with vector scores.
func (s *Store) SearchLexical(ctx context.Context, query string, opts LexicalSearchOptions) ([]ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, wrapError("lexical_search", err)
	}
	switch s.lexicalState {
	case stateNone:
		return nil, wrapError("lexical_search", fmt.Errorf("%w: lexical index not enabled", ErrNotConfigured))
	case stateBackfilling:
		return nil, wrapError("lexical_search", fmt.Errorf("%w: lexical index backfill did not complete", ErrConsistency))
	}

	if strings.TrimSpace(query) == "" {
		return nil, wrapError("lexical_search", fmt.Errorf("%w: query must not be empty", ErrValidation))
	}
	if opts.TopK <= 0 {
		return nil, wrapError("lexical_search", fmt.Errorf("%w: top k must be positive", ErrValidation))
	}

	clause, args, err := whereFor(opts.Filter)
	if err != nil {
		return nil, wrapError("lexical_search", err)
	}

	// The filtered document subquery keeps bare column names away from
	// the FTS table, whose content column would otherwise shadow them.
	stmt := `
		SELECT a.id, a.content, a.meta, a.embedding, a.created_at, a.updated_at, b.rank
		FROM (SELECT rowid, id, content, meta, embedding, created_at, updated_at
		      FROM documents WHERE ` + clause + `) a
		JOIN (SELECT rowid, bm25(documents_fts) AS rank
		      FROM documents_fts WHERE documents_fts MATCH ?) b
		  ON a.rowid = b.rowid
		ORDER BY b.rank ASC, a.id ASC
		LIMIT ?`
	args = append(args, query, opts.TopK)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapError("lexical_search", classifyMatchErr(err))
	}
	defer func() { _ = rows.Close() }()

	var out []ScoredDocument
	for rows.Next() {
		var doc Document
		var meta sql.NullString
		var blob []byte
		var rank float64
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &blob,
			&doc.CreatedAt, &doc.UpdatedAt, &rank); err != nil {
			return nil, wrapError("lexical_search", err)
		}
		if meta.Valid {
			m, err := encoding.DecodeMetadata(meta.String)
			if err != nil {
				return nil, wrapError("lexical_search", fmt.Errorf("document %q: %w", doc.ID, err))
			}
			doc.Metadata = m
		}
		if blob != nil {
			vec, err := encoding.DecodeVector(blob)
			if err != nil {
				return nil, wrapError("lexical_search", fmt.Errorf("document %q: %w", doc.ID, err))
			}
			doc.Embedding = vec
		}

		// bm25() ranks best matches most negative; negate so that
		// higher means better.
		score := -rank
		if opts.ScaleScore {
			score = expit(score / bm25ScalingFactor)
		}
		out = append(out, ScoredDocument{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("lexical_search", classifyMatchErr(err))
	}
	return out, nil
}
