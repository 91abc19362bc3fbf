package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sqdoc/sqdoc/pkg/filter"
)

// whereFor translates a predicate into a WHERE clause, mapping
// translator failures into the validation error class.
func whereFor(expr *filter.Expr) (string, []any, error) {
	clause, args, err := filter.ToSQL(expr)
	if err != nil {
		if errors.Is(err, filter.ErrInvalidFilter) {
			return "", nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return "", nil, err
	}
	return clause, args, nil
}

// Filter returns every document matching the predicate, ordered by id
// ascending. A nil predicate matches all documents.
func (s *Store) Filter(ctx context.Context, expr *filter.Expr) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, wrapError("filter", err)
	}

	clause, args, err := whereFor(expr)
	if err != nil {
		return nil, wrapError("filter", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, meta, embedding, created_at, updated_at
		 FROM documents WHERE `+clause+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, wrapError("filter", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, wrapError("filter", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("filter", err)
	}
	return docs, nil
}

// Count returns the number of documents matching the predicate. A nil
// predicate counts the whole store.
func (s *Store) Count(ctx context.Context, expr *filter.Expr) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return 0, wrapError("count", err)
	}

	clause, args, err := whereFor(expr)
	if err != nil {
		return 0, wrapError("count", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM documents WHERE `+clause, args...).Scan(&count)
	if err != nil {
		return 0, wrapError("count", err)
	}
	return count, nil
}
