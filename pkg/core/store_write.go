package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sqdoc/sqdoc/internal/encoding"
)

// Write stores the given documents under the collision policy and
// returns how many were written. Documents without an id get a
// deterministic content-derived one. Each document is written in its
// own transaction together with its lexical index entry; a failure on
// one document does not abort the rest. Per-document failures are
// joined into the returned error.
func (s *Store) Write(ctx context.Context, docs []Document, policy WritePolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, wrapError("write", err)
	}

	written := 0
	var errs []error
	for i := range docs {
		d := docs[i]
		ok, err := s.writeOne(ctx, &d, policy)
		if err != nil {
			errs = append(errs, fmt.Errorf("document %q: %w", d.ID, err))
			continue
		}
		if ok {
			written++
		}
	}
	if len(errs) > 0 {
		return written, wrapError("write", errors.Join(errs...))
	}
	return written, nil
}

// writeOne validates and persists a single document. It reports whether
// the document was actually written; a skip under PolicySkip returns
// (false, nil).
func (s *Store) writeOne(ctx context.Context, d *Document, policy WritePolicy) (bool, error) {
	if d.ID == "" {
		d.ID = DeriveID(d.Content)
	}

	var blob []byte
	if d.Embedding != nil {
		if err := encoding.ValidateVector(d.Embedding); err != nil {
			return false, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if s.dim != 0 && len(d.Embedding) != s.dim {
			return false, fmt.Errorf("%w: embedding has %d dimensions, store uses %d",
				ErrValidation, len(d.Embedding), s.dim)
		}
		var err error
		blob, err = encoding.EncodeVector(d.Embedding)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	metaJSON, err := encoding.EncodeMetadata(d.Metadata)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	var metaArg any
	if metaJSON != "" {
		metaArg = metaJSON
	}
	var blobArg any
	if blob != nil {
		blobArg = blob
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rowid int64
	var oldContent string
	var oldBlob []byte
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT rowid, content, embedding FROM documents WHERE id = ?`, d.ID,
	).Scan(&rowid, &oldContent, &oldBlob)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, err
	}

	if exists {
		switch policy {
		case PolicySkip:
			return false, nil
		case PolicyOverwrite:
		default:
			return false, ErrConflict
		}
	}

	// An index mid-backfill is rebuilt from scratch on repair, so write
	// hooks only maintain a ready index.
	syncFTS := s.lexicalState == stateReady

	if exists {
		if syncFTS {
			if err := ftsDelete(ctx, tx, rowid, oldContent); err != nil {
				return false, err
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET content = ?, meta = ?, embedding = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			d.Content, metaArg, blobArg, d.ID)
		if err != nil {
			return false, err
		}
		if syncFTS {
			if err := ftsInsert(ctx, tx, rowid, d.Content); err != nil {
				return false, err
			}
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, content, meta, embedding) VALUES (?, ?, ?, ?)`,
			d.ID, d.Content, metaArg, blobArg)
		if err != nil {
			return false, err
		}
		rowid, err = res.LastInsertId()
		if err != nil {
			return false, err
		}
		if syncFTS {
			if err := ftsInsert(ctx, tx, rowid, d.Content); err != nil {
				return false, err
			}
		}
	}

	// The first embedding fixes the store dimensionality, persisted in
	// the same transaction as the document that introduced it.
	establishDim := s.dim == 0 && d.Embedding != nil
	if establishDim {
		if err := s.saveState(ctx, tx, stateKeyDim, strconv.Itoa(len(d.Embedding))); err != nil {
			return false, err
		}
	}

	// The vector index mutation is staged before commit so an engine
	// failure aborts the whole per-document unit: the transaction rolls
	// back and a failed Upsert leaves the index unchanged. A freshly
	// created index is only installed once the row is durable.
	idx := s.vecIndex
	installIdx := false
	var undoVec func()
	if s.vectorState == stateReady {
		if d.Embedding != nil {
			if idx == nil {
				idx = s.config.NewVectorIndex(len(d.Embedding))
				installIdx = true
			}
			if err := idx.Upsert(d.ID, d.Embedding); err != nil {
				return false, fmt.Errorf("vector index update: %w", err)
			}
			old := oldBlob
			mutated := idx
			undoVec = func() {
				if old != nil {
					if vec, derr := encoding.DecodeVector(old); derr == nil {
						_ = mutated.Upsert(d.ID, vec)
						return
					}
				}
				mutated.Delete(d.ID)
			}
		} else if exists && oldBlob != nil && idx != nil {
			// Overwriting without an embedding drops the vector entry.
			idx.Delete(d.ID)
			old := oldBlob
			mutated := idx
			undoVec = func() {
				if vec, derr := encoding.DecodeVector(old); derr == nil {
					_ = mutated.Upsert(d.ID, vec)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		if undoVec != nil {
			undoVec()
		}
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	if installIdx {
		s.vecIndex = idx
	}
	if establishDim {
		s.dim = len(d.Embedding)
		s.logger.Debug("embedding dimensionality established", "dim", s.dim)
	}

	return true, nil
}

// Get returns the stored documents for the given ids, keyed by id.
// Missing ids are absent from the result.
func (s *Store) Get(ctx context.Context, ids []string) (map[string]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, wrapError("get", err)
	}

	docs, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, wrapError("get", err)
	}
	return docs, nil
}

// Delete removes the documents with the given ids and returns how many
// existed. Unknown ids are ignored. The whole batch commits in one
// transaction; the vector index is updated after commit.
func (s *Store) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, wrapError("delete", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapError("delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	syncFTS := s.lexicalState == stateReady

	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		var rowid int64
		var content string
		err := tx.QueryRowContext(ctx,
			`SELECT rowid, content FROM documents WHERE id = ?`, id,
		).Scan(&rowid, &content)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, wrapError("delete", err)
		}

		if syncFTS {
			if err := ftsDelete(ctx, tx, rowid, content); err != nil {
				return 0, wrapError("delete", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return 0, wrapError("delete", err)
		}
		deleted = append(deleted, id)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError("delete", err)
	}

	if s.vecIndex != nil {
		for _, id := range deleted {
			s.vecIndex.Delete(id)
		}
	}

	return len(deleted), nil
}

// fetchByIDs loads documents in chunks to stay under SQLite's bound
// parameter limit.
func (s *Store) fetchByIDs(ctx context.Context, ids []string) (map[string]Document, error) {
	const chunkSize = 500

	out := make(map[string]Document, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, content, meta, embedding, created_at, updated_at
			 FROM documents WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[doc.ID] = doc
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// scanDocument decodes one documents row
func scanDocument(rows *sql.Rows) (Document, error) {
	var doc Document
	var meta sql.NullString
	var blob []byte

	if err := rows.Scan(&doc.ID, &doc.Content, &meta, &blob, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}

	if meta.Valid {
		m, err := encoding.DecodeMetadata(meta.String)
		if err != nil {
			return Document{}, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		doc.Metadata = m
	}
	if blob != nil {
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			return Document{}, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		doc.Embedding = vec
	}
	return doc, nil
}
