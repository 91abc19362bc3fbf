package core

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/sqdoc/sqdoc/internal/encoding"
	"github.com/sqdoc/sqdoc/pkg/index"
)

// ftsInsert adds one row to the external-content lexical index
func ftsInsert(ctx context.Context, tx *sql.Tx, rowid int64, content string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (rowid, content) VALUES (?, ?)`, rowid, content)
	if err != nil {
		return fmt.Errorf("lexical index insert: %w", err)
	}
	return nil
}

// ftsDelete removes one row from the lexical index. External-content
// FTS5 requires the previously indexed values to be passed back.
func ftsDelete(ctx context.Context, tx *sql.Tx, rowid int64, content string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (documents_fts, rowid, content) VALUES ('delete', ?, ?)`,
		rowid, content)
	if err != nil {
		return fmt.Errorf("lexical index delete: %w", err)
	}
	return nil
}

// createLexicalTable creates the FTS5 table if it does not exist yet.
// content='documents' keeps the index external-content: FTS stores only
// the inverted index and reads row text from the document table.
func (s *Store) createLexicalTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			content,
			content='documents',
			content_rowid='rowid'
		)`)
	if err != nil {
		return fmt.Errorf("failed to create lexical index table: %w", err)
	}
	return nil
}

// EnableLexicalIndex turns on BM25 retrieval and backfills the index
// from the document table. Calling it again rebuilds the index from
// scratch, which also repairs an index left mid-backfill by a crash.
// Writers are blocked for the duration; readers proceed under WAL.
func (s *Store) EnableLexicalIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return wrapError("enable_lexical", err)
	}

	if err := s.createLexicalTable(ctx); err != nil {
		return wrapError("enable_lexical", err)
	}

	// Persist the backfilling marker first: if this process dies below,
	// the next one sees a half-built index and reports it as such.
	if err := s.saveState(ctx, s.db, stateKeyLexical, string(stateBackfilling)); err != nil {
		return wrapError("enable_lexical", err)
	}
	s.lexicalState = stateBackfilling

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents_fts (documents_fts) VALUES ('delete-all')`); err != nil {
		return wrapError("enable_lexical", fmt.Errorf("failed to reset lexical index: %w", err))
	}

	total := 0
	lastRowid := int64(0)
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT rowid, content FROM documents WHERE rowid > ? ORDER BY rowid LIMIT ?`,
			lastRowid, s.config.BackfillChunkSize)
		if err != nil {
			return wrapError("enable_lexical", err)
		}

		type entry struct {
			rowid   int64
			content string
		}
		var chunk []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.rowid, &e.content); err != nil {
				_ = rows.Close()
				return wrapError("enable_lexical", err)
			}
			chunk = append(chunk, e)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return wrapError("enable_lexical", err)
		}
		_ = rows.Close()

		if len(chunk) == 0 {
			break
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return wrapError("enable_lexical", err)
		}
		for _, e := range chunk {
			if err := ftsInsert(ctx, tx, e.rowid, e.content); err != nil {
				_ = tx.Rollback()
				return wrapError("enable_lexical", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return wrapError("enable_lexical", err)
		}

		total += len(chunk)
		lastRowid = chunk[len(chunk)-1].rowid
		s.logger.Debug("lexical backfill progress", "indexed", total)
	}

	if err := s.saveState(ctx, s.db, stateKeyLexical, string(stateReady)); err != nil {
		return wrapError("enable_lexical", err)
	}
	s.lexicalState = stateReady
	s.logger.Info("lexical index ready", "documents", total)
	return nil
}

// EnableVectorIndex turns on embedding retrieval and builds the
// in-memory index from every stored embedding. Calling it again
// rebuilds from scratch. Writers are blocked for the duration.
func (s *Store) EnableVectorIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return wrapError("enable_vector", err)
	}

	if err := s.saveState(ctx, s.db, stateKeyVector, string(stateBackfilling)); err != nil {
		return wrapError("enable_vector", err)
	}
	s.vectorState = stateBackfilling

	if s.dim == 0 {
		// No embedding written yet; the index materializes on the
		// first embedding-bearing write.
		s.vecIndex = nil
	} else {
		idx, total, err := s.buildVectorIndex(ctx)
		if err != nil {
			return wrapError("enable_vector", err)
		}
		s.vecIndex = idx
		s.logger.Info("vector index ready", "vectors", total, "dim", s.dim)
	}

	if err := s.saveState(ctx, s.db, stateKeyVector, string(stateReady)); err != nil {
		return wrapError("enable_vector", err)
	}
	s.vectorState = stateReady
	return nil
}

// rebuildVectorIndexLocked restores the in-memory index on Init when a
// previous process left the vector index enabled. Caller holds mu.
func (s *Store) rebuildVectorIndexLocked(ctx context.Context) error {
	if s.dim == 0 {
		s.vecIndex = nil
		return nil
	}
	idx, total, err := s.buildVectorIndex(ctx)
	if err != nil {
		return err
	}
	s.vecIndex = idx
	s.logger.Debug("vector index restored", "vectors", total)
	return nil
}

// buildVectorIndex scans every embedding-bearing row into a fresh
// index. Blob decoding fans out across CPUs; the chunked keyset scan
// keeps memory bounded.
func (s *Store) buildVectorIndex(ctx context.Context) (index.VectorIndex, int, error) {
	idx := s.config.NewVectorIndex(s.dim)

	total := 0
	lastRowid := int64(0)
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT rowid, id, embedding FROM documents
			 WHERE embedding IS NOT NULL AND rowid > ?
			 ORDER BY rowid LIMIT ?`,
			lastRowid, s.config.BackfillChunkSize)
		if err != nil {
			return nil, 0, err
		}

		type entry struct {
			rowid int64
			id    string
			blob  []byte
		}
		var chunk []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.rowid, &e.id, &e.blob); err != nil {
				_ = rows.Close()
				return nil, 0, err
			}
			chunk = append(chunk, e)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, 0, err
		}
		_ = rows.Close()

		if len(chunk) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for _, e := range chunk {
			g.Go(func() error {
				vec, err := encoding.DecodeVector(e.blob)
				if err != nil {
					return fmt.Errorf("%w: document %q: %v", ErrConsistency, e.id, err)
				}
				if err := idx.Upsert(e.id, vec); err != nil {
					return fmt.Errorf("%w: document %q: %v", ErrConsistency, e.id, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}

		total += len(chunk)
		lastRowid = chunk[len(chunk)-1].rowid
	}

	return idx, total, nil
}
