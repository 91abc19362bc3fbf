package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sqdoc/sqdoc/pkg/index"

	_ "modernc.org/sqlite" // SQLite driver
)

// indexState tracks the lifecycle of a secondary index.
type indexState string

const (
	stateNone        indexState = ""
	stateBackfilling indexState = "backfilling"
	stateReady       indexState = "ready"
)

// store_state keys
const (
	stateKeyDim     = "embedding_dim"
	stateKeyLexical = "lexical_index"
	stateKeyVector  = "vector_index"
)

// Store is a SQLite-backed document store with optional lexical and
// vector retrieval. The document table is the single source of truth;
// both indexes are kept in sync programmatically on every write.
type Store struct {
	db     *sql.DB
	config Config
	logger Logger

	mu     sync.RWMutex
	closed bool

	// dim is the established embedding dimensionality, 0 until the
	// first embedding-bearing write
	dim int

	lexicalState indexState
	vectorState  indexState

	// vecIndex mirrors every live document that carries an embedding.
	// It is volatile; Init rebuilds it from the table.
	vecIndex index.VectorIndex
}

// New creates a document store at the given path with default configuration
func New(path string) (*Store, error) {
	return NewWithConfig(DefaultConfig(path))
}

// NewWithConfig creates a document store with custom configuration
func NewWithConfig(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, wrapError("init", fmt.Errorf("%w: database path cannot be empty", ErrValidation))
	}
	if config.Similarity == nil {
		config.Similarity = CosineSimilarity
	}
	if config.NewVectorIndex == nil {
		sim := config.Similarity
		config.NewVectorIndex = func(dims int) index.VectorIndex {
			return index.NewFlat(dims, index.Similarity(sim))
		}
	}
	if config.BackfillChunkSize <= 0 {
		config.BackfillChunkSize = 256
	}
	if config.NumCandidates <= 0 {
		config.NumCandidates = 100
	}
	if config.VectorScoreScaler == nil {
		config.VectorScoreScaler = CosineScoreScaler
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}

	return &Store{
		config: config,
		logger: config.Logger,
	}, nil
}

// Init opens the database, creates the schema, and restores index state
// persisted by a previous process.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	// _journal_mode=WAL: readers proceed while a writer holds the db
	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	// _cache_size=-2000: 2MB page cache (negative value = KB)
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	s.db = db

	if err := s.createTables(ctx); err != nil {
		return wrapError("init", err)
	}
	if err := s.loadState(ctx); err != nil {
		return wrapError("init", err)
	}

	// The FTS table persists in the database file; make sure it exists
	// before write hooks start touching it.
	if s.lexicalState != stateNone {
		if err := s.createLexicalTable(ctx); err != nil {
			return wrapError("init", err)
		}
	}

	switch s.vectorState {
	case stateReady:
		if err := s.rebuildVectorIndexLocked(ctx); err != nil {
			return wrapError("init", err)
		}
	case stateBackfilling:
		s.logger.Warn("vector index backfill was interrupted; re-enable to repair")
	}
	if s.lexicalState == stateBackfilling {
		s.logger.Warn("lexical index backfill was interrupted; re-enable to repair")
	}

	s.logger.Info("store initialized",
		"path", s.config.Path,
		"dim", s.dim,
		"lexical", string(s.lexicalState),
		"vector", string(s.vectorState),
	)
	return nil
}

// Close releases the database handle. The store cannot be reused.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return wrapError("close", err)
		}
	}
	return nil
}

// createTables creates the document table and the state table
func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT NOT NULL PRIMARY KEY,
		content TEXT NOT NULL DEFAULT '',
		meta TEXT,
		embedding BLOB,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS store_state (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// loadState restores dimensionality and index lifecycle markers
func (s *Store) loadState(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM store_state`)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to scan state: %w", err)
		}
		switch key {
		case stateKeyDim:
			dim, err := strconv.Atoi(value)
			if err != nil || dim <= 0 {
				return fmt.Errorf("corrupt %s state %q", stateKeyDim, value)
			}
			s.dim = dim
		case stateKeyLexical:
			s.lexicalState = indexState(value)
		case stateKeyVector:
			s.vectorState = indexState(value)
		}
	}
	return rows.Err()
}

// ready reports whether the store can serve operations. Callers hold mu.
func (s *Store) ready() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// saveState persists a state key, replacing any previous value
func (s *Store) saveState(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO store_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

// Dimensions returns the established embedding dimensionality, or 0 if
// no embedding has been written yet.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}
