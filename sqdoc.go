// Package sqdoc provides an embedded SQLite-backed document store with
// metadata filtering, BM25 full-text retrieval, and embedding
// similarity retrieval behind one API.
package sqdoc

import (
	"context"
	"fmt"

	"github.com/sqdoc/sqdoc/pkg/core"
)

// Config represents database configuration
type Config struct {
	Path       string              // Database file path
	Similarity core.SimilarityFunc // Similarity function (default: cosine)
	Logger     core.Logger         // Diagnostics sink (default: discard)
}

// DefaultConfig returns default configuration
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		Similarity: core.CosineSimilarity,
	}
}

// DB represents a document database instance
type DB struct {
	store *core.Store
}

// Open opens or creates a document database at the configured path.
func Open(ctx context.Context, config Config) (*DB, error) {
	coreConfig := core.DefaultConfig(config.Path)
	if config.Similarity != nil {
		coreConfig.Similarity = config.Similarity
	}
	if config.Logger != nil {
		coreConfig.Logger = config.Logger
	}

	store, err := core.NewWithConfig(coreConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &DB{store: store}, nil
}

// Store returns the underlying document store
func (db *DB) Store() *core.Store {
	return db.store
}

// Close closes the database
func (db *DB) Close() error {
	return db.store.Close()
}
