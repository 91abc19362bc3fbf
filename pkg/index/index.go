// Package index defines the contract a vector index engine must satisfy to
// back the store's nearest-neighbor retrieval, and provides Flat, an exact
// brute-force engine.
//
// The store treats the engine as an external collaborator: it only requires
// insert-or-replace by key, delete by key, and a top-k query whose scores are
// similarities (higher is better) under the engine's configured metric.
package index

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimensionality the index was created with.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Similarity scores two vectors of equal length; higher means more similar.
type Similarity func(a, b []float32) float64

// Candidate is one ranked result of a nearest-neighbor query.
type Candidate struct {
	ID    string
	Score float64
}

// VectorIndex is the engine contract for nearest-neighbor retrieval.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Upsert inserts or replaces the vector stored under id.
	Upsert(id string, vector []float32) error

	// Delete removes the entry for id; absent ids are a no-op.
	Delete(id string)

	// Search returns up to k candidates ordered by descending score,
	// ties broken by ascending id.
	Search(query []float32, k int) ([]Candidate, error)

	// Len reports the number of stored entries.
	Len() int

	// Dims reports the fixed dimensionality of stored vectors.
	Dims() int
}

func checkDims(want, got int) error {
	if want != got {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, got)
	}
	return nil
}
