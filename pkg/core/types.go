package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sqdoc/sqdoc/pkg/index"
)

// Document is a unit of stored content: free text, arbitrary JSON-like
// metadata, and an optional embedding vector.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// ScoredDocument is a document paired with a retrieval score.
// Higher scores always mean better matches, for both lexical and
// vector retrieval.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// WritePolicy controls how Write resolves id collisions.
type WritePolicy int

const (
	// PolicyFail rejects writes whose id already exists
	PolicyFail WritePolicy = iota
	// PolicyOverwrite replaces the existing document
	PolicyOverwrite
	// PolicySkip silently drops colliding writes
	PolicySkip
)

// String returns the string representation of the write policy
func (p WritePolicy) String() string {
	switch p {
	case PolicyFail:
		return "fail"
	case PolicyOverwrite:
		return "overwrite"
	case PolicySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseWritePolicy converts a policy name into a WritePolicy.
func ParseWritePolicy(name string) (WritePolicy, error) {
	switch name {
	case "fail", "":
		return PolicyFail, nil
	case "overwrite":
		return PolicyOverwrite, nil
	case "skip":
		return PolicySkip, nil
	default:
		return PolicyFail, fmt.Errorf("%w: unknown write policy %q", ErrValidation, name)
	}
}

// Config holds store configuration
type Config struct {
	// Path is the SQLite database file path
	Path string

	// Similarity scores candidate vectors against the query vector.
	// Defaults to CosineSimilarity.
	Similarity SimilarityFunc

	// NewVectorIndex builds the in-memory vector index for the given
	// dimensionality. Defaults to the brute-force flat index.
	NewVectorIndex func(dims int) index.VectorIndex

	// BackfillChunkSize is the number of rows indexed per transaction
	// during index backfill. Defaults to 256.
	BackfillChunkSize int

	// NumCandidates is the size of the candidate pool fetched from the
	// vector index before metadata filtering. Defaults to 100.
	NumCandidates int

	// VectorScoreScaler maps raw similarity scores into (0, 1) when a
	// search asks for scaled scores. Defaults to CosineScoreScaler;
	// stores configured with DotProduct should use
	// DotProductScoreScaler.
	VectorScoreScaler ScoreScaler

	// Logger receives store diagnostics. Defaults to NopLogger.
	Logger Logger
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		Similarity:        CosineSimilarity,
		BackfillChunkSize: 256,
		NumCandidates:     100,
		VectorScoreScaler: CosineScoreScaler,
		Logger:            NopLogger(),
	}
}

// idNamespace seeds content-derived document ids so that the same
// content always maps to the same id across processes.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("sqdoc.store"))

// DeriveID returns the deterministic id assigned to documents written
// without an explicit one.
func DeriveID(content string) string {
	return uuid.NewSHA1(idNamespace, []byte(content)).String()
}
