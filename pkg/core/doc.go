// Package core implements the SQLite-backed document store engine.
//
// A single documents table is the source of truth. Two optional
// secondary indexes can be enabled on top of it: an FTS5 lexical index
// for BM25 ranking and an in-memory vector index for embedding
// similarity. Both are synchronized programmatically on every write
// and delete, inside the same transaction where possible, so the store
// never depends on database triggers.
//
// All retrieval surfaces share one score convention: higher is better.
// Equal scores are broken by document id ascending, which makes every
// result list deterministic for a fixed store state.
package core
