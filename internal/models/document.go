// Package models defines core data structures for documents, chunks, metadata, and query results.
package models

import "time"

// Document represents a loaded source document with metadata.
type Document struct {
	ID          string                 `json:"id" db:"id"`
	Title       string                 `json:"title" db:"title"`
	Source      string                 `json:"source" db:"source"`
	Content     string                 `json:"content" db:"content"`
	Fingerprint string                 `json:"fingerprint,omitempty" db:"fingerprint"` // source file size and mtime
	Metadata    map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the input for submitting a document through the API.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Source   string                 `json:"source,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk is a bounded span of document text with provenance. It is the unit that
// gets embedded and indexed, and is not modified after the chunker produces it.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Text       string `json:"text"`
	Index      int    `json:"chunk_index"`
}

// ChunkRow is the catalog row linking a chunk to the vector ID it was stored under.
type ChunkRow struct {
	VectorID   int64     `json:"vector_id" db:"vector_id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
