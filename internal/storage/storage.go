// Package storage keeps the document catalog: which documents were ingested,
// their source fingerprints and the vector IDs their chunks were stored under.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document catalog operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// DocumentFingerprints returns the fingerprint of every document keyed by ID.
	DocumentFingerprints(ctx context.Context) (map[string]string, error)

	// Chunk operations
	BatchCreateChunks(ctx context.Context, rows []*models.ChunkRow) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.ChunkRow, error)
	GetChunkByVectorID(ctx context.Context, vectorID int64) (*models.ChunkRow, error)

	// Reset removes every document and chunk. Used before a full rebuild.
	Reset(ctx context.Context) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
