// Package embedding turns documents into chunks and chunks into vectors.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}

const (
	// ProviderHash selects the deterministic feature-hashing embedder.
	ProviderHash = "hash"
	// ProviderONNX selects the ONNX Runtime sentence-transformer embedder.
	ProviderONNX = "onnx"
)
