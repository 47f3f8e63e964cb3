package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

// Pipeline chunks documents and embeds chunks and queries with one embedder, so
// stored and query vectors share a space.
type Pipeline struct {
	chunker  *Chunker
	embedder Embedder
}

// NewPipeline composes a chunker and an embedder.
func NewPipeline(chunker *Chunker, embedder Embedder) *Pipeline {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &Pipeline{chunker: chunker, embedder: embedder}
}

// Chunk preprocesses and splits documents, preserving document order.
func (p *Pipeline) Chunk(docs []*models.Document) []*models.Chunk {
	var out []*models.Chunk
	for _, d := range docs {
		if d == nil {
			continue
		}
		clean := *d
		clean.Content = Preprocess(d.Content)
		out = append(out, p.chunker.Chunk(&clean)...)
	}
	return out
}

// Embed returns one vector per chunk, in chunk order.
func (p *Pipeline) Embed(ctx context.Context, chunks []*models.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

// EmbedQuery encodes a single query text.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedder.Embed(ctx, Preprocess(text))
}

// ModelName returns the embedder's model name.
func (p *Pipeline) ModelName() string {
	return p.embedder.ModelName()
}

// Dimensions returns the embedder's vector width.
func (p *Pipeline) Dimensions() int {
	return p.embedder.Dimensions()
}

// Close closes the embedder.
func (p *Pipeline) Close() error {
	return p.embedder.Close()
}
