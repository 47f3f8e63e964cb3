package embedding

import (
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

const (
	// DefaultChunkSize is the window length in words.
	DefaultChunkSize = 200
	// DefaultChunkOverlap is the number of words shared by consecutive windows.
	DefaultChunkOverlap = 40
)

// Chunker splits text into overlapping word windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// Non-positive sizes fall back to the defaults; overlap is clamped below size.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits a document's content into chunks carrying its ID and source.
// The split is deterministic; an empty document yields no chunks.
func (c *Chunker) Chunk(doc *models.Document) []*models.Chunk {
	if doc == nil {
		return nil
	}
	words := strings.Fields(doc.Content)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	chunks := make([]*models.Chunk, 0, len(words)/step+1)
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, &models.Chunk{
			DocumentID: doc.ID,
			Source:     doc.Source,
			Text:       strings.Join(words[i:end], " "),
			Index:      len(chunks),
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// ChunkAll chunks each document in order.
func (c *Chunker) ChunkAll(docs []*models.Document) []*models.Chunk {
	var out []*models.Chunk
	for _, d := range docs {
		out = append(out, c.Chunk(d)...)
	}
	return out
}
