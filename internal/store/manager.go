package store

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Build chunks and embeds docs and replaces the store contents with a fresh index.
// Identifiers start at zero. On error the previous contents are kept.
func (s *VectorStore) Build(ctx context.Context, docs []*models.Document) ([]*models.MetadataRecord, error) {
	if s.adapter == nil {
		return nil, ErrNoAdapter
	}
	chunks := s.adapter.Chunk(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to index: %w", ErrEmptyInput)
	}
	vectors, err := s.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	dims, err := batchDimensions(vectors, 0)
	if err != nil {
		return nil, err
	}
	idx, err := vector.NewVectorIndex(s.indexType, dims)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	ids := make([]int64, len(chunks))
	for i := range ids {
		ids[i] = int64(i)
	}
	if err := idx.Add(ctx, ids, normalizeAll(vectors)); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("insert vectors: %w", err)
	}

	if s.index != nil {
		_ = s.index.Close()
	}
	s.index = idx
	s.records = make(map[int64]*models.MetadataRecord, len(chunks))
	s.order = make([]int64, 0, len(chunks))
	s.nextID = 0
	records := s.register(ids, chunks)
	s.state = StateBuilt

	s.logger.Info("Built index",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Int("dimensions", dims),
		zap.String("index_type", idx.Type()))
	return records, nil
}

// Add normalizes and inserts a batch of vectors with their chunk metadata and
// returns the assigned identifiers. The first batch creates the index and fixes
// its dimensionality. The index is unchanged when an error is returned.
func (s *VectorStore) Add(ctx context.Context, vectors [][]float32, chunks []*models.Chunk) ([]int64, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("vectors and metadata length mismatch: %d vs %d", len(vectors), len(chunks))
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	dims, err := batchDimensions(vectors, s.Dimensions())
	if err != nil {
		return nil, err
	}

	idx := s.index
	created := false
	if idx == nil {
		idx, err = vector.NewVectorIndex(s.indexType, dims)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		created = true
	}

	ids := make([]int64, len(vectors))
	for i := range ids {
		ids[i] = s.nextID + int64(i)
	}
	if err := idx.Add(ctx, ids, normalizeAll(vectors)); err != nil {
		if created {
			_ = idx.Close()
		}
		return nil, fmt.Errorf("insert vectors: %w", err)
	}
	s.index = idx
	s.register(ids, chunks)
	s.state = StateBuilt

	s.logger.Info("Added vectors",
		zap.Int("count", len(ids)),
		zap.Int64("first_id", ids[0]),
		zap.Int64("last_id", ids[len(ids)-1]))
	return ids, nil
}

// AddDocuments chunks and embeds docs and inserts them with Add.
func (s *VectorStore) AddDocuments(ctx context.Context, docs []*models.Document) ([]*models.MetadataRecord, error) {
	if s.adapter == nil {
		return nil, ErrNoAdapter
	}
	chunks := s.adapter.Chunk(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to index: %w", ErrEmptyInput)
	}
	vectors, err := s.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	ids, err := s.Add(ctx, vectors, chunks)
	if err != nil {
		return nil, err
	}
	records := make([]*models.MetadataRecord, len(ids))
	for i, id := range ids {
		records[i] = s.records[id]
	}
	return records, nil
}

func (s *VectorStore) embed(ctx context.Context, chunks []*models.Chunk) ([][]float32, error) {
	vectors, err := s.adapter.Embed(ctx, chunks)
	if err != nil {
		return nil, encodingError(s.modelName(), err)
	}
	if len(vectors) != len(chunks) {
		return nil, encodingError(s.modelName(),
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	return vectors, nil
}

// register records metadata for ids and advances the counter past them.
func (s *VectorStore) register(ids []int64, chunks []*models.Chunk) []*models.MetadataRecord {
	records := make([]*models.MetadataRecord, len(ids))
	for i, id := range ids {
		r := models.RecordFromChunk(id, chunks[i])
		s.records[id] = r
		s.order = append(s.order, id)
		records[i] = r
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return records
}

// batchDimensions returns the common width of vectors. When want is non-zero every
// vector must have that width. Vectors that cannot be normalized are rejected.
func batchDimensions(vectors [][]float32, want int) (int, error) {
	if want == 0 {
		want = len(vectors[0])
	}
	if want == 0 {
		return 0, fmt.Errorf("vectors must not be empty")
	}
	for _, v := range vectors {
		if len(v) != want {
			return 0, &DimensionMismatchError{Expected: want, Got: len(v)}
		}
	}
	for i, v := range vectors {
		if n := utils.L2Norm(v); !(n > 0) || math.IsInf(n, 0) {
			return 0, &ZeroVectorError{Position: i}
		}
	}
	return want, nil
}

func normalizeAll(vectors [][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = utils.NormalizedCopy(v)
	}
	return out
}
