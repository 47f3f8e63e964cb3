package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Search runs an exact inner-product search for query, keeps up to topK candidates
// in descending score order and drops those scoring below minScore. The query is
// normalized before searching. When nothing survives the threshold the result is
// the single no-match sentinel.
func (s *VectorStore) Search(ctx context.Context, query []float32, topK int, minScore float64) (models.Results, error) {
	if s.index == nil {
		return nil, ErrIndexNotInitialized
	}
	if dims := s.index.Dimensions(); len(query) != dims {
		return nil, &DimensionMismatchError{Expected: dims, Got: len(query)}
	}
	k := s.resolveTopK(topK)

	hits, err := s.index.Search(ctx, utils.NormalizedCopy(query), k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	results := make(models.Results, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		rec, ok := s.records[h.ID]
		if !ok {
			return nil, corrupt(s.dir, fmt.Sprintf("no metadata for vector id %d", h.ID), nil)
		}
		results = append(results, &models.QueryResult{
			ID:       h.ID,
			Score:    h.Score,
			Metadata: rec,
		})
	}

	s.logger.Debug("Search",
		zap.Int("top_k", k),
		zap.Float64("min_score", minScore),
		zap.Int("candidates", len(hits)),
		zap.Int("hits", len(results)))

	if len(results) == 0 {
		return models.Results{models.NoMatchResult()}, nil
	}
	return results, nil
}

// Query encodes text with the adapter and searches with the store's relevance threshold.
func (s *VectorStore) Query(ctx context.Context, text string, topK int) (models.Results, error) {
	if s.index == nil {
		return nil, ErrIndexNotInitialized
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query text: %w", ErrEmptyInput)
	}
	if s.adapter == nil {
		return nil, ErrNoAdapter
	}
	vec, err := s.adapter.EmbedQuery(ctx, text)
	if err != nil {
		return nil, encodingError(s.modelName(), err)
	}
	return s.Search(ctx, vec, topK, s.minScore)
}
