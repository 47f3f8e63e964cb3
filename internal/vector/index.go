// Package vector provides flat inner-product vector indexes keyed by explicit int64 IDs.
package vector

import (
	"context"
	"fmt"
)

// VectorIndex defines vector storage and exact similarity search.
// Vectors are expected to be unit-normalized by the caller so that the
// inner product equals cosine similarity.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Contains(id int64) bool
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    int64
	Score float64 // Inner product (cosine similarity for normalized vectors)
}

// DimensionMismatchError reports a vector whose width differs from the index dimensionality.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Expected)
}

// checkBatch validates a batch before anything is inserted, so a failed Add leaves the index unchanged.
func checkBatch(ids []int64, vectors [][]float32, dimensions int, exists func(int64) bool) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	seen := make(map[int64]struct{}, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != dimensions {
			return &DimensionMismatchError{Expected: dimensions, Got: len(vectors[i])}
		}
		if _, dup := seen[id]; dup || exists(id) {
			return fmt.Errorf("duplicate vector id %d", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
