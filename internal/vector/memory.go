package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory flat index using exact brute-force inner product search.
type MemoryIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	positions  map[int64]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		positions:  make(map[int64]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the fixed vector width.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add inserts vectors under the given IDs. The whole batch is validated first;
// on error nothing is inserted.
func (m *MemoryIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBatch(ids, vectors, m.dimensions, func(id int64) bool {
		_, ok := m.positions[id]
		return ok
	}); err != nil {
		return err
	}
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.positions[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k vectors by inner product, highest first. Ties are ordered by ascending ID.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, &DimensionMismatchError{Expected: m.dimensions, Got: len(query)}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	scores := make([]VectorResult, len(m.ids))
	for i, vec := range m.vectors {
		scores[i] = VectorResult{ID: m.ids[i], Score: InnerProduct(query, vec)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		r := scores[i]
		result[i] = &r
	}
	return result, nil
}

// Vector returns a copy of the stored vector for id.
func (m *MemoryIndex) Vector(id int64) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, m.dimensions)
	copy(out, m.vectors[pos])
	return out, true
}

// Contains reports whether id is stored.
func (m *MemoryIndex) Contains(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[id]
	return ok
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
