//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/MetaIndexes_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex is a vector index backed by a FAISS IndexIDMap wrapping IndexFlatIP.
// Search is exact; for normalized vectors the inner product equals cosine similarity.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	ids        map[int64]struct{}
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var flat *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&flat, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	var idmap *C.FaissIndexIDMap
	if ret := C.faiss_IndexIDMap_new(&idmap, (*C.FaissIndex)(flat)); ret != 0 {
		C.faiss_Index_free((*C.FaissIndex)(flat))
		return nil, fmt.Errorf("failed to create FAISS id map: %s", faissLastError())
	}
	// The id map owns and frees the flat index.
	C.faiss_IndexIDMap_set_own_fields(idmap, 1)

	return &FAISSIndex{
		index:      (*C.FaissIndex)(idmap),
		dimensions: dimensions,
		ids:        make(map[int64]struct{}),
	}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add inserts vectors under the given IDs. The whole batch is validated first.
func (f *FAISSIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkBatch(ids, vectors, f.dimensions, func(id int64) bool {
		_, ok := f.ids[id]
		return ok
	}); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	// Flatten vectors into contiguous array for FAISS
	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}
	labels := make([]C.idx_t, n)
	for i, id := range ids {
		labels[i] = C.idx_t(id)
	}

	ret := C.faiss_Index_add_with_ids(
		f.index,
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&flat[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
	return nil
}

// Search returns the top-k vectors by inner product, highest first.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, &DimensionMismatchError{Expected: f.dimensions, Got: len(query)}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]C.idx_t, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		results = append(results, &VectorResult{
			ID:    int64(labels[i]),
			Score: float64(distances[i]),
		})
	}
	// FAISS does not order equal scores; keep ascending IDs like MemoryIndex.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Save persists the index (vectors and id map) to path in FAISS's native format.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("empty index path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	return nil
}

// Load reads an index written by Save and replaces the current contents.
func (f *FAISSIndex) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open index file: %w", err)
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return &DimensionMismatchError{Expected: f.dimensions, Got: d}
	}
	idmap := C.faiss_IndexIDMap_cast(loaded)
	if idmap == nil {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("FAISS index at %s has no id map", path)
	}

	var raw *C.idx_t
	var n C.size_t
	C.faiss_IndexIDMap_id_map(idmap, &raw, &n)
	ids := make(map[int64]struct{}, int(n))
	if n > 0 {
		for _, id := range unsafe.Slice(raw, int(n)) {
			if _, dup := ids[int64(id)]; dup {
				C.faiss_Index_free(loaded)
				return fmt.Errorf("duplicate vector id %d in index file", int64(id))
			}
			ids[int64(id)] = struct{}{}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.ids = ids
	return nil
}

// Contains reports whether id is stored.
func (f *FAISSIndex) Contains(id int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ids[id]
	return ok
}

// Size returns the number of vectors in the index.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return 0
	}
	return int(C.faiss_Index_ntotal(f.index))
}

// Dimensions returns the fixed vector width.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
