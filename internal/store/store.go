// Package store implements the vector store: an ID-mapped flat similarity index,
// its metadata registry, query-time relevance filtering and on-disk persistence.
//
// A VectorStore has no internal locking. Callers that share one across goroutines
// must serialize access themselves.
package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	// DefaultTopK is the number of results returned when the caller does not ask for a count.
	DefaultTopK = 3
	// DefaultMinScore is the relevance threshold used by Query.
	DefaultMinScore = 0.1
)

// Adapter is the embedding capability the store depends on. Embed must return one
// vector per chunk, in chunk order; EmbedQuery encodes into the same space.
type Adapter interface {
	Chunk(docs []*models.Document) []*models.Chunk
	Embed(ctx context.Context, chunks []*models.Chunk) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
	Dimensions() int
}

// State is the store lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateBuilt
	StatePersisted
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StatePersisted:
		return "persisted"
	case StateLoaded:
		return "loaded"
	default:
		return "uninitialized"
	}
}

// VectorStore owns one similarity index, the ID to metadata registry and the
// persistence directory.
type VectorStore struct {
	dir         string
	adapter     Adapter
	index       vector.VectorIndex
	records     map[int64]*models.MetadataRecord
	order       []int64
	nextID      int64
	state       State
	indexType   string
	defaultTopK int
	minScore    float64
	logger      *zap.Logger
}

// Option configures a VectorStore.
type Option func(*VectorStore)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *VectorStore) {
		s.logger = utils.OrNop(l)
	}
}

// WithIndexType selects the index implementation ("memory" or "faiss") used when the index is created.
func WithIndexType(t string) Option {
	return func(s *VectorStore) {
		if t != "" {
			s.indexType = t
		}
	}
}

// WithMinScore sets the relevance threshold applied by Query.
func WithMinScore(min float64) Option {
	return func(s *VectorStore) {
		s.minScore = min
	}
}

// WithDefaultTopK sets the result count used when a caller passes topK <= 0.
func WithDefaultTopK(k int) Option {
	return func(s *VectorStore) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// New returns an uninitialized store persisting to dir.
func New(dir string, adapter Adapter, opts ...Option) *VectorStore {
	s := &VectorStore{
		dir:         dir,
		adapter:     adapter,
		records:     make(map[int64]*models.MetadataRecord),
		indexType:   string(vector.IndexTypeMemory),
		defaultTopK: DefaultTopK,
		minScore:    DefaultMinScore,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the lifecycle state.
func (s *VectorStore) State() State {
	return s.state
}

// Initialized reports whether the store has an index and can be searched.
func (s *VectorStore) Initialized() bool {
	return s.index != nil
}

// Dir returns the persistence directory.
func (s *VectorStore) Dir() string {
	return s.dir
}

// Size returns the number of stored vectors.
func (s *VectorStore) Size() int {
	if s.index == nil {
		return 0
	}
	return s.index.Size()
}

// Dimensions returns the fixed vector width, or 0 before the index exists.
func (s *VectorStore) Dimensions() int {
	if s.index == nil {
		return 0
	}
	return s.index.Dimensions()
}

// NextID returns the identifier the next inserted vector will receive.
func (s *VectorStore) NextID() int64 {
	return s.nextID
}

// MinScore returns the relevance threshold used by Query.
func (s *VectorStore) MinScore() float64 {
	return s.minScore
}

// Get returns the metadata stored for id.
func (s *VectorStore) Get(id int64) (*models.MetadataRecord, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Records returns the metadata records in insertion order.
func (s *VectorStore) Records() []*models.MetadataRecord {
	out := make([]*models.MetadataRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Stats describes the store.
func (s *VectorStore) Stats() *models.StoreStats {
	return &models.StoreStats{
		State:      s.state.String(),
		Vectors:    s.Size(),
		Dimensions: s.Dimensions(),
		NextID:     s.nextID,
		Model:      s.modelName(),
		IndexType:  s.currentIndexType(),
		Directory:  s.dir,
	}
}

// Close releases the index.
func (s *VectorStore) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

func (s *VectorStore) modelName() string {
	if s.adapter == nil {
		return ""
	}
	return s.adapter.ModelName()
}

func (s *VectorStore) currentIndexType() string {
	if s.index != nil {
		return s.index.Type()
	}
	return s.indexType
}

func (s *VectorStore) resolveTopK(topK int) int {
	if topK <= 0 {
		return s.defaultTopK
	}
	return topK
}
