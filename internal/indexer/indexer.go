// Package indexer ingests documents into the vector store and keeps the document catalog in step with it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrDocumentExists is returned when a submitted document ID is already catalogued.
var ErrDocumentExists = errors.New("document already exists")

// ErrOutsideDataDir is returned when a sync names a directory outside the data directory.
var ErrOutsideDataDir = errors.New("outside the data directory")

// Indexer owns the vector store and serializes every access to it.
type Indexer struct {
	mu        sync.Mutex
	store     *store.VectorStore
	adapter   store.Adapter
	storage   storage.Storage
	extractor *extract.Extractor
	ingest    config.IngestConfig
	storeOpts []store.Option
	logger    *zap.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger. It is also handed to the store.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithStoreOptions passes options to every store the indexer creates or loads.
func WithStoreOptions(opts ...store.Option) Option {
	return func(idx *Indexer) { idx.storeOpts = append(idx.storeOpts, opts...) }
}

// New creates an indexer over an uninitialized store persisting to indexDir.
// extractor may be nil, in which case files are read as plain text.
func New(indexDir string, adapter store.Adapter, st storage.Storage, ingest config.IngestConfig, extractor *extract.Extractor, opts ...Option) *Indexer {
	idx := &Indexer{
		adapter:   adapter,
		storage:   st,
		extractor: extractor,
		ingest:    ingest,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	idx.storeOpts = append([]store.Option{store.WithLogger(idx.logger)}, idx.storeOpts...)
	idx.store = store.New(indexDir, adapter, idx.storeOpts...)
	return idx
}

// LoadIfExists replaces the in-memory store with the persisted one when the
// index directory holds one. It reports whether a store was loaded.
func (idx *Indexer) LoadIfExists() (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	dir := idx.store.Dir()
	if !store.Exists(dir) {
		return false, nil
	}
	loaded, err := store.Load(dir, idx.adapter, idx.storeOpts...)
	if err != nil {
		return false, err
	}
	_ = idx.store.Close()
	idx.store = loaded
	return true, nil
}

// Open loads the persisted store when one exists, otherwise builds it from the
// configured data directory. An empty or missing data directory leaves the store
// uninitialized without error.
func (idx *Indexer) Open(ctx context.Context) error {
	loaded, err := idx.LoadIfExists()
	if err != nil || loaded {
		return err
	}
	if idx.ingest.DataDir == "" {
		return nil
	}
	if _, err := os.Stat(idx.ingest.DataDir); errors.Is(err, os.ErrNotExist) {
		idx.logger.Warn("No persisted index and no data directory; store stays empty",
			zap.String("data_dir", idx.ingest.DataDir))
		return nil
	}
	if _, err := idx.Sync(ctx, idx.ingest.DataDir); err != nil {
		if errors.Is(err, store.ErrEmptyInput) {
			idx.logger.Warn("No documents to build the index from", zap.String("data_dir", idx.ingest.DataDir))
			return nil
		}
		return err
	}
	return nil
}

// Query answers a free-text query from the store.
func (idx *Indexer) Query(ctx context.Context, text string, topK int) (models.Results, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.store.Query(ctx, text, topK)
}

// Save persists the store.
func (idx *Indexer) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.store.Save()
}

// Stats describes the store.
func (idx *Indexer) Stats() *models.StoreStats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.store.Stats()
}

// Status reports catalog counts, store state and disk usage of the persisted artifacts.
func (idx *Indexer) Status(ctx context.Context) (*models.StatusResponse, error) {
	docs, err := idx.storage.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := idx.storage.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	stats := idx.Stats()
	resp := &models.StatusResponse{Documents: docs, Chunks: chunks, Store: stats}
	if n, err := storage.DiskUsageBytes(stats.Directory); err == nil {
		resp.DiskUsageBytes = &n
	}
	return resp, nil
}

// GetDocument returns a catalogued document.
func (idx *Indexer) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return idx.storage.GetDocument(ctx, id)
}

// Chunks returns the chunk rows of a catalogued document in chunk order.
func (idx *Indexer) Chunks(ctx context.Context, id string) ([]*models.ChunkRow, error) {
	return idx.storage.GetChunksByDocumentID(ctx, id)
}

// IndexDocument adds one submitted document to the store and catalog and saves.
// A missing ID is generated.
func (idx *Indexer) IndexDocument(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("document content: %w", store.ErrEmptyInput)
	}
	if input.ID == "" {
		input.ID = uuid.New().String()
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, err := idx.storage.GetDocument(ctx, input.ID); err == nil {
		return nil, fmt.Errorf("%s: %w", input.ID, ErrDocumentExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	doc := &models.Document{
		ID:       input.ID,
		Title:    input.Title,
		Source:   input.Source,
		Content:  input.Content,
		Metadata: input.Metadata,
	}
	if doc.Source == "" {
		doc.Source = doc.Title
	}
	if err := idx.addLocked(ctx, []*models.Document{doc}); err != nil {
		return nil, err
	}
	if err := idx.store.Save(); err != nil {
		return nil, err
	}
	idx.logger.Debug("Document indexed", zap.String("id", doc.ID))
	return doc, nil
}

// IndexFile ingests a single file. An unchanged file is skipped; a changed one
// triggers a rebuild from the catalog with the new content.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (*SyncResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	root := idx.ingest.DataDir
	if root == "" {
		root = filepath.Dir(absPath)
	}
	f := newSourceFile(root, absPath, info)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	fingerprints, err := idx.storage.DocumentFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	result := &SyncResult{Files: 1}
	old, known := fingerprints[f.docID]
	if known && old == f.fingerprint {
		result.Mode = SyncModeNone
		return result, nil
	}
	docs, err := idx.extractAll(ctx, []*sourceFile{f})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", absPath, store.ErrEmptyInput)
	}
	if !known {
		if err := idx.addLocked(ctx, docs); err != nil {
			return nil, err
		}
		result.Mode = SyncModeAdd
		result.Added = 1
	} else {
		catalog, err := idx.catalogDocuments(ctx)
		if err != nil {
			return nil, err
		}
		for i, d := range catalog {
			if d.ID == f.docID {
				catalog[i] = docs[0]
			}
		}
		if err := idx.rebuildLocked(ctx, catalog); err != nil {
			return nil, err
		}
		result.Mode = SyncModeBuild
		result.Changed = 1
	}
	if err := idx.store.Save(); err != nil {
		return nil, err
	}
	result.Vectors = idx.store.Size()
	return result, nil
}

// Close releases the store.
func (idx *Indexer) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.store.Close()
}

// addLocked inserts docs into the store and writes their catalog rows.
func (idx *Indexer) addLocked(ctx context.Context, docs []*models.Document) error {
	records, err := idx.store.AddDocuments(ctx, docs)
	if err != nil {
		return err
	}
	return idx.writeCatalog(ctx, docs, records)
}

// rebuildLocked replaces the store contents with docs and rewrites the catalog.
func (idx *Indexer) rebuildLocked(ctx context.Context, docs []*models.Document) error {
	records, err := idx.store.Build(ctx, docs)
	if err != nil {
		return err
	}
	if err := idx.storage.Reset(ctx); err != nil {
		return fmt.Errorf("reset catalog: %w", err)
	}
	return idx.writeCatalog(ctx, docs, records)
}

func (idx *Indexer) writeCatalog(ctx context.Context, docs []*models.Document, records []*models.MetadataRecord) error {
	for _, d := range docs {
		if err := idx.storage.CreateDocument(ctx, d); err != nil {
			return fmt.Errorf("catalog document %s: %w", d.ID, err)
		}
	}
	rows := make([]*models.ChunkRow, len(records))
	for i, r := range records {
		rows[i] = &models.ChunkRow{
			VectorID:   r.ID,
			DocumentID: r.DocumentID,
			Content:    r.Text,
			ChunkIndex: r.ChunkIndex,
		}
	}
	if err := idx.storage.BatchCreateChunks(ctx, rows); err != nil {
		return fmt.Errorf("catalog chunks: %w", err)
	}
	return nil
}

// catalogDocuments returns every catalogued document ordered by ID.
func (idx *Indexer) catalogDocuments(ctx context.Context) ([]*models.Document, error) {
	n, err := idx.storage.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	docs, err := idx.storage.ListDocuments(ctx, 0, int(n))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}
