package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
)

type testEnv struct {
	dir      string
	dataDir  string
	indexDir string
	storage  storage.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:      dir,
		dataDir:  filepath.Join(dir, "data"),
		indexDir: filepath.Join(dir, "store"),
	}
	if err := os.MkdirAll(env.dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	st, err := storage.NewSQLiteStorage(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	env.storage = st
	return env
}

func (e *testEnv) newIndexer(t *testing.T) *Indexer {
	t.Helper()
	pipeline := embedding.NewPipeline(embedding.NewChunker(10, 2), embedding.NewHashEmbedder(64))
	ingest := config.IngestConfig{
		DataDir:    e.dataDir,
		Extensions: []string{".txt", ".md"},
		Workers:    2,
	}
	idx := New(e.indexDir, pipeline, e.storage, ingest, extract.NewExtractor(),
		WithStoreOptions(store.WithMinScore(0.1)))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dataDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSync_buildsThenNoop(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "refunds.txt", "refunds are issued within five business days")
	env.write(t, "faq/shipping.md", "shipping takes two weeks for international orders")
	env.write(t, "logo.png", "not text")
	idx := env.newIndexer(t)
	ctx := context.Background()

	res, err := idx.Sync(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild || res.Files != 2 || res.Vectors != 2 {
		t.Fatalf("first sync = %+v", res)
	}
	if !store.Exists(env.indexDir) {
		t.Error("sync should persist the store")
	}
	chunks, _ := env.storage.CountChunks(ctx)
	if chunks != 2 {
		t.Errorf("catalog chunks = %d, want 2", chunks)
	}

	res, err = idx.Sync(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeNone {
		t.Errorf("second sync mode = %s, want none", res.Mode)
	}
}

func TestSync_newFilesAppendWithFreshIDs(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "alpha bravo charlie")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, env.dataDir); err != nil {
		t.Fatal(err)
	}
	before := idx.Stats().NextID

	env.write(t, "b.txt", "delta echo foxtrot")
	res, err := idx.Sync(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeAdd || res.Added != 1 {
		t.Fatalf("sync = %+v, want add of 1", res)
	}
	rows, err := env.storage.GetChunksByDocumentID(ctx, fileid.DocID("b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].VectorID != before {
		t.Errorf("new chunk rows = %+v, want one row with vector id %d", rows, before)
	}
	if idx.Stats().NextID != before+1 {
		t.Errorf("NextID = %d, want %d", idx.Stats().NextID, before+1)
	}
}

func TestSync_changedOrRemovedFileRebuilds(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.txt", "alpha bravo charlie")
	b := env.write(t, "b.txt", "delta echo foxtrot")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, env.dataDir); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(a, []byte("alpha bravo charlie and a much longer revision"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Sync(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild || res.Changed != 1 {
		t.Fatalf("sync after edit = %+v", res)
	}

	if err := os.Remove(b); err != nil {
		t.Fatal(err)
	}
	res, err = idx.Sync(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild || res.Removed != 1 {
		t.Fatalf("sync after delete = %+v", res)
	}
	if _, err := env.storage.GetDocument(ctx, fileid.DocID("b.txt")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("removed file should leave the catalog, got %v", err)
	}
	if idx.Stats().NextID != int64(idx.Stats().Vectors) {
		t.Errorf("rebuild should renumber from zero: %+v", idx.Stats())
	}
}

func TestSync_emptyDirectory(t *testing.T) {
	env := newTestEnv(t)
	idx := env.newIndexer(t)
	_, err := idx.Sync(context.Background(), env.dataDir)
	if !errors.Is(err, store.ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestSync_notADirectory(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "a.txt", "alpha")
	idx := env.newIndexer(t)
	if _, err := idx.Sync(context.Background(), path); err == nil {
		t.Fatal("expected error for a file path")
	}
}

func TestSync_subdirectoryKeepsRestOfDataDir(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "refunds.txt", "refunds are issued within five business days")
	shipping := env.write(t, "faq/shipping.md", "shipping takes two weeks for international orders")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, ""); err != nil {
		t.Fatal(err)
	}
	faq := filepath.Join(env.dataDir, "faq")

	res, err := idx.Sync(ctx, faq)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeNone || res.Removed != 0 || res.Vectors != 2 {
		t.Fatalf("subdirectory sync = %+v, want none with 2 vectors", res)
	}

	if err := os.WriteFile(shipping, []byte("shipping takes three weeks for most international orders"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err = idx.Sync(ctx, faq)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild || res.Changed != 1 || res.Removed != 0 || res.Vectors != 2 {
		t.Fatalf("subdirectory sync after edit = %+v", res)
	}
	if _, err := env.storage.GetDocument(ctx, fileid.DocID("faq/shipping.md")); err != nil {
		t.Errorf("subdirectory file should keep its data-dir relative id: %v", err)
	}

	if err := os.Remove(shipping); err != nil {
		t.Fatal(err)
	}
	res, err = idx.Sync(ctx, faq)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || res.Vectors != 1 {
		t.Fatalf("subdirectory sync after delete = %+v", res)
	}

	results, err := idx.Query(ctx, "refunds are issued within five business days", 3)
	if err != nil {
		t.Fatal(err)
	}
	if results.NoMatch() || results[0].Metadata.Source != "refunds.txt" {
		t.Errorf("file outside the synced subdirectory was lost: %+v", results)
	}
}

func TestSync_outsideDataDir(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "alpha bravo charlie")
	other := filepath.Join(env.dir, "elsewhere")
	if err := os.MkdirAll(other, 0755); err != nil {
		t.Fatal(err)
	}
	idx := env.newIndexer(t)
	ctx := context.Background()

	for _, dir := range []string{env.dir, other, filepath.Join(env.dataDir, "..", "elsewhere")} {
		if _, err := idx.Sync(ctx, dir); !errors.Is(err, ErrOutsideDataDir) {
			t.Errorf("Sync(%s) err = %v, want ErrOutsideDataDir", dir, err)
		}
		if _, err := idx.Build(ctx, dir); !errors.Is(err, ErrOutsideDataDir) {
			t.Errorf("Build(%s) err = %v, want ErrOutsideDataDir", dir, err)
		}
	}
	if idx.Stats().Vectors != 0 {
		t.Errorf("rejected sync touched the store: %+v", idx.Stats())
	}
}

func TestOpen_loadsPersistedStore(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "refunds are issued within five business days")
	ctx := context.Background()

	first := env.newIndexer(t)
	if err := first.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if got := first.Stats().State; got != "persisted" {
		t.Fatalf("state after auto-build = %s, want persisted", got)
	}
	_ = first.Close()

	second := env.newIndexer(t)
	if err := second.Open(ctx); err != nil {
		t.Fatal(err)
	}
	stats := second.Stats()
	if stats.State != "loaded" || stats.Vectors != 1 {
		t.Fatalf("stats after load = %+v", stats)
	}
	results, err := second.Query(ctx, "refunds are issued within five business days", 3)
	if err != nil {
		t.Fatal(err)
	}
	if results.NoMatch() || results[0].Metadata.Source != "a.txt" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestOpen_withoutDataLeavesStoreEmpty(t *testing.T) {
	env := newTestEnv(t)
	idx := env.newIndexer(t)
	if err := idx.Open(context.Background()); err != nil {
		t.Fatalf("empty data dir should not fail Open: %v", err)
	}
	if _, err := idx.Query(context.Background(), "anything", 3); !errors.Is(err, store.ErrIndexNotInitialized) {
		t.Errorf("err = %v, want ErrIndexNotInitialized", err)
	}
}

func TestQuery_noMatchSentinel(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "alpha bravo charlie")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, env.dataDir); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Query(ctx, "zulu yankee xray", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !results.NoMatch() {
		t.Errorf("expected the no-match sentinel, got %+v", results)
	}
}

func TestIndexDocument(t *testing.T) {
	env := newTestEnv(t)
	idx := env.newIndexer(t)
	ctx := context.Background()

	doc, err := idx.IndexDocument(ctx, &models.DocumentInput{Title: "Returns", Content: "items can be returned within thirty days"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID == "" {
		t.Fatal("IndexDocument should generate an ID")
	}
	if doc.Source != "Returns" {
		t.Errorf("Source = %q, want title fallback", doc.Source)
	}
	if !store.Exists(env.indexDir) {
		t.Error("IndexDocument should persist the store")
	}

	_, err = idx.IndexDocument(ctx, &models.DocumentInput{ID: doc.ID, Content: "again"})
	if !errors.Is(err, ErrDocumentExists) {
		t.Errorf("duplicate ID err = %v, want ErrDocumentExists", err)
	}
	_, err = idx.IndexDocument(ctx, &models.DocumentInput{Content: "   "})
	if !errors.Is(err, store.ErrEmptyInput) {
		t.Errorf("empty content err = %v, want ErrEmptyInput", err)
	}
}

func TestIndexDocument_survivesRebuild(t *testing.T) {
	env := newTestEnv(t)
	a := env.write(t, "a.txt", "alpha bravo charlie")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, env.dataDir); err != nil {
		t.Fatal(err)
	}
	doc, err := idx.IndexDocument(ctx, &models.DocumentInput{ID: "manual-1", Content: "items can be returned within thirty days"})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(a, []byte("alpha bravo charlie delta echo"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Sync(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild {
		t.Fatalf("mode = %s, want build", res.Mode)
	}
	rows, err := idx.Chunks(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("submitted document chunks after rebuild = %d, want 1", len(rows))
	}
	results, err := idx.Query(ctx, "items can be returned within thirty days", 1)
	if err != nil {
		t.Fatal(err)
	}
	if results.NoMatch() || results[0].Metadata.DocumentID != "manual-1" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestIndexFile(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "a.txt", "alpha bravo charlie")
	idx := env.newIndexer(t)
	ctx := context.Background()

	res, err := idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeAdd || res.Vectors != 1 {
		t.Fatalf("first IndexFile = %+v", res)
	}
	res, err = idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeNone {
		t.Errorf("unchanged file mode = %s, want none", res.Mode)
	}

	if err := os.WriteFile(path, []byte("alpha bravo charlie with more words"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err = idx.IndexFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild || res.Vectors != 1 {
		t.Errorf("changed file = %+v, want rebuild with one vector", res)
	}

	if _, err := idx.IndexFile(ctx, env.dataDir); err == nil {
		t.Error("expected error for a directory")
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "alpha bravo charlie")
	env.write(t, "b.txt", "delta echo foxtrot")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, env.dataDir); err != nil {
		t.Fatal(err)
	}
	status, err := idx.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Documents != 2 || status.Chunks != 2 {
		t.Errorf("status counts = %d/%d, want 2/2", status.Documents, status.Chunks)
	}
	if status.Store.Vectors != 2 || status.Store.Dimensions != 64 {
		t.Errorf("store stats = %+v", status.Store)
	}
	if status.DiskUsageBytes == nil || *status.DiskUsageBytes == 0 {
		t.Error("disk usage should be reported after save")
	}
}

func TestBuild_forcesRebuild(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", "alpha bravo charlie")
	idx := env.newIndexer(t)
	ctx := context.Background()
	if _, err := idx.Sync(ctx, env.dataDir); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexDocument(ctx, &models.DocumentInput{ID: "manual", Content: "delta echo"}); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Build(ctx, env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != SyncModeBuild || res.Vectors != 2 {
		t.Errorf("build = %+v, want rebuild keeping the submitted document", res)
	}
	if idx.Stats().NextID != 2 {
		t.Errorf("NextID = %d, want 2", idx.Stats().NextID)
	}
}

func TestLoadIfExists(t *testing.T) {
	env := newTestEnv(t)
	idx := env.newIndexer(t)
	loaded, err := idx.LoadIfExists()
	if err != nil || loaded {
		t.Fatalf("LoadIfExists on empty dir = %v, %v", loaded, err)
	}
	env.write(t, "a.txt", "alpha bravo charlie")
	if _, err := idx.Sync(context.Background(), env.dataDir); err != nil {
		t.Fatal(err)
	}

	other := env.newIndexer(t)
	loaded, err = other.LoadIfExists()
	if err != nil || !loaded {
		t.Fatalf("LoadIfExists after save = %v, %v", loaded, err)
	}
	if other.Stats().Vectors != 1 {
		t.Errorf("vectors = %d, want 1", other.Stats().Vectors)
	}
}
