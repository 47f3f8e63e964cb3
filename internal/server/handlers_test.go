package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
)

func newTestServer(t *testing.T, files map[string]string) (*Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.IndexDir = filepath.Join(dir, "store")
	cfg.Ingest.DataDir = filepath.Join(dir, "data")
	if err := os.MkdirAll(cfg.Ingest.DataDir, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(cfg.Ingest.DataDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	st, err := storage.NewSQLiteStorage(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	pipeline := embedding.NewPipeline(embedding.NewChunker(10, 2), embedding.NewHashEmbedder(64))
	idx := indexer.New(cfg.Storage.IndexDir, pipeline, st, cfg.Ingest, extract.NewExtractor())
	t.Cleanup(func() { _ = idx.Close() })
	if err := idx.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewServer(idx, cfg, nil), cfg
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleQuery(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"refunds.txt": "refunds are issued within five business days",
	})
	w := do(t, srv, http.MethodPost, "/api/v1/query", models.QueryRequest{Query: "refunds are issued within five business days"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body)
	}
	var out struct {
		Query   string `json:"query"`
		TopK    int    `json:"top_k"`
		Results []struct {
			ID       int64   `json:"id"`
			Score    float64 `json:"score"`
			Metadata struct {
				Source string `json:"source"`
			} `json:"metadata"`
		} `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TopK != 3 {
		t.Errorf("top_k = %d, want default 3", out.TopK)
	}
	if len(out.Results) != 1 || out.Results[0].Metadata.Source != "refunds.txt" {
		t.Errorf("unexpected results: %+v", out.Results)
	}
}

func TestHandleQuery_noMatchSentinel(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"a.txt": "alpha bravo charlie"})
	w := do(t, srv, http.MethodPost, "/api/v1/query", models.QueryRequest{Query: "zulu yankee xray"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if string(out.Results) != `[{"message":"No relevant info found."}]` {
		t.Errorf("results = %s", out.Results)
	}
}

func TestHandleQuery_errors(t *testing.T) {
	empty, _ := newTestServer(t, nil)
	if w := do(t, empty, http.MethodPost, "/api/v1/query", models.QueryRequest{Query: "hello"}); w.Code != http.StatusConflict {
		t.Errorf("uninitialized store: got %d, want 409", w.Code)
	}
	if w := do(t, empty, http.MethodPost, "/api/v1/query", models.QueryRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: got %d, want 400", w.Code)
	}
	if w := do(t, empty, http.MethodPost, "/api/v1/query", "{not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d, want 400", w.Code)
	}
}

func TestHandleIndexDocumentAndGet(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(t, srv, http.MethodPost, "/api/v1/documents", models.DocumentInput{
		ID: "returns", Title: "Returns", Content: "items can be returned within thirty days",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", w.Code, w.Body)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "returns", Content: "again"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: got %d, want 409", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/v1/documents", models.DocumentInput{Content: ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty content: got %d, want 400", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/documents/returns", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	var out struct {
		Document models.Document   `json:"document"`
		Chunks   []models.ChunkRow `json:"chunks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Document.Title != "Returns" || len(out.Chunks) != 1 || out.Chunks[0].VectorID != 0 {
		t.Errorf("unexpected document: %+v", out)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/documents/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d, want 404", w.Code)
	}
}

func TestHandleSyncAndStatus(t *testing.T) {
	srv, cfg := newTestServer(t, map[string]string{"a.txt": "alpha bravo charlie"})
	if err := os.WriteFile(filepath.Join(cfg.Ingest.DataDir, "b.txt"), []byte("delta echo foxtrot"), 0644); err != nil {
		t.Fatal(err)
	}
	w := do(t, srv, http.MethodPost, "/api/v1/index/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync: got %d body %s", w.Code, w.Body)
	}
	var res indexer.SyncResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Mode != indexer.SyncModeAdd || res.Vectors != 2 {
		t.Errorf("sync result = %+v", res)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var status models.StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Documents != 2 || status.Store == nil || status.Store.Vectors != 2 {
		t.Errorf("status = %+v", status)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/index/save", nil); w.Code != http.StatusOK {
		t.Errorf("save: got %d", w.Code)
	}
}

func TestHandleSync_dirOutsideDataDir(t *testing.T) {
	srv, cfg := newTestServer(t, map[string]string{"a.txt": "alpha bravo charlie"})
	body := map[string]string{"dir": filepath.Dir(cfg.Ingest.DataDir)}
	w := do(t, srv, http.MethodPost, "/api/v1/index/sync", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("sync: got %d, want 400", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/status", nil)
	var status models.StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Store == nil || status.Store.Vectors != 1 {
		t.Errorf("rejected sync changed the store: %+v", status.Store)
	}
}

func TestHandleSave_uninitialized(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	if w := do(t, srv, http.MethodPost, "/api/v1/index/save", nil); w.Code != http.StatusConflict {
		t.Errorf("save: got %d, want 409", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrIndexNotInitialized, http.StatusConflict},
		{fmt.Errorf("wrap: %w", indexer.ErrDocumentExists), http.StatusConflict},
		{&store.IndexNotFoundError{Path: "/x"}, http.StatusNotFound},
		{fmt.Errorf("doc: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("q: %w", store.ErrEmptyInput), http.StatusBadRequest},
		{&vector.DimensionMismatchError{Expected: 4, Got: 3}, http.StatusBadRequest},
		{fmt.Errorf("add: %w", &store.ZeroVectorError{Position: 0}), http.StatusBadRequest},
		{fmt.Errorf("sync: %w", indexer.ErrOutsideDataDir), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
