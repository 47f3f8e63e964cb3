package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
)

type syncRequest struct {
	Dir string `json:"dir,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(s.config.Query.DefaultTopK, s.config.Query.MaxTopK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	start := time.Now()
	results, err := s.indexer.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.respondStoreError(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.QueryResponse{
		Query:     req.Query,
		TopK:      req.TopK,
		Results:   results,
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.String("title", input.Title))
	doc, err := s.indexer.IndexDocument(r.Context(), &input)
	if err != nil {
		s.respondStoreError(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.indexer.GetDocument(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, "get document failed", err)
		return
	}
	chunks, err := s.indexer.Chunks(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, "get chunks failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document": doc,
		"chunks":   chunks,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	dir := req.Dir
	if dir == "" {
		dir = s.config.Ingest.DataDir
	}
	s.logger.Debug("sync request", zap.String("dir", dir))
	result, err := s.indexer.Sync(r.Context(), dir)
	if err != nil {
		s.respondStoreError(w, "sync failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Save(); err != nil {
		s.respondStoreError(w, "save failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.indexer.Status(r.Context())
	if err != nil {
		s.respondStoreError(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps store and catalog errors to HTTP status codes.
func statusFor(err error) int {
	var dimErr *store.DimensionMismatchError
	var notFound *store.IndexNotFoundError
	var zeroErr *store.ZeroVectorError
	switch {
	case errors.Is(err, store.ErrIndexNotInitialized):
		return http.StatusConflict
	case errors.Is(err, indexer.ErrDocumentExists):
		return http.StatusConflict
	case errors.As(err, &notFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrEmptyInput), errors.Is(err, indexer.ErrOutsideDataDir),
		errors.As(err, &dimErr), errors.As(err, &zeroErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
