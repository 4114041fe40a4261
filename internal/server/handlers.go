package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/indexer"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/search"
	"github.com/hyperjump/shirabe/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	def, maxTopK := s.config.Search.DefaultTopK, s.config.Search.MaxTopK
	if err := query.Validate(def, maxTopK); err != nil {
		s.respondErr(w, err)
		return
	}
	topK := query.Limit(def)
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", topK))

	start := time.Now()
	results, err := s.engine.Search(r.Context(), query.Query, topK)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{
		Query:     query.Query,
		Metric:    s.metric.String(),
		QueryTime: time.Since(start).Milliseconds(),
		Results:   results,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Engine         search.Status  `json:"engine"`
	Documents      *int64         `json:"documents,omitempty"`
	LastBuild      *storage.Build `json:"last_build,omitempty"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
	Config         map[string]any `json:"config"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{
		Engine: s.engine.Status(),
		Config: map[string]any{
			"metric":        s.metric.String(),
			"backend":       s.config.Index.Backend,
			"provider":      s.config.Embedding.Provider,
			"dimensions":    s.config.Embedding.Dimensions,
			"raw_dir":       s.config.Storage.RawDir,
			"corpus_path":   s.config.Storage.CorpusPath,
			"index_dir":     s.config.Storage.IndexDir,
			"database_path": s.config.Storage.DatabasePath,
			"default_top_k": s.config.Search.DefaultTopK,
			"max_top_k":     s.config.Search.MaxTopK,
		},
	}
	if s.catalog != nil {
		n, err := s.catalog.CountDocuments(ctx)
		if err != nil {
			s.logger.Error("status: count documents failed", zap.Error(err))
			s.respondErr(w, err)
			return
		}
		resp.Documents = &n
		b, err := s.catalog.LatestBuild(ctx, s.metric.String())
		switch {
		case err == nil:
			resp.LastBuild = b
		case !errors.Is(err, apperr.ErrNotFound):
			s.logger.Warn("status: latest build lookup failed", zap.Error(err))
		}
	}
	if n, err := storage.DiskUsageBytes(
		s.config.Storage.CorpusPath,
		s.config.Storage.IndexDir,
		s.config.Storage.DatabasePath,
	); err == nil {
		resp.DiskUsageBytes = &n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.catalog == nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	doc, err := s.catalog.GetDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// intParam reads a non-negative integer query parameter, returning def
// when it is absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Newf(apperr.ErrInvalidQuery, apperr.StageCatalog, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func pageSize(r *http.Request) (int, error) {
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		return 0, err
	}
	if limit == 0 || limit > maxPageSize {
		return 0, apperr.Newf(apperr.ErrInvalidQuery, apperr.StageCatalog, "limit must be between 1 and %d", maxPageSize)
	}
	return limit, nil
}

type documentsResponse struct {
	Documents []*models.Document `json:"documents"`
	Total     int64              `json:"total"`
	Offset    int                `json:"offset"`
	Limit     int                `json:"limit"`
}

// handleListDocuments pages through the catalog in ordinal order.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := pageSize(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	resp := documentsResponse{Documents: []*models.Document{}, Offset: offset, Limit: limit}
	if s.catalog == nil {
		s.respondJSON(w, http.StatusOK, resp)
		return
	}
	docs, err := s.catalog.ListDocuments(ctx, offset, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if docs != nil {
		resp.Documents = docs
	}
	if resp.Total, err = s.catalog.CountDocuments(ctx); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit, err := pageSize(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	builds := []*storage.Build{}
	if s.catalog != nil {
		got, err := s.catalog.ListBuilds(r.Context(), limit)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		if got != nil {
			builds = got
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"builds": builds})
}

// handleRebuild rebuilds the corpus and index, then swaps the new snapshot
// in. ?force=false skips the index build when the corpus is unchanged.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force := true
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = b
	}

	var (
		report *indexer.BuildReport
		err    error
	)
	if force {
		report, err = s.indexer.Rebuild(ctx, s.config.Storage.RawDir, s.metric)
	} else {
		report, err = s.indexer.RebuildIfChanged(ctx, s.config.Storage.RawDir, s.metric)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.indexer.Publish(ctx, s.engine, s.metric); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Load(r.Context(), s.indexer.Store(s.metric)); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Reset(r.Context(), s.metric); err != nil {
		s.respondErr(w, err)
		return
	}
	s.engine.Unload()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reset", "metric": s.metric.String()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr reports err with the status its kind maps to.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatusCode(err)
	fields := []zap.Field{zap.Int("status", status), zap.String("stage", string(apperr.StageOf(err))), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	s.respondError(w, status, err.Error())
}
