package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/index"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/vector"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var query models.RetrieveQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("question", query.Question), zap.Int("top_k", query.TopK))
	response, err := s.retriever.Retrieve(r.Context(), &query)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var articles []*models.ArticleInput
	if err := json.NewDecoder(r.Body).Decode(&articles); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest request", zap.Int("articles", len(articles)))
	added, err := s.coordinator.Ingest(r.Context(), articles)
	if err != nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		switch {
		case errors.Is(err, vector.ErrDimensionMismatch):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, vector.ErrStoreUnavailable), errors.Is(err, index.ErrConsistency):
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"chunks_added": added,
		"corpus_size":  s.coordinator.Size(),
	})
}

func (s *Server) handleKeyword(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	hits, err := s.coordinator.KeywordSearch(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("keyword search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": query, "hits": hits})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.coordinator.Report(r.Context())
	if err != nil {
		s.logger.Error("status report failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
