package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
)

type answerRequest struct {
	Query string `json:"query"`
}

type ingestRequest struct {
	Directory string `json:"directory,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("answer request", zap.String("query", req.Query))
	answer, err := s.engine.AnswerQuery(r.Context(), req.Query)
	if err != nil {
		s.respondQueryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondQueryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	var req ingestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	err := s.ingester.Start(s.baseCtx, req.Directory, req.Pattern, s.ingestDone)
	if errors.Is(err, ingest.ErrIngestionInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to start ingestion", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status":    "started",
		"namespace": s.config.VectorStore.Namespace,
	})
}

func (s *Server) ingestDone(report *models.IngestionReport, err error) {
	s.mu.Lock()
	s.lastReport, s.lastErr = report, err
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("background ingestion failed", zap.Error(err))
	}
	if s.onIngest != nil {
		s.onIngest(report, err)
	}
}

// LastIngestion returns the result of the most recent background run.
func (s *Server) LastIngestion() (*models.IngestionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport, s.lastErr
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := CollectStatus(r.Context(), s.engine, s.ledger, s.config)
	if s.ingester != nil {
		st.Ingesting = s.ingester.Running()
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CollectStatus reports the engine's index namespace, the last ledger run and
// the disk usage of local stores. Lookups that fail are logged into Reason and
// leave their fields zero.
func CollectStatus(ctx context.Context, engine *search.Engine, ledger storage.Ledger, cfg *config.Config) *models.Status {
	st := &models.Status{
		StoreType:      cfg.VectorStore.Type,
		Index:          cfg.VectorStore.IndexName,
		Namespace:      cfg.VectorStore.Namespace,
		Dimension:      cfg.Embedding.Dimensions,
		Metric:         cfg.VectorStore.Metric,
		EmbeddingModel: cfg.Embedding.Model,
		Ready:          engine.Ready(),
		Reason:         engine.UnavailableReason(),
	}
	if idx := engine.Index(); idx != nil {
		st.Dimension = idx.Dimension()
		st.Metric = string(idx.Metric())
		stats, err := idx.DescribeStats(ctx, st.Namespace)
		if err != nil {
			st.Reason = "describe stats: " + err.Error()
		} else {
			st.VectorCount = stats.VectorCount
		}
	}
	if ledger != nil {
		run, err := ledger.LastRun(ctx, st.Index, st.Namespace)
		if err == nil {
			st.LastRun = run
		}
	}
	var paths []string
	switch cfg.VectorStore.Type {
	case "sqlite":
		paths = append(paths, cfg.VectorStore.SQLite.Path)
	case "memory":
		paths = append(paths, cfg.VectorStore.Memory.Path)
	}
	if ledger != nil {
		paths = append(paths, cfg.Storage.LedgerPath)
	}
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		st.DiskUsageBytes = n
	}
	return st
}

// statusFor maps query errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case search.IsRetrievalError(err):
		return http.StatusBadGateway
	case errors.Is(err, ingest.ErrIngestionInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondQueryError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("query failed", zap.Int("status", code), zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
