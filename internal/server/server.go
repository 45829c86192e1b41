// Package server provides the HTTP API through which the dialogue agent calls
// the retrieval core.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
)

// Ingester starts background ingestion runs.
type Ingester interface {
	Start(ctx context.Context, dir, pattern string, done func(*models.IngestionReport, error)) error
	Running() bool
	// Wait blocks until runs started with Start have finished or ctx is done.
	Wait(ctx context.Context) error
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	engine   *search.Engine
	ingester Ingester       // optional
	ledger   storage.Ledger // optional
	onIngest func(*models.IngestionReport, error)
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server

	// baseCtx outlives requests; background runs use it and stop on Stop.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	lastReport *models.IngestionReport
	lastErr    error
}

// Option configures a Server.
type Option func(*Server)

// WithIngester enables POST /api/v1/ingest.
func WithIngester(i Ingester) Option {
	return func(s *Server) { s.ingester = i }
}

// WithLedger adds the last ingestion run to status output.
func WithLedger(l storage.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

// WithIngestHook sets a function called after every background run.
func WithIngestHook(fn func(*models.IngestionReport, error)) Option {
	return func(s *Server) { s.onIngest = fn }
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  engine,
		config:  cfg,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/answer", s.handleAnswer)
		r.Post("/query", s.handleQuery)
		r.Post("/ingest", s.handleIngest)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server, cancels background runs and waits,
// bounded by ctx, for them to record their outcome. Callers may close the
// store and ledger once Stop returns.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ingester != nil {
		if err := s.ingester.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}
