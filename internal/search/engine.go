// Package search answers natural-language queries by nearest-neighbor search
// over the ingested corpus.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retry"
	"github.com/hyperjump/kotae/internal/vector"
)

// Settings controls query behavior.
type Settings struct {
	Namespace string
	DefaultK  int
	MaxK      int
	// MinScore drops results scoring below it. Zero disables the floor.
	MinScore float64
	Retry    retry.Policy
}

// SettingsFromConfig builds Settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Namespace: cfg.VectorStore.Namespace,
		DefaultK:  cfg.Query.DefaultK,
		MaxK:      cfg.Query.MaxK,
		MinScore:  cfg.Query.MinScore,
		Retry:     retry.FromConfig(cfg.Query.Retry),
	}
}

// Engine runs similarity search against one index namespace. It is safe for
// concurrent use.
type Engine struct {
	embedder embedding.Embedder
	settings Settings
	logger   *zap.Logger // optional

	mu     sync.RWMutex
	index  vector.Index
	reason string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for query debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithUnavailableReason sets the reason reported by NotInitializedError while
// the engine has no index.
func WithUnavailableReason(reason string) Option {
	return func(e *Engine) { e.reason = reason }
}

// NewEngine creates an engine. index or embedder may be nil; queries then fail
// with NotInitializedError until SetIndex provides both.
func NewEngine(index vector.Index, embedder embedding.Embedder, settings Settings, opts ...Option) *Engine {
	if settings.DefaultK <= 0 {
		settings.DefaultK = config.DefaultK
	}
	e := &Engine{index: index, embedder: embedder, settings: settings}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetIndex installs the index handle, for example once ingestion has created it.
func (e *Engine) SetIndex(index vector.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = index
	if index != nil {
		e.reason = ""
	}
}

// Index returns the current index handle, or nil.
func (e *Engine) Index() vector.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Ready reports whether queries can be served.
func (e *Engine) Ready() bool {
	return e.Index() != nil && e.embedder != nil
}

// UnavailableReason returns why the engine has no index, or "".
func (e *Engine) UnavailableReason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reason
}

// Settings returns the engine settings.
func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) current() (vector.Index, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil || e.embedder == nil {
		return nil, &NotInitializedError{Reason: e.reason}
	}
	return e.index, nil
}

// Search embeds the query and returns up to K passages from the namespace,
// ordered by non-increasing score. No results is not an error.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	idx, err := e.current()
	if err != nil {
		return nil, err
	}
	if err := query.Validate(e.settings.DefaultK, e.settings.MaxK); err != nil {
		return nil, err
	}

	var queryEmbedding []float32
	attempts, err := retry.Do(ctx, e.settings.Retry, func(ctx context.Context) error {
		var err error
		queryEmbedding, err = e.embedder.Embed(ctx, query.Query)
		return classify(err)
	})
	if err != nil {
		return nil, &RetrievalError{Op: OpEmbed, Attempts: attempts, Err: err}
	}

	var matches []vector.Match
	attempts, err = retry.Do(ctx, e.settings.Retry, func(ctx context.Context) error {
		var err error
		matches, err = idx.SimilaritySearch(ctx, e.settings.Namespace, queryEmbedding, query.K)
		return classify(err)
	})
	if err != nil {
		return nil, &RetrievalError{Op: OpSearch, Attempts: attempts, Err: err}
	}

	response := &models.SearchResponse{
		Results:   make([]*models.SearchResult, 0, len(matches)),
		K:         query.K,
		Namespace: e.settings.Namespace,
		Query:     query.Query,
	}
	for _, m := range matches {
		if e.settings.MinScore != 0 && m.Score < e.settings.MinScore {
			continue
		}
		if len(response.Results) == query.K {
			break
		}
		response.Results = append(response.Results, &models.SearchResult{
			ID:       m.ID,
			Text:     m.Text,
			Score:    m.Score,
			Metadata: m.Metadata,
			Rank:     len(response.Results) + 1,
		})
	}
	response.Total = len(response.Results)
	response.QueryTime = time.Since(startTime).Milliseconds()

	if e.logger != nil {
		e.logger.Debug("search completed",
			zap.String("namespace", e.settings.Namespace), zap.Int("k", query.K),
			zap.Int("results", response.Total), zap.Int64("query_time_ms", response.QueryTime))
	}
	return response, nil
}

// AnswerQuery retrieves the default number of passages for query and joins
// their text with newlines. Response is nil when nothing was found.
func (e *Engine) AnswerQuery(ctx context.Context, query string) (*models.Answer, error) {
	resp, err := e.Search(ctx, &models.SearchQuery{Query: query})
	if err != nil {
		return nil, err
	}
	return AnswerFrom(resp), nil
}

// AnswerFrom converts a search response into an Answer.
func AnswerFrom(resp *models.SearchResponse) *models.Answer {
	if resp == nil || len(resp.Results) == 0 {
		return &models.Answer{}
	}
	texts := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		texts[i] = r.Text
	}
	joined := strings.Join(texts, "\n")
	return &models.Answer{Response: &joined, NumResults: len(resp.Results)}
}

func classify(err error) error {
	if err == nil || retry.IsPermanent(err) {
		return err
	}
	if vector.IsPermanent(err) {
		return retry.Permanent(err)
	}
	return err
}
