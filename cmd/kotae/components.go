package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/loader"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Components holds initialized services. Store, Embedder and Ingestor are nil
// when their configuration is incomplete and the components were built
// leniently; Engine then reports why it is not initialized.
type Components struct {
	Config   *config.Config
	Store    vector.Store
	Embedder embedding.Embedder
	Ledger   *storage.SQLiteLedger
	Ingestor *ingest.Ingestor
	Engine   *search.Engine
	logger   *zap.Logger
}

// Close releases every component. The memory store writes its snapshot here.
func (c *Components) Close() {
	if c.Embedder != nil {
		if err := c.Embedder.Close(); err != nil {
			c.logger.Warn("embedder close failed", zap.Error(err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.Warn("vector store close failed", zap.Error(err))
		}
	}
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			c.logger.Warn("ledger close failed", zap.Error(err))
		}
	}
}

// initializeComponents opens the ledger, vector store and embedder. With
// lenient set, a *config.ConfigurationError from the store or embedder leaves
// that component nil and becomes the engine's unavailable reason; any other
// failure is returned.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, lenient bool) (*Components, error) {
	c := &Components{Config: cfg, logger: logger}
	var reasons []error

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	c.Ledger = ledger

	embedder, err := embedding.New(cfg.Embedding)
	switch {
	case err == nil:
		c.Embedder = embedder
	case lenient && config.IsConfigurationError(err):
		logger.Warn("embedder unavailable", zap.Error(err))
		reasons = append(reasons, err)
	default:
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := vector.Open(ctx, cfg.VectorStore)
	switch {
	case err == nil:
		c.Store = store
	case lenient && config.IsConfigurationError(err):
		logger.Warn("vector store unavailable", zap.Error(err))
		reasons = append(reasons, err)
	default:
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	if c.Store != nil {
		logger.Info("vector store initialized",
			zap.String("type", cfg.VectorStore.Type),
			zap.String("index", cfg.VectorStore.IndexName),
			zap.String("namespace", cfg.VectorStore.Namespace))
	}

	if c.Store != nil && c.Embedder != nil {
		ld := loader.New(nil,
			loader.WithRecursive(cfg.Ingest.RecursiveOrDefault()),
			loader.WithLogger(logger))
		ing, err := ingest.New(c.Store, c.Embedder, ld, ingest.SettingsFromConfig(cfg),
			ingest.WithLogger(logger), ingest.WithLedger(ledger))
		switch {
		case err == nil:
			c.Ingestor = ing
		case lenient && config.IsConfigurationError(err):
			logger.Warn("ingestion unavailable", zap.Error(err))
			reasons = append(reasons, err)
		default:
			c.Close()
			return nil, err
		}
	}

	opts := []search.Option{search.WithLogger(logger)}
	if len(reasons) > 0 {
		opts = append(opts, search.WithUnavailableReason(errors.Join(reasons...).Error()))
	} else {
		opts = append(opts, search.WithUnavailableReason(fmt.Sprintf("index %s does not exist yet; run ingestion first", cfg.VectorStore.IndexName)))
	}
	c.Engine = search.NewEngine(nil, c.Embedder, search.SettingsFromConfig(cfg), opts...)
	return c, nil
}

// prepareIndex creates the configured index when it is missing, without
// ingesting, and attaches it. Queries against a fresh index return no results
// instead of failing as not initialized. It returns false when the components
// cannot ingest.
func (c *Components) prepareIndex(ctx context.Context) (bool, error) {
	if c.Ingestor == nil {
		return c.attachIndex(ctx)
	}
	idx, created, err := c.Ingestor.EnsureIndex(ctx)
	if err != nil {
		return false, err
	}
	if created {
		c.logger.Info("created empty index; queries return no results until ingestion",
			zap.String("index", idx.Name()))
	}
	c.Engine.SetIndex(idx)
	return true, nil
}

// queryIndex attaches the index when it exists and runs q. A not initialized
// engine with a working store and embedder means nothing was ingested yet, and
// the error says so.
func (c *Components) queryIndex(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	if _, err := c.attachIndex(ctx); err != nil {
		return nil, err
	}
	resp, err := c.Engine.Search(ctx, q)
	if errors.Is(err, search.ErrNotInitialized) && c.Store != nil && c.Embedder != nil {
		return nil, fmt.Errorf("%w; run `kotae ingest` first", err)
	}
	return resp, err
}

// attachIndex hands the configured index to the engine when it exists and
// matches the embedder. It returns false, leaving the engine uninitialized,
// when the index is missing.
func (c *Components) attachIndex(ctx context.Context) (bool, error) {
	if c.Store == nil || c.Embedder == nil {
		return false, nil
	}
	spec := vector.SpecFromConfig(c.Config.VectorStore, c.Config.Embedding)
	exists, err := c.Store.HasIndex(ctx, spec.Name)
	if err != nil {
		return false, fmt.Errorf("failed to look up index %s: %w", spec.Name, err)
	}
	if !exists {
		return false, nil
	}
	idx, err := c.Store.Index(ctx, spec.Name)
	if err != nil {
		return false, fmt.Errorf("failed to open index %s: %w", spec.Name, err)
	}
	existingModel := ""
	if described, err := c.Store.DescribeIndex(ctx, spec.Name); err == nil {
		existingModel = described.EmbeddingModel
	}
	if err := ingest.CheckCompatible(idx, spec, existingModel); err != nil {
		return false, err
	}
	c.Engine.SetIndex(idx)
	return true, nil
}
