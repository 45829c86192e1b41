// Package ingest loads a document corpus, splits and embeds it, and upserts the
// chunks into a vector index namespace exactly once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/loader"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retry"
	"github.com/hyperjump/kotae/internal/splitter"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Metadata keys added to every upserted chunk on top of the document metadata.
const (
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaOffset     = "offset"
)

// Settings controls a run.
type Settings struct {
	Index     vector.IndexSpec
	Namespace string
	Directory string
	Pattern   string

	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Concurrency  int

	// CompletionMarker skips only when the ledger holds a completed, non-stale
	// run. Without it any vector in the namespace skips the run.
	CompletionMarker bool
	Retry            retry.Policy
}

// SettingsFromConfig builds Settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Index:            vector.SpecFromConfig(cfg.VectorStore, cfg.Embedding),
		Namespace:        cfg.VectorStore.Namespace,
		Directory:        cfg.Ingest.Directory,
		Pattern:          cfg.Ingest.Pattern,
		ChunkSize:        cfg.Ingest.ChunkSize,
		ChunkOverlap:     cfg.Ingest.OverlapOrDefault(),
		BatchSize:        cfg.Ingest.BatchSize,
		Concurrency:      cfg.Ingest.Concurrency,
		CompletionMarker: cfg.Ingest.CompletionMarker,
		Retry:            retry.FromConfig(cfg.Ingest.Retry),
	}
}

// Ingestor runs ingestion into one index namespace.
type Ingestor struct {
	store    vector.Store
	embedder embedding.Embedder
	loader   *loader.Loader
	splitter *splitter.Splitter
	settings Settings
	ledger   storage.Ledger // optional
	logger   *zap.Logger    // optional

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets a logger for progress and failure output.
func WithLogger(l *zap.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithLedger records every run in l.
func WithLedger(l storage.Ledger) Option {
	return func(i *Ingestor) { i.ledger = l }
}

// New creates an Ingestor. It returns a *config.ConfigurationError when the
// store or embedder is missing, the chunking parameters are invalid, or the
// embedder dimension differs from the index spec.
func New(store vector.Store, embedder embedding.Embedder, ld *loader.Loader, settings Settings, opts ...Option) (*Ingestor, error) {
	if store == nil {
		return nil, &config.ConfigurationError{Field: "vector_store", Reason: "not configured"}
	}
	if embedder == nil {
		return nil, &config.ConfigurationError{Field: "embedding", Reason: "not configured"}
	}
	sp, err := splitter.New(settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if settings.Index.Dimension != embedder.Dimensions() {
		return nil, &config.ConfigurationError{
			Field:  "embedding.dimensions",
			Reason: fmt.Sprintf("embedder produces %d dimensions, index %s is configured for %d", embedder.Dimensions(), settings.Index.Name, settings.Index.Dimension),
		}
	}
	if err := settings.Index.Validate(); err != nil {
		return nil, &config.ConfigurationError{Field: "vector_store", Reason: "invalid index spec", Err: err}
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 64
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	if ld == nil {
		ld = loader.New(nil)
	}
	i := &Ingestor{
		store:    store,
		embedder: embedder,
		loader:   ld,
		splitter: sp,
		settings: settings,
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Settings returns the settings the Ingestor was built with.
func (i *Ingestor) Settings() Settings { return i.settings }

// Running reports whether a run for the configured namespace is active.
func (i *Ingestor) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running[i.guardKey()]
}

func (i *Ingestor) guardKey() string {
	return i.settings.Index.Name + "/" + i.settings.Namespace
}

func (i *Ingestor) acquire() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := i.guardKey()
	if i.running[key] {
		return false
	}
	i.running[key] = true
	return true
}

func (i *Ingestor) release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.running, i.guardKey())
}

// Ingest runs ingestion of the files under dir matching pattern. Empty dir or
// pattern fall back to the configured values. A skipped run returns a report
// with Skipped set and a nil error.
func (i *Ingestor) Ingest(ctx context.Context, dir, pattern string) (*models.IngestionReport, error) {
	if !i.acquire() {
		return nil, ErrIngestionInProgress
	}
	defer i.release()
	return i.run(ctx, dir, pattern)
}

// Start runs Ingest in a new goroutine and calls done with its result. It
// returns ErrIngestionInProgress at once, without starting anything, when a
// run is already active.
func (i *Ingestor) Start(ctx context.Context, dir, pattern string, done func(*models.IngestionReport, error)) error {
	if !i.acquire() {
		return ErrIngestionInProgress
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.release()
		report, err := i.run(ctx, dir, pattern)
		if done != nil {
			done(report, err)
		}
	}()
	return nil
}

// Wait blocks until every run launched by Start has returned, including its
// done callback, or ctx is done.
func (i *Ingestor) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for ingestion runs: %w", ctx.Err())
	}
}

func (i *Ingestor) run(ctx context.Context, dir, pattern string) (*models.IngestionReport, error) {
	if dir == "" {
		dir = i.settings.Directory
	}
	if pattern == "" {
		pattern = i.settings.Pattern
	}
	ns := i.settings.Namespace
	report := &models.IngestionReport{
		RunID:     uuid.NewString(),
		Index:     i.settings.Index.Name,
		Namespace: ns,
		StartedAt: time.Now().UTC(),
	}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	idx, created, err := i.EnsureIndex(ctx)
	if err != nil {
		if config.IsConfigurationError(err) {
			return report, err
		}
		return report, &IngestionError{Stage: StageIndex, Namespace: ns, Err: err}
	}
	report.IndexCreated = created

	var stats vector.NamespaceStats
	if _, err := retry.Do(ctx, i.settings.Retry, func(ctx context.Context) error {
		var err error
		stats, err = idx.DescribeStats(ctx, ns)
		return classify(err)
	}); err != nil {
		return report, &IngestionError{Stage: StageIndex, Namespace: ns, Err: fmt.Errorf("failed to describe namespace: %w", err)}
	}
	report.ExistingCount = stats.VectorCount

	run := &models.IngestionRun{
		ID:             report.RunID,
		Index:          report.Index,
		Namespace:      ns,
		Directory:      dir,
		Pattern:        pattern,
		EmbeddingModel: i.embedder.Model(),
		StartedAt:      report.StartedAt,
	}

	if reason := i.skipReason(ctx, stats); reason != "" {
		report.Skipped = true
		report.SkipReason = reason
		if i.logger != nil {
			i.logger.Info("corpus already ingested, skipping",
				zap.String("index", report.Index), zap.String("namespace", ns),
				zap.Int64("vector_count", stats.VectorCount), zap.String("reason", reason))
		}
		i.recordSkipped(ctx, run)
		return report, nil
	}

	if i.ledger != nil {
		if err := i.ledger.BeginRun(ctx, run); err != nil {
			return report, &IngestionError{Stage: StageLedger, Namespace: ns, Err: err}
		}
	}
	runErr := i.ingest(ctx, idx, dir, pattern, report)

	run.Documents, run.Chunks, run.Upserted = report.Documents, report.Chunks, report.Upserted
	run.Status = models.RunCompleted
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
	}
	if i.ledger != nil {
		// The run outcome must be recorded even when ctx was cancelled.
		if err := i.ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil && runErr == nil {
			runErr = &IngestionError{Stage: StageLedger, Namespace: ns, Err: err}
		}
	}
	if i.logger != nil {
		fields := []zap.Field{
			zap.String("run_id", report.RunID), zap.String("namespace", ns),
			zap.Int("documents", report.Documents), zap.Int("chunks", report.Chunks),
			zap.Int("upserted", report.Upserted), zap.Int("failed_batches", report.FailedBatches),
			zap.Int("failed_files", len(report.Failures)), zap.Duration("elapsed", time.Since(report.StartedAt)),
		}
		if runErr != nil {
			i.logger.Error("ingestion failed", append(fields, zap.Error(runErr))...)
		} else {
			i.logger.Info("ingestion completed", fields...)
		}
	}
	return report, runErr
}

// skipReason returns why the run should be skipped, or "" to ingest.
func (i *Ingestor) skipReason(ctx context.Context, stats vector.NamespaceStats) string {
	if !i.settings.CompletionMarker || i.ledger == nil {
		if stats.VectorCount > 0 {
			return fmt.Sprintf("namespace already holds %d vectors", stats.VectorCount)
		}
		return ""
	}
	last, err := i.ledger.LastCompletedRun(ctx, i.settings.Index.Name, i.settings.Namespace)
	switch {
	case errors.Is(err, storage.ErrRunNotFound):
		if stats.VectorCount > 0 && i.logger != nil {
			i.logger.Warn("namespace has vectors but no completed run, re-ingesting",
				zap.String("namespace", i.settings.Namespace), zap.Int64("vector_count", stats.VectorCount))
		}
		return ""
	case err != nil:
		// Without the ledger fall back to the count check.
		if i.logger != nil {
			i.logger.Warn("ledger lookup failed, using vector count", zap.Error(err))
		}
		if stats.VectorCount > 0 {
			return fmt.Sprintf("namespace already holds %d vectors", stats.VectorCount)
		}
		return ""
	case last.Stale:
		if i.logger != nil {
			i.logger.Info("corpus changed since last run, re-ingesting", zap.String("last_run", last.ID))
		}
		return ""
	default:
		return fmt.Sprintf("run %s completed", last.ID)
	}
}

func (i *Ingestor) recordSkipped(ctx context.Context, run *models.IngestionRun) {
	if i.ledger == nil {
		return
	}
	err := i.ledger.BeginRun(ctx, run)
	if err == nil {
		run.Status = models.RunSkipped
		err = i.ledger.FinishRun(ctx, run)
	}
	if err != nil && i.logger != nil {
		i.logger.Warn("failed to record skipped run", zap.Error(err))
	}
}

// EnsureIndex returns the configured index, creating it empty when absent,
// and reports whether it was created. An existing index built for another
// embedding space is a *config.ConfigurationError. Nothing is ingested.
func (i *Ingestor) EnsureIndex(ctx context.Context) (vector.Index, bool, error) {
	spec := i.settings.Index
	var exists bool
	if _, err := retry.Do(ctx, i.settings.Retry, func(ctx context.Context) error {
		var err error
		exists, err = i.store.HasIndex(ctx, spec.Name)
		return classify(err)
	}); err != nil {
		return nil, false, fmt.Errorf("failed to look up index %s: %w", spec.Name, err)
	}

	created := false
	if !exists {
		_, err := retry.Do(ctx, i.settings.Retry, func(ctx context.Context) error {
			err := i.store.CreateIndex(ctx, spec)
			if errors.Is(err, vector.ErrIndexExists) {
				// Created concurrently by another process.
				return nil
			}
			created = err == nil
			return classify(err)
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to create index %s: %w", spec.Name, err)
		}
	}
	if created {
		if i.logger != nil {
			i.logger.Info("index created", zap.String("index", spec.Name),
				zap.Int("dimension", spec.Dimension), zap.String("metric", string(spec.Metric)))
		}
	} else if i.logger != nil {
		i.logger.Info("index already exists, skipping creation", zap.String("index", spec.Name))
	}

	var idx vector.Index
	if _, err := retry.Do(ctx, i.settings.Retry, func(ctx context.Context) error {
		var err error
		idx, err = i.store.Index(ctx, spec.Name)
		return classify(err)
	}); err != nil {
		return nil, false, fmt.Errorf("failed to open index %s: %w", spec.Name, err)
	}
	if err := CheckCompatible(idx, spec, i.existingModel(ctx, spec.Name)); err != nil {
		return nil, false, err
	}
	return idx, created, nil
}

func (i *Ingestor) existingModel(ctx context.Context, name string) string {
	got, err := i.store.DescribeIndex(ctx, name)
	if err != nil {
		return ""
	}
	return got.EmbeddingModel
}

// CheckCompatible verifies that idx was built for the same embedding space as
// want. existingModel may be empty when the backend does not record it.
func CheckCompatible(idx vector.Index, want vector.IndexSpec, existingModel string) error {
	if idx.Dimension() != want.Dimension {
		return &config.ConfigurationError{
			Field:  "embedding.dimensions",
			Reason: fmt.Sprintf("index %s has dimension %d, embedder produces %d", idx.Name(), idx.Dimension(), want.Dimension),
		}
	}
	if existingModel != "" && want.EmbeddingModel != "" && existingModel != want.EmbeddingModel {
		return &config.ConfigurationError{
			Field:  "embedding.model",
			Reason: fmt.Sprintf("index %s was built with %s, embedder is %s", idx.Name(), existingModel, want.EmbeddingModel),
		}
	}
	return nil
}

// ingest loads, splits, embeds and upserts; it fills report as it goes.
func (i *Ingestor) ingest(ctx context.Context, idx vector.Index, dir, pattern string, report *models.IngestionReport) error {
	ns := i.settings.Namespace
	loaded, err := i.loader.Load(ctx, dir, pattern)
	if err != nil {
		return &IngestionError{Stage: StageLoad, Namespace: ns, Err: err}
	}
	report.Documents = len(loaded.Documents)
	report.Failures = loaded.Failures

	var chunks []*models.DocumentChunk
	for _, doc := range loaded.Documents {
		chunks = append(chunks, i.splitter.Split(doc)...)
	}
	report.Chunks = len(chunks)
	if i.logger != nil {
		i.logger.Info("corpus loaded",
			zap.String("dir", dir), zap.String("pattern", pattern),
			zap.Int("files", loaded.Files), zap.Int("documents", len(loaded.Documents)),
			zap.Int("chunks", len(chunks)))
	}
	if len(chunks) == 0 {
		if i.logger != nil {
			i.logger.Warn("no content to ingest", zap.String("dir", dir), zap.String("pattern", pattern))
		}
		return nil
	}

	var (
		upserted  atomic.Int64
		failMu    sync.Mutex
		batchErrs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.settings.Concurrency)
	size := i.settings.BatchSize
	for start, n := 0, 0; start < len(chunks); start, n = start+size, n+1 {
		if ctx.Err() != nil {
			break
		}
		end := min(start+size, len(chunks))
		batch, num := chunks[start:end], n
		g.Go(func() error {
			// Batch failures are collected, not returned, so other batches keep running.
			if err := i.upsertBatch(gctx, idx, batch); err != nil {
				failMu.Lock()
				batchErrs = append(batchErrs, fmt.Errorf("batch %d (%d chunks): %w", num, len(batch), err))
				failMu.Unlock()
				if i.logger != nil {
					i.logger.Error("batch failed", zap.Int("batch", num), zap.Int("chunks", len(batch)), zap.Error(err))
				}
				return nil
			}
			total := upserted.Add(int64(len(batch)))
			if i.logger != nil {
				i.logger.Debug("batch upserted", zap.Int("batch", num), zap.Int64("upserted", total), zap.Int("chunks", len(chunks)))
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Upserted = int(upserted.Load())
	report.FailedBatches = len(batchErrs)
	if err := ctx.Err(); err != nil {
		batchErrs = append(batchErrs, fmt.Errorf("cancelled after %d of %d chunks: %w", report.Upserted, len(chunks), err))
	}
	if len(batchErrs) > 0 {
		return &IngestionError{Stage: StageUpsert, Namespace: ns, Err: errors.Join(batchErrs...)}
	}
	return nil
}

func (i *Ingestor) upsertBatch(ctx context.Context, idx vector.Index, batch []*models.DocumentChunk) error {
	texts := make([]string, len(batch))
	for j, ch := range batch {
		texts[j] = ch.Content
	}
	var vecs [][]float32
	attempts, err := retry.Do(ctx, i.settings.Retry, func(ctx context.Context) error {
		var err error
		vecs, err = i.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) != len(texts) {
			err = retry.Permanent(fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts)))
		}
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("embedding failed after %d attempts: %w", attempts, err)
	}

	records := make([]vector.Record, len(batch))
	for j, ch := range batch {
		records[j] = vector.Record{ID: ch.ID, Values: vecs[j], Text: ch.Content, Metadata: chunkMetadata(ch)}
	}
	attempts, err = retry.Do(ctx, i.settings.Retry, func(ctx context.Context) error {
		return classify(idx.Upsert(ctx, i.settings.Namespace, records))
	})
	if err != nil {
		return fmt.Errorf("upsert failed after %d attempts: %w", attempts, err)
	}
	return nil
}

func chunkMetadata(ch *models.DocumentChunk) map[string]interface{} {
	meta := make(map[string]interface{}, len(ch.Metadata)+3)
	for k, v := range ch.Metadata {
		meta[k] = v
	}
	meta[MetaDocumentID] = ch.DocumentID
	meta[MetaChunkIndex] = ch.ChunkIndex
	meta[MetaOffset] = ch.Offset
	return meta
}

// classify marks errors that cannot succeed on retry as permanent.
func classify(err error) error {
	if err == nil || retry.IsPermanent(err) {
		return err
	}
	if vector.IsPermanent(err) || config.IsConfigurationError(err) {
		return retry.Permanent(err)
	}
	return err
}
