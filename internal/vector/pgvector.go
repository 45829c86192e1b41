package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
)

// pgvector's HNSW index accepts at most this many dimensions.
const maxHNSWDimensions = 2000

var pgIndexName = regexp.MustCompile(`^[a-z0-9-]+$`)

// PGVectorStore keeps each index in its own Postgres table using the pgvector
// extension. A catalog table records index specs.
type PGVectorStore struct {
	db *sqlx.DB
}

type pgIndexRow struct {
	Name           string `db:"name"`
	Dimension      int    `db:"dimension"`
	Metric         string `db:"metric"`
	Cloud          string `db:"cloud"`
	Region         string `db:"region"`
	EmbeddingModel string `db:"embedding_model"`
}

type pgMatchRow struct {
	ID       string  `db:"id"`
	Text     string  `db:"text"`
	Metadata []byte  `db:"metadata"`
	Score    float64 `db:"score"`
}

// NewPGVectorStore connects to dsn and ensures the extension and catalog exist.
func NewPGVectorStore(ctx context.Context, dsn string, maxOpenConns int) (*PGVectorStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 5)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS kotae_indexes (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		metric TEXT NOT NULL,
		cloud TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		embedding_model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PGVectorStore{db: db}, nil
}

func pgTableName(index string) string {
	return "kotae_" + strings.ReplaceAll(index, "-", "_")
}

// CreateIndex registers the index and creates its table. An HNSW index is
// added when the dimension allows it.
func (s *PGVectorStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if !pgIndexName.MatchString(spec.Name) {
		return fmt.Errorf("index %s: name must be lowercase alphanumeric or hyphens", spec.Name)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx,
		`INSERT INTO kotae_indexes (name, dimension, metric, cloud, region, embedding_model)
		 VALUES (:name, :dimension, :metric, :cloud, :region, :embedding_model)
		 ON CONFLICT (name) DO NOTHING`,
		pgIndexRow{
			Name: spec.Name, Dimension: spec.Dimension, Metric: string(spec.Metric),
			Cloud: spec.Cloud, Region: spec.Region, EmbeddingModel: spec.EmbeddingModel,
		})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrIndexExists, spec.Name)
	}

	table := pgTableName(spec.Name)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, id)
	)`, table, spec.Dimension)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	if spec.Dimension <= maxHNSWDimensions {
		ops := "vector_cosine_ops"
		if spec.Metric == MetricDotProduct {
			ops = "vector_ip_ops"
		}
		ann := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding %s)`, table, table, ops)
		if _, err := tx.ExecContext(ctx, ann); err != nil {
			return fmt.Errorf("failed to create hnsw index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// HasIndex reports whether the named index is in the catalog.
func (s *PGVectorStore) HasIndex(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM kotae_indexes WHERE name = $1`, name); err != nil {
		return false, fmt.Errorf("failed to look up index: %w", err)
	}
	return n > 0, nil
}

// DescribeIndex returns the catalog entry for the named index.
func (s *PGVectorStore) DescribeIndex(ctx context.Context, name string) (*IndexSpec, error) {
	var row pgIndexRow
	err := s.db.GetContext(ctx, &row,
		`SELECT name, dimension, metric, cloud, region, embedding_model FROM kotae_indexes WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe index: %w", err)
	}
	return &IndexSpec{
		Name: row.Name, Dimension: row.Dimension, Metric: Metric(row.Metric),
		Cloud: row.Cloud, Region: row.Region, EmbeddingModel: row.EmbeddingModel,
	}, nil
}

// Index returns a handle to the named index.
func (s *PGVectorStore) Index(ctx context.Context, name string) (Index, error) {
	spec, err := s.DescribeIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	return &pgIndex{db: s.db, spec: *spec, table: pgTableName(spec.Name)}, nil
}

// Close closes the connection pool.
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

type pgIndex struct {
	db    *sqlx.DB
	spec  IndexSpec
	table string
}

func (x *pgIndex) Name() string { return x.spec.Name }
func (x *pgIndex) Dimension() int { return x.spec.Dimension }
func (x *pgIndex) Metric() Metric { return x.spec.Metric }

func (x *pgIndex) DescribeStats(ctx context.Context, namespace string) (NamespaceStats, error) {
	stats := NamespaceStats{Namespace: namespace, Dimension: x.spec.Dimension}
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = $1`, x.table)
	if err := x.db.GetContext(ctx, &stats.VectorCount, q, namespace); err != nil {
		return stats, fmt.Errorf("failed to count vectors: %w", err)
	}
	return stats, nil
}

func (x *pgIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := validateRecords(records, x.spec.Dimension); err != nil {
		return err
	}
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`INSERT INTO %s (namespace, id, text, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::vector, now())
		ON CONFLICT (namespace, id) DO UPDATE SET
		  text = EXCLUDED.text, metadata = EXCLUDED.metadata,
		  embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`, x.table)
	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, namespace, r.ID, r.Text, string(meta), pgvector.NewVector(r.Values)); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

func (x *pgIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]Match, error) {
	if err := checkQuery(query, x.spec.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	score, order := "1 - (embedding <=> $2::vector)", "embedding <=> $2::vector"
	if x.spec.Metric == MetricDotProduct {
		score, order = "-(embedding <#> $2::vector)", "embedding <#> $2::vector"
	}
	q := fmt.Sprintf(`SELECT id, text, metadata, %s AS score FROM %s
		WHERE namespace = $1 ORDER BY %s, id LIMIT $3`, score, x.table, order)

	var rows []pgMatchRow
	if err := x.db.SelectContext(ctx, &rows, q, namespace, pgvector.NewVector(query), k); err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		meta, err := decodeMetadata(r.Metadata)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{ID: r.ID, Score: r.Score, Text: r.Text, Metadata: meta})
	}
	return matches, nil
}
