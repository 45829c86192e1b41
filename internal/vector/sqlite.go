package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists indexes in a single SQLite file and searches them by
// brute force. Suitable for corpora up to a few hundred thousand chunks.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initVectorSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initVectorSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexes (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		metric TEXT NOT NULL,
		cloud TEXT,
		region TEXT,
		embedding_model TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vectors (
		index_name TEXT NOT NULL,
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (index_name, namespace, id),
		FOREIGN KEY (index_name) REFERENCES indexes(name) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// CreateIndex records a new index.
func (s *SQLiteStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO indexes (name, dimension, metric, cloud, region, embedding_model)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		spec.Name, spec.Dimension, string(spec.Metric), spec.Cloud, spec.Region, spec.EmbeddingModel,
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrIndexExists, spec.Name)
	}
	return nil
}

// HasIndex reports whether the named index exists.
func (s *SQLiteStore) HasIndex(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexes WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up index: %w", err)
	}
	return n > 0, nil
}

// DescribeIndex returns the spec of the named index.
func (s *SQLiteStore) DescribeIndex(ctx context.Context, name string) (*IndexSpec, error) {
	var spec IndexSpec
	var metric string
	var cloud, region, model sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT name, dimension, metric, cloud, region, embedding_model FROM indexes WHERE name = ?`, name,
	).Scan(&spec.Name, &spec.Dimension, &metric, &cloud, &region, &model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe index: %w", err)
	}
	spec.Metric = Metric(metric)
	spec.Cloud, spec.Region, spec.EmbeddingModel = cloud.String, region.String, model.String
	return &spec, nil
}

// Index returns a handle to the named index.
func (s *SQLiteStore) Index(ctx context.Context, name string) (Index, error) {
	spec, err := s.DescribeIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	return &sqliteIndex{db: s.db, spec: *spec}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteIndex struct {
	db   *sql.DB
	spec IndexSpec
}

func (x *sqliteIndex) Name() string { return x.spec.Name }
func (x *sqliteIndex) Dimension() int { return x.spec.Dimension }
func (x *sqliteIndex) Metric() Metric { return x.spec.Metric }

func (x *sqliteIndex) DescribeStats(ctx context.Context, namespace string) (NamespaceStats, error) {
	stats := NamespaceStats{Namespace: namespace, Dimension: x.spec.Dimension}
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE index_name = ? AND namespace = ?`, x.spec.Name, namespace,
	).Scan(&stats.VectorCount)
	if err != nil {
		return stats, fmt.Errorf("failed to count vectors: %w", err)
	}
	return stats, nil
}

func (x *sqliteIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := validateRecords(records, x.spec.Dimension); err != nil {
		return err
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (index_name, namespace, id, text, metadata, embedding, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(index_name, namespace, id) DO UPDATE SET
		   text = excluded.text, metadata = excluded.metadata,
		   embedding = excluded.embedding, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, x.spec.Name, namespace, r.ID, r.Text, string(meta), float32SliceToBytes(r.Values)); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

func (x *sqliteIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]Match, error) {
	if err := checkQuery(query, x.spec.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding FROM vectors WHERE index_name = ? AND namespace = ?`,
		x.spec.Name, namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	rawMeta := make(map[string][]byte)
	for rows.Next() {
		var m Match
		var meta sql.NullString
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("failed to read vector: %w", err)
		}
		m.Score = Score(x.spec.Metric, query, bytesToFloat32Slice(blob))
		rawMeta[m.ID] = []byte(meta.String)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	matches = topK(matches, k)
	for i := range matches {
		if matches[i].Metadata, err = decodeMetadata(rawMeta[matches[i].ID]); err != nil {
			return nil, err
		}
	}
	return matches, nil
}
