package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		index_name TEXT NOT NULL,
		namespace TEXT NOT NULL,
		status TEXT NOT NULL,
		directory TEXT,
		pattern TEXT,
		embedding_model TEXT,
		documents INTEGER NOT NULL DEFAULT 0,
		chunks INTEGER NOT NULL DEFAULT 0,
		upserted INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		stale INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_namespace ON ingestion_runs(index_name, namespace, started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// BeginRun inserts a running run.
func (s *SQLiteLedger) BeginRun(ctx context.Context, run *models.IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = models.RunRunning
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, index_name, namespace, status, directory, pattern, embedding_model, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Index, run.Namespace, string(run.Status), run.Directory, run.Pattern, run.EmbeddingModel, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun updates a run with its terminal state.
func (s *SQLiteLedger) FinishRun(ctx context.Context, run *models.IngestionRun) error {
	if !run.Finished() {
		return fmt.Errorf("run %s: status %q is not terminal", run.ID, run.Status)
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs
		 SET status = ?, documents = ?, chunks = ?, upserted = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), run.Documents, run.Chunks, run.Upserted, run.Error, *run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

const runColumns = `id, index_name, namespace, status, directory, pattern, embedding_model,
	documents, chunks, upserted, error, stale, started_at, finished_at`

func scanRun(row *sql.Row) (*models.IngestionRun, error) {
	var run models.IngestionRun
	var status string
	var dir, pattern, model, errMsg sql.NullString
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Index, &run.Namespace, &status, &dir, &pattern, &model,
		&run.Documents, &run.Chunks, &run.Upserted, &errMsg, &run.Stale, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	run.Status = models.RunStatus(status)
	run.Directory, run.Pattern, run.EmbeddingModel, run.Error = dir.String, pattern.String, model.String, errMsg.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// LastRun returns the most recently started run for the namespace.
func (s *SQLiteLedger) LastRun(ctx context.Context, index, namespace string) (*models.IngestionRun, error) {
	return scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs
		 WHERE index_name = ? AND namespace = ?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`, index, namespace))
}

// LastCompletedRun returns the most recently started completed run for the namespace.
func (s *SQLiteLedger) LastCompletedRun(ctx context.Context, index, namespace string) (*models.IngestionRun, error) {
	return scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs
		 WHERE index_name = ? AND namespace = ? AND status = ?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`, index, namespace, string(models.RunCompleted)))
}

// MarkStale flags completed runs of the namespace as stale.
func (s *SQLiteLedger) MarkStale(ctx context.Context, index, namespace string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET stale = 1
		 WHERE index_name = ? AND namespace = ? AND status = ? AND stale = 0`,
		index, namespace, string(models.RunCompleted))
	if err != nil {
		return 0, fmt.Errorf("failed to mark runs stale: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
