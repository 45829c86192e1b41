package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLedger_RunLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.LastRun(ctx, "dianai", "default"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("LastRun on empty ledger = %v, want ErrRunNotFound", err)
	}

	run := &models.IngestionRun{Index: "dianai", Namespace: "default", Directory: "/corpus", Pattern: "*.pdf", EmbeddingModel: "m"}
	if err := l.BeginRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.ID == "" || run.StartedAt.IsZero() || run.Status != models.RunRunning {
		t.Fatalf("BeginRun did not fill run: %+v", run)
	}

	got, err := l.LastRun(ctx, "dianai", "default")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != run.ID || got.Status != models.RunRunning || got.FinishedAt != nil {
		t.Errorf("LastRun = %+v", got)
	}
	if _, err := l.LastCompletedRun(ctx, "dianai", "default"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LastCompletedRun with only running run = %v", err)
	}

	run.Status = models.RunCompleted
	run.Documents, run.Chunks, run.Upserted = 2, 5, 5
	if err := l.FinishRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	got, err = l.LastCompletedRun(ctx, "dianai", "default")
	if err != nil {
		t.Fatal(err)
	}
	if got.Chunks != 5 || got.Upserted != 5 || got.FinishedAt == nil || got.Stale {
		t.Errorf("LastCompletedRun = %+v", got)
	}
	if got.Directory != "/corpus" || got.EmbeddingModel != "m" {
		t.Errorf("LastCompletedRun = %+v", got)
	}
}

func TestSQLiteLedger_FinishRunRequiresTerminalStatus(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	run := &models.IngestionRun{Index: "i", Namespace: "n"}
	if err := l.BeginRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := l.FinishRun(ctx, run); err == nil {
		t.Error("FinishRun with running status should fail")
	}
	missing := &models.IngestionRun{ID: "nope", Status: models.RunFailed}
	if err := l.FinishRun(ctx, missing); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun unknown id = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteLedger_MarkStale(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, status := range []models.RunStatus{models.RunCompleted, models.RunFailed} {
		run := &models.IngestionRun{Index: "i", Namespace: "n", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := l.BeginRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		run.Status = status
		if err := l.FinishRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
	other := &models.IngestionRun{Index: "i", Namespace: "other"}
	_ = l.BeginRun(ctx, other)
	other.Status = models.RunCompleted
	_ = l.FinishRun(ctx, other)

	n, err := l.MarkStale(ctx, "i", "n")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("MarkStale changed %d runs, want 1", n)
	}
	if n, _ := l.MarkStale(ctx, "i", "n"); n != 0 {
		t.Errorf("second MarkStale changed %d runs, want 0", n)
	}

	last, err := l.LastRun(ctx, "i", "n")
	if err != nil {
		t.Fatal(err)
	}
	if last.Status != models.RunFailed {
		t.Errorf("LastRun status = %s, want failed", last.Status)
	}
	completed, err := l.LastCompletedRun(ctx, "i", "n")
	if err != nil {
		t.Fatal(err)
	}
	if !completed.Stale {
		t.Error("completed run should be stale")
	}
	if o, _ := l.LastCompletedRun(ctx, "i", "other"); o == nil || o.Stale {
		t.Errorf("other namespace affected: %+v", o)
	}
}

func TestSQLiteLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	l, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	run := &models.IngestionRun{Index: "i", Namespace: "n"}
	_ = l.BeginRun(ctx, run)
	run.Status = models.RunSkipped
	_ = l.FinishRun(ctx, run)
	l.Close()

	l, err = NewSQLiteLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	got, err := l.LastRun(ctx, "i", "n")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != run.ID || got.Status != models.RunSkipped {
		t.Errorf("LastRun after reopen = %+v", got)
	}
}
