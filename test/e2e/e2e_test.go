package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

const e2eDimensions = 256

type ingestResult struct {
	report *models.IngestionReport
	err    error
}

// stack is one running instance of the service over httptest.
type stack struct {
	ts     *httptest.Server
	store  vector.Store
	ledger *storage.SQLiteLedger
	done   chan ingestResult
}

func (s *stack) close(t *testing.T) {
	t.Helper()
	s.ts.Close()
	if err := s.store.Close(); err != nil {
		t.Errorf("close store: %v", err)
	}
	if err := s.ledger.Close(); err != nil {
		t.Errorf("close ledger: %v", err)
	}
}

func e2eConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Model = "mock"
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.VectorStore.Type = "memory"
	cfg.VectorStore.Memory.Path = filepath.Join(dir, "vectors.gob")
	cfg.Storage.LedgerPath = filepath.Join(dir, "ledger.db")
	cfg.Ingest.Directory = filepath.Join(dir, "corpus")
	cfg.Ingest.Pattern = "handbook-*"
	cfg.Ingest.BatchSize = 5
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// startStack wires the service the way the serve command does, attaching
// the index at startup when it exists and after every successful run.
func startStack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := vector.Open(ctx, cfg.VectorStore)
	if err != nil {
		t.Fatal(err)
	}
	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.LedgerPath)
	if err != nil {
		t.Fatal(err)
	}
	ing, err := ingest.New(store, emb, nil, ingest.SettingsFromConfig(cfg), ingest.WithLedger(ledger), ingest.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(nil, emb, search.SettingsFromConfig(cfg), search.WithUnavailableReason("not ingested"))
	attach := func() {
		if ok, _ := store.HasIndex(ctx, cfg.VectorStore.IndexName); !ok {
			return
		}
		idx, err := store.Index(ctx, cfg.VectorStore.IndexName)
		if err != nil {
			t.Error(err)
			return
		}
		engine.SetIndex(idx)
	}
	attach()

	s := &stack{store: store, ledger: ledger, done: make(chan ingestResult, 4)}
	srv := server.NewServer(engine, cfg, logger,
		server.WithIngester(ing),
		server.WithLedger(ledger),
		server.WithIngestHook(func(r *models.IngestionReport, err error) {
			if err == nil {
				attach()
			}
			s.done <- ingestResult{r, err}
		}))
	s.ts = httptest.NewServer(srv.Handler())
	return s
}

func (s *stack) post(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(s.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) status(t *testing.T) *models.Status {
	t.Helper()
	resp, err := http.Get(s.ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st models.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	return &st
}

// ingest starts a run over HTTP and waits for it to finish.
func (s *stack) ingest(t *testing.T) *models.IngestionReport {
	t.Helper()
	if code := s.post(t, "/api/v1/ingest", map[string]string{}, nil); code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/ingest = %d", code)
	}
	select {
	case res := <-s.done:
		if res.err != nil {
			t.Fatalf("ingestion failed: %v", res.err)
		}
		return res.report
	case <-time.After(30 * time.Second):
		t.Fatal("ingestion did not finish")
		return nil
	}
}

func titlesOf(resp *models.SearchResponse) []string {
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if title, ok := r.Metadata["title"].(string); ok {
			out = append(out, title)
		}
	}
	return out
}

func TestE2E_IngestAndQueryOverHTTP(t *testing.T) {
	dir := t.TempDir()
	cfg := e2eConfig(t, dir)
	corpus := BuildCorpus()
	names, err := corpus.WriteFiles(cfg.Ingest.Directory, SupportedFileExtensions)
	if err != nil {
		t.Fatal(err)
	}
	s := startStack(t, cfg)
	defer s.close(t)

	if code := s.post(t, "/api/v1/answer", map[string]string{"query": "annual leave"}, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("answer before ingestion = %d, want 503", code)
	}

	report := s.ingest(t)
	if report.Skipped || report.Upserted != len(corpus.Documents) || len(report.Failures) != 0 {
		t.Fatalf("report = %+v", report)
	}

	for _, tc := range corpus.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			var resp models.SearchResponse
			if code := s.post(t, "/api/v1/query", models.SearchQuery{Query: tc.Query}, &resp); code != http.StatusOK {
				t.Fatalf("query = %d", code)
			}
			if resp.K != config.DefaultK || len(resp.Results) != config.DefaultK {
				t.Fatalf("got %d results with k=%d", len(resp.Results), resp.K)
			}
			for i := 1; i < len(resp.Results); i++ {
				if resp.Results[i].Score > resp.Results[i-1].Score {
					t.Fatalf("results not ordered by score: %v", resp.Results)
				}
			}
			titles := titlesOf(&resp)
			want := names[tc.ExpectedDocID]
			found := false
			for _, title := range titles {
				if title == want {
					found = true
				}
			}
			if !found {
				t.Errorf("query %q: %s not in top %d %v", tc.Query, want, resp.K, titles)
			}
		})
	}

	var ans models.Answer
	if code := s.post(t, "/api/v1/answer", map[string]string{"query": "full disk encryption laptop"}, &ans); code != http.StatusOK {
		t.Fatalf("answer = %d", code)
	}
	if ans.NumResults != config.DefaultK || ans.Response == nil || !strings.Contains(*ans.Response, "full disk encryption") {
		t.Errorf("answer = %d results, %v", ans.NumResults, ans.Response)
	}

	st := s.status(t)
	if !st.Ready || st.VectorCount != int64(len(corpus.Documents)) || st.LastRun == nil || st.LastRun.Status != models.RunCompleted {
		t.Errorf("status = %+v", st)
	}

	again := s.ingest(t)
	if !again.Skipped || again.ExistingCount != int64(len(corpus.Documents)) {
		t.Errorf("second run = %+v", again)
	}
	if st := s.status(t); st.VectorCount != int64(len(corpus.Documents)) {
		t.Errorf("vector count after skipped run = %d", st.VectorCount)
	}
}

func TestE2E_RestartKeepsIndex(t *testing.T) {
	dir := t.TempDir()
	cfg := e2eConfig(t, dir)
	corpus := BuildCorpus()
	if _, err := corpus.WriteFiles(cfg.Ingest.Directory, SupportedFileExtensions); err != nil {
		t.Fatal(err)
	}

	first := startStack(t, cfg)
	if report := first.ingest(t); report.Upserted != len(corpus.Documents) {
		t.Fatalf("first run = %+v", report)
	}
	first.close(t)

	second := startStack(t, cfg)
	defer second.close(t)
	var ans models.Answer
	if code := second.post(t, "/api/v1/answer", map[string]string{"query": "bicycle purchase scheme"}, &ans); code != http.StatusOK {
		t.Fatalf("answer after restart = %d", code)
	}
	if ans.Response == nil || !strings.Contains(*ans.Response, "bicycle purchase scheme") {
		t.Errorf("answer = %+v", ans)
	}
	if report := second.ingest(t); !report.Skipped {
		t.Errorf("run after restart = %+v, want skipped", report)
	}
}
