package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func testResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "paid leave",
		K:         6,
		Namespace: "default",
		QueryTime: 12,
		Total:     2,
		Results: []*models.SearchResult{
			{ID: "a", Rank: 1, Score: 0.91, Text: "Employees accrue\ntwo days of paid leave.", Metadata: map[string]interface{}{"title": "handbook.pdf", "page": float64(4)}},
			{ID: "b", Rank: 2, Score: 0.52, Text: "Leave requests go to your manager.", Metadata: map[string]interface{}{"source": "/corpus/faq.txt"}},
		},
	}
}

func TestWriteSearchResults(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   []string
	}{
		{OutputText, []string{"Found 2 results in 12ms", "Rank: 1 | Score: 0.9100 | ID: a", "Source: handbook.pdf, page 4", "Employees accrue two days of paid leave.", "Source: /corpus/faq.txt"}},
		{OutputAnswer, []string{"Employees accrue\ntwo days of paid leave.\nLeave requests go to your manager.\n"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, testResponse(), tt.format); err != nil {
			t.Fatal(err)
		}
		for _, s := range tt.want {
			if !strings.Contains(buf.String(), s) {
				t.Errorf("%s output missing %q:\n%s", tt.format, s, buf.String())
			}
		}
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, testResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Total != 2 || decoded.Results[1].ID != "b" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteAnswer(t *testing.T) {
	text := "passage one\npassage two"
	tests := []struct {
		name   string
		answer *models.Answer
		format OutputFormat
		want   string
	}{
		{"text", &models.Answer{Response: &text, NumResults: 2}, OutputText, text + "\n"},
		{"text_empty", &models.Answer{}, OutputText, noAnswer + "\n"},
		{"json_empty", &models.Answer{}, OutputJSON, "{\n  \"response\": null,\n  \"num_results\": 0\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteAnswer(&buf, tt.answer, tt.format); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteIngestionReport(t *testing.T) {
	var buf bytes.Buffer
	report := &models.IngestionReport{
		Index: "dianai", Namespace: "default", IndexCreated: true,
		Documents: 3, Chunks: 9, Upserted: 9, FailedBatches: 1,
		Failures: []models.FileFailure{{Path: "broken.pdf", Error: "malformed"}},
		Duration: 1500 * time.Millisecond,
	}
	if err := WriteIngestionReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"Ingested dianai/default in 1.5s", "index created", "upserted:  9", "failed batches: 1", "broken.pdf: malformed"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("report missing %q:\n%s", s, buf.String())
		}
	}

	buf.Reset()
	skipped := &models.IngestionReport{Index: "dianai", Namespace: "default", Skipped: true, SkipReason: "namespace already holds 42 vectors"}
	if err := WriteIngestionReport(&buf, skipped, OutputText); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Ingestion skipped for dianai/default: namespace already holds 42 vectors\n" {
		t.Errorf("skipped report = %q", got)
	}
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	st := &models.Status{
		Ready: true, StoreType: "sqlite", Index: "dianai", Namespace: "default",
		Dimension: 3072, Metric: "cosine", EmbeddingModel: "text-embedding-3-large",
		VectorCount: 120, DiskUsageBytes: 3 * 1024 * 1024,
		LastRun: &models.IngestionRun{Status: models.RunCompleted, Stale: true, StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"Ready:           yes", "dianai (namespace default)", "3072 (cosine)", "Vectors:         120", "3.0 MiB", "completed at 2026-01-02T03:04:05Z (stale)"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("status missing %q:\n%s", s, buf.String())
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("answer", OutputText, OutputJSON, OutputAnswer); err != nil || f != OutputAnswer {
		t.Errorf("got %q, %v", f, err)
	}
	_, err := ParseOutputFormat("answer", OutputText, OutputJSON)
	if err == nil || !strings.Contains(err.Error(), "use text, json") {
		t.Errorf("err = %v", err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
