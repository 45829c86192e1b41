package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/retry"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(256)
	a, _ := e.Embed(ctx, "The pump station runs on a weekly maintenance schedule.")
	b, _ := e.Embed(ctx, "the pump station runs on a weekly maintenance schedule")
	c, _ := e.Embed(ctx, "Quarterly revenue grew in the northern sales region.")
	if len(a) != 256 {
		t.Fatalf("dimensions = %d", len(a))
	}
	if s := cosine(a, b); s < 0.99 {
		t.Errorf("near-identical texts similarity = %f, want ~1", s)
	}
	if cosine(a, c) >= cosine(a, b) {
		t.Error("unrelated text should be less similar than a near-identical one")
	}
	again, _ := e.Embed(ctx, "The pump station runs on a weekly maintenance schedule.")
	for i := range a {
		if a[i] != again[i] {
			t.Fatal("embedding should be deterministic")
		}
	}
	batch, err := e.EmbedBatch(ctx, []string{"x", "y"})
	if err != nil || len(batch) != 2 {
		t.Fatalf("EmbedBatch = %d, %v", len(batch), err)
	}
	if e.Calls() != 5 {
		t.Errorf("Calls = %d, want 5", e.Calls())
	}
	if e.Model() != "mock" || e.Dimensions() != 256 {
		t.Errorf("Model/Dimensions = %s/%d", e.Model(), e.Dimensions())
	}
}

func TestMockEmbedder_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(8).Embed(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := NewMockEmbedder(32)
	c, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if inner.Calls() != 1 {
		t.Errorf("inner calls = %d, want 1 (second call cached)", inner.Calls())
	}

	vecs, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len = %d", len(vecs))
	}
	if inner.Calls() != 2 {
		t.Errorf("inner calls = %d, want 2 (one batch for misses)", inner.Calls())
	}
	if c.Len() != 2 {
		t.Errorf("cache len = %d, want capacity 2", c.Len())
	}
	want, _ := inner.Embed(ctx, "b")
	for i := range want {
		if vecs[1][i] != want[i] {
			t.Fatal("batch results out of order")
		}
	}
	if c.Model() != "mock" || c.Dimensions() != 32 {
		t.Error("cached embedder should report inner model and dimensions")
	}
}

func TestCachedEmbedder_returnsCopies(t *testing.T) {
	ctx := context.Background()
	inner := NewMockEmbedder(16)
	c, err := NewCachedEmbedder(inner, 4)
	if err != nil {
		t.Fatal(err)
	}
	want, err := inner.Embed(ctx, "paid leave")
	if err != nil {
		t.Fatal(err)
	}

	first, err := c.Embed(ctx, "paid leave")
	if err != nil {
		t.Fatal(err)
	}
	first[0] = 99
	hit, err := c.Embed(ctx, "paid leave")
	if err != nil {
		t.Fatal(err)
	}
	hit[1] = 99
	batch, err := c.EmbedBatch(ctx, []string{"paid leave", "lost devices"})
	if err != nil {
		t.Fatal(err)
	}
	batch[0][2] = 99
	batch[1][0] = 99

	for _, text := range []string{"paid leave", "lost devices"} {
		got, err := c.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		expected, _ := inner.Embed(ctx, text)
		if text == "paid leave" {
			expected = want
		}
		for i := range expected {
			if got[i] != expected[i] {
				t.Fatalf("cached vector for %q modified through a returned slice", text)
			}
		}
	}
}

func embeddingsServer(t *testing.T, dims int, status, lastDims *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		lastDims.Store(int32(req.Dimensions))
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Reverse order to check reordering by index.
		for i := range req.Input {
			v := make([]float32, dims)
			v[i%dims] = 2
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: v, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
}

func TestOpenAIEmbedder(t *testing.T) {
	var status, lastDims atomic.Int32
	srv := embeddingsServer(t, 4, &status, &lastDims)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "text-embedding-3-large", Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", ""})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if lastDims.Load() != 4 {
		t.Errorf("dimensions param = %d, want 4", lastDims.Load())
	}
	for i, v := range vecs {
		if v[i%4] != 1 {
			t.Errorf("vector %d = %v, want unit vector on axis %d", i, v, i%4)
		}
	}

	status.Store(http.StatusBadRequest)
	_, err = e.Embed(context.Background(), "x")
	if err == nil || !retry.IsPermanent(err) {
		t.Errorf("400 should be permanent, got %v", err)
	}
	status.Store(http.StatusTooManyRequests)
	_, err = e.Embed(context.Background(), "x")
	if err == nil || retry.IsPermanent(err) {
		t.Errorf("429 should be retryable, got %v", err)
	}
}

func TestOpenAIEmbedder_dimensionMismatch(t *testing.T) {
	var status, lastDims atomic.Int32
	srv := embeddingsServer(t, 4, &status, &lastDims)
	defer srv.Close()
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "ada-compatible", Dimensions: 8})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Embed(context.Background(), "x")
	if err == nil || !retry.IsPermanent(err) {
		t.Fatalf("dimension mismatch should be a permanent error, got %v", err)
	}
	if lastDims.Load() != 0 {
		t.Errorf("models without shortening support should not send dimensions, got %d", lastDims.Load())
	}
}

func TestNew_factory(t *testing.T) {
	t.Setenv("KOTAE_TEST_OPENAI_KEY", "")
	cfg := config.EmbeddingConfig{Provider: "openai", APIKeyEnv: "KOTAE_TEST_OPENAI_KEY", Model: "text-embedding-3-large", Dimensions: 3072}
	_, err := New(cfg)
	if !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("missing key: err = %v", err)
	}

	t.Setenv("KOTAE_TEST_OPENAI_KEY", "sk-test")
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 3072 || e.Model() != "text-embedding-3-large" {
		t.Errorf("openai embedder = %d/%s", e.Dimensions(), e.Model())
	}

	azure := config.EmbeddingConfig{Provider: "azure", APIKeyEnv: "KOTAE_TEST_OPENAI_KEY", EndpointEnv: "KOTAE_TEST_AZURE_ENDPOINT", Model: "text-embedding-3-large", Dimensions: 3072}
	t.Setenv("KOTAE_TEST_AZURE_ENDPOINT", "")
	if _, err := New(azure); !config.IsConfigurationError(err) {
		t.Errorf("azure without endpoint: err = %v", err)
	}

	mock, err := New(config.EmbeddingConfig{Provider: "mock", Dimensions: 16, CacheSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.(*CachedEmbedder); !ok {
		t.Errorf("cache_size > 0 should wrap the embedder, got %T", mock)
	}
	if _, err := New(config.EmbeddingConfig{Provider: "bogus"}); !config.IsConfigurationError(err) {
		t.Errorf("unknown provider: err = %v", err)
	}
}
