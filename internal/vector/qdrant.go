package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Point IDs are derived from namespace and record ID so the same record ID can
// live in several namespaces of one collection.
var qdrantPointSpace = uuid.MustParse("8c1f7a52-3d5e-4d8b-9c0e-6b2a4f1e7d93")

// StatusError is a non-2xx answer from a remote store.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// QdrantStore maps indexes to Qdrant collections over the REST API.
// Namespaces are a payload field filtered on every read.
type QdrantStore struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewQdrantStore returns a store talking to the Qdrant server at baseURL.
func NewQdrantStore(baseURL, apiKey string, timeout time.Duration) *QdrantStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string            `json:"key"`
	Match map[string]string `json:"match"`
}

type qdrantPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

func namespaceFilter(namespace string) *qdrantFilter {
	return &qdrantFilter{Must: []qdrantCondition{{Key: "namespace", Match: map[string]string{"value": namespace}}}}
}

func qdrantDistance(m Metric) string {
	if m == MetricDotProduct {
		return "Dot"
	}
	return "Cosine"
}

// do sends body as JSON and decodes the "result" field of the reply into out.
// It returns the status code so callers can treat 404 specially.
func (s *QdrantStore) do(ctx context.Context, op, method, path string, body, out interface{}) (int, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, r)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: failed to decode result: %w", op, err)
	}
	return resp.StatusCode, nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// CreateIndex creates a collection sized for spec.
func (s *QdrantStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	exists, err := s.HasIndex(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrIndexExists, spec.Name)
	}
	body := map[string]interface{}{
		"vectors": qdrantVectorParams{Size: spec.Dimension, Distance: qdrantDistance(spec.Metric)},
	}
	code, err := s.do(ctx, "create collection", http.MethodPut, collectionPath(spec.Name), body, nil)
	if code == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrIndexExists, spec.Name)
	}
	if err != nil {
		return err
	}
	// Keyword index on the namespace payload keeps filtered reads cheap.
	fieldIndex := map[string]string{"field_name": "namespace", "field_schema": "keyword"}
	if _, err := s.do(ctx, "create payload index", http.MethodPut, collectionPath(spec.Name)+"/index?wait=true", fieldIndex, nil); err != nil {
		return err
	}
	return nil
}

// HasIndex reports whether the collection exists.
func (s *QdrantStore) HasIndex(ctx context.Context, name string) (bool, error) {
	_, err := s.DescribeIndex(ctx, name)
	if errors.Is(err, ErrIndexNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DescribeIndex reads dimension and metric from the collection config.
// Qdrant keeps no placement or model fields, so those stay empty.
func (s *QdrantStore) DescribeIndex(ctx context.Context, name string) (*IndexSpec, error) {
	var info struct {
		Config struct {
			Params struct {
				Vectors qdrantVectorParams `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	code, err := s.do(ctx, "get collection", http.MethodGet, collectionPath(name), nil, &info)
	if code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	metric := MetricCosine
	if info.Config.Params.Vectors.Distance == "Dot" {
		metric = MetricDotProduct
	}
	return &IndexSpec{Name: name, Dimension: info.Config.Params.Vectors.Size, Metric: metric}, nil
}

// Index returns a handle to the named collection.
func (s *QdrantStore) Index(ctx context.Context, name string) (Index, error) {
	spec, err := s.DescribeIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	return &qdrantIndex{store: s, spec: *spec}, nil
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

type qdrantIndex struct {
	store *QdrantStore
	spec  IndexSpec
}

func (x *qdrantIndex) Name() string { return x.spec.Name }
func (x *qdrantIndex) Dimension() int { return x.spec.Dimension }
func (x *qdrantIndex) Metric() Metric { return x.spec.Metric }

func (x *qdrantIndex) DescribeStats(ctx context.Context, namespace string) (NamespaceStats, error) {
	stats := NamespaceStats{Namespace: namespace, Dimension: x.spec.Dimension}
	var out struct {
		Count int64 `json:"count"`
	}
	body := map[string]interface{}{"filter": namespaceFilter(namespace), "exact": true}
	if _, err := x.store.do(ctx, "count points", http.MethodPost, collectionPath(x.spec.Name)+"/points/count", body, &out); err != nil {
		return stats, err
	}
	stats.VectorCount = out.Count
	return stats, nil
}

func (x *qdrantIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := validateRecords(records, x.spec.Dimension); err != nil {
		return err
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		points[i] = qdrantPoint{
			ID:     uuid.NewSHA1(qdrantPointSpace, []byte(namespace+"\x00"+r.ID)).String(),
			Vector: r.Values,
			Payload: map[string]interface{}{
				"namespace": namespace,
				"record_id": r.ID,
				"text":      r.Text,
				"metadata":  meta,
			},
		}
	}
	body := map[string]interface{}{"points": points}
	_, err := x.store.do(ctx, "upsert points", http.MethodPut, collectionPath(x.spec.Name)+"/points?wait=true", body, nil)
	return err
}

func (x *qdrantIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]Match, error) {
	if err := checkQuery(query, x.spec.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	var hits []struct {
		Score   float64 `json:"score"`
		Payload struct {
			RecordID string                 `json:"record_id"`
			Text     string                 `json:"text"`
			Metadata map[string]interface{} `json:"metadata"`
		} `json:"payload"`
	}
	body := map[string]interface{}{
		"vector":       query,
		"limit":        k,
		"filter":       namespaceFilter(namespace),
		"with_payload": true,
	}
	if _, err := x.store.do(ctx, "search points", http.MethodPost, collectionPath(x.spec.Name)+"/points/search", body, &hits); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		meta := h.Payload.Metadata
		if len(meta) == 0 {
			meta = nil
		}
		matches = append(matches, Match{ID: h.Payload.RecordID, Score: h.Score, Text: h.Payload.Text, Metadata: meta})
	}
	sortMatches(matches)
	return matches, nil
}
