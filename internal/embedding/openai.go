package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/kotae/internal/retry"
	"github.com/hyperjump/kotae/pkg/utils"
)

// maxInputsPerRequest is the provider limit on inputs in one embeddings call.
const maxInputsPerRequest = 2048

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int

	// Azure selects the Azure OpenAI wire format. BaseURL is the resource endpoint.
	Azure      bool
	APIVersion string
	Deployment string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIEmbedder calls the OpenAI (or Azure OpenAI) embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	// sendDimensions is set for models that accept a shortened output size.
	sendDimensions bool
}

// NewOpenAIEmbedder creates an embedder for cfg.Model. It does not contact the provider.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai embedder: model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("openai embedder: dimensions must be positive")
	}

	var oc openai.ClientConfig
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, errors.New("azure embedder: endpoint is required")
		}
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
		if cfg.Deployment != "" {
			deployment := cfg.Deployment
			oc.AzureModelMapperFunc = func(string) string { return deployment }
		}
	} else {
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
	}
	switch {
	case cfg.HTTPClient != nil:
		oc.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIEmbedder{
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		dimensions:     cfg.Dimensions,
		sendDimensions: strings.HasPrefix(cfg.Model, "text-embedding-3"),
	}, nil
}

// Embed returns the unit-length embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in as few requests as the provider allows. Client
// errors other than rate limiting are returned as permanent for retry.Do.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxInputsPerRequest {
		end := min(start+maxInputsPerRequest, len(texts))
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		// The API rejects empty strings.
		if strings.TrimSpace(t) == "" {
			t = " "
		}
		input[i] = t
	}
	req := openai.EmbeddingRequest{
		Input: input,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.sendDimensions {
		req.Dimensions = e.dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != e.dimensions {
			return nil, retry.Permanent(fmt.Errorf("create embeddings: model %s returned %d dimensions, expected %d", e.model, len(d.Embedding), e.dimensions))
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		utils.NormalizeL2(v)
		vecs[i] = v
	}
	return vecs, nil
}

// classifyOpenAIError marks 4xx responses, except 408 and 429, as permanent.
func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return retry.Permanent(err)
	}
	return err
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Model returns the provider model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Close is a no-op; the HTTP client holds no per-embedder resources.
func (e *OpenAIEmbedder) Close() error { return nil }
