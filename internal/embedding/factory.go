package embedding

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// New builds the embedder selected by cfg.Provider, wrapped in a
// CachedEmbedder when cfg.CacheSize is positive. Missing credentials are
// reported as a *config.ConfigurationError.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "openai", "azure":
		e, err = newOpenAI(cfg)
	case "onnx":
		e, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			VocabPath:  cfg.VocabPath,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, &config.ConfigurationError{Field: "embedding.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		return e, nil
	}
	cached, err := NewCachedEmbedder(e, cfg.CacheSize)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return cached, nil
}

func newOpenAI(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	key, err := config.RequireEnv("embedding.api_key_env", cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	oc := OpenAIConfig{
		APIKey:     key,
		BaseURL:    cfg.Endpoint(),
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
	}
	if cfg.Provider == "azure" {
		if oc.BaseURL == "" {
			return nil, &config.ConfigurationError{
				Field:  "embedding.endpoint_env",
				Reason: fmt.Sprintf("environment variable %s is not set", cfg.EndpointEnv),
				Err:    config.ErrMissingCredential,
			}
		}
		oc.Azure = true
		oc.APIVersion = cfg.APIVersion
		oc.Deployment = cfg.Deployment
	}
	e, err := NewOpenAIEmbedder(oc)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "embedding", Err: err}
	}
	return e, nil
}
