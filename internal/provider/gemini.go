package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
)

// GeminiEmbedder implements Embedder on the Gemini API. Generation stays on
// the OpenAI-compatible client; this backend only serves embeddings.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	retry     RetryConfig
	breaker   *Breaker
	metrics   *observability.Collector
	logger    *zap.Logger
}

// NewGeminiEmbedder builds the Gemini embedding client.
func NewGeminiEmbedder(ctx context.Context, cfg config.Embedding, brk *Breaker, metrics *observability.Collector, logger *zap.Logger) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kgerrors.Validation("gemini embedding provider requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, kgerrors.Provider(false, err, "create gemini client")
	}
	return &GeminiEmbedder{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		retry:     DefaultRetryConfig(),
		breaker:   brk,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (e *GeminiEmbedder) Name() string   { return "gemini:" + e.model }
func (e *GeminiEmbedder) Dimension() int { return e.dimension }

// geminiEmbedConfig pins the task type so concept and query vectors share
// one similarity space.
func geminiEmbedConfig() *genai.EmbedContentConfig {
	return &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
}

func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var vecs [][]float32
	err := withRetry(ctx, e.retry, e.logger, "embed", func(ctx context.Context) error {
		start := time.Now()
		err := e.breaker.Do("embed", func() error {
			result, err := e.client.Models.EmbedContent(ctx, e.model, contents, geminiEmbedConfig())
			if err != nil {
				// The SDK does not expose status codes uniformly; treat
				// request failures as transient and let the breaker decide.
				return kgerrors.Provider(true, err, "gemini embed")
			}
			if len(result.Embeddings) != len(texts) {
				return kgerrors.Provider(false, nil,
					"embedding count mismatch: sent %d, got %d", len(texts), len(result.Embeddings))
			}
			vecs = make([][]float32, len(result.Embeddings))
			for i, emb := range result.Embeddings {
				if e.dimension > 0 && len(emb.Values) != e.dimension {
					return kgerrors.Provider(false, nil,
						"embedding dimension mismatch: want %d, got %d", e.dimension, len(emb.Values))
				}
				vecs[i] = emb.Values
			}
			return nil
		})
		if e.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			e.metrics.ProviderRequests.WithLabelValues("gemini", "embed", status).Inc()
			e.metrics.ProviderDuration.WithLabelValues("gemini", "embed").Observe(time.Since(start).Seconds())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (e *GeminiEmbedder) EmbedImage(ctx context.Context, mimeType string, data []byte) ([]float32, error) {
	return nil, errImageUnsupported(e.Name())
}

var _ Embedder = (*GeminiEmbedder)(nil)
