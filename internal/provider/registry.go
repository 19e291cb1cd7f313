package provider

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
)

// Stored model configs carry identity and routing only; operational tuning
// stays in file config, so swapped-in clients run with these defaults.
const (
	swapEmbedTimeout = 60 * time.Second
	swapChatTimeout  = 120 * time.Second
	swapBatchSize    = 64
)

// Registry holds the live chat and embedding clients. Components receive the
// Chat()/Embedder() views at wiring time; the views resolve the backing
// client per call, so activating a stored model config swaps providers
// without a restart. In-flight calls finish on the client they started with.
type Registry struct {
	breaker config.Breaker
	metrics *observability.Collector
	logger  *zap.Logger

	chat     atomic.Pointer[chatSlot]
	embedder atomic.Pointer[embedderSlot]
}

type chatSlot struct{ client Chat }
type embedderSlot struct{ client Embedder }

func NewRegistry(chat Chat, embedder Embedder, breaker config.Breaker, metrics *observability.Collector, logger *zap.Logger) *Registry {
	r := &Registry{breaker: breaker, metrics: metrics, logger: logger}
	r.chat.Store(&chatSlot{client: chat})
	r.embedder.Store(&embedderSlot{client: embedder})
	return r
}

// Chat returns the live chat view.
func (r *Registry) Chat() Chat { return liveChat{r} }

// Embedder returns the live embedder view.
func (r *Registry) Embedder() Embedder { return liveEmbedder{r} }

func (r *Registry) currentChat() Chat         { return r.chat.Load().client }
func (r *Registry) currentEmbedder() Embedder { return r.embedder.Load().client }

// ReloadChat builds the chat client mc describes and swaps it in.
func (r *Registry) ReloadChat(mc *domain.ModelConfig) error {
	client, err := BuildChat(mc, r.breaker, r.metrics, r.logger)
	if err != nil {
		return err
	}
	r.chat.Store(&chatSlot{client: client})
	r.logger.Info("chat provider swapped",
		zap.String("config_id", mc.ID),
		zap.String("provider", mc.Provider),
		zap.String("model", mc.Model))
	return nil
}

// ReloadEmbedder builds the embedder mc describes and swaps it in.
func (r *Registry) ReloadEmbedder(ctx context.Context, mc *domain.ModelConfig) error {
	client, err := BuildEmbedder(ctx, mc, r.breaker, r.metrics, r.logger)
	if err != nil {
		return err
	}
	r.embedder.Store(&embedderSlot{client: client})
	r.logger.Info("embedding provider swapped",
		zap.String("config_id", mc.ID),
		zap.String("provider", mc.Provider),
		zap.String("model", mc.Model),
		zap.Int("dimension", client.Dimension()))
	return nil
}

type liveChat struct{ r *Registry }

func (l liveChat) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return l.r.currentChat().Complete(ctx, req)
}
func (l liveChat) Name() string { return l.r.currentChat().Name() }

type liveEmbedder struct{ r *Registry }

func (l liveEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return l.r.currentEmbedder().EmbedTexts(ctx, texts)
}
func (l liveEmbedder) EmbedImage(ctx context.Context, mimeType string, data []byte) ([]float32, error) {
	return l.r.currentEmbedder().EmbedImage(ctx, mimeType, data)
}
func (l liveEmbedder) Dimension() int { return l.r.currentEmbedder().Dimension() }
func (l liveEmbedder) Name() string   { return l.r.currentEmbedder().Name() }

// BuildEmbedder constructs the embedder a stored config describes. The API
// key is read from the environment variable the config names; the key itself
// is never persisted.
func BuildEmbedder(ctx context.Context, mc *domain.ModelConfig, breaker config.Breaker, metrics *observability.Collector, logger *zap.Logger) (Embedder, error) {
	cfg := config.Embedding{
		Provider:       mc.Provider,
		BaseURL:        mc.BaseURL,
		APIKey:         keyFromEnv(mc.APIKeyEnv),
		Model:          mc.Model,
		Dimension:      mc.Dimension,
		BatchSize:      swapBatchSize,
		RequestTimeout: swapEmbedTimeout,
	}
	switch mc.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg, NewBreaker("embedding", breaker, logger), metrics, logger), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg, NewBreaker("embedding", breaker, logger), metrics, logger)
	case "mock":
		return NewMockEmbedder(mc.Dimension), nil
	default:
		return nil, kgerrors.Validation("unknown embedding provider %q", mc.Provider)
	}
}

// BuildChat constructs the chat client a stored config describes. Gemini chat
// is served through its OpenAI-compatible endpoint, so it needs a BaseURL.
func BuildChat(mc *domain.ModelConfig, breaker config.Breaker, metrics *observability.Collector, logger *zap.Logger) (Chat, error) {
	switch mc.Provider {
	case "openai", "gemini":
		if mc.BaseURL == "" && mc.Provider == "gemini" {
			return nil, kgerrors.Validation("gemini chat requires the base_url of an OpenAI-compatible endpoint")
		}
		cfg := config.LLM{
			BaseURL:        mc.BaseURL,
			APIKey:         keyFromEnv(mc.APIKeyEnv),
			Model:          mc.Model,
			RequestTimeout: swapChatTimeout,
		}
		return NewOpenAIChat(cfg, NewBreaker("llm", breaker, logger), metrics, logger), nil
	case "mock":
		return NewMockChat(), nil
	default:
		return nil, kgerrors.Validation("unknown chat provider %q", mc.Provider)
	}
}

func keyFromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
