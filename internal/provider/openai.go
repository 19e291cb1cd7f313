package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
)

// maxResponseSize caps provider response bodies.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// openaiTransport is the shared HTTP plumbing for OpenAI-compatible
// endpoints (OpenAI, Ollama, vLLM and friends).
type openaiTransport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
	breaker    *Breaker
	metrics    *observability.Collector
	logger     *zap.Logger
}

// post sends one JSON request with retry and circuit breaking, decoding the
// response into out.
func (t *openaiTransport) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return kgerrors.Internal(err, "encode %s request", op)
	}

	return withRetry(ctx, t.retry, t.logger, op, func(ctx context.Context) error {
		start := time.Now()
		err := t.breaker.Do(op, func() error {
			return t.doOnce(ctx, path, body, out)
		})
		if t.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			t.metrics.ProviderRequests.WithLabelValues("openai", op, status).Inc()
			t.metrics.ProviderDuration.WithLabelValues("openai", op).Observe(time.Since(start).Seconds())
		}
		return err
	})
}

func (t *openaiTransport) doOnce(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return kgerrors.Internal(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return kgerrors.Cancelled("provider request").WithCause(ctx.Err())
		}
		return kgerrors.Provider(true, err, "request %s", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return kgerrors.Provider(true, err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return classifyHTTP(resp, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return kgerrors.Provider(false, err, "decode response from %s", path)
	}
	return nil
}

// classifyHTTP maps status codes onto transient or fatal provider errors.
// Rate limits and 5xx are transient; auth and bad-request errors are fatal.
func classifyHTTP(resp *http.Response, body []byte) error {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}

	transient := false
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		transient = true
	case resp.StatusCode >= 500:
		transient = true
	}

	e := kgerrors.Provider(transient, nil, "provider returned %d: %s", resp.StatusCode, snippet)
	if transient {
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			e.RetryAfter = after
		}
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// ---- chat ----

// OpenAIChat implements Chat against /chat/completions.
type OpenAIChat struct {
	tr          *openaiTransport
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAIChat builds the chat client from configuration.
func NewOpenAIChat(cfg config.LLM, brk *Breaker, metrics *observability.Collector, logger *zap.Logger) *OpenAIChat {
	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &OpenAIChat{
		tr: &openaiTransport{
			baseURL:    cfg.BaseURL,
			apiKey:     cfg.APIKey,
			httpClient: &http.Client{Timeout: cfg.RequestTimeout},
			retry:      retry,
			breaker:    brk,
			metrics:    metrics,
			logger:     logger,
		},
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *OpenAIChat) Name() string { return "openai:" + c.model }

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, kgerrors.Validation("chat request needs at least one message")
	}

	body := chatCompletionRequest{
		Model:     c.model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = c.maxTokens
	}
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	} else {
		temp := c.temperature
		body.Temperature = &temp
	}
	if req.ForceJSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatCompletionResponse
	if err := c.tr.post(ctx, "chat", "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, kgerrors.Provider(false, nil, "empty choices from %s", c.model)
	}

	if c.tr.metrics != nil {
		c.tr.metrics.ProviderTokens.WithLabelValues("in").Add(float64(out.Usage.PromptTokens))
		c.tr.metrics.ProviderTokens.WithLabelValues("out").Add(float64(out.Usage.CompletionTokens))
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &ChatResponse{
		Content:      out.Choices[0].Message.Content,
		Model:        model,
		Usage:        out.Usage,
		FinishReason: out.Choices[0].FinishReason,
	}, nil
}

// ---- embeddings ----

// OpenAIEmbedder implements Embedder against /embeddings.
type OpenAIEmbedder struct {
	tr        *openaiTransport
	model     string
	dimension int
}

// NewOpenAIEmbedder builds the embedding client from configuration.
func NewOpenAIEmbedder(cfg config.Embedding, brk *Breaker, metrics *observability.Collector, logger *zap.Logger) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		tr: &openaiTransport{
			baseURL:    cfg.BaseURL,
			apiKey:     cfg.APIKey,
			httpClient: &http.Client{Timeout: cfg.RequestTimeout},
			retry:      DefaultRetryConfig(),
			breaker:    brk,
			metrics:    metrics,
			logger:     logger,
		},
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

func (e *OpenAIEmbedder) Name() string   { return "openai:" + e.model }
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage TokenUsage `json:"usage"`
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out embeddingResponse
	if err := e.tr.post(ctx, "embed", "/embeddings", embeddingRequest{Model: e.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, kgerrors.Provider(false, nil, "embedding count mismatch: sent %d, got %d", len(texts), len(out.Data))
	}

	if e.tr.metrics != nil {
		e.tr.metrics.ProviderTokens.WithLabelValues("in").Add(float64(out.Usage.PromptTokens))
	}

	// The API may return vectors out of order.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if e.dimension > 0 && len(d.Embedding) != e.dimension {
			return nil, kgerrors.Provider(false, nil,
				"embedding dimension mismatch: want %d, got %d", e.dimension, len(d.Embedding))
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) EmbedImage(ctx context.Context, mimeType string, data []byte) ([]float32, error) {
	return nil, errImageUnsupported(e.Name())
}

var (
	_ Chat     = (*OpenAIChat)(nil)
	_ Embedder = (*OpenAIEmbedder)(nil)
)
