// Package provider wraps the LLM and embedding backends behind small
// interfaces. Retries, circuit breaking and metrics live here so callers see
// plain errors classified by kgerrors.
package provider

import (
	"context"

	"kgraph/internal/kgerrors"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// TokenUsage reports token consumption for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is a completion request.
type ChatRequest struct {
	Messages    []Message
	Temperature *float64 // nil uses the endpoint default
	MaxTokens   int      // 0 uses the endpoint default
	ForceJSON   bool     // request a JSON object response
}

// ChatResponse is the completion result.
type ChatResponse struct {
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// Chat generates text completions.
type Chat interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// Embedder turns text into vectors. EmbedImage exists for providers with
// multimodal models; both current backends report it unsupported.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImage(ctx context.Context, mimeType string, data []byte) ([]float32, error)
	Dimension() int
	Name() string
}

func errImageUnsupported(name string) error {
	return kgerrors.Validation("provider %s does not support image embedding", name)
}
