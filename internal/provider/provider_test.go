package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
	"kgraph/internal/provider"
)

func testBreaker(t *testing.T) *provider.Breaker {
	t.Helper()
	return provider.NewBreaker("test", config.Breaker{
		FailureThreshold: 0.6,
		MinRequests:      100, // effectively disabled unless a test wants it
		Interval:         time.Minute,
		OpenDuration:     time.Minute,
		HalfOpenRequests: 1,
	}, zap.NewNop())
}

func chatConfig(url string) config.LLM {
	return config.LLM{
		BaseURL:        url,
		Model:          "test-model",
		MaxRetries:     1,
		RequestTimeout: 5 * time.Second,
		MaxTokens:      256,
		Temperature:    0.1,
	}
}

func TestChatCompleteParsesResponse(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"concepts":[]}`}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	}))
	defer srv.Close()

	chat := provider.NewOpenAIChat(chatConfig(srv.URL), testBreaker(t), nil, zap.NewNop())
	resp, err := chat.Complete(context.Background(), provider.ChatRequest{
		Messages:  []provider.Message{{Role: "user", Content: "hello"}},
		ForceJSON: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"concepts":[]}`, resp.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, "stop", resp.FinishReason)

	// JSON mode is forwarded on the wire.
	rf, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])
}

func TestChatRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	chat := provider.NewOpenAIChat(chatConfig(srv.URL), testBreaker(t), nil, zap.NewNop())
	resp, err := chat.Complete(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad prompt"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	chat := provider.NewOpenAIChat(chatConfig(srv.URL), testBreaker(t), nil, zap.NewNop())
	_, err := chat.Complete(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindProvider))
	assert.False(t, kgerrors.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	chat := provider.NewOpenAIChat(chatConfig("http://unused"), testBreaker(t), nil, zap.NewNop())
	_, err := chat.Complete(context.Background(), provider.ChatRequest{})
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindValidation))
}

func embedConfig(url string) config.Embedding {
	return config.Embedding{
		Provider:       "openai",
		BaseURL:        url,
		Model:          "test-embed",
		Dimension:      3,
		BatchSize:      64,
		RequestTimeout: 5 * time.Second,
	}
}

func TestEmbedTextsRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		// Deliberately out of order.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0, 1, 0}, "index": 1},
				{"embedding": []float32{1, 0, 0}, "index": 0},
			},
			"usage": map[string]int{"prompt_tokens": 8, "total_tokens": 8},
		})
	}))
	defer srv.Close()

	emb := provider.NewOpenAIEmbedder(embedConfig(srv.URL), testBreaker(t), nil, zap.NewNop())
	vecs, err := emb.EmbedTexts(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0}, vecs[1])
}

func TestEmbedTextsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 0}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	emb := provider.NewOpenAIEmbedder(embedConfig(srv.URL), testBreaker(t), nil, zap.NewNop())
	_, err := emb.EmbedTexts(context.Background(), []string{"short"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedImageUnsupported(t *testing.T) {
	emb := provider.NewOpenAIEmbedder(embedConfig("http://unused"), testBreaker(t), nil, zap.NewNop())
	_, err := emb.EmbedImage(context.Background(), "image/png", []byte{1})
	require.Error(t, err)
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindValidation))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	brk := provider.NewBreaker("flaky", config.Breaker{
		FailureThreshold: 0.5,
		MinRequests:      2,
		Interval:         time.Minute,
		OpenDuration:     time.Minute,
		HalfOpenRequests: 1,
	}, zap.NewNop())

	cfg := chatConfig(srv.URL)
	cfg.MaxRetries = 0
	chat := provider.NewOpenAIChat(cfg, brk, nil, zap.NewNop())

	req := provider.ChatRequest{Messages: []provider.Message{{Role: "user", Content: "x"}}}
	for i := 0; i < 3; i++ {
		_, err := chat.Complete(context.Background(), req)
		require.Error(t, err)
	}

	// Circuit is open now: the request never reaches the server.
	before := calls.Load()
	_, err := chat.Complete(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, before, calls.Load())
}
