package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
)

func TestGeminiEmbedConfigTaskType(t *testing.T) {
	cfg := geminiEmbedConfig()

	assert.Equal(t, "SEMANTIC_SIMILARITY", cfg.TaskType)
}

func TestNewGeminiEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiEmbedder(context.Background(), config.Embedding{Model: "gemini-embedding-001"}, nil, nil, zap.NewNop())

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindValidation))
}
