package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/store"
	"kgraph/internal/store/sqlite"
)

func embedConfig(id string, dim int, active bool) *domain.ModelConfig {
	return &domain.ModelConfig{
		ID:        id,
		Kind:      domain.ModelConfigEmbedding,
		Name:      id,
		Provider:  "mock",
		Model:     "mock-embed",
		Dimension: dim,
		Active:    active,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func concept(id string, emb []float32) *domain.Concept {
	return &domain.Concept{
		ID:        id,
		Label:     "Entropy",
		Ontology:  "physics",
		Embedding: emb,
		CreatedAt: time.Now(),
	}
}

// newGuarded returns a guarded in-memory store whose active embedding
// configuration has the given dimension.
func newGuarded(t *testing.T, dim int) store.Graph {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := store.WithWriteIntent(context.Background())
	require.NoError(t, s.PutModelConfig(ctx, embedConfig("mc_base", dim, true)))
	return store.GuardDimensions(s)
}

func TestGuardDimensions_AcceptsActiveDimension(t *testing.T) {
	g := newGuarded(t, 4)
	ctx := store.WithWriteIntent(context.Background())

	created, err := g.PutConcept(ctx, concept("c_dim001", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestGuardDimensions_RejectsMismatch(t *testing.T) {
	g := newGuarded(t, 4)
	ctx := store.WithWriteIntent(context.Background())

	_, err := g.PutConcept(ctx, concept("c_dim002", []float32{1, 0}))
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindConsistency))

	// The rejected write never reached the backend.
	_, err = g.GetConcept(context.Background(), "c_dim002")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}

func TestGuardDimensions_FollowsActivation(t *testing.T) {
	g := newGuarded(t, 4)
	ctx := store.WithWriteIntent(context.Background())
	require.NoError(t, g.PutModelConfig(ctx, embedConfig("mc_wide", 8, false)))

	_, err := g.ActivateModelConfig(ctx, "mc_wide")
	require.NoError(t, err)

	// The old dimension is now the mismatch.
	_, err = g.PutConcept(ctx, concept("c_dim003", []float32{1, 0, 0, 0}))
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindConsistency))

	created, err := g.PutConcept(ctx, concept("c_dim004", []float32{1, 0, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestGuardDimensions_UnarmedWithoutActiveConfig(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	g := store.GuardDimensions(s)
	ctx := store.WithWriteIntent(context.Background())

	created, err := g.PutConcept(ctx, concept("c_dim005", []float32{1, 0}))
	require.NoError(t, err)
	assert.True(t, created)
}
