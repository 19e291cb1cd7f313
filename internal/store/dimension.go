package store

import (
	"context"
	"sync/atomic"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
)

// GuardDimensions wraps a Graph and rejects concept writes whose embedding
// length differs from the active embedding configuration's dimension. The
// guard learns the dimension from the stored active config at construction
// and follows it through config writes, so a hot swap moves the bar for
// every write that comes after it. A zero dimension (no active config yet)
// leaves writes unchecked; first activation arms the guard.
func GuardDimensions(inner Graph) Graph {
	g := &dimensionGuard{Graph: inner}
	if configs, err := inner.ListModelConfigs(context.Background(), domain.ModelConfigEmbedding); err == nil {
		for _, mc := range configs {
			if mc.Active {
				g.active.Store(int64(mc.Dimension))
				break
			}
		}
	}
	return g
}

type dimensionGuard struct {
	Graph
	active atomic.Int64
}

func (g *dimensionGuard) PutConcept(ctx context.Context, c *domain.Concept) (bool, error) {
	if want := g.active.Load(); want > 0 && int64(len(c.Embedding)) != want {
		return false, kgerrors.Consistency(
			"concept %s: embedding has %d dimensions, active configuration requires %d",
			c.ID, len(c.Embedding), want)
	}
	return g.Graph.PutConcept(ctx, c)
}

func (g *dimensionGuard) PutModelConfig(ctx context.Context, c *domain.ModelConfig) error {
	err := g.Graph.PutModelConfig(ctx, c)
	if err == nil && c.Active && c.Kind == domain.ModelConfigEmbedding {
		g.active.Store(int64(c.Dimension))
	}
	return err
}

func (g *dimensionGuard) ActivateModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	mc, err := g.Graph.ActivateModelConfig(ctx, id)
	if err == nil && mc.Kind == domain.ModelConfigEmbedding {
		g.active.Store(int64(mc.Dimension))
	}
	return mc, err
}
