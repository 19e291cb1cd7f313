package query

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"kgraph/internal/domain"
	"kgraph/internal/observability"
	"kgraph/internal/store"
)

// supportiveTypes add their evidence to a concept's affirmative mass;
// refutativeTypes add to the contradictory mass. Every other edge type is
// neutral for grounding.
var supportiveTypes = map[string]bool{
	"SUPPORTS":    true,
	"IMPLIES":     true,
	"EXEMPLIFIES": true,
	"ENABLES":     true,
	"CAUSES":      true,
}

var refutativeTypes = map[string]bool{
	"REFUTES":     true,
	"CONTRADICTS": true,
	"PREVENTS":    true,
	"OPPOSITE_OF": true,
}

// Grounding scores how well-evidenced a concept is, in (-1, 1):
//
//	(affirmative − contradictory) / (affirmative + contradictory + ε)
//
// where the masses sum evidence counts over the concept's supportive and
// refutative edges in both directions. A concept with no scored edges sits
// at 0. Scores are derived, never persisted.
type Grounding struct {
	Score         float64
	Affirmative   float64
	Contradictory float64
}

type groundingKey struct {
	conceptID string
	gen       uint64
}

// groundingCalc caches scores keyed by (concept, graph generation). Any
// write that can touch edges bumps the generation, which strands every
// cached entry without walking the cache; stranded entries age out of the
// LRU on their own.
type groundingCalc struct {
	graph   store.Graph
	epsilon float64
	metrics *observability.Collector

	gen   atomic.Uint64
	cache *lru.Cache[groundingKey, Grounding]
}

func newGroundingCalc(graph store.Graph, epsilon float64, size int, metrics *observability.Collector) *groundingCalc {
	if epsilon <= 0 {
		epsilon = 1.0
	}
	if size <= 0 {
		size = 4096
	}
	cache, _ := lru.New[groundingKey, Grounding](size)
	return &groundingCalc{graph: graph, epsilon: epsilon, metrics: metrics, cache: cache}
}

// Bump invalidates all cached scores.
func (g *groundingCalc) Bump() { g.gen.Add(1) }

// Grounding returns the concept's score, computing it on a cache miss.
func (g *groundingCalc) Grounding(ctx context.Context, conceptID string) (Grounding, error) {
	key := groundingKey{conceptID: conceptID, gen: g.gen.Load()}
	if v, ok := g.cache.Get(key); ok {
		if g.metrics != nil {
			g.metrics.GroundingCacheHits.Inc()
		}
		return v, nil
	}
	if g.metrics != nil {
		g.metrics.GroundingCacheMiss.Inc()
	}

	edges, err := g.graph.EdgesOf(ctx, conceptID)
	if err != nil {
		return Grounding{}, err
	}
	v := scoreEdges(edges, g.epsilon)
	g.cache.Add(key, v)
	return v, nil
}

func scoreEdges(edges []*domain.Relationship, epsilon float64) Grounding {
	var g Grounding
	for _, e := range edges {
		switch {
		case supportiveTypes[e.Type]:
			g.Affirmative += float64(e.EvidenceCount())
		case refutativeTypes[e.Type]:
			g.Contradictory += float64(e.EvidenceCount())
		}
	}
	g.Score = (g.Affirmative - g.Contradictory) / (g.Affirmative + g.Contradictory + epsilon)
	return g
}
