package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
	"kgraph/pkg/api"
)

// thermalFixture indexes five concepts at exact similarities to the query
// "thermal peak": 1.0, 0.8, 0.6, 0.5 and 0.0.
func thermalFixture(t *testing.T) *harness {
	h := newHarness(t, config.Query{})
	h.emb.vectors["thermal peak"] = vec(1)
	h.concept("c_hot", "Hot", "lab", vec(1))
	h.concept("c_warm", "Warm", "lab", vec(0.8, 0.6))
	h.concept("c_tepid", "Tepid", "lab", vec(0.6, 0.8))
	h.concept("c_cool", "Cool", "lab", vec(0.5, 0.866))
	h.concept("c_cold", "Cold", "lab", vec(0, 1))
	return h
}

func hitIDs(hits []api.SearchHit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestSearch_SemanticRanksAndFilters(t *testing.T) {
	h := thermalFixture(t)

	got, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "thermal peak", Ontology: "lab", MinSimilarity: 0.55,
	})

	require.NoError(t, err)
	assert.Equal(t, "semantic", got.Mode)
	assert.Equal(t, []string{"c_hot", "c_warm", "c_tepid"}, hitIDs(got.Hits))
	assert.InDelta(t, 1.0, got.Hits[0].Score, 1e-3)
	assert.InDelta(t, 0.8, got.Hits[1].Score, 1e-3)
	assert.InDelta(t, 0.6, got.Hits[2].Score, 1e-3)
	assert.Equal(t, "Hot", got.Hits[0].Label)
	// Three hits is a healthy result, so no hint.
	assert.Nil(t, got.Hint)
}

func TestSearch_ThresholdHint(t *testing.T) {
	h := thermalFixture(t)

	got, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "thermal peak", Ontology: "lab", MinSimilarity: 0.7,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"c_hot", "c_warm"}, hitIDs(got.Hits))
	require.NotNil(t, got.Hint)
	assert.Equal(t, 2, got.Hint.BelowThresholdCount)
	assert.Equal(t, "Tepid", got.Hint.TopMatchLabel)
	assert.InDelta(t, 0.6, got.Hint.TopMatchScore, 0.01)
	assert.InDelta(t, 0.58, got.Hint.SuggestedThreshold, 0.01)
}

func TestSearch_Pagination(t *testing.T) {
	h := thermalFixture(t)

	got, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "thermal peak", Ontology: "lab", MinSimilarity: 0.45,
		Limit: 2, Offset: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"c_tepid", "c_cool"}, hitIDs(got.Hits))

	past, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "thermal peak", Ontology: "lab", MinSimilarity: 0.45,
		Limit: 2, Offset: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, past.Hits)
}

func TestSearch_KeywordMode(t *testing.T) {
	h := thermalFixture(t)
	h.concept("c_ent", "Entropy Gradient", "lab", nil)

	got, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "entropy", Ontology: "lab", Mode: "keyword",
	})

	require.NoError(t, err)
	assert.Equal(t, "keyword", got.Mode)
	require.Len(t, got.Hits, 1)
	assert.Equal(t, "c_ent", got.Hits[0].ID)
	// Keyword mode never touches the embedding provider.
	assert.Zero(t, h.emb.calls)
}

func TestSearch_HybridFusesRankings(t *testing.T) {
	h := newHarness(t, config.Query{})
	h.emb.vectors["entropy"] = vec(1)
	h.concept("c_ent", "Entropy", "lab", vec(1))
	h.concept("c_heat", "Heat", "lab", vec(0.8, 0.6))
	h.concept("c_ord", "Order", "lab", vec(0, 1))

	got, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "entropy", Ontology: "lab", Mode: "hybrid", MinSimilarity: 0.5,
	})

	require.NoError(t, err)
	assert.Equal(t, "hybrid", got.Mode)
	// c_ent ranks first in both legs, c_heat only in the semantic one;
	// fused scores are reciprocal-rank sums, not similarities.
	assert.Equal(t, []string{"c_ent", "c_heat"}, hitIDs(got.Hits))
	assert.InDelta(t, 2.0/61, got.Hits[0].Score, 1e-9)
	assert.InDelta(t, 1.0/62, got.Hits[1].Score, 1e-9)
}

func TestSearch_EvidenceAndGrounding(t *testing.T) {
	h := thermalFixture(t)
	h.concept("c_x", "Backer", "lab", nil)
	h.link("c_x", "c_hot", "SUPPORTS", "lab", 0.9, "s_1")
	h.cite("c_hot", "s_1", "d_1", "lab", "it was hot")
	h.cite("c_hot", "s_2", "d_1", "lab", "scorching outside")
	h.cite("c_hot", "s_3", "d_2", "lab", "heat wave peaked")
	h.cite("c_hot", "s_4", "d_2", "lab", "record temperature")

	got, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "thermal peak", Ontology: "lab", MinSimilarity: 0.9,
		IncludeGrounding: true, IncludeEvidence: true,
	})

	require.NoError(t, err)
	require.Len(t, got.Hits, 1)
	hit := got.Hits[0]
	assert.Equal(t, "c_hot", hit.ID)
	assert.Equal(t, 4, hit.EvidenceCount)
	// The sample is capped; four instances across two documents still
	// surface both documents.
	assert.Len(t, hit.Evidence, 3)
	assert.ElementsMatch(t, []string{"d_1", "d_2"}, hit.Documents)
	require.NotNil(t, hit.Grounding)
	assert.InDelta(t, 0.5, hit.Grounding.Score, 1e-9)
}

func TestSearch_GroundingCacheInvalidation(t *testing.T) {
	h := thermalFixture(t)
	h.concept("c_x", "Backer", "lab", nil)
	h.concept("c_y", "Doubter", "lab", nil)
	h.link("c_x", "c_hot", "SUPPORTS", "lab", 0.9, "s_1")

	req := api.SearchRequest{
		Query: "thermal peak", Ontology: "lab", MinSimilarity: 0.9,
		IncludeGrounding: true,
	}
	first, err := h.svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Hits, 1)
	assert.InDelta(t, 0.5, first.Hits[0].Grounding.Score, 1e-9)

	// A new refuting edge does not show up until the cache is bumped.
	h.link("c_y", "c_hot", "REFUTES", "lab", 0.9, "s_2")
	stale, err := h.svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, stale.Hits[0].Grounding.Score, 1e-9)

	h.svc.InvalidateGrounding()
	fresh, err := h.svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fresh.Hits[0].Grounding.Score, 1e-9)
}

func TestSearch_EmbedderFailure(t *testing.T) {
	h := thermalFixture(t)
	h.emb.fail = true

	_, err := h.svc.Search(context.Background(), api.SearchRequest{
		Query: "thermal peak", Ontology: "lab",
	})

	assert.Error(t, err)
}

func TestConnectBySearch(t *testing.T) {
	h := thermalFixture(t)
	h.emb.vectors["scorching"] = vec(1)
	h.emb.vectors["lukewarm bath"] = vec(0.6, 0.8)
	h.link("c_hot", "c_warm", "CAUSES", "lab", 0.9)
	h.link("c_warm", "c_tepid", "CAUSES", "lab", 0.8)

	got, err := h.svc.ConnectBySearch(context.Background(), api.ConnectBySearchRequest{
		FromQuery: "scorching", ToQuery: "lukewarm bath", Ontology: "lab",
	})

	require.NoError(t, err)
	require.NotNil(t, got.FromMatch)
	assert.Equal(t, "c_hot", got.FromMatch.ID)
	assert.Equal(t, "Hot", got.FromMatch.Label)
	assert.InDelta(t, 1.0, got.FromMatch.Score, 0.01)
	require.NotNil(t, got.ToMatch)
	assert.Equal(t, "c_tepid", got.ToMatch.ID)
	require.Len(t, got.Paths, 1)
	assert.Equal(t, 2, got.Paths[0].Hops)
	assert.False(t, got.BudgetExceeded)
	// Both pole queries ride one provider call.
	assert.Equal(t, 1, h.emb.calls)
}

func TestConnectBySearch_NearMissDetails(t *testing.T) {
	h := thermalFixture(t)
	h.emb.vectors["scorching"] = vec(1)
	h.emb.vectors["faint breeze"] = vec(0.5, 0, 0.866)

	_, err := h.svc.ConnectBySearch(context.Background(), api.ConnectBySearchRequest{
		FromQuery: "scorching", ToQuery: "faint breeze", Ontology: "lab",
		MinSimilarity: 0.95,
	})

	var kerr *kgerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kgerrors.KindNotFound, kerr.Kind)
	assert.InDelta(t, 0.5, kerr.Details["best_score"].(float64), 0.02)
	assert.InDelta(t, 0.48, kerr.Details["suggested_threshold"].(float64), 0.02)
	assert.Equal(t, "Hot", kerr.Details["best_label"])
}

func TestConnectBySearch_EmptyIndex(t *testing.T) {
	h := newHarness(t, config.Query{})

	_, err := h.svc.ConnectBySearch(context.Background(), api.ConnectBySearchRequest{
		FromQuery: "anything", ToQuery: "at all", Ontology: "lab",
	})

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}
