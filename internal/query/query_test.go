package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/index"
	"kgraph/internal/kgerrors"
	"kgraph/internal/query"
	"kgraph/internal/store"
	"kgraph/internal/store/sqlite"
	"kgraph/internal/vector"
)

const dim = 4

// vec pads a short coordinate list out to the fixture dimension so cosine
// outcomes are exact by construction.
func vec(xs ...float64) []float32 {
	v := make([]float32, dim)
	for i, x := range xs {
		v[i] = float32(x)
	}
	return v
}

// stubEmbedder returns registered vectors by exact text. Unknown texts land
// on the last axis, far from every fixture concept.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    bool
	calls   int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: make(map[string][]float32)}
}

func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, errors.New("embedder offline")
	}
	s.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = vec(0, 0, 0, 1)
		}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedImage(context.Context, string, []byte) ([]float32, error) {
	return nil, errors.New("unsupported")
}
func (s *stubEmbedder) Dimension() int { return dim }
func (s *stubEmbedder) Name() string   { return "stub" }

// harness wires a query service over an in-memory store and indexes.
type harness struct {
	t     *testing.T
	svc   *query.Service
	graph *sqlite.Store
	vecs  *vector.Index
	kw    *index.Keyword
	emb   *stubEmbedder
	wctx  context.Context
}

func newHarness(t *testing.T, cfg config.Query) *harness {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	kw, err := index.NewKeyword("")
	require.NoError(t, err)
	t.Cleanup(func() { kw.Close() })

	vecs := vector.NewIndex(vector.DefaultParams())
	emb := newStubEmbedder()
	return &harness{
		t:     t,
		svc:   query.NewService(s, vecs, kw, emb, cfg, zap.NewNop(), nil),
		graph: s,
		vecs:  vecs,
		kw:    kw,
		emb:   emb,
		wctx:  store.WithWriteIntent(context.Background()),
	}
}

func (h *harness) concept(id, label, ontology string, emb []float32) *domain.Concept {
	h.t.Helper()
	c := &domain.Concept{ID: id, Label: label, Ontology: ontology, Embedding: emb, CreatedAt: time.Now()}
	_, err := h.graph.PutConcept(h.wctx, c)
	require.NoError(h.t, err)
	require.NoError(h.t, h.kw.IndexConcepts([]*domain.Concept{c}))
	if len(emb) > 0 {
		h.vecs.Add(ontology, id, emb)
	}
	return c
}

func (h *harness) link(from, to, typ, ontology string, confidence float64, evidence ...string) {
	h.t.Helper()
	_, err := h.graph.PutRelationship(h.wctx, &domain.Relationship{
		FromID: from, ToID: to, Type: typ, Ontology: ontology,
		Confidence: confidence, Evidence: evidence, CreatedAt: time.Now(),
	})
	require.NoError(h.t, err)
}

// cite records one evidence quote: a source chunk plus the instance tying
// the concept to it.
func (h *harness) cite(conceptID, sourceID, docID, ontology, quote string) {
	h.t.Helper()
	_, err := h.graph.PutSource(h.wctx, &domain.Source{
		ID: sourceID, DocumentID: docID, Ontology: ontology,
		FullText: quote, CreatedAt: time.Now(),
	})
	require.NoError(h.t, err)
	_, err = h.graph.PutInstance(h.wctx, &domain.Instance{
		ConceptID: conceptID, SourceID: sourceID, Quote: quote, CreatedAt: time.Now(),
	})
	require.NoError(h.t, err)
}

func TestDetails(t *testing.T) {
	h := newHarness(t, config.Query{})
	h.concept("c_entropy", "Entropy", "physics", vec(1))
	h.concept("c_heat", "Heat", "physics", nil)
	h.concept("c_order", "Order", "physics", nil)
	h.link("c_entropy", "c_heat", "CAUSES", "physics", 0.9, "s_1", "s_2")
	h.link("c_order", "c_entropy", "REFUTES", "physics", 0.7)
	h.cite("c_entropy", "s_1", "d_1", "physics", "entropy always increases")
	h.cite("c_entropy", "s_2", "d_2", "physics", "disorder grows over time")

	got, err := h.svc.Details(context.Background(), "c_entropy")

	require.NoError(t, err)
	assert.Equal(t, "Entropy", got.Label)
	assert.Equal(t, "physics", got.Ontology)
	assert.Equal(t, 2, got.InstanceCount)
	assert.Equal(t, map[string]int{"CAUSES": 1, "REFUTES": 1}, got.EdgeCounts)
	require.Len(t, got.Instances, 2)
	var docs []string
	for _, in := range got.Instances {
		docs = append(docs, in.DocumentID)
	}
	assert.ElementsMatch(t, []string{"d_1", "d_2"}, docs)
	// CAUSES carries two source ids, the evidence-free REFUTES counts as
	// one assertion: (2-1)/(2+1+1).
	require.NotNil(t, got.Grounding)
	assert.InDelta(t, 0.25, got.Grounding.Score, 1e-9)
	assert.InDelta(t, 2, got.Grounding.Affirmative, 1e-9)
	assert.InDelta(t, 1, got.Grounding.Contradictory, 1e-9)
}

func TestDetails_NotFound(t *testing.T) {
	h := newHarness(t, config.Query{})

	_, err := h.svc.Details(context.Background(), "c_missing")

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}

func TestDetails_NeutralEdgesDoNotGround(t *testing.T) {
	h := newHarness(t, config.Query{})
	h.concept("c_a", "A", "physics", nil)
	h.concept("c_b", "B", "physics", nil)
	h.link("c_a", "c_b", "RELATES_TO", "physics", 0.5, "s_1", "s_2", "s_3")

	got, err := h.svc.Details(context.Background(), "c_a")

	require.NoError(t, err)
	require.NotNil(t, got.Grounding)
	assert.Zero(t, got.Grounding.Score)
	assert.Zero(t, got.Grounding.Affirmative)
	assert.Zero(t, got.Grounding.Contradictory)
}

func relatedFixture(t *testing.T) *harness {
	h := newHarness(t, config.Query{})
	h.concept("c_m", "Middle", "physics", nil)
	h.concept("c_a", "Alpha", "physics", nil)
	h.concept("c_b", "Beta", "physics", nil)
	h.concept("c_c", "Gamma", "physics", nil)
	h.link("c_m", "c_a", "CAUSES", "physics", 0.9)
	h.link("c_m", "c_b", "CAUSES", "physics", 0.7)
	h.link("c_c", "c_m", "SUPPORTS", "physics", 0.8)
	return h
}

func TestRelated_GroupsByTypeAndSortsByConfidence(t *testing.T) {
	h := relatedFixture(t)

	got, err := h.svc.Related(context.Background(), "c_m", "")

	require.NoError(t, err)
	assert.Equal(t, "Middle", got.Label)
	require.Len(t, got.Groups, 2)

	causes := got.Groups[0]
	assert.Equal(t, "CAUSES", causes.Type)
	require.Len(t, causes.Neighbors, 2)
	assert.Equal(t, "c_a", causes.Neighbors[0].ID)
	assert.Equal(t, "Alpha", causes.Neighbors[0].Label)
	assert.Equal(t, "out", causes.Neighbors[0].Direction)
	assert.Equal(t, "c_b", causes.Neighbors[1].ID)

	supports := got.Groups[1]
	assert.Equal(t, "SUPPORTS", supports.Type)
	require.Len(t, supports.Neighbors, 1)
	assert.Equal(t, "c_c", supports.Neighbors[0].ID)
	assert.Equal(t, "in", supports.Neighbors[0].Direction)
}

func TestRelated_DirectionFilter(t *testing.T) {
	h := relatedFixture(t)

	out, err := h.svc.Related(context.Background(), "c_m", "out")
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "CAUSES", out.Groups[0].Type)

	in, err := h.svc.Related(context.Background(), "c_m", "in")
	require.NoError(t, err)
	require.Len(t, in.Groups, 1)
	assert.Equal(t, "SUPPORTS", in.Groups[0].Type)
}

func TestRelated_NotFound(t *testing.T) {
	h := newHarness(t, config.Query{})

	_, err := h.svc.Related(context.Background(), "c_missing", "")

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}

func chainFixture(t *testing.T, cfg config.Query) *harness {
	h := newHarness(t, cfg)
	for _, id := range []string{"c_a", "c_b", "c_c", "c_d"} {
		h.concept(id, "Node "+id, "physics", nil)
	}
	h.link("c_a", "c_b", "CAUSES", "physics", 0.9)
	h.link("c_b", "c_c", "CAUSES", "physics", 0.8)
	h.link("c_c", "c_d", "CAUSES", "physics", 0.7)
	return h
}

func TestConnect_ShortestPath(t *testing.T) {
	h := chainFixture(t, config.Query{})

	got, err := h.svc.Connect(context.Background(), "c_a", "c_d", 5, 1, false)

	require.NoError(t, err)
	assert.False(t, got.BudgetExceeded)
	require.Len(t, got.Paths, 1)
	p := got.Paths[0]
	assert.Equal(t, 3, p.Hops)
	require.Len(t, p.Nodes, 4)
	require.Len(t, p.Edges, 3)
	assert.Equal(t, "c_a", p.Nodes[0].ID)
	assert.Equal(t, "c_d", p.Nodes[3].ID)
	assert.Equal(t, "Node c_a", p.Nodes[0].Label)
	// Each edge joins the adjacent pair, reported in graph orientation.
	for i, e := range p.Edges {
		a, b := p.Nodes[i].ID, p.Nodes[i+1].ID
		joins := (e.From == a && e.To == b) || (e.From == b && e.To == a)
		assert.True(t, joins, "edge %d does not join nodes %d and %d", i, i, i+1)
		assert.Equal(t, "CAUSES", e.Type)
	}
}

func TestConnect_SameConceptIsTrivialPath(t *testing.T) {
	h := chainFixture(t, config.Query{})

	got, err := h.svc.Connect(context.Background(), "c_b", "c_b", 5, 1, false)

	require.NoError(t, err)
	require.Len(t, got.Paths, 1)
	assert.Equal(t, 0, got.Paths[0].Hops)
	require.Len(t, got.Paths[0].Nodes, 1)
	assert.Equal(t, "c_b", got.Paths[0].Nodes[0].ID)
	assert.Empty(t, got.Paths[0].Edges)
}

func TestConnect_DisconnectedIsNotBudget(t *testing.T) {
	h := chainFixture(t, config.Query{})
	h.concept("c_island", "Island", "physics", nil)

	got, err := h.svc.Connect(context.Background(), "c_a", "c_island", 5, 1, false)

	require.NoError(t, err)
	assert.Empty(t, got.Paths)
	assert.False(t, got.BudgetExceeded)
	assert.Equal(t, "no path within 5 hops", got.Message)
}

func TestConnect_MaxHopsBoundsSearch(t *testing.T) {
	h := chainFixture(t, config.Query{})

	short, err := h.svc.Connect(context.Background(), "c_a", "c_d", 2, 1, false)
	require.NoError(t, err)
	assert.Empty(t, short.Paths)
	assert.Equal(t, "no path within 2 hops", short.Message)

	long, err := h.svc.Connect(context.Background(), "c_a", "c_d", 3, 1, false)
	require.NoError(t, err)
	require.Len(t, long.Paths, 1)
	assert.Equal(t, 3, long.Paths[0].Hops)
}

func TestConnect_DirectedHonorsOrientation(t *testing.T) {
	h := newHarness(t, config.Query{})
	h.concept("c_a", "A", "physics", nil)
	h.concept("c_b", "B", "physics", nil)
	h.link("c_b", "c_a", "CAUSES", "physics", 0.9)

	directed, err := h.svc.Connect(context.Background(), "c_a", "c_b", 5, 1, true)
	require.NoError(t, err)
	assert.Empty(t, directed.Paths)

	undirected, err := h.svc.Connect(context.Background(), "c_a", "c_b", 5, 1, false)
	require.NoError(t, err)
	require.Len(t, undirected.Paths, 1)
	require.Len(t, undirected.Paths[0].Edges, 1)
	// Graph orientation survives even when traversed against the arrow.
	assert.Equal(t, "c_b", undirected.Paths[0].Edges[0].From)
	assert.Equal(t, "c_a", undirected.Paths[0].Edges[0].To)
}

func TestConnect_KShortestUsesDisjointEdges(t *testing.T) {
	h := newHarness(t, config.Query{})
	for _, id := range []string{"c_x", "c_p", "c_q", "c_z"} {
		h.concept(id, "Node "+id, "physics", nil)
	}
	h.link("c_x", "c_p", "CAUSES", "physics", 0.9)
	h.link("c_p", "c_z", "CAUSES", "physics", 0.9)
	h.link("c_x", "c_q", "SUPPORTS", "physics", 0.8)
	h.link("c_q", "c_z", "SUPPORTS", "physics", 0.8)

	got, err := h.svc.Connect(context.Background(), "c_x", "c_z", 5, 2, false)

	require.NoError(t, err)
	require.Len(t, got.Paths, 2)
	var middles []string
	for _, p := range got.Paths {
		assert.Equal(t, 2, p.Hops)
		require.Len(t, p.Nodes, 3)
		middles = append(middles, p.Nodes[1].ID)
	}
	assert.ElementsMatch(t, []string{"c_p", "c_q"}, middles)
}

func TestConnect_WallClockBudget(t *testing.T) {
	h := chainFixture(t, config.Query{PathTimeout: time.Nanosecond})

	got, err := h.svc.Connect(context.Background(), "c_a", "c_d", 5, 1, false)

	require.NoError(t, err)
	assert.True(t, got.BudgetExceeded)
	assert.Empty(t, got.Paths)
	assert.Equal(t, "search budget exhausted before completion", got.Message)
}

func TestConnect_FrontierCapBudget(t *testing.T) {
	h := newHarness(t, config.Query{FrontierCap: 2})
	h.concept("c_hub", "Hub", "physics", nil)
	h.concept("c_far", "Far", "physics", nil)
	for _, id := range []string{"c_m1", "c_m2", "c_m3", "c_m4"} {
		h.concept(id, "Node "+id, "physics", nil)
		h.link("c_hub", id, "CAUSES", "physics", 0.5)
		h.link(id, "c_far", "CAUSES", "physics", 0.5)
	}

	got, err := h.svc.Connect(context.Background(), "c_hub", "c_far", 5, 1, false)

	require.NoError(t, err)
	assert.True(t, got.BudgetExceeded)
	assert.Empty(t, got.Paths)
}

func TestConnect_CrossOntology(t *testing.T) {
	h := newHarness(t, config.Query{})
	h.concept("c_a", "A", "physics", nil)
	h.concept("c_z", "Z", "biology", nil)

	got, err := h.svc.Connect(context.Background(), "c_a", "c_z", 5, 1, false)

	require.NoError(t, err)
	assert.Empty(t, got.Paths)
	assert.Equal(t, "concepts are in different ontologies", got.Message)
}

func TestConnect_NotFound(t *testing.T) {
	h := newHarness(t, config.Query{})
	h.concept("c_a", "A", "physics", nil)

	_, err := h.svc.Connect(context.Background(), "c_a", "c_missing", 5, 1, false)

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}
