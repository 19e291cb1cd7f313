package sqlite_test

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

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func concept(id, label, ontology string, emb []float32) *domain.Concept {
	return &domain.Concept{
		ID:        id,
		Label:     label,
		Ontology:  ontology,
		Embedding: emb,
		CreatedAt: time.Now(),
	}
}

func TestPutConcept_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	c := concept("c_aaa111", "Entropy", "physics", []float32{0.1, 0.2})

	created, err := s.PutConcept(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	// Second write with the same id is a no-op, not an error.
	created, err = s.PutConcept(ctx, c)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetConcept(ctx, "c_aaa111")
	require.NoError(t, err)
	assert.Equal(t, "Entropy", got.Label)
	assert.Equal(t, []float32{0.1, 0.2}, got.Embedding)
}

func TestGetConcept_NotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetConcept(context.Background(), "c_missing")

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}

func TestMergeSearchTerms(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	c := concept("c_aaa111", "Entropy", "physics", nil)
	c.SearchTerms = []string{"disorder"}
	_, err := s.PutConcept(ctx, c)
	require.NoError(t, err)

	// "Disorder" differs only by case and must not duplicate.
	require.NoError(t, s.MergeSearchTerms(ctx, "c_aaa111", []string{"Disorder", "randomness"}))

	got, err := s.GetConcept(ctx, "c_aaa111")
	require.NoError(t, err)
	assert.Equal(t, []string{"disorder", "randomness"}, got.SearchTerms)
}

func TestListEmbeddings_SkipsConceptsWithout(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	_, err := s.PutConcept(ctx, concept("c_with", "A", "physics", []float32{1, 0}))
	require.NoError(t, err)
	_, err = s.PutConcept(ctx, concept("c_without", "B", "physics", nil))
	require.NoError(t, err)

	vecs, err := s.ListEmbeddings(ctx, "physics")

	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, "c_with", vecs[0].ID)
	assert.Equal(t, []float32{1, 0}, vecs[0].Embedding)
}

func TestPutRelationship_MergesEvidenceAndKeepsMaxConfidence(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())

	r := &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "CAUSES", Ontology: "physics",
		Confidence: 0.6, Evidence: []string{"s_1"}, CreatedAt: time.Now(),
	}
	created, err := s.PutRelationship(ctx, r)
	require.NoError(t, err)
	assert.True(t, created)

	// Re-assertion from another source: evidence accumulates, confidence
	// keeps the maximum, no second edge appears.
	again := &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "CAUSES", Ontology: "physics",
		Confidence: 0.4, Evidence: []string{"s_2", "s_1"}, CreatedAt: time.Now(),
	}
	created, err = s.PutRelationship(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	edges, err := s.EdgesByType(ctx, "physics", "CAUSES")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.ElementsMatch(t, []string{"s_1", "s_2"}, edges[0].Evidence)
	assert.InDelta(t, 0.6, edges[0].Confidence, 1e-9)
}

func TestNeighbors_BothDirectionsAndOntologyFilter(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())

	put := func(from, to, typ, ontology string) {
		_, err := s.PutRelationship(ctx, &domain.Relationship{
			FromID: from, ToID: to, Type: typ, Ontology: ontology, Confidence: 0.5,
		})
		require.NoError(t, err)
	}
	put("c_a", "c_b", "CAUSES", "physics")
	put("c_c", "c_a", "SUPPORTS", "physics")
	put("c_a", "c_d", "CAUSES", "biology") // other ontology, filtered out

	adj, err := s.Neighbors(ctx, []string{"c_a"}, "physics")

	require.NoError(t, err)
	require.Len(t, adj, 2)
	byNeighbor := map[string]domain.Adjacency{}
	for _, a := range adj {
		byNeighbor[a.NeighborID] = a
	}
	// Outgoing edge: seed is the from side.
	assert.Equal(t, "c_a", byNeighbor["c_b"].FromID)
	// Incoming edge: seed is the to side.
	assert.Equal(t, "c_c", byNeighbor["c_c"].FromID)
	assert.Equal(t, "c_a", byNeighbor["c_c"].ToID)
}

func TestNeighbors_MultipleSeedsSingleQuery(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	_, err := s.PutRelationship(ctx, &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "CAUSES", Ontology: "physics", Confidence: 0.5,
	})
	require.NoError(t, err)

	// Both endpoints are seeds: the edge must appear once per seed.
	adj, err := s.Neighbors(ctx, []string{"c_a", "c_b"}, "physics")

	require.NoError(t, err)
	assert.Len(t, adj, 2)
}

func TestRetypeEdges_MergesOnCollision(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())

	_, err := s.PutRelationship(ctx, &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "RESULTS_IN", Ontology: "physics",
		Confidence: 0.7, Evidence: []string{"s_1"},
	})
	require.NoError(t, err)
	// Target edge already exists with different evidence.
	_, err = s.PutRelationship(ctx, &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "CAUSES", Ontology: "physics",
		Confidence: 0.5, Evidence: []string{"s_2"},
	})
	require.NoError(t, err)

	moved, err := s.RetypeEdges(ctx, "RESULTS_IN", "CAUSES")

	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	old, err := s.EdgesByType(ctx, "", "RESULTS_IN")
	require.NoError(t, err)
	assert.Empty(t, old)

	merged, err := s.EdgesByType(ctx, "", "CAUSES")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.ElementsMatch(t, []string{"s_1", "s_2"}, merged[0].Evidence)
	assert.InDelta(t, 0.7, merged[0].Confidence, 1e-9)
}

func TestDocuments_FindByHash(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	d := &domain.Document{
		ID: "d_abc", ContentHash: "deadbeef", Ontology: "physics",
		ContentType: domain.ContentTypeText, Filename: "notes.md", IngestedAt: time.Now(),
	}
	created, err := s.PutDocument(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := s.FindDocumentByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "d_abc", got.ID)

	_, err = s.FindDocumentByHash(ctx, "cafebabe")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}

func TestVocabulary_UpsertRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())

	for _, vt := range domain.BuiltinTypes(time.Now()) {
		require.NoError(t, s.PutVocabularyType(ctx, &vt))
	}

	// Upserting one again with changed usage must not duplicate.
	causal := &domain.VocabularyType{Name: "CAUSES", Active: true, Builtin: true,
		Category: domain.CategoryCausal, Direction: domain.DirectionOutward, UsageCount: 42}
	require.NoError(t, s.PutVocabularyType(ctx, causal))

	all, err := s.ListVocabulary(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 30)
	for _, vt := range all {
		if vt.Name == "CAUSES" {
			assert.Equal(t, 42, vt.UsageCount)
		}
	}
}

func TestJobs_LifecyclePersistence(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())

	j := &domain.Job{
		ID: "j_1", Type: domain.JobTypeIngestText, Status: domain.JobAwaitingApproval,
		Ontology: "physics", ContentHash: "deadbeef", SubmittedAt: time.Now(),
		Params: domain.JobParams{Ontology: "physics", TargetWords: 1000},
	}
	require.NoError(t, s.PutJob(ctx, j))

	j.Status = domain.JobApproved
	require.NoError(t, s.PutJob(ctx, j))

	got, err := s.GetJob(ctx, "j_1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, got.Status)
	assert.Equal(t, 1000, got.Params.TargetWords)

	found, err := s.FindJobByContentHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "j_1", found.ID)

	listed, err := s.ListJobs(ctx, store.JobFilter{Statuses: []domain.JobStatus{domain.JobApproved}})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, s.DeleteJob(ctx, "j_1"))
	_, err = s.GetJob(ctx, "j_1")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))
}

func TestRenameOntology(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	_, err := s.PutConcept(ctx, concept("c_a", "A", "draft", nil))
	require.NoError(t, err)
	_, err = s.PutRelationship(ctx, &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "CAUSES", Ontology: "draft", Confidence: 0.5,
	})
	require.NoError(t, err)

	require.NoError(t, s.RenameOntology(ctx, "draft", "final"))

	got, err := s.GetConcept(ctx, "c_a")
	require.NoError(t, err)
	assert.Equal(t, "final", got.Ontology)

	edges, err := s.EdgesByType(ctx, "final", "CAUSES")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestRenameOntology_TargetExists(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	_, err := s.PutConcept(ctx, concept("c_a", "A", "draft", nil))
	require.NoError(t, err)
	_, err = s.PutConcept(ctx, concept("c_b", "B", "final", nil))
	require.NoError(t, err)

	err = s.RenameOntology(ctx, "draft", "final")

	assert.True(t, kgerrors.IsKind(err, kgerrors.KindConflict))
}

func TestDeleteOntology_ReportsCounts(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	_, err := s.PutConcept(ctx, concept("c_a", "A", "scratch", nil))
	require.NoError(t, err)
	_, err = s.PutSource(ctx, &domain.Source{ID: "s_1", DocumentID: "d_1", Ontology: "scratch", FullText: "text"})
	require.NoError(t, err)
	_, err = s.PutInstance(ctx, &domain.Instance{ConceptID: "c_a", SourceID: "s_1", Quote: "q"})
	require.NoError(t, err)
	_, err = s.PutConcept(ctx, concept("c_keep", "Keep", "other", nil))
	require.NoError(t, err)

	counts, err := s.DeleteOntology(ctx, "scratch")

	require.NoError(t, err)
	assert.Equal(t, 1, counts.Concepts)
	assert.Equal(t, 1, counts.Sources)
	assert.Equal(t, 1, counts.Instances)

	// Other ontologies untouched.
	_, err = s.GetConcept(ctx, "c_keep")
	assert.NoError(t, err)
}

func TestListOntologiesAndStats(t *testing.T) {
	s := newStore(t)
	ctx := store.WithWriteIntent(context.Background())
	_, err := s.PutConcept(ctx, concept("c_a", "A", "alpha", nil))
	require.NoError(t, err)
	_, err = s.PutConcept(ctx, concept("c_b", "B", "beta", nil))
	require.NoError(t, err)
	_, err = s.PutRelationship(ctx, &domain.Relationship{
		FromID: "c_a", ToID: "c_x", Type: "CAUSES", Ontology: "alpha", Confidence: 0.5,
	})
	require.NoError(t, err)

	infos, err := s.ListOntologies(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, 1, infos[0].Relationships)

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Concepts)
	assert.Equal(t, 2, stats.Ontologies)
	assert.Equal(t, 1, stats.EdgeTypes["CAUSES"])
}

func TestWrites_RejectContextWithoutIntent(t *testing.T) {
	s := newStore(t)
	bare := context.Background()

	_, err := s.PutConcept(bare, concept("c_a", "A", "alpha", nil))
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConsistency, kgerrors.KindOf(err))

	_, err = s.DeleteOntology(bare, "alpha")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConsistency, kgerrors.KindOf(err))

	// reads stay open
	_, err = s.ListOntologies(bare)
	require.NoError(t, err)
}
