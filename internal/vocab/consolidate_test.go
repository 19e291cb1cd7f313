package vocab_test

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
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/internal/store/sqlite"
	"kgraph/internal/vocab"
)

// scriptedAdjudicator replays canned verdicts and records what it was asked.
type scriptedAdjudicator struct {
	verdicts []vocab.Verdict
	errs     []error
	asked    [][2]string
}

func (a *scriptedAdjudicator) Adjudicate(_ context.Context, x, y domain.VocabularyType) (vocab.Verdict, error) {
	i := len(a.asked)
	a.asked = append(a.asked, [2]string{x.Name, y.Name})
	if i < len(a.errs) && a.errs[i] != nil {
		return vocab.Verdict{}, a.errs[i]
	}
	if i < len(a.verdicts) {
		return a.verdicts[i], nil
	}
	return vocab.Verdict{Reason: "semantic-distinction"}, nil
}

// synonymFixture builds a manager holding two auto-created types close
// enough to become a consolidation candidate (cosine 0.88, under the 0.92
// routing bar) plus one LEADS_TO edge in the store.
func synonymFixture(t *testing.T) (*vocab.Manager, *sqlite.Store) {
	t.Helper()
	emb := newStubEmbedder()
	emb.vectors["leads to"] = unit(8)
	emb.vectors["results in"] = blend(map[int]float64{8: 0.88, 9: 0.475})
	m, s := newManager(t, emb, config.Vocab{})
	ctx := context.Background()
	wctx := store.WithWriteIntent(ctx)

	for _, raw := range []string{"leads to", "results in"} {
		res, err := m.Resolve(ctx, raw)
		require.NoError(t, err)
		require.True(t, res.Created, "fixture relies on %q creating a fresh type", raw)
	}

	for _, c := range []*domain.Concept{
		{ID: "c_a", Label: "A", Ontology: "o", CreatedAt: time.Now()},
		{ID: "c_b", Label: "B", Ontology: "o", CreatedAt: time.Now()},
	} {
		_, err := s.PutConcept(wctx, c)
		require.NoError(t, err)
	}
	_, err := s.PutRelationship(wctx, &domain.Relationship{
		FromID: "c_a", ToID: "c_b", Type: "RESULTS_IN", Ontology: "o",
		Confidence: 0.8, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return m, s
}

func TestConsolidateMergesAdjudicatedSynonyms(t *testing.T) {
	m, s := synonymFixture(t)
	adj := &scriptedAdjudicator{verdicts: []vocab.Verdict{
		{Merge: true, Source: "RESULTS_IN", Target: "LEADS_TO", Reason: "same relation"},
	}}
	c := vocab.NewConsolidator(m, adj, zap.NewNop())

	report, err := c.Run(context.Background(), vocab.Options{})
	require.NoError(t, err)

	assert.Equal(t, 32, report.StartActive)
	assert.Equal(t, 31, report.EndActive)
	assert.Equal(t, 1, report.Pairs)
	assert.Equal(t, 1, report.Merged)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, "merged", report.Decisions[0].Action)
	assert.Equal(t, 1, report.Decisions[0].EdgesMoved)
	assert.InDelta(t, 0.88, report.Decisions[0].Similarity, 0.01)

	moved, err := s.EdgesByType(context.Background(), "o", "LEADS_TO")
	require.NoError(t, err)
	assert.Len(t, moved, 1)

	src, _ := m.Get("RESULTS_IN")
	assert.False(t, src.Active)
	assert.Equal(t, "LEADS_TO", src.MergedInto)
}

func TestConsolidateExcludesBuiltinPairs(t *testing.T) {
	// Give every builtin an embedding; identical vectors would pair them
	// all if builtins were eligible.
	m, _ := newManager(t, newStubEmbedder(), config.Vocab{})
	_, err := m.GenerateEmbeddings(context.Background())
	require.NoError(t, err)

	adj := &scriptedAdjudicator{}
	c := vocab.NewConsolidator(m, adj, zap.NewNop())
	report, err := c.Run(context.Background(), vocab.Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Pairs)
	assert.Empty(t, adj.asked)
}

func TestConsolidateRemembersRejections(t *testing.T) {
	m, _ := synonymFixture(t)
	adj := &scriptedAdjudicator{verdicts: []vocab.Verdict{
		{Reason: "directional-inverse"},
	}}
	c := vocab.NewConsolidator(m, adj, zap.NewNop())

	report, err := c.Run(context.Background(), vocab.Options{})
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, "rejected", report.Decisions[0].Action)
	assert.Equal(t, "directional-inverse", report.Decisions[0].Reason)
	assert.Zero(t, report.Merged)
	require.Len(t, adj.asked, 1)

	// The pair stays settled for the life of the process.
	report, err = c.Run(context.Background(), vocab.Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Decisions)
	assert.Len(t, adj.asked, 1)

	reused, _ := m.Get("RESULTS_IN")
	assert.True(t, reused.Active, "a rejected pair is never merged")
}

func TestConsolidateDryRunPlansOnly(t *testing.T) {
	m, s := synonymFixture(t)
	adj := &scriptedAdjudicator{verdicts: []vocab.Verdict{
		{Merge: true, Source: "RESULTS_IN", Target: "LEADS_TO", Reason: "same relation"},
	}}
	c := vocab.NewConsolidator(m, adj, zap.NewNop())

	report, err := c.Run(context.Background(), vocab.Options{DryRun: true})
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, "planned", report.Decisions[0].Action)
	assert.Zero(t, report.Merged)
	assert.Equal(t, report.StartActive, report.EndActive)

	still, _ := m.Get("RESULTS_IN")
	assert.True(t, still.Active)
	edges, err := s.EdgesByType(context.Background(), "o", "RESULTS_IN")
	require.NoError(t, err)
	assert.Len(t, edges, 1, "dry run must not touch edges")
}

func TestConsolidateStopsAtTargetSize(t *testing.T) {
	m, _ := synonymFixture(t)
	adj := &scriptedAdjudicator{}
	c := vocab.NewConsolidator(m, adj, zap.NewNop())

	report, err := c.Run(context.Background(), vocab.Options{TargetSize: 32})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pairs)
	assert.Empty(t, adj.asked, "already at target, nothing to evaluate")
	assert.Zero(t, report.Merged)
}

func TestConsolidateAdjudicatorFailureIsRetriable(t *testing.T) {
	m, _ := synonymFixture(t)
	adj := &scriptedAdjudicator{
		errs: []error{errors.New("model unavailable")},
		verdicts: []vocab.Verdict{
			{},
			{Merge: true, Source: "RESULTS_IN", Target: "LEADS_TO", Reason: "same relation"},
		},
	}
	c := vocab.NewConsolidator(m, adj, zap.NewNop())

	report, err := c.Run(context.Background(), vocab.Options{})
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, "failed", report.Decisions[0].Action)

	// A failed pair was not remembered, so the next run asks again.
	report, err = c.Run(context.Background(), vocab.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
	assert.Len(t, adj.asked, 2)
}

// chatScript implements provider.Chat for adjudicator parsing tests.
type chatScript struct {
	responses []string
	requests  []provider.ChatRequest
}

func (c *chatScript) Complete(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return &provider.ChatResponse{Content: c.responses[i]}, nil
}

func (c *chatScript) Name() string { return "script" }

func adjudicateTypes() (domain.VocabularyType, domain.VocabularyType) {
	a := domain.VocabularyType{Name: "LEADS_TO", Description: "A leads to B", Category: "causal", UsageCount: 12}
	b := domain.VocabularyType{Name: "RESULTS_IN", Description: "A results in B", Category: "causal", UsageCount: 3}
	return a, b
}

func TestLLMAdjudicatorParsesMerge(t *testing.T) {
	chat := &chatScript{responses: []string{
		"```json\n{\"action\":\"MERGE\",\"source\":\"RESULTS_IN\",\"target\":\"LEADS_TO\",\"reason\":\"synonyms\"}\n```",
	}}
	adj := vocab.NewLLMAdjudicator(chat, config.LLM{RequestTimeout: time.Second}, zap.NewNop())

	a, b := adjudicateTypes()
	verdict, err := adj.Adjudicate(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, verdict.Merge)
	assert.Equal(t, "RESULTS_IN", verdict.Source)
	assert.Equal(t, "LEADS_TO", verdict.Target)
	assert.Equal(t, "synonyms", verdict.Reason)

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	assert.True(t, req.ForceJSON)
	user := req.Messages[1].Content
	assert.Contains(t, user, "LEADS_TO")
	assert.Contains(t, user, "A results in B")
	assert.Contains(t, user, "used 3 times")
}

func TestLLMAdjudicatorParsesReject(t *testing.T) {
	chat := &chatScript{responses: []string{`{"action":"REJECT","reason":"directional-inverse"}`}}
	adj := vocab.NewLLMAdjudicator(chat, config.LLM{}, zap.NewNop())

	a, b := adjudicateTypes()
	verdict, err := adj.Adjudicate(context.Background(), a, b)
	require.NoError(t, err)
	assert.False(t, verdict.Merge)
	assert.Equal(t, "directional-inverse", verdict.Reason)
}

func TestLLMAdjudicatorRejectsForeignNames(t *testing.T) {
	chat := &chatScript{responses: []string{
		`{"action":"MERGE","source":"CAUSES","target":"LEADS_TO","reason":"oops"}`,
	}}
	adj := vocab.NewLLMAdjudicator(chat, config.LLM{}, zap.NewNop())

	a, b := adjudicateTypes()
	_, err := adj.Adjudicate(context.Background(), a, b)
	assert.Error(t, err, "a merge naming a type outside the pair is unusable")
}

func TestLLMAdjudicatorRejectsMalformedOutput(t *testing.T) {
	chat := &chatScript{responses: []string{"certainly! here is my analysis"}}
	adj := vocab.NewLLMAdjudicator(chat, config.LLM{}, zap.NewNop())

	a, b := adjudicateTypes()
	_, err := adj.Adjudicate(context.Background(), a, b)
	assert.Error(t, err)
}
