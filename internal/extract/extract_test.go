package extract_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/extract"
	"kgraph/internal/kgerrors"
	"kgraph/internal/provider"
)

// scriptedChat returns canned responses in order and records requests.
type scriptedChat struct {
	responses []string
	err       error
	requests  []provider.ChatRequest
}

func (s *scriptedChat) Complete(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &provider.ChatResponse{
		Content: s.responses[i],
		Usage:   provider.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (s *scriptedChat) Name() string { return "scripted" }

func newExtractor(chat provider.Chat, attempts int) *extract.Extractor {
	return extract.New(chat, config.LLM{ExtractAttempts: attempts}, zap.NewNop())
}

const chunk = "Sleep deprivation increases cortisol. High cortisol levels impair memory consolidation."

const validResponse = `{
  "concepts": [
    {"label": "Sleep Deprivation", "description": "Insufficient sleep over time.", "search_terms": ["sleep loss", "insomnia"]},
    {"label": "Cortisol", "description": "A stress hormone.", "search_terms": ["stress hormone"]}
  ],
  "instances": [
    {"concept_label": "Cortisol", "quote": "Sleep deprivation increases cortisol."}
  ],
  "relationships": [
    {"from_label": "Sleep Deprivation", "to_label": "Cortisol", "type": "CAUSES", "confidence": 0.9}
  ]
}`

func TestExtractValidResult(t *testing.T) {
	chat := &scriptedChat{responses: []string{validResponse}}
	e := newExtractor(chat, 3)

	result, usage, err := e.Extract(context.Background(), extract.Request{
		ChunkText:  chunk,
		Vocabulary: []string{"CAUSES", "IMPLIES"},
	})
	require.NoError(t, err)
	require.Len(t, result.Concepts, 2)
	assert.Equal(t, "Sleep Deprivation", result.Concepts[0].Label)
	assert.Equal(t, []string{"sleep loss", "insomnia"}, result.Concepts[0].SearchTerms)
	require.Len(t, result.Instances, 1)
	assert.Equal(t, "Cortisol", result.Instances[0].ConceptLabel)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "CAUSES", result.Relationships[0].Type)
	assert.InDelta(t, 0.9, result.Relationships[0].Confidence, 1e-9)
	assert.Equal(t, 150, usage.TotalTokens)
}

func TestExtractPromptContents(t *testing.T) {
	chat := &scriptedChat{responses: []string{validResponse}}
	e := newExtractor(chat, 3)

	labels := make([]string, 45)
	for i := range labels {
		labels[i] = fmt.Sprintf("Concept %02d", i)
	}
	_, _, err := e.Extract(context.Background(), extract.Request{
		ChunkText:      chunk,
		Vocabulary:     []string{"CAUSES", "PREVENTS"},
		ExistingLabels: labels,
	})
	require.NoError(t, err)
	require.Len(t, chat.requests, 1)

	req := chat.requests[0]
	assert.True(t, req.ForceJSON)
	require.Len(t, req.Messages, 2)
	system := req.Messages[0].Content
	assert.Contains(t, system, "CAUSES, PREVENTS")
	assert.Contains(t, system, "Concept 39")
	assert.NotContains(t, system, "Concept 40") // capped at 40 labels
	assert.Contains(t, req.Messages[1].Content, chunk)
}

func TestExtractDefaultsConfidence(t *testing.T) {
	resp := `{
	  "concepts": [{"label": "A", "description": "", "search_terms": []},
	               {"label": "B", "description": "", "search_terms": []}],
	  "instances": [],
	  "relationships": [{"from_label": "A", "to_label": "B", "type": "IMPLIES"}]
	}`
	chat := &scriptedChat{responses: []string{resp}}
	e := newExtractor(chat, 1)

	result, _, err := e.Extract(context.Background(), extract.Request{ChunkText: "A implies B."})
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	assert.InDelta(t, 0.5, result.Relationships[0].Confidence, 1e-9)
}

func TestExtractRetriesMalformedThenSucceeds(t *testing.T) {
	chat := &scriptedChat{responses: []string{"the model rambles here", validResponse}}
	e := newExtractor(chat, 3)

	result, usage, err := e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.NoError(t, err)
	assert.Len(t, chat.requests, 2)
	assert.Len(t, result.Concepts, 2)
	assert.Equal(t, 300, usage.TotalTokens) // both attempts billed
}

func TestExtractFailsAfterAttempts(t *testing.T) {
	chat := &scriptedChat{responses: []string{"nope", "still nope"}}
	e := newExtractor(chat, 2)

	_, usage, err := e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindProvider, kgerrors.KindOf(err))
	assert.False(t, kgerrors.IsRetryable(err))
	assert.Len(t, chat.requests, 2)
	assert.Equal(t, 300, usage.TotalTokens)
}

func TestExtractRejectsDanglingReferences(t *testing.T) {
	resp := `{
	  "concepts": [{"label": "A", "description": "", "search_terms": []}],
	  "instances": [{"concept_label": "Missing", "quote": "A implies B."}],
	  "relationships": []
	}`
	chat := &scriptedChat{responses: []string{resp}}
	e := newExtractor(chat, 1)

	_, _, err := e.Extract(context.Background(), extract.Request{ChunkText: "A implies B."})
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindProvider, kgerrors.KindOf(err))
}

func TestExtractQuoteMatchingNormalizesWhitespace(t *testing.T) {
	// quote reflowed across lines still matches
	good := `{
	  "concepts": [{"label": "Cortisol", "description": "", "search_terms": []}],
	  "instances": [{"concept_label": "Cortisol", "quote": "Sleep deprivation\nincreases   cortisol."}],
	  "relationships": []
	}`
	chat := &scriptedChat{responses: []string{good}}
	e := newExtractor(chat, 1)
	result, _, err := e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)

	// fabricated quote fails
	bad := `{
	  "concepts": [{"label": "Cortisol", "description": "", "search_terms": []}],
	  "instances": [{"concept_label": "Cortisol", "quote": "Cortisol is made of cheese."}],
	  "relationships": []
	}`
	chat = &scriptedChat{responses: []string{bad}}
	e = newExtractor(chat, 1)
	_, _, err = e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.Error(t, err)
}

func TestExtractStripsCodeFences(t *testing.T) {
	chat := &scriptedChat{responses: []string{"```json\n" + validResponse + "\n```"}}
	e := newExtractor(chat, 1)

	result, _, err := e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.NoError(t, err)
	assert.Len(t, result.Concepts, 2)
}

func TestExtractMergesDuplicateConceptEmissions(t *testing.T) {
	resp := `{
	  "concepts": [
	    {"label": "Cortisol", "description": "A stress hormone.", "search_terms": ["stress hormone"]},
	    {"label": "cortisol", "description": "Duplicate.", "search_terms": ["hydrocortisone", "stress hormone"]}
	  ],
	  "instances": [],
	  "relationships": []
	}`
	chat := &scriptedChat{responses: []string{resp}}
	e := newExtractor(chat, 1)

	result, _, err := e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.NoError(t, err)
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, "Cortisol", result.Concepts[0].Label)
	assert.Equal(t, "A stress hormone.", result.Concepts[0].Description)
	assert.Equal(t, []string{"stress hormone", "hydrocortisone"}, result.Concepts[0].SearchTerms)
}

func TestExtractEmptyChunkRejected(t *testing.T) {
	e := newExtractor(&scriptedChat{responses: []string{validResponse}}, 1)
	_, _, err := e.Extract(context.Background(), extract.Request{ChunkText: "   "})
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestExtractTransportErrorNotRetriedHere(t *testing.T) {
	chat := &scriptedChat{err: kgerrors.Provider(true, nil, "upstream down")}
	e := newExtractor(chat, 3)

	_, _, err := e.Extract(context.Background(), extract.Request{ChunkText: chunk})
	require.Error(t, err)
	assert.Len(t, chat.requests, 1)
}
