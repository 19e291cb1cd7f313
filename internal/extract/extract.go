// Package extract prompts the LLM with one chunk and decodes the structured
// (concepts, instances, relationships) result.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/kgerrors"
	"kgraph/internal/provider"
)

// maxExistingLabels caps how many known concept labels ride along in the
// prompt to steer the model toward reuse.
const maxExistingLabels = 40

// defaultConfidence applies when the model omits a relationship confidence.
const defaultConfidence = 0.5

// Concept is one extracted concept candidate.
type Concept struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	SearchTerms []string `json:"search_terms"`
}

// Instance ties a verbatim quote to a concept from the same result.
type Instance struct {
	ConceptLabel string `json:"concept_label"`
	Quote        string `json:"quote"`
}

// Relationship is a typed edge candidate between two concepts from the same
// result. Type names outside the supplied vocabulary are allowed; the
// vocabulary manager decides what becomes of them.
type Relationship struct {
	FromLabel  string  `json:"from_label"`
	ToLabel    string  `json:"to_label"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Result is a validated extraction: every instance and relationship
// references a concept in Concepts, and every quote is a whitespace-
// normalized substring of the chunk it came from.
type Result struct {
	Concepts      []Concept
	Instances     []Instance
	Relationships []Relationship
}

// Request carries one chunk plus the context the prompt needs.
type Request struct {
	ChunkText      string
	Vocabulary     []string // active relationship type names
	ExistingLabels []string // concept labels already in the ontology
}

// Extractor drives chat completions and owns the malformed-output retry
// loop. Transport-level failures (rate limits, 5xx) are retried inside the
// provider; this loop only re-prompts when the model returns JSON that does
// not satisfy the schema invariants.
type Extractor struct {
	chat     provider.Chat
	timeout  time.Duration
	attempts int
	logger   *zap.Logger
}

func New(chat provider.Chat, cfg config.LLM, logger *zap.Logger) *Extractor {
	timeout := cfg.ExtractTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	attempts := cfg.ExtractAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Extractor{chat: chat, timeout: timeout, attempts: attempts, logger: logger}
}

// Extract analyzes one chunk. The returned usage sums tokens across all
// attempts, since every attempt is billed.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, provider.TokenUsage, error) {
	var usage provider.TokenUsage
	if strings.TrimSpace(req.ChunkText) == "" {
		return nil, usage, kgerrors.Validation("chunk text is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := []provider.Message{
		{Role: "system", Content: buildSystemPrompt(req)},
		{Role: "user", Content: "Text to analyze:\n\n" + req.ChunkText},
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		resp, err := e.chat.Complete(ctx, provider.ChatRequest{
			Messages:  messages,
			ForceJSON: true,
		})
		if err != nil {
			// transport already exhausted its own retries
			return nil, usage, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		result, err := decode(resp.Content, req.ChunkText)
		if err == nil {
			return result, usage, nil
		}
		lastErr = err
		e.logger.Warn("extractor returned malformed output",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < e.attempts {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, usage, err
			}
		}
	}
	return nil, usage, kgerrors.Provider(false, lastErr,
		"extraction produced invalid output after %d attempts", e.attempts)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	select {
	case <-ctx.Done():
		return kgerrors.Cancelled("extract")
	case <-time.After(delay):
		return nil
	}
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`You are a knowledge graph extraction agent. Analyze the text and extract:

1. Concepts: the key ideas, entities or topics discussed in the text
2. Instances: verbatim quotes that evidence each concept
3. Relationships: how the extracted concepts relate to each other

For each concept provide:
- label: a short, clear name
- description: one or two sentences explaining the concept
- search_terms: alternate phrases a reader might use for this concept

For each instance provide:
- concept_label: the label of a concept extracted above
- quote: the exact quote from the text, copied verbatim

For each relationship provide:
- from_label and to_label: labels of concepts extracted above
- type: a relationship type, preferably from the vocabulary below
- confidence: a score from 0.0 to 1.0 (optional)

Relationship type vocabulary:
`)
	b.WriteString(strings.Join(req.Vocabulary, ", "))
	b.WriteString("\n\nPrefer vocabulary types. Only invent a new type name (UPPER_SNAKE_CASE) when none of them fits.\n")

	if labels := req.ExistingLabels; len(labels) > 0 {
		if len(labels) > maxExistingLabels {
			labels = labels[:maxExistingLabels]
		}
		b.WriteString("\nThese concepts already exist in the graph. Reuse their exact labels when the text refers to them:\n")
		for _, label := range labels {
			b.WriteString("- ")
			b.WriteString(label)
			b.WriteString("\n")
		}
	}

	b.WriteString(`
Return a single JSON object with this structure:
{"concepts":[{"label":"...","description":"...","search_terms":["...","..."]}],
 "instances":[{"concept_label":"...","quote":"..."}],
 "relationships":[{"from_label":"...","to_label":"...","type":"IMPLIES","confidence":0.9}]}

Only return the JSON object, no additional text.`)
	return b.String()
}

// wire types: confidence is a pointer so an omitted field is
// distinguishable from an explicit zero.
type payload struct {
	Concepts      []Concept          `json:"concepts"`
	Instances     []Instance         `json:"instances"`
	Relationships []wireRelationship `json:"relationships"`
}

type wireRelationship struct {
	FromLabel  string   `json:"from_label"`
	ToLabel    string   `json:"to_label"`
	Type       string   `json:"type"`
	Confidence *float64 `json:"confidence"`
}

// decode parses and validates one model response. Any violation of the
// result invariants is an error, which the caller treats as malformed
// output and re-prompts.
func decode(raw, chunk string) (*Result, error) {
	var p payload
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &p); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := &Result{}
	byLabel := make(map[string]int) // label key -> index into result.Concepts

	for _, c := range p.Concepts {
		c.Label = strings.TrimSpace(c.Label)
		if c.Label == "" {
			return nil, fmt.Errorf("concept with empty label")
		}
		key := labelKey(c.Label)
		if i, ok := byLabel[key]; ok {
			// duplicate emission: merge search terms, keep the first description
			result.Concepts[i].SearchTerms = mergeTerms(result.Concepts[i].SearchTerms, c.SearchTerms)
			continue
		}
		c.Description = strings.TrimSpace(c.Description)
		c.SearchTerms = mergeTerms(nil, c.SearchTerms)
		byLabel[key] = len(result.Concepts)
		result.Concepts = append(result.Concepts, c)
	}

	normChunk := normalizeSpace(chunk)
	for _, in := range p.Instances {
		i, ok := byLabel[labelKey(in.ConceptLabel)]
		if !ok {
			return nil, fmt.Errorf("instance references unknown concept %q", in.ConceptLabel)
		}
		quote := strings.TrimSpace(in.Quote)
		if quote == "" {
			return nil, fmt.Errorf("instance for %q has empty quote", in.ConceptLabel)
		}
		if !strings.Contains(normChunk, normalizeSpace(quote)) {
			return nil, fmt.Errorf("quote for %q is not a substring of the chunk", in.ConceptLabel)
		}
		result.Instances = append(result.Instances, Instance{
			ConceptLabel: result.Concepts[i].Label,
			Quote:        quote,
		})
	}

	for _, r := range p.Relationships {
		from, ok := byLabel[labelKey(r.FromLabel)]
		if !ok {
			return nil, fmt.Errorf("relationship references unknown concept %q", r.FromLabel)
		}
		to, ok := byLabel[labelKey(r.ToLabel)]
		if !ok {
			return nil, fmt.Errorf("relationship references unknown concept %q", r.ToLabel)
		}
		typeName := strings.TrimSpace(r.Type)
		if typeName == "" {
			return nil, fmt.Errorf("relationship %q -> %q has no type", r.FromLabel, r.ToLabel)
		}
		confidence := defaultConfidence
		if r.Confidence != nil {
			confidence = *r.Confidence
			if confidence < 0 || confidence > 1 {
				return nil, fmt.Errorf("relationship confidence %v outside [0,1]", confidence)
			}
		}
		result.Relationships = append(result.Relationships, Relationship{
			FromLabel:  result.Concepts[from].Label,
			ToLabel:    result.Concepts[to].Label,
			Type:       typeName,
			Confidence: confidence,
		})
	}
	return result, nil
}

// cleanJSONResponse strips markdown code fences that models wrap around
// JSON despite instructions.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// normalizeSpace collapses all whitespace runs to single spaces so quote
// matching survives reflowed line breaks.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// mergeTerms appends new non-empty terms to existing, skipping
// case-insensitive duplicates and preserving order.
func mergeTerms(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		existing = append(existing, t)
	}
	return existing
}
