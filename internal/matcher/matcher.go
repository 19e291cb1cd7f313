// Package matcher decides whether an extracted concept is a re-observation
// of one already in the graph or genuinely new. Reuse appends search terms
// and never rewrites the stored description; creation is keyed on the
// content-hashed id, so racing workers converge on the same concept.
package matcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
	"kgraph/internal/store"
	"kgraph/internal/vector"
)

// searchK bounds the neighbor probe; only the best hit is used, the rest
// exist to survive index orphans.
const searchK = 5

// Candidate is one extracted concept ready for matching. Embedding must be
// the vector of Text().
type Candidate struct {
	Label       string
	Description string
	SearchTerms []string
	Embedding   []float32
}

// Text renders the canonical embedding input: label, description and search
// terms in one passage.
func (c Candidate) Text() string {
	parts := []string{strings.TrimSpace(c.Label)}
	if d := strings.TrimSpace(c.Description); d != "" {
		parts = append(parts, d)
	}
	if len(c.SearchTerms) > 0 {
		parts = append(parts, strings.Join(c.SearchTerms, ", "))
	}
	return strings.Join(parts, ". ")
}

// Match is the outcome of one MatchOrCreate call.
type Match struct {
	ConceptID  string
	Reused     bool
	Similarity float64 // best-hit cosine when reused from the index
}

// Matcher routes candidates against one shared vector index. The
// per-ontology mutex serializes the read-create window so equal candidates
// in one ontology resolve identically even before the index reflects them.
type Matcher struct {
	graph   store.Graph
	index   *vector.Index
	logger  *zap.Logger
	metrics *observability.Collector

	base float64

	mu        sync.Mutex
	overrides map[string]float64
	locks     map[string]*sync.Mutex
}

func New(graph store.Graph, index *vector.Index, cfg config.Query, logger *zap.Logger, metrics *observability.Collector) *Matcher {
	base := cfg.DedupThreshold
	if base <= 0 {
		base = 0.80
	}
	return &Matcher{
		graph:     graph,
		index:     index,
		logger:    logger,
		metrics:   metrics,
		base:      base,
		overrides: make(map[string]float64),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Threshold reports the similarity floor for an ontology.
func (m *Matcher) Threshold(ontology string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.overrides[ontology]; ok {
		return v
	}
	return m.base
}

// SetThreshold overrides the floor for one ontology at runtime.
func (m *Matcher) SetThreshold(ontology string, v float64) error {
	if v <= 0 || v > 1 {
		return kgerrors.Validation("match threshold %v out of range (0, 1]", v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[ontology] = v
	return nil
}

// ClearThreshold restores the configured default for one ontology.
func (m *Matcher) ClearThreshold(ontology string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, ontology)
}

func (m *Matcher) lockFor(ontology string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[ontology]
	if !ok {
		l = &sync.Mutex{}
		m.locks[ontology] = l
	}
	return l
}

// MatchOrCreate resolves one candidate within an ontology.
func (m *Matcher) MatchOrCreate(ctx context.Context, cand Candidate, ontology string) (Match, error) {
	label := strings.TrimSpace(cand.Label)
	if label == "" {
		return Match{}, kgerrors.Validation("candidate label is empty")
	}
	if ontology == "" {
		return Match{}, kgerrors.Validation("ontology is required")
	}
	if len(cand.Embedding) == 0 {
		return Match{}, kgerrors.Validation("candidate %q has no embedding", label)
	}

	lock := m.lockFor(ontology)
	lock.Lock()
	defer lock.Unlock()

	threshold := m.Threshold(ontology)
	hits := m.index.Search(ontology, cand.Embedding, searchK)
	if len(hits) > 0 && hits[0].Similarity >= threshold {
		best := hits[0]
		if err := m.appendTerms(ctx, best.ID, cand.SearchTerms); err != nil {
			return Match{}, err
		}
		m.countReused()
		m.logger.Debug("concept reused",
			zap.String("ontology", ontology),
			zap.String("label", label),
			zap.String("concept_id", best.ID),
			zap.Float64("similarity", best.Similarity))
		return Match{ConceptID: best.ID, Reused: true, Similarity: best.Similarity}, nil
	}

	id := domain.NewConceptID(label, ontology)
	concept := &domain.Concept{
		ID:          id,
		Label:       label,
		Description: strings.TrimSpace(cand.Description),
		SearchTerms: cand.SearchTerms,
		Ontology:    ontology,
		Embedding:   cand.Embedding,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := m.graph.PutConcept(store.WithWriteIntent(ctx), concept)
	if err != nil {
		return Match{}, kgerrors.Wrap(err, "matcher.MatchOrCreate")
	}
	if !created {
		// Same label already in this ontology; the index just hadn't
		// caught up. Fold the terms in and report a reuse.
		if err := m.appendTerms(ctx, id, cand.SearchTerms); err != nil {
			return Match{}, err
		}
		m.countReused()
		return Match{ConceptID: id, Reused: true, Similarity: 1}, nil
	}

	m.index.Add(ontology, id, cand.Embedding)
	m.countCreated()
	m.logger.Debug("concept created",
		zap.String("ontology", ontology),
		zap.String("label", label),
		zap.String("concept_id", id))
	return Match{ConceptID: id}, nil
}

func (m *Matcher) appendTerms(ctx context.Context, id string, terms []string) error {
	if len(terms) == 0 {
		return nil
	}
	err := m.graph.MergeSearchTerms(store.WithWriteIntent(ctx), id, terms)
	if err != nil {
		return kgerrors.Wrap(err, "matcher.appendTerms")
	}
	return nil
}

func (m *Matcher) countReused() {
	if m.metrics != nil {
		m.metrics.ConceptsReused.Inc()
	}
}

func (m *Matcher) countCreated() {
	if m.metrics != nil {
		m.metrics.ConceptsCreated.Inc()
	}
}

// WarmIndex loads every stored embedding into the shared index. Called once
// at startup before workers or queries run.
func WarmIndex(ctx context.Context, graph store.Graph, index *vector.Index) (int, error) {
	vectors, err := graph.ListEmbeddings(ctx, "")
	if err != nil {
		return 0, kgerrors.Wrap(err, "matcher.WarmIndex")
	}
	for _, v := range vectors {
		index.Add(v.Ontology, v.ID, v.Embedding)
	}
	return len(vectors), nil
}
