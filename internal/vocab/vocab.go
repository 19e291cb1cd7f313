// Package vocab manages the relationship-type vocabulary: the builtin seed,
// auto-expansion of extractor-emitted names, zone reporting and
// embedding-similarity consolidation.
//
// A single RWMutex guards the in-memory type set. Edge creation resolves
// type names under the read lock; creating a type, counting usage and
// consolidating take the write lock. Embedding calls never happen under
// either lock.
package vocab

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/internal/vector"
)

// categorySeedPhrases are embedded once and scored against new-type
// embeddings to auto-categorize expansions.
var categorySeedPhrases = map[string]string{
	domain.CategoryLogical:    "logical implication, entailment, contradiction and equivalence between statements",
	domain.CategoryCausal:     "one thing causing, enabling, preventing or influencing another",
	domain.CategoryStructural: "part-whole composition, containment and membership structure",
	domain.CategoryEvidential: "evidence that supports, refutes, illustrates or measures a claim",
	domain.CategorySimilarity: "similarity, analogy, contrast and opposition between concepts",
	domain.CategoryTemporal:   "temporal ordering, concurrency and development over time",
	domain.CategoryFunctional: "purpose, requirement, production and regulation in a process",
	domain.CategoryMeta:       "definition, naming and classification of a concept",
}

// Resolution is the outcome of resolving one emitted type name.
type Resolution struct {
	Name    string // canonical active type the edge should use
	Created bool   // a new vocabulary type was created
	Routed  bool   // the emission landed on a type with a different name
}

// Manager owns the vocabulary. Construct with NewManager, then call Load
// before first use.
type Manager struct {
	graph    store.Graph
	embedder provider.Embedder
	config   config.Vocab
	logger   *zap.Logger
	metrics  *observability.Collector

	mu    sync.RWMutex
	types map[string]*domain.VocabularyType

	catMu    sync.Mutex
	catSeeds map[string][]float32
}

func NewManager(graph store.Graph, embedder provider.Embedder, cfg config.Vocab, logger *zap.Logger, metrics *observability.Collector) *Manager {
	if cfg.ExpandEditDistance <= 0 {
		cfg.ExpandEditDistance = 2
	}
	if cfg.ExpandCosine <= 0 {
		cfg.ExpandCosine = 0.92
	}
	if cfg.AmbiguityRatio <= 0 {
		cfg.AmbiguityRatio = 0.8
	}
	if cfg.ConsolidationThreshold <= 0 {
		cfg.ConsolidationThreshold = 0.85
	}
	return &Manager{
		graph:    graph,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		types:    make(map[string]*domain.VocabularyType),
	}
}

// Load reads the persisted vocabulary and seeds any missing builtin types.
// Safe to call again; it re-reads the store.
func (m *Manager) Load(ctx context.Context) error {
	existing, err := m.graph.ListVocabulary(ctx)
	if err != nil {
		return kgerrors.Wrap(err, "vocab.Load")
	}
	types := make(map[string]*domain.VocabularyType, len(existing)+32)
	for _, t := range existing {
		types[t.Name] = t
	}

	wctx := store.WithWriteIntent(ctx)
	seeded := 0
	for _, b := range domain.BuiltinTypes(time.Now().UTC()) {
		if _, ok := types[b.Name]; ok {
			continue
		}
		t := b
		if err := m.graph.PutVocabularyType(wctx, &t); err != nil {
			return kgerrors.Wrap(err, "vocab.Load")
		}
		types[t.Name] = &t
		seeded++
	}
	if seeded > 0 {
		m.logger.Info("seeded builtin vocabulary types", zap.Int("count", seeded))
	}

	m.mu.Lock()
	m.types = types
	active := m.activeCountLocked()
	m.mu.Unlock()
	m.setActiveGauge(active)
	return nil
}

func (m *Manager) setActiveGauge(n int) {
	if m.metrics != nil {
		m.metrics.VocabActiveTypes.Set(float64(n))
	}
}

// Resolve maps an extractor-emitted type name to an active vocabulary type,
// expanding the vocabulary when nothing existing fits. The resolved type's
// usage count is incremented.
func (m *Manager) Resolve(ctx context.Context, raw string) (Resolution, error) {
	norm := domain.NormalizeTypeName(raw)
	if norm == "" {
		return Resolution{}, kgerrors.Validation("unusable relationship type name %q", raw)
	}

	m.mu.RLock()
	if t, ok := m.types[norm]; ok && t.Active {
		m.mu.RUnlock()
		m.bumpUsage(ctx, norm)
		return Resolution{Name: norm}, nil
	}
	// A previously merged name may be emitted again; follow the chain.
	if target, ok := m.mergeTargetLocked(norm); ok {
		m.mu.RUnlock()
		m.bumpUsage(ctx, target)
		return Resolution{Name: target, Routed: true}, nil
	}
	names, embedded := m.activeSnapshotLocked()
	m.mu.RUnlock()

	if best, dist := nearestByEdit(norm, names); dist <= m.config.ExpandEditDistance {
		m.logger.Debug("routed type by edit distance",
			zap.String("emitted", norm), zap.String("type", best), zap.Int("distance", dist))
		m.bumpUsage(ctx, best)
		return Resolution{Name: best, Routed: true}, nil
	}

	emb, embErr := m.embedType(ctx, norm, "")
	if embErr != nil {
		if ctx.Err() != nil {
			return Resolution{}, kgerrors.Cancelled("vocab.Resolve")
		}
		m.logger.Warn("type embedding unavailable, creating unscored type",
			zap.String("type", norm), zap.Error(embErr))
	} else if best, sim := nearestByCosine(emb, embedded); sim >= m.config.ExpandCosine {
		m.logger.Debug("routed type by embedding similarity",
			zap.String("emitted", norm), zap.String("type", best), zap.Float64("similarity", sim))
		m.bumpUsage(ctx, best)
		return Resolution{Name: best, Routed: true}, nil
	}

	category, ambiguous := m.categorize(ctx, emb)
	return m.createType(ctx, norm, raw, emb, category, ambiguous)
}

// mergeTargetLocked follows merged_into links from an inactive name to an
// active type. Caller holds at least the read lock.
func (m *Manager) mergeTargetLocked(name string) (string, bool) {
	seen := map[string]bool{}
	for {
		t, ok := m.types[name]
		if !ok || seen[name] {
			return "", false
		}
		if t.Active {
			return name, true
		}
		if t.MergedInto == "" {
			return "", false
		}
		seen[name] = true
		name = t.MergedInto
	}
}

func (m *Manager) activeSnapshotLocked() (names []string, embedded map[string][]float32) {
	embedded = make(map[string][]float32)
	for name, t := range m.types {
		if !t.Active {
			continue
		}
		names = append(names, name)
		if len(t.Embedding) > 0 {
			embedded[name] = t.Embedding
		}
	}
	sort.Strings(names)
	return names, embedded
}

func (m *Manager) createType(ctx context.Context, name, raw string, emb []float32, category string, ambiguous bool) (Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another worker may have created it while we were embedding.
	if t, ok := m.types[name]; ok {
		if t.Active {
			t.UsageCount++
			m.persistLocked(ctx, t)
			return Resolution{Name: name}, nil
		}
		if t.MergedInto == "" {
			// Deactivated without a merge target: bring it back rather
			// than shadowing it with a duplicate record.
			now := time.Now().UTC()
			t.Active = true
			t.UsageCount++
			t.Record("reactivated", fmt.Sprintf("re-emitted as %q", raw), now)
			if err := m.persistLocked(ctx, t); err != nil {
				return Resolution{}, err
			}
			m.setActiveGauge(m.activeCountLocked())
			m.logger.Info("reactivated vocabulary type", zap.String("type", name))
			return Resolution{Name: name, Routed: true}, nil
		}
	}

	now := time.Now().UTC()
	t := &domain.VocabularyType{
		Name:        name,
		Description: descriptionFor(name),
		Active:      true,
		Builtin:     false,
		Category:    category,
		Ambiguous:   ambiguous,
		Direction:   domain.DirectionOutward,
		Embedding:   emb,
		UsageCount:  1,
		CreatedAt:   now,
	}
	t.Record("created", fmt.Sprintf("expanded from %q", raw), now)
	if err := m.persistLocked(ctx, t); err != nil {
		return Resolution{}, err
	}
	m.types[name] = t
	if m.metrics != nil {
		m.metrics.TypesCreated.Inc()
	}
	m.setActiveGauge(m.activeCountLocked())
	m.logger.Info("created vocabulary type",
		zap.String("type", name),
		zap.String("category", category),
		zap.Bool("ambiguous", ambiguous))
	return Resolution{Name: name, Created: true}, nil
}

func (m *Manager) bumpUsage(ctx context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[name]
	if !ok {
		return
	}
	t.UsageCount++
	m.persistLocked(ctx, t)
}

// persistLocked writes a type through to the store. Usage-count noise is
// logged, not surfaced; callers that must see the error check the return.
func (m *Manager) persistLocked(ctx context.Context, t *domain.VocabularyType) error {
	err := m.graph.PutVocabularyType(store.WithWriteIntent(ctx), t)
	if err != nil {
		m.logger.Warn("vocabulary write failed", zap.String("type", t.Name), zap.Error(err))
	}
	return err
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, t := range m.types {
		if t.Active {
			n++
		}
	}
	return n
}

// ActiveNames returns the sorted active type names, for prompt building.
func (m *Manager) ActiveNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.types))
	for name, t := range m.types {
		if t.Active {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of one type.
func (m *Manager) Get(name string) (domain.VocabularyType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[domain.NormalizeTypeName(name)]
	if !ok {
		return domain.VocabularyType{}, false
	}
	return *t, true
}

// List returns copies of all types sorted by name, inactive ones included
// only on request.
func (m *Manager) List(includeInactive bool) []domain.VocabularyType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.VocabularyType, 0, len(m.types))
	for _, t := range m.types {
		if !t.Active && !includeInactive {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status summarizes the vocabulary for operators and the scheduler.
type Status struct {
	ActiveCount   int            `json:"active_count"`
	TotalCount    int            `json:"total_count"`
	BuiltinActive int            `json:"builtin_active"`
	CreatedActive int            `json:"created_active"`
	Zone          domain.Zone    `json:"zone"`
	Note          string         `json:"note,omitempty"`
	ByCategory    map[string]int `json:"by_category"`
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{ByCategory: make(map[string]int)}
	for _, t := range m.types {
		s.TotalCount++
		if !t.Active {
			continue
		}
		s.ActiveCount++
		if t.Builtin {
			s.BuiltinActive++
		} else {
			s.CreatedActive++
		}
		s.ByCategory[t.Category]++
	}
	s.Zone = domain.ZoneFor(s.ActiveCount)
	if s.ActiveCount < 30 {
		s.Note = "active set is below the builtin seed size"
	}
	return s
}

// GenerateEmbeddings backfills embeddings for types that lack one and
// returns how many were updated. Category seed vectors are warmed as a side
// effect.
func (m *Manager) GenerateEmbeddings(ctx context.Context) (int, error) {
	if err := m.ensureCategorySeeds(ctx); err != nil {
		return 0, err
	}

	m.mu.RLock()
	var missing []domain.VocabularyType
	for _, t := range m.types {
		if len(t.Embedding) == 0 {
			missing = append(missing, *t)
		}
	}
	m.mu.RUnlock()
	if len(missing) == 0 {
		return 0, nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Name < missing[j].Name })

	texts := make([]string, len(missing))
	for i, t := range missing {
		texts[i] = typePhrase(t.Name, t.Description)
	}
	vecs, err := m.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, kgerrors.Wrap(err, "vocab.GenerateEmbeddings")
	}
	if len(vecs) != len(texts) {
		return 0, kgerrors.Internal(nil, "embedder returned %d vectors for %d types", len(vecs), len(texts))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for i, mt := range missing {
		t, ok := m.types[mt.Name]
		if !ok || len(t.Embedding) > 0 {
			continue
		}
		t.Embedding = vecs[i]
		if t.Category == domain.CategoryLLMGenerated {
			// Scoring was skipped at creation time; do it now.
			if cat, amb := scoreCategory(vecs[i], m.catSeeds, m.config.AmbiguityRatio); cat != "" {
				t.Category = cat
				t.Ambiguous = amb
			}
		}
		if err := m.persistLocked(ctx, t); err != nil {
			return updated, err
		}
		updated++
	}
	m.logger.Info("generated vocabulary embeddings", zap.Int("updated", updated))
	return updated, nil
}

// embedType embeds one type name (plus optional description) as a lowercase
// phrase.
func (m *Manager) embedType(ctx context.Context, name, description string) ([]float32, error) {
	vecs, err := m.embedder.EmbedTexts(ctx, []string{typePhrase(name, description)})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, kgerrors.Internal(nil, "embedder returned %d vectors for one type", len(vecs))
	}
	return vecs[0], nil
}

// categorize scores an embedding against the category seeds. A nil
// embedding, or seeds that cannot be built, yield CategoryLLMGenerated.
func (m *Manager) categorize(ctx context.Context, emb []float32) (string, bool) {
	if len(emb) == 0 {
		return domain.CategoryLLMGenerated, false
	}
	if err := m.ensureCategorySeeds(ctx); err != nil {
		m.logger.Warn("category seeds unavailable", zap.Error(err))
		return domain.CategoryLLMGenerated, false
	}
	m.catMu.Lock()
	seeds := m.catSeeds
	m.catMu.Unlock()
	if cat, amb := scoreCategory(emb, seeds, m.config.AmbiguityRatio); cat != "" {
		return cat, amb
	}
	return domain.CategoryLLMGenerated, false
}

func (m *Manager) ensureCategorySeeds(ctx context.Context) error {
	m.catMu.Lock()
	defer m.catMu.Unlock()
	if m.catSeeds != nil {
		return nil
	}
	texts := make([]string, len(domain.Categories))
	for i, cat := range domain.Categories {
		texts[i] = categorySeedPhrases[cat]
	}
	vecs, err := m.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return kgerrors.Wrap(err, "vocab.categorySeeds")
	}
	if len(vecs) != len(texts) {
		return kgerrors.Internal(nil, "embedder returned %d vectors for %d categories", len(vecs), len(texts))
	}
	seeds := make(map[string][]float32, len(domain.Categories))
	for i, cat := range domain.Categories {
		seeds[cat] = vecs[i]
	}
	m.catSeeds = seeds
	return nil
}

// scoreCategory returns the argmax category and whether the runner-up came
// within ratio of the winner. Empty category means no seeds were usable.
func scoreCategory(emb []float32, seeds map[string][]float32, ratio float64) (string, bool) {
	best, second := "", 0.0
	bestSim := -2.0
	for _, cat := range domain.Categories {
		seed, ok := seeds[cat]
		if !ok {
			continue
		}
		sim := vector.Cosine(emb, seed)
		if sim > bestSim {
			second = bestSim
			bestSim = sim
			best = cat
		} else if sim > second {
			second = sim
		}
	}
	if best == "" {
		return "", false
	}
	ambiguous := bestSim > 0 && second >= ratio*bestSim
	return best, ambiguous
}

// typePhrase renders a type as embeddable prose: "causes: A brings about B".
func typePhrase(name, description string) string {
	phrase := strings.ToLower(strings.ReplaceAll(name, "_", " "))
	if description != "" {
		return phrase + ": " + description
	}
	return phrase
}

// descriptionFor synthesizes a readable gloss for an auto-created type.
func descriptionFor(name string) string {
	return "A " + strings.ToLower(strings.ReplaceAll(name, "_", " ")) + " B"
}

// nearestByEdit returns the active name with the smallest edit distance,
// ties broken lexicographically (names arrives sorted).
func nearestByEdit(name string, names []string) (string, int) {
	best, bestDist := "", int(^uint(0)>>1)
	for _, candidate := range names {
		if d := editDistance(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best, bestDist
}

func nearestByCosine(emb []float32, embedded map[string][]float32) (string, float64) {
	best, bestSim := "", -2.0
	for name, candidate := range embedded {
		sim := vector.Cosine(emb, candidate)
		if sim > bestSim || (sim == bestSim && name < best) {
			best, bestSim = name, sim
		}
	}
	return best, bestSim
}

// editDistance is the classic two-row Levenshtein over bytes; type names
// are ASCII after normalization.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
