package vocab

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/internal/vector"
)

// Verdict is an adjudicator's decision on one candidate pair.
type Verdict struct {
	Merge  bool
	Source string
	Target string
	Reason string
}

// Adjudicator decides whether two similar vocabulary types are true
// synonyms. Directional inverses and genuine semantic distinctions must be
// rejected.
type Adjudicator interface {
	Adjudicate(ctx context.Context, a, b domain.VocabularyType) (Verdict, error)
}

// LLMAdjudicator asks a chat model to rule on candidate pairs.
type LLMAdjudicator struct {
	chat    provider.Chat
	timeout time.Duration
	logger  *zap.Logger
}

func NewLLMAdjudicator(chat provider.Chat, cfg config.LLM, logger *zap.Logger) *LLMAdjudicator {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMAdjudicator{chat: chat, timeout: timeout, logger: logger}
}

const adjudicatorSystemPrompt = `You curate the relationship-type vocabulary of a knowledge graph.
You are shown two relationship types that embed close together. Decide whether
they are true synonyms, in which case the less established one merges into the
other.

Rules:
- Directional inverses (such as CAUSES vs CAUSED_BY, CONTAINS vs PART_OF) must
  never merge: respond REJECT with reason "directional-inverse".
- Types that draw a real semantic distinction (such as CAUSES vs INFLUENCES)
  must never merge: respond REJECT with reason "semantic-distinction".
- When merging, source and target must be the two names shown, with the
  better-established type as target.

Respond with exactly one JSON object, no additional text:
{"action":"MERGE","source":"...","target":"...","reason":"..."}
or
{"action":"REJECT","reason":"directional-inverse"}
or
{"action":"REJECT","reason":"semantic-distinction"}`

func (a *LLMAdjudicator) Adjudicate(ctx context.Context, x, y domain.VocabularyType) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.chat.Complete(ctx, provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: adjudicatorSystemPrompt},
			{Role: "user", Content: describePair(x, y)},
		},
		ForceJSON: true,
	})
	if err != nil {
		return Verdict{}, err
	}
	verdict, err := parseVerdict(resp.Content, x.Name, y.Name)
	if err != nil {
		a.logger.Warn("unusable adjudicator response", zap.Error(err))
		return Verdict{}, err
	}
	return verdict, nil
}

func describePair(x, y domain.VocabularyType) string {
	var b strings.Builder
	for i, t := range []domain.VocabularyType{x, y} {
		fmt.Fprintf(&b, "Type %d: %s", i+1, t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, " — %s", t.Description)
		}
		fmt.Fprintf(&b, " (category %s", t.Category)
		if t.Builtin {
			b.WriteString(", builtin")
		}
		fmt.Fprintf(&b, ", used %d times)\n", t.UsageCount)
	}
	return b.String()
}

func parseVerdict(raw, nameX, nameY string) (Verdict, error) {
	var wire struct {
		Action string `json:"action"`
		Source string `json:"source"`
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return Verdict{}, kgerrors.Validation("adjudicator returned invalid JSON: %v", err)
	}
	switch strings.ToUpper(strings.TrimSpace(wire.Action)) {
	case "MERGE":
		source := domain.NormalizeTypeName(wire.Source)
		target := domain.NormalizeTypeName(wire.Target)
		if !(source == nameX && target == nameY) && !(source == nameY && target == nameX) {
			return Verdict{}, kgerrors.Validation("adjudicator named %q -> %q, expected %s / %s",
				wire.Source, wire.Target, nameX, nameY)
		}
		return Verdict{Merge: true, Source: source, Target: target, Reason: wire.Reason}, nil
	case "REJECT":
		return Verdict{Reason: wire.Reason}, nil
	default:
		return Verdict{}, kgerrors.Validation("adjudicator action %q is not MERGE or REJECT", wire.Action)
	}
}

// Options tunes one consolidation run.
type Options struct {
	TargetSize int     // stop once the active count is at or below this; 0 runs to pair exhaustion
	Threshold  float64 // candidate-pair cosine floor; 0 uses the configured default
	DryRun     bool    // plan only, mutate nothing
	MaxPairs   int     // dry-run evaluation budget; 0 means 10
}

// Decision records the outcome for one evaluated pair.
type Decision struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Similarity float64 `json:"similarity"`
	Action     string  `json:"action"` // merged | planned | rejected | failed
	Reason     string  `json:"reason,omitempty"`
	EdgesMoved int     `json:"edges_moved,omitempty"`
}

// Report summarizes one consolidation run.
type Report struct {
	DryRun      bool       `json:"dry_run"`
	StartActive int        `json:"start_active"`
	EndActive   int        `json:"end_active"`
	Pairs       int        `json:"candidate_pairs"`
	Decisions   []Decision `json:"decisions"`
	Merged      int        `json:"merged"`
}

// Consolidator shrinks the vocabulary by merging synonym pairs under
// adjudication. Rejected pairs are remembered for the life of the process so
// repeated runs do not re-ask settled questions.
type Consolidator struct {
	manager     *Manager
	adjudicator Adjudicator
	logger      *zap.Logger

	mu       sync.Mutex
	rejected map[pairKey]string
}

type pairKey struct{ low, high string }

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{low: a, high: b}
}

func NewConsolidator(manager *Manager, adjudicator Adjudicator, logger *zap.Logger) *Consolidator {
	return &Consolidator{
		manager:     manager,
		adjudicator: adjudicator,
		logger:      logger,
		rejected:    make(map[pairKey]string),
	}
}

// Run evaluates candidate pairs most-similar first until the target size is
// reached or candidates run out.
func (c *Consolidator) Run(ctx context.Context, opts Options) (*Report, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = c.manager.config.ConsolidationThreshold
	}
	maxPairs := opts.MaxPairs
	if maxPairs <= 0 {
		maxPairs = 10
	}

	pairs := c.manager.similarPairs(threshold)
	report := &Report{
		DryRun:      opts.DryRun,
		StartActive: c.manager.Status().ActiveCount,
		Pairs:       len(pairs),
	}

	evaluated := 0
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			report.EndActive = c.manager.Status().ActiveCount
			return report, kgerrors.Cancelled("vocab.Consolidate")
		}
		if opts.DryRun && evaluated >= maxPairs {
			break
		}
		if !opts.DryRun && opts.TargetSize > 0 && c.manager.Status().ActiveCount <= opts.TargetSize {
			break
		}
		if reason, ok := c.rejectedReason(p.A, p.B); ok {
			c.logger.Debug("pair already rejected",
				zap.String("a", p.A), zap.String("b", p.B), zap.String("reason", reason))
			continue
		}
		a, okA := c.manager.Get(p.A)
		b, okB := c.manager.Get(p.B)
		if !okA || !okB || !a.Active || !b.Active {
			continue // consumed by an earlier merge in this run
		}

		evaluated++
		verdict, err := c.adjudicator.Adjudicate(ctx, a, b)
		if err != nil {
			// Not remembered: a later run may get a usable answer.
			report.Decisions = append(report.Decisions, Decision{
				Source: p.A, Target: p.B, Similarity: p.Similarity,
				Action: "failed", Reason: err.Error(),
			})
			if kgerrors.KindOf(err) == kgerrors.KindCancelled {
				report.EndActive = c.manager.Status().ActiveCount
				return report, err
			}
			continue
		}

		if !verdict.Merge {
			c.remember(p.A, p.B, verdict.Reason)
			report.Decisions = append(report.Decisions, Decision{
				Source: p.A, Target: p.B, Similarity: p.Similarity,
				Action: "rejected", Reason: verdict.Reason,
			})
			continue
		}

		if opts.DryRun {
			report.Decisions = append(report.Decisions, Decision{
				Source: verdict.Source, Target: verdict.Target, Similarity: p.Similarity,
				Action: "planned", Reason: verdict.Reason,
			})
			continue
		}

		moved, err := c.manager.merge(ctx, verdict.Source, verdict.Target, verdict.Reason)
		if err != nil {
			report.Decisions = append(report.Decisions, Decision{
				Source: verdict.Source, Target: verdict.Target, Similarity: p.Similarity,
				Action: "failed", Reason: err.Error(),
			})
			continue
		}
		report.Merged++
		report.Decisions = append(report.Decisions, Decision{
			Source: verdict.Source, Target: verdict.Target, Similarity: p.Similarity,
			Action: "merged", Reason: verdict.Reason, EdgesMoved: moved,
		})
	}

	report.EndActive = c.manager.Status().ActiveCount
	c.logger.Info("consolidation run finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("candidate_pairs", report.Pairs),
		zap.Int("merged", report.Merged),
		zap.Int("active", report.EndActive))
	return report, nil
}

func (c *Consolidator) rejectedReason(a, b string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason, ok := c.rejected[keyFor(a, b)]
	return reason, ok
}

func (c *Consolidator) remember(a, b, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected[keyFor(a, b)] = reason
}

// typePair is one consolidation candidate, names in sorted order.
type typePair struct {
	A, B       string
	Similarity float64
}

// similarPairs returns active non-builtin pairs at or above the cosine
// threshold, most similar first.
func (m *Manager) similarPairs(threshold float64) []typePair {
	m.mu.RLock()
	names := make([]string, 0, len(m.types))
	embeddings := make(map[string][]float32, len(m.types))
	for name, t := range m.types {
		if !t.Active || t.Builtin || len(t.Embedding) == 0 {
			continue
		}
		names = append(names, name)
		embeddings[name] = t.Embedding
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var pairs []typePair
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			sim := vector.Cosine(embeddings[names[i]], embeddings[names[j]])
			if sim >= threshold {
				pairs = append(pairs, typePair{A: names[i], B: names[j], Similarity: sim})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })
	return pairs
}

// Merge folds source into target by hand, outside a consolidation run.
func (m *Manager) Merge(ctx context.Context, source, target, reason string) (int, error) {
	return m.merge(ctx, domain.NormalizeTypeName(source), domain.NormalizeTypeName(target), reason)
}

// merge re-types every source edge onto target, deactivates source and
// records the action on both sides. Edge payloads and direction are
// untouched; only the type name changes.
func (m *Manager) merge(ctx context.Context, source, target, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.types[source]
	if !ok {
		return 0, kgerrors.NotFound("vocabulary type", source)
	}
	tgt, ok := m.types[target]
	if !ok {
		return 0, kgerrors.NotFound("vocabulary type", target)
	}
	if source == target {
		return 0, kgerrors.Validation("cannot merge %s into itself", source)
	}
	if !src.Active {
		return 0, kgerrors.Conflict("type %s is not active", source)
	}
	if !tgt.Active {
		return 0, kgerrors.Conflict("merge target %s is not active", target)
	}
	if src.Builtin && !m.config.AllowDeactivateBuiltin {
		return 0, kgerrors.Conflict("builtin type %s cannot be merged away", source)
	}

	moved, err := m.graph.RetypeEdges(store.WithWriteIntent(ctx), source, target)
	if err != nil {
		return 0, kgerrors.Wrap(err, "vocab.merge")
	}

	now := time.Now().UTC()
	src.Active = false
	src.MergedInto = target
	src.Record("merged_into", fmt.Sprintf("%s: %s", target, reason), now)
	tgt.UsageCount += src.UsageCount
	tgt.Record("retyped_target", fmt.Sprintf("absorbed %s (%d edges)", source, moved), now)
	if err := m.persistLocked(ctx, src); err != nil {
		return moved, err
	}
	if err := m.persistLocked(ctx, tgt); err != nil {
		return moved, err
	}

	if m.metrics != nil {
		m.metrics.VocabMerges.Inc()
	}
	m.setActiveGauge(m.activeCountLocked())
	m.logger.Info("merged vocabulary type",
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("edges_moved", moved),
		zap.String("reason", reason))
	return moved, nil
}
