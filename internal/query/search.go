package query

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/vector"
	"kgraph/pkg/api"
)

const (
	// evidenceSampleLimit caps the quote sample attached to a search hit.
	evidenceSampleLimit = 3
	// hintFloor is the loosest similarity a threshold hint will look under.
	hintFloor = 0.3
	// rrfK dampens rank influence in reciprocal-rank fusion.
	rrfK = 60
)

type scored struct {
	id    string
	score float64
}

// Search runs one query in semantic, keyword or hybrid mode. Hybrid fuses
// both rankings by reciprocal rank, so its scores order hits but are not
// similarities. An empty result is an answer, not an error; when a semantic
// search comes back nearly empty, near misses under the cutoff are reported
// as a threshold hint.
func (s *Service) Search(ctx context.Context, req api.SearchRequest) (*api.SearchResponse, error) {
	mode := req.Mode
	if mode == "" {
		mode = "semantic"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	minSim := req.MinSimilarity
	if minSim <= 0 {
		minSim = s.cfg.MinSimilarity
	}
	s.countSearch(mode)

	fetchK := limit + req.Offset
	var (
		ranked []scored
		hint   *api.ThresholdHint
	)
	switch mode {
	case "keyword":
		kw, err := s.keywordRanked(ctx, req.Ontology, req.Query, fetchK)
		if err != nil {
			return nil, err
		}
		ranked = kw
	case "hybrid":
		emb, err := s.embedQuery(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		raw := s.vectors.Search(req.Ontology, emb, fetchK)
		kw, err := s.keywordRanked(ctx, req.Ontology, req.Query, fetchK)
		if err != nil {
			return nil, err
		}
		ranked = fuseRRF(aboveThreshold(raw, minSim), kw)
		hint = s.thresholdHint(ctx, raw, minSim)
	default:
		emb, err := s.embedQuery(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		raw := s.vectors.Search(req.Ontology, emb, fetchK)
		ranked = aboveThreshold(raw, minSim)
		hint = s.thresholdHint(ctx, raw, minSim)
	}

	page := paginate(ranked, req.Offset, limit)
	hits, err := s.hydrateHits(ctx, page, req.IncludeGrounding, req.IncludeEvidence)
	if err != nil {
		return nil, err
	}
	if len(hits) >= 3 {
		hint = nil
	}
	return &api.SearchResponse{Query: req.Query, Mode: mode, Hits: hits, Hint: hint}, nil
}

// ConnectBySearch resolves both free-text queries to their best-matching
// concepts and finds paths between them. Both embeddings come from one
// provider call.
func (s *Service) ConnectBySearch(ctx context.Context, req api.ConnectBySearchRequest) (*api.ConnectBySearchResponse, error) {
	minSim := req.MinSimilarity
	if minSim <= 0 {
		minSim = s.cfg.MinSimilarity
	}
	embs, err := s.embedder.EmbedTexts(ctx, []string{req.FromQuery, req.ToQuery})
	if err != nil {
		return nil, err
	}
	if len(embs) != 2 {
		return nil, kgerrors.Provider(false, nil, "embedder returned %d vectors for two queries", len(embs))
	}

	fromConcept, fromScore, err := s.resolvePole(ctx, req.FromQuery, embs[0], req.Ontology, minSim)
	if err != nil {
		return nil, err
	}
	toConcept, toScore, err := s.resolvePole(ctx, req.ToQuery, embs[1], req.Ontology, minSim)
	if err != nil {
		return nil, err
	}

	resp := &api.ConnectBySearchResponse{
		FromMatch: &api.MatchedConcept{ID: fromConcept.ID, Label: fromConcept.Label, Score: round2(fromScore)},
		ToMatch:   &api.MatchedConcept{ID: toConcept.ID, Label: toConcept.Label, Score: round2(toScore)},
		Paths:     []api.PathView{},
	}
	if fromConcept.Ontology != toConcept.Ontology {
		resp.Message = "matched concepts are in different ontologies"
		return resp, nil
	}

	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = s.cfg.MaxHops
	}
	s.countPathQuery()
	paths, budget, err := s.paths.kshortest(ctx, fromConcept.ID, toConcept.ID, fromConcept.Ontology, req.Directed, req.K, maxHops)
	if err != nil {
		return nil, err
	}
	if budget {
		s.countPathBudget()
	}
	views, err := s.pathViews(ctx, paths)
	if err != nil {
		return nil, err
	}
	resp.Paths = views
	resp.BudgetExceeded = budget
	switch {
	case budget:
		resp.Message = "search budget exhausted before completion"
	case len(views) == 0:
		resp.Message = fmt.Sprintf("no path within %d hops", maxHops)
	}
	return resp, nil
}

// resolvePole picks the best vector match for one pole query. A near miss
// under the cutoff fails with enough detail to retry at a looser threshold.
func (s *Service) resolvePole(ctx context.Context, query string, emb []float32, ontology string, minSim float64) (*domain.Concept, float64, error) {
	raw := s.vectors.Search(ontology, emb, 5)
	if len(raw) == 0 {
		return nil, 0, kgerrors.NotFound("concept matching query", query)
	}
	best := raw[0]
	if best.Similarity < minSim {
		err := kgerrors.NotFound("concept matching query", query).
			WithDetail("best_score", round2(best.Similarity)).
			WithDetail("suggested_threshold", round2(best.Similarity-0.02))
		if c, cerr := s.graph.GetConcept(ctx, best.ID); cerr == nil {
			err = err.WithDetail("best_label", c.Label)
		}
		return nil, 0, err
	}
	c, err := s.graph.GetConcept(ctx, best.ID)
	if err != nil {
		return nil, 0, err
	}
	return c, best.Similarity, nil
}

// thresholdHint reports matches sitting in [hintFloor, minSim) when the
// requested cutoff is tighter than the floor.
func (s *Service) thresholdHint(ctx context.Context, raw []vector.Match, minSim float64) *api.ThresholdHint {
	if minSim <= hintFloor {
		return nil
	}
	var inBand []vector.Match
	for _, m := range raw {
		if m.Similarity < minSim && m.Similarity >= hintFloor {
			inBand = append(inBand, m)
		}
	}
	if len(inBand) == 0 {
		return nil
	}
	best := inBand[0]
	hint := &api.ThresholdHint{
		BelowThresholdCount: len(inBand),
		SuggestedThreshold:  round2(best.Similarity - 0.02),
		TopMatchScore:       round2(best.Similarity),
	}
	if c, err := s.graph.GetConcept(ctx, best.ID); err == nil {
		hint.TopMatchLabel = c.Label
	}
	return hint
}

// hydrateHits turns ranked ids into full hits. Per-hit enrichment failures
// degrade that hit instead of failing the search.
func (s *Service) hydrateHits(ctx context.Context, page []scored, includeGrounding, includeEvidence bool) ([]api.SearchHit, error) {
	ids := make([]string, 0, len(page))
	for _, sc := range page {
		ids = append(ids, sc.id)
	}
	concepts, err := s.graph.GetConcepts(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}

	hits := make([]api.SearchHit, 0, len(page))
	for _, sc := range page {
		c, ok := byID[sc.id]
		if !ok {
			// Index can briefly lead the store after deletes.
			continue
		}
		hit := api.SearchHit{
			ID:          c.ID,
			Label:       c.Label,
			Description: c.Description,
			Ontology:    c.Ontology,
			Score:       sc.score,
		}
		if n, err := s.graph.CountInstances(ctx, c.ID); err == nil {
			hit.EvidenceCount = n
		} else {
			s.logger.Debug("instance count failed", zap.String("concept_id", c.ID), zap.Error(err))
		}
		if includeGrounding {
			if g, err := s.grounding.Grounding(ctx, c.ID); err == nil {
				hit.Grounding = groundingView(g)
			} else {
				s.logger.Debug("grounding failed", zap.String("concept_id", c.ID), zap.Error(err))
			}
		}
		if includeEvidence {
			if evs, err := s.instanceViews(ctx, c.ID, evidenceSampleLimit); err == nil {
				hit.Evidence = evs
				hit.Documents = uniqueDocuments(evs)
			} else {
				s.logger.Debug("evidence sample failed", zap.String("concept_id", c.ID), zap.Error(err))
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Service) keywordRanked(ctx context.Context, ontology, queryStr string, k int) ([]scored, error) {
	hits, err := s.keywords.Search(ctx, ontology, queryStr, k)
	if err != nil {
		return nil, kgerrors.Wrap(err, "keyword search")
	}
	out := make([]scored, 0, len(hits))
	for _, h := range hits {
		out = append(out, scored{id: h.ID, score: h.Score})
	}
	return out, nil
}

func (s *Service) embedQuery(ctx context.Context, q string) ([]float32, error) {
	embs, err := s.embedder.EmbedTexts(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	if len(embs) != 1 {
		return nil, kgerrors.Provider(false, nil, "embedder returned %d vectors for one query", len(embs))
	}
	return embs[0], nil
}

// fuseRRF merges rankings by reciprocal rank: each list contributes
// 1/(rrfK + rank) per id.
func fuseRRF(lists ...[]scored) []scored {
	fused := make(map[string]float64)
	for _, list := range lists {
		for i, sc := range list {
			fused[sc.id] += 1.0 / float64(rrfK+i+1)
		}
	}
	out := make([]scored, 0, len(fused))
	for id, score := range fused {
		out = append(out, scored{id: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

func aboveThreshold(raw []vector.Match, minSim float64) []scored {
	out := make([]scored, 0, len(raw))
	for _, m := range raw {
		if m.Similarity >= minSim {
			out = append(out, scored{id: m.ID, score: m.Similarity})
		}
	}
	return out
}

func paginate(ranked []scored, offset, limit int) []scored {
	if offset >= len(ranked) {
		return nil
	}
	end := offset + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[offset:end]
}

func uniqueDocuments(evs []api.InstanceView) []string {
	seen := make(map[string]struct{}, len(evs))
	var docs []string
	for _, ev := range evs {
		if ev.DocumentID == "" {
			continue
		}
		if _, ok := seen[ev.DocumentID]; ok {
			continue
		}
		seen[ev.DocumentID] = struct{}{}
		docs = append(docs, ev.DocumentID)
	}
	return docs
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
