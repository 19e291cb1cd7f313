// Package query implements the read side of the graph: concept search,
// details and neighborhoods, bidirectional pathfinding, grounding scores and
// polarity-axis projection. Every operation is read-only; results are
// returned as wire views so handlers and the CLI share one shape.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/index"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/internal/vector"
	"kgraph/pkg/api"
)

// detailInstanceLimit caps the instance sample on concept details.
const detailInstanceLimit = 10

var tracer = otel.Tracer("kgraph/internal/query")

// Service answers graph queries. Construct with NewService.
type Service struct {
	graph    store.Graph
	vectors  *vector.Index
	keywords *index.Keyword
	embedder provider.Embedder
	cfg      config.Query
	logger   *zap.Logger
	metrics  *observability.Collector

	grounding *groundingCalc
	paths     *pathfinder
}

func NewService(graph store.Graph, vectors *vector.Index, keywords *index.Keyword, embedder provider.Embedder, cfg config.Query, logger *zap.Logger, metrics *observability.Collector) *Service {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.25
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 5
	}
	if cfg.MinMagnitude <= 0 {
		cfg.MinMagnitude = 0.3
	}
	if cfg.PathTimeout <= 0 {
		cfg.PathTimeout = 30 * time.Second
	}
	if cfg.FrontierCap <= 0 {
		cfg.FrontierCap = 5000
	}
	if cfg.NeighborTimeout <= 0 {
		cfg.NeighborTimeout = 10 * time.Second
	}
	if cfg.PolarityTimeout <= 0 {
		cfg.PolarityTimeout = 60 * time.Second
	}
	return &Service{
		graph:     graph,
		vectors:   vectors,
		keywords:  keywords,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		grounding: newGroundingCalc(graph, cfg.GroundingEpsilon, cfg.GroundingCacheSize, metrics),
		paths:     newPathfinder(graph, cfg.MaxHops, cfg.PathTimeout, cfg.FrontierCap, cfg.NeighborTimeout),
	}
}

// InvalidateGrounding drops all cached grounding scores. Call after any
// write that can change edges or their evidence.
func (s *Service) InvalidateGrounding() {
	s.grounding.Bump()
}

// Details returns a concept with its instance sample, per-type edge counts
// and grounding score.
func (s *Service) Details(ctx context.Context, id string) (*api.ConceptDetails, error) {
	c, err := s.graph.GetConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.graph.CountInstances(ctx, id)
	if err != nil {
		return nil, err
	}
	edges, err := s.graph.EdgesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	edgeCounts := make(map[string]int, len(edges))
	for _, e := range edges {
		edgeCounts[e.Type]++
	}
	instances, err := s.instanceViews(ctx, id, detailInstanceLimit)
	if err != nil {
		return nil, err
	}
	g := scoreEdges(edges, s.grounding.epsilon)
	return &api.ConceptDetails{
		ID:            c.ID,
		Label:         c.Label,
		Description:   c.Description,
		SearchTerms:   c.SearchTerms,
		Ontology:      c.Ontology,
		CreatedAt:     c.CreatedAt,
		InstanceCount: count,
		EdgeCounts:    edgeCounts,
		Instances:     instances,
		Grounding:     groundingView(g),
	}, nil
}

// Related returns the concept's direct neighbors grouped by relationship
// type, optionally restricted to one edge orientation.
func (s *Service) Related(ctx context.Context, id, direction string) (*api.RelatedResponse, error) {
	c, err := s.graph.GetConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	dir := domain.DirectionEither
	if direction != "" {
		dir = domain.Direction(direction)
	}

	nctx, cancel := context.WithTimeout(ctx, s.cfg.NeighborTimeout)
	defer cancel()
	adj, err := s.graph.Neighbors(nctx, []string{id}, c.Ontology)
	if err != nil {
		return nil, kgerrors.Wrap(err, "related")
	}

	type edgeRef struct {
		neighborID string
		direction  string
		confidence float64
	}
	byType := make(map[string][]edgeRef)
	idset := make(map[string]struct{})
	for _, a := range adj {
		if a.NeighborID == id {
			continue
		}
		edgeDir := "out"
		if a.ToID == id {
			edgeDir = "in"
		}
		if dir == domain.DirectionOut && a.FromID != id {
			continue
		}
		if dir == domain.DirectionIn && a.ToID != id {
			continue
		}
		byType[a.Type] = append(byType[a.Type], edgeRef{neighborID: a.NeighborID, direction: edgeDir, confidence: a.Confidence})
		idset[a.NeighborID] = struct{}{}
	}

	labels, err := s.labels(ctx, idset)
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	groups := make([]api.NeighborGroup, 0, len(types))
	for _, t := range types {
		refs := byType[t]
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].confidence != refs[j].confidence {
				return refs[i].confidence > refs[j].confidence
			}
			return refs[i].neighborID < refs[j].neighborID
		})
		g := api.NeighborGroup{Type: t}
		for _, r := range refs {
			g.Neighbors = append(g.Neighbors, api.NeighborView{
				ID:         r.neighborID,
				Label:      labels[r.neighborID],
				Direction:  r.direction,
				Confidence: r.confidence,
			})
		}
		groups = append(groups, g)
	}
	return &api.RelatedResponse{ID: c.ID, Label: c.Label, Groups: groups}, nil
}

// Connect finds up to k shortest paths between two concepts. Budget
// exhaustion is reported in the response, not as an error.
func (s *Service) Connect(ctx context.Context, from, to string, maxHops, k int, directed bool) (*api.ConnectResponse, error) {
	ctx, span := tracer.Start(ctx, "query.Connect", trace.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.Int("max_hops", maxHops),
	))
	defer span.End()

	concepts, err := s.graph.GetConcepts(ctx, []string{from, to})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}
	src, ok := byID[from]
	if !ok {
		return nil, kgerrors.NotFound("concept", from)
	}
	dst, ok := byID[to]
	if !ok {
		return nil, kgerrors.NotFound("concept", to)
	}
	resp := &api.ConnectResponse{From: from, To: to, Paths: []api.PathView{}}
	if src.Ontology != dst.Ontology {
		resp.Message = "concepts are in different ontologies"
		return resp, nil
	}

	if maxHops <= 0 {
		maxHops = s.cfg.MaxHops
	}
	s.countPathQuery()
	paths, budget, err := s.paths.kshortest(ctx, from, to, src.Ontology, directed, k, maxHops)
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

// pathViews hydrates raw paths with concept labels.
func (s *Service) pathViews(ctx context.Context, paths []rawPath) ([]api.PathView, error) {
	idset := make(map[string]struct{})
	for _, p := range paths {
		for _, id := range p.IDs {
			idset[id] = struct{}{}
		}
	}
	labels, err := s.labels(ctx, idset)
	if err != nil {
		return nil, err
	}
	views := make([]api.PathView, 0, len(paths))
	for _, p := range paths {
		v := api.PathView{Hops: len(p.Hops)}
		for _, id := range p.IDs {
			v.Nodes = append(v.Nodes, api.PathNode{ID: id, Label: labels[id]})
		}
		for _, h := range p.Hops {
			v.Edges = append(v.Edges, api.PathEdge{From: h.FromID, To: h.ToID, Type: h.Type, Confidence: h.Confidence})
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) labels(ctx context.Context, idset map[string]struct{}) (map[string]string, error) {
	if len(idset) == 0 {
		return map[string]string{}, nil
	}
	ids := make([]string, 0, len(idset))
	for id := range idset {
		ids = append(ids, id)
	}
	concepts, err := s.graph.GetConcepts(ctx, ids)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(concepts))
	for _, c := range concepts {
		labels[c.ID] = c.Label
	}
	return labels, nil
}

// instanceViews samples a concept's instances with their source locations.
func (s *Service) instanceViews(ctx context.Context, conceptID string, limit int) ([]api.InstanceView, error) {
	ins, err := s.graph.ListInstances(ctx, conceptID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]api.InstanceView, 0, len(ins))
	for _, in := range ins {
		v := api.InstanceView{SourceID: in.SourceID, Quote: in.Quote}
		src, err := s.graph.GetSource(ctx, in.SourceID)
		if err == nil {
			v.DocumentID = src.DocumentID
			v.ChunkIndex = src.ChunkIndex
		} else {
			s.logger.Debug("source lookup failed",
				zap.String("source_id", in.SourceID), zap.Error(err))
		}
		views = append(views, v)
	}
	return views, nil
}

func groundingView(g Grounding) *api.GroundingView {
	return &api.GroundingView{
		Score:         g.Score,
		Affirmative:   g.Affirmative,
		Contradictory: g.Contradictory,
	}
}

func (s *Service) countPathQuery() {
	if s.metrics != nil {
		s.metrics.PathQueries.Inc()
	}
}

func (s *Service) countPathBudget() {
	if s.metrics != nil {
		s.metrics.PathBudgetExceeded.Inc()
	}
}

func (s *Service) countSearch(mode string) {
	if s.metrics != nil {
		s.metrics.SearchQueries.WithLabelValues(mode).Inc()
	}
}
