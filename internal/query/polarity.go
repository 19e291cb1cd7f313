package query

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/vector"
	"kgraph/pkg/api"
)

const (
	// weakAxisMagnitude flags axes whose poles sit nearly on top of each
	// other; positions along such an axis are unstable.
	weakAxisMagnitude = 0.1
	// degenerateMagnitude rejects axes outright.
	degenerateMagnitude = 1e-8
	// directionThreshold splits positions into positive / neutral / negative.
	directionThreshold = 0.3
	// defaultAxisResults caps projections when the request does not.
	defaultAxisResults = 50
	// pathAnalysisK bounds pole-to-pole paths scored per analysis.
	pathAnalysisK = 3
	// coherenceEpsilon keeps the coherence denominator off zero.
	coherenceEpsilon = 1e-9
)

// antonymousTypes seed axis discovery.
var antonymousTypes = []string{"CONTRASTS_WITH", "OPPOSITE_OF"}

// axis is a polarity axis in embedding space: the difference vector between
// the positive and negative pole embeddings, with the midpoint as origin.
type axis struct {
	positive  *domain.Concept
	negative  *domain.Concept
	dir       []float64
	mid       []float64
	magnitude float64
}

func buildAxis(positive, negative *domain.Concept) (*axis, error) {
	if len(positive.Embedding) == 0 {
		return nil, kgerrors.Validation("concept %s has no embedding", positive.ID)
	}
	if len(negative.Embedding) == 0 {
		return nil, kgerrors.Validation("concept %s has no embedding", negative.ID)
	}
	dir := vector.Sub(positive.Embedding, negative.Embedding)
	m := vector.Norm64(dir)
	if m < degenerateMagnitude {
		return nil, kgerrors.Validation("polarity axis is degenerate: pole embeddings are identical")
	}
	mid := make([]float64, len(dir))
	for i := range mid {
		mid[i] = (float64(positive.Embedding[i]) + float64(negative.Embedding[i])) / 2
	}
	return &axis{positive: positive, negative: negative, dir: dir, mid: mid, magnitude: m}, nil
}

// project places a concept on the axis. Position is the signed fraction of
// the pole-to-pole distance from the midpoint, clamped to [-1, 1] so the
// poles land exactly at the ends; axisDistance is the perpendicular
// component left over.
func (ax *axis) project(c *domain.Concept) (position, axisDistance float64) {
	r := make([]float64, len(ax.dir))
	for i := range r {
		var e float64
		if i < len(c.Embedding) {
			e = float64(c.Embedding[i])
		}
		r[i] = e - ax.mid[i]
	}
	t := vector.Dot64(r, ax.dir) / (ax.magnitude * ax.magnitude)
	for i := range r {
		r[i] -= t * ax.dir[i]
	}
	position = clamp(2*t, -1, 1)
	return position, vector.Norm64(r)
}

func directionFor(position float64) string {
	switch {
	case position > directionThreshold:
		return "positive"
	case position < -directionThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

func qualityFor(magnitude float64) string {
	switch {
	case magnitude > 0.8:
		return "strong"
	case magnitude > 0.3:
		return "moderate"
	default:
		return "weak"
	}
}

// PolarityAxis projects candidate concepts onto the axis between two poles.
// Candidates come from the request or from neighborhood discovery around
// the poles. The whole analysis runs under the polarity budget; exhausting
// it returns what was projected so far with a warning, not an error.
func (s *Service) PolarityAxis(ctx context.Context, req api.PolarityAxisRequest) (*api.PolarityAnalysis, error) {
	ctx, span := tracer.Start(ctx, "query.PolarityAxis", trace.WithAttributes(
		attribute.String("positive_pole", req.PositivePoleID),
		attribute.String("negative_pole", req.NegativePoleID),
	))
	defer span.End()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PolarityTimeout)
	defer cancel()

	poles, err := s.graph.GetConcepts(pctx, []string{req.PositivePoleID, req.NegativePoleID})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Concept, len(poles))
	for _, c := range poles {
		byID[c.ID] = c
	}
	positive, ok := byID[req.PositivePoleID]
	if !ok {
		return nil, kgerrors.NotFound("concept", req.PositivePoleID)
	}
	negative, ok := byID[req.NegativePoleID]
	if !ok {
		return nil, kgerrors.NotFound("concept", req.NegativePoleID)
	}

	ax, err := buildAxis(positive, negative)
	if err != nil {
		return nil, err
	}

	var warnings []string
	weak := ax.magnitude < weakAxisMagnitude
	if weak {
		warnings = append(warnings, "weak axis: pole embeddings are nearly identical, positions may be unstable")
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultAxisResults
	}
	scope := req.Ontology
	if scope == "" && positive.Ontology == negative.Ontology {
		scope = positive.Ontology
	}

	candidates, err := s.axisCandidates(pctx, req, ax, scope, 2*maxResults)
	if err != nil {
		return nil, err
	}

	projections := make([]api.ProjectionView, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		if pctx.Err() != nil {
			warnings = append(warnings, "analysis budget exhausted; projections are partial")
			break
		}
		if len(c.Embedding) == 0 {
			skipped++
			continue
		}
		position, dist := ax.project(c)
		pv := api.ProjectionView{
			ID:           c.ID,
			Label:        c.Label,
			Position:     position,
			Direction:    directionFor(position),
			AxisDistance: dist,
		}
		if req.IncludeGrounding {
			if g, gerr := s.grounding.Grounding(pctx, c.ID); gerr == nil {
				pv.Grounding = groundingView(g)
			}
		}
		if req.IncludeSourceEvidence {
			if evs, eerr := s.instanceViews(pctx, c.ID, evidenceSampleLimit); eerr == nil {
				pv.Evidence = evs
			}
		}
		projections = append(projections, pv)
	}
	if skipped > 0 {
		warnings = append(warnings, "candidates without embeddings were skipped")
	}
	projections = topProjections(projections, maxResults)

	analysis := &api.PolarityAnalysis{
		Axis: api.AxisView{
			PositivePoleID:    positive.ID,
			PositivePoleLabel: positive.Label,
			NegativePoleID:    negative.ID,
			NegativePoleLabel: negative.Label,
			Magnitude:         ax.magnitude,
			Quality:           qualityFor(ax.magnitude),
			WeakAxis:          weak,
		},
		Projections: projections,
		Statistics:  axisStatistics(projections),
		Warning:     strings.Join(warnings, "; "),
	}
	if req.IncludeGrounding {
		analysis.Correlation = pearson(projections)
	}
	if req.IncludePathAnalysis {
		pa, perr := s.analyzePolePaths(pctx, ax, scope)
		if perr != nil {
			s.logger.Warn("path analysis failed", zap.Error(perr))
		} else {
			analysis.PathAnalysis = pa
		}
	}
	return analysis, nil
}

// axisCandidates picks the concepts to project: the explicit list when
// given, otherwise neighborhood discovery around both poles unless the
// request turned it off.
func (s *Service) axisCandidates(ctx context.Context, req api.PolarityAxisRequest, ax *axis, scope string, limit int) ([]*domain.Concept, error) {
	if len(req.CandidateIDs) > 0 {
		// An explicit list is projected as given. Listing a pole is valid
		// and anchors it at its end of the axis.
		return s.graph.GetConcepts(ctx, req.CandidateIDs)
	}
	if req.CandidateDiscovery != nil && !*req.CandidateDiscovery {
		return nil, nil
	}
	return s.discoverCandidates(ctx, ax, scope, limit)
}

// discoverCandidates expands one and then two hops out from both poles with
// batched neighbor queries, closest ring first.
func (s *Service) discoverCandidates(ctx context.Context, ax *axis, scope string, limit int) ([]*domain.Concept, error) {
	seen := map[string]struct{}{ax.positive.ID: {}, ax.negative.ID: {}}
	var ordered []string

	frontier := []string{ax.positive.ID, ax.negative.ID}
	for hop := 0; hop < 2 && len(frontier) > 0 && len(ordered) < 2*limit; hop++ {
		nctx, cancel := context.WithTimeout(ctx, s.cfg.NeighborTimeout)
		adj, err := s.graph.Neighbors(nctx, frontier, scope)
		cancel()
		if err != nil {
			return nil, kgerrors.Wrap(err, "polarity.discover")
		}
		var next []string
		for _, a := range adj {
			if _, ok := seen[a.NeighborID]; ok {
				continue
			}
			seen[a.NeighborID] = struct{}{}
			ordered = append(ordered, a.NeighborID)
			next = append(next, a.NeighborID)
		}
		frontier = next
	}
	if len(ordered) > 2*limit {
		ordered = ordered[:2*limit]
	}

	concepts, err := s.graph.GetConcepts(ctx, ordered)
	if err != nil {
		return nil, err
	}
	withEmbedding := make(map[string]*domain.Concept, len(concepts))
	for _, c := range concepts {
		if len(c.Embedding) > 0 {
			withEmbedding[c.ID] = c
		}
	}
	out := make([]*domain.Concept, 0, limit)
	for _, id := range ordered {
		if c, ok := withEmbedding[id]; ok {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// topProjections keeps the most polarized projections and orders the final
// list positive end first.
func topProjections(projs []api.ProjectionView, max int) []api.ProjectionView {
	if len(projs) > max {
		sort.Slice(projs, func(i, j int) bool {
			return math.Abs(projs[i].Position) > math.Abs(projs[j].Position)
		})
		projs = projs[:max]
	}
	sort.Slice(projs, func(i, j int) bool {
		if projs[i].Position != projs[j].Position {
			return projs[i].Position > projs[j].Position
		}
		return projs[i].ID < projs[j].ID
	})
	return projs
}

func axisStatistics(projs []api.ProjectionView) *api.AxisStatistics {
	if len(projs) == 0 {
		return nil
	}
	st := &api.AxisStatistics{
		MinPosition:     projs[0].Position,
		MaxPosition:     projs[0].Position,
		DirectionCounts: make(map[string]int),
	}
	var sum, distSum float64
	for _, p := range projs {
		sum += p.Position
		distSum += p.AxisDistance
		st.MinPosition = math.Min(st.MinPosition, p.Position)
		st.MaxPosition = math.Max(st.MaxPosition, p.Position)
		st.DirectionCounts[p.Direction]++
	}
	n := float64(len(projs))
	st.MeanPosition = sum / n
	st.MeanAxisDistance = distSum / n
	var sq float64
	for _, p := range projs {
		d := p.Position - st.MeanPosition
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / n)
	return st
}

// pearson correlates axis position with grounding score across projections
// that carry one.
func pearson(projs []api.ProjectionView) *api.CorrelationView {
	var xs, ys []float64
	for _, p := range projs {
		if p.Grounding == nil {
			continue
		}
		xs = append(xs, p.Position)
		ys = append(ys, p.Grounding.Score)
	}
	n := len(xs)
	if n < 3 {
		return &api.CorrelationView{Strength: "insufficient_data", Samples: n}
	}
	var mx, my float64
	for i := 0; i < n; i++ {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	var r float64
	if vx > 0 && vy > 0 {
		r = cov / math.Sqrt(vx*vy)
	}
	strength := "weak"
	switch {
	case math.Abs(r) >= 0.7:
		strength = "strong"
	case math.Abs(r) >= 0.4:
		strength = "moderate"
	}
	return &api.CorrelationView{R: r, Strength: strength, Samples: n}
}

// analyzePolePaths scores pole-to-pole paths by how steadily their nodes
// advance along the axis.
func (s *Service) analyzePolePaths(ctx context.Context, ax *axis, scope string) ([]api.PathAnalysisView, error) {
	paths, _, err := s.paths.kshortest(ctx, ax.positive.ID, ax.negative.ID, scope, false, pathAnalysisK, s.cfg.MaxHops)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	idset := make(map[string]struct{})
	for _, p := range paths {
		for _, id := range p.IDs {
			idset[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idset))
	for id := range idset {
		ids = append(ids, id)
	}
	concepts, err := s.graph.GetConcepts(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}

	views, err := s.pathViews(ctx, paths)
	if err != nil {
		return nil, err
	}

	out := make([]api.PathAnalysisView, 0, len(paths))
	for i, p := range paths {
		var positions []float64
		for _, id := range p.IDs {
			c, ok := byID[id]
			if !ok || len(c.Embedding) == 0 {
				continue
			}
			pos, _ := ax.project(c)
			positions = append(positions, pos)
		}
		out = append(out, api.PathAnalysisView{
			Path:          views[i],
			Positions:     positions,
			Coherence:     pathCoherence(positions),
			MeanCurvature: pathCurvature(positions),
		})
	}
	return out, nil
}

// pathCoherence scores monotone advance along the axis: 1 when every step
// moves the same amount, falling toward 0 as step sizes scatter.
func pathCoherence(positions []float64) float64 {
	if len(positions) < 2 {
		return 1
	}
	steps := make([]float64, len(positions)-1)
	var mean, meanAbs float64
	for i := 1; i < len(positions); i++ {
		d := positions[i] - positions[i-1]
		steps[i-1] = d
		mean += d
		meanAbs += math.Abs(d)
	}
	n := float64(len(steps))
	mean /= n
	meanAbs /= n
	var variance float64
	for _, d := range steps {
		variance += (d - mean) * (d - mean)
	}
	variance /= n
	return clamp(1-variance/(meanAbs+coherenceEpsilon), 0, 1)
}

// pathCurvature is the mean angular change between consecutive steps: 0 for
// a steady advance, π for a step that fully reverses direction.
func pathCurvature(positions []float64) float64 {
	if len(positions) < 3 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 2; i < len(positions); i++ {
		prev := positions[i-1] - positions[i-2]
		cur := positions[i] - positions[i-1]
		if prev == 0 || cur == 0 {
			continue
		}
		if (prev > 0) != (cur > 0) {
			sum += math.Pi
		}
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// DiscoverAxes scans antonymous edges for concept pairs whose embeddings
// are far enough apart to anchor a useful axis.
func (s *Service) DiscoverAxes(ctx context.Context, req api.DiscoverAxesRequest) (*api.DiscoverResponse, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PolarityTimeout)
	defer cancel()

	types := req.RelationshipTypes
	if len(types) == 0 {
		types = antonymousTypes
	}
	minMag := req.MinMagnitude
	if minMag <= 0 {
		minMag = s.cfg.MinMagnitude
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	type pair struct {
		a, b     string
		edgeType string
	}
	seen := make(map[[2]string]struct{})
	var pairs []pair
	idset := make(map[string]struct{})
	for _, t := range types {
		if pctx.Err() != nil {
			break
		}
		edges, err := s.graph.EdgesByType(pctx, req.Ontology, t)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			key := [2]string{e.FromID, e.ToID}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pairs = append(pairs, pair{a: e.FromID, b: e.ToID, edgeType: e.Type})
			idset[e.FromID] = struct{}{}
			idset[e.ToID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(idset))
	for id := range idset {
		ids = append(ids, id)
	}
	concepts, err := s.graph.GetConcepts(pctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Concept, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}

	axes := make([]api.DiscoveredAxis, 0, len(pairs))
	for _, p := range pairs {
		a, aok := byID[p.a]
		b, bok := byID[p.b]
		if !aok || !bok || len(a.Embedding) == 0 || len(b.Embedding) == 0 {
			continue
		}
		m := vector.Norm64(vector.Sub(a.Embedding, b.Embedding))
		if m < minMag {
			continue
		}
		axes = append(axes, api.DiscoveredAxis{
			ConceptA:  a.ID,
			LabelA:    a.Label,
			ConceptB:  b.ID,
			LabelB:    b.Label,
			EdgeType:  p.edgeType,
			Magnitude: m,
			Quality:   qualityFor(m),
		})
	}
	sort.Slice(axes, func(i, j int) bool {
		if axes[i].Magnitude != axes[j].Magnitude {
			return axes[i].Magnitude > axes[j].Magnitude
		}
		return axes[i].ConceptA < axes[j].ConceptA
	})
	if len(axes) > maxResults {
		axes = axes[:maxResults]
	}
	return &api.DiscoverResponse{Ontology: req.Ontology, Axes: axes}, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
