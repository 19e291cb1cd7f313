package query

import (
	"context"
	"slices"
	"time"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/store"
)

// maxPathsPerQuery caps K-shortest fan-out.
const maxPathsPerQuery = 5

// edgeKey identifies a directed edge for exclusion between K-shortest runs.
type edgeKey struct {
	from string
	to   string
	typ  string
}

// step records how a node was first reached: the seed it was expanded from
// and the concrete edge joining the two, in graph orientation.
type step struct {
	parent     string
	edgeFrom   string
	edgeTo     string
	relType    string
	confidence float64
}

// pathHop is one traversed edge of a finished path, in graph orientation.
type pathHop struct {
	FromID     string
	ToID       string
	Type       string
	Confidence float64
}

// rawPath is an ordered concept chain. Hops[i] joins IDs[i] and IDs[i+1].
type rawPath struct {
	IDs  []string
	Hops []pathHop
}

// pathfinder runs bidirectional breadth-first searches over the concept
// graph. Both endpoints grow a parent map; each round expands whichever
// frontier is smaller with one batched neighbor query, and the first node
// seen from both ends is stitched into a path. An empty frontier means the
// endpoints are disconnected; the frontier cap and the wall clock turn the
// answer into a flagged partial instead.
type pathfinder struct {
	graph           store.Graph
	maxHops         int
	wallClock       time.Duration
	frontierCap     int
	neighborTimeout time.Duration
}

func newPathfinder(graph store.Graph, maxHops int, wallClock time.Duration, frontierCap int, neighborTimeout time.Duration) *pathfinder {
	if maxHops <= 0 {
		maxHops = 5
	}
	if wallClock <= 0 {
		wallClock = 30 * time.Second
	}
	if frontierCap <= 0 {
		frontierCap = 5000
	}
	if neighborTimeout <= 0 {
		neighborTimeout = 10 * time.Second
	}
	return &pathfinder{
		graph:           graph,
		maxHops:         maxHops,
		wallClock:       wallClock,
		frontierCap:     frontierCap,
		neighborTimeout: neighborTimeout,
	}
}

// searchSide is one end of the bidirectional search. orient constrains which
// edge orientations the side may traverse: out for the forward side and in
// for the backward side when the search is directed, either when not.
type searchSide struct {
	frontier map[string]struct{}
	parent   map[string]step
	orient   domain.Direction
}

func newSearchSide(seed string, orient domain.Direction) *searchSide {
	return &searchSide{
		frontier: map[string]struct{}{seed: {}},
		parent:   map[string]step{seed: {}},
		orient:   orient,
	}
}

func (s *searchSide) traversable(a domain.Adjacency) bool {
	switch s.orient {
	case domain.DirectionOut:
		return a.FromID == a.SeedID
	case domain.DirectionIn:
		return a.ToID == a.SeedID
	default:
		return true
	}
}

// kshortest returns up to k shortest paths. After each found path its edges
// are excluded and the search reruns, so later paths avoid earlier ones.
// The second result reports whether the frontier cap or wall clock cut the
// search short.
func (p *pathfinder) kshortest(ctx context.Context, from, to, ontology string, directed bool, k, maxHops int) ([]rawPath, bool, error) {
	if k < 1 {
		k = 1
	}
	if k > maxPathsPerQuery {
		k = maxPathsPerQuery
	}
	if maxHops <= 0 {
		maxHops = p.maxHops
	}
	deadline := time.Now().Add(p.wallClock)
	excluded := make(map[edgeKey]bool)
	var paths []rawPath
	budget := false
	for len(paths) < k {
		rp, exceeded, err := p.shortest(ctx, from, to, ontology, directed, excluded, deadline, maxHops)
		if err != nil {
			return nil, false, err
		}
		if exceeded {
			budget = true
			break
		}
		if rp == nil {
			break
		}
		paths = append(paths, *rp)
		if len(rp.Hops) == 0 {
			break
		}
		for _, h := range rp.Hops {
			excluded[edgeKey{from: h.FromID, to: h.ToID, typ: h.Type}] = true
		}
	}
	return paths, budget, nil
}

// shortest finds one shortest path, ignoring excluded edges. A nil path with
// a false flag means the endpoints are disconnected within maxHops; a nil
// path with a true flag means the budget ran out first.
func (p *pathfinder) shortest(ctx context.Context, from, to, ontology string, directed bool, excluded map[edgeKey]bool, deadline time.Time, maxHops int) (*rawPath, bool, error) {
	if from == to {
		return &rawPath{IDs: []string{from}}, false, nil
	}

	fwdOrient, bwdOrient := domain.DirectionEither, domain.DirectionEither
	if directed {
		fwdOrient, bwdOrient = domain.DirectionOut, domain.DirectionIn
	}
	fwd := newSearchSide(from, fwdOrient)
	bwd := newSearchSide(to, bwdOrient)

	for hops := 0; hops < maxHops; hops++ {
		if ctx.Err() != nil {
			return nil, false, kgerrors.Cancelled("pathfinding")
		}
		if time.Now().After(deadline) {
			return nil, true, nil
		}

		expand, other := fwd, bwd
		if len(bwd.frontier) < len(fwd.frontier) {
			expand, other = bwd, fwd
		}
		if len(expand.frontier) == 0 {
			return nil, false, nil
		}

		meet, grown, err := p.expand(ctx, expand, other, ontology, excluded)
		if err != nil {
			return nil, false, err
		}
		if meet != "" {
			return stitch(meet, fwd.parent, bwd.parent, from, to), false, nil
		}
		if grown > p.frontierCap {
			return nil, true, nil
		}
	}
	return nil, false, nil
}

// expand advances one side by one hop with a single batched neighbor query.
// It returns the meeting node as soon as a newly reached node is already
// known to the other side.
func (p *pathfinder) expand(ctx context.Context, side, other *searchSide, ontology string, excluded map[edgeKey]bool) (meet string, grown int, err error) {
	ids := make([]string, 0, len(side.frontier))
	for id := range side.frontier {
		ids = append(ids, id)
	}

	nctx, cancel := context.WithTimeout(ctx, p.neighborTimeout)
	adj, err := p.graph.Neighbors(nctx, ids, ontology)
	cancel()
	if err != nil {
		return "", 0, kgerrors.Wrap(err, "path.expand")
	}

	next := make(map[string]struct{})
	for _, a := range adj {
		if !side.traversable(a) {
			continue
		}
		if excluded[edgeKey{from: a.FromID, to: a.ToID, typ: a.Type}] {
			continue
		}
		if _, seen := side.parent[a.NeighborID]; seen {
			continue
		}
		side.parent[a.NeighborID] = step{
			parent:     a.SeedID,
			edgeFrom:   a.FromID,
			edgeTo:     a.ToID,
			relType:    a.Type,
			confidence: a.Confidence,
		}
		if _, met := other.parent[a.NeighborID]; met {
			return a.NeighborID, 0, nil
		}
		next[a.NeighborID] = struct{}{}
	}
	side.frontier = next
	return "", len(next), nil
}

// stitch joins the two parent chains at the meeting node. The forward half
// is collected meet → from and reversed; the backward half already runs
// toward to, so the join node is not repeated.
func stitch(meet string, fwdParent, bwdParent map[string]step, from, to string) *rawPath {
	var ids []string
	var hops []pathHop

	cur := meet
	for cur != from {
		s := fwdParent[cur]
		ids = append(ids, cur)
		hops = append(hops, pathHop{FromID: s.edgeFrom, ToID: s.edgeTo, Type: s.relType, Confidence: s.confidence})
		cur = s.parent
	}
	ids = append(ids, from)
	slices.Reverse(ids)
	slices.Reverse(hops)

	cur = meet
	for cur != to {
		s := bwdParent[cur]
		ids = append(ids, s.parent)
		hops = append(hops, pathHop{FromID: s.edgeFrom, ToID: s.edgeTo, Type: s.relType, Confidence: s.confidence})
		cur = s.parent
	}
	return &rawPath{IDs: ids, Hops: hops}
}
