package vector

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Match is one approximate nearest neighbor hit.
type Match struct {
	ID         string
	Similarity float64
}

// Params tunes the underlying HNSW graphs.
type Params struct {
	M        int
	EfSearch int
	Ml       float64
}

// DefaultParams match the corpus-scale defaults used across the engine.
func DefaultParams() Params {
	return Params{M: 16, EfSearch: 20, Ml: 0.25}
}

// Index is an approximate nearest neighbor index over concept embeddings,
// partitioned by ontology. String ids map to dense uint64 keys because the
// underlying graph wants ordered keys. Removal orphans the key; the graph is
// rebuilt from the store on restart, so orphans never accumulate across runs.
type Index struct {
	mu     sync.RWMutex
	params Params
	shards map[string]*shard
}

type shard struct {
	graph   *hnsw.Graph[uint64]
	nextKey uint64
	byID    map[string]uint64
	byKey   map[uint64]string
}

// NewIndex creates an empty index.
func NewIndex(p Params) *Index {
	if p.M == 0 {
		p = DefaultParams()
	}
	return &Index{params: p, shards: make(map[string]*shard)}
}

func (ix *Index) shardFor(ontology string, create bool) *shard {
	if s, ok := ix.shards[ontology]; ok {
		return s
	}
	if !create {
		return nil
	}
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = ix.params.M
	g.EfSearch = ix.params.EfSearch
	g.Ml = ix.params.Ml
	s := &shard{
		graph: g,
		byID:  make(map[string]uint64),
		byKey: make(map[uint64]string),
	}
	ix.shards[ontology] = s
	return s
}

// Add inserts or replaces the embedding for id.
func (ix *Index) Add(ontology, id string, embedding []float32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s := ix.shardFor(ontology, true)
	if old, ok := s.byID[id]; ok {
		delete(s.byKey, old)
	}
	key := s.nextKey
	s.nextKey++
	s.byID[id] = key
	s.byKey[key] = id
	s.graph.Add(hnsw.MakeNode(key, embedding))
}

// Remove orphans id. Subsequent searches skip it.
func (ix *Index) Remove(ontology, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s := ix.shardFor(ontology, false)
	if s == nil {
		return
	}
	if key, ok := s.byID[id]; ok {
		delete(s.byID, id)
		delete(s.byKey, key)
	}
}

// DropOntology forgets an entire shard.
func (ix *Index) DropOntology(ontology string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.shards, ontology)
}

// RenameOntology moves a shard to a new name.
func (ix *Index) RenameOntology(oldName, newName string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if s, ok := ix.shards[oldName]; ok {
		delete(ix.shards, oldName)
		ix.shards[newName] = s
	}
}

// Search returns up to k live neighbors ordered by descending similarity.
// Orphaned keys are filtered out, so it overfetches internally to keep k
// meaningful after deletions.
func (ix *Index) Search(ontology string, query []float32, k int) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s := ix.shardFor(ontology, false)
	if s == nil || k <= 0 {
		return nil
	}

	// The graph returns candidates in heap order, not sorted by distance,
	// so rank the whole overfetched set here before capping at k.
	nodes := s.graph.Search(query, k*2)
	matches := make([]Match, 0, len(nodes))
	for _, n := range nodes {
		id, ok := s.byKey[n.Key]
		if !ok {
			continue // orphaned by Remove
		}
		matches = append(matches, Match{ID: id, Similarity: Cosine(query, n.Value)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Len reports live entries for one ontology.
func (ix *Index) Len(ontology string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s := ix.shardFor(ontology, false)
	if s == nil {
		return 0
	}
	return len(s.byID)
}
