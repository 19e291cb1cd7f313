// Package domain holds the core entities of the knowledge graph: concepts,
// sources, instances, relationships, documents, jobs, the relationship
// vocabulary and provider configuration. It has no dependencies on storage
// or transport.
package domain

import (
	"strings"
	"time"
)

// Concept is the semantic unit of the graph: a labeled idea with a prose
// description, alternate search phrases, and an embedding used for
// deduplication and semantic search.
type Concept struct {
	ID          string    `json:"concept_id"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	SearchTerms []string  `json:"search_terms,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Ontology    string    `json:"ontology"`
	CreatedAt   time.Time `json:"created_at"`
}

// MergeSearchTerms appends terms not already present (case-insensitive),
// preserving the original order of existing terms.
func (c *Concept) MergeSearchTerms(terms []string) (added int) {
	seen := make(map[string]struct{}, len(c.SearchTerms))
	for _, t := range c.SearchTerms {
		seen[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.SearchTerms = append(c.SearchTerms, t)
		added++
	}
	return added
}

// Source is an immutable evidence chunk cut from an ingested document.
type Source struct {
	ID         string    `json:"source_id"`
	DocumentID string    `json:"document_id"`
	Ontology   string    `json:"ontology"`
	ChunkIndex int       `json:"chunk_index"`
	FullText   string    `json:"full_text"`
	ByteStart  int       `json:"byte_start"`
	ByteEnd    int       `json:"byte_end"`
	ObjectKey  string    `json:"object_key,omitempty"` // set for image-derived sources
	CreatedAt  time.Time `json:"created_at"`
}

// Instance records a concept's appearance in a source with a verbatim quote.
// (ConceptID, SourceID) is unique.
type Instance struct {
	ConceptID string    `json:"concept_id"`
	SourceID  string    `json:"source_id"`
	Quote     string    `json:"quote"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship is a directed, typed, confidence-weighted edge between two
// concepts. Evidence holds the deduplicated set of source ids supporting it.
type Relationship struct {
	FromID     string    `json:"from_id"`
	ToID       string    `json:"to_id"`
	Type       string    `json:"type"`
	Ontology   string    `json:"ontology"`
	Confidence float64   `json:"confidence"`
	Evidence   []string  `json:"evidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EvidenceCount reports the size of the deduplicated evidence set.
func (r *Relationship) EvidenceCount() int {
	if len(r.Evidence) == 0 {
		// An edge with no recorded sources still stands on one assertion.
		return 1
	}
	return len(r.Evidence)
}

// AddEvidence appends a source id unless already present. Reports whether the
// set grew.
func (r *Relationship) AddEvidence(sourceID string) bool {
	if sourceID == "" {
		return false
	}
	for _, id := range r.Evidence {
		if id == sourceID {
			return false
		}
	}
	r.Evidence = append(r.Evidence, sourceID)
	return true
}

// Direction constrains neighbor queries and pathfinding expansion.
type Direction string

const (
	DirectionOut    Direction = "out"
	DirectionIn     Direction = "in"
	DirectionEither Direction = "either"
)

// Adjacency is one hop of the graph as returned by the batched neighbor
// query: the edge (From → To) with its type, seen from a seed concept.
type Adjacency struct {
	SeedID     string  `json:"seed_id"`
	NeighborID string  `json:"neighbor_id"`
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}
