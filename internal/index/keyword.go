// Package index provides the on-disk keyword index over concepts. Semantic
// search goes through the vector index; this side serves exact-term and
// phrase recall, and the query layer fuses the two.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
)

// Hit is one keyword match.
type Hit struct {
	ID    string
	Score float64
}

// conceptDoc is the shape bleve indexes. Field names follow the json tags.
type conceptDoc struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	SearchTerms []string `json:"search_terms"`
	Ontology    string   `json:"ontology"`
}

// Keyword wraps a bleve index over concept text.
type Keyword struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// NewKeyword opens the index at path, creating it if absent. An empty path
// builds an in-memory index.
func NewKeyword(path string) (*Keyword, error) {
	im := buildMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index dir: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	return &Keyword{index: idx, path: path}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = en.AnalyzerName

	keyword := bleve.NewKeywordFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("label", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("search_terms", text)
	doc.AddFieldMappingsAt("ontology", keyword)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = en.AnalyzerName
	return im
}

// IndexConcepts adds or replaces concepts in one batch.
func (k *Keyword) IndexConcepts(concepts []*domain.Concept) error {
	if len(concepts) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return kgerrors.Internal(nil, "keyword index closed")
	}

	batch := k.index.NewBatch()
	for _, c := range concepts {
		doc := conceptDoc{
			Label:       c.Label,
			Description: c.Description,
			SearchTerms: c.SearchTerms,
			Ontology:    c.Ontology,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return kgerrors.Internal(err, "index concept %s", c.ID)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return kgerrors.Internal(err, "keyword batch")
	}
	return nil
}

// Remove deletes documents by id.
func (k *Keyword) Remove(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return kgerrors.Internal(nil, "keyword index closed")
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return kgerrors.Internal(err, "keyword delete")
	}
	return nil
}

// Search matches query against label, description and search terms, label
// weighted highest. A non-empty ontology restricts the hits.
func (k *Keyword) Search(ctx context.Context, ontology, queryStr string, limit int) ([]Hit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, kgerrors.Internal(nil, "keyword index closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	label := bleve.NewMatchQuery(queryStr)
	label.SetField("label")
	label.SetBoost(3)

	terms := bleve.NewMatchQuery(queryStr)
	terms.SetField("search_terms")
	terms.SetBoost(2)

	desc := bleve.NewMatchQuery(queryStr)
	desc.SetField("description")

	var q query.Query = bleve.NewDisjunctionQuery(label, terms, desc)
	if ontology != "" {
		ont := bleve.NewTermQuery(ontology)
		ont.SetField("ontology")
		q = bleve.NewConjunctionQuery(q, ont)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, kgerrors.Internal(err, "keyword search")
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// DeleteOntology removes every document of one ontology. Used by the
// destructive ontology endpoints; rename callers reindex from the store.
func (k *Keyword) DeleteOntology(ctx context.Context, ontology string) error {
	for {
		k.mu.RLock()
		if k.closed {
			k.mu.RUnlock()
			return kgerrors.Internal(nil, "keyword index closed")
		}
		ont := bleve.NewTermQuery(ontology)
		ont.SetField("ontology")
		req := bleve.NewSearchRequest(ont)
		req.Size = 1000
		result, err := k.index.SearchInContext(ctx, req)
		k.mu.RUnlock()
		if err != nil {
			return kgerrors.Internal(err, "keyword ontology scan")
		}
		if len(result.Hits) == 0 {
			return nil
		}
		ids := make([]string, len(result.Hits))
		for i, h := range result.Hits {
			ids[i] = h.ID
		}
		if err := k.Remove(ids); err != nil {
			return err
		}
	}
}

// Count reports indexed documents.
func (k *Keyword) Count() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0, kgerrors.Internal(nil, "keyword index closed")
	}
	return k.index.DocCount()
}

// Close releases the index.
func (k *Keyword) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
