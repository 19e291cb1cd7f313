// Package store defines the persistence facade for the knowledge graph and
// its two backends. Components depend on the Graph interface only; the
// concrete backend is chosen by configuration.
package store

import (
	"context"
	"time"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
)

type writeIntentKey struct{}

// WithWriteIntent marks ctx as allowed to mutate the graph. Backends refuse
// writes on unmarked contexts, so read-only request paths cannot reach a
// write by accident.
func WithWriteIntent(ctx context.Context) context.Context {
	return context.WithValue(ctx, writeIntentKey{}, true)
}

// HasWriteIntent reports whether ctx asserted write intent.
func HasWriteIntent(ctx context.Context) bool {
	ok, _ := ctx.Value(writeIntentKey{}).(bool)
	return ok
}

// RequireWriteIntent is the guard backends call at the top of every mutating
// operation.
func RequireWriteIntent(ctx context.Context, op string) error {
	if !HasWriteIntent(ctx) {
		return kgerrors.Consistency("%s: write without asserted intent", op)
	}
	return nil
}

// ConceptVector pairs a concept id with its embedding for bulk loads into
// the in-process vector index.
type ConceptVector struct {
	ID        string
	Ontology  string
	Embedding []float32
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Statuses []domain.JobStatus
	Ontology string
	Type     domain.JobType
	Since    time.Time
	Limit    int
}

// OntologyCounts reports what a destructive ontology operation touched.
type OntologyCounts struct {
	Concepts      int
	Sources       int
	Instances     int
	Relationships int
	Documents     int
}

// DocumentCounts reports what DeleteDocument removed. Edges that cited a
// deleted source keep running with the rest of their evidence; edges whose
// evidence empties out are deleted with the document.
type DocumentCounts struct {
	Sources      int
	Instances    int
	EdgesTrimmed int
	EdgesDeleted int
}

// Graph is the persistence facade. Write operations are idempotent: creating
// an entity that already exists reports created=false instead of failing, so
// parallel chunk workers can race on the same concept safely.
type Graph interface {
	// Concepts.
	PutConcept(ctx context.Context, c *domain.Concept) (created bool, err error)
	GetConcept(ctx context.Context, id string) (*domain.Concept, error)
	GetConcepts(ctx context.Context, ids []string) ([]*domain.Concept, error)
	MergeSearchTerms(ctx context.Context, id string, terms []string) error
	ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]*domain.Concept, error)
	ListEmbeddings(ctx context.Context, ontology string) ([]ConceptVector, error)

	// Sources and instances.
	PutSource(ctx context.Context, s *domain.Source) (bool, error)
	GetSource(ctx context.Context, id string) (*domain.Source, error)
	PutInstance(ctx context.Context, in *domain.Instance) (bool, error)
	ListInstances(ctx context.Context, conceptID string, limit int) ([]*domain.Instance, error)
	CountInstances(ctx context.Context, conceptID string) (int, error)

	// Relationships. PutRelationship merges evidence into an existing edge
	// of the same (from, to, type) key.
	PutRelationship(ctx context.Context, r *domain.Relationship) (created bool, err error)
	Neighbors(ctx context.Context, ids []string, ontology string) ([]domain.Adjacency, error)
	EdgesOf(ctx context.Context, id string) ([]*domain.Relationship, error)
	EdgesByType(ctx context.Context, ontology, typeName string) ([]*domain.Relationship, error)
	EdgeTypeCounts(ctx context.Context, ontology string) (map[string]int, error)
	RetypeEdges(ctx context.Context, fromType, toType string) (moved int, err error)

	// Documents. DeleteDocument cascades to the document's sources and their
	// instances and scrubs the deleted source ids from edge evidence.
	PutDocument(ctx context.Context, d *domain.Document) (bool, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	FindDocumentByHash(ctx context.Context, contentHash string) (*domain.Document, error)
	ListDocuments(ctx context.Context, ontology string) ([]*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) (DocumentCounts, error)

	// Vocabulary. PutVocabularyType upserts full state.
	PutVocabularyType(ctx context.Context, t *domain.VocabularyType) error
	ListVocabulary(ctx context.Context) ([]*domain.VocabularyType, error)

	// Jobs. PutJob upserts full state; the jobs manager serializes writers.
	PutJob(ctx context.Context, j *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	FindJobByContentHash(ctx context.Context, hash string) (*domain.Job, error)

	// Model configs. ActivateModelConfig flips the active flag to the given
	// id and clears it on every sibling of the same kind in one transaction.
	PutModelConfig(ctx context.Context, c *domain.ModelConfig) error
	GetModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error)
	ListModelConfigs(ctx context.Context, kind domain.ModelConfigKind) ([]*domain.ModelConfig, error)
	ActivateModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error)
	DeleteModelConfig(ctx context.Context, id string) error

	// Ontologies.
	ListOntologies(ctx context.Context) ([]domain.OntologyInfo, error)
	RenameOntology(ctx context.Context, oldName, newName string) error
	DeleteOntology(ctx context.Context, name string) (OntologyCounts, error)
	Stats(ctx context.Context, ontology string) (*domain.GraphStats, error)

	Close() error
}
