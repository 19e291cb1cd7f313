package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kgraph/internal/domain"
	"kgraph/internal/observability"
)

// Instrument wraps a Graph with tracing spans and store metrics. Either
// tracer or metrics may be nil and is skipped.
func Instrument(inner Graph, tracer trace.Tracer, metrics *observability.Collector) Graph {
	return &instrumentedGraph{inner: inner, tracer: tracer, metrics: metrics}
}

type instrumentedGraph struct {
	inner   Graph
	tracer  trace.Tracer
	metrics *observability.Collector
}

// begin opens a span and returns a finish func that records the outcome.
func (g *instrumentedGraph) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	var span trace.Span
	if g.tracer != nil {
		ctx, span = g.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		if span != nil {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}
		if g.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			g.metrics.StoreOperations.WithLabelValues(op, status).Inc()
			g.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}
}

func (g *instrumentedGraph) PutConcept(ctx context.Context, c *domain.Concept) (bool, error) {
	ctx, finish := g.begin(ctx, "PutConcept",
		attribute.String("concept.id", c.ID),
		attribute.String("ontology", c.Ontology),
	)
	created, err := g.inner.PutConcept(ctx, c)
	finish(err)
	return created, err
}

func (g *instrumentedGraph) GetConcept(ctx context.Context, id string) (*domain.Concept, error) {
	ctx, finish := g.begin(ctx, "GetConcept", attribute.String("concept.id", id))
	c, err := g.inner.GetConcept(ctx, id)
	finish(err)
	return c, err
}

func (g *instrumentedGraph) GetConcepts(ctx context.Context, ids []string) ([]*domain.Concept, error) {
	ctx, finish := g.begin(ctx, "GetConcepts", attribute.Int("count", len(ids)))
	cs, err := g.inner.GetConcepts(ctx, ids)
	finish(err)
	return cs, err
}

func (g *instrumentedGraph) MergeSearchTerms(ctx context.Context, id string, terms []string) error {
	ctx, finish := g.begin(ctx, "MergeSearchTerms", attribute.String("concept.id", id))
	err := g.inner.MergeSearchTerms(ctx, id, terms)
	finish(err)
	return err
}

func (g *instrumentedGraph) ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]*domain.Concept, error) {
	ctx, finish := g.begin(ctx, "ListConcepts", attribute.String("ontology", ontology))
	cs, err := g.inner.ListConcepts(ctx, ontology, limit, offset)
	finish(err)
	return cs, err
}

func (g *instrumentedGraph) ListEmbeddings(ctx context.Context, ontology string) ([]ConceptVector, error) {
	ctx, finish := g.begin(ctx, "ListEmbeddings", attribute.String("ontology", ontology))
	vs, err := g.inner.ListEmbeddings(ctx, ontology)
	finish(err)
	return vs, err
}

func (g *instrumentedGraph) PutSource(ctx context.Context, s *domain.Source) (bool, error) {
	ctx, finish := g.begin(ctx, "PutSource", attribute.String("source.id", s.ID))
	created, err := g.inner.PutSource(ctx, s)
	finish(err)
	return created, err
}

func (g *instrumentedGraph) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	ctx, finish := g.begin(ctx, "GetSource", attribute.String("source.id", id))
	s, err := g.inner.GetSource(ctx, id)
	finish(err)
	return s, err
}

func (g *instrumentedGraph) PutInstance(ctx context.Context, in *domain.Instance) (bool, error) {
	ctx, finish := g.begin(ctx, "PutInstance", attribute.String("concept.id", in.ConceptID))
	created, err := g.inner.PutInstance(ctx, in)
	finish(err)
	return created, err
}

func (g *instrumentedGraph) ListInstances(ctx context.Context, conceptID string, limit int) ([]*domain.Instance, error) {
	ctx, finish := g.begin(ctx, "ListInstances", attribute.String("concept.id", conceptID))
	ins, err := g.inner.ListInstances(ctx, conceptID, limit)
	finish(err)
	return ins, err
}

func (g *instrumentedGraph) CountInstances(ctx context.Context, conceptID string) (int, error) {
	ctx, finish := g.begin(ctx, "CountInstances", attribute.String("concept.id", conceptID))
	n, err := g.inner.CountInstances(ctx, conceptID)
	finish(err)
	return n, err
}

func (g *instrumentedGraph) PutRelationship(ctx context.Context, r *domain.Relationship) (bool, error) {
	ctx, finish := g.begin(ctx, "PutRelationship",
		attribute.String("edge.type", r.Type),
		attribute.String("ontology", r.Ontology),
	)
	created, err := g.inner.PutRelationship(ctx, r)
	finish(err)
	return created, err
}

func (g *instrumentedGraph) Neighbors(ctx context.Context, ids []string, ontology string) ([]domain.Adjacency, error) {
	ctx, finish := g.begin(ctx, "Neighbors",
		attribute.Int("frontier", len(ids)),
		attribute.String("ontology", ontology),
	)
	adj, err := g.inner.Neighbors(ctx, ids, ontology)
	finish(err)
	return adj, err
}

func (g *instrumentedGraph) EdgesOf(ctx context.Context, id string) ([]*domain.Relationship, error) {
	ctx, finish := g.begin(ctx, "EdgesOf", attribute.String("concept.id", id))
	rs, err := g.inner.EdgesOf(ctx, id)
	finish(err)
	return rs, err
}

func (g *instrumentedGraph) EdgesByType(ctx context.Context, ontology, typeName string) ([]*domain.Relationship, error) {
	ctx, finish := g.begin(ctx, "EdgesByType", attribute.String("edge.type", typeName))
	rs, err := g.inner.EdgesByType(ctx, ontology, typeName)
	finish(err)
	return rs, err
}

func (g *instrumentedGraph) EdgeTypeCounts(ctx context.Context, ontology string) (map[string]int, error) {
	ctx, finish := g.begin(ctx, "EdgeTypeCounts", attribute.String("ontology", ontology))
	counts, err := g.inner.EdgeTypeCounts(ctx, ontology)
	finish(err)
	return counts, err
}

func (g *instrumentedGraph) RetypeEdges(ctx context.Context, fromType, toType string) (int, error) {
	ctx, finish := g.begin(ctx, "RetypeEdges",
		attribute.String("edge.from_type", fromType),
		attribute.String("edge.to_type", toType),
	)
	moved, err := g.inner.RetypeEdges(ctx, fromType, toType)
	finish(err)
	return moved, err
}

func (g *instrumentedGraph) PutDocument(ctx context.Context, d *domain.Document) (bool, error) {
	ctx, finish := g.begin(ctx, "PutDocument", attribute.String("document.id", d.ID))
	created, err := g.inner.PutDocument(ctx, d)
	finish(err)
	return created, err
}

func (g *instrumentedGraph) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	ctx, finish := g.begin(ctx, "GetDocument", attribute.String("document.id", id))
	d, err := g.inner.GetDocument(ctx, id)
	finish(err)
	return d, err
}

func (g *instrumentedGraph) FindDocumentByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	ctx, finish := g.begin(ctx, "FindDocumentByHash")
	d, err := g.inner.FindDocumentByHash(ctx, contentHash)
	finish(err)
	return d, err
}

func (g *instrumentedGraph) ListDocuments(ctx context.Context, ontology string) ([]*domain.Document, error) {
	ctx, finish := g.begin(ctx, "ListDocuments", attribute.String("ontology", ontology))
	ds, err := g.inner.ListDocuments(ctx, ontology)
	finish(err)
	return ds, err
}

func (g *instrumentedGraph) DeleteDocument(ctx context.Context, id string) (DocumentCounts, error) {
	ctx, finish := g.begin(ctx, "DeleteDocument", attribute.String("document.id", id))
	counts, err := g.inner.DeleteDocument(ctx, id)
	finish(err)
	return counts, err
}

func (g *instrumentedGraph) PutVocabularyType(ctx context.Context, t *domain.VocabularyType) error {
	ctx, finish := g.begin(ctx, "PutVocabularyType", attribute.String("type", t.Name))
	err := g.inner.PutVocabularyType(ctx, t)
	finish(err)
	return err
}

func (g *instrumentedGraph) ListVocabulary(ctx context.Context) ([]*domain.VocabularyType, error) {
	ctx, finish := g.begin(ctx, "ListVocabulary")
	ts, err := g.inner.ListVocabulary(ctx)
	finish(err)
	return ts, err
}

func (g *instrumentedGraph) PutJob(ctx context.Context, j *domain.Job) error {
	ctx, finish := g.begin(ctx, "PutJob",
		attribute.String("job.id", j.ID),
		attribute.String("job.status", string(j.Status)),
	)
	err := g.inner.PutJob(ctx, j)
	finish(err)
	return err
}

func (g *instrumentedGraph) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	ctx, finish := g.begin(ctx, "GetJob", attribute.String("job.id", id))
	j, err := g.inner.GetJob(ctx, id)
	finish(err)
	return j, err
}

func (g *instrumentedGraph) ListJobs(ctx context.Context, f JobFilter) ([]*domain.Job, error) {
	ctx, finish := g.begin(ctx, "ListJobs")
	js, err := g.inner.ListJobs(ctx, f)
	finish(err)
	return js, err
}

func (g *instrumentedGraph) DeleteJob(ctx context.Context, id string) error {
	ctx, finish := g.begin(ctx, "DeleteJob", attribute.String("job.id", id))
	err := g.inner.DeleteJob(ctx, id)
	finish(err)
	return err
}

func (g *instrumentedGraph) FindJobByContentHash(ctx context.Context, hash string) (*domain.Job, error) {
	ctx, finish := g.begin(ctx, "FindJobByContentHash")
	j, err := g.inner.FindJobByContentHash(ctx, hash)
	finish(err)
	return j, err
}

func (g *instrumentedGraph) PutModelConfig(ctx context.Context, c *domain.ModelConfig) error {
	ctx, finish := g.begin(ctx, "PutModelConfig", attribute.String("config.id", c.ID))
	err := g.inner.PutModelConfig(ctx, c)
	finish(err)
	return err
}

func (g *instrumentedGraph) GetModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	ctx, finish := g.begin(ctx, "GetModelConfig", attribute.String("config.id", id))
	c, err := g.inner.GetModelConfig(ctx, id)
	finish(err)
	return c, err
}

func (g *instrumentedGraph) ListModelConfigs(ctx context.Context, kind domain.ModelConfigKind) ([]*domain.ModelConfig, error) {
	ctx, finish := g.begin(ctx, "ListModelConfigs", attribute.String("config.kind", string(kind)))
	cs, err := g.inner.ListModelConfigs(ctx, kind)
	finish(err)
	return cs, err
}

func (g *instrumentedGraph) ActivateModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	ctx, finish := g.begin(ctx, "ActivateModelConfig", attribute.String("config.id", id))
	c, err := g.inner.ActivateModelConfig(ctx, id)
	finish(err)
	return c, err
}

func (g *instrumentedGraph) DeleteModelConfig(ctx context.Context, id string) error {
	ctx, finish := g.begin(ctx, "DeleteModelConfig", attribute.String("config.id", id))
	err := g.inner.DeleteModelConfig(ctx, id)
	finish(err)
	return err
}

func (g *instrumentedGraph) ListOntologies(ctx context.Context) ([]domain.OntologyInfo, error) {
	ctx, finish := g.begin(ctx, "ListOntologies")
	infos, err := g.inner.ListOntologies(ctx)
	finish(err)
	return infos, err
}

func (g *instrumentedGraph) RenameOntology(ctx context.Context, oldName, newName string) error {
	ctx, finish := g.begin(ctx, "RenameOntology",
		attribute.String("ontology.old", oldName),
		attribute.String("ontology.new", newName),
	)
	err := g.inner.RenameOntology(ctx, oldName, newName)
	finish(err)
	return err
}

func (g *instrumentedGraph) DeleteOntology(ctx context.Context, name string) (OntologyCounts, error) {
	ctx, finish := g.begin(ctx, "DeleteOntology", attribute.String("ontology", name))
	counts, err := g.inner.DeleteOntology(ctx, name)
	finish(err)
	return counts, err
}

func (g *instrumentedGraph) Stats(ctx context.Context, ontology string) (*domain.GraphStats, error) {
	ctx, finish := g.begin(ctx, "Stats", attribute.String("ontology", ontology))
	stats, err := g.inner.Stats(ctx, ontology)
	finish(err)
	return stats, err
}

func (g *instrumentedGraph) Close() error { return g.inner.Close() }
