package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kgraph/interfaces/http/rest/middleware"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/index"
	"kgraph/internal/ingest"
	"kgraph/internal/kgerrors"
	"kgraph/internal/query"
	"kgraph/internal/store"
	"kgraph/internal/vector"
	"kgraph/pkg/api"
)

// reindexPage is the ListConcepts page size used when rebuilding keyword
// entries after an ontology rename.
const reindexPage = 500

// OntologyHandler handles ontology and document management endpoints. The
// destructive operations keep the vector and keyword indexes in step with
// the store and drop cached grounding.
type OntologyHandler struct {
	graph     store.Graph
	objects   *ingest.ObjectStore
	vectors   *vector.Index
	keywords  *index.Keyword
	queries   *query.Service
	publisher events.Publisher
	logger    *zap.Logger
}

// NewOntologyHandler creates a new ontology handler
func NewOntologyHandler(
	graph store.Graph,
	objects *ingest.ObjectStore,
	vectors *vector.Index,
	keywords *index.Keyword,
	queries *query.Service,
	publisher events.Publisher,
	logger *zap.Logger,
) *OntologyHandler {
	return &OntologyHandler{
		graph:     graph,
		objects:   objects,
		vectors:   vectors,
		keywords:  keywords,
		queries:   queries,
		publisher: publisher,
		logger:    logger,
	}
}

// ListOntologies handles GET /ontology
func (h *OntologyHandler) ListOntologies(w http.ResponseWriter, r *http.Request) {
	infos, err := h.graph.ListOntologies(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]api.OntologyView, 0, len(infos))
	for _, info := range infos {
		if !middleware.OntologyAllowed(r.Context(), info.Name) {
			continue
		}
		views = append(views, ontologyView(info))
	}
	api.WriteData(w, http.StatusOK, views)
}

// GetOntology handles GET /ontology/{name}
func (h *OntologyHandler) GetOntology(w http.ResponseWriter, r *http.Request) {
	name, err := h.pathOntology(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	stats, err := h.graph.Stats(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if stats.Concepts == 0 && stats.Documents == 0 {
		writeError(w, h.logger, kgerrors.NotFound("ontology", name))
		return
	}
	api.WriteData(w, http.StatusOK, api.StatsView{
		Concepts:      stats.Concepts,
		Sources:       stats.Sources,
		Instances:     stats.Instances,
		Relationships: stats.Relationships,
		Documents:     stats.Documents,
		EdgeTypes:     stats.EdgeTypes,
		Ontologies:    stats.Ontologies,
	})
}

// ListFiles handles GET /ontology/{name}/files
func (h *OntologyHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	name, err := h.pathOntology(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	docs, err := h.graph.ListDocuments(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]api.DocumentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, documentView(doc))
	}
	api.WriteData(w, http.StatusOK, views)
}

// RenameOntology handles POST /ontology/{name}/rename
func (h *OntologyHandler) RenameOntology(w http.ResponseWriter, r *http.Request) {
	name, err := h.pathOntology(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req api.RenameOntologyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.NewName == name {
		writeError(w, h.logger, kgerrors.Validation("new name equals the current name"))
		return
	}
	if !middleware.OntologyAllowed(r.Context(), req.NewName) {
		writeError(w, h.logger, scopeRefusal(req.NewName))
		return
	}

	ctx := r.Context()
	if err := h.graph.RenameOntology(store.WithWriteIntent(ctx), name, req.NewName); err != nil {
		writeError(w, h.logger, err)
		return
	}

	// Concept ids are stable across a rename, so the vector partition moves
	// wholesale and the keyword entries are upserted with the new ontology.
	h.vectors.RenameOntology(name, req.NewName)
	h.reindexKeywords(r, req.NewName)
	h.queries.InvalidateGrounding()

	h.publish(r, events.Event{
		Type:      events.TypeOntologyRenamed,
		Aggregate: req.NewName,
		Ontology:  req.NewName,
		Detail:    map[string]any{"renamed_from": name},
	})
	h.logger.Info("ontology renamed",
		zap.String("from", name), zap.String("to", req.NewName))

	stats, err := h.graph.Stats(ctx, req.NewName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, api.OntologyView{
		Name:          req.NewName,
		Concepts:      stats.Concepts,
		Sources:       stats.Sources,
		Instances:     stats.Instances,
		Relationships: stats.Relationships,
		Documents:     stats.Documents,
	})
}

// DeleteOntology handles DELETE /ontology/{name}
func (h *OntologyHandler) DeleteOntology(w http.ResponseWriter, r *http.Request) {
	name, err := h.pathOntology(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ctx := r.Context()
	counts, err := h.graph.DeleteOntology(store.WithWriteIntent(ctx), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.vectors.DropOntology(name)
	if kerr := h.keywords.DeleteOntology(ctx, name); kerr != nil {
		h.logger.Warn("keyword index cleanup failed",
			zap.String("ontology", name), zap.Error(kerr))
	}
	h.queries.InvalidateGrounding()

	h.publish(r, events.Event{
		Type:      events.TypeOntologyDeleted,
		Aggregate: name,
		Ontology:  name,
		Detail: map[string]any{
			"concepts":  counts.Concepts,
			"documents": counts.Documents,
		},
	})
	h.logger.Info("ontology deleted",
		zap.String("ontology", name),
		zap.Int("concepts", counts.Concepts),
		zap.Int("documents", counts.Documents))

	api.WriteData(w, http.StatusOK, api.OntologyDeleted{
		Name:          name,
		Concepts:      counts.Concepts,
		Sources:       counts.Sources,
		Instances:     counts.Instances,
		Relationships: counts.Relationships,
		Documents:     counts.Documents,
	})
}

// GetDocumentContent handles GET /documents/{documentID}/content
func (h *OntologyHandler) GetDocumentContent(w http.ResponseWriter, r *http.Request) {
	doc, err := h.fetchDocument(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if doc.ObjectKey == "" {
		writeError(w, h.logger, kgerrors.NotFound("document content", doc.ID))
		return
	}

	data, err := h.objects.Get(doc.ObjectKey)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	contentType := doc.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteDocument handles DELETE /documents/{documentID}
func (h *OntologyHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.fetchDocument(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ctx := r.Context()
	counts, err := h.graph.DeleteDocument(store.WithWriteIntent(ctx), doc.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if doc.ObjectKey != "" {
		if oerr := h.objects.Delete(doc.ObjectKey); oerr != nil {
			h.logger.Warn("document payload cleanup failed",
				zap.String("document_id", doc.ID), zap.Error(oerr))
		}
	}
	h.queries.InvalidateGrounding()

	h.publish(r, events.Event{
		Type:      events.TypeDocumentDeleted,
		Aggregate: doc.ID,
		Ontology:  doc.Ontology,
		Detail: map[string]any{
			"sources_deleted": counts.Sources,
			"edges_deleted":   counts.EdgesDeleted,
		},
	})
	h.logger.Info("document deleted",
		zap.String("document_id", doc.ID),
		zap.String("ontology", doc.Ontology),
		zap.Int("sources", counts.Sources),
		zap.Int("edges_deleted", counts.EdgesDeleted))

	api.WriteData(w, http.StatusOK, api.DocumentDeleted{
		DocumentID:   doc.ID,
		Sources:      counts.Sources,
		Instances:    counts.Instances,
		EdgesTrimmed: counts.EdgesTrimmed,
		EdgesDeleted: counts.EdgesDeleted,
	})
}

// pathOntology extracts the ontology name from the path and enforces the
// caller's scopes.
func (h *OntologyHandler) pathOntology(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if name == "" {
		return "", kgerrors.Validation("ontology name is required")
	}
	if !middleware.OntologyAllowed(r.Context(), name) {
		return "", scopeRefusal(name)
	}
	return name, nil
}

// fetchDocument loads the path document and enforces the caller's scopes.
func (h *OntologyHandler) fetchDocument(r *http.Request) (*domain.Document, error) {
	id := chi.URLParam(r, "documentID")
	if id == "" {
		return nil, kgerrors.Validation("document id is required")
	}
	doc, err := h.graph.GetDocument(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !middleware.OntologyAllowed(r.Context(), doc.Ontology) {
		return nil, scopeRefusal(doc.Ontology)
	}
	return doc, nil
}

// reindexKeywords pages through the renamed ontology's concepts and upserts
// their keyword entries. Index trouble degrades keyword search until the
// next reindex; it never fails the rename.
func (h *OntologyHandler) reindexKeywords(r *http.Request, ontology string) {
	for offset := 0; ; offset += reindexPage {
		concepts, err := h.graph.ListConcepts(r.Context(), ontology, reindexPage, offset)
		if err == nil && len(concepts) > 0 {
			err = h.keywords.IndexConcepts(concepts)
		}
		if err != nil {
			h.logger.Warn("keyword reindex failed",
				zap.String("ontology", ontology), zap.Int("offset", offset), zap.Error(err))
			return
		}
		if len(concepts) < reindexPage {
			return
		}
	}
}

func (h *OntologyHandler) publish(r *http.Request, ev events.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(r.Context(), ev); err != nil {
		h.logger.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func ontologyView(info domain.OntologyInfo) api.OntologyView {
	return api.OntologyView{
		Name:          info.Name,
		Concepts:      info.Concepts,
		Sources:       info.Sources,
		Instances:     info.Instances,
		Relationships: info.Relationships,
		Documents:     info.Documents,
	}
}

func documentView(doc *domain.Document) api.DocumentView {
	return api.DocumentView{
		ID:          doc.ID,
		Filename:    doc.Filename,
		SourceURL:   doc.SourceURL,
		ContentType: string(doc.ContentType),
		SizeBytes:   doc.SizeBytes,
		IngestedAt:  doc.IngestedAt,
	}
}
