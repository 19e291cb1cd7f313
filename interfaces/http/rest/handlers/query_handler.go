package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"kgraph/interfaces/http/rest/middleware"
	"kgraph/internal/kgerrors"
	"kgraph/internal/query"
	"kgraph/internal/store"
	"kgraph/pkg/api"
)

// QueryHandler handles read-side endpoints: search, concept lookups, path
// finding and polarity analysis.
type QueryHandler struct {
	svc    *query.Service
	graph  store.Graph
	logger *zap.Logger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(svc *query.Service, graph store.Graph, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		svc:    svc,
		graph:  graph,
		logger: logger,
	}
}

// Search handles POST /query/search
func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req api.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Ontology != "" && !middleware.OntologyAllowed(r.Context(), req.Ontology) {
		writeError(w, h.logger, scopeRefusal(req.Ontology))
		return
	}

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// Cross-ontology searches drop hits outside the caller's scopes.
	if req.Ontology == "" && len(middleware.ScopesFrom(r.Context())) > 0 {
		kept := resp.Hits[:0]
		for _, hit := range resp.Hits {
			if middleware.OntologyAllowed(r.Context(), hit.Ontology) {
				kept = append(kept, hit)
			}
		}
		resp.Hits = kept
	}
	api.WriteData(w, http.StatusOK, resp)
}

// Concept handles POST /query/concept, dispatching on the requested action.
func (h *QueryHandler) Concept(w http.ResponseWriter, r *http.Request) {
	var req api.ConceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkConceptScope(r.Context(), req.ConceptID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	switch req.Action {
	case "details":
		resp, err := h.svc.Details(r.Context(), req.ConceptID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		api.WriteData(w, http.StatusOK, resp)

	case "related":
		resp, err := h.svc.Related(r.Context(), req.ConceptID, req.Direction)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		api.WriteData(w, http.StatusOK, resp)

	case "connect":
		if req.ToID == "" {
			writeError(w, h.logger, kgerrors.Validation("to_id is required for action=connect"))
			return
		}
		resp, err := h.svc.Connect(r.Context(), req.ConceptID, req.ToID, req.MaxHops, req.K, req.Directed)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		api.WriteData(w, http.StatusOK, resp)

	default:
		// unreachable behind validation, kept for safety
		writeError(w, h.logger, kgerrors.Validation("unknown action %q", req.Action))
	}
}

// ConnectBySearch handles POST /query/connect-by-search
func (h *QueryHandler) ConnectBySearch(w http.ResponseWriter, r *http.Request) {
	var req api.ConnectBySearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Ontology != "" && !middleware.OntologyAllowed(r.Context(), req.Ontology) {
		writeError(w, h.logger, scopeRefusal(req.Ontology))
		return
	}

	resp, err := h.svc.ConnectBySearch(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, resp)
}

// PolarityAxis handles POST /query/polarity-axis
func (h *QueryHandler) PolarityAxis(w http.ResponseWriter, r *http.Request) {
	var req api.PolarityAxisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Ontology != "" && !middleware.OntologyAllowed(r.Context(), req.Ontology) {
		writeError(w, h.logger, scopeRefusal(req.Ontology))
		return
	}
	if err := h.checkConceptScope(r.Context(), req.PositivePoleID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkConceptScope(r.Context(), req.NegativePoleID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp, err := h.svc.PolarityAxis(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, resp)
}

// DiscoverAxes handles POST /query/discover-polarity-axes
func (h *QueryHandler) DiscoverAxes(w http.ResponseWriter, r *http.Request) {
	var req api.DiscoverAxesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Ontology != "" && !middleware.OntologyAllowed(r.Context(), req.Ontology) {
		writeError(w, h.logger, scopeRefusal(req.Ontology))
		return
	}

	resp, err := h.svc.DiscoverAxes(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, resp)
}

// checkConceptScope refuses a concept whose ontology is outside the
// caller's allowlist. Unscoped callers skip the lookup; unknown ids fall
// through so the service can answer not-found.
func (h *QueryHandler) checkConceptScope(ctx context.Context, id string) error {
	if len(middleware.ScopesFrom(ctx)) == 0 {
		return nil
	}
	concepts, err := h.graph.GetConcepts(ctx, []string{id})
	if err != nil || len(concepts) == 0 {
		return nil
	}
	if !middleware.OntologyAllowed(ctx, concepts[0].Ontology) {
		return scopeRefusal(concepts[0].Ontology)
	}
	return nil
}
