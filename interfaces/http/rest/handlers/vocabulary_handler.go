package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"kgraph/internal/vocab"
	"kgraph/pkg/api"
)

// VocabularyHandler handles relationship vocabulary endpoints.
type VocabularyHandler struct {
	manager      *vocab.Manager
	consolidator *vocab.Consolidator
	logger       *zap.Logger
}

// NewVocabularyHandler creates a new vocabulary handler
func NewVocabularyHandler(manager *vocab.Manager, consolidator *vocab.Consolidator, logger *zap.Logger) *VocabularyHandler {
	return &VocabularyHandler{
		manager:      manager,
		consolidator: consolidator,
		logger:       logger,
	}
}

// Status handles GET /vocabulary/status
func (h *VocabularyHandler) Status(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Status()
	api.WriteData(w, http.StatusOK, api.VocabStatus{
		ActiveCount:   s.ActiveCount,
		TotalCount:    s.TotalCount,
		BuiltinActive: s.BuiltinActive,
		CreatedActive: s.CreatedActive,
		Zone:          string(s.Zone),
		Note:          s.Note,
		ByCategory:    s.ByCategory,
	})
}

// List handles GET /vocabulary/list
func (h *VocabularyHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))

	types := h.manager.List(includeInactive)
	views := make([]api.VocabTypeView, 0, len(types))
	for _, t := range types {
		views = append(views, api.VocabTypeView{
			Name:        t.Name,
			Description: t.Description,
			Category:    t.Category,
			Direction:   string(t.Direction),
			Builtin:     t.Builtin,
			Active:      t.Active,
			Ambiguous:   t.Ambiguous,
			UsageCount:  t.UsageCount,
			MergedInto:  t.MergedInto,
		})
	}
	api.WriteData(w, http.StatusOK, views)
}

// Consolidate handles POST /vocabulary/consolidate
func (h *VocabularyHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req api.ConsolidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	report, err := h.consolidator.Run(r.Context(), vocab.Options{
		TargetSize: req.TargetSize,
		Threshold:  req.Threshold,
		DryRun:     req.DryRun,
		MaxPairs:   req.MaxPairs,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	view := api.ConsolidationReport{
		DryRun:      report.DryRun,
		StartActive: report.StartActive,
		EndActive:   report.EndActive,
		Pairs:       report.Pairs,
		Merged:      report.Merged,
	}
	for _, d := range report.Decisions {
		view.Decisions = append(view.Decisions, api.ConsolidationDecision{
			Source:     d.Source,
			Target:     d.Target,
			Similarity: d.Similarity,
			Action:     d.Action,
			Reason:     d.Reason,
			EdgesMoved: d.EdgesMoved,
		})
	}
	api.WriteData(w, http.StatusOK, view)
}

// Merge handles POST /vocabulary/merge
func (h *VocabularyHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req api.MergeTypesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	moved, err := h.manager.Merge(r.Context(), req.From, req.Into, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, api.MergeResult{
		From:       req.From,
		Into:       req.Into,
		EdgesMoved: moved,
	})
}

// GenerateEmbeddings handles POST /vocabulary/generate-embeddings
func (h *VocabularyHandler) GenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.GenerateEmbeddings(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, api.EmbeddingsGenerated{Embedded: n})
}
