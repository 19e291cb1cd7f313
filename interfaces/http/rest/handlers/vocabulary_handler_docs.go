package handlers

// This file contains OpenAPI/Swagger documentation for VocabularyHandler endpoints

// Status reports vocabulary health
// @Summary Vocabulary status
// @Description Reports active type counts, the size zone and the per-category breakdown
// @Tags vocabulary
// @Produce json
// @Success 200 {object} api.VocabStatus "Status"
// @Router /vocabulary/status [get]

// List lists relationship types
// @Summary List vocabulary
// @Tags vocabulary
// @Produce json
// @Param include_inactive query bool false "Include deactivated and merged-away types"
// @Success 200 {array} api.VocabTypeView "Types"
// @Router /vocabulary/list [get]

// Consolidate merges synonym relationship types
// @Summary Consolidate vocabulary
// @Description Finds near-synonym type pairs by embedding similarity and merges the ones the adjudicator confirms; dry_run plans without mutating
// @Tags vocabulary
// @Accept json
// @Produce json
// @Param request body api.ConsolidateRequest true "Consolidation parameters"
// @Success 200 {object} api.ConsolidationReport "Per-pair decisions and totals"
// @Failure 400 {object} api.ErrorBody "Invalid parameters"
// @Router /vocabulary/consolidate [post]

// Merge merges one relationship type into another
// @Summary Merge types
// @Description Re-types every edge of the source type onto the target and deactivates the source
// @Tags vocabulary
// @Accept json
// @Produce json
// @Param request body api.MergeTypesRequest true "Source, target and reason"
// @Success 200 {object} api.MergeResult "Edges moved"
// @Failure 404 {object} api.ErrorBody "Unknown type"
// @Failure 409 {object} api.ErrorBody "Inactive source or protected builtin"
// @Router /vocabulary/merge [post]

// GenerateEmbeddings backfills vocabulary embeddings
// @Summary Generate type embeddings
// @Description Embeds every active type that is missing its vector, enabling similarity-based resolution
// @Tags vocabulary
// @Produce json
// @Success 200 {object} api.EmbeddingsGenerated "Count embedded"
// @Router /vocabulary/generate-embeddings [post]
