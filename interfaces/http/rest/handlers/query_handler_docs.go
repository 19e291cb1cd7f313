package handlers

// This file contains OpenAPI/Swagger documentation for QueryHandler endpoints

// Search searches concepts
// @Summary Search concepts
// @Description Semantic, keyword or hybrid search over one or all ontologies, with optional grounding and evidence hydration
// @Tags query
// @Accept json
// @Produce json
// @Param request body api.SearchRequest true "Search parameters"
// @Success 200 {object} api.SearchResponse "Ranked hits; a hint appears when close matches sit under the cutoff"
// @Failure 400 {object} api.ErrorBody "Invalid parameters"
// @Router /query/search [post]

// Concept inspects one concept
// @Summary Concept operations
// @Description Dispatches on action: details, related neighbors grouped by type, or connecting paths to another concept
// @Tags query
// @Accept json
// @Produce json
// @Param request body api.ConceptRequest true "Concept id and action"
// @Success 200 {object} api.ConceptDetails "action=details"
// @Success 200 {object} api.RelatedResponse "action=related"
// @Success 200 {object} api.ConnectResponse "action=connect; budget_exceeded marks a partial result"
// @Failure 400 {object} api.ErrorBody "Invalid action or missing to_id"
// @Failure 404 {object} api.ErrorBody "Concept not found"
// @Router /query/concept [post]

// ConnectBySearch finds paths between two free-text queries
// @Summary Connect by search
// @Description Resolves each query to its best-matching concept, then finds paths between them
// @Tags query
// @Accept json
// @Produce json
// @Param request body api.ConnectBySearchRequest true "Pole queries and path parameters"
// @Success 200 {object} api.ConnectBySearchResponse "Matched poles and paths"
// @Failure 400 {object} api.ErrorBody "Invalid parameters"
// @Failure 404 {object} api.ErrorBody "No concept matched a pole query"
// @Router /query/connect-by-search [post]

// PolarityAxis projects concepts onto a semantic axis
// @Summary Polarity axis analysis
// @Description Builds the axis between two pole concepts and projects candidates onto it, with optional statistics, grounding correlation and path analysis
// @Tags query
// @Accept json
// @Produce json
// @Param request body api.PolarityAxisRequest true "Pole ids and analysis options"
// @Success 200 {object} api.PolarityAnalysis "Axis, projections and statistics"
// @Failure 400 {object} api.ErrorBody "Invalid poles"
// @Failure 404 {object} api.ErrorBody "Pole concept not found"
// @Router /query/polarity-axis [post]

// DiscoverAxes finds candidate polarity axes
// @Summary Discover polarity axes
// @Description Scans antonymous relationships for well-separated concept pairs that make usable axes
// @Tags query
// @Accept json
// @Produce json
// @Param request body api.DiscoverAxesRequest true "Discovery parameters"
// @Success 200 {object} api.DiscoverResponse "Ranked candidate axes"
// @Failure 400 {object} api.ErrorBody "Invalid parameters"
// @Router /query/discover-polarity-axes [post]
