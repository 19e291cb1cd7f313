package api

import "time"

// JobAccepted is returned by every ingestion endpoint.
type JobAccepted struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	ContentHash   string  `json:"content_hash"`
	ChunkCount    int     `json:"chunk_count"`
	CostEstimate  float64 `json:"cost_estimate"`
	Duplicate     bool    `json:"duplicate,omitempty"`
	ExistingJobID string  `json:"existing_job_id,omitempty"`
}

// JobView is the full job representation.
type JobView struct {
	JobID       string       `json:"job_id"`
	Type        string       `json:"type"`
	Status      string       `json:"status"`
	Principal   string       `json:"principal,omitempty"`
	Ontology    string       `json:"ontology"`
	ContentHash string       `json:"content_hash,omitempty"`
	Filename    string       `json:"filename,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"`
	Progress    ProgressView `json:"progress"`
	Cost        CostView     `json:"cost"`
	Error       string       `json:"error,omitempty"`
	ChunkErrors []ChunkError `json:"chunk_errors,omitempty"`
	Protected   bool         `json:"protected,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// ProgressView reports ingestion progress counters.
type ProgressView struct {
	Stage            string  `json:"stage,omitempty"`
	ChunksTotal      int     `json:"chunks_total"`
	ChunksDone       int     `json:"chunks_done"`
	Percent          float64 `json:"percent"`
	ConceptsCreated  int     `json:"concepts_created"`
	ConceptsReused   int     `json:"concepts_reused"`
	InstancesCreated int     `json:"instances_created"`
	EdgesCreated     int     `json:"edges_created"`
	NewTypesCreated  int     `json:"new_types_created"`
	TokensIn         int64   `json:"tokens_in"`
	TokensOut        int64   `json:"tokens_out"`
}

// CostView reports estimated and actual spend.
type CostView struct {
	EstimatedUSD float64 `json:"estimated_usd"`
	ActualUSD    float64 `json:"actual_usd"`
}

// ChunkError records a single failed chunk inside an otherwise running job.
type ChunkError struct {
	ChunkIndex int       `json:"chunk_index"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// SearchHit is one row of a search result. EvidenceCount, Documents,
// Grounding and Evidence are filled only when the request asked for them.
type SearchHit struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Description   string         `json:"description,omitempty"`
	Ontology      string         `json:"ontology"`
	Score         float64        `json:"score"`
	EvidenceCount int            `json:"evidence_count,omitempty"`
	Documents     []string       `json:"documents,omitempty"`
	Grounding     *GroundingView `json:"grounding,omitempty"`
	Evidence      []InstanceView `json:"evidence,omitempty"`
}

// ThresholdHint suggests a looser similarity cutoff when a search comes back
// nearly empty but close matches sit just under it.
type ThresholdHint struct {
	BelowThresholdCount int     `json:"below_threshold_count"`
	SuggestedThreshold  float64 `json:"suggested_threshold"`
	TopMatchLabel       string  `json:"top_match_label,omitempty"`
	TopMatchScore       float64 `json:"top_match_score,omitempty"`
}

// SearchResponse is returned by POST /query/search.
type SearchResponse struct {
	Query string         `json:"query"`
	Mode  string         `json:"mode"`
	Hits  []SearchHit    `json:"hits"`
	Hint  *ThresholdHint `json:"hint,omitempty"`
}

// InstanceView is one verbatim appearance of a concept in a source.
type InstanceView struct {
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id,omitempty"`
	Quote      string `json:"quote"`
	ChunkIndex int    `json:"chunk_index"`
}

// ConceptDetails is returned by POST /query/concept with action=details.
type ConceptDetails struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Description   string         `json:"description,omitempty"`
	SearchTerms   []string       `json:"search_terms,omitempty"`
	Ontology      string         `json:"ontology"`
	CreatedAt     time.Time      `json:"created_at"`
	InstanceCount int            `json:"instance_count"`
	EdgeCounts    map[string]int `json:"edge_counts,omitempty"`
	Instances     []InstanceView `json:"instances,omitempty"`
	Grounding     *GroundingView `json:"grounding,omitempty"`
}

// NeighborView is one adjacent concept.
type NeighborView struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// NeighborGroup groups neighbors under one relationship type.
type NeighborGroup struct {
	Type      string         `json:"type"`
	Neighbors []NeighborView `json:"neighbors"`
}

// RelatedResponse is returned by POST /query/concept with action=related.
type RelatedResponse struct {
	ID     string          `json:"id"`
	Label  string          `json:"label"`
	Groups []NeighborGroup `json:"groups"`
}

// PathNode is one concept along a found path.
type PathNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PathEdge is the relationship between consecutive path nodes.
type PathEdge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// PathView is one path between two concepts.
type PathView struct {
	Nodes []PathNode `json:"nodes"`
	Edges []PathEdge `json:"edges"`
	Hops  int        `json:"hops"`
}

// ConnectResponse is returned by POST /query/concept with action=connect.
// BudgetExceeded marks a partial result cut short by the hop, frontier or
// wall-clock budget.
type ConnectResponse struct {
	From           string     `json:"from"`
	To             string     `json:"to"`
	Paths          []PathView `json:"paths"`
	BudgetExceeded bool       `json:"budget_exceeded,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// MatchedConcept reports which concept a free-text pole query resolved to.
type MatchedConcept struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ConnectBySearchResponse is returned by POST /query/connect-by-search.
type ConnectBySearchResponse struct {
	FromMatch      *MatchedConcept `json:"from_match,omitempty"`
	ToMatch        *MatchedConcept `json:"to_match,omitempty"`
	Paths          []PathView      `json:"paths"`
	BudgetExceeded bool            `json:"budget_exceeded,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// AxisView describes a polarity axis between two pole concepts.
type AxisView struct {
	PositivePoleID    string  `json:"positive_pole_id"`
	PositivePoleLabel string  `json:"positive_pole_label"`
	NegativePoleID    string  `json:"negative_pole_id"`
	NegativePoleLabel string  `json:"negative_pole_label"`
	Magnitude         float64 `json:"magnitude"`
	Quality           string  `json:"quality"`
	WeakAxis          bool    `json:"weak_axis,omitempty"`
}

// ProjectionView is one concept projected onto an axis. Position is in
// [-1, 1] with the poles at the ends.
type ProjectionView struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Position     float64        `json:"position"`
	Direction    string         `json:"direction"`
	AxisDistance float64        `json:"axis_distance"`
	Grounding    *GroundingView `json:"grounding,omitempty"`
	Evidence     []InstanceView `json:"evidence,omitempty"`
}

// CorrelationView reports how grounding tracks axis position across the
// projected candidates.
type CorrelationView struct {
	R        float64 `json:"r"`
	Strength string  `json:"strength"`
	Samples  int     `json:"samples"`
}

// AxisStatistics summarizes the projected population.
type AxisStatistics struct {
	MeanPosition     float64        `json:"mean_position"`
	StdDev           float64        `json:"std_dev"`
	MinPosition      float64        `json:"min_position"`
	MaxPosition      float64        `json:"max_position"`
	MeanAxisDistance float64        `json:"mean_axis_distance"`
	DirectionCounts  map[string]int `json:"direction_counts"`
}

// PathAnalysisView scores one pole-to-pole path by how steadily its nodes
// advance along the axis.
type PathAnalysisView struct {
	Path          PathView  `json:"path"`
	Positions     []float64 `json:"positions"`
	Coherence     float64   `json:"coherence"`
	MeanCurvature float64   `json:"mean_curvature"`
}

// PolarityAnalysis is returned by POST /query/polarity-axis.
type PolarityAnalysis struct {
	Axis         AxisView           `json:"axis"`
	Projections  []ProjectionView   `json:"projections"`
	Statistics   *AxisStatistics    `json:"statistics,omitempty"`
	Correlation  *CorrelationView   `json:"correlation,omitempty"`
	PathAnalysis []PathAnalysisView `json:"path_analysis,omitempty"`
	Warning      string             `json:"warning,omitempty"`
}

// DiscoveredAxis is one candidate opposition found in the graph.
type DiscoveredAxis struct {
	ConceptA  string  `json:"concept_a"`
	LabelA    string  `json:"label_a"`
	ConceptB  string  `json:"concept_b"`
	LabelB    string  `json:"label_b"`
	EdgeType  string  `json:"edge_type"`
	Magnitude float64 `json:"magnitude"`
	Quality   string  `json:"quality"`
}

// DiscoverResponse is returned by POST /query/discover-polarity-axes.
type DiscoverResponse struct {
	Ontology string           `json:"ontology"`
	Axes     []DiscoveredAxis `json:"axes"`
}

// GroundingView reports evidential support for a concept.
type GroundingView struct {
	Score         float64 `json:"score"`
	Affirmative   float64 `json:"affirmative"`
	Contradictory float64 `json:"contradictory"`
}

// VocabStatus is returned by GET /vocabulary/status.
type VocabStatus struct {
	ActiveCount   int            `json:"active_count"`
	TotalCount    int            `json:"total_count"`
	BuiltinActive int            `json:"builtin_active"`
	CreatedActive int            `json:"created_active"`
	Zone          string         `json:"zone"`
	Note          string         `json:"note,omitempty"`
	ByCategory    map[string]int `json:"by_category"`
}

// VocabTypeView is one relationship type.
type VocabTypeView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Direction   string `json:"direction"`
	Builtin     bool   `json:"builtin"`
	Active      bool   `json:"active"`
	Ambiguous   bool   `json:"ambiguous,omitempty"`
	UsageCount  int    `json:"usage_count"`
	MergedInto  string `json:"merged_into,omitempty"`
}

// ConsolidationDecision records the outcome for one evaluated pair.
type ConsolidationDecision struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Similarity float64 `json:"similarity"`
	Action     string  `json:"action"`
	Reason     string  `json:"reason,omitempty"`
	EdgesMoved int     `json:"edges_moved,omitempty"`
}

// ConsolidationReport is returned by POST /vocabulary/consolidate.
type ConsolidationReport struct {
	DryRun      bool                    `json:"dry_run"`
	StartActive int                     `json:"start_active"`
	EndActive   int                     `json:"end_active"`
	Pairs       int                     `json:"candidate_pairs"`
	Decisions   []ConsolidationDecision `json:"decisions"`
	Merged      int                     `json:"merged"`
}

// MergeResult is returned by POST /vocabulary/merge.
type MergeResult struct {
	From       string `json:"from"`
	Into       string `json:"into"`
	EdgesMoved int    `json:"edges_moved"`
}

// EmbeddingsGenerated is returned by POST /vocabulary/generate-embeddings.
type EmbeddingsGenerated struct {
	Embedded int `json:"embedded"`
}

// OntologyView summarizes one named graph partition.
type OntologyView struct {
	Name          string `json:"name"`
	Concepts      int    `json:"concepts"`
	Sources       int    `json:"sources"`
	Instances     int    `json:"instances"`
	Relationships int    `json:"relationships"`
	Documents     int    `json:"documents"`
}

// DocumentView is one ingested document.
type DocumentView struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// DocumentDeleted reports what DELETE /documents/{id} removed. Edges that
// kept other evidence survive as trimmed; edges whose evidence emptied out
// are deleted.
type DocumentDeleted struct {
	DocumentID   string `json:"document_id"`
	Sources      int    `json:"sources_deleted"`
	Instances    int    `json:"instances_deleted"`
	EdgesTrimmed int    `json:"edges_trimmed"`
	EdgesDeleted int    `json:"edges_deleted"`
}

// OntologyDeleted reports what DELETE /ontology/{name} removed.
type OntologyDeleted struct {
	Name          string `json:"name"`
	Concepts      int    `json:"concepts_deleted"`
	Sources       int    `json:"sources_deleted"`
	Instances     int    `json:"instances_deleted"`
	Relationships int    `json:"relationships_deleted"`
	Documents     int    `json:"documents_deleted"`
}

// StatsView is returned by GET /ontology/{name}.
type StatsView struct {
	Concepts      int            `json:"concepts"`
	Sources       int            `json:"sources"`
	Instances     int            `json:"instances"`
	Relationships int            `json:"relationships"`
	Documents     int            `json:"documents"`
	EdgeTypes     map[string]int `json:"edge_types,omitempty"`
	Ontologies    int            `json:"ontologies"`
}

// ModelConfigView is one stored provider profile. The API key itself never
// appears; APIKeyEnv names the environment variable that holds it.
type ModelConfigView struct {
	ID              string    `json:"config_id"`
	Kind            string    `json:"kind"`
	Name            string    `json:"name"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	Dimension       int       `json:"dimension,omitempty"`
	APIKeyEnv       string    `json:"api_key_env,omitempty"`
	BaseURL         string    `json:"base_url,omitempty"`
	Active          bool      `json:"active"`
	DeleteProtected bool      `json:"delete_protected"`
	ChangeProtected bool      `json:"change_protected"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ModelConfigList is returned by GET /admin/{kind}-config.
type ModelConfigList struct {
	Kind    string            `json:"kind"`
	Configs []ModelConfigView `json:"configs"`
}

// HealthView is returned by GET /health.
type HealthView struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ReadyView is returned by GET /ready once dependencies answer.
type ReadyView struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
