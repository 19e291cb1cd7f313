package api

// IngestTextRequest is the body for POST /ingest/text.
type IngestTextRequest struct {
	Content       string `json:"content" validate:"required"`
	Filename      string `json:"filename,omitempty"`
	Ontology      string `json:"ontology,omitempty"`
	TargetWords   int    `json:"target_words,omitempty" validate:"omitempty,min=100,max=4000"`
	OverlapWords  int    `json:"overlap_words,omitempty" validate:"omitempty,min=0,max=1000"`
	ProcessMode   string `json:"process_mode,omitempty" validate:"omitempty,oneof=serial parallel"`
	AutoApprove   bool   `json:"auto_approve,omitempty"`
	ForceReingest bool   `json:"force_reingest,omitempty"`
}

// IngestURLRequest is the body for POST /ingest/url.
type IngestURLRequest struct {
	URL           string `json:"url" validate:"required,url"`
	Ontology      string `json:"ontology,omitempty"`
	TargetWords   int    `json:"target_words,omitempty" validate:"omitempty,min=100,max=4000"`
	OverlapWords  int    `json:"overlap_words,omitempty" validate:"omitempty,min=0,max=1000"`
	ProcessMode   string `json:"process_mode,omitempty" validate:"omitempty,oneof=serial parallel"`
	AutoApprove   bool   `json:"auto_approve,omitempty"`
	ForceReingest bool   `json:"force_reingest,omitempty"`
}

// SearchRequest is the body for POST /query/search. Mode defaults to
// semantic; grounding and evidence are opt-in because both cost extra store
// reads per hit.
type SearchRequest struct {
	Query            string  `json:"query" validate:"required"`
	Limit            int     `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Offset           int     `json:"offset,omitempty" validate:"omitempty,min=0"`
	MinSimilarity    float64 `json:"min_similarity,omitempty" validate:"omitempty,min=0,max=1"`
	Ontology         string  `json:"ontology,omitempty"`
	Mode             string  `json:"mode,omitempty" validate:"omitempty,oneof=semantic keyword hybrid"`
	IncludeGrounding bool    `json:"include_grounding,omitempty"`
	IncludeEvidence  bool    `json:"include_evidence,omitempty"`
}

// ConceptRequest is the body for POST /query/concept. Action selects the
// operation: details, related (Direction applies), or connect (ToID
// required; MaxHops, K and Directed apply).
type ConceptRequest struct {
	ConceptID string `json:"concept_id" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=details related connect"`
	ToID      string `json:"to_id,omitempty"`
	MaxHops   int    `json:"max_hops,omitempty" validate:"omitempty,min=1,max=10"`
	Direction string `json:"direction,omitempty" validate:"omitempty,oneof=out in either"`
	Directed  bool   `json:"directed,omitempty"`
	K         int    `json:"k,omitempty" validate:"omitempty,min=1,max=5"`
}

// ConnectBySearchRequest is the body for POST /query/connect-by-search:
// resolve each free-text query to its best-matching concept, then find
// paths between the two.
type ConnectBySearchRequest struct {
	FromQuery     string  `json:"from_query" validate:"required"`
	ToQuery       string  `json:"to_query" validate:"required"`
	MaxHops       int     `json:"max_hops,omitempty" validate:"omitempty,min=1,max=10"`
	MinSimilarity float64 `json:"min_similarity,omitempty" validate:"omitempty,min=0,max=1"`
	Ontology      string  `json:"ontology,omitempty"`
	Directed      bool    `json:"directed,omitempty"`
	K             int     `json:"k,omitempty" validate:"omitempty,min=1,max=5"`
}

// PolarityAxisRequest is the body for POST /query/polarity-axis.
// CandidateDiscovery defaults to true when no candidate ids are given; nil
// means unset.
type PolarityAxisRequest struct {
	PositivePoleID        string   `json:"positive_pole_id" validate:"required"`
	NegativePoleID        string   `json:"negative_pole_id" validate:"required"`
	CandidateIDs          []string `json:"candidate_ids,omitempty"`
	CandidateDiscovery    *bool    `json:"candidate_discovery,omitempty"`
	IncludeGrounding      bool     `json:"include_grounding,omitempty"`
	IncludePathAnalysis   bool     `json:"include_path_analysis,omitempty"`
	IncludeSourceEvidence bool     `json:"include_source_evidence,omitempty"`
	Ontology              string   `json:"ontology,omitempty"`
	MaxResults            int      `json:"max_results,omitempty" validate:"omitempty,min=1,max=200"`
}

// DiscoverAxesRequest is the body for POST /query/discover-polarity-axes.
// RelationshipTypes defaults to the antonymous builtins (CONTRASTS_WITH,
// OPPOSITE_OF).
type DiscoverAxesRequest struct {
	RelationshipTypes []string `json:"relationship_types,omitempty"`
	MinMagnitude      float64  `json:"min_magnitude,omitempty" validate:"omitempty,min=0"`
	MaxResults        int      `json:"max_results,omitempty" validate:"omitempty,min=1,max=50"`
	Ontology          string   `json:"ontology,omitempty"`
}

// ConsolidateRequest is the body for POST /vocabulary/consolidate.
type ConsolidateRequest struct {
	TargetSize int     `json:"target_size,omitempty" validate:"omitempty,min=1"`
	Threshold  float64 `json:"threshold,omitempty" validate:"omitempty,min=0.5,max=1"`
	DryRun     bool    `json:"dry_run,omitempty"`
	MaxPairs   int     `json:"max_pairs,omitempty" validate:"omitempty,min=1,max=100"`
}

// MergeTypesRequest is the body for POST /vocabulary/merge.
type MergeTypesRequest struct {
	From   string `json:"from" validate:"required"`
	Into   string `json:"into" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// ApproveJobRequest is the optional body for POST /jobs/{id}/approve.
type ApproveJobRequest struct {
	Note string `json:"note,omitempty"`
}

// RenameOntologyRequest is the body for POST /ontology/{name}/rename.
type RenameOntologyRequest struct {
	NewName string `json:"new_name" validate:"required"`
}

// ModelConfigRequest is the body for PUT /admin/embedding-config and
// PUT /admin/extraction-config. APIKeyEnv names the environment variable
// holding the provider key; the key itself is never sent or stored.
type ModelConfigRequest struct {
	Name            string `json:"name" validate:"required"`
	Provider        string `json:"provider" validate:"required,oneof=openai gemini mock"`
	Model           string `json:"model" validate:"required"`
	Dimension       int    `json:"dimension,omitempty" validate:"omitempty,min=8,max=8192"`
	APIKeyEnv       string `json:"api_key_env,omitempty"`
	BaseURL         string `json:"base_url,omitempty" validate:"omitempty,url"`
	DeleteProtected bool   `json:"delete_protected,omitempty"`
	ChangeProtected bool   `json:"change_protected,omitempty"`
}

// ActivateConfigRequest is the body for POST /admin/{kind}-config/activate.
type ActivateConfigRequest struct {
	ConfigID string `json:"config_id" validate:"required"`
}
