package domain

import (
	"time"
)

// JobStatus is the lifecycle state of an asynchronous job.
//
//	submitted → awaiting_approval → approved → running → completed | failed | cancelled
//	              ↓ expired              ↓ cancelled
//	            cancelled
//
// auto-approve submissions skip awaiting_approval and land directly in
// approved.
type JobStatus string

const (
	JobSubmitted        JobStatus = "submitted"
	JobAwaitingApproval JobStatus = "awaiting_approval"
	JobApproved         JobStatus = "approved"
	JobRunning          JobStatus = "running"
	JobCompleted        JobStatus = "completed"
	JobFailed           JobStatus = "failed"
	JobCancelled        JobStatus = "cancelled"
	JobExpired          JobStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// jobTransitions enumerates the legal state machine edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobSubmitted:        {JobAwaitingApproval, JobApproved, JobCancelled},
	JobAwaitingApproval: {JobApproved, JobExpired, JobCancelled},
	JobApproved:         {JobRunning, JobCancelled},
	JobRunning:          {JobCompleted, JobFailed, JobCancelled, JobApproved},
}

// CanTransition reports whether moving from s to next is legal. The
// running→approved edge exists only for stale-running recovery at startup.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range jobTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// JobType names the kind of work a job performs.
type JobType string

const (
	JobTypeIngestText  JobType = "ingest_text"
	JobTypeIngestImage JobType = "ingest_image"
	JobTypeIngestURL   JobType = "ingest_url"
)

// ProcessMode selects chunk scheduling within one job.
type ProcessMode string

const (
	ProcessSerial   ProcessMode = "serial"
	ProcessParallel ProcessMode = "parallel"
)

// JobProgress carries the live counters an ingestion worker updates per chunk.
type JobProgress struct {
	Stage            string  `json:"stage,omitempty"`
	ChunksTotal      int     `json:"chunks_total"`
	ChunksDone       int     `json:"chunks_done"`
	Percent          float64 `json:"percent"`
	ConceptsCreated  int     `json:"concepts_created"`
	ConceptsReused   int     `json:"concepts_reused"`
	InstancesCreated int     `json:"instances_created"`
	EdgesCreated     int     `json:"edges_created"`
	NewTypesCreated  int     `json:"new_types_created"`
	TokensIn         int     `json:"tokens_in"`
	TokensOut        int     `json:"tokens_out"`
}

// HitRate is the fraction of concepts matched to existing graph concepts
// rather than newly created. Zero when no concepts were seen.
func (p JobProgress) HitRate() float64 {
	total := p.ConceptsCreated + p.ConceptsReused
	if total == 0 {
		return 0
	}
	return float64(p.ConceptsReused) / float64(total)
}

// JobCost is the pre-flight estimate and running actuals in USD.
type JobCost struct {
	EstimatedUSD float64 `json:"estimated_usd"`
	ActualUSD    float64 `json:"actual_usd"`
}

// ChunkError records a per-chunk failure that did not fail the whole job.
type ChunkError struct {
	ChunkIndex int       `json:"chunk_index"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// JobParams are the submitted ingestion parameters persisted with the job.
type JobParams struct {
	Ontology     string      `json:"ontology"`
	Filename     string      `json:"filename,omitempty"`
	Caption      string      `json:"caption,omitempty"`
	SourceURL    string      `json:"source_url,omitempty"`
	TargetWords  int         `json:"target_words,omitempty"`
	OverlapWords int         `json:"overlap_words,omitempty"`
	ProcessMode  ProcessMode `json:"process_mode,omitempty"`
	AutoApprove  bool        `json:"auto_approve,omitempty"`
	Force        bool        `json:"force,omitempty"`
}

// Job is the persistent record of an asynchronous task. The payload itself
// lives in the object store under ObjectKey; the job record stays small.
type Job struct {
	ID          string       `json:"job_id"`
	Type        JobType      `json:"job_type"`
	Status      JobStatus    `json:"status"`
	Principal   string       `json:"principal,omitempty"`
	Ontology    string       `json:"ontology"`
	ContentHash string       `json:"content_hash,omitempty"`
	ObjectKey   string       `json:"object_key,omitempty"`
	MimeType    string       `json:"mime_type,omitempty"`
	SizeBytes   int64        `json:"size_bytes,omitempty"`
	Params      JobParams    `json:"params"`
	Cost        JobCost      `json:"cost"`
	Progress    JobProgress  `json:"progress"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	ChunkErrors []ChunkError `json:"chunk_errors,omitempty"`
	Protected   bool         `json:"protected,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // approval deadline while awaiting
}

// Transition moves the job to next, stamping the relevant timestamp. Illegal
// transitions are reported without mutating the job.
func (j *Job) Transition(next JobStatus, now time.Time) bool {
	if !j.Status.CanTransition(next) {
		return false
	}
	j.Status = next
	switch next {
	case JobApproved:
		t := now
		j.ApprovedAt = &t
		j.ExpiresAt = nil
	case JobRunning:
		t := now
		j.StartedAt = &t
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		t := now
		j.FinishedAt = &t
	}
	return true
}
