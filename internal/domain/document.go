package domain

import "time"

// ContentType distinguishes how a document entered the system.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// Document is a logical unit of ingested content, unique by content hash.
type Document struct {
	ID          string      `json:"document_id"`
	ContentHash string      `json:"content_hash"`
	Filename    string      `json:"filename"`
	Ontology    string      `json:"ontology"`
	ContentType ContentType `json:"content_type"`
	MimeType    string      `json:"mime_type,omitempty"`
	SizeBytes   int64       `json:"size_bytes"`
	ObjectKey   string      `json:"object_key,omitempty"` // object store key for image bytes
	SourceURL   string      `json:"source_url,omitempty"` // set for URL ingestion
	IngestedAt  time.Time   `json:"ingested_at"`
}

// OntologyInfo summarizes one ontology for listing and info endpoints.
type OntologyInfo struct {
	Name          string `json:"name"`
	Concepts      int    `json:"concepts"`
	Sources       int    `json:"sources"`
	Instances     int    `json:"instances"`
	Relationships int    `json:"relationships"`
	Documents     int    `json:"documents"`
}

// GraphStats aggregates counts across the store, optionally scoped to one
// ontology.
type GraphStats struct {
	Concepts      int            `json:"concepts"`
	Sources       int            `json:"sources"`
	Instances     int            `json:"instances"`
	Relationships int            `json:"relationships"`
	Documents     int            `json:"documents"`
	Ontologies    int            `json:"ontologies"`
	EdgeTypes     map[string]int `json:"edge_types,omitempty"`
}
