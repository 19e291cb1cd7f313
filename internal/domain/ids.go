package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Identifiers are content-hashed so that identical inputs resolve to the same
// id everywhere: this is the collision-safe primitive that keeps parallel
// ingestion idempotent.

// NewConceptID derives a stable concept id from label and ontology.
func NewConceptID(label, ontology string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(label)) + "|" + ontology))
	return "c_" + hex.EncodeToString(h[:])[:12]
}

// NewSourceID derives a stable source id from the owning document's content
// hash and the chunk index.
func NewSourceID(documentHash string, chunkIndex int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", documentHash, chunkIndex)))
	return "s_" + hex.EncodeToString(h[:])[:12]
}

// HashContent returns the full SHA-256 hex digest of raw document content.
// Used for document identity and re-ingest detection.
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// NewDocumentID derives a document id from its content hash.
func NewDocumentID(contentHash string) string {
	return "d_" + contentHash[:12]
}
