package handlers

// This file contains OpenAPI/Swagger documentation for OntologyHandler endpoints

// ListOntologies lists ontologies
// @Summary List ontologies
// @Description Lists every ontology with entity counts, filtered to the caller's scopes
// @Tags ontology
// @Produce json
// @Success 200 {array} api.OntologyView "Ontologies"
// @Router /ontology [get]

// GetOntology returns one ontology's statistics
// @Summary Ontology statistics
// @Description Returns entity counts and the edge type histogram for one ontology
// @Tags ontology
// @Produce json
// @Param name path string true "Ontology name"
// @Success 200 {object} api.StatsView "Statistics"
// @Failure 404 {object} api.ErrorBody "Ontology not found"
// @Router /ontology/{name} [get]

// ListFiles lists an ontology's documents
// @Summary List ontology documents
// @Tags ontology
// @Produce json
// @Param name path string true "Ontology name"
// @Success 200 {array} api.DocumentView "Documents"
// @Router /ontology/{name}/files [get]

// RenameOntology renames an ontology
// @Summary Rename ontology
// @Description Renames the ontology across the store and both indexes; concept ids are stable
// @Tags ontology
// @Accept json
// @Produce json
// @Param name path string true "Current ontology name"
// @Param request body api.RenameOntologyRequest true "New name"
// @Success 200 {object} api.OntologyView "Renamed ontology"
// @Failure 404 {object} api.ErrorBody "Ontology not found"
// @Failure 409 {object} api.ErrorBody "Target name already exists"
// @Router /ontology/{name}/rename [post]

// DeleteOntology deletes an ontology
// @Summary Delete ontology
// @Description Removes the ontology's concepts, sources, relationships, documents and index entries
// @Tags ontology
// @Produce json
// @Param name path string true "Ontology name"
// @Success 200 {object} api.OntologyDeleted "Deletion counts"
// @Failure 404 {object} api.ErrorBody "Ontology not found"
// @Router /ontology/{name} [delete]

// GetDocumentContent streams a document's stored payload
// @Summary Document content
// @Tags documents
// @Produce octet-stream
// @Param documentID path string true "Document ID"
// @Success 200 {string} binary "Raw payload with the document's content type"
// @Failure 404 {object} api.ErrorBody "Document not found"
// @Router /documents/{documentID}/content [get]

// DeleteDocument deletes a document and its evidence
// @Summary Delete document
// @Description Cascades to the document's sources and instances; edges keep running on their remaining evidence and are deleted once it empties
// @Tags documents
// @Produce json
// @Param documentID path string true "Document ID"
// @Success 200 {object} api.DocumentDeleted "Deletion counts"
// @Failure 404 {object} api.ErrorBody "Document not found"
// @Router /documents/{documentID} [delete]
