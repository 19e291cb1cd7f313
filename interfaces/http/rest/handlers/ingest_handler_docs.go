package handlers

// This file contains OpenAPI/Swagger documentation for IngestHandler endpoints

// IngestText submits raw text for asynchronous ingestion
// @Summary Ingest text
// @Description Normalizes and queues a text payload; returns the job to poll
// @Tags ingest
// @Accept json
// @Produce json
// @Param request body api.IngestTextRequest true "Text payload and ingestion parameters"
// @Success 202 {object} api.JobAccepted "Job queued"
// @Failure 400 {object} api.ErrorBody "Invalid payload"
// @Failure 403 {object} api.ErrorBody "Ontology outside caller scopes"
// @Failure 409 {object} api.ErrorBody "Duplicate content; set force_reingest to supersede"
// @Router /ingest/text [post]

// IngestFile submits an uploaded file for asynchronous ingestion
// @Summary Ingest file
// @Description Routes an upload by type: text enters the chunking pipeline, images and PDFs the vision pipeline
// @Tags ingest
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document file"
// @Param ontology formData string true "Target ontology"
// @Param filename formData string false "Override filename"
// @Param force_reingest formData bool false "Supersede earlier ingest of the same content"
// @Param auto_approve formData bool false "Skip the approval gate"
// @Param target_words formData int false "Target words per chunk"
// @Param overlap_words formData int false "Overlap words between chunks"
// @Success 202 {object} api.JobAccepted "Job queued"
// @Failure 400 {object} api.ErrorBody "Invalid upload"
// @Failure 409 {object} api.ErrorBody "Duplicate content"
// @Router /ingest/file [post]

// IngestImage submits an image for asynchronous ingestion
// @Summary Ingest image
// @Description Stores image bytes and queues a vision extraction job
// @Tags ingest
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image file (PNG, JPEG, GIF, WebP, BMP, PDF)"
// @Param ontology formData string true "Target ontology"
// @Param caption formData string false "Caption text indexed alongside the image"
// @Success 202 {object} api.JobAccepted "Job queued"
// @Failure 400 {object} api.ErrorBody "Invalid upload"
// @Failure 409 {object} api.ErrorBody "Duplicate content"
// @Router /ingest/image [post]

// IngestURL fetches a web page and submits its readable text
// @Summary Ingest URL
// @Description Fetches the page, extracts readable content as markdown and queues it
// @Tags ingest
// @Accept json
// @Produce json
// @Param request body api.IngestURLRequest true "URL and ingestion parameters"
// @Success 202 {object} api.JobAccepted "Job queued"
// @Failure 400 {object} api.ErrorBody "Invalid URL or unreachable page"
// @Failure 409 {object} api.ErrorBody "Duplicate content"
// @Router /ingest/url [post]
