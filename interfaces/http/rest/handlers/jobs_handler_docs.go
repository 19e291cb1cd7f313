package handlers

// This file contains OpenAPI/Swagger documentation for JobsHandler endpoints

// ListJobs lists jobs with optional filters
// @Summary List jobs
// @Description Lists jobs newest first, filterable by status, ontology and type
// @Tags jobs
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param ontology query string false "Ontology filter"
// @Param type query string false "Job type filter"
// @Param limit query int false "Maximum results"
// @Success 200 {array} api.JobView "Jobs"
// @Failure 400 {object} api.ErrorBody "Invalid filter"
// @Router /jobs [get]

// GetJob returns one job
// @Summary Get job
// @Description Returns the full job record including progress counters and cost
// @Tags jobs
// @Produce json
// @Param jobID path string true "Job ID"
// @Success 200 {object} api.JobView "Job"
// @Failure 404 {object} api.ErrorBody "Job not found"
// @Router /jobs/{jobID} [get]

// ApproveJob approves a queued job
// @Summary Approve job
// @Description Moves a job awaiting approval into the run queue; expired approvals are refused
// @Tags jobs
// @Accept json
// @Produce json
// @Param jobID path string true "Job ID"
// @Param request body api.ApproveJobRequest false "Optional approval note"
// @Success 200 {object} api.JobView "Approved job"
// @Failure 404 {object} api.ErrorBody "Job not found"
// @Failure 409 {object} api.ErrorBody "Job is not awaiting approval or the approval window expired"
// @Router /jobs/{jobID}/approve [post]

// CancelJob cancels a job
// @Summary Cancel job
// @Description Cancels a pending job or interrupts a running one
// @Tags jobs
// @Produce json
// @Param jobID path string true "Job ID"
// @Success 200 {object} api.JobView "Cancelled job"
// @Failure 404 {object} api.ErrorBody "Job not found"
// @Failure 409 {object} api.ErrorBody "Job already finished"
// @Router /jobs/{jobID}/cancel [post]

// DeleteJob deletes a finished job record
// @Summary Delete job
// @Description Deletes a terminal job and any orphaned payload; running jobs must be cancelled first
// @Tags jobs
// @Param jobID path string true "Job ID"
// @Success 204 "Deleted"
// @Failure 404 {object} api.ErrorBody "Job not found"
// @Failure 409 {object} api.ErrorBody "Job is still active"
// @Router /jobs/{jobID} [delete]
