// Package api defines the contracts for API requests and responses.
// It decouples the wire structure from the internal domain models.
package api

// Response is the envelope every endpoint returns: exactly one of Data or
// Error is set.
type Response struct {
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a classified failure to the client.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
