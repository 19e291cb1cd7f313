package api

import (
	"encoding/json"
	"net/http"
)

// WriteData sends a success envelope with the given status code.
func WriteData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(Response{Data: data})
	}
}

// WriteError sends an error envelope with the given status code.
func WriteError(w http.ResponseWriter, status int, kind, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Error: &ErrorBody{
		Kind:    kind,
		Message: message,
		Details: details,
	}})
}
