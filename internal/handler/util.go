package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeAppError maps an engine error onto its HTTP status and code.
func writeAppError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.Status(err), map[string]string{
		"error": err.Error(),
		"code":  apperr.Code(err),
	})
}
