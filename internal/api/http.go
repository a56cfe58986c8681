package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given code and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	CurrentTask string `json:"current_task,omitempty"`
}

// CurrentTask represents info about a running task (used in status responses).
type CurrentTask struct {
	ID           string `json:"id"`
	StartedAt    string `json:"started_at"`
	InputPreview string `json:"input_preview"`
}
