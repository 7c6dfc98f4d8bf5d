package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/mbecker/n8nboard/internal/application"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error envelope. Diagnostics, when present,
// live in their own namespaced field so consumers parsing the primary
// payload shape are never broken by them.
type errorResponse struct {
	Error       string                   `json:"error"`
	Message     string                   `json:"message,omitempty"`
	Details     string                   `json:"details,omitempty"`
	Target      string                   `json:"target,omitempty"`
	Diagnostics *application.Diagnostics `json:"diagnostics,omitempty"`
}

// CredentialResponse is the masked JSON view of a stored credential record.
// The API key itself — plaintext or ciphertext — never appears here.
type CredentialResponse struct {
	N8NURL    string `json:"n8n_url"`
	HasAPIKey bool   `json:"has_api_key"`
	UpdatedAt string `json:"updated_at"`
}

// SaveCredentialsRequest is the JSON body for the save credentials endpoint.
type SaveCredentialsRequest struct {
	N8NURL string `json:"n8n_url"`
	APIKey string `json:"api_key"`
}

// StatusResponse reports how credential resolution would go for the caller.
type StatusResponse struct {
	Configured  bool                    `json:"configured"`
	Mode        string                  `json:"mode"`
	Diagnostics application.Diagnostics `json:"diagnostics"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
