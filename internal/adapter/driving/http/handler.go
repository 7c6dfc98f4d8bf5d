// Package httphandler is the HTTP driving adapter: the proxy surface, the
// credential management endpoints, and the status/health endpoints.
package httphandler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbecker/n8nboard/internal/application"
	"github.com/mbecker/n8nboard/internal/domain/model"
	"github.com/mbecker/n8nboard/internal/domain/port/driven"
	"github.com/mbecker/n8nboard/internal/secret"
)

// maxBodySize bounds inbound proxy and credential request bodies (4 MB).
const maxBodySize = 4 << 20

// Handler serves the REST API.
type Handler struct {
	resolver  *application.Resolver
	forwarder *application.Forwarder
	verifier  driven.IdentityVerifier // nil when no auth provider is configured
	store     driven.CredentialStore
	cipher    *secret.Cipher
	debug     bool
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	resolver *application.Resolver,
	forwarder *application.Forwarder,
	verifier driven.IdentityVerifier,
	store driven.CredentialStore,
	cipher *secret.Cipher,
	debug bool,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		resolver:  resolver,
		forwarder: forwarder,
		verifier:  verifier,
		store:     store,
		cipher:    cipher,
		debug:     debug,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes on mux. The proxy route has no
// method pattern: every verb is forwarded.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("/api/v1/n8n/{path...}", h.Proxy)
	mux.HandleFunc("GET /api/v1/credentials", h.GetCredentials)
	mux.HandleFunc("PUT /api/v1/credentials", h.SaveCredentials)
	mux.HandleFunc("DELETE /api/v1/credentials", h.DeleteCredentials)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// Proxy resolves upstream credentials for the caller and relays the request
// to the n8n server, preserving method, path suffix, query string, body,
// and the upstream's status code.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	creds, diag, err := h.resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		h.writeResolutionFailure(w, diag, err)
		return
	}

	pathSuffix := r.PathValue("path")
	resp, err := h.forwarder.Forward(r.Context(), creds, r.Method, pathSuffix, r.URL.RawQuery, body)
	if err != nil {
		h.logger.Error("proxy forward failed", "method", r.Method, "path", pathSuffix, "error", err)
		envelope := errorResponse{Error: "proxy failure", Details: "failed to reach the n8n server"}
		if h.debug {
			envelope.Target = application.TargetURL(creds.BaseURL, pathSuffix, r.URL.RawQuery)
		}
		writeJSON(w, http.StatusBadGateway, envelope)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// writeResolutionFailure maps resolver errors to the response envelope.
// Decrypt failure and missing configuration are distinct error kinds so
// a user with a corrupted record is told to re-save rather than told
// nothing is configured.
func (h *Handler) writeResolutionFailure(w http.ResponseWriter, diag application.Diagnostics, err error) {
	switch {
	case errors.Is(err, application.ErrNoCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:       "credentials not configured",
			Message:     "Save your n8n URL and API key in settings, or set N8N_URL and N8N_API_KEY on the server.",
			Diagnostics: &diag,
		})
	case errors.Is(err, application.ErrCredentialDecrypt):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:       "stored credentials unreadable",
			Message:     "Your saved API key could not be decrypted. Re-save your n8n credentials.",
			Diagnostics: &diag,
		})
	default:
		h.logger.Error("credential resolution failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "proxy failure",
			Details: "credential resolution failed",
		})
	}
}

// GetCredentials returns the caller's stored credential record, masked.
func (h *Handler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	record, err := h.store.Get(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("failed to get credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "no credentials saved")
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(record))
}

// SaveCredentials encrypts and upserts the caller's upstream credentials.
func (h *Handler) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req SaveCredentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.N8NURL = strings.TrimSpace(req.N8NURL)
	if !isValidBaseURL(req.N8NURL) {
		writeError(w, http.StatusBadRequest, "n8n_url must be a valid http(s) URL")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	encrypted, err := h.cipher.Encrypt(req.APIKey)
	if err != nil {
		if errors.Is(err, secret.ErrKeyNotConfigured) {
			writeError(w, http.StatusInternalServerError, "credential encryption is not configured on this server")
			return
		}
		h.logger.Error("failed to encrypt credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	record, err := h.store.Upsert(r.Context(), identity.ID, req.N8NURL, encrypted)
	if err != nil {
		h.logger.Error("failed to save credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(record))
}

// DeleteCredentials removes the caller's stored credential record.
func (h *Handler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.Delete(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("failed to delete credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "no credentials saved")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status reports how credential resolution would go for the caller. Used
// by the dashboard's "connection configured" indicator. No upstream call
// is made.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	_, diag, err := h.resolver.Resolve(r.Context(), r.Header.Get("Authorization"))

	resp := StatusResponse{Diagnostics: diag}
	switch {
	case err == nil && diag.HadStoredRecord:
		resp.Configured = true
		resp.Mode = "multi-user"
	case err == nil:
		resp.Configured = true
		resp.Mode = "single-user"
	default:
		resp.Mode = "none"
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// requireIdentity verifies the caller's bearer token for the credential
// management endpoints. Unlike the proxy, these endpoints have no fallback
// mode: without a verified identity there is no row to operate on.
func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (*model.UserIdentity, bool) {
	token := application.BearerToken(r.Header.Get("Authorization"))
	if token == "" || h.verifier == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	identity, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		h.logger.Error("identity verification failed", "error", err)
		writeError(w, http.StatusBadGateway, "auth provider unavailable")
		return nil, false
	}
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	return identity, true
}

// isValidBaseURL accepts absolute http(s) URLs with a host.
func isValidBaseURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// toCredentialResponse converts a record to its masked JSON view.
func toCredentialResponse(record *model.CredentialRecord) CredentialResponse {
	return CredentialResponse{
		N8NURL:    record.N8NURL,
		HasAPIKey: record.EncryptedAPIKey != "",
		UpdatedAt: record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
