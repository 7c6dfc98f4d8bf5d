package httphandler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/mbecker/n8nboard/internal/adapter/driving/http"
	"github.com/mbecker/n8nboard/internal/application"
	"github.com/mbecker/n8nboard/internal/domain/model"
	"github.com/mbecker/n8nboard/internal/domain/port/driven"
	"github.com/mbecker/n8nboard/internal/secret"
)

// --- Mock implementations ---

type mockVerifier struct {
	identity *model.UserIdentity
	err      error
}

func (m *mockVerifier) Verify(_ context.Context, _ string) (*model.UserIdentity, error) {
	return m.identity, m.err
}

// mockStore is an in-memory CredentialStore keyed by user ID.
type mockStore struct {
	records map[string]*model.CredentialRecord
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*model.CredentialRecord)}
}

func (m *mockStore) Get(_ context.Context, userID string) (*model.CredentialRecord, error) {
	return m.records[userID], nil
}

func (m *mockStore) Upsert(_ context.Context, userID, n8nURL, encryptedAPIKey string) (*model.CredentialRecord, error) {
	rec := &model.CredentialRecord{
		UserID:          userID,
		N8NURL:          n8nURL,
		EncryptedAPIKey: encryptedAPIKey,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	m.records[userID] = rec
	return rec, nil
}

func (m *mockStore) Delete(_ context.Context, userID string) (bool, error) {
	_, ok := m.records[userID]
	delete(m.records, userID)
	return ok, nil
}

// --- Test fixture ---

type fixture struct {
	handler  http.Handler
	store    *mockStore
	cipher   *secret.Cipher
	verifier *mockVerifier
}

type fixtureOpts struct {
	fallback application.FallbackCredentials
	verifier *mockVerifier
	debug    bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	key := make([]byte, secret.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	cipher, err := secret.New(key)
	require.NoError(t, err)

	store := newMockStore()
	logger := slog.New(slog.DiscardHandler)

	resolver := application.NewResolver(asVerifier(opts.verifier), store, cipher, opts.fallback, logger)
	forwarder := application.NewForwarder(5*time.Second, logger)

	h := httphandler.NewHandler(resolver, forwarder, asVerifier(opts.verifier), store, cipher, opts.debug, logger)
	mux := http.NewServeMux()
	httphandler.RegisterRoutes(mux, h)

	return &fixture{
		handler:  httphandler.ApplyMiddleware(mux, []string{"*"}, logger),
		store:    store,
		cipher:   cipher,
		verifier: opts.verifier,
	}
}

// asVerifier keeps a nil *mockVerifier from becoming a non-nil interface.
func asVerifier(m *mockVerifier) driven.IdentityVerifier {
	if m == nil {
		return nil
	}
	return m
}

// --- Proxy tests ---

func TestProxy_EnvFallbackEndToEnd(t *testing.T) {
	var gotPath, gotKey, gotMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-N8N-API-KEY")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"wf-1"}]}`))
	}))
	defer upstream.Close()

	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: upstream.URL, APIKey: "secret123"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "/workflows", gotPath)
	assert.Equal(t, "secret123", gotKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"id":"wf-1"}]}`, rec.Body.String())
}

func TestProxy_StoredCredentialsWin(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-N8N-API-KEY")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: upstream.URL, APIKey: "env-key"},
		verifier: &mockVerifier{identity: &model.UserIdentity{ID: "user-1"}},
	})

	blob, err := fx.cipher.Encrypt("user-key")
	require.NoError(t, err)
	_, err = fx.store.Upsert(context.Background(), "user-1", upstream.URL, blob)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-key", gotKey)
}

func TestProxy_POSTBodyForwarded(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"wf-9"}`))
	}))
	defer upstream.Close()

	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: upstream.URL, APIKey: "k"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/n8n/workflows", strings.NewReader(`{"x":1}`))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"x":1}`, string(gotBody))
	assert.Equal(t, "application/json", gotContentType)
}

func TestProxy_QueryForwardedVerbatim(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: upstream.URL, APIKey: "k"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/executions?limit=10&status=error", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, "limit=10&status=error", gotQuery)
}

func TestProxy_UpstreamStatusRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"msg":"not found"}`))
	}))
	defer upstream.Close()

	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: upstream.URL, APIKey: "k"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows/missing", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"msg":"not found"}`, rec.Body.String())
}

func TestProxy_NoCredentialsConfigured(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "credentials not configured", envelope["error"])
	assert.Contains(t, envelope, "message")
	assert.Contains(t, envelope, "diagnostics")
}

func TestProxy_CorruptedRecordDistinctError(t *testing.T) {
	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: "https://env.example", APIKey: "env-key"},
		verifier: &mockVerifier{identity: &model.UserIdentity{ID: "user-1"}},
	})

	_, err := fx.store.Upsert(context.Background(), "user-1", "https://user.example", "bm90IGEgdmFsaWQgYmxvYg==")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	// Terminal: corrupted stored credentials must not fall back to env.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "stored credentials unreadable", envelope["error"])
}

func TestProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close()

	fx := newFixture(t, fixtureOpts{
		fallback: application.FallbackCredentials{BaseURL: upstream.URL, APIKey: "super-secret"},
		debug:    true,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "proxy failure", envelope["error"])
	// Debug mode exposes the target URL, never the API key.
	assert.Contains(t, envelope["target"], upstream.URL)
	assert.NotContains(t, rec.Body.String(), "super-secret")
}

// --- Credential endpoint tests ---

func TestCredentials_RequireAuth(t *testing.T) {
	fx := newFixture(t, fixtureOpts{
		verifier: &mockVerifier{identity: nil},
	})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/v1/credentials", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer rejected")
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "method %s", method)
	}
}

func TestCredentials_SaveAndGet(t *testing.T) {
	fx := newFixture(t, fixtureOpts{
		verifier: &mockVerifier{identity: &model.UserIdentity{ID: "user-1"}},
	})

	body := `{"n8n_url":"https://n8n.example.com","api_key":"n8n-key-abc"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/credentials", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved httphandler.CredentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, "https://n8n.example.com", saved.N8NURL)
	assert.True(t, saved.HasAPIKey)
	assert.NotContains(t, rec.Body.String(), "n8n-key-abc", "plaintext key must never appear in responses")

	// The stored blob is ciphertext that round-trips through the cipher.
	stored := fx.store.records["user-1"]
	require.NotNil(t, stored)
	assert.NotEqual(t, "n8n-key-abc", stored.EncryptedAPIKey)
	plaintext, err := fx.cipher.Decrypt(stored.EncryptedAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "n8n-key-abc", plaintext)

	// GET returns the masked view.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/credentials", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "n8n-key-abc")
}

func TestCredentials_SaveRejectsBadInput(t *testing.T) {
	fx := newFixture(t, fixtureOpts{
		verifier: &mockVerifier{identity: &model.UserIdentity{ID: "user-1"}},
	})

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{not json`},
		{"missing url", `{"api_key":"k"}`},
		{"bad scheme", `{"n8n_url":"ftp://n8n.example.com","api_key":"k"}`},
		{"missing key", `{"n8n_url":"https://n8n.example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/credentials", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer tok")
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCredentials_Delete(t *testing.T) {
	fx := newFixture(t, fixtureOpts{
		verifier: &mockVerifier{identity: &model.UserIdentity{ID: "user-1"}},
	})

	_, err := fx.store.Upsert(context.Background(), "user-1", "https://n8n.example.com", "blob")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/credentials", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Second delete finds nothing.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/credentials", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Status, health, middleware ---

func TestStatus_Modes(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		fx := newFixture(t, fixtureOpts{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)

		var status httphandler.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.False(t, status.Configured)
		assert.Equal(t, "none", status.Mode)
	})

	t.Run("single-user", func(t *testing.T) {
		fx := newFixture(t, fixtureOpts{
			fallback: application.FallbackCredentials{BaseURL: "https://env.example", APIKey: "k"},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)

		var status httphandler.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.True(t, status.Configured)
		assert.Equal(t, "single-user", status.Mode)
	})

	t.Run("multi-user", func(t *testing.T) {
		fx := newFixture(t, fixtureOpts{
			verifier: &mockVerifier{identity: &model.UserIdentity{ID: "user-1"}},
		})

		blob, err := fx.cipher.Encrypt("user-key")
		require.NoError(t, err)
		_, err = fx.store.Upsert(context.Background(), "user-1", "https://user.example", blob)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)

		var status httphandler.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.True(t, status.Configured)
		assert.Equal(t, "multi-user", status.Mode)
	})
}

func TestHealth(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var health httphandler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
}

func TestCORS_Preflight(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/n8n/workflows", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestCORS_HeadersOnProxyResponses(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/n8n/workflows", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	// Even the 401 failure path carries CORS headers.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID_SetOnResponses(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "caller-id-1")
	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id-1", rec.Header().Get("X-Request-ID"))
}
