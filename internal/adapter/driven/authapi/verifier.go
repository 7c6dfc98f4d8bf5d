// Package authapi implements the IdentityVerifier port against the
// external auth provider's REST API.
package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbecker/n8nboard/internal/domain/model"
	"github.com/mbecker/n8nboard/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityVerifier = (*Verifier)(nil)

// Verifier exchanges bearer tokens for verified identities by calling the
// auth provider's user endpoint. It holds no session state of its own.
type Verifier struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewVerifier creates a Verifier for the provider at baseURL. serviceKey
// is sent in the provider's apikey header alongside the user's token.
func NewVerifier(baseURL, serviceKey string) *Verifier {
	return &Verifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NewVerifierWithHTTPClient creates a Verifier with a custom http.Client,
// intended for tests injecting an httptest server.
func NewVerifierWithHTTPClient(baseURL, serviceKey string, client *http.Client) *Verifier {
	v := NewVerifier(baseURL, serviceKey)
	v.client = client
	return v
}

// userResponse is the subset of the provider's user payload we consume.
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verify returns the identity behind bearerToken. A rejected token (any
// non-2xx provider response) yields (nil, nil); only transport failures
// produce an error.
func (v *Verifier) Verify(ctx context.Context, bearerToken string) (*model.UserIdentity, error) {
	if bearerToken == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	if v.serviceKey != "" {
		req.Header.Set("apikey", v.serviceKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call auth provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Invalid, expired, or malformed token. Drain so the connection
		// can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode auth provider response: %w", err)
	}
	if user.ID == "" {
		return nil, nil
	}

	return &model.UserIdentity{ID: user.ID, Email: user.Email}, nil
}
