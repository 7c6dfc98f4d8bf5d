// Package application holds the request-scoped services behind the HTTP
// adapter: credential resolution and upstream forwarding.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbecker/n8nboard/internal/domain/model"
	"github.com/mbecker/n8nboard/internal/domain/port/driven"
	"github.com/mbecker/n8nboard/internal/secret"
)

// ErrNoCredentials is returned when neither a stored per-user record nor
// the environment fallback pair can satisfy a request.
var ErrNoCredentials = errors.New("no upstream credentials configured")

// ErrCredentialDecrypt is returned when a user's stored record exists but
// its ciphertext fails to decrypt. This is terminal for the request: the
// resolver never substitutes the environment fallback for a corrupted
// record, since silently switching identities would mask a data problem.
var ErrCredentialDecrypt = errors.New("stored credentials could not be decrypted")

// FallbackCredentials is the immutable process-wide single-user pair,
// injected at construction rather than read ad hoc from the environment.
type FallbackCredentials struct {
	BaseURL string
	APIKey  string
}

// Configured reports whether both halves of the pair are set.
func (f FallbackCredentials) Configured() bool {
	return f.BaseURL != "" && f.APIKey != ""
}

// Diagnostics records which resolution steps applied to a request.
// Booleans only; key material never appears here.
type Diagnostics struct {
	HadAuthHeader    bool `json:"had_auth_header"`
	IdentityVerified bool `json:"identity_verified"`
	HadStoredRecord  bool `json:"had_stored_record"`
	HadEnvFallback   bool `json:"had_env_fallback"`
}

// Resolver determines the effective upstream base URL and plaintext API
// key for a request: per-user stored credentials when a bearer token
// verifies and a record exists, otherwise the environment fallback pair.
type Resolver struct {
	verifier driven.IdentityVerifier // nil when no auth provider is configured
	store    driven.CredentialStore
	cipher   *secret.Cipher
	fallback FallbackCredentials
	logger   *slog.Logger
}

// NewResolver creates a Resolver. verifier may be nil; resolution then
// always takes the fallback path.
func NewResolver(
	verifier driven.IdentityVerifier,
	store driven.CredentialStore,
	cipher *secret.Cipher,
	fallback FallbackCredentials,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		verifier: verifier,
		store:    store,
		cipher:   cipher,
		fallback: fallback,
		logger:   logger,
	}
}

// Resolve runs the per-request decision procedure:
//
//	bearer token present? -> verify -> lookup record -> decrypt
//
// Any miss before decryption falls through to the environment fallback.
// A decryption failure is terminal (ErrCredentialDecrypt). When neither
// strategy produces credentials, ErrNoCredentials is returned.
//
// The returned Diagnostics are populated on every path, including errors.
func (r *Resolver) Resolve(ctx context.Context, authHeader string) (model.ResolvedCredentials, Diagnostics, error) {
	diag := Diagnostics{HadEnvFallback: r.fallback.Configured()}

	token := BearerToken(authHeader)
	if token != "" {
		diag.HadAuthHeader = true

		identity := r.verifyIdentity(ctx, token)
		if identity != nil {
			diag.IdentityVerified = true

			record, err := r.store.Get(ctx, identity.ID)
			if err != nil {
				return model.ResolvedCredentials{}, diag, fmt.Errorf("look up stored credentials: %w", err)
			}

			if record != nil {
				diag.HadStoredRecord = true

				apiKey, err := r.cipher.Decrypt(record.EncryptedAPIKey)
				if err != nil {
					if errors.Is(err, secret.ErrKeyNotConfigured) {
						return model.ResolvedCredentials{}, diag, fmt.Errorf("decrypt stored credentials: %w", err)
					}
					r.logger.Error("stored credential decrypt failed", "user_id", identity.ID, "error", err)
					return model.ResolvedCredentials{}, diag, ErrCredentialDecrypt
				}

				return model.ResolvedCredentials{BaseURL: record.N8NURL, APIKey: apiKey}, diag, nil
			}
		}
	}

	if r.fallback.Configured() {
		return model.ResolvedCredentials(r.fallback), diag, nil
	}

	return model.ResolvedCredentials{}, diag, ErrNoCredentials
}

// verifyIdentity wraps the verifier port with the resolver's soft-failure
// policy: a nil verifier, a rejected token, and an unreachable provider
// all yield nil. Multi-user mode is optional, so none of these are fatal.
func (r *Resolver) verifyIdentity(ctx context.Context, token string) *model.UserIdentity {
	if r.verifier == nil {
		return nil
	}

	identity, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.logger.Warn("auth provider unreachable, treating request as unauthenticated", "error", err)
		return nil
	}
	return identity
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Returns "" for any other scheme or a missing header.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
