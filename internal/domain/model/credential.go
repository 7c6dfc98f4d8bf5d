package model

import "time"

// CredentialRecord is the persisted per-user upstream configuration: the
// n8n base URL in plaintext and the API key as an opaque ciphertext blob.
// At most one record exists per user identity; the store enforces this
// with a uniqueness constraint on UserID.
type CredentialRecord struct {
	ID              int64
	UserID          string
	N8NURL          string
	EncryptedAPIKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResolvedCredentials is the ephemeral per-request output of credential
// resolution. It carries a plaintext API key and must never be persisted
// or logged; it is discarded once the proxied call completes.
type ResolvedCredentials struct {
	BaseURL string
	APIKey  string
}
