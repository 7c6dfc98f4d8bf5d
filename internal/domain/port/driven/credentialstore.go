package driven

import (
	"context"

	"github.com/mbecker/n8nboard/internal/domain/model"
)

// CredentialStore defines the driven port for per-user upstream credential
// persistence. API keys cross this boundary as opaque ciphertext blobs;
// encryption and decryption belong to the secret package, not the store.
//
// Every operation is scoped to the given user identity. An implementation
// must never let one identity read or mutate another identity's record.
type CredentialStore interface {
	// Get returns the record owned by userID, or (nil, nil) when absent.
	Get(ctx context.Context, userID string) (*model.CredentialRecord, error)

	// Upsert inserts the record for userID or replaces its URL and
	// ciphertext if one exists, refreshing UpdatedAt. The operation is
	// atomic with respect to the per-user uniqueness constraint.
	Upsert(ctx context.Context, userID, n8nURL, encryptedAPIKey string) (*model.CredentialRecord, error)

	// Delete removes the record owned by userID. Returns false when no
	// record existed.
	Delete(ctx context.Context, userID string) (bool, error)
}
