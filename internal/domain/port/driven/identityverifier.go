package driven

import (
	"context"

	"github.com/mbecker/n8nboard/internal/domain/model"
)

// IdentityVerifier defines the driven port for exchanging a bearer token
// for a verified user identity. Trust is delegated entirely to the
// external auth provider; implementations hold no session state.
type IdentityVerifier interface {
	// Verify returns the identity behind bearerToken. Invalid, expired,
	// or malformed tokens yield (nil, nil) — not authenticated is a
	// normal outcome, not a processing error. A non-nil error means the
	// provider itself could not be consulted.
	Verify(ctx context.Context, bearerToken string) (*model.UserIdentity, error)
}
