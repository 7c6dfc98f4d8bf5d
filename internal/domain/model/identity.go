package model

// UserIdentity is a verified user as reported by the external auth
// provider. ID is the opaque identity key that scopes credential records.
type UserIdentity struct {
	ID    string
	Email string
}
