package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbecker/n8nboard/internal/domain/model"
	"github.com/mbecker/n8nboard/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// It stores API keys as opaque ciphertext blobs; encryption happens in the
// secret package before values reach this layer.
//
// Every statement is parameterized on user_id, so an operation issued for
// one identity can never read or mutate another identity's row. The UNIQUE
// constraint on user_id keeps the one-record-per-user invariant under
// concurrent upserts.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Get returns the credential record owned by userID, or (nil, nil) when no
// record exists.
func (r *CredentialRepo) Get(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	const query = `SELECT id, user_id, n8n_url, encrypted_api_key, created_at, updated_at
		FROM n8n_credentials WHERE user_id = ?`

	rec, err := scanRecord(r.db.Reader.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials for user: %w", err)
	}
	return rec, nil
}

// Upsert inserts or replaces the record for userID. The ON CONFLICT clause
// makes insert-or-update a single atomic statement: created_at survives,
// updated_at is refreshed.
func (r *CredentialRepo) Upsert(ctx context.Context, userID, n8nURL, encryptedAPIKey string) (*model.CredentialRecord, error) {
	const query = `INSERT INTO n8n_credentials (user_id, n8n_url, encrypted_api_key)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			n8n_url = excluded.n8n_url,
			encrypted_api_key = excluded.encrypted_api_key,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, user_id, n8n_url, encrypted_api_key, created_at, updated_at`

	rec, err := scanRecord(r.db.Writer.QueryRowContext(ctx, query, userID, n8nURL, encryptedAPIKey))
	if err != nil {
		return nil, fmt.Errorf("upsert credentials for user: %w", err)
	}
	return rec, nil
}

// Delete removes the record owned by userID. Returns false when no record
// existed.
func (r *CredentialRepo) Delete(ctx context.Context, userID string) (bool, error) {
	const query = `DELETE FROM n8n_credentials WHERE user_id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("delete credentials for user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credentials rows affected: %w", err)
	}
	return affected > 0, nil
}

// scanRecord scans a single credential row.
func scanRecord(row *sql.Row) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	var createdAt, updatedAt string

	if err := row.Scan(&rec.ID, &rec.UserID, &rec.N8NURL, &rec.EncryptedAPIKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}
