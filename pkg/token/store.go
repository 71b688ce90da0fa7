package token

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edgemark/conclave/internal/dbtx"
)

// Store provides database operations for tokens.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a token Store backed by the given database handle.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const tokenColumns = `id, account_id, type, secret_salt, secret_hash, expires_at,
	remaining_attempts, last_seen_at, last_seen_ip, last_seen_user_agent, deleted_at, created_at`

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	if err := row.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.SecretSalt, &t.SecretHash, &t.ExpiresAt,
		&t.RemainingAttempts, &t.LastSeenAt, &t.LastSeenIP, &t.LastSeenUserAgent,
		&t.DeletedAt, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// Get returns a single non-deleted token by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1 AND deleted_at IS NULL`, id)
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("getting token %s: %w", id, err)
	}
	return t, nil
}

// GetByHash returns a non-deleted token whose secret_hash matches exactly.
// Callers must still call Verify against the candidate bearer before
// trusting the match, since the hash alone is the lookup key.
func (s *Store) GetByHash(ctx context.Context, hash string) (*Token, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE secret_hash = $1 AND deleted_at IS NULL`, hash)
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("getting token by hash: %w", err)
	}
	return t, nil
}

// TouchLastSeen records the last time a token was used to authenticate.
func (s *Store) TouchLastSeen(ctx context.Context, id uuid.UUID, ip, userAgent string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tokens SET last_seen_at = now(), last_seen_ip = $2, last_seen_user_agent = $3 WHERE id = $1`,
		id, ip, userAgent,
	)
	if err != nil {
		return fmt.Errorf("touching token %s: %w", id, err)
	}
	return nil
}

// Revoke soft-deletes a token.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE tokens SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", id, err)
	}
	return nil
}
