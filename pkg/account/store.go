package account

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edgemark/conclave/internal/dbtx"
)

// Store provides database operations for accounts.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates an account Store backed by the given database handle.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const accountColumns = `id, legal_name, disabled_at, features, limits, metadata_stripe,
	warning, warning_last_sent_at, notify_outdated_gateway_enabled,
	notify_outdated_gateway_last_notified, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var features, limits, meta []byte
	if err := row.Scan(
		&a.ID, &a.LegalName, &a.DisabledAt, &features, &limits, &meta,
		&a.Warning, &a.WarningLastSentAt, &a.NotifyOutdatedGatewayEnabled,
		&a.NotifyOutdatedGatewayLastNotified, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &a.Features); err != nil {
			return nil, fmt.Errorf("decoding features: %w", err)
		}
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &a.Limits); err != nil {
			return nil, fmt.Errorf("decoding limits: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.MetadataStripe); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &a, nil
}

// Get returns a single account by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return a, nil
}

// UpdateWarning persists an operator-facing warning message on the account
// and stamps warning_last_sent_at.
func (s *Store) UpdateWarning(ctx context.Context, id uuid.UUID, warning *string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE accounts SET warning = $2, warning_last_sent_at = now(), updated_at = now() WHERE id = $1`,
		id, warning,
	)
	if err != nil {
		return fmt.Errorf("updating account warning %s: %w", id, err)
	}
	return nil
}
