package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edgemark/conclave/internal/dbtx"
)

// Store provides database operations for providers.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a directory Store backed by the given database handle.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const providerColumns = `id, account_id, name, adapter, provisioner, adapter_config, adapter_state,
	last_synced_at, last_syncs_failed, last_sync_error, disabled_at, created_at, updated_at, deleted_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var configBytes, stateBytes []byte
	if err := row.Scan(
		&p.ID, &p.AccountID, &p.Name, &p.Adapter, &p.Provisioner, &configBytes, &stateBytes,
		&p.LastSyncedAt, &p.LastSyncsFailed, &p.LastSyncError, &p.DisabledAt,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	); err != nil {
		return nil, err
	}
	if len(configBytes) > 0 {
		if err := json.Unmarshal(configBytes, &p.AdapterConfig); err != nil {
			return nil, fmt.Errorf("decoding adapter_config: %w", err)
		}
	}
	if len(stateBytes) > 0 {
		if err := json.Unmarshal(stateBytes, &p.AdapterState); err != nil {
			return nil, fmt.Errorf("decoding adapter_state: %w", err)
		}
	}
	return &p, nil
}

// Get returns a single non-deleted provider by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := s.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanProvider(row)
	if err != nil {
		return nil, fmt.Errorf("getting provider %s: %w", id, err)
	}
	return p, nil
}

// ListSyncEligible returns every non-deleted, non-disabled provider whose
// adapter participates in directory sync, for the scheduler (C8) to fan out
// over each tick.
func (s *Store) ListSyncEligible(ctx context.Context) ([]*Provider, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+providerColumns+` FROM providers
		 WHERE deleted_at IS NULL AND disabled_at IS NULL
		   AND adapter IN ('microsoft_entra', 'okta', 'google_workspace', 'jumpcloud', 'mock')
		   AND last_syncs_failed <= $1`,
		MaxConsecutiveSyncFailures,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sync-eligible providers: %w", err)
	}
	defer rows.Close()

	var items []*Provider
	for rows.Next() {
		var configBytes, stateBytes []byte
		var p Provider
		if err := rows.Scan(
			&p.ID, &p.AccountID, &p.Name, &p.Adapter, &p.Provisioner, &configBytes, &stateBytes,
			&p.LastSyncedAt, &p.LastSyncsFailed, &p.LastSyncError, &p.DisabledAt,
			&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning provider row: %w", err)
		}
		if len(configBytes) > 0 {
			if err := json.Unmarshal(configBytes, &p.AdapterConfig); err != nil {
				return nil, fmt.Errorf("decoding adapter_config: %w", err)
			}
		}
		if len(stateBytes) > 0 {
			if err := json.Unmarshal(stateBytes, &p.AdapterState); err != nil {
				return nil, fmt.Errorf("decoding adapter_state: %w", err)
			}
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// UpdateAdapterState persists a refreshed OAuth2 grant (C5).
func (s *Store) UpdateAdapterState(ctx context.Context, id uuid.UUID, state AdapterState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding adapter_state: %w", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE providers SET adapter_state = $2, updated_at = now() WHERE id = $1`, id, b)
	if err != nil {
		return fmt.Errorf("updating adapter_state for provider %s: %w", id, err)
	}
	return nil
}

// RecordSyncSuccess resets the failure counter and stamps the sync time.
func (s *Store) RecordSyncSuccess(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE providers SET last_synced_at = now(), last_syncs_failed = 0, last_sync_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("recording sync success for provider %s: %w", id, err)
	}
	return nil
}

// Disable marks a provider disabled immediately, per spec §4.4's
// "disable immediately" action for client errors.
func (s *Store) Disable(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE providers SET disabled_at = now(), updated_at = now() WHERE id = $1 AND disabled_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("disabling provider %s: %w", id, err)
	}
	return nil
}

// RecordSyncFailure increments the consecutive-failure counter and stores
// the classified error message (C4's output).
func (s *Store) RecordSyncFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE providers SET last_syncs_failed = last_syncs_failed + 1, last_sync_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("recording sync failure for provider %s: %w", id, err)
	}
	return nil
}
