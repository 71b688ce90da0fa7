package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edgemark/conclave/internal/dbtx"
)

// Store provides database operations for identities, actors, actor-groups,
// and their memberships — the tables the directory sync orchestrator
// writes to inside its single apply transaction.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates an identity Store backed by the given database handle
// (a *pgxpool.Pool for reads, or a pgx.Tx during a sync apply).
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

// ListIdentitiesByProvider returns every non-deleted identity for a provider,
// joined with its actor's current name, keyed for diffing against a remote
// snapshot (spec §4.2's update predicate needs both the email and the actor
// name to detect drift).
func (s *Store) ListIdentitiesByProvider(ctx context.Context, providerID uuid.UUID) ([]Identity, error) {
	rows, err := s.db.Query(ctx,
		`SELECT i.id, i.account_id, i.provider_id, i.provider_identifier, i.provider_state, i.actor_id, a.name, i.created_by, i.created_at, i.updated_at
		 FROM identities i JOIN actors a ON a.id = i.actor_id
		 WHERE i.provider_id = $1 AND i.deleted_at IS NULL`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing identities for provider %s: %w", providerID, err)
	}
	return scanIdentities(rows)
}

func scanIdentities(rows pgx.Rows) ([]Identity, error) {
	defer rows.Close()
	var items []Identity
	for rows.Next() {
		var id Identity
		var stateBytes []byte
		if err := rows.Scan(&id.ID, &id.AccountID, &id.ProviderID, &id.ProviderIdentifier,
			&stateBytes, &id.ActorID, &id.ActorName, &id.CreatedBy, &id.CreatedAt, &id.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning identity row: %w", err)
		}
		if len(stateBytes) > 0 {
			if err := json.Unmarshal(stateBytes, &id.ProviderState); err != nil {
				return nil, fmt.Errorf("decoding provider_state: %w", err)
			}
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

// InsertIdentity creates a new identity row. It does not create an actor:
// the caller inserts the actor first (InsertActor) and passes its ID in
// id.ActorID.
func (s *Store) InsertIdentity(ctx context.Context, id Identity) error {
	state, err := json.Marshal(id.ProviderState)
	if err != nil {
		return fmt.Errorf("encoding provider_state: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO identities (id, account_id, provider_id, provider_identifier, provider_state, actor_id, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id.ID, id.AccountID, id.ProviderID, id.ProviderIdentifier, state, id.ActorID, id.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting identity %s: %w", id.ProviderIdentifier, err)
	}
	return nil
}

// UpdateIdentity updates the mutable attributes of an existing identity
// (provider_state, specifically its userinfo.email). The encoded
// id.ProviderState is merged into the stored document key by key, so
// top-level keys it omits (an unset access or refresh token, for example)
// keep their stored values.
func (s *Store) UpdateIdentity(ctx context.Context, id Identity) error {
	state, err := json.Marshal(id.ProviderState)
	if err != nil {
		return fmt.Errorf("encoding provider_state: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE identities SET provider_state = COALESCE(provider_state, '{}'::jsonb) || $2::jsonb, updated_at = now() WHERE id = $1`,
		id.ID, state,
	)
	if err != nil {
		return fmt.Errorf("updating identity %s: %w", id.ID, err)
	}
	return nil
}

// DeleteIdentity soft-deletes an identity no longer present in the remote snapshot.
func (s *Store) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE identities SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting identity %s: %w", id, err)
	}
	return nil
}

// UpdateActorName updates an actor's display name, used when an identity's
// associated actor name drifts from the IdP.
func (s *Store) UpdateActorName(ctx context.Context, actorID uuid.UUID, name string) error {
	_, err := s.db.Exec(ctx, `UPDATE actors SET name = $2, updated_at = now() WHERE id = $1`, actorID, name)
	if err != nil {
		return fmt.Errorf("updating actor %s name: %w", actorID, err)
	}
	return nil
}

// InsertActor creates a new actor.
func (s *Store) InsertActor(ctx context.Context, a Actor) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO actors (id, account_id, name, type) VALUES ($1, $2, $3, $4)`,
		a.ID, a.AccountID, a.Name, a.Type,
	)
	if err != nil {
		return fmt.Errorf("inserting actor %s: %w", a.Name, err)
	}
	return nil
}

// ListGroupsByProvider returns every non-deleted actor-group synced from a provider.
func (s *Store) ListGroupsByProvider(ctx context.Context, providerID uuid.UUID) ([]ActorGroup, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, provider_id, provider_identifier, name, created_by, created_at, updated_at
		 FROM actor_groups WHERE provider_id = $1 AND deleted_at IS NULL`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing groups for provider %s: %w", providerID, err)
	}
	defer rows.Close()
	var items []ActorGroup
	for rows.Next() {
		var g ActorGroup
		if err := rows.Scan(&g.ID, &g.AccountID, &g.ProviderID, &g.ProviderIdentifier, &g.Name, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning actor_group row: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

// UpsertGroup inserts a new group or updates its name if drifted.
func (s *Store) UpsertGroup(ctx context.Context, g ActorGroup) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO actor_groups (id, account_id, provider_id, provider_identifier, name, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_id, provider_id, provider_identifier) WHERE deleted_at IS NULL
		 DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		g.ID, g.AccountID, g.ProviderID, g.ProviderIdentifier, g.Name, g.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("upserting group %s: %w", g.Name, err)
	}
	return nil
}

// DeleteGroup soft-deletes a group no longer present in the remote snapshot.
func (s *Store) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE actor_groups SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting group %s: %w", id, err)
	}
	return nil
}

// MembershipTuple is a (group, actor) pairing. During sync it carries the
// provider-native identifiers; ResolveGroupIDByProviderIdentifier and
// ResolveActorIDByProviderIdentifier exchange those for storage IDs
// immediately before writing.
type MembershipTuple struct {
	GroupProviderIdentifier string
	ActorProviderIdentifier string
}

// ListMembershipTuplesByProvider returns every current membership for a
// provider's synced groups, expressed in provider-identifier space so it can
// be diffed directly against a remote snapshot.
func (s *Store) ListMembershipTuplesByProvider(ctx context.Context, providerID uuid.UUID) ([]MembershipTuple, error) {
	rows, err := s.db.Query(ctx,
		`SELECT g.provider_identifier, i.provider_identifier
		 FROM actor_group_memberships m
		 JOIN actor_groups g ON g.id = m.group_id
		 JOIN identities i ON i.actor_id = m.actor_id AND i.provider_id = g.provider_id
		 WHERE g.provider_id = $1 AND g.deleted_at IS NULL AND i.deleted_at IS NULL`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memberships for provider %s: %w", providerID, err)
	}
	defer rows.Close()
	var items []MembershipTuple
	for rows.Next() {
		var m MembershipTuple
		if err := rows.Scan(&m.GroupProviderIdentifier, &m.ActorProviderIdentifier); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// UpsertMembership inserts a (group_id, actor_id) membership tuple if absent.
func (s *Store) UpsertMembership(ctx context.Context, groupID, actorID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO actor_group_memberships (group_id, actor_id) VALUES ($1, $2)
		 ON CONFLICT (group_id, actor_id) DO NOTHING`,
		groupID, actorID,
	)
	if err != nil {
		return fmt.Errorf("upserting membership (%s, %s): %w", groupID, actorID, err)
	}
	return nil
}

// DeleteMembership removes a (group_id, actor_id) membership tuple.
func (s *Store) DeleteMembership(ctx context.Context, groupID, actorID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM actor_group_memberships WHERE group_id = $1 AND actor_id = $2`,
		groupID, actorID,
	)
	if err != nil {
		return fmt.Errorf("deleting membership (%s, %s): %w", groupID, actorID, err)
	}
	return nil
}

// ResolveActorIDByProviderIdentifier looks up the actor_id for a provider's
// identity by its provider-native identifier, used to translate a
// MembershipTuple into storage IDs before writing.
func (s *Store) ResolveActorIDByProviderIdentifier(ctx context.Context, providerID uuid.UUID, providerIdentifier string) (uuid.UUID, error) {
	var actorID uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT actor_id FROM identities WHERE provider_id = $1 AND provider_identifier = $2 AND deleted_at IS NULL`,
		providerID, providerIdentifier,
	).Scan(&actorID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolving actor for identity %s: %w", providerIdentifier, err)
	}
	return actorID, nil
}

// ResolveGroupIDByProviderIdentifier looks up the actor_group id for a
// provider's group by its provider-native identifier.
func (s *Store) ResolveGroupIDByProviderIdentifier(ctx context.Context, providerID uuid.UUID, providerIdentifier string) (uuid.UUID, error) {
	var groupID uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT id FROM actor_groups WHERE provider_id = $1 AND provider_identifier = $2 AND deleted_at IS NULL`,
		providerID, providerIdentifier,
	).Scan(&groupID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolving group %s: %w", providerIdentifier, err)
	}
	return groupID, nil
}
