package directorysync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/edgemark/conclave/pkg/account"
	"github.com/edgemark/conclave/pkg/directory"
	"github.com/edgemark/conclave/pkg/identity"
	"github.com/edgemark/conclave/pkg/idp"
)

// txBeginner is the slice of *pgxpool.Pool the orchestrator needs to open
// its per-sync transaction. Narrowing to this interface lets tests exercise
// the atomicity guarantee with a fake transaction instead of a live DB.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// maxGroupWorkers bounds the per-provider worker pool fetching group
// members, per spec §4.3 step 3 ("bounded by a per-provider worker pool of
// ≤ 5").
const maxGroupWorkers = 5

// persistentTransientWindow is how long a transient error must persist
// before it escalates to a disable, per spec §4.3.
const persistentTransientWindow = 24 * time.Hour

func timeNow() time.Time { return time.Now() }

// ErrFeatureDisabled is returned when a provider's account does not carry
// the idp_sync feature.
var ErrFeatureDisabled = fmt.Errorf("idp_sync feature is not enabled for this account")

// Orchestrator drives a single provider's sync pipeline end to end: fetch
// in parallel, plan, persist in one transaction, update provider state.
type Orchestrator struct {
	pool      txBeginner
	accounts  *account.Store
	providers *directory.Store
	clients   map[directory.Adapter]idp.Client
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator backed by the given adapter
// registry. pool is typically a *pgxpool.Pool.
func NewOrchestrator(pool txBeginner, accounts *account.Store, providers *directory.Store, clients map[directory.Adapter]idp.Client, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{pool: pool, accounts: accounts, providers: providers, clients: clients, logger: logger}
}

// Sync runs one provider's full sync pass: feature check, parallel fetch,
// planning, and a single-transaction apply, per spec §4.3.
func (o *Orchestrator) Sync(ctx context.Context, p *directory.Provider) error {
	acc, err := o.accounts.Get(ctx, p.AccountID)
	if err != nil {
		return fmt.Errorf("loading account for provider %s: %w", p.ID, err)
	}
	if !acc.HasFeature(account.FeatureIdPSync) {
		classification := Classification{ClientError: true, Message: "idp_sync is not included in this account's subscription"}
		return fmt.Errorf("%w: %w", ErrFeatureDisabled, o.fail(ctx, p, classification))
	}

	client, ok := o.clients[p.Adapter]
	if !ok {
		return o.fail(ctx, p, Classification{ClientError: true, Message: fmt.Sprintf("no adapter registered for %s", p.Adapter)})
	}
	endpoint, _ := p.AdapterConfig["endpoint"].(string)

	snapshot, err := o.fetch(ctx, client, endpoint, p.AdapterState.AccessToken)
	if err != nil {
		return o.fail(ctx, p, Classify(err))
	}

	if err := o.apply(ctx, p, snapshot); err != nil {
		return o.fail(ctx, p, Classify(err))
	}

	if err := o.providers.RecordSyncSuccess(ctx, p.ID); err != nil {
		return fmt.Errorf("recording sync success for provider %s: %w", p.ID, err)
	}
	return nil
}

// fetch runs list_users and list_groups in parallel (both must succeed),
// then fetches each group's members through a bounded worker pool,
// short-circuiting on the first error, per spec §4.3 steps 2-3.
func (o *Orchestrator) fetch(ctx context.Context, client idp.Client, endpoint, accessToken string) (RemoteSnapshot, error) {
	var users []idp.User
	var groups []idp.Group

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = client.ListUsers(gctx, endpoint, accessToken)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = client.ListGroups(gctx, endpoint, accessToken)
		return err
	})
	if err := g.Wait(); err != nil {
		return RemoteSnapshot{}, err
	}

	tuples, err := o.fetchMemberTuples(ctx, client, endpoint, accessToken, groups)
	if err != nil {
		return RemoteSnapshot{}, err
	}

	return RemoteSnapshot{Users: users, Groups: groups, MemberTuples: tuples}, nil
}

func (o *Orchestrator) fetchMemberTuples(ctx context.Context, client idp.Client, endpoint, accessToken string, groups []idp.Group) ([]identity.MembershipTuple, error) {
	sem := semaphore.NewWeighted(maxGroupWorkers)
	g, gctx := errgroup.WithContext(ctx)

	tuplesByGroup := make([][]identity.MembershipTuple, len(groups))
	for i, grp := range groups {
		i, grp := i, grp
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			members, err := client.ListGroupMembers(gctx, endpoint, accessToken, grp.ProviderIdentifier)
			if err != nil {
				return err
			}
			groupProviderIdentifier := identity.GroupProviderIdentifier(grp.ProviderIdentifier)
			out := make([]identity.MembershipTuple, 0, len(members))
			for _, m := range members {
				out = append(out, identity.MembershipTuple{
					GroupProviderIdentifier: groupProviderIdentifier,
					ActorProviderIdentifier: m.ProviderIdentifier,
				})
			}
			tuplesByGroup[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []identity.MembershipTuple
	for _, t := range tuplesByGroup {
		all = append(all, t...)
	}
	return all, nil
}

// apply plans the diff and persists it in a single transaction, in the
// fixed order sync_identities -> sync_groups -> sync_memberships ->
// save_last_synced_at, per spec §4.3 step 5. Any step failure rolls the
// whole transaction back.
func (o *Orchestrator) apply(ctx context.Context, p *directory.Provider, snapshot RemoteSnapshot) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	identities := identity.NewStore(tx)

	local, err := loadLocalState(ctx, identities, p.ID)
	if err != nil {
		return fmt.Errorf("loading local state: %w", err)
	}

	plan := Diff(snapshot, local)

	if err := applyIdentities(ctx, identities, p, plan.Identities); err != nil {
		return fmt.Errorf("sync_identities: %w", err)
	}
	if err := applyGroups(ctx, identities, p, plan.Groups); err != nil {
		return fmt.Errorf("sync_groups: %w", err)
	}
	if err := applyMemberships(ctx, identities, p, plan.Memberships); err != nil {
		return fmt.Errorf("sync_memberships: %w", err)
	}
	if err := directory.NewStore(tx).RecordSyncSuccess(ctx, p.ID); err != nil {
		return fmt.Errorf("save_last_synced_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing sync transaction: %w", err)
	}
	return nil
}

func loadLocalState(ctx context.Context, identities *identity.Store, providerID uuid.UUID) (LocalState, error) {
	ids, err := identities.ListIdentitiesByProvider(ctx, providerID)
	if err != nil {
		return LocalState{}, err
	}
	groups, err := identities.ListGroupsByProvider(ctx, providerID)
	if err != nil {
		return LocalState{}, err
	}
	tuples, err := identities.ListMembershipTuplesByProvider(ctx, providerID)
	if err != nil {
		return LocalState{}, err
	}
	return LocalState{Identities: ids, Groups: groups, Memberships: tuples}, nil
}

func applyIdentities(ctx context.Context, identities *identity.Store, p *directory.Provider, plan IdentityPlan) error {
	for _, ins := range plan.Insert {
		actorID := uuid.New()
		if err := identities.InsertActor(ctx, identity.Actor{
			ID: actorID, AccountID: p.AccountID, Name: ins.DisplayName, Type: identity.ActorTypeAccountUser,
		}); err != nil {
			return err
		}
		if err := identities.InsertIdentity(ctx, identity.Identity{
			ID:                 uuid.New(),
			AccountID:          p.AccountID,
			ProviderID:         p.ID,
			ProviderIdentifier: ins.ProviderIdentifier,
			ProviderState:      identity.ProviderState{UserInfo: identity.UserInfo{Email: ins.Email}},
			ActorID:            actorID,
			CreatedBy:          identity.CreatedByProvider,
		}); err != nil {
			return err
		}
	}
	for _, upd := range plan.Update {
		if err := identities.UpdateIdentity(ctx, identity.Identity{
			ID:            upd.ID,
			ProviderState: identity.ProviderState{UserInfo: identity.UserInfo{Email: upd.Email}},
		}); err != nil {
			return err
		}
		if err := identities.UpdateActorName(ctx, upd.ActorID, upd.DisplayName); err != nil {
			return err
		}
	}
	for _, id := range plan.Delete {
		if err := identities.DeleteIdentity(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func applyGroups(ctx context.Context, identities *identity.Store, p *directory.Provider, plan GroupPlan) error {
	for _, up := range plan.Upsert {
		id := uuid.New()
		if up.ExistingID != nil {
			id = *up.ExistingID
		}
		providerIdentifier := up.ProviderIdentifier
		if err := identities.UpsertGroup(ctx, identity.ActorGroup{
			ID: id, AccountID: p.AccountID, ProviderID: &p.ID,
			ProviderIdentifier: &providerIdentifier, Name: up.Name, CreatedBy: identity.CreatedByProvider,
		}); err != nil {
			return err
		}
	}
	for _, id := range plan.Delete {
		if err := identities.DeleteGroup(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func applyMemberships(ctx context.Context, identities *identity.Store, p *directory.Provider, plan MembershipPlan) error {
	for _, t := range plan.Upsert {
		groupID, err := identities.ResolveGroupIDByProviderIdentifier(ctx, p.ID, t.GroupProviderIdentifier)
		if err != nil {
			return err
		}
		actorID, err := identities.ResolveActorIDByProviderIdentifier(ctx, p.ID, t.ActorProviderIdentifier)
		if err != nil {
			return err
		}
		if err := identities.UpsertMembership(ctx, groupID, actorID); err != nil {
			return err
		}
	}
	for _, t := range plan.Delete {
		groupID, err := identities.ResolveGroupIDByProviderIdentifier(ctx, p.ID, t.GroupProviderIdentifier)
		if err != nil {
			return err
		}
		actorID, err := identities.ResolveActorIDByProviderIdentifier(ctx, p.ID, t.ActorProviderIdentifier)
		if err != nil {
			return err
		}
		if err := identities.DeleteMembership(ctx, groupID, actorID); err != nil {
			return err
		}
	}
	return nil
}

// fail classifies and persists a sync failure, per spec §4.3's failure
// semantics: client errors disable the provider immediately; transient
// errors are recorded without disabling.
func (o *Orchestrator) fail(ctx context.Context, p *directory.Provider, c Classification) error {
	if err := o.providers.RecordSyncFailure(ctx, p.ID, c.Message); err != nil {
		return fmt.Errorf("recording sync failure for provider %s: %w", p.ID, err)
	}

	disable := c.ClientError
	if !disable && p.LastSyncError != nil && p.UpdatedAt.Before(timeNow().Add(-persistentTransientWindow)) {
		// Same transient error has been recorded for 24h straight; escalate
		// to disable per spec §4.3's "persistent transient errors" rule.
		disable = true
	}

	switch {
	case disable:
		if err := o.providers.Disable(ctx, p.ID); err != nil {
			return fmt.Errorf("disabling provider %s: %w", p.ID, err)
		}
		o.logger.Warn("directory sync disabled", "provider_id", p.ID, "message", c.Message)
	case p.LastSyncsFailed+1 >= 3:
		o.logger.Warn("directory sync failing repeatedly", "provider_id", p.ID, "message", c.Message, "failures", p.LastSyncsFailed+1)
	}
	return fmt.Errorf("sync failed for provider %s: %s", p.ID, c.Message)
}
