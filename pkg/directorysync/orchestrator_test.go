package directorysync

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edgemark/conclave/pkg/directory"
	"github.com/edgemark/conclave/pkg/identity"
)

// fakeRows is an empty pgx.Rows: every store list query in this test
// returns no local rows, so the plan is computed entirely from the remote
// snapshot.
type fakeRows struct {
	pgx.Rows
}

func (fakeRows) Next() bool   { return false }
func (fakeRows) Err() error   { return nil }
func (fakeRows) Close()       {}

// fakeRow implements pgx.Row for the ID-resolution lookups the apply step
// makes; Scan always fails, simulating "no such identity/group" so the
// membership-apply step errors out and the transaction must roll back.
type fakeRow struct{}

func (fakeRow) Scan(dest ...any) error { return errors.New("no rows in result set") }

// fakeTx is a minimal pgx.Tx: embedding the nil interface satisfies every
// method this test doesn't exercise, while Exec/Query/QueryRow/Commit/
// Rollback are overridden to observe the orchestrator's transaction
// discipline.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return fakeRows{}, nil
}
func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{}
}
func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}
func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx *fakeTx
}

func (b fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return b.tx, nil
}

// TestApplyRollsBackOnMidPlanFailure asserts property 2: a failure partway
// through applying a plan (here, resolving a membership tuple's group ID)
// rolls the whole transaction back rather than committing a partial write.
func TestApplyRollsBackOnMidPlanFailure(t *testing.T) {
	tx := &fakeTx{}
	o := &Orchestrator{pool: fakeBeginner{tx: tx}}

	p := &directory.Provider{ID: uuid.New(), AccountID: uuid.New()}
	snapshot := RemoteSnapshot{
		MemberTuples: []identity.MembershipTuple{
			{GroupProviderIdentifier: "G:missing", ActorProviderIdentifier: "missing"},
		},
	}

	err := o.apply(context.Background(), p, snapshot)
	if err == nil {
		t.Fatalf("expected apply to fail when a membership tuple can't be resolved")
	}
	if tx.committed {
		t.Fatalf("transaction must not commit on a failed apply")
	}
	if !tx.rolledBack {
		t.Fatalf("transaction must roll back on a failed apply")
	}
}
