package jobs

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fakeLeaseStore models the job_leases table in memory: claim(name, holder)
// returns the current holder, claiming the lease for the caller if it was
// unheld or its expiry (set directly by the test, not by real elapsed
// time) has already passed.
type fakeLeaseStore struct {
	mu   sync.Mutex
	rows map[string]*leaseRow
}

type leaseRow struct {
	holder    uuid.UUID
	expiresAt time.Time
}

func (s *fakeLeaseStore) claim(name string, holder uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[name]
	if !ok {
		s.rows[name] = &leaseRow{holder: holder, expiresAt: time.Now().Add(leaseTTL)}
		return holder
	}
	if row.holder == holder || row.expiresAt.Before(time.Now()) {
		row.holder = holder
		row.expiresAt = time.Now().Add(leaseTTL)
	}
	return row.holder
}

func (s *fakeLeaseStore) expire(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[name]; ok {
		row.expiresAt = time.Now().Add(-time.Second)
	}
}

type fakeLeaseTx struct {
	pgx.Tx
	store *fakeLeaseStore
}

func (t *fakeLeaseTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	name := args[0].(string)
	holder := args[1].(uuid.UUID)
	return fakeLeaseRow{holder: t.store.claim(name, holder)}
}
func (t *fakeLeaseTx) Commit(ctx context.Context) error   { return nil }
func (t *fakeLeaseTx) Rollback(ctx context.Context) error { return nil }

type fakeLeaseRow struct{ holder uuid.UUID }

func (r fakeLeaseRow) Scan(dest ...any) error {
	*dest[0].(*uuid.UUID) = r.holder
	return nil
}

type fakeLeaseBeginner struct{ store *fakeLeaseStore }

func (b fakeLeaseBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeLeaseTx{store: b.store}, nil
}

// TestFailover asserts property 4: when the current leader's lease expires
// without renewal, a competing node picks up leadership on its next claim
// attempt, and the original leader observes it has lost leadership.
func TestFailover(t *testing.T) {
	store := &fakeLeaseStore{rows: map[string]*leaseRow{}}
	logger := slog.New(slog.NewTextHandler(nilWriter{}, nil))

	nodeA := &GlobalExecutor{name: "directory_sync_scheduler", holderID: uuid.New(), pool: fakeLeaseBeginner{store}, logger: logger}
	nodeB := &GlobalExecutor{name: "directory_sync_scheduler", holderID: uuid.New(), pool: fakeLeaseBeginner{store}, logger: logger}

	ctx := context.Background()

	leadingA, err := nodeA.claimOrRenew(ctx)
	if err != nil {
		t.Fatalf("nodeA claim: %v", err)
	}
	if !leadingA {
		t.Fatalf("expected nodeA to win the uncontested first claim")
	}

	leadingB, err := nodeB.claimOrRenew(ctx)
	if err != nil {
		t.Fatalf("nodeB claim: %v", err)
	}
	if leadingB {
		t.Fatalf("expected nodeB to remain a follower while nodeA's lease is live")
	}

	store.expire("directory_sync_scheduler")

	leadingB, err = nodeB.claimOrRenew(ctx)
	if err != nil {
		t.Fatalf("nodeB failover claim: %v", err)
	}
	if !leadingB {
		t.Fatalf("expected nodeB to take over once nodeA's lease expired")
	}

	leadingA, err = nodeA.claimOrRenew(ctx)
	if err != nil {
		t.Fatalf("nodeA post-failover claim: %v", err)
	}
	if leadingA {
		t.Fatalf("expected nodeA to observe lost leadership after failover")
	}
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestIsLeaderReflectsLeaseOutcome(t *testing.T) {
	store := &fakeLeaseStore{rows: map[string]*leaseRow{}}
	logger := slog.New(slog.NewTextHandler(nilWriter{}, nil))
	e := &GlobalExecutor{name: "job", holderID: uuid.New(), pool: fakeLeaseBeginner{store}, logger: logger}

	if e.IsLeader() {
		t.Fatal("a fresh executor should not report leadership before its first claim")
	}

	leading, err := e.claimOrRenew(context.Background())
	if err != nil {
		t.Fatalf("claimOrRenew: %v", err)
	}
	e.leading.Store(leading)

	if !e.IsLeader() {
		t.Error("expected IsLeader() to report true after winning the uncontested claim")
	}
}
