package replication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// replicationManagerLockKey is the advisory lock key the manager uses to
// register itself as the cluster's sole replication consumer.
const replicationManagerLockKey = 727100

// connectRetries and connectRetryInterval bound how many times the manager
// retries a genuine registration error before giving up and letting its
// supervisor restart it, per spec §4.10.
const (
	connectRetries       = 10
	connectRetryInterval = 30 * time.Second
)

// LockAcquirer abstracts the cluster-wide single-flight registration so
// tests can exercise Manager's retry/handoff logic without a live
// database. TryAcquire returns (true, nil) when this caller becomes the
// owner, (false, nil) when someone else already owns it ("already
// started"), and a non-nil error for any other registration failure.
type LockAcquirer interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// poolLockAcquirer implements LockAcquirer with a session-level Postgres
// advisory lock held on a dedicated pooled connection for the manager's
// lifetime.
type poolLockAcquirer struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

// NewPoolLockAcquirer creates a LockAcquirer backed by pg_try_advisory_lock
// on a dedicated connection from pool.
func NewPoolLockAcquirer(pool *pgxpool.Pool) LockAcquirer {
	return &poolLockAcquirer{pool: pool}
}

func (a *poolLockAcquirer) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring connection for replication lock: %w", err)
	}
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, replicationManagerLockKey).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("acquiring advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}
	a.conn = conn
	return true, nil
}

func (a *poolLockAcquirer) Release(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	_, err := a.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, replicationManagerLockKey)
	a.conn.Release()
	a.conn = nil
	return err
}

// Connector opens and runs one replication connection until it ends
// (normally on ctx cancellation, or with an error on disconnect).
type Connector func(ctx context.Context) error

// Manager supervises a single replication connection, guaranteeing at
// most one is active cluster-wide and restarting it on disconnect.
type Manager struct {
	acquirer LockAcquirer
	connect  Connector
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(acquirer LockAcquirer, connect Connector, logger *slog.Logger) *Manager {
	return &Manager{acquirer: acquirer, connect: connect, logger: logger}
}

// Run attempts to register as the cluster's sole replication consumer and,
// on success, runs the connection until it disconnects or ctx is
// cancelled. A registration that resolves to "already started" (someone
// else owns it) is treated as success with no work to do. Any other
// registration error is retried up to connectRetries times before Run
// returns an error for its caller's supervisor to restart it, per
// spec §4.10.
func (m *Manager) Run(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < connectRetries; attempt++ {
		acquired, err := m.acquirer.TryAcquire(ctx)
		if err != nil {
			lastErr = err
			m.logger.Warn("replication manager registration failed", "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(connectRetryInterval):
			}
			continue
		}
		if !acquired {
			m.logger.Info("replication consumer already running elsewhere; nothing to do")
			return nil
		}

		defer func() { _ = m.acquirer.Release(context.Background()) }()

		m.logger.Info("replication manager became the cluster's sole consumer")
		if err := m.connect(ctx); err != nil {
			return fmt.Errorf("replication connection ended: %w", err)
		}
		return nil
	}
	return fmt.Errorf("replication manager failed to register after %d attempts: %w", connectRetries, lastErr)
}
