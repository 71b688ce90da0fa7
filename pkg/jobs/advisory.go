package jobs

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RejectLocked acquires a transaction-scoped advisory lock per row, keyed
// by (oid_of(table), hash32(row.id)), and returns only the IDs whose lock
// was acquired — the rest are presumed claimed by another node's
// in-progress tick. Callers must already be inside a transaction; the
// row-locks release automatically on commit or rollback, per spec §4.6.
func RejectLocked(ctx context.Context, tx pgx.Tx, table string, ids []uuid.UUID) ([]uuid.UUID, error) {
	var oid uint32
	if err := tx.QueryRow(ctx, `SELECT $1::regclass::oid`, table).Scan(&oid); err != nil {
		return nil, fmt.Errorf("resolving oid of %s: %w", table, err)
	}

	var acquired []uuid.UUID
	for _, id := range ids {
		var ok bool
		key := rowLockKey(id)
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, $2)`, int32(oid), key).Scan(&ok); err != nil {
			return nil, fmt.Errorf("acquiring advisory lock for %s/%s: %w", table, id, err)
		}
		if ok {
			acquired = append(acquired, id)
		}
	}
	return acquired, nil
}

// rowLockKey hashes a row ID down to the 32-bit key pg_try_advisory_xact_lock
// takes as its second argument.
func rowLockKey(id uuid.UUID) int32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int32(h.Sum32())
}
