package replication

import (
	"context"
	"log/slog"
)

// Hook receives decoded row changes for one table. Hooks are responsible
// for their own failures — the dispatcher does not retry a failed hook
// call, per spec §4.11.
type Hook interface {
	OnInsert(ctx context.Context, tuple Tuple) error
	OnUpdate(ctx context.Context, old, tuple Tuple) error
	OnDelete(ctx context.Context, old Tuple) error
}

// MetricsSink observes dispatched events for the
// replication_events_dispatched_total{table,op} counter; a nil sink is a
// valid no-op.
type MetricsSink func(table, op string)

// Dispatcher holds the table → hook mapping and routes each decoded
// Insert/Update/Delete to its hook, resolving the table name from the
// relation cache the Connection populates as it sees Relation messages.
type Dispatcher struct {
	relations map[uint32]*Relation
	hooks     map[string]Hook
	metrics   MetricsSink
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. relations must be the same map the
// Connection's State uses, so relation IDs resolve to table names as they
// are learned. hooks is keyed by unqualified table name.
func NewDispatcher(relations map[uint32]*Relation, hooks map[string]Hook, metrics MetricsSink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{relations: relations, hooks: hooks, metrics: metrics, logger: logger}
}

// Dispatch is the Connection's OnWrite callback: it forwards only
// Insert/Update/Delete messages to hooks, in the order it receives them,
// and is a no-op for Begin/Commit/Origin/Relation/Type/Truncate/Unsupported,
// per spec §4.10's "the event bus forwards only the data messages."
func (d *Dispatcher) Dispatch(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case Insert:
		return d.dispatch(ctx, m.RelationID, "insert", func(h Hook) error {
			return h.OnInsert(ctx, m.Tuple)
		})
	case Update:
		return d.dispatch(ctx, m.RelationID, "update", func(h Hook) error {
			return h.OnUpdate(ctx, m.OldTuple, m.Tuple)
		})
	case Delete:
		return d.dispatch(ctx, m.RelationID, "delete", func(h Hook) error {
			return h.OnDelete(ctx, m.OldTuple)
		})
	default:
		return nil
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, relationID uint32, op string, call func(Hook) error) error {
	rel, ok := d.relations[relationID]
	if !ok {
		d.logger.Warn("replication event for unknown relation", "relation_id", relationID, "op", op)
		return nil
	}
	hook, ok := d.hooks[rel.Name]
	if !ok {
		d.logger.Warn("no hook registered for table", "table", rel.Name, "op", op)
		return nil
	}
	if err := call(hook); err != nil {
		// A hook's failure is its own problem: the dispatcher logs and moves
		// on rather than tearing down the replication stream over it.
		d.logger.Error("replication hook failed", "table", rel.Name, "op", op, "error", err)
		return nil
	}
	if d.metrics != nil {
		d.metrics(rel.Name, op)
	}
	return nil
}
