package directorysync

import (
	"context"

	"github.com/google/uuid"
)

// Report is the Sentry-compatible payload built for fatal-internal errors —
// the kind the classifier can't attribute to a provider's remote state, so
// an operator needs to see them directly. Delivery itself is out of scope;
// Reporter only needs to accept the shape.
type Report struct {
	ID          string
	Args        map[string]any
	Meta        map[string]any
	Queue       string
	Worker      string
	DirectoryID uuid.UUID
	Step        string
	Reason      string
	Context     map[string]any
}

// Reporter delivers a Report somewhere. A real Sentry-backed implementation
// lives outside this module's scope.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// NoopReporter discards every report. The Orchestrator itself holds no
// Reporter and does not build or send reports.
type NoopReporter struct{}

func (NoopReporter) Report(context.Context, Report) error { return nil }

// BuildReport constructs the Sentry-shaped payload for a fatal-internal
// sync failure (one the classifier didn't attribute to provider-side
// state: a database error applying the plan, a panic recovered mid-fetch).
func BuildReport(directoryID uuid.UUID, step, reason string) Report {
	return Report{
		ID:          uuid.NewString(),
		Args:        map[string]any{},
		Meta:        map[string]any{},
		Queue:       "directory_sync",
		Worker:      "conclave.directorysync.Orchestrator",
		DirectoryID: directoryID,
		Step:        step,
		Reason:      reason,
		Context:     map[string]any{},
	}
}
