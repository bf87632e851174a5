package audit

import "context"

// Sink is an append-only store for the three log streams. The interface
// deliberately has no update or delete: retention is handled on sealed
// archive segments outside the store API.
type Sink interface {
	AppendCloudQuery(ctx context.Context, entry *CloudQueryEntry) error
	AppendGuardrailEvent(ctx context.Context, entry *GuardrailEventEntry) error
	AppendIsolationCheck(ctx context.Context, entry *PatientIsolationEntry) error

	QueryCloudQueries(ctx context.Context, r TimeRange) ([]CloudQueryEntry, error)
	QueryGuardrailEvents(ctx context.Context, r TimeRange) ([]GuardrailEventEntry, error)
	QueryIsolationChecks(ctx context.Context, r TimeRange) ([]PatientIsolationEntry, error)

	Close() error
}
