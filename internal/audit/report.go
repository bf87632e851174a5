package audit

import (
	"context"
	"fmt"
	"time"
)

// EffectivenessReport aggregates the three log streams over a time window.
// It is computed on demand and never stored; the logs remain the single
// source of truth.
type EffectivenessReport struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	TotalCloudQueries   int     `json:"total_cloud_queries"`
	CloudQueriesWithPII int     `json:"cloud_queries_with_pii"`
	TotalPIIInstances   int     `json:"total_pii_instances"`
	CloudPIIProtection  float64 `json:"cloud_pii_protection_rate"`

	TotalGuardrailEvents int            `json:"total_guardrail_events"`
	BlockedEvents        int            `json:"blocked_events"`
	GuardrailBlockRate   float64        `json:"guardrail_block_rate"`
	EventsByType         map[string]int `json:"events_by_type"`

	TotalIsolationChecks int     `json:"total_isolation_checks"`
	IsolationViolations  int     `json:"isolation_violations"`
	IsolationSuccess     float64 `json:"isolation_success_rate"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ToEvidence renders the compliance-reporting view of the report (WBSO
// evidence format). Rates only; never raw log content.
func (r *EffectivenessReport) ToEvidence() map[string]any {
	return map[string]any{
		"period_start":              r.PeriodStart.Format(time.RFC3339),
		"period_end":                r.PeriodEnd.Format(time.RFC3339),
		"cloud_pii_protection_rate": r.CloudPIIProtection,
		"isolation_success_rate":    r.IsolationSuccess,
		"guardrail_block_rate":      r.GuardrailBlockRate,
		"total_cloud_queries":       r.TotalCloudQueries,
		"total_guardrail_events":    r.TotalGuardrailEvents,
		"total_isolation_checks":    r.TotalIsolationChecks,
		"generated_at":              r.GeneratedAt.Format(time.RFC3339),
	}
}

// Reporter computes effectiveness reports from a sink.
type Reporter struct {
	sink Sink
}

func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

// BuildReport queries the three streams for the window and derives the
// aggregate rates. A window with no traffic reports rates of 1.0 for
// protection and isolation (nothing leaked, nothing crossed) and 0.0 for
// blocks.
func (rp *Reporter) BuildReport(ctx context.Context, window TimeRange) (*EffectivenessReport, error) {
	report := &EffectivenessReport{
		PeriodStart:  window.From,
		PeriodEnd:    window.To,
		EventsByType: make(map[string]int),
		GeneratedAt:  time.Now().UTC(),
	}

	queries, err := rp.sink.QueryCloudQueries(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("querying cloud queries: %w", err)
	}
	protected := 0
	for _, q := range queries {
		report.TotalCloudQueries++
		if q.PIICount > 0 {
			report.CloudQueriesWithPII++
			report.TotalPIIInstances += q.PIICount
			if len(q.Transformations) > 0 {
				protected++
			}
		}
	}
	if report.CloudQueriesWithPII > 0 {
		report.CloudPIIProtection = float64(protected) / float64(report.CloudQueriesWithPII)
	} else {
		report.CloudPIIProtection = 1.0
	}

	events, err := rp.sink.QueryGuardrailEvents(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("querying guardrail events: %w", err)
	}
	for _, e := range events {
		report.TotalGuardrailEvents++
		report.EventsByType[string(e.GuardrailType)]++
		if e.Action == ActionBlocked {
			report.BlockedEvents++
		}
	}
	if report.TotalGuardrailEvents > 0 {
		report.GuardrailBlockRate = float64(report.BlockedEvents) / float64(report.TotalGuardrailEvents)
	}

	checks, err := rp.sink.QueryIsolationChecks(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("querying isolation checks: %w", err)
	}
	for _, c := range checks {
		report.TotalIsolationChecks++
		if maintained, _ := c.CheckIsolation(); !maintained {
			report.IsolationViolations++
		}
	}
	if report.TotalIsolationChecks > 0 {
		report.IsolationSuccess = 1.0 - float64(report.IsolationViolations)/float64(report.TotalIsolationChecks)
	} else {
		report.IsolationSuccess = 1.0
	}

	return report, nil
}
