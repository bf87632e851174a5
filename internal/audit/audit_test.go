package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/praktijkzorg/medguard/internal/models"
)

func TestCheckIsolation(t *testing.T) {
	tests := []struct {
		name       string
		entry      PatientIsolationEntry
		maintained bool
		blocked    int
	}{
		{
			"own scope returned",
			PatientIsolationEntry{
				RequestingPatientHash: "aaa",
				RequestedScopeHashes:  []string{"aaa"},
				ReturnedScopeHashes:   []string{"aaa"},
			},
			true, 0,
		},
		{
			"foreign scope leaked",
			PatientIsolationEntry{
				RequestingPatientHash: "aaa",
				RequestedScopeHashes:  []string{"aaa", "bbb"},
				ReturnedScopeHashes:   []string{"aaa", "bbb"},
			},
			false, 0,
		},
		{
			"foreign scope blocked",
			PatientIsolationEntry{
				RequestingPatientHash: "aaa",
				RequestedScopeHashes:  []string{"aaa", "bbb"},
				ReturnedScopeHashes:   []string{"aaa"},
			},
			true, 1,
		},
		{
			"everything blocked",
			PatientIsolationEntry{
				RequestingPatientHash: "aaa",
				RequestedScopeHashes:  []string{"bbb", "ccc"},
				ReturnedScopeHashes:   nil,
			},
			true, 2,
		},
		{
			"no traffic",
			PatientIsolationEntry{RequestingPatientHash: "aaa"},
			true, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maintained, blocked := tt.entry.CheckIsolation()
			if maintained != tt.maintained || blocked != tt.blocked {
				t.Errorf("CheckIsolation() = (%v, %d), want (%v, %d)",
					maintained, blocked, tt.maintained, tt.blocked)
			}
		})
	}
}

func TestNewPatientIsolationEntry(t *testing.T) {
	entry := NewPatientIsolationEntry(PatientIsolationEntry{
		RequestingPatientHash: "aaa",
		RequestedScopeHashes:  []string{"aaa", "bbb"},
		ReturnedScopeHashes:   []string{"aaa"},
		// Stored flags are never trusted; the constructor recomputes them.
		IsolationMaintained: false,
		BlockedCount:        99,
	})

	if entry.ID == uuid.Nil {
		t.Error("entry must be stamped with an id")
	}
	if entry.Timestamp.IsZero() {
		t.Error("entry must be stamped with a timestamp")
	}
	if !entry.IsolationMaintained || entry.BlockedCount != 1 {
		t.Errorf("derived flags = (%v, %d), want (true, 1)",
			entry.IsolationMaintained, entry.BlockedCount)
	}
}

func TestNewCloudQueryEntry(t *testing.T) {
	entry := NewCloudQueryEntry(CloudQueryEntry{
		CloudQueryText: "[NAAM] heeft koorts",
		Role:           models.RoleGP,
		PIICount:       1,
	})
	if entry.ID == uuid.Nil || entry.Timestamp.IsZero() {
		t.Error("entry must be stamped with id and timestamp")
	}

	record := entry.ToInspectionRecord()
	if record["cloud_query_text"] != "[NAAM] heeft koorts" {
		t.Errorf("unexpected inspection record: %v", record)
	}
	if record["role"] != "gp" {
		t.Errorf("role = %v, want gp", record["role"])
	}
}

func TestJSONLSink_AppendAndQuery(t *testing.T) {
	sink, err := NewJSONLSink(t.TempDir())
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()

	cq := NewCloudQueryEntry(CloudQueryEntry{
		CloudQueryText:    "[NAAM], 70-79 jaar, heeft koorts",
		OriginalQueryHash: "abc123",
		PIICategories:     []models.PIICategory{models.CategoryPatientName, models.CategoryAge},
		PIICount:          2,
		Transformations:   []string{"PATIENT_NAME:removed", "AGE:generalized"},
		Role:              models.RoleGP,
		Provider:          "cloud",
	})
	if err := sink.AppendCloudQuery(ctx, cq); err != nil {
		t.Fatalf("appending cloud query: %v", err)
	}

	ge := NewGuardrailEventEntry(GuardrailEventEntry{
		GuardrailType: models.GuardrailJailbreak,
		Action:        ActionBlocked,
		Reason:        "jailbreak attempt",
		QueryHash:     "def456",
		Role:          models.RolePatient,
	})
	if err := sink.AppendGuardrailEvent(ctx, ge); err != nil {
		t.Fatalf("appending guardrail event: %v", err)
	}

	ic := NewPatientIsolationEntry(PatientIsolationEntry{
		RequestingPatientHash: "aaa",
		RequestedScopeHashes:  []string{"aaa"},
		ReturnedScopeHashes:   []string{"aaa"},
	})
	if err := sink.AppendIsolationCheck(ctx, ic); err != nil {
		t.Fatalf("appending isolation check: %v", err)
	}

	queries, err := sink.QueryCloudQueries(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("querying cloud queries: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("got %d cloud queries, want 1", len(queries))
	}
	if queries[0].ID != cq.ID || queries[0].PIICount != 2 {
		t.Errorf("round-tripped entry differs: %+v", queries[0])
	}
	if len(queries[0].Transformations) != 2 {
		t.Errorf("transformations lost in round trip: %v", queries[0].Transformations)
	}

	events, err := sink.QueryGuardrailEvents(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("querying guardrail events: %v", err)
	}
	if len(events) != 1 || events[0].Action != ActionBlocked {
		t.Errorf("got events %+v, want one blocked event", events)
	}

	checks, err := sink.QueryIsolationChecks(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("querying isolation checks: %v", err)
	}
	if len(checks) != 1 || !checks[0].IsolationMaintained {
		t.Errorf("got checks %+v, want one maintained check", checks)
	}
}

func TestJSONLSink_TimeRangeFilter(t *testing.T) {
	sink, err := NewJSONLSink(t.TempDir())
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	old := &GuardrailEventEntry{
		ID:            uuid.New(),
		Timestamp:     now.Add(-48 * time.Hour),
		GuardrailType: models.GuardrailTopic,
		Action:        ActionBlocked,
	}
	recent := &GuardrailEventEntry{
		ID:            uuid.New(),
		Timestamp:     now,
		GuardrailType: models.GuardrailTopic,
		Action:        ActionPassed,
	}
	for _, e := range []*GuardrailEventEntry{old, recent} {
		if err := sink.AppendGuardrailEvent(ctx, e); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	events, err := sink.QueryGuardrailEvents(ctx, TimeRange{From: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(events) != 1 || events[0].ID != recent.ID {
		t.Errorf("got %d events, want only the recent one", len(events))
	}

	events, err = sink.QueryGuardrailEvents(ctx, TimeRange{To: now.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(events) != 1 || events[0].ID != old.ID {
		t.Errorf("got %d events, want only the old one", len(events))
	}
}

func TestJSONLSink_Seal(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	before := NewGuardrailEventEntry(GuardrailEventEntry{
		GuardrailType: models.GuardrailJailbreak,
		Action:        ActionBlocked,
	})
	if err := sink.AppendGuardrailEvent(ctx, before); err != nil {
		t.Fatalf("appending: %v", err)
	}

	sealed, err := sink.Seal(StreamGuardrailEvents)
	if err != nil {
		t.Fatalf("sealing: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(sealed), string(StreamGuardrailEvents)+"-") {
		t.Errorf("sealed segment name %q lacks the stream prefix", sealed)
	}
	if _, err := os.Stat(sealed); err != nil {
		t.Errorf("sealed segment missing: %v", err)
	}

	// The live stream starts fresh and keeps accepting entries.
	after := NewGuardrailEventEntry(GuardrailEventEntry{
		GuardrailType: models.GuardrailTopic,
		Action:        ActionPassed,
	})
	if err := sink.AppendGuardrailEvent(ctx, after); err != nil {
		t.Fatalf("appending after seal: %v", err)
	}

	events, err := sink.QueryGuardrailEvents(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(events) != 1 || events[0].ID != after.ID {
		t.Errorf("live stream holds %d events, want only the post-seal entry", len(events))
	}

	if _, err := sink.Seal(Stream("bogus")); err == nil {
		t.Error("sealing an unknown stream must fail")
	}
}

func TestTrail_DrainsOnClose(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}

	trail := NewTrail(sink, nil)
	trail.Start(context.Background())

	for i := 0; i < 10; i++ {
		trail.RecordGuardrailEvent(NewGuardrailEventEntry(GuardrailEventEntry{
			GuardrailType: models.GuardrailTopic,
			Action:        ActionPassed,
		}))
	}
	trail.RecordCloudQuery(NewCloudQueryEntry(CloudQueryEntry{Role: models.RoleGP}))
	trail.RecordIsolationCheck(NewPatientIsolationEntry(PatientIsolationEntry{
		RequestingPatientHash: "aaa",
	}))

	// Close drains every queued entry before the sink shuts down.
	if err := trail.Close(); err != nil {
		t.Fatalf("closing trail: %v", err)
	}

	reader, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatalf("reopening sink: %v", err)
	}
	defer reader.Close()

	events, err := reader.QueryGuardrailEvents(context.Background(), TimeRange{})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(events) != 10 {
		t.Errorf("got %d guardrail events, want 10", len(events))
	}

	queries, err := reader.QueryCloudQueries(context.Background(), TimeRange{})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(queries) != 1 {
		t.Errorf("got %d cloud queries, want 1", len(queries))
	}
}

func TestReporter_EmptyWindow(t *testing.T) {
	sink, err := NewJSONLSink(t.TempDir())
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	defer sink.Close()

	report, err := NewReporter(sink).BuildReport(context.Background(), TimeRange{})
	if err != nil {
		t.Fatalf("building report: %v", err)
	}

	if report.CloudPIIProtection != 1.0 {
		t.Errorf("protection rate = %v, want 1.0 for an empty window", report.CloudPIIProtection)
	}
	if report.IsolationSuccess != 1.0 {
		t.Errorf("isolation rate = %v, want 1.0 for an empty window", report.IsolationSuccess)
	}
	if report.GuardrailBlockRate != 0.0 {
		t.Errorf("block rate = %v, want 0.0 for an empty window", report.GuardrailBlockRate)
	}
}

func TestReporter_Rates(t *testing.T) {
	sink, err := NewJSONLSink(t.TempDir())
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()

	// Two queries with PII, one of them transformed; one clean query.
	entries := []*CloudQueryEntry{
		NewCloudQueryEntry(CloudQueryEntry{PIICount: 3, Transformations: []string{"BSN:removed"}}),
		NewCloudQueryEntry(CloudQueryEntry{PIICount: 1}),
		NewCloudQueryEntry(CloudQueryEntry{}),
	}
	for _, e := range entries {
		if err := sink.AppendCloudQuery(ctx, e); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	// Four guardrail events, one blocked.
	for i, action := range []GuardrailAction{ActionBlocked, ActionPassed, ActionPassed, ActionWarned} {
		check := models.GuardrailJailbreak
		if i > 1 {
			check = models.GuardrailTopic
		}
		e := NewGuardrailEventEntry(GuardrailEventEntry{GuardrailType: check, Action: action})
		if err := sink.AppendGuardrailEvent(ctx, e); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	// Two isolation checks, one violated.
	ok := NewPatientIsolationEntry(PatientIsolationEntry{
		RequestingPatientHash: "aaa",
		ReturnedScopeHashes:   []string{"aaa"},
	})
	leaked := NewPatientIsolationEntry(PatientIsolationEntry{
		RequestingPatientHash: "aaa",
		ReturnedScopeHashes:   []string{"bbb"},
	})
	for _, e := range []*PatientIsolationEntry{ok, leaked} {
		if err := sink.AppendIsolationCheck(ctx, e); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	report, err := NewReporter(sink).BuildReport(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("building report: %v", err)
	}

	if report.TotalCloudQueries != 3 || report.CloudQueriesWithPII != 2 {
		t.Errorf("cloud query counts = (%d, %d), want (3, 2)",
			report.TotalCloudQueries, report.CloudQueriesWithPII)
	}
	if report.TotalPIIInstances != 4 {
		t.Errorf("pii instances = %d, want 4", report.TotalPIIInstances)
	}
	if report.CloudPIIProtection != 0.5 {
		t.Errorf("protection rate = %v, want 0.5", report.CloudPIIProtection)
	}

	if report.TotalGuardrailEvents != 4 || report.BlockedEvents != 1 {
		t.Errorf("guardrail counts = (%d, %d), want (4, 1)",
			report.TotalGuardrailEvents, report.BlockedEvents)
	}
	if report.GuardrailBlockRate != 0.25 {
		t.Errorf("block rate = %v, want 0.25", report.GuardrailBlockRate)
	}
	if report.EventsByType[string(models.GuardrailJailbreak)] != 2 {
		t.Errorf("events by type = %v, want 2 jailbreak events", report.EventsByType)
	}

	if report.TotalIsolationChecks != 2 || report.IsolationViolations != 1 {
		t.Errorf("isolation counts = (%d, %d), want (2, 1)",
			report.TotalIsolationChecks, report.IsolationViolations)
	}
	if report.IsolationSuccess != 0.5 {
		t.Errorf("isolation rate = %v, want 0.5", report.IsolationSuccess)
	}
}

func TestEffectivenessReport_ToEvidence(t *testing.T) {
	report := &EffectivenessReport{
		CloudPIIProtection: 1.0,
		IsolationSuccess:   0.99,
		GuardrailBlockRate: 0.1,
		TotalCloudQueries:  42,
		GeneratedAt:        time.Now().UTC(),
	}

	evidence := report.ToEvidence()
	if evidence["cloud_pii_protection_rate"] != 1.0 {
		t.Errorf("evidence = %v", evidence)
	}
	if evidence["total_cloud_queries"] != 42 {
		t.Errorf("evidence = %v", evidence)
	}
	// Rates and counts only; the evidence view never carries log content.
	for key := range evidence {
		if strings.Contains(key, "text") || strings.Contains(key, "hash") {
			t.Errorf("evidence leaks log field %q", key)
		}
	}
}

func TestTimeRangeContains(t *testing.T) {
	now := time.Now()
	r := TimeRange{From: now.Add(-time.Hour), To: now}

	tests := []struct {
		name     string
		r        TimeRange
		t        time.Time
		expected bool
	}{
		{"inside", r, now.Add(-time.Minute), true},
		{"before", r, now.Add(-2 * time.Hour), false},
		{"after", r, now.Add(time.Minute), false},
		{"unbounded", TimeRange{}, now.Add(-1000 * time.Hour), true},
		{"from only", TimeRange{From: now}, now.Add(time.Minute), true},
		{"to only", TimeRange{To: now}, now.Add(time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Contains(tt.t); got != tt.expected {
				t.Errorf("Contains = %v, want %v", got, tt.expected)
			}
		})
	}
}
