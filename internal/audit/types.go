// Package audit keeps the governance layer's evidence: three append-only
// log streams plus an aggregate effectiveness report. Entry types expose
// constructors and read/serialize methods only; update and delete do not
// exist anywhere on the public surface.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/praktijkzorg/medguard/internal/models"
)

// Stream names one of the three log streams. Ordering is preserved within
// a stream; streams are not mutually ordered beyond shared timestamps.
type Stream string

const (
	StreamCloudQueries    Stream = "cloud_queries"
	StreamGuardrailEvents Stream = "guardrail_events"
	StreamIsolationChecks Stream = "isolation_checks"
)

// CloudQueryEntry is the evidence that a query left the local boundary in
// anonymized form. CloudQueryText is the literal text an auditor reviews;
// the original query exists only as its hash.
type CloudQueryEntry struct {
	ID                uuid.UUID            `json:"id" db:"id"`
	Timestamp         time.Time            `json:"timestamp" db:"timestamp"`
	CloudQueryText    string               `json:"cloud_query_text" db:"cloud_query_text"`
	OriginalQueryHash string               `json:"original_query_hash" db:"original_query_hash"`
	PIICategories     []models.PIICategory `json:"pii_categories" db:"-"`
	PIICount          int                  `json:"pii_count" db:"pii_count"`
	Transformations   []string             `json:"transformations" db:"-"`
	Role              models.Role          `json:"role" db:"role"`
	SessionHash       string               `json:"session_hash" db:"session_hash"`
	Provider          string               `json:"provider" db:"provider"`
	LatencyMS         int64                `json:"latency_ms" db:"latency_ms"`
}

// NewCloudQueryEntry stamps id and timestamp; all other fields are fixed
// at construction.
func NewCloudQueryEntry(e CloudQueryEntry) *CloudQueryEntry {
	e.ID = uuid.New()
	e.Timestamp = time.Now().UTC()
	return &e
}

// ToInspectionRecord renders the auditor-facing view of the entry.
func (e *CloudQueryEntry) ToInspectionRecord() map[string]any {
	cats := make([]string, len(e.PIICategories))
	for i, c := range e.PIICategories {
		cats[i] = string(c)
	}
	return map[string]any{
		"id":                  e.ID.String(),
		"timestamp":           e.Timestamp.Format(time.RFC3339),
		"cloud_query_text":    e.CloudQueryText,
		"original_query_hash": e.OriginalQueryHash,
		"pii_categories":      cats,
		"pii_count":           e.PIICount,
		"transformations":     e.Transformations,
		"role":                string(e.Role),
		"session_hash":        e.SessionHash,
		"provider":            e.Provider,
		"latency_ms":          e.LatencyMS,
	}
}

// GuardrailAction is what a guardrail did with the traffic it saw.
type GuardrailAction string

const (
	ActionPassed  GuardrailAction = "passed"
	ActionBlocked GuardrailAction = "blocked"
	ActionWarned  GuardrailAction = "warned"
	ActionErrored GuardrailAction = "errored"
)

// GuardrailEventEntry records one guardrail decision. The triggering text
// is never stored; only its hash and the reason code.
type GuardrailEventEntry struct {
	ID            uuid.UUID            `json:"id" db:"id"`
	Timestamp     time.Time            `json:"timestamp" db:"timestamp"`
	GuardrailType models.GuardrailType `json:"guardrail_type" db:"guardrail_type"`
	Action        GuardrailAction      `json:"action" db:"action"`
	Reason        string               `json:"reason" db:"reason"`
	QueryHash     string               `json:"query_hash" db:"query_hash"`
	Role          models.Role          `json:"role" db:"role"`
	LatencyMS     int64                `json:"latency_ms" db:"latency_ms"`
	Confidence    float64              `json:"confidence" db:"confidence"`
}

func NewGuardrailEventEntry(e GuardrailEventEntry) *GuardrailEventEntry {
	e.ID = uuid.New()
	e.Timestamp = time.Now().UTC()
	return &e
}

// ToDict renders the entry for a log store.
func (e *GuardrailEventEntry) ToDict() map[string]any {
	return map[string]any{
		"id":             e.ID.String(),
		"timestamp":      e.Timestamp.Format(time.RFC3339),
		"guardrail_type": string(e.GuardrailType),
		"action":         string(e.Action),
		"reason":         e.Reason,
		"query_hash":     e.QueryHash,
		"role":           string(e.Role),
		"latency_ms":     e.LatencyMS,
		"confidence":     e.Confidence,
	}
}

// PatientIsolationEntry records one patient-isolation check. All patient
// identifiers appear as hashes only.
type PatientIsolationEntry struct {
	ID                    uuid.UUID `json:"id" db:"id"`
	Timestamp             time.Time `json:"timestamp" db:"timestamp"`
	RequestingPatientHash string    `json:"requesting_patient_hash" db:"requesting_patient_hash"`
	RequestedScopeHashes  []string  `json:"requested_scope_hashes" db:"-"`
	ReturnedScopeHashes   []string  `json:"returned_scope_hashes" db:"-"`
	IsolationMaintained   bool      `json:"isolation_maintained" db:"isolation_maintained"`
	BlockedCount          int       `json:"blocked_count" db:"blocked_count"`
}

// NewPatientIsolationEntry stamps id/timestamp and derives the isolation
// flags from the two hash sets.
func NewPatientIsolationEntry(e PatientIsolationEntry) *PatientIsolationEntry {
	e.ID = uuid.New()
	e.Timestamp = time.Now().UTC()
	e.IsolationMaintained, e.BlockedCount = e.CheckIsolation()
	return &e
}

// CheckIsolation recomputes the flags from the hash sets rather than
// trusting stored values: isolation held iff every returned scope belongs
// to the requesting patient, and the blocked count is the number of
// requested scopes that were not returned.
func (e *PatientIsolationEntry) CheckIsolation() (maintained bool, blocked int) {
	maintained = true
	for _, h := range e.ReturnedScopeHashes {
		if h != e.RequestingPatientHash {
			maintained = false
		}
	}

	returned := make(map[string]bool, len(e.ReturnedScopeHashes))
	for _, h := range e.ReturnedScopeHashes {
		returned[h] = true
	}
	for _, h := range e.RequestedScopeHashes {
		if !returned[h] {
			blocked++
		}
	}
	return maintained, blocked
}

// ToDict renders the entry for a log store.
func (e *PatientIsolationEntry) ToDict() map[string]any {
	return map[string]any{
		"id":                      e.ID.String(),
		"timestamp":               e.Timestamp.Format(time.RFC3339),
		"requesting_patient_hash": e.RequestingPatientHash,
		"requested_scope_hashes":  e.RequestedScopeHashes,
		"returned_scope_hashes":   e.ReturnedScopeHashes,
		"isolation_maintained":    e.IsolationMaintained,
		"blocked_count":           e.BlockedCount,
	}
}

// TimeRange bounds a query. Zero values mean unbounded on that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
