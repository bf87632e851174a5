// Package store is the durable audit sink: three append-only Postgres
// tables with insert and time-range select only. There is no update or
// delete statement anywhere in this package.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/praktijkzorg/medguard/internal/audit"
	"github.com/praktijkzorg/medguard/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the audit tables. The tables carry no updated_at: rows
// are written once.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cloud_query_audit (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		cloud_query_text TEXT NOT NULL,
		original_query_hash TEXT NOT NULL,
		pii_categories TEXT[] NOT NULL DEFAULT '{}',
		pii_count INT NOT NULL DEFAULT 0,
		transformations TEXT[] NOT NULL DEFAULT '{}',
		role TEXT NOT NULL,
		session_hash TEXT NOT NULL,
		provider TEXT NOT NULL,
		latency_ms BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cloud_query_audit_ts ON cloud_query_audit (timestamp);

	CREATE TABLE IF NOT EXISTS guardrail_event_audit (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		guardrail_type TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		query_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_guardrail_event_audit_ts ON guardrail_event_audit (timestamp);

	CREATE TABLE IF NOT EXISTS patient_isolation_audit (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		requesting_patient_hash TEXT NOT NULL,
		requested_scope_hashes TEXT[] NOT NULL DEFAULT '{}',
		returned_scope_hashes TEXT[] NOT NULL DEFAULT '{}',
		isolation_maintained BOOLEAN NOT NULL,
		blocked_count INT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_patient_isolation_audit_ts ON patient_isolation_audit (timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating audit schema: %w", err)
	}
	return nil
}

func (s *Store) AppendCloudQuery(ctx context.Context, entry *audit.CloudQueryEntry) error {
	query := `
		INSERT INTO cloud_query_audit
			(id, timestamp, cloud_query_text, original_query_hash, pii_categories, pii_count, transformations, role, session_hash, provider, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	cats := make([]string, len(entry.PIICategories))
	for i, c := range entry.PIICategories {
		cats[i] = string(c)
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.CloudQueryText,
		entry.OriginalQueryHash,
		pq.StringArray(cats),
		entry.PIICount,
		pq.StringArray(entry.Transformations),
		entry.Role,
		entry.SessionHash,
		entry.Provider,
		entry.LatencyMS,
	)
	return err
}

func (s *Store) AppendGuardrailEvent(ctx context.Context, entry *audit.GuardrailEventEntry) error {
	query := `
		INSERT INTO guardrail_event_audit
			(id, timestamp, guardrail_type, action, reason, query_hash, role, latency_ms, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.GuardrailType,
		entry.Action,
		entry.Reason,
		entry.QueryHash,
		entry.Role,
		entry.LatencyMS,
		entry.Confidence,
	)
	return err
}

func (s *Store) AppendIsolationCheck(ctx context.Context, entry *audit.PatientIsolationEntry) error {
	query := `
		INSERT INTO patient_isolation_audit
			(id, timestamp, requesting_patient_hash, requested_scope_hashes, returned_scope_hashes, isolation_maintained, blocked_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.RequestingPatientHash,
		pq.StringArray(entry.RequestedScopeHashes),
		pq.StringArray(entry.ReturnedScopeHashes),
		entry.IsolationMaintained,
		entry.BlockedCount,
	)
	return err
}

type cloudQueryRow struct {
	audit.CloudQueryEntry
	PIICategoriesArr   pq.StringArray `db:"pii_categories"`
	TransformationsArr pq.StringArray `db:"transformations"`
}

func (s *Store) QueryCloudQueries(ctx context.Context, r audit.TimeRange) ([]audit.CloudQueryEntry, error) {
	query, args := timeRangeQuery(`SELECT * FROM cloud_query_audit`, r)

	var rows []cloudQueryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]audit.CloudQueryEntry, 0, len(rows))
	for _, row := range rows {
		e := row.CloudQueryEntry
		e.PIICategories = make([]models.PIICategory, len(row.PIICategoriesArr))
		for i, c := range row.PIICategoriesArr {
			e.PIICategories[i] = models.PIICategory(c)
		}
		e.Transformations = []string(row.TransformationsArr)
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) QueryGuardrailEvents(ctx context.Context, r audit.TimeRange) ([]audit.GuardrailEventEntry, error) {
	query, args := timeRangeQuery(`SELECT * FROM guardrail_event_audit`, r)

	var out []audit.GuardrailEventEntry
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

type isolationRow struct {
	audit.PatientIsolationEntry
	RequestedArr pq.StringArray `db:"requested_scope_hashes"`
	ReturnedArr  pq.StringArray `db:"returned_scope_hashes"`
}

func (s *Store) QueryIsolationChecks(ctx context.Context, r audit.TimeRange) ([]audit.PatientIsolationEntry, error) {
	query, args := timeRangeQuery(`SELECT * FROM patient_isolation_audit`, r)

	var rows []isolationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]audit.PatientIsolationEntry, 0, len(rows))
	for _, row := range rows {
		e := row.PatientIsolationEntry
		e.RequestedScopeHashes = []string(row.RequestedArr)
		e.ReturnedScopeHashes = []string(row.ReturnedArr)
		out = append(out, e)
	}
	return out, nil
}

func timeRangeQuery(base string, r audit.TimeRange) (string, []interface{}) {
	query := base + ` WHERE 1=1`
	args := make([]interface{}, 0, 2)
	argIdx := 1

	if !r.From.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, r.From)
		argIdx++
	}
	if !r.To.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, r.To)
	}

	query += " ORDER BY timestamp ASC"
	return query, args
}
