// Package queue moves audit entries between processes through Redis. Each
// log stream gets one list; a single worker per deployment drains the
// lists into the durable store, so concurrent producers anywhere in the
// fleet are serialized per stream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/praktijkzorg/medguard/internal/audit"
)

const (
	CloudQueriesKey    = "medguard:audit:cloud_queries"
	GuardrailEventsKey = "medguard:audit:guardrail_events"
	IsolationKey       = "medguard:audit:isolation_checks"
	WorkerHeartbeatKey = "medguard:workers:heartbeat"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) push(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("enqueueing audit entry: %w", err)
	}
	return nil
}

func (q *Queue) PublishCloudQuery(ctx context.Context, entry *audit.CloudQueryEntry) error {
	return q.push(ctx, CloudQueriesKey, entry)
}

func (q *Queue) PublishGuardrailEvent(ctx context.Context, entry *audit.GuardrailEventEntry) error {
	return q.push(ctx, GuardrailEventsKey, entry)
}

func (q *Queue) PublishIsolationCheck(ctx context.Context, entry *audit.PatientIsolationEntry) error {
	return q.push(ctx, IsolationKey, entry)
}

// Sink adapts the queue into an audit.Sink: appends are published to
// Redis while queries read through to the durable store the worker feeds.
type Sink struct {
	queue *Queue
	store audit.Sink
}

func NewSink(queue *Queue, store audit.Sink) *Sink {
	return &Sink{queue: queue, store: store}
}

func (s *Sink) AppendCloudQuery(ctx context.Context, entry *audit.CloudQueryEntry) error {
	return s.queue.PublishCloudQuery(ctx, entry)
}

func (s *Sink) AppendGuardrailEvent(ctx context.Context, entry *audit.GuardrailEventEntry) error {
	return s.queue.PublishGuardrailEvent(ctx, entry)
}

func (s *Sink) AppendIsolationCheck(ctx context.Context, entry *audit.PatientIsolationEntry) error {
	return s.queue.PublishIsolationCheck(ctx, entry)
}

func (s *Sink) QueryCloudQueries(ctx context.Context, r audit.TimeRange) ([]audit.CloudQueryEntry, error) {
	return s.store.QueryCloudQueries(ctx, r)
}

func (s *Sink) QueryGuardrailEvents(ctx context.Context, r audit.TimeRange) ([]audit.GuardrailEventEntry, error) {
	return s.store.QueryGuardrailEvents(ctx, r)
}

func (s *Sink) QueryIsolationChecks(ctx context.Context, r audit.TimeRange) ([]audit.PatientIsolationEntry, error) {
	return s.store.QueryIsolationChecks(ctx, r)
}

func (s *Sink) Close() error {
	return s.queue.Close()
}
