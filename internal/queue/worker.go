package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/praktijkzorg/medguard/internal/audit"
)

// Worker drains the audit lists into the durable sink. Run exactly one
// per deployment so per-stream ordering is preserved end to end.
type Worker struct {
	id     string
	queue  *Queue
	sink   audit.Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue  *Queue
	Sink   audit.Sink
	Logger *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:     fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		queue:  cfg.Queue,
		sink:   cfg.Sink,
		logger: logger,
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("audit worker starting", "worker_id", w.id)

	w.wg.Add(1)
	go w.heartbeatLoop()

	for _, key := range []string{CloudQueriesKey, GuardrailEventsKey, IsolationKey} {
		w.wg.Add(1)
		go w.drainLoop(key)
	}

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info("audit worker stopped", "worker_id", w.id)
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.client.HSet(w.ctx, WorkerHeartbeatKey, w.id, time.Now().Unix()).Err(); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) drainLoop(key string) {
	defer w.wg.Done()

	for {
		res, err := w.queue.client.BRPop(w.ctx, 5*time.Second, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Warn("audit dequeue failed", "key", key, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		if err := w.store(key, []byte(res[1])); err != nil {
			// The entry is evidence; log loudly but keep draining.
			w.logger.Error("audit store write failed", "key", key, "error", err)
		}
	}
}

func (w *Worker) store(key string, data []byte) error {
	switch key {
	case CloudQueriesKey:
		var e audit.CloudQueryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding cloud query entry: %w", err)
		}
		return w.sink.AppendCloudQuery(w.ctx, &e)
	case GuardrailEventsKey:
		var e audit.GuardrailEventEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding guardrail event entry: %w", err)
		}
		return w.sink.AppendGuardrailEvent(w.ctx, &e)
	case IsolationKey:
		var e audit.PatientIsolationEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding isolation entry: %w", err)
		}
		return w.sink.AppendIsolationCheck(w.ctx, &e)
	}
	return fmt.Errorf("unknown audit queue key %q", key)
}
