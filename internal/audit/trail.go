package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Trail is the write path of the audit log. Concurrent producers enqueue
// onto one buffered channel per stream; a single writer goroutine per
// stream drains into the sink, so ordering within a stream is preserved
// without producers ever blocking on sink I/O locks.
type Trail struct {
	sink   Sink
	logger *slog.Logger

	cloudCh     chan *CloudQueryEntry
	guardrailCh chan *GuardrailEventEntry
	isolationCh chan *PatientIsolationEntry

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

const trailBuffer = 256

// NewTrail wraps a sink. Call Start before recording.
func NewTrail(sink Sink, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{
		sink:        sink,
		logger:      logger,
		cloudCh:     make(chan *CloudQueryEntry, trailBuffer),
		guardrailCh: make(chan *GuardrailEventEntry, trailBuffer),
		isolationCh: make(chan *PatientIsolationEntry, trailBuffer),
	}
}

// Start launches the three writer goroutines. They run until the channels
// are closed by Close and drain fully before exiting.
func (t *Trail) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true

	t.wg.Add(3)
	go func() {
		defer t.wg.Done()
		for e := range t.cloudCh {
			if err := t.sink.AppendCloudQuery(ctx, e); err != nil {
				t.logger.Error("cloud query audit write failed", "error", err, "entry_id", e.ID)
			}
		}
	}()
	go func() {
		defer t.wg.Done()
		for e := range t.guardrailCh {
			if err := t.sink.AppendGuardrailEvent(ctx, e); err != nil {
				t.logger.Error("guardrail event audit write failed", "error", err, "entry_id", e.ID)
			}
		}
	}()
	go func() {
		defer t.wg.Done()
		for e := range t.isolationCh {
			if err := t.sink.AppendIsolationCheck(ctx, e); err != nil {
				t.logger.Error("isolation audit write failed", "error", err, "entry_id", e.ID)
			}
		}
	}()
}

// RecordCloudQuery enqueues a cloud-query evidence entry.
func (t *Trail) RecordCloudQuery(entry *CloudQueryEntry) {
	t.cloudCh <- entry
}

// RecordGuardrailEvent enqueues a guardrail decision entry.
func (t *Trail) RecordGuardrailEvent(entry *GuardrailEventEntry) {
	t.guardrailCh <- entry
}

// RecordIsolationCheck enqueues a patient-isolation check entry.
func (t *Trail) RecordIsolationCheck(entry *PatientIsolationEntry) {
	t.isolationCh <- entry
}

// Close stops accepting entries, waits for the writers to drain, and
// closes the sink. Recording after Close panics; shut down callers first.
func (t *Trail) Close() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return t.sink.Close()
	}
	t.started = false
	t.mu.Unlock()

	close(t.cloudCh)
	close(t.guardrailCh)
	close(t.isolationCh)
	t.wg.Wait()
	return t.sink.Close()
}
