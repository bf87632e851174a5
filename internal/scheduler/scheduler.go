// Package scheduler runs the recurring governance jobs: the daily
// effectiveness report, shipping sealed audit segments to the archive,
// and the retention sweep over archived copies.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type JobFunc func(ctx context.Context) error

type Job struct {
	Name     string
	Schedule string
	Run      JobFunc

	LastRun   time.Time
	LastError string
}

type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	entries map[string]cron.EntryID
	mu      sync.RWMutex
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		jobs:    make(map[string]*Job),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	job := &Job{Name: name, Schedule: schedule, Run: fn}
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for job %q: %w", schedule, name, err)
	}

	s.jobs[name] = job
	s.entries[name] = entryID
	s.logger.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow triggers a job outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	go s.execute(job)
	return nil
}

func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	entryID, ok := s.entries[name]
	s.mu.RUnlock()

	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

func (s *Scheduler) execute(job *Job) {
	ctx := context.Background()
	start := time.Now()

	s.logger.Info("executing job", "job", job.Name)

	err := job.Run(ctx)

	s.mu.Lock()
	job.LastRun = start
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("job completed", "job", job.Name, "duration", time.Since(start))
}
