package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/praktijkzorg/medguard/internal/anonymizer"
	"github.com/praktijkzorg/medguard/internal/archive"
	"github.com/praktijkzorg/medguard/internal/audit"
	"github.com/praktijkzorg/medguard/internal/auth"
	"github.com/praktijkzorg/medguard/internal/cloudgate"
	"github.com/praktijkzorg/medguard/internal/config"
	"github.com/praktijkzorg/medguard/internal/guardrails"
	"github.com/praktijkzorg/medguard/internal/memoryaccess"
	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/notifications"
	"github.com/praktijkzorg/medguard/internal/pii"
	"github.com/praktijkzorg/medguard/internal/queue"
	"github.com/praktijkzorg/medguard/internal/scheduler"
	"github.com/praktijkzorg/medguard/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	detector     pii.Detector
	anonymizer   *anonymizer.Anonymizer
	decider      *cloudgate.Decider
	orchestrator *guardrails.Orchestrator
	memory       *memoryaccess.Manager

	jsonl    *audit.JSONLSink
	store    *store.Store
	queue    *queue.Queue
	worker   *queue.Worker
	trail    *audit.Trail
	reader   audit.Sink
	reporter *audit.Reporter

	authService *auth.Service
	userStore   auth.UserStore

	scheduler *scheduler.Scheduler
	archiver  *archive.Archiver
	notifier  *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSecondaryRails(rails guardrails.SecondaryRails) ServerOption {
	return func(s *Server) {
		s.orchestrator = guardrails.New(s.cfg.Guardrails.Config, s.detector,
			guardrails.WithSecondaryRails(rails),
			guardrails.WithLogger(s.logger),
		)
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: slog.Default(),
	}

	detector := pii.NewDetector()
	s.detector = detector
	s.anonymizer = anonymizer.New(detector)
	s.decider = cloudgate.New(detector)
	s.orchestrator = guardrails.New(cfg.Guardrails.Config, detector)
	s.memory = memoryaccess.NewManager(memoryaccess.Config{
		EnforcePatientIsolation: cfg.Memory.EnforcePatientIsolation,
		SharedReadForAll:        cfg.Memory.SharedReadForAll,
	})

	if err := s.setupAudit(cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Enabled && s.store != nil {
		s.userStore = auth.NewPostgresUserStore(s.store.DB())
	} else {
		s.userStore = auth.NewMemoryUserStore()
	}
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.notifier = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			Enabled:    cfg.Notifications.Slack.Enabled,
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
		},
		Email: notifications.EmailConfig{
			Enabled:  cfg.Notifications.Email.Enabled,
			SMTPHost: cfg.Notifications.Email.SMTPHost,
			SMTPPort: cfg.Notifications.Email.SMTPPort,
			Username: cfg.Notifications.Email.Username,
			Password: cfg.Notifications.Email.Password,
			From:     cfg.Notifications.Email.From,
			To:       cfg.Notifications.Email.To,
		},
	}, s.logger)

	for _, opt := range opts {
		opt(s)
	}

	s.memory.SetAuditHook(s.isolationAuditHook)

	if err := s.setupScheduler(cfg); err != nil {
		return nil, err
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// setupAudit wires the trail's write and read paths. The JSONL sink is
// always present; Postgres replaces it as durable store when enabled, and
// Redis sits in front as a cross-process write buffer when enabled.
func (s *Server) setupAudit(cfg *config.Config) error {
	jsonl, err := audit.NewJSONLSink(cfg.Audit.Dir)
	if err != nil {
		return fmt.Errorf("initializing audit log: %w", err)
	}
	s.jsonl = jsonl

	var durable audit.Sink = jsonl
	if cfg.Database.Enabled {
		st, err := store.New(store.Config{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		s.store = st
		durable = st
	}

	var writeSink audit.Sink = durable
	if cfg.Redis.Enabled {
		q, err := queue.New(queue.Config{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("initializing redis queue: %w", err)
		}
		s.queue = q
		s.worker = queue.NewWorker(queue.WorkerConfig{
			Queue:  q,
			Sink:   durable,
			Logger: s.logger,
		})
		writeSink = queue.NewSink(q, durable)
	}

	s.trail = audit.NewTrail(writeSink, s.logger)
	s.reader = durable
	s.reporter = audit.NewReporter(durable)
	return nil
}

func (s *Server) setupScheduler(cfg *config.Config) error {
	if !cfg.Scheduler.Enabled {
		return nil
	}

	s.scheduler = scheduler.New(s.logger)

	if err := s.scheduler.AddJob("effectiveness-report", cfg.Scheduler.ReportSchedule, s.dailyReportJob); err != nil {
		return err
	}

	if cfg.Archive.Enabled {
		arch, err := archive.New(context.Background(), archive.Config{
			Bucket: cfg.Archive.Bucket,
			Prefix: cfg.Archive.Prefix,
			Region: cfg.Archive.Region,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("initializing archiver: %w", err)
		}
		s.archiver = arch

		if err := s.scheduler.AddJob("archive-segments", cfg.Scheduler.ArchiveSchedule, s.archiveJob); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) dailyReportJob(ctx context.Context) error {
	now := time.Now().UTC()
	report, err := s.reporter.BuildReport(ctx, audit.TimeRange{
		From: now.Add(-24 * time.Hour),
		To:   now,
	})
	if err != nil {
		return err
	}
	return s.notifier.NotifyDailyReport(ctx, report)
}

// archiveJob seals every live stream file and ships sealed segments to S3,
// then sweeps archived copies past retention.
func (s *Server) archiveJob(ctx context.Context) error {
	for _, stream := range []audit.Stream{audit.StreamCloudQueries, audit.StreamGuardrailEvents, audit.StreamIsolationChecks} {
		if _, err := s.jsonl.Seal(stream); err != nil {
			return fmt.Errorf("sealing %s: %w", stream, err)
		}
	}

	if _, err := s.archiver.ArchiveDir(ctx, s.cfg.Audit.Dir); err != nil {
		return err
	}

	retention := time.Duration(s.cfg.Scheduler.RetentionDays) * 24 * time.Hour
	_, err := s.archiver.Sweep(ctx, retention)
	return err
}

// isolationAuditHook turns every memory decision into an isolation audit
// entry. Patient context ids are hashed before they reach the trail.
func (s *Server) isolationAuditHook(req memoryaccess.AccessRequest, dec memoryaccess.Decision) {
	if req.PatientContextID == "" {
		return
	}

	ctxHash := anonymizer.HashText(req.PatientContextID)
	returned := []string{}
	if dec.Allowed {
		returned = append(returned, ctxHash)
	}

	entry := audit.NewPatientIsolationEntry(audit.PatientIsolationEntry{
		RequestingPatientHash: ctxHash,
		RequestedScopeHashes:  []string{ctxHash},
		ReturnedScopeHashes:   returned,
	})
	s.trail.RecordIsolationCheck(entry)

	if maintained, _ := entry.CheckIsolation(); !maintained {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.NotifyIsolationViolation(ctx, entry); err != nil {
				s.logger.Error("isolation violation alert failed", "error", err)
			}
		}()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Post("/validate/input", s.validateInput)
			r.Post("/validate/output", s.validateOutput)
			r.Post("/anonymize", s.anonymize)
			r.Post("/cloud/eligibility", s.cloudEligibility)

			r.Route("/memory", func(r chi.Router) {
				r.Post("/access", s.memoryAccess)
				r.Post("/context", s.registerPatientContext)
			})

			// Audit access belongs to the auditor role alone; Admin
			// manages users and config but never reads governance data.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAuditor))

				r.Route("/audit", func(r chi.Router) {
					r.Get("/cloud-queries", s.listCloudQueries)
					r.Get("/guardrail-events", s.listGuardrailEvents)
					r.Get("/isolation-checks", s.listIsolationChecks)
				})

				r.Get("/reports/effectiveness", s.effectivenessReport)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	s.trail.Start(ctx)

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("starting audit worker: %w", err)
		}
	}
	if s.scheduler != nil {
		s.scheduler.Start()
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if s.scheduler != nil {
			<-s.scheduler.Stop().Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)

		if s.worker != nil {
			s.worker.Stop()
		}
		if closeErr := s.trail.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		// The trail closed its write sink only; close the sinks behind
		// or beside it.
		if s.queue != nil {
			if s.store != nil {
				_ = s.store.Close()
			}
			_ = s.jsonl.Close()
		} else if s.store != nil {
			_ = s.jsonl.Close()
		}
		return err
	}
}

// Migrate runs the database migrations when Postgres is enabled.
func (s *Server) Migrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Migrate(ctx); err != nil {
		return err
	}
	if ps, ok := s.userStore.(*auth.PostgresUserStore); ok {
		return ps.Migrate(ctx)
	}
	return nil
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
