package guardrails

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/pii"
)

// failurePolicy decides what an internal check failure degrades to.
type failurePolicy int

const (
	// failOpen records a warning and lets the pipeline continue. Input
	// side only.
	failOpen failurePolicy = iota
	// failClosed records an error that the caller treats as a block.
	// Output side: an unverifiable response is never released.
	failClosed
)

// runCheck executes one sub-check and converts a panic into a degraded
// status instead of crashing the orchestrator.
func runCheck(check models.GuardrailType, policy failurePolicy, fn func() ValidationResult) (result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			status := models.StatusWarning
			if policy == failClosed {
				status = models.StatusError
			}
			result = ValidationResult{
				Check:  check,
				Status: status,
				Reason: fmt.Sprintf("internal check failure: %v", r),
			}
		}
	}()
	return fn()
}

// SecondaryRails is an optional second engine composed after the built-in
// checks. Its verdict can add a block on top of the custom checks; its
// failure never overrides them.
type SecondaryRails interface {
	Name() string
	Validate(ctx context.Context, text string) (allowed bool, reason string, err error)
}

// Orchestrator sequences the validators and merges their results into one
// pass/fail decision. It holds per-call state only; the Config is
// read-mostly and replaced wholesale on reload.
type Orchestrator struct {
	cfg       Config
	input     *InputValidator
	output    *OutputValidator
	secondary SecondaryRails
	logger    *slog.Logger
}

type Option func(*Orchestrator)

func WithSecondaryRails(rails SecondaryRails) Option {
	return func(o *Orchestrator) { o.secondary = rails }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an orchestrator sharing one detector across both passes so
// the input scan and the output scan can never disagree on the taxonomy.
func New(cfg Config, detector pii.Detector, opts ...Option) *Orchestrator {
	if detector == nil {
		detector = pii.NewDetector()
	}
	o := &Orchestrator{
		cfg:    cfg,
		input:  NewInputValidator(cfg, detector),
		output: NewOutputValidator(cfg, detector),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidateInput runs the pre-generation pass.
func (o *Orchestrator) ValidateInput(ctx context.Context, text string, gctx Context) *Result {
	start := time.Now()

	if !o.cfg.Enabled {
		return disabledResult(start, true)
	}

	pass := o.input.Validate(text, gctx)
	o.runSecondary(ctx, text, pass)

	result := &Result{
		Allowed: !pass.ShouldBlock,
		Input:   pass,
		Issues:  pass.Issues,
		Elapsed: time.Since(start),
	}

	if !result.Allowed {
		o.logger.Info("input blocked",
			"reason", pass.Reason,
			"role", gctx.Role,
			"source", gctx.Source,
		)
	}
	return result
}

// ValidateOutput runs the post-generation pass.
func (o *Orchestrator) ValidateOutput(ctx context.Context, text string, gctx Context) *Result {
	start := time.Now()

	if !o.cfg.Enabled {
		return disabledResult(start, false)
	}

	pass := o.output.Validate(text, gctx)
	o.runSecondary(ctx, text, pass)

	result := &Result{
		Allowed: !pass.ShouldBlock,
		Output:  pass,
		Issues:  pass.Issues,
		Elapsed: time.Since(start),
	}

	if !result.Allowed {
		o.logger.Info("output blocked",
			"reason", pass.Reason,
			"role", gctx.Role,
		)
	}
	return result
}

// runSecondary invokes the optional second engine. An engine error is
// recorded as a skipped check with the error reason, never as an allow or
// a block on its own: the built-in checks stay authoritative.
func (o *Orchestrator) runSecondary(ctx context.Context, text string, pass *PassResult) {
	if o.secondary == nil || pass.ShouldBlock {
		return
	}

	allowed, reason, err := o.secondary.Validate(ctx, text)
	if err != nil {
		o.logger.Warn("secondary rails engine failed", "engine", o.secondary.Name(), "error", err)
		pass.Checks = append(pass.Checks, ValidationResult{
			Check:  models.GuardrailSecondary,
			Status: models.StatusSkipped,
			Reason: fmt.Sprintf("engine error: %v", err),
		})
		return
	}

	if allowed {
		pass.Checks = append(pass.Checks, ValidationResult{
			Check:  models.GuardrailSecondary,
			Status: models.StatusPassed,
		})
		return
	}

	pass.record(ValidationResult{
		Check:  models.GuardrailSecondary,
		Status: models.StatusBlocked,
		Reason: reason,
	})
}

func disabledResult(start time.Time, input bool) *Result {
	pass := &PassResult{Valid: true}
	pass.Checks = append(pass.Checks, ValidationResult{
		Check:  models.GuardrailBypass,
		Status: models.StatusSkipped,
		Reason: "guardrails disabled",
	})
	r := &Result{Allowed: true, Elapsed: time.Since(start)}
	if input {
		r.Input = pass
	} else {
		r.Output = pass
	}
	return r
}
