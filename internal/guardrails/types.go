package guardrails

import (
	"time"

	"github.com/praktijkzorg/medguard/internal/models"
)

// Context carries the request metadata the validators are allowed to see.
type Context struct {
	Source    string      `json:"source,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// ValidationResult is the outcome of one sub-check.
type ValidationResult struct {
	Check      models.GuardrailType `json:"check"`
	Status     models.CheckStatus   `json:"status"`
	Reason     string               `json:"reason,omitempty"`
	Confidence float64              `json:"confidence,omitempty"`
}

// Blocking reports whether this sub-check forces the aggregate to deny.
func (r ValidationResult) Blocking() bool {
	return r.Status == models.StatusBlocked
}

// PassResult is the outcome of one side's checks (input or output).
type PassResult struct {
	Valid         bool               `json:"valid"`
	Reason        string             `json:"reason,omitempty"`
	Issues        []string           `json:"issues,omitempty"`
	SanitizedText string             `json:"sanitized_text,omitempty"`
	ShouldBlock   bool               `json:"should_block"`
	Checks        []ValidationResult `json:"checks"`
}

func (p *PassResult) record(r ValidationResult) {
	p.Checks = append(p.Checks, r)
	switch r.Status {
	case models.StatusBlocked:
		p.Valid = false
		p.ShouldBlock = true
		p.Issues = append(p.Issues, string(r.Check))
		if p.Reason == "" {
			p.Reason = r.Reason
		}
	case models.StatusWarning:
		p.Issues = append(p.Issues, string(r.Check))
	}
}

// Result is the aggregate decision for one orchestrated call.
type Result struct {
	Allowed bool          `json:"allowed"`
	Input   *PassResult   `json:"input,omitempty"`
	Output  *PassResult   `json:"output,omitempty"`
	Issues  []string      `json:"issues,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// RefusalMessage returns the fixed message to surface to the user when the
// result is a block. Empty when allowed.
func (r *Result) RefusalMessage() string {
	if r.Allowed {
		return ""
	}
	if r.Output != nil {
		return RefusalOutput
	}
	return RefusalInput
}
