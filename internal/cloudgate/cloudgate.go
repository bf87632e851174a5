// Package cloudgate decides whether anonymized text may leave the local
// boundary. The role-policy check runs first and never touches the text;
// the PII check is purely a function of the anonymization output.
package cloudgate

import (
	"github.com/praktijkzorg/medguard/internal/access"
	"github.com/praktijkzorg/medguard/internal/anonymizer"
	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/pii"
)

// Reason codes carried on an eligibility decision.
const (
	ReasonApproved     = "approved"
	ReasonPIIRemains   = "denied_pii_remains"
	ReasonPolicyDenied = "denied_policy"
	ReasonEmptyRequest = "denied_empty_request"
)

// Eligibility is the gate decision for one request.
type Eligibility struct {
	Eligible        bool                       `json:"eligible"`
	Reason          string                     `json:"reason"`
	Detail          string                     `json:"detail,omitempty"`
	Anonymized      *anonymizer.AnonymizedText `json:"anonymized,omitempty"`
	BlockedBy       []models.PIICategory       `json:"blocked_by,omitempty"`
	FallbackToLocal bool                       `json:"fallback_to_local"`
}

// Decider evaluates cloud eligibility. Stateless; safe for concurrent use.
type Decider struct {
	detector pii.Detector
}

// New returns a Decider. Pass the same detector the anonymizer uses so
// both sides agree on what counts as residual PII; nil gets the default.
func New(detector pii.Detector) *Decider {
	if detector == nil {
		detector = pii.NewDetector()
	}
	return &Decider{detector: detector}
}

// DecidePolicy checks whether the role may use a cloud LLM at all. Callers
// run this before anonymizing so denied roles never trigger a detection
// pass.
func (d *Decider) DecidePolicy(role models.Role) *Eligibility {
	if !access.HasPermission(role, models.PermUseCloudLLM) {
		return &Eligibility{
			Eligible:        false,
			Reason:          ReasonPolicyDenied,
			Detail:          "role " + string(role) + " is not permitted to use cloud models",
			FallbackToLocal: true,
		}
	}
	return &Eligibility{Eligible: true, Reason: ReasonApproved}
}

// Decide consumes an anonymization result and approves cloud egress only
// when the text is cloud-safe. On denial the transformed text is rescanned
// and the categories still present are listed; the pre-transform detections
// describe spans that were already replaced, not what leaked.
func (d *Decider) Decide(anon *anonymizer.AnonymizedText) *Eligibility {
	if anon == nil || anon.Text == "" {
		return &Eligibility{
			Eligible:        false,
			Reason:          ReasonEmptyRequest,
			FallbackToLocal: true,
		}
	}

	if anon.IsCloudSafe {
		return &Eligibility{
			Eligible:   true,
			Reason:     ReasonApproved,
			Anonymized: anon,
		}
	}

	var blocked []models.PIICategory
	seen := make(map[models.PIICategory]bool)
	for _, det := range d.detector.Detect(anon.Text) {
		if det.Safety() == models.CloudSafetyNever && !seen[det.Category] {
			seen[det.Category] = true
			blocked = append(blocked, det.Category)
		}
	}

	return &Eligibility{
		Eligible:        false,
		Reason:          ReasonPIIRemains,
		Detail:          "direct identifiers could not be cleared from the text",
		BlockedBy:       blocked,
		FallbackToLocal: true,
	}
}
