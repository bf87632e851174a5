package guardrails

import (
	"regexp"
	"strings"

	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/pii"
)

// leakPatterns match fragments of system or developer instructions
// appearing verbatim in model output.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy\s+(system\s+)?(prompt|instructions)\s+(is|are|say)\b`),
	regexp.MustCompile(`(?i)\bsystem\s+prompt\s*:`),
	regexp.MustCompile(`(?i)\bas\s+an\s+ai\s+(language\s+)?model\b.{0,60}\binstruct`),
	regexp.MustCompile(`(?i)\bi\s+(was|am)\s+(instructed|programmed|told)\s+to\b`),
	regexp.MustCompile(`(?i)\bhere\s+(is|are)\s+(my|the)\s+(system\s+)?(prompt|instructions)\b`),
	regexp.MustCompile(`\[INST\]|<<SYS>>|<\|system\|>`),
}

// advicePatterns match prescriptive medical advice: dosage instructions,
// start/stop directives, diagnostic assertions. The assistant drafts
// documents; it never prescribes.
var advicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byou\s+should\s+(take|start|stop|use|increase|decrease)\b`),
	regexp.MustCompile(`(?i)\b(take|start|stop)\s+(taking\s+)?\d+\s*(mg|mcg|µg|ml|g)\b`),
	regexp.MustCompile(`(?i)\b\d+\s*(mg|mcg|µg|ml)\b.{0,40}\b(per\s+day|daily|twice|once|every)\b`),
	regexp.MustCompile(`(?i)\bu\s+(moet|dient|kunt\s+het\s+beste?)\b.{0,60}\b(innemen|slikken|stoppen|starten|gebruiken)\b`),
	regexp.MustCompile(`(?i)\byou\s+(have|are\s+suffering\s+from)\s+[a-z]`),
	regexp.MustCompile(`(?i)\bu\s+(heeft|hebt|lijdt\s+aan)\s+(waarschijnlijk\s+)?[a-z]`),
	regexp.MustCompile(`(?i)\b(the\s+)?diagnosis\s+is\b`),
	regexp.MustCompile(`(?i)\bde\s+diagnose\s+(is|luidt)\b`),
}

// OutputValidator runs the post-generation checks. Unlike the input side,
// internal failures here fail closed: an unverifiable response is never
// released.
type OutputValidator struct {
	cfg      Config
	detector pii.Detector
}

func NewOutputValidator(cfg Config, detector pii.Detector) *OutputValidator {
	if detector == nil {
		detector = pii.NewDetector()
	}
	return &OutputValidator{cfg: cfg, detector: detector}
}

// Validate runs the output pass in order, short-circuiting on the first
// block: bypass, blocked terms, prompt leakage, medical advice, PII scan.
func (v *OutputValidator) Validate(text string, ctx Context) *PassResult {
	result := &PassResult{Valid: true, SanitizedText: text}

	if v.cfg.isTrusted(ctx.Source) {
		result.record(ValidationResult{
			Check:  models.GuardrailBypass,
			Status: models.StatusSkipped,
			Reason: "trusted source",
		})
		return result
	}

	type step struct {
		enabled bool
		check   models.GuardrailType
		fn      func(string) ValidationResult
	}
	steps := []step{
		{v.cfg.CheckBlockedTerms, models.GuardrailBlockedTerms, v.checkBlockedTerms},
		{v.cfg.CheckPromptLeak, models.GuardrailPromptLeak, v.checkPromptLeak},
		{v.cfg.CheckMedicalAdvice, models.GuardrailMedicalAdvice, v.checkMedicalAdvice},
		{v.cfg.CheckOutputPII, models.GuardrailOutputPII, v.scanPII},
	}

	for _, s := range steps {
		if !s.enabled {
			continue
		}
		r := runCheck(s.check, failClosed, func() ValidationResult {
			return s.fn(text)
		})
		result.record(r)
		if r.Blocking() || r.Status == models.StatusError {
			result.Valid = false
			result.ShouldBlock = true
			if result.Reason == "" {
				result.Reason = r.Reason
			}
			result.SanitizedText = RefusalOutput
			return result
		}
	}

	return result
}

func (v *OutputValidator) checkBlockedTerms(text string) ValidationResult {
	lower := strings.ToLower(text)
	for _, term := range v.cfg.BlockedTerms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return ValidationResult{
				Check:  models.GuardrailBlockedTerms,
				Status: models.StatusBlocked,
				Reason: "response contains a blocked term",
			}
		}
	}
	return ValidationResult{Check: models.GuardrailBlockedTerms, Status: models.StatusPassed}
}

func (v *OutputValidator) checkPromptLeak(text string) ValidationResult {
	for _, p := range leakPatterns {
		if p.MatchString(text) {
			return ValidationResult{
				Check:  models.GuardrailPromptLeak,
				Status: models.StatusBlocked,
				Reason: "response leaks system instructions",
			}
		}
	}
	return ValidationResult{Check: models.GuardrailPromptLeak, Status: models.StatusPassed}
}

func (v *OutputValidator) checkMedicalAdvice(text string) ValidationResult {
	for _, p := range advicePatterns {
		if p.MatchString(text) {
			return ValidationResult{
				Check:  models.GuardrailMedicalAdvice,
				Status: models.StatusBlocked,
				Reason: "response contains prescriptive medical advice",
			}
		}
	}
	return ValidationResult{Check: models.GuardrailMedicalAdvice, Status: models.StatusPassed}
}

// scanPII blocks on any detection: a response must never leak personal
// data regardless of which model produced it.
func (v *OutputValidator) scanPII(text string) ValidationResult {
	detections := v.detector.Detect(text)
	if len(detections) == 0 {
		return ValidationResult{Check: models.GuardrailOutputPII, Status: models.StatusPassed}
	}
	return ValidationResult{
		Check:      models.GuardrailOutputPII,
		Status:     models.StatusBlocked,
		Reason:     "response contains personal data",
		Confidence: maxConfidence(detections),
	}
}
