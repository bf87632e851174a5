package guardrails

import (
	"regexp"
	"strings"

	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/pii"
)

// jailbreakPatterns covers instruction-override, role-hijack,
// safety-bypass and prompt-extraction phrasing, in English and Dutch.
var jailbreakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules)\b`),
	regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?(previous|your)\s+(instructions|rules|guidelines)\b`),
	regexp.MustCompile(`(?i)\bforget\s+(all\s+)?(your\s+)?(previous\s+)?(instructions|training|rules)\b`),
	regexp.MustCompile(`(?i)\bnegeer\s+(alle\s+)?(vorige|eerdere)\s+instructies\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are)\b`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(if\s+you|though\s+you|a\s+different)\b`),
	regexp.MustCompile(`(?i)\b(enable|enter|activate)\s+(developer|dan|god)\s+mode\b`),
	regexp.MustCompile(`(?i)\bbypass\s+(the\s+)?(safety|filter|guardrail|restriction)`),
	regexp.MustCompile(`(?i)\bwithout\s+(any\s+)?(restrictions|limitations|filters)\b`),
	regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|leak)\b.{0,40}\b(system\s+prompt|initial\s+instructions|hidden\s+instructions)\b`),
	regexp.MustCompile(`(?i)\bwhat\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions)\b`),
}

// topicKeywords is the domain-relevance allowlist for the input topic
// filter. Anything matching one of these, or a short greeting, passes.
var topicKeywords = []string{
	// Dutch clinical vocabulary
	"patiënt", "patient", "klacht", "medicatie", "recept", "consult",
	"verwijzing", "verwijsbrief", "symptoom", "symptomen", "diagnose",
	"behandeling", "huisarts", "dossier", "uitslag", "onderzoek",
	"afspraak", "pijn", "koorts", "bloeddruk", "lab", "medisch",
	"zwanger", "allergie", "vaccinatie", "griep", "hoest",
	// English
	"medical", "clinical", "report", "symptom", "treatment",
	"medication", "prescription", "referral", "diagnosis", "blood",
	"doctor", "appointment", "record", "transcript", "note",
	"summary", "letter",
}

var greetings = map[string]bool{
	"hallo": true, "hoi": true, "goedemorgen": true, "goedemiddag": true,
	"goedenavond": true, "dag": true, "bedankt": true, "dank": true,
	"hello": true, "hi": true, "hey": true, "thanks": true,
	"thank": true, "ok": true, "oke": true, "okay": true, "ja": true,
	"nee": true, "yes": true, "no": true, "goed": true, "prima": true,
}

// InputValidator runs the pre-generation checks.
type InputValidator struct {
	cfg      Config
	detector pii.Detector
	keywords []string
}

func NewInputValidator(cfg Config, detector pii.Detector) *InputValidator {
	if detector == nil {
		detector = pii.NewDetector()
	}
	keywords := append([]string{}, topicKeywords...)
	keywords = append(keywords, cfg.ExtraTopicKeywords...)
	return &InputValidator{cfg: cfg, detector: detector, keywords: keywords}
}

// Validate runs the input pass in order, short-circuiting on the first
// block: bypass, jailbreak, topic, PII scan. The PII scan flags but never
// blocks; PII in a local conversation is permitted and only cloud egress
// requires anonymization.
func (v *InputValidator) Validate(text string, ctx Context) *PassResult {
	result := &PassResult{Valid: true, SanitizedText: text}

	if v.cfg.isTrusted(ctx.Source) {
		result.record(ValidationResult{
			Check:  models.GuardrailBypass,
			Status: models.StatusSkipped,
			Reason: "trusted source",
		})
		return result
	}

	if v.cfg.CheckJailbreak {
		r := runCheck(models.GuardrailJailbreak, failOpen, func() ValidationResult {
			return v.checkJailbreak(text)
		})
		result.record(r)
		if r.Blocking() {
			result.SanitizedText = ""
			return result
		}
	}

	if v.cfg.CheckTopic {
		r := runCheck(models.GuardrailTopic, failOpen, func() ValidationResult {
			return v.checkTopic(text)
		})
		result.record(r)
		if r.Blocking() {
			result.SanitizedText = ""
			return result
		}
	}

	if v.cfg.CheckInputPII {
		result.record(runCheck(models.GuardrailInputPII, failOpen, func() ValidationResult {
			return v.scanPII(text)
		}))
	}

	return result
}

func (v *InputValidator) checkJailbreak(text string) ValidationResult {
	for _, p := range jailbreakPatterns {
		if p.MatchString(text) {
			return ValidationResult{
				Check:      models.GuardrailJailbreak,
				Status:     models.StatusBlocked,
				Reason:     "jailbreak attempt",
				Confidence: 1.0,
			}
		}
	}
	return ValidationResult{Check: models.GuardrailJailbreak, Status: models.StatusPassed}
}

func (v *InputValidator) checkTopic(text string) ValidationResult {
	lower := strings.ToLower(text)

	for _, kw := range v.keywords {
		if strings.Contains(lower, kw) {
			return ValidationResult{Check: models.GuardrailTopic, Status: models.StatusPassed}
		}
	}

	// Short greetings and acknowledgments stay conversational.
	words := strings.Fields(lower)
	if len(words) > 0 && len(words) <= 4 {
		for _, w := range words {
			if greetings[strings.Trim(w, ".,!?")] {
				return ValidationResult{Check: models.GuardrailTopic, Status: models.StatusPassed}
			}
		}
	}

	return ValidationResult{
		Check:  models.GuardrailTopic,
		Status: models.StatusBlocked,
		Reason: "off-topic for a medical assistant",
	}
}

func (v *InputValidator) scanPII(text string) ValidationResult {
	detections := v.detector.Detect(text)
	if len(detections) == 0 {
		return ValidationResult{Check: models.GuardrailInputPII, Status: models.StatusPassed}
	}
	return ValidationResult{
		Check:      models.GuardrailInputPII,
		Status:     models.StatusWarning,
		Reason:     "input contains personal data; anonymization required before cloud egress",
		Confidence: maxConfidence(detections),
	}
}

func maxConfidence(detections []pii.Detection) float64 {
	max := 0.0
	for _, d := range detections {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}
