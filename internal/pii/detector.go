package pii

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/praktijkzorg/medguard/internal/models"
)

// PatternDetector is the default regex-based Detector, built from a static
// registry of Types.
type PatternDetector struct {
	types []*Type
}

// NewDetector creates a detector with the default Dutch medical registry.
func NewDetector() *PatternDetector {
	return &PatternDetector{types: DefaultTypes()}
}

// NewDetectorWithTypes creates a detector with a custom registry.
func NewDetectorWithTypes(types []*Type) *PatternDetector {
	return &PatternDetector{types: types}
}

// Detect returns all matches across the registry, ordered by start offset.
// Matches within one category never overlap; overlap across categories is
// resolved by the caller (direct identifiers first).
func (d *PatternDetector) Detect(text string) []Detection {
	var detections []Detection

	for _, t := range d.types {
		detections = append(detections, d.findMatches(text, t)...)
	}

	sort.SliceStable(detections, func(i, j int) bool {
		if detections[i].Start != detections[j].Start {
			return detections[i].Start < detections[j].Start
		}
		return detections[i].End > detections[j].End
	})

	return detections
}

func (d *PatternDetector) findMatches(text string, t *Type) []Detection {
	contextFound := !t.ContextRequired
	if t.ContextRequired && len(t.ContextPatterns) > 0 {
		lower := strings.ToLower(text)
		for _, cp := range t.ContextPatterns {
			if cp.MatchString(lower) {
				contextFound = true
				break
			}
		}
	}
	if !contextFound {
		return nil
	}

	confidence := t.Confidence
	if confidence == 0 {
		confidence = 1.0
	}

	var matches []Detection
	seen := make(map[[2]int]bool)

	for _, pattern := range t.Patterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			if seen[[2]int{loc[0], loc[1]}] {
				continue
			}

			valid := true
			for _, validator := range t.Validators {
				if !validator(text[loc[0]:loc[1]]) {
					valid = false
					break
				}
			}
			if !valid {
				continue
			}

			seen[[2]int{loc[0], loc[1]}] = true
			matches = append(matches, Detection{
				Category:   t.Category,
				Start:      loc[0],
				End:        loc[1],
				Confidence: confidence,
			})
		}
	}

	return matches
}

// DefaultTypes returns the static registry for Dutch primary-care text.
func DefaultTypes() []*Type {
	return []*Type{
		{
			Category: models.CategoryPatientName,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:[Dd]hr|[Mm]evr|[Mm]w|[Dd]rs?)\.\s*(?:(?:van|de|der|den|ten|ter|het|'t)\s+)*[A-Z][a-zA-Zëéï]+(?:\s+[A-Z][a-zA-Zëéï]+)*`),
				regexp.MustCompile(`\b(?:[Dd]e heer|[Mm]evrouw|[Pp]atiënte?)\s+(?:(?:van|de|der|den|ten|ter|het|'t)\s+)*[A-Z][a-zA-Zëéï]+(?:\s+[A-Z][a-zA-Zëéï]+)*`),
			},
		},
		{
			Category: models.CategoryBSN,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{9}\b`),
			},
			Validators: []Validator{ValidateBSN},
		},
		{
			Category: models.CategoryBirthDate,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])\s+(?:januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december)\s+(?:19|20)\d{2}\b`),
				regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])-(?:0?[1-9]|1[0-2])-(?:19|20)\d{2}\b`),
			},
			ContextPatterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(geboren|geboortedatum|geb\.)`),
			},
			ContextRequired: true,
		},
		{
			Category: models.CategoryAddress,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Z][a-zA-Zëé]*(?:straat|laan|weg|plein|gracht|kade|singel|dijk|hof|markt|pad)\s+\d+[a-zA-Z]?\b`),
			},
		},
		{
			Category: models.CategoryPhone,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?:\+31|0031)[\s-]?6[\s-]?\d{2}[\s-]?\d{2}[\s-]?\d{2}[\s-]?\d{2}\b`),
				regexp.MustCompile(`\b06[\s-]?\d{2}[\s-]?\d{2}[\s-]?\d{2}[\s-]?\d{2}\b`),
				regexp.MustCompile(`\b0\d{2,3}[\s-]?\d{6,7}\b`),
			},
			Confidence: 0.9,
		},
		{
			Category: models.CategoryEmail,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			},
		},
		{
			Category: models.CategoryRecordNumber,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:dossiernummer|dossier|patiëntnummer|epd|mrn)[:\s#-]*\d{5,10}\b`),
			},
		},
		{
			Category: models.CategoryAge,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{1,3}\s+jaar(?:\s+oud)?\b`),
			},
			Validators: []Validator{ValidateAge},
		},
		{
			Category: models.CategoryPostalCode,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[1-9]\d{3}\s?[A-Z]{2}\b`),
			},
		},
		{
			Category: models.CategoryDate,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])\s+(?:januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december)\s+(?:19|20)\d{2}\b`),
				regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])-(?:0?[1-9]|1[0-2])-(?:19|20)\d{2}\b`),
				regexp.MustCompile(`\b(?:19|20)\d{2}-(?:0?[1-9]|1[0-2])-(?:0?[1-9]|[12]\d|3[01])\b`),
			},
			Confidence: 0.8,
		},
	}
}

// ValidateBSN applies the elfproef: the weighted digit sum must be a
// multiple of 11, with the last digit weighted -1.
func ValidateBSN(bsn string) bool {
	if len(bsn) != 9 {
		return false
	}
	for _, c := range bsn {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	if bsn[0] == '0' && bsn[1] == '0' {
		return false
	}

	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(bsn[i]-'0') * (9 - i)
	}
	sum -= int(bsn[8] - '0')
	return sum%11 == 0 && sum > 0
}

// ValidateAge rejects implausible ages matched by the "<n> jaar" pattern.
func ValidateAge(match string) bool {
	digits := 0
	value := 0
	for _, c := range match {
		if unicode.IsDigit(c) {
			digits++
			value = value*10 + int(c-'0')
		} else {
			break
		}
	}
	return digits > 0 && value <= 120
}
