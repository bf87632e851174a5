package pii

import (
	"regexp"

	"github.com/praktijkzorg/medguard/internal/models"
)

// Detection is one match instance. It carries span bounds into the
// anonymizer; the raw value is never stored on the detection itself.
type Detection struct {
	Category   models.PIICategory `json:"category"`
	Start      int                `json:"start"`
	End        int                `json:"end"`
	Confidence float64            `json:"confidence"`
}

// Safety returns the cloud-safety level of the detection's category.
func (d Detection) Safety() models.CloudSafety {
	return d.Category.Safety()
}

// Type is the detection and handling rule for one PII category. A category
// may own several patterns; all matches share the category's replacement
// token and confidence.
type Type struct {
	Category        models.PIICategory
	Patterns        []*regexp.Regexp
	ContextPatterns []*regexp.Regexp // must appear somewhere in the text
	ContextRequired bool
	Validators      []Validator
	Confidence      float64 // defaults to 1.0 when zero
}

// Validator performs additional validation on a raw pattern match, e.g.
// the BSN elfproef.
type Validator func(match string) bool

// Token returns the replacement token for the category, e.g. "[NAAM]".
func (t *Type) Token() string {
	return "[" + t.Category.Label() + "]"
}

// Detector classifies spans of text into PII categories. Implementations
// must be pure functions of their input and registry: no network, no
// mutation, safe for concurrent use. The default is pattern-based; an
// ML-backed recognizer can be substituted as long as it yields valid
// category/position/confidence triples.
type Detector interface {
	Detect(text string) []Detection
}
