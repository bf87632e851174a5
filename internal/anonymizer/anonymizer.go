package anonymizer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/praktijkzorg/medguard/internal/models"
	"github.com/praktijkzorg/medguard/internal/pii"
)

// Transformation records one redaction applied to the text. Only audit-safe
// fields are kept; the original span value is never retained.
type Transformation struct {
	Category models.PIICategory     `json:"category"`
	Action   models.TransformAction `json:"action"`
	Token    string                 `json:"token"`
	Start    int                    `json:"start"`
	End      int                    `json:"end"`
}

// AnonymizedText is the immutable output of one anonymization pass.
type AnonymizedText struct {
	// OriginalHash correlates this record to the source text without
	// storing it.
	OriginalHash    string           `json:"original_hash"`
	Text            string           `json:"anonymized_text"`
	Detections      []pii.Detection  `json:"detections"`
	Transformations []Transformation `json:"transformations"`
	IsCloudSafe     bool             `json:"is_cloud_safe"`
	CreatedAt       time.Time        `json:"created_at"`
}

// PIICount returns the number of detected spans.
func (a *AnonymizedText) PIICount() int {
	return len(a.Detections)
}

// Categories returns the distinct categories detected, in detection order.
func (a *AnonymizedText) Categories() []models.PIICategory {
	seen := make(map[models.PIICategory]bool)
	var cats []models.PIICategory
	for _, d := range a.Detections {
		if !seen[d.Category] {
			seen[d.Category] = true
			cats = append(cats, d.Category)
		}
	}
	return cats
}

// Anonymizer replaces or generalizes detected PII spans so the remaining
// text satisfies the no-leak invariant. Stateless and safe for concurrent
// use.
type Anonymizer struct {
	detector pii.Detector
}

func New(detector pii.Detector) *Anonymizer {
	if detector == nil {
		detector = pii.NewDetector()
	}
	return &Anonymizer{detector: detector}
}

// Anonymize runs the detector and rewrites every detected span. Direct
// identifiers are replaced by their category token; quasi-identifiers are
// generalized. Spans are processed direct-first and a span already replaced
// in this pass is never rescanned. IsCloudSafe is decided by re-running the
// detector over the transformed text and requiring zero Never-category
// matches.
func (a *Anonymizer) Anonymize(text string) *AnonymizedText {
	hash := sha256.Sum256([]byte(text))

	detections := a.detector.Detect(text)

	// Direct identifiers first; longer spans first within a group so a
	// nested quasi match (e.g. the date inside a birth date) is consumed
	// by the enclosing direct span.
	ordered := make([]pii.Detection, len(detections))
	copy(ordered, detections)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := ordered[i].Category.IsDirectIdentifier(), ordered[j].Category.IsDirectIdentifier()
		if di != dj {
			return di
		}
		return ordered[i].End-ordered[i].Start > ordered[j].End-ordered[j].Start
	})

	type span struct{ start, end int }
	var consumed []span
	overlaps := func(start, end int) bool {
		for _, s := range consumed {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	var kept []pii.Detection
	var transformations []Transformation
	for _, d := range ordered {
		if overlaps(d.Start, d.End) {
			continue
		}
		consumed = append(consumed, span{d.Start, d.End})
		kept = append(kept, d)

		token := "[" + d.Category.Label() + "]"
		action := models.ActionRemoved
		if !d.Category.IsDirectIdentifier() {
			token = Generalize(d.Category, text[d.Start:d.End])
			action = models.ActionGeneralized
		}
		transformations = append(transformations, Transformation{
			Category: d.Category,
			Action:   action,
			Token:    token,
			Start:    d.Start,
			End:      d.End,
		})
	}

	// Rewrite right to left so earlier offsets stay valid.
	sort.SliceStable(transformations, func(i, j int) bool {
		return transformations[i].Start > transformations[j].Start
	})
	out := text
	for _, tr := range transformations {
		out = out[:tr.Start] + tr.Token + out[tr.End:]
	}

	// Restore detection order for the record.
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	sort.SliceStable(transformations, func(i, j int) bool {
		return transformations[i].Start < transformations[j].Start
	})

	cloudSafe := true
	for _, d := range a.detector.Detect(out) {
		if d.Safety() == models.CloudSafetyNever {
			cloudSafe = false
			break
		}
	}

	return &AnonymizedText{
		OriginalHash:    hex.EncodeToString(hash[:]),
		Text:            out,
		Detections:      kept,
		Transformations: transformations,
		IsCloudSafe:     cloudSafe,
		CreatedAt:       time.Now(),
	}
}

// HashText returns the correlation hash used for a piece of text, e.g. to
// match an audit entry back to a request without storing the request.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashSession derives the audit-safe session hash. Session ids are opaque
// but may embed user identifiers upstream, so only the hash is logged.
func HashSession(sessionID string) string {
	sum := sha256.Sum256([]byte("session:" + sessionID))
	return hex.EncodeToString(sum[:16])
}
