package pii

import (
	"testing"

	"github.com/praktijkzorg/medguard/internal/models"
)

func TestValidateBSN(t *testing.T) {
	tests := []struct {
		name     string
		bsn      string
		expected bool
	}{
		{"valid elfproef", "111222333", true},
		{"valid elfproef classic", "123456782", true},
		{"fails elfproef", "111222334", false},
		{"fails elfproef repeated digit", "999999999", false},
		{"double zero prefix", "001222333", false},
		{"all zeros", "000000000", false},
		{"too short", "12345678", false},
		{"too long", "1234567890", false},
		{"non-digit", "11122233a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateBSN(tt.bsn); got != tt.expected {
				t.Errorf("ValidateBSN(%q) = %v, want %v", tt.bsn, got, tt.expected)
			}
		})
	}
}

func TestValidateAge(t *testing.T) {
	tests := []struct {
		name     string
		match    string
		expected bool
	}{
		{"plausible age", "72 jaar", true},
		{"child age", "5 jaar", true},
		{"upper bound", "120 jaar", true},
		{"above upper bound", "121 jaar", false},
		{"implausible", "250 jaar", false},
		{"no digits", "jaar", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAge(tt.match); got != tt.expected {
				t.Errorf("ValidateAge(%q) = %v, want %v", tt.match, got, tt.expected)
			}
		})
	}
}

func detectedCategories(detections []Detection) map[models.PIICategory]bool {
	out := make(map[models.PIICategory]bool)
	for _, d := range detections {
		out[d.Category] = true
	}
	return out
}

func TestDetector_Categories(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name     string
		text     string
		category models.PIICategory
		expected bool
	}{
		{"name with honorific", "Dhr. de Vries komt op consult.", models.CategoryPatientName, true},
		{"name with de heer", "De heer van der Berg belt voor een afspraak.", models.CategoryPatientName, true},
		{"name with mevrouw", "Mevrouw Jansen heeft hoofdpijn.", models.CategoryPatientName, true},
		{"no honorific no name", "De uitslag is bekend.", models.CategoryPatientName, false},
		{"valid bsn", "BSN 111222333 staat in het dossier.", models.CategoryBSN, true},
		{"invalid bsn ignored", "Nummer 111222334 is geen BSN.", models.CategoryBSN, false},
		{"address", "Woonachtig aan de Hoofdstraat 45 te Utrecht.", models.CategoryAddress, true},
		{"mobile phone", "Bel 06-12345678 voor de uitslag.", models.CategoryPhone, true},
		{"landline", "Praktijk bereikbaar op 030-1234567.", models.CategoryPhone, true},
		{"email", "Mail naar j.devries@huisarts.nl voor vragen.", models.CategoryEmail, true},
		{"record number", "Zie dossiernummer 1234567 voor de historie.", models.CategoryRecordNumber, true},
		{"age", "Patiënte is 72 jaar oud.", models.CategoryAge, true},
		{"implausible age ignored", "Het pand is 250 jaar oud.", models.CategoryAge, false},
		{"postal code", "Postcode 1234 AB hoort bij de wijk.", models.CategoryPostalCode, true},
		{"plain date", "De controle was op 15 juli 2024.", models.CategoryDate, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cats := detectedCategories(d.Detect(tt.text))
			if cats[tt.category] != tt.expected {
				t.Errorf("detect %s in %q = %v, want %v", tt.category, tt.text, cats[tt.category], tt.expected)
			}
		})
	}
}

func TestDetector_BirthDateRequiresContext(t *testing.T) {
	d := NewDetector()

	withContext := d.Detect("Patiënt is geboren op 12-03-1985.")
	cats := detectedCategories(withContext)
	if !cats[models.CategoryBirthDate] {
		t.Error("expected BIRTH_DATE when birth context is present")
	}

	withoutContext := d.Detect("De afspraak staat op 12-03-1985.")
	cats = detectedCategories(withoutContext)
	if cats[models.CategoryBirthDate] {
		t.Error("did not expect BIRTH_DATE without birth context")
	}
	if !cats[models.CategoryDate] {
		t.Error("expected the same span to still match DATE")
	}
}

func TestDetector_Ordering(t *testing.T) {
	d := NewDetector()

	text := "Bel 06-12345678 of mail j.devries@huisarts.nl, dossiernummer 1234567."
	detections := d.Detect(text)
	if len(detections) < 3 {
		t.Fatalf("expected at least 3 detections, got %d", len(detections))
	}
	for i := 1; i < len(detections); i++ {
		if detections[i].Start < detections[i-1].Start {
			t.Errorf("detections not ordered by start: %d before %d",
				detections[i].Start, detections[i-1].Start)
		}
	}
}

func TestDetector_ConfidencePropagation(t *testing.T) {
	d := NewDetector()

	detections := d.Detect("Bel 06-12345678 voor de uitslag.")
	if len(detections) == 0 {
		t.Fatal("expected a phone detection")
	}
	for _, det := range detections {
		if det.Category == models.CategoryPhone && det.Confidence != 0.9 {
			t.Errorf("phone confidence = %v, want 0.9", det.Confidence)
		}
	}

	detections = d.Detect("BSN 111222333.")
	for _, det := range detections {
		if det.Category == models.CategoryBSN && det.Confidence != 1.0 {
			t.Errorf("bsn confidence = %v, want 1.0", det.Confidence)
		}
	}
}

func TestDetector_CustomRegistry(t *testing.T) {
	d := NewDetectorWithTypes(nil)
	if got := d.Detect("Dhr. de Vries, BSN 111222333"); len(got) != 0 {
		t.Errorf("empty registry detected %d spans, want 0", len(got))
	}
}

func TestTypeToken(t *testing.T) {
	for _, typ := range DefaultTypes() {
		want := "[" + typ.Category.Label() + "]"
		if got := typ.Token(); got != want {
			t.Errorf("Token() for %s = %q, want %q", typ.Category, got, want)
		}
	}
}
