package anonymizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/praktijkzorg/medguard/internal/models"
)

// Generalize applies the category-specific generalizing transform for a
// quasi-identifier span. Unlike direct identifiers these keep analytic
// value: an age becomes its decade, a postcode its region prefix, a date
// its season and year.
func Generalize(category models.PIICategory, value string) string {
	switch category {
	case models.CategoryAge:
		return generalizeAge(value)
	case models.CategoryPostalCode:
		return generalizePostalCode(value)
	case models.CategoryDate:
		return generalizeDate(value)
	}
	return "[" + category.Label() + "]"
}

var ageDigits = regexp.MustCompile(`\d{1,3}`)

func generalizeAge(value string) string {
	m := ageDigits.FindString(value)
	age, err := strconv.Atoi(m)
	if err != nil {
		return "[" + models.CategoryAge.Label() + "]"
	}
	decade := (age / 10) * 10
	return fmt.Sprintf("%d-%d jaar", decade, decade+9)
}

func generalizePostalCode(value string) string {
	digits := strings.TrimSpace(value)
	if len(digits) < 2 {
		return "[" + models.CategoryPostalCode.Label() + "]"
	}
	// Keep the two-digit region prefix, drop the house-level detail.
	return digits[:2] + "xx"
}

var months = map[string]int{
	"januari": 1, "februari": 2, "maart": 3, "april": 4,
	"mei": 5, "juni": 6, "juli": 7, "augustus": 8,
	"september": 9, "oktober": 10, "november": 11, "december": 12,
}

var (
	textualDate = regexp.MustCompile(`(?i)\b\d{1,2}\s+([a-z]+)\s+((?:19|20)\d{2})\b`)
	numericDate = regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-((?:19|20)\d{2})\b`)
	isoDate     = regexp.MustCompile(`\b((?:19|20)\d{2})-(\d{1,2})-(\d{1,2})\b`)
)

func generalizeDate(value string) string {
	if m := textualDate.FindStringSubmatch(value); m != nil {
		if month, ok := months[strings.ToLower(m[1])]; ok {
			return season(month) + " " + m[2]
		}
	}
	if m := numericDate.FindStringSubmatch(value); m != nil {
		if month, err := strconv.Atoi(m[2]); err == nil {
			return season(month) + " " + m[3]
		}
	}
	if m := isoDate.FindStringSubmatch(value); m != nil {
		if month, err := strconv.Atoi(m[2]); err == nil {
			return season(month) + " " + m[1]
		}
	}
	return "[" + models.CategoryDate.Label() + "]"
}

func season(month int) string {
	switch {
	case month == 12 || month <= 2:
		return "winter"
	case month <= 5:
		return "voorjaar"
	case month <= 8:
		return "zomer"
	default:
		return "najaar"
	}
}
