package ingest

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// dateLayouts are the accepted input formats, tried in order. Anything
// else parses to nil; the date column rejects empty strings, so the
// writer converts nil to NULL.
var dateLayouts = []string{
	"02-Jan-2006",
	"02-01-2006",
	"02/01/2006",
	"2006-01-02",
}

// ISODate is the canonical stored format.
const ISODate = "2006-01-02"

// ParseDate normalizes a handwritten or printed date to YYYY-MM-DD.
// Returns nil for anything unparseable.
func ParseDate(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			iso := t.Format(ISODate)
			return &iso
		}
	}
	return nil
}

var titleCaser = cases.Title(language.English)

// TitleCase normalizes free-text fields (customer names, descriptions,
// type labels) the way the review UI displays them.
func TitleCase(s string) string {
	return titleCaser.String(strings.TrimSpace(s))
}

// NormalizeVehicle upper-cases a vehicle registration and strips the
// spacing and hyphens handwriting introduces, so "ka 01 ab 1234" and
// "KA-01-AB-1234" land on the same key.
func NormalizeVehicle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if r == ' ' || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// roundQuantity converts an extracted quantity to the integer column,
// rounding half away from zero. "2.5 litres" stores as 3, not 2.
func roundQuantity(qty float64) int64 {
	return int64(math.Round(qty))
}

// NormalizeNumericString strips a trailing ".0" from purely numeric
// strings, so a receipt number the model emitted as "1234.0" stores as
// "1234". Alphanumeric identifiers pass through untouched.
func NormalizeNumericString(s string) string {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ".")
	if i <= 0 {
		return s
	}
	if strings.Trim(s[:i], "0123456789") != "" || strings.Trim(s[i+1:], "0") != "" {
		return s
	}
	return s[:i]
}
