// Package literals extracts fact-bearing tokens (dates, fixed time ranges, region codes,
// amounts) from reply text.
package literals

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var monthNumbers = map[string]time.Month{
	"january": time.January, "jan": time.January, "janvier": time.January,
	"february": time.February, "feb": time.February, "février": time.February, "fevrier": time.February,
	"march": time.March, "mar": time.March, "mars": time.March,
	"april": time.April, "apr": time.April, "avril": time.April,
	"may": time.May, "mai": time.May,
	"june": time.June, "jun": time.June, "juin": time.June,
	"july": time.July, "jul": time.July, "juillet": time.July,
	"august": time.August, "aug": time.August, "août": time.August, "aout": time.August,
	"september": time.September, "sep": time.September, "sept": time.September, "septembre": time.September,
	"october": time.October, "oct": time.October, "octobre": time.October,
	"november": time.November, "nov": time.November, "novembre": time.November,
	"december": time.December, "dec": time.December, "décembre": time.December, "decembre": time.December,
}

var (
	monthAlt   = monthAlternation()
	dayFirst   = `(\d{1,2})(?:st|nd|rd|th|er)?\s+(` + monthAlt + `)\.?\s+(\d{4})`
	monthFirst = `(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})`

	dateRe       = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4}|` + dayFirst + `|` + monthFirst + `)\b`)
	dayFirstRe   = regexp.MustCompile(`(?i)^` + dayFirst + `$`)
	monthFirstRe = regexp.MustCompile(`(?i)^` + monthFirst + `$`)
	rangeRe      = regexp.MustCompile(`\b\d{1,2}[:h]\d{2}\s?[-–]\s?\d{1,2}[:h]\d{2}\b`)
	regionRe     = regexp.MustCompile(`\b[A-Z]{2}-[0-9A-Z]{2,3}\b`)
	amountRe     = regexp.MustCompile(`€\s?\d+(?:[.,]\d{1,2})?|\b\d+(?:[.,]\d{1,2})?\s?(?:€|(?:EUR|euros?)\b)`)
	digitsRe     = regexp.MustCompile(`\d+(?:[.,]\d{1,2})?`)
)

// monthAlternation lists month names longest first so "mars" wins over "mar".
func monthAlternation() string {
	names := make([]string, 0, len(monthNumbers))
	for name := range monthNumbers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return "(?:" + strings.Join(names, "|") + ")"
}

// Dates returns every date-shaped substring, verbatim, in order of appearance. Numeric
// shapes and written-out dates with a year ("5 mai 2026", "March 31, 2026") both count.
func Dates(text string) []string { return dateRe.FindAllString(text, -1) }

// TimeRanges returns every fixed time-range substring, verbatim.
func TimeRanges(text string) []string { return rangeRe.FindAllString(text, -1) }

// RegionCodes returns every region-code substring, verbatim.
func RegionCodes(text string) []string { return regionRe.FindAllString(text, -1) }

// Amounts returns every currency-amount substring, verbatim.
func Amounts(text string) []string { return amountRe.FindAllString(text, -1) }

// NormalizeDate converts YYYY-MM-DD, DD/MM/YYYY or a written-out date to YYYY-MM-DD.
// Calendar-invalid dates (31/02/2026) are rejected.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	if m := dayFirstRe.FindStringSubmatch(s); m != nil {
		return textualDate(m[1], m[2], m[3])
	}
	if m := monthFirstRe.FindStringSubmatch(s); m != nil {
		return textualDate(m[2], m[1], m[3])
	}
	return "", false
}

func textualDate(day, month, year string) (string, bool) {
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", false
	}
	mon, ok := monthNumbers[strings.ToLower(month)]
	if !ok {
		return "", false
	}
	t := time.Date(y, mon, d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != mon {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// ParseDate parses a record date in either accepted shape.
func ParseDate(s string) (time.Time, bool) {
	iso, ok := NormalizeDate(s)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", iso)
	return t, err == nil
}

// NormalizeAmount reduces an amount to its canonical "20€" / "20.50€" form.
// Returns "" when s carries no number.
func NormalizeAmount(s string) string {
	num := digitsRe.FindString(s)
	if num == "" {
		return ""
	}
	num = strings.ReplaceAll(num, ",", ".")
	intPart, frac, hasFrac := strings.Cut(num, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasFrac || strings.Trim(frac, "0") == "" {
		return intPart + "€"
	}
	if len(frac) == 1 {
		frac += "0"
	}
	return intPart + "." + frac + "€"
}

// Facts is the literal set a rewrite must preserve verbatim.
type Facts struct {
	Dates   []string
	Ranges  []string
	Regions []string
}

// Extract collects the distinct dates, time ranges and region codes of text,
// in order of first appearance.
func Extract(text string) Facts {
	return Facts{
		Dates:   distinct(Dates(text)),
		Ranges:  distinct(TimeRanges(text)),
		Regions: distinct(RegionCodes(text)),
	}
}

// All returns every literal of f in a stable order.
func (f Facts) All() []string {
	out := make([]string, 0, len(f.Dates)+len(f.Ranges)+len(f.Regions))
	out = append(out, f.Dates...)
	out = append(out, f.Ranges...)
	return append(out, f.Regions...)
}

func (f Facts) Empty() bool { return len(f.Dates)+len(f.Ranges)+len(f.Regions) == 0 }

// Preservation is the outcome of comparing a rewrite against its source.
type Preservation struct {
	Missing    []string // in source, absent from rewrite
	Introduced []string // in rewrite, absent from source
}

func (p Preservation) OK() bool { return len(p.Missing) == 0 && len(p.Introduced) == 0 }

// CheckPreservation confirms every literal of source appears verbatim in rewrite and
// that rewrite carries no literal source does not.
func CheckPreservation(source, rewrite string) Preservation {
	var p Preservation
	for _, lit := range Extract(source).All() {
		if !strings.Contains(rewrite, lit) {
			p.Missing = append(p.Missing, lit)
		}
	}
	for _, lit := range Extract(rewrite).All() {
		if !strings.Contains(source, lit) {
			p.Introduced = append(p.Introduced, lit)
		}
	}
	return p
}

func distinct(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
