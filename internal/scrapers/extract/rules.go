package extract

import (
	"codefolio-backend/lib/htmlutil"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule describes how to find one field of a profile page. Selectors are tried
// first in order, then Patterns are matched against the visible text of the
// page, the first plausible value wins.
type Rule struct {
	Field     string
	Selectors []string
	// Patterns must have exactly one capture group holding the value.
	Patterns []*regexp.Regexp
	Numeric  bool
	// Max is the largest plausible numeric value, zero means unbounded.
	Max      int
	Required bool
}

// MissingFieldsError lists the required fields no rule could find.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Values is the result of evaluating a rule table.
type Values map[string]string

func (v Values) String(field string) string {
	return v[field]
}

// Int returns a numeric field, zero if it is absent.
func (v Values) Int(field string) int {
	n, err := strconv.Atoi(v[field])
	if err != nil {
		return 0
	}
	return n
}

func (v Values) Has(field string) bool {
	_, ok := v[field]
	return ok
}

var numberRegex = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)

// ParseNumber returns the first number in s, thousands separators are ignored.
func ParseNumber(s string) (int, bool) {
	match := numberRegex.FindString(s)
	if match == "" {
		return 0, false
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r Rule) accept(raw string) (string, bool) {
	raw = htmlutil.CleanText(raw)
	if raw == "" {
		return "", false
	}
	if !r.Numeric {
		return raw, true
	}
	n, ok := ParseNumber(raw)
	if !ok || n < 0 {
		return "", false
	}
	if r.Max > 0 && n > r.Max {
		return "", false
	}
	return strconv.Itoa(n), true
}

func (r Rule) evaluate(doc *goquery.Document, text string) (string, bool) {
	if doc != nil {
		for _, sel := range r.Selectors {
			found := ""
			doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				value, ok := r.accept(htmlutil.SelectionText(s))
				if ok {
					found = value
					return false
				}
				return true
			})
			if found != "" {
				return found, true
			}
		}
	}
	for _, pattern := range r.Patterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		value, ok := r.accept(match[1])
		if ok {
			return value, true
		}
	}
	return "", false
}

// Evaluate runs every rule against a document and its visible text. Fields
// that are not found are left out of the result, a *MissingFieldsError is
// returned next to the partial values if any of them was required.
func Evaluate(doc *goquery.Document, text string, rules []Rule) (Values, error) {
	values := Values{}
	var missing []string
	for _, r := range rules {
		value, ok := r.evaluate(doc, text)
		if ok {
			values[r.Field] = value
			continue
		}
		if r.Required {
			missing = append(missing, r.Field)
		}
	}
	if len(missing) > 0 {
		return values, &MissingFieldsError{Fields: missing}
	}
	return values, nil
}

// Text is shorthand for a case-insensitive pattern with one capture group.
func Text(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}
