package core

// convert.go provides cell cleanup and type coercion for roster data.
//
// These functions handle the messy reality of spreadsheet exports:
//   - Excel formula prefixes (="value")
//   - Stray surrounding quotes
//   - Grade labels in mixed case ("k", "pk", "Pre-K")
//   - Phone numbers with punctuation
//   - Learning goals packed into one cell

import (
	"strings"
	"unicode"
)

// gradeAliases maps lowercase spellings onto the canonical grade enumeration.
// Ordinals such as "9th" are absent, so they are rejected rather than coerced.
var gradeAliases = map[string]string{
	"pk":           "PK",
	"pre-k":        "PK",
	"prek":         "PK",
	"k":            "K",
	"kindergarten": "K",
}

func init() {
	for _, g := range GradeLevels {
		gradeAliases[strings.ToLower(g)] = g
	}
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// NormalizeGrade returns the canonical grade for s and whether it is known.
func NormalizeGrade(s string) (string, bool) {
	g, ok := gradeAliases[strings.ToLower(strings.TrimSpace(s))]
	return g, ok
}

// NormalizePhone strips punctuation and returns the digits, keeping a leading '+'.
// Reports false when the number has fewer than 7 or more than 15 digits.
func NormalizePhone(s string) (string, bool) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	digits := 0
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	if digits < 7 || digits > 15 {
		return "", false
	}
	return b.String(), true
}

// SplitLearningGoals splits a goals cell on ';' or newlines, dropping blanks.
func SplitLearningGoals(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == '\n' || r == '\r'
	})
	goals := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			goals = append(goals, p)
		}
	}
	if len(goals) == 0 {
		return nil
	}
	return goals
}

// ExternalIDKey is the match key for a student external ID.
func ExternalIDKey(externalID string) string {
	return "id:" + strings.ToLower(strings.TrimSpace(externalID))
}

// NameKey is the match key for a case-normalized first and last name.
func NameKey(firstName, lastName string) string {
	return "name:" + normalizeName(firstName) + "|" + normalizeName(lastName)
}

// MatchKey derives the duplicate-detection identity of a student:
// the external ID when present, otherwise the normalized name pair.
func MatchKey(s Student) string {
	if strings.TrimSpace(s.StudentExternalID) != "" {
		return ExternalIDKey(s.StudentExternalID)
	}
	return NameKey(s.FirstName, s.LastName)
}

// RosterKeys returns every key an existing student can be matched on.
func RosterKeys(s Student) []string {
	keys := make([]string, 0, 2)
	if strings.TrimSpace(s.StudentExternalID) != "" {
		keys = append(keys, ExternalIDKey(s.StudentExternalID))
	}
	return append(keys, NameKey(s.FirstName, s.LastName))
}

// normalizeName lowercases and collapses internal whitespace.
func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
