package core

import "strings"

// MappingMatchThreshold is the minimum coverage for a suggested mapping to be
// offered without asking the user to review it.
const MappingMatchThreshold = 0.7

// fieldAliases lists normalized header spellings for each canonical field.
// Normalization lowercases and drops everything but letters and digits.
var fieldAliases = map[Field][]string{
	FieldFirstName:             {"firstname", "first", "givenname", "namefirst", "studentfirstname", "forename"},
	FieldLastName:              {"lastname", "last", "surname", "familyname", "namelast", "studentlastname"},
	FieldStudentExternalID:     {"studentexternalid", "studentid", "externalid", "id", "sisid", "studentnumber"},
	FieldGradeLevel:            {"gradelevel", "grade", "gradeyear", "year"},
	FieldLearningGoals:         {"learninggoals", "goals", "learninggoal"},
	FieldSpecialConsiderations: {"specialconsiderations", "considerations", "accommodations", "notes", "iep"},
	FieldParentName:            {"parentname", "guardianname", "parent", "guardian", "parentguardian"},
	FieldParentEmail:           {"parentemail", "guardianemail", "email", "parentemailaddress", "contactemail"},
	FieldParentPhone:           {"parentphone", "guardianphone", "phone", "phonenumber", "contactphone"},
}

// SuggestMapping proposes a column mapping from header names.
// Each raw header is used at most once; canonical fields with no
// recognizable header are left out.
func SuggestMapping(headers []string) ColumnMapping {
	byAlias := make(map[string]string, len(headers))
	for _, h := range headers {
		key := normalizeHeader(h)
		if _, dup := byAlias[key]; !dup {
			byAlias[key] = h
		}
	}

	mapping := make(ColumnMapping)
	used := make(map[string]bool)
	for _, f := range CanonicalFields {
		for _, alias := range fieldAliases[f] {
			h, ok := byAlias[alias]
			if !ok || used[h] {
				continue
			}
			mapping[f] = h
			used[h] = true
			break
		}
	}
	return mapping
}

// MappingCoverage calculates how well a mapping covers the file's headers:
// the share of non-blank headers that feed some canonical field.
func MappingCoverage(headers []string, mapping ColumnMapping) float64 {
	if len(headers) == 0 {
		return 0
	}

	mapped := make(map[string]bool, len(mapping))
	for _, h := range mapping {
		mapped[strings.TrimSpace(h)] = true
	}

	matched := 0
	for _, h := range headers {
		if mapped[strings.TrimSpace(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(headers))
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
