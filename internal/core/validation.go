package core

// validation.go checks normalized rows against the canonical student schema.
//
// Every rule is evaluated for every row, so a rejected row carries all of its
// reasons at once (the preview shows every problem, not just the first).
// Duplicates are flagged, never rejected: the reconciler decides what to do
// with them under the caller's DuplicateHandling policy.

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func fieldValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidationError is a single field-level problem.
type ValidationError struct {
	Field Field
	Value string
	Kind  string // "missing" or "invalid"
}

func (e ValidationError) Error() string {
	return e.Kind + " " + string(e.Field)
}

func missing(f Field) ValidationError { return ValidationError{Field: f, Kind: "missing"} }

func invalid(f Field, v string) ValidationError {
	return ValidationError{Field: f, Value: v, Kind: "invalid"}
}

// IsEmail reports whether s has the shape of an email address.
func IsEmail(s string) bool {
	return fieldValidator().Var(s, "required,email") == nil
}

// Validate applies the field rules to every row and flags duplicates against
// the existing roster and earlier rows of the same file.
//
// Records and Rejected preserve input order and together contain every row
// exactly once.
func Validate(rows []NormalizedRow, existing []RosterEntry, policy ValidationPolicy) ValidationResult {
	result := ValidationResult{
		Records:  []CandidateRecord{},
		Rejected: []RowRejection{},
	}

	roster := make(map[string]string, len(existing))
	for _, e := range existing {
		for _, k := range e.MatchKeys {
			if _, taken := roster[k]; !taken {
				roster[k] = e.ID
			}
		}
	}
	accepted := make(map[string]int, len(rows))

	for _, row := range rows {
		student, errs, warnings := validateRow(row, policy)
		result.Warnings = append(result.Warnings, warnings...)

		if len(errs) > 0 {
			reasons := make([]string, len(errs))
			for i, e := range errs {
				reasons[i] = e.Error()
			}
			result.Rejected = append(result.Rejected, RowRejection{
				RowIndex: row.Index,
				Reasons:  reasons,
			})
			continue
		}

		rec := CandidateRecord{
			SourceRowIndex: row.Index,
			MatchKey:       MatchKey(student),
			Student:        student,
		}
		if id, ok := roster[rec.MatchKey]; ok {
			rec.Duplicate = DuplicateExisting
			rec.ExistingID = id
			result.DuplicateCount++
		} else if first, ok := accepted[rec.MatchKey]; ok {
			rec.Duplicate = DuplicateInFile
			rec.DuplicateOfRow = first
			result.DuplicateCount++
		} else {
			accepted[rec.MatchKey] = row.Index
		}

		result.Records = append(result.Records, rec)
	}

	return result
}

// validateRow builds the candidate student and collects every rule failure.
func validateRow(row NormalizedRow, policy ValidationPolicy) (Student, []ValidationError, []RowWarning) {
	var errs []ValidationError
	var warnings []RowWarning

	s := Student{
		FirstName:             strings.Join(strings.Fields(row.Get(FieldFirstName)), " "),
		LastName:              strings.Join(strings.Fields(row.Get(FieldLastName)), " "),
		StudentExternalID:     row.Get(FieldStudentExternalID),
		LearningGoals:         SplitLearningGoals(row.Values[FieldLearningGoals]),
		SpecialConsiderations: row.Get(FieldSpecialConsiderations),
		ParentName:            row.Get(FieldParentName),
	}

	if s.FirstName == "" {
		errs = append(errs, missing(FieldFirstName))
	}
	if s.LastName == "" {
		errs = append(errs, missing(FieldLastName))
	}

	if raw := row.Get(FieldGradeLevel); raw != "" {
		if g, ok := NormalizeGrade(raw); ok {
			s.GradeLevel = g
		} else {
			errs = append(errs, invalid(FieldGradeLevel, raw))
		}
	}

	switch raw := row.Get(FieldParentEmail); {
	case raw == "":
		if policy.RequireParentEmail {
			errs = append(errs, missing(FieldParentEmail))
		}
	case IsEmail(raw):
		s.ParentEmail = strings.ToLower(raw)
	case policy.RequireParentEmail:
		errs = append(errs, invalid(FieldParentEmail, raw))
	default:
		warnings = append(warnings, RowWarning{
			RowIndex: row.Index,
			Field:    FieldParentEmail,
			Value:    raw,
			Reason:   "invalid parentEmail; value dropped",
		})
	}

	switch raw := row.Get(FieldParentPhone); {
	case raw == "":
		if policy.RequireParentPhone {
			errs = append(errs, missing(FieldParentPhone))
		}
	default:
		if phone, ok := NormalizePhone(raw); ok {
			s.ParentPhone = phone
		} else if policy.RequireParentPhone {
			errs = append(errs, invalid(FieldParentPhone, raw))
		} else {
			warnings = append(warnings, RowWarning{
				RowIndex: row.Index,
				Field:    FieldParentPhone,
				Value:    raw,
				Reason:   "invalid parentPhone; value dropped",
			})
		}
	}

	return s, errs, warnings
}
