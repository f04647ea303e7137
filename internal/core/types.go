package core

import (
	"context"
	"time"
)

// Field is a canonical student attribute that raw columns are mapped onto.
type Field string

const (
	FieldFirstName             Field = "firstName"
	FieldLastName              Field = "lastName"
	FieldStudentExternalID     Field = "studentExternalId"
	FieldGradeLevel            Field = "gradeLevel"
	FieldLearningGoals         Field = "learningGoals"
	FieldSpecialConsiderations Field = "specialConsiderations"
	FieldParentName            Field = "parentName"
	FieldParentEmail           Field = "parentEmail"
	FieldParentPhone           Field = "parentPhone"
)

// CanonicalFields lists every canonical field in display order.
var CanonicalFields = []Field{
	FieldFirstName,
	FieldLastName,
	FieldStudentExternalID,
	FieldGradeLevel,
	FieldLearningGoals,
	FieldSpecialConsiderations,
	FieldParentName,
	FieldParentEmail,
	FieldParentPhone,
}

// RequiredFields must be present in every column mapping.
var RequiredFields = []Field{FieldFirstName, FieldLastName}

// IsCanonical reports whether f is one of the canonical fields.
func (f Field) IsCanonical() bool {
	for _, c := range CanonicalFields {
		if c == f {
			return true
		}
	}
	return false
}

// GradeLevels is the fixed grade enumeration, lowest first.
var GradeLevels = []string{"PK", "K", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}

// ParseError describes a malformed data row. It is recorded, never fatal.
type ParseError struct {
	RowIndex int    `json:"rowIndex"`
	Line     int    `json:"line"`
	Reason   string `json:"reason"`
}

// RawRow is one data row keyed by raw header.
type RawRow struct {
	Index  int               `json:"index"` // 0-based ordinal among non-empty data lines
	Line   int               `json:"line"`  // 1-based line number in the file
	Values map[string]string `json:"values"`
}

// RawTable is the parser output for one uploaded file.
type RawTable struct {
	Headers     []string     `json:"headers"`
	Rows        []RawRow     `json:"rows"`
	ParseErrors []ParseError `json:"parseErrors"`
}

// ColumnMapping maps a canonical field to the raw header that supplies it.
type ColumnMapping map[Field]string

// NormalizedRow is a raw row projected onto canonical fields.
type NormalizedRow struct {
	Index  int              `json:"index"`
	Values map[Field]string `json:"values"`
}

// Get returns the trimmed value of a field, or "" when unmapped.
func (r NormalizedRow) Get(f Field) string {
	return CleanCell(r.Values[f])
}

// Student is the canonical, type-coerced student record.
type Student struct {
	FirstName             string   `json:"firstName"`
	LastName              string   `json:"lastName"`
	StudentExternalID     string   `json:"studentExternalId,omitempty"`
	GradeLevel            string   `json:"gradeLevel,omitempty"`
	LearningGoals         []string `json:"learningGoals,omitempty"`
	SpecialConsiderations string   `json:"specialConsiderations,omitempty"`
	ParentName            string   `json:"parentName,omitempty"`
	ParentEmail           string   `json:"parentEmail,omitempty"`
	ParentPhone           string   `json:"parentPhone,omitempty"`
}

// DuplicateKind tells the reconciler what a candidate collides with.
type DuplicateKind string

const (
	DuplicateNone     DuplicateKind = ""
	DuplicateExisting DuplicateKind = "existing"
	DuplicateInFile   DuplicateKind = "in_file"
)

// CandidateRecord is a validated, not yet committed student.
type CandidateRecord struct {
	SourceRowIndex int           `json:"sourceRowIndex"`
	MatchKey       string        `json:"matchKey"`
	Student        Student       `json:"student"`
	Duplicate      DuplicateKind `json:"duplicate,omitempty"`
	ExistingID     string        `json:"existingId,omitempty"`     // set when Duplicate == DuplicateExisting
	DuplicateOfRow int           `json:"duplicateOfRow,omitempty"` // set when Duplicate == DuplicateInFile
}

// IsDuplicate reports whether the record collides with the roster or an earlier row.
func (c CandidateRecord) IsDuplicate() bool {
	return c.Duplicate != DuplicateNone
}

// RosterEntry is an existing student as seen by duplicate detection.
type RosterEntry struct {
	ID        string   `json:"id"`
	MatchKeys []string `json:"matchKeys"`
}

// RowRejection lists every reason a row failed the field rules.
type RowRejection struct {
	RowIndex int      `json:"rowIndex"`
	Reasons  []string `json:"reasons"`
}

// RowWarning records a value that was dropped without rejecting the row.
type RowWarning struct {
	RowIndex int    `json:"rowIndex"`
	Field    Field  `json:"field"`
	Value    string `json:"value"`
	Reason   string `json:"reason"`
}

// ValidationPolicy tightens the optional contact-field rules.
type ValidationPolicy struct {
	RequireParentEmail bool `json:"requireParentEmail"`
	RequireParentPhone bool `json:"requireParentPhone"`
}

// ValidationResult partitions the normalized rows into candidates and rejections.
type ValidationResult struct {
	Records        []CandidateRecord `json:"records"`
	DuplicateCount int               `json:"duplicateCount"`
	Rejected       []RowRejection    `json:"rejected"`
	Warnings       []RowWarning      `json:"warnings,omitempty"`
}

// DuplicateHandling is the caller's policy for roster collisions.
type DuplicateHandling string

const (
	CreateOnly     DuplicateHandling = "CreateOnly"
	UpdateExisting DuplicateHandling = "UpdateExisting"
	SkipDuplicates DuplicateHandling = "SkipDuplicates"
)

// ImportOptions configures one reconciliation run.
type ImportOptions struct {
	DuplicateHandling DuplicateHandling `json:"duplicateHandling"`
	BatchSize         int               `json:"batchSize"`
	FanOut            int               `json:"fanOut,omitempty"` // 0 means BatchSize
}

// RecordFailure is a per-record store failure or an aborted record.
type RecordFailure struct {
	SourceRowIndex int    `json:"sourceRowIndex"`
	Reason         string `json:"reason"`
}

// BatchOutcome is the tally of one dispatched batch.
type BatchOutcome struct {
	BatchIndex      int             `json:"batchIndex"`
	Attempted       int             `json:"attempted"`
	SucceededCreate int             `json:"succeededCreate"`
	SucceededUpdate int             `json:"succeededUpdate"`
	Skipped         int             `json:"skipped"`
	Failures        []RecordFailure `json:"failures"`
}

// ImportOutcome is the terminal accounting of a run.
// Success + Updated + Skipped + len(Errors) == Total always holds.
type ImportOutcome struct {
	Success     int             `json:"success"`
	Updated     int             `json:"updated"`
	Skipped     int             `json:"skipped"`
	Errors      []string        `json:"errors"`
	Total       int             `json:"total"`
	Failures    []RecordFailure `json:"failures,omitempty"`
	SkipReasons []RecordFailure `json:"skipReasons,omitempty"`
	Batches     []BatchOutcome  `json:"batches,omitempty"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	Aborted     bool            `json:"aborted,omitempty"`
	Failed      bool            `json:"failed,omitempty"` // the run panicked; see Errors
	Duration    time.Duration   `json:"durationNs,omitempty"`
}

// ProgressStatus is the lifecycle state carried by progress notifications.
type ProgressStatus string

const (
	StatusProcessing ProgressStatus = "processing"
	StatusCancelled  ProgressStatus = "cancelled"
	StatusComplete   ProgressStatus = "complete"

	// StatusFailed is only reported by the service when a run dies unexpectedly.
	StatusFailed ProgressStatus = "failed"
)

// Progress is emitted at least once per batch boundary.
type Progress struct {
	ImportID string         `json:"importId,omitempty"`
	Current  int            `json:"current"`
	Total    int            `json:"total"`
	Status   ProgressStatus `json:"status"`
	Message  string         `json:"message"`
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return (p.Current * 100) / p.Total
}

// ProgressFunc receives progress notifications. Calls are serialized.
type ProgressFunc func(Progress)

// RecordWriter is the slice of the student store the reconciler writes through.
// Errors wrapping ErrNonRecoverable stop the run.
type RecordWriter interface {
	CreateStudent(ctx context.Context, teacherID string, s Student) (string, error)
	UpdateStudent(ctx context.Context, teacherID, id string, s Student) error
}

// StudentStore is the external record store scoped by teacher.
type StudentStore interface {
	RecordWriter
	ListRoster(ctx context.Context, teacherID string) ([]RosterEntry, error)
	RecordImport(ctx context.Context, run ImportRun) error
	ListImports(ctx context.Context, teacherID string, limit int) ([]ImportRun, error)
}

// ImportRun is the history entry written after every finished reconciliation.
type ImportRun struct {
	ID                string            `json:"id"`
	TeacherID         string            `json:"teacherId"`
	FileName          string            `json:"fileName"`
	DuplicateHandling DuplicateHandling `json:"duplicateHandling"`
	Total             int               `json:"total"`
	Created           int               `json:"created"`
	Updated           int               `json:"updated"`
	Skipped           int               `json:"skipped"`
	Failed            int               `json:"failed"`
	Status            ProgressStatus    `json:"status"`
	StartedAt         time.Time         `json:"startedAt"`
	FinishedAt        time.Time         `json:"finishedAt"`
}
