package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		nonRecoverable bool
	}{
		{"insufficient privilege", &pgconn.PgError{Code: "42501", Message: "permission denied for table students"}, true},
		{"invalid authorization", &pgconn.PgError{Code: "28000", Message: "role is not permitted to log in"}, true},
		{"invalid password", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, true},
		{"wrapped privilege error", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "42501"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}, false},
		{"not null violation", &pgconn.PgError{Code: "23502", Message: "null value in column"}, false},
		{"plain error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if errors.Is(got, core.ErrNonRecoverable) != tt.nonRecoverable {
				t.Errorf("classifyError(%v) non-recoverable = %v, want %v", tt.err, !tt.nonRecoverable, tt.nonRecoverable)
			}
			var pgErr *pgconn.PgError
			if _, isPg := tt.err.(*pgconn.PgError); isPg && !errors.As(got, &pgErr) {
				t.Error("classifyError() lost the underlying PgError")
			}
		})
	}
}

func TestClassifyError_UniqueViolationMapsToDuplicate(t *testing.T) {
	err := classifyError(&pgconn.PgError{Code: "23505", Message: "unique constraint students_teacher_external_id_key"})
	if got := core.MapError(err).Code; got != "DB001" {
		t.Errorf("MapError code = %q, want DB001 (err = %v)", got, err)
	}
}

func TestText(t *testing.T) {
	if v := text(""); v.Valid {
		t.Error(`text("") should be NULL`)
	}
	if v := text("x"); !v.Valid || v.String != "x" {
		t.Errorf(`text("x") = %+v`, v)
	}
	if g := goals(nil); g == nil || len(g) != 0 {
		t.Errorf("goals(nil) = %#v, want empty non-nil slice", g)
	}
}

func TestUpdateStudent_RejectsMalformedID(t *testing.T) {
	p := NewPostgres(nil)
	err := p.UpdateStudent(context.Background(), "t1", "not-a-uuid", core.Student{FirstName: "A", LastName: "B"})
	if !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("UpdateStudent() error = %v, want ErrStudentNotFound", err)
	}
}

// TestPostgres_RoundTrip runs against a real database when
// ROSTER_TEST_DATABASE_URL is set.
func TestPostgres_RoundTrip(t *testing.T) {
	url := os.Getenv("ROSTER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ROSTER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 0})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pool.Close()

	p := NewPostgres(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	teacher := "test-" + uuid.New().String()
	defer pool.Exec(ctx, "DELETE FROM students WHERE teacher_id = $1", teacher)
	defer pool.Exec(ctx, "DELETE FROM student_imports WHERE teacher_id = $1", teacher)

	id, err := p.CreateStudent(ctx, teacher, core.Student{
		FirstName:         "Ada",
		LastName:          "Lovelace",
		StudentExternalID: "S-1",
		LearningGoals:     []string{"algebra"},
	})
	if err != nil {
		t.Fatalf("CreateStudent() error = %v", err)
	}

	if _, err := p.CreateStudent(ctx, teacher, core.Student{FirstName: "X", LastName: "Y", StudentExternalID: "s-1"}); err == nil {
		t.Error("CreateStudent() with duplicate external id should fail")
	}

	if err := p.UpdateStudent(ctx, teacher, id, core.Student{FirstName: "Ada", LastName: "King", StudentExternalID: "S-1"}); err != nil {
		t.Fatalf("UpdateStudent() error = %v", err)
	}
	if err := p.UpdateStudent(ctx, "someone-else", id, core.Student{FirstName: "A", LastName: "B"}); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("UpdateStudent() by other teacher error = %v, want ErrStudentNotFound", err)
	}

	roster, err := p.ListRoster(ctx, teacher)
	if err != nil {
		t.Fatalf("ListRoster() error = %v", err)
	}
	if len(roster) != 1 || roster[0].ID != id {
		t.Fatalf("ListRoster() = %+v, want the one student", roster)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	run := core.ImportRun{
		ID:                uuid.New().String(),
		TeacherID:         teacher,
		FileName:          "roster.csv",
		DuplicateHandling: core.UpdateExisting,
		Total:             1,
		Updated:           1,
		Status:            core.StatusComplete,
		StartedAt:         now,
		FinishedAt:        now,
	}
	if err := p.RecordImport(ctx, run); err != nil {
		t.Fatalf("RecordImport() error = %v", err)
	}
	runs, err := p.ListImports(ctx, teacher, 10)
	if err != nil {
		t.Fatalf("ListImports() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID || runs[0].Status != core.StatusComplete {
		t.Errorf("ListImports() = %+v, want the recorded run", runs)
	}
}
