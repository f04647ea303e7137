// Package store implements core.StudentStore on PostgreSQL and in memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStudentNotFound is returned when an update targets no row of the teacher.
var ErrStudentNotFound = errors.New("student not found")

// DBTX is the subset of pgxpool.Pool, pgx.Conn and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores students in the students table, scoped by teacher_id.
type Postgres struct {
	db DBTX
}

var _ core.StudentStore = (*Postgres)(nil)

// NewPostgres wraps a pool, connection or transaction.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS students (
	id                     uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	teacher_id             text NOT NULL,
	first_name             text NOT NULL,
	last_name              text NOT NULL,
	student_external_id    text,
	grade_level            text,
	learning_goals         text[] NOT NULL DEFAULT '{}',
	special_considerations text,
	parent_name            text,
	parent_email           text,
	parent_phone           text,
	created_at             timestamptz NOT NULL DEFAULT now(),
	updated_at             timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS students_teacher_external_id_key
	ON students (teacher_id, lower(student_external_id))
	WHERE student_external_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS students_teacher_id_idx ON students (teacher_id);

CREATE TABLE IF NOT EXISTS student_imports (
	id                 uuid PRIMARY KEY,
	teacher_id         text NOT NULL,
	file_name          text NOT NULL,
	duplicate_handling text NOT NULL,
	total              integer NOT NULL,
	created            integer NOT NULL,
	updated            integer NOT NULL,
	skipped            integer NOT NULL,
	failed             integer NOT NULL,
	status             text NOT NULL,
	started_at         timestamptz NOT NULL,
	finished_at        timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS student_imports_teacher_idx ON student_imports (teacher_id, finished_at DESC);
`

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ListRoster returns every student of the teacher with its match keys.
func (p *Postgres) ListRoster(ctx context.Context, teacherID string) ([]core.RosterEntry, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id::text, first_name, last_name, coalesce(student_external_id, '')
		FROM students
		WHERE teacher_id = $1
		ORDER BY created_at, id`, teacherID)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list roster: %w", err))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.RosterEntry, error) {
		var id string
		var s core.Student
		if err := row.Scan(&id, &s.FirstName, &s.LastName, &s.StudentExternalID); err != nil {
			return core.RosterEntry{}, err
		}
		return core.RosterEntry{ID: id, MatchKeys: core.RosterKeys(s)}, nil
	})
	if err != nil {
		return nil, classifyError(fmt.Errorf("list roster: %w", err))
	}
	return entries, nil
}

// CreateStudent inserts s and returns the new student ID.
func (p *Postgres) CreateStudent(ctx context.Context, teacherID string, s core.Student) (string, error) {
	var id string
	err := p.db.QueryRow(ctx, `
		INSERT INTO students (
			teacher_id, first_name, last_name, student_external_id, grade_level,
			learning_goals, special_considerations, parent_name, parent_email, parent_phone
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text`,
		teacherID, s.FirstName, s.LastName, text(s.StudentExternalID), text(s.GradeLevel),
		goals(s.LearningGoals), text(s.SpecialConsiderations), text(s.ParentName),
		text(s.ParentEmail), text(s.ParentPhone),
	).Scan(&id)
	if err != nil {
		return "", classifyError(err)
	}
	return id, nil
}

// UpdateStudent overwrites the imported fields of the teacher's student id.
func (p *Postgres) UpdateStudent(ctx context.Context, teacherID, id string, s core.Student) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE students SET
			first_name = $3,
			last_name = $4,
			student_external_id = $5,
			grade_level = $6,
			learning_goals = $7,
			special_considerations = $8,
			parent_name = $9,
			parent_email = $10,
			parent_phone = $11,
			updated_at = now()
		WHERE teacher_id = $1 AND id = $2`,
		teacherID, uid, s.FirstName, s.LastName, text(s.StudentExternalID), text(s.GradeLevel),
		goals(s.LearningGoals), text(s.SpecialConsiderations), text(s.ParentName),
		text(s.ParentEmail), text(s.ParentPhone),
	)
	if err != nil {
		return classifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	return nil
}

// RecordImport appends a finished run to the import history.
func (p *Postgres) RecordImport(ctx context.Context, run core.ImportRun) error {
	uid, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("record import: invalid id %q: %w", run.ID, err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO student_imports (
			id, teacher_id, file_name, duplicate_handling, total, created,
			updated, skipped, failed, status, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uid, run.TeacherID, run.FileName, string(run.DuplicateHandling), run.Total, run.Created,
		run.Updated, run.Skipped, run.Failed, string(run.Status), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return classifyError(fmt.Errorf("record import: %w", err))
	}
	return nil
}

// ListImports returns the teacher's most recent runs, newest first.
func (p *Postgres) ListImports(ctx context.Context, teacherID string, limit int) ([]core.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx, `
		SELECT id::text, teacher_id, file_name, duplicate_handling, total, created,
			updated, skipped, failed, status, started_at, finished_at
		FROM student_imports
		WHERE teacher_id = $1
		ORDER BY finished_at DESC
		LIMIT $2`, teacherID, limit)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list imports: %w", err))
	}

	runs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[core.ImportRun])
	if err != nil {
		return nil, classifyError(fmt.Errorf("list imports: %w", err))
	}
	return runs, nil
}

// classifyError marks authorization failures as non-recoverable so the
// reconciler stops issuing writes that can only fail the same way.
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "42501", "28000", "28P01":
		return fmt.Errorf("%w: %w", core.ErrNonRecoverable, err)
	case "23505":
		if !strings.Contains(strings.ToLower(pgErr.Message), "duplicate key") {
			return fmt.Errorf("duplicate key: %w", err)
		}
	}
	return err
}

// text maps "" to SQL NULL.
func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func goals(g []string) []string {
	if g == nil {
		return []string{}
	}
	return g
}
