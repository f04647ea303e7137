package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/google/uuid"
)

// StoredStudent is a student row held by Memory.
type StoredStudent struct {
	ID        string
	TeacherID string
	Student   core.Student
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Memory is an in-process StudentStore for local runs and tests. It enforces
// the same per-teacher external ID uniqueness as the students table.
type Memory struct {
	// FailCreate and FailUpdate, when set, are consulted before each write;
	// a non-nil error is returned as the write's failure.
	FailCreate func(teacherID string, s core.Student) error
	FailUpdate func(teacherID, id string, s core.Student) error

	mu       sync.Mutex
	students map[string]*StoredStudent // id -> student
	order    []string
	runs     []core.ImportRun
	creates  int
	updates  int
}

var _ core.StudentStore = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{students: make(map[string]*StoredStudent)}
}

// ListRoster returns every student of the teacher with its match keys.
func (m *Memory) ListRoster(ctx context.Context, teacherID string) ([]core.RosterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.RosterEntry
	for _, id := range m.order {
		st := m.students[id]
		if st.TeacherID != teacherID {
			continue
		}
		out = append(out, core.RosterEntry{ID: st.ID, MatchKeys: core.RosterKeys(st.Student)})
	}
	return out, nil
}

// CreateStudent stores s under a new ID.
func (m *Memory) CreateStudent(ctx context.Context, teacherID string, s core.Student) (string, error) {
	if hook := m.FailCreate; hook != nil {
		if err := hook(teacherID, s); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(teacherID, "", s); err != nil {
		return "", err
	}

	now := time.Now()
	id := uuid.New().String()
	m.students[id] = &StoredStudent{
		ID:        id,
		TeacherID: teacherID,
		Student:   clone(s),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.order = append(m.order, id)
	m.creates++
	return id, nil
}

// UpdateStudent overwrites the teacher's student id.
func (m *Memory) UpdateStudent(ctx context.Context, teacherID, id string, s core.Student) error {
	if hook := m.FailUpdate; hook != nil {
		if err := hook(teacherID, id, s); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok || st.TeacherID != teacherID {
		return fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	if err := m.checkUnique(teacherID, id, s); err != nil {
		return err
	}
	st.Student = clone(s)
	st.UpdatedAt = time.Now()
	m.updates++
	return nil
}

func (m *Memory) checkUnique(teacherID, selfID string, s core.Student) error {
	if s.StudentExternalID == "" {
		return nil
	}
	for _, st := range m.students {
		if st.ID == selfID || st.TeacherID != teacherID {
			continue
		}
		if strings.EqualFold(st.Student.StudentExternalID, s.StudentExternalID) {
			return fmt.Errorf("duplicate key value violates unique constraint: student external id %q", s.StudentExternalID)
		}
	}
	return nil
}

// RecordImport appends a finished run to the history.
func (m *Memory) RecordImport(ctx context.Context, run core.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListImports returns the teacher's most recent runs, newest first.
func (m *Memory) ListImports(ctx context.Context, teacherID string, limit int) ([]core.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.ImportRun
	for _, r := range m.runs {
		if r.TeacherID == teacherID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Students returns the teacher's students in insertion order.
func (m *Memory) Students(teacherID string) []StoredStudent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StoredStudent
	for _, id := range m.order {
		if st := m.students[id]; st.TeacherID == teacherID {
			out = append(out, *st)
		}
	}
	return out
}

// WriteCounts returns how many creates and updates succeeded.
func (m *Memory) WriteCounts() (creates, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.updates
}

func clone(s core.Student) core.Student {
	if s.LearningGoals != nil {
		s.LearningGoals = append([]string(nil), s.LearningGoals...)
	}
	return s
}
