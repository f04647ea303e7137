package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// fakeStore is an in-memory StudentStore for package tests.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int
	students map[string]Student // id -> student, all teachers
	owners   map[string]string  // id -> teacher
	runs     []ImportRun
	creates  int
	updates  int

	// Optional hooks, consulted before a write is applied.
	failCreate func(s Student) error
	failUpdate func(id string, s Student) error
	rosterErr  error
	delay      time.Duration
	block      chan struct{} // when set, writes wait until it is closed

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		students: make(map[string]Student),
		owners:   make(map[string]string),
	}
}

func (f *fakeStore) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeStore) CreateStudent(ctx context.Context, teacherID string, s Student) (string, error) {
	defer f.enter()()

	if f.failCreate != nil {
		if err := f.failCreate(s); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("stu-%d", f.nextID)
	f.students[id] = s
	f.owners[id] = teacherID
	f.creates++
	return id, nil
}

func (f *fakeStore) UpdateStudent(ctx context.Context, teacherID, id string, s Student) error {
	defer f.enter()()

	if f.failUpdate != nil {
		if err := f.failUpdate(id, s); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[id] != teacherID {
		return fmt.Errorf("student not found: %s", id)
	}
	f.students[id] = s
	f.updates++
	return nil
}

func (f *fakeStore) ListRoster(ctx context.Context, teacherID string) ([]RosterEntry, error) {
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.students))
	for id := range f.students {
		if f.owners[id] == teacherID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	entries := make([]RosterEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, RosterEntry{ID: id, MatchKeys: RosterKeys(f.students[id])})
	}
	return entries, nil
}

func (f *fakeStore) RecordImport(ctx context.Context, run ImportRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) ListImports(ctx context.Context, teacherID string, limit int) ([]ImportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ImportRun
	for i := len(f.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.runs[i].TeacherID == teacherID {
			out = append(out, f.runs[i])
		}
	}
	return out, nil
}

func (f *fakeStore) counts() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates
}

func (f *fakeStore) history() []ImportRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ImportRun(nil), f.runs...)
}

// candidates builds n distinct, non-duplicate records.
func candidates(n int) []CandidateRecord {
	recs := make([]CandidateRecord, n)
	for i := range recs {
		s := Student{
			FirstName:         fmt.Sprintf("First%d", i),
			LastName:          fmt.Sprintf("Last%d", i),
			StudentExternalID: fmt.Sprintf("S-%03d", i),
		}
		recs[i] = CandidateRecord{SourceRowIndex: i, MatchKey: MatchKey(s), Student: s}
	}
	return recs
}

// rosterCSV renders n students as an uploadable file matching candidates(n).
func rosterCSV(n int) string {
	var b []byte
	b = append(b, "First Name,Last Name,Student ID,Grade\n"...)
	for i := 0; i < n; i++ {
		b = fmt.Appendf(b, "First%d,Last%d,S-%03d,%d\n", i, i, i, i%12+1)
	}
	return string(b)
}
