package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/google/uuid"
)

var (
	ErrImportNotFound   = errors.New("import not found")
	ErrNotValidated     = errors.New("import has not been validated")
	ErrNotCommitted     = errors.New("import has not been committed")
	ErrAlreadyCommitted = errors.New("import already committed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrEmptyFile        = errors.New("empty file: no header row found")
	ErrMissingTeacher   = errors.New("missing teacher id")
)

// historyTimeout bounds the RecordImport call made after every run.
const historyTimeout = 10 * time.Second

// ImportState is where a session is in the upload, preview, commit flow.
type ImportState string

const (
	StateParsed     ImportState = "parsed"
	StateValidated  ImportState = "validated"
	StateCommitting ImportState = "committing"
	StateFinished   ImportState = "finished"
)

// ImportSession is the client-facing view of one import.
type ImportSession struct {
	ID               string        `json:"id"`
	FileName         string        `json:"fileName"`
	State            ImportState   `json:"state"`
	Headers          []string      `json:"headers"`
	RowCount         int           `json:"rowCount"`
	ParseErrors      []ParseError  `json:"parseErrors"`
	SuggestedMapping ColumnMapping `json:"suggestedMapping"`
	MappingCoverage  float64       `json:"mappingCoverage"`
	CreatedAt        time.Time     `json:"createdAt"`
	Progress         *Progress     `json:"progress,omitempty"`
}

// RejectedRow is a rejected row with its original cells, for export.
type RejectedRow struct {
	RowIndex int
	Line     int
	Values   []string // in header order
	Reasons  []string
}

// Service owns import sessions and runs reconciliations against the store.
type Service struct {
	store   StudentStore
	limiter *ImportLimiter

	maxFileSize int64
	batchSize   int
	fanOut      int
	timeout     time.Duration
	sessionTTL  time.Duration
	policy      ValidationPolicy

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID        string
	TeacherID string
	FileName  string
	CreatedAt time.Time

	table     RawTable
	suggested ColumnMapping

	mu         sync.Mutex
	state      ImportState
	touched    time.Time
	mapping    ColumnMapping
	validation *ValidationResult
	options    ImportOptions
	cancel     context.CancelFunc
	progress   Progress
	result     *ImportOutcome
	done       chan struct{}

	listenerMu sync.Mutex
	listeners  []chan Progress
	closed     bool
}

// NewService creates a Service backed by store.
func NewService(store StudentStore, cfg *config.Config) *Service {
	return &Service{
		store:       store,
		limiter:     NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		maxFileSize: cfg.Import.MaxFileSize,
		batchSize:   cfg.Import.BatchSize,
		fanOut:      cfg.Import.FanOut,
		timeout:     cfg.Import.Timeout,
		sessionTTL:  cfg.Import.SessionTTL,
		policy: ValidationPolicy{
			RequireParentEmail: cfg.Import.RequireParentEmail,
			RequireParentPhone: cfg.Import.RequireParentPhone,
		},
		imports: make(map[string]*activeImport),
	}
}

// StartImport parses an uploaded file into a new session and proposes a
// column mapping. Nothing is written to the store.
func (s *Service) StartImport(ctx context.Context, teacherID, fileName string, data []byte) (*ImportSession, error) {
	if teacherID == "" {
		return nil, ErrMissingTeacher
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(data), s.maxFileSize)
	}

	table := Parse(DecodeInput(data))
	if len(table.Headers) == 0 {
		return nil, ErrEmptyFile
	}

	now := time.Now()
	a := &activeImport{
		ID:        uuid.New().String(),
		TeacherID: teacherID,
		FileName:  fileName,
		CreatedAt: now,
		table:     table,
		suggested: SuggestMapping(table.Headers),
		state:     StateParsed,
		touched:   now,
	}

	s.mu.Lock()
	s.imports[a.ID] = a
	s.mu.Unlock()
	s.scheduleExpiry(a.ID, s.sessionTTL)

	slog.Info("import parsed",
		"import_id", a.ID,
		"teacher_id", teacherID,
		"file", fileName,
		"rows", len(table.Rows),
		"parse_errors", len(table.ParseErrors),
	)

	return a.snapshot(), nil
}

// ValidateImport applies mapping to the session's rows and checks them against
// the teacher's current roster. It may be repeated with a different mapping
// until the import is committed; each call replaces the stored preview.
func (s *Service) ValidateImport(ctx context.Context, teacherID, importID string, mapping ColumnMapping, policy *ValidationPolicy) (*ValidationResult, error) {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return nil, err
	}
	if a.currentState() == StateCommitting || a.currentState() == StateFinished {
		return nil, ErrAlreadyCommitted
	}

	rows, err := ApplyMapping(a.table, mapping)
	if err != nil {
		return nil, err
	}

	roster, err := s.store.ListRoster(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	pol := s.policy
	if policy != nil {
		pol.RequireParentEmail = pol.RequireParentEmail || policy.RequireParentEmail
		pol.RequireParentPhone = pol.RequireParentPhone || policy.RequireParentPhone
	}
	result := Validate(rows, roster, pol)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateCommitting || a.state == StateFinished {
		return nil, ErrAlreadyCommitted
	}
	a.mapping = mapping
	a.validation = &result
	a.state = StateValidated

	return &result, nil
}

// CommitImport starts reconciling the validated records in the background.
// Zero BatchSize and FanOut take the configured defaults and an empty
// DuplicateHandling means CreateOnly. It returns once an import slot is held;
// follow the run with SubscribeProgress or GetImportResult.
func (s *Service) CommitImport(ctx context.Context, teacherID, importID string, opts ImportOptions) error {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return err
	}

	if opts.DuplicateHandling == "" {
		opts.DuplicateHandling = CreateOnly
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = s.batchSize
	}
	if opts.FanOut == 0 {
		opts.FanOut = s.fanOut
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)

	a.mu.Lock()
	switch {
	case a.state == StateCommitting || a.state == StateFinished:
		a.mu.Unlock()
		cancel()
		return ErrAlreadyCommitted
	case a.validation == nil:
		a.mu.Unlock()
		cancel()
		return ErrNotValidated
	}
	records := a.validation.Records
	a.state = StateCommitting
	a.options = opts
	a.cancel = cancel
	a.done = make(chan struct{})
	a.progress = Progress{
		ImportID: a.ID,
		Total:    len(records),
		Status:   StatusProcessing,
		Message:  "waiting for an import slot",
	}
	a.mu.Unlock()

	if err := s.limiter.Acquire(ctx, a.ID); err != nil {
		cancel()
		a.mu.Lock()
		a.state = StateValidated
		a.cancel = nil
		a.progress = Progress{}
		close(a.done)
		a.done = nil
		a.mu.Unlock()
		return err
	}

	go s.run(runCtx, a, records, opts)
	return nil
}

// run executes one reconciliation and always finishes the session, even on panic.
func (s *Service) run(ctx context.Context, a *activeImport, records []CandidateRecord, opts ImportOptions) {
	log := slog.With("import_id", a.ID, "teacher_id", a.TeacherID)
	startedAt := time.Now()

	defer s.limiter.Release(a.ID)
	defer a.cancel()

	var out ImportOutcome
	defer func() {
		status := StatusComplete
		if r := recover(); r != nil {
			// Reconcile recovers its own panics, so nothing was written yet.
			log.Error("panic in import", "panic", r)
			out = failedOutcome(records, fmt.Sprintf("internal error: %v", r))
		}
		switch {
		case out.Failed:
			status = StatusFailed
			a.publish(Progress{
				ImportID: a.ID,
				Current:  len(records),
				Total:    len(records),
				Status:   StatusFailed,
				Message:  fmt.Sprintf("import failed: %d created, %d updated, %d skipped, %d failed", out.Success, out.Updated, out.Skipped, len(out.Errors)),
			})
		case out.Cancelled:
			status = StatusCancelled
		}
		s.finish(a, out, status, startedAt)
	}()

	log.Info("import started",
		"records", len(records),
		"duplicate_handling", opts.DuplicateHandling,
		"batch_size", opts.BatchSize,
	)

	var err error
	out, err = Reconcile(ctx, s.store, a.TeacherID, records, opts, func(p Progress) {
		p.ImportID = a.ID
		a.publish(p)
	})
	if err != nil {
		// Options were validated in CommitImport; reaching this is a bug.
		panic(err)
	}
}

func failedOutcome(records []CandidateRecord, reason string) ImportOutcome {
	out := ImportOutcome{Total: len(records), Errors: []string{}, Failed: true}
	for _, rec := range records {
		out.fail(rec.SourceRowIndex, reason)
	}
	return out
}

// finish stores the outcome, writes the history entry and releases waiters.
func (s *Service) finish(a *activeImport, out ImportOutcome, status ProgressStatus, startedAt time.Time) {
	a.mu.Lock()
	a.result = &out
	a.state = StateFinished
	a.touched = time.Now()
	opts := a.options
	done := a.done
	a.mu.Unlock()

	run := ImportRun{
		ID:                a.ID,
		TeacherID:         a.TeacherID,
		FileName:          a.FileName,
		DuplicateHandling: opts.DuplicateHandling,
		Total:             out.Total,
		Created:           out.Success,
		Updated:           out.Updated,
		Skipped:           out.Skipped,
		Failed:            len(out.Errors),
		Status:            status,
		StartedAt:         startedAt,
		FinishedAt:        time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	if err := s.store.RecordImport(ctx, run); err != nil {
		slog.Error("failed to record import history", "import_id", a.ID, "error", err)
	}
	cancel()

	slog.Info("import finished",
		"import_id", a.ID,
		"teacher_id", a.TeacherID,
		"status", status,
		"created", out.Success,
		"updated", out.Updated,
		"skipped", out.Skipped,
		"failed", len(out.Errors),
		"duration", out.Duration,
	)

	a.closeListeners()
	close(done)
}

// SubscribeProgress returns a channel of progress updates for the import.
// The channel is closed when the run finishes; subscribing after that yields
// the last progress and a closed channel.
func (s *Service) SubscribeProgress(teacherID, importID string) (<-chan Progress, error) {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)
	current := a.currentProgress()

	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	if current.Status != "" {
		ch <- current
	}
	if a.closed {
		close(ch)
		return ch, nil
	}
	a.listeners = append(a.listeners, ch)
	return ch, nil
}

// CancelImport stops a committed import between batches. Records in batches
// not yet dispatched are reported as skipped.
func (s *Service) CancelImport(teacherID, importID string) error {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return ErrNotCommitted
	}

	cancel()
	slog.Info("import cancel requested", "import_id", importID, "teacher_id", teacherID)
	return nil
}

// GetImportResult returns the outcome of a committed import, blocking until
// the run finishes or ctx is done.
func (s *Service) GetImportResult(ctx context.Context, teacherID, importID string) (*ImportOutcome, error) {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil, ErrNotCommitted
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return nil, ErrNotCommitted
	}
	return a.result, nil
}

// GetImport returns the session summary.
func (s *Service) GetImport(teacherID, importID string) (*ImportSession, error) {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return nil, err
	}
	return a.snapshot(), nil
}

// GetValidation returns the last preview computed for the import.
func (s *Service) GetValidation(teacherID, importID string) (*ValidationResult, error) {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.validation == nil {
		return nil, ErrNotValidated
	}
	return a.validation, nil
}

// RejectedRows returns the rows the last validation rejected, with their
// original cells in header order.
func (s *Service) RejectedRows(teacherID, importID string) ([]string, []RejectedRow, error) {
	a, err := s.lookup(teacherID, importID)
	if err != nil {
		return nil, nil, err
	}

	a.mu.Lock()
	v := a.validation
	a.mu.Unlock()
	if v == nil {
		return nil, nil, ErrNotValidated
	}

	byIndex := make(map[int]RawRow, len(a.table.Rows))
	for _, r := range a.table.Rows {
		byIndex[r.Index] = r
	}

	out := make([]RejectedRow, 0, len(v.Rejected))
	for _, rej := range v.Rejected {
		raw := byIndex[rej.RowIndex]
		values := make([]string, len(a.table.Headers))
		for i, h := range a.table.Headers {
			values[i] = raw.Values[h]
		}
		out = append(out, RejectedRow{
			RowIndex: rej.RowIndex,
			Line:     raw.Line,
			Values:   values,
			Reasons:  rej.Reasons,
		})
	}
	return a.table.Headers, out, nil
}

// ListImports returns the teacher's most recent finished imports.
func (s *Service) ListImports(ctx context.Context, teacherID string, limit int) ([]ImportRun, error) {
	if teacherID == "" {
		return nil, ErrMissingTeacher
	}
	runs, err := s.store.ListImports(ctx, teacherID, limit)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	return runs, nil
}

// LimiterStatus reports how many import slots are in use.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until no import is running or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every running import. Used when shutdown runs out of time.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.imports {
		a.mu.Lock()
		if a.cancel != nil && a.state == StateCommitting {
			a.cancel()
		}
		a.mu.Unlock()
	}
}

// lookup finds a session owned by teacherID. Sessions of other teachers are
// reported as not found.
func (s *Service) lookup(teacherID, importID string) (*activeImport, error) {
	if teacherID == "" {
		return nil, ErrMissingTeacher
	}

	s.mu.RLock()
	a, ok := s.imports[importID]
	s.mu.RUnlock()
	if !ok || a.TeacherID != teacherID {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}

	a.mu.Lock()
	a.touched = time.Now()
	a.mu.Unlock()
	return a, nil
}

// scheduleExpiry drops the session once it has been idle for sessionTTL.
// Running imports are never dropped.
func (s *Service) scheduleExpiry(importID string, after time.Duration) {
	if after <= 0 {
		return
	}
	time.AfterFunc(after, func() {
		s.mu.Lock()
		a, ok := s.imports[importID]
		if !ok {
			s.mu.Unlock()
			return
		}
		a.mu.Lock()
		idle := time.Since(a.touched)
		running := a.state == StateCommitting
		a.mu.Unlock()

		if running || idle < s.sessionTTL {
			s.mu.Unlock()
			next := s.sessionTTL - idle
			if running || next <= 0 {
				next = s.sessionTTL
			}
			s.scheduleExpiry(importID, next)
			return
		}
		delete(s.imports, importID)
		s.mu.Unlock()
		slog.Debug("import session expired", "import_id", importID)
	})
}

func (a *activeImport) currentState() ImportState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *activeImport) currentProgress() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

func (a *activeImport) snapshot() *ImportSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess := &ImportSession{
		ID:               a.ID,
		FileName:         a.FileName,
		State:            a.state,
		Headers:          a.table.Headers,
		RowCount:         len(a.table.Rows),
		ParseErrors:      a.table.ParseErrors,
		SuggestedMapping: a.suggested,
		MappingCoverage:  MappingCoverage(a.table.Headers, a.suggested),
		CreatedAt:        a.CreatedAt,
	}
	if a.progress.Status != "" {
		p := a.progress
		sess.Progress = &p
	}
	return sess
}

// publish records p as the current progress and fans it out. Slow listeners
// miss intermediate updates rather than stalling the run.
func (a *activeImport) publish(p Progress) {
	a.mu.Lock()
	a.progress = p
	a.mu.Unlock()

	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	for _, ch := range a.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

func (a *activeImport) closeListeners() {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	for _, ch := range a.listeners {
		close(ch)
	}
	a.listeners = nil
	a.closed = true
}
