package core

// reconcile.go commits validated candidates to the student store.
//
// Records are split into consecutive batches processed strictly in order.
// Inside a batch, store calls fan out up to ImportOptions.FanOut; progress is
// reported from the calling goroutine after each batch, so notifications are
// serialized and Current never decreases.
//
// A failing record never stops the run. Only an error wrapping
// ErrNonRecoverable does: the batch in flight finishes and every record not
// yet attempted is reported as an error with one uniform reason. Cancelling
// ctx stops the run between batches; undispatched records are counted as
// skipped with reason "cancelled".

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNonRecoverable marks store failures that make every later write pointless,
// such as the caller losing authorization mid-run.
var ErrNonRecoverable = errors.New("non-recoverable store failure")

// ErrInvalidOptions wraps every ImportOptions.Validate failure.
var ErrInvalidOptions = errors.New("invalid import options")

// CancelledReason is the skip reason for records in undispatched batches.
const CancelledReason = "cancelled"

// MaxFanOut caps concurrent store calls within one batch.
const MaxFanOut = 32

// Validate checks the options before any record is written.
func (o ImportOptions) Validate() error {
	switch o.DuplicateHandling {
	case CreateOnly, UpdateExisting, SkipDuplicates:
	default:
		return fmt.Errorf("%w: invalid duplicate handling %q (use CreateOnly, UpdateExisting or SkipDuplicates)", ErrInvalidOptions, o.DuplicateHandling)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: invalid batch size %d: must be positive", ErrInvalidOptions, o.BatchSize)
	}
	if o.FanOut < 0 {
		return fmt.Errorf("%w: invalid fan-out %d: must not be negative", ErrInvalidOptions, o.FanOut)
	}
	return nil
}

func (o ImportOptions) fanOut() int {
	n := o.FanOut
	if n == 0 {
		n = o.BatchSize
	}
	if n > MaxFanOut {
		n = MaxFanOut
	}
	return n
}

type recordAction int

const (
	actionCreated recordAction = iota
	actionUpdated
	actionSkipped
	actionFailed
)

type recordResult struct {
	action recordAction
	reason string
}

type reconciler struct {
	writer    RecordWriter
	teacherID string
	opts      ImportOptions

	mu      sync.Mutex
	created map[string]string // match key -> student ID created in this run

	abortMu    sync.Mutex
	abortCause error
}

// Reconcile writes records through w under opts and returns the full accounting.
// The only error is an invalid opts, reported before anything is written.
//
// A panic on the calling goroutine is recovered: records that already have a
// result keep it, the rest fail with an "internal error" reason, and the
// outcome is marked Failed.
func Reconcile(ctx context.Context, w RecordWriter, teacherID string, records []CandidateRecord, opts ImportOptions, onProgress ProgressFunc) (outcome ImportOutcome, err error) {
	if err := opts.Validate(); err != nil {
		return ImportOutcome{}, err
	}
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	startTime := time.Now()
	r := &reconciler{
		writer:    w,
		teacherID: teacherID,
		opts:      opts,
		created:   make(map[string]string),
	}

	out := ImportOutcome{
		Total:   len(records),
		Errors:  []string{},
		Batches: []BatchOutcome{},
	}

	batchCount := (len(records) + opts.BatchSize - 1) / opts.BatchSize
	processed := 0

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		slog.Error("panic in reconcile", "teacher_id", teacherID, "panic", p, "processed", processed)
		reason := fmt.Sprintf("internal error: %v", p)
		for _, rec := range records[processed:] {
			out.fail(rec.SourceRowIndex, reason)
		}
		out.Failed = true
		out.Duration = time.Since(startTime)
		outcome, err = out, nil
	}()

	for b := 0; b < batchCount; b++ {
		start := b * opts.BatchSize
		end := min(start+opts.BatchSize, len(records))

		if cause := r.aborted(); cause != nil {
			reason := abortReason(cause)
			for _, rec := range records[start:] {
				out.fail(rec.SourceRowIndex, reason)
			}
			processed = len(records)
			break
		}

		if ctx.Err() != nil {
			for _, rec := range records[start:] {
				out.skip(rec.SourceRowIndex, CancelledReason)
			}
			out.Cancelled = true
			processed = len(records)
			break
		}

		// A dispatched batch runs to completion even if ctx is cancelled meanwhile.
		batch := records[start:end]
		results := r.runBatch(context.WithoutCancel(ctx), batch)
		out.Batches = append(out.Batches, out.merge(b, batch, results))
		processed = end

		onProgress(Progress{
			Current: processed,
			Total:   out.Total,
			Status:  StatusProcessing,
			Message: fmt.Sprintf("batch %d of %d done: %d created, %d updated, %d skipped, %d failed",
				b+1, batchCount, out.Success, out.Updated, out.Skipped, len(out.Errors)),
		})
	}

	if cause := r.aborted(); cause != nil {
		out.Aborted = true
		slog.Warn("import aborted", "teacher_id", teacherID, "error", cause, "failed", len(out.Errors))
	}

	final := Progress{Current: processed, Total: out.Total, Status: StatusComplete}
	switch {
	case out.Cancelled:
		final.Status = StatusCancelled
		final.Message = fmt.Sprintf("cancelled: %d of %d records not dispatched", len(out.SkipReasonsFor(CancelledReason)), out.Total)
	case out.Aborted:
		final.Message = fmt.Sprintf("aborted: %d created, %d updated, %d skipped, %d failed",
			out.Success, out.Updated, out.Skipped, len(out.Errors))
	default:
		final.Message = fmt.Sprintf("complete: %d created, %d updated, %d skipped, %d failed",
			out.Success, out.Updated, out.Skipped, len(out.Errors))
	}
	onProgress(final)

	out.Duration = time.Since(startTime)
	return out, nil
}

// runBatch issues the batch's store calls with bounded concurrency.
// Records that target the same student share one lane and run in row order,
// so under UpdateExisting the last row wins and a repeated identity is
// created at most once. Distinct lanes fan out up to FanOut.
func (r *reconciler) runBatch(ctx context.Context, batch []CandidateRecord) []recordResult {
	results := make([]recordResult, len(batch))

	var g errgroup.Group
	g.SetLimit(r.opts.fanOut())
	for _, lane := range lanes(batch) {
		g.Go(func() error {
			for _, i := range lane {
				results[i] = r.safeApply(ctx, batch[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// lanes groups batch indexes by target student, each lane in source row order.
// Lanes are returned in order of their first row.
func lanes(batch []CandidateRecord) [][]int {
	order := make([]int, len(batch))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return batch[order[a]].SourceRowIndex < batch[order[b]].SourceRowIndex
	})

	var out [][]int
	pos := make(map[string]int)
	for _, i := range order {
		key := laneKey(batch[i])
		if n, ok := pos[key]; ok {
			out[n] = append(out[n], i)
			continue
		}
		pos[key] = len(out)
		out = append(out, []int{i})
	}
	return out
}

func laneKey(rec CandidateRecord) string {
	if rec.Duplicate == DuplicateExisting && rec.ExistingID != "" {
		return "existing:" + rec.ExistingID
	}
	if rec.MatchKey == "" {
		return fmt.Sprintf("row:%d", rec.SourceRowIndex)
	}
	return "key:" + rec.MatchKey
}

// safeApply turns a panicking store call into a failed record.
func (r *reconciler) safeApply(ctx context.Context, rec CandidateRecord) (res recordResult) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("panic writing record", "teacher_id", r.teacherID, "row", rec.SourceRowIndex, "panic", p)
			res = recordResult{action: actionFailed, reason: fmt.Sprintf("internal error: %v", p)}
		}
	}()
	return r.apply(ctx, rec)
}

// apply decides create/update/skip for one record and performs it.
func (r *reconciler) apply(ctx context.Context, rec CandidateRecord) recordResult {
	if cause := r.aborted(); cause != nil {
		return recordResult{action: actionFailed, reason: abortReason(cause)}
	}

	switch rec.Duplicate {
	case DuplicateExisting:
		switch r.opts.DuplicateHandling {
		case UpdateExisting:
			return r.update(ctx, rec, rec.ExistingID)
		default:
			return recordResult{action: actionSkipped, reason: "duplicate of existing student"}
		}

	case DuplicateInFile:
		if r.opts.DuplicateHandling != UpdateExisting {
			return recordResult{action: actionSkipped, reason: fmt.Sprintf("duplicate of row %d", rec.DuplicateOfRow)}
		}
		if id := r.createdID(rec.MatchKey); id != "" {
			return r.update(ctx, rec, id)
		}
		return r.create(ctx, rec)

	default:
		return r.create(ctx, rec)
	}
}

func (r *reconciler) create(ctx context.Context, rec CandidateRecord) recordResult {
	id, err := r.writer.CreateStudent(ctx, r.teacherID, rec.Student)
	if err != nil {
		r.noteFailure(err)
		return recordResult{action: actionFailed, reason: "create failed: " + err.Error()}
	}
	r.mu.Lock()
	if _, ok := r.created[rec.MatchKey]; !ok {
		r.created[rec.MatchKey] = id
	}
	r.mu.Unlock()
	return recordResult{action: actionCreated}
}

func (r *reconciler) update(ctx context.Context, rec CandidateRecord, id string) recordResult {
	if err := r.writer.UpdateStudent(ctx, r.teacherID, id, rec.Student); err != nil {
		r.noteFailure(err)
		return recordResult{action: actionFailed, reason: "update failed: " + err.Error()}
	}
	return recordResult{action: actionUpdated}
}

func (r *reconciler) createdID(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created[key]
}

// noteFailure records the first non-recoverable error; later ones are ignored.
func (r *reconciler) noteFailure(err error) {
	if !errors.Is(err, ErrNonRecoverable) {
		return
	}
	r.abortMu.Lock()
	if r.abortCause == nil {
		r.abortCause = err
	}
	r.abortMu.Unlock()
}

func (r *reconciler) aborted() error {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	return r.abortCause
}

func abortReason(cause error) string {
	return "not attempted: import aborted after non-recoverable store failure: " + cause.Error()
}

// merge folds one batch's results into the outcome and returns its BatchOutcome.
func (o *ImportOutcome) merge(index int, batch []CandidateRecord, results []recordResult) BatchOutcome {
	bo := BatchOutcome{
		BatchIndex: index,
		Attempted:  len(batch),
		Failures:   []RecordFailure{},
	}
	for i, res := range results {
		row := batch[i].SourceRowIndex
		switch res.action {
		case actionCreated:
			o.Success++
			bo.SucceededCreate++
		case actionUpdated:
			o.Updated++
			bo.SucceededUpdate++
		case actionSkipped:
			o.skip(row, res.reason)
			bo.Skipped++
		case actionFailed:
			o.fail(row, res.reason)
			bo.Failures = append(bo.Failures, RecordFailure{SourceRowIndex: row, Reason: res.reason})
		}
	}
	return bo
}

func (o *ImportOutcome) skip(row int, reason string) {
	o.Skipped++
	o.SkipReasons = append(o.SkipReasons, RecordFailure{SourceRowIndex: row, Reason: reason})
}

func (o *ImportOutcome) fail(row int, reason string) {
	o.Errors = append(o.Errors, fmt.Sprintf("row %d: %s", row, reason))
	o.Failures = append(o.Failures, RecordFailure{SourceRowIndex: row, Reason: reason})
}

// SkipReasonsFor returns the skipped records with the given reason.
func (o ImportOutcome) SkipReasonsFor(reason string) []RecordFailure {
	var out []RecordFailure
	for _, s := range o.SkipReasons {
		if s.Reason == reason {
			out = append(out, s)
		}
	}
	return out
}

// Balanced reports whether the outcome invariant holds.
func (o ImportOutcome) Balanced() bool {
	return o.Success+o.Updated+o.Skipped+len(o.Errors) == o.Total
}
