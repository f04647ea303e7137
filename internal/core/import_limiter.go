package core

// import_limiter.go bounds how many reconciliation runs write to the store at
// once. A run that cannot get a slot within maxWait fails with
// ErrTooManyImports; a zero maxWait fails at once. WaitForDrain supports
// graceful shutdown.

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTooManyImports is returned when every import slot stays busy past maxWait.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ImportLimiter controls concurrent reconciliation runs with a semaphore.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.Mutex
	active map[string]time.Time // import ID -> slot acquired at
	idle   chan struct{}        // closed while no import is active
}

// NewImportLimiter creates a limiter allowing maxConcurrent simultaneous imports.
// A negative maxWait selects DefaultMaxWaitTime.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait < 0 {
		maxWait = DefaultMaxWaitTime
	}

	idle := make(chan struct{})
	close(idle)

	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		active:    make(map[string]time.Time),
		idle:      idle,
	}
}

// Acquire takes a slot for importID, waiting up to maxWait.
// The caller must call Release(importID) when the run finishes.
func (l *ImportLimiter) Acquire(ctx context.Context, importID string) error {
	if l.maxWait == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.TryAcquire(importID) {
			return ErrTooManyImports
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.track(importID)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// TryAcquire takes a slot without blocking.
func (l *ImportLimiter) TryAcquire(importID string) bool {
	select {
	case l.semaphore <- struct{}{}:
		l.track(importID)
		return true
	default:
		return false
	}
}

func (l *ImportLimiter) track(importID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.active) == 0 {
		l.idle = make(chan struct{})
	}
	l.active[importID] = time.Now()
}

// Release frees the slot held by importID. Unknown IDs are ignored.
func (l *ImportLimiter) Release(importID string) {
	l.mu.Lock()
	if _, ok := l.active[importID]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.active, importID)
	if len(l.active) == 0 {
		close(l.idle)
	}
	l.mu.Unlock()

	<-l.semaphore
}

// Available returns the number of free slots.
func (l *ImportLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no import is active or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ImportLimiterStatus is a snapshot of the limiter for monitoring.
type ImportLimiterStatus struct {
	Active        int      `json:"active"`
	Available     int      `json:"available"`
	MaxConcurrent int      `json:"maxConcurrent"`
	ImportIDs     []string `json:"importIds"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	l.mu.Lock()
	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sort.Strings(ids)

	return ImportLimiterStatus{
		Active:        len(ids),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
		ImportIDs:     ids,
	}
}
