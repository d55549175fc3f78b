// Package jobs owns the recurring-job registry and the tick loop that
// drives it. Jobs are keyed by stable identity strings; the registry
// serializes execution per key while letting distinct jobs run in parallel.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/metrics"
	"github.com/daybreakhq/daybreak/internal/trigger"
)

// Func is a job callback. It receives a context bounded by the registry's
// per-job timeout; a returned error is logged and isolated, never fatal.
type Func func(ctx context.Context) error

var errNilCallback = errors.New("job callback must not be nil")

type entry struct {
	key  string
	spec trigger.Spec
	fn   Func
	next time.Time
}

// Registry holds the live job set. Job state is in-memory only; on process
// restart per-user jobs are re-derived from the preference store by the
// rescheduling sweep.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	// inFlight is keyed by job identity, not entry, so replacing a job
	// mid-invocation still serializes the key: the replacement cannot
	// fire until the prior invocation finishes.
	inFlight map[string]struct{}

	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	nowFn func() time.Time
}

// NewRegistry creates an empty registry. timeout bounds each callback
// invocation; zero means no deadline.
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		inFlight: make(map[string]struct{}),
		logger:   logger,
		timeout:  timeout,
		nowFn:    time.Now,
	}
}

// tryStart marks key in flight. Returns false while a prior invocation
// of the same key is still running.
func (r *Registry) tryStart(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.inFlight[key]; running {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Registry) finish(key string) {
	r.mu.Lock()
	delete(r.inFlight, key)
	r.mu.Unlock()
}

// Upsert registers fn under key, replacing any existing job atomically.
// Re-registering an unchanged schedule is idempotent: one live job per key.
func (r *Registry) Upsert(key string, spec trigger.Spec, fn Func) error {
	if fn == nil {
		return fmt.Errorf("upsert %q: %w", key, errNilCallback)
	}

	now := r.nowFn().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[key] = &entry{
		key:  key,
		spec: spec,
		fn:   fn,
		next: spec.Next(now),
	}
	metrics.SetRegistrySize(len(r.entries))

	r.logger.Debug("job registered",
		zap.String("job", key),
		zap.String("spec", spec.String()),
	)

	return nil
}

// Cancel removes the job under key. Cancelling an unknown key is a no-op;
// an in-flight invocation is not interrupted, it just never fires again.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	metrics.SetRegistrySize(len(r.entries))

	r.logger.Debug("job cancelled", zap.String("job", key))
	return true
}

// Size returns the number of live jobs.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// KeysWithSuffix returns the keys of live jobs ending in suffix. Per-user
// job keys embed the user id as their suffix, so this is how a reschedule
// finds a user's stale jobs.
func (r *Registry) KeysWithSuffix(suffix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for key := range r.entries {
		if strings.HasSuffix(key, suffix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// NextFire returns the next fire time for key, for inspection.
func (r *Registry) NextFire(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Tick fires every job due at now. Callbacks run on their own goroutines;
// the tick itself only identifies due jobs and hands them off. Next-fire
// times advance from now, not from the previous target, so a paused
// process does not replay a backlog on resume.
func (r *Registry) Tick(ctx context.Context, now time.Time) {
	now = now.UTC()

	r.mu.Lock()
	var due []*entry
	for _, e := range r.entries {
		if !e.next.After(now) {
			due = append(due, e)
			e.next = e.spec.Next(now)
		}
	}
	r.mu.Unlock()

	for _, e := range due {
		if !r.tryStart(e.key) {
			r.logger.Warn("job still running, skipping this fire",
				zap.String("job", e.key),
			)
			metrics.RecordJobRun(e.key, "skipped")
			continue
		}

		r.wg.Add(1)
		go r.invoke(ctx, e)
	}
}

func (r *Registry) invoke(ctx context.Context, e *entry) {
	defer r.wg.Done()
	defer r.finish(e.key)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := r.nowFn()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordJobRun(e.key, "panic")
			r.logger.Error("job panicked",
				zap.String("job", e.key),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := e.fn(runCtx); err != nil {
		metrics.RecordJobRun(e.key, "error")
		r.logger.Error("job failed",
			zap.String("job", e.key),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	metrics.RecordJobRun(e.key, "ok")
	r.logger.Debug("job completed",
		zap.String("job", e.key),
		zap.Duration("duration", time.Since(start)),
	)
}

// Wait blocks until all in-flight callbacks finish or ctx expires.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err())
	}
}
