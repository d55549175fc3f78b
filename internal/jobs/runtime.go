package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runtime drives the registry with a wall clock. One Runtime is the single
// scheduling authority for a deployment; it is constructed and owned
// explicitly by the hosting process.
type Runtime struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	loopCancel context.CancelFunc
	jobCancel  context.CancelFunc
	done       chan struct{}
}

// NewRuntime creates a runtime ticking the registry every interval.
func NewRuntime(registry *Registry, interval time.Duration, logger *zap.Logger) *Runtime {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runtime{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Registry exposes the job registry for upserts and cancels.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Start begins ticking. Calling Start on a running runtime is a no-op.
func (rt *Runtime) Start(ctx context.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.loopCancel != nil {
		return
	}

	// Callbacks get a context independent of the tick loop so that shutdown
	// can stop new fires while letting in-flight work drain.
	loopCtx, loopCancel := context.WithCancel(ctx)
	jobCtx, jobCancel := context.WithCancel(ctx)
	rt.loopCancel = loopCancel
	rt.jobCancel = jobCancel
	rt.done = make(chan struct{})

	go rt.loop(loopCtx, jobCtx)

	rt.logger.Info("scheduler runtime started",
		zap.Duration("tick_interval", rt.interval),
	)
}

func (rt *Runtime) loop(loopCtx, jobCtx context.Context) {
	defer close(rt.done)

	ticker := time.NewTicker(rt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case now := <-ticker.C:
			rt.registry.Tick(jobCtx, now)
		}
	}
}

// Shutdown stops ticking and waits for in-flight callbacks to finish,
// bounded by ctx. Callbacks that outlive the bound are cancelled.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	loopCancel := rt.loopCancel
	jobCancel := rt.jobCancel
	done := rt.done
	rt.loopCancel = nil
	rt.jobCancel = nil
	rt.mu.Unlock()

	if loopCancel == nil {
		return nil
	}
	loopCancel()
	<-done

	err := rt.registry.Wait(ctx)
	jobCancel()
	if err != nil {
		rt.logger.Warn("shutdown timed out waiting for jobs", zap.Error(err))
		return err
	}

	rt.logger.Info("scheduler runtime stopped")
	return nil
}
