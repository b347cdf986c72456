package job

import (
	"context"
	"fmt"

	"github.com/Nanguage/executor/internal/models"
	"github.com/Nanguage/executor/internal/resource"
	srvErrors "github.com/Nanguage/executor/pkg/errors"
)

// Backend is the capability contract an executor fulfills. The scheduler
// only depends on this surface: which extra ledger classes the backend
// consumes, how to run a job, and how to cancel and clean up an in-flight
// execution.
type Backend interface {
	Name() string
	// Classes lists the ledger classes consumed in addition to the
	// universal jobs_total slot.
	Classes() []resource.Class
	// Run executes the job and returns its eventual value. It must honor
	// ctx cancellation.
	Run(ctx context.Context, e Engine, j *Job) (any, error)
	// CancelRunning cancels an in-flight execution. It may be a no-op for
	// backends that cannot preempt.
	CancelRunning(e Engine, j *Job)
	// ClearContext releases backend-held state after cancel or completion.
	ClearContext(j *Job)
}

// localBackend runs the callable inline on the lifecycle task.
type localBackend struct{}

func (localBackend) Name() string { return "local" }

func (localBackend) Classes() []resource.Class { return nil }

func (localBackend) Run(ctx context.Context, _ Engine, j *Job) (res any, err error) {
	if j.fn == nil {
		return nil, srvErrors.NewInternalError("job %s has no callable", j.id)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("callable panicked: %v", rec)
		}
	}()
	args, kwargs := j.callArgs()
	return j.fn(ctx, args, kwargs)
}

func (localBackend) CancelRunning(Engine, *Job) {}

func (localBackend) ClearContext(*Job) {}

// goroutineBackend runs the callable on the engine's worker pool.
type goroutineBackend struct{}

func (goroutineBackend) Name() string { return "goroutine" }

func (goroutineBackend) Classes() []resource.Class {
	return []resource.Class{resource.Threads}
}

func (goroutineBackend) Run(ctx context.Context, e Engine, j *Job) (any, error) {
	if j.fn == nil {
		return nil, srvErrors.NewInternalError("job %s has no callable", j.id)
	}
	pool := e.Pool()
	if pool == nil {
		return nil, srvErrors.NewInvalidStateError("worker pool of job %s is not available", j.id)
	}
	args, kwargs := j.callArgs()
	future := pool.Submit(func(workCtx context.Context) (any, error) {
		return j.fn(workCtx, args, kwargs)
	})
	j.setHandle(future)

	select {
	case result := <-future.C():
		return result.Data, result.Err
	case <-ctx.Done():
		future.Stop()
		return nil, ctx.Err()
	}
}

func (goroutineBackend) CancelRunning(_ Engine, j *Job) {
	if future, ok := j.getHandle().(*models.PoolFuture[models.Result[any]]); ok {
		future.Stop()
	}
}

func (goroutineBackend) ClearContext(j *Job) {
	j.setHandle(nil)
}
