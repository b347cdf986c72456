package job

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Nanguage/executor/internal/resource"
	srvErrors "github.com/Nanguage/executor/pkg/errors"
)

// errStopResolve signals that an upstream dependency failed or was
// cancelled. It is caught inside the lifecycle task and never surfaced.
var errStopResolve = stderrors.New("stop resolving arguments")

func log() *zap.SugaredLogger {
	return zap.S().Named("job")
}

// BindForSubmit attaches the engine to a freshly created job and moves it
// to pending. The engine registers the job right after.
func (j *Job) BindForSubmit(e Engine) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusCreated {
		return srvErrors.NewInvalidStateError("job %s has already been submitted", j.id)
	}
	j.engine = e
	j.status = StatusPending
	return nil
}

// ResetForResubmit moves a terminal job back to pending and restores the
// retry budget. The registry is updated through the transition hook.
func (j *Job) ResetForResubmit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.IsTerminal() {
		return srvErrors.NewInvalidStateError("job %s is not in a terminal status", j.id)
	}
	j.retryRemain = j.retries
	j.stoppedAt = nil
	j.future.mu.Lock()
	j.future.state = resultUnset
	j.future.value = nil
	j.future.err = nil
	j.future.mu.Unlock()
	j.setStatusLocked(j.status, StatusPending)
	return nil
}

// Emit derives the dependency condition, stamps the submit time and spawns
// the lifecycle task. The job must be pending.
func (j *Job) Emit(e Engine) error {
	j.mu.Lock()
	if j.status != StatusPending {
		status := j.status
		j.mu.Unlock()
		return srvErrors.NewEmitError("job %s is %s, not pending", j.id, status)
	}
	if !j.derived {
		j.deriveDependenciesLocked()
		j.derived = true
	}
	now := time.Now()
	j.submittedAt = &now
	if j.expBackoff {
		b := backoff.NewExponentialBackOff()
		if j.retryDelay > 0 {
			b.InitialInterval = j.retryDelay
		}
		b.MaxInterval = 60 * time.Second
		j.retryBackoff = b
	}

	taskCtx, cancel := context.WithCancel(e.Context())
	j.cancelTask = cancel
	done := make(chan struct{})
	j.taskDone = done
	j.mu.Unlock()

	log().Infow("emit job, waiting for run", "job", j.id, "name", j.name)
	go j.waitAndRun(e, taskCtx, done)
	return nil
}

// deriveDependenciesLocked computes dep ids from future-typed arguments and
// conjoins the automatic AfterOthers with any explicit condition. Runs once
// per job, on first emission.
func (j *Job) deriveDependenciesLocked() {
	var depIDs []string
	for _, arg := range j.args {
		if f, ok := arg.(*Future); ok {
			depIDs = append(depIDs, f.JobID())
		}
	}
	for _, arg := range j.kwargs {
		if f, ok := arg.(*Future); ok {
			depIDs = append(depIDs, f.JobID())
		}
	}
	j.depJobIDs = depIDs
	if len(depIDs) == 0 {
		return
	}
	afterOthers := &AfterOthers{JobIDs: depIDs}
	if j.condition == nil {
		j.condition = afterOthers
	} else {
		j.condition = &AllSatisfied{Conditions: []Condition{j.condition, afterOthers}}
	}
}

// waitAndRun is the lifecycle task: poll runnability, resolve arguments,
// execute, complete or retry. It is cancellable at every suspension point.
func (j *Job) waitAndRun(e Engine, ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		if !e.TryAdmit(j) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(j.pollInterval):
			}
			continue
		}

		// slots are held from here until completion or cancellation
		if err := j.resolveArgs(e); err != nil {
			if stderrors.Is(err, errStopResolve) {
				j.cancelForUpstream(e)
			} else {
				j.failFatal(e, err)
			}
			return
		}
		if !j.toRunning() {
			// cancelled between admission and start
			j.mu.Lock()
			j.releaseSlotsLocked(e)
			j.mu.Unlock()
			return
		}

		log().Infow("start running job", "job", j.id, "name", j.name, "backend", j.backend.Name())
		res, err := j.backend.Run(ctx, e, j)
		j.backend.ClearContext(j)
		if err == nil {
			j.onDone(e, ctx, res)
			return
		}
		if !j.onFailed(e, ctx, err) {
			return
		}
	}
}

// Admit is called from the engine's admission loop. It checks the condition
// and consumes ledger slots all-or-nothing.
func (j *Job) Admit(e Engine) bool {
	j.mu.Lock()
	if j.status != StatusPending {
		j.mu.Unlock()
		return false
	}
	cond := j.condition
	j.mu.Unlock()

	if cond != nil && !cond.Satisfied(e) {
		return false
	}
	classes := j.ledgerClasses()
	if !e.Ledger().Acquire(classes...) {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		// cancelled while acquiring; hand the slots back
		e.Ledger().Release(classes...)
		return false
	}
	j.slotsHeld = true
	return true
}

func (j *Job) ledgerClasses() []resource.Class {
	return append([]resource.Class{resource.JobsTotal}, j.backend.Classes()...)
}

func (j *Job) releaseSlotsLocked(e Engine) {
	if !j.slotsHeld {
		return
	}
	j.slotsHeld = false
	e.Ledger().Release(j.ledgerClasses()...)
}

// resolveArgs substitutes every future-typed argument with the result of
// its upstream job. The dependency condition guarantees all upstreams are
// terminal by now; a failed or cancelled upstream stops resolution.
func (j *Job) resolveArgs(e Engine) error {
	j.mu.Lock()
	if len(j.depJobIDs) == 0 {
		j.mu.Unlock()
		return nil
	}
	args := make([]any, len(j.args))
	copy(args, j.args)
	kwargs := make(map[string]any, len(j.kwargs))
	for k, v := range j.kwargs {
		kwargs[k] = v
	}
	j.mu.Unlock()

	for i, arg := range args {
		resolved, err := j.resolveArg(e, arg)
		if err != nil {
			return err
		}
		args[i] = resolved
	}
	for k, v := range kwargs {
		resolved, err := j.resolveArg(e, v)
		if err != nil {
			return err
		}
		kwargs[k] = resolved
	}

	j.mu.Lock()
	j.args = args
	j.kwargs = kwargs
	j.mu.Unlock()
	return nil
}

func (j *Job) resolveArg(e Engine, arg any) (any, error) {
	f, ok := arg.(*Future)
	if !ok {
		return arg, nil
	}
	upstream, ok := e.Lookup(f.JobID())
	if !ok {
		return nil, srvErrors.NewInternalError("job %s depends on unknown job %s", j.id, f.JobID())
	}
	switch status := upstream.Status(); status {
	case StatusDone:
		return upstream.Result()
	case StatusFailed, StatusCancelled:
		log().Warnw("job cancelled because of upstream",
			"job", j.id, "upstream", upstream.ID(), "upstream_status", status)
		return nil, errStopResolve
	default:
		return nil, srvErrors.NewInternalError(
			"resolving non-terminal upstream %s (%s) for job %s", upstream.ID(), status, j.id)
	}
}

// cancelForUpstream propagates an upstream failure or cancellation: the job
// moves to cancelled without running and returns its slots.
func (j *Job) cancelForUpstream(e Engine) {
	j.mu.Lock()
	j.releaseSlotsLocked(e)
	j.setStatusLocked(j.status, StatusCancelled)
	cancel := j.cancelTask
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// failFatal settles the job in failed after an invariant violation. No
// retry is attempted.
func (j *Job) failFatal(e Engine, err error) {
	log().Errorw("job hit an internal error", "job", j.id, "error", err)
	j.future.setError(err)
	j.future.fireError(err)
	j.mu.Lock()
	j.releaseSlotsLocked(e)
	j.setStatusLocked(j.status, StatusFailed)
	j.mu.Unlock()
}

func (j *Job) toRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return false
	}
	return j.setStatusLocked(StatusPending, StatusRunning)
}

// onDone records the result, fires done-callbacks, releases slots and
// settles the job in done. Callbacks run before the status flips so a
// dependent resolving this job's future always observes the result after
// the callbacks completed.
func (j *Job) onDone(e Engine, ctx context.Context, res any) {
	if ctx.Err() != nil {
		// cancellation owns the terminal transition; no callbacks fire
		return
	}
	j.mu.Lock()
	if j.status != StatusRunning {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()

	j.future.setResult(res)
	j.future.fireDone(res)

	j.mu.Lock()
	if j.status != StatusRunning {
		// cancellation finalized the job between execution and completion
		j.mu.Unlock()
		return
	}
	j.releaseSlotsLocked(e)
	j.setStatusLocked(StatusRunning, StatusDone)
	j.mu.Unlock()
	log().Infow("job done", "job", j.id, "name", j.name)
}

// onFailed records the failure and fires error-callbacks. With retry budget
// left it moves the job back to pending, sleeps the retry delay and reports
// true so the lifecycle loop re-enters admission; otherwise the job settles
// in failed.
func (j *Job) onFailed(e Engine, ctx context.Context, cause error) bool {
	if ctx.Err() != nil {
		// the task was cancelled; Cancel finalizes status and slots
		return false
	}
	j.mu.Lock()
	if j.status != StatusRunning {
		// cancellation finalized the job already
		j.mu.Unlock()
		return false
	}
	j.mu.Unlock()

	wrapped := cause
	if !srvErrors.IsBackendError(cause) && !srvErrors.IsInternalError(cause) {
		wrapped = srvErrors.NewBackendError(cause)
	}
	log().Errorw("job failed", "job", j.id, "name", j.name, "error", cause)
	j.future.setError(wrapped)
	j.future.fireError(wrapped)

	j.mu.Lock()
	if j.status != StatusRunning {
		j.mu.Unlock()
		return false
	}
	j.releaseSlotsLocked(e)
	if j.retryRemain <= 0 || srvErrors.IsInternalError(cause) {
		j.setStatusLocked(StatusRunning, StatusFailed)
		j.mu.Unlock()
		return false
	}
	j.retryRemain--
	j.setStatusLocked(StatusRunning, StatusPending)
	now := time.Now()
	j.submittedAt = &now
	delay := j.retryDelay
	if j.retryBackoff != nil {
		delay = j.retryBackoff.NextBackOff()
	}
	remain := j.retryRemain
	j.mu.Unlock()

	log().Warnw("retrying job", "job", j.id, "name", j.name, "retry_remain", remain, "delay", delay)
	if delay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return true
}

// Cancel cooperatively cancels the job. Running jobs get their backend
// cancellation hook invoked; pending jobs flip straight to cancelled, even
// when the lifecycle task has not started yet. Terminal jobs are left
// untouched. The job is terminal and its slots are released when Cancel
// returns.
func (j *Job) Cancel(e Engine) {
	j.mu.Lock()
	switch j.status {
	case StatusRunning:
		cancel := j.cancelTask
		j.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		j.backend.CancelRunning(e, j)
		j.backend.ClearContext(j)
		j.mu.Lock()
		if j.status == StatusRunning {
			j.releaseSlotsLocked(e)
			j.setStatusLocked(StatusRunning, StatusCancelled)
		}
		j.mu.Unlock()
		log().Infow("cancelled running job", "job", j.id, "name", j.name)
	case StatusPending:
		cancel := j.cancelTask
		// slots may already be held between admission and the start of the run
		j.releaseSlotsLocked(e)
		j.setStatusLocked(StatusPending, StatusCancelled)
		j.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		log().Infow("cancelled pending job", "job", j.id, "name", j.name)
	default:
		j.mu.Unlock()
	}
}

// Wait blocks until the current lifecycle task finishes or ctx is done. It
// fails with an InvalidStateError if the job was never emitted.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	done := j.taskDone
	j.mu.Unlock()
	if done == nil {
		return srvErrors.NewInvalidStateError("job %s is not emitted", j.id)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskDone exposes the completion channel of the current lifecycle task,
// or nil before the first emission.
func (j *Job) TaskDone() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.taskDone == nil {
		return nil
	}
	return j.taskDone
}

// setStatusLocked performs a validated transition and notifies the engine.
// Callers hold j.mu. The from argument documents the expected source state;
// the actual current status is authoritative.
func (j *Job) setStatusLocked(from, to Status) bool {
	actual := j.status
	if actual == to {
		return true
	}
	if !validTransition(actual, to) {
		log().Errorw("illegal status transition dropped",
			"job", j.id, "from", actual, "to", to, "expected_from", from)
		return false
	}
	j.status = to
	if to.IsTerminal() {
		now := time.Now()
		j.stoppedAt = &now
	}
	if j.engine != nil {
		j.engine.StatusChanged(j, actual, to, j.recordLocked())
	}
	return true
}
