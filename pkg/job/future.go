package job

import (
	"sync"

	"go.uber.org/zap"

	srvErrors "github.com/Nanguage/executor/pkg/errors"
)

type resultState int

const (
	resultUnset resultState = iota
	resultValue
	resultError
)

// Future is the observable outcome of a job. It carries the owning job id,
// the eventual value or error, and ordered callback lists. Futures may be
// passed as arguments to other jobs; the scheduler resolves them to the
// upstream result before the downstream job runs.
type Future struct {
	jobID string

	mu             sync.Mutex
	state          resultState
	value          any
	err            error
	doneCallbacks  []func(any)
	errorCallbacks []func(error)
}

func newFuture(jobID string) *Future {
	return &Future{jobID: jobID}
}

// NewFutureRef builds a bare future reference to a job id, e.g. when
// rebuilding a deserialized job whose arguments point at other jobs.
func NewFutureRef(jobID string) *Future {
	return newFuture(jobID)
}

// JobID returns the id of the owning job.
func (f *Future) JobID() string {
	return f.jobID
}

// Result returns the stored value. It fails with an InvalidStateError while
// the owning job is not done.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != resultValue {
		return nil, srvErrors.NewInvalidStateError("job %s is not done", f.jobID)
	}
	return f.value, nil
}

// Err returns the stored error, or nil if the job has not failed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != resultError {
		return nil
	}
	return f.err
}

// AddDoneCallback appends fn to the done-callback list. Callbacks fire in
// insertion order on the goroutine performing the transition.
func (f *Future) AddDoneCallback(fn func(any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doneCallbacks = append(f.doneCallbacks, fn)
}

// AddErrorCallback appends fn to the error-callback list.
func (f *Future) AddErrorCallback(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorCallbacks = append(f.errorCallbacks, fn)
}

func (f *Future) setResult(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = resultValue
	f.value = v
	f.err = nil
}

func (f *Future) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = resultError
	f.err = err
}

func (f *Future) fireDone(v any) {
	f.mu.Lock()
	callbacks := make([]func(any), len(f.doneCallbacks))
	copy(callbacks, f.doneCallbacks)
	f.mu.Unlock()

	for _, fn := range callbacks {
		runCallback(f.jobID, func() { fn(v) })
	}
}

func (f *Future) fireError(err error) {
	f.mu.Lock()
	callbacks := make([]func(error), len(f.errorCallbacks))
	copy(callbacks, f.errorCallbacks)
	f.mu.Unlock()

	for _, fn := range callbacks {
		runCallback(f.jobID, func() { fn(err) })
	}
}

// runCallback isolates callback panics: a broken callback is logged and must
// not disturb the lifecycle or the remaining callbacks.
func runCallback(jobID string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.S().Named("job").Errorw("callback panicked", "job", jobID, "panic", rec)
		}
	}()
	fn()
}
