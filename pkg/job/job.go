package job

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Func is the callable a job executes. Arguments are the job's positional
// and named values with every upstream future already resolved to its
// result.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

const defaultPollInterval = 10 * time.Millisecond

// Job is a deferred unit of work with policy and lifecycle. Construct one
// with NewLocalJob, NewGoroutineJob, NewProcessJob or NewClusterJob, then
// hand it to an engine.
type Job struct {
	id      string
	fn      Func
	backend Backend

	name         string
	retries      int
	retryDelay   time.Duration
	expBackoff   bool
	pollInterval time.Duration
	command      []string // process backend argv
	workflow     string   // cluster backend workflow type

	future *Future

	mu           sync.Mutex
	status       Status
	engine       Engine
	condition    Condition
	args         []any
	kwargs       map[string]any
	depJobIDs    []string
	derived      bool
	retryRemain  int
	retryBackoff backoff.BackOff
	createdAt    time.Time
	submittedAt  *time.Time
	stoppedAt    *time.Time
	cancelTask   context.CancelFunc
	taskDone     chan struct{}
	handle       any
	slotsHeld    bool
	scratchOnce  sync.Once
	scratchDir   string
}

// Option configures a job at construction time.
type Option func(*Job)

// WithName overrides the display name derived from the callable.
func WithName(name string) Option {
	return func(j *Job) { j.name = name }
}

// WithArgs sets the positional arguments. Elements may be literals or
// futures of other jobs.
func WithArgs(args ...any) Option {
	return func(j *Job) { j.args = args }
}

// WithKwargs sets the named arguments. Values may be literals or futures.
func WithKwargs(kwargs map[string]any) Option {
	return func(j *Job) { j.kwargs = kwargs }
}

// WithCallback appends a done-callback to the job's future.
func WithCallback(fn func(any)) Option {
	return func(j *Job) { j.future.AddDoneCallback(fn) }
}

// WithErrorCallback appends an error-callback to the job's future.
func WithErrorCallback(fn func(error)) Option {
	return func(j *Job) { j.future.AddErrorCallback(fn) }
}

// WithRetries sets how many times a failing job is re-run before it settles
// in failed.
func WithRetries(n int) Option {
	return func(j *Job) {
		if n < 0 {
			n = 0
		}
		j.retries = n
		j.retryRemain = n
	}
}

// WithRetryDelay sets the pause between retry attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(j *Job) {
		if d < 0 {
			d = 0
		}
		j.retryDelay = d
	}
}

// WithExponentialRetry grows the retry pause exponentially from the retry
// delay instead of keeping it constant.
func WithExponentialRetry() Option {
	return func(j *Job) { j.expBackoff = true }
}

// WithCondition attaches an explicit admission predicate. Future-typed
// arguments still contribute an automatic dependency condition conjoined
// with this one.
func WithCondition(c Condition) Option {
	return func(j *Job) { j.condition = c }
}

// WithPollInterval sets the minimum delay between runnability re-checks.
func WithPollInterval(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.pollInterval = d
		}
	}
}

func newJob(b Backend, fn Func, opts ...Option) *Job {
	id := uuid.New().String()
	j := &Job{
		id:           id,
		fn:           fn,
		backend:      b,
		future:       newFuture(id),
		status:       StatusCreated,
		pollInterval: defaultPollInterval,
		createdAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.name == "" {
		j.name = callableName(fn)
	}
	return j
}

// NewLocalJob runs fn inline on the lifecycle task.
func NewLocalJob(fn Func, opts ...Option) *Job {
	return newJob(localBackend{}, fn, opts...)
}

// NewGoroutineJob runs fn on the engine's worker pool. It consumes a
// threads slot in addition to jobs_total.
func NewGoroutineJob(fn Func, opts ...Option) *Job {
	return newJob(goroutineBackend{}, fn, opts...)
}

// NewProcessJob runs argv as a subprocess. Resolved positional arguments
// are appended to argv as strings; the job result is the captured stdout.
// It consumes a processes slot in addition to jobs_total.
func NewProcessJob(argv []string, opts ...Option) *Job {
	j := newJob(processBackend{}, nil, opts...)
	j.command = argv
	if j.name == callableName(nil) && len(argv) > 0 {
		j.name = filepath.Base(argv[0])
	}
	return j
}

// NewClusterJob submits workflowType to the cluster client with the job's
// positional arguments. It consumes a cluster slot in addition to
// jobs_total.
func NewClusterJob(workflowType string, opts ...Option) *Job {
	j := newJob(clusterBackend{}, nil, opts...)
	j.workflow = workflowType
	if j.name == callableName(nil) {
		j.name = workflowType
	}
	return j
}

func callableName(fn Func) string {
	if fn == nil {
		return "job"
	}
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ID returns the stable opaque job id.
func (j *Job) ID() string { return j.id }

// Name returns the display name.
func (j *Job) Name() string { return j.name }

// Backend returns the backend executing this job.
func (j *Job) Backend() Backend { return j.backend }

// Future returns the observable outcome handle.
func (j *Job) Future() *Future { return j.future }

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Condition returns the admission predicate, including the auto-derived
// dependency condition once the job has been emitted.
func (j *Job) Condition() Condition {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.condition
}

// DepJobIDs returns the ids of the jobs this one draws arguments from.
// Empty until first emission.
func (j *Job) DepJobIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.depJobIDs))
	copy(out, j.depJobIDs)
	return out
}

// Retries returns the configured retry budget.
func (j *Job) Retries() int { return j.retries }

// RetryRemain returns the remaining retry attempts of the current submit.
func (j *Job) RetryRemain() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.retryRemain
}

// CreatedAt returns the construction time.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// SubmittedAt returns the last emission time, or nil before the first one.
func (j *Job) SubmittedAt() *time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.submittedAt
}

// StoppedAt returns the time the job last reached a terminal state.
func (j *Job) StoppedAt() *time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stoppedAt
}

// Result returns the job outcome. It fails with an InvalidStateError while
// the job is not done.
func (j *Job) Result() (any, error) {
	return j.future.Result()
}

// Err returns the stored failure, or nil.
func (j *Job) Err() error {
	return j.future.Err()
}

// ScratchDir returns the per-job scratch directory below the engine cache
// root, creating it on first access.
func (j *Job) ScratchDir(e Engine) (string, error) {
	var err error
	j.scratchOnce.Do(func() {
		dir := filepath.Join(e.CacheDir(), j.id)
		err = os.MkdirAll(dir, 0o755)
		if err == nil {
			j.scratchDir = dir
		}
	})
	if err != nil {
		return "", err
	}
	return j.scratchDir, nil
}

func (j *Job) callArgs() ([]any, map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	args := make([]any, len(j.args))
	copy(args, j.args)
	var kwargs map[string]any
	if j.kwargs != nil {
		kwargs = make(map[string]any, len(j.kwargs))
		for k, v := range j.kwargs {
			kwargs[k] = v
		}
	}
	return args, kwargs
}

func (j *Job) setHandle(h any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.handle = h
}

func (j *Job) getHandle() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.handle
}

func (j *Job) recordLocked() *Record {
	return &Record{
		ID:          j.id,
		Name:        j.name,
		Backend:     j.backend.Name(),
		Status:      string(j.status),
		Retries:     j.retries,
		RetryRemain: j.retryRemain,
		CreatedAt:   j.createdAt,
		SubmittedAt: j.submittedAt,
		StoppedAt:   j.stoppedAt,
	}
}
