package job

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// The engine binding and the live lifecycle task never cross a process
// boundary. Neither do the explicit condition, the future's callbacks or its
// stored outcome: a deserialized job has no explicit condition and a fresh
// future, and derives its dependency condition again from its future
// arguments on first emission. Callables are rebound by name via the
// package func registry, so jobs whose callable was registered with
// RegisterFunc deserialize ready to run.

var (
	funcsMu sync.RWMutex
	funcs   = map[string]Func{}
)

// RegisterFunc makes fn available to deserialized jobs under name.
func RegisterFunc(name string, fn Func) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	funcs[name] = fn
}

func registeredFunc(name string) Func {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	return funcs[name]
}

const (
	argKindValue  = "value"
	argKindFuture = "future"
)

type argSnapshot struct {
	Kind  string `json:"kind"`
	JobID string `json:"job_id,omitempty"`
	Value any    `json:"value,omitempty"`
}

type snapshot struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Backend      string                 `json:"backend"`
	Status       Status                 `json:"status"`
	Retries      int                    `json:"retries"`
	RetryRemain  int                    `json:"retry_remain"`
	RetryDelay   time.Duration          `json:"retry_delay"`
	ExpBackoff   bool                   `json:"exp_backoff,omitempty"`
	PollInterval time.Duration          `json:"poll_interval"`
	Args         []argSnapshot          `json:"args,omitempty"`
	Kwargs       map[string]argSnapshot `json:"kwargs,omitempty"`
	DepJobIDs    []string               `json:"dep_job_ids,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	SubmittedAt  *time.Time             `json:"submitted_at,omitempty"`
	StoppedAt    *time.Time             `json:"stopped_at,omitempty"`
	Command      []string               `json:"command,omitempty"`
	Workflow     string                 `json:"workflow,omitempty"`
}

func snapshotArg(arg any) argSnapshot {
	if f, ok := arg.(*Future); ok {
		return argSnapshot{Kind: argKindFuture, JobID: f.JobID()}
	}
	return argSnapshot{Kind: argKindValue, Value: arg}
}

func restoreArg(s argSnapshot) any {
	if s.Kind == argKindFuture {
		return NewFutureRef(s.JobID)
	}
	return s.Value
}

// Serialize encodes the job to bytes, excluding the engine binding and the
// live task handle.
func (j *Job) Serialize() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := snapshot{
		ID:           j.id,
		Name:         j.name,
		Backend:      j.backend.Name(),
		Status:       j.status,
		Retries:      j.retries,
		RetryRemain:  j.retryRemain,
		RetryDelay:   j.retryDelay,
		ExpBackoff:   j.expBackoff,
		PollInterval: j.pollInterval,
		DepJobIDs:    j.depJobIDs,
		CreatedAt:    j.createdAt,
		SubmittedAt:  j.submittedAt,
		StoppedAt:    j.stoppedAt,
		Command:      j.command,
		Workflow:     j.workflow,
	}
	for _, arg := range j.args {
		s.Args = append(s.Args, snapshotArg(arg))
	}
	if len(j.kwargs) > 0 {
		s.Kwargs = make(map[string]argSnapshot, len(j.kwargs))
		for k, v := range j.kwargs {
			s.Kwargs[k] = snapshotArg(v)
		}
	}
	return json.Marshal(s)
}

// Deserialize rebuilds a job from Serialize output. The callable is looked
// up in the func registry by job name; jobs whose callable is not
// registered come back without one and need SetFunc before submission.
func Deserialize(data []byte) (*Job, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}

	backend, err := backendByName(s.Backend)
	if err != nil {
		return nil, err
	}

	j := &Job{
		id:           s.ID,
		name:         s.Name,
		fn:           registeredFunc(s.Name),
		backend:      backend,
		retries:      s.Retries,
		retryRemain:  s.RetryRemain,
		retryDelay:   s.RetryDelay,
		expBackoff:   s.ExpBackoff,
		pollInterval: s.PollInterval,
		future:       newFuture(s.ID),
		status:       s.Status,
		depJobIDs:    s.DepJobIDs,
		createdAt:    s.CreatedAt,
		submittedAt:  s.SubmittedAt,
		stoppedAt:    s.StoppedAt,
		command:      s.Command,
		workflow:     s.Workflow,
	}
	if j.pollInterval <= 0 {
		j.pollInterval = defaultPollInterval
	}
	for _, arg := range s.Args {
		j.args = append(j.args, restoreArg(arg))
	}
	if len(s.Kwargs) > 0 {
		j.kwargs = make(map[string]any, len(s.Kwargs))
		for k, v := range s.Kwargs {
			j.kwargs[k] = restoreArg(v)
		}
	}
	return j, nil
}

// SetFunc attaches a callable to a deserialized job.
func (j *Job) SetFunc(fn Func) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fn = fn
}

func backendByName(name string) (Backend, error) {
	switch name {
	case "local":
		return localBackend{}, nil
	case "goroutine":
		return goroutineBackend{}, nil
	case "process":
		return processBackend{}, nil
	case "cluster":
		return clusterBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
}
