package engine

import (
	"sync"

	"github.com/Nanguage/executor/pkg/job"
)

type view int

const (
	viewPending view = iota
	viewRunning
	viewDone
	viewTerminal // failed and cancelled
)

func viewFor(status job.Status) (view, bool) {
	switch status {
	case job.StatusPending:
		return viewPending, true
	case job.StatusRunning:
		return viewRunning, true
	case job.StatusDone:
		return viewDone, true
	case job.StatusFailed, job.StatusCancelled:
		return viewTerminal, true
	default:
		return 0, false
	}
}

// registry is the indexed collection of all known jobs, partitioned by
// lifecycle state. Status transitions and partition moves are atomic with
// respect to registry readers.
type registry struct {
	mu    sync.RWMutex
	jobs  map[string]*job.Job
	views map[view]map[string]*job.Job
}

func newRegistry() *registry {
	return &registry{
		jobs: make(map[string]*job.Job),
		views: map[view]map[string]*job.Job{
			viewPending:  make(map[string]*job.Job),
			viewRunning:  make(map[string]*job.Job),
			viewDone:     make(map[string]*job.Job),
			viewTerminal: make(map[string]*job.Job),
		},
	}
}

func (r *registry) add(j *job.Job, status job.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID()] = j
	if v, ok := viewFor(status); ok {
		r.views[v][j.ID()] = j
	}
}

func (r *registry) move(j *job.Job, from, to job.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.jobs[j.ID()]; !known {
		return
	}
	if v, ok := viewFor(from); ok {
		delete(r.views[v], j.ID())
	}
	if v, ok := viewFor(to); ok {
		r.views[v][j.ID()] = j
	}
}

func (r *registry) remove(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, j.ID())
	for _, m := range r.views {
		delete(m, j.ID())
	}
}

func (r *registry) get(id string) (*job.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

func (r *registry) contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jobs[id]
	return ok
}

func (r *registry) list() []*job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// inView returns the jobs currently in the given partitions.
func (r *registry) inView(views ...view) []*job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*job.Job
	for _, v := range views {
		for _, j := range r.views[v] {
			out = append(out, j)
		}
	}
	return out
}

func (r *registry) viewLen(v view) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views[v])
}

// counts tallies jobs per status. Job statuses are read outside the
// registry lock to keep the lock order job -> registry one-way.
func (r *registry) counts() map[job.Status]int {
	list := r.list()
	counts := make(map[job.Status]int, 6)
	for _, j := range list {
		counts[j.Status()]++
	}
	return counts
}
