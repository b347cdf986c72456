package job

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/Nanguage/executor/internal/config"
	"github.com/Nanguage/executor/internal/resource"
	"github.com/Nanguage/executor/internal/workers"
)

// Engine is the scheduler-side surface a job (and its conditions) can see.
// pkg/engine provides the implementation; conditions may use Lookup and
// Counts to inspect engine state.
type Engine interface {
	// Context is the root context lifecycle tasks derive from.
	Context() context.Context
	// Config returns the engine settings.
	Config() *config.Configuration
	// Ledger returns the admission slot ledger.
	Ledger() *resource.Ledger
	// Lookup returns a registered job by id.
	Lookup(id string) (*Job, bool)
	// Counts returns the number of registered jobs per status.
	Counts() map[Status]int
	// TryAdmit runs the admission check (condition plus slot acquisition)
	// for a pending job. Admission decisions are serialized by the engine
	// loop; at most one of two competitors gets the last slot.
	TryAdmit(j *Job) bool
	// Pool is the worker pool backing the goroutine backend.
	Pool() *workers.Pool
	// ClusterClient lazily dials and returns the cluster workflow client.
	ClusterClient() (client.Client, error)
	// CacheDir is the engine scratch root; per-job directories live below.
	CacheDir() string
	// StatusChanged is invoked on every status transition so the registry
	// partitions and the job-record store stay in step.
	StatusChanged(j *Job, from, to Status, rec *Record)
}

// Record is the persistable snapshot handed to the engine on every
// transition.
type Record struct {
	ID          string
	Name        string
	Backend     string
	Status      string
	Retries     int
	RetryRemain int
	CreatedAt   time.Time
	SubmittedAt *time.Time
	StoppedAt   *time.Time
}
