package job_test

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/Nanguage/executor/internal/config"
	"github.com/Nanguage/executor/internal/resource"
	"github.com/Nanguage/executor/internal/workers"
	"github.com/Nanguage/executor/pkg/job"
)

// fakeEngine satisfies job.Engine for condition tests without spinning up a
// real scheduler.
type fakeEngine struct {
	jobs   map[string]*job.Job
	counts map[job.Status]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		jobs:   map[string]*job.Job{},
		counts: map[job.Status]int{},
	}
}

func (f *fakeEngine) Context() context.Context      { return context.Background() }
func (f *fakeEngine) Config() *config.Configuration { return config.Default() }
func (f *fakeEngine) Ledger() *resource.Ledger      { return resource.NewLedger(nil) }
func (f *fakeEngine) Counts() map[job.Status]int    { return f.counts }
func (f *fakeEngine) TryAdmit(j *job.Job) bool      { return false }
func (f *fakeEngine) Pool() *workers.Pool           { return nil }
func (f *fakeEngine) CacheDir() string              { return "" }
func (f *fakeEngine) ClusterClient() (client.Client, error) {
	return nil, fmt.Errorf("no cluster in tests")
}

func (f *fakeEngine) Lookup(id string) (*job.Job, bool) {
	j, ok := f.jobs[id]
	return j, ok
}

func (f *fakeEngine) StatusChanged(j *job.Job, from, to job.Status, rec *job.Record) {}

// boolCondition is a fixed predicate for composite tests.
type boolCondition bool

func (c boolCondition) Satisfied(e job.Engine) bool { return bool(c) }
