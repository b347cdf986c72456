package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Nanguage/executor/internal/config"
	"github.com/Nanguage/executor/internal/resource"
	"github.com/Nanguage/executor/internal/store"
	"github.com/Nanguage/executor/internal/store/migrations"
	"github.com/Nanguage/executor/internal/workers"
	srvErrors "github.com/Nanguage/executor/pkg/errors"
	"github.com/Nanguage/executor/pkg/job"
)

const defaultWaitPoll = 200 * time.Millisecond

type admitRequest struct {
	job   *job.Job
	reply chan bool
}

// Engine owns the job registry, the resource ledger and the admission loop.
// It is a scoped resource: pair Start with Stop, or use With.
type Engine struct {
	id       string
	cfg      *config.Configuration
	cacheDir string

	ledger   *resource.Ledger
	registry *registry

	mu          sync.Mutex
	running     bool
	pool        *workers.Pool
	store       *store.Store
	cluster     client.Client
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	admit       chan admitRequest
	stop        chan struct{}
	loopDone    chan struct{}
	records     chan *store.JobRecord
	persistDone chan struct{}
}

// New builds an engine from cfg. A nil cfg uses the defaults.
func New(cfg *config.Configuration) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	id := uuid.New().String()
	cacheDir := cfg.CachePath
	if cacheDir == "" {
		cacheDir = filepath.Join(".executor", id)
	}
	return &Engine{
		id:       id,
		cfg:      cfg,
		cacheDir: cacheDir,
		ledger: resource.NewLedger(map[resource.Class]int{
			resource.JobsTotal: cfg.MaxJobs,
			resource.Threads:   cfg.MaxThreads,
			resource.Processes: cfg.MaxProcesses,
			resource.Cluster:   cfg.MaxClusterJobs,
		}),
		registry: newRegistry(),
	}
}

// With runs fn against a started engine and guarantees Stop on every exit
// path.
func With(cfg *config.Configuration, fn func(*Engine) error) error {
	e := New(cfg)
	if err := e.Start(); err != nil {
		return err
	}
	defer e.Stop()
	return fn(e)
}

// ID returns the engine id.
func (e *Engine) ID() string { return e.id }

// Start launches the admission and persistence loops and opens the
// job-record store. Calling Start on a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		zap.S().Named("engine").Warnw("engine is already running", "engine", e.id)
		return nil
	}

	zap.S().Named("engine").Infow("starting engine", "engine", e.id, "setting", e.cfg.DebugMap())
	e.store = e.openStore()
	e.pool = workers.NewPool(e.poolSize())
	e.rootCtx, e.rootCancel = context.WithCancel(context.Background())
	e.admit = make(chan admitRequest)
	e.stop = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.records = make(chan *store.JobRecord, 256)
	e.persistDone = make(chan struct{})

	go e.run(e.admit, e.stop, e.loopDone)
	go e.persistLoop(e.rootCtx, e.records, e.persistDone)
	e.running = true
	return nil
}

// Stop terminates the loops, cancels every live lifecycle task and releases
// the backend clients. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		zap.S().Named("engine").Warnw("engine is not running", "engine", e.id)
		return
	}
	e.running = false
	stop, loopDone, persistDone := e.stop, e.loopDone, e.persistDone
	rootCancel := e.rootCancel
	pool, cluster, st := e.pool, e.cluster, e.store
	e.pool, e.cluster, e.store = nil, nil, nil
	e.mu.Unlock()

	close(stop)
	<-loopDone
	rootCancel()
	<-persistDone
	pool.Close()
	if cluster != nil {
		cluster.Close()
	}
	if st != nil {
		if err := st.Close(); err != nil {
			zap.S().Named("engine").Warnw("failed to close job store", "engine", e.id, "error", err)
		}
	}
	zap.S().Named("engine").Infow("engine stopped", "engine", e.id)
}

// openStore opens the job-record database under <cache>/jobs. Persistence
// is informational: failures degrade to an engine without records.
func (e *Engine) openStore() *store.Store {
	log := zap.S().Named("engine")
	jobsDir := filepath.Join(e.cacheDir, "jobs")
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		log.Warnw("cannot create job store directory, records disabled", "dir", jobsDir, "error", err)
		return nil
	}
	db, err := store.NewDB(filepath.Join(jobsDir, "jobs.db"))
	if err != nil {
		log.Warnw("cannot open job store, records disabled", "error", err)
		return nil
	}
	if err := migrations.Run(context.Background(), db); err != nil {
		log.Warnw("cannot migrate job store, records disabled", "error", err)
		db.Close()
		return nil
	}
	return store.NewStore(db)
}

func (e *Engine) poolSize() int {
	if e.cfg.PoolWorkers > 0 {
		return e.cfg.PoolWorkers
	}
	if e.cfg.MaxThreads > 0 {
		return e.cfg.MaxThreads
	}
	size := runtime.NumCPU() + 4
	if size > 32 {
		size = 32
	}
	return size
}

// run serializes admission decisions: at most one job at a time evaluates
// its condition and consumes ledger slots.
func (e *Engine) run(admit chan admitRequest, stop chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case req := <-admit:
			req.reply <- req.job.Admit(e)
		case <-stop:
			return
		}
	}
}

func (e *Engine) persistLoop(ctx context.Context, records chan *store.JobRecord, done chan struct{}) {
	defer close(done)
	for {
		select {
		case rec := <-records:
			e.persist(rec)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) persist(rec *store.JobRecord) {
	e.mu.Lock()
	s := e.store
	e.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Jobs().Upsert(context.Background(), rec); err != nil {
		zap.S().Named("engine").Warnw("failed to persist job record", "job", rec.ID, "error", err)
	}
}

// Submit admits the job: new jobs are bound and registered, terminal jobs
// are reset to pending, and a lifecycle task is emitted. The returned
// future resolves to the job's value or error.
func (e *Engine) Submit(j *job.Job) (*job.Future, error) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return nil, srvErrors.NewInvalidStateError("engine %s is not started", e.id)
	}

	switch status := j.Status(); {
	case status == job.StatusCreated:
		if err := j.BindForSubmit(e); err != nil {
			return nil, err
		}
		e.registry.add(j, job.StatusPending)
		e.StatusChanged(j, job.StatusCreated, job.StatusPending, snapshotRecord(j))
	case status.IsTerminal():
		if !e.registry.contains(j.ID()) {
			return nil, srvErrors.NewInvalidStateError("job %s is not registered with engine %s", j.ID(), e.id)
		}
		if err := j.ResetForResubmit(); err != nil {
			return nil, err
		}
	default:
		return nil, srvErrors.NewEmitError("job %s is %s, not submittable", j.ID(), status)
	}

	if err := j.Emit(e); err != nil {
		return nil, err
	}
	return j.Future(), nil
}

// Cancel cooperatively cancels the job; idempotent on terminal jobs. The
// job is terminal and its slots are released when Cancel returns.
func (e *Engine) Cancel(j *job.Job) {
	j.Cancel(e)
}

// CancelAll cancels every pending and running job and returns once all of
// them reached a terminal state.
func (e *Engine) CancelAll() {
	live := e.registry.inView(viewPending, viewRunning)
	g := new(errgroup.Group)
	for _, j := range live {
		g.Go(func() error {
			j.Cancel(e)
			return nil
		})
	}
	_ = g.Wait()
}

// WaitJob blocks until the job is terminal or the timeout elapses. A zero
// timeout waits indefinitely. The timeout observes; it never cancels.
func (e *Engine) WaitJob(j *job.Job, timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return j.Wait(ctx)
}

// Wait blocks until no running jobs remain or the timeout elapses, polling
// at the given interval. Zero timeout waits indefinitely; non-positive poll
// uses the default.
func (e *Engine) Wait(timeout, poll time.Duration) {
	if poll <= 0 {
		poll = defaultWaitPoll
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if e.registry.viewLen(viewRunning) == 0 {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		time.Sleep(poll)
	}
}

// Join awaits every currently-live lifecycle task, or returns early when
// ctx is done.
func (e *Engine) Join(ctx context.Context) error {
	live := e.registry.inView(viewPending, viewRunning)
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range live {
		done := j.TaskDone()
		if done == nil {
			continue
		}
		g.Go(func() error {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// Remove cancels the job if live and unregisters it.
func (e *Engine) Remove(j *job.Job) {
	if status := j.Status(); status == job.StatusPending || status == job.StatusRunning {
		j.Cancel(e)
	}
	e.registry.remove(j)
	e.mu.Lock()
	s := e.store
	e.mu.Unlock()
	if s != nil {
		if err := s.Jobs().Delete(context.Background(), j.ID()); err != nil {
			zap.S().Named("engine").Warnw("failed to delete job record", "job", j.ID(), "error", err)
		}
	}
	zap.S().Named("engine").Infow("removed job from engine", "job", j.ID())
}

// Jobs returns all registered jobs.
func (e *Engine) Jobs() []*job.Job {
	return e.registry.list()
}

// Context implements job.Engine.
func (e *Engine) Context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rootCtx == nil {
		return context.Background()
	}
	return e.rootCtx
}

// Config implements job.Engine.
func (e *Engine) Config() *config.Configuration { return e.cfg }

// Ledger implements job.Engine.
func (e *Engine) Ledger() *resource.Ledger { return e.ledger }

// Lookup implements job.Engine.
func (e *Engine) Lookup(id string) (*job.Job, bool) {
	return e.registry.get(id)
}

// Counts implements job.Engine.
func (e *Engine) Counts() map[job.Status]int {
	return e.registry.counts()
}

// TryAdmit implements job.Engine: the admission check is marshalled onto
// the engine loop so slot competition is serialized.
func (e *Engine) TryAdmit(j *job.Job) bool {
	e.mu.Lock()
	admit, loopDone := e.admit, e.loopDone
	e.mu.Unlock()
	if admit == nil {
		return false
	}

	req := admitRequest{job: j, reply: make(chan bool, 1)}
	select {
	case admit <- req:
		return <-req.reply
	case <-loopDone:
		return false
	}
}

// Pool implements job.Engine.
func (e *Engine) Pool() *workers.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

// ClusterClient implements job.Engine: the workflow client is dialed on
// first use and closed by Stop.
func (e *Engine) ClusterClient() (client.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cluster != nil {
		return e.cluster, nil
	}
	c, err := client.Dial(client.Options{
		HostPort:  e.cfg.Cluster.HostPort,
		Namespace: e.cfg.Cluster.Namespace,
	})
	if err != nil {
		return nil, err
	}
	e.cluster = c
	return c, nil
}

// CacheDir implements job.Engine.
func (e *Engine) CacheDir() string { return e.cacheDir }

// StatusChanged implements job.Engine: it moves the job between registry
// partitions and queues the record snapshot for persistence.
func (e *Engine) StatusChanged(j *job.Job, from, to job.Status, rec *job.Record) {
	e.registry.move(j, from, to)
	e.mu.Lock()
	records, rootCtx := e.records, e.rootCtx
	e.mu.Unlock()
	if records == nil || rootCtx == nil || rootCtx.Err() != nil {
		return
	}
	select {
	case records <- toStoreRecord(rec):
	default:
		// records are informational; drop rather than stall a transition
	}
}

func snapshotRecord(j *job.Job) *job.Record {
	submitted := j.SubmittedAt()
	stopped := j.StoppedAt()
	return &job.Record{
		ID:          j.ID(),
		Name:        j.Name(),
		Backend:     j.Backend().Name(),
		Status:      string(j.Status()),
		Retries:     j.Retries(),
		RetryRemain: j.RetryRemain(),
		CreatedAt:   j.CreatedAt(),
		SubmittedAt: submitted,
		StoppedAt:   stopped,
	}
}

func toStoreRecord(rec *job.Record) *store.JobRecord {
	return &store.JobRecord{
		ID:          rec.ID,
		Name:        rec.Name,
		Backend:     rec.Backend,
		Status:      rec.Status,
		Retries:     rec.Retries,
		RetryRemain: rec.RetryRemain,
		CreatedAt:   rec.CreatedAt,
		SubmittedAt: rec.SubmittedAt,
		StoppedAt:   rec.StoppedAt,
	}
}
