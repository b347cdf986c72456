// Package engine implements the job execution engine: a single scheduler
// owning the job registry, the resource ledger and the admission loop,
// exposed through a synchronous control surface.
//
// # Architecture Overview
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                               Engine                                 │
//	│                                                                      │
//	│  ┌───────────────┐   ┌────────────────┐   ┌───────────────────────┐  │
//	│  │   Registry    │   │     Ledger     │   │      Worker pool      │  │
//	│  │ id → job      │   │ jobs_total     │   │ (goroutine backend)   │  │
//	│  │ pending view  │   │ threads        │   └───────────────────────┘  │
//	│  │ running view  │   │ processes      │   ┌───────────────────────┐  │
//	│  │ done view     │   │ cluster        │   │    Cluster client     │  │
//	│  │ terminal view │   └────────────────┘   │    (lazily dialed)    │  │
//	│  └───────────────┘                        └───────────────────────┘  │
//	│          ▲                  ▲                                        │
//	│          │                  │ serialized acquire                     │
//	│          │           ┌──────┴──────┐          ┌───────────────────┐  │
//	│          └───────────│ admission   │◀─────────│  lifecycle tasks  │  │
//	│    status transitions│ loop        │ TryAdmit │  (one per job)    │  │
//	│                      └─────────────┘          └───────────────────┘  │
//	└──────────────────────────────────────────────────────────────────────┘
//
// # Submission Flow
//
//  1. Client builds a job (job.NewLocalJob, NewGoroutineJob, ...) whose
//     arguments may contain other jobs' futures.
//  2. Engine.Submit binds and registers the job, moves it to pending and
//     emits its lifecycle task.
//  3. The task polls TryAdmit: the admission loop evaluates the job's
//     condition and consumes ledger slots all-or-nothing, one decision at
//     a time. Two pending jobs competing for the last slot never both win.
//  4. Future-typed arguments are resolved to upstream results; a failed or
//     cancelled upstream cancels the job instead.
//  5. The backend runs the job. The result lands in the future (done
//     callbacks fire first, then the status flips to done); failures burn
//     a retry or settle the job in failed.
//
// # Persistence
//
// Every status transition queues a job-record snapshot which a dedicated
// loop upserts into the DuckDB store under <cache>/jobs. Records are
// informational: when the store cannot be opened the engine runs without
// it, and a full queue drops snapshots rather than stalling transitions.
//
// # Scoped use
//
//	err := engine.With(nil, func(e *engine.Engine) error {
//	    j := job.NewLocalJob(square, job.WithArgs(2))
//	    if _, err := e.Submit(j); err != nil {
//	        return err
//	    }
//	    if err := e.WaitJob(j, 0); err != nil {
//	        return err
//	    }
//	    res, err := j.Result()
//	    ...
//	})
//
// Start and Stop are idempotent; With guarantees Stop on all exit paths.
package engine
