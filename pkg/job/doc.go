// Package job implements the per-job lifecycle machinery: the state
// machine, admission conditions, argument resolution across futures,
// retries, cancellation and the pluggable backend contract.
//
// # Lifecycle
//
//	created ──submit──▶ pending ──admitted──▶ running
//	                    ▲                        │
//	                    │                 ┌──────┴──────┐
//	                    │               done          failed
//	                    │                 │              │
//	                    │                 ▼              ├─ retry left ──▶ pending
//	                    │             (terminal)         │
//	                    │                                └─ no retry ────▶ failed
//	pending / running ──cancel──▶ cancelled (terminal)
//	any terminal ──re-submit──▶ pending
//
// Every submitted job is driven by one lifecycle task (a goroutine) that
// polls runnability, acquires ledger slots, resolves future-typed
// arguments, invokes the backend and publishes the outcome. The task is
// cancellable at every suspension point: the runnability-poll sleep, the
// backend execution, argument resolution and the retry sleep.
//
// # Futures and dependencies
//
// A job's arguments may contain the futures of other jobs. At first
// emission the scheduler derives the dependency list and conjoins an
// AfterOthers condition with any explicit one, so the job is only admitted
// once every upstream is terminal. During argument resolution a done
// upstream is substituted by its result; a failed or cancelled upstream
// cancels the job, which propagates the cancellation transitively through
// the dependency graph.
//
// # Backends
//
// Execution is delegated through the Backend contract:
//
//	┌────────────┬──────────────────────────────┬──────────────────┐
//	│ Backend    │ Callable interpretation      │ Extra slot class │
//	├────────────┼──────────────────────────────┼──────────────────┤
//	│ local      │ Func, run inline             │ —                │
//	│ goroutine  │ Func, run on the worker pool │ threads          │
//	│ process    │ argv vector via os/exec      │ processes        │
//	│ cluster    │ workflow type name           │ cluster          │
//	└────────────┴──────────────────────────────┴──────────────────┘
//
// All backends additionally consume one jobs_total slot. Slot acquisition
// across the conjunction is all-or-nothing and serialized by the engine's
// admission loop.
package job
