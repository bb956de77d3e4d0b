// Package parallel provides a parallel-for engine and a bounded blocking
// FIFO queue for Go.
//
// The engine fans a data-parallel loop body over a lazy source onto a
// pluggable [Executor], with bounded parallelism, cooperative early
// termination, per-worker local state, and aggregated failure
// propagation. The queue is both the work queue behind [PoolExecutor]
// and a general concurrency building block.
//
// # Parallel For
//
// The primary entry point is [ForEach], which drives a body over every
// element of an iter.Seq source:
//
//	result, err := parallel.ForEach(exec, source,
//	    func(item Item, state *parallel.LoopState) error {
//	        return process(item)
//	    },
//	    parallel.WithMaxParallelism(8),
//	)
//
// The calling goroutine always participates as worker 0; additional
// workers are submitted to the executor lazily, one per claimed
// iteration, so a short source never wastes spawn attempts. A
// parallelism of one runs the loop serially with zero submissions.
// [ForEachSlice] and [Map] cover the common slice cases.
//
// # Early Termination
//
// A body coordinates with its sibling iterations through [LoopState]:
//
//   - [LoopState.Stop]: skip every not-yet-claimed iteration.
//   - [LoopState.Break]: skip iterations at or above the current index;
//     lower indices still run. The lowest Break across all workers wins.
//   - A body failure behaves like Stop and additionally surfaces from
//     [ForEach] as a [*IterationError] carrying exactly the first
//     failure.
//
// Termination is cooperative: a long-running body can poll
// [LoopState.ShouldExit] to abandon work early, but nothing is
// preempted. [LoopResult] reports whether the loop ran to completion,
// the lowest break index, and the actual degree of parallelism reached.
//
// # Per-Worker State
//
// [ForEachLocal] threads a worker-local value through each body
// invocation, created by localInit at worker start and released by
// localFinally at worker exit on every path. This replaces ad-hoc
// locking for per-worker accumulators:
//
//	result, err := parallel.ForEachLocal(exec, source,
//	    func() int64 { return 0 },
//	    func(n int64, _ *parallel.LoopState, sum int64) (int64, error) {
//	        return sum + n, nil
//	    },
//	    func(sum int64) { total.Add(sum) },
//	)
//
// # Executors
//
// [Executor] is a one-method contract: Execute either accepts a task or
// refuses it. The engine converts a refusal into a cap on the loop's
// parallelism, which is what lets it adapt to pool core sizes and
// rejection policies without configuration. [GoExecutor] runs each task
// on a fresh goroutine, optionally bounded by a [Semaphore].
// [PoolExecutor] is a fixed worker pool fed by a [BlockingQueue], with
// stats counters, a periodic metrics hook, and close-time draining.
//
// # Blocking Queue
//
// [BlockingQueue] is an optionally-bounded linked FIFO with fully
// concurrent put and take paths (two-lock discipline), blocking, timed,
// and non-blocking variants of both operations, bulk drain, fail-fast
// iteration, and a JSON snapshot:
//
//	q := parallel.NewBlockingQueue[Job](128)
//	go func() { _ = q.Put(ctx, job) }()
//	job, err := q.Take(ctx)
//
// Blocking operations are cancelled through their context; timed
// variants compute an absolute deadline on entry. Non-blocking variants
// report full and empty as booleans, never as errors.
//
// # Panics
//
// Panics in a loop body, localInit, localFinally, or a pool task are
// captured as [*PanicError] values with the goroutine stack and reported
// through the same channels as ordinary failures.
package parallel
