package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PoolExecutor is a fixed-size worker-pool [Executor]. Tasks are fed to
// the workers through a bounded [BlockingQueue]; Execute rejects with
// [ErrRejectedExecution] when the queue is full, which a loop absorbs as
// a parallelism cap. Call [PoolExecutor.Close] to drain the queue and
// stop the workers.
type PoolExecutor struct {
	queue  *BlockingQueue[func()]
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	errMu  sync.Mutex
	panics []error

	// Observability counters.
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	inFlight  atomic.Int64
	workers   int
}

// ExecutorStats provides a point-in-time snapshot of pool activity.
type ExecutorStats struct {
	Submitted  int64 // total tasks accepted
	Completed  int64 // tasks finished (including panicked)
	Panicked   int64 // tasks that panicked
	InFlight   int64 // tasks currently executing
	QueueDepth int   // tasks waiting in the queue
	Workers    int   // worker count (fixed at creation)
}

// PoolOption configures a [PoolExecutor].
type PoolOption func(*poolConfig)

type poolConfig struct {
	queueSize       int
	spawn           SpawnFunc
	onMetrics       func(ExecutorStats)
	metricsInterval time.Duration
}

// WithQueueSize sets the task queue capacity. Default is n * 2.
// Panics if size <= 0.
func WithQueueSize(size int) PoolOption {
	if size <= 0 {
		panic("parallel: WithQueueSize requires size > 0")
	}
	return func(c *poolConfig) {
		c.queueSize = size
	}
}

// WithPoolSpawnFunc replaces the goroutine factory used to start the
// pool's workers. Panics if spawn is nil.
func WithPoolSpawnFunc(spawn SpawnFunc) PoolOption {
	if spawn == nil {
		panic("parallel: WithPoolSpawnFunc requires a non-nil factory")
	}
	return func(c *poolConfig) {
		c.spawn = spawn
	}
}

// WithPoolMetrics registers a periodic metrics callback that fires every
// interval. The callback receives a snapshot of current pool counters.
//
// Panics if interval <= 0 or fn is nil.
func WithPoolMetrics(interval time.Duration, fn func(ExecutorStats)) PoolOption {
	if interval <= 0 {
		panic("parallel: WithPoolMetrics requires interval > 0")
	}
	if fn == nil {
		panic("parallel: WithPoolMetrics requires a non-nil callback")
	}
	return func(c *poolConfig) {
		c.onMetrics = fn
		c.metricsInterval = interval
	}
}

// NewPoolExecutor creates a pool with n worker goroutines. Workers start
// immediately and process tasks until [PoolExecutor.Close] is called.
// Panics if n <= 0.
func NewPoolExecutor(ctx context.Context, n int, opts ...PoolOption) *PoolExecutor {
	if n <= 0 {
		panic("parallel: NewPoolExecutor requires n > 0")
	}

	cfg := poolConfig{queueSize: n * 2, spawn: defaultSpawn}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &PoolExecutor{
		queue:   NewBlockingQueue[func()](cfg.queueSize),
		ctx:     ctx,
		cancel:  cancel,
		workers: n,
	}

	p.wg.Add(n)
	for i := range n {
		cfg.spawn(fmt.Sprintf("pool-worker-%d", i), p.worker)
	}

	if cfg.onMetrics != nil {
		go func() {
			ticker := time.NewTicker(cfg.metricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if p.closed.Load() {
						return
					}
					cfg.onMetrics(p.Stats())
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return p
}

func (p *PoolExecutor) worker() {
	defer p.wg.Done()
	for {
		task, err := p.queue.Take(p.ctx)
		if err != nil {
			// Shutting down: finish the backlog, then exit.
			for {
				task, ok := p.queue.Poll()
				if !ok {
					return
				}
				p.runTask(task)
			}
		}
		p.runTask(task)
	}
}

func (p *PoolExecutor) runTask(task func()) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.errMu.Lock()
			p.panics = append(p.panics, newPanicError(r))
			p.errMu.Unlock()
		}
	}()
	task()
}

// Execute submits a task to the pool without blocking. It returns
// [ErrRejectedExecution] when the queue is full and [ErrExecutorClosed]
// after Close.
func (p *PoolExecutor) Execute(task func()) error {
	if task == nil {
		panic("parallel: Execute requires a non-nil task")
	}
	if p.closed.Load() {
		return ErrExecutorClosed
	}
	if !p.queue.Offer(task) {
		return ErrRejectedExecution
	}
	p.submitted.Add(1)
	return nil
}

// Workers returns the pool's fixed worker count. The loop engine uses it
// to cap a loop's parallelism at the pool's core size.
func (p *PoolExecutor) Workers() int {
	return p.workers
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *PoolExecutor) Stats() ExecutorStats {
	return ExecutorStats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Panicked:   p.panicked.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: p.queue.Len(),
		Workers:    p.workers,
	}
}

// Close stops accepting new tasks, drains the queue, and waits for the
// workers to exit. It returns the joined [*PanicError] values from all
// tasks that panicked. Safe to call multiple times.
func (p *PoolExecutor) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.cancel()
	}
	p.wg.Wait()

	// A task slipped in between a worker's last poll and its exit is
	// still honored here.
	for {
		task, ok := p.queue.Poll()
		if !ok {
			break
		}
		p.runTask(task)
	}

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.panics...)
}
