package parallel

import (
	"fmt"
	"sync/atomic"
)

// Executor runs tasks submitted by the loop engine. Execute either
// accepts the task — it will run eventually, possibly concurrently with
// the caller, possibly synchronously on the calling goroutine — or
// refuses it by returning an error, conventionally
// [ErrRejectedExecution].
//
// The loop engine treats any Execute error as "no more workers": the
// loop proceeds at the parallelism reached so far. Rejection is
// therefore a back-pressure signal, not a failure.
type Executor interface {
	Execute(task func()) error
}

// ExecutorFunc adapts a function to the [Executor] interface.
type ExecutorFunc func(task func()) error

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) error {
	return f(task)
}

// SpawnFunc starts a named task on a new goroutine. It is the goroutine
// factory consumed by [GoExecutor] and [PoolExecutor]; the default
// factory is a plain `go task()`. Replace it to integrate goroutine
// tracking, naming, or instrumentation.
type SpawnFunc func(name string, task func())

func defaultSpawn(_ string, task func()) {
	go task()
}

// GoExecutor runs each task on its own goroutine. With
// [WithExecutorLimit] it admits at most n concurrent tasks and rejects
// the rest with [ErrRejectedExecution], which makes it a convenient
// bounded executor for loops.
//
// The zero value is an unlimited executor.
type GoExecutor struct {
	sem   *Semaphore
	spawn SpawnFunc
	seq   atomic.Int64
}

// ExecutorOption configures a [GoExecutor].
type ExecutorOption func(*GoExecutor)

// WithExecutorLimit bounds the number of concurrently running tasks.
// Execute rejects once the limit is reached. Panics if n <= 0.
func WithExecutorLimit(n int) ExecutorOption {
	if n <= 0 {
		panic("parallel: WithExecutorLimit requires n > 0")
	}
	return func(e *GoExecutor) {
		e.sem = NewSemaphore(n)
	}
}

// WithSpawnFunc replaces the goroutine factory.
// Panics if spawn is nil.
func WithSpawnFunc(spawn SpawnFunc) ExecutorOption {
	if spawn == nil {
		panic("parallel: WithSpawnFunc requires a non-nil factory")
	}
	return func(e *GoExecutor) {
		e.spawn = spawn
	}
}

// NewGoExecutor creates a goroutine-per-task executor.
func NewGoExecutor(opts ...ExecutorOption) *GoExecutor {
	e := &GoExecutor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute starts task on a fresh goroutine. When a limit is configured
// and no slot is available it returns [ErrRejectedExecution] without
// blocking.
func (e *GoExecutor) Execute(task func()) error {
	if task == nil {
		panic("parallel: Execute requires a non-nil task")
	}
	run := task
	if e.sem != nil {
		if !e.sem.TryAcquire() {
			return ErrRejectedExecution
		}
		run = func() {
			defer e.sem.Release()
			task()
		}
	}
	spawn := e.spawn
	if spawn == nil {
		spawn = defaultSpawn
	}
	spawn(fmt.Sprintf("go-executor-%d", e.seq.Add(1)-1), run)
	return nil
}
