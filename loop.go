package parallel

import (
	"iter"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// loop is the shared state of one ForEach call: the executor, the
// claiming cursor over the source, the worker accounting, and the
// loop-wide control flags.
type loop[T, L any] struct {
	exec Executor
	cfg  config

	localInit    func() L
	body         func(T, *LoopState, L) (L, error)
	localFinally func(L)

	ctl loopControl

	// Cursor over the source. The mutex is a leaf: it is never held
	// across user code or executor submission.
	mu        sync.Mutex
	next      func() (T, bool)
	nextIndex int64
	exhausted bool

	target   int // resolved worker ceiling; 0 = unbounded
	accepted atomix.Int64
	rejected atomix.Bool
	wg       sync.WaitGroup
}

// ForEach runs body once per element of src, fanning iterations out over
// exec. The calling goroutine participates as worker 0; additional
// workers are submitted to exec lazily, one per claimed iteration, up to
// the configured parallelism. A rejected submission caps the loop's
// parallelism and is never surfaced.
//
// Iterations run in no particular order relative to each other, but
// indices are assigned in source order and every invocation has either
// completed, failed, or been skipped by the time ForEach returns.
//
// If any invocation fails, ForEach returns the first failure wrapped in
// a [*IterationError]; later failures are discarded. The [LoopResult] is
// meaningful in both cases.
//
// ForEach panics if exec, src, or body is nil.
func ForEach[T any](exec Executor, src iter.Seq[T], body func(T, *LoopState) error, opts ...Option) (LoopResult, error) {
	if body == nil {
		panic("parallel: ForEach requires a non-nil body")
	}
	return ForEachLocal(exec, src,
		func() struct{} { return struct{}{} },
		func(item T, state *LoopState, _ struct{}) (struct{}, error) {
			return struct{}{}, body(item, state)
		},
		func(struct{}) {},
		opts...,
	)
}

// ForEachLocal is [ForEach] with per-worker state: every worker calls
// localInit once before its first iteration, threads the returned value
// through each body invocation, and passes the final value to
// localFinally when it exits — on every exit path, including failure.
//
// The local value is owned by exactly one worker for its lifetime and
// needs no synchronization.
//
// ForEachLocal panics if exec, src, localInit, body, or localFinally is
// nil.
func ForEachLocal[T, L any](
	exec Executor,
	src iter.Seq[T],
	localInit func() L,
	body func(T, *LoopState, L) (L, error),
	localFinally func(L),
	opts ...Option,
) (LoopResult, error) {
	switch {
	case exec == nil:
		panic("parallel: ForEachLocal requires a non-nil executor")
	case src == nil:
		panic("parallel: ForEachLocal requires a non-nil source")
	case localInit == nil:
		panic("parallel: ForEachLocal requires a non-nil localInit")
	case body == nil:
		panic("parallel: ForEachLocal requires a non-nil body")
	case localFinally == nil:
		panic("parallel: ForEachLocal requires a non-nil localFinally")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	next, stop := iter.Pull(src)
	defer stop()

	l := &loop[T, L]{
		exec:         exec,
		cfg:          cfg,
		localInit:    localInit,
		body:         body,
		localFinally: localFinally,
		next:         next,
	}
	l.ctl.lowestBreak.StoreRelease(noBreak)

	l.target = cfg.maxParallelism
	if w, ok := exec.(interface{ Workers() int }); ok {
		if n := w.Workers(); n > 0 && (l.target == 0 || n < l.target) {
			l.target = n
		}
	}

	// The driver is always worker 0. With a target of one this is the
	// whole loop: no submission ever reaches the executor.
	l.work(0)
	l.wg.Wait()

	lb := l.ctl.breakIndex()
	res := LoopResult{
		Completed: l.exhausted &&
			!l.ctl.stopped.LoadAcquire() &&
			!l.ctl.exceptional.LoadAcquire() &&
			lb == noBreak,
		Parallelism: int(l.accepted.LoadAcquire()) + 1,
		lowestBreak: lb,
	}
	if l.ctl.firstErr != nil {
		return res, l.ctl.firstErr
	}
	return res, nil
}

// claim takes the next (item, index) pair off the shared cursor.
// Returns ok == false when the source is exhausted or the loop's exit
// conditions rule out the next index.
func (l *loop[T, L]) claim() (item T, idx int64, ok bool) {
	if l.ctl.exitAll() {
		return item, 0, false
	}
	l.mu.Lock()
	if l.exhausted || l.ctl.exitAll() {
		l.mu.Unlock()
		return item, 0, false
	}
	if lb := l.ctl.breakIndex(); lb != noBreak && l.nextIndex >= lb {
		l.mu.Unlock()
		return item, 0, false
	}
	v, more := l.next()
	if !more {
		l.exhausted = true
		l.mu.Unlock()
		return item, 0, false
	}
	idx = l.nextIndex
	l.nextIndex++
	l.mu.Unlock()
	return v, idx, true
}

// maybeSpawn submits one more worker to the executor, if the ceiling
// allows and no submission has been rejected yet. A slot is reserved
// before submitting so concurrent claims cannot overshoot the ceiling;
// on rejection the reservation is rolled back and spawning stops for
// the remainder of the loop.
func (l *loop[T, L]) maybeSpawn() {
	if l.rejected.LoadAcquire() {
		return
	}
	if l.target > 0 && l.accepted.LoadAcquire()+1 >= int64(l.target) {
		return
	}
	n := l.accepted.AddAcqRel(1)
	if l.target > 0 && n+1 > int64(l.target) {
		l.accepted.AddAcqRel(-1)
		return
	}
	id := int(n)
	l.wg.Add(1)
	err := l.exec.Execute(func() {
		defer l.wg.Done()
		l.work(id)
	})
	if err != nil {
		l.wg.Done()
		l.accepted.AddAcqRel(-1)
		l.rejected.StoreRelease(true)
	}
}

// work is the worker loop: claim, spawn a successor, run the body,
// repeat until the claim fails. Executed by the driver (id 0) and by
// every submitted worker.
func (l *loop[T, L]) work(id int) {
	info := WorkerInfo{ID: id}
	if l.cfg.onWorkerStart != nil {
		l.cfg.onWorkerStart(info)
	}
	if l.cfg.onWorkerDone != nil {
		start := time.Now()
		defer func() {
			l.cfg.onWorkerDone(info, time.Since(start))
		}()
	}

	var local L
	if err := guard(func() { local = l.localInit() }); err != nil {
		l.ctl.record(-1, err)
		return
	}
	defer func() {
		if err := guard(func() { l.localFinally(local) }); err != nil {
			l.ctl.record(-1, err)
		}
	}()

	state := &LoopState{c: &l.ctl}
	for {
		item, idx, ok := l.claim()
		if !ok {
			return
		}
		l.maybeSpawn()

		state.index = idx
		var bodyErr error
		panicErr := guard(func() {
			local, bodyErr = l.body(item, state, local)
		})
		switch {
		case panicErr != nil:
			l.ctl.record(idx, panicErr)
		case bodyErr != nil:
			l.ctl.record(idx, bodyErr)
		}
	}
}

// guard runs fn, converting a panic to a *PanicError.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	fn()
	return nil
}
