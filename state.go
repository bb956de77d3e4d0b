package parallel

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// noBreak marks an absent lowest-break index.
const noBreak = int64(-1)

// loopControl is the coordination state shared by every worker of one
// loop. The flags use explicit acquire/release ordering so that a flag
// set by one worker is observed by claims on every other worker.
type loopControl struct {
	stopped     atomix.Bool
	exceptional atomix.Bool
	lowestBreak atomix.Int64 // noBreak when absent

	errMu    sync.Mutex
	firstErr *IterationError
}

// exitAll reports whether every not-yet-claimed iteration must be
// skipped regardless of index.
func (c *loopControl) exitAll() bool {
	return c.stopped.LoadAcquire() || c.exceptional.LoadAcquire()
}

// breakIndex returns the lowest break index observed so far, or noBreak.
func (c *loopControl) breakIndex() int64 {
	return c.lowestBreak.LoadAcquire()
}

// breakAt lowers the break index to idx if idx is smaller than the
// current value (or no break was recorded yet).
func (c *loopControl) breakAt(idx int64) {
	for {
		cur := c.lowestBreak.LoadAcquire()
		if cur != noBreak && cur <= idx {
			return
		}
		if c.lowestBreak.CompareAndSwapAcqRel(cur, idx) {
			return
		}
	}
}

// record captures the first failure and flips the exceptional flag.
// Later failures are discarded.
func (c *loopControl) record(idx int64, err error) {
	c.errMu.Lock()
	if c.firstErr == nil {
		c.firstErr = &IterationError{Index: idx, Err: err}
	}
	c.errMu.Unlock()
	c.exceptional.StoreRelease(true)
}

// LoopState is the handle a loop body uses to coordinate early
// termination with its sibling iterations. Each worker holds its own
// view; the index is the worker's current iteration, the flags are
// shared loop-wide.
//
// A body that never consults [LoopState.ShouldExit] simply runs to its
// natural end; termination is cooperative, never preemptive.
type LoopState struct {
	c     *loopControl
	index int64
}

// CurrentIndex returns the index of the iteration this view belongs to.
// Indices are assigned in source order, starting at 0, with no gaps.
func (s *LoopState) CurrentIndex() int64 {
	return s.index
}

// Stop requests that no further iteration be claimed, regardless of
// index. Iterations already in flight may run to completion.
func (s *LoopState) Stop() {
	s.c.stopped.StoreRelease(true)
}

// Break requests that no iteration with an index at or above the current
// one be claimed. Iterations with lower indices still execute. When
// several workers call Break, the lowest index wins.
func (s *LoopState) Break() {
	s.c.breakAt(s.index)
}

// IsStopped reports whether any iteration called [LoopState.Stop].
func (s *LoopState) IsStopped() bool {
	return s.c.stopped.LoadAcquire()
}

// IsExceptional reports whether any iteration failed.
func (s *LoopState) IsExceptional() bool {
	return s.c.exceptional.LoadAcquire()
}

// LowestBreakIteration returns the minimum index across all
// [LoopState.Break] calls observed so far. The second result is false
// when no Break was called.
func (s *LoopState) LowestBreakIteration() (int64, bool) {
	lb := s.c.breakIndex()
	return lb, lb != noBreak
}

// ShouldExit reports whether the current iteration should abandon its
// remaining work: the loop was stopped, an iteration failed, or an
// iteration at or below the current index called Break.
func (s *LoopState) ShouldExit() bool {
	if s.c.exitAll() {
		return true
	}
	lb := s.c.breakIndex()
	return lb != noBreak && lb <= s.index
}

// LoopResult reports the outcome of a loop.
type LoopResult struct {
	// Completed is true only when the source was exhausted with no Stop,
	// no Break, and no failure.
	Completed bool

	// Parallelism is the actual degree of parallelism: the number of
	// workers the loop started, counting the calling goroutine, whether
	// or not each of them got an iteration to claim. It is
	// the minimum of the requested parallelism, one plus the submissions
	// the executor accepted, and a fixed executor core size when one is
	// discoverable.
	Parallelism int

	lowestBreak int64
}

// LowestBreakIteration returns the final lowest break index. The second
// result is false when no iteration called Break.
func (r LoopResult) LowestBreakIteration() (int64, bool) {
	return r.lowestBreak, r.lowestBreak != noBreak
}
