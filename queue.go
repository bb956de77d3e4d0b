package parallel

import (
	"context"
	"math"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// Unbounded is the capacity sentinel for an effectively unbounded
// [BlockingQueue].
const Unbounded = math.MaxInt32

// node is a singly linked queue cell. Nodes are allocated on insert and
// unlinked on extract; an extracted node has its item cleared so the
// queue does not retain references.
type node[T any] struct {
	item T
	next *node[T]
}

// BlockingQueue is an optionally-bounded FIFO queue backed by a linked
// list, safe for any number of concurrent producers and consumers.
//
// The queue uses two locks: producers take the put-side lock and only
// touch the tail, consumers take the take-side lock and only touch the
// head. The two paths run fully concurrently; operations that span the
// whole structure (RemoveFunc, Drain, Clear, ContainsFunc, iteration,
// snapshots) take both locks, always put-side first.
//
// Waiting is pulse-based: each side has a one-slot pulse channel, and
// every operation that creates room (or data) wakes at most one waiting
// peer. A woken producer that leaves spare capacity behind re-pulses the
// next producer, forming a wakeup chain; consumers do the same for
// remaining elements. A waiter cancelled mid-wait re-pulses its own side
// before returning, so a pulse it may have absorbed is not lost.
//
// The zero value is not usable; construct with [NewBlockingQueue] or
// [NewUnboundedQueue].
type BlockingQueue[T any] struct {
	capacity int

	count   atomix.Int64
	version atomix.Uint64

	putMu sync.Mutex
	tail  *node[T]

	takeMu sync.Mutex
	head   *node[T] // sentinel; head.next is the first element

	notFull  chan struct{}
	notEmpty chan struct{}
}

// NewBlockingQueue creates a queue holding at most capacity elements.
// Pass [Unbounded] for an effectively unbounded queue.
// Panics if capacity <= 0.
func NewBlockingQueue[T any](capacity int) *BlockingQueue[T] {
	if capacity <= 0 {
		panic("parallel: NewBlockingQueue requires capacity > 0")
	}
	q := &BlockingQueue[T]{}
	q.init(capacity)
	return q
}

// NewUnboundedQueue creates a queue with [Unbounded] capacity.
func NewUnboundedQueue[T any]() *BlockingQueue[T] {
	return NewBlockingQueue[T](Unbounded)
}

func (q *BlockingQueue[T]) init(capacity int) {
	sentinel := &node[T]{}
	q.capacity = capacity
	q.head = sentinel
	q.tail = sentinel
	q.notFull = make(chan struct{}, 1)
	q.notEmpty = make(chan struct{}, 1)
}

// signalNotFull wakes at most one waiting producer. Never called with
// the take-side lock held.
func (q *BlockingQueue[T]) signalNotFull() {
	select {
	case q.notFull <- struct{}{}:
	default:
	}
}

// signalNotEmpty wakes at most one waiting consumer. Never called with
// the put-side lock held.
func (q *BlockingQueue[T]) signalNotEmpty() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// enqueue links v behind the tail. Caller holds the put-side lock.
func (q *BlockingQueue[T]) enqueue(v T) {
	n := &node[T]{item: v}
	q.tail.next = n
	q.tail = n
}

// dequeue unlinks and returns the first element. Caller holds the
// take-side lock and has verified count > 0. The old sentinel is
// discarded and the extracted node becomes the new sentinel, so
// consumers never touch the tail pointer.
func (q *BlockingQueue[T]) dequeue() T {
	first := q.head.next
	q.head.next = nil // free the old sentinel
	q.head = first
	v := first.item
	var zero T
	first.item = zero
	return v
}

// Put appends v, blocking while the queue is full. It returns ctx.Err()
// if ctx is cancelled while waiting; before returning it re-pulses
// another waiting producer so the wakeup chain is preserved.
func (q *BlockingQueue[T]) Put(ctx context.Context, v T) error {
	q.putMu.Lock()
	for q.count.LoadAcquire() >= int64(q.capacity) {
		q.putMu.Unlock()
		select {
		case <-q.notFull:
		case <-ctx.Done():
			q.signalNotFull()
			return ctx.Err()
		}
		q.putMu.Lock()
	}
	q.insertLocked(v)
	return nil
}

// insertLocked appends v and performs post-insert signaling. Caller
// holds the put-side lock and has verified there is room; the lock is
// released before the cross-side notEmpty pulse.
func (q *BlockingQueue[T]) insertLocked(v T) {
	q.enqueue(v)
	q.version.AddAcqRel(1)
	c := q.count.AddAcqRel(1) - 1 // pre-insert count
	if c+1 < int64(q.capacity) {
		q.signalNotFull()
	}
	q.putMu.Unlock()
	if c == 0 {
		q.signalNotEmpty()
	}
}

// Offer appends v without blocking. Returns false if the queue is full.
func (q *BlockingQueue[T]) Offer(v T) bool {
	if q.count.LoadAcquire() >= int64(q.capacity) {
		return false
	}
	q.putMu.Lock()
	if q.count.LoadAcquire() >= int64(q.capacity) {
		q.putMu.Unlock()
		return false
	}
	q.insertLocked(v)
	return true
}

// OfferTimeout appends v, blocking up to timeout while the queue is
// full. The deadline is computed once on entry, so repeated wakeups do
// not extend the wait. Returns (false, nil) on timeout and
// (false, ctx.Err()) on cancellation.
func (q *BlockingQueue[T]) OfferTimeout(ctx context.Context, v T, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	q.putMu.Lock()
	for q.count.LoadAcquire() >= int64(q.capacity) {
		q.putMu.Unlock()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notFull:
			timer.Stop()
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			timer.Stop()
			q.signalNotFull()
			return false, ctx.Err()
		}
		q.putMu.Lock()
	}
	q.insertLocked(v)
	return true, nil
}

// Take removes and returns the head element, blocking while the queue is
// empty. It returns ctx.Err() if ctx is cancelled while waiting; before
// returning it re-pulses another waiting consumer.
func (q *BlockingQueue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	q.takeMu.Lock()
	for q.count.LoadAcquire() == 0 {
		q.takeMu.Unlock()
		select {
		case <-q.notEmpty:
		case <-ctx.Done():
			q.signalNotEmpty()
			return zero, ctx.Err()
		}
		q.takeMu.Lock()
	}
	return q.extractLocked(), nil
}

// extractLocked removes the head element and performs post-extract
// signaling. Caller holds the take-side lock and has verified count > 0;
// the lock is released before the cross-side notFull pulse.
func (q *BlockingQueue[T]) extractLocked() T {
	v := q.dequeue()
	q.version.AddAcqRel(1)
	c := q.count.AddAcqRel(-1) + 1 // pre-extract count
	if c > 1 {
		q.signalNotEmpty()
	}
	q.takeMu.Unlock()
	if c == int64(q.capacity) {
		q.signalNotFull()
	}
	return v
}

// Poll removes and returns the head element without blocking.
// Returns false if the queue is empty.
func (q *BlockingQueue[T]) Poll() (T, bool) {
	var zero T
	if q.count.LoadAcquire() == 0 {
		return zero, false
	}
	q.takeMu.Lock()
	if q.count.LoadAcquire() == 0 {
		q.takeMu.Unlock()
		return zero, false
	}
	return q.extractLocked(), true
}

// PollTimeout removes the head element, blocking up to timeout while the
// queue is empty. The deadline is absolute, computed once on entry.
// Returns (zero, false, nil) on timeout and (zero, false, ctx.Err()) on
// cancellation.
func (q *BlockingQueue[T]) PollTimeout(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	deadline := time.Now().Add(timeout)
	q.takeMu.Lock()
	for q.count.LoadAcquire() == 0 {
		q.takeMu.Unlock()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, false, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notEmpty:
			timer.Stop()
		case <-timer.C:
			return zero, false, nil
		case <-ctx.Done():
			timer.Stop()
			q.signalNotEmpty()
			return zero, false, ctx.Err()
		}
		q.takeMu.Lock()
	}
	return q.extractLocked(), true, nil
}

// Peek returns the head element without removing it.
// Returns false if the queue is empty.
func (q *BlockingQueue[T]) Peek() (T, bool) {
	var zero T
	q.takeMu.Lock()
	defer q.takeMu.Unlock()
	if q.count.LoadAcquire() == 0 {
		return zero, false
	}
	return q.head.next.item, true
}

// Len returns the number of elements currently in the queue.
func (q *BlockingQueue[T]) Len() int {
	return int(q.count.LoadAcquire())
}

// Cap returns the queue's capacity.
func (q *BlockingQueue[T]) Cap() int {
	return q.capacity
}

// RemainingCap returns how many elements can be inserted before the
// queue is full. The value may be stale in concurrent contexts.
func (q *BlockingQueue[T]) RemainingCap() int {
	return q.capacity - q.Len()
}

// lockBoth acquires both locks in the global put-then-take order.
func (q *BlockingQueue[T]) lockBoth() {
	q.putMu.Lock()
	q.takeMu.Lock()
}

func (q *BlockingQueue[T]) unlockBoth() {
	q.takeMu.Unlock()
	q.putMu.Unlock()
}

// RemoveFunc removes the first element for which match returns true.
// Reports whether an element was removed.
func (q *BlockingQueue[T]) RemoveFunc(match func(T) bool) bool {
	q.lockBoth()
	var zero T
	for prev, n := q.head, q.head.next; n != nil; prev, n = n, n.next {
		if !match(n.item) {
			continue
		}
		prev.next = n.next
		if n == q.tail {
			q.tail = prev
		}
		n.item = zero
		n.next = nil
		q.version.AddAcqRel(1)
		c := q.count.AddAcqRel(-1) + 1
		q.unlockBoth()
		if c == int64(q.capacity) {
			q.signalNotFull()
		}
		return true
	}
	q.unlockBoth()
	return false
}

// ContainsFunc reports whether any element satisfies match.
func (q *BlockingQueue[T]) ContainsFunc(match func(T) bool) bool {
	q.lockBoth()
	defer q.unlockBoth()
	for n := q.head.next; n != nil; n = n.next {
		if match(n.item) {
			return true
		}
	}
	return false
}

// Remove removes the first element equal to v.
// Reports whether an element was removed.
func Remove[T comparable](q *BlockingQueue[T], v T) bool {
	return q.RemoveFunc(func(x T) bool { return x == v })
}

// Contains reports whether the queue holds an element equal to v.
func Contains[T comparable](q *BlockingQueue[T], v T) bool {
	return q.ContainsFunc(func(x T) bool { return x == v })
}

// Clear removes every element and returns the number removed.
func (q *BlockingQueue[T]) Clear() int {
	q.lockBoth()
	removed := q.detachAll()
	q.unlockBoth()
	if removed > 0 {
		q.signalNotFull()
	}
	return removed
}

// detachAll unlinks the whole chain and resets the queue to empty.
// Caller holds both locks. Returns the number of elements detached;
// the detached chain is abandoned.
func (q *BlockingQueue[T]) detachAll() int {
	c := q.count.LoadAcquire()
	if c == 0 {
		return 0
	}
	q.head.next = nil
	q.tail = q.head
	q.count.StoreRelease(0)
	q.version.AddAcqRel(1)
	return int(c)
}

// DrainOption configures [BlockingQueue.Drain].
type DrainOption func(*drainConfig)

type drainConfig struct {
	max int
}

// WithMaxDrain caps the number of elements a drain transfers.
// Panics if n <= 0.
func WithMaxDrain(n int) DrainOption {
	if n <= 0 {
		panic("parallel: WithMaxDrain requires n > 0")
	}
	return func(c *drainConfig) {
		c.max = n
	}
}

// Drain atomically removes elements from the queue and hands them to fn.
// With no options every element is transferred; [WithMaxDrain] caps the
// transfer count. Removal happens in a single critical section under
// both locks, so no producer or consumer can observe a partially drained
// queue; fn itself is invoked after the locks are released.
//
// Returns the number of elements transferred.
func (q *BlockingQueue[T]) Drain(fn func(T), opts ...DrainOption) int {
	cfg := drainConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	q.lockBoth()
	if cfg.max == 0 {
		// Full drain fast path: detach the whole chain under lock and
		// walk it outside all locks.
		first := q.head.next
		removed := q.detachAll()
		q.unlockBoth()
		if removed == 0 {
			return 0
		}
		q.signalNotFull()
		for n := first; n != nil; n = n.next {
			fn(n.item)
		}
		return removed
	}

	var items []T
	for len(items) < cfg.max && q.head.next != nil {
		items = append(items, q.dequeue())
	}
	if len(items) > 0 {
		q.count.AddAcqRel(-int64(len(items)))
		q.version.AddAcqRel(1)
	}
	q.unlockBoth()
	if len(items) == 0 {
		return 0
	}
	q.signalNotFull()
	for _, v := range items {
		fn(v)
	}
	return len(items)
}

// DrainMatch is like [BlockingQueue.Drain] but transfers only elements
// for which match returns true, leaving the rest in place in order.
func (q *BlockingQueue[T]) DrainMatch(fn func(T), match func(T) bool, opts ...DrainOption) int {
	cfg := drainConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var zero T
	var items []T
	q.lockBoth()
	for prev, n := q.head, q.head.next; n != nil; {
		if cfg.max > 0 && len(items) >= cfg.max {
			break
		}
		if !match(n.item) {
			prev, n = n, n.next
			continue
		}
		items = append(items, n.item)
		prev.next = n.next
		if n == q.tail {
			q.tail = prev
		}
		n.item = zero
		next := n.next
		n.next = nil
		n = next
	}
	if len(items) > 0 {
		q.count.AddAcqRel(-int64(len(items)))
		q.version.AddAcqRel(1)
	}
	q.unlockBoth()
	if len(items) == 0 {
		return 0
	}
	q.signalNotFull()
	for _, v := range items {
		fn(v)
	}
	return len(items)
}
