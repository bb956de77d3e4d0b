package parallel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewBlockingQueue[int](100)

	for i := range 50 {
		require.True(t, q.Offer(i))
	}
	for i := range 50 {
		v, ok := q.Poll()
		require.True(t, ok)
		assert.Equal(t, i, v, "elements should come out in insertion order")
	}
	_, ok := q.Poll()
	assert.False(t, ok, "queue should be empty")
}

func TestQueueCapacity(t *testing.T) {
	q := NewBlockingQueue[string](2)

	assert.Equal(t, 2, q.Cap())
	assert.Equal(t, 2, q.RemainingCap())

	require.True(t, q.Offer("a"))
	require.True(t, q.Offer("b"))
	assert.False(t, q.Offer("c"), "Offer on a full queue must fail")
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 0, q.RemainingCap())

	v, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.True(t, q.Offer("c"))
}

func TestQueueConstructorPanics(t *testing.T) {
	assert.Panics(t, func() { NewBlockingQueue[int](0) })
	assert.Panics(t, func() { NewBlockingQueue[int](-1) })
}

func TestQueueUnbounded(t *testing.T) {
	q := NewUnboundedQueue[int]()
	for i := range 10_000 {
		require.True(t, q.Offer(i))
	}
	assert.Equal(t, 10_000, q.Len())
	assert.Equal(t, Unbounded, q.Cap())
}

func TestQueuePutBlocksUntilTake(t *testing.T) {
	ctx := context.Background()
	q := NewBlockingQueue[string](1)

	require.NoError(t, q.Put(ctx, "a"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Put(ctx, "b")
	}()

	select {
	case <-done:
		t.Fatal("Put on a full queue must block")
	case <-time.After(20 * time.Millisecond):
	}

	v, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put should unblock after Take frees a slot")
	}

	v, err = q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", v, "consumer must observe insertion order across the handoff")
}

func TestQueueTakeBlocksUntilPut(t *testing.T) {
	ctx := context.Background()
	q := NewBlockingQueue[int](4)

	got := make(chan int, 1)
	go func() {
		v, err := q.Take(ctx)
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Take on an empty queue must block")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Put(ctx, 42))

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Take should unblock after Put")
	}
}

func TestQueuePutContextCancel(t *testing.T) {
	q := NewBlockingQueue[int](1)
	require.True(t, q.Offer(1))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Put(ctx, 2)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled Put should return")
	}
	assert.Equal(t, 1, q.Len(), "cancelled Put must not insert")
}

func TestQueueTakeContextCancel(t *testing.T) {
	q := NewBlockingQueue[int](1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled Take should return")
	}
}

func TestQueueOfferTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewBlockingQueue[int](1)
	require.True(t, q.Offer(1))

	start := time.Now()
	ok, err := q.OfferTimeout(ctx, 2, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "OfferTimeout on a full queue should time out")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// Succeeds when room appears before the deadline.
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = q.Poll()
	}()
	ok, err = q.OfferTimeout(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueuePollTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewBlockingQueue[int](4)

	start := time.Now()
	_, ok, err := q.PollTimeout(ctx, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "PollTimeout on an empty queue should time out")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Offer(7)
	}()
	v, ok, err := q.PollTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueuePeek(t *testing.T) {
	q := NewBlockingQueue[int](4)

	_, ok := q.Peek()
	assert.False(t, ok)

	q.Offer(1)
	q.Offer(2)

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, q.Len(), "Peek must not remove")
}

func TestQueueRemoveContains(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 5 {
		q.Offer(i)
	}

	assert.True(t, Contains(q, 3))
	assert.False(t, Contains(q, 9))

	assert.True(t, Remove(q, 3))
	assert.False(t, Remove(q, 3), "already removed")
	assert.Equal(t, []int{0, 1, 2, 4}, q.ToSlice())

	// Removing the tail must keep the structure usable for inserts.
	assert.True(t, Remove(q, 4))
	q.Offer(5)
	assert.Equal(t, []int{0, 1, 2, 5}, q.ToSlice())
}

func TestQueueRemoveUnblocksProducer(t *testing.T) {
	ctx := context.Background()
	q := NewBlockingQueue[int](1)
	require.True(t, q.Offer(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Put(ctx, 2)
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, Remove(q, 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Remove should wake a blocked producer")
	}
}

func TestQueueClear(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 7 {
		q.Offer(i)
	}

	assert.Equal(t, 7, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Clear(), "clearing an empty queue is a no-op")

	q.Offer(1)
	assert.Equal(t, []int{1}, q.ToSlice())
}

func TestQueueDrainAll(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 6 {
		q.Offer(i)
	}

	var got []int
	n := q.Drain(func(v int) { got = append(got, v) })

	assert.Equal(t, 6, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
	assert.Equal(t, 0, q.Len(), "full drain must leave nothing behind")
}

func TestQueueDrainMax(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 6 {
		q.Offer(i)
	}

	var got []int
	n := q.Drain(func(v int) { got = append(got, v) }, WithMaxDrain(4))

	assert.Equal(t, 4, n)
	assert.Equal(t, []int{0, 1, 2, 3}, got)
	assert.Equal(t, []int{4, 5}, q.ToSlice())
}

func TestQueueDrainMatch(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 8 {
		q.Offer(i)
	}

	var evens []int
	n := q.DrainMatch(
		func(v int) { evens = append(evens, v) },
		func(v int) bool { return v%2 == 0 },
	)

	assert.Equal(t, 4, n)
	assert.Equal(t, []int{0, 2, 4, 6}, evens)
	assert.Equal(t, []int{1, 3, 5, 7}, q.ToSlice(), "unmatched elements stay in order")

	// Tail repair: drain everything else, then insert.
	q.DrainMatch(func(int) {}, func(int) bool { return true })
	q.Offer(9)
	assert.Equal(t, []int{9}, q.ToSlice())
}

func TestQueueDrainOptionPanics(t *testing.T) {
	assert.Panics(t, func() { WithMaxDrain(0) })
}

func TestQueueIterator(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 5 {
		q.Offer(i)
	}

	var got []int
	it := q.Iterator()
	for it.Next() {
		got = append(got, it.Item())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestQueueIteratorFailFast(t *testing.T) {
	q := NewBlockingQueue[int](10)
	for i := range 5 {
		q.Offer(i)
	}

	it := q.Iterator()
	require.True(t, it.Next())

	q.Offer(99) // structural modification

	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrConcurrentModification)
	assert.False(t, it.Next(), "a failed iterator stays failed")
}

func TestQueueIteratorFailFastOnPoll(t *testing.T) {
	q := NewBlockingQueue[int](10)
	q.Offer(1)
	q.Offer(2)

	it := q.Iterator()
	_, _ = q.Poll()

	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrConcurrentModification)
}

func TestQueueSnapshotRoundTrip(t *testing.T) {
	q := NewBlockingQueue[string](8)
	q.Offer("a")
	q.Offer("b")
	q.Offer("c")

	data, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"capacity":8,"items":["a","b","c"]}`, string(data))

	var restored BlockingQueue[string]
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, 8, restored.Cap())
	assert.Equal(t, []string{"a", "b", "c"}, restored.ToSlice())

	// The restored queue is fully operational.
	v, ok := restored.Poll()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.True(t, restored.Offer("d"))
	assert.Equal(t, []string{"b", "c", "d"}, restored.ToSlice())
}

func TestQueueSnapshotRejectsBadShape(t *testing.T) {
	var q BlockingQueue[int]
	assert.Error(t, json.Unmarshal([]byte(`{"capacity":0,"items":[]}`), &q))
	assert.Error(t, json.Unmarshal([]byte(`{"capacity":1,"items":[1,2]}`), &q))
}

func TestQueueCapacityOneHandoff(t *testing.T) {
	// Producer Put(a), Put(b) against consumer Take, Take: the consumer
	// observes a then b and neither side deadlocks.
	ctx := context.Background()
	q := NewBlockingQueue[string](1)

	go func() {
		_ = q.Put(ctx, "a")
		_ = q.Put(ctx, "b")
	}()

	a, err := q.Take(ctx)
	require.NoError(t, err)
	b, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, []string{a, b})
}

func TestQueueStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

	const (
		producers   = 8
		consumers   = 8
		perProducer = 2000
	)

	ctx := context.Background()
	q := NewBlockingQueue[int](64)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := range producers {
		go func() {
			defer wg.Done()
			for i := range perProducer {
				if err := q.Put(ctx, p*perProducer+i); err != nil {
					return
				}
			}
		}()
	}

	var mu sync.Mutex
	seen := make(map[int]bool, producers*perProducer)
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for range consumers {
		go func() {
			defer cwg.Done()
			for {
				v, ok, err := q.PollTimeout(ctx, 500*time.Millisecond)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	cwg.Wait()

	assert.Len(t, seen, producers*perProducer, "every produced value should be consumed exactly once")
	assert.Equal(t, 0, q.Len())
}
