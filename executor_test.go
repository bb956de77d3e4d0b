package parallel

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoExecutorRunsTask(t *testing.T) {
	exec := NewGoExecutor()

	done := make(chan struct{})
	require.NoError(t, exec.Execute(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestGoExecutorLimitRejects(t *testing.T) {
	exec := NewGoExecutor(WithExecutorLimit(2))

	release := make(chan struct{})
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		require.NoError(t, exec.Execute(func() {
			defer wg.Done()
			<-release
		}))
	}

	err := exec.Execute(func() {})
	assert.ErrorIs(t, err, ErrRejectedExecution, "a saturated executor rejects instead of blocking")

	close(release)
	wg.Wait()

	// Slots free up once tasks finish.
	assert.Eventually(t, func() bool {
		done := make(chan struct{})
		if exec.Execute(func() { close(done) }) != nil {
			return false
		}
		<-done
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestGoExecutorSpawnFunc(t *testing.T) {
	var (
		mu    sync.Mutex
		names []string
	)
	exec := NewGoExecutor(WithSpawnFunc(func(name string, task func()) {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		go task()
	}))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		require.NoError(t, exec.Execute(func() { wg.Done() }))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, names, 3)
	for _, name := range names {
		assert.True(t, strings.HasPrefix(name, "go-executor-"), "factory receives the task name")
	}
}

func TestExecutorFunc(t *testing.T) {
	var ran atomic.Bool
	exec := ExecutorFunc(func(task func()) error {
		task() // synchronous execution is permitted
		return nil
	})

	require.NoError(t, exec.Execute(func() { ran.Store(true) }))
	assert.True(t, ran.Load())
}

func TestForEachSynchronousExecutor(t *testing.T) {
	// An executor that runs tasks inline must not deadlock the loop.
	exec := ExecutorFunc(func(task func()) error {
		task()
		return nil
	})

	var invoked atomic.Int32
	res, err := ForEach(exec, intRange(50), func(int, *LoopState) error {
		invoked.Add(1)
		return nil
	}, WithMaxParallelism(3))

	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int32(50), invoked.Load())
}

func TestExecutorOptionPanics(t *testing.T) {
	assert.Panics(t, func() { WithExecutorLimit(0) })
	assert.Panics(t, func() { WithSpawnFunc(nil) })
	assert.Panics(t, func() { _ = NewGoExecutor().Execute(nil) })
}
