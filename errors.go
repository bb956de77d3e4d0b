package parallel

import (
	"errors"
	"fmt"
)

// ErrRejectedExecution is returned by an [Executor] that refuses to accept
// a task. The loop engine never surfaces it: a rejection during worker
// spawning is absorbed as a cap on the loop's degree of parallelism.
var ErrRejectedExecution = errors.New("parallel: execution rejected")

// ErrExecutorClosed is returned by [PoolExecutor.Execute] after
// [PoolExecutor.Close] has been called.
var ErrExecutorClosed = errors.New("parallel: executor is closed")

// ErrConcurrentModification is reported by a queue [Iterator] when the
// queue was structurally modified after the iterator was created.
var ErrConcurrentModification = errors.New("parallel: queue modified during iteration")

// IterationError wraps an error produced by a loop body together with the
// iteration index it failed at. [ForEach] and [ForEachLocal] aggregate
// body failures into a single *IterationError carrying exactly the first
// failure observed; later failures are discarded.
//
// A negative Index marks a failure outside any iteration (localInit or
// localFinally).
type IterationError struct {
	Index int64
	Err   error
}

func (e *IterationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("parallel: worker failed: %v", e.Err)
	}
	return fmt.Sprintf("parallel: iteration %d failed: %v", e.Index, e.Err)
}

func (e *IterationError) Unwrap() error {
	return e.Err
}

// IsIterationError reports whether err (or any error in its chain) is a
// [*IterationError].
func IsIterationError(err error) bool {
	if err == nil {
		return false
	}
	var ie *IterationError
	return errors.As(err, &ie)
}

// CauseOf unwraps the first [*IterationError] in err's chain and returns
// its underlying cause. If err is not an IterationError, it is returned
// as-is. Returns nil if err is nil.
func CauseOf(err error) error {
	if err == nil {
		return nil
	}

	var ie *IterationError
	if errors.As(err, &ie) {
		return ie.Err
	}

	return err
}

// IndexOf extracts the failing iteration index from the first
// [*IterationError] in err's chain. Returns false if no IterationError
// is found.
func IndexOf(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}

	var ie *IterationError
	if errors.As(err, &ie) {
		return ie.Index, true
	}
	return 0, false
}
