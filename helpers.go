package parallel

import "slices"

// ForEachSlice runs body once per element of items, fanning iterations
// out over exec. It is [ForEach] applied to a slice.
//
//	result, err := parallel.ForEachSlice(exec, urls, func(u string, _ *parallel.LoopState) error {
//	    return fetch(u)
//	}, parallel.WithMaxParallelism(10))
func ForEachSlice[T any](exec Executor, items []T, body func(T, *LoopState) error, opts ...Option) (LoopResult, error) {
	return ForEach(exec, slices.Values(items), body, opts...)
}

// Map transforms every element of items concurrently and collects the
// results in input order. On failure it returns nil and the loop's
// aggregate error.
//
//	prices, err := parallel.Map(exec, products, func(p Product) (float64, error) {
//	    return fetchPrice(p)
//	}, parallel.WithMaxParallelism(5))
func Map[T, R any](exec Executor, items []T, fn func(T) (R, error), opts ...Option) ([]R, error) {
	if fn == nil {
		panic("parallel: Map requires a non-nil fn")
	}
	results := make([]R, len(items))
	indexes := func(yield func(int) bool) {
		for i := range items {
			if !yield(i) {
				return
			}
		}
	}
	_, err := ForEach(exec, indexes, func(i int, _ *LoopState) error {
		r, err := fn(items[i])
		if err != nil {
			return err
		}
		results[i] = r // safe: each iteration writes a unique index
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return results, nil
}
