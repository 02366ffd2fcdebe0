package iteration

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Iterator handles slice iteration with configurable execution strategy
type Iterator struct {
	config Config
}

// NewIterator creates a new iterator with given config
func NewIterator(config Config) *Iterator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	return &Iterator{config: config}
}

// Process runs processFn over every item and returns results in input order,
// failing fast on the first error. It is a function rather than a method
// because Go methods cannot take type parameters.
func Process[In, Out any](ctx context.Context, it *Iterator, items []In, processFn ProcessFunc[In, Out]) ([]Out, error) {
	if len(items) == 0 {
		return []Out{}, nil
	}

	if it.config.Strategy == StrategySequential || it.config.MaxConcurrent == 1 {
		return processSequential(ctx, items, processFn)
	}
	return processParallel(ctx, it.config.MaxConcurrent, items, processFn)
}

// processSequential processes items one by one (fail-fast)
func processSequential[In, Out any](ctx context.Context, items []In, processFn ProcessFunc[In, Out]) ([]Out, error) {
	results := make([]Out, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		output, err := processFn(ctx, item, i)
		if err != nil {
			return nil, fmt.Errorf("failed processing item %d: %w", i, err)
		}
		results[i] = output
	}

	return results, nil
}

// processParallel gives each worker one contiguous range (fail-fast)
func processParallel[In, Out any](ctx context.Context, jobs int, items []In, processFn ProcessFunc[In, Out]) ([]Out, error) {
	results := make([]Out, len(items))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var once sync.Once
	var firstError error

	for _, r := range Ranges(len(items), jobs) {
		wg.Add(1)
		go func(r Range) {
			defer wg.Done()
			for idx := r.Start; idx < r.End; idx++ {
				if ctx.Err() != nil {
					return
				}
				output, err := processFn(ctx, items[idx], idx)
				if err != nil {
					once.Do(func() {
						firstError = fmt.Errorf("failed processing item %d: %w", idx, err)
						cancel() // Signal other workers to stop
					})
					return
				}
				results[idx] = output
			}
		}(r)
	}

	wg.Wait()

	if firstError != nil {
		return nil, firstError
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
