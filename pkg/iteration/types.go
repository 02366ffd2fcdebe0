package iteration

import "context"

// Strategy defines how items are processed
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Process items one by one
	StrategyParallel   Strategy = "parallel"   // Process contiguous blocks concurrently
)

// Config holds configuration for iteration
type Config struct {
	Strategy      Strategy // sequential or parallel
	MaxConcurrent int      // Max concurrent workers (0 = runtime.NumCPU())
}

// ProcessFunc is the function called for each item
type ProcessFunc[In, Out any] func(ctx context.Context, item In, index int) (Out, error)
