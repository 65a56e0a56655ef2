// Package workpool runs indexed jobs on a bounded set of goroutines.
package workpool

import (
	"context"
	"sync"
)

// Run calls fn for every index in [0, n) using at most workers goroutines.
// Once a call fails or ctx is canceled no further indices are handed out;
// calls already in flight finish. Run returns the first failure, or the
// context error when cancellation stopped the pool early.
func Run(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, n)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	jobs := make(chan int)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := fn(ctx, i); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
				}
			}
		}()
	}

	dispatched := 0
feed:
	for ; dispatched < n; dispatched++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- dispatched:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if dispatched < n {
		return parent.Err()
	}
	return nil
}
