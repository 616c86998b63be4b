package worker

import (
	"context"
	"sync"
	"time"
)

// runBounded calls fn for every index in [0, n) on at most workers
// goroutines and returns the per-item outcomes. An item is handed out only
// while ctx is live and now() is before deadline; the rest stay
// outcomeDeferred. A zero deadline disables the check.
func runBounded(ctx context.Context, n, workers int, deadline time.Time, now func() time.Time,
	fn func(ctx context.Context, i int) outcome) []outcome {

	results := make([]outcome, n)
	if n == 0 {
		return results
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = fn(ctx, i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil || (!deadline.IsZero() && !now().Before(deadline)) {
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
