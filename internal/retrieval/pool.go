package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"
)

// WorkerPool embeds descriptors in parallel with bounded workers and backs
// off when the embedding service reports rate limiting
type WorkerPool struct {
	workers     int
	attempts    int
	backoffBase time.Duration
	maxBackoff  time.Duration
}

// NewWorkerPool creates a pool; workers below one run serially
func NewWorkerPool(workers int, backoffBase, maxBackoff time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	return &WorkerPool{
		workers:     workers,
		attempts:    3,
		backoffBase: backoffBase,
		maxBackoff:  maxBackoff,
	}
}

// Task is one unit of work
type Task[T any] func(ctx context.Context) (T, error)

// Run executes tasks and returns their results in task order. The first
// error cancels the remaining tasks and is returned.
func Run[T any](ctx context.Context, wp *WorkerPool, tasks []Task[T]) ([]T, error) {
	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	indexes := make(chan int)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	workers := min(wp.workers, len(tasks))
	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range indexes {
				v, err := execute(ctx, wp, tasks[i])
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})

					continue
				}

				results[i] = v
			}
		}()
	}

feed:
	for i := range tasks {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}

	close(indexes)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func execute[T any](ctx context.Context, wp *WorkerPool, task Task[T]) (T, error) {
	var zero T

	backoff := wp.backoffBase

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := task(ctx)
		if err == nil {
			return v, nil
		}

		if !isRateLimitError(err) || attempt >= wp.attempts {
			return zero, err
		}

		select {
		case <-time.After(backoff):
			backoff = wp.nextBackoff(backoff)
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (wp *WorkerPool) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > wp.maxBackoff {
		return wp.maxBackoff
	}

	return next
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status 429") || strings.Contains(msg, "rate limit")
}
