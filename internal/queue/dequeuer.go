package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Processor handles one dequeued job. Implementations decode w.Payload
// themselves (Process's generic helper in work_item.go is for callers
// that want the decode-then-call convenience; the loop itself only needs
// the byte-level contract so it can stay generic over payload types).
type Processor interface {
	Process(ctx context.Context, w *WorkItem) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, w *WorkItem) error

func (f ProcessorFunc) Process(ctx context.Context, w *WorkItem) error { return f(ctx, w) }

const (
	dequeueBackoffInitial = 50 * time.Millisecond
	dequeueBackoffMax     = 1 * time.Second
)

type dequeuerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartDequeuerLoop starts a background goroutine that repeatedly dequeues
// jobs and hands them to processor, up to maxConcurrent running at once.
// Idempotent: a second call while a loop is already running is a no-op,
// matching the teacher's singleton-task pattern (guard a *sync.Once-style
// flag, hold the stop function for the queue's lifetime) rather than
// letting callers accidentally start the loop twice.
func (q *Queue) StartDequeuerLoop(ctx context.Context, processor Processor, maxConcurrent int64) {
	q.dequeuerOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		q.dequeuer = &dequeuerHandle{cancel: cancel, done: done}

		go func() {
			defer close(done)
			runDequeuerLoop(loopCtx, q, processor, maxConcurrent)
		}()
	})
}

// StopDequeuerLoop signals the dequeuer loop to stop and waits for it to
// drain. A no-op if the loop was never started.
func (q *Queue) StopDequeuerLoop() {
	if q.dequeuer == nil {
		return
	}
	q.dequeuer.cancel()
	<-q.dequeuer.done
}

func runDequeuerLoop(ctx context.Context, q *Queue, processor Processor, maxConcurrent int64) {
	sem := semaphore.NewWeighted(maxConcurrent)
	var wg sync.WaitGroup
	sleep := time.Duration(0)

	for {
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				wg.Wait()
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			default:
			}
		}

		item, err := q.Dequeue(ctx)
		switch {
		case err != nil:
			if errors.Is(ctx.Err(), context.Canceled) {
				wg.Wait()
				return
			}
			slog.Error("dequeue error", "queue", q.name, "error", err)
			sleep = nextBackoff(sleep)
			continue
		case item == nil:
			sleep = nextBackoff(sleep)
			continue
		}

		sleep = 0
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(item *WorkItem) {
			defer wg.Done()
			defer sem.Release(1)
			if err := processor.Process(ctx, item); err != nil {
				slog.Error("job processing error", "queue", q.name, "job_id", item.ID, "error", err)
			}
		}(item)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return dequeueBackoffInitial
	}
	next := current * 2
	if next > dequeueBackoffMax {
		return dequeueBackoffMax
	}
	return next
}
