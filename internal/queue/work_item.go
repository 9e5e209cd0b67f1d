package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// WorkItem is a dequeued job handed to a processor. Process records the
// outcome (Done or Error) against the queue atomically, honoring the
// ownership check so a worker that held the job past its processing
// timeout can't clobber a requeued retry's result.
type WorkItem struct {
	queue      *Queue
	ID         string
	Payload    []byte
	Expires    time.Time
	Retry      int
	MaxRetries int
}

func newWorkItem(q *Queue, id string, data map[string]string, now time.Time) (*WorkItem, error) {
	toMs, err := strconv.ParseInt(data["to"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("job %s: malformed timeout field: %w", id, err)
	}
	cr, _ := strconv.Atoi(data["cr"])
	mr, _ := strconv.Atoi(data["mr"])

	return &WorkItem{
		queue:      q,
		ID:         id,
		Payload:    []byte(data["pay"]),
		Expires:    now.Add(time.Duration(toMs) * time.Millisecond),
		Retry:      cr,
		MaxRetries: mr,
	}, nil
}

// IsFinalRetry reports whether a failure of this attempt would exhaust
// the job's retry budget.
func (w *WorkItem) IsFinalRetry() bool { return w.Retry >= w.MaxRetries }

// Active reports whether this work item is still owned by the caller,
// i.e. its processing-set score hasn't changed (meaning no other worker
// has since reclaimed it after an expiration). Useful for long-running
// jobs that want to check in periodically.
func (w *WorkItem) Active(ctx context.Context) (bool, error) {
	score, err := w.queue.client.ZScore(ctx, w.queue.processingKey, w.ID).Result()
	if err != nil {
		return false, nil //nolint:nilerr // ZScore returns redis.Nil when the member is gone; either way, not active.
	}
	return int64(score) == w.Expires.UnixMilli(), nil
}

// Process runs fn and reports the outcome to the queue: Done on success,
// Error (with automatic retry/backoff) on failure.
func Process[T any](ctx context.Context, w *WorkItem, fn func(context.Context, *WorkItem, T) error, decode func([]byte) (T, error)) error {
	payload, err := decode(w.Payload)
	if err != nil {
		_, _ = w.queue.Error(ctx, w.ID, w.Expires, fmt.Sprintf("decode payload: %v", err))
		return fmt.Errorf("job %s: decode payload: %w", w.ID, err)
	}

	if err := fn(ctx, w, payload); err != nil {
		if _, markErr := w.queue.Error(ctx, w.ID, w.Expires, err.Error()); markErr != nil {
			return fmt.Errorf("job %s: processing failed (%w) and marking errored also failed: %w", w.ID, err, markErr)
		}
		return err
	}

	if _, err := w.queue.Done(ctx, w.ID, w.Expires); err != nil {
		return fmt.Errorf("job %s: mark done: %w", w.ID, err)
	}
	return nil
}
