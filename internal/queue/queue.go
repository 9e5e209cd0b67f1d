// Package queue implements the Redis-backed job queue described in
// spec.md §4.B: pending, scheduled, processing and done collections plus
// a per-job hash, manipulated through Lua scripts so that each operation
// (enqueue, dequeue, finish, retry, cancel, reschedule) is atomic across
// its several keys.
//
// Grounded on the teacher's internal/engine/queue.go for the Go-side
// shape (struct wrapping *redis.Client, context-first methods, slog
// logging, fmt.Errorf wrapping) and on the five-collection/Lua design
// used by the queue library this system was distilled from.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is what callers hand to Enqueue. Payload is opaque to the queue;
// internal/input and internal/action are the only packages that know
// what's inside it for a given queue name.
type Job struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	RunAt         *time.Time      `json:"run_at,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
	MaxRetries    int             `json:"max_retries,omitempty"`
	RetryBackoff  time.Duration   `json:"retry_backoff,omitempty"`
}

// Status is the lifecycle state of a job id, per spec.md §4.B.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusErrored    Status = "errored"
)

// Stats is the aggregate counters and current collection sizes reported
// by Status, per spec.md §4.B "queue introspection".
type Stats struct {
	CurrentPending    int64
	CurrentScheduled  int64
	CurrentProcessing int64

	TotalEnqueued  int64
	TotalRetrieved int64
	TotalSucceeded int64
	TotalFailed    int64
	TotalRetried   int64
}

const (
	defaultTimeout      = 2 * time.Minute
	defaultMaxRetries   = 3
	defaultRetryBackoff = 30 * time.Second
)

// Queue is a named collection of jobs backed by Redis keys scoped under
// "erq:<name>:". Multiple Queue values can share one *redis.Client.
type Queue struct {
	client *redis.Client
	name   string

	pendingKey    string
	scheduledKey  string
	processingKey string
	doneKey       string
	statsKey      string
	jobPrefix     string

	defaultTimeout      time.Duration
	defaultMaxRetries   int
	defaultRetryBackoff time.Duration

	dequeuerOnce sync.Once
	dequeuer     *dequeuerHandle
}

// Option configures a Queue at construction time.
type Option func(*Queue)

func WithDefaultTimeout(d time.Duration) Option      { return func(q *Queue) { q.defaultTimeout = d } }
func WithDefaultMaxRetries(n int) Option             { return func(q *Queue) { q.defaultMaxRetries = n } }
func WithDefaultRetryBackoff(d time.Duration) Option { return func(q *Queue) { q.defaultRetryBackoff = d } }

func New(client *redis.Client, name string, opts ...Option) *Queue {
	q := &Queue{
		client: client,
		name:   name,

		pendingKey:    fmt.Sprintf("erq:%s:pending", name),
		scheduledKey:  fmt.Sprintf("erq:%s:scheduled", name),
		processingKey: fmt.Sprintf("erq:%s:processing", name),
		doneKey:       fmt.Sprintf("erq:%s:done", name),
		statsKey:      fmt.Sprintf("erq:%s:stats", name),
		jobPrefix:     fmt.Sprintf("erq:%s:job:", name),

		defaultTimeout:      defaultTimeout,
		defaultMaxRetries:   defaultMaxRetries,
		defaultRetryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) jobDataKey(id string) string { return q.jobPrefix + id }

// Enqueue stores the job's data and places its id on the pending list
// (or the scheduled set, if RunAt is set), per spec.md §4.B step 1. A
// blank Job.ID is assigned a fresh one.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Timeout == 0 {
		job.Timeout = q.defaultTimeout
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.defaultMaxRetries
	}
	if job.RetryBackoff == 0 {
		job.RetryBackoff = q.defaultRetryBackoff
	}

	now := time.Now().UTC()
	runAtArg := ""
	if job.RunAt != nil {
		runAtArg = fmt.Sprintf("%d", job.RunAt.UnixMilli())
	}

	keys := []string{q.jobDataKey(job.ID), q.pendingKey, q.scheduledKey, q.statsKey}
	args := []any{
		job.ID,
		string(job.Payload),
		job.Timeout.Milliseconds(),
		job.MaxRetries,
		job.RetryBackoff.Milliseconds(),
		now.UnixMilli(),
		runAtArg,
	}

	if err := enqueueScript.Run(ctx, q.client, keys, args...).Err(); err != nil {
		return "", fmt.Errorf("queue %s: enqueue job %s: %w", q.name, job.ID, err)
	}

	slog.Debug("enqueued job", "queue", q.name, "job_id", job.ID, "scheduled", job.RunAt != nil)
	return job.ID, nil
}

// EnqueueScheduled moves due items from the scheduled set to the pending
// list and reports how many were moved, per spec.md §4.B step 2 (the
// periodic scheduled-job mover).
func (q *Queue) EnqueueScheduled(ctx context.Context) (int, error) {
	now := time.Now().UTC().UnixMilli()
	keys := []string{q.scheduledKey, q.pendingKey, q.statsKey}
	result, err := enqueueScheduledScript.Run(ctx, q.client, keys, now).Int()
	if err != nil {
		return 0, fmt.Errorf("queue %s: enqueue scheduled: %w", q.name, err)
	}
	return result, nil
}

// Dequeue atomically moves one pending job id into the processing set
// (scored by its expiration) and returns its decoded work item, or nil
// if the pending list is empty. Combining the original two-step
// dequeue-then-start-work sequence into one script removes the window
// in which a crash between the two steps could lose a job's timeout
// bookkeeping.
func (q *Queue) Dequeue(ctx context.Context) (*WorkItem, error) {
	now := time.Now().UTC()
	keys := []string{q.pendingKey, q.processingKey, q.statsKey}
	res, err := dequeueScript.Run(ctx, q.client, keys, now.UnixMilli()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue %s: dequeue: %w", q.name, err)
	}

	id, _ := res.(string)
	if id == "" {
		return nil, nil
	}

	data, err := q.client.HGetAll(ctx, q.jobDataKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue %s: load job %s: %w", q.name, id, err)
	}
	return newWorkItem(q, id, data, now)
}

// Done marks a job successfully completed, provided the caller still
// owns it (its processing-set score matches expectedExpiration) --
// spec.md §4.B step 3's ownership check for stale/late workers.
func (q *Queue) Done(ctx context.Context, id string, expectedExpiration time.Time) (bool, error) {
	now := time.Now().UTC()
	keys := []string{q.jobDataKey(id), q.processingKey, q.doneKey, q.statsKey}
	args := []any{id, now.UnixMilli(), expectedExpiration.UnixMilli()}
	marked, err := doneScript.Run(ctx, q.client, keys, args...).Bool()
	if err != nil {
		return false, fmt.Errorf("queue %s: mark job %s done: %w", q.name, id, err)
	}
	return marked, nil
}

// Error records a job failure. If the job has retries remaining it is
// rescheduled with exponential backoff (next = now + 2^retry *
// retry_backoff, per spec.md §4.B step 4); otherwise it is moved to the
// done collection marked failed. Returns false if the caller no longer
// owns the job.
func (q *Queue) Error(ctx context.Context, id string, expectedExpiration time.Time, errMsg string) (bool, error) {
	now := time.Now().UTC()
	keys := []string{q.jobDataKey(id), q.processingKey, q.scheduledKey, q.doneKey, q.statsKey}
	args := []any{id, now.UnixMilli(), expectedExpiration.UnixMilli(), errMsg}
	owned, err := errorScript.Run(ctx, q.client, keys, args...).Bool()
	if err != nil {
		return false, fmt.Errorf("queue %s: mark job %s errored: %w", q.name, id, err)
	}
	return owned, nil
}

// Cancel removes a job from whichever collection currently holds it. If
// cancelIfRunning is false, a job already in the processing set is left
// alone and Cancel reports its current status without cancelling it.
func (q *Queue) Cancel(ctx context.Context, id string, cancelIfRunning bool) (Status, error) {
	now := time.Now().UTC()
	keys := []string{q.jobDataKey(id), q.processingKey, q.pendingKey, q.scheduledKey}
	cancelArg := 0
	if cancelIfRunning {
		cancelArg = 1
	}
	args := []any{id, now.UnixMilli(), cancelArg}
	res, err := cancelScript.Run(ctx, q.client, keys, args...).StringSlice()
	if err != nil {
		return StatusInactive, fmt.Errorf("queue %s: cancel job %s: %w", q.name, id, err)
	}
	return parseCancelResult(res), nil
}

// Update changes a pending or scheduled job's run time and/or payload in
// place, per spec.md §4.B "rescheduling". A nil runAt leaves the
// schedule untouched; a nil payload leaves the payload untouched.
func (q *Queue) Update(ctx context.Context, id string, runAt *time.Time, payload json.RawMessage) (bool, error) {
	keys := []string{q.jobDataKey(id), q.scheduledKey}
	runAtArg := ""
	if runAt != nil {
		runAtArg = fmt.Sprintf("%d", runAt.UnixMilli())
	}
	payloadArg := ""
	if payload != nil {
		payloadArg = string(payload)
	}
	ok, err := updateScript.Run(ctx, q.client, keys, id, runAtArg, payloadArg).Bool()
	if err != nil {
		return false, fmt.Errorf("queue %s: update job %s: %w", q.name, id, err)
	}
	return ok, nil
}

// Status reports the queue's current collection sizes and lifetime
// counters.
func (q *Queue) Status(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pendingCmd := pipe.LLen(ctx, q.pendingKey)
	scheduledCmd := pipe.ZCard(ctx, q.scheduledKey)
	processingCmd := pipe.ZCard(ctx, q.processingKey)
	statsCmd := pipe.HMGet(ctx, q.statsKey, "enqueued", "retrieved", "succeeded", "failed", "retried")
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Stats{}, fmt.Errorf("queue %s: status: %w", q.name, err)
	}

	vals := statsCmd.Val()
	return Stats{
		CurrentPending:    pendingCmd.Val(),
		CurrentScheduled:  scheduledCmd.Val(),
		CurrentProcessing: processingCmd.Val(),
		TotalEnqueued:     statInt(vals, 0),
		TotalRetrieved:    statInt(vals, 1),
		TotalSucceeded:    statInt(vals, 2),
		TotalFailed:       statInt(vals, 3),
		TotalRetried:      statInt(vals, 4),
	}, nil
}

func statInt(vals []any, i int) int64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

func parseCancelResult(res []string) Status {
	if len(res) < 4 {
		return StatusInactive
	}
	switch {
	case res[0] == "1":
		return StatusPending
	case res[1] == "1":
		return StatusProcessing
	case res[2] == "1":
		return StatusScheduled
	case res[3] == "true":
		return StatusDone
	case res[3] == "false":
		return StatusErrored
	default:
		return StatusInactive
	}
}
