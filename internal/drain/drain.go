// Package drain implements the transactionally-staged job drain
// (https://brandur.org/job-drain) described in spec.md §4.C: rows
// written to a Postgres staging table inside the same transaction as
// the business write that produced them are later picked up by a
// background drainer and pushed onto the appropriate Redis queue,
// giving the queue side transactional exactly-once-enqueue semantics
// even though Redis itself isn't part of the transaction.
//
// Grounded on queues/postgres_drain.rs's StageDrainTask: an advisory
// transaction lock serializes concurrent drainer instances, and the
// drain loop either polls with backoff or listens for a Postgres NOTIFY
// and falls back to polling if the listener can't be established.
package drain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/dimfeld/ergo/internal/queue"
)

// DBPool is the slice of *pgxpool.Pool that StageDrain needs. Accepting
// an interface rather than the concrete pool lets tests substitute
// pgxmock.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Operation is what a staged row asks the drainer to do to the job's
// queue.
type Operation int

const (
	OpAdd Operation = iota
	OpUpdate
	OpRemove
)

// Result is one staged row's effect on a queue.
type Result struct {
	Queue     string
	Operation Operation
	Job       queue.Job
}

// Drainer is implemented once per staging table. Get runs inside an
// already-open transaction holding the advisory lock; it must select and
// delete (or mark consumed) the staged rows so a concurrent drain never
// double-delivers them.
type Drainer interface {
	// NotifyChannel is the Postgres NOTIFY channel to LISTEN on, or ""
	// to always poll with backoff instead.
	NotifyChannel() string
	// LockKey is the pg_try_advisory_xact_lock key serializing concurrent
	// drainer instances for this staging table.
	LockKey() int64
	Get(ctx context.Context, tx pgx.Tx) ([]Result, error)
}

// QueueLookup resolves a queue name (as named by a staged row) to the
// *queue.Queue to enqueue onto. Queues are typically created once at
// startup and looked up here rather than constructed per drain pass.
type QueueLookup func(name string) *queue.Queue

const (
	initialPollInterval = 25 * time.Millisecond
	maxPollInterval     = 1 * time.Second
	maxListenInterval   = 5 * time.Second
)

// Stats is the drain's last-observed activity, exposed for health/status
// endpoints.
type Stats struct {
	Drained   int
	LastDrain time.Time
	LastCheck time.Time
}

// StageDrain runs one Drainer's poll-or-listen loop until its context is
// canceled.
type StageDrain struct {
	pool    DBPool
	connStr string
	drainer Drainer
	queues  QueueLookup

	mu    sync.Mutex
	stats Stats
}

func New(pool DBPool, connStr string, drainer Drainer, queues QueueLookup) *StageDrain {
	return &StageDrain{pool: pool, connStr: connStr, drainer: drainer, queues: queues}
}

func (d *StageDrain) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Run blocks, driving the drain loop until ctx is canceled.
func (d *StageDrain) Run(ctx context.Context) {
	if d.drainer.NotifyChannel() != "" {
		d.runListenLoop(ctx)
		return
	}
	d.runPollLoop(ctx)
}

func (d *StageDrain) runPollLoop(ctx context.Context) {
	b := newPollBackoff()

	for {
		drained, err := d.tryDrain(ctx)
		if err != nil {
			slog.Error("drain error", "error", err)
		}
		if drained {
			b.Reset()
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (d *StageDrain) runListenLoop(ctx context.Context) {
	channel := d.drainer.NotifyChannel()
	events := make(chan struct{}, 1)

	listener := pq.NewListener(d.connStr, time.Second, maxListenInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Error("postgres listener event error", "error", err)
		}
	})
	defer listener.Close()

	listenErr := listener.Listen(channel)
	if listenErr != nil {
		slog.Error("failed to listen on drain channel, falling back to polling", "channel", channel, "error", listenErr)
		d.runPollLoop(ctx)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n != nil {
					select {
					case events <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	for {
		drained, err := d.tryDrain(ctx)
		if err != nil {
			slog.Error("drain error", "error", err)
		}
		if drained {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-events:
			continue
		case <-time.After(maxListenInterval):
			// Defensive poll in case a NOTIFY was missed while reconnecting.
			continue
		}
	}
}

// tryDrain acquires the advisory lock, runs the drainer's Get, and
// dispatches whatever it returns to the corresponding queues, all inside
// one transaction. Returns whether any rows were drained.
func (d *StageDrain) tryDrain(ctx context.Context) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", d.drainer.LockKey()).Scan(&acquired); err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	now := time.Now().UTC()
	d.mu.Lock()
	d.stats.LastCheck = now
	d.mu.Unlock()

	results, err := d.drainer.Get(ctx, tx)
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}

	for _, r := range results {
		q := d.queues(r.Queue)
		if q == nil {
			slog.Warn("drain result for unknown queue, skipping", "queue", r.Queue, "job_id", r.Job.ID)
			continue
		}

		switch r.Operation {
		case OpAdd:
			slog.Info("draining job to queue", "queue", r.Queue, "job_id", r.Job.ID)
			if _, err := q.Enqueue(ctx, r.Job); err != nil {
				return false, err
			}
		case OpRemove:
			slog.Info("draining cancellation to queue", "queue", r.Queue, "job_id", r.Job.ID)
			if _, err := q.Cancel(ctx, r.Job.ID, false); err != nil {
				return false, err
			}
		case OpUpdate:
			slog.Info("draining update to queue", "queue", r.Queue, "job_id", r.Job.ID)
			var payload []byte
			if len(r.Job.Payload) > 0 {
				payload = r.Job.Payload
			}
			if _, err := q.Update(ctx, r.Job.ID, r.Job.RunAt, payload); err != nil {
				return false, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	d.mu.Lock()
	d.stats.Drained += len(results)
	d.stats.LastDrain = now
	d.mu.Unlock()

	return true, nil
}

// newPollBackoff builds the exponential-with-jitter policy used between
// drain polls when no NOTIFY channel is available: starts at 25ms,
// doubles, caps at 1s, and never gives up (MaxElapsedTime=0), matching
// the original drain's initial_sleep_value/MAX_SLEEP pair.
func newPollBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialPollInterval
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.MaxInterval = maxPollInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
