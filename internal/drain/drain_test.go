package drain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimfeld/ergo/internal/queue"
)

type fakeDrainer struct {
	lockKey int64
	channel string
	results [][]Result
	call    int
	getErr  error
}

func (f *fakeDrainer) NotifyChannel() string { return f.channel }
func (f *fakeDrainer) LockKey() int64        { return f.lockKey }

func (f *fakeDrainer) Get(_ context.Context, _ pgx.Tx) ([]Result, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.call >= len(f.results) {
		return nil, nil
	}
	r := f.results[f.call]
	f.call++
	return r, nil
}

func newTestQueue(t *testing.T, name string) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.New(client, name)
}

func TestTryDrain_NoRowsReturnsFalse(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectBegin()
	pool.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	pool.ExpectRollback()

	drainer := &fakeDrainer{lockKey: 42}
	d := New(pool, "", drainer, func(string) *queue.Queue { return nil })

	drained, err := d.tryDrain(ctx)
	require.NoError(t, err)
	assert.False(t, drained)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestTryDrain_LockNotAcquiredReturnsFalse(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectBegin()
	pool.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(\$1\)`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
	pool.ExpectRollback()

	drainer := &fakeDrainer{lockKey: 7}
	d := New(pool, "", drainer, func(string) *queue.Queue { return nil })

	drained, err := d.tryDrain(ctx)
	require.NoError(t, err)
	assert.False(t, drained)
}

func TestTryDrain_DispatchesAddToQueue(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectBegin()
	pool.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(\$1\)`).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	pool.ExpectCommit()

	q := newTestQueue(t, "drain-dispatch")
	drainer := &fakeDrainer{
		lockKey: 1,
		results: [][]Result{
			{{Queue: "drain-dispatch", Operation: OpAdd, Job: queue.Job{ID: "job-1", Payload: json.RawMessage(`{}`)}}},
		},
	}
	d := New(pool, "", drainer, func(name string) *queue.Queue {
		if name == "drain-dispatch" {
			return q
		}
		return nil
	})

	drained, err := d.tryDrain(ctx)
	require.NoError(t, err)
	assert.True(t, drained)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "job-1", item.ID)

	stats := d.Stats()
	assert.Equal(t, 1, stats.Drained)
}

func TestTryDrain_UnknownQueueIsSkippedNotFatal(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectBegin()
	pool.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(\$1\)`).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	pool.ExpectCommit()

	drainer := &fakeDrainer{
		lockKey: 1,
		results: [][]Result{
			{{Queue: "does-not-exist", Operation: OpAdd, Job: queue.Job{ID: "job-1"}}},
		},
	}
	d := New(pool, "", drainer, func(string) *queue.Queue { return nil })

	drained, err := d.tryDrain(ctx)
	require.NoError(t, err)
	assert.True(t, drained)
}
