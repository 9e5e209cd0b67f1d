package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/input"
	"github.com/dimfeld/ergo/internal/objectid"
)

// serializationFailureCode is Postgres's SQLSTATE for a SERIALIZABLE
// transaction that lost the race, per spec.md §4.E's retry contract.
const serializationFailureCode = "40001"

// InputStore implements input.Store: the SERIALIZABLE transaction, its
// own 5-retry exponential-backoff loop (10ms initial, doubling), and the
// inputs-log status update that happens regardless of outcome.
type InputStore struct {
	pool txBeginner
}

func NewInputStore(pool *pgxpool.Pool) *InputStore {
	return &InputStore{pool: pool}
}

// NewInputStoreWithQuerier is the test-facing constructor, accepting a
// pgxmock.PgxPoolIface in place of a real pool.
func NewInputStoreWithQuerier(pool txBeginner) *InputStore {
	return &InputStore{pool: pool}
}

func (s *InputStore) RunSerializable(ctx context.Context, fn func(ctx context.Context, tx input.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.Multiplier = 2
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, 5), ctx)

	return backoff.Retry(func() error {
		err := s.runOnce(ctx, fn)
		if err != nil && !isSerializationFailure(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bounded)
}

func (s *InputStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx input.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning serializable transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode
}

func (s *InputStore) UpdateInputsLog(ctx context.Context, inputArrivalID uuid.UUID, status domain.LogStatus, errBlob json.RawMessage) error {
	const query = `UPDATE inputs_log SET status = $2, error = $3, updated = now() WHERE input_arrival_id = $1`
	_, err := s.pool.Exec(ctx, query, inputArrivalID, status, errBlob)
	if err != nil {
		return fmt.Errorf("updating inputs log: %w", err)
	}
	return nil
}

// pgTx adapts one pgx.Tx to input.Tx, so every query inside ApplyInput's
// callback runs against the same SERIALIZABLE transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LoadTask(ctx context.Context, taskID objectid.TaskID, taskTriggerID objectid.TaskTriggerID) (*input.TaskApplyData, error) {
	const query = `
		SELECT t.task_id, t.org_id, t.name, t.enabled, t.config, t.state,
		       tt.task_trigger_local_id
		FROM tasks t
		JOIN task_triggers tt ON tt.task_id = t.task_id
		WHERE t.task_id = $1 AND tt.task_trigger_id = $2
	`

	var (
		data    input.TaskApplyData
		orgUUID uuid.UUID
	)
	row := t.tx.QueryRow(ctx, query, taskID.UUID(), taskTriggerID.UUID())
	err := row.Scan(&data.Task.TaskID, &orgUUID, &data.Task.Name, &data.Task.Enabled,
		&data.Task.Config, &data.Task.State, &data.TriggerLocalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskTriggerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task for input application: %w", err)
	}
	data.Task.OrgID = objectid.OrgIDFromUUID(orgUUID)
	return &data, nil
}

func (t *pgTx) UpdateTaskState(ctx context.Context, taskID objectid.TaskID, state json.RawMessage) error {
	const query = `UPDATE tasks SET state = $2 WHERE task_id = $1`
	_, err := t.tx.Exec(ctx, query, taskID.UUID(), state)
	if err != nil {
		return fmt.Errorf("updating task state: %w", err)
	}
	return nil
}

func (t *pgTx) InsertActionsLog(ctx context.Context, row domain.ActionsLogRow) error {
	const query = `
		INSERT INTO actions_log (
			actions_log_id, task_id, task_action_local_id, task_trigger_id,
			input_arrival_id, payload, status, created, updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var taskTriggerUUID *uuid.UUID
	if row.TaskTriggerID != nil {
		u := row.TaskTriggerID.UUID()
		taskTriggerUUID = &u
	}
	_, err := t.tx.Exec(ctx, query,
		row.ActionsLogID, row.TaskID.UUID(), row.TaskActionLocalID, taskTriggerUUID,
		row.InputArrivalID, row.Payload, row.Status, row.Created, row.Updated,
	)
	if err != nil {
		return fmt.Errorf("inserting actions log row: %w", err)
	}
	return nil
}

func (t *pgTx) InsertActionStaging(ctx context.Context, invocation domain.ActionInvocation) error {
	const query = `
		INSERT INTO action_staging (
			actions_log_id, task_id, task_action_local_id, task_trigger_id,
			input_arrival_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	var taskTriggerUUID *uuid.UUID
	if invocation.TaskTriggerID != nil {
		u := invocation.TaskTriggerID.UUID()
		taskTriggerUUID = &u
	}
	_, err := t.tx.Exec(ctx, query,
		invocation.ActionsLogID, invocation.TaskID.UUID(), invocation.TaskActionLocalID, taskTriggerUUID,
		invocation.InputArrivalID, invocation.Payload,
	)
	if err != nil {
		return fmt.Errorf("staging action invocation: %w", err)
	}
	return nil
}
