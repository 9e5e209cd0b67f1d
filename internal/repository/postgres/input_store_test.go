package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/input"
	"github.com/dimfeld/ergo/internal/objectid"
)

func TestInputStore_RunSerializable_CommitsOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	store := NewInputStoreWithQuerier(mock)
	called := false
	err = store.RunSerializable(context.Background(), func(ctx context.Context, tx input.Tx) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInputStore_RunSerializable_RollsBackAndRetriesOnSerializationFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	serializationErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := NewInputStoreWithQuerier(mock)
	attempt := 0
	err = store.RunSerializable(context.Background(), func(ctx context.Context, tx input.Tx) error {
		attempt++
		if attempt == 1 {
			return serializationErr
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInputStore_RunSerializable_PermanentErrorStopsRetrying(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	store := NewInputStoreWithQuerier(mock)
	attempt := 0
	boom := errors.New("boom")
	err = store.RunSerializable(context.Background(), func(ctx context.Context, tx input.Tx) error {
		attempt++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInputStore_UpdateInputsLog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	arrivalID := uuid.New()
	mock.ExpectExec("UPDATE inputs_log").
		WithArgs(arrivalID, domain.LogStatusError, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewInputStoreWithQuerier(mock)
	err = store.UpdateInputsLog(context.Background(), arrivalID, domain.LogStatusError, json.RawMessage(`{"error":"boom"}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_LoadTask_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	taskID := objectid.NewTaskID()
	triggerID := objectid.NewTaskTriggerID()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WithArgs(taskID.UUID(), triggerID.UUID()).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	store := NewInputStoreWithQuerier(mock)
	err = store.RunSerializable(context.Background(), func(ctx context.Context, tx input.Tx) error {
		_, err := tx.LoadTask(ctx, taskID, triggerID)
		return err
	})
	require.ErrorIs(t, err, domain.ErrTaskTriggerNotFound)
}
