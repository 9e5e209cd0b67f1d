// Package input implements the input-application engine (spec.md §4.E):
// the transactional boundary between an incoming input payload and the
// state-machine engine, writing the resulting action invocations to the
// durable log and either staging them for the drain or handing them
// straight to the action-execution engine.
//
// Grounded on spec.md §4.E directly -- no single original_source file
// implements this exact orchestration end to end, since the Rust project
// split it across a transaction-scoped repository call and a handler --
// but internal/statemachine (the pure engine this package drives) and
// internal/action (the engine immediate actions are hatched to) are both
// grounded on their own original_source files.
package input

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/notify"
	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/dimfeld/ergo/internal/statemachine"
)

// TaskApplyData is what a transaction must load before the state
// machines can run: the task row (config/state as raw JSON, per
// domain.Task's doc comment) plus the triggering task_trigger's local
// id, the piece spec.md step 1 names separately from the task row
// itself.
type TaskApplyData struct {
	Task           domain.Task
	TriggerLocalID string
}

// Tx is the transaction-scoped repository boundary: every read and write
// ApplyInput performs must go through the same SERIALIZABLE transaction,
// so these methods take no context-spanning pool, only the tx handed to
// the RunSerializable callback.
type Tx interface {
	// LoadTask fails with domain.ErrTaskNotFound or
	// domain.ErrTaskTriggerNotFound if either row is absent, per spec.md
	// §4.E step 1.
	LoadTask(ctx context.Context, taskID objectid.TaskID, taskTriggerID objectid.TaskTriggerID) (*TaskApplyData, error)
	UpdateTaskState(ctx context.Context, taskID objectid.TaskID, state json.RawMessage) error
	InsertActionsLog(ctx context.Context, row domain.ActionsLogRow) error
	InsertActionStaging(ctx context.Context, invocation domain.ActionInvocation) error
}

// Store is the input engine's repository boundary. RunSerializable owns
// the SERIALIZABLE-isolation transaction and its own retry-on-conflict
// loop (spec.md §4.E: "retrying up to 5 times on serialization failure,
// exponential backoff starting at 10ms, doubling each retry") so this
// package's orchestration logic stays free of Postgres error-code
// sniffing; internal/repository/postgres provides the real
// implementation.
type Store interface {
	RunSerializable(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	UpdateInputsLog(ctx context.Context, inputArrivalID uuid.UUID, status domain.LogStatus, errBlob json.RawMessage) error
}

// ActionExecutor is the action-execution engine's Execute method,
// invoked directly (bypassing the action queue) when immediate_actions
// is set. *action.Engine satisfies this without either package importing
// the other's concrete type.
type ActionExecutor interface {
	Execute(ctx context.Context, invocation domain.ActionInvocation) (map[string]any, error)
}

// ScriptEvaluator is the seam into internal/script at TierSimple, the
// same evaluator internal/statemachine's Apply needs for target/payload
// scripts.
type ScriptEvaluator = statemachine.ScriptEvaluator

// Engine wires together the pieces ApplyInput needs.
type Engine struct {
	Store    Store
	Eval     ScriptEvaluator
	Notifier notify.Notifier
	// Actions runs immediate actions after commit. Optional: if nil and
	// an input ever sets immediate_actions, ApplyInput returns an error
	// rather than silently dropping the action.
	Actions ActionExecutor
}

// ApplyInput is the engine's single public operation, per spec.md §4.E.
func (e *Engine) ApplyInput(ctx context.Context, taskID objectid.TaskID, inputID objectid.InputID, taskTriggerID objectid.TaskTriggerID, inputArrivalID uuid.UUID, payload json.RawMessage, immediateActions bool) (execErr error) {
	var pendingActions []domain.ActionInvocation

	defer func() {
		status := domain.LogStatusSuccess
		var errBlob json.RawMessage
		if execErr != nil {
			status = domain.LogStatusError
			errBlob, _ = json.Marshal(map[string]string{"error": execErr.Error()})
		}
		if err := e.Store.UpdateInputsLog(ctx, inputArrivalID, status, errBlob); err != nil {
			execErr = fmt.Errorf("%w (and failed to update inputs log: %v)", execErr, err)
		}
	}()

	txErr := e.Store.RunSerializable(ctx, func(ctx context.Context, tx Tx) error {
		pendingActions = nil

		data, err := tx.LoadTask(ctx, taskID, taskTriggerID)
		if err != nil {
			return err
		}

		var machines []statemachine.StateMachine
		if err := json.Unmarshal(data.Task.Config, &machines); err != nil {
			return fmt.Errorf("decoding task config: %w", err)
		}
		var machineData []statemachine.StateMachineData
		if err := json.Unmarshal(data.Task.State, &machineData); err != nil {
			return fmt.Errorf("decoding task state: %w", err)
		}
		if len(machines) != len(machineData) {
			return fmt.Errorf("task config has %d machines but state has %d", len(machines), len(machineData))
		}

		anyChanged := false
		newStates := make([]statemachine.StateMachineData, len(machines))
		var invocations []statemachine.ActionInvocation

		for i, machine := range machines {
			result, err := statemachine.Apply(ctx, i, machine, machineData[i], data.TriggerLocalID, payload, e.Eval)
			if err != nil {
				return fmt.Errorf("applying machine %d: %w", i, err)
			}
			newStates[i] = result.Data
			if result.Changed {
				anyChanged = true
			}
			invocations = append(invocations, result.Actions...)
		}

		if anyChanged {
			encoded, err := json.Marshal(newStates)
			if err != nil {
				return fmt.Errorf("encoding new task state: %w", err)
			}
			if err := tx.UpdateTaskState(ctx, taskID, encoded); err != nil {
				return fmt.Errorf("updating task state: %w", err)
			}
		}

		for _, inv := range invocations {
			localID := inv.TaskActionLocalID
			logged := domain.ActionInvocation{
				ActionsLogID:      uuid.New(),
				TaskID:            taskID,
				TaskActionLocalID: localID,
				TaskTriggerID:     &taskTriggerID,
				InputArrivalID:    inputArrivalID,
				Payload:           inv.Payload,
			}

			row := domain.ActionsLogRow{
				ActionsLogID:      logged.ActionsLogID,
				TaskID:            taskID,
				TaskActionLocalID: localID,
				TaskTriggerID:     &taskTriggerID,
				InputArrivalID:    inputArrivalID,
				Payload:           inv.Payload,
				Status:            domain.LogStatusPending,
				Created:           time.Now(),
				Updated:           time.Now(),
			}
			if err := tx.InsertActionsLog(ctx, row); err != nil {
				return fmt.Errorf("inserting actions log row: %w", err)
			}

			if !immediateActions {
				if err := tx.InsertActionStaging(ctx, logged); err != nil {
					return fmt.Errorf("staging action invocation: %w", err)
				}
			}

			pendingActions = append(pendingActions, logged)
		}

		e.Notifier.Notify(ctx, notify.Notification{
			Event:          notify.EventInputProcessed,
			TaskID:         taskID,
			TaskTriggerID:  taskTriggerID,
			InputArrivalID: inputArrivalID,
		})

		return nil
	})
	if txErr != nil {
		return txErr
	}

	if immediateActions {
		if e.Actions == nil && len(pendingActions) > 0 {
			return fmt.Errorf("immediate_actions set but no action executor configured")
		}
		for _, inv := range pendingActions {
			if _, err := e.Actions.Execute(ctx, inv); err != nil {
				// Matching spec.md §4.F's own failure semantics: an
				// individual action's error is recorded on its own
				// actions-log row by the action engine, not bubbled up
				// to fail the whole input application.
				continue
			}
		}
	}

	return nil
}
