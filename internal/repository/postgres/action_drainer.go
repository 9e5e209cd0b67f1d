package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/drain"
	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/dimfeld/ergo/internal/queue"
)

// actionStagingLockKey is the pg_try_advisory_xact_lock key serializing
// concurrent drainer instances over action_staging; an arbitrary but
// fixed int64 distinct from any other staging table this process drains.
const actionStagingLockKey = 0x616374 // first three bytes of "action" as an arbitrary fixed int64

// ActionStagingDrainer implements drain.Drainer over the action_staging
// table ApplyInput writes non-immediate invocations to (spec.md §4.E
// step 5), moving each row onto the "actions" queue.
type ActionStagingDrainer struct{}

func (ActionStagingDrainer) NotifyChannel() string { return "action_staging_insert" }
func (ActionStagingDrainer) LockKey() int64        { return actionStagingLockKey }

func (ActionStagingDrainer) Get(ctx context.Context, tx pgx.Tx) ([]drain.Result, error) {
	const query = `
		DELETE FROM action_staging
		WHERE actions_log_id IN (
			SELECT actions_log_id FROM action_staging
			ORDER BY created
			LIMIT 50
			FOR UPDATE SKIP LOCKED
		)
		RETURNING actions_log_id, task_id, task_action_local_id, task_trigger_id,
		          input_arrival_id, payload
	`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("draining action_staging: %w", err)
	}
	defer rows.Close()

	var results []drain.Result
	for rows.Next() {
		var (
			actionsLogID, taskID, inputArrivalID uuid.UUID
			taskActionLocalID                    string
			taskTriggerID                        *uuid.UUID
			payload                              json.RawMessage
		)
		if err := rows.Scan(&actionsLogID, &taskID, &taskActionLocalID, &taskTriggerID, &inputArrivalID, &payload); err != nil {
			return nil, fmt.Errorf("scanning staged action row: %w", err)
		}

		invocation := domain.ActionInvocation{
			ActionsLogID:      actionsLogID,
			TaskID:            objectid.TaskIDFromUUID(taskID),
			TaskActionLocalID: taskActionLocalID,
			InputArrivalID:    inputArrivalID,
			Payload:           payload,
		}
		if taskTriggerID != nil {
			id := objectid.TaskTriggerIDFromUUID(*taskTriggerID)
			invocation.TaskTriggerID = &id
		}

		jobPayload, err := json.Marshal(invocation)
		if err != nil {
			return nil, fmt.Errorf("encoding action invocation: %w", err)
		}

		results = append(results, drain.Result{
			Queue:     "actions",
			Operation: drain.OpAdd,
			Job:       queue.Job{ID: actionsLogID.String(), Payload: jobPayload},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating staged action rows: %w", err)
	}

	return results, nil
}
