package domain

import (
	"encoding/json"
	"time"

	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/google/uuid"
)

type LogStatus string

const (
	LogStatusPending LogStatus = "pending"
	LogStatusRunning LogStatus = "running"
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
)

// InputsLogRow is the durable audit record for one input arrival, per
// spec.md §4.E steps 1 and the final "regardless of outcome" update.
type InputsLogRow struct {
	InputArrivalID uuid.UUID       `json:"input_arrival_id"`
	TaskID         objectid.TaskID `json:"task_id"`
	TaskTriggerID  objectid.TaskTriggerID `json:"task_trigger_id"`
	Payload        json.RawMessage `json:"payload"`
	Status         LogStatus       `json:"status"`
	Error          json.RawMessage `json:"error,omitempty"`
	Created        time.Time       `json:"created"`
	Updated        time.Time       `json:"updated"`
}

// ActionsLogRow is the durable audit record for one action invocation,
// per spec.md §3 invariant ("every action invocation persisted ... has a
// unique id and references a valid inputs-log row") and §4.F.
type ActionsLogRow struct {
	ActionsLogID       uuid.UUID       `json:"actions_log_id"`
	TaskID             objectid.TaskID `json:"task_id"`
	TaskActionLocalID  string          `json:"task_action_local_id"`
	TaskTriggerID      *objectid.TaskTriggerID `json:"task_trigger_id,omitempty"`
	InputArrivalID     uuid.UUID       `json:"input_arrival_id"`
	Payload            json.RawMessage `json:"payload"`
	Status             LogStatus       `json:"status"`
	Result             json.RawMessage `json:"result,omitempty"`
	Created            time.Time       `json:"created"`
	Updated            time.Time       `json:"updated"`
}

// InputInvocation is the payload carried by a job on the input queue:
// everything ApplyInput needs to locate the task/trigger it targets and
// write its own inputs-log row, per spec.md §6 "invocation payloads ...
// are fully self-describing". The send_input executor (internal/action)
// constructs one directly when an action wants to feed a new input back
// into the system without going through cmd/api's HTTP intake endpoint.
type InputInvocation struct {
	InputArrivalID   uuid.UUID              `json:"input_arrival_id"`
	TaskID           objectid.TaskID        `json:"task_id"`
	InputID          objectid.InputID       `json:"input_id"`
	TaskTriggerID    objectid.TaskTriggerID `json:"task_trigger_id"`
	Payload          json.RawMessage        `json:"payload"`
	ImmediateActions bool                   `json:"immediate_actions"`
}

// ActionInvocation is the payload written to the actions staging table
// (and, for immediate actions, handed directly to the action engine),
// per spec.md §4.E step 4-5 and §6 "Invocation payloads ... are fully
// self-describing".
type ActionInvocation struct {
	ActionsLogID      uuid.UUID       `json:"actions_log_id"`
	TaskID            objectid.TaskID `json:"task_id"`
	TaskActionLocalID string          `json:"task_action_local_id"`
	TaskTriggerID     *objectid.TaskTriggerID `json:"task_trigger_id,omitempty"`
	InputArrivalID    uuid.UUID       `json:"input_arrival_id"`
	Payload           json.RawMessage `json:"payload"`
}
