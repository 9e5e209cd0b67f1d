package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/dimfeld/ergo/internal/queue"
)

// QueueEnqueuer is the slice of *queue.Queue that SendInputExecutor
// needs, kept as an interface so tests can substitute a fake rather than
// standing up a Redis instance for this one executor.
type QueueEnqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
}

// SendInputExecutor is the "send_input" executor: it feeds a new input
// back into the system by enqueueing a job directly onto the input
// queue, per spec.md §4.F step 8 ("feedback loop through the same
// infrastructure"). This executor has no original-source analog; its
// field set is authored fresh around domain.InputInvocation, the wire
// shape internal/input's dequeue loop expects.
type SendInputExecutor struct {
	Queue QueueEnqueuer
}

var sendInputTemplateFields = domain.TemplateFields{
	"task_id":           {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Description: "The target task's id"},
	"input_id":          {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Description: "The Input this arrival conforms to"},
	"task_trigger_id":   {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Description: "The task trigger local binding to apply the input through"},
	"payload":           {Format: domain.TemplateFieldFormat{Type: domain.FormatObject, Nested: true}, Optional: true, Description: "The input payload"},
	"immediate_actions": {Format: domain.TemplateFieldFormat{Type: domain.FormatBoolean}, Optional: true, Description: "Run resulting actions immediately rather than through the action queue"},
}

func (e *SendInputExecutor) Name() string                         { return "send_input" }
func (e *SendInputExecutor) TemplateFields() domain.TemplateFields { return sendInputTemplateFields }

func (e *SendInputExecutor) Execute(ctx context.Context, values map[string]any) (map[string]any, error) {
	taskID, err := parseObjectIDField(values, "task_id", objectid.KindTask)
	if err != nil {
		return nil, err
	}
	inputID, err := parseObjectIDField(values, "input_id", objectid.KindInput)
	if err != nil {
		return nil, err
	}
	taskTriggerID, err := parseObjectIDField(values, "task_trigger_id", objectid.KindTaskTrigger)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if p, ok := values["payload"].(map[string]any); ok {
		payload = p
	}
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	immediate, _ := values["immediate_actions"].(bool)
	arrivalID := uuid.New()

	invocation := domain.InputInvocation{
		InputArrivalID:   arrivalID,
		TaskID:           objectid.TaskID{ID: taskID},
		InputID:          objectid.InputID{ID: inputID},
		TaskTriggerID:    objectid.TaskTriggerID{ID: taskTriggerID},
		Payload:          encodedPayload,
		ImmediateActions: immediate,
	}
	jobPayload, err := json.Marshal(invocation)
	if err != nil {
		return nil, fmt.Errorf("encoding input invocation: %w", err)
	}

	jobID, err := e.Queue.Enqueue(ctx, queue.Job{ID: arrivalID.String(), Payload: jobPayload})
	if err != nil {
		return nil, fmt.Errorf("enqueueing input: %w", err)
	}

	return map[string]any{"input_arrival_id": arrivalID.String(), "job_id": jobID}, nil
}

func parseObjectIDField(values map[string]any, field string, kind objectid.Kind) (objectid.ID, error) {
	s, ok := values[field].(string)
	if !ok || s == "" {
		return objectid.ID{}, domain.MissingFieldError{Field: field}
	}
	id, err := objectid.Parse(kind, s)
	if err != nil {
		return objectid.ID{}, domain.FieldFormatError{Field: field, Expected: "a valid object id"}
	}
	return id, nil
}
